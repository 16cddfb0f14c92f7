package state

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Mode is the post-mutation equality mode a run replayed with.
type Mode string

const (
	ModeLenient Mode = "lenient"
	ModeStrict  Mode = "strict"
)

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// Run is the persistent metadata of one replay attempt.
//
// previous_run_id links to the latest earlier run of the same trace and is
// null for the first one.
type Run struct {
	RunID         string     `json:"run_id"`
	TraceHash     string     `json:"trace_hash"`
	TracePath     string     `json:"trace_path"`
	StartTime     time.Time  `json:"start_time"`
	EndTime       *time.Time `json:"end_time"`
	Mode          Mode       `json:"mode"`
	Status        RunStatus  `json:"status"`
	Calls         int        `json:"calls"`
	PreviousRunID *string    `json:"previous_run_id"`
}

func (r Run) Validate() error {
	var errs []error
	if strings.TrimSpace(r.RunID) == "" {
		errs = append(errs, errors.New("run_id is required"))
	}
	if strings.TrimSpace(r.TraceHash) == "" {
		errs = append(errs, errors.New("trace_hash is required"))
	}
	if r.StartTime.IsZero() {
		errs = append(errs, errors.New("start_time is required"))
	}
	if r.EndTime != nil && r.EndTime.Before(r.StartTime) {
		errs = append(errs, errors.New("end_time precedes start_time"))
	}
	switch r.Mode {
	case ModeLenient, ModeStrict:
	default:
		errs = append(errs, fmt.Errorf("invalid mode %q", r.Mode))
	}
	switch r.Status {
	case RunStatusRunning, RunStatusSucceeded, RunStatusFailed:
	default:
		errs = append(errs, fmt.Errorf("invalid status %q", r.Status))
	}
	if r.Calls < 0 {
		errs = append(errs, errors.New("calls must be >= 0"))
	}
	if r.PreviousRunID != nil && strings.TrimSpace(*r.PreviousRunID) == "" {
		errs = append(errs, errors.New("previous_run_id must not be empty when provided"))
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}

type FailureClass string

const (
	// FailureClassLoad is a trace that failed integrity checks before replay.
	FailureClassLoad FailureClass = "load"
	// FailureClassDivergence is live execution departing from the trace.
	FailureClassDivergence FailureClass = "divergence"
	// FailureClassSystem is everything else: I/O, cancellation, host errors.
	FailureClassSystem FailureClass = "system"
)

// Failure is a recorded run termination reason.
//
// Load and divergence failures are reproducible: replaying the same trace
// with the same build fails the same way.
type Failure struct {
	FailureClass FailureClass `json:"failure_class"`
	ErrorCode    string       `json:"error_code"`
	ErrorMessage string       `json:"error_message"`
	Expected     string       `json:"expected,omitempty"`
	Actual       string       `json:"actual,omitempty"`
	Reproducible bool         `json:"reproducible"`
}

func (f Failure) Validate() error {
	var errs []error
	switch f.FailureClass {
	case FailureClassLoad, FailureClassDivergence, FailureClassSystem:
	default:
		errs = append(errs, fmt.Errorf("invalid failure_class %q", f.FailureClass))
	}
	if strings.TrimSpace(f.ErrorCode) == "" {
		errs = append(errs, errors.New("error_code is required"))
	}
	if strings.TrimSpace(f.ErrorMessage) == "" {
		errs = append(errs, errors.New("error_message is required"))
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}
