package state

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// FailureRecorder writes run.json and failure.json artifacts for replay runs.
//
// Callers provide Run metadata and, at the end, the error that ended the
// replay. The recorder classifies the error and persists the Failure record
// using Store (atomic + durable).
type FailureRecorder struct {
	Store *Store

	// Now defaults to time.Now.
	Now func() time.Time
}

func (r *FailureRecorder) NewRunID() string {
	return uuid.NewString()
}

// StartRun fills defaults, links the run to the latest earlier run of the
// same trace and persists it with status running.
func (r *FailureRecorder) StartRun(run Run) (Run, error) {
	if r == nil || r.Store == nil {
		return Run{}, errors.New("Store is required")
	}
	if run.RunID == "" {
		run.RunID = r.NewRunID()
	}
	if run.StartTime.IsZero() {
		run.StartTime = r.now()
	}
	run.Mode = Mode(nonEmptyOr(string(run.Mode), string(ModeLenient)))
	run.Status = RunStatusRunning
	run.EndTime = nil

	if run.PreviousRunID == nil {
		prev, ok, err := r.Store.LatestRun(run.TraceHash)
		if err != nil {
			return Run{}, fmt.Errorf("find previous run: %w", err)
		}
		if ok && prev.RunID != run.RunID {
			id := prev.RunID
			run.PreviousRunID = &id
		}
	}
	if err := run.Validate(); err != nil {
		return Run{}, fmt.Errorf("invalid run: %w", err)
	}
	if err := r.Store.SaveRun(run); err != nil {
		return Run{}, err
	}
	return run, nil
}

// FinishRun marks run finished. A nil replayErr is success; otherwise the
// error is classified and failure.json is written next to run.json.
func (r *FailureRecorder) FinishRun(run Run, calls int, replayErr error) (Run, error) {
	if r == nil || r.Store == nil {
		return Run{}, errors.New("Store is required")
	}
	end := r.now()
	if end.Before(run.StartTime) {
		end = run.StartTime
	}
	run.EndTime = &end
	run.Calls = calls
	run.Status = RunStatusSucceeded
	if replayErr != nil {
		run.Status = RunStatusFailed
		if err := r.RecordFailure(run.RunID, replayErr); err != nil {
			return Run{}, err
		}
	}
	if err := r.Store.SaveRun(run); err != nil {
		return Run{}, err
	}
	return run, nil
}

func (r *FailureRecorder) RecordFailure(runID string, err error) error {
	if r == nil || r.Store == nil {
		return errors.New("Store is required")
	}
	f, ferr := failureFromError(err)
	if ferr != nil {
		return ferr
	}
	return r.Store.SaveFailure(runID, f)
}

func (r *FailureRecorder) now() time.Time {
	if r.Now != nil {
		return r.Now().UTC()
	}
	return time.Now().UTC()
}
