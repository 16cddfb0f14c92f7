package cli

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"nativereplay/internal/luahost"
	"nativereplay/internal/replayerr"
)

const (
	ExitSuccess           = 0
	ExitDivergence        = 1
	ExitInvalidInvocation = 2
	ExitConfigError       = 3
	ExitInternalError     = 4
)

// RunInvocation is the canonical description of one replay.
//
// Paths are cleaned; with FromArchive set, Trace is a hash prefix instead of
// a path.
type RunInvocation struct {
	Trace       string
	FromArchive bool
	HostPath    string
	ReportPath  string
	MetricsFile string
	StateDir    string
}

type InvocationError struct {
	ExitCode int
	Message  string
}

func (e *InvocationError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func invalidInvocationf(format string, args ...any) error {
	return &InvocationError{ExitCode: ExitInvalidInvocation, Message: fmt.Sprintf(format, args...)}
}

// configError marks failures of the environment, host file or state
// directory, as opposed to failures of the replay itself.
type configError struct {
	err error
}

func (e *configError) Error() string { return e.err.Error() }
func (e *configError) Unwrap() error { return e.err }

func asConfigError(err error) error {
	if err == nil {
		return nil
	}
	return &configError{err: err}
}

// Validate checks and canonicalizes the invocation.
func (inv *RunInvocation) Validate() error {
	if strings.TrimSpace(inv.Trace) == "" {
		return invalidInvocationf("trace is required")
	}
	if strings.TrimSpace(inv.HostPath) == "" {
		return invalidInvocationf("--host is required")
	}
	if !inv.FromArchive {
		inv.Trace = filepath.Clean(inv.Trace)
	}
	inv.HostPath = filepath.Clean(inv.HostPath)
	for _, p := range []*string{&inv.ReportPath, &inv.MetricsFile, &inv.StateDir} {
		if *p == "" {
			continue
		}
		clean := filepath.Clean(*p)
		if clean == "." && p != &inv.StateDir {
			return invalidInvocationf("path must not be '.'")
		}
		*p = clean
	}
	return nil
}

// ExitCode maps an error to the semantic exit code of the process.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var invErr *InvocationError
	if errors.As(err, &invErr) && invErr != nil {
		if invErr.ExitCode != 0 {
			return invErr.ExitCode
		}
		return ExitInvalidInvocation
	}
	var cfgErr *configError
	switch {
	case errors.As(err, &cfgErr), replayerr.IsLoadError(err):
		return ExitConfigError
	case replayerr.IsDivergence(err), errors.Is(err, luahost.ErrScript):
		return ExitDivergence
	default:
		return ExitInternalError
	}
}
