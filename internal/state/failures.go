package state

import (
	"context"
	"errors"

	"nativereplay/internal/replayerr"
)

// failureFromError classifies err into the failure taxonomy.
func failureFromError(err error) (Failure, error) {
	if err == nil {
		return Failure{}, errors.New("nil error")
	}

	f := Failure{ErrorMessage: err.Error()}
	var re *replayerr.Error
	if errors.As(err, &re) && re != nil {
		f.Expected = re.Expected
		f.Actual = re.Actual
	}

	switch {
	case replayerr.IsLoadError(err):
		f.FailureClass = FailureClassLoad
		f.ErrorCode = "TraceIntegrity"
		f.Reproducible = true
	case replayerr.IsDivergence(err):
		f.FailureClass = FailureClassDivergence
		f.ErrorCode = divergenceCode(err)
		f.Reproducible = true
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		f.FailureClass = FailureClassSystem
		f.ErrorCode = "Interrupted"
	default:
		// Unknown errors are system failures, the most conservative class.
		f.FailureClass = FailureClassSystem
		f.ErrorCode = "UnknownError"
	}
	return f, nil
}

func divergenceCode(err error) string {
	switch {
	case errors.Is(err, replayerr.ErrKindMismatch):
		return "KindMismatch"
	case errors.Is(err, replayerr.ErrTraceExhausted):
		return "TraceExhausted"
	case errors.Is(err, replayerr.ErrUnsupportedAwaitable):
		return "UnsupportedAwaitable"
	case errors.Is(err, replayerr.ErrNotDrained):
		return "NotDrained"
	default:
		return "Divergence"
	}
}

func nonEmptyOr(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}
