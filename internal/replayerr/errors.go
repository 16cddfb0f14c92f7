// Package replayerr defines the failure taxonomy of a replay session.
//
// Every failure is a hard failure: there is no degraded mode. Errors fall in two
// classes:
//   - load-time integrity errors (ErrTraceIntegrity), raised before any call is replayed
//   - run-time divergence errors (everything else), raised at the point of divergence
//
// Errors carry function names, never raw ids.
package replayerr

import (
	"errors"
	"fmt"

	"nativereplay/internal/value"
)

var (
	ErrTraceIntegrity       = errors.New("trace integrity")
	ErrDivergence           = errors.New("replay divergence")
	ErrKindMismatch         = errors.New("kind mismatch")
	ErrTraceExhausted       = errors.New("trace exhausted")
	ErrUnsupportedAwaitable = errors.New("unsupported awaitable kind")
	ErrNotDrained           = errors.New("trace not drained")
)

// Error wraps a replay failure with the expected (recorded) and actual (live)
// representations that produced it.
type Error struct {
	Kind     error
	Expected string
	Actual   string
	Msg      string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Kind.Error()
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Expected != "" || e.Actual != "" {
		msg += fmt.Sprintf(" (expected %s, got %s)", e.Expected, e.Actual)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Kind }

// Integrityf builds a load-time integrity error.
func Integrityf(format string, args ...any) error {
	return &Error{Kind: ErrTraceIntegrity, Msg: fmt.Sprintf(format, args...)}
}

// Divergence builds a divergence error carrying both representations.
func Divergence(msg, expected, actual string) error {
	return &Error{Kind: ErrDivergence, Msg: msg, Expected: expected, Actual: actual}
}

// KindMismatch reports a decoded value whose tag differs from the requested kind.
func KindMismatch(expected, actual string) error {
	return &Error{Kind: ErrKindMismatch, Expected: expected, Actual: actual}
}

// Exhausted reports a live call with no recorded call left to match.
func Exhausted(function string) error {
	return &Error{Kind: ErrTraceExhausted, Msg: fmt.Sprintf("no recorded call left for %s", function)}
}

// UnsupportedAwaitable reports an async tag the replayer cannot synthesize.
func UnsupportedAwaitable(kind string) error {
	return &Error{Kind: ErrUnsupportedAwaitable, Msg: kind}
}

// NotDrained reports recorded calls left in the ledger at teardown.
func NotDrained(remaining int, next string) error {
	return &Error{Kind: ErrNotDrained, Msg: fmt.Sprintf("%d recorded calls left, next is %s", remaining, next)}
}

// IsLoadError reports whether err is a load-time integrity failure.
func IsLoadError(err error) bool {
	return errors.Is(err, ErrTraceIntegrity)
}

// IsDivergence reports whether err means live execution no longer follows the trace.
func IsDivergence(err error) bool {
	switch {
	case errors.Is(err, ErrDivergence),
		errors.Is(err, ErrKindMismatch),
		errors.Is(err, ErrTraceExhausted),
		errors.Is(err, ErrUnsupportedAwaitable),
		errors.Is(err, ErrNotDrained):
		return true
	default:
		return false
	}
}

// ThrownError is a recorded exception delivered to interpreted code. It is the
// faithful reproduction of the original outcome, not a replay failure.
type ThrownError struct {
	Exception *value.Object
	Message   string
}

func (e *ThrownError) Error() string {
	if e == nil {
		return ""
	}
	if e.Message == "" {
		return "recorded exception"
	}
	return "recorded exception: " + e.Message
}
