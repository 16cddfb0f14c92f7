package replay

import (
	"errors"
	"fmt"
	"time"

	"nativereplay/internal/async"
	"nativereplay/internal/codec"
	"nativereplay/internal/mutate"
	"nativereplay/internal/replayerr"
	"nativereplay/internal/report"
	"nativereplay/internal/trace"
	"nativereplay/internal/value"
)

// Call is one matched native call. Arguments are consumed in declaration
// order, one method per argument according to how the native takes it:
//
//	In   by-value argument, verified against the recording; objects are
//	     handles, so they are restored like Ref
//	Out  by-reference output argument, assigned the recorded value
//	Ref  object argument, mutated to its recorded post-call state
//
// The call then finishes with Return (synchronous) or Await (asynchronous).
type Call struct {
	s    *Session
	seq  int
	name string
	rec  trace.NativeCall
	arg  int
	done bool
}

// Function is the name of the native being replayed.
func (c *Call) Function() string { return c.name }

// Seq is the position of the call in the trace.
func (c *Call) Seq() int { return c.seq }

// In verifies a by-value argument. An object is shared with the native, so
// instead of being verified it gets its recorded post-call state.
func (c *Call) In(live value.Value) error {
	enc, err := c.nextArg()
	if err != nil {
		return err
	}
	if obj, ok := live.(*value.Object); ok && obj != nil {
		return c.restore(enc, obj)
	}
	if err := codec.VerifyLive(enc, live); err != nil {
		return c.diverge(report.ReasonArgumentMismatch, c.wrapArg(err))
	}
	return nil
}

// Out returns the recorded value of a by-reference output argument.
func (c *Call) Out() (value.Value, error) {
	enc, err := c.nextArg()
	if err != nil {
		return nil, err
	}
	v, err := codec.DecodeAny(enc)
	if err != nil {
		return nil, c.diverge(reasonOf(err), c.wrapArg(err))
	}
	return v, nil
}

// Ref restores the recorded post-call state of an object argument onto live.
func (c *Call) Ref(live *value.Object) error {
	enc, err := c.nextArg()
	if err != nil {
		return err
	}
	return c.restore(enc, live)
}

func (c *Call) restore(enc codec.Encoded, live *value.Object) error {
	rec, err := codec.DecodeObject(enc)
	if err != nil {
		return c.diverge(reasonOf(err), c.wrapArg(err))
	}
	var opts []mutate.Option
	if c.s.cfg.StrictMutation {
		opts = append(opts, mutate.WithStrict())
	}
	if err := mutate.Apply(rec, live, opts...); err != nil {
		return c.diverge(report.ReasonArgumentMismatch, c.wrapArg(err))
	}
	return nil
}

// Return finishes a synchronous call with its recorded result. A recorded
// exception is returned as *replayerr.ThrownError and does not end the session.
func (c *Call) Return() (value.Value, error) {
	if err := c.finish(); err != nil {
		return nil, err
	}
	if c.rec.AsyncKind != 0 {
		return nil, c.diverge(report.ReasonFunctionMismatch, replayerr.Divergence(
			fmt.Sprintf("%s was recorded as asynchronous", c.name), "await", "return"))
	}
	out, err := async.DecodeOutcome(c.rec)
	if err != nil {
		return nil, c.diverge(reasonOf(err), fmt.Errorf("%s result: %w", c.name, err))
	}
	c.s.log.Debug("native call finished", "seq", c.seq, "function", c.name, "outcome", outcomeReason(c.rec))
	if err := out.Err(); err != nil {
		return nil, err
	}
	return value.OrNull(out.Value), nil
}

// Await finishes an asynchronous call with a wait handle for its recorded
// outcome.
func (c *Call) Await() (*async.Handle, error) {
	if err := c.finish(); err != nil {
		return nil, err
	}
	if c.rec.AsyncKind == 0 {
		return nil, c.diverge(report.ReasonFunctionMismatch, replayerr.Divergence(
			fmt.Sprintf("%s was recorded as synchronous", c.name), "return", "await"))
	}

	s, seq, name, reason := c.s, c.seq, c.name, outcomeReason(c.rec)
	dispatched := time.Now()
	h, err := s.factory.Make(c.rec, func(ticket uint64) {
		s.metrics.AsyncResolved(time.Since(dispatched))
		report.SafeRecord(s.sink, report.Event{
			Kind: report.EventAsyncResolved, Seq: seq, Function: name, Ticket: ticket, Reason: reason,
		})
	})
	if err != nil {
		return nil, c.diverge(reasonOf(err), fmt.Errorf("%s: %w", c.name, err))
	}
	if ticket, ok := h.Ticket(); ok {
		s.metrics.AsyncDispatched()
		report.SafeRecord(s.sink, report.Event{
			Kind: report.EventAsyncDispatched, Seq: seq, Function: name, Ticket: ticket,
		})
		s.log.Debug("async call dispatched", "seq", seq, "function", name, "ticket", ticket)
	}
	return h, nil
}

func (c *Call) nextArg() (codec.Encoded, error) {
	if c.done {
		return nil, fmt.Errorf("replay: %s already finished", c.name)
	}
	if c.arg >= len(c.rec.Args) {
		return nil, c.diverge(report.ReasonArgumentMismatch, replayerr.Divergence(
			fmt.Sprintf("%s called with more arguments than recorded", c.name),
			fmt.Sprint(len(c.rec.Args)), fmt.Sprint(c.arg+1)))
	}
	enc := c.rec.Args[c.arg]
	c.arg++
	return enc, nil
}

func (c *Call) finish() error {
	if c.done {
		return fmt.Errorf("replay: %s already finished", c.name)
	}
	c.done = true
	return nil
}

func (c *Call) wrapArg(err error) error {
	return fmt.Errorf("%s argument %d: %w", c.name, c.arg, err)
}

func (c *Call) diverge(reason string, err error) error {
	return c.s.fail(c.seq, c.name, reason, err)
}

func outcomeReason(rec trace.NativeCall) string {
	if rec.Exception.Empty() {
		return report.ReasonReturned
	}
	return report.ReasonThrew
}

func reasonOf(err error) string {
	switch {
	case errors.Is(err, replayerr.ErrKindMismatch):
		return report.ReasonKindMismatch
	case errors.Is(err, replayerr.ErrUnsupportedAwaitable):
		return report.ReasonUnsupportedAwaitable
	case errors.Is(err, replayerr.ErrTraceExhausted):
		return report.ReasonTraceExhausted
	case errors.Is(err, replayerr.ErrTraceIntegrity):
		return report.ReasonTraceIntegrity
	default:
		return report.ReasonArgumentMismatch
	}
}
