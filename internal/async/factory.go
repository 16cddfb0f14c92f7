package async

import (
	"fmt"

	"nativereplay/internal/codec"
	"nativereplay/internal/replayerr"
	"nativereplay/internal/trace"
)

// Factory turns recorded async calls into wait handles.
type Factory struct {
	Queue     *Queue
	Sequencer *Sequencer
}

// Make decodes the recorded outcome of call and returns a handle for it.
// Static handles are finished immediately; external-thread events finish when
// their ticket is reached. delivered is passed to Sequencer.Dispatch.
func (f *Factory) Make(call trace.NativeCall, delivered func(ticket uint64)) (*Handle, error) {
	out, err := DecodeOutcome(call)
	if err != nil {
		return nil, err
	}

	kind, ok := KindOfTag(call.AsyncKind)
	switch {
	case call.AsyncKind == 0:
		return nil, replayerr.UnsupportedAwaitable("synchronous call has no wait handle")
	case !ok:
		return nil, replayerr.UnsupportedAwaitable(fmt.Sprintf("unknown async tag %d", call.AsyncKind))
	}
	switch kind {
	case Static:
		return finishedHandle(Static, out), nil
	case ExternalThreadEvent:
		ticket, err := f.Sequencer.NextTicket()
		if err != nil {
			return nil, err
		}
		h := pendingHandle(f.Queue, ticket)
		f.Sequencer.Dispatch(h, out, delivered)
		return h, nil
	default:
		return nil, replayerr.UnsupportedAwaitable(kind.String())
	}
}

// DecodeOutcome decodes the exception as an object when one was recorded,
// otherwise the return value as any kind.
func DecodeOutcome(call trace.NativeCall) (Outcome, error) {
	if !call.Exception.Empty() {
		exc, err := codec.DecodeObject(call.Exception)
		if err != nil {
			return Outcome{}, err
		}
		if exc == nil {
			return Outcome{}, replayerr.Integrityf("recorded exception is null")
		}
		return Outcome{Exception: exc}, nil
	}
	v, err := codec.DecodeAny(call.Return)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Value: v}, nil
}
