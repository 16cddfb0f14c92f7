// Package ledger holds the ordered queue of recorded native calls.
//
// The ledger is consumed by the requesting goroutine only and takes no locks.
// Matching a call and replaying its captured stdout happen in one step, so
// output interleaves with interpreted output in recorded order even though the
// native work never runs.
package ledger

import (
	"fmt"
	"io"

	"nativereplay/internal/replayerr"
	"nativereplay/internal/trace"
)

// Names resolves replay-time function ids for diagnostics.
type Names interface {
	Name(id uint64) string
}

// Ledger is a FIFO of recorded calls.
type Ledger struct {
	calls []trace.NativeCall
	head  int
	names Names
	out   io.Writer
}

// New returns a ledger over calls in recorded order. Stdout chunks are written
// to out; a nil out discards them.
func New(calls []trace.NativeCall, names Names, out io.Writer) *Ledger {
	if out == nil {
		out = io.Discard
	}
	q := make([]trace.NativeCall, len(calls))
	copy(q, calls)
	return &Ledger{calls: q, names: names, out: out}
}

// Len is the number of calls not yet popped.
func (l *Ledger) Len() int { return len(l.calls) - l.head }

// Popped is the number of calls consumed so far, i.e. the sequence number of
// the next call.
func (l *Ledger) Popped() int { return l.head }

// Peek returns the next recorded call without consuming it.
func (l *Ledger) Peek() (trace.NativeCall, bool) {
	if l.Len() == 0 {
		return trace.NativeCall{}, false
	}
	return l.calls[l.head], true
}

// Remaining lists the function names still queued, in order.
func (l *Ledger) Remaining() []string {
	out := make([]string, 0, l.Len())
	for _, c := range l.calls[l.head:] {
		out = append(out, l.name(c.FuncID))
	}
	return out
}

// PopMatching consumes the head call. An empty ledger or a head recorded for
// another function is an error and leaves the output untouched; on success
// every captured stdout chunk is written in order.
func (l *Ledger) PopMatching(liveID uint64) (trace.NativeCall, error) {
	if l.Len() == 0 {
		return trace.NativeCall{}, replayerr.Exhausted(l.name(liveID))
	}
	call := l.calls[l.head]
	if call.FuncID != liveID {
		return trace.NativeCall{}, replayerr.Divergence(
			fmt.Sprintf("call #%d is to a different native function", l.head),
			l.name(call.FuncID),
			l.name(liveID),
		)
	}
	l.calls[l.head] = trace.NativeCall{}
	l.head++

	for _, chunk := range call.Stdout {
		if _, err := io.WriteString(l.out, chunk); err != nil {
			return call, fmt.Errorf("replay stdout of %s: %w", l.name(liveID), err)
		}
	}
	return call, nil
}

func (l *Ledger) name(id uint64) string {
	if l.names != nil {
		if n := l.names.Name(id); n != "" {
			return n
		}
	}
	return fmt.Sprintf("<function %d>", id)
}
