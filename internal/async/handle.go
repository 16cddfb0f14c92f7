package async

import (
	"context"
	"sync"

	"nativereplay/internal/replayerr"
	"nativereplay/internal/value"
)

// Outcome is what a recorded async call finished with: a value or an exception.
type Outcome struct {
	Value     value.Value
	Exception *value.Object
}

// Err returns the exception as a ThrownError, or nil.
func (o Outcome) Err() error {
	if o.Exception == nil {
		return nil
	}
	msg := ""
	if m, ok := o.Exception.Prop("message"); ok {
		if s, ok := m.(value.String); ok {
			msg = string(s)
		}
	}
	return &replayerr.ThrownError{Exception: o.Exception, Message: msg}
}

// Queue is the in-process scheduler queue interpreted code awaits on. It
// counts consumers currently parked in Wait, which is what the sequencer
// inspects before delivering a result.
type Queue struct {
	mu      sync.Mutex
	waiting int
}

// NewQueue returns an empty queue.
func NewQueue() *Queue { return &Queue{} }

// ConsumerWaiting reports whether a consumer is parked on the queue.
func (q *Queue) ConsumerWaiting() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.waiting > 0
}

// Park marks a consumer as waiting until the returned func is called.
func (q *Queue) Park() (unpark func()) {
	q.mu.Lock()
	q.waiting++
	q.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			q.mu.Lock()
			q.waiting--
			q.mu.Unlock()
		})
	}
}

// Handle is a wait handle given to interpreted code. It is either finished at
// creation (static) or finished later by a sequencer worker.
type Handle struct {
	kind   AwaitableKind
	queue  *Queue
	done   chan struct{}
	ticket uint64

	outcome Outcome
}

func finishedHandle(kind AwaitableKind, out Outcome) *Handle {
	h := &Handle{kind: kind, done: make(chan struct{}), outcome: out}
	close(h.done)
	return h
}

func pendingHandle(q *Queue, ticket uint64) *Handle {
	return &Handle{kind: ExternalThreadEvent, queue: q, done: make(chan struct{}), ticket: ticket}
}

// Kind is the awaitable kind the handle was made for.
func (h *Handle) Kind() AwaitableKind { return h.kind }

// Ticket is the completion ticket; ok is false for static handles.
func (h *Handle) Ticket() (ticket uint64, ok bool) {
	return h.ticket, h.kind == ExternalThreadEvent
}

// Done is closed once the handle has its outcome.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Finished reports whether the outcome is available.
func (h *Handle) Finished() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Wait parks the caller on the queue until the handle finishes. A recorded
// exception is returned as *replayerr.ThrownError.
func (h *Handle) Wait(ctx context.Context) (value.Value, error) {
	if !h.Finished() {
		if h.queue != nil {
			unpark := h.queue.Park()
			defer unpark()
		}
		select {
		case <-h.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := h.outcome.Err(); err != nil {
		return nil, err
	}
	return value.OrNull(h.outcome.Value), nil
}

func (h *Handle) resolve(out Outcome) {
	h.outcome = out
	close(h.done)
}
