package async

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"nativereplay/internal/logging"
)

// Barrier is the global completion order: ticket t may complete only after
// tickets 0..t-1 have. The counter is atomic; waiters park on a channel for
// their own ticket and are woken by the Advance that reaches it.
type Barrier struct {
	next atomic.Uint64

	mu      sync.Mutex
	waiters map[uint64]chan struct{}

	closed    chan struct{}
	closeOnce sync.Once

	stall time.Duration
	log   *slog.Logger
}

// NewBarrier returns a barrier at ticket 0. A positive stall duration logs a
// warning each time a waiter has been parked that long; it never gives up.
func NewBarrier(stall time.Duration, log *slog.Logger) *Barrier {
	return &Barrier{
		waiters: make(map[uint64]chan struct{}),
		closed:  make(chan struct{}),
		stall:   stall,
		log:     logging.OrNop(log),
	}
}

// Next is the ticket currently allowed to complete.
func (b *Barrier) Next() uint64 { return b.next.Load() }

// Wait blocks until ticket is next. It reports false if the barrier was
// closed first.
func (b *Barrier) Wait(ticket uint64) bool {
	start := time.Now()
	for {
		if b.next.Load() == ticket {
			return true
		}
		ch := b.chanFor(ticket)
		// Advance may have run between the load and the registration.
		if b.next.Load() == ticket {
			return true
		}
		if b.stall <= 0 {
			select {
			case <-ch:
			case <-b.closed:
				return false
			}
			continue
		}
		timer := time.NewTimer(b.stall)
		select {
		case <-ch:
			timer.Stop()
		case <-b.closed:
			timer.Stop()
			return false
		case <-timer.C:
			b.log.Warn("async event stalled at completion barrier",
				"ticket", ticket,
				"next", b.next.Load(),
				"waited", time.Since(start).Round(time.Millisecond),
			)
		}
	}
}

// Advance moves the barrier from ticket to ticket+1 and wakes the waiter of
// ticket+1. It reports false if ticket was not the current one.
func (b *Barrier) Advance(ticket uint64) bool {
	if !b.next.CompareAndSwap(ticket, ticket+1) {
		return false
	}
	b.mu.Lock()
	if ch, ok := b.waiters[ticket+1]; ok {
		close(ch)
		delete(b.waiters, ticket+1)
	}
	b.mu.Unlock()
	return true
}

// Close releases every current and future waiter whose ticket is not next.
func (b *Barrier) Close() {
	b.closeOnce.Do(func() { close(b.closed) })
}

// Closed reports whether Close has been called.
func (b *Barrier) Closed() bool {
	select {
	case <-b.closed:
		return true
	default:
		return false
	}
}

func (b *Barrier) chanFor(ticket uint64) chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.waiters[ticket]
	if !ok {
		ch = make(chan struct{})
		b.waiters[ticket] = ch
	}
	return ch
}
