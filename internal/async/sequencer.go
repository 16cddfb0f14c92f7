// Package async synthesizes wait handles for recorded asynchronous native calls
// and reproduces the recorded completion order of concurrent events.
package async

import (
	"log/slog"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"nativereplay/internal/logging"
	"nativereplay/internal/replayerr"
)

// Scheduler is the host's queue introspection: whether the consuming task is
// currently parked waiting for a result.
type Scheduler interface {
	ConsumerWaiting() bool
}

// spinYields is how many times a worker yields before it starts sleeping
// while waiting for the consumer to park.
const spinYields = 64

// Sequencer assigns recorded tickets to external-thread events in call order
// and runs one worker per event that delivers its outcome at its ticket.
type Sequencer struct {
	order      []uint64
	dispatched int

	barrier *Barrier
	sched   Scheduler
	log     *slog.Logger
	stall   time.Duration

	group errgroup.Group
	mu    sync.Mutex
	live  int
}

// SequencerOption configures NewSequencer.
type SequencerOption func(*Sequencer)

// WithLogger sets the logger for dispatch and stall diagnostics.
func WithLogger(l *slog.Logger) SequencerOption {
	return func(s *Sequencer) { s.log = l }
}

// WithStallTimeout logs a warning whenever a worker has waited this long.
func WithStallTimeout(d time.Duration) SequencerOption {
	return func(s *Sequencer) { s.stall = d }
}

// NewSequencer returns a sequencer over the recorded event order.
func NewSequencer(order []uint64, sched Scheduler, opts ...SequencerOption) *Sequencer {
	s := &Sequencer{order: order, sched: sched}
	for _, opt := range opts {
		opt(s)
	}
	s.log = logging.OrNop(s.log)
	s.barrier = NewBarrier(s.stall, s.log)
	return s
}

// Dispatched is how many events have been given tickets so far.
func (s *Sequencer) Dispatched() int { return s.dispatched }

// Pending is the number of workers that have not delivered yet.
func (s *Sequencer) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live
}

// NextTicket takes the ticket of the next external-thread event in call order.
// Only the requesting goroutine calls it.
func (s *Sequencer) NextTicket() (uint64, error) {
	if s.dispatched >= len(s.order) {
		return 0, replayerr.Integrityf("eventOrder has %d entries, async event #%d has no ticket", len(s.order), s.dispatched)
	}
	t := s.order[s.dispatched]
	s.dispatched++
	return t, nil
}

// Dispatch starts the worker for h. The worker waits for h's ticket, then for
// a parked consumer, delivers out, calls delivered (if non-nil) and advances
// the barrier. delivered therefore runs in ticket order.
func (s *Sequencer) Dispatch(h *Handle, out Outcome, delivered func(ticket uint64)) {
	ticket := h.ticket
	s.mu.Lock()
	s.live++
	s.mu.Unlock()

	s.log.Debug("async event dispatched", "ticket", ticket)
	s.group.Go(func() error {
		defer func() {
			s.mu.Lock()
			s.live--
			s.mu.Unlock()
		}()

		if !s.barrier.Wait(ticket) || !s.awaitConsumer(ticket) {
			s.log.Debug("async event abandoned", "ticket", ticket)
			return nil
		}
		h.resolve(out)
		if delivered != nil {
			delivered(ticket)
		}
		s.log.Debug("async event resolved", "ticket", ticket)
		if !s.barrier.Advance(ticket) {
			s.log.Error("completion barrier moved under a running event", "ticket", ticket)
		}
		return nil
	})
}

// Wait joins every worker. Unless Abort was called, events are never
// abandoned before delivery, so Wait blocks until all dispatched events have
// completed.
func (s *Sequencer) Wait() error {
	return s.group.Wait()
}

// Abort makes every worker that has not delivered yet return without
// resolving its handle. Use it once the session can no longer consume events.
func (s *Sequencer) Abort() {
	s.barrier.Close()
}

// awaitConsumer is the final readiness check: it spins (yielding, then
// sleeping briefly) until the consumer is parked on the queue. It reports
// false if the sequencer was aborted meanwhile.
func (s *Sequencer) awaitConsumer(ticket uint64) bool {
	if s.sched == nil {
		return !s.barrier.Closed()
	}
	start := time.Now()
	warned := start
	for i := 0; !s.sched.ConsumerWaiting(); i++ {
		if s.barrier.Closed() {
			return false
		}
		if i < spinYields {
			runtime.Gosched()
			continue
		}
		time.Sleep(50 * time.Microsecond)
		if s.stall > 0 && time.Since(warned) >= s.stall {
			warned = time.Now()
			s.log.Warn("async event waiting for a consumer",
				"ticket", ticket,
				"waited", time.Since(start).Round(time.Millisecond),
			)
		}
	}
	return true
}
