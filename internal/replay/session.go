// Package replay ties the replay components into a session: the host calls
// Begin at every native call site, and the session matches the call against
// the trace, verifies and decodes arguments, reproduces the result and
// reconciles by-reference arguments.
//
// Call matching, decoding and mutation all run on the requesting goroutine.
// The only concurrency is one worker per external-thread event, owned by the
// session's sequencer and joined at Teardown.
package replay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"nativereplay/internal/async"
	"nativereplay/internal/hook"
	"nativereplay/internal/ledger"
	"nativereplay/internal/logging"
	"nativereplay/internal/replayerr"
	"nativereplay/internal/report"
	"nativereplay/internal/telemetry"
	"nativereplay/internal/trace"
	"nativereplay/internal/value"
)

// ServerGlobal is the default global the captured environment is installed under.
const ServerGlobal = "_SERVER"

// Globals is the live global environment of the host.
type Globals interface {
	SetGlobal(name string, v value.Value) error
}

// Config holds the collaborators of a session. Every field is optional.
type Config struct {
	Logger  *slog.Logger
	Metrics *telemetry.Metrics
	Sink    report.Sink

	// Output receives replayed stdout. Default io.Discard.
	Output io.Writer

	// Globals receives the captured environment at request start, under
	// EnvGlobal (default ServerGlobal).
	Globals   Globals
	EnvGlobal string

	// StallTimeout is the period of barrier stall diagnostics; 0 disables them.
	StallTimeout time.Duration

	// StrictMutation requires full structural equality after object mutation.
	StrictMutation bool

	// CompilerID, when set, rejects traces recorded by another build.
	CompilerID string

	// StrictFunctionIDs rejects traces naming functions reg does not know, even
	// ones no recorded call uses.
	StrictFunctionIDs bool
}

// Session is the replay state of one request.
type Session struct {
	trace  *trace.Trace
	reg    *Registry
	ledger *ledger.Ledger

	queue   *async.Queue
	seq     *async.Sequencer
	factory *async.Factory

	cfg     Config
	log     *slog.Logger
	metrics *telemetry.Metrics
	sink    report.Sink
	out     io.Writer

	downstream hook.Hook
	err        error
}

// Open loads the trace at path and starts a session over it.
func Open(ctx context.Context, path string, reg *Registry, cfg Config) (*Session, error) {
	opts := []trace.Option{trace.WithLogger(cfg.Logger)}
	if cfg.CompilerID != "" {
		opts = append(opts, trace.WithCompilerID(cfg.CompilerID))
	}
	if cfg.StrictFunctionIDs {
		opts = append(opts, trace.WithStrictFunctionIDs())
	}
	t, err := trace.Load(ctx, path, reg, opts...)
	if err != nil {
		cfg.Metrics.SessionFinished("load")
		return nil, err
	}
	return New(t, reg, cfg), nil
}

// New starts a session over an already loaded trace. t must have been parsed
// against reg.
func New(t *trace.Trace, reg *Registry, cfg Config) *Session {
	log := logging.OrNop(cfg.Logger).With("trace", shortHash(t.Hash))
	out := cfg.Output
	if out == nil {
		out = io.Discard
	}
	sink := cfg.Sink
	if sink == nil {
		sink = report.NopSink{}
	}

	q := async.NewQueue()
	seq := async.NewSequencer(t.EventOrder, q,
		async.WithLogger(log),
		async.WithStallTimeout(cfg.StallTimeout),
	)
	s := &Session{
		trace:   t,
		reg:     reg,
		ledger:  ledger.New(t.Calls, reg, out),
		queue:   q,
		seq:     seq,
		factory: &async.Factory{Queue: q, Sequencer: seq},
		cfg:     cfg,
		log:     log,
		metrics: cfg.Metrics,
		sink:    sink,
		out:     out,
	}
	return s
}

// Trace is the loaded trace.
func (s *Session) Trace() *trace.Trace { return s.trace }

// Registry is the replaying build's function table.
func (s *Session) Registry() *Registry { return s.reg }

// Queue is the scheduler queue consumers park on while awaiting handles.
func (s *Session) Queue() *async.Queue { return s.queue }

// Output is where replayed stdout goes. Interpreted output must be written to
// the same writer to keep recorded interleaving.
func (s *Session) Output() io.Writer { return s.out }

// Err is the failure that ended the session, if any.
func (s *Session) Err() error { return s.err }

// Remaining is the number of recorded calls not yet replayed.
func (s *Session) Remaining() int { return s.ledger.Len() }

// Begin matches a live call to function id against the next recorded call.
// On success the recorded stdout has been written and the returned Call
// serves arguments and the result.
func (s *Session) Begin(ctx context.Context, id uint64) (*Call, error) {
	if s.err != nil {
		return nil, s.err
	}
	seq := s.ledger.Popped()
	name := s.name(id)

	rec, err := s.ledger.PopMatching(id)
	if err != nil {
		reason := report.ReasonFunctionMismatch
		if errors.Is(err, replayerr.ErrTraceExhausted) {
			reason = report.ReasonTraceExhausted
		}
		return nil, s.fail(seq, name, reason, err)
	}

	mode := "sync"
	if rec.AsyncKind != 0 {
		mode = "async"
	}
	s.log.Debug("native call replayed", "seq", seq, "function", name, "mode", mode, "stdout_chunks", len(rec.Stdout))
	s.metrics.CallReplayed(name, mode)
	report.SafeRecord(s.sink, report.Event{Kind: report.EventCallReplayed, Seq: seq, Function: name, Reason: outcomeReason(rec)})

	return &Call{s: s, seq: seq, name: name, rec: rec}, nil
}

// Teardown ends the session. It joins every async worker and requires the
// trace to be fully replayed. After a failure, workers whose tickets may never
// be reached are aborted before the join, so no goroutine outlives Teardown.
func (s *Session) Teardown(ctx context.Context) error {
	_, span := telemetry.Tracer().Start(ctx, "replay.Teardown")
	defer span.End()

	if s.err != nil {
		pending := s.abortWorkers()
		s.log.Warn("session ended by divergence", "abandoned_async", pending, "error", s.err)
		s.metrics.SessionFinished("divergence")
		span.SetStatus(codes.Error, "divergence")
		return s.err
	}

	if n := s.ledger.Len(); n > 0 {
		next, _ := s.ledger.Peek()
		err := replayerr.NotDrained(n, s.name(next.FuncID))
		return s.finishFailed(span, s.ledger.Popped(), report.ReasonNotDrained, err)
	}
	if d, want := s.seq.Dispatched(), len(s.trace.EventOrder); d != want {
		err := &replayerr.Error{
			Kind: replayerr.ErrNotDrained,
			Msg:  fmt.Sprintf("%d of %d async events were never awaited", want-d, want),
		}
		return s.finishFailed(span, s.ledger.Popped(), report.ReasonNotDrained, err)
	}

	// Teardown consumes whatever is still pending, like the end of a request.
	unpark := s.queue.Park()
	err := s.seq.Wait()
	unpark()
	if err != nil {
		s.metrics.SessionFinished("error")
		span.RecordError(err)
		return fmt.Errorf("join async workers: %w", err)
	}

	span.SetAttributes(
		attribute.Int("replay.calls", len(s.trace.Calls)),
		attribute.Int("replay.async_events", s.seq.Dispatched()),
	)
	s.metrics.SessionFinished("ok")
	s.log.Info("replay complete", "calls", len(s.trace.Calls), "async_events", s.seq.Dispatched())
	return nil
}

// abortWorkers stops and joins the workers of undelivered events, returning
// how many there were.
func (s *Session) abortWorkers() int {
	pending := s.seq.Pending()
	s.seq.Abort()
	if err := s.seq.Wait(); err != nil {
		s.log.Error("join aborted async workers", "error", err)
	}
	return pending
}

func (s *Session) finishFailed(span oteltrace.Span, seq int, reason string, err error) error {
	s.fail(seq, "", reason, err)
	s.abortWorkers()
	s.metrics.SessionFinished("divergence")
	span.SetStatus(codes.Error, reason)
	return err
}

// fail makes err the terminal error of the session.
func (s *Session) fail(seq int, function, reason string, err error) error {
	if s.err == nil {
		s.err = err
	}
	s.log.Error("replay diverged", "seq", seq, "function", function, "reason", reason, "error", err)
	s.metrics.Divergence(reason)
	report.SafeRecord(s.sink, report.Event{Kind: report.EventDivergence, Seq: seq, Function: function, Reason: reason})
	return err
}

func (s *Session) envGlobal() string {
	if s.cfg.EnvGlobal != "" {
		return s.cfg.EnvGlobal
	}
	return ServerGlobal
}

func (s *Session) name(id uint64) string {
	if n := s.reg.Name(id); n != "" {
		return n
	}
	return fmt.Sprintf("<function %d>", id)
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
