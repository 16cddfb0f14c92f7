// Package telemetry holds the replay metrics and the tracer used for spans.
package telemetry

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Tracer returns the tracer for replay spans. It resolves the global provider
// on every call so tests can install their own.
func Tracer() trace.Tracer {
	return otel.Tracer("nativereplay")
}

// Metrics are the replay counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	calls       *prometheus.CounterVec
	divergences *prometheus.CounterVec
	asyncEvents *prometheus.CounterVec
	asyncDelay  prometheus.Histogram
	sessions    *prometheus.CounterVec
}

// NewMetrics registers the replay metrics on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		calls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nativereplay_calls_total",
				Help: "Native calls matched against the trace.",
			},
			[]string{"function", "mode"},
		),
		divergences: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nativereplay_divergences_total",
				Help: "Replay divergences by reason.",
			},
			[]string{"reason"},
		),
		asyncEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nativereplay_async_events_total",
				Help: "External-thread events by phase.",
			},
			[]string{"phase"},
		),
		asyncDelay: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "nativereplay_async_delivery_seconds",
				Help:    "Time from dispatch to delivery of an async event.",
				Buckets: prometheus.DefBuckets,
			},
		),
		sessions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nativereplay_sessions_total",
				Help: "Replay sessions by result.",
			},
			[]string{"result"},
		),
	}
	reg.MustRegister(m.calls, m.divergences, m.asyncEvents, m.asyncDelay, m.sessions)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// CallReplayed counts a matched call; mode is "sync" or "async".
func (m *Metrics) CallReplayed(function, mode string) {
	if m == nil {
		return
	}
	m.calls.WithLabelValues(function, mode).Inc()
}

func (m *Metrics) Divergence(reason string) {
	if m == nil {
		return
	}
	m.divergences.WithLabelValues(reason).Inc()
}

func (m *Metrics) AsyncDispatched() {
	if m == nil {
		return
	}
	m.asyncEvents.WithLabelValues("dispatched").Inc()
}

func (m *Metrics) AsyncResolved(delay time.Duration) {
	if m == nil {
		return
	}
	m.asyncEvents.WithLabelValues("resolved").Inc()
	m.asyncDelay.Observe(delay.Seconds())
}

// SessionFinished counts a session by result: "ok", "divergence", "load" or "error".
func (m *Metrics) SessionFinished(result string) {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues(result).Inc()
}

// WriteText writes every metric in the Prometheus text format.
func (m *Metrics) WriteText(w io.Writer) error {
	if m == nil {
		return nil
	}
	mfs, err := m.registry.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range mfs {
		if err := enc.Encode(mf); err != nil {
			return fmt.Errorf("encode %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

// WriteFile dumps the metrics to path.
func (m *Metrics) WriteFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := m.WriteText(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
