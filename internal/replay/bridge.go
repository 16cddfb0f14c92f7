package replay

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/codes"

	"nativereplay/internal/hook"
	"nativereplay/internal/telemetry"
)

// SetDebuggerHook registers the hook external tooling wants to see. While the
// session's bridge is attached the hook is held back; the bridge re-attaches
// it after installing the captured environment.
func (s *Session) SetDebuggerHook(h hook.Hook) {
	s.downstream = h
}

// RequestInit attaches the session's one-shot bridge to slot. The host calls
// slot.RequestInit when the replayed request starts.
func (s *Session) RequestInit(slot *hook.Slot) {
	slot.Attach(&bridge{s: s, slot: slot})
}

type bridge struct {
	s    *Session
	slot *hook.Slot
}

// OnRequestInit installs the captured global environment, detaches the
// bridge and forwards the notification to the downstream hook, if any.
func (b *bridge) OnRequestInit(ctx context.Context) error {
	ctx, span := telemetry.Tracer().Start(ctx, "replay.RequestInit")
	defer span.End()

	s := b.s
	if g := s.cfg.Globals; g != nil {
		if err := g.SetGlobal(s.envGlobal(), s.trace.GlobalEnv()); err != nil {
			span.SetStatus(codes.Error, "install globals")
			return fmt.Errorf("install %s: %w", s.envGlobal(), err)
		}
	}
	b.slot.Detach()
	s.log.Debug("captured environment installed", "global", s.envGlobal(), "entries", s.trace.GlobalEnv().Len())

	if s.downstream == nil {
		return nil
	}
	b.slot.Attach(s.downstream)
	return s.downstream.OnRequestInit(ctx)
}
