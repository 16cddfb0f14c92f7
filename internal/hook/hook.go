// Package hook is the debugger hook slot of the host runtime: at most one hook
// is attached at a time and it is notified when a logical request starts.
package hook

import (
	"context"
	"sync"
)

// Hook observes request starts.
type Hook interface {
	OnRequestInit(ctx context.Context) error
}

// Func adapts a function to Hook.
type Func func(ctx context.Context) error

func (f Func) OnRequestInit(ctx context.Context) error { return f(ctx) }

// Slot holds the attached hook.
type Slot struct {
	mu   sync.Mutex
	hook Hook
}

// Attach replaces the attached hook.
func (s *Slot) Attach(h Hook) {
	s.mu.Lock()
	s.hook = h
	s.mu.Unlock()
}

// Detach removes the attached hook, if any.
func (s *Slot) Detach() {
	s.Attach(nil)
}

// Active returns the attached hook or nil.
func (s *Slot) Active() Hook {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hook
}

// RequestInit is called by the host at the start of every logical request.
// The hook runs without the slot lock held, so it may re-attach or detach.
func (s *Slot) RequestInit(ctx context.Context) error {
	h := s.Active()
	if h == nil {
		return nil
	}
	return h.OnRequestInit(ctx)
}
