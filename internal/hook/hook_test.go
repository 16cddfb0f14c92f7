package hook

import (
	"context"
	"errors"
	"testing"
)

func TestSlot_RequestInitWithoutHook(t *testing.T) {
	var s Slot
	if err := s.RequestInit(context.Background()); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}

func TestSlot_HookMayDetachItself(t *testing.T) {
	var s Slot
	calls := 0
	s.Attach(Func(func(context.Context) error {
		calls++
		s.Detach()
		return nil
	}))

	for i := 0; i < 3; i++ {
		if err := s.RequestInit(context.Background()); err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
	}
	if calls != 1 {
		t.Fatalf("expected one call, got %d", calls)
	}
	if s.Active() != nil {
		t.Fatalf("expected slot to be empty")
	}
}

func TestSlot_PropagatesHookError(t *testing.T) {
	var s Slot
	want := errors.New("nope")
	s.Attach(Func(func(context.Context) error { return want }))
	if err := s.RequestInit(context.Background()); !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}
