package state

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"nativereplay/internal/replayerr"
)

func TestFailureFromError_ClassifiesLoadFailure(t *testing.T) {
	f, err := failureFromError(fmt.Errorf("load: %w", replayerr.Integrityf("empty trace")))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.FailureClass != FailureClassLoad || f.ErrorCode != "TraceIntegrity" || !f.Reproducible {
		t.Fatalf("unexpected failure: %#v", f)
	}
}

func TestFailureFromError_ClassifiesDivergence(t *testing.T) {
	f, err := failureFromError(replayerr.Divergence("argument differs", `"abc"`, `"abd"`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.FailureClass != FailureClassDivergence || f.ErrorCode != "Divergence" || !f.Reproducible {
		t.Fatalf("unexpected failure: %#v", f)
	}
	if f.Expected != `"abc"` || f.Actual != `"abd"` {
		t.Fatalf("expected/actual not carried: %#v", f)
	}
}

func TestFailureFromError_DivergenceCodes(t *testing.T) {
	cases := map[string]error{
		"KindMismatch":         replayerr.KindMismatch("int", "string"),
		"TraceExhausted":       replayerr.Exhausted("rand"),
		"UnsupportedAwaitable": replayerr.UnsupportedAwaitable("Sleep"),
		"NotDrained":           replayerr.NotDrained(2, "rand"),
	}
	for code, in := range cases {
		f, err := failureFromError(in)
		if err != nil {
			t.Fatalf("%s: %v", code, err)
		}
		if f.FailureClass != FailureClassDivergence || f.ErrorCode != code {
			t.Fatalf("%s: unexpected failure %#v", code, f)
		}
	}
}

func TestFailureFromError_ClassifiesSystemFailure(t *testing.T) {
	f, err := failureFromError(context.DeadlineExceeded)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.FailureClass != FailureClassSystem || f.ErrorCode != "Interrupted" || f.Reproducible {
		t.Fatalf("unexpected failure: %#v", f)
	}

	f, _ = failureFromError(errors.New("disk full"))
	if f.FailureClass != FailureClassSystem || f.ErrorCode != "UnknownError" {
		t.Fatalf("unexpected failure: %#v", f)
	}
}

func TestFailureRecorder_RunLifecycle(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	clock := time.Unix(100, 0).UTC()
	rec := &FailureRecorder{Store: store, Now: func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}}

	first, err := rec.StartRun(Run{TraceHash: "h"})
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	if first.RunID == "" || first.Mode != ModeLenient || first.PreviousRunID != nil {
		t.Fatalf("unexpected run: %+v", first)
	}
	if _, err := rec.FinishRun(first, 3, nil); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	second, err := rec.StartRun(Run{TraceHash: "h", Mode: ModeStrict})
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	if second.PreviousRunID == nil || *second.PreviousRunID != first.RunID {
		t.Fatalf("expected link to %s, got %+v", first.RunID, second.PreviousRunID)
	}
	done, err := rec.FinishRun(second, 1, replayerr.Exhausted("rand"))
	if err != nil {
		t.Fatalf("FinishRun: %v", err)
	}
	if done.Status != RunStatusFailed || done.EndTime == nil {
		t.Fatalf("unexpected finished run: %+v", done)
	}

	f, err := store.LoadFailure(second.RunID)
	if err != nil {
		t.Fatalf("LoadFailure: %v", err)
	}
	if f.ErrorCode != "TraceExhausted" {
		t.Fatalf("unexpected failure: %+v", f)
	}
	if _, err := store.LoadFailure(first.RunID); err == nil {
		t.Fatal("successful run must not have failure.json")
	}
}
