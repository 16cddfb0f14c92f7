package state

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestStore_SaveAndLoadRun_IncludesNullablePreviousRunID(t *testing.T) {
	base := t.TempDir()
	store, err := NewStore(base)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	run := Run{
		RunID:         "run-123",
		TraceHash:     "th-abc",
		TracePath:     "req.trace",
		StartTime:     time.Unix(1, 2).UTC(),
		Mode:          ModeLenient,
		Status:        RunStatusRunning,
		PreviousRunID: nil,
	}
	if err := store.SaveRun(run); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(base, ".nativereplay", "runs", "run-123", "run.json"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(data), "\"previous_run_id\": null") {
		t.Fatalf("expected previous_run_id to be null; got: %s", string(data))
	}

	loaded, err := store.LoadRun("run-123")
	if err != nil {
		t.Fatalf("LoadRun: %v", err)
	}
	if loaded.RunID != run.RunID || loaded.TraceHash != run.TraceHash || loaded.TracePath != run.TracePath {
		t.Fatalf("loaded run mismatch: %+v", loaded)
	}
	if loaded.PreviousRunID != nil {
		t.Fatalf("expected PreviousRunID nil; got %v", *loaded.PreviousRunID)
	}
}

func TestStore_SaveRun_RejectsInvalid(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	err = store.SaveRun(Run{RunID: "r", StartTime: time.Unix(1, 0), Mode: "fast", Status: RunStatusRunning})
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"trace_hash is required", `invalid mode "fast"`} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q does not mention %q", err, want)
		}
	}
}

func TestStore_LoadRun_RejectsUnknownFields(t *testing.T) {
	base := t.TempDir()
	store, err := NewStore(base)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	dir := filepath.Join(base, ".nativereplay", "runs", "r1")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	body := `{"run_id":"r1","trace_hash":"h","trace_path":"","start_time":"2026-01-01T00:00:00Z","end_time":null,"mode":"lenient","status":"running","calls":0,"previous_run_id":null,"extra":1}`
	if err := os.WriteFile(filepath.Join(dir, "run.json"), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := store.LoadRun("r1"); err == nil || !strings.Contains(err.Error(), "unknown field") {
		t.Fatalf("expected unknown field error, got %v", err)
	}
}

func TestStore_LoadRun_RejectsTrailingContentAndMissingFile(t *testing.T) {
	base := t.TempDir()
	store, err := NewStore(base)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if _, err := store.LoadRun("absent"); !os.IsNotExist(err) {
		t.Fatalf("expected not-exist error, got %v", err)
	}

	dir := filepath.Join(base, ".nativereplay", "runs", "r1")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	body := `{"run_id":"r1","trace_hash":"h","trace_path":"","start_time":"2026-01-01T00:00:00Z","end_time":null,"mode":"lenient","status":"running","calls":0,"previous_run_id":null} {}`
	if err := os.WriteFile(filepath.Join(dir, "run.json"), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := store.LoadRun("r1"); err == nil || !strings.Contains(err.Error(), "trailing content") {
		t.Fatalf("expected trailing content error, got %v", err)
	}
}

func TestStore_SaveAndLoadFailure(t *testing.T) {
	base := t.TempDir()
	store, err := NewStore(base)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	f := Failure{
		FailureClass: FailureClassDivergence,
		ErrorCode:    "Divergence",
		ErrorMessage: "replay divergence: call #0 is to a different native function",
		Expected:     "rand",
		Actual:       "strlen",
		Reproducible: true,
	}
	if err := store.SaveFailure("run-9", f); err != nil {
		t.Fatalf("SaveFailure: %v", err)
	}
	loaded, err := store.LoadFailure("run-9")
	if err != nil {
		t.Fatalf("LoadFailure: %v", err)
	}
	if loaded != f {
		t.Fatalf("loaded failure mismatch: %+v", loaded)
	}
}

func TestStore_LatestRun(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	for i, id := range []string{"b", "a", "c"} {
		hash := "h1"
		if id == "c" {
			hash = "h2"
		}
		run := Run{RunID: id, TraceHash: hash, StartTime: time.Unix(int64(10+i), 0).UTC(), Mode: ModeLenient, Status: RunStatusSucceeded}
		if err := store.SaveRun(run); err != nil {
			t.Fatalf("SaveRun: %v", err)
		}
	}

	latest, ok, err := store.LatestRun("h1")
	if err != nil || !ok {
		t.Fatalf("LatestRun: %v %v", ok, err)
	}
	if latest.RunID != "a" {
		t.Fatalf("expected run a, got %s", latest.RunID)
	}
	if _, ok, _ := store.LatestRun("h3"); ok {
		t.Fatal("expected no run for unknown trace")
	}

	ids, err := store.ListRunIDs()
	if err != nil {
		t.Fatalf("ListRunIDs: %v", err)
	}
	if strings.Join(ids, ",") != "a,b,c" {
		t.Fatalf("unexpected ids %v", ids)
	}
}
