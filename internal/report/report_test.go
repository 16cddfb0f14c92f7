package report

import (
	"bytes"
	"sync"
	"testing"
)

func TestCanonicalReportStability_ByteForByte(t *testing.T) {
	r1 := Report{
		TraceHash: "trace-abc",
		Events: []Event{
			{Kind: EventAsyncResolved, Seq: 1, Function: "fetch", Ticket: 0, Reason: ReasonReturned},
			{Kind: EventCallReplayed, Seq: 0, Function: "time"},
			{Kind: EventAsyncDispatched, Seq: 1, Function: "fetch", Ticket: 0},
		},
	}
	r2 := Report{
		TraceHash: "trace-abc",
		Events: []Event{
			{Kind: EventCallReplayed, Seq: 0, Function: "time"},
			{Kind: EventAsyncDispatched, Seq: 1, Function: "fetch", Ticket: 0},
			{Kind: EventAsyncResolved, Seq: 1, Function: "fetch", Ticket: 0, Reason: ReasonReturned},
		},
	}

	b1, err := r1.CanonicalJSON()
	if err != nil {
		t.Fatalf("canonical json (1): %v", err)
	}
	b2, err := r2.CanonicalJSON()
	if err != nil {
		t.Fatalf("canonical json (2): %v", err)
	}
	if !bytes.Equal(b1, b2) {
		t.Fatalf("expected identical bytes\n1=%s\n2=%s", b1, b2)
	}
}

func TestCanonicalJSON_FieldOrder(t *testing.T) {
	r := Report{
		TraceHash: "h",
		Events: []Event{
			{Kind: EventAsyncDispatched, Seq: 1, Function: "sleep", Ticket: 0},
			{Kind: EventCallReplayed, Seq: 0, Function: "rand", Reason: ReasonReturned},
			{Kind: EventDivergence, Seq: 2, Reason: ReasonFunctionMismatch},
		},
	}
	b, err := r.CanonicalJSON()
	if err != nil {
		t.Fatalf("canonical json: %v", err)
	}
	expected := `{"traceHash":"h","events":[` +
		`{"kind":"CallReplayed","seq":0,"function":"rand","reason":"Returned"},` +
		`{"kind":"AsyncDispatched","seq":1,"function":"sleep","ticket":0},` +
		`{"kind":"Divergence","seq":2,"reason":"FunctionMismatch"}]}`
	if string(b) != expected {
		t.Fatalf("unexpected canonical bytes\nexpected=%s\nactual  =%s", expected, b)
	}
}

func TestValidate_RequiresFunctionForNonDivergence(t *testing.T) {
	r := Report{TraceHash: "h", Events: []Event{{Kind: EventCallReplayed, Seq: 0}}}
	if _, err := r.CanonicalJSON(); err == nil {
		t.Fatalf("expected validation error")
	}
	if _, err := (Report{}).Hash(); err == nil {
		t.Fatalf("expected error for missing trace hash")
	}
}

func TestRecorder_ConcurrentRecordIsCanonical(t *testing.T) {
	rec := NewRecorder()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec.Record(Event{Kind: EventAsyncResolved, Seq: i, Function: "f", Ticket: uint64(i)})
		}(i)
	}
	wg.Wait()

	rep := rec.Report("h")
	for i, e := range rep.Events {
		if e.Seq != i {
			t.Fatalf("events[%d].seq = %d", i, e.Seq)
		}
	}
	h1, err := rep.Hash()
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	h2, _ := rec.Report("h").Hash()
	if h1 != h2 {
		t.Fatalf("hash not deterministic: %q != %q", h1, h2)
	}
}

type panicSink struct{}

func (panicSink) Record(Event) { panic("boom") }

func TestSafeRecord_SwallowsPanics(t *testing.T) {
	SafeRecord(panicSink{}, Event{Kind: EventCallReplayed})
	SafeRecord(nil, Event{Kind: EventCallReplayed})
	NopSink{}.Record(Event{})
}

func TestComputeHash_Empty(t *testing.T) {
	if got := ComputeHash(nil); got != "" {
		t.Fatalf("expected empty hash, got %q", got)
	}
}
