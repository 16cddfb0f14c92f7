// Package report holds the canonical record of what a replay session did.
//
// A Report is observational only; it never affects replay behavior. Events
// carry logical facts (call sequence numbers, function names, tickets, reason
// codes) and never timestamps or pointer-derived data, so two replays of the
// same trace produce byte-identical canonical JSON and the same hash.
package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// Report is the canonical replay record of one trace.
type Report struct {
	TraceHash string
	Events    []Event
}

// EventKind is the stable discriminator for Event. The string values are part
// of the canonical bytes; do not rename.
type EventKind string

const (
	EventCallReplayed    EventKind = "CallReplayed"
	EventAsyncDispatched EventKind = "AsyncDispatched"
	EventAsyncResolved   EventKind = "AsyncResolved"
	EventDivergence      EventKind = "Divergence"
)

// Event is a single logical replay step.
//
// Seq is the index of the native call the event belongs to, in call order.
// Async events resolve on worker goroutines, so arrival order is not
// meaningful; Canonicalize restores a total order.
type Event struct {
	Kind     EventKind
	Seq      int
	Function string

	// Ticket is set for async events only.
	Ticket uint64

	// Reason is a stable reason code, e.g. "Returned", "Threw", "FunctionMismatch".
	Reason string
}

// Stable reason codes.
const (
	ReasonReturned             = "Returned"
	ReasonThrew                = "Threw"
	ReasonFunctionMismatch     = "FunctionMismatch"
	ReasonTraceExhausted       = "TraceExhausted"
	ReasonTraceIntegrity       = "TraceIntegrity"
	ReasonArgumentMismatch     = "ArgumentMismatch"
	ReasonKindMismatch         = "KindMismatch"
	ReasonUnsupportedAwaitable = "UnsupportedAwaitable"
	ReasonNotDrained           = "NotDrained"
)

// Validate checks basic invariants.
func (r *Report) Validate() error {
	if r == nil {
		return errors.New("report is nil")
	}
	if r.TraceHash == "" {
		return errors.New("traceHash is required")
	}
	for i, e := range r.Events {
		if e.Kind == "" {
			return fmt.Errorf("events[%d].kind is required", i)
		}
		if e.Seq < 0 {
			return fmt.Errorf("events[%d].seq is negative", i)
		}
		if e.Kind != EventDivergence && e.Function == "" {
			return fmt.Errorf("events[%d].function is required for kind %q", i, e.Kind)
		}
	}
	return nil
}

func isAsync(k EventKind) bool {
	return k == EventAsyncDispatched || k == EventAsyncResolved
}

// Canonicalize sorts events by (seq, kindOrder, ticket, function, reason).
func (r *Report) Canonicalize() {
	if r == nil {
		return
	}
	sort.SliceStable(r.Events, func(i, j int) bool {
		a, b := r.Events[i], r.Events[j]
		if a.Seq != b.Seq {
			return a.Seq < b.Seq
		}
		if kindOrder(a.Kind) != kindOrder(b.Kind) {
			return kindOrder(a.Kind) < kindOrder(b.Kind)
		}
		if a.Ticket != b.Ticket {
			return a.Ticket < b.Ticket
		}
		if a.Function != b.Function {
			return a.Function < b.Function
		}
		return a.Reason < b.Reason
	})
}

func kindOrder(k EventKind) int {
	switch k {
	case EventCallReplayed:
		return 10
	case EventAsyncDispatched:
		return 20
	case EventAsyncResolved:
		return 30
	case EventDivergence:
		return 40
	default:
		return 1000
	}
}

// CanonicalJSON returns the canonical encoding without mutating r's slice.
func (r Report) CanonicalJSON() ([]byte, error) {
	cp := Report{TraceHash: r.TraceHash, Events: make([]Event, len(r.Events))}
	copy(cp.Events, r.Events)
	cp.Canonicalize()
	if err := cp.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(&cp)
}

// Hash returns the sha256 hex of the canonical JSON.
func (r Report) Hash() (string, error) {
	b, err := r.CanonicalJSON()
	if err != nil {
		return "", err
	}
	return ComputeHash(b), nil
}

// MarshalJSON fixes field order.
func (r Report) MarshalJSON() ([]byte, error) {
	if r.TraceHash == "" {
		return nil, errors.New("traceHash is required")
	}
	var buf bytes.Buffer
	buf.WriteString(`{"traceHash":`)
	th, _ := json.Marshal(r.TraceHash)
	buf.Write(th)
	buf.WriteString(`,"events":[`)
	for i := range r.Events {
		if i > 0 {
			buf.WriteByte(',')
		}
		eb, err := json.Marshal(r.Events[i])
		if err != nil {
			return nil, err
		}
		buf.Write(eb)
	}
	buf.WriteString("]}")
	return buf.Bytes(), nil
}

// MarshalJSON fixes field order and omits empty optional fields.
func (e Event) MarshalJSON() ([]byte, error) {
	if e.Kind == "" {
		return nil, errors.New("kind is required")
	}
	var buf bytes.Buffer
	buf.WriteString(`{"kind":`)
	kb, _ := json.Marshal(string(e.Kind))
	buf.Write(kb)

	fmt.Fprintf(&buf, `,"seq":%d`, e.Seq)

	if e.Function != "" {
		buf.WriteString(`,"function":`)
		fb, _ := json.Marshal(e.Function)
		buf.Write(fb)
	}
	if isAsync(e.Kind) {
		fmt.Fprintf(&buf, `,"ticket":%d`, e.Ticket)
	}
	if e.Reason != "" {
		buf.WriteString(`,"reason":`)
		rb, _ := json.Marshal(e.Reason)
		buf.Write(rb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
