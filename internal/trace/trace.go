// Package trace loads a captured execution into memory.
//
// A trace file is one CBOR map with the keys header, eventOrder, files,
// functionIds and calls. Function ids in the file are the ids of the recording
// build; Parse rewrites them to the ids of the replaying build, so everything
// downstream works with replay-time ids only.
package trace

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sort"
	"strings"
	"testing/fstest"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"nativereplay/internal/codec"
	"nativereplay/internal/logging"
	"nativereplay/internal/replayerr"
	"nativereplay/internal/value"
)

var tracer = otel.Tracer("nativereplay/trace")

// Registry resolves native function names to the replaying build's ids.
type Registry interface {
	Lookup(name string) (id uint64, ok bool)
}

// Header is the capture metadata.
type Header struct {
	CompilerID string
	GlobalEnv  value.Array
	EntryPoint string
}

// NativeCall is one recorded native invocation. FuncID is the replay-time id.
// AsyncKind 0 means synchronous; otherwise it is the awaitable kind plus one.
type NativeCall struct {
	FuncID    uint64
	Stdout    []string
	Args      []codec.Encoded
	Return    codec.Encoded
	Exception codec.Encoded
	AsyncKind uint64
}

// Trace is a loaded capture. It is read-only after Parse returns.
type Trace struct {
	Header      Header
	Files       map[string]string
	EventOrder  []uint64
	FunctionIDs map[string]uint64
	Calls       []NativeCall

	// Hash is the sha256 of the raw file bytes.
	Hash string
}

// EntryPoint is the path of the script the recorded request started in.
func (t *Trace) EntryPoint() string { return t.Header.EntryPoint }

// GlobalEnv is the captured server global environment.
func (t *Trace) GlobalEnv() value.Array { return t.Header.GlobalEnv }

// File returns captured contents for path instead of touching the filesystem.
func (t *Trace) File(path string) (string, bool) {
	s, ok := t.Files[path]
	return s, ok
}

// FS exposes the captured files as a read-only filesystem. Absolute recorded
// paths lose their leading slash, as fs.FS paths are unrooted.
func (t *Trace) FS() fs.FS {
	m := make(fstest.MapFS, len(t.Files))
	for p, contents := range t.Files {
		m[strings.TrimPrefix(p, "/")] = &fstest.MapFile{Data: []byte(contents), Mode: 0o444}
	}
	return m
}

type options struct {
	logger            *slog.Logger
	compilerID        string
	strictFunctionIDs bool
}

// Option configures Load and Parse.
type Option func(*options)

// WithLogger sets the logger used for load diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithCompilerID rejects traces recorded by a different build.
func WithCompilerID(id string) Option {
	return func(o *options) { o.compilerID = id }
}

// WithStrictFunctionIDs rejects traces naming a function the replaying build
// does not register, even if no recorded call uses it.
func WithStrictFunctionIDs() Option {
	return func(o *options) { o.strictFunctionIDs = true }
}

// Load reads path fully and parses it. All failures are integrity errors.
func Load(ctx context.Context, path string, reg Registry, opts ...Option) (*Trace, error) {
	_, span := tracer.Start(ctx, "trace.Load")
	defer span.End()
	span.SetAttributes(attribute.String("trace.path", path))

	data, err := os.ReadFile(path)
	if err != nil {
		span.SetStatus(codes.Error, "read failed")
		return nil, &replayerr.Error{Kind: replayerr.ErrTraceIntegrity, Msg: fmt.Sprintf("read %s: %v", path, err)}
	}
	t, err := Parse(data, reg, opts...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "parse failed")
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("trace.calls", len(t.Calls)),
		attribute.Int("trace.events", len(t.EventOrder)),
		attribute.String("trace.hash", t.Hash),
	)
	return t, nil
}

// Parse decodes and validates a trace container and remaps function ids.
func Parse(data []byte, reg Registry, opts ...Option) (*Trace, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	log := logging.OrNop(o.logger)

	if len(data) == 0 {
		return nil, replayerr.Integrityf("empty trace")
	}
	var c container
	if err := codec.Unmarshal(data, &c); err != nil {
		return nil, replayerr.Integrityf("malformed container: %v", err)
	}
	if c.Header.EntryPoint == "" {
		return nil, replayerr.Integrityf("header.entryPoint is required")
	}
	if o.compilerID != "" && c.Header.CompilerID != o.compilerID {
		return nil, &replayerr.Error{
			Kind:     replayerr.ErrTraceIntegrity,
			Msg:      "trace recorded by a different build",
			Expected: o.compilerID,
			Actual:   c.Header.CompilerID,
		}
	}

	env := value.NewDict()
	if !c.Header.GlobalEnv.Empty() {
		var err error
		if env, err = codec.DecodeArray(c.Header.GlobalEnv); err != nil {
			return nil, replayerr.Integrityf("header.globalEnv: %v", err)
		}
	}

	if err := validateEventOrder(c.EventOrder); err != nil {
		return nil, err
	}

	remap, err := remapIDs(c.FunctionIDs, c.Calls, reg, o.strictFunctionIDs, log)
	if err != nil {
		return nil, err
	}

	t := &Trace{
		Header:      Header{CompilerID: c.Header.CompilerID, GlobalEnv: env, EntryPoint: c.Header.EntryPoint},
		Files:       c.Files,
		EventOrder:  c.EventOrder,
		FunctionIDs: c.FunctionIDs,
		Calls:       make([]NativeCall, len(c.Calls)),
		Hash:        Hash(data),
	}
	if t.Files == nil {
		t.Files = map[string]string{}
	}
	for i, wc := range c.Calls {
		if wc.Return.Empty() && wc.Exception.Empty() {
			return nil, replayerr.Integrityf("calls[%d] has neither return nor exception", i)
		}
		t.Calls[i] = NativeCall{
			FuncID:    remap[wc.FuncID],
			Stdout:    wc.Stdout,
			Args:      wc.Args,
			Return:    wc.Return,
			Exception: wc.Exception,
			AsyncKind: wc.AsyncKind,
		}
	}

	log.Info("trace loaded",
		"entry_point", t.Header.EntryPoint,
		"calls", len(t.Calls),
		"async_events", len(t.EventOrder),
		"files", len(t.Files),
		"hash", t.Hash,
	)
	return t, nil
}

// remapIDs maps each record-time id used by a call to the replaying build's id.
func remapIDs(functionIDs map[string]uint64, calls []wireCall, reg Registry, strict bool, log *slog.Logger) (map[uint64]uint64, error) {
	names := make(map[uint64]string, len(functionIDs))
	for name, id := range functionIDs {
		if other, dup := names[id]; dup {
			return nil, replayerr.Integrityf("functionIds %q and %q share id %d", other, name, id)
		}
		names[id] = name
	}

	remap := make(map[uint64]uint64)
	for i, c := range calls {
		if _, done := remap[c.FuncID]; done {
			continue
		}
		name, ok := names[c.FuncID]
		if !ok {
			return nil, replayerr.Integrityf("calls[%d] references unknown function id %d", i, c.FuncID)
		}
		if reg == nil {
			return nil, replayerr.Integrityf("native function %q is not registered", name)
		}
		id, ok := reg.Lookup(name)
		if !ok {
			return nil, replayerr.Integrityf("native function %q is not registered", name)
		}
		remap[c.FuncID] = id
	}

	var unused []string
	for id, name := range names {
		if _, used := remap[id]; !used {
			unused = append(unused, name)
		}
	}
	if len(unused) > 0 {
		sort.Strings(unused)
		if strict {
			for _, name := range unused {
				if reg == nil {
					return nil, replayerr.Integrityf("native function %q is not registered", name)
				}
				if _, ok := reg.Lookup(name); !ok {
					return nil, replayerr.Integrityf("native function %q is not registered", name)
				}
			}
		}
		log.Debug("trace names functions it never calls", "functions", unused)
	}
	return remap, nil
}

// validateEventOrder requires the tickets to be a permutation of 0..n-1; any
// gap would stall the completion barrier forever.
func validateEventOrder(order []uint64) error {
	seen := make([]bool, len(order))
	for i, t := range order {
		if t >= uint64(len(order)) {
			return replayerr.Integrityf("eventOrder[%d] = %d out of range", i, t)
		}
		if seen[t] {
			return replayerr.Integrityf("eventOrder[%d] repeats ticket %d", i, t)
		}
		seen[t] = true
	}
	return nil
}
