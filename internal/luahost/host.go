// Package luahost runs a captured Lua entry point against a replay session.
//
// Every native of the host file becomes a Lua global. Calling it begins the
// next recorded call, consumes its arguments by mode and returns the recorded
// result; "out" arguments come back as extra results after it. Async natives
// return a handle whose join method waits for the recorded completion.
//
// The captured files are the only filesystem the script sees: io, os,
// dofile and loadfile are removed and include(path) loads from the trace.
package luahost

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"strings"

	"github.com/Shopify/go-lua"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"nativereplay/internal/async"
	"nativereplay/internal/config"
	"nativereplay/internal/hook"
	"nativereplay/internal/logging"
	"nativereplay/internal/replay"
	"nativereplay/internal/replayerr"
	"nativereplay/internal/telemetry"
	"nativereplay/internal/value"
)

const (
	objectType   = "nativereplay.object"
	arrayType    = "nativereplay.array"
	resourceType = "nativereplay.resource"
	handleType   = "nativereplay.handle"
)

// ErrScript is returned by Run when the script failed on its own, without
// the replay diverging.
var ErrScript = errors.New("script error")

// Host binds one Lua state to one replay session.
type Host struct {
	l       *lua.State
	natives []config.Native
	log     *slog.Logger

	s     *replay.Session
	files fs.FS
	slot  hook.Slot
	ctx   context.Context
}

// Option configures a Host.
type Option func(*Host)

func WithLogger(l *slog.Logger) Option {
	return func(h *Host) { h.log = l }
}

// New prepares l for replay: standard libraries without io and os, value
// metatables and the native constructors. Natives are bound by Bind.
func New(l *lua.State, natives []config.Native, opts ...Option) *Host {
	h := &Host{l: l, natives: natives, ctx: context.Background()}
	for _, opt := range opts {
		opt(h)
	}
	h.log = logging.OrNop(h.log)

	lua.OpenLibraries(l)
	for _, name := range []string{"io", "os", "dofile", "loadfile"} {
		l.PushNil()
		l.SetGlobal(name)
	}
	h.registerTypes()
	l.Register("print", h.print)
	l.Register("include", h.include)
	return h
}

// SetGlobal installs v as a Lua global. Host satisfies replay.Globals.
func (h *Host) SetGlobal(name string, v value.Value) error {
	if name == "" {
		return errors.New("luahost: empty global name")
	}
	h.push(h.l, v)
	h.l.SetGlobal(name)
	return nil
}

// Slot is the request-init hook slot Run fires before the entry point.
// Tools attach debugger hooks through the session, not here.
func (h *Host) Slot() *hook.Slot { return &h.slot }

// Bind registers every native against s. Each must be in the session's
// registry.
func (h *Host) Bind(s *replay.Session) error {
	reg := s.Registry()
	for _, n := range h.natives {
		id, ok := reg.Lookup(n.Name)
		if !ok {
			return fmt.Errorf("luahost: native %q is not registered", n.Name)
		}
		h.l.Register(n.Name, h.native(n, id))
	}
	h.s = s
	h.files = s.Trace().FS()
	return nil
}

// Run fires request init, executes the trace's entry point and tears the
// session down. A divergence takes precedence over the script error it
// caused.
func (h *Host) Run(ctx context.Context) error {
	if h.s == nil {
		return errors.New("luahost: no session bound")
	}
	ctx, span := telemetry.Tracer().Start(ctx, "luahost.Run")
	defer span.End()
	h.ctx = ctx

	entry := h.s.Trace().EntryPoint()
	span.SetAttributes(attribute.String("luahost.entry_point", entry))

	h.s.RequestInit(&h.slot)
	if err := h.slot.RequestInit(ctx); err != nil {
		span.SetStatus(codes.Error, "request init")
		return fmt.Errorf("request init: %w", err)
	}

	src, err := h.readFile(entry)
	if err != nil {
		span.SetStatus(codes.Error, "entry point")
		return replayerr.Integrityf("entry point %s: %v", entry, err)
	}

	runErr := h.exec(entry, src)
	if err := h.s.Err(); err != nil {
		span.SetStatus(codes.Error, "divergence")
		return err
	}
	if runErr != nil {
		h.log.Error("script failed", "entry_point", entry, "error", runErr)
		if terr := h.s.Teardown(ctx); replayerr.IsDivergence(terr) {
			return terr
		}
		span.SetStatus(codes.Error, "script")
		return runErr
	}
	return h.s.Teardown(ctx)
}

func (h *Host) exec(name, src string) error {
	if err := lua.LoadBuffer(h.l, src, "@"+name, ""); err != nil {
		return fmt.Errorf("%w: load %s: %v", ErrScript, name, err)
	}
	if err := h.l.ProtectedCall(0, 0, 0); err != nil {
		return fmt.Errorf("%w: %v", ErrScript, err)
	}
	return nil
}

func (h *Host) readFile(path string) (string, error) {
	data, err := fs.ReadFile(h.files, strings.TrimPrefix(path, "/"))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// native builds the Lua function replaying calls to n.
func (h *Host) native(n config.Native, id uint64) lua.Function {
	return func(l *lua.State) int {
		call, err := h.s.Begin(h.ctx, id)
		if err != nil {
			return raise(l, err)
		}

		var outs []value.Value
		arg := 1
		for _, p := range n.Params {
			switch p {
			case config.ParamIn:
				v, cerr := toValue(l, arg)
				if cerr != nil {
					lua.ArgumentError(l, arg, cerr.Error())
					return 0
				}
				err = call.In(v)
				arg++
			case config.ParamRef:
				err = call.Ref(checkObject(l, arg))
				arg++
			case config.ParamOut:
				var v value.Value
				v, err = call.Out()
				outs = append(outs, v)
			}
			if err != nil {
				return raise(l, err)
			}
		}

		if n.Async {
			hd, err := call.Await()
			if err != nil {
				return raise(l, err)
			}
			l.PushUserData(hd)
			lua.SetMetaTableNamed(l, handleType)
		} else {
			v, err := call.Return()
			if err != nil {
				return raise(l, err)
			}
			h.push(l, v)
		}
		for _, v := range outs {
			h.push(l, v)
		}
		return 1 + len(outs)
	}
}

func (h *Host) join(l *lua.State) int {
	hd, _ := lua.CheckUserData(l, 1, handleType).(*async.Handle)
	if hd == nil {
		lua.ArgumentError(l, 1, "handle expected")
		return 0
	}
	v, err := hd.Wait(h.ctx)
	if err != nil {
		return raise(l, err)
	}
	h.push(l, v)
	return 1
}

func (h *Host) print(l *lua.State) int {
	var b strings.Builder
	for i, n := 1, l.Top(); i <= n; i++ {
		if i > 1 {
			b.WriteByte('\t')
		}
		v, err := toValue(l, i)
		if err != nil {
			b.WriteString("<unprintable>")
			continue
		}
		b.WriteString(display(v))
	}
	b.WriteByte('\n')
	if _, err := io.WriteString(h.s.Output(), b.String()); err != nil {
		lua.Errorf(l, "print: %s", err.Error())
	}
	return 0
}

func (h *Host) include(l *lua.State) int {
	path := lua.CheckString(l, 1)
	src, err := h.readFile(path)
	if err != nil {
		lua.Errorf(l, "include %s: not a captured file", path)
		return 0
	}
	top := l.Top()
	if err := lua.LoadBuffer(l, src, "@"+path, ""); err != nil {
		lua.Errorf(l, "include %s: %s", path, err.Error())
		return 0
	}
	l.Call(0, lua.MultipleReturns)
	return l.Top() - top
}

// raise turns err into a Lua error. Recorded exceptions can be caught with
// pcall; replay failures are already terminal in the session.
func raise(l *lua.State, err error) int {
	lua.Errorf(l, "%s", err.Error())
	return 0
}
