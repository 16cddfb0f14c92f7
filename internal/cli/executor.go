package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/Shopify/go-lua"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"nativereplay/internal/archive"
	"nativereplay/internal/config"
	"nativereplay/internal/logging"
	"nativereplay/internal/luahost"
	"nativereplay/internal/replay"
	"nativereplay/internal/report"
	"nativereplay/internal/state"
	"nativereplay/internal/telemetry"
	"nativereplay/internal/trace"
)

// Env is the process surroundings a command runs in.
type Env struct {
	Stdout io.Writer
	Stderr io.Writer
}

type CLIResult struct {
	ExitCode int
	RunID    string
	Report   *report.Report
}

// Replayer runs one bound session to completion. The default runs the
// trace's Lua entry point; tests substitute it to prove exit-code mapping.
type Replayer interface {
	Replay(ctx context.Context, h *luahost.Host) error
}

type luaReplayer struct{}

func (luaReplayer) Replay(ctx context.Context, h *luahost.Host) error {
	return h.Run(ctx)
}

// ExecuteRun replays inv with the default replayer.
func ExecuteRun(ctx context.Context, inv RunInvocation, env Env) (CLIResult, error) {
	return ExecuteRunWithReplayer(ctx, inv, env, luaReplayer{})
}

// ExecuteRunWithReplayer maps a canonical RunInvocation to a replay.
//
// Responsibilities:
//   - Load configuration and the host file; failures are config errors.
//   - Record run.json before loading the trace and failure.json on any
//     failure, including panics.
//   - Write the report and metrics dump even when the replay diverged.
//   - Translate the outcome to a semantic exit code.
func ExecuteRunWithReplayer(ctx context.Context, inv RunInvocation, env Env, replayer Replayer) (res CLIResult, execErr error) {
	res.ExitCode = ExitInternalError
	if replayer == nil {
		return res, fmt.Errorf("nil replayer")
	}
	if err := inv.Validate(); err != nil {
		res.ExitCode = ExitCode(err)
		return res, err
	}

	cfg, err := config.Load()
	if err != nil {
		err = asConfigError(err)
		res.ExitCode = ExitCode(err)
		return res, err
	}
	if inv.StateDir != "" {
		cfg.StateDir = inv.StateDir
	}
	log := logging.New(cfg.Logging(env.Stderr))

	ctx, span := telemetry.Tracer().Start(ctx, "cli.run")
	defer span.End()

	hf, err := config.LoadHostFile(inv.HostPath)
	if err != nil {
		err = asConfigError(err)
		res.ExitCode = ExitCode(err)
		return res, err
	}

	data, source, err := readTrace(ctx, cfg, inv)
	if err != nil {
		res.ExitCode = ExitCode(err)
		return res, err
	}

	st, err := state.NewStore(cfg.StateDir)
	if err != nil {
		err = asConfigError(err)
		res.ExitCode = ExitCode(err)
		return res, err
	}
	rec := &state.FailureRecorder{Store: st}
	mode := state.ModeLenient
	if cfg.StrictMutation {
		mode = state.ModeStrict
	}
	run, err := rec.StartRun(state.Run{TraceHash: trace.Hash(data), TracePath: source, Mode: mode})
	if err != nil {
		err = asConfigError(fmt.Errorf("record run: %w", err))
		res.ExitCode = ExitCode(err)
		return res, err
	}
	res.RunID = run.RunID
	log = log.With("run_id", run.RunID)
	span.SetAttributes(attribute.String("cli.run_id", run.RunID))

	calls := 0
	defer func() {
		if r := recover(); r != nil {
			execErr = fmt.Errorf("panic: %v", r)
			res.ExitCode = ExitInternalError
		}
		if _, ferr := rec.FinishRun(run, calls, execErr); ferr != nil {
			log.Error("record run outcome", "error", ferr)
		}
		if execErr != nil {
			span.SetStatus(codes.Error, execErr.Error())
		}
	}()

	reg := hf.Registry()
	opts := []trace.Option{trace.WithLogger(log)}
	if cfg.CompilerID != "" {
		opts = append(opts, trace.WithCompilerID(cfg.CompilerID))
	}
	if cfg.StrictFunctionIDs {
		opts = append(opts, trace.WithStrictFunctionIDs())
	}
	t, err := trace.Parse(data, reg, opts...)
	if err != nil {
		res.ExitCode = ExitCode(err)
		return res, err
	}

	metrics := telemetry.NewMetrics()
	events := report.NewRecorder()
	h := luahost.New(lua.NewState(), hf.Natives, luahost.WithLogger(log))
	s := replay.New(t, reg, replay.Config{
		Logger:         log,
		Metrics:        metrics,
		Sink:           events,
		Output:         env.Stdout,
		Globals:        h,
		EnvGlobal:      hf.Global,
		StallTimeout:   cfg.StallTimeout,
		StrictMutation: cfg.StrictMutation,
	})
	if err := h.Bind(s); err != nil {
		err = asConfigError(err)
		res.ExitCode = ExitCode(err)
		return res, err
	}

	replayErr := replayer.Replay(ctx, h)
	calls = len(t.Calls) - s.Remaining()

	r := events.Report(t.Hash)
	res.Report = &r
	if err := writeOutputs(inv, r, metrics); err != nil {
		log.Error("write replay outputs", "error", err)
		if replayErr == nil {
			res.ExitCode = ExitInternalError
			return res, err
		}
	}

	res.ExitCode = ExitCode(replayErr)
	return res, replayErr
}

func readTrace(ctx context.Context, cfg config.Config, inv RunInvocation) (data []byte, source string, err error) {
	if !inv.FromArchive {
		data, err = os.ReadFile(inv.Trace)
		if err != nil {
			return nil, "", asConfigError(fmt.Errorf("read trace: %w", err))
		}
		return data, inv.Trace, nil
	}

	a, err := archive.Open(archive.DefaultConfig(cfg.ArchivePath()))
	if err != nil {
		return nil, "", asConfigError(err)
	}
	defer a.Close()
	hash, err := a.Resolve(ctx, inv.Trace)
	if err != nil {
		return nil, "", invalidInvocationf("%v", err)
	}
	data, err = a.Get(ctx, hash)
	if err != nil {
		return nil, "", err
	}
	return data, "archive:" + hash, nil
}

func writeOutputs(inv RunInvocation, r report.Report, metrics *telemetry.Metrics) error {
	if inv.ReportPath != "" {
		b, err := r.CanonicalJSON()
		if err != nil {
			return fmt.Errorf("encode report: %w", err)
		}
		if err := os.WriteFile(inv.ReportPath, b, 0o644); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
	}
	if inv.MetricsFile != "" {
		if err := metrics.WriteFile(inv.MetricsFile); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
	}
	return nil
}

func newLogger(env Env) (config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, asConfigError(err)
	}
	return cfg, logging.New(cfg.Logging(env.Stderr)), nil
}
