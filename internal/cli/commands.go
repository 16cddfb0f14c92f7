package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"nativereplay/internal/archive"
	"nativereplay/internal/async"
	"nativereplay/internal/replay"
	"nativereplay/internal/trace"
	"nativereplay/internal/value"
)

// app carries what every command needs. started is set when a command's RunE
// is entered; cobra has validated arguments and flags by then, so earlier
// errors map to invalid invocation.
type app struct {
	env      Env
	replayer Replayer
	started  bool
	result   CLIResult
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "nativereplay",
		Short:         "Replay recorded native calls deterministically",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(a.env.Stdout)
	root.SetErr(a.env.Stderr)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return invalidInvocationf("%v", err)
	})
	root.AddCommand(newInspectCommand(a), newRunCommand(a), newArchiveCommand(a))
	a.markStarted(root)
	return root
}

func (a *app) markStarted(cmd *cobra.Command) {
	if run := cmd.RunE; run != nil {
		cmd.RunE = func(cmd *cobra.Command, args []string) error {
			a.started = true
			return run(cmd, args)
		}
	}
	for _, c := range cmd.Commands() {
		a.markStarted(c)
	}
}

func newRunCommand(a *app) *cobra.Command {
	var inv RunInvocation
	cmd := &cobra.Command{
		Use:   "run <trace>",
		Short: "Replay a trace through the Lua host",
		Long: `Replay a trace through the Lua host.

Exit codes:
  0  replay matched the recording
  1  replay diverged
  2  invalid invocation
  3  trace, host file or configuration could not be loaded
  4  internal error`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inv.Trace = args[0]
			res, err := ExecuteRunWithReplayer(cmd.Context(), inv, a.env, a.replayer)
			a.result = res
			return err
		},
	}
	f := cmd.Flags()
	f.StringVar(&inv.HostPath, "host", "", "host file listing the native functions (YAML)")
	f.StringVar(&inv.ReportPath, "report", "", "write the canonical replay report to this file")
	f.StringVar(&inv.MetricsFile, "metrics-file", "", "write Prometheus metrics to this file")
	f.StringVar(&inv.StateDir, "state-dir", "", "directory holding .nativereplay run records")
	f.BoolVar(&inv.FromArchive, "from-archive", false, "treat <trace> as an archived hash prefix")
	_ = cmd.MarkFlagRequired("host")
	return cmd
}

// summary is the inspect output.
type summary struct {
	Hash        string         `json:"hash"`
	EntryPoint  string         `json:"entry_point"`
	CompilerID  string         `json:"compiler_id"`
	Calls       int            `json:"calls"`
	AsyncEvents int            `json:"async_events"`
	Files       []string       `json:"files"`
	Functions   map[string]int `json:"functions"`
	AsyncKinds  map[string]int `json:"async_kinds,omitempty"`
	Env         []string       `json:"env"`
}

func newInspectCommand(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "inspect <trace>",
		Short: "Validate a trace and summarize its contents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, _, err := newLogger(a.env); err != nil {
				return err
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return asConfigError(fmt.Errorf("read trace: %w", err))
			}
			reg := openRegistry{replay.NewRegistry()}
			t, err := trace.Parse(data, reg)
			if err != nil {
				return err
			}
			s := summarize(t, reg.Registry)
			if asJSON {
				enc := json.NewEncoder(a.env.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(s)
			}
			return printSummary(a.env.Stdout, s)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the summary as JSON")
	return cmd
}

// openRegistry accepts every function name, so any well-formed trace can be
// inspected without a host file.
type openRegistry struct {
	*replay.Registry
}

func (r openRegistry) Lookup(name string) (uint64, bool) {
	return r.Register(name), true
}

func summarize(t *trace.Trace, reg *replay.Registry) summary {
	s := summary{
		Hash:        t.Hash,
		EntryPoint:  t.EntryPoint(),
		CompilerID:  t.Header.CompilerID,
		Calls:       len(t.Calls),
		AsyncEvents: len(t.EventOrder),
		Functions:   map[string]int{},
	}
	for p := range t.Files {
		s.Files = append(s.Files, p)
	}
	sort.Strings(s.Files)
	for _, c := range t.Calls {
		s.Functions[reg.Name(c.FuncID)]++
		if c.AsyncKind != 0 {
			if s.AsyncKinds == nil {
				s.AsyncKinds = map[string]int{}
			}
			name := fmt.Sprintf("unknown(%d)", c.AsyncKind)
			if k, ok := async.KindOfTag(c.AsyncKind); ok {
				name = k.String()
			}
			s.AsyncKinds[name]++
		}
	}
	for _, e := range t.GlobalEnv().Entries() {
		if k, ok := e.Key.(value.String); ok {
			s.Env = append(s.Env, string(k))
		} else {
			s.Env = append(s.Env, value.Format(e.Key))
		}
	}
	return s
}

func printSummary(w io.Writer, s summary) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "hash\t%s\n", s.Hash)
	fmt.Fprintf(tw, "entry point\t%s\n", s.EntryPoint)
	if s.CompilerID != "" {
		fmt.Fprintf(tw, "compiler id\t%s\n", s.CompilerID)
	}
	fmt.Fprintf(tw, "calls\t%d\n", s.Calls)
	fmt.Fprintf(tw, "async events\t%d\n", s.AsyncEvents)
	fmt.Fprintf(tw, "files\t%s\n", strings.Join(s.Files, ", "))

	names := make([]string, 0, len(s.Functions))
	for n := range s.Functions {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		fmt.Fprintf(tw, "  %s\t%d\n", n, s.Functions[n])
	}
	return tw.Flush()
}

func newArchiveCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Store and retrieve traces by content hash",
	}

	add := &cobra.Command{
		Use:   "add <trace>...",
		Short: "Add trace files to the archive",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withArchive(func(ar *archive.Archive) error {
				for _, path := range args {
					data, err := os.ReadFile(path)
					if err != nil {
						return asConfigError(fmt.Errorf("read trace: %w", err))
					}
					e, err := ar.Put(cmd.Context(), data, path)
					if err != nil {
						return err
					}
					fmt.Fprintf(a.env.Stdout, "%s\t%s\n", e.Hash, path)
				}
				return nil
			})
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List archived traces",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withArchive(func(ar *archive.Archive) error {
				entries, err := ar.List(cmd.Context())
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(a.env.Stdout, 0, 4, 2, ' ', 0)
				for _, e := range entries {
					fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", e.Hash, e.Size, e.AddedAt.Format(time.RFC3339), e.Source)
				}
				return tw.Flush()
			})
		},
	}

	var out string
	get := &cobra.Command{
		Use:   "get <hash-prefix>",
		Short: "Write an archived trace to stdout or a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withArchive(func(ar *archive.Archive) error {
				hash, err := ar.Resolve(cmd.Context(), args[0])
				if err != nil {
					return invalidInvocationf("%v", err)
				}
				data, err := ar.Get(cmd.Context(), hash)
				if err != nil {
					return err
				}
				if out == "" {
					_, err = a.env.Stdout.Write(data)
					return err
				}
				return os.WriteFile(out, data, 0o644)
			})
		},
	}
	get.Flags().StringVarP(&out, "output", "o", "", "write to this file instead of stdout")

	cmd.AddCommand(add, list, get)
	return cmd
}

func (a *app) withArchive(fn func(*archive.Archive) error) error {
	cfg, log, err := newLogger(a.env)
	if err != nil {
		return err
	}
	ar, err := archive.Open(archive.Config{Path: cfg.ArchivePath(), SyncWrites: true, Logger: log})
	if err != nil {
		return asConfigError(err)
	}
	defer func() {
		if err := ar.Close(); err != nil {
			log.Error("close archive", "error", err)
		}
	}()
	return fn(ar)
}

// execute runs the command tree on args.
func (a *app) execute(ctx context.Context, args []string) error {
	root := newRootCommand(a)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err != nil && !a.started {
		if ExitCode(err) == ExitInternalError {
			err = invalidInvocationf("%v", err)
		}
	}
	return err
}
