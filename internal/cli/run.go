package cli

import (
	"context"
	"io"
)

// Run is a high-level CLI entrypoint suitable for black-box tests.
// It accepts the argument slice (excluding argv[0]) and returns the semantic
// exit code plus any error.
func Run(ctx context.Context, args []string, stdout, stderr io.Writer) (CLIResult, error) {
	return run(ctx, args, Env{Stdout: stdout, Stderr: stderr}, luaReplayer{})
}

func run(ctx context.Context, args []string, env Env, replayer Replayer) (CLIResult, error) {
	if env.Stdout == nil {
		env.Stdout = io.Discard
	}
	if env.Stderr == nil {
		env.Stderr = io.Discard
	}
	a := &app{env: env, replayer: replayer}
	err := a.execute(ctx, args)
	res := a.result
	res.ExitCode = ExitCode(err)
	return res, err
}
