package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sakif/laph/internal/executor"
)

func execCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "exec FILE",
		Short: "Run a program once in the sandbox",
		Long: `Run FILE ("-" for stdin) under the configured sandbox limits.

The program's stdout and stderr are passed through and laph exits with the
program's status. A sandbox failure (timeout, spawn error) exits with 124.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := readSource(args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}

			a, err := setup(*flags, false)
			if err != nil {
				return err
			}
			defer a.Close()

			exec, err := a.executor()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			res := exec.Execute(ctx, executor.ExecutionRequest{Code: code})
			fmt.Fprint(cmd.OutOrStdout(), res.Stdout)
			fmt.Fprint(cmd.ErrOrStderr(), res.Stderr)
			dimStyle.Fprintf(cmd.ErrOrStderr(), "\n(%s)\n", res.Duration)

			return exitFor(ctx, res)
		},
	}
}

// exitFor maps an execution result onto a process exit status.
func exitFor(ctx context.Context, res executor.ExecutionResult) error {
	switch {
	case res.ExitCode == 0:
		return nil
	case ctx.Err() != nil:
		return &exitError{code: 130}
	case res.ExitCode == executor.ExitInfrastructure:
		return &exitError{code: 124}
	case res.ExitCode < 0:
		// Killed by a signal: the shell convention.
		return &exitError{code: 128 - res.ExitCode}
	default:
		return &exitError{code: res.ExitCode}
	}
}

// readSource reads path, or stdin when path is "-".
func readSource(path string, stdin io.Reader) (string, error) {
	var (
		b   []byte
		err error
	)
	if path == "-" {
		b, err = io.ReadAll(stdin)
	} else {
		b, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	return string(b), nil
}
