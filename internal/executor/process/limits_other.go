//go:build !unix

package process

import (
	"context"
	"log/slog"
	"os/exec"
	"time"
)

const waitDelay = time.Second

// command runs the interpreter directly. This platform has no rlimit
// equivalent wired in yet, so only the wall-clock ceiling applies.
// TODO: assign the child to a Windows job object with CPU and memory quotas.
func (r *Runner) command(ctx context.Context, path string) *exec.Cmd {
	r.warnOnce.Do(func() {
		r.logger.Warn("CPU and memory limits are not enforced on this platform; only the wall-clock timeout applies",
			slog.Duration("timeout", r.config.Timeout),
		)
	})

	cmd := exec.CommandContext(ctx, r.config.Interpreter, path)
	cmd.WaitDelay = waitDelay
	return cmd
}

func exitStatus(err *exec.ExitError) int {
	return err.ExitCode()
}
