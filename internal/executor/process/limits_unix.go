//go:build unix

package process

import (
	"context"
	"fmt"
	"math"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// waitDelay bounds how long Wait keeps reading pipes after the child is
// killed, in case a grandchild inherited them.
const waitDelay = time.Second

// command wraps the interpreter in a POSIX shell that sets the rlimits and then
// execs the interpreter in place, so the limits are in force before the first
// line of user code runs. The child leads its own process group so a timeout
// kills everything it spawned.
func (r *Runner) command(ctx context.Context, path string) *exec.Cmd {
	var limits []string
	if secs := cpuSeconds(r.config.CPULimit); secs > 0 {
		limits = append(limits, fmt.Sprintf("ulimit -t %d", secs))
	}
	if r.config.MemoryLimitMB > 0 {
		limits = append(limits, fmt.Sprintf("ulimit -v %d", r.config.MemoryLimitMB*1024))
	}
	limits = append(limits, `exec "$0" "$@"`)

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", strings.Join(limits, " && "), r.config.Interpreter, path)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		// Negative pid addresses the whole group.
		return unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	}
	cmd.WaitDelay = waitDelay
	return cmd
}

// cpuSeconds rounds a CPU budget up to the whole seconds RLIMIT_CPU works in.
func cpuSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}

// exitStatus reports a signal death as the negated signal number, so a child
// killed by SIGKILL after blowing its CPU or memory budget reads as -9.
func exitStatus(err *exec.ExitError) int {
	if ws, ok := err.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return -int(ws.Signal())
	}
	return err.ExitCode()
}
