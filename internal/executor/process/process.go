// Package process runs generated programs as local child processes.
//
// LIMITS:
// Three ceilings apply to every run. CPU time and address space are enforced
// by the operating system inside the child, so a tight allocation loop dies
// even while the wall clock still has time left. The wall-clock ceiling is
// enforced here, in the parent, and catches what the OS limits cannot: a
// program blocked on I/O or sleeping forever.
//
// How the OS limits get applied is platform specific (limits_unix.go,
// limits_other.go). The wall-clock ceiling works the same everywhere.
package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/sakif/laph/internal/executor"
	"github.com/sakif/laph/internal/observability"
)

// Runner implements executor.Executor with local subprocesses.
// It holds no per-call state and is safe for concurrent use.
type Runner struct {
	config   Config
	logger   *slog.Logger
	warnOnce sync.Once
}

var _ executor.Executor = (*Runner)(nil)

// New creates a Runner with the given limits.
func New(cfg Config, logger *slog.Logger) *Runner {
	if cfg.Interpreter == "" {
		cfg.Interpreter = DefaultConfig().Interpreter
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	return &Runner{config: cfg, logger: logger}
}

// Config returns the limits this Runner enforces.
func (r *Runner) Config() Config {
	return r.config
}

// Execute writes req.Code to a fresh temporary file, runs it under the
// configured limits, and removes the file again on every path.
func (r *Runner) Execute(ctx context.Context, req executor.ExecutionRequest) executor.ExecutionResult {
	start := time.Now()

	path, err := r.writeSource(req.Code)
	if err != nil {
		r.logger.Error("failed to materialise source", slog.String("error", err.Error()))
		return r.observe(executor.Failure(err.Error(), time.Since(start)))
	}
	defer r.removeSource(path)

	runCtx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	cmd := r.command(runCtx, path)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.logger.Debug("executing program",
		slog.String("interpreter", r.config.Interpreter),
		slog.String("path", path),
	)

	runErr := cmd.Run()
	duration := time.Since(start)

	// The parent's deadline takes precedence over whatever the kill produced.
	if ctx.Err() == nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		r.logger.Warn("program exceeded wall-clock limit", slog.Duration("timeout", r.config.Timeout))
		return r.observe(executor.Failure(
			fmt.Sprintf("Code execution timed out after %s", r.config.Timeout), duration))
	}
	if ctx.Err() != nil {
		return r.observe(executor.Failure(fmt.Sprintf("execution cancelled: %v", ctx.Err()), duration))
	}

	exitCode := 0
	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			r.logger.Error("failed to run program", slog.String("error", runErr.Error()))
			return r.observe(executor.Failure(runErr.Error(), duration))
		}
		exitCode = exitStatus(exitErr)
	}

	return r.observe(executor.ExecutionResult{
		Stdout:   decode(stdout.Bytes()),
		Stderr:   decode(stderr.Bytes()),
		ExitCode: exitCode,
		Duration: duration,
	})
}

func (r *Runner) writeSource(code string) (string, error) {
	f, err := os.CreateTemp(r.config.TempDir, "laph-*.py")
	if err != nil {
		return "", fmt.Errorf("process: creating source file: %w", err)
	}
	path := f.Name()

	if _, err := f.WriteString(code); err != nil {
		f.Close()
		r.removeSource(path)
		return "", fmt.Errorf("process: writing source file: %w", err)
	}
	if err := f.Close(); err != nil {
		r.removeSource(path)
		return "", fmt.Errorf("process: closing source file: %w", err)
	}
	return path, nil
}

// removeSource is best effort: a failure is logged and otherwise ignored.
func (r *Runner) removeSource(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		r.logger.Debug("failed to remove source file",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
	}
}

func (r *Runner) observe(res executor.ExecutionResult) executor.ExecutionResult {
	observability.RecordExecution("process", res.ExitCode, res.Duration)
	return res
}

// decode turns captured bytes into text, replacing invalid UTF-8 rather than failing.
func decode(b []byte) string {
	return strings.ToValidUTF8(string(b), "�")
}
