package process_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/laph/internal/executor"
	"github.com/sakif/laph/internal/executor/process"
)

func newRunner(t *testing.T, mutate func(*process.Config)) (*process.Runner, string) {
	t.Helper()
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not available")
	}

	dir := t.TempDir()
	cfg := process.DefaultConfig()
	cfg.TempDir = dir
	if mutate != nil {
		mutate(&cfg)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return process.New(cfg, logger), dir
}

func assertNoLeftovers(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "source file should be removed after execution")
}

func TestRunner_Execute(t *testing.T) {
	runner, dir := newRunner(t, nil)

	tests := []struct {
		name        string
		code        string
		wantExit    int
		wantStdout  string
		wantStderr  string
		wantNonZero bool
	}{
		{
			name:       "hello world",
			code:       `print("Hello, World!")`,
			wantExit:   0,
			wantStdout: "Hello, World!\n",
		},
		{
			name:     "explicit exit status",
			code:     "import sys\nsys.exit(3)",
			wantExit: 3,
		},
		{
			name:        "syntax error",
			code:        `print("Missing parenthesis"`,
			wantNonZero: true,
			wantStderr:  "SyntaxError",
		},
		{
			name:        "runtime exception",
			code:        "def f():\n    return 1 / 0\nf()",
			wantNonZero: true,
			wantStderr:  "ZeroDivisionError",
		},
		{
			name:       "multiline logic",
			code:       "def fib(n):\n    if n <= 1: return n\n    return fib(n-1) + fib(n-2)\nprint(fib(10))",
			wantExit:   0,
			wantStdout: "55",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := runner.Execute(context.Background(), executor.ExecutionRequest{Code: tt.code})

			if tt.wantNonZero {
				assert.NotEqual(t, 0, res.ExitCode)
				assert.NotEqual(t, executor.ExitInfrastructure, res.ExitCode)
			} else {
				assert.Equal(t, tt.wantExit, res.ExitCode, "stderr: %s", res.Stderr)
			}
			if tt.wantStdout != "" {
				assert.Contains(t, res.Stdout, tt.wantStdout)
			}
			if tt.wantStderr != "" {
				assert.Contains(t, res.Stderr, tt.wantStderr)
			}
			assert.Greater(t, res.Duration, time.Duration(0))
			assertNoLeftovers(t, dir)
		})
	}
}

func TestRunner_WallClockTimeout(t *testing.T) {
	runner, dir := newRunner(t, func(cfg *process.Config) {
		cfg.Timeout = time.Second
	})

	start := time.Now()
	res := runner.Execute(context.Background(), executor.ExecutionRequest{
		Code: "import time\ntime.sleep(30)",
	})
	elapsed := time.Since(start)

	assert.Equal(t, executor.ExitInfrastructure, res.ExitCode)
	assert.True(t, strings.HasPrefix(res.Stderr, "[Execution Error] "), res.Stderr)
	assert.Contains(t, res.Stderr, "timed out after 1s")
	assert.Less(t, elapsed, 4*time.Second)
	assertNoLeftovers(t, dir)
}

func TestRunner_TimeoutKillsChildren(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("process groups are a POSIX feature")
	}
	runner, dir := newRunner(t, func(cfg *process.Config) {
		cfg.Timeout = time.Second
	})

	// The grandchild holds stdout open; without the group kill Wait would block.
	start := time.Now()
	res := runner.Execute(context.Background(), executor.ExecutionRequest{
		Code: "import subprocess\nsubprocess.run(['sleep', '30'])",
	})

	assert.Equal(t, executor.ExitInfrastructure, res.ExitCode)
	assert.Less(t, time.Since(start), 4*time.Second)
	assertNoLeftovers(t, dir)
}

func TestRunner_CPULimit(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("CPU limits are not enforced on this platform")
	}
	runner, dir := newRunner(t, func(cfg *process.Config) {
		cfg.CPULimit = time.Second
		cfg.Timeout = 10 * time.Second
	})

	start := time.Now()
	res := runner.Execute(context.Background(), executor.ExecutionRequest{Code: "while True:\n    pass"})

	// Killed by the kernel, not by the wall clock.
	assert.Less(t, res.ExitCode, 0)
	assert.NotEqual(t, executor.ExitInfrastructure, res.ExitCode)
	assert.Less(t, time.Since(start), 8*time.Second)
	assertNoLeftovers(t, dir)
}

func TestRunner_MemoryLimit(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("memory limits are not enforced on this platform")
	}
	runner, _ := newRunner(t, nil)

	res := runner.Execute(context.Background(), executor.ExecutionRequest{
		Code: "data = bytearray(1024 * 1024 * 1024)\nprint(len(data))",
	})

	assert.NotEqual(t, 0, res.ExitCode)
	assert.Contains(t, res.Stderr, "MemoryError")
}

func TestRunner_InvalidUTF8IsReplaced(t *testing.T) {
	runner, _ := newRunner(t, nil)

	res := runner.Execute(context.Background(), executor.ExecutionRequest{
		Code: `import sys; sys.stdout.buffer.write(b"\xff\xfeok")`,
	})

	require.Equal(t, 0, res.ExitCode, res.Stderr)
	assert.True(t, utf8.ValidString(res.Stdout))
	assert.Contains(t, res.Stdout, "ok")
	assert.Contains(t, res.Stdout, "�")
}

func TestRunner_CancelledContext(t *testing.T) {
	runner, dir := newRunner(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := runner.Execute(ctx, executor.ExecutionRequest{Code: `print("never")`})

	assert.Equal(t, executor.ExitInfrastructure, res.ExitCode)
	assert.Contains(t, res.Stderr, "cancelled")
	assertNoLeftovers(t, dir)
}

func TestRunner_MissingInterpreter(t *testing.T) {
	runner, dir := newRunner(t, func(cfg *process.Config) {
		cfg.Interpreter = "laph-no-such-interpreter"
	})

	res := runner.Execute(context.Background(), executor.ExecutionRequest{Code: `print(1)`})

	// The shell reports 127 for a missing command; a direct spawn fails outright.
	assert.NotEqual(t, 0, res.ExitCode)
	assertNoLeftovers(t, dir)
}

func TestRunner_UnwritableTempDir(t *testing.T) {
	runner, _ := newRunner(t, func(cfg *process.Config) {
		cfg.TempDir = "/nonexistent/laph"
	})

	res := runner.Execute(context.Background(), executor.ExecutionRequest{Code: `print(1)`})

	assert.Equal(t, executor.ExitInfrastructure, res.ExitCode)
	assert.Contains(t, res.Stderr, "[Execution Error]")
}
