package service

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/sakif/laph/internal/apperror"
	"github.com/sakif/laph/internal/executor"
	"github.com/sakif/laph/internal/sanitizer"
)

type stubExecutor struct {
	calls int
	res   executor.ExecutionResult
}

func (s *stubExecutor) Execute(_ context.Context, _ executor.ExecutionRequest) executor.ExecutionResult {
	s.calls++
	return s.res
}

func newCodeService(exec executor.Executor) *CodeService {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewCodeService(exec, logger)
}

func TestExecute(t *testing.T) {
	exec := &stubExecutor{res: executor.ExecutionResult{Stdout: "hi\n"}}
	svc := newCodeService(exec)

	res, err := svc.Execute(context.Background(), "print('hi')")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if res.Stdout != "hi\n" {
		t.Errorf("Stdout = %q", res.Stdout)
	}
}

func TestExecute_Validation(t *testing.T) {
	exec := &stubExecutor{}
	svc := newCodeService(exec)

	for _, code := range []string{"", strings.Repeat("x", MaxCodeLength+1)} {
		_, err := svc.Execute(context.Background(), code)
		if !errors.Is(err, apperror.ErrValidation) {
			t.Errorf("Execute(len=%d) error = %v, want ErrValidation", len(code), err)
		}
	}
	if exec.calls != 0 {
		t.Errorf("executor called %d times for invalid input", exec.calls)
	}
}

func TestAnalyze(t *testing.T) {
	svc := newCodeService(&stubExecutor{})

	a, err := svc.Analyze("import os\nos.system('ls')", sanitizer.Policy{})
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if len(a.Report.Warnings) == 0 {
		t.Error("expected a warning for os.system")
	}
	if a.Verdict.Safe {
		t.Error("os.system must never be safe for auto-execution")
	}
}

func TestExtract(t *testing.T) {
	svc := newCodeService(&stubExecutor{})

	e, err := svc.Extract(context.Background(), "```python\ndef f(:\n```")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if e.Code != "def f(:" {
		t.Errorf("Code = %q", e.Code)
	}
	if e.Validation.Valid || e.Validation.Reason != "syntax" {
		t.Errorf("Validation = %+v, want a syntax rejection", e.Validation)
	}

	if _, err := svc.Extract(context.Background(), ""); !errors.Is(err, apperror.ErrValidation) {
		t.Errorf("Extract(\"\") error = %v, want ErrValidation", err)
	}
}
