package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sakif/laph/internal/apperror"
	"github.com/sakif/laph/internal/executor"
	"github.com/sakif/laph/internal/extractor"
	"github.com/sakif/laph/internal/sanitizer"
)

// Analysis is the advisory report for a piece of code together with the
// auto-execution verdict under a policy.
type Analysis struct {
	Report  sanitizer.Report  `json:"report"`
	Verdict sanitizer.Verdict `json:"verdict"`
}

// Extraction is the program found in a model reply and whether it parses.
type Extraction struct {
	Code       string               `json:"code"`
	Validation extractor.Validation `json:"validation"`
}

// CodeService exposes the individual pipeline stages on their own.
type CodeService struct {
	exec   executor.Executor
	logger *slog.Logger
}

// NewCodeService creates a new CodeService.
func NewCodeService(exec executor.Executor, logger *slog.Logger) *CodeService {
	return &CodeService{
		exec:   exec,
		logger: logger,
	}
}

// Execute runs code once in the sandbox. Program failures and sandbox
// failures are both reported in the result, never as an error.
func (s *CodeService) Execute(ctx context.Context, code string) (*executor.ExecutionResult, error) {
	if err := validateCode(code); err != nil {
		return nil, err
	}

	s.logger.Info("executing python code snippet")
	res := s.exec.Execute(ctx, executor.ExecutionRequest{Code: code})
	if res.ExitCode == executor.ExitInfrastructure {
		s.logger.Warn("sandbox failure", slog.String("stderr", res.Stderr))
	}
	return &res, nil
}

// Analyze screens code without running it.
func (s *CodeService) Analyze(code string, policy sanitizer.Policy) (*Analysis, error) {
	if err := validateCode(code); err != nil {
		return nil, err
	}
	return &Analysis{
		Report:  sanitizer.Analyze(code),
		Verdict: sanitizer.IsSafeForAutoExecution(code, policy),
	}, nil
}

// Extract pulls the program out of a model reply and checks its syntax.
func (s *CodeService) Extract(ctx context.Context, text string) (*Extraction, error) {
	if text == "" {
		return nil, apperror.ValidationFailed("text", "text cannot be empty")
	}
	if len(text) > MaxCodeLength {
		return nil, apperror.ValidationFailed("text",
			fmt.Sprintf("text must be %d characters or less", MaxCodeLength))
	}
	code := extractor.Extract(text)
	return &Extraction{Code: code, Validation: extractor.Validate(ctx, code)}, nil
}

func validateCode(code string) error {
	if code == "" {
		return apperror.ValidationFailed("code", "code cannot be empty")
	}
	if len(code) > MaxCodeLength {
		return apperror.ValidationFailed("code",
			fmt.Sprintf("code must be %d characters or less", MaxCodeLength))
	}
	return nil
}
