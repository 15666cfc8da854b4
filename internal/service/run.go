// Package service contains the business logic layer of the application.
//
// THE THREE-LAYER ARCHITECTURE:
//
//	Handler (HTTP layer)     → parses requests, writes responses
//	Service (Business layer) → validates, enforces rules, orchestrates
//	Repair / Repository      → runs the loop, reads/writes the database
//
// The CLI and the HTTP handlers share these services, so every caller gets
// the same validation rules. Services return apperror values and never know
// about HTTP status codes.
//
// DEPENDENCY INJECTION:
// RunService takes a Repairer and a repository.RunRepository (interfaces),
// NOT a *repair.Loop or *sqlite.DB. Tests pass hand-written fakes.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/laph/internal/apperror"
	"github.com/sakif/laph/internal/model"
	"github.com/sakif/laph/internal/repair"
	"github.com/sakif/laph/internal/repository"
)

// Validation constants.
const (
	MaxTaskLength    = 10000
	MaxCodeLength    = 100000 // ~100KB of code
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// Repairer is the part of *repair.Loop the service drives.
type Repairer interface {
	Run(ctx context.Context, task string) (*repair.Result, error)
}

var _ Repairer = (*repair.Loop)(nil)

// RunDetail is a persisted run together with its iteration history.
type RunDetail struct {
	model.Run
	Iterations []model.IterationRecord `json:"iterations"`
}

// RunService handles business logic for repair runs.
//
// runs may be nil when persistence is disabled; the read methods then
// report every run as not found.
type RunService struct {
	loop   Repairer
	runs   repository.RunRepository
	logger *slog.Logger
}

// NewRunService creates a new RunService.
func NewRunService(loop Repairer, runs repository.RunRepository, logger *slog.Logger) *RunService {
	return &RunService{
		loop:   loop,
		runs:   runs,
		logger: logger,
	}
}

// Repair validates task and runs the repair loop to completion.
//
// A FAILURE outcome is NOT an error here: the Result says so and the
// caller decides how to present it. Errors are validation problems and the
// context ending.
func (s *RunService) Repair(ctx context.Context, task string) (*repair.Result, error) {
	task = strings.TrimSpace(task)
	if task == "" {
		return nil, apperror.ValidationFailed("task", "task is required")
	}
	if len(task) > MaxTaskLength {
		return nil, apperror.ValidationFailed("task",
			fmt.Sprintf("task must be %d characters or less", MaxTaskLength))
	}

	res, err := s.loop.Run(ctx, task)
	if err != nil && res != nil && res.Status == repair.StatusFailure {
		s.logger.Info("repair finished without a solution",
			slog.String("run_id", res.RunID),
			slog.Int("iterations", res.Iterations),
		)
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("service/run: repairing task: %w", err)
	}

	s.logger.Info("repair succeeded",
		slog.String("run_id", res.RunID),
		slog.Int("iterations", res.Iterations),
	)
	return res, nil
}

// GetByID returns a run and its iterations.
// Returns apperror.ErrNotFound if the run doesn't exist.
func (s *RunService) GetByID(ctx context.Context, id string) (*RunDetail, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperror.ValidationFailed("id", "run ID is required")
	}
	if s.runs == nil {
		return nil, apperror.NotFound("run", id)
	}

	run, err := s.runs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	iterations, err := s.runs.ListIterations(ctx, id)
	if err != nil {
		s.logger.Error("failed to list iterations",
			slog.String("id", id),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("service/run: listing iterations: %w", err)
	}
	if iterations == nil {
		iterations = []model.IterationRecord{}
	}

	return &RunDetail{Run: *run, Iterations: iterations}, nil
}

// List retrieves runs with pagination, newest first.
// limit is clamped to 1-100 (default 20); a negative offset is treated as 0.
func (s *RunService) List(ctx context.Context, limit, offset int) ([]model.Run, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	if s.runs == nil {
		return []model.Run{}, nil
	}

	runs, err := s.runs.List(ctx, repository.ListOptions{
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		s.logger.Error("failed to list runs", slog.String("error", err.Error()))
		return nil, fmt.Errorf("service/run: listing runs: %w", err)
	}
	return runs, nil
}
