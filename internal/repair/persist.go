package repair

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sakif/laph/internal/apperror"
	"github.com/sakif/laph/internal/model"
)

// open claims the newest resumable run for task, or records a new one.
// Persistence is best effort: without a repository, or when it fails, the
// loop runs on an in-memory Run.
func (l *Loop) open(ctx context.Context, task string) *model.Run {
	if l.runs == nil {
		return &model.Run{Task: task, Status: model.RunRunning}
	}

	var staleBefore time.Time
	if l.config.StaleAfter > 0 {
		staleBefore = time.Now().Add(-l.config.StaleAfter)
	}

	run, err := l.runs.ClaimResumable(ctx, task, staleBefore)
	switch {
	case err == nil:
		l.logger.Info("resuming run",
			slog.String("run_id", run.ID),
			slog.Int("completed_iterations", run.Iteration),
		)
		return run
	case !errors.Is(err, apperror.ErrNotFound):
		l.logger.Warn("failed to look up resumable run", slog.String("error", err.Error()))
	}

	run = &model.Run{Task: task, Status: model.RunRunning}
	if err := l.runs.Create(ctx, run); err != nil {
		l.logger.Warn("failed to record run", slog.String("error", err.Error()))
		return &model.Run{Task: task, Status: model.RunRunning}
	}
	l.logger.Info("run started", slog.String("run_id", run.ID))
	return run
}

// save writes the run's progress and, when rec is a real slot, its record.
func (l *Loop) save(ctx context.Context, run *model.Run, state model.RepairState, rec model.IterationRecord, status model.RunStatus) {
	run.Iteration = state.Iteration
	run.LastCode = state.LastCode
	run.LastError = state.LastError
	run.Status = status

	if l.runs == nil || run.ID == "" {
		return
	}
	// Progress must land even when the run's own context was just cancelled.
	ctx = context.WithoutCancel(ctx)

	if rec.Index > 0 {
		if err := l.runs.AppendIteration(ctx, run.ID, rec); err != nil {
			l.logger.Warn("failed to save iteration",
				slog.String("run_id", run.ID),
				slog.Int("iteration", rec.Index),
				slog.String("error", err.Error()),
			)
		}
	}
	if err := l.runs.Update(ctx, run); err != nil {
		l.logger.Warn("failed to save run",
			slog.String("run_id", run.ID),
			slog.String("error", err.Error()),
		)
	}
}
