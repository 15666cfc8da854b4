// Package repository defines the storage contracts. Implementations live in
// sub-packages (repository/sqlite).
package repository

import (
	"context"
	"time"

	"github.com/sakif/laph/internal/model"
)

type ListOptions struct {
	Limit  int
	Offset int
}

// RunRepository persists runs so an interrupted task can pick up where it
// left off, along with the history of every iteration.
type RunRepository interface {
	Create(ctx context.Context, run *model.Run) error
	GetByID(ctx context.Context, id string) (*model.Run, error)
	// ClaimResumable atomically takes over the newest record for task that
	// was interrupted, or that is still marked running but has not been
	// saved since staleBefore (its owner died). The claimed record is
	// returned as running. A zero staleBefore claims interrupted records
	// only. apperror.ErrNotFound means there is nothing to resume.
	ClaimResumable(ctx context.Context, task string, staleBefore time.Time) (*model.Run, error)
	Update(ctx context.Context, run *model.Run) error
	List(ctx context.Context, opts ListOptions) ([]model.Run, error)

	AppendIteration(ctx context.Context, runID string, rec model.IterationRecord) error
	ListIterations(ctx context.Context, runID string) ([]model.IterationRecord, error)
}
