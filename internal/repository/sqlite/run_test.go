package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sakif/laph/internal/apperror"
	"github.com/sakif/laph/internal/executor"
	"github.com/sakif/laph/internal/model"
	"github.com/sakif/laph/internal/repository"
	"github.com/sakif/laph/internal/sanitizer"
)

// newTestDB opens a fresh in-memory database that lives for one test.
func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func createTestRun(t *testing.T, db *DB, task string) *model.Run {
	t.Helper()
	run := &model.Run{Task: task}
	if err := db.Create(context.Background(), run); err != nil {
		t.Fatalf("failed to create test run: %v", err)
	}
	return run
}

// =========================================================================
// RUN TESTS
// =========================================================================

func TestCreate(t *testing.T) {
	db := newTestDB(t)

	run := createTestRun(t, db, "print hello")

	if run.ID == "" {
		t.Error("Create() did not set run.ID")
	}
	if run.Status != model.RunRunning {
		t.Errorf("Create() status = %q, want %q", run.Status, model.RunRunning)
	}
	if run.CreatedAt.IsZero() || run.UpdatedAt.IsZero() {
		t.Error("Create() did not set timestamps")
	}
}

func TestGetByID_RoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	original := createTestRun(t, db, "sum a list")
	original.Iteration = 3
	original.LastCode = "print(sum([1, 2]))"
	original.LastError = "NameError: x"
	if err := db.Update(ctx, original); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	got, err := db.GetByID(ctx, original.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Task != "sum a list" || got.Iteration != 3 {
		t.Errorf("GetByID() = %+v", got)
	}
	if got.LastCode != original.LastCode || got.LastError != original.LastError {
		t.Errorf("GetByID() repair context = %q / %q", got.LastCode, got.LastError)
	}
}

func TestGetByID_NotFound(t *testing.T) {
	db := newTestDB(t)

	_, err := db.GetByID(context.Background(), "nonexistent")
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("GetByID() error = %v, want ErrNotFound", err)
	}
}

func TestUpdate_NotFound(t *testing.T) {
	db := newTestDB(t)

	err := db.Update(context.Background(), &model.Run{ID: "nonexistent", Status: model.RunFailed})
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("Update() error = %v, want ErrNotFound", err)
	}
}

func interruptRun(t *testing.T, db *DB, run *model.Run) {
	t.Helper()
	run.Status = model.RunInterrupted
	if err := db.Update(context.Background(), run); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
}

func TestClaimResumable(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	finished := createTestRun(t, db, "task A")
	finished.Status = model.RunSucceeded
	if err := db.Update(ctx, finished); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if _, err := db.ClaimResumable(ctx, "task A", time.Time{}); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("ClaimResumable() on finished task error = %v, want ErrNotFound", err)
	}

	older := createTestRun(t, db, "task A")
	interruptRun(t, db, older)
	time.Sleep(5 * time.Millisecond)
	newer := createTestRun(t, db, "task A")
	interruptRun(t, db, newer)
	other := createTestRun(t, db, "task B")
	interruptRun(t, db, other)

	got, err := db.ClaimResumable(ctx, "task A", time.Time{})
	if err != nil {
		t.Fatalf("ClaimResumable() error = %v", err)
	}
	if got.ID != newer.ID {
		t.Errorf("ClaimResumable() = %s, want newest %s (older %s)", got.ID, newer.ID, older.ID)
	}
	if got.Status != model.RunRunning {
		t.Errorf("claimed status = %q, want %q", got.Status, model.RunRunning)
	}

	stored, err := db.GetByID(ctx, newer.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if stored.Status != model.RunRunning {
		t.Errorf("stored status = %q, want %q", stored.Status, model.RunRunning)
	}

	again, err := db.ClaimResumable(ctx, "task A", time.Time{})
	if err != nil {
		t.Fatalf("second ClaimResumable() error = %v", err)
	}
	if again.ID != older.ID {
		t.Errorf("second claim = %s, want the remaining %s", again.ID, older.ID)
	}
	if _, err := db.ClaimResumable(ctx, "task A", time.Time{}); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("third ClaimResumable() error = %v, want ErrNotFound", err)
	}
}

func TestClaimResumable_LiveRunIsNotClaimed(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	live := createTestRun(t, db, "task")

	// Saved just now: an owner is still working on it.
	if _, err := db.ClaimResumable(ctx, "task", time.Now().Add(-time.Hour)); !errors.Is(err, apperror.ErrNotFound) {
		t.Fatalf("ClaimResumable() on a live run error = %v, want ErrNotFound", err)
	}

	// Not saved since the cutoff: the owner died and the run is taken over.
	got, err := db.ClaimResumable(ctx, "task", time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("ClaimResumable() on a stale run error = %v", err)
	}
	if got.ID != live.ID {
		t.Errorf("ClaimResumable() = %s, want %s", got.ID, live.ID)
	}
}

func TestClaimResumable_ConcurrentClaimsNeverShare(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	interruptRun(t, db, createTestRun(t, db, "task"))

	const claimers = 8
	results := make(chan error, claimers)
	for range claimers {
		go func() {
			_, err := db.ClaimResumable(ctx, "task", time.Time{})
			results <- err
		}()
	}

	claimed := 0
	for range claimers {
		err := <-results
		switch {
		case err == nil:
			claimed++
		case !errors.Is(err, apperror.ErrNotFound):
			t.Errorf("ClaimResumable() error = %v", err)
		}
	}
	if claimed != 1 {
		t.Errorf("%d callers claimed the run, want exactly 1", claimed)
	}
}

func TestList(t *testing.T) {
	db := newTestDB(t)
	for _, task := range []string{"a", "b", "c"} {
		createTestRun(t, db, task)
	}

	runs, err := db.List(context.Background(), repository.ListOptions{Limit: 2})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(runs) != 2 {
		t.Errorf("List() returned %d runs, want 2", len(runs))
	}
}

// =========================================================================
// ITERATION TESTS
// =========================================================================

func TestIterations_RoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	run := createTestRun(t, db, "task")

	first := model.IterationRecord{
		Index:    1,
		Spec:     "print hi",
		Code:     "print(hi)",
		Valid:    true,
		Warnings: []sanitizer.Warning{{PatternID: "eval", Category: sanitizer.CategoryDynamicExec, Description: "eval() usage"}},
		Result: &executor.ExecutionResult{
			Stderr:   "NameError: name 'hi' is not defined",
			ExitCode: 1,
			Duration: 40 * time.Millisecond,
		},
		GenerationRetries: 2,
	}
	second := model.IterationRecord{Index: 2, Spec: "print hi", Code: "print('hi')"}

	for _, rec := range []model.IterationRecord{second, first} {
		if err := db.AppendIteration(ctx, run.ID, rec); err != nil {
			t.Fatalf("AppendIteration() error = %v", err)
		}
	}

	got, err := db.ListIterations(ctx, run.ID)
	if err != nil {
		t.Fatalf("ListIterations() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ListIterations() returned %d records, want 2", len(got))
	}
	if got[0].Index != 1 || got[1].Index != 2 {
		t.Errorf("ListIterations() order = %d, %d", got[0].Index, got[1].Index)
	}
	if got[0].Result == nil || got[0].Result.ExitCode != 1 || got[0].Result.Duration != 40*time.Millisecond {
		t.Errorf("ListIterations() result = %+v", got[0].Result)
	}
	if !got[0].Valid || got[0].GenerationRetries != 2 {
		t.Errorf("ListIterations() first = %+v", got[0])
	}
	if len(got[0].Warnings) != 1 || got[0].Warnings[0].PatternID != "eval" {
		t.Errorf("ListIterations() warnings = %+v", got[0].Warnings)
	}
	if got[1].Result != nil {
		t.Errorf("iteration without execution should have no result, got %+v", got[1].Result)
	}
}

func TestAppendIteration_ReplacesSameIndex(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	run := createTestRun(t, db, "task")

	for _, code := range []string{"first", "second"} {
		if err := db.AppendIteration(ctx, run.ID, model.IterationRecord{Index: 1, Code: code}); err != nil {
			t.Fatalf("AppendIteration() error = %v", err)
		}
	}

	got, err := db.ListIterations(ctx, run.ID)
	if err != nil {
		t.Fatalf("ListIterations() error = %v", err)
	}
	if len(got) != 1 || got[0].Code != "second" {
		t.Errorf("ListIterations() = %+v, want single record with code \"second\"", got)
	}
}

func TestAppendIteration_UnknownRun(t *testing.T) {
	db := newTestDB(t)

	err := db.AppendIteration(context.Background(), "missing", model.IterationRecord{Index: 1})
	if err == nil {
		t.Error("AppendIteration() for unknown run should violate the foreign key")
	}
}
