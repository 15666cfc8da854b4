package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/laph/internal/apperror"
	"github.com/sakif/laph/internal/executor"
	"github.com/sakif/laph/internal/model"
	"github.com/sakif/laph/internal/repository"
	"github.com/sakif/laph/internal/sanitizer"
)

var _ repository.RunRepository = (*DB)(nil)

const runColumns = `id, task, status, iteration, last_code, last_error, final_code, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*model.Run, error) {
	var run model.Run
	var status string
	if err := row.Scan(
		&run.ID, &run.Task, &status, &run.Iteration,
		&run.LastCode, &run.LastError, &run.FinalCode,
		&run.CreatedAt, &run.UpdatedAt,
	); err != nil {
		return nil, err
	}
	run.Status = model.RunStatus(status)
	return &run, nil
}

// Create inserts a new run. The ID and timestamps are assigned here and
// written back into run.
func (db *DB) Create(ctx context.Context, run *model.Run) error {
	run.ID = xid.New().String()
	now := time.Now()
	run.CreatedAt = now
	run.UpdatedAt = now
	if run.Status == "" {
		run.Status = model.RunRunning
	}

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO runs (`+runColumns+`, heartbeat)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID,
		run.Task,
		string(run.Status),
		run.Iteration,
		run.LastCode,
		run.LastError,
		run.FinalCode,
		run.CreatedAt,
		run.UpdatedAt,
		now.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: creating run: %w", err)
	}
	return nil
}

// GetByID retrieves a single run.
func (db *DB) GetByID(ctx context.Context, id string) (*model.Run, error) {
	run, err := scanRun(db.conn.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id = ?`,
		id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound("run", id)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: getting run %s: %w", id, err)
	}
	return run, nil
}

// ClaimResumable hands the newest resumable record for task to the caller.
//
// The pick and the status flip happen in one UPDATE, and SQLite runs one
// writer at a time, so two callers can never claim the same record. The
// heartbeat column (unix nanoseconds of the last save) decides staleness.
func (db *DB) ClaimResumable(ctx context.Context, task string, staleBefore time.Time) (*model.Run, error) {
	now := time.Now()

	// Zero never matches: heartbeats are always positive.
	var cutoff int64
	if !staleBefore.IsZero() {
		cutoff = staleBefore.UnixNano()
	}

	run, err := scanRun(db.conn.QueryRowContext(ctx,
		`UPDATE runs
		 SET status = ?, heartbeat = ?, updated_at = ?
		 WHERE id = (
			SELECT id FROM runs
			WHERE task = ?
			  AND (status = ? OR (status = ? AND heartbeat < ?))
			ORDER BY heartbeat DESC, rowid DESC
			LIMIT 1
		 )
		 RETURNING `+runColumns,
		string(model.RunRunning),
		now.UnixNano(),
		now,
		task,
		string(model.RunInterrupted),
		string(model.RunRunning),
		cutoff,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound("resumable run", task)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: claiming resumable run: %w", err)
	}
	return run, nil
}

// Update saves the mutable fields of run and refreshes UpdatedAt.
func (db *DB) Update(ctx context.Context, run *model.Run) error {
	run.UpdatedAt = time.Now()

	result, err := db.conn.ExecContext(ctx,
		`UPDATE runs
		 SET status = ?, iteration = ?, last_code = ?, last_error = ?, final_code = ?, updated_at = ?, heartbeat = ?
		 WHERE id = ?`,
		string(run.Status),
		run.Iteration,
		run.LastCode,
		run.LastError,
		run.FinalCode,
		run.UpdatedAt,
		run.UpdatedAt.UnixNano(),
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating run %s: %w", run.ID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperror.NotFound("run", run.ID)
	}
	return nil
}

// List returns runs newest first.
func (db *DB) List(ctx context.Context, opts repository.ListOptions) ([]model.Run, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	offset := max(opts.Offset, 0)

	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+runColumns+`
		 FROM runs
		 ORDER BY created_at DESC
		 LIMIT ? OFFSET ?`,
		limit,
		offset,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing runs: %w", err)
	}
	defer rows.Close()

	runs := make([]model.Run, 0, limit)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning run row: %w", err)
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating runs: %w", err)
	}
	return runs, nil
}

// AppendIteration stores one iteration of a run. Writing the same index
// twice replaces the earlier record, which happens when a resumed run
// repeats the iteration it was interrupted in.
func (db *DB) AppendIteration(ctx context.Context, runID string, rec model.IterationRecord) error {
	warnings := rec.Warnings
	if warnings == nil {
		warnings = []sanitizer.Warning{}
	}
	warningsJSON, err := json.Marshal(warnings)
	if err != nil {
		return fmt.Errorf("sqlite: encoding warnings: %w", err)
	}

	var (
		exitCode       sql.NullInt64
		stdout, stderr string
		durationMS     int64
	)
	if rec.Result != nil {
		exitCode = sql.NullInt64{Int64: int64(rec.Result.ExitCode), Valid: true}
		stdout = rec.Result.Stdout
		stderr = rec.Result.Stderr
		durationMS = rec.Result.Duration.Milliseconds()
	}
	startedAt := rec.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now()
	}

	_, err = db.conn.ExecContext(ctx,
		`INSERT OR REPLACE INTO iterations
		 (run_id, idx, spec, code, valid, validation_message, warnings, generation_retries,
		  exit_code, stdout, stderr, duration_ms, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID,
		rec.Index,
		rec.Spec,
		rec.Code,
		rec.Valid,
		rec.ValidationMessage,
		string(warningsJSON),
		rec.GenerationRetries,
		exitCode,
		stdout,
		stderr,
		durationMS,
		startedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: appending iteration %d to run %s: %w", rec.Index, runID, err)
	}
	return nil
}

// ListIterations returns a run's iterations in order.
func (db *DB) ListIterations(ctx context.Context, runID string) ([]model.IterationRecord, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT idx, spec, code, valid, validation_message, warnings, generation_retries,
		        exit_code, stdout, stderr, duration_ms, started_at
		 FROM iterations
		 WHERE run_id = ?
		 ORDER BY idx`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing iterations: %w", err)
	}
	defer rows.Close()

	var records []model.IterationRecord
	for rows.Next() {
		var (
			rec            model.IterationRecord
			warningsJSON   string
			exitCode       sql.NullInt64
			stdout, stderr string
			durationMS     int64
		)
		if err := rows.Scan(
			&rec.Index, &rec.Spec, &rec.Code, &rec.Valid, &rec.ValidationMessage,
			&warningsJSON, &rec.GenerationRetries,
			&exitCode, &stdout, &stderr, &durationMS, &rec.StartedAt,
		); err != nil {
			return nil, fmt.Errorf("sqlite: scanning iteration row: %w", err)
		}
		if err := json.Unmarshal([]byte(warningsJSON), &rec.Warnings); err != nil {
			return nil, fmt.Errorf("sqlite: decoding warnings: %w", err)
		}
		if exitCode.Valid {
			rec.Result = &executor.ExecutionResult{
				Stdout:   stdout,
				Stderr:   stderr,
				ExitCode: int(exitCode.Int64),
				Duration: time.Duration(durationMS) * time.Millisecond,
			}
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating iterations: %w", err)
	}
	return records, nil
}
