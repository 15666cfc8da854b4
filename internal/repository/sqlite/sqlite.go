// Package sqlite implements the repository interfaces on an embedded SQLite
// file, the resume store of the repair loop.
//
// THE DRIVER:
// modernc.org/sqlite is a pure Go build of SQLite, so the binary stays
// cgo-free and cross-compiles. Tests open ":memory:".
//
// TABLES:
//   - runs        one row per task attempt: status, iteration reached, the
//                 code and stderr carried into the next prompt
//   - iterations  one row per executed (or exhausted) iteration of a run
package sqlite

import (
	"database/sql"
	"fmt"

	// Registers the "sqlite" driver with database/sql.
	_ "modernc.org/sqlite"
)

// DB wraps a sql.DB connection pool and implements RunRepository.
type DB struct {
	conn *sql.DB
}

// New opens the database at dbPath and runs migrations.
//
// dbPath examples:
//   - "data/laph.db"  file-based, survives restarts (what resume needs)
//   - ":memory:"      in-memory, lost on close
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	// Every connection to ":memory:" gets its own empty database, so the pool
	// must never open a second one.
	if dbPath == ":memory:" {
		conn.SetMaxOpenConns(1)
	}

	// sql.Open is lazy; a bad path should fail here, not on the first save.
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	// WAL lets GET /api/runs read while a loop is writing.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
	}

	// Off by default in SQLite. Iterations are removed together with their run.
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: enabling foreign keys: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// Close closes the connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// migrate runs all database migrations.
//
// CREATE TABLE IF NOT EXISTS is safe to repeat, and columns added after the
// first release go through addColumnIfNotExists.
func (db *DB) migrate() error {
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id         TEXT PRIMARY KEY,
			task       TEXT NOT NULL,
			status     TEXT NOT NULL,
			iteration  INTEGER NOT NULL DEFAULT 0,
			last_code  TEXT NOT NULL DEFAULT '',
			last_error TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_runs_task_status ON runs(task, status, updated_at);
	`)
	if err != nil {
		return fmt.Errorf("creating runs table: %w", err)
	}

	if err := db.addColumnIfNotExists("runs", "final_code", "TEXT NOT NULL DEFAULT ''"); err != nil {
		return fmt.Errorf("adding final_code to runs: %w", err)
	}
	// Rows from before heartbeats read as long stale.
	if err := db.addColumnIfNotExists("runs", "heartbeat", "INTEGER NOT NULL DEFAULT 0"); err != nil {
		return fmt.Errorf("adding heartbeat to runs: %w", err)
	}

	// ON DELETE CASCADE relies on foreign_keys=ON, set in New.
	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS iterations (
			run_id             TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			idx                INTEGER NOT NULL,
			spec               TEXT NOT NULL DEFAULT '',
			code               TEXT NOT NULL DEFAULT '',
			valid              INTEGER NOT NULL DEFAULT 0,
			validation_message TEXT NOT NULL DEFAULT '',
			warnings           TEXT NOT NULL DEFAULT '[]',
			generation_retries INTEGER NOT NULL DEFAULT 0,
			exit_code          INTEGER,
			stdout             TEXT NOT NULL DEFAULT '',
			stderr             TEXT NOT NULL DEFAULT '',
			duration_ms        INTEGER NOT NULL DEFAULT 0,
			started_at         DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (run_id, idx)
		);
	`)
	if err != nil {
		return fmt.Errorf("creating iterations table: %w", err)
	}

	return nil
}

// addColumnIfNotExists adds a column to a table only if it doesn't already exist.
// ALTER TABLE fails on an existing column, so pragma_table_info is checked first.
func (db *DB) addColumnIfNotExists(table, column, definition string) error {
	var count int
	err := db.conn.QueryRow(
		`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`,
		table, column,
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("checking column %s.%s: %w", table, column, err)
	}
	if count > 0 {
		return nil // column already exists
	}
	_, err = db.conn.Exec(fmt.Sprintf(
		`ALTER TABLE %s ADD COLUMN %s %s`, table, column, definition,
	))
	return err
}
