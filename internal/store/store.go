// Package store persists refinement runs, their iterations, prompt memory and
// batch checkpoints. It speaks SQLite by default and PostgreSQL when the DSN
// is a postgres:// URL.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

type Store struct {
	db      *sql.DB
	dialect dialect

	// memoryMu serialises SavePrompt's similarity lookup and write.
	memoryMu sync.Mutex
}

// New opens the database named by dsn and runs migrations. A dsn starting with
// postgres:// or postgresql:// selects PostgreSQL; anything else is a SQLite
// file path.
func New(dsn string) (*Store, error) {
	driver, source, d := resolve(dsn)

	db, err := sql.Open(driver, source)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db, dialect: d}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	return s, nil
}

func resolve(dsn string) (driver, source string, d dialect) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres", dsn, dialectPostgres
	}

	// WAL plus a busy timeout lets independent runs write concurrently.
	const pragmas = "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	source = strings.TrimPrefix(dsn, "file:")
	sep := "?"
	if strings.Contains(source, "?") {
		sep = "&"
	}
	return "sqlite", "file:" + source + sep + pragmas, dialectSQLite
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS prompt_runs (
		id TEXT PRIMARY KEY,
		mode TEXT NOT NULL,
		creator_model TEXT,
		critic_model TEXT,
		max_iterations INTEGER NOT NULL,
		language TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'running',
		final_prompt TEXT NOT NULL DEFAULT '',
		iterations INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS prompt_iterations (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL,
		iteration INTEGER NOT NULL,
		prompt TEXT NOT NULL,
		critique TEXT,
		score INTEGER,
		degraded BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (run_id) REFERENCES prompt_runs(id) ON DELETE CASCADE
	);

	-- prompt_memory keeps the latest refined state per prompt title
	CREATE TABLE IF NOT EXISTS prompt_memory (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		current_version INTEGER NOT NULL,
		state TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	-- batch_checkpoints tracks progress of CSV batch jobs for resume support
	CREATE TABLE IF NOT EXISTS batch_checkpoints (
		id TEXT PRIMARY KEY,
		input_file TEXT NOT NULL,
		output_file TEXT NOT NULL,
		column_idx INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'running',
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	-- batch_checkpoint_items stores the outcome of each finished row
	CREATE TABLE IF NOT EXISTS batch_checkpoint_items (
		checkpoint_id TEXT NOT NULL,
		row_idx INTEGER NOT NULL,
		run_id TEXT NOT NULL,
		final_prompt TEXT NOT NULL,
		iterations INTEGER NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (checkpoint_id, row_idx),
		FOREIGN KEY (checkpoint_id) REFERENCES batch_checkpoints(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_iterations_run ON prompt_iterations(run_id, iteration);
	CREATE INDEX IF NOT EXISTS idx_runs_created ON prompt_runs(created_at);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_memory_title ON prompt_memory(title);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

// rebind rewrites ? placeholders into $n for PostgreSQL.
func (s *Store) rebind(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}

	var sb strings.Builder
	sb.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(query), args...)
}

func (s *Store) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.rebind(query), args...)
}

func (s *Store) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rebind(query), args...)
}

// affected turns a zero-row update or delete into ErrNotFound.
func affected(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
