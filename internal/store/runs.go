package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Run statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Run is a row from the prompt_runs table.
type Run struct {
	ID            string    `json:"id"`
	Mode          string    `json:"mode"`
	CreatorModel  string    `json:"creator_model"`
	CriticModel   string    `json:"critic_model"`
	MaxIterations int       `json:"max_iterations"`
	Language      string    `json:"language,omitempty"`
	Status        string    `json:"status"`
	FinalPrompt   string    `json:"final_prompt,omitempty"`
	Iterations    int       `json:"iterations"`
	Error         string    `json:"error,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Iteration is a row from the prompt_iterations table. Critique holds the
// evaluation JSON and is nil when no critique was recorded.
type Iteration struct {
	ID        string          `json:"id"`
	RunID     string          `json:"run_id"`
	Iteration int             `json:"iteration"`
	Prompt    string          `json:"prompt"`
	Critique  json.RawMessage `json:"critique,omitempty"`
	Score     *int            `json:"score,omitempty"`
	Degraded  bool            `json:"degraded"`
	CreatedAt time.Time       `json:"created_at"`
}

// RunStats summarises stored runs.
type RunStats struct {
	TotalRuns       int     `json:"total_runs"`
	CompletedRuns   int     `json:"completed_runs"`
	FailedRuns      int     `json:"failed_runs"`
	RunningRuns     int     `json:"running_runs"`
	TotalIterations int     `json:"total_iterations"`
	DegradedCount   int     `json:"degraded_count"`
	AverageScore    float64 `json:"average_score"`
}

// CreateRun inserts run with status running. CreatedAt is filled in when zero.
func (s *Store) CreateRun(ctx context.Context, run Run) error {
	now := time.Now().UTC()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	_, err := s.exec(ctx,
		`INSERT INTO prompt_runs (id, mode, creator_model, critic_model, max_iterations, language, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Mode, run.CreatorModel, run.CriticModel, run.MaxIterations, run.Language, StatusRunning, run.CreatedAt, now)
	return err
}

// AppendIteration stores one completed cycle. An empty ID gets a fresh UUID.
func (s *Store) AppendIteration(ctx context.Context, it Iteration) error {
	if it.ID == "" {
		it.ID = uuid.NewString()
	}
	if it.CreatedAt.IsZero() {
		it.CreatedAt = time.Now().UTC()
	}

	var critique sql.NullString
	if len(it.Critique) > 0 {
		critique = sql.NullString{String: string(it.Critique), Valid: true}
	}
	var score sql.NullInt64
	if it.Score != nil {
		score = sql.NullInt64{Int64: int64(*it.Score), Valid: true}
	}

	_, err := s.exec(ctx,
		`INSERT INTO prompt_iterations (id, run_id, iteration, prompt, critique, score, degraded, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		it.ID, it.RunID, it.Iteration, it.Prompt, critique, score, it.Degraded, it.CreatedAt)
	return err
}

// CompleteRun records the final prompt and marks the run completed.
func (s *Store) CompleteRun(ctx context.Context, runID, finalPrompt string, iterations int) error {
	return affected(s.exec(ctx,
		`UPDATE prompt_runs SET status = ?, final_prompt = ?, iterations = ?, updated_at = ? WHERE id = ?`,
		StatusCompleted, finalPrompt, iterations, time.Now().UTC(), runID))
}

// FailRun marks the run failed with the error text.
func (s *Store) FailRun(ctx context.Context, runID string, iterations int, errMsg string) error {
	return affected(s.exec(ctx,
		`UPDATE prompt_runs SET status = ?, iterations = ?, error = ?, updated_at = ? WHERE id = ?`,
		StatusFailed, iterations, errMsg, time.Now().UTC(), runID))
}

const runColumns = `id, mode, COALESCE(creator_model, ''), COALESCE(critic_model, ''), max_iterations, language, status, final_prompt, iterations, error, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (Run, error) {
	var r Run
	err := sc.Scan(&r.ID, &r.Mode, &r.CreatorModel, &r.CriticModel, &r.MaxIterations, &r.Language,
		&r.Status, &r.FinalPrompt, &r.Iterations, &r.Error, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

// GetRun returns the run with the given id or ErrNotFound.
func (s *Store) GetRun(ctx context.Context, runID string) (*Run, error) {
	r, err := scanRun(s.queryRow(ctx, `SELECT `+runColumns+` FROM prompt_runs WHERE id = ?`, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListRuns returns the most recent runs first. limit <= 0 returns all.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM prompt_runs ORDER BY created_at DESC, id`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// ListIterations returns a run's iterations in order.
func (s *Store) ListIterations(ctx context.Context, runID string) ([]Iteration, error) {
	rows, err := s.query(ctx,
		`SELECT id, run_id, iteration, prompt, critique, score, degraded, created_at FROM prompt_iterations WHERE run_id = ? ORDER BY iteration`,
		runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	its := []Iteration{}
	for rows.Next() {
		var it Iteration
		var critique sql.NullString
		var score sql.NullInt64
		if err := rows.Scan(&it.ID, &it.RunID, &it.Iteration, &it.Prompt, &critique, &score, &it.Degraded, &it.CreatedAt); err != nil {
			return nil, err
		}
		if critique.Valid {
			it.Critique = json.RawMessage(critique.String)
		}
		if score.Valid {
			v := int(score.Int64)
			it.Score = &v
		}
		its = append(its, it)
	}
	return its, rows.Err()
}

// DeleteRun removes a run and its iterations.
func (s *Store) DeleteRun(ctx context.Context, runID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM prompt_iterations WHERE run_id = ?`), runID); err != nil {
		return err
	}
	if err := affected(tx.ExecContext(ctx, s.rebind(`DELETE FROM prompt_runs WHERE id = ?`), runID)); err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("run %s: %w", runID, ErrNotFound)
		}
		return err
	}
	return tx.Commit()
}

// Stats returns summary statistics over all runs and iterations.
func (s *Store) Stats(ctx context.Context) (*RunStats, error) {
	stats := &RunStats{}

	err := s.queryRow(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'running' THEN 1 ELSE 0 END), 0)
		FROM prompt_runs`).Scan(
		&stats.TotalRuns,
		&stats.CompletedRuns,
		&stats.FailedRuns,
		&stats.RunningRuns,
	)
	if err != nil {
		return nil, err
	}

	err = s.queryRow(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN degraded THEN 1 ELSE 0 END), 0),
			COALESCE(AVG(score), 0)
		FROM prompt_iterations`).Scan(
		&stats.TotalIterations,
		&stats.DegradedCount,
		&stats.AverageScore,
	)
	if err != nil {
		return nil, err
	}
	return stats, nil
}
