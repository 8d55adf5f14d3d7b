package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// BatchCheckpoint represents a batch job's checkpoint record.
type BatchCheckpoint struct {
	ID         string
	InputFile  string
	OutputFile string
	Column     int
	Status     string
	CreatedAt  time.Time
}

// BatchItem is the stored outcome of one finished batch row.
type BatchItem struct {
	RunID       string
	FinalPrompt string
	Iterations  int
}

// CreateBatchCheckpoint creates a new checkpoint record and returns its ID.
func (s *Store) CreateBatchCheckpoint(ctx context.Context, inputFile, outputFile string, column int) (string, error) {
	id := "cp_" + uuid.NewString()
	now := time.Now().UTC()
	_, err := s.exec(ctx,
		`INSERT INTO batch_checkpoints (id, input_file, output_file, column_idx, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, inputFile, outputFile, column, StatusRunning, now, now)
	return id, err
}

// GetBatchCheckpoint retrieves a checkpoint by ID.
func (s *Store) GetBatchCheckpoint(ctx context.Context, checkpointID string) (*BatchCheckpoint, error) {
	var cp BatchCheckpoint
	err := s.queryRow(ctx,
		`SELECT id, input_file, output_file, column_idx, status, created_at FROM batch_checkpoints WHERE id = ?`,
		checkpointID).Scan(&cp.ID, &cp.InputFile, &cp.OutputFile, &cp.Column, &cp.Status, &cp.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("checkpoint %s: %w", checkpointID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &cp, nil
}

// SaveBatchItem persists the result for a single batch row. Saving the same
// row twice keeps the latest result.
func (s *Store) SaveBatchItem(ctx context.Context, checkpointID string, rowIdx int, item BatchItem) error {
	_, err := s.exec(ctx,
		`INSERT INTO batch_checkpoint_items (checkpoint_id, row_idx, run_id, final_prompt, iterations, created_at) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (checkpoint_id, row_idx) DO UPDATE SET run_id = excluded.run_id, final_prompt = excluded.final_prompt, iterations = excluded.iterations`,
		checkpointID, rowIdx, item.RunID, item.FinalPrompt, item.Iterations, time.Now().UTC())
	return err
}

// GetBatchItems returns all finished rows for a checkpoint keyed by row index.
func (s *Store) GetBatchItems(ctx context.Context, checkpointID string) (map[int]BatchItem, error) {
	rows, err := s.query(ctx,
		`SELECT row_idx, run_id, final_prompt, iterations FROM batch_checkpoint_items WHERE checkpoint_id = ?`,
		checkpointID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make(map[int]BatchItem)
	for rows.Next() {
		var rowIdx int
		var item BatchItem
		if err := rows.Scan(&rowIdx, &item.RunID, &item.FinalPrompt, &item.Iterations); err != nil {
			return nil, err
		}
		items[rowIdx] = item
	}
	return items, rows.Err()
}

// CompleteBatchCheckpoint marks a checkpoint as completed.
func (s *Store) CompleteBatchCheckpoint(ctx context.Context, checkpointID string) error {
	return affected(s.exec(ctx,
		`UPDATE batch_checkpoints SET status = ?, updated_at = ? WHERE id = ?`,
		StatusCompleted, time.Now().UTC(), checkpointID))
}
