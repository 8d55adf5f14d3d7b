package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

const (
	// TitleRunes is how much of a prompt forms its memory title.
	TitleRunes = 40
	// MatchThreshold is the minimum title similarity for two prompts to share
	// a memory entry.
	MatchThreshold = 0.85
)

// PromptMemory is a row from the prompt_memory table: the latest refined
// state for one prompt title.
type PromptMemory struct {
	ID             string          `json:"id"`
	Title          string          `json:"title"`
	CurrentVersion int             `json:"current_version"`
	State          json.RawMessage `json:"state"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Title derives the memory title of a prompt: the first TitleRunes runes,
// trimmed, NFC-normalised and with inner whitespace collapsed.
func Title(prompt string) string {
	t := strings.Join(strings.Fields(normalizeText(prompt)), " ")
	r := []rune(t)
	if len(r) > TitleRunes {
		r = r[:TitleRunes]
	}
	return strings.TrimSpace(string(r))
}

// FindPrompt returns the entry whose title is most similar to title, provided
// the similarity reaches threshold. Pass threshold <= 0 to require an exact
// match.
func (s *Store) FindPrompt(ctx context.Context, title string, threshold float64) (*PromptMemory, bool, error) {
	title = Title(title)

	rows, err := s.query(ctx, `SELECT id, title FROM prompt_memory`)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	var bestID string
	bestScore := 0.0

	for rows.Next() {
		var id, candidate string
		if err := rows.Scan(&id, &candidate); err != nil {
			return nil, false, err
		}

		if threshold <= 0 {
			if candidate == title {
				bestID, bestScore = id, 1
			}
			continue
		}

		// Length difference alone can rule a candidate out before the
		// edit distance is computed.
		ls, lc := len([]rune(title)), len([]rune(candidate))
		maxL := max(ls, lc)
		diff := ls - lc
		if diff < 0 {
			diff = -diff
		}
		if maxL > 0 && 1.0-float64(diff)/float64(maxL) < threshold {
			continue
		}

		score := stringSimilarity(title, candidate)
		if score >= threshold && score > bestScore {
			bestScore = score
			bestID = id
		}
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}
	rows.Close()

	if bestID == "" {
		return nil, false, nil
	}

	m, err := s.GetPrompt(ctx, bestID)
	if err != nil {
		return nil, false, err
	}
	return m, true, nil
}

// SavePrompt stores state under the memory entry matching prompt's title:
// an existing entry gets its version bumped, otherwise version 1 is created.
// The title is unique, so concurrent saves of one title always bump a single
// entry.
func (s *Store) SavePrompt(ctx context.Context, prompt string, state json.RawMessage) (*PromptMemory, error) {
	s.memoryMu.Lock()
	defer s.memoryMu.Unlock()

	title := Title(prompt)
	now := time.Now().UTC()

	existing, found, err := s.FindPrompt(ctx, title, MatchThreshold)
	if err != nil {
		return nil, fmt.Errorf("searching prompt memory: %w", err)
	}
	if found {
		title = existing.Title
	}

	_, err = s.exec(ctx,
		`INSERT INTO prompt_memory (id, title, current_version, state, created_at, updated_at) VALUES (?, ?, 1, ?, ?, ?)
		ON CONFLICT (title) DO UPDATE SET
			current_version = prompt_memory.current_version + 1,
			state = excluded.state,
			updated_at = excluded.updated_at`,
		uuid.NewString(), title, string(state), now, now)
	if err != nil {
		return nil, fmt.Errorf("saving prompt memory: %w", err)
	}

	var id string
	if err := s.queryRow(ctx, `SELECT id FROM prompt_memory WHERE title = ?`, title).Scan(&id); err != nil {
		return nil, fmt.Errorf("reading prompt memory: %w", err)
	}
	return s.GetPrompt(ctx, id)
}

// GetPrompt returns a memory entry by id or ErrNotFound.
func (s *Store) GetPrompt(ctx context.Context, id string) (*PromptMemory, error) {
	var m PromptMemory
	var state string
	err := s.queryRow(ctx,
		`SELECT id, title, current_version, state, created_at, updated_at FROM prompt_memory WHERE id = ?`,
		id).Scan(&m.ID, &m.Title, &m.CurrentVersion, &state, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("prompt %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	m.State = json.RawMessage(state)
	return &m, nil
}

// ListPrompts returns memory entries, most recently updated first. The state
// payload is omitted.
func (s *Store) ListPrompts(ctx context.Context) ([]PromptMemory, error) {
	rows, err := s.query(ctx,
		`SELECT id, title, current_version, created_at, updated_at FROM prompt_memory ORDER BY updated_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []PromptMemory{}
	for rows.Next() {
		var m PromptMemory
		if err := rows.Scan(&m.ID, &m.Title, &m.CurrentVersion, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, m)
	}
	return entries, rows.Err()
}

// DeletePrompt permanently removes a memory entry by id.
func (s *Store) DeletePrompt(ctx context.Context, id string) error {
	err := affected(s.exec(ctx, `DELETE FROM prompt_memory WHERE id = ?`, id))
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("prompt %s: %w", id, ErrNotFound)
	}
	return err
}

// normalizeText trims whitespace and applies Unicode NFC normalization
// for consistent title comparison.
func normalizeText(text string) string {
	return norm.NFC.String(strings.TrimSpace(text))
}

// levenshtein returns the edit distance between two strings (rune-aware).
// Uses a space-optimized two-row DP implementation.
func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	la, lb := len(ra), len(rb)
	if la == 0 {
		return lb
	}
	if lb == 0 {
		return la
	}

	prev := make([]int, lb+1)
	curr := make([]int, lb+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= la; i++ {
		curr[0] = i
		for j := 1; j <= lb; j++ {
			if ra[i-1] == rb[j-1] {
				curr[j] = prev[j-1]
			} else {
				curr[j] = min(prev[j], prev[j-1], curr[j-1]) + 1
			}
		}
		prev, curr = curr, prev
	}

	return prev[lb]
}

// stringSimilarity returns a similarity score in [0, 1] (1 = identical).
func stringSimilarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	maxLen := max(len([]rune(a)), len([]rune(b)))
	if maxLen == 0 {
		return 1.0
	}
	return 1.0 - float64(levenshtein(a, b))/float64(maxLen)
}
