// Package loop drives one refinement run: Creator, then Critic, then Control,
// repeated until Control reports Terminated.
package loop

import (
	"context"
	"fmt"
	"time"

	"github.com/valpere/promptforge/internal/critic"
)

// MetadataRunID is the Metadata key holding the run identifier.
const MetadataRunID = "run_id"

// Status is the state of the control machine.
type Status int

const (
	Running Status = iota
	Terminated
)

func (s Status) String() string {
	switch s {
	case Running:
		return "running"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Snapshot is one entry of the audit trail kept in State.History.
type Snapshot struct {
	Iteration int                `json:"iteration"`
	Prompt    string             `json:"prompt"`
	Critique  *critic.Evaluation `json:"critique,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

// State is the single mutable record threaded through every step of a run.
// OriginalPrompt, MaxIterations and the model identifiers are fixed at
// creation; Critique is nil until the first evaluation.
type State struct {
	OriginalPrompt string             `json:"original_prompt"`
	CurrentPrompt  string             `json:"current_prompt"`
	Critique       *critic.Evaluation `json:"critique,omitempty"`
	Iteration      int                `json:"iteration"`
	MaxIterations  int                `json:"max_iterations"`
	CreatorModel   string             `json:"creator_model"`
	CriticModel    string             `json:"critic_model"`
	History        []Snapshot         `json:"history"`
	Metadata       map[string]any     `json:"metadata"`
}

// NewState returns a state ready for the first cycle.
func NewState(originalPrompt string, maxIterations int, creatorModel, criticModel string) *State {
	return &State{
		OriginalPrompt: originalPrompt,
		CurrentPrompt:  originalPrompt,
		MaxIterations:  maxIterations,
		CreatorModel:   creatorModel,
		CriticModel:    criticModel,
		History:        []Snapshot{},
		Metadata:       map[string]any{},
	}
}

// RunID returns the run identifier stored in Metadata, or "".
func (s *State) RunID() string {
	id, _ := s.Metadata[MetadataRunID].(string)
	return id
}

// Record appends a snapshot of the current cycle to History.
func (s *State) Record() Snapshot {
	snap := Snapshot{
		Iteration: s.Iteration,
		Prompt:    s.CurrentPrompt,
		Critique:  s.Critique,
		Timestamp: time.Now(),
	}
	s.History = append(s.History, snap)
	return snap
}

// Control advances the iteration counter and decides whether another cycle
// begins. The increment happens before the check, so MaxIterations == 0 still
// allows the one cycle that has already run. Repeated calls keep incrementing.
func Control(s *State) Status {
	s.Iteration++
	if s.Iteration >= s.MaxIterations {
		return Terminated
	}
	return Running
}

// Creator produces a new prompt from the original and the latest critique.
type Creator interface {
	Create(ctx context.Context, model, originalPrompt string, critique *critic.Evaluation) (string, error)
}

// Critic evaluates the current prompt.
type Critic interface {
	Evaluate(ctx context.Context, model, prompt string) (critic.Evaluation, error)
}

// Observer is called after every Control step. A non-nil error aborts the run.
type Observer func(ctx context.Context, s *State) error

type Runner struct {
	creator  Creator
	critic   Critic
	observer Observer
}

type Option func(*Runner)

// WithObserver installs fn to run after each completed cycle.
func WithObserver(fn Observer) Option {
	return func(r *Runner) {
		r.observer = fn
	}
}

func NewRunner(creator Creator, critic Critic, opts ...Option) *Runner {
	r := &Runner{creator: creator, critic: critic}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes cycles until Control terminates. On error the partially
// updated state is returned alongside it for diagnostics only.
func (r *Runner) Run(ctx context.Context, s *State) (*State, error) {
	status := Running
	for status == Running {
		if err := ctx.Err(); err != nil {
			return s, fmt.Errorf("iteration %d: %w", s.Iteration+1, err)
		}

		prompt, err := r.creator.Create(ctx, s.CreatorModel, s.OriginalPrompt, s.Critique)
		if err != nil {
			return s, fmt.Errorf("creator failed at iteration %d: %w", s.Iteration+1, err)
		}
		s.CurrentPrompt = prompt

		if err := ctx.Err(); err != nil {
			return s, fmt.Errorf("iteration %d: %w", s.Iteration+1, err)
		}

		ev, err := r.critic.Evaluate(ctx, s.CriticModel, s.CurrentPrompt)
		if err != nil {
			return s, fmt.Errorf("critic failed at iteration %d: %w", s.Iteration+1, err)
		}
		s.Critique = &ev

		status = Control(s)

		if r.observer != nil {
			if err := r.observer(ctx, s); err != nil {
				return s, fmt.Errorf("recording iteration %d: %w", s.Iteration, err)
			}
		}
	}
	return s, nil
}
