// Package service is the request boundary for prompt refinement: it validates
// a request, opens a run, drives the refinement loop and records every cycle.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/valpere/promptforge/internal"
	"github.com/valpere/promptforge/internal/creator"
	"github.com/valpere/promptforge/internal/critic"
	"github.com/valpere/promptforge/internal/llm"
	"github.com/valpere/promptforge/internal/loop"
	"github.com/valpere/promptforge/internal/placeholder"
	"github.com/valpere/promptforge/internal/store"
)

// ErrInvalidRequest marks requests rejected before any run is created.
var ErrInvalidRequest = errors.New("invalid request")

// Metadata keys set on every run's state besides loop.MetadataRunID.
const (
	MetadataMode     = "mode"
	MetadataLanguage = "language"
)

// Store is the persistence the service writes to.
type Store interface {
	CreateRun(ctx context.Context, run store.Run) error
	AppendIteration(ctx context.Context, it store.Iteration) error
	CompleteRun(ctx context.Context, runID, finalPrompt string, iterations int) error
	FailRun(ctx context.Context, runID string, iterations int, errMsg string) error
	SavePrompt(ctx context.Context, prompt string, state json.RawMessage) (*store.PromptMemory, error)
}

// LanguageDetector reports the ISO 639-1 code of a text.
type LanguageDetector interface {
	DetectISO(text string) (string, bool)
}

// LanguageChecker reports an error when text is not in expectedLang.
type LanguageChecker interface {
	CheckLanguage(text, expectedLang string) error
}

// Config holds the defaults and limits applied to incoming requests.
type Config struct {
	CreatorModel  string
	CriticModel   string
	Iterations    int
	MaxIterations int
	RunTimeout    time.Duration
}

type Service struct {
	store    Store
	creator  loop.Creator
	critic   loop.Critic
	runner   *loop.Runner
	detector LanguageDetector
	checker  LanguageChecker
	cfg      Config
	logger   *slog.Logger
	newID    func() string
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithSteps replaces the model-backed creator and critic.
func WithSteps(c loop.Creator, k loop.Critic) Option {
	return func(s *Service) {
		s.creator = c
		s.critic = k
	}
}

// WithLanguageCheck enables language detection of the original prompt and a
// drift warning for every refined prompt.
func WithLanguageCheck(det LanguageDetector, checker LanguageChecker) Option {
	return func(s *Service) {
		s.detector = det
		s.checker = checker
	}
}

// WithIDGenerator overrides how run identifiers are generated.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) {
		s.newID = fn
	}
}

func New(invoker llm.Invoker, st Store, cfg Config, opts ...Option) *Service {
	s := &Service{
		store:   st,
		creator: creator.New(invoker),
		critic:  critic.New(invoker),
		cfg:     cfg,
		logger:  slog.Default(),
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.runner = loop.NewRunner(s.creator, s.critic, loop.WithObserver(s.record))
	return s
}

// Refine runs one refinement to completion. Either the whole loop succeeds
// and the final prompt is returned, or an error is returned and the run is
// marked failed.
func (s *Service) Refine(ctx context.Context, req internal.RefineRequest) (internal.RefineResponse, error) {
	req, err := s.normalize(req)
	if err != nil {
		return internal.RefineResponse{}, err
	}

	runID := s.newID()
	language := s.detectLanguage(req.Prompt)

	run := store.Run{
		ID:            runID,
		Mode:          string(req.Mode),
		CreatorModel:  req.CreatorModel,
		CriticModel:   req.CriticModel,
		MaxIterations: req.Iterations,
		Language:      language,
	}
	if err := s.store.CreateRun(ctx, run); err != nil {
		return internal.RefineResponse{}, fmt.Errorf("creating run: %w", err)
	}

	state := loop.NewState(req.Prompt, req.Iterations, req.CreatorModel, req.CriticModel)
	state.Metadata[loop.MetadataRunID] = runID
	state.Metadata[MetadataMode] = string(req.Mode)
	state.Metadata[MetadataLanguage] = language

	log := s.logger.With("run_id", runID)
	log.Info("refinement started",
		"mode", req.Mode,
		"max_iterations", req.Iterations,
		"creator_model", req.CreatorModel,
		"critic_model", req.CriticModel,
		"language", language)

	runCtx := ctx
	if s.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.cfg.RunTimeout)
		defer cancel()
	}

	started := time.Now()
	final, err := s.runner.Run(runCtx, state)
	if err != nil {
		s.fail(ctx, runID, final.Iteration, err)
		log.Error("refinement failed", "iteration", final.Iteration, "error", err)
		return internal.RefineResponse{}, err
	}

	if err := s.store.CompleteRun(ctx, runID, final.CurrentPrompt, final.Iteration); err != nil {
		return internal.RefineResponse{}, fmt.Errorf("completing run %s: %w", runID, err)
	}

	s.remember(ctx, log, final)

	log.Info("refinement finished",
		"iterations", final.Iteration,
		"score", lastScore(final),
		"duration", time.Since(started).Round(time.Millisecond))

	return internal.RefineResponse{
		RunID:       runID,
		FinalPrompt: final.CurrentPrompt,
		Iterations:  final.Iteration,
	}, nil
}

func (s *Service) normalize(req internal.RefineRequest) (internal.RefineRequest, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return req, fmt.Errorf("%w: prompt must not be empty", ErrInvalidRequest)
	}

	if req.Mode == "" {
		req.Mode = internal.ModeUserDefined
	}
	switch req.Mode {
	case internal.ModeUserDefined:
		if req.Iterations < 0 || req.Iterations > s.cfg.MaxIterations {
			return req, fmt.Errorf("%w: iterations must be between 0 and %d", ErrInvalidRequest, s.cfg.MaxIterations)
		}
	case internal.ModeAuto:
		req.Iterations = s.cfg.Iterations
	default:
		return req, fmt.Errorf("%w: unknown mode %q", ErrInvalidRequest, req.Mode)
	}

	if strings.TrimSpace(req.CreatorModel) == "" {
		req.CreatorModel = s.cfg.CreatorModel
	}
	if strings.TrimSpace(req.CriticModel) == "" {
		req.CriticModel = s.cfg.CriticModel
	}
	return req, nil
}

// record persists the cycle that just finished and appends it to History.
func (s *Service) record(ctx context.Context, st *loop.State) error {
	snap := st.Record()
	it := store.Iteration{
		RunID:     st.RunID(),
		Iteration: snap.Iteration,
		Prompt:    snap.Prompt,
		CreatedAt: snap.Timestamp.UTC(),
	}

	log := s.logger.With("run_id", it.RunID, "iteration", it.Iteration)

	if ev := snap.Critique; ev != nil {
		data, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("encoding critique: %w", err)
		}
		score := ev.Critique.Score
		it.Critique = data
		it.Score = &score
		it.Degraded = ev.IsDegraded()

		if it.Degraded {
			log.Warn("critic reply was not valid JSON, using neutral critique", "raw_length", len(ev.Raw))
		}
	}

	if err := s.store.AppendIteration(ctx, it); err != nil {
		return fmt.Errorf("saving iteration: %w", err)
	}

	if lang, _ := st.Metadata[MetadataLanguage].(string); lang != "" && s.checker != nil {
		if err := s.checker.CheckLanguage(snap.Prompt, lang); err != nil {
			log.Warn("refined prompt changed language", "error", err)
		}
	}

	if missing := placeholder.Missing(st.OriginalPrompt, snap.Prompt); len(missing) > 0 {
		log.Warn("refined prompt dropped protected spans", "missing", missing)
	}

	log.Debug("cycle recorded", "score", lastScore(st), "degraded", it.Degraded)
	return nil
}

// fail marks the run failed. It runs even when ctx is already cancelled.
func (s *Service) fail(ctx context.Context, runID string, iterations int, cause error) {
	ctx = context.WithoutCancel(ctx)
	if err := s.store.FailRun(ctx, runID, iterations, cause.Error()); err != nil {
		s.logger.Warn("could not mark run failed", "run_id", runID, "error", err)
	}
}

// remember stores the final state in prompt memory. Failures are logged only;
// the run itself has already completed.
func (s *Service) remember(ctx context.Context, log *slog.Logger, final *loop.State) {
	data, err := json.Marshal(final)
	if err != nil {
		log.Warn("could not encode state for prompt memory", "error", err)
		return
	}
	m, err := s.store.SavePrompt(ctx, final.OriginalPrompt, data)
	if err != nil {
		log.Warn("could not save prompt memory", "error", err)
		return
	}
	log.Debug("prompt memory saved", "prompt_id", m.ID, "version", m.CurrentVersion)
}

func (s *Service) detectLanguage(prompt string) string {
	if s.detector == nil {
		return ""
	}
	lang, ok := s.detector.DetectISO(prompt)
	if !ok {
		return ""
	}
	return lang
}

func lastScore(st *loop.State) int {
	if st.Critique == nil {
		return 0
	}
	return st.Critique.Critique.Score
}
