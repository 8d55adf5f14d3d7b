package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/valpere/promptforge/internal"
	"github.com/valpere/promptforge/internal/critic"
	"github.com/valpere/promptforge/internal/llm"
	"github.com/valpere/promptforge/internal/logging"
	"github.com/valpere/promptforge/internal/store"
)

var testConfig = Config{
	CreatorModel:  "default-creator",
	CriticModel:   "default-critic",
	Iterations:    3,
	MaxIterations: 5,
}

type echoCreator struct {
	mu      sync.Mutex
	outputs []string
	calls   int
	models  []string
	err     error
}

func (c *echoCreator) Create(ctx context.Context, model, original string, critique *critic.Evaluation) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.models = append(c.models, model)
	if c.err != nil {
		return "", c.err
	}
	if c.calls <= len(c.outputs) {
		return c.outputs[c.calls-1], nil
	}
	return fmt.Sprintf("%s (v%d)", original, c.calls), nil
}

type fixedCritic struct {
	mu     sync.Mutex
	raw    string
	models []string
}

func (c *fixedCritic) Evaluate(ctx context.Context, model, prompt string) (critic.Evaluation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.models = append(c.models, model)
	return critic.Parse(c.raw), nil
}

type fakeDetector struct{ lang string }

func (d fakeDetector) DetectISO(string) (string, bool) { return d.lang, d.lang != "" }

type countingChecker struct{ calls int }

func (c *countingChecker) CheckLanguage(text, lang string) error {
	c.calls++
	return errors.New("drift")
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func newTestService(t *testing.T, st Store, cr *echoCreator, cc *fixedCritic, opts ...Option) *Service {
	t.Helper()
	if cc == nil {
		cc = &fixedCritic{raw: `{"score": 7, "strengths": ["clear"], "weaknesses": [], "suggestions": []}`}
	}
	opts = append([]Option{WithSteps(cr, cc), WithLogger(logging.Discard())}, opts...)
	return New(nil, st, testConfig, opts...)
}

func TestRefine_TwoIterations(t *testing.T) {
	st := newTestStore(t)
	cr := &echoCreator{outputs: []string{"first refinement", "second refinement"}}
	svc := newTestService(t, st, cr, nil)

	resp, err := svc.Refine(context.Background(), internal.RefineRequest{Prompt: "Write a poem", Iterations: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if resp.Iterations != 2 || resp.FinalPrompt != "second refinement" {
		t.Errorf("unexpected response %+v", resp)
	}
	if resp.RunID == "" {
		t.Fatal("expected run id")
	}

	run, err := st.GetRun(context.Background(), resp.RunID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if run.Status != store.StatusCompleted || run.FinalPrompt != "second refinement" || run.Iterations != 2 {
		t.Errorf("unexpected stored run %+v", run)
	}
	if run.Mode != string(internal.ModeUserDefined) || run.MaxIterations != 2 {
		t.Errorf("unexpected run settings %+v", run)
	}
}

func TestRefine_RunIDOnEveryIteration(t *testing.T) {
	st := newTestStore(t)
	svc := newTestService(t, st, &echoCreator{}, nil, WithIDGenerator(func() string { return "fixed-run-id" }))

	resp, err := svc.Refine(context.Background(), internal.RefineRequest{Prompt: "Write a poem", Iterations: 4})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.RunID != "fixed-run-id" {
		t.Errorf("expected generated run id, got %q", resp.RunID)
	}

	its, err := st.ListIterations(context.Background(), resp.RunID)
	if err != nil {
		t.Fatalf("ListIterations failed: %v", err)
	}
	if len(its) != 4 {
		t.Fatalf("expected 4 iterations, got %d", len(its))
	}
	for i, it := range its {
		if it.RunID != "fixed-run-id" {
			t.Errorf("iteration %d has run id %q", i+1, it.RunID)
		}
		if it.Iteration != i+1 {
			t.Errorf("expected iteration %d, got %d", i+1, it.Iteration)
		}
		if it.Score == nil || *it.Score != 7 {
			t.Errorf("expected score 7, got %v", it.Score)
		}
	}
}

func TestRefine_ZeroIterationsRunsOnce(t *testing.T) {
	st := newTestStore(t)
	cr := &echoCreator{}
	svc := newTestService(t, st, cr, nil)

	resp, err := svc.Refine(context.Background(), internal.RefineRequest{Prompt: "Write a poem", Iterations: 0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Iterations != 1 || cr.calls != 1 {
		t.Errorf("expected one cycle, got iterations=%d calls=%d", resp.Iterations, cr.calls)
	}
}

func TestRefine_DegradedCritiqueStored(t *testing.T) {
	st := newTestStore(t)
	cc := &fixedCritic{raw: "Looks fine to me."}
	svc := newTestService(t, st, &echoCreator{}, cc)

	resp, err := svc.Refine(context.Background(), internal.RefineRequest{Prompt: "Write a poem", Iterations: 1})
	if err != nil {
		t.Fatalf("degraded critique must not fail the run: %v", err)
	}

	its, err := st.ListIterations(context.Background(), resp.RunID)
	if err != nil {
		t.Fatalf("ListIterations failed: %v", err)
	}
	if len(its) != 1 || !its[0].Degraded {
		t.Fatalf("expected one degraded iteration, got %+v", its)
	}

	var stored map[string]any
	if err := json.Unmarshal(its[0].Critique, &stored); err != nil {
		t.Fatalf("stored critique is not JSON: %v", err)
	}
	if stored["raw_output"] != "Looks fine to me." {
		t.Errorf("expected raw critic text kept, got %v", stored["raw_output"])
	}
}

func TestRefine_ModesAndDefaults(t *testing.T) {
	st := newTestStore(t)
	cr := &echoCreator{}
	cc := &fixedCritic{raw: `{"score": 9}`}
	svc := newTestService(t, st, cr, cc)

	resp, err := svc.Refine(context.Background(), internal.RefineRequest{Prompt: "Write a poem", Mode: internal.ModeAuto, Iterations: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Iterations != testConfig.Iterations {
		t.Errorf("auto mode should use configured iterations %d, got %d", testConfig.Iterations, resp.Iterations)
	}
	for _, m := range cr.models {
		if m != "default-creator" {
			t.Errorf("expected default creator model, got %q", m)
		}
	}
	for _, m := range cc.models {
		if m != "default-critic" {
			t.Errorf("expected default critic model, got %q", m)
		}
	}

	cr2 := &echoCreator{}
	svc = newTestService(t, st, cr2, nil)
	if _, err := svc.Refine(context.Background(), internal.RefineRequest{Prompt: "p", CreatorModel: "custom", Iterations: 1}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cr2.models[0] != "custom" {
		t.Errorf("expected request model to win, got %q", cr2.models[0])
	}
}

func TestRefine_InvalidRequests(t *testing.T) {
	st := newTestStore(t)
	svc := newTestService(t, st, &echoCreator{}, nil)

	tests := []struct {
		name string
		req  internal.RefineRequest
	}{
		{"empty prompt", internal.RefineRequest{Prompt: "   ", Iterations: 1}},
		{"negative iterations", internal.RefineRequest{Prompt: "p", Iterations: -1}},
		{"too many iterations", internal.RefineRequest{Prompt: "p", Iterations: 6}},
		{"unknown mode", internal.RefineRequest{Prompt: "p", Mode: "turbo", Iterations: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Refine(context.Background(), tt.req)
			if !errors.Is(err, ErrInvalidRequest) {
				t.Errorf("expected ErrInvalidRequest, got %v", err)
			}
		})
	}

	runs, err := st.ListRuns(context.Background(), 0)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("invalid requests must not create runs, got %d", len(runs))
	}
}

func TestRefine_ModelFailureMarksRunFailed(t *testing.T) {
	st := newTestStore(t)
	boom := fmt.Errorf("%w: upstream returned 503", llm.ErrModel)
	svc := newTestService(t, st, &echoCreator{err: boom}, nil, WithIDGenerator(func() string { return "run-x" }))

	_, err := svc.Refine(context.Background(), internal.RefineRequest{Prompt: "Write a poem", Iterations: 2})
	if !errors.Is(err, llm.ErrModel) {
		t.Fatalf("expected model error, got %v", err)
	}

	run, err := st.GetRun(context.Background(), "run-x")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if run.Status != store.StatusFailed || !strings.Contains(run.Error, "503") {
		t.Errorf("expected failed run with error text, got %+v", run)
	}
}

func TestRefine_RunTimeout(t *testing.T) {
	st := newTestStore(t)
	slow := &slowCreator{delay: 200 * time.Millisecond}
	svc := New(nil, st, Config{MaxIterations: 3, RunTimeout: 20 * time.Millisecond},
		WithSteps(slow, &fixedCritic{raw: `{"score": 5}`}), WithLogger(logging.Discard()))

	_, err := svc.Refine(context.Background(), internal.RefineRequest{Prompt: "p", Iterations: 3})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestRefine_RunTimeoutDuringModelCall(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	st := newTestStore(t)
	invoker := llm.NewOpenRouterClient(llm.Config{APIKey: "key", BaseURL: server.URL})
	svc := New(invoker, st, Config{CreatorModel: "c", CriticModel: "k", MaxIterations: 3, RunTimeout: 50 * time.Millisecond},
		WithLogger(logging.Discard()), WithIDGenerator(func() string { return "timed-out" }))

	_, err := svc.Refine(context.Background(), internal.RefineRequest{Prompt: "Write a poem", Iterations: 2})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if !errors.Is(err, llm.ErrModel) {
		t.Errorf("expected model error in chain, got %v", err)
	}

	run, err := st.GetRun(context.Background(), "timed-out")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if run.Status != store.StatusFailed {
		t.Errorf("expected failed run, got %q", run.Status)
	}
}

type slowCreator struct{ delay time.Duration }

func (c *slowCreator) Create(ctx context.Context, model, original string, critique *critic.Evaluation) (string, error) {
	select {
	case <-time.After(c.delay):
		return original, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

type failingStore struct {
	*store.Store
	failAppend bool
}

func (f *failingStore) AppendIteration(ctx context.Context, it store.Iteration) error {
	if f.failAppend {
		return errors.New("disk full")
	}
	return f.Store.AppendIteration(ctx, it)
}

func TestRefine_PersistenceFailureAborts(t *testing.T) {
	st := &failingStore{Store: newTestStore(t), failAppend: true}
	cr := &echoCreator{}
	svc := newTestService(t, st, cr, nil, WithIDGenerator(func() string { return "run-p" }))

	_, err := svc.Refine(context.Background(), internal.RefineRequest{Prompt: "p", Iterations: 3})
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("expected persistence error, got %v", err)
	}
	if cr.calls != 1 {
		t.Errorf("expected run to stop after the first cycle, got %d calls", cr.calls)
	}

	run, err := st.GetRun(context.Background(), "run-p")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if run.Status != store.StatusFailed {
		t.Errorf("expected failed status, got %q", run.Status)
	}
}

func TestRefine_PromptMemory(t *testing.T) {
	st := newTestStore(t)
	svc := newTestService(t, st, &echoCreator{}, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := svc.Refine(ctx, internal.RefineRequest{Prompt: "Write a poem about autumn", Iterations: 1}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	entries, err := st.ListPrompts(ctx)
	if err != nil {
		t.Fatalf("ListPrompts failed: %v", err)
	}
	if len(entries) != 1 || entries[0].CurrentVersion != 2 {
		t.Fatalf("expected one entry at version 2, got %+v", entries)
	}

	m, err := st.GetPrompt(ctx, entries[0].ID)
	if err != nil {
		t.Fatalf("GetPrompt failed: %v", err)
	}
	var state struct {
		OriginalPrompt string `json:"original_prompt"`
		Iteration      int    `json:"iteration"`
		History        []any  `json:"history"`
	}
	if err := json.Unmarshal(m.State, &state); err != nil {
		t.Fatalf("state is not JSON: %v", err)
	}
	if state.OriginalPrompt != "Write a poem about autumn" || state.Iteration != 1 || len(state.History) != 1 {
		t.Errorf("unexpected remembered state %+v", state)
	}
}

func TestRefine_LanguageCheck(t *testing.T) {
	st := newTestStore(t)
	checker := &countingChecker{}
	svc := newTestService(t, st, &echoCreator{}, nil, WithLanguageCheck(fakeDetector{lang: "uk"}, checker))

	resp, err := svc.Refine(context.Background(), internal.RefineRequest{Prompt: "Напиши вірш", Iterations: 2})
	if err != nil {
		t.Fatalf("language drift must not fail the run: %v", err)
	}
	if checker.calls != 2 {
		t.Errorf("expected a check per cycle, got %d", checker.calls)
	}

	run, err := st.GetRun(context.Background(), resp.RunID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if run.Language != "uk" {
		t.Errorf("expected detected language stored, got %q", run.Language)
	}
}

func TestRefine_ConcurrentRuns(t *testing.T) {
	st := newTestStore(t)
	svc := newTestService(t, st, &echoCreator{}, nil)

	const n = 6
	var wg sync.WaitGroup
	ids := make([]string, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := svc.Refine(context.Background(), internal.RefineRequest{Prompt: fmt.Sprintf("Prompt number %d", i), Iterations: 2})
			ids[i], errs[i] = resp.RunID, err
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("run %d failed: %v", i, errs[i])
		}
		if seen[ids[i]] {
			t.Errorf("duplicate run id %q", ids[i])
		}
		seen[ids[i]] = true

		its, err := st.ListIterations(context.Background(), ids[i])
		if err != nil {
			t.Fatalf("ListIterations failed: %v", err)
		}
		if len(its) != 2 {
			t.Errorf("run %s: expected 2 iterations, got %d", ids[i], len(its))
		}
	}
}

func TestRefine_DroppedSpansWarn(t *testing.T) {
	var buf strings.Builder
	logger, err := logging.New("warn", "text", &buf)
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	cr := &echoCreator{outputs: []string{"Greet {name} warmly.", "Greet the user warmly."}}
	svc := newTestService(t, newTestStore(t), cr, nil, WithLogger(logger))

	if _, err := svc.Refine(context.Background(), internal.RefineRequest{Prompt: "Greet {name}", Iterations: 2}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out := buf.String()
	if strings.Count(out, "dropped protected spans") != 1 {
		t.Errorf("expected one warning for the second cycle, got:\n%s", out)
	}
	if !strings.Contains(out, "iteration=2") {
		t.Errorf("expected warning on iteration 2, got:\n%s", out)
	}
}
