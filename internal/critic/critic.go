// Package critic evaluates a prompt with an LLM and turns the reply into a
// structured Critique. A reply that cannot be decoded never fails the caller:
// it becomes a Degraded evaluation with a neutral score.
package critic

import (
	"context"
	"encoding/json"
	"math"
	"strings"

	"github.com/valpere/promptforge/internal/llm"
	"github.com/valpere/promptforge/internal/postprocess"
)

const (
	MinScore = 1
	MaxScore = 10

	// DegradedScore is the neutral score given when the reply is unusable.
	DegradedScore = 5
	// InvalidJSONWeakness is the single weakness recorded on a degraded critique.
	InvalidJSONWeakness = "Critic returned invalid JSON"
)

// Critique is the structured evaluation of one prompt.
type Critique struct {
	Score       int      `json:"score"`
	Strengths   []string `json:"strengths"`
	Weaknesses  []string `json:"weaknesses"`
	Suggestions []string `json:"suggestions"`
}

// Kind tells a parsed evaluation apart from a synthesized fallback.
type Kind int

const (
	Parsed Kind = iota
	Degraded
)

func (k Kind) String() string {
	switch k {
	case Parsed:
		return "parsed"
	case Degraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// Evaluation is either Parsed(Critique) or Degraded(Critique, Raw).
// Raw is set only for degraded evaluations.
type Evaluation struct {
	Kind     Kind
	Critique Critique
	Raw      string
}

func (e Evaluation) IsDegraded() bool {
	return e.Kind == Degraded
}

// MarshalJSON stores the critique fields flat, plus raw_output when degraded,
// matching the shape persisted for each iteration.
func (e Evaluation) MarshalJSON() ([]byte, error) {
	type wire struct {
		Critique
		RawOutput string `json:"raw_output,omitempty"`
	}
	return json.Marshal(wire{Critique: e.Critique.normalized(), RawOutput: e.Raw})
}

// Evaluator runs the critic step against a model backend.
type Evaluator struct {
	invoker llm.Invoker
}

func New(invoker llm.Invoker) *Evaluator {
	return &Evaluator{invoker: invoker}
}

// Evaluate asks model to score prompt. Only model-call errors are returned;
// malformed replies yield a Degraded evaluation.
func (e *Evaluator) Evaluate(ctx context.Context, model, prompt string) (Evaluation, error) {
	raw, err := e.invoker.Invoke(ctx, model, BuildPrompt(prompt))
	if err != nil {
		return Evaluation{}, err
	}
	return Parse(raw), nil
}

// Parse decodes a critic reply. It never fails. The reply is decoded as-is
// first; only when that fails is it cleaned of thinking blocks and fences.
func Parse(raw string) Evaluation {
	raw = strings.TrimSpace(raw)

	c, ok := decode(raw)
	if !ok {
		c, ok = decode(postprocess.CleanJSON(raw))
	}
	if !ok {
		return degraded(raw)
	}
	return Evaluation{Kind: Parsed, Critique: c}
}

func decode(text string) (Critique, bool) {
	var parsed struct {
		Score       *float64 `json:"score"`
		Strengths   []string `json:"strengths"`
		Weaknesses  []string `json:"weaknesses"`
		Suggestions []string `json:"suggestions"`
	}

	if err := json.Unmarshal([]byte(text), &parsed); err != nil || parsed.Score == nil {
		return Critique{}, false
	}

	c := Critique{
		Score:       clampScore(*parsed.Score),
		Strengths:   parsed.Strengths,
		Weaknesses:  parsed.Weaknesses,
		Suggestions: parsed.Suggestions,
	}
	return c.normalized(), true
}

func degraded(raw string) Evaluation {
	return Evaluation{
		Kind: Degraded,
		Critique: Critique{
			Score:       DegradedScore,
			Strengths:   []string{},
			Weaknesses:  []string{InvalidJSONWeakness},
			Suggestions: []string{},
		},
		Raw: raw,
	}
}

// clampScore bounds score before converting, so huge values cannot overflow.
func clampScore(score float64) int {
	score = math.Max(MinScore, math.Min(MaxScore, score))
	return int(math.Round(score))
}

// normalized replaces nil lists with empty ones so JSON output is stable.
func (c Critique) normalized() Critique {
	if c.Strengths == nil {
		c.Strengths = []string{}
	}
	if c.Weaknesses == nil {
		c.Weaknesses = []string{}
	}
	if c.Suggestions == nil {
		c.Suggestions = []string{}
	}
	return c
}
