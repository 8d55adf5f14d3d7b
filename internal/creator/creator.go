// Package creator implements the generation half of the refinement cycle.
// It rewrites the original prompt, guided by the latest critique when one
// exists.
package creator

import (
	"context"
	"fmt"
	"strings"

	"github.com/valpere/promptforge/internal/critic"
	"github.com/valpere/promptforge/internal/llm"
)

// Creator asks a model for an improved version of a prompt.
type Creator struct {
	invoker llm.Invoker
}

func New(invoker llm.Invoker) *Creator {
	return &Creator{invoker: invoker}
}

// Create returns the model's raw reply. Model errors are returned unchanged so
// the caller never proceeds with a stale prompt.
func (c *Creator) Create(ctx context.Context, model, originalPrompt string, critique *critic.Evaluation) (string, error) {
	return c.invoker.Invoke(ctx, model, BuildPrompt(originalPrompt, critique))
}

const firstIterationGuidance = "This is the first iteration - focus on clarity, specificity, and structure."

// BuildPrompt renders the generation request.
func BuildPrompt(originalPrompt string, critique *critic.Evaluation) string {
	return fmt.Sprintf(`You are an expert prompt engineer specializing in creating clear, effective, and well-structured prompts for large language models.

## Your Task
Refine and improve the following prompt based on the critique provided.

## Original Prompt
%s

## Previous Critique
%s

## Prompt Engineering Principles
1. **Clarity**: Use precise, unambiguous language
2. **Specificity**: Include concrete details, constraints, and requirements
3. **Structure**: Organize information logically with clear sections if needed
4. **Context**: Provide necessary background information
5. **Output Format**: Specify the desired format, length, and style
6. **Examples**: Include examples when they add clarity (if appropriate)
7. **Constraints**: Define boundaries, limitations, or requirements

## Instructions
- Address ALL weaknesses mentioned in the critique
- Preserve the strengths that were identified
- Implement the suggestions provided
- Ensure the improved prompt is self-contained and clear
- Make the prompt actionable and specific

## Output
Return ONLY the improved prompt text. No explanations, no meta-commentary, no markdown formatting.`,
		originalPrompt,
		renderCritique(critique),
	)
}

func renderCritique(ev *critic.Evaluation) string {
	if ev == nil {
		return firstIterationGuidance
	}

	c := ev.Critique
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Score: %d/%d\n", c.Score, critic.MaxScore))
	writeList(&sb, "Strengths", c.Strengths)
	writeList(&sb, "Weaknesses", c.Weaknesses)
	writeList(&sb, "Suggestions", c.Suggestions)
	return strings.TrimRight(sb.String(), "\n")
}

func writeList(sb *strings.Builder, title string, items []string) {
	sb.WriteString(title)
	sb.WriteString(":\n")
	if len(items) == 0 {
		sb.WriteString("- (none)\n")
		return
	}
	for _, item := range items {
		sb.WriteString("- ")
		sb.WriteString(item)
		sb.WriteString("\n")
	}
}
