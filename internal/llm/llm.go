// Package llm wraps chat-completion backends behind a single synchronous
// request/response contract: send one prompt to one model, get text back.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrModel marks failures reported by, or while talking to, a model backend.
var ErrModel = errors.New("model invocation failed")

// Invoker sends a single prompt to the named model and returns its text reply.
type Invoker interface {
	Invoke(ctx context.Context, model, prompt string) (string, error)
}

// InvokerFunc adapts a plain function to the Invoker interface.
type InvokerFunc func(ctx context.Context, model, prompt string) (string, error)

func (f InvokerFunc) Invoke(ctx context.Context, model, prompt string) (string, error) {
	return f(ctx, model, prompt)
}

// Provider names accepted by New.
const (
	ProviderOpenRouter = "openrouter"
	ProviderOllama     = "ollama"
	ProviderOpenAI     = "openai"
	ProviderAnthropic  = "anthropic"
)

// Providers lists every provider New can build.
var Providers = []string{ProviderOpenRouter, ProviderOllama, ProviderOpenAI, ProviderAnthropic}

type Config struct {
	Provider    string        `mapstructure:"provider" json:"provider"`
	APIKey      string        `mapstructure:"api_key" json:"api_key"`
	BaseURL     string        `mapstructure:"base_url" json:"base_url"`
	Temperature float64       `mapstructure:"temperature" json:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens" json:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout" json:"timeout"`
	// Title is sent to OpenRouter as X-Title for attribution.
	Title string `mapstructure:"-" json:"-"`
}

// New builds the Invoker selected by cfg.Provider.
func New(cfg Config) (Invoker, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", ProviderOpenRouter:
		return NewOpenRouterClient(cfg), nil
	case ProviderOllama:
		return NewOllamaClient(cfg), nil
	case ProviderOpenAI:
		return NewOpenAIClient(cfg), nil
	case ProviderAnthropic:
		return NewAnthropicClient(cfg), nil
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", cfg.Provider)
	}
}

// IsKnownProvider reports whether name is accepted by New.
func IsKnownProvider(name string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return true
	}
	for _, p := range Providers {
		if p == name {
			return true
		}
	}
	return false
}

func requireModel(model string) error {
	if strings.TrimSpace(model) == "" {
		return fmt.Errorf("%w: model identifier required", ErrModel)
	}
	return nil
}
