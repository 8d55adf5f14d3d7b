package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewOpenRouterClient_Defaults(t *testing.T) {
	c := NewOpenRouterClient(Config{APIKey: "key"})

	if c.baseURL != DefaultOpenRouterURL {
		t.Errorf("expected default base URL, got %q", c.baseURL)
	}
	if c.title != "PromptForge" {
		t.Errorf("expected default title, got %q", c.title)
	}
	if c.client == nil {
		t.Error("expected non-nil HTTP client")
	}
}

func TestOpenRouterClient_Invoke_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected Authorization header %q", got)
		}
		if got := r.Header.Get("X-Title"); got != "PromptForge" {
			t.Errorf("unexpected X-Title header %q", got)
		}

		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Model != "openai/gpt-4o-mini" {
			t.Errorf("expected model 'openai/gpt-4o-mini', got %q", req.Model)
		}
		if len(req.Messages) != 1 || req.Messages[0].Content != "Write a poem" {
			t.Errorf("unexpected messages: %+v", req.Messages)
		}
		if req.Temperature != 0.7 {
			t.Errorf("expected temperature 0.7, got %v", req.Temperature)
		}

		w.Write([]byte(`{"choices":[{"message":{"content":"  Improved prompt  "}}]}`))
	}))
	defer server.Close()

	c := NewOpenRouterClient(Config{APIKey: "test-key", BaseURL: server.URL, Temperature: 0.7})

	out, err := c.Invoke(context.Background(), "openai/gpt-4o-mini", "Write a poem")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// raw text is returned untouched
	if out != "  Improved prompt  " {
		t.Errorf("expected raw content, got %q", out)
	}
}

func TestOpenRouterClient_Invoke_NoAPIKey(t *testing.T) {
	c := NewOpenRouterClient(Config{})

	_, err := c.Invoke(context.Background(), "m", "p")
	if !errors.Is(err, ErrModel) {
		t.Errorf("expected ErrModel, got %v", err)
	}
}

func TestOpenRouterClient_Invoke_NoModel(t *testing.T) {
	c := NewOpenRouterClient(Config{APIKey: "key"})

	_, err := c.Invoke(context.Background(), " ", "p")
	if !errors.Is(err, ErrModel) {
		t.Errorf("expected ErrModel, got %v", err)
	}
}

func TestOpenRouterClient_Invoke_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"User not found"}}`))
	}))
	defer server.Close()

	c := NewOpenRouterClient(Config{APIKey: "bad", BaseURL: server.URL})

	_, err := c.Invoke(context.Background(), "m", "p")
	if err == nil {
		t.Fatal("expected error for non-OK status")
	}
	if !errors.Is(err, ErrModel) {
		t.Errorf("expected ErrModel, got %v", err)
	}
}

func TestOpenRouterClient_Invoke_EmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer server.Close()

	c := NewOpenRouterClient(Config{APIKey: "key", BaseURL: server.URL})

	if _, err := c.Invoke(context.Background(), "m", "p"); err == nil {
		t.Error("expected error for empty choices")
	}
}

func TestOpenRouterClient_Invoke_ContextCanceled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[{"message":{"content":"x"}}]}`))
	}))
	defer server.Close()

	c := NewOpenRouterClient(Config{APIKey: "key", BaseURL: server.URL})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := c.Invoke(ctx, "m", "p"); err == nil {
		t.Error("expected error for canceled context")
	}
}

func TestOpenRouterClient_Invoke_DeadlineKeepsCause(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	c := NewOpenRouterClient(Config{APIKey: "key", BaseURL: server.URL})
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := c.Invoke(ctx, "m", "p")
	if !errors.Is(err, ErrModel) {
		t.Errorf("expected ErrModel, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded in chain, got %v", err)
	}
}
