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

func TestNewOllamaClient(t *testing.T) {
	c := NewOllamaClient(Config{})

	if c.baseURL != DefaultOllamaURL {
		t.Errorf("expected default base URL, got %q", c.baseURL)
	}
	if c.client == nil {
		t.Error("expected non-nil HTTP client")
	}
}

func TestOllamaClient_Invoke_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		var req ollamaRequest
		json.NewDecoder(r.Body).Decode(&req)

		if req.Model != "llama3.2" {
			t.Errorf("expected model 'llama3.2', got %q", req.Model)
		}
		if req.Stream {
			t.Error("expected stream=false")
		}

		json.NewEncoder(w).Encode(ollamaResponse{Response: "Refined prompt"})
	}))
	defer server.Close()

	c := NewOllamaClient(Config{BaseURL: server.URL})

	out, err := c.Invoke(context.Background(), "llama3.2", "Write a poem")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "Refined prompt" {
		t.Errorf("expected 'Refined prompt', got %q", out)
	}
}

func TestOllamaClient_Invoke_StatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c := NewOllamaClient(Config{BaseURL: server.URL})

	_, err := c.Invoke(context.Background(), "llama3.2", "p")
	if !errors.Is(err, ErrModel) {
		t.Errorf("expected ErrModel, got %v", err)
	}
}

func TestOllamaClient_IsAvailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(`{"models":[]}`))
	}))
	defer server.Close()

	c := NewOllamaClient(Config{BaseURL: server.URL})

	if err := c.IsAvailable(context.Background()); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestOllamaClient_Invoke_DeadlineKeepsCause(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	c := NewOllamaClient(Config{BaseURL: server.URL})
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
