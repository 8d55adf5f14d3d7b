// Package server exposes refinement and run inspection over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/valpere/promptforge/internal"
	"github.com/valpere/promptforge/internal/llm"
	"github.com/valpere/promptforge/internal/service"
	"github.com/valpere/promptforge/internal/store"
)

const (
	defaultPrefix       = "/api/v1"
	defaultMaxBodyBytes = 65536
	defaultRunsLimit    = 20
)

// Refiner runs one refinement request to completion.
type Refiner interface {
	Refine(ctx context.Context, req internal.RefineRequest) (internal.RefineResponse, error)
}

// Runs is the read side of the store used by the inspection endpoints.
type Runs interface {
	Ping(ctx context.Context) error
	ListRuns(ctx context.Context, limit int) ([]store.Run, error)
	GetRun(ctx context.Context, runID string) (*store.Run, error)
	ListIterations(ctx context.Context, runID string) ([]store.Iteration, error)
	ListPrompts(ctx context.Context) ([]store.PromptMemory, error)
}

// Options configures the HTTP server.
type Options struct {
	Addr         string
	Prefix       string
	AppName      string
	Version      string
	MaxBodyBytes int64
	// RateLimit is requests per second accepted on the refine endpoint.
	// Zero disables limiting.
	RateLimit float64
	RateBurst int
	Logger    *slog.Logger
}

// Start serves until ctx is canceled, then shuts down gracefully.
func Start(ctx context.Context, opts Options, refiner Refiner, runs Runs) error {
	srv := &http.Server{
		Addr:              opts.Addr,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
		Handler:           NewHandler(opts, refiner, runs),
	}

	shutdownErr := make(chan error, 1)
	go func() {
		<-ctx.Done()
		ctxTimeout, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		shutdownErr <- srv.Shutdown(ctxTimeout)
	}()

	logger(opts).Info("server listening", "addr", opts.Addr, "prefix", prefix(opts))

	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		select {
		case err := <-shutdownErr:
			return err
		default:
			return nil
		}
	}
	return err
}

type handler struct {
	opts    Options
	refiner Refiner
	runs    Runs
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewHandler builds the routed handler with CORS, body limits and request
// logging applied.
func NewHandler(opts Options, refiner Refiner, runs Runs) http.Handler {
	h := &handler{
		opts:    opts,
		refiner: refiner,
		runs:    runs,
		logger:  logger(opts),
	}
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst < 1 {
			burst = 1
		}
		h.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}

	p := prefix(opts)
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+p+"/prompt/refine", h.refine)
	mux.HandleFunc("GET "+p+"/health", h.health)
	mux.HandleFunc("GET "+p+"/runs", h.listRuns)
	mux.HandleFunc("GET "+p+"/runs/{id}", h.getRun)
	mux.HandleFunc("GET "+p+"/prompts", h.listPrompts)

	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}
	return h.withLogging(withCORS(mux, maxBody))
}

func (h *handler) refine(w http.ResponseWriter, r *http.Request) {
	if h.limiter != nil && !h.limiter.Allow() {
		writeJSONError(w, http.StatusTooManyRequests, "Rate limit exceeded")
		return
	}

	var req internal.RefineRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return
		}
		writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	resp, err := h.refiner.Refine(r.Context(), req)
	if err != nil {
		status := statusFor(err)
		if status < http.StatusInternalServerError {
			writeJSONError(w, status, err.Error())
			return
		}
		h.logger.Error("refine failed", "status", status, "error", err)
		writeJSONError(w, status, serverErrorMessage(status))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	payload := map[string]string{
		"status":  "ok",
		"service": h.opts.AppName,
		"version": h.opts.Version,
	}
	if err := h.runs.Ping(r.Context()); err != nil {
		h.logger.Warn("database ping failed", "error", err)
		payload["status"] = "degraded"
		writeJSON(w, http.StatusServiceUnavailable, payload)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

type runsResponse struct {
	Runs []store.Run `json:"runs"`
}

func (h *handler) listRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	runs, err := h.runs.ListRuns(r.Context(), limit)
	if err != nil {
		h.logger.Error("list runs failed", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "Failed to list runs")
		return
	}
	if runs == nil {
		runs = []store.Run{}
	}
	writeJSON(w, http.StatusOK, runsResponse{Runs: runs})
}

type runResponse struct {
	*store.Run
	IterationRecords []store.Iteration `json:"iteration_records"`
}

func (h *handler) getRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	run, err := h.runs.GetRun(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSONError(w, http.StatusNotFound, fmt.Sprintf("Run not found: %s", id))
			return
		}
		h.logger.Error("get run failed", "run_id", id, "error", err)
		writeJSONError(w, http.StatusInternalServerError, "Failed to read run")
		return
	}

	its, err := h.runs.ListIterations(r.Context(), id)
	if err != nil {
		h.logger.Error("list iterations failed", "run_id", id, "error", err)
		writeJSONError(w, http.StatusInternalServerError, "Failed to read iterations")
		return
	}
	if its == nil {
		its = []store.Iteration{}
	}
	writeJSON(w, http.StatusOK, runResponse{Run: run, IterationRecords: its})
}

type promptsResponse struct {
	Prompts []store.PromptMemory `json:"prompts"`
}

func (h *handler) listPrompts(w http.ResponseWriter, r *http.Request) {
	prompts, err := h.runs.ListPrompts(r.Context())
	if err != nil {
		h.logger.Error("list prompts failed", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "Failed to list prompts")
		return
	}
	if prompts == nil {
		prompts = []store.PromptMemory{}
	}
	writeJSON(w, http.StatusOK, promptsResponse{Prompts: prompts})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, llm.ErrModel):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// serverErrorMessage is the client-facing text for 5xx responses; the
// wrapped error stays in the log.
func serverErrorMessage(status int) string {
	switch status {
	case http.StatusBadGateway:
		return "Model backend failed"
	case http.StatusGatewayTimeout:
		return "Refinement timed out"
	default:
		return "Refinement failed"
	}
}

func withCORS(next http.Handler, maxBody int64) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := resolveCORSOrigin(r.Header.Get("Origin")); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.Header().Set("Access-Control-Max-Age", "86400")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxBody)
		next.ServeHTTP(w, r)
	})
}

// resolveCORSOrigin allows any port on a loopback host.
func resolveCORSOrigin(origin string) string {
	origin = strings.TrimSpace(origin)
	if origin == "" {
		return ""
	}

	for _, host := range []string{"http://localhost", "http://127.0.0.1", "http://[::1]"} {
		if origin == host || strings.HasPrefix(origin, host+":") {
			return origin
		}
	}
	return ""
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (h *handler) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		h.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start).Round(time.Millisecond))
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "Failed to encode response")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func prefix(opts Options) string {
	p := strings.TrimRight(strings.TrimSpace(opts.Prefix), "/")
	if p == "" && opts.Prefix == "" {
		return defaultPrefix
	}
	return p
}

func logger(opts Options) *slog.Logger {
	if opts.Logger != nil {
		return opts.Logger
	}
	return slog.Default()
}
