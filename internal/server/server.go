// Package server implements the HTTP server that exposes ticket ingestion,
// similarity search and troubleshooting-guide synthesis as a JSON/SSE API.
// The server is started by the `tixrag serve` CLI command.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/54b3r/tixrag/internal/logging"
	"github.com/54b3r/tixrag/internal/rag"
)

// defaultMaxBodyBytes caps request bodies when Config.MaxBodyBytes is zero.
const defaultMaxBodyBytes = 8 << 20

// New constructs a Server from the provided collaborators and config.
func New(deps Deps, cfg *Config) (*Server, error) {
	if deps.Guides == nil {
		return nil, fmt.Errorf("server: Guides must not be nil")
	}
	if deps.Retriever == nil {
		return nil, fmt.Errorf("server: Retriever must not be nil")
	}
	if deps.Ingester == nil {
		return nil, fmt.Errorf("server: Ingester must not be nil")
	}
	if deps.Records == nil {
		return nil, fmt.Errorf("server: Records must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		// WriteTimeout must be long enough for streaming responses.
		cfg.WriteTimeout = 5 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.GuideTimeout == 0 {
		cfg.GuideTimeout = 2 * time.Minute
	}
	if cfg.MaxBodyBytes == 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New()
	}
	if cfg.MetricsRegistry == nil {
		cfg.MetricsRegistry = prometheus.DefaultRegisterer
	}
	if cfg.MetricsGatherer == nil {
		cfg.MetricsGatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		guides:    deps.Guides,
		retriever: deps.Retriever,
		ingester:  deps.Ingester,
		records:   deps.Records,
		cfg:       cfg,
		log:       cfg.Logger,
		pingers:   cfg.Pingers,
		metrics:   newServerMetrics(cfg.MetricsRegistry),
	}

	rl, stop := newRateLimiter(cfg.RateLimit, cfg.RateBurst, s.log, s.metrics.rateLimitedTotal)
	s.stopRL = stop

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      requestLogger(s.log, s.routes(rl)),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// routes builds the request multiplexer. Every route that reaches the
// embedding service or the model is rate limited per client IP.
func (s *Server) routes(rl *rateLimiter) http.Handler {
	mux := http.NewServeMux()
	limited := func(name string, h http.HandlerFunc) http.Handler {
		return s.instrument(name, rl.middleware(name, h))
	}

	mux.Handle("POST /api/tickets", limited("tickets", s.handleUpsert))
	mux.Handle("POST /api/tickets/batch", limited("tickets_batch", s.handleIngest))
	mux.Handle("GET /api/tickets/{id}", s.instrument("ticket", http.HandlerFunc(s.handleGetTicket)))
	mux.Handle("POST /api/search", limited("search", s.handleSearch))
	mux.Handle("POST /api/guide", limited("guide", s.handleGuide))
	mux.Handle("GET /api/health", s.instrument("health", http.HandlerFunc(s.handleHealth)))
	mux.Handle("GET /api/ready", s.instrument("ready", http.HandlerFunc(s.handleReady)))
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.cfg.MetricsGatherer, promhttp.HandlerOpts{}))
	return mux
}

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	defer s.stopRL()

	go func() {
		s.log.Info("server listening", slog.String("addr", "http://"+s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// handleHealth handles GET /api/health for liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

// decodeBody decodes a size-capped JSON request body into dst. Unknown
// fields are rejected.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	limit := s.cfg.MaxBodyBytes
	if limit <= 0 {
		limit = defaultMaxBodyBytes
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, limit))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return rag.NewStageError(rag.StageInput, "", fmt.Errorf("invalid request body: %w", err))
	}
	return nil
}

// writeJSON encodes v with the given status.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(r.Context()).Error("response encode error", slog.Any("error", err))
	}
}

// writeError reports err as a JSON error body whose status reflects the
// failing stage.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logging.FromContext(r.Context()).Error("request failed",
			slog.Int("status", status),
			slog.String("stage", string(rag.StageOf(err))),
			slog.Any("error", err),
		)
	}
	writeJSON(w, r, status, errorResponse{Error: err.Error(), Stage: string(rag.StageOf(err))})
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, rag.ErrCanceled):
		return http.StatusGatewayTimeout
	case errors.Is(err, rag.ErrMalformedInput):
		return http.StatusBadRequest
	case errors.Is(err, rag.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, rag.ErrDuplicateID):
		return http.StatusConflict
	case errors.Is(err, rag.ErrStore):
		return http.StatusServiceUnavailable
	case errors.Is(err, rag.ErrEmbedding), errors.Is(err, rag.ErrGeneration):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// outcome is the metrics label for a finished request: "ok", "canceled",
// or the failing stage.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, rag.ErrCanceled):
		return "canceled"
	case rag.StageOf(err) != "":
		return string(rag.StageOf(err))
	default:
		return "error"
	}
}

// sseWriter wraps an http.ResponseWriter to emit Server-Sent Event data frames.
type sseWriter struct {
	// w is the underlying response writer.
	w http.ResponseWriter

	// flusher flushes buffered data to the client after each write.
	flusher http.Flusher
}

// Write formats p as one or more SSE data lines and flushes to the client.
// Each newline in p is prefixed with "data: " so multi-line chunks never
// break the SSE frame boundary.
func (s *sseWriter) Write(p []byte) (n int, err error) {
	chunk := strings.TrimRight(string(bytes.Clone(p)), "\n")
	lines := strings.Split(chunk, "\n")
	var buf strings.Builder
	for _, line := range lines {
		buf.WriteString("data: ")
		buf.WriteString(line)
		buf.WriteString("\n")
	}
	buf.WriteString("\n")
	if _, err = fmt.Fprint(s.w, buf.String()); err != nil {
		return 0, err
	}
	s.flusher.Flush()
	return len(p), nil
}

// event writes a named SSE event with a single data line.
func (s *sseWriter) event(name, data string) {
	fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", name, strings.ReplaceAll(data, "\n", " "))
	s.flusher.Flush()
}
