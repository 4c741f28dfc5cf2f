package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/54b3r/tixrag/internal/logging"
)

// pingTimeout bounds each dependency check.
const pingTimeout = 5 * time.Second

// Pinger reports whether one dependency (vector store, embedding service,
// model endpoint) is reachable. Implementations must be safe for
// concurrent use.
type Pinger interface {
	// Ping returns nil when the dependency is reachable.
	Ping(ctx context.Context) error
	// Name labels the dependency in readiness output, e.g. "sqlite".
	Name() string
}

// MultiPinger checks several dependencies as one.
type MultiPinger struct {
	pingers []Pinger
}

// NewMultiPinger groups pingers.
func NewMultiPinger(pingers ...Pinger) *MultiPinger {
	return &MultiPinger{pingers: pingers}
}

// Ping checks every dependency concurrently and joins the failures, each
// prefixed with the dependency name, in registration order.
func (m *MultiPinger) Ping(ctx context.Context) error {
	var errs []error
	for _, c := range pingAll(ctx, m.pingers) {
		if c.err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c.Name, c.err))
		}
	}
	return errors.Join(errs...)
}

// Name implements Pinger.
func (m *MultiPinger) Name() string { return "multi" }

// readyCheck is one dependency's ping result.
type readyCheck struct {
	Name  string `json:"name"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
	// LatencyMS is how long the ping took, failed pings included.
	LatencyMS int64 `json:"latency_ms"`

	err error
}

// readyResponse is the body of GET /api/ready.
type readyResponse struct {
	Ready  bool         `json:"ready"`
	Checks []readyCheck `json:"checks"`
}

// pingAll runs each pinger under its own pingTimeout. Results keep the
// order of pingers.
func pingAll(ctx context.Context, pingers []Pinger) []readyCheck {
	checks := make([]readyCheck, len(pingers))
	var g errgroup.Group
	for i, p := range pingers {
		g.Go(func() error {
			pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
			defer cancel()

			start := time.Now()
			err := p.Ping(pingCtx)
			checks[i] = readyCheck{
				Name:      p.Name(),
				OK:        err == nil,
				LatencyMS: time.Since(start).Milliseconds(),
				err:       err,
			}
			if err != nil {
				checks[i].Error = err.Error()
			}
			return nil
		})
	}
	_ = g.Wait()
	return checks
}

// handleReady handles GET /api/ready. It answers 200 when every registered
// dependency responds and 503 otherwise; /api/health only reports that the
// process is up.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	resp := readyResponse{Ready: true, Checks: pingAll(r.Context(), s.pingers)}
	for _, c := range resp.Checks {
		if c.OK {
			continue
		}
		resp.Ready = false
		log.Warn("readiness check failed",
			slog.String("dependency", c.Name),
			slog.Int64("latency_ms", c.LatencyMS),
			slog.Any("error", c.err),
		)
	}

	status := http.StatusOK
	if !resp.Ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, r, status, resp)
}
