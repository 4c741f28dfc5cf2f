package server

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/54b3r/tixrag/internal/ingestion"
	"github.com/54b3r/tixrag/internal/logging"
	"github.com/54b3r/tixrag/internal/rag"
)

// handleUpsert handles POST /api/tickets. The body is a single ticket object
// in the ingestion input format; it is embedded and written with overwrite
// semantics.
func (s *Server) handleUpsert(w http.ResponseWriter, r *http.Request) {
	body, err := s.readBody(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	// Reuse the batch decoder so single and batch writes validate identically.
	tickets, err := ingestion.Decode(io.MultiReader(
		bytes.NewReader([]byte("[")), bytes.NewReader(body), bytes.NewReader([]byte("]")),
	))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if len(tickets) != 1 {
		writeError(w, r, rag.NewStageError(rag.StageInput, "", errors.New("expected exactly one ticket object")))
		return
	}

	t := tickets[0]
	err = s.ingester.Upsert(r.Context(), t)
	s.metrics.ticketsWrittenTotal.WithLabelValues(outcome(err)).Inc()
	if err != nil {
		writeError(w, r, err)
		return
	}

	logging.FromContext(r.Context()).Info("ticket upserted", slog.String("id", t.ID))
	writeJSON(w, r, http.StatusOK, map[string]string{"id": t.ID, "status": "stored"})
}

// handleIngest handles POST /api/tickets/batch. The body is a JSON array of
// tickets. A malformed entry rejects the whole batch with 400 before any
// write; remote failures are reported per ticket with 207 Multi-Status.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	body, err := s.readBody(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	tickets, err := ingestion.Decode(bytes.NewReader(body))
	if err != nil {
		writeError(w, r, err)
		return
	}

	report, err := s.ingester.Ingest(r.Context(), tickets, nil)
	if report != nil {
		s.metrics.ticketsWrittenTotal.WithLabelValues("ok").Add(float64(report.Succeeded))
		for _, f := range report.Failed {
			s.metrics.ticketsWrittenTotal.WithLabelValues(string(f.Stage)).Inc()
		}
	}
	switch {
	case err == nil:
		writeJSON(w, r, http.StatusOK, report)
	case report != nil && report.Succeeded > 0:
		logging.FromContext(r.Context()).Warn("batch ingest partially failed",
			slog.Int("succeeded", report.Succeeded),
			slog.Int("failed", len(report.Failed)),
		)
		writeJSON(w, r, http.StatusMultiStatus, report)
	default:
		status := statusFor(err)
		writeJSON(w, r, status, errorResponse{Error: err.Error(), Stage: string(rag.StageOf(err)), Report: report})
	}
}

// handleGetTicket handles GET /api/tickets/{id}.
func (s *Server) handleGetTicket(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rec, err := s.records.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, rag.NewStageError(rag.StageStore, id, err))
		return
	}
	writeJSON(w, r, http.StatusOK, matchJSONFrom(rag.Match{
		ID:       rec.ID,
		Document: rec.Document,
		Metadata: rec.Metadata,
	}))
}

// readBody reads the size-capped request body.
func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	limit := s.cfg.MaxBodyBytes
	if limit <= 0 {
		limit = defaultMaxBodyBytes
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		return nil, rag.NewStageError(rag.StageInput, "", fmt.Errorf("read request body: %w", err))
	}
	return body, nil
}
