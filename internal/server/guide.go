package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/54b3r/tixrag/internal/logging"
	"github.com/54b3r/tixrag/internal/rag"
)

// handleSearch handles POST /api/search. It returns the ranked matches and
// their formatted case-block context without calling the model.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, r, rag.NewStageError(rag.StageInput, "", errors.New("query is required")))
		return
	}

	matches, err := s.retriever.Search(r.Context(), req.Query, req.N)
	s.metrics.searchRequestsTotal.WithLabelValues(outcome(err)).Inc()
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := searchResponse{Matches: make([]matchJSON, 0, len(matches)), Context: rag.FormatContext(matches)}
	for _, m := range matches {
		resp.Matches = append(resp.Matches, matchJSONFrom(m))
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// handleGuide handles POST /api/guide. By default it returns the finished
// guide as JSON. With "stream": true it streams the guide as Server-Sent
// Events, ending with a "done" event or an in-band "error" event.
func (s *Server) handleGuide(w http.ResponseWriter, r *http.Request) {
	var req guideRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, r, rag.NewStageError(rag.StageInput, "", errors.New("query is required")))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.guideTimeout())
	defer cancel()

	s.metrics.guideActive.Inc()
	defer s.metrics.guideActive.Dec()
	start := time.Now()

	if req.Stream {
		err := s.streamGuide(ctx, w, req.Query)
		s.observeGuide(start, err)
		return
	}

	guide, err := s.guides.Synthesize(ctx, req.Query)
	s.observeGuide(start, err)
	if err != nil {
		writeError(w, r, err)
		return
	}

	ids := make([]string, 0, len(guide.Matches))
	for _, m := range guide.Matches {
		ids = append(ids, m.ID)
	}
	writeJSON(w, r, http.StatusOK, guideResponse{Query: guide.Query, Guide: guide.Text, Tickets: ids})
}

// streamGuide writes the guide as SSE. Errors after the headers are sent are
// delivered in-band, tagged with their stage.
func (s *Server) streamGuide(ctx context.Context, w http.ResponseWriter, query string) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return errors.New("streaming not supported")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	sw := &sseWriter{w: w, flusher: flusher}
	guide, err := s.guides.Stream(ctx, query, sw)
	if err != nil {
		logging.FromContext(ctx).Warn("guide stream failed",
			slog.String("stage", string(rag.StageOf(err))),
			slog.Any("error", err),
		)
		sw.event("error", outcome(err)+": "+err.Error())
		return err
	}

	ids := make([]string, 0, len(guide.Matches))
	for _, m := range guide.Matches {
		ids = append(ids, m.ID)
	}
	sw.event("tickets", strings.Join(ids, ","))
	sw.event("done", "[DONE]")
	return nil
}

// observeGuide records the outcome and latency of one guide request.
func (s *Server) observeGuide(start time.Time, err error) {
	o := outcome(err)
	s.metrics.guideRequestsTotal.WithLabelValues(o).Inc()
	s.metrics.guideDurationSeconds.WithLabelValues(o).Observe(time.Since(start).Seconds())
}

// guideTimeout returns the configured per-request guide deadline.
func (s *Server) guideTimeout() time.Duration {
	if s.cfg.GuideTimeout > 0 {
		return s.cfg.GuideTimeout
	}
	return 2 * time.Minute
}

// matchJSONFrom flattens a match's metadata for the API.
func matchJSONFrom(m rag.Match) matchJSON {
	return matchJSON{
		ID:           m.ID,
		Title:        m.Metadata[rag.MetaTitle],
		Document:     m.Document,
		Status:       m.Metadata[rag.MetaStatus],
		Contributors: rag.DecodeContributors(m.Metadata[rag.MetaContributors]),
		Distance:     m.Distance,
	}
}
