// Package ingestion implements the ticket ingestion pipeline.
// It validates ticket records, embeds each ticket's canonical text, and
// writes the results into the record store. This pipeline is invoked by
// `tixrag ingest`, `tixrag upsert` and the HTTP ticket endpoints.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/54b3r/tixrag/internal/logging"
	"github.com/54b3r/tixrag/internal/rag"
)

// DefaultWorkers is the number of concurrent embedding calls when unset.
const DefaultWorkers = 1

// Config holds the configuration for the ingestion pipeline.
type Config struct {
	// Workers bounds concurrent embedding calls. Writes are always
	// sequential in input order. Defaults to 1 if zero.
	Workers int

	// Strict makes Ingest use add semantics: a ticket whose id already
	// exists fails with a store error instead of being overwritten.
	Strict bool
}

// Failure describes one ticket that was not stored.
type Failure struct {
	// ID is the ticket id.
	ID string `json:"id"`
	// Stage is the pipeline stage that failed.
	Stage rag.Stage `json:"stage"`
	// Error is the failure message.
	Error string `json:"error"`
}

// Report summarises an Ingest run.
type Report struct {
	// Total is the number of tickets submitted.
	Total int `json:"total"`
	// Succeeded is the number of tickets written to the store.
	Succeeded int `json:"succeeded"`
	// Failed lists every ticket that was not written, in input order.
	Failed []Failure `json:"failed"`
}

// Pipeline orchestrates the validate → embed → store flow for tickets.
type Pipeline struct {
	// embedder converts ticket text into dense vector embeddings.
	embedder rag.Embedder

	// store persists the embedded tickets.
	store rag.VectorStore

	// cfg holds the resolved pipeline configuration.
	cfg *Config
}

// NewPipeline constructs a Pipeline from the provided dependencies and config.
func NewPipeline(embedder rag.Embedder, store rag.VectorStore, cfg *Config) (*Pipeline, error) {
	if embedder == nil {
		return nil, fmt.Errorf("ingestion: embedder must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("ingestion: store must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	return &Pipeline{embedder: embedder, store: store, cfg: cfg}, nil
}

// Ingest validates, embeds and stores tickets.
//
// Validation is all-or-nothing: if any ticket is malformed nothing is
// written and the returned error matches rag.ErrMalformedInput. Remote
// failures are isolated per ticket: every other ticket is still processed,
// the report lists each failure, and the returned error joins the per-ticket
// stage errors. A nil error means every ticket was stored.
//
// Progress is reported via the optional progress callback.
func (p *Pipeline) Ingest(ctx context.Context, tickets []rag.Ticket, progress func(msg string)) (*Report, error) {
	if progress == nil {
		progress = func(string) {}
	}
	ctx = logging.With(ctx, slog.Int("batch_size", len(tickets)))
	log := logging.FromContext(ctx)
	report := &Report{Total: len(tickets), Failed: []Failure{}}

	var invalid []error
	for i, t := range tickets {
		if err := Validate(t); err != nil {
			invalid = append(invalid, rag.NewStageError(rag.StageInput, t.ID, fmt.Errorf("entry %d: %w", i, err)))
		}
	}
	if len(invalid) > 0 {
		for _, err := range invalid {
			report.Failed = append(report.Failed, failureOf(err))
		}
		return report, errors.Join(invalid...)
	}

	embeddings, embedErrs := p.embedAll(ctx, tickets, progress)

	var errs []error
	for i, t := range tickets {
		err := embedErrs[i]
		if err == nil {
			err = p.write(ctx, t, embeddings[i])
		}
		if err != nil {
			log.Warn("ingestion: ticket not stored",
				slog.String("id", t.ID),
				slog.String("stage", string(rag.StageOf(err))),
				slog.String("error", err.Error()),
			)
			report.Failed = append(report.Failed, failureOf(err))
			errs = append(errs, err)
			continue
		}
		report.Succeeded++
		progress(fmt.Sprintf("stored %s (%d/%d)", t.ID, i+1, len(tickets)))
	}

	if len(errs) > 0 {
		return report, fmt.Errorf("ingestion: %d of %d tickets failed: %w", len(errs), len(tickets), errors.Join(errs...))
	}
	return report, nil
}

// Upsert validates, embeds and writes a single ticket, overwriting any
// stored record with the same id.
func (p *Pipeline) Upsert(ctx context.Context, t rag.Ticket) error {
	if err := Validate(t); err != nil {
		return rag.NewStageError(rag.StageInput, t.ID, err)
	}
	emb, err := p.embedOne(ctx, t)
	if err != nil {
		return err
	}
	rec, err := t.ToRecord(emb)
	if err != nil {
		return rag.NewStageError(rag.StageInput, t.ID, err)
	}
	if err := p.store.Upsert(ctx, rec); err != nil {
		return rag.NewStageError(rag.StageStore, t.ID, err)
	}
	return nil
}

// embedAll embeds every ticket with at most cfg.Workers calls in flight.
// Results and errors are parallel to tickets.
func (p *Pipeline) embedAll(ctx context.Context, tickets []rag.Ticket, progress func(string)) ([][]float32, []error) {
	embeddings := make([][]float32, len(tickets))
	errs := make([]error, len(tickets))

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(p.cfg.Workers)
	for i, t := range tickets {
		g.Go(func() error {
			embeddings[i], errs[i] = p.embedOne(ctx, t)
			if errs[i] == nil {
				mu.Lock()
				progress(fmt.Sprintf("embedded %s", t.ID))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait() // goroutines report through errs

	return embeddings, errs
}

// embedOne embeds the ticket's canonical text.
func (p *Pipeline) embedOne(ctx context.Context, t rag.Ticket) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, rag.NewStageError(rag.StageEmbedding, t.ID, err)
	}
	vecs, err := p.embedder.Embed(ctx, []string{t.EmbeddingText()})
	if err != nil {
		return nil, rag.NewStageError(rag.StageEmbedding, t.ID, err)
	}
	if len(vecs) != 1 || len(vecs[0]) == 0 {
		return nil, rag.NewStageError(rag.StageEmbedding, t.ID, errors.New("embedder returned no vector"))
	}
	return vecs[0], nil
}

// write stores one embedded ticket using add or upsert semantics.
func (p *Pipeline) write(ctx context.Context, t rag.Ticket, emb []float32) error {
	rec, err := t.ToRecord(emb)
	if err != nil {
		return rag.NewStageError(rag.StageInput, t.ID, err)
	}
	if p.cfg.Strict {
		err = p.store.Add(ctx, rec)
	} else {
		err = p.store.Upsert(ctx, rec)
	}
	if err != nil {
		return rag.NewStageError(rag.StageStore, t.ID, err)
	}
	return nil
}

// failureOf converts a stage error into a report entry.
func failureOf(err error) Failure {
	f := Failure{Stage: rag.StageOf(err), Error: err.Error()}
	var se *rag.StageError
	if errors.As(err, &se) {
		f.ID = se.ID
		f.Error = se.Err.Error()
	}
	return f
}
