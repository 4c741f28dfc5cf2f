// Package ragtest provides deterministic in-process stand-ins for the
// embedding service and the record store, for use in tests.
package ragtest

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"sync/atomic"
	"unicode"

	"github.com/54b3r/tixrag/internal/rag"
)

// Dimensions is the vector size produced by HashEmbedder.
const Dimensions = 256

// HashEmbedder is a bag-of-words embedder: each lowercase alphanumeric token
// increments one FNV-hashed dimension. Texts sharing words are close in
// cosine distance; texts sharing none are orthogonal.
type HashEmbedder struct {
	// FailOn makes Embed fail for any text containing one of these substrings.
	FailOn []string

	calls atomic.Int64
}

// Calls returns the number of Embed invocations so far.
func (e *HashEmbedder) Calls() int { return int(e.calls.Load()) }

// Embed implements rag.Embedder.
func (e *HashEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	e.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		for _, f := range e.FailOn {
			if strings.Contains(t, f) {
				return nil, fmt.Errorf("hash embedder: refusing %q", t)
			}
		}
		out[i] = Vector(t)
	}
	return out, nil
}

// Vector returns the HashEmbedder vector for text.
func Vector(text string) []float32 {
	v := make([]float32, Dimensions)
	for _, tok := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		v[h.Sum32()%Dimensions]++
	}
	return v
}

// MemStore is a mutex-guarded in-memory rag.VectorStore with exact cosine
// search. Ties keep insertion order.
type MemStore struct {
	// QueryErr, when set, is returned by Query.
	QueryErr error
	// WriteErr, when set, is returned by Add and Upsert.
	WriteErr error

	mu   sync.Mutex
	recs []rag.Record
}

// Add implements rag.VectorStore.
func (s *MemStore) Add(_ context.Context, rec rag.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.WriteErr != nil {
		return s.WriteErr
	}
	if s.index(rec.ID) >= 0 {
		return fmt.Errorf("memstore: add %q: %w", rec.ID, rag.ErrDuplicateID)
	}
	s.recs = append(s.recs, rec)
	return nil
}

// Upsert implements rag.VectorStore.
func (s *MemStore) Upsert(_ context.Context, rec rag.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.WriteErr != nil {
		return s.WriteErr
	}
	if i := s.index(rec.ID); i >= 0 {
		s.recs[i] = rec
		return nil
	}
	s.recs = append(s.recs, rec)
	return nil
}

// Get implements rag.VectorStore.
func (s *MemStore) Get(_ context.Context, id string) (*rag.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.index(id)
	if i < 0 {
		return nil, fmt.Errorf("memstore: get %q: %w", id, rag.ErrNotFound)
	}
	rec := s.recs[i]
	return &rec, nil
}

// Query implements rag.VectorStore.
func (s *MemStore) Query(_ context.Context, embedding []float32, n int) ([]rag.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.QueryErr != nil {
		return nil, s.QueryErr
	}
	matches := make([]rag.Match, 0, len(s.recs))
	for _, r := range s.recs {
		matches = append(matches, rag.Match{
			ID:       r.ID,
			Document: r.Document,
			Metadata: r.Metadata,
			Distance: rag.CosineDistance(embedding, r.Embedding),
		})
	}
	return rag.RankMatches(matches, n), nil
}

// Count implements rag.VectorStore.
func (s *MemStore) Count(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.recs), nil
}

// Close implements rag.VectorStore.
func (s *MemStore) Close() error { return nil }

// Ping reports QueryErr so readiness checks can be exercised.
func (s *MemStore) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.QueryErr != nil {
		return errors.Join(errors.New("memstore: unavailable"), s.QueryErr)
	}
	return nil
}

func (s *MemStore) index(id string) int {
	for i, r := range s.recs {
		if r.ID == id {
			return i
		}
	}
	return -1
}

// VPNTicket and PrinterTicket are the two-ticket corpus used across tests.
var (
	VPNTicket = rag.Ticket{
		ID:          "T1",
		Title:       "VPN drops",
		Description: "VPN disconnects every 10 minutes",
		Status:      "closed",
		Contributors: []rag.Contributor{
			{Name: "Alice", Action: "Reset adapter"},
		},
	}
	PrinterTicket = rag.Ticket{
		ID:           "T2",
		Title:        "Printer offline",
		Description:  "Office printer shows offline",
		Status:       "open",
		Contributors: []rag.Contributor{},
	}
)
