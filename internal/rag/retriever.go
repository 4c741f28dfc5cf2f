package rag

import (
	"context"
	"fmt"
)

// DefaultNResults is the number of matches returned when the caller asks for
// zero or fewer.
const DefaultNResults = 3

// DefaultRetriever implements the Retriever interface by combining an Embedder
// and a VectorStore. It embeds the query at retrieval time and delegates
// similarity search to the store.
type DefaultRetriever struct {
	// embedder converts query text to a dense vector.
	embedder Embedder

	// store performs the vector similarity search.
	store VectorStore

	// defaultN is the number of results to return when the caller passes n <= 0.
	defaultN int
}

// NewRetriever constructs a DefaultRetriever from the given Embedder and VectorStore.
// defaultN sets the fallback result count when Search is called with n <= 0.
func NewRetriever(embedder Embedder, store VectorStore, defaultN int) (*DefaultRetriever, error) {
	if embedder == nil {
		return nil, fmt.Errorf("rag: embedder must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("rag: store must not be nil")
	}
	if defaultN <= 0 {
		defaultN = DefaultNResults
	}
	return &DefaultRetriever{
		embedder: embedder,
		store:    store,
		defaultN: defaultN,
	}, nil
}

// Search embeds the query and returns up to n matches ordered by ascending
// distance. Zero matches is a valid, empty result. A failed query embedding
// is an embedding-stage error, never an empty result.
func (r *DefaultRetriever) Search(ctx context.Context, query string, n int) ([]Match, error) {
	if n <= 0 {
		n = r.defaultN
	}

	embeddings, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, NewStageError(StageEmbedding, "", fmt.Errorf("embedding query: %w", err))
	}
	if len(embeddings) == 0 || len(embeddings[0]) == 0 {
		return nil, NewStageError(StageEmbedding, "", fmt.Errorf("embedder returned empty result for query"))
	}

	matches, err := r.store.Query(ctx, embeddings[0], n)
	if err != nil {
		return nil, NewStageError(StageStore, "", fmt.Errorf("vector search: %w", err))
	}
	if len(matches) > n {
		matches = matches[:n]
	}

	return matches, nil
}
