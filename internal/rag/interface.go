// Package rag defines the retrieval-augmented generation building blocks for
// ticket search: the record and match types, the vector store and embedder
// contracts, the retriever, and the context formatter.
// Concrete stores (Qdrant here, SQLite and Postgres in internal/store) satisfy
// these interfaces so the agent layer never depends on a specific backend.
package rag

import (
	"context"
)

// Record is a single entry in the vector store: a ticket's document text,
// its flattened metadata, and the embedding of the document text.
type Record struct {
	// ID is the ticket identifier and the store's primary key.
	ID string

	// Document is the embedded text of the ticket.
	Document string

	// Metadata holds title, description, status and the serialised contributors.
	Metadata map[string]string

	// Embedding is the vector produced for Document. Never hand-edited.
	Embedding []float32
}

// Match is one ranked hit of a similarity query.
type Match struct {
	// ID is the ticket identifier.
	ID string

	// Document is the stored document text.
	Document string

	// Metadata is the stored metadata map.
	Metadata map[string]string

	// Distance is the cosine distance to the query (lower is more similar).
	Distance float32
}

// VectorStore is the interface for persisting and searching ticket records.
// Implementations must be safe to call from multiple goroutines and must make
// writes to a single id atomic.
type VectorStore interface {
	// Add writes a new record. It fails with an error wrapping ErrDuplicateID
	// when a record with the same id already exists.
	Add(ctx context.Context, rec Record) error

	// Upsert creates the record or overwrites the existing one with the same id.
	Upsert(ctx context.Context, rec Record) error

	// Get returns the record with the given id, or an error wrapping
	// ErrNotFound.
	Get(ctx context.Context, id string) (*Record, error)

	// Query returns up to n records nearest to embedding, ordered by ascending
	// cosine distance. An empty store yields an empty slice and no error.
	Query(ctx context.Context, embedding []float32, n int) ([]Match, error)

	// Count returns the number of stored records.
	Count(ctx context.Context) (int, error)

	// Close releases any resources held by the store.
	Close() error
}

// Embedder is the interface for converting text into dense vector embeddings.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed converts a batch of texts into their corresponding embeddings.
	// The returned slice is parallel to the input slice.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Retriever is the high-level interface used by the agent to fetch similar
// tickets for a query. It combines embedding and vector search.
type Retriever interface {
	// Search returns up to n matches for query, most similar first.
	Search(ctx context.Context, query string, n int) ([]Match, error)
}
