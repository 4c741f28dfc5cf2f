package rag

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// Payload keys reserved by QdrantStore. Everything else in a point's payload
// is ticket metadata.
const (
	payloadTicketID = "ticket_id"
	payloadDocument = "document"
)

// pointNamespace derives Qdrant point UUIDs from ticket ids, which are free-form
// strings that Qdrant would reject as point ids.
var pointNamespace = uuid.MustParse("5b0f3c2e-8d7a-4c1e-9f34-2a6e1d0b7c55")

// QdrantConfig holds connection parameters for a Qdrant vector store instance.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the Qdrant collection name to use.
	Collection string

	// VectorSize is the dimensionality of the embeddings stored in this collection.
	VectorSize uint64

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// QdrantStore implements VectorStore backed by a Qdrant instance.
type QdrantStore struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client

	// cfg holds the resolved configuration for this store.
	cfg *QdrantConfig
}

// NewQdrantStore creates a new QdrantStore, ensuring the target collection
// exists with cosine distance (creating it if necessary).
func NewQdrantStore(ctx context.Context, cfg *QdrantConfig) (*QdrantStore, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.Collection == "" {
		cfg.Collection = "it_tickets"
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}

	store := &QdrantStore{client: client, cfg: cfg}
	if err := store.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}

	return store, nil
}

// ensureCollection creates the Qdrant collection if it does not already exist.
func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.cfg.VectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to create collection %q: %w", s.cfg.Collection, err)
	}

	return nil
}

// pointID maps a ticket id to its deterministic Qdrant point id.
func pointID(ticketID string) *qdrant.PointId {
	return qdrant.NewIDUUID(uuid.NewSHA1(pointNamespace, []byte(ticketID)).String())
}

// Add writes rec only if no point exists for its id. Qdrant has no
// insert-only write, so the existence check and the write are two calls;
// concurrent Adds of the same id may both succeed.
func (s *QdrantStore) Add(ctx context.Context, rec Record) error {
	existing, err := s.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: s.cfg.Collection,
		Ids:            []*qdrant.PointId{pointID(rec.ID)},
	})
	if err != nil {
		return fmt.Errorf("qdrant: existence check for %q failed: %w", rec.ID, err)
	}
	if len(existing) > 0 {
		return fmt.Errorf("qdrant: add %q: %w", rec.ID, ErrDuplicateID)
	}
	return s.Upsert(ctx, rec)
}

// Upsert creates or overwrites the point for rec.ID and waits for the write
// to be applied so a following Query observes it.
func (s *QdrantStore) Upsert(ctx context.Context, rec Record) error {
	payload := map[string]any{
		payloadTicketID: rec.ID,
		payloadDocument: rec.Document,
	}
	for k, v := range rec.Metadata {
		payload[k] = v
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.cfg.Collection,
		Wait:           qdrant.PtrOf(true),
		Points: []*qdrant.PointStruct{{
			Id:      pointID(rec.ID),
			Vectors: qdrant.NewVectors(rec.Embedding...),
			Payload: qdrant.NewValueMap(payload),
		}},
	})
	if err != nil {
		return fmt.Errorf("qdrant: upsert %q failed: %w", rec.ID, err)
	}

	return nil
}

// Get fetches a single record including its vector.
func (s *QdrantStore) Get(ctx context.Context, id string) (*Record, error) {
	points, err := s.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: s.cfg.Collection,
		Ids:            []*qdrant.PointId{pointID(id)},
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: get %q failed: %w", id, err)
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("qdrant: get %q: %w", id, ErrNotFound)
	}

	p := points[0]
	rec := &Record{ID: id, Metadata: make(map[string]string)}
	for k, v := range p.GetPayload() {
		switch k {
		case payloadTicketID:
		case payloadDocument:
			rec.Document = v.GetStringValue()
		default:
			rec.Metadata[k] = v.GetStringValue()
		}
	}
	rec.Embedding = p.GetVectors().GetVector().GetData()
	return rec, nil
}

// Query performs a cosine similarity search. Qdrant scores cosine collections
// by similarity, so each match's distance is 1 - score.
func (s *QdrantStore) Query(ctx context.Context, embedding []float32, n int) ([]Match, error) {
	limit := uint64(n) //nolint:gosec // n is validated by the retriever
	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.cfg.Collection,
		Query:          qdrant.NewQuery(embedding...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: search failed: %w", err)
	}

	matches := make([]Match, 0, len(results))
	for _, r := range results {
		m := Match{
			Distance: 1 - r.GetScore(),
			Metadata: make(map[string]string),
		}
		for k, v := range r.GetPayload() {
			switch k {
			case payloadTicketID:
				m.ID = v.GetStringValue()
			case payloadDocument:
				m.Document = v.GetStringValue()
			default:
				m.Metadata[k] = v.GetStringValue()
			}
		}
		matches = append(matches, m)
	}

	return RankMatches(matches, n), nil
}

// Count returns the exact number of points in the collection.
func (s *QdrantStore) Count(ctx context.Context) (int, error) {
	n, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.cfg.Collection,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("qdrant: count failed: %w", err)
	}
	return int(n), nil //nolint:gosec // collection sizes fit in int
}

// Ping calls the Qdrant HealthCheck RPC.
func (s *QdrantStore) Ping(ctx context.Context) error {
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("qdrant: health check failed: %w", err)
	}
	return nil
}

// Close closes the underlying Qdrant gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}
