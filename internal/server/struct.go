package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/tixrag/internal/agent"
	"github.com/54b3r/tixrag/internal/ingestion"
	"github.com/54b3r/tixrag/internal/rag"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// GuideTimeout bounds a single /api/guide request, including retrieval
	// and generation. Defaults to 2 minutes if zero.
	GuideTimeout time.Duration
	// MaxBodyBytes caps request bodies. Defaults to 8 MiB if zero.
	MaxBodyBytes int64
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency checks run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// MetricsRegistry receives the server's metrics. Defaults to
	// prometheus.DefaultRegisterer.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer backs GET /metrics. Defaults to
	// prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
}

// Synthesizer produces troubleshooting guides.
// *agent.HelpdeskAgent satisfies it; tests inject a fake.
type Synthesizer interface {
	// Synthesize returns the complete guide for query.
	Synthesize(ctx context.Context, query string) (*agent.Guide, error)
	// Stream writes the guide to w as it is generated.
	Stream(ctx context.Context, query string, w io.Writer) (*agent.Guide, error)
}

// Ingester writes tickets into the record store.
// *ingestion.Pipeline satisfies it.
type Ingester interface {
	// Ingest stores a batch of tickets and reports per-ticket outcomes.
	Ingest(ctx context.Context, tickets []rag.Ticket, progress func(string)) (*ingestion.Report, error)
	// Upsert stores one ticket, overwriting any existing record.
	Upsert(ctx context.Context, t rag.Ticket) error
}

// RecordReader looks up stored tickets by id. Every rag.VectorStore
// satisfies it.
type RecordReader interface {
	// Get returns the stored record or an error wrapping rag.ErrNotFound.
	Get(ctx context.Context, id string) (*rag.Record, error)
}

// Deps are the collaborators the server delegates to. All are required.
type Deps struct {
	// Guides answers /api/guide.
	Guides Synthesizer
	// Retriever answers /api/search.
	Retriever rag.Retriever
	// Ingester answers /api/tickets and /api/tickets/batch.
	Ingester Ingester
	// Records answers GET /api/tickets/{id}.
	Records RecordReader
}

// Server is the HTTP server that exposes ticket ingestion, search and guide
// synthesis.
type Server struct {
	// guides answers /api/guide.
	guides Synthesizer
	// retriever answers /api/search.
	retriever rag.Retriever
	// ingester answers /api/tickets and /api/tickets/batch.
	ingester Ingester
	// records answers GET /api/tickets/{id}.
	records RecordReader
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency checks for GET /api/ready.
	pingers []Pinger
	// metrics holds the Prometheus collectors for this server.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// searchRequest is the JSON body for POST /api/search.
type searchRequest struct {
	// Query is the free-text problem description.
	Query string `json:"query"`
	// N is the maximum number of matches. Zero uses the default.
	N int `json:"n,omitempty"`
}

// matchJSON is one ranked match in a search response.
type matchJSON struct {
	ID           string            `json:"id"`
	Title        string            `json:"title"`
	Document     string            `json:"document"`
	Status       string            `json:"status"`
	Contributors []rag.Contributor `json:"contributors"`
	Distance     float32           `json:"distance"`
}

// searchResponse is the JSON response for POST /api/search.
type searchResponse struct {
	// Matches are ordered by ascending distance.
	Matches []matchJSON `json:"matches"`
	// Context is the formatted case-block text for the matches.
	Context string `json:"context"`
}

// guideRequest is the JSON body for POST /api/guide.
type guideRequest struct {
	// Query is the free-text problem description.
	Query string `json:"query"`
	// Stream selects a Server-Sent Events response.
	Stream bool `json:"stream,omitempty"`
}

// guideResponse is the JSON response for a non-streaming POST /api/guide.
type guideResponse struct {
	// Query echoes the request query.
	Query string `json:"query"`
	// Guide is the generated troubleshooting guide.
	Guide string `json:"guide"`
	// Tickets lists the ids of the tickets the guide was built from.
	Tickets []string `json:"tickets"`
}

// errorResponse is the JSON body of every non-2xx API response.
type errorResponse struct {
	// Error is the human-readable failure message.
	Error string `json:"error"`
	// Stage names the pipeline stage that failed, when known.
	Stage string `json:"stage,omitempty"`
	// Report is set when a batch ingest partially failed.
	Report *ingestion.Report `json:"report,omitempty"`
}
