package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/54b3r/tixrag/internal/agent"
	"github.com/54b3r/tixrag/internal/budget"
	"github.com/54b3r/tixrag/internal/embedder"
	"github.com/54b3r/tixrag/internal/ingestion"
	"github.com/54b3r/tixrag/internal/provider"
	"github.com/54b3r/tixrag/internal/rag"
	"github.com/54b3r/tixrag/internal/retry"
	"github.com/54b3r/tixrag/internal/server"
	"github.com/54b3r/tixrag/internal/store"
)

// Record store backends selected by TIXRAG_STORE.
const (
	storeSQLite   = "sqlite"
	storeQdrant   = "qdrant"
	storePostgres = "postgres"
)

// historyDisabled is the TIXRAG_HISTORY_DB value that turns guide history off.
const historyDisabled = "disabled"

// recordStore is a rag.VectorStore that can also report its own health.
// Every backend in this repository satisfies it.
type recordStore interface {
	rag.VectorStore
	Ping(ctx context.Context) error
}

// corpus bundles the collaborators every corpus-touching command needs.
type corpus struct {
	// store is the configured record store.
	store recordStore
	// backend is the TIXRAG_STORE value that selected store.
	backend string
	// embedder embeds tickets and queries.
	embedder rag.Embedder
	// retriever serves nearest-neighbour searches.
	retriever *rag.DefaultRetriever
}

// openCorpus builds the embedder, the record store and the retriever from env.
func openCorpus(ctx context.Context, log *slog.Logger) (*corpus, error) {
	if err := embedder.ValidateForRAG(log); err != nil {
		return nil, err
	}
	emb, err := embedder.NewFromEnv(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise embedder: %w", err)
	}
	log.Debug("embedder initialised", slog.String("backend", embedder.ResolveBackend()))

	st, backend, err := buildStore(ctx, log)
	if err != nil {
		return nil, err
	}

	retriever, err := rag.NewRetriever(emb, st, getEnvInt("TIXRAG_TOP_K", rag.DefaultNResults))
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	return &corpus{store: st, backend: backend, embedder: emb, retriever: retriever}, nil
}

// pipeline builds an ingestion pipeline over the corpus.
func (c *corpus) pipeline(cfg *ingestion.Config) (*ingestion.Pipeline, error) {
	return ingestion.NewPipeline(c.embedder, c.store, cfg)
}

// Close releases the record store.
func (c *corpus) Close() error {
	return c.store.Close()
}

// buildStore opens the record store selected by TIXRAG_STORE (default sqlite).
func buildStore(ctx context.Context, log *slog.Logger) (recordStore, string, error) {
	backend := strings.ToLower(getEnvOrDefault("TIXRAG_STORE", storeSQLite))
	switch backend {
	case storeSQLite:
		path := os.Getenv("TIXRAG_DB")
		if path == "" {
			p, err := store.DefaultDBPath("tickets.db")
			if err != nil {
				return nil, "", err
			}
			path = p
		}
		s, err := store.Open(path)
		if err != nil {
			return nil, "", err
		}
		log.Debug("sqlite store ready", slog.String("path", path))
		return s, backend, nil

	case storeQdrant:
		cfg := &rag.QdrantConfig{
			Host:       getEnvOrDefault("QDRANT_HOST", "localhost"),
			Port:       getEnvInt("QDRANT_PORT", 6334),
			Collection: getEnvOrDefault("QDRANT_COLLECTION", "it_tickets"),
			VectorSize: uint64(embedder.DefaultDimensions(embedder.ResolveBackend())), //nolint:gosec // dimensions are bounded
			APIKey:     os.Getenv("QDRANT_API_KEY"),
			UseTLS:     os.Getenv("QDRANT_TLS") == "true",
		}
		s, err := rag.NewQdrantStore(ctx, cfg)
		if err != nil {
			return nil, "", fmt.Errorf("failed to connect to Qdrant at %s:%d: %w", cfg.Host, cfg.Port, err)
		}
		log.Debug("qdrant store ready",
			slog.String("host", cfg.Host),
			slog.Int("port", cfg.Port),
			slog.String("collection", cfg.Collection),
		)
		return s, backend, nil

	case storePostgres:
		dsn := os.Getenv("POSTGRES_DSN")
		if dsn == "" {
			return nil, "", errors.New("TIXRAG_STORE=postgres requires POSTGRES_DSN")
		}
		s, err := store.OpenPostgres(ctx, dsn)
		if err != nil {
			return nil, "", err
		}
		log.Debug("postgres store ready")
		return s, backend, nil

	default:
		return nil, "", fmt.Errorf("unknown TIXRAG_STORE %q: valid values are sqlite, qdrant, postgres", backend)
	}
}

// openHistory opens the guide history database named by TIXRAG_HISTORY_DB
// (default ~/.tixrag/history.db). It returns nil when history is disabled.
func openHistory() (*store.SQLiteStore, error) {
	path := os.Getenv("TIXRAG_HISTORY_DB")
	if path == historyDisabled {
		return nil, nil
	}
	if path == "" {
		p, err := store.DefaultDBPath("history.db")
		if err != nil {
			return nil, err
		}
		path = p
	}
	return store.Open(path)
}

// buildHistory is openHistory for callers that treat history as optional:
// failures are logged and history is switched off.
func buildHistory(log *slog.Logger) (store.GuideHistory, func()) {
	hs, err := openHistory()
	switch {
	case err != nil:
		log.Warn("history: failed to open store, disabling", slog.Any("error", err))
		return nil, func() {}
	case hs == nil:
		log.Debug("history: disabled via TIXRAG_HISTORY_DB=disabled")
		return nil, func() {}
	}
	return hs, func() { _ = hs.Close() }
}

// buildAgent constructs the chat model and the helpdesk agent over retriever.
func buildAgent(ctx context.Context, retriever rag.Retriever, history store.GuideHistory, log *slog.Logger) (*agent.HelpdeskAgent, *provider.Config, error) {
	providerCfg := provider.ConfigFromEnv()
	chatModel, err := provider.New(ctx, providerCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialise model provider: %w", err)
	}
	log.Debug("provider initialised",
		slog.String("provider", string(providerCfg.Backend)),
		slog.String("model", providerCfg.ModelName()),
	)

	a, err := agent.New(&agent.Config{
		ChatModel:        chatModel,
		Retriever:        retriever,
		NResults:         getEnvInt("TIXRAG_TOP_K", rag.DefaultNResults),
		MaxContextTokens: getEnvInt("TIXRAG_CONTEXT_TOKENS", budget.DefaultMaxContextTokens),
		Retry:            retry.PolicyFromEnv(),
		ModelOptions:     providerCfg.CallOptions(),
		History:          history,
	})
	if err != nil {
		return nil, nil, err
	}
	return a, providerCfg, nil
}

// buildPingers returns the readiness checks for serve: the record store and
// every Ollama host the process depends on.
func buildPingers(c *corpus, providerCfg *provider.Config) []server.Pinger {
	pingers := []server.Pinger{server.NewStorePinger(c.backend, c.store)}

	seen := map[string]bool{}
	addOllama := func(name, host string) {
		host = strings.TrimRight(host, "/")
		if host == "" || seen[host] {
			return
		}
		seen[host] = true
		pingers = append(pingers, server.NewHTTPPinger(name, host+"/api/tags"))
	}
	if providerCfg.Backend == provider.BackendOllama {
		addOllama("ollama", providerCfg.Ollama.Host)
	}
	if embedder.ResolveBackend() == embedder.BackendOllama {
		addOllama("ollama-embeddings", getEnvOrDefault("EMBEDDING_ENDPOINT", getEnvOrDefault("OLLAMA_HOST", "http://localhost:11434")))
	}
	return pingers
}
