package embedder

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/54b3r/tixrag/internal/rag"
	"github.com/54b3r/tixrag/internal/retry"
)

// Supported embedding backends.
const (
	BackendOllama = "ollama"
	BackendOpenAI = "openai"
	BackendAzure  = "azure"
	BackendGemini = "gemini"
)

// Default embedding models per backend.
const (
	defaultOllamaModel = "nomic-embed-text"
	defaultOpenAIModel = "text-embedding-3-large"
	defaultGeminiModel = "text-embedding-004"

	// defaultOllamaDimensions is the output dimension of nomic-embed-text.
	// Other Ollama models may differ; override with EMBEDDING_DIMENSIONS.
	defaultOllamaDimensions = 768
	// defaultOpenAIDimensions is the output dimension of text-embedding-3-large.
	defaultOpenAIDimensions = 3072
	// defaultGeminiDimensions is the output dimension of text-embedding-004.
	defaultGeminiDimensions = 768
)

// Config is the resolved embedding configuration. Exactly one of the
// backend sections is used, selected by Backend.
type Config struct {
	// Backend is one of ollama, openai, azure, gemini.
	Backend string
	// Ollama holds settings for the ollama backend.
	Ollama OllamaConfig
	// OpenAI holds settings for the openai and azure backends.
	OpenAI OpenAIConfig
	// Gemini holds settings for the gemini backend.
	Gemini GeminiConfig
	// Retry bounds retries of each Embed call.
	Retry retry.Policy
	// RPS throttles Embed calls client-side; 0 disables throttling.
	RPS float64
}

// DefaultDimensions returns the correct default embedding vector size for the
// given backend name. Callers that need to pre-configure a vector store (e.g.
// Qdrant collection creation) should use this rather than hardcoding a value.
// EMBEDDING_DIMENSIONS always takes precedence when set.
func DefaultDimensions(backend string) int {
	if v := getEnvInt("EMBEDDING_DIMENSIONS", 0); v > 0 {
		return v
	}
	switch backend {
	case BackendOllama:
		return defaultOllamaDimensions
	case BackendGemini:
		return defaultGeminiDimensions
	default:
		return defaultOpenAIDimensions
	}
}

// ResolveBackend returns EMBEDDING_PROVIDER, falling back to MODEL_PROVIDER
// and finally ollama. Chat-only providers (anthropic, ark) fall back to
// ollama since they offer no embeddings API.
func ResolveBackend() string {
	backend := getEnv("EMBEDDING_PROVIDER")
	if backend == "" {
		backend = getEnvOrDefault("MODEL_PROVIDER", BackendOllama)
	}
	switch backend {
	case "anthropic", "ark":
		return BackendOllama
	}
	return backend
}

// ConfigFromEnv resolves the embedding configuration using cascading
// defaults that inherit from the chat provider configuration when
// embedding-specific overrides are not set.
//
// Resolution order:
//
//  1. EMBEDDING_PROVIDER, else MODEL_PROVIDER (default: ollama)
//  2. Per-backend credentials are inherited from the chat provider's env vars
//  3. EMBEDDING_MODEL overrides the default model for the resolved backend
//  4. EMBEDDING_API_KEY overrides the inherited API key
//  5. EMBEDDING_ENDPOINT overrides the inherited endpoint
//  6. EMBEDDING_DIMENSIONS requests a specific vector size
//  7. RETRY_* and EMBEDDING_RPS control resilience
func ConfigFromEnv() (*Config, error) {
	cfg := &Config{
		Backend: ResolveBackend(),
		Retry:   retry.PolicyFromEnv(),
	}
	if v := getEnv("EMBEDDING_RPS"); v != "" {
		rps, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("embedder: EMBEDDING_RPS %q is not a number: %w", v, err)
		}
		cfg.RPS = rps
	}

	switch cfg.Backend {
	case BackendOllama:
		host := getEnv("EMBEDDING_ENDPOINT")
		if host == "" {
			host = getEnvOrDefault("OLLAMA_HOST", "http://localhost:11434")
		}
		cfg.Ollama = OllamaConfig{
			Host:      host,
			Model:     getEnvOrDefault("EMBEDDING_MODEL", defaultOllamaModel),
			BatchSize: getEnvInt("EMBEDDING_BATCH_SIZE", defaultOllamaBatch),
			KeepAlive: getEnv("OLLAMA_KEEP_ALIVE"),
		}

	case BackendOpenAI:
		apiKey := firstNonEmpty(getEnv("EMBEDDING_API_KEY"), getEnv("OPENAI_API_KEY"))
		if apiKey == "" {
			return nil, fmt.Errorf("embedder: openai requires OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
		cfg.OpenAI = OpenAIConfig{
			BaseURL:    getEnvOrDefault("EMBEDDING_ENDPOINT", "https://api.openai.com/v1"),
			APIKey:     apiKey,
			Model:      getEnvOrDefault("EMBEDDING_MODEL", defaultOpenAIModel),
			Dimensions: getEnvInt("EMBEDDING_DIMENSIONS", 0),
		}

	case BackendAzure:
		apiKey := firstNonEmpty(getEnv("EMBEDDING_API_KEY"), getEnv("AZURE_OPENAI_API_KEY"))
		if apiKey == "" {
			return nil, fmt.Errorf("embedder: azure requires AZURE_OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
		endpoint := firstNonEmpty(getEnv("EMBEDDING_ENDPOINT"), getEnv("AZURE_OPENAI_ENDPOINT"))
		if endpoint == "" {
			return nil, fmt.Errorf("embedder: azure requires AZURE_OPENAI_ENDPOINT or EMBEDDING_ENDPOINT")
		}
		cfg.OpenAI = OpenAIConfig{
			BaseURL:    endpoint,
			APIKey:     apiKey,
			Model:      getEnvOrDefault("EMBEDDING_MODEL", defaultOpenAIModel),
			Dimensions: getEnvInt("EMBEDDING_DIMENSIONS", 0),
			Azure:      true,
			APIVersion: getEnvOrDefault("AZURE_OPENAI_API_VERSION", "2024-02-01"),
		}

	case BackendGemini:
		apiKey := firstNonEmpty(getEnv("EMBEDDING_API_KEY"), getEnv("GOOGLE_API_KEY"))
		if apiKey == "" {
			return nil, fmt.Errorf("embedder: gemini requires GOOGLE_API_KEY or EMBEDDING_API_KEY")
		}
		cfg.Gemini = GeminiConfig{
			APIKey:     apiKey,
			Model:      getEnvOrDefault("EMBEDDING_MODEL", defaultGeminiModel),
			Dimensions: getEnvInt("EMBEDDING_DIMENSIONS", 0),
		}

	default:
		return nil, fmt.Errorf("embedder: unknown backend %q: valid values: ollama, openai, azure, gemini", cfg.Backend)
	}

	return cfg, nil
}

// New constructs the configured embedder wrapped in Resilient.
func New(ctx context.Context, cfg *Config) (rag.Embedder, error) {
	var inner rag.Embedder
	switch cfg.Backend {
	case BackendOllama:
		inner = NewOllamaEmbedder(&cfg.Ollama)
	case BackendOpenAI, BackendAzure:
		inner = NewOpenAIEmbedder(&cfg.OpenAI)
	case BackendGemini:
		g, err := NewGeminiEmbedder(ctx, &cfg.Gemini)
		if err != nil {
			return nil, err
		}
		inner = g
	default:
		return nil, fmt.Errorf("embedder: unknown backend %q: valid values: ollama, openai, azure, gemini", cfg.Backend)
	}
	return NewResilient(inner, cfg.Retry, cfg.RPS), nil
}

// NewFromEnv is ConfigFromEnv followed by New.
func NewFromEnv(ctx context.Context) (rag.Embedder, error) {
	cfg, err := ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	return New(ctx, cfg)
}

// getEnv returns the value of the named environment variable, or empty string.
func getEnv(key string) string {
	return os.Getenv(key)
}

// getEnvOrDefault returns the value of the named environment variable, or
// fallback if the variable is unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the integer value of the named environment variable, or
// fallback if the variable is unset, empty, or not parseable.
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
