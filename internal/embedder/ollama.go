package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/54b3r/tixrag/internal/retry"
)

const (
	defaultOllamaTimeout = 60 * time.Second
	// defaultOllamaBatch caps the inputs sent in one /api/embed call so a
	// large ticket file does not become one multi-megabyte request.
	defaultOllamaBatch = 32
	// maxOllamaResponse bounds the response body read per call.
	maxOllamaResponse = 64 << 20
)

// OllamaEmbedder embeds ticket text through a local Ollama /api/embed
// endpoint. Safe for concurrent use.
type OllamaEmbedder struct {
	endpoint  string
	model     string
	batch     int
	keepAlive string
	client    *http.Client
}

// OllamaConfig configures an OllamaEmbedder.
type OllamaConfig struct {
	// Host is the server base URL, e.g. "http://localhost:11434".
	Host string
	// Model is the embedding model, e.g. "nomic-embed-text".
	Model string
	// Timeout bounds one HTTP call (default 60s).
	Timeout time.Duration
	// BatchSize caps inputs per call (default 32).
	BatchSize int
	// KeepAlive is passed through to Ollama to keep the model loaded
	// between ingest batches, e.g. "10m". Empty uses the server default.
	KeepAlive string
}

// NewOllamaEmbedder returns an embedder for cfg.
func NewOllamaEmbedder(cfg *OllamaConfig) *OllamaEmbedder {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultOllamaTimeout
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = defaultOllamaBatch
	}
	return &OllamaEmbedder{
		endpoint:  strings.TrimRight(cfg.Host, "/") + "/api/embed",
		model:     cfg.Model,
		batch:     batch,
		keepAlive: cfg.KeepAlive,
		client:    &http.Client{Timeout: timeout},
	}
}

type ollamaEmbedRequest struct {
	Model     string   `json:"model"`
	Input     []string `json:"input"`
	Truncate  bool     `json:"truncate"`
	KeepAlive string   `json:"keep_alive,omitempty"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Error      string      `json:"error,omitempty"`
}

// Embed returns one vector per text, in input order. Texts are sent in
// chunks of at most BatchSize. Every vector must share one dimension. HTTP
// failures surface as *retry.StatusError so callers can tell a missing
// model (404) from an overloaded server (503).
func (e *OllamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batch {
		end := min(start+e.batch, len(texts))
		vecs, err := e.embedChunk(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("ollama embedder: inputs %d-%d: %w", start, end-1, err)
		}
		out = append(out, vecs...)
	}

	for i, v := range out {
		if len(v) == 0 {
			return nil, fmt.Errorf("ollama embedder: empty embedding for input %d", i)
		}
		if len(v) != len(out[0]) {
			return nil, fmt.Errorf("ollama embedder: input %d has dimension %d, input 0 has %d", i, len(v), len(out[0]))
		}
	}
	return out, nil
}

func (e *OllamaEmbedder) embedChunk(ctx context.Context, texts []string) ([][]float32, error) {
	payload, err := json.Marshal(ollamaEmbedRequest{
		Model:     e.model,
		Input:     texts,
		Truncate:  true,
		KeepAlive: e.keepAlive,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxOllamaResponse))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var result ollamaEmbedResponse
	decodeErr := json.Unmarshal(body, &result)

	if resp.StatusCode/100 != 2 {
		reason := http.StatusText(resp.StatusCode)
		if decodeErr == nil && result.Error != "" {
			reason = result.Error
		}
		return nil, &retry.StatusError{Code: resp.StatusCode, Err: fmt.Errorf("HTTP %d: %s", resp.StatusCode, reason)}
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("decode response: %w", decodeErr)
	}
	if len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("server returned %d embeddings for %d inputs", len(result.Embeddings), len(texts))
	}
	return result.Embeddings, nil
}
