//go:build integration

package embedder

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/54b3r/tixrag/internal/rag"
)

// TestOllamaEmbedder_Integration embeds a few helpdesk tickets with a local
// Ollama and checks that a VPN question lands nearer the VPN ticket than the
// printer one.
//
//	ollama pull nomic-embed-text
//	go test -tags=integration -run TestOllamaEmbedder_Integration ./internal/embedder/
//
// OLLAMA_HOST and EMBEDDING_MODEL override the defaults.
func TestOllamaEmbedder_Integration(t *testing.T) {
	host := os.Getenv("OLLAMA_HOST")
	if host == "" {
		host = "http://localhost:11434"
	}
	model := os.Getenv("EMBEDDING_MODEL")
	if model == "" {
		model = "nomic-embed-text"
	}

	emb := NewOllamaEmbedder(&OllamaConfig{Host: host, Model: model})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	vectors, err := emb.Embed(ctx, []string{
		"VPN drops: VPN disconnects every 10 minutes on the corporate laptop",
		"Printer offline: Office printer on floor 3 shows offline",
		"my vpn keeps disconnecting",
	})
	if err != nil {
		t.Fatalf("Embed: %v (is %q pulled on %s?)", err, model, host)
	}
	if len(vectors) != 3 {
		t.Fatalf("got %d vectors, want 3", len(vectors))
	}
	dim := len(vectors[0])
	for i, v := range vectors {
		if len(v) == 0 || len(v) != dim {
			t.Fatalf("vector %d has dim %d, want %d", i, len(v), dim)
		}
	}

	vpn, printer, query := vectors[0], vectors[1], vectors[2]
	dVPN := rag.CosineDistance(query, vpn)
	dPrinter := rag.CosineDistance(query, printer)
	if dVPN >= dPrinter {
		t.Errorf("query is not nearer the VPN ticket: vpn=%.4f printer=%.4f", dVPN, dPrinter)
	}

	t.Logf("model=%s dim=%d vpn=%.4f printer=%.4f", model, dim, dVPN, dPrinter)
}
