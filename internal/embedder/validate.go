package embedder

import (
	"log/slog"
	"os"
	"strings"
)

// knownChatModelPrefixes contains name fragments that identify chat/completion
// models which are NOT suitable for embedding. If EMBEDDING_MODEL matches any
// of these, a warning is emitted so the operator knows they may have
// misconfigured the pipeline.
var knownChatModelPrefixes = []string{
	"gpt-4",
	"gpt-3.5",
	"gpt-35",
	"o1",
	"o3",
	"llama3",
	"llama2",
	"llama-3",
	"llama-2",
	"mistral",
	"mixtral",
	"gemma",
	"phi-",
	"phi3",
	"claude",
	"command-r",
	"deepseek",
	"qwen",
	"solar",
	"vicuna",
	"falcon",
	"yi-",
}

// looksLikeChatModel returns true when the model name resembles a known
// chat/completion model rather than a dedicated embedding model.
func looksLikeChatModel(model string) bool {
	lower := strings.ToLower(model)
	for _, prefix := range knownChatModelPrefixes {
		if strings.Contains(lower, prefix) {
			return true
		}
	}
	return false
}

// ValidateForRAG is a pre-flight check run before the embedder and the
// record store are constructed, so operators get a clear error at startup
// rather than a cryptic failure during the first embed call. It returns an
// error when the configuration is clearly broken and logs a warning when
// EMBEDDING_MODEL looks like a chat model rather than an embedding model.
func ValidateForRAG(log *slog.Logger) error {
	backend := ResolveBackend()

	// Warn if the embedding backend was inherited from a chat provider with
	// no explicit EMBEDDING_PROVIDER override.
	if os.Getenv("EMBEDDING_PROVIDER") == "" {
		if chat := os.Getenv("MODEL_PROVIDER"); chat != "" && chat != backend {
			log.Warn("embedder: MODEL_PROVIDER has no embeddings API, falling back",
				slog.String("model_provider", chat),
				slog.String("backend", backend),
				slog.String("hint", "set EMBEDDING_PROVIDER to be explicit"),
			)
		} else if chat != "" && chat != BackendOllama {
			log.Warn("embedder: EMBEDDING_PROVIDER is not set, inheriting MODEL_PROVIDER as embedding backend",
				slog.String("backend", backend),
				slog.String("hint", "set EMBEDDING_PROVIDER=ollama (or openai/azure/gemini) to be explicit"),
			)
		}
	}

	if _, err := ConfigFromEnv(); err != nil {
		return err
	}

	model := os.Getenv("EMBEDDING_MODEL")
	if model != "" && looksLikeChatModel(model) {
		log.Warn("embedder: EMBEDDING_MODEL looks like a chat model, not an embedding model: "+
			"this will likely produce poor or broken embeddings",
			slog.String("model", model),
			slog.String("hint", "use a dedicated embedding model e.g. nomic-embed-text, text-embedding-3-large"),
		)
	}

	return nil
}
