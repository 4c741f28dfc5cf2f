// Package tracing wires Langfuse into eino's global callback chain so every
// chat model call made while building a guide is traced.
package tracing

import (
	"log/slog"
	"os"

	"github.com/cloudwego/eino-ext/callbacks/langfuse"
	"github.com/cloudwego/eino/callbacks"
)

// defaultHost is the self-hosted Langfuse address used when LANGFUSE_HOST is unset.
const defaultHost = "http://localhost:3000"

// Config holds Langfuse credentials.
type Config struct {
	// Host is the Langfuse API host.
	Host string
	// PublicKey is the Langfuse project public key.
	PublicKey string
	// SecretKey is the Langfuse project secret key.
	SecretKey string
}

// ConfigFromEnv reads LANGFUSE_HOST, LANGFUSE_PUBLIC_KEY and LANGFUSE_SECRET_KEY.
func ConfigFromEnv() Config {
	host := os.Getenv("LANGFUSE_HOST")
	if host == "" {
		host = defaultHost
	}
	return Config{
		Host:      host,
		PublicKey: os.Getenv("LANGFUSE_PUBLIC_KEY"),
		SecretKey: os.Getenv("LANGFUSE_SECRET_KEY"),
	}
}

// Enabled reports whether both keys are present.
func (c Config) Enabled() bool {
	return c.PublicKey != "" && c.SecretKey != ""
}

// Setup builds the Langfuse callback handler. The returned flush function
// must be called before process exit so buffered traces are sent. If cfg is
// not enabled, the handler and flush function are nil and ok is false.
func Setup(cfg Config) (handler callbacks.Handler, flush func(), ok bool) {
	if !cfg.Enabled() {
		return nil, nil, false
	}
	handler, flush = langfuse.NewLangfuseHandler(&langfuse.Config{
		Host:      cfg.Host,
		PublicKey: cfg.PublicKey,
		SecretKey: cfg.SecretKey,
	})
	return handler, flush, true
}

// Install registers the Langfuse handler globally when configured and
// returns a flush function that is always safe to call.
func Install(cfg Config, log *slog.Logger) func() {
	handler, flush, ok := Setup(cfg)
	if !ok {
		log.Debug("langfuse tracing disabled", slog.String("reason", "LANGFUSE_PUBLIC_KEY or LANGFUSE_SECRET_KEY not set"))
		return func() {}
	}
	callbacks.AppendGlobalHandlers(handler)
	log.Info("langfuse tracing enabled", slog.String("host", cfg.Host))
	return flush
}
