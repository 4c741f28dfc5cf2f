// Package audit writes one structured record per CLI invocation: the
// command, where its configuration came from and the environment that
// shapes the RAG pipeline, grouped by concern.
//
// Credentials are reported as "set" or "unset" only. URLs keep their host
// but lose any embedded password.
package audit

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"strings"
)

// envGroup is one concern's environment variables, logged as a slog group.
type envGroup struct {
	name string
	keys []string
}

// auditGroups lists what each record carries, in output order.
var auditGroups = []envGroup{
	{"model", []string{
		"MODEL_PROVIDER",
		"OLLAMA_HOST", "OLLAMA_MODEL",
		"OPENAI_API_KEY", "OPENAI_MODEL",
		"AZURE_OPENAI_API_KEY", "AZURE_OPENAI_ENDPOINT", "AZURE_OPENAI_DEPLOYMENT",
		"ARK_API_KEY", "ARK_MODEL",
		"GOOGLE_API_KEY", "GEMINI_MODEL",
		"ANTHROPIC_API_KEY", "ANTHROPIC_MODEL",
	}},
	{"embedding", []string{
		"EMBEDDING_PROVIDER", "EMBEDDING_MODEL", "EMBEDDING_API_KEY", "EMBEDDING_ENDPOINT",
	}},
	{"store", []string{
		"TIXRAG_STORE", "TIXRAG_DB", "TIXRAG_TOP_K", "TIXRAG_HISTORY_DB",
		"QDRANT_HOST", "QDRANT_PORT", "QDRANT_COLLECTION", "QDRANT_API_KEY",
		"POSTGRES_DSN",
	}},
	{"telemetry", []string{
		"LOG_LEVEL", "LOG_FORMAT", "LANGFUSE_HOST", "LANGFUSE_PUBLIC_KEY", "LANGFUSE_SECRET_KEY",
	}},
}

// secretSuffixes mark variables whose values are never logged.
var secretSuffixes = []string{"_API_KEY", "_SECRET_KEY", "_PUBLIC_KEY", "_DSN", "_TOKEN", "_PASSWORD"}

// LogCommandStart logs the audit record for command. extra carries
// command-specific attributes such as the input file or query length.
func LogCommandStart(ctx context.Context, log *slog.Logger, command, configPath string, extra ...slog.Attr) {
	attrs := make([]slog.Attr, 0, len(auditGroups)+len(extra)+2)
	attrs = append(attrs,
		slog.String("command", command),
		slog.String("config_file", sanitiseConfigPath(configPath)),
	)
	for _, g := range auditGroups {
		env := make([]any, 0, len(g.keys))
		for _, k := range g.keys {
			env = append(env, slog.String(k, SanitiseKey(k, os.Getenv(k))))
		}
		attrs = append(attrs, slog.Group(g.name, env...))
	}
	attrs = append(attrs, extra...)

	log.LogAttrs(ctx, slog.LevelInfo, "audit: command start", attrs...)
}

// SanitiseKey renders value for logging under key: presence only for
// credentials, passwords stripped from URLs, "unset" when empty.
func SanitiseKey(key, value string) string {
	switch {
	case value == "":
		return "unset"
	case isSecret(key):
		return "set"
	}
	if u, err := url.Parse(value); err == nil && u.Scheme != "" && u.User != nil {
		return u.Redacted()
	}
	return value
}

func isSecret(key string) bool {
	for _, suffix := range secretSuffixes {
		if strings.HasSuffix(key, suffix) {
			return true
		}
	}
	return false
}

// sanitiseConfigPath shortens the home directory to "~"; "none" when no
// file was loaded.
func sanitiseConfigPath(p string) string {
	if p == "" {
		return "none"
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" && strings.HasPrefix(p, home) {
		return "~" + strings.TrimPrefix(p, home)
	}
	return p
}
