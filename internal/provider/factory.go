package provider

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/cloudwego/eino/components/model"
)

// ConfigFromEnv reads provider configuration from environment variables.
// MODEL_PROVIDER selects the backend; each provider uses its own native
// credential env vars.
//
// Environment variables:
//
//	MODEL_PROVIDER = ollama | openai | azure | ark | gemini | anthropic (default: ollama)
//
//	Ollama:    OLLAMA_HOST (default: http://localhost:11434), OLLAMA_MODEL (default: llama3)
//	OpenAI:    OPENAI_API_KEY, OPENAI_MODEL (default: gpt-4o-mini), OPENAI_BASE_URL
//	Azure:     AZURE_OPENAI_API_KEY, AZURE_OPENAI_ENDPOINT, AZURE_OPENAI_DEPLOYMENT,
//	           AZURE_OPENAI_API_VERSION (default: 2024-02-01)
//	Ark:       ARK_API_KEY, ARK_MODEL, ARK_BASE_URL
//	Gemini:    GOOGLE_API_KEY, GEMINI_MODEL (default: gemini-1.5-pro)
//	Anthropic: ANTHROPIC_API_KEY, ANTHROPIC_MODEL (default: claude-3-5-haiku-latest),
//	           ANTHROPIC_BASE_URL
//
//	Shared:    MODEL_MAX_TOKENS (default: 2048). Temperature is fixed at GuideTemperature.
func ConfigFromEnv() *Config {
	return &Config{
		Backend: Backend(getEnvOrDefault("MODEL_PROVIDER", string(BackendOllama))),
		Ollama: ProviderOllama{
			Host:  getEnvOrDefault("OLLAMA_HOST", "http://localhost:11434"),
			Model: getEnvOrDefault("OLLAMA_MODEL", "llama3"),
		},
		OpenAI: ProviderOpenAI{
			APIKey:  os.Getenv("OPENAI_API_KEY"),
			Model:   getEnvOrDefault("OPENAI_MODEL", "gpt-4o-mini"),
			BaseURL: os.Getenv("OPENAI_BASE_URL"),
		},
		AzureOpenAI: ProviderAzureOpenAI{
			APIKey:     os.Getenv("AZURE_OPENAI_API_KEY"),
			Endpoint:   os.Getenv("AZURE_OPENAI_ENDPOINT"),
			Deployment: os.Getenv("AZURE_OPENAI_DEPLOYMENT"),
			APIVersion: getEnvOrDefault("AZURE_OPENAI_API_VERSION", "2024-02-01"),
		},
		Ark: ProviderArk{
			APIKey:  os.Getenv("ARK_API_KEY"),
			Model:   os.Getenv("ARK_MODEL"),
			BaseURL: os.Getenv("ARK_BASE_URL"),
		},
		Gemini: ProviderGemini{
			APIKey: os.Getenv("GOOGLE_API_KEY"),
			Model:  getEnvOrDefault("GEMINI_MODEL", "gemini-1.5-pro"),
		},
		Anthropic: ProviderAnthropic{
			APIKey:  os.Getenv("ANTHROPIC_API_KEY"),
			Model:   getEnvOrDefault("ANTHROPIC_MODEL", "claude-3-5-haiku-latest"),
			BaseURL: os.Getenv("ANTHROPIC_BASE_URL"),
		},
		Tuning: SharedTuning{
			MaxTokens: getEnvInt("MODEL_MAX_TOKENS", 2048),
		},
	}
}

// NewFromEnv is ConfigFromEnv followed by New.
func NewFromEnv(ctx context.Context) (model.BaseChatModel, error) {
	return New(ctx, ConfigFromEnv())
}

// New constructs a chat model from an explicit Config, delegating to the
// appropriate backend factory function. It validates the config first so
// callers get a clear error at startup rather than on the first request.
// eino-ext backends are wrapped with WithStatusErrors.
func New(ctx context.Context, cfg *Config) (model.BaseChatModel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var (
		m   model.BaseChatModel
		err error
	)
	switch cfg.Backend {
	case BackendOllama:
		m, err = newOllama(ctx, cfg)
	case BackendOpenAI:
		m, err = newOpenAI(ctx, cfg)
	case BackendAzure:
		m, err = newAzure(ctx, cfg)
	case BackendArk:
		m, err = newArk(ctx, cfg)
	case BackendGemini:
		m, err = newGemini(ctx, cfg)
	case BackendAnthropic:
		// Classifies its own errors from the SDK's typed error.
		return NewAnthropic(cfg), nil
	default:
		return nil, fmt.Errorf("provider: unknown backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	return WithStatusErrors(m), nil
}

// CallOptions returns the per-call options that carry Tuning to backends
// whose constructors do not take it. Azure reasoning deployments reject
// sampling parameters, so they get none.
func (c *Config) CallOptions() []model.Option {
	if c.Backend == BackendAzure && isAzureReasoningModel(c.AzureOpenAI.Deployment) {
		return nil
	}
	opts := []model.Option{model.WithTemperature(GuideTemperature)}
	if c.Tuning.MaxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(c.Tuning.MaxTokens))
	}
	return opts
}

// isAzureReasoningModel reports whether deployment names an o-series or
// codex reasoning model.
func isAzureReasoningModel(deployment string) bool {
	d := strings.ToLower(deployment)
	for _, p := range []string{"o1", "o3", "o4", "codex"} {
		if strings.HasPrefix(d, p) {
			return true
		}
	}
	return false
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
