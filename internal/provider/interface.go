// Package provider selects and constructs the language model used to
// synthesize troubleshooting guides.
// Supported backends: Ollama, OpenAI, Azure OpenAI, Volcengine Ark, Google
// Gemini and Anthropic.
package provider

import (
	"fmt"
)

// Backend enumerates the supported LLM inference providers.
type Backend string

const (
	// BackendOllama selects a locally running Ollama instance.
	BackendOllama Backend = "ollama"
	// BackendOpenAI selects the OpenAI API.
	BackendOpenAI Backend = "openai"
	// BackendAzure selects Azure OpenAI Service.
	BackendAzure Backend = "azure"
	// BackendArk selects the Volcengine Ark model runtime.
	BackendArk Backend = "ark"
	// BackendGemini selects Google Gemini via AI Studio.
	BackendGemini Backend = "gemini"
	// BackendAnthropic selects the Anthropic Messages API.
	BackendAnthropic Backend = "anthropic"
)

// ProviderOllama holds settings for the ollama backend.
type ProviderOllama struct {
	// Host is the Ollama server base URL.
	Host string
	// Model is the Ollama chat model name.
	Model string
}

// ProviderOpenAI holds settings for the openai backend.
type ProviderOpenAI struct {
	// APIKey is the OpenAI API key.
	APIKey string
	// Model is the OpenAI model name.
	Model string
	// BaseURL overrides the API endpoint for OpenAI-compatible gateways.
	BaseURL string
}

// ProviderAzureOpenAI holds settings for the azure backend.
type ProviderAzureOpenAI struct {
	// APIKey is the Azure OpenAI API key.
	APIKey string
	// Endpoint is the resource endpoint (https://<resource>.openai.azure.com).
	Endpoint string
	// Deployment is the deployment name, used as the model name.
	Deployment string
	// APIVersion is the Azure OpenAI REST API version.
	APIVersion string
}

// ProviderArk holds settings for the ark backend.
type ProviderArk struct {
	// APIKey is the Ark API key.
	APIKey string
	// Model is the Ark endpoint or model id.
	Model string
	// BaseURL overrides the regional endpoint.
	BaseURL string
}

// ProviderGemini holds settings for the gemini backend.
type ProviderGemini struct {
	// APIKey is the Google AI Studio API key.
	APIKey string
	// Model is the Gemini model name.
	Model string
}

// ProviderAnthropic holds settings for the anthropic backend.
type ProviderAnthropic struct {
	// APIKey is the Anthropic API key.
	APIKey string
	// Model is the Claude model name.
	Model string
	// BaseURL overrides the API endpoint.
	BaseURL string
}

// GuideTemperature is the sampling temperature for every guide. It is not
// configurable: the same tickets and query should yield the same guide.
const GuideTemperature float32 = 0

// SharedTuning holds generation parameters applied to every backend.
type SharedTuning struct {
	// MaxTokens caps the number of tokens the model may generate per response.
	MaxTokens int
}

// Config holds all provider-level configuration resolved from environment
// variables or explicit caller-supplied values. Only the section matching
// Backend is read.
type Config struct {
	// Backend identifies which inference provider to use.
	Backend Backend

	Ollama      ProviderOllama
	OpenAI      ProviderOpenAI
	AzureOpenAI ProviderAzureOpenAI
	Ark         ProviderArk
	Gemini      ProviderGemini
	Anthropic   ProviderAnthropic

	// Tuning applies to whichever backend is selected.
	Tuning SharedTuning
}

// Validate reports the first missing setting for the selected backend,
// naming the environment variable that supplies it.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendOllama:
		if c.Ollama.Model == "" {
			return fmt.Errorf("provider: OLLAMA_MODEL is required for ollama backend")
		}
	case BackendOpenAI:
		if c.OpenAI.APIKey == "" {
			return fmt.Errorf("provider: OPENAI_API_KEY is required for openai backend")
		}
		if c.OpenAI.Model == "" {
			return fmt.Errorf("provider: OPENAI_MODEL is required for openai backend")
		}
	case BackendAzure:
		if c.AzureOpenAI.APIKey == "" {
			return fmt.Errorf("provider: AZURE_OPENAI_API_KEY is required for azure backend")
		}
		if c.AzureOpenAI.Endpoint == "" {
			return fmt.Errorf("provider: AZURE_OPENAI_ENDPOINT is required for azure backend")
		}
		if c.AzureOpenAI.Deployment == "" {
			return fmt.Errorf("provider: AZURE_OPENAI_DEPLOYMENT is required for azure backend")
		}
	case BackendArk:
		if c.Ark.APIKey == "" {
			return fmt.Errorf("provider: ARK_API_KEY is required for ark backend")
		}
		if c.Ark.Model == "" {
			return fmt.Errorf("provider: ARK_MODEL is required for ark backend")
		}
	case BackendGemini:
		if c.Gemini.APIKey == "" {
			return fmt.Errorf("provider: GOOGLE_API_KEY is required for gemini backend")
		}
		if c.Gemini.Model == "" {
			return fmt.Errorf("provider: GEMINI_MODEL is required for gemini backend")
		}
	case BackendAnthropic:
		if c.Anthropic.APIKey == "" {
			return fmt.Errorf("provider: ANTHROPIC_API_KEY is required for anthropic backend")
		}
		if c.Anthropic.Model == "" {
			return fmt.Errorf("provider: ANTHROPIC_MODEL is required for anthropic backend")
		}
	default:
		return fmt.Errorf("provider: unknown backend %q: valid values: ollama, openai, azure, ark, gemini, anthropic", c.Backend)
	}
	if c.Tuning.MaxTokens < 0 {
		return fmt.Errorf("provider: MODEL_MAX_TOKENS must not be negative")
	}
	return nil
}

// ModelName returns the model or deployment name of the selected backend.
func (c *Config) ModelName() string {
	switch c.Backend {
	case BackendOllama:
		return c.Ollama.Model
	case BackendOpenAI:
		return c.OpenAI.Model
	case BackendAzure:
		return c.AzureOpenAI.Deployment
	case BackendArk:
		return c.Ark.Model
	case BackendGemini:
		return c.Gemini.Model
	case BackendAnthropic:
		return c.Anthropic.Model
	default:
		return ""
	}
}
