package factories

import (
	"context"
	"errors"

	llmhandler "concierge/handlers/llm"
	"concierge/services/backend"
	geminillm "concierge/services/gemini/llm"
	openaillm "concierge/services/openai/llm"
)

// LLMFactoryConfig holds provider-specific configs for reasoning service
// construction. Set exactly one provider config; the rest should be left nil.
// Groq and OpenRouter speak the OpenAI protocol and reuse the OpenAI service
// with a custom base URL.
type LLMFactoryConfig struct {
	OpenAIConfig     *openaillm.Config `json:"openai,omitempty"`
	GroqConfig       *openaillm.Config `json:"groq,omitempty"`
	OpenRouterConfig *openaillm.Config `json:"openrouter,omitempty"`
	GeminiConfig     *geminillm.Config `json:"gemini,omitempty"`
	BackendConfig    *backend.Config   `json:"backend,omitempty"`
}

// Default base URLs for OpenAI-compatible providers.
const (
	groqBaseURL       = "https://api.groq.com/openai/v1"
	openrouterBaseURL = "https://openrouter.ai/api/v1"
)

// BuildLLMService constructs an LLMService from the given factory config.
// Exactly one provider config must be non-nil.
func BuildLLMService(ctx context.Context, config LLMFactoryConfig) (llmhandler.LLMService, error) {
	if config.OpenAIConfig != nil {
		return openaillm.NewOpenAILLMService(*config.OpenAIConfig)
	}
	if config.GroqConfig != nil {
		return buildOpenAICompatible(*config.GroqConfig, groqBaseURL, "llama-3.3-70b-versatile")
	}
	if config.OpenRouterConfig != nil {
		return buildOpenAICompatible(*config.OpenRouterConfig, openrouterBaseURL, "openai/gpt-4o-mini")
	}
	if config.GeminiConfig != nil {
		return geminillm.NewGeminiLLMService(ctx, *config.GeminiConfig)
	}
	if config.BackendConfig != nil {
		return backend.NewClient(*config.BackendConfig), nil
	}
	return nil, errors.New("LLMFactoryConfig: no provider config specified")
}

// buildOpenAICompatible creates an OpenAI-compatible service, applying the
// default base URL and model if not explicitly set in the config.
func buildOpenAICompatible(cfg openaillm.Config, defaultBaseURL, defaultModel string) (*openaillm.OpenAILLMService, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	return openaillm.NewOpenAILLMService(cfg)
}
