package llm

import "github.com/lewisai/lewis/internal/config"

// NewFromConfig builds a Client for the configured provider. Unknown
// providers and missing API keys degrade to the offline client so the engine
// keeps working without network access.
func NewFromConfig(cfg config.LLMConfig) Client {
	switch cfg.Provider {
	case "openai", "openrouter":
		if cfg.APIKey == "" {
			return NewOfflineClient()
		}
		return NewOpenAIClient(OpenAIConfig{
			Provider:   cfg.Provider,
			APIKey:     cfg.APIKey,
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			EmbedModel: cfg.EmbedModel,
		})
	default:
		return NewOfflineClient()
	}
}
