package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

type Config struct {
	Provider string `toml:"provider"`
	APIKey   string `toml:"api_key"`
	BaseURL  string `toml:"base_url"`
	Model    string `toml:"model"`

	// HTTPClient overrides the SDK transport; nil keeps the SDK default.
	HTTPClient *http.Client `toml:"-"`
}

const DefaultGeminiModel = "gemini-2.5-flash"

func New(ctx context.Context, cfg Config) (Provider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("llm: api key is required")
	}

	cfg.Provider = strings.ToLower(strings.TrimSpace(cfg.Provider))
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")

	switch cfg.Provider {
	case "", "gemini":
		if cfg.Model == "" {
			cfg.Model = DefaultGeminiModel
		}
		return NewGeminiProvider(ctx, cfg)
	case "openai", "deepseek", "ollama":
		if cfg.Model == "" {
			return nil, fmt.Errorf("llm: model is required for provider %s", cfg.Provider)
		}
		return NewOpenAIProvider(cfg), nil
	case "anthropic":
		if cfg.Model == "" {
			return nil, fmt.Errorf("llm: model is required for provider %s", cfg.Provider)
		}
		return NewAnthropicProvider(cfg), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider: %s", cfg.Provider)
	}
}
