package llm

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// Client is the interface for LLM clients. The timeout fallback path only
// needs single-prompt completion.
type Client interface {
	// Complete sends a single prompt and returns the response text
	Complete(ctx context.Context, prompt string) (string, error)
	// GetModelName returns the model name
	GetModelName() string
}

// Config selects and configures a provider.
type Config struct {
	// Provider is "anthropic" or "openai"
	Provider string `json:"provider"`
	// Model overrides the provider default model
	Model string `json:"model,omitempty"`
	// APIKeyEnv names the environment variable holding the API key
	APIKeyEnv string `json:"api_key_env,omitempty"`
}

// NewClient constructs a provider client from config. Returns nil without
// error when no provider is configured; callers treat that as the completion
// capability being absent.
func NewClient(cfg Config) (Client, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		return nil, nil
	}

	apiKey := ""
	if cfg.APIKeyEnv != "" {
		apiKey = os.Getenv(cfg.APIKeyEnv)
	}

	switch provider {
	case "anthropic":
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		return NewAnthropicClient(apiKey, cfg.Model)
	case "openai":
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		return NewOpenAIClient(apiKey, cfg.Model)
	default:
		return nil, fmt.Errorf("unknown provider: %s", cfg.Provider)
	}
}
