package provider

import (
	"context"
	"fmt"

	"github.com/sentrakit/agentcore/config"
	openai_provider "github.com/sentrakit/agentcore/provider/openai"
)

// Provider is the contract every LLM backend must satisfy. All pipeline
// stages talk to models exclusively through this interface.
type Provider interface {
	// Generate generates text using the configured model key.
	Generate(ctx context.Context, prompt string, model string, options map[string]interface{}) (string, error)

	// GenerateWithTokens generates text and returns prompt/completion token usage.
	GenerateWithTokens(ctx context.Context, prompt string, model string, options map[string]interface{}) (string, int64, int64, error)

	// Embed generates vector embeddings for the provided inputs.
	Embed(ctx context.Context, model string, input []string) ([][]float32, error)

	// GetAvailableModels returns the configured model keys.
	GetAvailableModels() []string

	// CalculateCost calculates the cost in USD for a given number of tokens.
	CalculateCost(inputTokens, outputTokens int64, model string) float64
}

// New creates an LLM provider based on configuration.
func New(cfg config.LLMConfig) (Provider, error) {
	if len(cfg.Providers) == 0 {
		return nil, fmt.Errorf("no LLM providers configured")
	}
	for _, p := range cfg.Providers {
		switch p.Type {
		case "openai", "openai-compatible":
			return openai_provider.New(p), nil
		default:
			return nil, fmt.Errorf("unsupported LLM provider type: %s", p.Type)
		}
	}
	return nil, fmt.Errorf("no valid LLM providers found")
}
