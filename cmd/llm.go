package cmd

import (
	"os"

	"github.com/spf13/viper"

	"github.com/joescharf/forge/internal/api"
	"github.com/joescharf/forge/internal/llm"
)

// newLLMClient creates an LLM client from config/env, or returns nil if no API key is configured.
func newLLMClient() *llm.Client {
	apiKey := viper.GetString("anthropic.api_key")
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil
	}
	return llm.NewClient(apiKey, viper.GetString("anthropic.model"))
}

// taskEnricher returns the API server's enricher, or a nil interface when no
// API key is configured.
func taskEnricher() api.Enricher {
	if c := newLLMClient(); c != nil {
		return c
	}
	return nil
}
