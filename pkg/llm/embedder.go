package llm

import (
	"fmt"

	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/halcyonsec/quest/internal/types"
)

// EmbedderConfig selects the embedding provider. A configured API key picks
// the cloud model; otherwise a local Ollama model is used. The choice is
// transparent to callers.
type EmbedderConfig struct {
	APIKey  string
	Model   string
	BaseURL string // Ollama server URL
}

func NewEmbedder(config EmbedderConfig) (types.Embedder, error) {
	if config.APIKey != "" {
		if config.Model == "" {
			config.Model = "text-embedding-3-small"
		}
		emb, err := openai.New(
			openai.WithToken(config.APIKey),
			openai.WithEmbeddingModel(config.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize openai embedder: %w", err)
		}
		return emb, nil
	}

	if config.Model == "" {
		config.Model = "nomic-embed-text:latest"
	}
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434"
	}

	emb, err := ollama.New(
		ollama.WithModel(config.Model),
		ollama.WithServerURL(config.BaseURL),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize ollama embedder: %w", err)
	}
	return emb, nil
}
