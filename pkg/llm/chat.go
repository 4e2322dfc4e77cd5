package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"

	"github.com/halcyonsec/quest/internal/models"
)

// RefusalPhrase is the fixed sentence the model is instructed to emit when
// the supplied context cannot answer the question. Detection is a substring
// match against this exact text; the prompt and the parser share it through
// this constant.
const RefusalPhrase = "Review Required - Not found in policy"

const systemTemplate = `You are a strict compliance officer answering a vendor security questionnaire.
Answer the question based ONLY on the provided policy context.

RULES:
1. Answer in 1-2 sentences maximum. Be concise and professional.
2. Start with "Yes," "No," or "Partially" where applicable.
3. If the answer is NOT explicitly in the context, output EXACTLY: "` + RefusalPhrase + `"
4. Do NOT make up information. Do NOT use outside knowledge.
5. If the context names a specific policy (e.g. "Access Control Policy"), cite it.`

// ChatConfig represents the configuration for a chat engine. A configured
// API key selects the cloud model, otherwise a local Ollama model.
type ChatConfig struct {
	APIKey    string
	Model     string
	MaxTokens int
	BaseURL   string // Ollama server URL
}

// ChatEngine generates questionnaire answers from retrieved policy context.
type ChatEngine struct {
	config ChatConfig
	llm    llms.Model
}

// NewWithConfig creates a new ChatEngine with the given configuration.
func NewWithConfig(config ChatConfig) (*ChatEngine, error) {
	if config.MaxTokens < 0 {
		return nil, fmt.Errorf("max tokens cannot be negative")
	} else if config.MaxTokens == 0 {
		config.MaxTokens = 512
	}

	var model llms.Model
	var err error

	if config.APIKey != "" {
		if config.Model == "" {
			config.Model = "gpt-4o-mini"
		}
		model, err = openai.New(
			openai.WithToken(config.APIKey),
			openai.WithModel(config.Model),
		)
	} else {
		if config.Model == "" {
			config.Model = "mistral"
		}
		if config.BaseURL == "" {
			config.BaseURL = "http://localhost:11434"
		}
		model, err = ollama.New(
			ollama.WithModel(config.Model),
			ollama.WithServerURL(config.BaseURL),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM: %w", err)
	}

	return &ChatEngine{
		config: config,
		llm:    model,
	}, nil
}

// Answer generates a response for the question from the retrieved chunks.
// Temperature is pinned to zero: the same question against the same corpus
// should tend to produce the same answer. With empty context the model is
// still invoked and is expected to produce the refusal phrase.
func (ce *ChatEngine) Answer(ctx context.Context, question string, chunks []models.ScoredChunk) (string, error) {
	content := []llms.MessageContent{
		llms.TextParts(schema.ChatMessageTypeSystem, systemTemplate),
		llms.TextParts(schema.ChatMessageTypeHuman,
			fmt.Sprintf("Context:\n%s\n\nQuestion: %s\n\nAnswer:", FormatContext(chunks), question)),
	}

	response, err := ce.llm.GenerateContent(ctx, content,
		llms.WithTemperature(0),
		llms.WithMaxTokens(ce.config.MaxTokens),
	)
	if err != nil {
		return "", fmt.Errorf("chat error: %w", err)
	}
	if len(response.Choices) == 0 {
		return "", fmt.Errorf("chat error: empty response from model")
	}

	return strings.TrimSpace(response.Choices[0].Content), nil
}

// FormatContext renders retrieved chunks into the prompt's context block.
func FormatContext(chunks []models.ScoredChunk) string {
	if len(chunks) == 0 {
		return "(no relevant passages found)"
	}

	var b strings.Builder
	for _, c := range chunks {
		fmt.Fprintf(&b, "[Source: %s (Pg. %d)]\n%s\n\n", c.SourceID, c.PageNumber, c.Text)
	}
	return strings.TrimSpace(b.String())
}
