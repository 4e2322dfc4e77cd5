package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("OLLAMA_BASE_URL", "")
	t.Setenv("DATABASE_URL", "")
}

func TestLoadConfigFromFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
llm:
  provider: ollama
  model: llama3
  max_tokens: 1024
database:
  url: postgres://localhost:5432/quest
  vector_dim: 768
corpus:
  dir: /var/policies
bank:
  threshold: 90
`)

	config, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "ollama", config.LLM.Provider)
	assert.Equal(t, "llama3", config.LLM.Model)
	assert.Equal(t, 1024, config.LLM.MaxTokens)
	assert.Equal(t, "postgres://localhost:5432/quest", config.Database.URL)
	assert.Equal(t, 768, config.Database.VectorDim)
	assert.Equal(t, "/var/policies", config.Corpus.Dir)
	assert.Equal(t, 90, config.Bank.Threshold)
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "llm:\n  provider: ollama\n")

	config, err := LoadConfig(path)
	require.NoError(t, err)

	// No API key: local models and local embedding dimension.
	assert.Equal(t, "mistral", config.LLM.Model)
	assert.Equal(t, "nomic-embed-text:latest", config.LLM.EmbedModel)
	assert.Equal(t, 768, config.Database.VectorDim)
	assert.Equal(t, "http://localhost:11434", config.LLM.BaseURL)

	assert.Equal(t, "policy_chunks", config.Database.TableName)
	assert.Equal(t, 64, config.Database.BatchSize)
	assert.Equal(t, "./data", config.Corpus.Dir)
	assert.Equal(t, "urls.txt", config.Corpus.URLsFile)
	assert.Equal(t, 1000, config.Processor.ChunkSize)
	assert.Equal(t, 200, config.Processor.ChunkOverlap)
	assert.Equal(t, 85, config.Bank.Threshold)
	assert.Equal(t, 4, config.Retrieval.TopK)
}

func TestLoadConfigCloudDefaults(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "llm:\n  api_key: sk-test\n")

	config, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o-mini", config.LLM.Model)
	assert.Equal(t, "text-embedding-3-small", config.LLM.EmbedModel)
	assert.Equal(t, 1536, config.Database.VectorDim)
}

func TestLoadConfigMergesEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("DATABASE_URL", "postgres://env-host:5432/quest")

	path := writeConfig(t, "llm:\n  api_key: sk-file\n")

	config, err := LoadConfig(path)
	require.NoError(t, err)

	// Environment wins over the file.
	assert.Equal(t, "sk-env", config.LLM.APIKey)
	assert.Equal(t, "postgres://env-host:5432/quest", config.Database.URL)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadConfigMalformedYAML(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "llm: [not a mapping")

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestValidateDefaultsPass(t *testing.T) {
	clearEnv(t)
	config, err := getDefaultConfig()
	require.NoError(t, err)

	assert.Empty(t, config.Validate())
}

func TestValidateErrors(t *testing.T) {
	clearEnv(t)
	config, err := getDefaultConfig()
	require.NoError(t, err)

	config.LLM.Provider = "palm"
	config.LLM.MaxTokens = 10000
	config.Bank.Threshold = 120
	config.Processor.ChunkOverlap = config.Processor.ChunkSize
	config.Retrieval.TopK = 0

	errs := config.Validate()
	fields := make([]string, 0, len(errs))
	for _, e := range errs {
		fields = append(fields, e.Field)
	}

	assert.Contains(t, fields, "llm.provider")
	assert.Contains(t, fields, "llm.max_tokens")
	assert.Contains(t, fields, "bank.threshold")
	assert.Contains(t, fields, "processor.chunk_overlap")
	assert.Contains(t, fields, "retrieval.top_k")
}

func TestValidateRejectsZeroThreshold(t *testing.T) {
	clearEnv(t)
	config, err := getDefaultConfig()
	require.NoError(t, err)

	// An explicit zero threshold is an error, not a silent fallback to the
	// default.
	config.Bank.Threshold = 0

	errs := config.Validate()
	require.Len(t, errs, 1)
	assert.Equal(t, "bank.threshold", errs[0].Field)
}

func TestValidationErrorMessage(t *testing.T) {
	e := ValidationError{Field: "bank.threshold", Message: "threshold must be between 1 and 100"}
	assert.Equal(t, "bank.threshold: threshold must be between 1 and 100", e.Error())
}
