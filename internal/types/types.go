package types

import (
	"context"

	"github.com/halcyonsec/quest/internal/models"
)

// Embedder turns texts into vectors. Satisfied directly by the langchaingo
// openai and ollama clients.
type Embedder interface {
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorIndex is the similarity-searchable store over embedded chunks.
// Build is a full atomic rebuild; Query returns the k nearest chunks or
// store.ErrIndexUnavailable when no index has been built.
type VectorIndex interface {
	Build(ctx context.Context, chunks []models.Chunk) error
	Query(ctx context.Context, text string, k int) ([]models.ScoredChunk, error)
	Ready(ctx context.Context) (bool, error)
}

// Matcher finds the best fuzzy match for a question in the answer bank.
// The returned entry is nil when no entry scores at or above threshold; the
// score of the best candidate is returned either way.
type Matcher interface {
	FindBestMatch(question string, threshold int) (*models.AnswerBankEntry, int)
}

// ChatModel generates an answer for a question from retrieved context.
type ChatModel interface {
	Answer(ctx context.Context, question string, chunks []models.ScoredChunk) (string, error)
}

// Processor splits source documents into chunks.
type Processor interface {
	Process(docs []models.SourceDocument) []models.Chunk
}
