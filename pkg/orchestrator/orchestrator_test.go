package orchestrator_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/halcyonsec/quest/internal/models"
	"github.com/halcyonsec/quest/pkg/bank"
	"github.com/halcyonsec/quest/pkg/llm"
	"github.com/halcyonsec/quest/pkg/orchestrator"
	"github.com/halcyonsec/quest/pkg/store"
)

// stubIndex returns canned chunks or a canned error.
type stubIndex struct {
	chunks []models.ScoredChunk
	err    error
}

func (s *stubIndex) Build(context.Context, []models.Chunk) error { return nil }
func (s *stubIndex) Ready(context.Context) (bool, error)         { return s.err == nil, nil }
func (s *stubIndex) Query(context.Context, string, int) ([]models.ScoredChunk, error) {
	return s.chunks, s.err
}

// stubChat records whether it was called and returns a canned answer.
type stubChat struct {
	answer string
	err    error
	called bool
}

func (s *stubChat) Answer(_ context.Context, _ string, _ []models.ScoredChunk) (string, error) {
	s.called = true
	return s.answer, s.err
}

func encryptionChunks() []models.ScoredChunk {
	return []models.ScoredChunk{
		{Chunk: models.Chunk{Text: "Data is encrypted at rest using AES-256.", SourceID: "security.pdf", PageNumber: 2}, Score: 0.91},
		{Chunk: models.Chunk{Text: "Encryption keys rotate every 90 days.", SourceID: "security.pdf", PageNumber: 2}, Score: 0.84},
	}
}

func mfaBank() *bank.Matcher {
	return bank.NewMatcher([]models.AnswerBankEntry{
		{Question: "Do you use MFA?", Answer: "Yes, MFA is enforced for all production access."},
	})
}

func TestBankPrecedence(t *testing.T) {
	// A bank hit wins regardless of index contents; the chat model must not
	// be consulted.
	chat := &stubChat{answer: "should never be used"}
	o := orchestrator.NewWithConfig(orchestrator.Config{Mode: orchestrator.ModeFull, Threshold: 85},
		&stubIndex{chunks: encryptionChunks()}, mfaBank(), chat)

	resp := o.Resolve(context.Background(), "Do you use MFA")

	assert.Equal(t, models.StatusVerifiedBank, resp.Status)
	assert.Equal(t, "Yes, MFA is enforced for all production access.", resp.Answer)
	require.Len(t, resp.Evidence, 1)
	assert.Regexp(t, `^Answer Bank Match \(\d+%\)$`, resp.Evidence[0])
	assert.False(t, chat.called)
}

func TestAutoFilled(t *testing.T) {
	chat := &stubChat{answer: "Yes, data is encrypted at rest using AES-256."}
	o := orchestrator.NewWithConfig(orchestrator.Config{Mode: orchestrator.ModeFull},
		&stubIndex{chunks: encryptionChunks()}, nil, chat)

	resp := o.Resolve(context.Background(), "Do you encrypt data at rest?")

	assert.Equal(t, models.StatusAutoFilled, resp.Status)
	assert.Contains(t, resp.Answer, "encrypted at rest")
	assert.Equal(t, []string{"security.pdf (Pg. 2)"}, resp.Evidence)
}

func TestRefusalMapsToReviewRequired(t *testing.T) {
	chat := &stubChat{answer: llm.RefusalPhrase}
	o := orchestrator.NewWithConfig(orchestrator.Config{Mode: orchestrator.ModeFull},
		&stubIndex{chunks: encryptionChunks()}, nil, chat)

	resp := o.Resolve(context.Background(), "Do you have a quantum computing policy?")

	assert.Equal(t, models.StatusReviewRequired, resp.Status)
}

func TestZeroChunksStillInvokesModel(t *testing.T) {
	// Empty corpus: the model is called with empty context and the refusal
	// contract lives in the prompt, not in code.
	chat := &stubChat{answer: llm.RefusalPhrase}
	o := orchestrator.NewWithConfig(orchestrator.Config{Mode: orchestrator.ModeFull},
		&stubIndex{}, nil, chat)

	resp := o.Resolve(context.Background(), "Do you encrypt data at rest?")

	assert.True(t, chat.called)
	assert.Equal(t, models.StatusReviewRequired, resp.Status)
	assert.Empty(t, resp.Evidence)
}

func TestZeroChunksNonRefusalAnswerStillReviewRequired(t *testing.T) {
	chat := &stubChat{answer: "Yes, absolutely."}
	o := orchestrator.NewWithConfig(orchestrator.Config{Mode: orchestrator.ModeFull},
		&stubIndex{}, nil, chat)

	resp := o.Resolve(context.Background(), "Do you encrypt data at rest?")

	assert.Equal(t, models.StatusReviewRequired, resp.Status)
}

func TestSearchOnlyMode(t *testing.T) {
	o := orchestrator.NewWithConfig(orchestrator.Config{Mode: orchestrator.ModeSearchOnly},
		&stubIndex{chunks: encryptionChunks()}, nil, nil)

	resp := o.Resolve(context.Background(), "Do you encrypt data at rest?")

	assert.Equal(t, models.StatusSearchResult, resp.Status)
	assert.Contains(t, resp.Answer, "AES-256")
	assert.Equal(t, []string{"security.pdf (Pg. 2)"}, resp.Evidence)
}

func TestSearchOnlyExcerptKeepsValidUTF8(t *testing.T) {
	// Long multibyte text whose excerpt boundary lands inside a rune; the
	// truncation must back up to a rune start instead of splitting it.
	text := "a" + strings.Repeat("ü", 400)
	o := orchestrator.NewWithConfig(orchestrator.Config{Mode: orchestrator.ModeSearchOnly},
		&stubIndex{chunks: []models.ScoredChunk{
			{Chunk: models.Chunk{Text: text, SourceID: "umlauts.pdf", PageNumber: 1}, Score: 0.9},
		}}, nil, nil)

	resp := o.Resolve(context.Background(), "Do you encrypt data at rest?")

	assert.Equal(t, models.StatusSearchResult, resp.Status)
	assert.True(t, utf8.ValidString(resp.Answer))
}

func TestFullModeWithoutChatDowngrades(t *testing.T) {
	o := orchestrator.NewWithConfig(orchestrator.Config{Mode: orchestrator.ModeFull},
		&stubIndex{chunks: encryptionChunks()}, nil, nil)

	resp := o.Resolve(context.Background(), "Do you encrypt data at rest?")

	assert.Equal(t, models.StatusSearchResult, resp.Status)
}

func TestIndexUnavailableMapsToFailed(t *testing.T) {
	o := orchestrator.NewWithConfig(orchestrator.Config{Mode: orchestrator.ModeFull},
		&stubIndex{err: store.ErrIndexUnavailable}, nil, &stubChat{})

	resp := o.Resolve(context.Background(), "Do you encrypt data at rest?")

	assert.Equal(t, models.StatusFailed, resp.Status)
	assert.Contains(t, resp.Answer, "no index has been built")
	assert.Empty(t, resp.Evidence)
}

func TestGenerationErrorMapsToFailed(t *testing.T) {
	chat := &stubChat{err: errors.New("rate limit exceeded")}
	o := orchestrator.NewWithConfig(orchestrator.Config{Mode: orchestrator.ModeFull},
		&stubIndex{chunks: encryptionChunks()}, nil, chat)

	resp := o.Resolve(context.Background(), "Do you encrypt data at rest?")

	assert.Equal(t, models.StatusFailed, resp.Status)
	assert.Contains(t, resp.Answer, "rate limit exceeded")
}

func TestResolveAllIsolatesFailures(t *testing.T) {
	// Index errors hit every question, yet the batch completes with one row
	// per input.
	o := orchestrator.NewWithConfig(orchestrator.Config{Mode: orchestrator.ModeFull},
		&stubIndex{err: store.ErrIndexUnavailable}, nil, &stubChat{})

	questions := []string{"Q1?", "Q2?", "Q3?"}
	var progress []int
	responses := o.ResolveAll(context.Background(), questions, func(i int) {
		progress = append(progress, i)
	})

	require.Len(t, responses, 3)
	for i, resp := range responses {
		assert.Equal(t, models.StatusFailed, resp.Status)
		assert.Equal(t, questions[i], resp.Question)
	}
	assert.Equal(t, []int{0, 1, 2}, progress)
}

func TestResolveAllBankAndGenerativeMix(t *testing.T) {
	chat := &stubChat{answer: "Yes, data is encrypted at rest."}
	o := orchestrator.NewWithConfig(orchestrator.Config{Mode: orchestrator.ModeFull, Threshold: 85},
		&stubIndex{chunks: encryptionChunks()}, mfaBank(), chat)

	responses := o.ResolveAll(context.Background(), []string{
		"Do you use MFA?",
		"Do you encrypt data at rest?",
	}, nil)

	require.Len(t, responses, 2)
	assert.Equal(t, models.StatusVerifiedBank, responses[0].Status)
	assert.Equal(t, models.StatusAutoFilled, responses[1].Status)
}
