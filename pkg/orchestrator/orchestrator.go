package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/halcyonsec/quest/internal/models"
	"github.com/halcyonsec/quest/internal/types"
	"github.com/halcyonsec/quest/pkg/bank"
	"github.com/halcyonsec/quest/pkg/llm"
)

// OperatingMode is decided once at startup from the configured credentials
// and never re-read mid-request. SearchOnly answers with raw retrieval
// excerpts and never calls a generative model.
type OperatingMode int

const (
	ModeSearchOnly OperatingMode = iota
	ModeFull
)

func (m OperatingMode) String() string {
	if m == ModeFull {
		return "full"
	}
	return "search-only"
}

// searchOnlyNotice prefixes search-mode answers so reviewers know no model
// vetted the excerpts.
const searchOnlyNotice = "Search result (no generative model configured) - review the excerpts below."

type Config struct {
	Mode      OperatingMode
	Threshold int // answer bank fuzzy-match threshold, 0-100
	TopK      int
	Logger    zerolog.Logger
}

// Orchestrator resolves each question through a tiered strategy, terminal on
// first success: verified answer bank, then generative retrieval (full mode),
// then raw similarity search. Every failure is folded into a Failed-status
// response; nothing escapes a batch.
type Orchestrator struct {
	config  Config
	index   types.VectorIndex
	matcher types.Matcher
	chat    types.ChatModel
}

func NewWithConfig(config Config, index types.VectorIndex, matcher types.Matcher, chat types.ChatModel) *Orchestrator {
	if config.Threshold == 0 {
		config.Threshold = bank.DefaultThreshold
	}
	if config.TopK == 0 {
		config.TopK = 4
	}
	if chat == nil {
		config.Mode = ModeSearchOnly
	}

	return &Orchestrator{
		config:  config,
		index:   index,
		matcher: matcher,
		chat:    chat,
	}
}

// Resolve answers a single question. It never returns an error: any failure
// becomes a response with StatusFailed carrying the error text.
func (o *Orchestrator) Resolve(ctx context.Context, question string) models.QuestionResponse {
	question = strings.TrimSpace(question)

	// Tier 1: verified answer bank.
	if o.matcher != nil {
		if entry, score := o.matcher.FindBestMatch(question, o.config.Threshold); entry != nil {
			return models.QuestionResponse{
				Question: question,
				Answer:   entry.Answer,
				Status:   models.StatusVerifiedBank,
				Evidence: []string{fmt.Sprintf("Answer Bank Match (%d%%)", score)},
			}
		}
	}

	chunks, err := o.index.Query(ctx, question, o.config.TopK)
	if err != nil {
		return failed(question, err)
	}

	if o.config.Mode == ModeFull {
		return o.resolveGenerative(ctx, question, chunks)
	}
	return resolveSearchOnly(question, chunks)
}

// resolveGenerative runs the retrieval-augmented model call. With zero
// retrieved chunks the model is still invoked with empty context and is
// expected to emit the refusal phrase; that keeps the refusal contract in
// one place, the prompt, instead of duplicated here.
func (o *Orchestrator) resolveGenerative(ctx context.Context, question string, chunks []models.ScoredChunk) models.QuestionResponse {
	answer, err := o.chat.Answer(ctx, question, chunks)
	if err != nil {
		return failed(question, err)
	}

	status := models.StatusAutoFilled
	if strings.Contains(answer, llm.RefusalPhrase) || len(chunks) == 0 {
		status = models.StatusReviewRequired
	}

	return models.QuestionResponse{
		Question: question,
		Answer:   answer,
		Status:   status,
		Evidence: Citations(chunks),
	}
}

func resolveSearchOnly(question string, chunks []models.ScoredChunk) models.QuestionResponse {
	if len(chunks) == 0 {
		return models.QuestionResponse{
			Question: question,
			Answer:   llm.RefusalPhrase,
			Status:   models.StatusReviewRequired,
		}
	}

	var b strings.Builder
	b.WriteString(searchOnlyNotice)
	for _, c := range chunks {
		b.WriteString("\n\n")
		b.WriteString(excerpt(c.Text, 300))
	}

	return models.QuestionResponse{
		Question: question,
		Answer:   b.String(),
		Status:   models.StatusSearchResult,
		Evidence: Citations(chunks),
	}
}

// ResolveAll processes questions sequentially, one fully resolved before the
// next begins. Per-question failures, including panics, are isolated into
// Failed rows: the batch always yields one response per question.
func (o *Orchestrator) ResolveAll(ctx context.Context, questions []string, onProgress func(i int)) []models.QuestionResponse {
	responses := make([]models.QuestionResponse, 0, len(questions))

	for i, q := range questions {
		responses = append(responses, o.resolveSafe(ctx, q))
		if onProgress != nil {
			onProgress(i)
		}
	}

	return responses
}

func (o *Orchestrator) resolveSafe(ctx context.Context, question string) (resp models.QuestionResponse) {
	defer func() {
		if r := recover(); r != nil {
			o.config.Logger.Error().Interface("panic", r).Str("question", question).Msg("recovered while resolving")
			resp = failed(question, fmt.Errorf("panic while resolving question: %v", r))
		}
	}()

	return o.Resolve(ctx, question)
}

func failed(question string, err error) models.QuestionResponse {
	return models.QuestionResponse{
		Question: question,
		Answer:   err.Error(),
		Status:   models.StatusFailed,
	}
}

// excerpt truncates to at most max bytes, never splitting a rune.
func excerpt(text string, max int) string {
	text = strings.TrimSpace(text)
	if len(text) <= max {
		return text
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + "..."
}
