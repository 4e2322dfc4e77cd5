package processor

import (
	"strings"

	"github.com/halcyonsec/quest/internal/models"
)

// separators in priority order: paragraph break, line break, sentence
// punctuation, whitespace. The splitter prefers the highest-priority
// separator that keeps a chunk at or under ChunkSize and falls back to a
// forced fixed-width slice when none fits.
var separators = []string{"\n\n", "\n", ". ", "! ", "? ", " "}

type ProcessorConfig struct {
	ChunkSize    int
	ChunkOverlap int
}

type Processor struct {
	config ProcessorConfig
}

func NewWithConfig(config ProcessorConfig) Processor {
	if config.ChunkSize == 0 {
		config.ChunkSize = 1000
	}
	if config.ChunkOverlap == 0 {
		config.ChunkOverlap = 200
	}
	if config.ChunkOverlap >= config.ChunkSize {
		config.ChunkOverlap = config.ChunkSize / 5
	}

	return Processor{
		config: config,
	}
}

// Process splits each document into overlapping chunks. Chunks are exact
// slices of the original content: stripping the configured overlap from every
// non-first chunk and concatenating reconstructs the document.
func (p *Processor) Process(docs []models.SourceDocument) []models.Chunk {
	var chunks []models.Chunk

	for _, doc := range docs {
		for i, text := range p.split(doc.Content) {
			chunks = append(chunks, models.Chunk{
				Text:       text,
				SourceID:   doc.SourceID,
				PageNumber: doc.PageNumber,
				ChunkIndex: i,
			})
		}
	}

	return chunks
}

func (p *Processor) split(text string) []string {
	// A document at or under the chunk size is a single chunk, no overlap.
	if len(text) <= p.config.ChunkSize {
		return []string{text}
	}

	var out []string
	start := 0

	for {
		if len(text)-start <= p.config.ChunkSize {
			out = append(out, text[start:])
			break
		}

		window := text[start : start+p.config.ChunkSize]
		end := start + p.cut(window)
		out = append(out, text[start:end])
		start = end - p.config.ChunkOverlap
	}

	return out
}

// cut returns the length of the next chunk within window. It takes the last
// occurrence of the highest-priority separator, keeping the separator inside
// the chunk. The cut must land past the overlap carried in from the previous
// chunk so every step makes progress.
func (p *Processor) cut(window string) int {
	min := p.config.ChunkOverlap + 1

	for _, sep := range separators {
		if i := strings.LastIndex(window, sep); i >= 0 {
			end := i + len(sep)
			if end >= min {
				return end
			}
		}
	}

	return len(window)
}
