package orchestrator

import (
	"fmt"

	"github.com/halcyonsec/quest/internal/models"
)

// Citations renders retrieved chunks as "<source> (Pg. <page>)" strings,
// deduplicated by formatted text with first-seen order preserved. Two chunks
// from the same page of the same document collapse to one citation.
func Citations(chunks []models.ScoredChunk) []string {
	var out []string
	seen := make(map[string]bool)

	for _, c := range chunks {
		citation := fmt.Sprintf("%s (Pg. %d)", c.SourceID, c.PageNumber)
		if seen[citation] {
			continue
		}
		seen[citation] = true
		out = append(out, citation)
	}

	return out
}
