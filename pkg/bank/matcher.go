package bank

import (
	"math"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"

	"github.com/halcyonsec/quest/internal/models"
)

// DefaultThreshold is the minimum 0-100 fuzzy score for a bank hit.
const DefaultThreshold = 85

// Matcher finds the closest verified question in the bank by normalized
// Levenshtein similarity. Question text varies across vendor questionnaires,
// so fuzzy matching, not exact lookup, is the primary-cache strategy. A
// linear scan is fine at the bank's expected size (hundreds to low
// thousands of entries).
type Matcher struct {
	entries []models.AnswerBankEntry
	metric  *metrics.Levenshtein
}

func NewMatcher(entries []models.AnswerBankEntry) *Matcher {
	metric := metrics.NewLevenshtein()
	metric.CaseSensitive = false

	return &Matcher{
		entries: entries,
		metric:  metric,
	}
}

// FindBestMatch scores the question against every entry and returns the
// highest-scoring entry when its score is at or above threshold, else nil.
// The best score is returned either way.
func (m *Matcher) FindBestMatch(question string, threshold int) (*models.AnswerBankEntry, int) {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	best := -1
	var bestEntry *models.AnswerBankEntry

	for i := range m.entries {
		score := m.Score(question, m.entries[i].Question)
		if score > best {
			best = score
			bestEntry = &m.entries[i]
		}
	}

	if best < 0 {
		return nil, 0
	}
	if best < threshold {
		return nil, best
	}
	return bestEntry, best
}

// Score is the 0-100 similarity between two question strings.
func (m *Matcher) Score(a, b string) int {
	return int(math.Round(strutil.Similarity(a, b, m.metric) * 100))
}

// Len reports the number of entries in the bank.
func (m *Matcher) Len() int {
	return len(m.entries)
}
