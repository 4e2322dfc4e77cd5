package models

import "time"

// Status grades how a question was resolved.
type Status string

const (
	StatusVerifiedBank   Status = "Verified (Answer Bank)"
	StatusAutoFilled     Status = "Auto-Filled"
	StatusReviewRequired Status = "Review Required"
	StatusSearchResult   Status = "Search Result"
	StatusFailed         Status = "Failed"
)

// AnswerBankEntry is a previously verified question/answer pair. Question
// text is unique across the bank (exact match); near-duplicates are allowed
// and disambiguated at query time by fuzzy score.
type AnswerBankEntry struct {
	Question   string
	Answer     string
	Product    string
	Subsidiary string
	VerifiedBy string
	DateAdded  time.Time
}

// QuestionResponse is the output unit for one questionnaire item. Never
// mutated after construction.
type QuestionResponse struct {
	Question string   `json:"question"`
	Answer   string   `json:"answer"`
	Status   Status   `json:"status"`
	Evidence []string `json:"evidence"`
}
