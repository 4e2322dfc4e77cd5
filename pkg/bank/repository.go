package bank

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/halcyonsec/quest/internal/models"
)

// Repository persists verified answer bank entries in Postgres. The question
// column is unique: inserting an exact duplicate question is a no-op.
// Near-duplicates are allowed and resolved at query time by fuzzy scoring.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(connString string) (*Repository, error) {
	pool, err := pgxpool.New(context.Background(), connString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	r := &Repository{pool: pool}
	if err := r.initialize(); err != nil {
		pool.Close()
		return nil, err
	}
	return r, nil
}

func (r *Repository) initialize() error {
	_, err := r.pool.Exec(context.Background(), `
		CREATE TABLE IF NOT EXISTS answer_bank (
			id BIGSERIAL PRIMARY KEY,
			question TEXT NOT NULL UNIQUE,
			answer TEXT NOT NULL,
			product TEXT NOT NULL DEFAULT '',
			subsidiary TEXT NOT NULL DEFAULT '',
			verified_by TEXT NOT NULL DEFAULT '',
			date_added TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return fmt.Errorf("failed to create answer_bank table: %w", err)
	}
	return nil
}

// Add inserts an entry. Returns false when an entry with the identical
// question text already exists.
func (r *Repository) Add(ctx context.Context, e models.AnswerBankEntry) (bool, error) {
	if e.DateAdded.IsZero() {
		e.DateAdded = time.Now()
	}

	tag, err := r.pool.Exec(ctx, `
		INSERT INTO answer_bank (question, answer, product, subsidiary, verified_by, date_added)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (question) DO NOTHING`,
		e.Question, e.Answer, e.Product, e.Subsidiary, e.VerifiedBy, e.DateAdded)
	if err != nil {
		return false, fmt.Errorf("failed to insert bank entry: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// All returns every bank entry, oldest first.
func (r *Repository) All(ctx context.Context) ([]models.AnswerBankEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT question, answer, product, subsidiary, verified_by, date_added
		FROM answer_bank ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query answer bank: %w", err)
	}
	defer rows.Close()

	var entries []models.AnswerBankEntry
	for rows.Next() {
		var e models.AnswerBankEntry
		if err := rows.Scan(&e.Question, &e.Answer, &e.Product, &e.Subsidiary, &e.VerifiedBy, &e.DateAdded); err != nil {
			return nil, fmt.Errorf("failed to scan bank entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ImportCSV seeds the bank from a CSV file with a header row of
// question,answer[,product,subsidiary,verified_by]. Returns the number of
// newly inserted entries; duplicates are silently skipped.
func (r *Repository) ImportCSV(ctx context.Context, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return 0, fmt.Errorf("failed to read csv header: %w", err)
	}

	col := func(name string) int {
		for i, h := range header {
			if strings.EqualFold(strings.TrimSpace(h), name) {
				return i
			}
		}
		return -1
	}

	qi, ai := col("question"), col("answer")
	if qi < 0 || ai < 0 {
		return 0, fmt.Errorf("csv must have question and answer columns")
	}
	pi, si, vi := col("product"), col("subsidiary"), col("verified_by")

	field := func(row []string, i int) string {
		if i < 0 || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	added := 0
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return added, fmt.Errorf("failed to read csv row: %w", err)
		}

		e := models.AnswerBankEntry{
			Question:   field(row, qi),
			Answer:     field(row, ai),
			Product:    field(row, pi),
			Subsidiary: field(row, si),
			VerifiedBy: field(row, vi),
		}
		if e.Question == "" || e.Answer == "" {
			continue
		}

		inserted, err := r.Add(ctx, e)
		if err != nil {
			return added, err
		}
		if inserted {
			added++
		}
	}

	return added, nil
}

// Matcher loads the full bank into an in-memory fuzzy matcher.
func (r *Repository) Matcher(ctx context.Context) (*Matcher, error) {
	entries, err := r.All(ctx)
	if err != nil {
		return nil, err
	}
	return NewMatcher(entries), nil
}

func (r *Repository) Close() {
	if r.pool != nil {
		r.pool.Close()
	}
}
