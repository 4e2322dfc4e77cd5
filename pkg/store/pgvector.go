package store

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/halcyonsec/quest/internal/models"
	"github.com/halcyonsec/quest/internal/types"
)

// ErrIndexUnavailable is returned by Query when no index generation has ever
// been built.
var ErrIndexUnavailable = errors.New("vector index unavailable: no index has been built")

type VectorStoreConfig struct {
	ConnString string
	TableName  string
	VectorDim  int
	BatchSize  int
}

// VectorStore persists embedded chunks in pgvector. Rebuilds are atomic:
// Build writes a complete new generation, then swaps the current-generation
// pointer in one transaction, so readers never see a partially written index
// and stale chunks from deleted documents never leak into retrieval.
type VectorStore struct {
	config   VectorStoreConfig
	pool     *pgxpool.Pool
	embedder types.Embedder
}

func NewWithConfig(config VectorStoreConfig, embedder types.Embedder) (*VectorStore, error) {
	if config.TableName == "" {
		config.TableName = "policy_chunks"
	}
	if config.VectorDim == 0 {
		config.VectorDim = 1536
	}
	if config.BatchSize == 0 {
		config.BatchSize = 64
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}

	pool, err := pgxpool.New(context.Background(), config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	vs := &VectorStore{
		config:   config,
		pool:     pool,
		embedder: embedder,
	}

	if err := vs.initialize(); err != nil {
		pool.Close()
		return nil, err
	}

	return vs, nil
}

func (vs *VectorStore) initialize() error {
	ctx := context.Background()

	_, err := vs.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	if err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			generation BIGINT NOT NULL,
			ord INTEGER NOT NULL,
			source_id TEXT NOT NULL,
			page INTEGER NOT NULL,
			chunk_index INTEGER NOT NULL,
			content TEXT NOT NULL,
			embedding vector(%d)
		)`, vs.config.TableName, vs.config.VectorDim)

	if _, err = vs.pool.Exec(ctx, createTable); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	createMeta := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s_meta (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			current_generation BIGINT NOT NULL,
			built_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, vs.config.TableName)

	if _, err = vs.pool.Exec(ctx, createMeta); err != nil {
		return fmt.Errorf("failed to create meta table: %w", err)
	}

	createIndex := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s_embedding_idx
		ON %s
		USING ivfflat (embedding vector_cosine_ops)
		WITH (lists = 100)`,
		vs.config.TableName, vs.config.TableName)

	if _, err = vs.pool.Exec(ctx, createIndex); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	return nil
}

// Build embeds every chunk and persists a new index generation, then swaps
// it in atomically and drops the previous generation. A build with zero
// chunks still produces a valid (empty) generation.
func (vs *VectorStore) Build(ctx context.Context, chunks []models.Chunk) error {
	gen, err := vs.nextGeneration(ctx)
	if err != nil {
		return err
	}

	insert := fmt.Sprintf(`
		INSERT INTO %s (id, generation, ord, source_id, page, chunk_index, content, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		vs.config.TableName)

	for start := 0; start < len(chunks); start += vs.config.BatchSize {
		end := start + vs.config.BatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = sanitizeUTF8(c.Text)
		}

		embeddings, err := vs.embedder.CreateEmbedding(ctx, texts)
		if err != nil {
			return fmt.Errorf("failed to create embeddings: %w", err)
		}
		if len(embeddings) != len(batch) {
			return fmt.Errorf("embedder returned %d vectors for %d chunks", len(embeddings), len(batch))
		}

		tx, err := vs.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}

		for i, c := range batch {
			id := fmt.Sprintf("%d:%s:%d:%d", gen, c.SourceID, c.PageNumber, c.ChunkIndex)
			_, err = tx.Exec(ctx, insert,
				id,
				gen,
				start+i,
				c.SourceID,
				c.PageNumber,
				c.ChunkIndex,
				texts[i],
				pgvector.NewVector(embeddings[i]),
			)
			if err != nil {
				tx.Rollback(ctx)
				return fmt.Errorf("failed to insert chunk: %w", err)
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("failed to commit batch: %w", err)
		}
	}

	return vs.swapGeneration(ctx, gen)
}

func (vs *VectorStore) nextGeneration(ctx context.Context) (int64, error) {
	var current int64
	q := fmt.Sprintf("SELECT current_generation FROM %s_meta WHERE id = 1", vs.config.TableName)
	err := vs.pool.QueryRow(ctx, q).Scan(&current)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("failed to read current generation: %w", err)
	}
	return current + 1, nil
}

// swapGeneration points readers at the new generation and drops the old one
// in a single transaction.
func (vs *VectorStore) swapGeneration(ctx context.Context, gen int64) error {
	tx, err := vs.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin swap transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	upsert := fmt.Sprintf(`
		INSERT INTO %s_meta (id, current_generation, built_at)
		VALUES (1, $1, now())
		ON CONFLICT (id) DO UPDATE SET
			current_generation = EXCLUDED.current_generation,
			built_at = EXCLUDED.built_at`,
		vs.config.TableName)

	if _, err = tx.Exec(ctx, upsert, gen); err != nil {
		return fmt.Errorf("failed to update generation pointer: %w", err)
	}

	purge := fmt.Sprintf("DELETE FROM %s WHERE generation <> $1", vs.config.TableName)
	if _, err = tx.Exec(ctx, purge, gen); err != nil {
		return fmt.Errorf("failed to purge old generations: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit swap: %w", err)
	}
	return nil
}

// Query embeds the text and returns the k nearest chunks of the current
// generation, ties broken by original document order.
func (vs *VectorStore) Query(ctx context.Context, text string, k int) ([]models.ScoredChunk, error) {
	gen, err := vs.currentGeneration(ctx)
	if err != nil {
		return nil, err
	}

	embeddings, err := vs.embedder.CreateEmbedding(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("embedder returned no vector for query")
	}

	q := fmt.Sprintf(`
		SELECT source_id, page, chunk_index, content,
			1 - (embedding <=> $2) AS score
		FROM %s
		WHERE generation = $1
		ORDER BY embedding <=> $2, ord
		LIMIT $3`,
		vs.config.TableName)

	rows, err := vs.pool.Query(ctx, q, gen, pgvector.NewVector(embeddings[0]), k)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	var out []models.ScoredChunk
	for rows.Next() {
		var c models.ScoredChunk
		if err := rows.Scan(&c.SourceID, &c.PageNumber, &c.ChunkIndex, &c.Text, &c.Score); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Ready reports whether any index generation has been built.
func (vs *VectorStore) Ready(ctx context.Context) (bool, error) {
	_, err := vs.currentGeneration(ctx)
	if errors.Is(err, ErrIndexUnavailable) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (vs *VectorStore) currentGeneration(ctx context.Context) (int64, error) {
	var gen int64
	q := fmt.Sprintf("SELECT current_generation FROM %s_meta WHERE id = 1", vs.config.TableName)
	err := vs.pool.QueryRow(ctx, q).Scan(&gen)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrIndexUnavailable
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read current generation: %w", err)
	}
	return gen, nil
}

func (vs *VectorStore) Close() {
	if vs.pool != nil {
		vs.pool.Close()
	}
}

func sanitizeUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	v := make([]rune, 0, len(s))
	for i, r := range s {
		if r == utf8.RuneError {
			_, size := utf8.DecodeRuneInString(s[i:])
			if size == 1 {
				continue
			}
		}
		v = append(v, r)
	}
	return string(v)
}
