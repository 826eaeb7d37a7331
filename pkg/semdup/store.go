package semdup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

// Store is the pgvector-backed reply archive.
type Store struct {
	pool *pgxpool.Pool
}

// Neighbor is a nearest-neighbor lookup result.
type Neighbor struct {
	ID       int64
	Channel  string
	Content  string
	Distance float64 // cosine distance, lower is more similar
}

// NewStore connects to Postgres and verifies the connection.
func NewStore(ctx context.Context, pgURL string) (*Store, error) {
	config, err := pgxpool.ParseConfig(pgURL)
	if err != nil {
		return nil, fmt.Errorf("parse postgres URL: %w", err)
	}

	// Register pgvector types on each new connection.
	config.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Init creates the pgvector extension, table and index if missing.
func (s *Store) Init(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("create vector extension: %w", err)
	}

	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS reply_embeddings (
			id         BIGSERIAL PRIMARY KEY,
			channel    TEXT NOT NULL,
			content    TEXT NOT NULL,
			embedding  vector(768) NOT NULL,
			sent_at    TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return fmt.Errorf("create reply_embeddings table: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		CREATE INDEX IF NOT EXISTS idx_reply_embeddings_hnsw
		ON reply_embeddings
		USING hnsw (embedding vector_cosine_ops)
		WITH (m = 16, ef_construction = 64)
	`)
	if err != nil {
		return fmt.Errorf("create HNSW index: %w", err)
	}

	slog.Info("reply archive initialized")
	return nil
}

// Close closes the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Insert archives a dispatched reply with its embedding.
func (s *Store) Insert(ctx context.Context, channel, content string, embedding []float32, sentAt time.Time) error {
	vec := pgvector.NewVector(embedding)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO reply_embeddings (channel, content, embedding, sent_at)
		VALUES ($1, $2, $3, $4)
	`, channel, content, vec, sentAt)
	if err != nil {
		return fmt.Errorf("insert reply embedding: %w", err)
	}
	return nil
}

// Nearest returns the closest archived reply by cosine distance, or nil
// when the archive is empty.
func (s *Store) Nearest(ctx context.Context, embedding []float32) (*Neighbor, error) {
	vec := pgvector.NewVector(embedding)
	var n Neighbor
	err := s.pool.QueryRow(ctx, `
		SELECT id, channel, content, embedding <=> $1 AS distance
		FROM reply_embeddings
		ORDER BY embedding <=> $1
		LIMIT 1
	`, vec).Scan(&n.ID, &n.Channel, &n.Content, &n.Distance)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("nearest reply: %w", err)
	}
	return &n, nil
}

// Count returns the number of archived replies.
func (s *Store) Count(ctx context.Context) (count int, err error) {
	err = s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM reply_embeddings").Scan(&count)
	return
}
