// Package vectorstore implements domain.VectorStore over PostgreSQL with
// the pgvector extension.
package vectorstore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"alfred-ai/internal/domain"
)

// Store implements domain.VectorStore backed by a pgvector column. It owns
// the dedicated pool that New opens from a DSN.
type Store struct {
	pool       *pgxpool.Pool
	dimensions int
	logger     *slog.Logger
}

// New opens a pgxpool against dsn, ensures the vector extension and table
// exist for the given dimensionality, and returns a ready Store.
func New(ctx context.Context, dsn string, dimensions int, logger *slog.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: connect: %v", domain.ErrVectorStore, err)
	}
	s := &Store{pool: pool, dimensions: dimensions, logger: logger}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	schema := fmt.Sprintf(`
		CREATE EXTENSION IF NOT EXISTS vector;
		CREATE TABLE IF NOT EXISTS content_embeddings (
			id         TEXT PRIMARY KEY,
			company_id TEXT NOT NULL,
			app_id     TEXT NOT NULL,
			user_id    TEXT NOT NULL,
			embedding  vector(%d) NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_embeddings_tenant ON content_embeddings (company_id, app_id, user_id);
		CREATE INDEX IF NOT EXISTS idx_embeddings_ivfflat ON content_embeddings
			USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100);
	`, s.dimensions)
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("%w: migrate: %v", domain.ErrVectorStore, err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Upsert implements domain.VectorStore.
func (s *Store) Upsert(ctx context.Context, tenant domain.TenantCoordinates, id string, embedding []float32) error {
	if len(embedding) != s.dimensions {
		return fmt.Errorf("%w: got %d want %d", domain.ErrEmbedDimensionMismatch, len(embedding), s.dimensions)
	}
	const upsert = `
		INSERT INTO content_embeddings (id, company_id, app_id, user_id, embedding)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (id) DO UPDATE SET embedding = EXCLUDED.embedding
	`
	_, err := s.pool.Exec(ctx, upsert, id, tenant.CompanyID, tenant.AppID, tenant.UserID, pgvector.NewVector(embedding))
	if err != nil {
		return fmt.Errorf("%w: upsert %q: %v", domain.ErrVectorStore, id, err)
	}
	return nil
}

// Search implements domain.VectorStore using cosine distance ordering. The
// minScore threshold is applied here, at the vector-search boundary, not by
// callers on the fused result — a below-threshold vector hit should never
// reach fusion, but a rescued hit from another source still can.
func (s *Store) Search(ctx context.Context, tenant domain.TenantCoordinates, embedding []float32, limit int, minScore float64) ([]domain.ScoredContent, error) {
	if limit <= 0 {
		limit = 10
	}
	const q = `
		SELECT id, 1 - (embedding <=> $1) AS score
		FROM content_embeddings
		WHERE company_id = $2 AND app_id = $3 AND user_id = $4
		  AND 1 - (embedding <=> $1) >= $6
		ORDER BY embedding <=> $1
		LIMIT $5
	`
	rows, err := s.pool.Query(ctx, q, pgvector.NewVector(embedding), tenant.CompanyID, tenant.AppID, tenant.UserID, limit, minScore)
	if err != nil {
		return nil, fmt.Errorf("%w: search: %v", domain.ErrVectorSearch, err)
	}
	defer rows.Close()

	var hits []domain.ScoredContent
	for rows.Next() {
		var sc domain.ScoredContent
		if err := rows.Scan(&sc.ContentID, &sc.Score); err != nil {
			return nil, fmt.Errorf("%w: scan: %v", domain.ErrVectorSearch, err)
		}
		hits = append(hits, sc)
	}
	return hits, rows.Err()
}

// Visible implements domain.VectorStore: a read-your-write existence check
// used by the write saga's verify_vector_visible step.
func (s *Store) Visible(ctx context.Context, tenant domain.TenantCoordinates, id string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM content_embeddings WHERE id = $1 AND company_id = $2 AND app_id = $3 AND user_id = $4)",
		id, tenant.CompanyID, tenant.AppID, tenant.UserID,
	).Scan(&exists)
	if err != nil && err != pgx.ErrNoRows {
		return false, fmt.Errorf("%w: visible %q: %v", domain.ErrVectorVisibility, id, err)
	}
	return exists, nil
}

// Delete implements domain.VectorStore.
func (s *Store) Delete(ctx context.Context, tenant domain.TenantCoordinates, id string) error {
	_, err := s.pool.Exec(ctx,
		"DELETE FROM content_embeddings WHERE id = $1 AND company_id = $2 AND app_id = $3 AND user_id = $4",
		id, tenant.CompanyID, tenant.AppID, tenant.UserID,
	)
	if err != nil {
		return fmt.Errorf("%w: delete %q: %v", domain.ErrVectorStore, id, err)
	}
	return nil
}

var _ domain.VectorStore = (*Store)(nil)
