// Package relational implements domain.RelationalStore over PostgreSQL,
// using trigram similarity and ranked full-text search for the keyword
// side of hybrid search.
package relational

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"alfred-ai/internal/domain"
)

// Store implements domain.RelationalStore backed by a pgxpool connection
// pool. The schema carries explicit tenant columns on every row so
// isolation is enforced by the store, not by an application-layer filter.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New opens a pgxpool against dsn and runs the schema migration.
func New(ctx context.Context, dsn string, logger *slog.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: connect: %v", domain.ErrRelationalConflict, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: ping: %v", domain.ErrRelationalConflict, err)
	}
	s := &Store{pool: pool, logger: logger}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if err := s.migrateMetrics(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	const schema = `
		CREATE EXTENSION IF NOT EXISTS pg_trgm;
		CREATE TABLE IF NOT EXISTS content_nodes (
			id               TEXT PRIMARY KEY,
			variant          TEXT NOT NULL,
			body             TEXT NOT NULL,
			tags             TEXT[] NOT NULL DEFAULT '{}',
			metadata         JSONB NOT NULL DEFAULT '{}',
			company_id       TEXT NOT NULL,
			app_id           TEXT NOT NULL,
			user_id          TEXT NOT NULL,
			session_id       TEXT,
			embedding_model  TEXT NOT NULL DEFAULT '',
			level            INT  NOT NULL DEFAULT 0,
			parent_id        TEXT,
			idempotency_key  TEXT,
			partial_visible  BOOLEAN NOT NULL DEFAULT FALSE,
			created_at       TIMESTAMPTZ NOT NULL,
			updated_at       TIMESTAMPTZ NOT NULL,
			body_tsv         TSVECTOR GENERATED ALWAYS AS (to_tsvector('english', body)) STORED
		);
		CREATE INDEX IF NOT EXISTS idx_content_tenant ON content_nodes (company_id, app_id, user_id);
		CREATE INDEX IF NOT EXISTS idx_content_trgm ON content_nodes USING GIN (body gin_trgm_ops);
		CREATE INDEX IF NOT EXISTS idx_content_tsv ON content_nodes USING GIN (body_tsv);
		CREATE INDEX IF NOT EXISTS idx_content_tags ON content_nodes USING GIN (tags);
		CREATE INDEX IF NOT EXISTS idx_content_partial ON content_nodes (partial_visible) WHERE partial_visible;
	`
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("%w: migrate: %v", domain.ErrRelationalConflict, err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Upsert implements domain.RelationalStore. The write only takes effect if
// no row exists, the idempotency key matches the stored row, or the
// incoming UpdatedAt is strictly newer — this is the saga's conflict rule.
func (s *Store) Upsert(ctx context.Context, node domain.ContentNode, idempotencyKey string) error {
	meta, err := json.Marshal(node.Metadata)
	if err != nil {
		return fmt.Errorf("%w: marshal metadata: %v", domain.ErrRelationalConflict, err)
	}

	const upsert = `
		INSERT INTO content_nodes (
			id, variant, body, tags, metadata, company_id, app_id, user_id, session_id,
			embedding_model, level, parent_id, idempotency_key, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		ON CONFLICT (id) DO UPDATE SET
			variant         = EXCLUDED.variant,
			body            = EXCLUDED.body,
			tags            = EXCLUDED.tags,
			metadata        = EXCLUDED.metadata,
			embedding_model = EXCLUDED.embedding_model,
			level           = EXCLUDED.level,
			parent_id       = EXCLUDED.parent_id,
			idempotency_key = EXCLUDED.idempotency_key,
			updated_at      = EXCLUDED.updated_at
		WHERE content_nodes.idempotency_key = EXCLUDED.idempotency_key
		   OR EXCLUDED.updated_at > content_nodes.updated_at
	`
	_, err = s.pool.Exec(ctx, upsert,
		node.ID, string(node.Variant), node.Body, node.Tags, meta,
		node.Tenant.CompanyID, node.Tenant.AppID, node.Tenant.UserID, node.Tenant.SessionID,
		node.EmbeddingModel, node.Level, node.ParentID, idempotencyKey,
		node.CreatedAt, node.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("%w: upsert %q: %v", domain.ErrRelationalConflict, node.ID, err)
	}
	return nil
}

// Get implements domain.RelationalStore.
func (s *Store) Get(ctx context.Context, tenant domain.TenantCoordinates, id string) (*domain.ContentNode, error) {
	const q = `
		SELECT id, variant, body, tags, metadata, company_id, app_id, user_id, session_id,
		       embedding_model, level, parent_id, created_at, updated_at
		FROM content_nodes
		WHERE id = $1 AND company_id = $2 AND app_id = $3 AND user_id = $4
	`
	row := s.pool.QueryRow(ctx, q, id, tenant.CompanyID, tenant.AppID, tenant.UserID)
	node, err := scanNode(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrContentNotFound
		}
		return nil, fmt.Errorf("%w: get %q: %v", domain.ErrRelationalConflict, id, err)
	}
	return node, nil
}

// Delete implements domain.RelationalStore.
func (s *Store) Delete(ctx context.Context, tenant domain.TenantCoordinates, id string) error {
	tag, err := s.pool.Exec(ctx,
		"DELETE FROM content_nodes WHERE id = $1 AND company_id = $2 AND app_id = $3 AND user_id = $4",
		id, tenant.CompanyID, tenant.AppID, tenant.UserID,
	)
	if err != nil {
		return fmt.Errorf("%w: delete %q: %v", domain.ErrRelationalConflict, id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrContentNotFound
	}
	return nil
}

// TrigramSearch implements domain.RelationalStore using pg_trgm similarity.
func (s *Store) TrigramSearch(ctx context.Context, tenant domain.TenantCoordinates, query string, limit int) ([]domain.ScoredContent, error) {
	const q = `
		SELECT id, similarity(body, $1) AS score
		FROM content_nodes
		WHERE company_id = $2 AND app_id = $3 AND user_id = $4
		  AND body % $1
		ORDER BY score DESC
		LIMIT $5
	`
	return s.scoredQuery(ctx, q, normalizeQuery(query), tenant, limit)
}

// FullTextSearch implements domain.RelationalStore using ts_rank over the
// generated tsvector column.
func (s *Store) FullTextSearch(ctx context.Context, tenant domain.TenantCoordinates, query string, limit int) ([]domain.ScoredContent, error) {
	const q = `
		SELECT id, ts_rank(body_tsv, plainto_tsquery('english', $1)) AS score
		FROM content_nodes
		WHERE company_id = $2 AND app_id = $3 AND user_id = $4
		  AND body_tsv @@ plainto_tsquery('english', $1)
		ORDER BY score DESC
		LIMIT $5
	`
	return s.scoredQuery(ctx, q, normalizeQuery(query), tenant, limit)
}

func (s *Store) scoredQuery(ctx context.Context, q, query string, tenant domain.TenantCoordinates, limit int) ([]domain.ScoredContent, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx, q, query, tenant.CompanyID, tenant.AppID, tenant.UserID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: search: %v", domain.ErrRelationalConflict, err)
	}
	defer rows.Close()

	var hits []domain.ScoredContent
	for rows.Next() {
		var sc domain.ScoredContent
		if err := rows.Scan(&sc.ContentID, &sc.Score); err != nil {
			return nil, fmt.Errorf("%w: scan: %v", domain.ErrRelationalConflict, err)
		}
		hits = append(hits, sc)
	}
	return hits, rows.Err()
}

// MarkPartialVisibility implements domain.RelationalStore.
func (s *Store) MarkPartialVisibility(ctx context.Context, tenant domain.TenantCoordinates, id string, partial bool) error {
	_, err := s.pool.Exec(ctx,
		"UPDATE content_nodes SET partial_visible = $1 WHERE id = $2 AND company_id = $3 AND app_id = $4 AND user_id = $5",
		partial, id, tenant.CompanyID, tenant.AppID, tenant.UserID,
	)
	if err != nil {
		return fmt.Errorf("%w: mark partial %q: %v", domain.ErrRelationalConflict, id, err)
	}
	return nil
}

// ListPartialVisibility implements domain.RelationalStore, used by the
// write saga's stale-partial reconciler.
func (s *Store) ListPartialVisibility(ctx context.Context, olderThan time.Time, limit int) ([]domain.ContentNode, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `
		SELECT id, variant, body, tags, metadata, company_id, app_id, user_id, session_id,
		       embedding_model, level, parent_id, created_at, updated_at
		FROM content_nodes
		WHERE partial_visible AND updated_at < $1
		ORDER BY updated_at
		LIMIT $2
	`
	rows, err := s.pool.Query(ctx, q, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list partial: %v", domain.ErrRelationalConflict, err)
	}
	defer rows.Close()

	var nodes []domain.ContentNode
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, *n)
	}
	return nodes, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanNode(row scanner) (*domain.ContentNode, error) {
	var n domain.ContentNode
	var variant string
	var metaJSON []byte
	var tags []string
	if err := row.Scan(
		&n.ID, &variant, &n.Body, &tags, &metaJSON,
		&n.Tenant.CompanyID, &n.Tenant.AppID, &n.Tenant.UserID, &n.Tenant.SessionID,
		&n.EmbeddingModel, &n.Level, &n.ParentID, &n.CreatedAt, &n.UpdatedAt,
	); err != nil {
		return nil, err
	}
	n.Variant = domain.ContentVariant(variant)
	n.Tags = tags
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &n.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return &n, nil
}

var _ domain.RelationalStore = (*Store)(nil)

// normalizeQuery trims surrounding whitespace from free text; other
// characters are passed through unchanged.
func normalizeQuery(q string) string {
	return strings.TrimSpace(q)
}
