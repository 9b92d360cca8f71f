package relational

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"alfred-ai/internal/domain"
	"alfred-ai/internal/usecase/decayjob"
)

// migrateMetrics extends the schema with the relevance-metrics and
// stability-history tables. Called alongside migrate() from New so a single
// Store satisfies domain.RelationalStore, ripple.MetricsStore,
// decayjob.MetricsStore, and retrievalservice.MetricsStore without a
// separate connection pool.
func (s *Store) migrateMetrics(ctx context.Context) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS relevance_metrics (
			content_id                  TEXT NOT NULL,
			company_id                  TEXT NOT NULL,
			app_id                      TEXT NOT NULL,
			user_id                     TEXT NOT NULL,
			last_accessed               TIMESTAMPTZ NOT NULL,
			access_count                INT NOT NULL DEFAULT 0,
			stability                   DOUBLE PRECISION NOT NULL DEFAULT 0.3,
			retrievability              DOUBLE PRECISION NOT NULL DEFAULT 1.0,
			user_importance             DOUBLE PRECISION,
			ai_importance               DOUBLE PRECISION,
			has_graph_relationships     BOOLEAN NOT NULL DEFAULT FALSE,
			relevance_score             DOUBLE PRECISION,
			relevance_cache_expires_at  TIMESTAMPTZ,
			PRIMARY KEY (content_id, company_id, app_id, user_id)
		);
		CREATE INDEX IF NOT EXISTS idx_metrics_tenant ON relevance_metrics (company_id, app_id, user_id);

		CREATE TABLE IF NOT EXISTS decay_stability_history (
			id               BIGSERIAL PRIMARY KEY,
			company_id       TEXT NOT NULL,
			app_id           TEXT NOT NULL,
			user_id          TEXT NOT NULL,
			recorded_at      TIMESTAMPTZ NOT NULL,
			updated_count    INT NOT NULL,
			avg_retriev      DOUBLE PRECISION NOT NULL,
			min_retriev      DOUBLE PRECISION NOT NULL,
			max_retriev      DOUBLE PRECISION NOT NULL,
			processing_ms    BIGINT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_history_tenant ON decay_stability_history (company_id, app_id, user_id, recorded_at);
	`
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("%w: migrate metrics: %v", domain.ErrRelationalConflict, err)
	}
	return nil
}

// GetMetrics implements ripple.MetricsStore / retrievalservice.MetricsStore.
func (s *Store) GetMetrics(ctx context.Context, tenant domain.TenantCoordinates, contentID string) (*domain.RelevanceMetrics, error) {
	const q = `
		SELECT content_id, last_accessed, access_count, stability, retrievability,
		       user_importance, ai_importance, has_graph_relationships,
		       relevance_score, relevance_cache_expires_at
		FROM relevance_metrics
		WHERE content_id = $1 AND company_id = $2 AND app_id = $3 AND user_id = $4
	`
	row := s.pool.QueryRow(ctx, q, contentID, tenant.CompanyID, tenant.AppID, tenant.UserID)
	m, err := scanMetrics(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrContentNotFound
		}
		return nil, fmt.Errorf("%w: get metrics %q: %v", domain.ErrRelationalConflict, contentID, err)
	}
	return m, nil
}

// SaveMetrics implements ripple.MetricsStore / retrievalservice.MetricsStore.
// The tenant must match the content node's own tenant; callers own that
// invariant since RelevanceMetrics itself carries no tenant fields.
func (s *Store) SaveMetrics(ctx context.Context, tenant domain.TenantCoordinates, m *domain.RelevanceMetrics) error {
	const upsert = `
		INSERT INTO relevance_metrics (
			content_id, company_id, app_id, user_id, last_accessed, access_count,
			stability, retrievability, user_importance, ai_importance,
			has_graph_relationships, relevance_score, relevance_cache_expires_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (content_id, company_id, app_id, user_id) DO UPDATE SET
			last_accessed              = EXCLUDED.last_accessed,
			access_count               = EXCLUDED.access_count,
			stability                  = EXCLUDED.stability,
			retrievability              = EXCLUDED.retrievability,
			user_importance            = EXCLUDED.user_importance,
			ai_importance              = EXCLUDED.ai_importance,
			has_graph_relationships    = EXCLUDED.has_graph_relationships,
			relevance_score            = EXCLUDED.relevance_score,
			relevance_cache_expires_at = EXCLUDED.relevance_cache_expires_at
	`
	_, err := s.pool.Exec(ctx, upsert,
		m.ContentID, tenant.CompanyID, tenant.AppID, tenant.UserID, m.LastAccessed, m.AccessCount,
		m.Stability, m.Retrievability, m.UserImportance, m.AIImportance,
		m.HasGraphRelationships, m.RelevanceScore, m.RelevanceCacheExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("%w: save metrics %q: %v", domain.ErrRelationalConflict, m.ContentID, err)
	}
	return nil
}

// ListMetrics implements decayjob.MetricsStore / retrievalservice.MetricsStore,
// enumerating every node's metrics for a tenant.
func (s *Store) ListMetrics(ctx context.Context, tenant domain.TenantCoordinates) ([]domain.RelevanceMetrics, error) {
	const q = `
		SELECT content_id, last_accessed, access_count, stability, retrievability,
		       user_importance, ai_importance, has_graph_relationships,
		       relevance_score, relevance_cache_expires_at
		FROM relevance_metrics
		WHERE company_id = $1 AND app_id = $2 AND user_id = $3
	`
	rows, err := s.pool.Query(ctx, q, tenant.CompanyID, tenant.AppID, tenant.UserID)
	if err != nil {
		return nil, fmt.Errorf("%w: list metrics: %v", domain.ErrRelationalConflict, err)
	}
	defer rows.Close()

	var out []domain.RelevanceMetrics
	for rows.Next() {
		m, err := scanMetrics(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan metrics: %v", domain.ErrRelationalConflict, err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// SaveStabilityHistory implements decayjob.MetricsStore, recording one
// decay-run summary per tenant for later inspection/reporting.
func (s *Store) SaveStabilityHistory(ctx context.Context, tenant domain.TenantCoordinates, at time.Time, summary decayjob.Summary) error {
	const insert = `
		INSERT INTO decay_stability_history (
			company_id, app_id, user_id, recorded_at,
			updated_count, avg_retriev, min_retriev, max_retriev, processing_ms
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`
	_, err := s.pool.Exec(ctx, insert,
		tenant.CompanyID, tenant.AppID, tenant.UserID, at,
		summary.UpdatedCount, summary.AvgRetriev, summary.MinRetriev, summary.MaxRetriev, summary.ProcessingMS,
	)
	if err != nil {
		return fmt.Errorf("%w: save stability history: %v", domain.ErrRelationalConflict, err)
	}
	return nil
}

// ListTenants enumerates the distinct tenants with at least one stored
// content node, used to drive the decay worker's periodic per-tenant
// enqueue without a separate tenant registry.
func (s *Store) ListTenants(ctx context.Context) ([]domain.TenantCoordinates, error) {
	const q = `SELECT DISTINCT company_id, app_id, user_id FROM content_nodes`
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("%w: list tenants: %v", domain.ErrRelationalConflict, err)
	}
	defer rows.Close()

	var out []domain.TenantCoordinates
	for rows.Next() {
		var t domain.TenantCoordinates
		if err := rows.Scan(&t.CompanyID, &t.AppID, &t.UserID); err != nil {
			return nil, fmt.Errorf("%w: scan tenant: %v", domain.ErrRelationalConflict, err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanMetrics(row scanner) (*domain.RelevanceMetrics, error) {
	var m domain.RelevanceMetrics
	if err := row.Scan(
		&m.ContentID, &m.LastAccessed, &m.AccessCount, &m.Stability, &m.Retrievability,
		&m.UserImportance, &m.AIImportance, &m.HasGraphRelationships,
		&m.RelevanceScore, &m.RelevanceCacheExpiresAt,
	); err != nil {
		return nil, err
	}
	return &m, nil
}
