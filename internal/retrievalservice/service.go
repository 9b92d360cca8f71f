// Package retrievalservice is the facade composing the write saga, hybrid
// and advanced search, the relevance engine, ripple recall, and memory
// triage into the seven operations the retrieval core exposes externally.
package retrievalservice

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"alfred-ai/internal/domain"
	"alfred-ai/internal/usecase/advancedsearch"
	"alfred-ai/internal/usecase/hybridsearch"
	"alfred-ai/internal/usecase/relevance"
	"alfred-ai/internal/usecase/ripple"
	"alfred-ai/internal/usecase/triage"
	"alfred-ai/internal/usecase/writesaga"
)

// MetricsStore is the relevance-metrics persistence the service needs
// beyond what the relational/vector/graph stores already provide.
type MetricsStore interface {
	GetMetrics(ctx context.Context, tenant domain.TenantCoordinates, contentID string) (*domain.RelevanceMetrics, error)
	SaveMetrics(ctx context.Context, tenant domain.TenantCoordinates, m *domain.RelevanceMetrics) error
	ListMetrics(ctx context.Context, tenant domain.TenantCoordinates) ([]domain.RelevanceMetrics, error)
}

// Service is the composition root's single entry point for every retrieval
// operation.
type Service struct {
	saga      *writesaga.Saga
	hybrid    *hybridsearch.Engine
	advanced  *advancedsearch.Engine
	relevance *relevance.Engine
	ripple    *ripple.Propagator
	triage    *triage.Classifier
	metrics   MetricsStore
	logger    *slog.Logger
}

// New constructs a Service from its already-wired usecase components.
func New(saga *writesaga.Saga, hybrid *hybridsearch.Engine, advanced *advancedsearch.Engine, rel *relevance.Engine, rip *ripple.Propagator, tri *triage.Classifier, metrics MetricsStore, logger *slog.Logger) *Service {
	return &Service{saga: saga, hybrid: hybrid, advanced: advanced, relevance: rel, ripple: rip, triage: tri, metrics: metrics, logger: logger}
}

// SearchResponse groups a search's ranked hits by content variant and
// reports how long the request took, alongside any advanced-search
// annotations.
type SearchResponse struct {
	Hits      []domain.SearchHit
	ByVariant map[domain.ContentVariant][]domain.SearchHit
	Pattern   string
	FromCache bool
	Insights  *advancedsearch.Insights
	Clusters  []advancedsearch.Cluster
	TookMS    int64
}

// Search runs hybrid search, or the full advanced-search pipeline when
// advOpts is non-nil (each stage remains individually opt-in via its own
// flags on advOpts).
func (s *Service) Search(ctx context.Context, tenant domain.TenantCoordinates, query string, opts domain.SearchOptions, advOpts *advancedsearch.Options) (*SearchResponse, error) {
	start := time.Now()
	if strings.TrimSpace(query) == "" {
		return nil, domain.NewDomainError("retrievalservice.Search", domain.ErrInvalidQuery, "query must not be empty")
	}

	resp := &SearchResponse{ByVariant: map[domain.ContentVariant][]domain.SearchHit{}}

	if advOpts != nil {
		advOpts.Search = opts
		result, err := s.advanced.Search(ctx, tenant, query, *advOpts)
		if err != nil {
			return nil, err
		}
		resp.Hits = result.Hits
		resp.Clusters = result.Clusters
		resp.Insights = result.Insights
	} else {
		result, err := s.hybrid.Search(ctx, tenant, query, opts)
		if err != nil {
			return nil, err
		}
		resp.Hits = result.Hits
		resp.Pattern = result.Pattern
		resp.FromCache = result.FromCache
	}

	for _, h := range resp.Hits {
		resp.ByVariant[h.Node.Variant] = append(resp.ByVariant[h.Node.Variant], h)
	}
	resp.TookMS = time.Since(start).Milliseconds()
	return resp, nil
}

// Retrieve lists a tenant's scored, filtered, paginated content nodes via
// the relevance engine.
func (s *Service) Retrieve(ctx context.Context, tenant domain.TenantCoordinates, opts relevance.RetrieveOptions) (*relevance.RetrieveResult, error) {
	if err := tenant.Validate(); err != nil {
		return nil, domain.NewDomainError("retrievalservice.Retrieve", domain.ErrMissingTenantContext, err.Error())
	}
	rows, err := s.metrics.ListMetrics(ctx, tenant)
	if err != nil {
		return nil, err
	}
	return s.relevance.Retrieve(ctx, tenant, rows, nil, opts)
}

// RecordAccess applies the side effects of a content access and, when the
// node has graph relationships, schedules ripple recall asynchronously so
// the caller is not blocked on a potentially large propagation.
func (s *Service) RecordAccess(ctx context.Context, tenant domain.TenantCoordinates, contentID string, kind domain.AccessKind, accessContext domain.AccessContextKind, score float64) (*domain.RelevanceMetrics, error) {
	if !domain.ValidAccessKind(kind) {
		return nil, domain.NewDomainError("retrievalservice.RecordAccess", domain.ErrInvalidAccessType, string(kind))
	}
	if score < 0 || score > 1 {
		return nil, domain.NewDomainError("retrievalservice.RecordAccess", domain.ErrInvalidRelevanceScore, "score must be in [0,1]")
	}

	m, err := s.metrics.GetMetrics(ctx, tenant, contentID)
	if err != nil {
		return nil, domain.NewDomainError("retrievalservice.RecordAccess", domain.ErrContentNotFound, contentID)
	}

	event := domain.AccessEvent{
		ContentID:              contentID,
		Tenant:                 tenant,
		Kind:                   kind,
		Context:                accessContext,
		RelevanceScoreAtAccess: score,
		AccessedAt:             time.Now().UTC(),
	}
	if err := s.relevance.RecordAccess(ctx, m, event); err != nil {
		return nil, err
	}
	if err := s.metrics.SaveMetrics(ctx, tenant, m); err != nil {
		return nil, err
	}

	if m.HasGraphRelationships && s.ripple != nil {
		go func() {
			bg := context.Background()
			if _, err := s.ripple.Propagate(bg, tenant, contentID); err != nil {
				s.logger.Warn("retrievalservice: ripple propagation failed", "content_id", contentID, "error", err)
			}
		}()
	}
	return m, nil
}

// ImportanceKind selects which importance field SetImportance updates.
type ImportanceKind string

const (
	ImportanceUser ImportanceKind = "user"
	ImportanceAI   ImportanceKind = "ai"
)

// SetImportance updates a node's user- or AI-assigned importance weight.
func (s *Service) SetImportance(ctx context.Context, tenant domain.TenantCoordinates, contentID string, kind ImportanceKind, value float64) (float64, error) {
	if value < 0 || value > 1 {
		return 0, domain.NewDomainError("retrievalservice.SetImportance", domain.ErrInvalidImportanceValue, "value must be in [0,1]")
	}
	m, err := s.metrics.GetMetrics(ctx, tenant, contentID)
	if err != nil {
		return 0, domain.NewDomainError("retrievalservice.SetImportance", domain.ErrContentNotFound, contentID)
	}

	switch kind {
	case ImportanceAI:
		m.AIImportance = &value
	default:
		m.UserImportance = &value
	}
	if err := s.metrics.SaveMetrics(ctx, tenant, m); err != nil {
		return 0, err
	}
	return value, nil
}

// GetScore computes the composite relevance score and per-component
// breakdown for a single node, optionally query-scoped.
func (s *Service) GetScore(ctx context.Context, tenant domain.TenantCoordinates, contentID, query string, vectorScore *float64) (*relevance.ScoreBreakdown, error) {
	m, err := s.metrics.GetMetrics(ctx, tenant, contentID)
	if err != nil {
		return nil, domain.NewDomainError("retrievalservice.GetScore", domain.ErrContentNotFound, contentID)
	}
	breakdown, err := s.relevance.ScoreCached(ctx, query, tenant, *m, vectorScore, query != "")
	if err != nil {
		return nil, err
	}
	return &breakdown, nil
}

// StoreResponse is the outcome of a Store call: the saga's stage-aware
// result plus the triage decision that informed the node's initial
// relevance metrics.
type StoreResponse struct {
	Result *domain.StoreResult
	Triage triage.Decision
}

// Store runs memory triage, then the write saga, then seeds the node's
// initial relevance metrics so Retrieve/GetScore work immediately.
func (s *Service) Store(ctx context.Context, tenant domain.TenantCoordinates, node domain.ContentNode, idempotencyKey string) (*StoreResponse, error) {
	node.Tenant = tenant

	decision, err := s.triage.Analyze(ctx, node.Body, triage.Options{AllowLLMEscalation: true})
	if err != nil {
		s.logger.Warn("retrievalservice: triage failed, proceeding with defaults", "error", err)
	}
	if node.Variant == "" {
		node.Variant = decision.Variant.ContentVariant()
	}

	result := s.saga.Store(ctx, node, idempotencyKey)
	resp := &StoreResponse{Result: result, Triage: decision}
	if result.Err != nil {
		return resp, result.Err
	}

	if s.metrics != nil {
		m := domain.NewRelevanceMetrics(result.ContentID, time.Now().UTC())
		m.HasGraphRelationships = decision.NeedsEntityExtraction
		if err := s.metrics.SaveMetrics(ctx, tenant, m); err != nil {
			s.logger.Warn("retrievalservice: initial metrics save failed", "content_id", result.ContentID, "error", err)
		}
	}
	return resp, nil
}

// PropagateBoost runs ripple recall from a single source node.
func (s *Service) PropagateBoost(ctx context.Context, tenant domain.TenantCoordinates, contentID string) (ripple.PropagationResult, error) {
	if s.ripple == nil {
		return ripple.PropagationResult{}, domain.NewDomainError("retrievalservice.PropagateBoost", domain.ErrGraphUnavailable, "ripple recall not configured")
	}
	return s.ripple.Propagate(ctx, tenant, contentID)
}
