// Package relevance implements composite scoring, access recording, and
// the Ebbinghaus-style forgetting curve that the memory-lens engine is
// built on. The decay job depends on the decay functions exposed here.
package relevance

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"math"
	"sort"
	"sync/atomic"
	"time"

	"alfred-ai/internal/domain"
)

// Weights are the composite-score component weights, summing to 1.0.
type Weights struct {
	Vector, Stability, Retrievability, UserImportance, AIImportance, Graph float64
}

// DefaultWeights matches the memory-lens scoring table.
var DefaultWeights = Weights{
	Vector: 0.30, Stability: 0.15, Retrievability: 0.20,
	UserImportance: 0.20, AIImportance: 0.10, Graph: 0.05,
}

const (
	defaultTau          = 168 * time.Hour
	reinforcementCutoff = 0.3
	cacheTTL            = 5 * time.Minute
)

var reviewLadderHours = [8]float64{1, 6, 24, 72, 168, 336, 720, 2160}

// ScoreBreakdown reports the composite score and which components contributed.
type ScoreBreakdown struct {
	Score              float64 `json:"score"`
	VectorComponent    float64 `json:"vector_component"`
	StabilityComponent float64 `json:"stability_component"`
	RetrievComponent   float64 `json:"retrievability_component"`
	UserImpComponent   float64 `json:"user_importance_component"`
	AIImpComponent     float64 `json:"ai_importance_component"`
	GraphComponent     float64 `json:"graph_component"`
	UsedFallback       bool    `json:"used_fallback"`
	NeedsReinforcement bool    `json:"needs_reinforcement"`
}

// Stats tracks cache effectiveness when enabled.
type Stats struct {
	Hits         atomic.Int64
	Misses       atomic.Int64
	Invalidations atomic.Int64
}

// HitRate returns hits / (hits+misses), or 0 with no samples.
func (s *Stats) HitRate() float64 {
	h, m := s.Hits.Load(), s.Misses.Load()
	if h+m == 0 {
		return 0
	}
	return float64(h) / float64(h+m)
}

// Engine computes and caches composite relevance scores.
type Engine struct {
	cache  domain.RelevanceCache
	bus    domain.EventBus
	logger *slog.Logger
	tau    time.Duration
	Stats  Stats
}

// New constructs an Engine. cache may be nil to disable caching.
func New(cache domain.RelevanceCache, bus domain.EventBus, logger *slog.Logger) *Engine {
	return &Engine{cache: cache, bus: bus, logger: logger, tau: defaultTau}
}

// Retrievability computes R(t) = clamp(S*e^(-t/tau) + I, 0, 1).
func Retrievability(stability float64, elapsed time.Duration, importance float64, tau time.Duration) float64 {
	if tau <= 0 {
		tau = defaultTau
	}
	t := elapsed.Hours() / tau.Hours()
	r := stability*math.Exp(-t) + importance
	if r < 0 {
		return 0
	}
	if r > 1 {
		return 1
	}
	return r
}

// NeedsReinforcement reports whether r falls below the reinforcement cutoff.
func NeedsReinforcement(r float64) bool { return r < reinforcementCutoff }

// StabilityBoost computes S' = min(1, S + (0.1 + (1-R)*0.3)) on successful recall.
func StabilityBoost(stability, retrievability float64) float64 {
	boosted := stability + (0.1 + (1-retrievability)*0.3)
	if boosted > 1 {
		return 1
	}
	return boosted
}

// OptimalReviewInterval returns the next review delay per the discrete ladder.
func OptimalReviewInterval(stability, retrievability float64) time.Duration {
	idx := int(stability * 7)
	if idx < 0 {
		idx = 0
	}
	if idx > 7 {
		idx = 7
	}
	multiplier := 0.5 + 0.5*retrievability
	hours := reviewLadderHours[idx] * multiplier
	return time.Duration(hours * float64(time.Hour))
}

// Score computes the composite relevance score for a node's metrics. When
// vectorScore is nil, the vector weight is redistributed to stability and
// retrievability and UsedFallback is set.
func Score(m domain.RelevanceMetrics, vectorScore *float64, w Weights) ScoreBreakdown {
	usedFallback := vectorScore == nil
	stabilityW, retrievW := w.Stability, w.Retrievability
	if usedFallback {
		stabilityW += w.Vector / 2
		retrievW += w.Vector / 2
	}

	var vecComp float64
	if !usedFallback {
		vecComp = *vectorScore * w.Vector
	}

	userImp := 0.0
	if m.UserImportance != nil {
		userImp = *m.UserImportance
	}
	aiImp := 0.0
	if m.AIImportance != nil {
		aiImp = *m.AIImportance
	}
	graphComp := 0.0
	if m.HasGraphRelationships {
		graphComp = w.Graph
	}

	stabilityComp := m.Stability * stabilityW
	retrievComp := m.Retrievability * retrievW
	userComp := userImp * w.UserImportance
	aiComp := aiImp * w.AIImportance

	total := vecComp + stabilityComp + retrievComp + userComp + aiComp + graphComp

	return ScoreBreakdown{
		Score:              total,
		VectorComponent:    vecComp,
		StabilityComponent: stabilityComp,
		RetrievComponent:   retrievComp,
		UserImpComponent:   userComp,
		AIImpComponent:     aiComp,
		GraphComponent:     graphComp,
		UsedFallback:       usedFallback,
		NeedsReinforcement: NeedsReinforcement(m.Retrievability),
	}
}

// CacheKey returns the sha256(query)[:16]+tenant_id cache key from §4.4.
func CacheKey(query string, tenant domain.TenantCoordinates) string {
	sum := sha256.Sum256([]byte(query))
	return "relscore:" + hex.EncodeToString(sum[:])[:16] + tenant.CompanyID + ":" + tenant.AppID
}

// ScoreCached computes (or retrieves from cache) the composite score for a
// single node under the given query-scoped cache key.
func (e *Engine) ScoreCached(ctx context.Context, query string, tenant domain.TenantCoordinates, m domain.RelevanceMetrics, vectorScore *float64, useCache bool) (ScoreBreakdown, error) {
	if !useCache || e.cache == nil {
		e.Stats.Misses.Add(1)
		return Score(m, vectorScore, DefaultWeights), nil
	}

	key := CacheKey(query, tenant) + ":" + m.ContentID
	if raw, ok, err := e.cache.Get(ctx, key); err == nil && ok {
		var b ScoreBreakdown
		if json.Unmarshal([]byte(raw), &b) == nil {
			e.Stats.Hits.Add(1)
			return b, nil
		}
	}
	e.Stats.Misses.Add(1)

	breakdown := Score(m, vectorScore, DefaultWeights)
	if raw, err := json.Marshal(breakdown); err == nil {
		_ = e.cache.Set(ctx, key, string(raw), cacheTTL)
	}
	return breakdown, nil
}

// RecordAccess applies the access-event side effects from §4.4: append the
// event, bump access count/last_accessed, apply the stability boost,
// invalidate the tenant's cached scores, and emit an event so ripple
// recall can react when the node has graph relationships.
func (e *Engine) RecordAccess(ctx context.Context, m *domain.RelevanceMetrics, event domain.AccessEvent) error {
	elapsed := event.AccessedAt.Sub(m.LastAccessed)
	if elapsed < 0 {
		elapsed = 0
	}
	importance := 0.0
	if m.AIImportance != nil {
		importance = *m.AIImportance
	}
	rAtRecall := Retrievability(m.Stability, elapsed, importance, e.tau)
	m.SetRetrievability(rAtRecall)

	m.RecordAccess(event.AccessedAt)
	m.Stability = StabilityBoost(m.Stability, rAtRecall)

	if e.cache != nil {
		pattern := "relscore:*" + event.Tenant.CompanyID + ":" + event.Tenant.AppID + "*"
		if err := e.cache.DeletePattern(ctx, pattern); err != nil {
			e.logger.Warn("relevance: cache invalidation failed", "error", err)
		} else {
			e.Stats.Invalidations.Add(1)
		}
	}

	if e.bus != nil {
		payload, _ := json.Marshal(map[string]string{"content_id": event.ContentID})
		e.bus.Publish(ctx, domain.Event{Type: domain.EventMemoryAccessed, Timestamp: event.AccessedAt, Payload: payload})
		if m.HasGraphRelationships {
			e.bus.Publish(ctx, domain.Event{Type: domain.EventRippleStarted, Timestamp: event.AccessedAt, Payload: payload})
		}
	}
	return nil
}

// RetrieveOptions filters and orders a relevance-ranked retrieval.
type RetrieveOptions struct {
	MinRetrievability float64
	MinStability      float64
	MinRelevanceScore float64
	Tags              []string
	Limit, Offset     int
	UseCache          bool
	Query             string
}

// RetrieveRow pairs a content node's metrics with its computed score.
type RetrieveRow struct {
	ContentID string
	Score     ScoreBreakdown
}

// RetrieveResult is the output of a relevance-ranked retrieval.
type RetrieveResult struct {
	Rows              []RetrieveRow
	FallbackNodeCount int
}

// Retrieve filters rows by the relevance thresholds, computes (or reuses
// cached) scores, drops rows below MinRelevanceScore, sorts descending,
// and paginates.
func (e *Engine) Retrieve(ctx context.Context, tenant domain.TenantCoordinates, rows []domain.RelevanceMetrics, vectorScores map[string]float64, opts RetrieveOptions) (*RetrieveResult, error) {
	var out []RetrieveRow
	fallback := 0

	for _, m := range rows {
		if m.Retrievability < opts.MinRetrievability || m.Stability < opts.MinStability {
			continue
		}
		var vs *float64
		if v, ok := vectorScores[m.ContentID]; ok {
			vs = &v
		}

		hadCache := m.RelevanceScore != nil && m.RelevanceCacheExpiresAt != nil && time.Now().Before(*m.RelevanceCacheExpiresAt)
		if !hadCache {
			fallback++
		}

		breakdown, err := e.ScoreCached(ctx, opts.Query, tenant, m, vs, opts.UseCache)
		if err != nil {
			return nil, err
		}
		if breakdown.Score < opts.MinRelevanceScore {
			continue
		}
		out = append(out, RetrieveRow{ContentID: m.ContentID, Score: breakdown})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Score.Score > out[j].Score.Score })

	if opts.Offset > 0 && opts.Offset < len(out) {
		out = out[opts.Offset:]
	} else if opts.Offset >= len(out) {
		out = nil
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}

	return &RetrieveResult{Rows: out, FallbackNodeCount: fallback}, nil
}
