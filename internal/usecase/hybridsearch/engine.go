// Package hybridsearch fuses metadata (trigram), vector, and full-text
// candidates into a single ranked list, using fixed weight triples selected
// by a query-pattern classifier. Unlike advanced search's boosted-duplicate
// merge of many queries, this is a single-query weighted-sum fusion over
// three sources that all answer the same query.
package hybridsearch

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"alfred-ai/internal/domain"
)

const (
	defaultLimit     = 20
	defaultThreshold = 0.3
	cacheTTL         = 5 * time.Minute
	vectorTopK       = 100
)

// weights is a vector/metadata/fts weight triple.
type weights struct {
	Vector, Metadata, FTS float64
}

var patternWeights = map[string]weights{
	"title_search": {0.10, 0.80, 0.10},
	"exact_phrase": {0.20, 0.30, 0.50},
	"code_search":  {0.50, 0.20, 0.30},
	"semantic":     {0.85, 0.10, 0.05},
	"hybrid":       {0.60, 0.30, 0.10},
}

var titleWords = []string{"titled", "named", "called", "title", "file named"}
var codeWords = []string{"function", "class", "import", "async", "def ", "struct ", "interface "}
var semanticWords = []string{"related", "similar", "like", "about", "concept"}

// detectPattern classifies a query into one of the five fixed patterns.
func detectPattern(query string) string {
	q := strings.ToLower(strings.TrimSpace(query))
	if strings.HasPrefix(q, `"`) && strings.HasSuffix(q, `"`) && len(q) > 1 {
		return "exact_phrase"
	}
	for _, w := range titleWords {
		if strings.Contains(q, w) {
			return "title_search"
		}
	}
	for _, w := range codeWords {
		if strings.Contains(q, w) {
			return "code_search"
		}
	}
	for _, w := range semanticWords {
		if strings.Contains(q, w) {
			return "semantic"
		}
	}
	return "hybrid"
}

// Engine runs a single hybrid-search request against the three stores.
type Engine struct {
	relational domain.RelationalStore
	vector     domain.VectorStore
	embedder   domain.EmbeddingProvider
	cache      domain.RelevanceCache
	logger     *slog.Logger
}

// New constructs an Engine. cache may be nil to disable result caching.
func New(relational domain.RelationalStore, vector domain.VectorStore, embedder domain.EmbeddingProvider, cache domain.RelevanceCache, logger *slog.Logger) *Engine {
	return &Engine{relational: relational, vector: vector, embedder: embedder, cache: cache, logger: logger}
}

func cacheKey(tenant domain.TenantCoordinates, query string, opts domain.SearchOptions) string {
	raw := fmt.Sprintf("%s|%s|%s|%d|%v|%.2f", tenant.CompanyID, tenant.AppID, query, opts.Limit, opts.Variant, opts.MinScore)
	sum := md5.Sum([]byte(raw))
	return "hsearch:" + hex.EncodeToString(sum[:]) + ":" + tenant.CompanyID + ":" + tenant.AppID
}

// Search runs the full pipeline: cache check, concurrent fan-out,
// pattern-weighted fusion, sort, paginate.
func (e *Engine) Search(ctx context.Context, tenant domain.TenantCoordinates, query string, opts domain.SearchOptions) (*domain.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, domain.NewDomainError("hybridsearch.Search", domain.ErrInvalidQuery, "query must not be empty")
	}
	if opts.Limit <= 0 {
		opts.Limit = defaultLimit
	}
	if opts.MinScore <= 0 {
		opts.MinScore = defaultThreshold
	}

	key := cacheKey(tenant, query, opts)
	if e.cache != nil {
		if raw, ok, err := e.cache.Get(ctx, key); err == nil && ok {
			var cached domain.SearchResult
			if json.Unmarshal([]byte(raw), &cached) == nil {
				cached.FromCache = true
				return &cached, nil
			}
		}
	}

	var metaHits, ftsHits, vecHits []domain.ScoredContent
	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		hits, err := e.relational.TrigramSearch(gctx, tenant, query, vectorTopK)
		if err != nil {
			e.logger.Warn("hybrid search: metadata search failed", "error", err)
			return nil
		}
		metaHits = hits
		return nil
	})
	group.Go(func() error {
		hits, err := e.relational.FullTextSearch(gctx, tenant, query, vectorTopK)
		if err != nil {
			e.logger.Warn("hybrid search: full-text search failed", "error", err)
			return nil
		}
		ftsHits = hits
		return nil
	})
	group.Go(func() error {
		if e.embedder == nil || e.vector == nil {
			return nil
		}
		vecs, err := e.embedder.Embed(gctx, []string{query})
		if err != nil || len(vecs) == 0 {
			e.logger.Warn("hybrid search: query embedding failed", "error", err)
			return nil
		}
		hits, err := e.vector.Search(gctx, tenant, vecs[0], vectorTopK, opts.MinScore)
		if err != nil {
			e.logger.Warn("hybrid search: vector search failed", "error", err)
			return nil
		}
		vecHits = hits
		return nil
	})
	_ = group.Wait() // sub-search failures are logged and treated as empty, never fatal

	pattern := detectPattern(query)
	w := patternWeights[pattern]

	fused := make(map[string]*domain.SearchHit)
	order := make(map[string]int)

	for _, h := range vecHits {
		if h.Node == nil {
			continue
		}
		order[h.ContentID] = len(order)
		fused[h.ContentID] = &domain.SearchHit{Node: *h.Node, Score: h.Score * w.Vector}
	}
	for _, h := range metaHits {
		if h.Node == nil {
			continue
		}
		if hit, ok := fused[h.ContentID]; ok {
			hit.Score += h.Score * w.Metadata
		} else {
			order[h.ContentID] = len(order)
			fused[h.ContentID] = &domain.SearchHit{Node: *h.Node, Score: h.Score * w.Metadata}
		}
	}
	for _, h := range ftsHits {
		if h.Node == nil {
			continue
		}
		if hit, ok := fused[h.ContentID]; ok {
			hit.Score += h.Score * w.FTS
		} else {
			order[h.ContentID] = len(order)
			fused[h.ContentID] = &domain.SearchHit{Node: *h.Node, Score: h.Score * w.FTS}
		}
	}

	// MinScore is applied at the vector-search boundary above, not here:
	// a metadata or full-text match that fuses above threshold should
	// survive even if its vector component was never a candidate.
	hits := make([]domain.SearchHit, 0, len(fused))
	for _, hit := range fused {
		hits = append(hits, *hit)
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return order[hits[i].Node.ID] < order[hits[j].Node.ID]
	})
	if len(hits) > opts.Limit {
		hits = hits[:opts.Limit]
	}

	result := &domain.SearchResult{Hits: hits, Pattern: pattern}

	if e.cache != nil {
		if raw, err := json.Marshal(result); err == nil {
			_ = e.cache.Set(ctx, key, string(raw), cacheTTL)
		}
	}
	return result, nil
}
