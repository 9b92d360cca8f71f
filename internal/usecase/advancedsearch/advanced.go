// Package advancedsearch wraps hybrid search with synonym expansion,
// multi-query fusion, contextual reranking, diversification, clustering,
// and query-insight generation. Multi-query merging keeps a repeated
// hit's higher score and multiplies it by dedupeBoost on each repeat,
// distinct from hybrid search's weighted-sum fusion of a single query's
// three sources.
package advancedsearch

import (
	"context"
	"sort"
	"strings"
	"time"

	"alfred-ai/internal/domain"
	"alfred-ai/internal/usecase/hybridsearch"
)

const (
	maxExpansions   = 5
	expansionsUsed  = 2 // original + top-2 expansions
	dedupeBoost     = 1.1
	maxRerank       = 100
	recentWindow    = 7 * 24 * time.Hour
	staleWindow     = 30 * 24 * time.Hour
)

var synonyms = map[string][]string{
	"search":   {"find", "look for", "query", "retrieve"},
	"find":     {"search", "look for", "locate"},
	"document": {"file", "note", "record"},
	"memory":   {"recollection", "note", "entry"},
	"error":    {"bug", "issue", "failure"},
	"create":   {"make", "add", "new"},
	"delete":   {"remove", "erase"},
	"update":   {"edit", "modify", "change"},
}

// Expand returns up to maxExpansions alternative phrasings of query, formed
// by substituting one word at a time with a synonym-table entry.
func Expand(query string) []string {
	words := strings.Fields(query)
	var out []string
	for i, w := range words {
		lower := strings.ToLower(strings.Trim(w, ".,!?"))
		alts, ok := synonyms[lower]
		if !ok {
			continue
		}
		for _, alt := range alts {
			replaced := make([]string, len(words))
			copy(replaced, words)
			replaced[i] = alt
			out = append(out, strings.Join(replaced, " "))
			if len(out) >= maxExpansions {
				return out
			}
		}
	}
	return out
}

// UserPreferences informs the contextual-rerank stage.
type UserPreferences struct {
	RecentlyAccessed map[string]bool
	PreferredType    *domain.ContentVariant
	PreferredSource  string
}

// Options configures which optional pipeline stages run.
type Options struct {
	Search          domain.SearchOptions
	Expand          bool
	Rerank          bool
	Diversify       bool
	Cluster         bool
	Insights        bool
	DiversityFactor float64
	Preferences     UserPreferences
	Now             time.Time
}

// Cluster groups results sharing a (variant, source) key.
type Cluster struct {
	Variant   domain.ContentVariant
	Source    string
	Members   []domain.SearchHit
	Coherence float64
}

// Insights summarizes the query's intent, complexity, and follow-ups.
type Insights struct {
	Intent            string
	Complexity        string
	SuggestedQueries  []string
}

// Result is the full output of an advanced-search request.
type Result struct {
	Hits     []domain.SearchHit
	Clusters []Cluster
	Insights *Insights
}

// Engine wraps a hybridsearch.Engine with the advanced pipeline.
type Engine struct {
	hybrid *hybridsearch.Engine
}

// New constructs an Engine.
func New(hybrid *hybridsearch.Engine) *Engine {
	return &Engine{hybrid: hybrid}
}

// Search runs the opt-in pipeline stages over one or more hybrid-search
// queries and returns the final ranked, clustered, and annotated result.
func (e *Engine) Search(ctx context.Context, tenant domain.TenantCoordinates, query string, opts Options) (*Result, error) {
	queries := []string{query}
	if opts.Expand {
		expansions := Expand(query)
		if len(expansions) > expansionsUsed {
			expansions = expansions[:expansionsUsed]
		}
		queries = append(queries, expansions...)
	}

	merged := map[string]*domain.SearchHit{}
	for _, q := range queries {
		res, err := e.hybrid.Search(ctx, tenant, q, opts.Search)
		if err != nil {
			continue
		}
		for _, hit := range res.Hits {
			if existing, ok := merged[hit.Node.ID]; ok {
				if hit.Score > existing.Score {
					existing.Score = hit.Score
				}
				existing.Score *= dedupeBoost
			} else {
				h := hit
				merged[hit.Node.ID] = &h
			}
		}
	}

	hits := flatten(merged)

	if opts.Rerank {
		hits = rerank(hits, opts.Preferences, opts.Now)
	}
	if opts.Diversify && opts.DiversityFactor > 0 {
		hits = diversify(hits, opts.DiversityFactor)
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })

	result := &Result{Hits: hits}
	if opts.Cluster && len(hits) >= 5 {
		result.Clusters = cluster(hits)
	}
	if opts.Insights {
		insights := buildInsights(query, hits)
		result.Insights = &insights
	}
	return result, nil
}

func flatten(m map[string]*domain.SearchHit) []domain.SearchHit {
	out := make([]domain.SearchHit, 0, len(m))
	for _, h := range m {
		out = append(out, *h)
	}
	return out
}

// rerank multiplies each of the top maxRerank scores by contextual factors
// and re-sorts.
func rerank(hits []domain.SearchHit, prefs UserPreferences, now time.Time) []domain.SearchHit {
	if now.IsZero() {
		now = time.Now()
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	limit := len(hits)
	if limit > maxRerank {
		limit = maxRerank
	}
	for i := 0; i < limit; i++ {
		h := &hits[i]
		factor := 1.0
		if prefs.RecentlyAccessed[h.Node.ID] {
			factor *= 1.20
		}
		if prefs.PreferredType != nil && h.Node.Variant == *prefs.PreferredType {
			factor *= 1.15
		}
		if prefs.PreferredSource != "" && h.Node.Metadata["source"] == prefs.PreferredSource {
			factor *= 1.10
		}
		age := now.Sub(h.Node.CreatedAt)
		switch {
		case age <= recentWindow:
			factor *= 1.15
		case age <= staleWindow:
			factor *= 1.05
		}
		h.Score *= factor
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	return hits
}

// diversify penalizes repeat sources and types as results are traversed in
// rank order.
func diversify(hits []domain.SearchHit, f float64) []domain.SearchHit {
	seenSource := map[string]bool{}
	seenType := map[domain.ContentVariant]bool{}
	for i := range hits {
		h := &hits[i]
		source := h.Node.Metadata["source"]
		if seenSource[source] {
			h.Score *= 1 - 0.5*f
		}
		if seenType[h.Node.Variant] {
			h.Score *= 1 - 0.3*f
		}
		seenSource[source] = true
		seenType[h.Node.Variant] = true
	}
	return hits
}

// cluster groups results by (variant, source), keeping clusters of size >= 2.
func cluster(hits []domain.SearchHit) []Cluster {
	groups := map[string]*Cluster{}
	var keys []string
	for _, h := range hits {
		source := h.Node.Metadata["source"]
		key := string(h.Node.Variant) + "|" + source
		c, ok := groups[key]
		if !ok {
			c = &Cluster{Variant: h.Node.Variant, Source: source}
			groups[key] = c
			keys = append(keys, key)
		}
		c.Members = append(c.Members, h)
	}
	var out []Cluster
	for _, key := range keys {
		c := groups[key]
		if len(c.Members) < 2 {
			continue
		}
		c.Coherence = coherence(c.Members)
		out = append(out, *c)
	}
	return out
}

func coherence(members []domain.SearchHit) float64 {
	if len(members) == 0 {
		return 0
	}
	var sum float64
	for _, m := range members {
		sum += m.Score
	}
	mean := sum / float64(len(members))
	var variance float64
	for _, m := range members {
		d := m.Score - mean
		variance += d * d
	}
	variance /= float64(len(members))
	return 1 / (1 + variance)
}

var intentKeywords = map[string]string{
	"what": "factual", "who": "factual", "when": "factual", "where": "factual",
	"how": "exploratory", "why": "exploratory", "explore": "exploratory",
	"find": "navigational", "show": "navigational", "open": "navigational", "go": "navigational",
	"create": "transactional", "delete": "transactional", "update": "transactional", "add": "transactional",
}

func buildInsights(query string, hits []domain.SearchHit) Insights {
	words := strings.Fields(strings.ToLower(query))
	intent := "exploratory"
	if len(words) > 0 {
		if mapped, ok := intentKeywords[words[0]]; ok {
			intent = mapped
		}
	}
	complexity := "simple"
	switch {
	case len(words) > 7:
		complexity = "complex"
	case len(words) > 3:
		complexity = "moderate"
	}

	tagCounts := map[string]int{}
	for _, h := range hits {
		for _, tag := range h.Node.Tags {
			tagCounts[tag]++
		}
	}
	var tags []string
	for tag := range tagCounts {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool { return tagCounts[tags[i]] > tagCounts[tags[j]] })
	var suggestions []string
	for i := 0; i < len(tags) && i < 3; i++ {
		suggestions = append(suggestions, query+" "+tags[i])
	}

	return Insights{Intent: intent, Complexity: complexity, SuggestedQueries: suggestions}
}
