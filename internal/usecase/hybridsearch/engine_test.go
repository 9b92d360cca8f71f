package hybridsearch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"alfred-ai/internal/domain"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fakeRelational struct {
	trigram []domain.ScoredContent
	fts     []domain.ScoredContent
}

func (f *fakeRelational) Upsert(context.Context, domain.ContentNode, string) error { return nil }
func (f *fakeRelational) Get(context.Context, domain.TenantCoordinates, string) (*domain.ContentNode, error) {
	return nil, domain.ErrContentNotFound
}
func (f *fakeRelational) Delete(context.Context, domain.TenantCoordinates, string) error { return nil }
func (f *fakeRelational) TrigramSearch(context.Context, domain.TenantCoordinates, string, int) ([]domain.ScoredContent, error) {
	return f.trigram, nil
}
func (f *fakeRelational) FullTextSearch(context.Context, domain.TenantCoordinates, string, int) ([]domain.ScoredContent, error) {
	return f.fts, nil
}
func (f *fakeRelational) MarkPartialVisibility(context.Context, domain.TenantCoordinates, string, bool) error {
	return nil
}
func (f *fakeRelational) ListPartialVisibility(context.Context, time.Time, int) ([]domain.ContentNode, error) {
	return nil, nil
}

type fakeVector struct {
	hits []domain.ScoredContent
}

func (f *fakeVector) Upsert(context.Context, domain.TenantCoordinates, string, []float32) error {
	return nil
}
func (f *fakeVector) Search(_ context.Context, _ domain.TenantCoordinates, _ []float32, _ int, minScore float64) ([]domain.ScoredContent, error) {
	var out []domain.ScoredContent
	for _, h := range f.hits {
		if h.Score >= minScore {
			out = append(out, h)
		}
	}
	return out, nil
}
func (f *fakeVector) Visible(context.Context, domain.TenantCoordinates, string) (bool, error) {
	return true, nil
}
func (f *fakeVector) Delete(context.Context, domain.TenantCoordinates, string) error { return nil }

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}
func (fakeEmbedder) Dimensions() int { return 3 }
func (fakeEmbedder) Name() string    { return "fake" }

func node(id string) *domain.ContentNode {
	return &domain.ContentNode{ID: id, Variant: domain.VariantMemory, Body: id}
}

func TestDetectPattern(t *testing.T) {
	cases := map[string]string{
		"document titled manus.ai":         "title_search",
		`"eventual consistency"`:           "exact_phrase",
		"show me the function definition":  "code_search",
		"concepts similar to consistency":  "semantic",
		"what is going on with the server": "hybrid",
	}
	for query, want := range cases {
		if got := detectPattern(query); got != want {
			t.Errorf("detectPattern(%q) = %q, want %q", query, got, want)
		}
	}
}

func TestSearchRejectsEmptyQuery(t *testing.T) {
	e := New(&fakeRelational{}, &fakeVector{}, fakeEmbedder{}, nil, testLogger())
	_, err := e.Search(context.Background(), domain.TenantCoordinates{}, "   ", domain.SearchOptions{})
	if !errors.Is(err, domain.ErrInvalidQuery) {
		t.Fatalf("expected ErrInvalidQuery, got %v", err)
	}
}

func TestSearchTitleSearchRanksTitleMatchAbove(t *testing.T) {
	rel := &fakeRelational{
		trigram: []domain.ScoredContent{{ContentID: "A", Score: 1.0, Node: node("A")}},
		fts:     []domain.ScoredContent{{ContentID: "B", Score: 0.2, Node: node("B")}},
	}
	vec := &fakeVector{hits: []domain.ScoredContent{{ContentID: "B", Score: 0.3, Node: node("B")}}}
	e := New(rel, vec, fakeEmbedder{}, nil, testLogger())

	result, err := e.Search(context.Background(), domain.TenantCoordinates{CompanyID: "acme"}, "document titled manus.ai", domain.SearchOptions{MinScore: 0.01})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if result.Pattern != "title_search" {
		t.Fatalf("pattern = %q, want title_search", result.Pattern)
	}
	if len(result.Hits) == 0 || result.Hits[0].Node.ID != "A" {
		t.Fatalf("expected A to rank first, got %+v", result.Hits)
	}
}

func TestSearchRescuesBelowThresholdVectorMatchViaMetadata(t *testing.T) {
	// "C" would fail a 0.5 vector threshold on its own (vector score 0.2,
	// so fakeVector's minScore filter drops it before fusion ever sees
	// it) but its strong trigram match should still let it surface: the
	// MinScore threshold applies at the vector-search boundary, not to
	// the fused score.
	rel := &fakeRelational{
		trigram: []domain.ScoredContent{{ContentID: "C", Score: 1.0, Node: node("C")}},
	}
	vec := &fakeVector{hits: []domain.ScoredContent{{ContentID: "C", Score: 0.2, Node: node("C")}}}
	e := New(rel, vec, fakeEmbedder{}, nil, testLogger())

	result, err := e.Search(context.Background(), domain.TenantCoordinates{CompanyID: "acme"}, "what is going on with the server", domain.SearchOptions{MinScore: 0.5})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	found := false
	for _, h := range result.Hits {
		if h.Node.ID == "C" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected C to be rescued by its metadata match despite a below-threshold vector score, got %+v", result.Hits)
	}
}

func TestSearchCachesResult(t *testing.T) {
	rel := &fakeRelational{trigram: []domain.ScoredContent{{ContentID: "A", Score: 1.0, Node: node("A")}}}
	vec := &fakeVector{}
	cache := newFakeRelevanceCache()
	e := New(rel, vec, fakeEmbedder{}, cache, testLogger())

	tenant := domain.TenantCoordinates{CompanyID: "acme", AppID: "notes"}
	first, err := e.Search(context.Background(), tenant, "hello world", domain.SearchOptions{MinScore: 0.01})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if first.FromCache {
		t.Fatal("first call should not be from cache")
	}
	second, err := e.Search(context.Background(), tenant, "hello world", domain.SearchOptions{MinScore: 0.01})
	if err != nil {
		t.Fatalf("Search (cached): %v", err)
	}
	if !second.FromCache {
		t.Fatal("second call should be served from cache")
	}
}

type fakeRelevanceCache struct {
	store map[string]string
}

func newFakeRelevanceCache() *fakeRelevanceCache {
	return &fakeRelevanceCache{store: map[string]string{}}
}

func (c *fakeRelevanceCache) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := c.store[key]
	return v, ok, nil
}
func (c *fakeRelevanceCache) Set(_ context.Context, key, value string, _ time.Duration) error {
	c.store[key] = value
	return nil
}
func (c *fakeRelevanceCache) DeletePattern(context.Context, string) error {
	c.store = map[string]string{}
	return nil
}
