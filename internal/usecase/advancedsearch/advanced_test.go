package advancedsearch

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"alfred-ai/internal/domain"
	"alfred-ai/internal/usecase/hybridsearch"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fakeRelational struct {
	trigram map[string][]domain.ScoredContent
}

func (f *fakeRelational) Upsert(context.Context, domain.ContentNode, string) error { return nil }
func (f *fakeRelational) Get(context.Context, domain.TenantCoordinates, string) (*domain.ContentNode, error) {
	return nil, domain.ErrContentNotFound
}
func (f *fakeRelational) Delete(context.Context, domain.TenantCoordinates, string) error { return nil }
func (f *fakeRelational) TrigramSearch(_ context.Context, _ domain.TenantCoordinates, query string, _ int) ([]domain.ScoredContent, error) {
	return f.trigram[query], nil
}
func (f *fakeRelational) FullTextSearch(context.Context, domain.TenantCoordinates, string, int) ([]domain.ScoredContent, error) {
	return nil, nil
}
func (f *fakeRelational) MarkPartialVisibility(context.Context, domain.TenantCoordinates, string, bool) error {
	return nil
}
func (f *fakeRelational) ListPartialVisibility(context.Context, time.Time, int) ([]domain.ContentNode, error) {
	return nil, nil
}

type fakeVector struct{}

func (f *fakeVector) Upsert(context.Context, domain.TenantCoordinates, string, []float32) error {
	return nil
}
func (f *fakeVector) Search(context.Context, domain.TenantCoordinates, []float32, int, float64) ([]domain.ScoredContent, error) {
	return nil, nil
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

func node(id string, variant domain.ContentVariant, source string, tags ...string) domain.ContentNode {
	return domain.ContentNode{
		ID:        id,
		Variant:   variant,
		Body:      id,
		Tags:      tags,
		Metadata:  map[string]string{"source": source},
		CreatedAt: time.Now(),
	}
}

func newEngine(trigram map[string][]domain.ScoredContent) *Engine {
	rel := &fakeRelational{trigram: trigram}
	h := hybridsearch.New(rel, &fakeVector{}, fakeEmbedder{}, nil, testLogger())
	return New(h)
}

func TestExpandProducesAtMostFiveAlternatives(t *testing.T) {
	out := Expand("search for the error")
	if len(out) == 0 {
		t.Fatal("expected at least one expansion")
	}
	if len(out) > maxExpansions {
		t.Fatalf("got %d expansions, want <= %d", len(out), maxExpansions)
	}
}

func TestExpandNoSynonymsReturnsEmpty(t *testing.T) {
	out := Expand("purple elephant whistle")
	if len(out) != 0 {
		t.Fatalf("expected no expansions, got %v", out)
	}
}

func TestSearchMultiQueryDedupesAndBoosts(t *testing.T) {
	a := node("A", domain.VariantMemory, "src1")
	trigram := map[string][]domain.ScoredContent{
		"find the document":   {{ContentID: "A", Score: 0.5, Node: &a}},
		"search the document": {{ContentID: "A", Score: 0.5, Node: &a}},
	}
	e := newEngine(trigram)

	tenant := domain.TenantCoordinates{CompanyID: "acme"}
	res, err := e.Search(context.Background(), tenant, "search the document", Options{
		Expand: true,
		Search: domain.SearchOptions{MinScore: 0.01},
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res.Hits) != 1 {
		t.Fatalf("expected deduped single hit, got %d", len(res.Hits))
	}
	want := 0.5 * 0.30 * dedupeBoost // hybrid pattern metadata weight, boosted once for the duplicate hit
	if !floatClose(res.Hits[0].Score, want) {
		t.Errorf("score = %v, want %v (duplicate boost applied)", res.Hits[0].Score, want)
	}
}

func TestRerankAppliesContextualMultipliers(t *testing.T) {
	now := time.Now()
	recent := domain.SearchHit{Node: domain.ContentNode{ID: "recent", CreatedAt: now.Add(-time.Hour), Metadata: map[string]string{}}, Score: 1.0}
	old := domain.SearchHit{Node: domain.ContentNode{ID: "old", CreatedAt: now.Add(-60 * 24 * time.Hour), Metadata: map[string]string{}}, Score: 1.0}
	hits := []domain.SearchHit{old, recent}

	prefs := UserPreferences{RecentlyAccessed: map[string]bool{"recent": true}}
	out := rerank(hits, prefs, now)

	var recentScore, oldScore float64
	for _, h := range out {
		switch h.Node.ID {
		case "recent":
			recentScore = h.Score
		case "old":
			oldScore = h.Score
		}
	}
	wantRecent := 1.0 * 1.20 * 1.15
	if !floatClose(recentScore, wantRecent) {
		t.Errorf("recent score = %v, want %v", recentScore, wantRecent)
	}
	if !floatClose(oldScore, 1.0) {
		t.Errorf("old score = %v, want unchanged 1.0", oldScore)
	}
	if out[0].Node.ID != "recent" {
		t.Errorf("expected recent to rank first after rerank, got %q", out[0].Node.ID)
	}
}

func TestDiversifyPenalizesRepeats(t *testing.T) {
	hits := []domain.SearchHit{
		{Node: domain.ContentNode{ID: "1", Variant: domain.VariantMemory, Metadata: map[string]string{"source": "s1"}}, Score: 1.0},
		{Node: domain.ContentNode{ID: "2", Variant: domain.VariantMemory, Metadata: map[string]string{"source": "s1"}}, Score: 1.0},
		{Node: domain.ContentNode{ID: "3", Variant: domain.VariantMemory, Metadata: map[string]string{"source": "s2"}}, Score: 1.0},
	}
	out := diversify(hits, 1.0)
	if !floatClose(out[0].Score, 1.0) {
		t.Errorf("first hit should be unpenalized, got %v", out[0].Score)
	}
	wantSecond := (1 - 0.5) * (1 - 0.3)
	if !floatClose(out[1].Score, wantSecond) {
		t.Errorf("second hit (repeat source+type) = %v, want %v", out[1].Score, wantSecond)
	}
	wantThird := 1 - 0.3
	if !floatClose(out[2].Score, wantThird) {
		t.Errorf("third hit (repeat type only) = %v, want %v", out[2].Score, wantThird)
	}
}

func TestClusterGroupsByVariantAndSourceWithCoherence(t *testing.T) {
	hits := []domain.SearchHit{
		{Node: domain.ContentNode{ID: "1", Variant: domain.VariantMemory, Metadata: map[string]string{"source": "s1"}}, Score: 0.9},
		{Node: domain.ContentNode{ID: "2", Variant: domain.VariantMemory, Metadata: map[string]string{"source": "s1"}}, Score: 0.9},
		{Node: domain.ContentNode{ID: "3", Variant: domain.VariantMemory, Metadata: map[string]string{"source": "s2"}}, Score: 0.1},
		{Node: domain.ContentNode{ID: "4", Variant: domain.VariantDocument, Metadata: map[string]string{"source": "s3"}}, Score: 0.5},
		{Node: domain.ContentNode{ID: "5", Variant: domain.VariantDocument, Metadata: map[string]string{"source": "s3"}}, Score: 0.5},
	}
	clusters := cluster(hits)
	if len(clusters) != 2 {
		t.Fatalf("expected 2 clusters (size>=2 only), got %d", len(clusters))
	}
	for _, c := range clusters {
		if len(c.Members) != 2 {
			t.Errorf("expected cluster size 2, got %d", len(c.Members))
		}
		if !floatClose(c.Coherence, 1.0) {
			t.Errorf("expected perfectly coherent cluster (equal scores) to have coherence 1.0, got %v", c.Coherence)
		}
	}
}

func TestBuildInsightsClassifiesIntentAndComplexity(t *testing.T) {
	hits := []domain.SearchHit{
		{Node: domain.ContentNode{ID: "1", Tags: []string{"billing"}}},
		{Node: domain.ContentNode{ID: "2", Tags: []string{"billing"}}},
	}
	insights := buildInsights("what is the refund policy", hits)
	if insights.Intent != "factual" {
		t.Errorf("intent = %q, want factual", insights.Intent)
	}
	if insights.Complexity != "moderate" {
		t.Errorf("complexity = %q, want moderate", insights.Complexity)
	}
	if len(insights.SuggestedQueries) == 0 {
		t.Fatal("expected at least one suggested query from tag frequency")
	}
}

func floatClose(a, b float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d < 1e-9
}
