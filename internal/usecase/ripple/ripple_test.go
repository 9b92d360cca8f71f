package ripple

import (
	"context"
	"io"
	"log/slog"
	"math"
	"testing"

	"alfred-ai/internal/domain"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fakeGraph struct {
	edges map[string][]domain.Relationship
}

func (g *fakeGraph) UpsertMemory(context.Context, domain.GraphMemory) error           { return nil }
func (g *fakeGraph) UpsertRelationship(context.Context, domain.Relationship) error    { return nil }
func (g *fakeGraph) HasRelationships(_ context.Context, id string) (bool, error) {
	return len(g.edges[id]) > 0, nil
}
func (g *fakeGraph) Neighbors(_ context.Context, id string, _ []domain.EdgeType) ([]domain.Relationship, error) {
	return g.edges[id], nil
}
func (g *fakeGraph) DeleteMemory(context.Context, string) error { return nil }
func (g *fakeGraph) Close() error                               { return nil }

func edge(source, target string) domain.Relationship {
	return domain.Relationship{SourceID: source, TargetID: target, Type: domain.EdgeTemporal}
}

type fakeMetricsStore struct {
	metrics map[string]*domain.RelevanceMetrics
}

func (s *fakeMetricsStore) GetMetrics(_ context.Context, _ domain.TenantCoordinates, id string) (*domain.RelevanceMetrics, error) {
	if m, ok := s.metrics[id]; ok {
		return m, nil
	}
	return &domain.RelevanceMetrics{ContentID: id, Stability: 0.3}, nil
}
func (s *fakeMetricsStore) SaveMetrics(_ context.Context, _ domain.TenantCoordinates, m *domain.RelevanceMetrics) error {
	s.metrics[m.ContentID] = m
	return nil
}

func TestDiscoverDecaysPerHop(t *testing.T) {
	// root -> a -> b -> c: hop-1 gets the undecayed initial boost, each
	// hop after that decays by decayPerHop. Hop-3 (0.075) clears the
	// min-boost threshold and is still included.
	graph := &fakeGraph{edges: map[string][]domain.Relationship{
		"root": {edge("root", "a")},
		"a":    {edge("a", "b")},
		"b":    {edge("b", "c")},
	}}
	p := New(graph, &fakeMetricsStore{metrics: map[string]*domain.RelevanceMetrics{}}, nil, testLogger())

	boosts, err := p.Discover(context.Background(), "root")
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(boosts) != 3 {
		t.Fatalf("expected 3 boosted nodes, got %d: %+v", len(boosts), boosts)
	}
	byID := map[string]NodeBoost{}
	for _, b := range boosts {
		byID[b.ContentID] = b
	}
	if !floatEquals(byID["a"].Boost, 0.30, 0.0001) {
		t.Errorf("boost for a (hop 1) = %v, want 0.30", byID["a"].Boost)
	}
	if !floatEquals(byID["b"].Boost, 0.15, 0.0001) {
		t.Errorf("boost for b (hop 2) = %v, want 0.15", byID["b"].Boost)
	}
	if !floatEquals(byID["c"].Boost, 0.075, 0.0001) {
		t.Errorf("boost for c (hop 3) = %v, want 0.075", byID["c"].Boost)
	}
}

func TestDiscoverStopsBelowThreshold(t *testing.T) {
	// Hop-4 boost = 0.30*0.5^3 = 0.0375 < 0.05 threshold, so a 4-hop node
	// is excluded. maxDepth (3 hops) already bounds the BFS to stop
	// before reaching it, which enforces the same boundary the worked
	// example describes.
	graph := &fakeGraph{edges: map[string][]domain.Relationship{
		"root": {edge("root", "a")},
		"a":    {edge("a", "b")},
		"b":    {edge("b", "c")},
		"c":    {edge("c", "d")},
	}}
	p := New(graph, &fakeMetricsStore{metrics: map[string]*domain.RelevanceMetrics{}}, nil, testLogger())

	boosts, err := p.Discover(context.Background(), "root")
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	for _, b := range boosts {
		if b.ContentID == "d" {
			t.Fatalf("node d (hop 4) should have been excluded, got boost %v", b.Boost)
		}
	}
	byID := map[string]NodeBoost{}
	for _, b := range boosts {
		byID[b.ContentID] = b
	}
	if !floatEquals(byID["c"].Boost, 0.075, 0.0001) {
		t.Errorf("boost for c (hop 3) = %v, want 0.075", byID["c"].Boost)
	}
}

func TestDiscoverNeverRevisitsNodes(t *testing.T) {
	// root -> a, root -> b, a -> b (cycle back to an already-visited node).
	graph := &fakeGraph{edges: map[string][]domain.Relationship{
		"root": {edge("root", "a"), edge("root", "b")},
		"a":    {edge("a", "b")},
	}}
	p := New(graph, &fakeMetricsStore{metrics: map[string]*domain.RelevanceMetrics{}}, nil, testLogger())

	boosts, err := p.Discover(context.Background(), "root")
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	seen := map[string]int{}
	for _, b := range boosts {
		seen[b.ContentID]++
	}
	if seen["b"] != 1 {
		t.Errorf("node b visited %d times, want 1", seen["b"])
	}
}

func TestPropagateAppliesStabilityBoost(t *testing.T) {
	graph := &fakeGraph{edges: map[string][]domain.Relationship{
		"root": {edge("root", "a")},
	}}
	store := &fakeMetricsStore{metrics: map[string]*domain.RelevanceMetrics{
		"a": {ContentID: "a", Stability: 0.5},
	}}
	p := New(graph, store, nil, testLogger())

	result, err := p.Propagate(context.Background(), domain.TenantCoordinates{CompanyID: "acme", AppID: "notes"}, "root")
	if err != nil {
		t.Fatalf("Propagate: %v", err)
	}
	if result.AffectedNodes != 1 {
		t.Fatalf("affected = %d, want 1", result.AffectedNodes)
	}
	if result.MaxDepthReached != 1 {
		t.Errorf("max depth reached = %d, want 1", result.MaxDepthReached)
	}
	want := 0.5 + initialBoost
	if !floatEquals(store.metrics["a"].Stability, want, 0.0001) {
		t.Errorf("stability = %v, want %v", store.metrics["a"].Stability, want)
	}
}

func floatEquals(a, b, eps float64) bool { return math.Abs(a-b) <= eps }
