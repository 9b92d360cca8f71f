package writesaga

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"alfred-ai/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeEmbedder struct {
	dims int
	calls int
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	out := make([][]float32, len(texts))
	for i := range texts {
		vec := make([]float32, f.dims)
		vec[0] = 1
		out[i] = vec
	}
	return out, nil
}
func (f *fakeEmbedder) Dimensions() int { return f.dims }
func (f *fakeEmbedder) Name() string    { return "fake" }

type fakeRelational struct {
	mu    sync.Mutex
	rows  map[string]domain.ContentNode
	keys  map[string]string
	stale map[string]bool
}

func newFakeRelational() *fakeRelational {
	return &fakeRelational{rows: map[string]domain.ContentNode{}, keys: map[string]string{}, stale: map[string]bool{}}
}

func (f *fakeRelational) Upsert(_ context.Context, node domain.ContentNode, idempotencyKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	existing, ok := f.rows[node.ID]
	if ok {
		storedKey := f.keys[node.ID]
		if storedKey != idempotencyKey && !node.UpdatedAt.After(existing.UpdatedAt) {
			return nil
		}
	}
	f.rows[node.ID] = node
	f.keys[node.ID] = idempotencyKey
	return nil
}
func (f *fakeRelational) Get(_ context.Context, _ domain.TenantCoordinates, id string) (*domain.ContentNode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.rows[id]
	if !ok {
		return nil, domain.ErrContentNotFound
	}
	return &n, nil
}
func (f *fakeRelational) Delete(_ context.Context, _ domain.TenantCoordinates, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rows, id)
	return nil
}
func (f *fakeRelational) TrigramSearch(context.Context, domain.TenantCoordinates, string, int) ([]domain.ScoredContent, error) {
	return nil, nil
}
func (f *fakeRelational) FullTextSearch(context.Context, domain.TenantCoordinates, string, int) ([]domain.ScoredContent, error) {
	return nil, nil
}
func (f *fakeRelational) MarkPartialVisibility(_ context.Context, _ domain.TenantCoordinates, id string, partial bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stale[id] = partial
	return nil
}
func (f *fakeRelational) ListPartialVisibility(context.Context, time.Time, int) ([]domain.ContentNode, error) {
	return nil, nil
}

type fakeVector struct {
	mu      sync.Mutex
	vectors map[string][]float32
	visible bool
}

func (f *fakeVector) Upsert(_ context.Context, _ domain.TenantCoordinates, id string, embedding []float32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.vectors == nil {
		f.vectors = map[string][]float32{}
	}
	f.vectors[id] = embedding
	return nil
}
func (f *fakeVector) Search(context.Context, domain.TenantCoordinates, []float32, int, float64) ([]domain.ScoredContent, error) {
	return nil, nil
}
func (f *fakeVector) Visible(_ context.Context, _ domain.TenantCoordinates, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.visible {
		return false, nil
	}
	_, ok := f.vectors[id]
	return ok, nil
}
func (f *fakeVector) Delete(_ context.Context, _ domain.TenantCoordinates, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.vectors, id)
	return nil
}

type fakeGraph struct {
	mu      sync.Mutex
	memories map[string]domain.GraphMemory
}

func (f *fakeGraph) UpsertMemory(_ context.Context, m domain.GraphMemory) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.memories == nil {
		f.memories = map[string]domain.GraphMemory{}
	}
	f.memories[m.ID] = m
	return nil
}
func (f *fakeGraph) UpsertRelationship(context.Context, domain.Relationship) error { return nil }
func (f *fakeGraph) HasRelationships(context.Context, string) (bool, error)        { return false, nil }
func (f *fakeGraph) Neighbors(context.Context, string, []domain.EdgeType) ([]domain.Relationship, error) {
	return nil, nil
}
func (f *fakeGraph) DeleteMemory(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.memories, id)
	return nil
}
func (f *fakeGraph) Close() error { return nil }

func testTenant() domain.TenantCoordinates {
	return domain.TenantCoordinates{CompanyID: "acme", AppID: "notes", UserID: "u1"}
}

func TestSagaStoreReachesDone(t *testing.T) {
	rel := newFakeRelational()
	vec := &fakeVector{visible: true}
	graph := &fakeGraph{}
	saga := New(&fakeEmbedder{dims: 4}, rel, vec, graph, nil, testLogger(), Config{VerifyBaseDelay: time.Millisecond})

	node := domain.ContentNode{ID: "c1", Variant: domain.VariantMemory, Body: "hello world", Tenant: testTenant()}
	result := saga.Store(context.Background(), node, "key-1")

	if result.Err != nil {
		t.Fatalf("Store: %v", result.Err)
	}
	if result.Stage != domain.StageDone {
		t.Errorf("stage = %v, want DONE", result.Stage)
	}
	if result.PartialVisibility {
		t.Error("PartialVisibility = true, want false")
	}
	if len(rel.rows) != 1 {
		t.Errorf("relational rows = %d, want 1", len(rel.rows))
	}
	if len(vec.vectors) != 1 {
		t.Errorf("vectors = %d, want 1", len(vec.vectors))
	}
	if len(graph.memories) != 1 {
		t.Errorf("graph memories = %d, want 1", len(graph.memories))
	}
}

func TestSagaStoreIdempotentRetry(t *testing.T) {
	rel := newFakeRelational()
	vec := &fakeVector{visible: true}
	graph := &fakeGraph{}
	saga := New(&fakeEmbedder{dims: 4}, rel, vec, graph, nil, testLogger(), Config{VerifyBaseDelay: time.Millisecond})

	node := domain.ContentNode{ID: "c1", Variant: domain.VariantMemory, Body: "hello world", Tenant: testTenant()}
	r1 := saga.Store(context.Background(), node, "key-1")
	r2 := saga.Store(context.Background(), node, "key-1")

	if r1.Err != nil || r2.Err != nil {
		t.Fatalf("Store errors: %v, %v", r1.Err, r2.Err)
	}
	if len(rel.rows) != 1 {
		t.Errorf("relational rows = %d, want 1 after retry", len(rel.rows))
	}
	if len(vec.vectors) != 1 {
		t.Errorf("vectors = %d, want 1 after retry", len(vec.vectors))
	}
}

func TestSagaPartialVisibility(t *testing.T) {
	rel := newFakeRelational()
	vec := &fakeVector{visible: false} // never becomes visible
	graph := &fakeGraph{}
	saga := New(&fakeEmbedder{dims: 4}, rel, vec, graph, nil, testLogger(),
		Config{VerifyMaxRetries: 2, VerifyBaseDelay: time.Millisecond})

	node := domain.ContentNode{ID: "c2", Variant: domain.VariantMemory, Body: "hi", Tenant: testTenant()}
	result := saga.Store(context.Background(), node, "key-2")

	if result.Err != nil {
		t.Fatalf("Store: %v", result.Err)
	}
	if !result.PartialVisibility {
		t.Error("PartialVisibility = false, want true")
	}
	if result.Stage != domain.StageDone {
		t.Errorf("stage = %v, want DONE even on partial visibility", result.Stage)
	}
	if !rel.stale["c2"] {
		t.Error("expected relational store marked partial_visible")
	}
}

func TestSagaRejectsInvalidTenant(t *testing.T) {
	rel := newFakeRelational()
	vec := &fakeVector{visible: true}
	graph := &fakeGraph{}
	saga := New(&fakeEmbedder{dims: 4}, rel, vec, graph, nil, testLogger(), Config{})

	node := domain.ContentNode{ID: "c3", Variant: domain.VariantMemory, Body: "hi", Tenant: domain.TenantCoordinates{}}
	result := saga.Store(context.Background(), node, "key-3")

	if result.Err == nil {
		t.Fatal("expected error for invalid tenant")
	}
}
