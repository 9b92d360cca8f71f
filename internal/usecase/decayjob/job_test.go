package decayjob

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"alfred-ai/internal/domain"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fakeQueue struct {
	mu      sync.Mutex
	pending []Job
	updates []Job
}

func (q *fakeQueue) Enqueue(_ context.Context, job Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, job)
	return nil
}
func (q *fakeQueue) Dequeue(_ context.Context) (*Job, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil, false, nil
	}
	job := q.pending[0]
	q.pending = q.pending[1:]
	return &job, true, nil
}
func (q *fakeQueue) Update(_ context.Context, job Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.updates = append(q.updates, job)
	return nil
}

type fakeMetricsStore struct {
	mu      sync.Mutex
	rows    []domain.RelevanceMetrics
	history []Summary
}

func (s *fakeMetricsStore) ListMetrics(context.Context, domain.TenantCoordinates) ([]domain.RelevanceMetrics, error) {
	return s.rows, nil
}
func (s *fakeMetricsStore) SaveMetrics(_ context.Context, _ domain.TenantCoordinates, m *domain.RelevanceMetrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.rows {
		if s.rows[i].ContentID == m.ContentID {
			s.rows[i] = *m
			return nil
		}
	}
	return nil
}
func (s *fakeMetricsStore) SaveStabilityHistory(_ context.Context, _ domain.TenantCoordinates, _ time.Time, summary Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, summary)
	return nil
}

func testTenant() domain.TenantCoordinates {
	return domain.TenantCoordinates{CompanyID: "acme", AppID: "notes", UserID: "system"}
}

func TestRunUpdatesRetrievabilityAndRecordsHistory(t *testing.T) {
	store := &fakeMetricsStore{rows: []domain.RelevanceMetrics{
		{ContentID: "a", Stability: 0.5, Retrievability: 1.0, LastAccessed: time.Now().Add(-168 * time.Hour)},
		{ContentID: "b", Stability: 0.8, Retrievability: 1.0, LastAccessed: time.Now()},
	}}
	queue := &fakeQueue{}
	w := NewWorker(queue, store, nil, nil, testLogger(), nil)

	job := Job{ID: "job-1", Tenant: testTenant()}
	if err := w.run(context.Background(), &job); err != nil {
		t.Fatalf("run: %v", err)
	}

	if job.Status != StatusCompleted {
		t.Errorf("status = %v, want completed", job.Status)
	}
	if job.Summary == nil || job.Summary.UpdatedCount != 2 {
		t.Fatalf("expected 2 rows updated, got %+v", job.Summary)
	}
	if len(store.history) != 1 {
		t.Fatalf("expected one stability-history row, got %d", len(store.history))
	}
	if store.rows[0].Retrievability >= 1.0 {
		t.Errorf("node a's retrievability should have decayed after a week untouched, got %v", store.rows[0].Retrievability)
	}
}

func TestRetentionCutoffDiffersByStatus(t *testing.T) {
	now := time.Now()
	completed := RetentionCutoff(StatusCompleted, now)
	failed := RetentionCutoff(StatusFailed, now)
	if !failed.Before(completed) {
		t.Errorf("failed retention cutoff (%v) should be further back than completed (%v)", failed, completed)
	}
}
