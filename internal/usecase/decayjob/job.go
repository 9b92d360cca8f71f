// Package decayjob periodically refreshes retrievability for every content
// node per tenant, using the same cron-scheduled, single-worker pattern as
// the teacher's scheduling package but with its own durable job queue and
// retry/retention policy.
package decayjob

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/robfig/cron/v3"

	"alfred-ai/internal/domain"
	"alfred-ai/internal/usecase/relevance"
)

// Status is the lifecycle state of a queued decay job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

const (
	defaultPeriod     = time.Hour
	maxRetries        = 2
	baseBackoff       = 60 * time.Second
	completedRetained = 24 * time.Hour
	failedRetained    = 48 * time.Hour
)

// Job is one scheduled decay-maintenance run for a tenant.
type Job struct {
	ID          string
	Tenant      domain.TenantCoordinates
	Status      Status
	Attempt     int
	Progress    int // 0, 10, 90, 100
	Summary     *Summary
	Err         string
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// Summary reports the outcome of a completed decay job.
type Summary struct {
	UpdatedCount  int     `json:"updated_count"`
	AvgRetriev    float64 `json:"avg_retrievability"`
	MinRetriev    float64 `json:"min_retrievability"`
	MaxRetriev    float64 `json:"max_retrievability"`
	ProcessingMS  int64   `json:"processing_ms"`
}

// MetricsStore is the subset of relevance-metrics persistence the decay job
// needs: enumerate a tenant's nodes and persist updated metrics.
type MetricsStore interface {
	ListMetrics(ctx context.Context, tenant domain.TenantCoordinates) ([]domain.RelevanceMetrics, error)
	SaveMetrics(ctx context.Context, tenant domain.TenantCoordinates, m *domain.RelevanceMetrics) error
	SaveStabilityHistory(ctx context.Context, tenant domain.TenantCoordinates, at time.Time, summary Summary) error
}

// Queue is the durable job queue decay jobs are drained from. A single
// worker with concurrency 1 processes the queue, matching the spec's
// "durable job queue, one worker" execution model.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Dequeue(ctx context.Context) (*Job, bool, error)
	Update(ctx context.Context, job Job) error
}

// Worker drains the durable queue with concurrency 1, retrying failed jobs
// with exponential backoff and reporting progress via the event bus.
type Worker struct {
	queue   Queue
	metrics MetricsStore
	cache   domain.RelevanceCache
	bus     domain.EventBus
	logger  *slog.Logger
	cron    *cron.Cron
	tenants func(ctx context.Context) ([]domain.TenantCoordinates, error)

	mu      sync.Mutex
	running bool
}

// NewWorker constructs a Worker. tenants lists every tenant the periodic
// schedule should enqueue a job for.
func NewWorker(queue Queue, metrics MetricsStore, cache domain.RelevanceCache, bus domain.EventBus, logger *slog.Logger, tenants func(ctx context.Context) ([]domain.TenantCoordinates, error)) *Worker {
	return &Worker{queue: queue, metrics: metrics, cache: cache, bus: bus, logger: logger, cron: cron.New(), tenants: tenants}
}

// Start schedules the periodic enqueue at the given period (default 1h when
// period <= 0) and begins draining the queue in a background goroutine.
func (w *Worker) Start(ctx context.Context, period time.Duration) error {
	if period <= 0 {
		period = defaultPeriod
	}
	spec := fmt.Sprintf("@every %s", period)
	_, err := w.cron.AddFunc(spec, func() {
		if err := w.enqueueAll(ctx); err != nil {
			w.logger.Warn("decayjob: enqueue failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("decayjob: schedule: %w", err)
	}
	w.cron.Start()
	go w.drain(ctx)
	return nil
}

// Stop halts the cron schedule. In-flight jobs run to completion.
func (w *Worker) Stop() {
	w.cron.Stop()
}

func (w *Worker) enqueueAll(ctx context.Context) error {
	tenants, err := w.tenants(ctx)
	if err != nil {
		return err
	}
	for _, tenant := range tenants {
		job := Job{ID: generateID(), Tenant: tenant, Status: StatusQueued, CreatedAt: time.Now().UTC()}
		if err := w.queue.Enqueue(ctx, job); err != nil {
			w.logger.Warn("decayjob: enqueue failed", "tenant", tenant.CompanyID, "error", err)
		}
	}
	return nil
}

// drain is the concurrency-1 worker loop. It is started once by Start and
// runs until ctx is cancelled.
func (w *Worker) drain(ctx context.Context) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.mu.Unlock()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			job, ok, err := w.queue.Dequeue(ctx)
			if err != nil {
				w.logger.Warn("decayjob: dequeue failed", "error", err)
				continue
			}
			if !ok {
				continue
			}
			w.runWithRetry(ctx, *job)
		}
	}
}

func (w *Worker) runWithRetry(ctx context.Context, job Job) {
	for job.Attempt = 0; job.Attempt <= maxRetries; job.Attempt++ {
		if job.Attempt > 0 {
			backoff := baseBackoff * time.Duration(1<<(job.Attempt-1))
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
		}
		if err := w.run(ctx, &job); err == nil {
			return
		} else {
			job.Err = err.Error()
			w.logger.Warn("decayjob: attempt failed", "job", job.ID, "attempt", job.Attempt, "error", err)
		}
	}
	job.Status = StatusFailed
	now := time.Now().UTC()
	job.CompletedAt = &now
	_ = w.queue.Update(ctx, job)
	w.emit(ctx, domain.EventDecayJobFailed, job)
}

// run executes one decay-maintenance pass for the job's tenant: batch
// refresh retrievability, persist a stability-history snapshot, invalidate
// stale caches, and summarize progress at 10/90/100%.
func (w *Worker) run(ctx context.Context, job *Job) error {
	start := time.Now()
	job.Status = StatusRunning
	job.Progress = 10
	_ = w.queue.Update(ctx, *job)
	w.emit(ctx, domain.EventDecayJobStarted, *job)

	rows, err := w.metrics.ListMetrics(ctx, job.Tenant)
	if err != nil {
		return fmt.Errorf("list metrics: %w", err)
	}

	now := time.Now().UTC()
	updated := 0
	var sum, min, max float64
	min = 1.0
	for i := range rows {
		m := &rows[i]
		elapsed := now.Sub(m.LastAccessed)
		importance := 0.0
		if m.AIImportance != nil {
			importance = *m.AIImportance
		}
		r := relevance.Retrievability(m.Stability, elapsed, importance, 0)
		m.SetRetrievability(r)
		if err := w.metrics.SaveMetrics(ctx, job.Tenant, m); err != nil {
			w.logger.Warn("decayjob: save metrics failed", "node", m.ContentID, "error", err)
			continue
		}
		updated++
		sum += r
		if r < min {
			min = r
		}
		if r > max {
			max = r
		}
	}

	job.Progress = 90
	_ = w.queue.Update(ctx, *job)
	w.emit(ctx, domain.EventDecayJobProgress, *job)

	avg := 0.0
	if updated > 0 {
		avg = sum / float64(updated)
	} else {
		min = 0
	}
	summary := Summary{UpdatedCount: updated, AvgRetriev: avg, MinRetriev: min, MaxRetriev: max, ProcessingMS: time.Since(start).Milliseconds()}
	if err := w.metrics.SaveStabilityHistory(ctx, job.Tenant, now, summary); err != nil {
		w.logger.Warn("decayjob: stability history save failed", "error", err)
	}

	if w.cache != nil {
		pattern := "relscore:*" + job.Tenant.CompanyID + ":" + job.Tenant.AppID + "*"
		if err := w.cache.DeletePattern(ctx, pattern); err != nil {
			w.logger.Warn("decayjob: cache invalidation failed", "error", err)
		}
	}

	job.Status = StatusCompleted
	job.Progress = 100
	job.Summary = &summary
	completedAt := time.Now().UTC()
	job.CompletedAt = &completedAt
	_ = w.queue.Update(ctx, *job)
	w.emit(ctx, domain.EventDecayJobCompleted, *job)
	return nil
}

func (w *Worker) emit(ctx context.Context, eventType domain.EventType, job Job) {
	if w.bus == nil {
		return
	}
	payload, _ := json.Marshal(map[string]any{"job_id": job.ID, "tenant": job.Tenant.CompanyID, "progress": job.Progress})
	w.bus.Publish(ctx, domain.Event{Type: eventType, Timestamp: time.Now(), Payload: payload})
}

// RetentionCutoff returns the age past which a job of the given status
// should be purged from the queue store (24h completed, 48h failed).
func RetentionCutoff(status Status, now time.Time) time.Time {
	if status == StatusFailed {
		return now.Add(-failedRetained)
	}
	return now.Add(-completedRetained)
}

func generateID() string {
	t := time.Now()
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}
