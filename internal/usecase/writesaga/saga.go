// Package writesaga coordinates idempotent writes across the relational,
// vector, and graph stores, following the same state-machine-per-attempt
// shape as the workflow engine: each step is attempted in order, and
// failure at any step returns the attained prefix rather than rolling back.
package writesaga

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sony/gobreaker/v2"

	"alfred-ai/internal/domain"
)

// Config tunes saga retry and verification behavior.
type Config struct {
	VerifyMaxRetries int           // default 3
	VerifyBaseDelay  time.Duration // default 100ms
}

func (c Config) withDefaults() Config {
	if c.VerifyMaxRetries <= 0 {
		c.VerifyMaxRetries = 3
	}
	if c.VerifyBaseDelay <= 0 {
		c.VerifyBaseDelay = 100 * time.Millisecond
	}
	return c
}

// Saga executes the write saga's state machine:
// EMBEDDING -> RELATIONAL -> VECTOR -> GRAPH -> VERIFY -> DONE.
type Saga struct {
	embedder   domain.EmbeddingProvider
	relational domain.RelationalStore
	vector     domain.VectorStore
	graph      domain.GraphStore
	bus        domain.EventBus
	logger     *slog.Logger
	cfg        Config

	vectorBreaker *gobreaker.CircuitBreaker[struct{}]
	graphBreaker  *gobreaker.CircuitBreaker[struct{}]
}

// New constructs a Saga. embedder should already be wrapped with the
// shared content-hash cache (internal/adapter/embedding.ContentHasher).
func New(
	embedder domain.EmbeddingProvider,
	relational domain.RelationalStore,
	vector domain.VectorStore,
	graph domain.GraphStore,
	bus domain.EventBus,
	logger *slog.Logger,
	cfg Config,
) *Saga {
	cfg = cfg.withDefaults()
	return &Saga{
		embedder:   embedder,
		relational: relational,
		vector:     vector,
		graph:      graph,
		bus:        bus,
		logger:     logger,
		cfg:        cfg,
		vectorBreaker: gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
			Name:        "saga:vector",
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			Interval:    60 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 5 },
		}),
		graphBreaker: gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
			Name:        "saga:graph",
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			Interval:    60 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 5 },
		}),
	}
}

// Store runs the full write-saga state machine for a single content node.
// The returned StoreResult always reports the stage reached, even on
// failure, so the caller can retry idempotently with the same key.
func (s *Saga) Store(ctx context.Context, node domain.ContentNode, idempotencyKey string) *domain.StoreResult {
	result := &domain.StoreResult{ContentID: node.ID, Stage: domain.StageEmbedding}

	if err := node.Tenant.Validate(); err != nil {
		result.Err = err
		return result
	}
	if node.ID == "" {
		node.ID = generateID()
	}
	now := time.Now().UTC()
	if node.CreatedAt.IsZero() {
		node.CreatedAt = now
	}
	node.UpdatedAt = now

	// Step 1: EMBEDDING.
	vec, err := s.embed(ctx, node.Body)
	if err != nil {
		result.Err = domain.NewSubSystemError("saga", "Store.embed", domain.ErrEmbeddingFailed, err.Error())
		return result
	}

	// Step 2: RELATIONAL.
	result.Stage = domain.StageRelational
	if err := s.relational.Upsert(ctx, node, idempotencyKey); err != nil {
		result.Err = domain.NewSubSystemError("saga", "Store.relational", domain.ErrRelationalConflict, err.Error())
		return result
	}

	// Step 3: VECTOR.
	result.Stage = domain.StageVector
	if vec != nil {
		_, err := s.vectorBreaker.Execute(func() (struct{}, error) {
			return struct{}{}, s.vector.Upsert(ctx, node.Tenant, node.ID, vec)
		})
		if err != nil {
			result.Err = domain.NewSubSystemError("saga", "Store.vector", domain.ErrVectorStore, err.Error())
			return result
		}
	}

	// Step 4: GRAPH. MERGE is idempotent by construction.
	result.Stage = domain.StageGraph
	_, err = s.graphBreaker.Execute(func() (struct{}, error) {
		return struct{}{}, s.graph.UpsertMemory(ctx, domain.GraphMemory{
			ID:     node.ID,
			Tenant: node.Tenant,
			Label:  string(node.Variant),
		})
	})
	if err != nil {
		result.Err = domain.NewSubSystemError("saga", "Store.graph", domain.ErrGraphMerge, err.Error())
		return result
	}

	// Step 5: VERIFY.
	result.Stage = domain.StageVerify
	visible := s.verifyVectorVisible(ctx, node.Tenant, node.ID)
	result.PartialVisibility = !visible
	if !visible {
		_ = s.relational.MarkPartialVisibility(ctx, node.Tenant, node.ID, true)
		s.emit(ctx, domain.EventContentPartial, node.ID)
	}

	result.Stage = domain.StageDone
	s.emit(ctx, domain.EventContentStored, node.ID)
	return result
}

func (s *Saga) embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" || s.embedder == nil {
		return nil, nil
	}
	vecs, err := s.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, nil
	}
	return vecs[0], nil
}

// verifyVectorVisible polls the vector store with exponential backoff to
// confirm the just-written row is indexed and searchable.
func (s *Saga) verifyVectorVisible(ctx context.Context, tenant domain.TenantCoordinates, id string) bool {
	delay := s.cfg.VerifyBaseDelay
	for attempt := 0; attempt < s.cfg.VerifyMaxRetries; attempt++ {
		visible, err := s.vector.Visible(ctx, tenant, id)
		if err == nil && visible {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(delay):
		}
		delay *= 2
	}
	return false
}

func (s *Saga) emit(ctx context.Context, eventType domain.EventType, contentID string) {
	if s.bus == nil {
		return
	}
	payload, _ := json.Marshal(map[string]string{"content_id": contentID})
	s.bus.Publish(ctx, domain.Event{Type: eventType, Timestamp: time.Now(), Payload: payload})
}

// ReconcileStalePartials re-verifies visibility for content rows still
// flagged partial_visibility past a grace period, clearing the flag on
// success. Intended to be driven by the same cron mechanism as the decay
// job; not invoked automatically.
func (s *Saga) ReconcileStalePartials(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	stale, err := s.relational.ListPartialVisibility(ctx, time.Now().Add(-olderThan), limit)
	if err != nil {
		return 0, err
	}
	fixed := 0
	for _, node := range stale {
		if s.verifyVectorVisible(ctx, node.Tenant, node.ID) {
			if err := s.relational.MarkPartialVisibility(ctx, node.Tenant, node.ID, false); err == nil {
				fixed++
			}
		}
	}
	return fixed, nil
}

func generateID() string {
	t := time.Now()
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}
