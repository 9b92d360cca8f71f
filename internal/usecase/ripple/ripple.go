// Package ripple implements bounded BFS propagation of stability boosts
// over the typed relationship graph, triggered when a node with graph
// relationships is accessed.
package ripple

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"alfred-ai/internal/domain"
)

const (
	maxDepth          = 3
	initialBoost      = 0.30
	decayPerHop       = 0.5
	minBoostThreshold = 0.05
	batchSize         = 100
)

var edgeTypes = []domain.EdgeType{domain.EdgeTemporal, domain.EdgeCausal, domain.EdgeMentions}

// NodeBoost pairs a content id with the boost to apply and the hop it was found at.
type NodeBoost struct {
	ContentID string
	Boost     float64
	Depth     int
}

// MetricsStore is the subset of relevance-metrics persistence ripple recall
// needs: read current stability, write the boosted value.
type MetricsStore interface {
	GetMetrics(ctx context.Context, tenant domain.TenantCoordinates, contentID string) (*domain.RelevanceMetrics, error)
	SaveMetrics(ctx context.Context, tenant domain.TenantCoordinates, m *domain.RelevanceMetrics) error
}

// Propagator runs ripple recall for a single source node. Propagation for a
// given source is expected to be serialized by the caller (e.g. per-source
// mutex or single-flight); concurrent propagation from different sources is
// safe.
type Propagator struct {
	graph   domain.GraphStore
	metrics MetricsStore
	bus     domain.EventBus
	logger  *slog.Logger
}

// New constructs a Propagator.
func New(graph domain.GraphStore, metrics MetricsStore, bus domain.EventBus, logger *slog.Logger) *Propagator {
	return &Propagator{graph: graph, metrics: metrics, bus: bus, logger: logger}
}

// Discover runs the bounded BFS from sourceID and returns every neighbour
// that should receive a boost, without applying it — used by tests and by
// Propagate, which applies the result in batches.
func (p *Propagator) Discover(ctx context.Context, contentID string) ([]NodeBoost, error) {
	type frontierNode struct {
		id    string
		depth int
		boost float64
	}

	visited := map[string]bool{contentID: true}
	frontier := []frontierNode{{id: contentID, depth: 0, boost: 1.0}}
	var results []NodeBoost

	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		var next []frontierNode
		for _, node := range frontier {
			neighbors, err := p.graph.Neighbors(ctx, node.id, edgeTypes)
			if err != nil {
				p.logger.Warn("ripple: neighbor lookup failed", "node", node.id, "error", err)
				continue
			}
			for _, edge := range neighbors {
				if visited[edge.TargetID] {
					continue
				}
				hopDepth := depth + 1
				boost := initialBoost * pow(decayPerHop, depth)
				if boost < minBoostThreshold {
					continue
				}
				visited[edge.TargetID] = true
				results = append(results, NodeBoost{ContentID: edge.TargetID, Boost: boost, Depth: hopDepth})
				next = append(next, frontierNode{id: edge.TargetID, depth: hopDepth, boost: boost})
			}
		}
		frontier = next
	}

	return results, nil
}

func pow(base float64, exp int) float64 {
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}

// PropagationResult summarizes one Propagate run.
type PropagationResult struct {
	AffectedNodes    int
	MaxDepthReached  int
	TotalBoost       float64
}

// Propagate discovers affected neighbours and applies stability boosts in
// batches of batchSize, emitting a completion event with the affected count.
func (p *Propagator) Propagate(ctx context.Context, tenant domain.TenantCoordinates, sourceID string) (PropagationResult, error) {
	boosts, err := p.Discover(ctx, sourceID)
	if err != nil {
		return PropagationResult{}, err
	}

	result := PropagationResult{}
	for start := 0; start < len(boosts); start += batchSize {
		end := start + batchSize
		if end > len(boosts) {
			end = len(boosts)
		}
		for _, nb := range boosts[start:end] {
			m, err := p.metrics.GetMetrics(ctx, tenant, nb.ContentID)
			if err != nil {
				p.logger.Warn("ripple: metrics lookup failed", "node", nb.ContentID, "error", err)
				continue
			}
			m.Stability = clampUnit(m.Stability + nb.Boost)
			now := time.Now().UTC()
			m.LastAccessed = now
			if err := p.metrics.SaveMetrics(ctx, tenant, m); err != nil {
				p.logger.Warn("ripple: metrics save failed", "node", nb.ContentID, "error", err)
				continue
			}
			result.AffectedNodes++
			result.TotalBoost += nb.Boost
			if nb.Depth > result.MaxDepthReached {
				result.MaxDepthReached = nb.Depth
			}
		}
	}

	if p.bus != nil {
		payload, _ := json.Marshal(map[string]any{"source_id": sourceID, "affected": result.AffectedNodes})
		p.bus.Publish(ctx, domain.Event{Type: domain.EventRippleCompleted, Timestamp: time.Now(), Payload: payload})
	}
	return result, nil
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// HasGraphRelationships is a thin pass-through to the graph store's
// HasRelationships existence check.
func HasGraphRelationships(ctx context.Context, graph domain.GraphStore, contentID string) (bool, error) {
	return graph.HasRelationships(ctx, contentID)
}
