package domain

import (
	"context"
	"time"
)

// EdgeType identifies the semantic kind of a graph relationship, used by
// ripple recall to decide propagation weight and by graph queries to
// filter traversal.
type EdgeType string

const (
	EdgeTemporal EdgeType = "TEMPORAL"
	EdgeCausal   EdgeType = "CAUSAL"
	EdgeMentions EdgeType = "MENTIONS"
)

// Entity is a typed, tenant-scoped node extracted from content (a person,
// place, concept) that content nodes and other entities can be related to.
type Entity struct {
	ID         string            `json:"id"`
	Tenant     TenantCoordinates `json:"tenant"`
	Kind       string            `json:"kind"`
	Content    string            `json:"content"`
	Confidence float64           `json:"confidence"`
	Data       map[string]string `json:"data,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// Relationship is a typed, directed edge in the graph store connecting two
// entities or content nodes; the graph store does not distinguish between
// the two id spaces.
type Relationship struct {
	ID        string            `json:"id"`
	Tenant    TenantCoordinates `json:"tenant"`
	SourceID  string            `json:"source_id"`
	TargetID  string            `json:"target_id"`
	Type      EdgeType          `json:"type"`
	Weight    float64           `json:"weight"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// GraphMemory mirrors a ContentNode inside the graph store so traversal
// queries don't need to cross into the relational store. Its ID is always
// set equal to the originating ContentNode's ID by the write saga — never
// generated independently.
type GraphMemory struct {
	ID     string            `json:"id"`
	Tenant TenantCoordinates `json:"tenant"`
	Label  string            `json:"label"`
	Lat    *float64          `json:"lat,omitempty"`
	Lon    *float64          `json:"lon,omitempty"`
	City   *string           `json:"city,omitempty"`
}

// Community is a detected cluster of entity ids, surfaced by advanced
// search's clustering step.
type Community struct {
	ID         string            `json:"id"`
	Tenant     TenantCoordinates `json:"tenant"`
	Name       string            `json:"name"`
	Level      int               `json:"level"`
	ParentID   *string           `json:"parent_id,omitempty"`
	ChildIDs   []string          `json:"child_ids,omitempty"`
	MemberIDs  []string          `json:"member_ids"`
	Keywords   []string          `json:"keywords,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// GraphStore is the contract the write saga, ripple recall, and hybrid
// search's graph-relationship checks depend on.
type GraphStore interface {
	UpsertMemory(ctx context.Context, m GraphMemory) error
	UpsertRelationship(ctx context.Context, r Relationship) error
	HasRelationships(ctx context.Context, contentID string) (bool, error)
	Neighbors(ctx context.Context, contentID string, types []EdgeType) ([]Relationship, error)
	DeleteMemory(ctx context.Context, contentID string) error
	Close() error
}
