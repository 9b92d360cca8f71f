package domain

import (
	"regexp"
	"time"
)

// ContentVariant classifies a ContentNode's shape.
type ContentVariant string

const (
	VariantMemory   ContentVariant = "memory"
	VariantDocument ContentVariant = "document"
	VariantEpisode  ContentVariant = "episode"
	VariantChunk    ContentVariant = "chunk"
)

// TenantCoordinates pins every retrieval-core operation to a tenant scope.
// Retrieval operations require the full coordinate tuple so stores can
// enforce row-level isolation rather than relying on application filtering.
type TenantCoordinates struct {
	CompanyID string  `json:"company_id"`
	AppID     string  `json:"app_id"`
	UserID    string  `json:"user_id"`
	SessionID *string `json:"session_id,omitempty"`
	RequestID string  `json:"request_id,omitempty"`
}

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidateID reports whether id is a well-formed tenant-scoped identifier.
func ValidateID(id string) bool {
	return id != "" && idPattern.MatchString(id)
}

// Validate checks that the required coordinate fields are well-formed.
// SessionID, when present, is validated the same way; RequestID is
// advisory and not validated.
func (t TenantCoordinates) Validate() error {
	if !ValidateID(t.CompanyID) {
		return NewDomainError("TenantCoordinates.Validate", ErrInvalidTenantID, "company_id")
	}
	if !ValidateID(t.AppID) {
		return NewDomainError("TenantCoordinates.Validate", ErrInvalidTenantID, "app_id")
	}
	if !ValidateID(t.UserID) {
		return NewDomainError("TenantCoordinates.Validate", ErrInvalidTenantID, "user_id")
	}
	if t.SessionID != nil && !ValidateID(*t.SessionID) {
		return NewDomainError("TenantCoordinates.Validate", ErrInvalidTenantID, "session_id")
	}
	return nil
}

// ContentNode is the unit of storage shared by the relational, vector, and
// graph stores. Its ID is stable across all three stores.
type ContentNode struct {
	ID              string            `json:"id"`
	Variant         ContentVariant    `json:"variant"`
	Body            string            `json:"body"`
	Tags            []string          `json:"tags,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	Tenant          TenantCoordinates `json:"tenant"`
	EmbeddingModel  string            `json:"embedding_model,omitempty"`
	Level           int               `json:"level"`
	ParentID        *string           `json:"parent_id,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// RelevanceMetrics tracks the access history and decay state a ContentNode
// needs for the memory-lens scoring and spaced-repetition model.
type RelevanceMetrics struct {
	ContentID                string     `json:"content_id"`
	LastAccessed             time.Time  `json:"last_accessed"`
	AccessCount              int        `json:"access_count"`
	Stability                float64    `json:"stability"`      // resistance to forgetting, clamped [0,1]
	Retrievability           float64    `json:"retrievability"` // R(t), clamped [0,1]
	UserImportance           *float64   `json:"user_importance,omitempty"`
	AIImportance             *float64   `json:"ai_importance,omitempty"`
	HasGraphRelationships    bool       `json:"has_graph_relationships"`
	RelevanceScore           *float64   `json:"relevance_score,omitempty"`
	RelevanceCacheExpiresAt  *time.Time `json:"relevance_cache_expires_at,omitempty"`
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// NewRelevanceMetrics constructs a RelevanceMetrics record for a freshly
// stored ContentNode: one access, full retrievability, baseline stability.
func NewRelevanceMetrics(contentID string, at time.Time) *RelevanceMetrics {
	return &RelevanceMetrics{
		ContentID:      contentID,
		LastAccessed:   at,
		AccessCount:    1,
		Stability:      0.3,
		Retrievability: 1.0,
	}
}

// RecordAccess bumps the access count and resets the decay clock. It never
// decrements AccessCount, even if at precedes LastAccessed (a clock skew
// retry should still count as an access).
func (r *RelevanceMetrics) RecordAccess(at time.Time) {
	r.AccessCount++
	if at.After(r.LastAccessed) {
		r.LastAccessed = at
	}
}

// SetRetrievability clamps and stores the computed decay value.
func (r *RelevanceMetrics) SetRetrievability(v float64) {
	r.Retrievability = clamp01(v)
}

// AccessKind distinguishes how a ContentNode was accessed.
type AccessKind string

const (
	AccessKindRetrieve AccessKind = "retrieve"
	AccessKindView     AccessKind = "view"
	AccessKindEdit     AccessKind = "edit"
	AccessKindShare    AccessKind = "share"
)

// ValidAccessKind reports whether k is one of the defined access kinds.
func ValidAccessKind(k AccessKind) bool {
	switch k {
	case AccessKindRetrieve, AccessKindView, AccessKindEdit, AccessKindShare:
		return true
	default:
		return false
	}
}

// AccessContextKind records what triggered the access, for analytics.
type AccessContextKind string

const (
	AccessContextQuery   AccessContextKind = "query"
	AccessContextRelated AccessContextKind = "related"
	AccessContextManual  AccessContextKind = "manual"
	AccessContextSystem  AccessContextKind = "system"
)

// AccessEvent is an immutable record of a single content access.
type AccessEvent struct {
	ID                      string            `json:"id"`
	ContentID               string            `json:"content_id"`
	Tenant                  TenantCoordinates `json:"tenant"`
	Kind                    AccessKind        `json:"kind"`
	Context                 AccessContextKind `json:"context"`
	RelevanceScoreAtAccess  float64           `json:"relevance_score_at_access"`
	AccessedAt              time.Time         `json:"accessed_at"`
	Metadata                map[string]string `json:"metadata,omitempty"`
}

// MemoryPermission grants a principal a role over a ContentNode.
type PermissionLevel string

const (
	PermissionRead  PermissionLevel = "read"
	PermissionWrite PermissionLevel = "write"
	PermissionAdmin PermissionLevel = "admin"
)

type MemoryPermission struct {
	MemoryID  string          `json:"memory_id"`
	UserID    string          `json:"user_id"`
	Role      PermissionLevel `json:"role"`
	GrantorID string          `json:"grantor_id"`
	GrantedAt time.Time       `json:"granted_at"`
	ExpiresAt *time.Time      `json:"expires_at,omitempty"`
}

// ChangeKind classifies what produced a MemoryVersion snapshot.
type ChangeKind string

const (
	ChangeKindCreate ChangeKind = "create"
	ChangeKindEdit   ChangeKind = "edit"
	ChangeKindDelete ChangeKind = "delete"
)

// MemoryVersion is an immutable snapshot of a memory's content, tags, and
// metadata at a point in time. Version numbers are strictly monotonic per
// memory id, starting at 1 when the memory is created.
type MemoryVersion struct {
	MemoryID     string            `json:"memory_id"`
	Version      int               `json:"version"`
	Body         string            `json:"body"`
	Tags         []string          `json:"tags,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	ChangeKind   ChangeKind        `json:"change_kind"`
	ChangeAuthor string            `json:"change_author"`
	CreatedAt    time.Time         `json:"created_at"`
}
