// Package graphstore implements domain.GraphStore as an embedded
// adjacency-list graph over bbolt, scoped per tenant by bucket key prefix.
package graphstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.etcd.io/bbolt"

	"alfred-ai/internal/domain"
)

var (
	bucketMemories      = []byte("memories")
	bucketRelationships = []byte("relationships") // keyed by sourceID -> []Relationship, JSON encoded
)

// Store implements domain.GraphStore over a single bbolt file. Node merge
// is create-or-update keyed by id; relationship storage is an adjacency
// list keyed by source id, since bbolt has no native edge index.
type Store struct {
	db *bbolt.DB
}

// New opens (or creates) a bbolt database at path and ensures the top-level
// buckets exist.
func New(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("%w: open: %v", domain.ErrGraphMerge, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketMemories); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketRelationships)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: init buckets: %v", domain.ErrGraphMerge, err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}

func memoryKey(tenant domain.TenantCoordinates, id string) []byte {
	return []byte(tenant.CompanyID + "/" + tenant.AppID + "/" + tenant.UserID + "/" + id)
}

// UpsertMemory implements domain.GraphStore. MERGE semantics: create on
// first write, update mutable fields (label, geo) on every subsequent one.
func (s *Store) UpsertMemory(_ context.Context, m domain.GraphMemory) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("%w: marshal memory: %v", domain.ErrGraphMerge, err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketMemories)
		return b.Put(memoryKey(m.Tenant, m.ID), data)
	})
}

// DeleteMemory implements domain.GraphStore.
func (s *Store) DeleteMemory(ctx context.Context, contentID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketMemories)
		c := b.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			if strings.HasSuffix(string(k), "/"+contentID) {
				if err := b.Delete(k); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// UpsertRelationship implements domain.GraphStore, appending (or updating
// if the id already exists) an edge to its source's adjacency list.
func (s *Store) UpsertRelationship(_ context.Context, r domain.Relationship) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketRelationships)
		key := []byte(r.Tenant.CompanyID + "/" + r.Tenant.AppID + "/" + r.Tenant.UserID + "/" + r.SourceID)

		var edges []domain.Relationship
		if raw := b.Get(key); raw != nil {
			if err := json.Unmarshal(raw, &edges); err != nil {
				return fmt.Errorf("%w: unmarshal edges: %v", domain.ErrGraphMerge, err)
			}
		}

		replaced := false
		for i, e := range edges {
			if e.ID == r.ID || (e.TargetID == r.TargetID && e.Type == r.Type) {
				edges[i] = r
				replaced = true
				break
			}
		}
		if !replaced {
			edges = append(edges, r)
		}

		data, err := json.Marshal(edges)
		if err != nil {
			return fmt.Errorf("%w: marshal edges: %v", domain.ErrGraphMerge, err)
		}
		return b.Put(key, data)
	})
}

// HasRelationships implements domain.GraphStore.
func (s *Store) HasRelationships(_ context.Context, contentID string) (bool, error) {
	found := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketRelationships)
		c := b.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			if strings.HasSuffix(string(k), "/"+contentID) {
				found = true
				return nil
			}
		}
		return nil
	})
	return found, err
}

// Neighbors implements domain.GraphStore, returning the outgoing edges from
// contentID filtered by edge type (all types when types is empty).
func (s *Store) Neighbors(_ context.Context, contentID string, types []domain.EdgeType) ([]domain.Relationship, error) {
	var out []domain.Relationship
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketRelationships)
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if !strings.HasSuffix(string(k), "/"+contentID) {
				continue
			}
			var edges []domain.Relationship
			if err := json.Unmarshal(v, &edges); err != nil {
				return fmt.Errorf("%w: unmarshal edges: %v", domain.ErrGraphMerge, err)
			}
			for _, e := range edges {
				if len(types) == 0 || containsType(types, e.Type) {
					out = append(out, e)
				}
			}
		}
		return nil
	})
	return out, err
}

func containsType(types []domain.EdgeType, t domain.EdgeType) bool {
	for _, want := range types {
		if want == t {
			return true
		}
	}
	return false
}

var _ domain.GraphStore = (*Store)(nil)
