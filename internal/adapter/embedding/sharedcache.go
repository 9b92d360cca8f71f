package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"alfred-ai/internal/domain"
)

// ContentHasher fronts a domain.EmbeddingProvider with a two-level cache:
// an in-process LRU (CachedEmbedder) for hot single-query lookups, and a
// shared domain.EmbeddingCache (Redis) so multiple process instances
// converge on the same vector for identical content, per the write saga's
// "embed with content-hash cache" step.
type ContentHasher struct {
	inner  domain.EmbeddingProvider
	shared domain.EmbeddingCache
	ttl    time.Duration
}

// NewContentHasher wraps inner with a shared cache. ttl defaults to 24h.
func NewContentHasher(inner domain.EmbeddingProvider, shared domain.EmbeddingCache, ttl time.Duration) *ContentHasher {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &ContentHasher{inner: inner, shared: shared, ttl: ttl}
}

// HashKey returns the strong content hash used as the cache key.
func HashKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// EmbedOne embeds a single text, consulting the shared cache first and
// validating the result against the provider's fixed dimensionality.
// This is the saga's step 1: miss triggers a provider call and a cache
// insert; dimension mismatch fails with domain.ErrEmbedDimensionMismatch.
func (h *ContentHasher) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	key := HashKey(text)

	if h.shared != nil {
		if vec, ok, err := h.shared.Get(ctx, key); err == nil && ok {
			return vec, nil
		}
	}

	vecs, err := h.inner.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrEmbeddingFailed, err)
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("%w: provider returned no vectors", domain.ErrEmbeddingFailed)
	}
	vec := vecs[0]
	if dims := h.inner.Dimensions(); dims > 0 && len(vec) != dims {
		return nil, fmt.Errorf("%w: got %d want %d", domain.ErrEmbedDimensionMismatch, len(vec), dims)
	}

	if h.shared != nil {
		_ = h.shared.Set(ctx, key, vec, h.ttl)
	}
	return vec, nil
}

// Embed implements domain.EmbeddingProvider by delegating single-text calls
// to EmbedOne and batch calls straight to the inner provider.
func (h *ContentHasher) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 1 {
		vec, err := h.EmbedOne(ctx, texts[0])
		if err != nil {
			return nil, err
		}
		return [][]float32{vec}, nil
	}
	return h.inner.Embed(ctx, texts)
}

// Dimensions implements domain.EmbeddingProvider.
func (h *ContentHasher) Dimensions() int { return h.inner.Dimensions() }

// Name implements domain.EmbeddingProvider.
func (h *ContentHasher) Name() string { return h.inner.Name() }

var _ domain.EmbeddingProvider = (*ContentHasher)(nil)
