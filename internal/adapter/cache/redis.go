// Package cache implements domain.EmbeddingCache and domain.RelevanceCache
// over Redis, shared across process instances the way the cluster
// coordinator shares session locks.
package cache

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/redis/go-redis/v9"

	"alfred-ai/internal/domain"
)

// EmbeddingCache implements domain.EmbeddingCache over Redis, keyed by
// content hash so the cache is shared across process instances.
type EmbeddingCache struct {
	client *redis.Client
}

// NewEmbeddingCache wraps an already-connected go-redis client.
func NewEmbeddingCache(client *redis.Client) *EmbeddingCache {
	return &EmbeddingCache{client: client}
}

// Get implements domain.EmbeddingCache.
func (c *EmbeddingCache) Get(ctx context.Context, key string) ([]float32, bool, error) {
	raw, err := c.client.Get(ctx, "embed:"+key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: get embedding: %v", domain.ErrProviderError, err)
	}
	return bytesToFloat32(raw), true, nil
}

// Set implements domain.EmbeddingCache. Uses SetNX so a concurrent writer
// for the same content hash never clobbers an already-cached vector.
func (c *EmbeddingCache) Set(ctx context.Context, key string, embedding []float32, ttl time.Duration) error {
	if err := c.client.SetNX(ctx, "embed:"+key, float32ToBytes(embedding), ttl).Err(); err != nil {
		return fmt.Errorf("%w: set embedding: %v", domain.ErrProviderError, err)
	}
	return nil
}

// RelevanceCache implements domain.RelevanceCache over Redis: composite
// score caching and query-result caching, both with tenant-scoped
// pattern-delete invalidation.
type RelevanceCache struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRelevanceCache wraps an already-connected go-redis client.
func NewRelevanceCache(client *redis.Client, logger *slog.Logger) *RelevanceCache {
	return &RelevanceCache{client: client, logger: logger}
}

// Get implements domain.RelevanceCache.
func (c *RelevanceCache) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: get: %v", domain.ErrProviderError, err)
	}
	return v, true, nil
}

// Set implements domain.RelevanceCache.
func (c *RelevanceCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: set: %v", domain.ErrProviderError, err)
	}
	return nil
}

// DeletePattern implements domain.RelevanceCache using SCAN+DEL, since
// Redis has no atomic glob-delete primitive.
func (c *RelevanceCache) DeletePattern(ctx context.Context, pattern string) error {
	var cursor uint64
	var keys []string
	for {
		batch, next, err := c.client.Scan(ctx, cursor, pattern, 200).Result()
		if err != nil {
			return fmt.Errorf("%w: scan: %v", domain.ErrProviderError, err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: delete pattern %q: %v", domain.ErrProviderError, pattern, err)
	}
	c.logger.Debug("cache pattern invalidated", "pattern", pattern, "keys", len(keys))
	return nil
}

func float32ToBytes(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func bytesToFloat32(b []byte) []float32 {
	if len(b)%4 != 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

var (
	_ domain.EmbeddingCache = (*EmbeddingCache)(nil)
	_ domain.RelevanceCache = (*RelevanceCache)(nil)
)
