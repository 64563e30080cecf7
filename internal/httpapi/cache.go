package httpapi

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/bloghive/relevance/pkg/logger"
	"github.com/bloghive/relevance/pkg/metrics"
	"github.com/bloghive/relevance/pkg/redis"
)

const cacheKeyPrefix = "search:"

// QueryCache memoises serialized query responses in Redis. Concurrent
// misses for the same key are collapsed with singleflight so a popular
// query hits the engine once per TTL window.
type QueryCache struct {
	client  *redis.Client
	ttl     time.Duration
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewQueryCache wraps the shared Redis client. Metrics may be nil in tests.
func NewQueryCache(client *redis.Client, ttl time.Duration, m *metrics.Metrics) *QueryCache {
	return &QueryCache{
		client:  client,
		ttl:     ttl,
		metrics: m,
		logger:  logger.WithComponent("query-cache"),
	}
}

// Key derives a cache key from the query's identifying parts. The raw parts
// are hashed so arbitrary user input never appears in key space.
func (qc *QueryCache) Key(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return cacheKeyPrefix + hex.EncodeToString(h.Sum(nil))[:32]
}

// GetOrCompute returns the cached response body for key, or runs compute,
// stores its result, and returns it. Cache backend failures degrade to
// computing directly.
func (qc *QueryCache) GetOrCompute(ctx context.Context, key string, compute func() ([]byte, error)) ([]byte, error) {
	if cached, err := qc.client.Get(ctx, key); err == nil {
		if qc.metrics != nil {
			qc.metrics.CacheHitsTotal.Inc()
		}
		return []byte(cached), nil
	} else if !redis.IsNilError(err) {
		qc.logger.Warn("cache read failed, computing directly", "error", err)
		return compute()
	}
	if qc.metrics != nil {
		qc.metrics.CacheMissesTotal.Inc()
	}

	result, err, _ := qc.group.Do(key, func() (any, error) {
		body, err := compute()
		if err != nil {
			return nil, err
		}
		if err := qc.client.Set(ctx, key, string(body), qc.ttl); err != nil {
			qc.logger.Warn("cache write failed", "error", err)
		}
		return body, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil
}

// Invalidate drops every cached query response. Called after any index
// mutation; search results are cheap to recompute and must not go stale.
func (qc *QueryCache) Invalidate(ctx context.Context) {
	deleted, err := qc.client.FlushByPattern(ctx, cacheKeyPrefix+"*")
	if err != nil {
		qc.logger.Warn("cache invalidation failed", "error", err)
		return
	}
	if deleted > 0 {
		qc.logger.Debug("query cache invalidated", "keys", deleted)
	}
}

// InvalidateAsync runs Invalidate on a fresh context with a short deadline,
// suitable for calling from the coordinator's mutation hook.
func (qc *QueryCache) InvalidateAsync() {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		qc.Invalidate(ctx)
	}()
}
