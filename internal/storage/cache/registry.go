package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tinywideclouds/go-fanout-service/pkg/dispatch"
)

// CacheClient defines the subset of Redis commands we need.
type CacheClient interface {
	// Get returns the value or an error if not found.
	Get(ctx context.Context, key string, dest interface{}) error
	// Set stores the value with a TTL.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	// Del removes the keys.
	Del(ctx context.Context, keys ...string) error
}

// CachedRegistry is a Decorator that adds read-aside caching of single-user
// lookups to any dispatch.Registry.
type CachedRegistry struct {
	realStore dispatch.Registry
	cache     CacheClient
	ttl       time.Duration
	logger    *slog.Logger
}

func NewCachedRegistry(realStore dispatch.Registry, cache CacheClient, ttl time.Duration, logger *slog.Logger) *CachedRegistry {
	return &CachedRegistry{
		realStore: realStore,
		cache:     cache,
		ttl:       ttl,
		logger:    logger.With("component", "registry_cache"),
	}
}

// --- READ PATH (Read-Aside) ---

func (s *CachedRegistry) GetByIdentifier(ctx context.Context, identifier string) (*dispatch.UserRecord, error) {
	key := CacheKey(identifier)

	var cached dispatch.UserRecord
	if err := s.cache.Get(ctx, key, &cached); err == nil {
		return &cached, nil
	}

	fresh, err := s.realStore.GetByIdentifier(ctx, identifier)
	if err != nil {
		// Not-found is never cached so a newly created user is visible at once.
		return nil, err
	}

	// Token registration happens outside this service, so a record without a
	// token is always re-read: the next lookup must see a new registration.
	if !fresh.HasToken() {
		return fresh, nil
	}

	// Caching is best effort; a Redis outage falls back to the store.
	if err := s.cache.Set(ctx, key, fresh, s.ttl); err != nil {
		s.logger.Warn("Failed to populate cache", "err", err)
	}
	return fresh, nil
}

// GetAll is never cached: broadcasts must see the full current registry.
func (s *CachedRegistry) GetAll(ctx context.Context) ([]dispatch.UserRecord, error) {
	return s.realStore.GetAll(ctx)
}

// GetByTokenSet is never cached: reconciliation must read the source of truth.
func (s *CachedRegistry) GetByTokenSet(ctx context.Context, tokens []string) ([]dispatch.UserRecord, error) {
	return s.realStore.GetByTokenSet(ctx, tokens)
}

// --- WRITE PATH (Invalidate-on-Write) ---

func (s *CachedRegistry) BatchClearTokens(ctx context.Context, records []dispatch.UserRecord) (int, error) {
	cleared, err := s.realStore.BatchClearTokens(ctx, records)
	if err != nil {
		return cleared, err
	}

	keys := make([]string, 0, len(records))
	for _, r := range records {
		if r.Identifier != "" {
			keys = append(keys, CacheKey(r.Identifier))
		}
	}
	if len(keys) == 0 {
		return cleared, nil
	}
	if err := s.cache.Del(ctx, keys...); err != nil {
		// The store write already committed; stale entries expire with their TTL.
		s.logger.Warn("Cache invalidation failed", "keys", len(keys), "err", err)
	}
	return cleared, nil
}

// CacheKey is the Redis key holding the cached record for an identifier.
func CacheKey(identifier string) string {
	return fmt.Sprintf("fanout:user:%s", identifier)
}
