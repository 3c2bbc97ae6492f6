package tenantcfg

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto"
)

const (
	cacheNumCounters = 1e4
	cacheMaxCost     = 1 << 20
	cacheBufferItems = 64
)

// CachedSource wraps a Source with a TTL cache so repeated calls for the
// same tenant do not re-read and re-validate configuration. A snapshot
// cached at call start is what keeps mid-call config edits from leaking
// into in-flight calls; the TTL only bounds how stale a brand-new call's
// snapshot can be.
type CachedSource struct {
	inner Source
	cache *ristretto.Cache
	ttl   time.Duration
}

func NewCachedSource(inner Source, ttl time.Duration) (*CachedSource, error) {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cacheNumCounters,
		MaxCost:     cacheMaxCost,
		BufferItems: cacheBufferItems,
	})
	if err != nil {
		return nil, err
	}
	return &CachedSource{inner: inner, cache: cache, ttl: ttl}, nil
}

func (s *CachedSource) Snapshot(ctx context.Context, tenantID string) (*Config, error) {
	if v, ok := s.cache.Get(tenantID); ok {
		if cfg, ok := v.(*Config); ok {
			return cfg, nil
		}
	}
	cfg, err := s.inner.Snapshot(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	s.cache.SetWithTTL(tenantID, cfg, 1, s.ttl)
	return cfg, nil
}

// Invalidate drops a tenant's cached snapshot. New calls pick up fresh
// configuration on their next snapshot; in-flight calls keep theirs.
func (s *CachedSource) Invalidate(tenantID string) {
	s.cache.Del(tenantID)
}

// Close releases the underlying cache.
func (s *CachedSource) Close() {
	s.cache.Close()
}
