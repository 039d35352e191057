package apikey

import (
	"context"
	"sync"
	"time"
)

// CachedStore is a read-through cache wrapper around a Store. Lookups
// are served from memory for at most the configured TTL, which bounds
// how long a revoke or rotate can go unobserved. Only positive lookups
// are cached: a missing credential is always re-checked against the
// backing store. Usage increments always go straight through.
type CachedStore struct {
	inner   Store
	ttl     time.Duration
	metrics *Metrics
	now     func() time.Time

	mu      sync.RWMutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	record    *KeyRecord
	expiresAt time.Time
}

// NewCachedStore wraps a store with a TTL lookup cache. A zero or
// negative TTL disables caching and returns the inner store unchanged.
func NewCachedStore(inner Store, ttl time.Duration, metrics *Metrics) Store {
	if ttl <= 0 {
		return inner
	}
	if metrics == nil {
		metrics = NewMetrics("")
	}
	return &CachedStore{
		inner:   inner,
		ttl:     ttl,
		metrics: metrics,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

// FindByCredential returns the record for the raw credential, serving
// from cache when a fresh entry exists.
func (s *CachedStore) FindByCredential(ctx context.Context, raw string) (*KeyRecord, error) {
	digest := DigestCredential(raw)

	s.mu.RLock()
	entry, ok := s.entries[digest]
	s.mu.RUnlock()

	if ok && s.now().Before(entry.expiresAt) {
		s.metrics.RecordCacheHit()
		return entry.record, nil
	}

	s.metrics.RecordCacheMiss()

	record, err := s.inner.FindByCredential(ctx, raw)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.entries[digest] = cacheEntry{
		record:    record,
		expiresAt: s.now().Add(s.ttl),
	}
	s.mu.Unlock()

	return record, nil
}

// IncrementUsage delegates to the backing store. Accounting is never
// served from cache.
func (s *CachedStore) IncrementUsage(ctx context.Context, raw string) error {
	return s.inner.IncrementUsage(ctx, raw)
}

// Invalidate drops the cached entry for a raw credential.
func (s *CachedStore) Invalidate(raw string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, DigestCredential(raw))
}

// Purge drops all cached entries.
func (s *CachedStore) Purge() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]cacheEntry)
}

// Ensure CachedStore implements Store.
var _ Store = (*CachedStore)(nil)
