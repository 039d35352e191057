package apikey

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"sync/atomic"
	"time"
)

// Store persists key records. Records are looked up by the content of
// the full raw credential (via its digest), never by the untrusted
// project id embedded in the key string.
type Store interface {
	// FindByCredential returns the record for the raw credential, or
	// ErrKeyNotFound if no record exists.
	FindByCredential(ctx context.Context, raw string) (*KeyRecord, error)

	// IncrementUsage atomically increments the record's usage counter
	// and stamps the last-used time. Concurrent increments against the
	// same credential must never lose updates.
	IncrementUsage(ctx context.Context, raw string) error
}

// DigestCredential returns the SHA-256 hex digest of a raw credential.
// Stores index records by digest so raw key material is never used as
// a storage key.
func DigestCredential(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// MemoryStore is an in-memory implementation of the Store interface.
type MemoryStore struct {
	records map[string]*KeyRecord
	mu      sync.RWMutex
	now     func() time.Time
}

// NewMemoryStore creates a new in-memory key store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*KeyRecord),
		now:     time.Now,
	}
}

// FindByCredential returns the record for the raw credential.
func (s *MemoryStore) FindByCredential(ctx context.Context, raw string) (*KeyRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[DigestCredential(raw)]
	if !ok {
		return nil, ErrKeyNotFound
	}

	return record, nil
}

// IncrementUsage atomically increments the record's usage counter.
func (s *MemoryStore) IncrementUsage(ctx context.Context, raw string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	record, ok := s.records[DigestCredential(raw)]
	s.mu.RUnlock()

	if !ok {
		return ErrKeyNotFound
	}

	atomic.AddInt64(&record.UsageCount, 1)

	s.mu.Lock()
	record.LastUsedAt = s.now()
	s.mu.Unlock()

	return nil
}

// Put adds or replaces the record for a raw credential.
func (s *MemoryStore) Put(raw string, record *KeyRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[DigestCredential(raw)] = record
}

// Replace swaps the full record set. Used on configuration reload;
// usage counters of surviving credentials are carried over so reloads
// never reset accounting.
func (s *MemoryStore) Replace(records map[string]*KeyRecord) {
	next := make(map[string]*KeyRecord, len(records))
	for raw, record := range records {
		next[DigestCredential(raw)] = record
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for digest, record := range next {
		if prev, ok := s.records[digest]; ok {
			record.UsageCount = atomic.LoadInt64(&prev.UsageCount)
			record.LastUsedAt = prev.LastUsedAt
		}
	}
	s.records = next
}

// Count returns the number of records in the store.
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Ensure MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
