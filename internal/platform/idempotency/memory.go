package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps records in process; used by tests and single-instance local runs.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

// NewMemoryStore constructs an empty memory-backed idempotency store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

// Reserve implements Store.
func (s *MemoryStore) Reserve(_ context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := recordID(key)
	var current *Record
	if record, ok := s.records[id]; ok {
		current = &record
	}
	record, reservation, err := reserveRecord(current, key, fingerprint, now.UTC(), normalizeTTL(ttl))
	if err != nil {
		return Reservation{}, err
	}
	s.records[id] = record
	return reservation, nil
}

// SaveResponse implements Store.
func (s *MemoryStore) SaveResponse(_ context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := recordID(key)
	var current *Record
	if record, ok := s.records[id]; ok {
		current = &record
	}
	record, err := completeRecord(current, key, fingerprint, resp, now.UTC(), normalizeTTL(ttl))
	if err != nil {
		return err
	}
	s.records[id] = record
	return nil
}

// Release implements Store.
func (s *MemoryStore) Release(_ context.Context, key, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, recordID(key))
	return nil
}

// CleanupExpired implements Store.
func (s *MemoryStore) CleanupExpired(_ context.Context, now time.Time, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, record := range s.records {
		if limit > 0 && removed >= limit {
			break
		}
		if record.expired(now.UTC()) {
			delete(s.records, id)
			removed++
		}
	}
	return removed, nil
}
