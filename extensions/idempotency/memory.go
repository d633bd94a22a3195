package idempotency

import (
	"context"
	"sync"
	"time"

	x402 "github.com/tlguszz1010/Pixel-Pay"
)

type cachedSettlement struct {
	response  *x402.SettleResponse
	expiresAt time.Time
}

// MemoryStore is a process-local SettlementStore. Expired entries are swept
// whenever a settlement completes.
type MemoryStore struct {
	mu       sync.Mutex
	ttl      time.Duration
	now      func() time.Time
	results  map[string]cachedSettlement
	inFlight map[string]chan struct{}
}

// NewMemoryStore caches successful settlements for ttl.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		ttl:      ttl,
		now:      time.Now,
		results:  make(map[string]cachedSettlement),
		inFlight: make(map[string]chan struct{}),
	}
}

// CheckAndMark implements SettlementStore.
func (s *MemoryStore) CheckAndMark(key string) (SettlementStatus, *x402.SettleResponse, chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if response := s.lookupLocked(key); response != nil {
		return StatusCached, response, nil
	}
	if done, ok := s.inFlight[key]; ok {
		return StatusInFlight, nil, done
	}

	done := make(chan struct{})
	s.inFlight[key] = done
	return StatusNotFound, nil, done
}

// WaitForResult implements SettlementStore.
func (s *MemoryStore) WaitForResult(ctx context.Context, key string, done chan struct{}) (*x402.SettleResponse, error) {
	select {
	case <-done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookupLocked(key), nil
}

// Complete implements SettlementStore.
func (s *MemoryStore) Complete(key string, response *x402.SettleResponse, done chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for k, entry := range s.results {
		if !now.Before(entry.expiresAt) {
			delete(s.results, k)
		}
	}
	s.results[key] = cachedSettlement{response: response, expiresAt: now.Add(s.ttl)}
	delete(s.inFlight, key)
	close(done)
}

// Fail implements SettlementStore.
func (s *MemoryStore) Fail(key string, done chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.inFlight, key)
	close(done)
}

// Len reports the number of cached settlements, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.results)
}

func (s *MemoryStore) lookupLocked(key string) *x402.SettleResponse {
	entry, ok := s.results[key]
	if !ok {
		return nil
	}
	if !s.now().Before(entry.expiresAt) {
		delete(s.results, key)
		return nil
	}
	return entry.response
}

var _ SettlementStore = (*MemoryStore)(nil)
