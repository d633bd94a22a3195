package x402

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// ProofLedger makes payment proofs single-use. A proof is claimed while a
// request holds it, committed once it unlocked a resource and released when
// the request ended without using it.
//
// Committed keys are kept for ttl, which should outlive the longest
// authorization window accepted by the guard; after that the authorization
// itself is expired and the authority rejects it.
type ProofLedger struct {
	mu       sync.Mutex
	used     map[string]time.Time
	inFlight map[string]struct{}
	ttl      time.Duration
	now      func() time.Time
}

// NewProofLedger creates a ledger that remembers committed proofs for ttl.
func NewProofLedger(ttl time.Duration) *ProofLedger {
	return &ProofLedger{
		used:     make(map[string]time.Time),
		inFlight: make(map[string]struct{}),
		ttl:      ttl,
		now:      time.Now,
	}
}

// ProofKey derives the identity of a payment proof from its signed part
// only. The envelope fields around it (resource, accepted) are chosen by the
// client and are not covered by the signature, so they must not change the
// key.
func ProofKey(payload PaymentPayload) (string, error) {
	if len(payload.Payload) == 0 {
		return "", fmt.Errorf("%w: payload is empty", ErrMalformedRequirement)
	}
	data, err := json.Marshal(payload.Payload)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedRequirement, err)
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}

// Claim marks key as in use. It fails with ErrProofReplayed when the key was
// committed before or another request holds it.
func (l *ProofLedger) Claim(key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if expiry, ok := l.used[key]; ok {
		if l.now().Before(expiry) {
			return ErrProofReplayed
		}
		delete(l.used, key)
	}
	if _, ok := l.inFlight[key]; ok {
		return ErrProofReplayed
	}

	l.inFlight[key] = struct{}{}
	return nil
}

// Commit records key as used.
func (l *ProofLedger) Commit(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.inFlight, key)
	l.used[key] = l.now().Add(l.ttl)

	l.cleanupExpiredLocked()
}

// Release drops an in-flight claim without recording the key, so the same
// proof may be presented again.
func (l *ProofLedger) Release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.inFlight, key)
}

// Used reports whether key was committed and has not expired.
func (l *ProofLedger) Used(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	expiry, ok := l.used[key]
	return ok && l.now().Before(expiry)
}

// cleanupExpiredLocked removes expired entries. Must be called with lock held.
func (l *ProofLedger) cleanupExpiredLocked() {
	now := l.now()
	for key, expiry := range l.used {
		if now.After(expiry) {
			delete(l.used, key)
		}
	}
}
