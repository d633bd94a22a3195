package idempotency

import (
	"context"
	"fmt"

	x402 "github.com/tlguszz1010/Pixel-Pay"
)

// SettlementStatus is the state of a key in a SettlementStore.
type SettlementStatus int

const (
	// StatusNotFound means the caller now owns the key and must settle.
	StatusNotFound SettlementStatus = iota
	// StatusCached means a successful response is cached for the key.
	StatusCached
	// StatusInFlight means another caller is settling the key.
	StatusInFlight
)

// SettlementStore tracks in-flight and completed settlements.
// Implementations must be safe for concurrent use.
type SettlementStore interface {
	// CheckAndMark returns the cached response, the in-flight channel to wait
	// on, or marks the key in flight and returns the channel the owner must
	// hand to Complete or Fail.
	CheckAndMark(key string) (SettlementStatus, *x402.SettleResponse, chan struct{})

	// WaitForResult blocks until done closes or ctx ends. A nil response
	// means the owner failed and the caller should try again.
	WaitForResult(ctx context.Context, key string, done chan struct{}) (*x402.SettleResponse, error)

	// Complete caches response and wakes waiters.
	Complete(key string, response *x402.SettleResponse, done chan struct{})

	// Fail clears the in-flight mark without caching and wakes waiters.
	Fail(key string, done chan struct{})
}

// KeyGenerator derives the deduplication key of a settlement.
type KeyGenerator func(payload x402.PaymentPayload, requirements x402.PaymentRequirements) (string, error)

// PayloadKey keys a settlement by the signed authorization only, the same
// identity the proof ledger uses. Envelope fields such as the resource URL
// do not change it.
func PayloadKey(payload x402.PaymentPayload, requirements x402.PaymentRequirements) (string, error) {
	key, err := x402.ProofKey(payload)
	if err != nil {
		return "", fmt.Errorf("failed to derive settlement key: %w", err)
	}
	return key, nil
}
