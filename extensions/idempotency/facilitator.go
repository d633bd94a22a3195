package idempotency

import (
	"context"
	"fmt"
	"log/slog"

	x402 "github.com/tlguszz1010/Pixel-Pay"
)

// Facilitator wraps an x402.FacilitatorClient so each signed authorization
// is settled at most once while its result is cached. Verify passes
// through unchanged.
type Facilitator struct {
	inner  x402.FacilitatorClient
	store  SettlementStore
	key    KeyGenerator
	logger *slog.Logger
}

// Wrap deduplicates settlements on inner. By default it uses a MemoryStore
// with DefaultTTL and PayloadKey.
func Wrap(inner x402.FacilitatorClient, opts ...Option) *Facilitator {
	cfg := &config{
		ttl:    DefaultTTL,
		key:    PayloadKey,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	store := cfg.store
	if store == nil {
		store = NewMemoryStore(cfg.ttl)
	}

	return &Facilitator{
		inner:  inner,
		store:  store,
		key:    cfg.key,
		logger: cfg.logger,
	}
}

// Verify delegates to the wrapped client.
func (f *Facilitator) Verify(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (*x402.VerifyResponse, error) {
	return f.inner.Verify(ctx, payload, requirements)
}

// Settle returns the cached response for payload, waits for an in-flight
// settlement of it, or settles through the wrapped client. Only successful
// responses are cached.
func (f *Facilitator) Settle(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (*x402.SettleResponse, error) {
	key, err := f.key(payload, requirements)
	if err != nil {
		return nil, fmt.Errorf("failed to derive settlement key: %w", err)
	}

	for {
		status, cached, done := f.store.CheckAndMark(key)
		switch status {
		case StatusCached:
			f.logger.Debug("settlement served from cache", "transaction", cached.Transaction)
			return cached, nil
		case StatusInFlight:
			response, err := f.store.WaitForResult(ctx, key, done)
			if err != nil {
				return nil, err
			}
			if response != nil {
				return response, nil
			}
			// the owner failed; contend for the key again
			continue
		}

		response, err := f.inner.Settle(ctx, payload, requirements)
		if err != nil || response == nil || !response.Success {
			f.store.Fail(key, done)
			return response, err
		}
		f.store.Complete(key, response, done)
		return response, nil
	}
}

var _ x402.FacilitatorClient = (*Facilitator)(nil)
