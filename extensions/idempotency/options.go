package idempotency

import (
	"log/slog"
	"time"
)

// DefaultTTL is how long a successful settlement stays cached.
const DefaultTTL = 10 * time.Minute

type config struct {
	ttl    time.Duration
	store  SettlementStore
	key    KeyGenerator
	logger *slog.Logger
}

// Option configures a Facilitator.
type Option func(*config)

// WithTTL sets the cache lifetime of the default MemoryStore. It is ignored
// when WithStore is given.
func WithTTL(ttl time.Duration) Option {
	return func(c *config) {
		c.ttl = ttl
	}
}

// WithStore replaces the default MemoryStore.
func WithStore(store SettlementStore) Option {
	return func(c *config) {
		c.store = store
	}
}

// WithKeyGenerator replaces PayloadKey.
func WithKeyGenerator(key KeyGenerator) Option {
	return func(c *config) {
		c.key = key
	}
}

// WithLogger sets the logger used for deduplication events.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}
