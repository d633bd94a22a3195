package x402

import (
	"context"
	"fmt"
	"sync"
)

// X402Client manages payment mechanisms and creates payment payloads.
// This is used by agents that pay for resources (have wallets/signers).
type X402Client struct {
	mu sync.RWMutex

	// network pattern -> scheme -> client implementation
	schemes map[Network]map[string]SchemeNetworkClient
}

// ClientOption configures the client
type ClientOption func(*X402Client)

// WithScheme registers a payment mechanism at creation time
func WithScheme(network Network, client SchemeNetworkClient) ClientOption {
	return func(c *X402Client) {
		c.Register(network, client)
	}
}

// NewX402Client creates a new x402 client
func NewX402Client(opts ...ClientOption) *X402Client {
	c := &X402Client{
		schemes: make(map[Network]map[string]SchemeNetworkClient),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Register registers a payment mechanism for a network or network pattern
// ("eip155:*").
func (c *X402Client) Register(network Network, client SchemeNetworkClient) *X402Client {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.schemes[network] == nil {
		c.schemes[network] = make(map[string]SchemeNetworkClient)
	}
	c.schemes[network][client.Scheme()] = client

	return c
}

// HasSchemes reports whether any signing capability is registered.
func (c *X402Client) HasSchemes() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.schemes) > 0
}

// SelectPaymentRequirements returns the first accepted option the client can
// fulfill. Order of the server's accepts list is preserved.
func (c *X402Client) SelectPaymentRequirements(requirements []PaymentRequirements) (PaymentRequirements, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, req := range requirements {
		if findByNetworkAndScheme(c.schemes, req.Scheme, req.Network) != nil {
			return req, nil
		}
	}

	return PaymentRequirements{}, fmt.Errorf("%w: %d options offered", ErrNoMatchingScheme, len(requirements))
}

// CreatePaymentPayload signs a payment for the selected requirements.
func (c *X402Client) CreatePaymentPayload(ctx context.Context, requirements PaymentRequirements, resource *ResourceInfo) (PaymentPayload, error) {
	if err := ValidatePaymentRequirements(requirements); err != nil {
		return PaymentPayload{}, fmt.Errorf("invalid payment requirements: %w", err)
	}

	c.mu.RLock()
	client := findByNetworkAndScheme(c.schemes, requirements.Scheme, requirements.Network)
	c.mu.RUnlock()
	if client == nil {
		return PaymentPayload{}, fmt.Errorf("%w: scheme %s on network %s", ErrNoMatchingScheme, requirements.Scheme, requirements.Network)
	}

	inner, err := client.CreatePaymentPayload(ctx, requirements)
	if err != nil {
		return PaymentPayload{}, fmt.Errorf("failed to create payment payload: %w", err)
	}

	payload := PaymentPayload{
		X402Version: ProtocolVersion,
		Payload:     inner,
		Accepted:    requirements,
		Resource:    resource,
	}

	if err := ValidatePaymentPayload(payload); err != nil {
		return PaymentPayload{}, fmt.Errorf("invalid payment payload created: %w", err)
	}

	return payload, nil
}

// CreatePaymentForRequired selects an option from a 402 response and signs it.
func (c *X402Client) CreatePaymentForRequired(ctx context.Context, required PaymentRequired) (PaymentPayload, error) {
	selected, err := c.SelectPaymentRequirements(required.Accepts)
	if err != nil {
		return PaymentPayload{}, err
	}
	return c.CreatePaymentPayload(ctx, selected, required.Resource)
}
