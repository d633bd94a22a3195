package x402

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
)

// X402ResourceService prices protected resources and checks payment proofs
// against them. It is used by servers that charge for access; transports
// (the http package) build on it.
type X402ResourceService struct {
	mu sync.RWMutex

	// network pattern -> scheme -> server implementation
	schemes   map[Network]map[string]SchemeNetworkServer
	authority FacilitatorClient
}

// ResourceServiceOption configures the service
type ResourceServiceOption func(*X402ResourceService)

// WithFacilitatorClient sets the payment authority that verifies and settles proofs.
func WithFacilitatorClient(client FacilitatorClient) ResourceServiceOption {
	return func(s *X402ResourceService) {
		s.authority = client
	}
}

// WithSchemeServer registers a scheme server implementation
func WithSchemeServer(network Network, server SchemeNetworkServer) ResourceServiceOption {
	return func(s *X402ResourceService) {
		s.RegisterScheme(network, server)
	}
}

// NewX402ResourceService creates a new resource service
func NewX402ResourceService(opts ...ResourceServiceOption) *X402ResourceService {
	s := &X402ResourceService{
		schemes: make(map[Network]map[string]SchemeNetworkServer),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// RegisterScheme registers a scheme server for a network or network pattern.
func (s *X402ResourceService) RegisterScheme(network Network, server SchemeNetworkServer) *X402ResourceService {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.schemes[network] == nil {
		s.schemes[network] = make(map[string]SchemeNetworkServer)
	}
	s.schemes[network][server.Scheme()] = server

	return s
}

// BuildPaymentRequirements creates the requirement for one configured price.
func (s *X402ResourceService) BuildPaymentRequirements(config ResourceConfig) (PaymentRequirements, error) {
	s.mu.RLock()
	server := findByNetworkAndScheme(s.schemes, config.Scheme, config.Network)
	s.mu.RUnlock()

	if server == nil {
		return PaymentRequirements{}, &PaymentError{
			Code:    ErrCodeUnsupportedScheme,
			Message: fmt.Sprintf("no service registered for scheme %s on network %s", config.Scheme, config.Network),
		}
	}

	if config.PayTo == "" {
		return PaymentRequirements{}, fmt.Errorf("payTo is required for %s on %s", config.Scheme, config.Network)
	}

	assetAmount, err := server.ParsePrice(config.Price, config.Network)
	if err != nil {
		return PaymentRequirements{}, fmt.Errorf("failed to parse price: %w", err)
	}

	requirements := PaymentRequirements{
		Scheme:            config.Scheme,
		Network:           config.Network,
		Asset:             assetAmount.Asset,
		Amount:            assetAmount.Amount,
		PayTo:             config.PayTo,
		MaxTimeoutSeconds: config.MaxTimeoutSeconds,
		Extra:             assetAmount.Extra,
	}

	if requirements.MaxTimeoutSeconds == 0 {
		requirements.MaxTimeoutSeconds = 300
	}

	enhanced, err := server.EnhancePaymentRequirements(requirements)
	if err != nil {
		return PaymentRequirements{}, fmt.Errorf("failed to enhance payment requirements: %w", err)
	}

	if err := ValidatePaymentRequirements(enhanced); err != nil {
		return PaymentRequirements{}, err
	}

	return enhanced, nil
}

// CreatePaymentRequired builds the 402 descriptor for a resource.
func (s *X402ResourceService) CreatePaymentRequired(requirements []PaymentRequirements, info ResourceInfo, errorMsg string) PaymentRequired {
	if errorMsg == "" {
		errorMsg = "Payment required"
	}

	accepts := make([]PaymentRequirements, len(requirements))
	copy(accepts, requirements)

	return PaymentRequired{
		X402Version: ProtocolVersion,
		Error:       errorMsg,
		Resource:    &info,
		Accepts:     accepts,
	}
}

// FindMatchingRequirements returns the offered requirement the payload answers.
// Scheme, network, asset and payee must match exactly and the accepted amount
// must be at least the offered amount. It returns nil and a mismatch code when
// nothing matches.
func (s *X402ResourceService) FindMatchingRequirements(available []PaymentRequirements, payload PaymentPayload) (*PaymentRequirements, string) {
	code := ErrCodeSchemeMismatch
	for i := range available {
		req := available[i]
		mismatch := matchRequirement(req, payload)
		if mismatch == "" {
			return &req, ""
		}
		code = mismatch
	}
	return nil, code
}

func matchRequirement(req PaymentRequirements, payload PaymentPayload) string {
	accepted := payload.Accepted
	if accepted.Scheme != req.Scheme {
		return ErrCodeSchemeMismatch
	}
	if accepted.Network != req.Network {
		return ErrCodeNetworkMismatch
	}
	if !strings.EqualFold(accepted.Asset, req.Asset) {
		return ErrCodeAssetMismatch
	}
	if !strings.EqualFold(accepted.PayTo, req.PayTo) {
		return ErrCodeRecipientMismatch
	}

	required, err := ParseAmount(req.Amount)
	if err != nil {
		return ErrCodeInvalidPayment
	}
	offered, err := ParseAmount(accepted.Amount)
	if err != nil || offered.Cmp(required) < 0 {
		return ErrCodeInsufficientFunds
	}

	// The signed value, when the scheme exposes one, must cover the price too.
	if value, ok := authorizationValue(payload.Payload); ok && value.Cmp(required) < 0 {
		return ErrCodeInsufficientFunds
	}

	return ""
}

// PayerOf extracts the paying address from a scheme payload when present.
func PayerOf(payload PaymentPayload) string {
	if auth, ok := payload.Payload["authorization"].(map[string]interface{}); ok {
		if from, ok := auth["from"].(string); ok {
			return from
		}
	}
	if from, ok := payload.Payload["from"].(string); ok {
		return from
	}
	return ""
}

func authorizationValue(payload map[string]interface{}) (*big.Int, bool) {
	auth, ok := payload["authorization"].(map[string]interface{})
	if !ok {
		return nil, false
	}
	raw, ok := auth["value"].(string)
	if !ok {
		return nil, false
	}
	value, err := ParseAmount(raw)
	if err != nil {
		return big.NewInt(0), true
	}
	return value, true
}

// VerifyPayment asks the authority to verify payload against requirements.
func (s *X402ResourceService) VerifyPayment(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (*VerifyResponse, error) {
	if s.authority == nil {
		return nil, fmt.Errorf("%w: no payment authority configured", ErrUpstreamUnavailable)
	}
	return s.authority.Verify(ctx, payload, requirements)
}

// SettlePayment asks the authority to settle a verified payload.
func (s *X402ResourceService) SettlePayment(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (*SettleResponse, error) {
	if s.authority == nil {
		return nil, fmt.Errorf("%w: no payment authority configured", ErrUpstreamUnavailable)
	}
	return s.authority.Settle(ctx, payload, requirements)
}
