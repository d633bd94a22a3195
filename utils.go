package x402

import (
	"fmt"
	"math/big"
)

// ValidatePaymentPayload checks the envelope of a signed payment. The
// scheme-specific payload is checked by the scheme's facilitator.
func ValidatePaymentPayload(p PaymentPayload) error {
	if p.X402Version != ProtocolVersion {
		return fmt.Errorf("%w: unsupported x402 version %d", ErrMalformedRequirement, p.X402Version)
	}
	if p.Payload == nil {
		return fmt.Errorf("%w: payload is empty", ErrMalformedRequirement)
	}
	return requireFields(map[string]string{
		"accepted.scheme":  p.Accepted.Scheme,
		"accepted.network": string(p.Accepted.Network),
	})
}

// ValidatePaymentRequirements checks that r can be paid: every field set
// and a positive amount.
func ValidatePaymentRequirements(r PaymentRequirements) error {
	if err := requireFields(map[string]string{
		"scheme":  r.Scheme,
		"network": string(r.Network),
		"asset":   r.Asset,
		"payTo":   r.PayTo,
	}); err != nil {
		return err
	}
	amount, err := ParseAmount(r.Amount)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedRequirement, err)
	}
	if amount.Sign() == 0 {
		return fmt.Errorf("%w: amount must be positive", ErrMalformedRequirement)
	}
	return nil
}

func requireFields(fields map[string]string) error {
	for _, name := range []string{"scheme", "network", "asset", "payTo", "accepted.scheme", "accepted.network"} {
		if value, ok := fields[name]; ok && value == "" {
			return fmt.Errorf("%w: %s is required", ErrMalformedRequirement, name)
		}
	}
	return nil
}

// ParseAmount parses a non-negative integer amount in the asset's smallest unit.
func ParseAmount(amount string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(amount, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount: %q", amount)
	}
	return v, nil
}

// findByNetworkAndScheme returns the implementation registered for scheme on
// network, trying an exact network first and then wildcard patterns such
// as "eip155:*" in either direction.
func findByNetworkAndScheme[T any](registry map[Network]map[string]T, scheme string, network Network) T {
	if impl, ok := registry[network][scheme]; ok {
		return impl
	}
	for registered, byScheme := range registry {
		if !network.Match(registered) && !registered.Match(network) {
			continue
		}
		if impl, ok := byScheme[scheme]; ok {
			return impl
		}
	}
	var zero T
	return zero
}
