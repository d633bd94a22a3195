package x402

import (
	"errors"
	"testing"
)

func TestValidatePaymentRequirements(t *testing.T) {
	valid := PaymentRequirements{
		Scheme:  "exact",
		Network: "eip155:143",
		Asset:   "0xasset",
		Amount:  "10000",
		PayTo:   "0xpayee",
	}
	if err := ValidatePaymentRequirements(valid); err != nil {
		t.Fatalf("Expected valid requirements, got %v", err)
	}

	tests := []struct {
		name   string
		mutate func(r *PaymentRequirements)
	}{
		{"missing scheme", func(r *PaymentRequirements) { r.Scheme = "" }},
		{"missing network", func(r *PaymentRequirements) { r.Network = "" }},
		{"missing asset", func(r *PaymentRequirements) { r.Asset = "" }},
		{"missing payee", func(r *PaymentRequirements) { r.PayTo = "" }},
		{"decimal amount", func(r *PaymentRequirements) { r.Amount = "0.01" }},
		{"zero amount", func(r *PaymentRequirements) { r.Amount = "0" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := valid
			tt.mutate(&r)
			err := ValidatePaymentRequirements(r)
			if !errors.Is(err, ErrMalformedRequirement) {
				t.Errorf("Expected ErrMalformedRequirement, got %v", err)
			}
		})
	}
}

func TestValidatePaymentPayload(t *testing.T) {
	p := PaymentPayload{
		X402Version: ProtocolVersion,
		Payload:     map[string]interface{}{"signature": "0x"},
		Accepted:    PaymentRequirements{Scheme: "exact", Network: "eip155:143"},
	}
	if err := ValidatePaymentPayload(p); err != nil {
		t.Fatalf("Expected valid payload, got %v", err)
	}

	p.X402Version = 1
	if err := ValidatePaymentPayload(p); !errors.Is(err, ErrMalformedRequirement) {
		t.Errorf("Expected version rejection, got %v", err)
	}

	p.X402Version = ProtocolVersion
	p.Accepted.Network = ""
	if err := ValidatePaymentPayload(p); !errors.Is(err, ErrMalformedRequirement) {
		t.Errorf("Expected network rejection, got %v", err)
	}
}

func TestFindByNetworkAndScheme(t *testing.T) {
	registry := map[Network]map[string]string{
		"eip155:*":   {"exact": "wildcard"},
		"eip155:143": {"exact": "monad"},
	}
	if got := findByNetworkAndScheme(registry, "exact", "eip155:143"); got != "monad" {
		t.Errorf("Expected exact network match, got %q", got)
	}
	if got := findByNetworkAndScheme(registry, "exact", "eip155:10143"); got != "wildcard" {
		t.Errorf("Expected wildcard match, got %q", got)
	}
	if got := findByNetworkAndScheme(registry, "upto", "eip155:143"); got != "" {
		t.Errorf("Expected no match, got %q", got)
	}
}
