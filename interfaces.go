package x402

import (
	"context"
)

// SchemeNetworkClient is implemented by client-side payment mechanisms.
// CreatePaymentPayload returns the scheme-specific payload map; the
// X402Client wraps it with the accepted requirements.
type SchemeNetworkClient interface {
	Scheme() string
	CreatePaymentPayload(ctx context.Context, requirements PaymentRequirements) (map[string]interface{}, error)
}

// FacilitatorClient is the payment authority: it verifies a proof against a
// requirement and settles it on the ledger.
//
// Implementations must reject a second settlement of the same proof.
type FacilitatorClient interface {
	Verify(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (*VerifyResponse, error)
	Settle(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (*SettleResponse, error)
}

// MoneyParser converts a decimal amount to an AssetAmount for a network.
// It returns nil when it cannot handle the network.
type MoneyParser func(amount float64, network Network) (*AssetAmount, error)

// SchemeNetworkServer is implemented by server-side payment mechanisms. It
// turns a configured price into the requirement a payer must satisfy.
type SchemeNetworkServer interface {
	Scheme() string
	ParsePrice(price interface{}, network Network) (AssetAmount, error)
	EnhancePaymentRequirements(requirements PaymentRequirements) (PaymentRequirements, error)
}
