package x402

import (
	"errors"
	"fmt"
)

// PaymentError represents a payment-specific error
type PaymentError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *PaymentError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Common error codes
const (
	ErrCodeInvalidPayment     = "invalid_payment"
	ErrCodePaymentRequired    = "payment_required"
	ErrCodeInsufficientFunds  = "insufficient_funds"
	ErrCodeNetworkMismatch    = "network_mismatch"
	ErrCodeSchemeMismatch     = "scheme_mismatch"
	ErrCodeAssetMismatch      = "asset_mismatch"
	ErrCodeRecipientMismatch  = "recipient_mismatch"
	ErrCodeSignatureInvalid   = "signature_invalid"
	ErrCodePaymentExpired     = "payment_expired"
	ErrCodeProofReplayed      = "proof_replayed"
	ErrCodeSettlementFailed   = "settlement_failed"
	ErrCodeUnsupportedScheme  = "unsupported_scheme"
	ErrCodeUnsupportedNetwork = "unsupported_network"
)

// NewPaymentError creates a new payment error
func NewPaymentError(code, message string, details map[string]interface{}) *PaymentError {
	return &PaymentError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

var (
	// ErrMalformedRequirement is returned when a PAYMENT-REQUIRED value
	// cannot be decoded into a usable requirement.
	ErrMalformedRequirement = errors.New("malformed payment requirement")

	// ErrNoMatchingScheme is returned when none of the accepted options has
	// a registered signer.
	ErrNoMatchingScheme = errors.New("no matching payment scheme")

	// ErrPaymentVerificationFailed marks a rejected proof. Servers answer it
	// with a fresh 402 rather than an error response.
	ErrPaymentVerificationFailed = errors.New("payment verification failed")

	// ErrPaymentInfoUnavailable is returned when a 402 carries no decodable
	// requirement.
	ErrPaymentInfoUnavailable = errors.New("payment information unavailable")

	// ErrPaymentFailed is the terminal client error after the single paid
	// retry was answered with another 402.
	ErrPaymentFailed = errors.New("payment failed")

	ErrWalletNotConfigured = errors.New("wallet not configured")
	ErrResourceNotFound    = errors.New("resource not found")
	ErrAlreadySold         = errors.New("resource already sold")

	// ErrUpstreamUnavailable wraps transport failures talking to the
	// authority, the catalog or the chain.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrProofReplayed is returned when a proof was already used or is being
	// used by a concurrent request.
	ErrProofReplayed = errors.New("payment proof already used")
)

// SideEffectStep names a post-sale step.
type SideEffectStep string

const (
	StepMint   SideEffectStep = "mint"
	StepReward SideEffectStep = "reward"
)

// SideEffectFailure reports a failed post-sale step. It never fails the sale.
type SideEffectFailure struct {
	Step SideEffectStep
	Err  error
}

func (e *SideEffectFailure) Error() string {
	return fmt.Sprintf("%s side effect failed: %v", e.Step, e.Err)
}

func (e *SideEffectFailure) Unwrap() error {
	return e.Err
}
