package evm

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	x402 "github.com/tlguszz1010/Pixel-Pay"
)

// DefaultNonceTTL bounds how long settled (from, nonce) pairs are remembered.
const DefaultNonceTTL = 24 * time.Hour

// ExactEvmFacilitator verifies EIP-3009 authorizations locally and, when
// given a signer, settles them with transferWithAuthorization. It implements
// x402.FacilitatorClient, so it can replace a remote facilitator.
type ExactEvmFacilitator struct {
	signer FacilitatorEvmSigner
	nonces *x402.ProofLedger
	now    func() time.Time
}

// FacilitatorOption configures an ExactEvmFacilitator
type FacilitatorOption func(*ExactEvmFacilitator)

// WithClock overrides the time source used for validity windows.
func WithClock(now func() time.Time) FacilitatorOption {
	return func(f *ExactEvmFacilitator) {
		f.now = now
	}
}

// WithNonceLedger sets the ledger that tracks spent authorizations.
func WithNonceLedger(ledger *x402.ProofLedger) FacilitatorOption {
	return func(f *ExactEvmFacilitator) {
		f.nonces = ledger
	}
}

// NewExactEvmFacilitator creates a facilitator. A nil signer verifies
// signatures offline and cannot settle.
func NewExactEvmFacilitator(signer FacilitatorEvmSigner, opts ...FacilitatorOption) *ExactEvmFacilitator {
	f := &ExactEvmFacilitator{
		signer: signer,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.nonces == nil {
		f.nonces = x402.NewProofLedger(DefaultNonceTTL)
	}
	return f
}

// Scheme returns the scheme identifier
func (f *ExactEvmFacilitator) Scheme() string {
	return SchemeExact
}

func invalid(reason string) *x402.VerifyResponse {
	return &x402.VerifyResponse{IsValid: false, InvalidReason: reason}
}

func nonceKey(auth ExactEIP3009Authorization) string {
	return strings.ToLower(auth.From) + ":" + strings.ToLower(auth.Nonce)
}

// Verify checks the authorization against requirements. Chain reads
// (authorizationState, balance) run only when a signer is configured; an
// unreachable chain is returned as an error wrapping x402.ErrUpstreamUnavailable.
func (f *ExactEvmFacilitator) Verify(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (*x402.VerifyResponse, error) {
	if payload.X402Version != x402.ProtocolVersion {
		return invalid(fmt.Sprintf("unsupported x402 version %d", payload.X402Version)), nil
	}
	if payload.Accepted.Scheme != SchemeExact || requirements.Scheme != SchemeExact {
		return invalid(ErrSchemeMismatch), nil
	}
	if payload.Accepted.Network != requirements.Network {
		return invalid(ErrNetworkMismatch), nil
	}

	evmPayload, err := PayloadFromMap(payload.Payload)
	if err != nil {
		return invalid(ErrUnsupportedPayloadType), nil
	}
	auth := evmPayload.Authorization
	if evmPayload.Signature == "" {
		return invalid(ErrInvalidSignature), nil
	}

	networkStr := string(requirements.Network)
	config, err := GetNetworkConfig(networkStr)
	if err != nil {
		return invalid(ErrUnsupportedNetwork), nil
	}

	assetInfo, err := GetAssetInfo(networkStr, requirements.Asset)
	if err != nil {
		assetInfo = &AssetInfo{Address: requirements.Asset}
	}

	if !strings.EqualFold(auth.To, requirements.PayTo) {
		return invalid(ErrRecipientMismatch), nil
	}

	authValue, ok := new(big.Int).SetString(auth.Value, 10)
	if !ok {
		return invalid(ErrInsufficientValue), nil
	}
	requiredValue, err := x402.ParseAmount(requirements.Amount)
	if err != nil {
		return invalid(fmt.Sprintf("invalid required amount: %s", requirements.Amount)), nil
	}
	if authValue.Cmp(requiredValue) < 0 {
		return invalid(ErrInsufficientValue), nil
	}

	now := big.NewInt(f.now().Unix())
	validBefore, ok := new(big.Int).SetString(auth.ValidBefore, 10)
	if !ok || validBefore.Cmp(now) <= 0 {
		return invalid(ErrAuthorizationExpired), nil
	}
	validAfter, ok := new(big.Int).SetString(auth.ValidAfter, 10)
	if !ok || validAfter.Cmp(now) > 0 {
		return invalid(ErrAuthorizationNotActive), nil
	}

	tokenName := assetInfo.Name
	tokenVersion := assetInfo.Version
	if requirements.Extra != nil {
		if name, ok := requirements.Extra["name"].(string); ok {
			tokenName = name
		}
		if version, ok := requirements.Extra["version"].(string); ok {
			tokenVersion = version
		}
	}

	signature, err := HexToBytes(evmPayload.Signature)
	if err != nil {
		return invalid(ErrInvalidSignature), nil
	}
	hash, err := HashEIP3009Authorization(auth, config.ChainID, assetInfo.Address, tokenName, tokenVersion)
	if err != nil {
		return invalid(ErrUnsupportedPayloadType), nil
	}
	signer, err := RecoverAddress(hash, signature)
	if err != nil || !strings.EqualFold(signer, auth.From) {
		return invalid(ErrInvalidSignature), nil
	}

	if f.nonces.Used(nonceKey(auth)) {
		return invalid(ErrNonceUsed), nil
	}

	if f.signer != nil {
		used, err := f.checkNonceUsed(ctx, auth.From, auth.Nonce, assetInfo.Address)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to check nonce: %v", x402.ErrUpstreamUnavailable, err)
		}
		if used {
			return invalid(ErrNonceUsed), nil
		}

		balance, err := f.signer.GetBalance(ctx, auth.From, assetInfo.Address)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to get balance: %v", x402.ErrUpstreamUnavailable, err)
		}
		if balance.Cmp(authValue) < 0 {
			return invalid(ErrInsufficientBalance), nil
		}
	}

	return &x402.VerifyResponse{
		IsValid: true,
		Payer:   auth.From,
	}, nil
}

// Settle re-verifies and executes the transfer. Failures are returned as
// *x402.PaymentError with code settlement_failed.
func (f *ExactEvmFacilitator) Settle(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (*x402.SettleResponse, error) {
	if f.signer == nil {
		return nil, &x402.PaymentError{Code: x402.ErrCodeSettlementFailed, Message: "no settlement signer configured"}
	}

	verifyResp, err := f.Verify(ctx, payload, requirements)
	if err != nil {
		return nil, err
	}
	if !verifyResp.IsValid {
		return nil, &x402.PaymentError{Code: x402.ErrCodeSettlementFailed, Message: verifyResp.InvalidReason}
	}

	evmPayload, err := PayloadFromMap(payload.Payload)
	if err != nil {
		return nil, &x402.PaymentError{Code: x402.ErrCodeSettlementFailed, Message: ErrUnsupportedPayloadType}
	}
	auth := evmPayload.Authorization

	key := nonceKey(auth)
	if err := f.nonces.Claim(key); err != nil {
		return nil, &x402.PaymentError{Code: x402.ErrCodeSettlementFailed, Message: ErrNonceUsed}
	}

	txHash, err := f.transfer(ctx, evmPayload, requirements.Asset)
	if err != nil {
		f.nonces.Release(key)
		return nil, &x402.PaymentError{
			Code:    x402.ErrCodeSettlementFailed,
			Message: err.Error(),
			Details: map[string]interface{}{"transaction": txHash},
		}
	}
	f.nonces.Commit(key)

	return &x402.SettleResponse{
		Success:     true,
		Transaction: txHash,
		Network:     requirements.Network,
		Payer:       auth.From,
	}, nil
}

func (f *ExactEvmFacilitator) transfer(ctx context.Context, evmPayload *ExactEIP3009Payload, asset string) (string, error) {
	signature, err := HexToBytes(evmPayload.Signature)
	if err != nil || len(signature) != 65 {
		return "", fmt.Errorf("invalid signature format")
	}

	var r, s, nonce [32]byte
	copy(r[:], signature[0:32])
	copy(s[:], signature[32:64])
	v := signature[64]
	if v < 27 {
		v += 27
	}

	auth := evmPayload.Authorization
	nonceBytes, _ := HexToBytes(auth.Nonce)
	copy(nonce[:], nonceBytes)

	value, _ := new(big.Int).SetString(auth.Value, 10)
	validAfter, _ := new(big.Int).SetString(auth.ValidAfter, 10)
	validBefore, _ := new(big.Int).SetString(auth.ValidBefore, 10)

	txHash, err := f.signer.WriteContract(
		ctx,
		asset,
		TransferWithAuthorizationVRSABI,
		FunctionTransferWithAuthorization,
		auth.From,
		auth.To,
		value,
		validAfter,
		validBefore,
		nonce,
		v,
		r,
		s,
	)
	if err != nil {
		return "", fmt.Errorf("failed to execute transfer: %w", err)
	}

	receipt, err := f.signer.WaitForTransactionReceipt(ctx, txHash)
	if err != nil {
		return txHash, fmt.Errorf("failed to get receipt: %w", err)
	}
	if receipt.Status != TxStatusSuccess {
		return txHash, fmt.Errorf("%s", ErrTransactionFailed)
	}

	return txHash, nil
}

func (f *ExactEvmFacilitator) checkNonceUsed(ctx context.Context, from string, nonce string, tokenAddress string) (bool, error) {
	nonceBytes, err := HexToBytes(nonce)
	if err != nil {
		return false, err
	}
	var nonceArr [32]byte
	copy(nonceArr[:], nonceBytes)

	result, err := f.signer.ReadContract(ctx, tokenAddress, AuthorizationStateABI, FunctionAuthorizationState, from, nonceArr)
	if err != nil {
		return false, err
	}

	used, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("unexpected result type from authorizationState")
	}
	return used, nil
}
