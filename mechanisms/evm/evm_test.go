package evm

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	x402 "github.com/tlguszz1010/Pixel-Pay"
)

const testPayee = "0x1111111111111111111111111111111111111111"

// keySigner signs with a real secp256k1 key so recovery can be checked.
type keySigner struct {
	key *ecdsa.PrivateKey
}

func newKeySigner(t *testing.T) *keySigner {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	return &keySigner{key: key}
}

func (s *keySigner) Address() string {
	return crypto.PubkeyToAddress(s.key.PublicKey).Hex()
}

func (s *keySigner) SignTypedData(ctx context.Context, domain TypedDataDomain, types map[string][]TypedDataField, primaryType string, message map[string]interface{}) ([]byte, error) {
	digest, err := HashTypedData(domain, types, primaryType, message)
	if err != nil {
		return nil, err
	}
	sig, err := crypto.Sign(digest, s.key)
	if err != nil {
		return nil, err
	}
	sig[64] += 27
	return sig, nil
}

type mockFacilitatorSigner struct {
	balance    *big.Int
	nonceUsed  bool
	readErr    error
	writeErr   error
	txSuccess  bool
	writeCalls int
}

func (m *mockFacilitatorSigner) Address() string { return "0x2222222222222222222222222222222222222222" }

func (m *mockFacilitatorSigner) ReadContract(ctx context.Context, address string, abi []byte, functionName string, args ...interface{}) (interface{}, error) {
	if m.readErr != nil {
		return nil, m.readErr
	}
	if functionName == FunctionAuthorizationState {
		return m.nonceUsed, nil
	}
	return nil, nil
}

func (m *mockFacilitatorSigner) WriteContract(ctx context.Context, address string, abi []byte, functionName string, args ...interface{}) (string, error) {
	m.writeCalls++
	if m.writeErr != nil {
		return "", m.writeErr
	}
	return "0xsettled", nil
}

func (m *mockFacilitatorSigner) WaitForTransactionReceipt(ctx context.Context, txHash string) (*TransactionReceipt, error) {
	status := uint64(TxStatusFailed)
	if m.txSuccess {
		status = TxStatusSuccess
	}
	return &TransactionReceipt{Status: status, TxHash: txHash}, nil
}

func (m *mockFacilitatorSigner) GetBalance(ctx context.Context, address string, tokenAddress string) (*big.Int, error) {
	if m.balance == nil {
		return big.NewInt(1_000_000), nil
	}
	return m.balance, nil
}

func testRequirements() x402.PaymentRequirements {
	return x402.PaymentRequirements{
		Scheme:            SchemeExact,
		Network:           "eip155:143",
		Asset:             MonadUSDCAddress,
		Amount:            "10000",
		PayTo:             testPayee,
		MaxTimeoutSeconds: 300,
		Extra:             map[string]interface{}{"name": "USDC", "version": "2"},
	}
}

func signedPayload(t *testing.T, signer ClientEvmSigner, requirements x402.PaymentRequirements) x402.PaymentPayload {
	t.Helper()
	inner, err := NewExactEvmClient(signer).CreatePaymentPayload(context.Background(), requirements)
	if err != nil {
		t.Fatalf("failed to create payload: %v", err)
	}
	return x402.PaymentPayload{X402Version: x402.ProtocolVersion, Accepted: requirements, Payload: inner}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		input    string
		decimals int
		want     string
		wantErr  bool
	}{
		{"0.01", 6, "10000", false},
		{"1", 6, "1000000", false},
		{"1.5", 6, "1500000", false},
		{".5", 6, "500000", false},
		{"0.0000019", 6, "1", false},
		{"100", 18, "100000000000000000000", false},
		{"-1", 6, "", true},
		{"abc", 6, "", true},
		{"", 6, "", true},
	}

	for _, tt := range tests {
		got, err := ParseAmount(tt.input, tt.decimals)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseAmount(%q) expected error", tt.input)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseAmount(%q) unexpected error: %v", tt.input, err)
			continue
		}
		if got.String() != tt.want {
			t.Errorf("ParseAmount(%q) = %s, want %s", tt.input, got, tt.want)
		}
	}
}

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		amount   *big.Int
		decimals int
		want     string
	}{
		{big.NewInt(10000), 6, "0.01"},
		{big.NewInt(1000000), 6, "1"},
		{big.NewInt(1500000), 6, "1.5"},
		{big.NewInt(1), 6, "0.000001"},
		{big.NewInt(0), 6, "0"},
		{big.NewInt(42), 0, "42"},
	}

	for _, tt := range tests {
		if got := FormatAmount(tt.amount, tt.decimals); got != tt.want {
			t.Errorf("FormatAmount(%s, %d) = %s, want %s", tt.amount, tt.decimals, got, tt.want)
		}
	}
}

func TestNetworkConfigs(t *testing.T) {
	config, err := GetNetworkConfig("eip155:143")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if config.ChainID.Int64() != 143 {
		t.Errorf("expected chain 143, got %s", config.ChainID)
	}
	if _, err := GetNetworkConfig("eip155:8453"); err == nil {
		t.Error("expected unconfigured network to be rejected")
	}

	if _, err := GetAssetInfo("eip155:10143", strings.ToLower(MonadUSDCAddress)); err != nil {
		t.Errorf("expected case-insensitive asset lookup, got %v", err)
	}
	if got := ExplorerTxURL("eip155:143", "0xabc"); got != "https://monadscan.com/tx/0xabc" {
		t.Errorf("unexpected explorer URL %s", got)
	}
}

func TestExactEvmClient_CreatePaymentPayload(t *testing.T) {
	signer := newKeySigner(t)
	client := NewExactEvmClient(signer)
	fixed := time.Unix(1_700_000_000, 0)
	client.now = func() time.Time { return fixed }

	inner, err := client.CreatePaymentPayload(context.Background(), testRequirements())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	payload, err := PayloadFromMap(inner)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	auth := payload.Authorization
	if auth.From != signer.Address() || auth.To != testPayee || auth.Value != "10000" {
		t.Errorf("authorization does not match requirements: %+v", auth)
	}
	if auth.ValidBefore != "1700000300" {
		t.Errorf("expected validBefore bounded by maxTimeoutSeconds, got %s", auth.ValidBefore)
	}
	if len(auth.Nonce) != 66 {
		t.Errorf("expected 32-byte nonce, got %s", auth.Nonce)
	}

	sig, _ := HexToBytes(payload.Signature)
	hash, err := HashEIP3009Authorization(auth, ChainIDMonad, MonadUSDCAddress, "USDC", "2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	recovered, err := RecoverAddress(hash, sig)
	if err != nil || recovered != signer.Address() {
		t.Errorf("expected signature by %s, recovered %s (%v)", signer.Address(), recovered, err)
	}
}

func TestExactEvmClient_UnsupportedNetwork(t *testing.T) {
	req := testRequirements()
	req.Network = "eip155:1"
	if _, err := NewExactEvmClient(newKeySigner(t)).CreatePaymentPayload(context.Background(), req); err == nil {
		t.Fatal("expected unsupported network error")
	}
}

func TestExactEvmFacilitator_Verify(t *testing.T) {
	signer := newKeySigner(t)
	req := testRequirements()
	facilitator := NewExactEvmFacilitator(nil)
	ctx := context.Background()

	resp, err := facilitator.Verify(ctx, signedPayload(t, signer, req), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.IsValid || resp.Payer != signer.Address() {
		t.Fatalf("expected valid payment from %s, got %+v", signer.Address(), resp)
	}

	tests := []struct {
		name   string
		mutate func(p *x402.PaymentPayload, r *x402.PaymentRequirements)
		reason string
	}{
		{"wrong payee", func(p *x402.PaymentPayload, r *x402.PaymentRequirements) {
			r.PayTo = "0x3333333333333333333333333333333333333333"
		}, ErrRecipientMismatch},
		{"price raised", func(p *x402.PaymentPayload, r *x402.PaymentRequirements) {
			r.Amount = "20000"
		}, ErrInsufficientValue},
		{"tampered value", func(p *x402.PaymentPayload, r *x402.PaymentRequirements) {
			p.Payload["authorization"].(map[string]interface{})["value"] = "99999"
		}, ErrInvalidSignature},
		{"wrong network", func(p *x402.PaymentPayload, r *x402.PaymentRequirements) {
			p.Accepted.Network = "eip155:10143"
		}, ErrNetworkMismatch},
		{"missing authorization", func(p *x402.PaymentPayload, r *x402.PaymentRequirements) {
			delete(p.Payload, "authorization")
		}, ErrUnsupportedPayloadType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := testRequirements()
			p := signedPayload(t, signer, r)
			tt.mutate(&p, &r)

			resp, err := facilitator.Verify(ctx, p, r)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if resp.IsValid || resp.InvalidReason != tt.reason {
				t.Errorf("expected %s, got %+v", tt.reason, resp)
			}
		})
	}
}

func TestExactEvmFacilitator_VerifyExpired(t *testing.T) {
	signer := newKeySigner(t)
	req := testRequirements()
	payload := signedPayload(t, signer, req)

	later := NewExactEvmFacilitator(nil, WithClock(func() time.Time { return time.Now().Add(time.Hour) }))
	resp, err := later.Verify(context.Background(), payload, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.IsValid || resp.InvalidReason != ErrAuthorizationExpired {
		t.Errorf("expected expired authorization, got %+v", resp)
	}
}

func TestExactEvmFacilitator_VerifyChecksChain(t *testing.T) {
	signer := newKeySigner(t)
	req := testRequirements()
	payload := signedPayload(t, signer, req)
	ctx := context.Background()

	poor := NewExactEvmFacilitator(&mockFacilitatorSigner{balance: big.NewInt(1)})
	resp, err := poor.Verify(ctx, payload, req)
	if err != nil || resp.InvalidReason != ErrInsufficientBalance {
		t.Errorf("expected insufficient balance, got %+v %v", resp, err)
	}

	spent := NewExactEvmFacilitator(&mockFacilitatorSigner{nonceUsed: true})
	resp, err = spent.Verify(ctx, payload, req)
	if err != nil || resp.InvalidReason != ErrNonceUsed {
		t.Errorf("expected nonce used, got %+v %v", resp, err)
	}

	down := NewExactEvmFacilitator(&mockFacilitatorSigner{readErr: errors.New("rpc down")})
	_, err = down.Verify(ctx, payload, req)
	if !errors.Is(err, x402.ErrUpstreamUnavailable) {
		t.Errorf("expected ErrUpstreamUnavailable, got %v", err)
	}
}

func TestExactEvmFacilitator_Settle(t *testing.T) {
	signer := newKeySigner(t)
	req := testRequirements()
	payload := signedPayload(t, signer, req)
	ctx := context.Background()

	chain := &mockFacilitatorSigner{txSuccess: true}
	facilitator := NewExactEvmFacilitator(chain)

	resp, err := facilitator.Settle(ctx, payload, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.Success || resp.Transaction != "0xsettled" || resp.Payer != signer.Address() {
		t.Errorf("unexpected settlement %+v", resp)
	}

	// The same authorization cannot be settled twice.
	_, err = facilitator.Settle(ctx, payload, req)
	var paymentErr *x402.PaymentError
	if !errors.As(err, &paymentErr) || paymentErr.Message != ErrNonceUsed {
		t.Errorf("expected nonce reuse to fail, got %v", err)
	}
	if chain.writeCalls != 1 {
		t.Errorf("expected one transfer, got %d", chain.writeCalls)
	}
}

func TestExactEvmFacilitator_SettleFailureReleasesNonce(t *testing.T) {
	signer := newKeySigner(t)
	req := testRequirements()
	payload := signedPayload(t, signer, req)
	ctx := context.Background()

	chain := &mockFacilitatorSigner{txSuccess: false}
	facilitator := NewExactEvmFacilitator(chain)

	_, err := facilitator.Settle(ctx, payload, req)
	var paymentErr *x402.PaymentError
	if !errors.As(err, &paymentErr) || paymentErr.Code != x402.ErrCodeSettlementFailed {
		t.Fatalf("expected settlement_failed, got %v", err)
	}

	chain.txSuccess = true
	if _, err := facilitator.Settle(ctx, payload, req); err != nil {
		t.Errorf("expected retry after a failed transfer to succeed, got %v", err)
	}
}

func TestExactEvmFacilitator_SettleWithoutSigner(t *testing.T) {
	req := testRequirements()
	_, err := NewExactEvmFacilitator(nil).Settle(context.Background(), signedPayload(t, newKeySigner(t), req), req)
	if err == nil {
		t.Fatal("expected error without settlement signer")
	}
}

func TestExactEvmService_ParsePrice(t *testing.T) {
	service := NewExactEvmService()

	tests := []struct {
		price interface{}
		want  string
	}{
		{"$0.01", "10000"},
		{"0.01 USDC", "10000"},
		{"1.5 USD", "1500000"},
		{0.25, "250000"},
	}
	for _, tt := range tests {
		amount, err := service.ParsePrice(tt.price, "eip155:143")
		if err != nil {
			t.Errorf("ParsePrice(%v) unexpected error: %v", tt.price, err)
			continue
		}
		if amount.Amount != tt.want || amount.Asset != MonadUSDCAddress {
			t.Errorf("ParsePrice(%v) = %+v, want %s", tt.price, amount, tt.want)
		}
	}

	if _, err := service.ParsePrice("free", "eip155:143"); err == nil {
		t.Error("expected invalid price to be rejected")
	}

	direct, err := service.ParsePrice(x402.AssetAmount{Asset: "0xabc", Amount: "5"}, "eip155:143")
	if err != nil || direct.Amount != "5" {
		t.Errorf("expected asset amount to pass through, got %+v %v", direct, err)
	}
}

func TestExactEvmService_MoneyParser(t *testing.T) {
	service := NewExactEvmService().
		RegisterMoneyParser(func(amount float64, network x402.Network) (*x402.AssetAmount, error) {
			if network != "eip155:143" {
				return nil, nil
			}
			return &x402.AssetAmount{
				Asset:  MonadUSDCAddress,
				Amount: big.NewInt(int64(math.Floor(amount * 1_000_000))).String(),
				Extra:  map[string]interface{}{"name": "USDC", "version": "2"},
			}, nil
		})

	amount, err := service.ParsePrice("$0.01", "eip155:143")
	if err != nil || amount.Amount != "10000" {
		t.Fatalf("expected custom parser result, got %+v %v", amount, err)
	}

	fallback, err := service.ParsePrice("$0.02", "eip155:10143")
	if err != nil || fallback.Amount != "20000" {
		t.Fatalf("expected default parser fallback, got %+v %v", fallback, err)
	}
}

func TestExactEvmService_EnhancePaymentRequirements(t *testing.T) {
	service := NewExactEvmService()

	req := testRequirements()
	req.Extra = nil
	enhanced, err := service.EnhancePaymentRequirements(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if enhanced.Extra["name"] != "USDC" || enhanced.Extra["version"] != "2" {
		t.Errorf("expected EIP-712 domain info, got %v", enhanced.Extra)
	}

	req.PayTo = "not-an-address"
	if _, err := service.EnhancePaymentRequirements(req); err == nil {
		t.Error("expected invalid payTo to be rejected")
	}
}

func TestRegisterHelpers(t *testing.T) {
	client := x402.NewX402Client()
	if err := RegisterClient(client, newKeySigner(t)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !client.HasSchemes() {
		t.Error("expected schemes to be registered")
	}
	if err := RegisterClient(client, newKeySigner(t), "eip155:1"); err == nil {
		t.Error("expected unknown network to be rejected")
	}

	service := x402.NewX402ResourceService()
	if err := RegisterService(service, nil, "eip155:143"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := service.BuildPaymentRequirements(x402.ResourceConfig{
		Scheme: SchemeExact, PayTo: testPayee, Price: "$0.01", Network: "eip155:143",
	}); err != nil {
		t.Errorf("expected requirements to build, got %v", err)
	}
}
