package x402

import (
	"context"
	"errors"
	"testing"
)

// Mock client for testing
type mockSchemeNetworkClient struct {
	scheme        string
	createPayload func(ctx context.Context, requirements PaymentRequirements) (map[string]interface{}, error)
}

func (m *mockSchemeNetworkClient) Scheme() string {
	return m.scheme
}

func (m *mockSchemeNetworkClient) CreatePaymentPayload(ctx context.Context, requirements PaymentRequirements) (map[string]interface{}, error) {
	if m.createPayload != nil {
		return m.createPayload(ctx, requirements)
	}
	return map[string]interface{}{
		"signature": "mock_signature",
		"from":      "0xmock",
	}, nil
}

func testRequirements(network Network) PaymentRequirements {
	return PaymentRequirements{
		Scheme:            "exact",
		Network:           network,
		Asset:             "0xasset",
		Amount:            "10000",
		PayTo:             "0xpayee",
		MaxTimeoutSeconds: 300,
	}
}

func TestNewX402Client(t *testing.T) {
	client := NewX402Client()
	if client == nil {
		t.Fatal("Expected client to be created")
	}
	if client.schemes == nil {
		t.Fatal("Expected schemes map to be initialized")
	}
	if client.HasSchemes() {
		t.Fatal("Expected no schemes registered")
	}
}

func TestClientRegisterScheme(t *testing.T) {
	client := NewX402Client()
	mockClient := &mockSchemeNetworkClient{scheme: "exact"}

	client.Register("eip155:143", mockClient)

	if client.schemes["eip155:143"]["exact"] != mockClient {
		t.Fatal("Expected mock client to be registered")
	}
	if !client.HasSchemes() {
		t.Fatal("Expected HasSchemes to report the registration")
	}
}

func TestClientWithScheme(t *testing.T) {
	mockClient := &mockSchemeNetworkClient{scheme: "exact"}

	client := NewX402Client(WithScheme("eip155:*", mockClient))

	if client.schemes["eip155:*"]["exact"] != mockClient {
		t.Fatal("Expected mock client to be registered via option")
	}
}

func TestSelectPaymentRequirements(t *testing.T) {
	client := NewX402Client(WithScheme("eip155:10143", &mockSchemeNetworkClient{scheme: "exact"}))

	offered := []PaymentRequirements{
		testRequirements("solana:mainnet"),
		testRequirements("eip155:10143"),
		testRequirements("eip155:143"),
	}

	selected, err := client.SelectPaymentRequirements(offered)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if selected.Network != "eip155:10143" {
		t.Errorf("Expected first supported network, got %s", selected.Network)
	}
}

func TestSelectPaymentRequirements_Wildcard(t *testing.T) {
	client := NewX402Client(WithScheme("eip155:*", &mockSchemeNetworkClient{scheme: "exact"}))

	selected, err := client.SelectPaymentRequirements([]PaymentRequirements{testRequirements("eip155:143")})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if selected.Network != "eip155:143" {
		t.Errorf("Expected eip155:143, got %s", selected.Network)
	}
}

func TestSelectPaymentRequirements_NoMatch(t *testing.T) {
	client := NewX402Client(WithScheme("eip155:143", &mockSchemeNetworkClient{scheme: "exact"}))

	_, err := client.SelectPaymentRequirements([]PaymentRequirements{testRequirements("eip155:1")})
	if !errors.Is(err, ErrNoMatchingScheme) {
		t.Fatalf("Expected ErrNoMatchingScheme, got %v", err)
	}
}

func TestCreatePaymentPayload(t *testing.T) {
	var seen PaymentRequirements
	client := NewX402Client(WithScheme("eip155:143", &mockSchemeNetworkClient{
		scheme: "exact",
		createPayload: func(ctx context.Context, requirements PaymentRequirements) (map[string]interface{}, error) {
			seen = requirements
			return map[string]interface{}{"signature": "0xsig"}, nil
		},
	}))

	required := PaymentRequired{
		X402Version: ProtocolVersion,
		Resource:    &ResourceInfo{URL: "http://seller/api/gallery/buy?id=1"},
		Accepts:     []PaymentRequirements{testRequirements("eip155:143")},
	}

	payload, err := client.CreatePaymentForRequired(context.Background(), required)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if payload.X402Version != ProtocolVersion {
		t.Errorf("Expected version %d, got %d", ProtocolVersion, payload.X402Version)
	}
	if payload.Accepted.Amount != "10000" || seen.Amount != "10000" {
		t.Errorf("Expected exact required amount to be signed, got %s", payload.Accepted.Amount)
	}
	if payload.Resource == nil || payload.Resource.URL != required.Resource.URL {
		t.Error("Expected resource to be carried into the payload")
	}
	if payload.Payload["signature"] != "0xsig" {
		t.Error("Expected scheme payload to be wrapped")
	}
}

func TestCreatePaymentPayload_SignerError(t *testing.T) {
	client := NewX402Client(WithScheme("eip155:143", &mockSchemeNetworkClient{
		scheme: "exact",
		createPayload: func(ctx context.Context, requirements PaymentRequirements) (map[string]interface{}, error) {
			return nil, errors.New("signer offline")
		},
	}))

	_, err := client.CreatePaymentPayload(context.Background(), testRequirements("eip155:143"), nil)
	if err == nil {
		t.Fatal("Expected error from signer")
	}
}

func TestCreatePaymentPayload_InvalidRequirements(t *testing.T) {
	client := NewX402Client(WithScheme("eip155:143", &mockSchemeNetworkClient{scheme: "exact"}))

	req := testRequirements("eip155:143")
	req.Amount = "-5"

	if _, err := client.CreatePaymentPayload(context.Background(), req, nil); err == nil {
		t.Fatal("Expected negative amount to be rejected")
	}
}

func TestNetworkMatch(t *testing.T) {
	tests := []struct {
		network Network
		pattern Network
		want    bool
	}{
		{"eip155:143", "eip155:143", true},
		{"eip155:143", "eip155:*", true},
		{"eip155:*", "eip155:10143", true},
		{"eip155:143", "eip155:10143", false},
		{"solana:mainnet", "eip155:*", false},
	}

	for _, tt := range tests {
		if got := tt.network.Match(tt.pattern); got != tt.want {
			t.Errorf("%s.Match(%s) = %v, want %v", tt.network, tt.pattern, got, tt.want)
		}
	}
}

func TestNetworkParse(t *testing.T) {
	ns, ref, err := Network("eip155:143").Parse()
	if err != nil || ns != "eip155" || ref != "143" {
		t.Errorf("Unexpected parse result %q %q %v", ns, ref, err)
	}

	for _, bad := range []Network{"monad", "eip155:", ":143", "a:b:c"} {
		if _, _, err := bad.Parse(); err == nil {
			t.Errorf("Expected %q to be rejected", bad)
		}
	}
}
