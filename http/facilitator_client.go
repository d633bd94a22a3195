package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	x402 "github.com/tlguszz1010/Pixel-Pay"
)

// ============================================================================
// HTTP Facilitator Client
// ============================================================================

// HTTPFacilitatorClient is a PaymentAuthority reached over HTTP. It posts the
// proof and the requirement it answers to the facilitator's /verify and
// /settle endpoints.
type HTTPFacilitatorClient struct {
	url          string
	httpClient   *http.Client
	authProvider AuthProvider
	identifier   string
}

// AuthProvider generates authentication headers for facilitator requests
type AuthProvider interface {
	// GetAuthHeaders returns authentication headers for each endpoint
	GetAuthHeaders(ctx context.Context) (AuthHeaders, error)
}

// AuthHeaders contains authentication headers for facilitator endpoints
type AuthHeaders struct {
	Verify map[string]string
	Settle map[string]string
}

// FacilitatorConfig configures the HTTP facilitator client
type FacilitatorConfig struct {
	// URL is the base URL of the facilitator service
	URL string

	// HTTPClient is the HTTP client to use (optional)
	HTTPClient *http.Client

	// AuthProvider provides authentication headers (optional)
	AuthProvider AuthProvider

	// Timeout for requests (optional, defaults to 30s)
	Timeout time.Duration

	// Identifier for this facilitator (optional)
	Identifier string
}

// DefaultFacilitatorURL is the public facilitator serving Monad.
const DefaultFacilitatorURL = "https://x402-facilitator.molandak.org"

// NewHTTPFacilitatorClient creates a new HTTP facilitator client
func NewHTTPFacilitatorClient(config *FacilitatorConfig) *HTTPFacilitatorClient {
	if config == nil {
		config = &FacilitatorConfig{}
	}

	url := config.URL
	if url == "" {
		url = DefaultFacilitatorURL
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		timeout := config.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{
			Timeout: timeout,
		}
	}

	identifier := config.Identifier
	if identifier == "" {
		identifier = url
	}

	return &HTTPFacilitatorClient{
		url:          url,
		httpClient:   httpClient,
		authProvider: config.AuthProvider,
		identifier:   identifier,
	}
}

// Identifier names the facilitator in logs.
func (c *HTTPFacilitatorClient) Identifier() string {
	return c.identifier
}

// Verify asks the facilitator whether payload satisfies requirements.
// Transport failures wrap x402.ErrUpstreamUnavailable; a rejected proof is
// reported through VerifyResponse.IsValid.
func (c *HTTPFacilitatorClient) Verify(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (*x402.VerifyResponse, error) {
	var authHeaders map[string]string
	if c.authProvider != nil {
		headers, err := c.authProvider.GetAuthHeaders(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get auth headers: %w", err)
		}
		authHeaders = headers.Verify
	}

	status, responseBody, err := c.post(ctx, "/verify", payload, requirements, authHeaders)
	if err != nil {
		return nil, err
	}

	var verifyResponse x402.VerifyResponse
	if err := json.Unmarshal(responseBody, &verifyResponse); err != nil {
		return nil, fmt.Errorf("%w: facilitator verify failed (%d): %s", x402.ErrUpstreamUnavailable, status, string(responseBody))
	}

	// Non-200 with a reason is still a verdict on the proof.
	if status != http.StatusOK && verifyResponse.InvalidReason == "" {
		return nil, fmt.Errorf("%w: facilitator verify failed (%d): %s", x402.ErrUpstreamUnavailable, status, string(responseBody))
	}

	return &verifyResponse, nil
}

// Settle asks the facilitator to execute the authorization. A non-success
// answer is returned as a *x402.PaymentError with the facilitator's reason.
func (c *HTTPFacilitatorClient) Settle(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (*x402.SettleResponse, error) {
	var authHeaders map[string]string
	if c.authProvider != nil {
		headers, err := c.authProvider.GetAuthHeaders(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get auth headers: %w", err)
		}
		authHeaders = headers.Settle
	}

	status, responseBody, err := c.post(ctx, "/settle", payload, requirements, authHeaders)
	if err != nil {
		return nil, err
	}

	var settleResponse x402.SettleResponse
	if err := json.Unmarshal(responseBody, &settleResponse); err != nil {
		return nil, fmt.Errorf("%w: facilitator settle failed (%d): %s", x402.ErrUpstreamUnavailable, status, string(responseBody))
	}

	if status != http.StatusOK || !settleResponse.Success {
		reason := settleResponse.ErrorReason
		if reason == "" {
			reason = fmt.Sprintf("facilitator returned %d", status)
		}
		return nil, x402.NewPaymentError(x402.ErrCodeSettlementFailed, reason, map[string]interface{}{
			"payer":       settleResponse.Payer,
			"network":     string(settleResponse.Network),
			"transaction": settleResponse.Transaction,
		})
	}

	return &settleResponse, nil
}

func (c *HTTPFacilitatorClient) post(ctx context.Context, path string, payload x402.PaymentPayload, requirements x402.PaymentRequirements, headers map[string]string) (int, []byte, error) {
	requestBody := map[string]interface{}{
		"x402Version":         payload.X402Version,
		"paymentPayload":      payload,
		"paymentRequirements": requirements,
	}

	body, err := json.Marshal(requestBody)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to marshal %s request: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+path, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %s request failed: %v", x402.ErrUpstreamUnavailable, path, err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: failed to read response body: %v", x402.ErrUpstreamUnavailable, err)
	}

	return resp.StatusCode, responseBody, nil
}

// StaticAuthProvider sends the same bearer token to every endpoint.
type StaticAuthProvider struct {
	token string
}

// NewStaticAuthProvider creates an AuthProvider for an API key.
func NewStaticAuthProvider(token string) *StaticAuthProvider {
	return &StaticAuthProvider{token: token}
}

// GetAuthHeaders implements AuthProvider.
func (p *StaticAuthProvider) GetAuthHeaders(ctx context.Context) (AuthHeaders, error) {
	auth := map[string]string{"Authorization": "Bearer " + p.token}
	return AuthHeaders{Verify: auth, Settle: auth}, nil
}
