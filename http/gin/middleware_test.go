package gin

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402 "github.com/tlguszz1010/Pixel-Pay"
	x402http "github.com/tlguszz1010/Pixel-Pay/http"
)

const (
	testAsset = "0x754704Bc059F8C67012fEd69BC8a327a5aafb603"
	testPayee = "0x1111111111111111111111111111111111111111"
)

type testScheme struct{}

func (testScheme) Scheme() string { return "exact" }

func (testScheme) ParsePrice(price interface{}, network x402.Network) (x402.AssetAmount, error) {
	return x402.AssetAmount{Asset: testAsset, Amount: "10000"}, nil
}

func (testScheme) EnhancePaymentRequirements(requirements x402.PaymentRequirements) (x402.PaymentRequirements, error) {
	return requirements, nil
}

type testAuthority struct {
	mu        sync.Mutex
	settleErr error
	settles   int
}

func (a *testAuthority) Verify(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (*x402.VerifyResponse, error) {
	return &x402.VerifyResponse{IsValid: true, Payer: "0xbuyer"}, nil
}

func (a *testAuthority) Settle(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (*x402.SettleResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.settles++
	if a.settleErr != nil {
		return nil, a.settleErr
	}
	return &x402.SettleResponse{Success: true, Transaction: "0xtx", Network: requirements.Network}, nil
}

func newRouter(t *testing.T, authority *testAuthority, handler gin.HandlerFunc) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	service := x402.NewX402ResourceService(
		x402.WithSchemeServer("eip155:143", testScheme{}),
		x402.WithFacilitatorClient(authority),
	)
	guard, err := x402http.NewPaymentGuard(service, x402http.RoutesConfig{
		"GET /buy": {Accepts: []x402.ResourceConfig{{
			Scheme: "exact", PayTo: testPayee, Price: "$0.01", Network: "eip155:143",
		}}},
	})
	require.NoError(t, err)

	router := gin.New()
	router.Use(PaymentMiddleware(guard, WithResourceRootURL("http://seller.test")))
	router.GET("/buy", handler)
	router.GET("/free", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"free": true})
	})
	return router
}

func paymentHeader(t *testing.T) string {
	t.Helper()
	header, err := x402http.EncodePaymentSignature(x402.PaymentPayload{
		X402Version: x402.ProtocolVersion,
		Accepted: x402.PaymentRequirements{
			Scheme: "exact", Network: "eip155:143", Asset: testAsset,
			Amount: "10000", PayTo: testPayee, MaxTimeoutSeconds: 300,
		},
		Payload: map[string]interface{}{
			"signature":     "0xsig",
			"authorization": map[string]interface{}{"from": "0xbuyer", "value": "10000"},
		},
	})
	require.NoError(t, err)
	return header
}

func serve(router *gin.Engine, path, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if header != "" {
		req.Header.Set(x402.HeaderPaymentSignature, header)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestMiddlewareFreeRoute(t *testing.T) {
	router := newRouter(t, &testAuthority{}, func(c *gin.Context) {})

	w := serve(router, "/free", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get(x402.HeaderPaymentRequired))
}

func TestMiddlewareChallengesUnpaid(t *testing.T) {
	called := false
	router := newRouter(t, &testAuthority{}, func(c *gin.Context) { called = true })

	w := serve(router, "/buy?id=abc", "")

	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.False(t, called)

	required, err := x402http.DecodePaymentRequired(w.Header().Get(x402.HeaderPaymentRequired))
	require.NoError(t, err)
	assert.Equal(t, "http://seller.test/buy?id=abc", required.Resource.URL)
	assert.Equal(t, "10000", required.Accepts[0].Amount)
}

func TestMiddlewareSettlesSuccessfulResponse(t *testing.T) {
	authority := &testAuthority{}
	router := newRouter(t, authority, func(c *gin.Context) {
		payment := PaymentFromContext(c)
		require.NotNil(t, payment)
		assert.Equal(t, "0xbuyer", payment.Payer)
		c.JSON(http.StatusOK, gin.H{"purchased": true})
	})

	w := serve(router, "/buy", paymentHeader(t))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"purchased":true}`, w.Body.String())
	assert.Equal(t, 1, authority.settles)

	settlement, err := x402http.DecodePaymentResponse(w.Header().Get(x402.HeaderPaymentResponse))
	require.NoError(t, err)
	assert.Equal(t, "0xtx", settlement.Transaction)
}

func TestMiddlewareHandlerSettlesEarly(t *testing.T) {
	authority := &testAuthority{}
	router := newRouter(t, authority, func(c *gin.Context) {
		_, err := PaymentFromContext(c).Settle(c.Request.Context())
		require.NoError(t, err)
		c.JSON(http.StatusOK, gin.H{"purchased": true})
	})

	w := serve(router, "/buy", paymentHeader(t))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, authority.settles)
	assert.NotEmpty(t, w.Header().Get(x402.HeaderPaymentResponse))
}

func TestMiddlewareReleasesOnHandlerError(t *testing.T) {
	authority := &testAuthority{}
	router := newRouter(t, authority, func(c *gin.Context) {
		c.JSON(http.StatusConflict, gin.H{"error": "Image already sold"})
	})

	header := paymentHeader(t)
	w := serve(router, "/buy", header)

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, 0, authority.settles)
	assert.Empty(t, w.Header().Get(x402.HeaderPaymentResponse))

	// The released proof is still spendable.
	w = serve(router, "/buy", header)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestMiddlewareSettlementFailureRequotes(t *testing.T) {
	authority := &testAuthority{settleErr: &x402.PaymentError{Code: x402.ErrCodeSettlementFailed, Message: "insufficient_funds"}}
	router := newRouter(t, authority, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"purchased": true})
	})

	w := serve(router, "/buy", paymentHeader(t))

	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.NotContains(t, w.Body.String(), "purchased")
	assert.NotEmpty(t, w.Header().Get(x402.HeaderPaymentRequired))
}

func TestMiddlewareRejectsReplay(t *testing.T) {
	router := newRouter(t, &testAuthority{}, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"purchased": true})
	})

	header := paymentHeader(t)
	require.Equal(t, http.StatusOK, serve(router, "/buy", header).Code)

	w := serve(router, "/buy", header)
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
}
