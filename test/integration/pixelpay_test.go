package integration_test

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402 "github.com/tlguszz1010/Pixel-Pay"
	"github.com/tlguszz1010/Pixel-Pay/extensions/idempotency"
	x402http "github.com/tlguszz1010/Pixel-Pay/http"
	x402evm "github.com/tlguszz1010/Pixel-Pay/mechanisms/evm"
	"github.com/tlguszz1010/Pixel-Pay/pkg/buyer"
	"github.com/tlguszz1010/Pixel-Pay/pkg/sale"
	"github.com/tlguszz1010/Pixel-Pay/pkg/seller"
	"github.com/tlguszz1010/Pixel-Pay/pkg/store"
	"github.com/tlguszz1010/Pixel-Pay/pkg/wallet"
)

const (
	network = "eip155:143"
	payTo   = "0x1111111111111111111111111111111111111111"
)

// fakeChain settles transferWithAuthorization calls without an RPC node.
type fakeChain struct {
	mu     sync.Mutex
	writes []string
}

func (c *fakeChain) Address() string { return "0x2222222222222222222222222222222222222222" }

func (c *fakeChain) ReadContract(ctx context.Context, address string, abi []byte, functionName string, args ...interface{}) (interface{}, error) {
	if functionName == x402evm.FunctionAuthorizationState {
		return false, nil
	}
	return nil, fmt.Errorf("unexpected read %s", functionName)
}

func (c *fakeChain) WriteContract(ctx context.Context, address string, abi []byte, functionName string, args ...interface{}) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, functionName)
	return fmt.Sprintf("0x%064x", len(c.writes)), nil
}

func (c *fakeChain) WaitForTransactionReceipt(ctx context.Context, txHash string) (*x402evm.TransactionReceipt, error) {
	return &x402evm.TransactionReceipt{Status: x402evm.TxStatusSuccess, TxHash: txHash}, nil
}

func (c *fakeChain) GetBalance(ctx context.Context, address string, tokenAddress string) (*big.Int, error) {
	return big.NewInt(5_000_000), nil
}

func (c *fakeChain) transfers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.writes)
}

type fakeMinter struct {
	mu   sync.Mutex
	next int64
}

func (m *fakeMinter) Mint(ctx context.Context, to, uri string) (*big.Int, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	return big.NewInt(m.next), fmt.Sprintf("0xmint%d", m.next), nil
}

type marketplace struct {
	chain     *fakeChain
	sellerDB  *store.Store
	buyerDB   *store.Store
	seller    *httptest.Server
	scheduler *buyer.Scheduler
	storage   string
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func buyerKey(t *testing.T) string {
	t.Helper()
	key, err := ecdsa.GenerateKey(crypto.S256(), nil)
	require.NoError(t, err)
	return "0x" + hex.EncodeToString(crypto.FromECDSA(key))
}

func newMarketplace(t *testing.T, listings ...string) *marketplace {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()

	images := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("\x89PNG" + r.URL.Path))
	}))
	t.Cleanup(images.Close)

	m := &marketplace{
		chain:    &fakeChain{},
		sellerDB: openStore(t),
		buyerDB:  openStore(t),
		storage:  t.TempDir(),
	}
	for i, prompt := range listings {
		require.NoError(t, m.sellerDB.CreateResource(ctx, &store.Resource{
			ID:         fmt.Sprintf("img-%d", i+1),
			Prompt:     prompt,
			LocatorURL: fmt.Sprintf("%s/img-%d.png", images.URL, i+1),
			Price:      "0.01",
			MimeType:   "image/png",
			CreatedAt:  time.Unix(int64(1_700_000_000+i), 0).UTC(),
		}))
	}

	facilitator := idempotency.Wrap(x402evm.NewExactEvmFacilitator(m.chain))
	service := x402.NewX402ResourceService(x402.WithFacilitatorClient(facilitator))
	require.NoError(t, x402evm.RegisterService(service, x402evm.NewExactEvmService(), network))

	guard, err := x402http.NewPaymentGuard(service,
		seller.PaymentRoutes(payTo, network, "$0.01"),
		x402http.WithAuditSink(m.sellerDB))
	require.NoError(t, err)

	pipeline := sale.NewPipeline(m.sellerDB, sale.WithMinter(&fakeMinter{}))
	srv := seller.NewServer(m.sellerDB, pipeline, guard, seller.WithNetwork(network), seller.WithPayTo(payTo))
	m.seller = httptest.NewServer(srv.Handler())
	t.Cleanup(m.seller.Close)

	wallets := wallet.NewSecretProvider(m.buyerDB, wallet.WithEnvOverride(buyerKey(t)))
	m.scheduler = buyer.NewScheduler(
		buyer.NewHTTPCatalog(m.seller.URL, m.seller.Client()),
		buyer.NewHTTPPurchaser(m.seller.URL,
			buyer.WithNetworks(network),
			buyer.WithStorageDir(m.storage),
			buyer.WithPurchaserHTTPClient(&http.Client{Timeout: 5 * time.Second})),
		m.buyerDB,
		wallets,
		buyer.WithStrategy(buyer.RandomStrategy{Intn: func(int) int { return 0 }}),
	)
	return m
}

func (m *marketplace) gallery(t *testing.T) []map[string]interface{} {
	t.Helper()
	resp, err := http.Get(m.seller.URL + "/api/gallery")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var items []map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&items))
	return items
}

func TestBuyerPurchasesFromSeller(t *testing.T) {
	m := newMarketplace(t, "a fox in the snow", "neon city at night")
	ctx := context.Background()

	result, err := m.scheduler.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Checked)
	assert.Equal(t, 2, result.Unsold)
	require.NotNil(t, result.Purchased)
	assert.Equal(t, 1, m.chain.transfers())

	sold := 0
	for _, item := range m.gallery(t) {
		if item["sold"] == true {
			sold++
			assert.Equal(t, *result.Purchased, item["id"])
			assert.NotNil(t, item["nft"])
		}
	}
	assert.Equal(t, 1, sold)

	stats, err := m.buyerDB.PurchaseStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Count)

	files, err := os.ReadDir(m.storage)
	require.NoError(t, err)
	require.Len(t, files, 1)
	data, err := os.ReadFile(filepath.Join(m.storage, files[0].Name()))
	require.NoError(t, err)
	assert.Contains(t, string(data), *result.Purchased)

	provenance, err := m.sellerDB.CountProvenance(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, provenance)
}

func TestBuyerSellsOutCatalog(t *testing.T) {
	m := newMarketplace(t, "a fox in the snow", "neon city at night")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		result, err := m.scheduler.RunOnce(ctx)
		require.NoError(t, err)
		require.NotNil(t, result.Purchased)
	}

	result, err := m.scheduler.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Checked)
	assert.Equal(t, 0, result.Unsold)
	assert.Nil(t, result.Purchased)
	assert.Equal(t, 2, m.chain.transfers())

	stats, err := m.sellerDB.CatalogStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Sold)
}

func TestUnpaidBuyIsQuoted(t *testing.T) {
	m := newMarketplace(t, "a fox in the snow")

	resp, err := http.Get(m.seller.URL + "/api/gallery/buy?id=img-1")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
	header := resp.Header.Get(x402.HeaderPaymentRequired)
	require.NotEmpty(t, header)

	required, err := x402http.DecodePaymentRequired(header)
	require.NoError(t, err)
	require.Len(t, required.Accepts, 1)
	assert.Equal(t, x402.Network(network), required.Accepts[0].Network)
	assert.Equal(t, "10000", required.Accepts[0].Amount)
	assert.Equal(t, payTo, required.Accepts[0].PayTo)
	assert.Zero(t, m.chain.transfers())
}
