package buyer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	x402evm "github.com/tlguszz1010/Pixel-Pay/mechanisms/evm"
	"github.com/tlguszz1010/Pixel-Pay/pkg/store"
	"github.com/tlguszz1010/Pixel-Pay/pkg/wallet"
)

const (
	purchaseListLimit = 50
	logListLimit      = 100
)

// History is the buyer's persisted state as served by the API.
type History interface {
	PurchaseStats(ctx context.Context) (store.PurchaseStats, error)
	ListPurchases(ctx context.Context, limit int) ([]store.Purchase, error)
	ListLogs(ctx context.Context, limit int) ([]store.LogEntry, error)
}

// BalanceReader reads native (empty token) and ERC-20 balances.
type BalanceReader interface {
	GetBalance(ctx context.Context, address string, tokenAddress string) (*big.Int, error)
}

// API serves the buyer's HTTP surface.
type API struct {
	scheduler  *Scheduler
	history    History
	wallets    *wallet.SecretProvider
	balances   BalanceReader
	usdc       string
	sellerURL  string
	mcp        http.Handler
	httpClient *http.Client
	logger     *slog.Logger
}

// APIOption configures an API
type APIOption func(*API)

// WithBalanceReader enables /api/wallet-info. usdc is the payment asset.
func WithBalanceReader(reader BalanceReader, usdc string) APIOption {
	return func(a *API) {
		a.balances = reader
		a.usdc = usdc
	}
}

// WithSellerURL is used to look up the seller's reward token.
func WithSellerURL(url string) APIOption {
	return func(a *API) {
		a.sellerURL = strings.TrimSuffix(url, "/")
	}
}

// WithMCPHandler mounts an MCP endpoint at /mcp.
func WithMCPHandler(h http.Handler) APIOption {
	return func(a *API) {
		a.mcp = h
	}
}

// WithAPILogger sets the API's logger.
func WithAPILogger(logger *slog.Logger) APIOption {
	return func(a *API) {
		a.logger = logger
	}
}

// NewAPI creates the buyer API.
func NewAPI(scheduler *Scheduler, history History, wallets *wallet.SecretProvider, opts ...APIOption) *API {
	a := &API{
		scheduler:  scheduler,
		history:    history,
		wallets:    wallets,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handler builds the echo router.
func (a *API) Handler() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	e.GET("/", a.descriptor)
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "agent": "buyer"})
	})

	api := e.Group("/api")
	api.GET("/status", a.status)
	api.GET("/purchases", a.purchases)
	api.GET("/logs", a.logs)
	api.GET("/wallet", a.getWallet)
	api.POST("/wallet", a.setWallet)
	api.DELETE("/wallet", a.deleteWallet)
	api.GET("/wallet-info", a.walletInfo)
	api.POST("/trigger", a.trigger)

	if a.mcp != nil {
		e.Any("/mcp", echo.WrapHandler(a.mcp))
		e.Any("/mcp/*", echo.WrapHandler(a.mcp))
	}
	return e
}

func (a *API) descriptor(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"name":        "PixelPay Buyer Agent",
		"description": "Autonomous buyer that discovers and purchases AI art via x402",
		"endpoints": map[string]string{
			"GET /api/status":    "Purchase stats",
			"GET /api/purchases": "Purchase history",
			"GET /api/wallet":    "Wallet status",
			"POST /api/trigger":  "Manual purchase trigger",
			"GET /health":        "Health check",
		},
	})
}

func (a *API) status(c echo.Context) error {
	ctx := c.Request().Context()
	stats, err := a.history.PurchaseStats(ctx)
	if err != nil {
		return a.fail(c, err)
	}

	var address interface{}
	w, err := a.wallets.Load(ctx)
	if err == nil {
		address = w.Address
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"agent":            "buyer",
		"walletAddress":    address,
		"walletConfigured": err == nil,
		"state":            a.scheduler.State().String(),
		"totalPurchases":   stats.Count,
		"totalSpent":       stats.TotalSpent,
	})
}

func (a *API) purchases(c echo.Context) error {
	purchases, err := a.history.ListPurchases(c.Request().Context(), purchaseListLimit)
	if err != nil {
		return a.fail(c, err)
	}
	return c.JSON(http.StatusOK, purchases)
}

func (a *API) logs(c echo.Context) error {
	logs, err := a.history.ListLogs(c.Request().Context(), logListLimit)
	if err != nil {
		return a.fail(c, err)
	}
	return c.JSON(http.StatusOK, logs)
}

func (a *API) getWallet(c echo.Context) error {
	w, err := a.wallets.Load(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusOK, map[string]interface{}{"configured": false})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"configured": true, "address": w.Address})
}

type walletRequest struct {
	PrivateKey string `json:"privateKey"`
	Mnemonic   string `json:"mnemonic"`
}

func (a *API) setWallet(c echo.Context) error {
	var req walletRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	switch {
	case req.PrivateKey != "":
		w, err := a.wallets.Rotate(c.Request().Context(), req.PrivateKey)
		if errors.Is(err, wallet.ErrInvalidKey) {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid private key"})
		}
		if err != nil {
			return a.fail(c, err)
		}
		return c.JSON(http.StatusOK, map[string]interface{}{"success": true, "address": w.Address, "type": "privateKey"})
	case req.Mnemonic != "":
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "mnemonic import is not supported, provide privateKey"})
	default:
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "privateKey or mnemonic is required"})
	}
}

func (a *API) deleteWallet(c echo.Context) error {
	if err := a.wallets.Clear(c.Request().Context()); err != nil {
		return a.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"success": true})
}

func (a *API) walletInfo(c echo.Context) error {
	ctx := c.Request().Context()
	w, err := a.wallets.Load(ctx)
	if err != nil {
		return c.JSON(http.StatusOK, map[string]interface{}{"configured": false})
	}
	if a.balances == nil {
		return c.JSON(http.StatusOK, map[string]interface{}{"configured": true, "address": w.Address, "error": "Balance lookup not configured"})
	}

	mon, err := a.balances.GetBalance(ctx, w.Address, "")
	if err != nil {
		return c.JSON(http.StatusOK, map[string]interface{}{"configured": true, "address": w.Address, "error": "Failed to fetch balances"})
	}
	usdc, err := a.balances.GetBalance(ctx, w.Address, a.usdc)
	if err != nil {
		return c.JSON(http.StatusOK, map[string]interface{}{"configured": true, "address": w.Address, "error": "Failed to fetch balances"})
	}

	pxpay := "0"
	if token, decimals, ok := a.rewardToken(ctx); ok {
		if raw, err := a.balances.GetBalance(ctx, w.Address, token); err == nil {
			pxpay = x402evm.FormatAmount(raw, decimals)
		}
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"configured": true,
		"address":    w.Address,
		"mon":        x402evm.FormatAmount(mon, 18),
		"usdc":       x402evm.FormatAmount(usdc, x402evm.DefaultDecimals),
		"pxpay":      pxpay,
	})
}

// rewardToken asks the seller which reward token it distributes.
func (a *API) rewardToken(ctx context.Context) (string, int, bool) {
	if a.sellerURL == "" {
		return "", 0, false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.sellerURL+"/api/token-stats", nil)
	if err != nil {
		return "", 0, false
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", 0, false
	}
	defer resp.Body.Close()

	var stats struct {
		Deployed bool   `json:"deployed"`
		Address  string `json:"address"`
		Decimals int    `json:"decimals"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil || !stats.Deployed || stats.Address == "" {
		return "", 0, false
	}
	if stats.Decimals == 0 {
		stats.Decimals = 18
	}
	return stats.Address, stats.Decimals, true
}

func (a *API) trigger(c echo.Context) error {
	result, err := a.scheduler.RunOnce(c.Request().Context())
	if errors.Is(err, ErrRunInProgress) {
		return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success":   true,
		"checked":   result.Checked,
		"unsold":    result.Unsold,
		"purchased": result.Purchased,
	})
}

func (a *API) fail(c echo.Context, err error) error {
	a.logger.Error("request failed", "path", c.Path(), "error", err)
	return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
}
