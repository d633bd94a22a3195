// Package seller serves the seller agent's HTTP surface: a free catalog, the
// paid purchase and generation routes, and read-only stats for dashboards.
package seller

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	x402 "github.com/tlguszz1010/Pixel-Pay"
	x402http "github.com/tlguszz1010/Pixel-Pay/http"
	ginmw "github.com/tlguszz1010/Pixel-Pay/http/gin"
	"github.com/tlguszz1010/Pixel-Pay/pkg/generate"
	"github.com/tlguszz1010/Pixel-Pay/pkg/sale"
	"github.com/tlguszz1010/Pixel-Pay/pkg/store"
)

const (
	// DefaultPrice is the listing price of every generated image, in USDC.
	DefaultPrice = "0.01"

	// GenerationCost is what one generation costs the seller, in USDC.
	GenerationCost = 0.01

	logListLimit = 100

	// Log types written by the server.
	LogGenerate     = "generate"
	LogAutoGenerate = "auto-generate"
)

// Store is the persistence the server reads and writes.
type Store interface {
	CreateResource(ctx context.Context, r *store.Resource) error
	GetResource(ctx context.Context, id string) (*store.Resource, error)
	ListResources(ctx context.Context) ([]store.Resource, error)
	ListGallery(ctx context.Context) ([]store.GalleryItem, error)
	CatalogStats(ctx context.Context) (store.CatalogStats, error)
	ProvenanceByToken(ctx context.Context, tokenID string) (*store.ProvenanceRecord, *store.Resource, error)
	CountProvenance(ctx context.Context) (int, error)
	RewardStats(ctx context.Context) (store.RewardStats, error)
	ListLogs(ctx context.Context, limit int) ([]store.LogEntry, error)
	AppendLog(ctx context.Context, logType, message string, metadata map[string]interface{}) error
}

// TokenInfo reads the reward token for /api/token-stats.
type TokenInfo interface {
	Address() string
	Holder() string
	Decimals(ctx context.Context) (uint8, error)
	BalanceOf(ctx context.Context, account string) (*big.Int, error)
	TotalSupply(ctx context.Context) (*big.Int, error)
}

// BalanceReader reads native (empty token) and ERC-20 balances.
type BalanceReader interface {
	GetBalance(ctx context.Context, address string, tokenAddress string) (*big.Int, error)
}

// Server is the seller's HTTP surface.
type Server struct {
	store     Store
	pipeline  *sale.Pipeline
	guard     *x402http.PaymentGuard
	generator generate.Generator
	mock      generate.Generator

	token        TokenInfo
	rewardAmount string
	balances     BalanceReader
	operator     string
	usdc         string
	network      string
	payTo        string

	resourceRoot string
	logger       *slog.Logger
}

// Option configures a Server
type Option func(*Server)

// WithGenerator serves POST /generate with g.
func WithGenerator(g generate.Generator) Option {
	return func(s *Server) {
		s.generator = g
	}
}

// WithMockGenerator overrides the generator behind POST /generate-mock.
func WithMockGenerator(g generate.Generator) Option {
	return func(s *Server) {
		s.mock = g
	}
}

// WithTokenInfo enables /api/token-stats. amount is the reward per purchase
// in display units.
func WithTokenInfo(token TokenInfo, amount string) Option {
	return func(s *Server) {
		s.token = token
		s.rewardAmount = amount
	}
}

// WithBalances enables /api/wallet-info for the operator address.
func WithBalances(reader BalanceReader, operator, usdc string) Option {
	return func(s *Server) {
		s.balances = reader
		s.operator = operator
		s.usdc = usdc
	}
}

// WithNetwork sets the settlement network, used for explorer links.
func WithNetwork(network string) Option {
	return func(s *Server) {
		s.network = network
	}
}

// WithPayTo is reported by the service descriptor.
func WithPayTo(payTo string) Option {
	return func(s *Server) {
		s.payTo = payTo
	}
}

// WithResourceRootURL sets the public origin used in payment requirements.
func WithResourceRootURL(url string) Option {
	return func(s *Server) {
		s.resourceRoot = strings.TrimSuffix(url, "/")
	}
}

// WithLogger sets the server's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates the seller server. guard prices the routes returned by
// PaymentRoutes; pipeline completes sales.
func NewServer(s Store, pipeline *sale.Pipeline, guard *x402http.PaymentGuard, opts ...Option) *Server {
	srv := &Server{
		store:    s,
		pipeline: pipeline,
		guard:    guard,
		mock:     generate.MockGenerator{},
		network:  "eip155:143",
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(srv)
	}
	return srv
}

// PaymentRoutes prices the seller's protected routes.
func PaymentRoutes(payTo string, network x402.Network, price string) x402http.RoutesConfig {
	accepts := []x402.ResourceConfig{{
		Scheme:  "exact",
		PayTo:   payTo,
		Price:   price,
		Network: network,
	}}
	return x402http.RoutesConfig{
		"POST /generate": {
			Accepts:     accepts,
			Description: "Generate an AI image from a text prompt",
			MimeType:    "application/json",
		},
		"GET /api/gallery/buy": {
			Accepts:     accepts,
			Description: "Purchase a gallery image",
			MimeType:    "application/json",
		},
	}
}

// Handler builds the gin router.
func (s *Server) Handler() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), cors())

	var mwOpts []ginmw.Options
	mwOpts = append(mwOpts, ginmw.WithLogger(s.logger))
	if s.resourceRoot != "" {
		mwOpts = append(mwOpts, ginmw.WithResourceRootURL(s.resourceRoot))
	}
	r.Use(ginmw.PaymentMiddleware(s.guard, mwOpts...))

	r.GET("/", s.descriptor)
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "agent": "seller"})
	})

	r.POST("/generate", s.generate)
	r.POST("/generate-mock", s.generateMock)

	api := r.Group("/api")
	api.GET("/gallery", s.gallery)
	api.GET("/gallery/buy", s.buy)
	api.GET("/status", s.status)
	api.GET("/status/logs", s.logs)
	api.GET("/logs", s.logs)
	api.GET("/nft/:tokenId", s.nftMetadata)
	api.GET("/nft-stats", s.nftStats)
	api.GET("/token-stats", s.tokenStats)
	api.GET("/wallet-info", s.walletInfo)

	return r
}

func (s *Server) descriptor(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "PixelPay Seller Agent",
		"description": "Autonomous AI art economy powered by x402 micropayments on Monad",
		"payTo":       s.payTo,
		"endpoints": gin.H{
			"POST /generate":            "$0.01 USDC: generate an AI image (x402)",
			"POST /generate-mock":       "Free: mock image generation",
			"GET /api/gallery":          "Free: browse the gallery",
			"GET /api/gallery/buy?id=X": "$0.01 USDC: purchase an image (x402)",
			"GET /api/status":           "Free: revenue stats",
			"GET /api/token-stats":      "Free: $PXPAY token info",
			"GET /health":               "Free: health check",
		},
	})
}

func (s *Server) status(c *gin.Context) {
	stats, err := s.store.CatalogStats(c.Request.Context())
	if err != nil {
		s.internalError(c, "failed to read catalog stats", err)
		return
	}
	spent := float64(stats.Total) * GenerationCost
	c.JSON(http.StatusOK, gin.H{
		"agent":        "seller",
		"totalImages":  stats.Total,
		"totalSold":    stats.Sold,
		"totalRevenue": stats.Revenue,
		"totalSpent":   spent,
		"profit":       stats.Revenue - spent,
	})
}

func (s *Server) logs(c *gin.Context) {
	entries, err := s.store.ListLogs(c.Request.Context(), logListLimit)
	if err != nil {
		s.internalError(c, "failed to read logs", err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

func (s *Server) audit(ctx context.Context, logType, message string, metadata map[string]interface{}) {
	if err := s.store.AppendLog(context.WithoutCancel(ctx), logType, message, metadata); err != nil {
		s.logger.Error("failed to append audit log", "type", logType, "error", err)
	}
}

func (s *Server) internalError(c *gin.Context, message string, err error) {
	s.logger.Error(message, "path", c.Request.URL.Path, "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": message})
}

// cors allows any origin, for the dashboard.
func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, "+x402.HeaderPaymentSignature+", "+x402.HeaderLegacyPayment)
		h.Set("Access-Control-Expose-Headers", x402.HeaderPaymentRequired+", "+x402.HeaderPaymentResponse)
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
