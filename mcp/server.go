package mcp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/tlguszz1010/Pixel-Pay/pkg/buyer"
	"github.com/tlguszz1010/Pixel-Pay/pkg/store"
)

// Implementation identifies the buyer's MCP server.
var Implementation = &mcpsdk.Implementation{
	Name:    "pixelpay-buyer",
	Version: "1.0.0",
}

type toolServer struct {
	runner  Runner
	history History
	wallet  WalletStatus
	logger  *slog.Logger
}

// Option configures the buyer tool server
type Option func(*toolServer)

// WithWallet reports wallet status from w in buyer_status.
func WithWallet(w WalletStatus) Option {
	return func(s *toolServer) {
		s.wallet = w
	}
}

// WithLogger sets the tool server's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *toolServer) {
		s.logger = logger
	}
}

// NewBuyerServer creates an MCP server exposing the buyer's tools.
func NewBuyerServer(runner Runner, history History, opts ...Option) *mcpsdk.Server {
	s := &toolServer{
		runner:  runner,
		history: history,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	server := mcpsdk.NewServer(Implementation, nil)

	server.AddTool(&mcpsdk.Tool{
		Name:        ToolTriggerPurchase,
		Description: "Run the buyer pipeline once: fetch the seller's gallery, pick an unsold image and pay for it with x402.",
		InputSchema: map[string]interface{}{"type": "object"},
	}, s.triggerPurchase)

	server.AddTool(&mcpsdk.Tool{
		Name:        ToolListPurchases,
		Description: "List the buyer's recent purchases, newest first.",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of purchases to return (1-50)",
				},
			},
		},
	}, s.listPurchases)

	server.AddTool(&mcpsdk.Tool{
		Name:        ToolBuyerStatus,
		Description: "Report the buyer's pipeline state, purchase totals and wallet status.",
		InputSchema: map[string]interface{}{"type": "object"},
	}, s.buyerStatus)

	return server
}

// Handler serves server over the streamable HTTP transport.
func Handler(server *mcpsdk.Server) http.Handler {
	return mcpsdk.NewStreamableHTTPHandler(func(*http.Request) *mcpsdk.Server {
		return server
	}, nil)
}

func (s *toolServer) triggerPurchase(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	result, err := s.runner.RunOnce(ctx)
	if errors.Is(err, buyer.ErrRunInProgress) {
		return errorResult("A purchase run is already in progress"), nil
	}
	if err != nil {
		s.logger.Warn("triggered purchase failed", "error", err)
		return errorResult(err.Error()), nil
	}

	return jsonResult(TriggerResult{
		Success:   true,
		Checked:   result.Checked,
		Unsold:    result.Unsold,
		Purchased: result.Purchased,
	})
}

func (s *toolServer) listPurchases(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	args := parseArguments(req.Params.Arguments)
	limit := intArgument(args, "limit", MaxPurchaseLimit, MaxPurchaseLimit)

	purchases, err := s.history.ListPurchases(ctx, limit)
	if err != nil {
		s.logger.Error("failed to list purchases", "error", err)
		return errorResult("Failed to read purchases"), nil
	}
	if purchases == nil {
		purchases = []store.Purchase{}
	}
	return jsonResult(PurchasesResult{Purchases: purchases})
}

func (s *toolServer) buyerStatus(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	stats, err := s.history.PurchaseStats(ctx)
	if err != nil {
		s.logger.Error("failed to read purchase stats", "error", err)
		return errorResult("Failed to read purchase stats"), nil
	}

	return jsonResult(StatusResult{
		Agent:            "buyer",
		State:            s.runner.State().String(),
		TotalPurchases:   stats.Count,
		TotalSpent:       stats.TotalSpent,
		WalletConfigured: s.wallet != nil && s.wallet.Configured(ctx),
	})
}
