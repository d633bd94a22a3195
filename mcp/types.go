package mcp

import (
	"context"

	"github.com/tlguszz1010/Pixel-Pay/pkg/buyer"
	"github.com/tlguszz1010/Pixel-Pay/pkg/store"
)

// Tool names.
const (
	ToolTriggerPurchase = "trigger_purchase"
	ToolListPurchases   = "list_purchases"
	ToolBuyerStatus     = "buyer_status"
)

// Purchase listings are capped at MaxPurchaseLimit.
const MaxPurchaseLimit = 50

// Runner runs the buy pipeline.
type Runner interface {
	RunOnce(ctx context.Context) (*buyer.RunResult, error)
	State() buyer.State
}

// History is the buyer's persisted purchase record.
type History interface {
	PurchaseStats(ctx context.Context) (store.PurchaseStats, error)
	ListPurchases(ctx context.Context, limit int) ([]store.Purchase, error)
}

// WalletStatus reports whether a signing key is available.
type WalletStatus interface {
	Configured(ctx context.Context) bool
}

// TriggerResult is returned by trigger_purchase.
type TriggerResult struct {
	Success   bool    `json:"success"`
	Checked   int     `json:"checked"`
	Unsold    int     `json:"unsold"`
	Purchased *string `json:"purchased"`
}

// StatusResult is returned by buyer_status.
type StatusResult struct {
	Agent            string  `json:"agent"`
	State            string  `json:"state"`
	TotalPurchases   int     `json:"totalPurchases"`
	TotalSpent       float64 `json:"totalSpent"`
	WalletConfigured bool    `json:"walletConfigured"`
}

// PurchasesResult is returned by list_purchases.
type PurchasesResult struct {
	Purchases []store.Purchase `json:"purchases"`
}
