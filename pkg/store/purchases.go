package store

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// Purchase is a buyer-side record of a bought resource.
type Purchase struct {
	ID           int64     `json:"id"`
	ResourceID   string    `json:"imageId"`
	Prompt       string    `json:"prompt"`
	Price        string    `json:"price"`
	BoughtAt     time.Time `json:"purchasedAt"`
	ArtifactPath string    `json:"filename,omitempty"`
}

// PurchaseStats summarizes the buyer's spending.
type PurchaseStats struct {
	Count      int
	TotalSpent float64
}

// RecordPurchase appends p and sets its ID.
func (s *Store) RecordPurchase(ctx context.Context, p *Purchase) error {
	if p.BoughtAt.IsZero() {
		p.BoughtAt = s.now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO purchases (resource_id, prompt, price, bought_at, artifact_path) VALUES (?, ?, ?, ?, ?)`,
		p.ResourceID, p.Prompt, p.Price, formatTime(p.BoughtAt), p.ArtifactPath,
	)
	if err != nil {
		return fmt.Errorf("failed to insert purchase: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		p.ID = id
	}
	return nil
}

// ListPurchases returns the latest limit purchases, newest first.
func (s *Store) ListPurchases(ctx context.Context, limit int) ([]Purchase, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, resource_id, prompt, price, bought_at, artifact_path FROM purchases ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list purchases: %w", err)
	}
	defer func() { _ = rows.Close() }()

	purchases := []Purchase{}
	for rows.Next() {
		var (
			p        Purchase
			boughtAt string
		)
		if err := rows.Scan(&p.ID, &p.ResourceID, &p.Prompt, &p.Price, &boughtAt, &p.ArtifactPath); err != nil {
			return nil, err
		}
		p.BoughtAt = parseTime(boughtAt)
		purchases = append(purchases, p)
	}
	return purchases, rows.Err()
}

// PurchaseStats counts purchases and sums their prices.
func (s *Store) PurchaseStats(ctx context.Context) (PurchaseStats, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT price FROM purchases`)
	if err != nil {
		return PurchaseStats{}, fmt.Errorf("failed to read purchase stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var stats PurchaseStats
	for rows.Next() {
		var price string
		if err := rows.Scan(&price); err != nil {
			return PurchaseStats{}, err
		}
		stats.Count++
		if p, err := strconv.ParseFloat(price, 64); err == nil {
			stats.TotalSpent += p
		}
	}
	return stats, rows.Err()
}
