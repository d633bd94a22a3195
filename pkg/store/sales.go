package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	x402 "github.com/tlguszz1010/Pixel-Pay"
)

// ProvenanceRecord links a sold resource to its minted token.
type ProvenanceRecord struct {
	TokenID     string    `json:"tokenId"`
	ResourceID  string    `json:"resourceId"`
	Owner       string    `json:"owner"`
	TxHash      string    `json:"txHash"`
	MetadataURI string    `json:"metadataUri"`
	MintedAt    time.Time `json:"mintedAt"`
}

// RewardStatus is the outcome of a reward distribution attempt.
type RewardStatus string

const (
	RewardSuccess RewardStatus = "success"
	RewardSkipped RewardStatus = "skipped"
	RewardFailed  RewardStatus = "failed"
)

// RewardDistribution records one reward attempt per sale. Amount is in the
// token's display units; skipped and failed attempts carry "0".
type RewardDistribution struct {
	Buyer      string       `json:"buyer"`
	ResourceID string       `json:"resourceId"`
	Amount     string       `json:"amount"`
	TxHash     *string      `json:"txHash"`
	Status     RewardStatus `json:"status"`
	Reason     string       `json:"reason,omitempty"`
	CreatedAt  time.Time    `json:"createdAt"`
}

// RewardStats summarizes successful distributions.
type RewardStats struct {
	TotalDistributed string
	Count            int
}

// ErrDuplicateRecord is returned when a resource already has a provenance
// record or reward distribution.
var ErrDuplicateRecord = errors.New("record already exists for resource")

// RecordProvenance stores p. A resource gets at most one record.
func (s *Store) RecordProvenance(ctx context.Context, p *ProvenanceRecord) error {
	if p.MintedAt.IsZero() {
		p.MintedAt = s.now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO provenance (token_id, resource_id, owner, tx_hash, metadata_uri, minted_at)
		VALUES (?, ?, ?, ?, ?, ?) ON CONFLICT(resource_id) DO NOTHING`,
		p.TokenID, p.ResourceID, p.Owner, p.TxHash, p.MetadataURI, formatTime(p.MintedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert provenance: %w", err)
	}
	return requireInserted(res)
}

// ProvenanceByToken returns the record for tokenID together with its
// resource, or x402.ErrResourceNotFound.
func (s *Store) ProvenanceByToken(ctx context.Context, tokenID string) (*ProvenanceRecord, *Resource, error) {
	var (
		p        ProvenanceRecord
		mintedAt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT token_id, resource_id, owner, tx_hash, metadata_uri, minted_at FROM provenance WHERE token_id = ?`,
		tokenID,
	).Scan(&p.TokenID, &p.ResourceID, &p.Owner, &p.TxHash, &p.MetadataURI, &mintedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, x402.ErrResourceNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get provenance: %w", err)
	}
	p.MintedAt = parseTime(mintedAt)

	resource, err := s.GetResource(ctx, p.ResourceID)
	if err != nil {
		return nil, nil, err
	}
	return &p, resource, nil
}

// CountProvenance returns the number of minted records.
func (s *Store) CountProvenance(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM provenance`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count provenance: %w", err)
	}
	return n, nil
}

// RecordReward stores d. A resource gets at most one distribution row.
func (s *Store) RecordReward(ctx context.Context, d *RewardDistribution) error {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = s.now()
	}
	if d.Status != RewardSuccess {
		d.Amount = "0"
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO reward_distributions (buyer, resource_id, amount, tx_hash, status, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?) ON CONFLICT(resource_id) DO NOTHING`,
		d.Buyer, d.ResourceID, d.Amount, d.TxHash, string(d.Status), d.Reason, formatTime(d.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert reward distribution: %w", err)
	}
	return requireInserted(res)
}

// RewardStats sums successful distributions.
func (s *Store) RewardStats(ctx context.Context) (RewardStats, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT amount FROM reward_distributions WHERE status = ?`, string(RewardSuccess))
	if err != nil {
		return RewardStats{}, fmt.Errorf("failed to read reward stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var stats RewardStats
	total := new(big.Rat)
	for rows.Next() {
		var amount string
		if err := rows.Scan(&amount); err != nil {
			return RewardStats{}, err
		}
		if v, ok := new(big.Rat).SetString(amount); ok {
			total.Add(total, v)
		}
		stats.Count++
	}
	stats.TotalDistributed = formatRat(total)
	return stats, rows.Err()
}

func requireInserted(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrDuplicateRecord
	}
	return nil
}

func formatRat(r *big.Rat) string {
	if r.IsInt() {
		return r.Num().String()
	}
	s := strings.TrimRight(r.FloatString(18), "0")
	return strings.TrimSuffix(s, ".")
}
