package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	x402 "github.com/tlguszz1010/Pixel-Pay"
)

// Resource is a sellable generated artifact.
type Resource struct {
	ID         string     `json:"id"`
	Prompt     string     `json:"prompt"`
	LocatorURL string     `json:"imageUrl"`
	LocalPath  string     `json:"localPath,omitempty"`
	Price      string     `json:"price"`
	MimeType   string     `json:"mimeType"`
	Sold       bool       `json:"sold"`
	SoldAt     *time.Time `json:"soldAt,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// GalleryItem is a resource with its post-sale records, if any.
type GalleryItem struct {
	Resource
	Provenance *ProvenanceRecord
	Reward     *RewardDistribution
}

// CatalogStats summarizes sales.
type CatalogStats struct {
	Total   int
	Sold    int
	Revenue float64
}

const resourceColumns = `id, prompt, locator_url, local_path, price, mime_type, sold, sold_at, created_at`

// CreateResource inserts r. CreatedAt defaults to now.
func (s *Store) CreateResource(ctx context.Context, r *Resource) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now()
	}
	if r.Price == "" {
		r.Price = "0.01"
	}
	if r.MimeType == "" {
		r.MimeType = "image/png"
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO resources (`+resourceColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Prompt, r.LocatorURL, r.LocalPath, r.Price, r.MimeType, r.Sold, nil, formatTime(r.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert resource: %w", err)
	}
	return nil
}

// GetResource returns the resource with id or x402.ErrResourceNotFound.
func (s *Store) GetResource(ctx context.Context, id string) (*Resource, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+resourceColumns+` FROM resources WHERE id = ?`, id)
	r, err := scanResource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, x402.ErrResourceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get resource: %w", err)
	}
	return r, nil
}

// ListResources returns all resources, newest first.
func (s *Store) ListResources(ctx context.Context) ([]Resource, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+resourceColumns+` FROM resources ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list resources: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var resources []Resource
	for rows.Next() {
		r, err := scanResource(rows)
		if err != nil {
			return nil, err
		}
		resources = append(resources, *r)
	}
	return resources, rows.Err()
}

// ListGallery returns every resource joined with its provenance record and
// reward distribution, newest first.
func (s *Store) ListGallery(ctx context.Context) ([]GalleryItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.prompt, r.locator_url, r.local_path, r.price, r.mime_type, r.sold, r.sold_at, r.created_at,
			p.token_id, p.owner, p.tx_hash, p.metadata_uri, p.minted_at,
			d.buyer, d.amount, d.tx_hash, d.status, d.reason, d.created_at
		FROM resources r
		LEFT JOIN provenance p ON p.resource_id = r.id
		LEFT JOIN reward_distributions d ON d.resource_id = r.id
		ORDER BY r.created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list gallery: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var items []GalleryItem
	for rows.Next() {
		var (
			r                                                 Resource
			soldAt                                            sql.NullString
			createdAt                                         string
			tokenID, owner, mintTx, metadataURI, mintedAt     sql.NullString
			buyer, amount, rewardTx, status, reason, rewardAt sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Prompt, &r.LocatorURL, &r.LocalPath, &r.Price, &r.MimeType, &r.Sold, &soldAt, &createdAt,
			&tokenID, &owner, &mintTx, &metadataURI, &mintedAt,
			&buyer, &amount, &rewardTx, &status, &reason, &rewardAt); err != nil {
			return nil, err
		}
		r.SoldAt = nullTime(soldAt)
		r.CreatedAt = parseTime(createdAt)

		item := GalleryItem{Resource: r}
		if tokenID.Valid {
			item.Provenance = &ProvenanceRecord{
				TokenID:     tokenID.String,
				ResourceID:  r.ID,
				Owner:       owner.String,
				TxHash:      mintTx.String,
				MetadataURI: metadataURI.String,
				MintedAt:    parseTime(mintedAt.String),
			}
		}
		if status.Valid {
			item.Reward = &RewardDistribution{
				Buyer:      buyer.String,
				ResourceID: r.ID,
				Amount:     amount.String,
				Status:     RewardStatus(status.String),
				Reason:     reason.String,
				CreatedAt:  parseTime(rewardAt.String),
			}
			if rewardTx.Valid {
				tx := rewardTx.String
				item.Reward.TxHash = &tx
			}
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// MarkSold flips the resource from unsold to sold. It reports false when
// the resource was already sold and x402.ErrResourceNotFound when it does
// not exist.
func (s *Store) MarkSold(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE resources SET sold = 1, sold_at = ? WHERE id = ? AND sold = 0`,
		formatTime(s.now()), id,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark sold: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to mark sold: %w", err)
	}
	if n == 1 {
		return true, nil
	}

	if _, err := s.GetResource(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// CatalogStats counts resources and sums the revenue of sold ones.
func (s *Store) CatalogStats(ctx context.Context) (CatalogStats, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT sold, price FROM resources`)
	if err != nil {
		return CatalogStats{}, fmt.Errorf("failed to read catalog stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var stats CatalogStats
	for rows.Next() {
		var (
			sold  bool
			price string
		)
		if err := rows.Scan(&sold, &price); err != nil {
			return CatalogStats{}, err
		}
		stats.Total++
		if sold {
			stats.Sold++
			if p, err := strconv.ParseFloat(price, 64); err == nil {
				stats.Revenue += p
			}
		}
	}
	return stats, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanResource(row rowScanner) (*Resource, error) {
	var (
		r         Resource
		soldAt    sql.NullString
		createdAt string
	)
	if err := row.Scan(&r.ID, &r.Prompt, &r.LocatorURL, &r.LocalPath, &r.Price, &r.MimeType, &r.Sold, &soldAt, &createdAt); err != nil {
		return nil, err
	}
	r.SoldAt = nullTime(soldAt)
	r.CreatedAt = parseTime(createdAt)
	return &r, nil
}
