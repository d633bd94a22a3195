package buyer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	x402 "github.com/tlguszz1010/Pixel-Pay"
)

// DefaultRequestTimeout bounds catalog and artifact requests.
const DefaultRequestTimeout = 30 * time.Second

// Listing is one gallery entry as served by the seller.
type Listing struct {
	ID         string `json:"id"`
	Prompt     string `json:"prompt"`
	ImageURL   string `json:"imageUrl"`
	PreviewURL string `json:"previewUrl"`
	Price      string `json:"price"`
	Sold       bool   `json:"sold"`
	CreatedAt  string `json:"createdAt"`
}

// Catalog lists the seller's resources.
type Catalog interface {
	Gallery(ctx context.Context) ([]Listing, error)
}

// HTTPCatalog reads the seller's free gallery endpoint.
type HTTPCatalog struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPCatalog creates a catalog client for the seller at baseURL.
func NewHTTPCatalog(baseURL string, httpClient *http.Client) *HTTPCatalog {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultRequestTimeout}
	}
	return &HTTPCatalog{baseURL: strings.TrimSuffix(baseURL, "/"), httpClient: httpClient}
}

// Gallery implements Catalog. Transport failures and non-200 answers wrap
// x402.ErrUpstreamUnavailable.
func (c *HTTPCatalog) Gallery(ctx context.Context) ([]Listing, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/gallery", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: gallery fetch failed: %v", x402.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: gallery fetch failed: %s", x402.ErrUpstreamUnavailable, resp.Status)
	}

	var listings []Listing
	if err := json.NewDecoder(resp.Body).Decode(&listings); err != nil {
		return nil, fmt.Errorf("failed to decode gallery: %w", err)
	}
	return listings, nil
}

func unsold(listings []Listing) []Listing {
	var out []Listing
	for _, l := range listings {
		if !l.Sold {
			out = append(out, l)
		}
	}
	return out
}
