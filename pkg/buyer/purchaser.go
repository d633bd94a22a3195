package buyer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	x402 "github.com/tlguszz1010/Pixel-Pay"
	x402http "github.com/tlguszz1010/Pixel-Pay/http"
	x402evm "github.com/tlguszz1010/Pixel-Pay/mechanisms/evm"
	"github.com/tlguszz1010/Pixel-Pay/pkg/wallet"
)

// BuyResponse is the seller's answer to a successful purchase.
type BuyResponse struct {
	ID          string          `json:"id"`
	Prompt      string          `json:"prompt"`
	ImageURL    string          `json:"imageUrl"`
	Purchased   bool            `json:"purchased"`
	NFT         json.RawMessage `json:"nft,omitempty"`
	TokenReward json.RawMessage `json:"tokenReward,omitempty"`
}

// Receipt describes a completed purchase.
type Receipt struct {
	ResourceID   string
	ArtifactPath string
	Response     BuyResponse
	Settlement   *x402.SettleResponse
}

// Purchaser buys one listing with the given wallet.
type Purchaser interface {
	Buy(ctx context.Context, w *wallet.Wallet, listing Listing) (*Receipt, error)
}

// HTTPPurchaser pays the seller's buy endpoint through a PaymentExecutor and
// downloads the purchased artifact.
type HTTPPurchaser struct {
	sellerURL  string
	networks   []string
	storageDir string
	httpClient *http.Client
	timeout    time.Duration
	logger     *slog.Logger
}

// PurchaserOption configures an HTTPPurchaser
type PurchaserOption func(*HTTPPurchaser)

// WithNetworks limits the networks the buyer signs for.
func WithNetworks(networks ...string) PurchaserOption {
	return func(p *HTTPPurchaser) {
		p.networks = networks
	}
}

// WithStorageDir sets where purchased artifacts are saved. Empty disables
// downloading.
func WithStorageDir(dir string) PurchaserOption {
	return func(p *HTTPPurchaser) {
		p.storageDir = dir
	}
}

// WithPurchaserHTTPClient sets the HTTP client for buy and download requests.
func WithPurchaserHTTPClient(client *http.Client) PurchaserOption {
	return func(p *HTTPPurchaser) {
		p.httpClient = client
	}
}

// WithPurchaserLogger sets the purchaser's logger.
func WithPurchaserLogger(logger *slog.Logger) PurchaserOption {
	return func(p *HTTPPurchaser) {
		p.logger = logger
	}
}

// NewHTTPPurchaser creates a purchaser for the seller at sellerURL.
func NewHTTPPurchaser(sellerURL string, opts ...PurchaserOption) *HTTPPurchaser {
	p := &HTTPPurchaser{
		sellerURL:  strings.TrimSuffix(sellerURL, "/"),
		httpClient: &http.Client{Timeout: DefaultRequestTimeout},
		timeout:    x402http.DefaultExecutorTimeout,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Buy implements Purchaser.
func (p *HTTPPurchaser) Buy(ctx context.Context, w *wallet.Wallet, listing Listing) (*Receipt, error) {
	client := x402.NewX402Client()
	if err := x402evm.RegisterClient(client, w.Signer, p.networks...); err != nil {
		return nil, err
	}
	executor := x402http.NewPaymentExecutor(client,
		x402http.WithHTTPClient(p.httpClient),
		x402http.WithTimeout(p.timeout),
		x402http.WithExecutorLogger(p.logger),
	)

	buyURL := p.sellerURL + "/api/gallery/buy?id=" + url.QueryEscape(listing.ID)
	p.logger.Info("purchasing image", "imageId", listing.ID, "buyer", w.Address)

	resp, err := executor.Get(ctx, buyURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	receipt := &Receipt{ResourceID: listing.ID}
	if receipt.Settlement, err = x402http.SettlementFromResponse(resp); err != nil {
		p.logger.Warn("unreadable settlement header", "imageId", listing.ID, "error", err)
	}

	if err := json.NewDecoder(resp.Body).Decode(&receipt.Response); err != nil {
		return nil, fmt.Errorf("failed to decode buy response: %w", err)
	}

	imageURL := receipt.Response.ImageURL
	if imageURL == "" {
		imageURL = listing.ImageURL
	}
	if p.storageDir != "" && imageURL != "" {
		path, err := p.download(ctx, listing.ID, imageURL)
		if err != nil {
			// The purchase is settled; a lost download only loses the local copy.
			p.logger.Warn("artifact download failed", "imageId", listing.ID, "error", err)
		}
		receipt.ArtifactPath = path
	}
	return receipt, nil
}

func (p *HTTPPurchaser) download(ctx context.Context, id, imageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download returned %s", resp.Status)
	}

	path, err := artifactPath(p.storageDir, id, time.Now())
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(p.storageDir, 0o755); err != nil {
		return "", err
	}
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}

	_, err = io.Copy(f, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return "", err
	}
	filename := filepath.Base(path)
	return filename, nil
}

// artifactPath names the local copy of a purchased image. The id comes from
// the seller, so it must be a single path element inside dir.
func artifactPath(dir, id string, at time.Time) (string, error) {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) || filepath.Base(id) != id {
		return "", fmt.Errorf("invalid image id for artifact name: %q", id)
	}
	path := filepath.Join(dir, fmt.Sprintf("%s_%d.png", id, at.UnixMilli()))
	rel, err := filepath.Rel(dir, path)
	if err != nil || rel != filepath.Base(path) {
		return "", fmt.Errorf("artifact path escapes storage directory: %q", id)
	}
	return path, nil
}
