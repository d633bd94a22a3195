// Package sale runs the post-payment side effects of a sale: mark the
// resource sold, mint a provenance token to the buyer and distribute the
// reward token. Once the resource is sold the remaining steps are
// best-effort and never fail the sale.
package sale

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	x402 "github.com/tlguszz1010/Pixel-Pay"
	x402evm "github.com/tlguszz1010/Pixel-Pay/mechanisms/evm"
	"github.com/tlguszz1010/Pixel-Pay/pkg/store"
)

const (
	// DefaultRewardAmount is the per-purchase reward in display units.
	DefaultRewardAmount = "100"

	// ReservePercent of the operator's own balance is never distributed.
	ReservePercent = 5

	// DefaultStepTimeout bounds each chain step.
	DefaultStepTimeout = 2 * time.Minute

	// RewardTokenSymbol is shown next to reward amounts.
	RewardTokenSymbol = "PXPAY"
)

// Log types written to the audit trail.
const (
	LogNFTMint     = "nft-mint"
	LogNFTError    = "nft-error"
	LogTokenReward = "token-reward"
	LogTokenSkip   = "token-skip"
	LogTokenError  = "token-error"
	LogSale        = "sale"
)

// Store is the persistence the pipeline needs.
type Store interface {
	GetResource(ctx context.Context, id string) (*store.Resource, error)
	MarkSold(ctx context.Context, id string) (bool, error)
	RecordProvenance(ctx context.Context, p *store.ProvenanceRecord) error
	RecordReward(ctx context.Context, d *store.RewardDistribution) error
	AppendLog(ctx context.Context, logType, message string, metadata map[string]interface{}) error
}

// Minter mints provenance tokens.
type Minter interface {
	Mint(ctx context.Context, to, uri string) (*big.Int, string, error)
}

// RewardToken pays rewards from the operator's balance.
type RewardToken interface {
	Holder() string
	Decimals(ctx context.Context) (uint8, error)
	BalanceOf(ctx context.Context, account string) (*big.Int, error)
	Transfer(ctx context.Context, to string, amount *big.Int) (string, error)
}

// StepStatus is the tagged result of one side effect.
type StepStatus string

const (
	StepSuccess StepStatus = "success"
	StepSkipped StepStatus = "skipped"
	StepFailed  StepStatus = "failed"
)

// StepResult reports one side effect.
type StepResult struct {
	Status StepStatus
	Detail string
	TxHash string

	// TokenID is set by a successful mint, Amount by a successful reward.
	TokenID string
	Amount  string
}

// Outcome aggregates a completed sale.
type Outcome struct {
	Resource    *store.Resource
	Payer       string
	Settlement  *x402.SettleResponse
	AlreadySold bool
	Mint        StepResult
	Reward      StepResult
	Failures    []*x402.SideEffectFailure
}

// Pipeline reserves resources before settlement and completes sales after.
type Pipeline struct {
	store        Store
	minter       Minter
	rewardToken  RewardToken
	rewardAmount string
	metadataBase string
	stepTimeout  time.Duration
	logger       *slog.Logger

	mu       sync.Mutex
	reserved map[string]struct{}
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithMinter enables provenance minting.
func WithMinter(m Minter) Option {
	return func(p *Pipeline) {
		p.minter = m
	}
}

// WithRewardToken enables reward distribution.
func WithRewardToken(t RewardToken) Option {
	return func(p *Pipeline) {
		p.rewardToken = t
	}
}

// WithRewardAmount sets the fixed per-purchase reward in display units.
func WithRewardAmount(amount string) Option {
	return func(p *Pipeline) {
		if amount != "" {
			p.rewardAmount = amount
		}
	}
}

// WithMetadataBaseURL sets the server URL token metadata is served from.
func WithMetadataBaseURL(url string) Option {
	return func(p *Pipeline) {
		p.metadataBase = strings.TrimSuffix(url, "/")
	}
}

// WithStepTimeout bounds each chain step.
func WithStepTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		p.stepTimeout = d
	}
}

// WithLogger sets the pipeline's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// NewPipeline creates a sale pipeline over s.
func NewPipeline(s Store, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:        s,
		rewardAmount: DefaultRewardAmount,
		stepTimeout:  DefaultStepTimeout,
		logger:       slog.Default(),
		reserved:     make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Reservation is an in-process claim on an unsold resource, held between
// payment verification and sale completion.
type Reservation struct {
	Resource *store.Resource

	pipeline *Pipeline
	once     sync.Once
}

// Release drops the claim. It is safe to call more than once.
func (r *Reservation) Release() {
	r.once.Do(func() {
		r.pipeline.mu.Lock()
		delete(r.pipeline.reserved, r.Resource.ID)
		r.pipeline.mu.Unlock()
	})
}

// Reserve claims resourceID for one buyer. It fails with
// x402.ErrResourceNotFound, or x402.ErrAlreadySold when the resource is sold
// or claimed by a concurrent request.
func (p *Pipeline) Reserve(ctx context.Context, resourceID string) (*Reservation, error) {
	resource, err := p.store.GetResource(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	if resource.Sold {
		return nil, x402.ErrAlreadySold
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, taken := p.reserved[resourceID]; taken {
		return nil, x402.ErrAlreadySold
	}
	p.reserved[resourceID] = struct{}{}

	return &Reservation{Resource: resource, pipeline: p}, nil
}

// Complete marks the reserved resource sold, then mints and rewards
// concurrently. Side-effect failures are logged and reported in the
// Outcome; only a failure to record the sale itself is returned.
func (p *Pipeline) Complete(ctx context.Context, reservation *Reservation, payer string, settlement *x402.SettleResponse) (*Outcome, error) {
	defer reservation.Release()
	resource := reservation.Resource

	outcome := &Outcome{Resource: resource, Payer: payer, Settlement: settlement}

	sold, err := p.store.MarkSold(ctx, resource.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to record sale of %s: %w", resource.ID, err)
	}
	if !sold {
		outcome.AlreadySold = true
		p.audit(ctx, LogSale, fmt.Sprintf("Image %s was already sold", resource.ID), map[string]interface{}{
			"imageId": resource.ID,
			"buyer":   payer,
		})
		return outcome, nil
	}

	saleMeta := map[string]interface{}{"imageId": resource.ID, "buyer": payer, "price": resource.Price}
	if settlement != nil {
		saleMeta["txHash"] = settlement.Transaction
	}
	p.audit(ctx, LogSale, fmt.Sprintf("Sold image %s for %s USDC", resource.ID, resource.Price), saleMeta)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		outcome.Mint = p.mintProvenance(ctx, resource, payer)
	}()
	go func() {
		defer wg.Done()
		outcome.Reward = p.distributeReward(ctx, resource, payer)
	}()
	wg.Wait()

	if outcome.Mint.Status == StepFailed {
		outcome.Failures = append(outcome.Failures, &x402.SideEffectFailure{Step: x402.StepMint, Err: fmt.Errorf("%s", outcome.Mint.Detail)})
	}
	if outcome.Reward.Status == StepFailed {
		outcome.Failures = append(outcome.Failures, &x402.SideEffectFailure{Step: x402.StepReward, Err: fmt.Errorf("%s", outcome.Reward.Detail)})
	}
	return outcome, nil
}

func (p *Pipeline) mintProvenance(ctx context.Context, resource *store.Resource, payer string) StepResult {
	if p.minter == nil {
		return StepResult{Status: StepSkipped, Detail: "NFT contract not configured"}
	}
	if payer == "" {
		return StepResult{Status: StepSkipped, Detail: "buyer address unknown"}
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.stepTimeout)
	defer cancel()

	// The token id is only known after the mint, so the URI is set from a
	// placeholder and the record stores the final one.
	tokenID, txHash, err := p.minter.Mint(ctx, payer, p.metadataURI("0"))
	if err != nil {
		p.logger.Warn("provenance mint failed, sale still valid", "imageId", resource.ID, "buyer", payer, "error", err)
		p.audit(ctx, LogNFTError, fmt.Sprintf("NFT minting failed for image %s", resource.ID), map[string]interface{}{
			"error": err.Error(),
			"buyer": payer,
		})
		return StepResult{Status: StepFailed, Detail: err.Error(), TxHash: txHash}
	}

	record := &store.ProvenanceRecord{
		TokenID:     tokenID.String(),
		ResourceID:  resource.ID,
		Owner:       payer,
		TxHash:      txHash,
		MetadataURI: p.metadataURI(tokenID.String()),
	}
	if err := p.store.RecordProvenance(ctx, record); err != nil {
		p.logger.Error("failed to persist provenance record", "imageId", resource.ID, "tokenId", record.TokenID, "error", err)
	}

	p.audit(ctx, LogNFTMint, fmt.Sprintf("Minted NFT #%s to %s", record.TokenID, payer), map[string]interface{}{
		"tokenId": record.TokenID,
		"txHash":  txHash,
		"imageId": resource.ID,
	})
	return StepResult{Status: StepSuccess, TxHash: txHash, TokenID: record.TokenID}
}

func (p *Pipeline) distributeReward(ctx context.Context, resource *store.Resource, payer string) StepResult {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.stepTimeout)
	defer cancel()

	result := p.transferReward(ctx, payer)

	row := &store.RewardDistribution{
		Buyer:      payer,
		ResourceID: resource.ID,
		Amount:     result.Amount,
		Status:     store.RewardStatus(result.Status),
		Reason:     result.Detail,
	}
	if result.Status == StepSuccess {
		tx := result.TxHash
		row.TxHash = &tx
	}
	if err := p.store.RecordReward(ctx, row); err != nil {
		p.logger.Error("failed to persist reward distribution", "imageId", resource.ID, "error", err)
	}

	switch result.Status {
	case StepSuccess:
		p.audit(ctx, LogTokenReward, fmt.Sprintf("Sent %s %s to %s", result.Amount, RewardTokenSymbol, payer), map[string]interface{}{
			"txHash":  result.TxHash,
			"imageId": resource.ID,
		})
	case StepSkipped:
		p.audit(ctx, LogTokenSkip, result.Detail, map[string]interface{}{"buyer": payer, "imageId": resource.ID})
	default:
		p.logger.Warn("reward transfer failed, sale still valid", "imageId", resource.ID, "buyer", payer, "error", result.Detail)
		p.audit(ctx, LogTokenError, fmt.Sprintf("%s reward failed for image %s", RewardTokenSymbol, resource.ID), map[string]interface{}{
			"error": result.Detail,
			"buyer": payer,
		})
	}
	return result
}

func (p *Pipeline) transferReward(ctx context.Context, payer string) StepResult {
	if p.rewardToken == nil {
		return StepResult{Status: StepSkipped, Amount: "0", Detail: RewardTokenSymbol + " token not deployed"}
	}
	if payer == "" {
		return StepResult{Status: StepSkipped, Amount: "0", Detail: "buyer address unknown"}
	}

	decimals, err := p.rewardToken.Decimals(ctx)
	if err != nil {
		return StepResult{Status: StepFailed, Amount: "0", Detail: err.Error()}
	}
	amount, err := x402evm.ParseAmount(p.rewardAmount, int(decimals))
	if err != nil {
		return StepResult{Status: StepFailed, Amount: "0", Detail: err.Error()}
	}

	balance, err := p.rewardToken.BalanceOf(ctx, p.rewardToken.Holder())
	if err != nil {
		return StepResult{Status: StepFailed, Amount: "0", Detail: err.Error()}
	}
	if ok, minHold := reserveAllows(balance, amount); !ok {
		return StepResult{
			Status: StepSkipped,
			Amount: "0",
			Detail: fmt.Sprintf("Insufficient creator balance (have: %s, need to keep: %s)",
				x402evm.FormatAmount(balance, int(decimals)), x402evm.FormatAmount(minHold, int(decimals))),
		}
	}

	txHash, err := p.rewardToken.Transfer(ctx, payer, amount)
	if err != nil {
		return StepResult{Status: StepFailed, Amount: "0", Detail: err.Error(), TxHash: txHash}
	}
	return StepResult{Status: StepSuccess, Amount: p.rewardAmount, TxHash: txHash}
}

// reserveAllows reports whether paying amount keeps at least ReservePercent
// of balance, and returns that floor.
func reserveAllows(balance, amount *big.Int) (bool, *big.Int) {
	minHold := new(big.Int).Mul(balance, big.NewInt(ReservePercent))
	minHold.Div(minHold, big.NewInt(100))
	after := new(big.Int).Sub(balance, amount)
	return after.Cmp(minHold) >= 0, minHold
}

func (p *Pipeline) metadataURI(tokenID string) string {
	return p.metadataBase + "/api/nft/" + tokenID
}

func (p *Pipeline) audit(ctx context.Context, logType, message string, metadata map[string]interface{}) {
	if err := p.store.AppendLog(context.WithoutCancel(ctx), logType, message, metadata); err != nil {
		p.logger.Error("failed to append audit log", "type", logType, "error", err)
	}
}
