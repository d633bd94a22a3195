// Package buyer implements the autonomous buyer agent: it lists the
// seller's gallery, picks one unsold image and pays for it through the 402
// handshake, on a schedule or on demand.
package buyer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	x402 "github.com/tlguszz1010/Pixel-Pay"
	"github.com/tlguszz1010/Pixel-Pay/pkg/store"
	"github.com/tlguszz1010/Pixel-Pay/pkg/wallet"
)

const (
	DefaultInterval     = 5 * time.Minute
	DefaultInitialDelay = 2 * time.Minute
)

// Log types written by the scheduler.
const (
	LogSystem   = "system"
	LogPipeline = "pipeline"
	LogPurchase = "purchase"
	LogError    = "error"
)

// ErrRunInProgress is returned when a trigger arrives during an active run.
var ErrRunInProgress = errors.New("purchase run already in progress")

// State is the scheduler's position in a run.
type State int32

const (
	StateIdle State = iota
	StateFetching
	StateEvaluating
	StatePurchasing
	StateRecording
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateEvaluating:
		return "evaluating"
	case StatePurchasing:
		return "purchasing"
	case StateRecording:
		return "recording"
	default:
		return "unknown"
	}
}

// Ledger records purchases and audit entries.
type Ledger interface {
	RecordPurchase(ctx context.Context, p *store.Purchase) error
	AppendLog(ctx context.Context, logType, message string, metadata map[string]interface{}) error
}

// WalletSource loads the signing key for a run.
type WalletSource interface {
	Load(ctx context.Context) (*wallet.Wallet, error)
}

// RunResult summarizes one run. Purchased is nil when nothing was bought.
type RunResult struct {
	Checked   int     `json:"checked"`
	Unsold    int     `json:"unsold"`
	Purchased *string `json:"purchased"`
}

// Scheduler runs the buy pipeline, at most one run at a time.
type Scheduler struct {
	catalog      Catalog
	purchaser    Purchaser
	ledger       Ledger
	wallets      WalletSource
	strategy     Strategy
	interval     time.Duration
	initialDelay time.Duration
	logger       *slog.Logger

	sem   *semaphore.Weighted
	state atomic.Int32
}

// SchedulerOption configures a Scheduler
type SchedulerOption func(*Scheduler)

// WithStrategy sets how the candidate is picked. Default RandomStrategy.
func WithStrategy(s Strategy) SchedulerOption {
	return func(sc *Scheduler) {
		sc.strategy = s
	}
}

// WithInterval sets the period between scheduled runs.
func WithInterval(d time.Duration) SchedulerOption {
	return func(sc *Scheduler) {
		sc.interval = d
	}
}

// WithInitialDelay sets the delay before the first scheduled run.
func WithInitialDelay(d time.Duration) SchedulerOption {
	return func(sc *Scheduler) {
		sc.initialDelay = d
	}
}

// WithLogger sets the scheduler's logger.
func WithLogger(logger *slog.Logger) SchedulerOption {
	return func(sc *Scheduler) {
		sc.logger = logger
	}
}

// NewScheduler creates a scheduler.
func NewScheduler(catalog Catalog, purchaser Purchaser, ledger Ledger, wallets WalletSource, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		catalog:      catalog,
		purchaser:    purchaser,
		ledger:       ledger,
		wallets:      wallets,
		strategy:     RandomStrategy{},
		interval:     DefaultInterval,
		initialDelay: DefaultInitialDelay,
		logger:       slog.Default(),
		sem:          semaphore.NewWeighted(1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current run state.
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

func (s *Scheduler) setState(state State) {
	s.state.Store(int32(state))
}

// RunOnce executes one pipeline run. It returns ErrRunInProgress without
// waiting when another run is active.
func (s *Scheduler) RunOnce(ctx context.Context) (*RunResult, error) {
	if !s.sem.TryAcquire(1) {
		return nil, ErrRunInProgress
	}
	defer s.sem.Release(1)
	defer s.setState(StateIdle)

	w, err := s.wallets.Load(ctx)
	if err != nil {
		if errors.Is(err, x402.ErrWalletNotConfigured) {
			s.audit(ctx, LogError, "Pipeline skipped: wallet not configured", nil)
		}
		return nil, err
	}

	s.setState(StateFetching)
	s.audit(ctx, LogPipeline, "Fetching gallery listing", nil)
	gallery, err := s.catalog.Gallery(ctx)
	if err != nil {
		s.audit(ctx, LogError, fmt.Sprintf("Failed to fetch gallery: %v", err), nil)
		return nil, err
	}

	available := unsold(gallery)
	result := &RunResult{Checked: len(gallery), Unsold: len(available)}
	s.audit(ctx, LogPipeline, fmt.Sprintf("Gallery: %d total, %d unsold", len(gallery), len(available)), nil)
	if len(available) == 0 {
		s.audit(ctx, LogPipeline, "No unsold images available, skipping", nil)
		return result, nil
	}

	s.setState(StateEvaluating)
	candidates := make([]Candidate, len(available))
	for i, l := range available {
		candidates[i] = Candidate{ID: l.ID, Prompt: l.Prompt, Price: l.Price}
	}
	idx, err := s.strategy.Pick(ctx, candidates)
	if err != nil {
		s.audit(ctx, LogError, fmt.Sprintf("Evaluation failed: %v", err), nil)
		return nil, err
	}
	if idx < 0 || idx >= len(available) {
		s.logger.Warn("strategy picked out of range, using first image", "index", idx, "candidates", len(available))
		idx = 0
	}
	picked := available[idx]
	s.logger.Info("picked image", "imageId", picked.ID, "prompt", picked.Prompt)
	s.audit(ctx, LogPipeline, fmt.Sprintf("Selected: %q", picked.Prompt), map[string]interface{}{"imageId": picked.ID})

	s.setState(StatePurchasing)
	receipt, err := s.purchaser.Buy(ctx, w, picked)
	if err != nil {
		s.audit(ctx, LogError, fmt.Sprintf("Purchase failed: %v", err), map[string]interface{}{"imageId": picked.ID})
		return nil, err
	}

	s.setState(StateRecording)
	price := picked.Price
	if price == "" {
		price = "0.01"
	}
	purchase := &store.Purchase{
		ResourceID:   picked.ID,
		Prompt:       picked.Prompt,
		Price:        price,
		ArtifactPath: receipt.ArtifactPath,
	}
	if err := s.ledger.RecordPurchase(ctx, purchase); err != nil {
		s.logger.Error("failed to record purchase", "imageId", picked.ID, "error", err)
		return nil, err
	}

	meta := map[string]interface{}{"imageId": picked.ID, "filename": receipt.ArtifactPath}
	if receipt.Settlement != nil {
		meta["txHash"] = receipt.Settlement.Transaction
	}
	s.audit(ctx, LogPurchase, fmt.Sprintf("Bought: %q", picked.Prompt), meta)

	id := picked.ID
	result.Purchased = &id
	return result, nil
}

// Start runs the pipeline after the initial delay and then every interval
// until ctx is done. Run errors are logged and never stop the loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.audit(ctx, LogSystem, "Buyer Agent started", nil)

	timer := time.NewTimer(s.initialDelay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}
	s.runLogged(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runLogged(ctx)
		}
	}
}

func (s *Scheduler) runLogged(ctx context.Context) {
	result, err := s.RunOnce(ctx)
	if err != nil {
		s.logger.Warn("scheduled run failed", "error", err)
		return
	}
	purchased := ""
	if result.Purchased != nil {
		purchased = *result.Purchased
	}
	s.logger.Info("scheduled run finished", "checked", result.Checked, "unsold", result.Unsold, "purchased", purchased)
}

func (s *Scheduler) audit(ctx context.Context, logType, message string, metadata map[string]interface{}) {
	if err := s.ledger.AppendLog(context.WithoutCancel(ctx), logType, message, metadata); err != nil {
		s.logger.Error("failed to append audit log", "type", logType, "error", err)
	}
}
