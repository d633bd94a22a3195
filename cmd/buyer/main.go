// Command buyer runs the PixelPay buyer agent: on a schedule it browses the
// seller's gallery, picks an unsold image and pays for it over x402.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"

	x402evm "github.com/tlguszz1010/Pixel-Pay/mechanisms/evm"
	"github.com/tlguszz1010/Pixel-Pay/mcp"
	"github.com/tlguszz1010/Pixel-Pay/pkg/buyer"
	"github.com/tlguszz1010/Pixel-Pay/pkg/config"
	"github.com/tlguszz1010/Pixel-Pay/pkg/store"
	"github.com/tlguszz1010/Pixel-Pay/pkg/wallet"
	evmsigner "github.com/tlguszz1010/Pixel-Pay/signers/evm"
)

func main() {
	if err := config.Load(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg, err := config.LoadBuyer()
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid configuration:", err)
		os.Exit(1)
	}

	logger := config.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("buyer stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.BuyerConfig, logger *slog.Logger) error {
	db, err := store.Open(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	network, err := x402evm.GetNetworkConfig(cfg.Network)
	if err != nil {
		return err
	}

	wallets := wallet.NewSecretProvider(db, wallet.WithEnvOverride(cfg.PrivateKey))
	if !wallets.Configured(ctx) {
		logger.Warn("no buyer wallet configured, runs are skipped until one is set through /api/wallet")
	}

	httpClient := &http.Client{Timeout: 30 * time.Second}
	catalog := buyer.NewHTTPCatalog(cfg.SellerURL, httpClient)
	purchaser := buyer.NewHTTPPurchaser(cfg.SellerURL,
		buyer.WithNetworks(cfg.Network),
		buyer.WithStorageDir(cfg.StorageDir),
		buyer.WithPurchaserHTTPClient(httpClient),
		buyer.WithPurchaserLogger(logger))

	strategy := buyer.Strategy(buyer.RandomStrategy{})
	if cfg.AnthropicKey != "" {
		strategy = buyer.RankingStrategy{
			Ranker: buyer.NewAnthropicRanker(cfg.AnthropicKey),
			Logger: logger,
		}
		logger.Info("ranking candidates with Claude")
	}

	scheduler := buyer.NewScheduler(catalog, purchaser, db, wallets,
		buyer.WithStrategy(strategy),
		buyer.WithInterval(cfg.Interval),
		buyer.WithInitialDelay(cfg.InitialDelay),
		buyer.WithLogger(logger))

	tools := mcp.NewBuyerServer(scheduler, db, mcp.WithWallet(wallets), mcp.WithLogger(logger))

	apiOpts := []buyer.APIOption{
		buyer.WithSellerURL(cfg.SellerURL),
		buyer.WithMCPHandler(mcp.Handler(tools)),
		buyer.WithAPILogger(logger),
	}
	rpc, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		logger.Warn("RPC unavailable, wallet balances disabled", "url", cfg.RPCURL, "error", err)
	} else {
		defer rpc.Close()
		reader := evmsigner.NewOperatorClient(rpc, nil, network.ChainID)
		apiOpts = append(apiOpts, buyer.WithBalanceReader(reader, network.DefaultAsset.Address))
	}

	api := buyer.NewAPI(scheduler, db, wallets, apiOpts...).Handler()
	api.HideBanner = true
	api.HidePort = true

	go scheduler.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("buyer listening",
			"addr", ":"+cfg.Port,
			"seller", cfg.SellerURL,
			"interval", cfg.Interval)
		if err := api.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return api.Shutdown(shutdownCtx)
}
