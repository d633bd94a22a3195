// Command seller runs the PixelPay seller agent: it generates images, lists
// them in a gallery and sells each one once for USDC over x402, minting a
// provenance NFT and paying a PXPAY reward to the buyer.
package main

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/gin-gonic/gin"
	"github.com/sashabaranov/go-openai"

	x402 "github.com/tlguszz1010/Pixel-Pay"
	"github.com/tlguszz1010/Pixel-Pay/extensions/idempotency"
	x402http "github.com/tlguszz1010/Pixel-Pay/http"
	x402evm "github.com/tlguszz1010/Pixel-Pay/mechanisms/evm"
	"github.com/tlguszz1010/Pixel-Pay/pkg/config"
	"github.com/tlguszz1010/Pixel-Pay/pkg/generate"
	"github.com/tlguszz1010/Pixel-Pay/pkg/sale"
	"github.com/tlguszz1010/Pixel-Pay/pkg/seller"
	"github.com/tlguszz1010/Pixel-Pay/pkg/store"
	evmsigner "github.com/tlguszz1010/Pixel-Pay/signers/evm"
)

func main() {
	if err := config.Load(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg, err := config.LoadSeller()
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid configuration:", err)
		os.Exit(1)
	}

	logger := config.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("seller stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.SellerConfig, logger *slog.Logger) error {
	db, err := store.Open(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	network, err := x402evm.GetNetworkConfig(cfg.Network)
	if err != nil {
		return err
	}

	rpc, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", cfg.RPCURL, err)
	}
	defer rpc.Close()

	var key *ecdsa.PrivateKey
	if cfg.OperatorKey != "" {
		if key, err = evmsigner.ParsePrivateKey(cfg.OperatorKey); err != nil {
			return fmt.Errorf("SELLER_PRIVATE_KEY: %w", err)
		}
	}
	operator := evmsigner.NewOperatorClient(rpc, key, network.ChainID)

	guard, err := newGuard(cfg, operator, db, logger)
	if err != nil {
		return err
	}

	pipelineOpts := []sale.Option{
		sale.WithMetadataBaseURL(cfg.ServerURL),
		sale.WithLogger(logger),
	}
	serverOpts := []seller.Option{
		seller.WithNetwork(cfg.Network),
		seller.WithPayTo(cfg.PayTo),
		seller.WithResourceRootURL(cfg.ServerURL),
		seller.WithLogger(logger),
	}

	nftAddress, err := seller.ResolveSetting(ctx, db, seller.SettingNFTAddress, cfg.NFTAddress)
	if err != nil {
		return err
	}
	tokenAddress, err := seller.ResolveSetting(ctx, db, seller.SettingTokenAddress, cfg.TokenAddress)
	if err != nil {
		return err
	}
	rewardAmount, err := seller.ResolveSetting(ctx, db, seller.SettingRewardAmount, cfg.RewardAmount)
	if err != nil {
		return err
	}
	if rewardAmount == "" {
		rewardAmount = sale.DefaultRewardAmount
	}

	if operator.CanWrite() {
		serverOpts = append(serverOpts, seller.WithBalances(operator, operator.Address(), network.DefaultAsset.Address))

		if nftAddress != "" {
			pipelineOpts = append(pipelineOpts, sale.WithMinter(evmsigner.NewNFTContract(operator, nftAddress)))
		} else {
			logger.Warn("no NFT contract configured, provenance minting disabled")
		}

		if tokenAddress != "" {
			token := evmsigner.NewRewardToken(operator, tokenAddress)
			pipelineOpts = append(pipelineOpts, sale.WithRewardToken(token), sale.WithRewardAmount(rewardAmount))
			serverOpts = append(serverOpts, seller.WithTokenInfo(token, rewardAmount))
		} else {
			logger.Warn("no PXPAY token configured, purchase rewards disabled")
		}
	} else {
		logger.Warn("no operator key, minting and rewards disabled")
	}

	if cfg.OpenAIKey != "" {
		openaiConfig := openai.DefaultConfig(cfg.OpenAIKey)
		openaiConfig.HTTPClient = &http.Client{Timeout: generate.DefaultGenerateTimeout}
		generator := generate.NewOpenAIGenerator(openai.NewClientWithConfig(openaiConfig))
		serverOpts = append(serverOpts, seller.WithGenerator(generator))
	}

	srv := seller.NewServer(db, sale.NewPipeline(db, pipelineOpts...), guard, serverOpts...)

	if cfg.SeedCount > 0 {
		seeded, err := srv.Seed(ctx, cfg.SeedCount)
		if err != nil {
			logger.Warn("failed to seed gallery", "error", err)
		} else if seeded > 0 {
			logger.Info("seeded gallery", "count", seeded)
		}
	}

	gin.SetMode(gin.ReleaseMode)
	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("seller listening",
			"addr", httpServer.Addr,
			"network", cfg.Network,
			"payTo", cfg.PayTo,
			"price", cfg.Price)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
	return httpServer.Shutdown(shutdownCtx)
}

// newGuard settles through the remote facilitator when one is configured and
// through the operator's own wallet otherwise. Either way concurrent settles
// of one authorization are collapsed into a single transfer.
func newGuard(cfg *config.SellerConfig, operator *evmsigner.OperatorClient, audit x402http.AuditSink, logger *slog.Logger) (*x402http.PaymentGuard, error) {
	var facilitator x402.FacilitatorClient
	if cfg.FacilitatorURL != "" {
		fc := &x402http.FacilitatorConfig{URL: cfg.FacilitatorURL}
		if cfg.FacilitatorKey != "" {
			fc.AuthProvider = x402http.NewStaticAuthProvider(cfg.FacilitatorKey)
		}
		facilitator = x402http.NewHTTPFacilitatorClient(fc)
		logger.Info("settling through facilitator", "url", cfg.FacilitatorURL)
	} else {
		facilitator = x402evm.NewExactEvmFacilitator(operator)
		logger.Info("settling locally", "operator", operator.Address())
	}

	facilitator = idempotency.Wrap(facilitator, idempotency.WithLogger(logger))

	service := x402.NewX402ResourceService(x402.WithFacilitatorClient(facilitator))
	if err := x402evm.RegisterService(service, x402evm.NewExactEvmService(), cfg.Network); err != nil {
		return nil, err
	}

	return x402http.NewPaymentGuard(service,
		seller.PaymentRoutes(cfg.PayTo, x402.Network(cfg.Network), cfg.Price),
		x402http.WithLogger(logger),
		x402http.WithAuditSink(audit))
}
