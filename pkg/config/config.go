// Package config loads seller and buyer settings from the environment, after
// reading an optional .env file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	x402evm "github.com/tlguszz1010/Pixel-Pay/mechanisms/evm"
)

// DefaultNetwork is Monad mainnet.
const DefaultNetwork = "eip155:143"

// Common holds settings both agents share.
type Common struct {
	Port      string
	DBPath    string
	Network   string
	RPCURL    string
	LogFormat string
	LogLevel  string
}

// SellerConfig configures the seller agent.
type SellerConfig struct {
	Common

	PayTo          string
	Price          string
	ServerURL      string
	FacilitatorURL string
	FacilitatorKey string
	OperatorKey    string
	NFTAddress     string
	TokenAddress   string
	RewardAmount   string
	OpenAIKey      string
	SeedCount      int
}

// BuyerConfig configures the buyer agent.
type BuyerConfig struct {
	Common

	SellerURL    string
	PrivateKey   string
	AnthropicKey string
	StorageDir   string
	Interval     time.Duration
	InitialDelay time.Duration
}

// Load reads .env files into the process environment. Missing files are
// not an error.
func Load(files ...string) error {
	err := godotenv.Load(files...)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

// LoadSeller reads the seller's configuration.
func LoadSeller() (*SellerConfig, error) {
	common, err := loadCommon("4001", "pixelpay-seller.db")
	if err != nil {
		return nil, err
	}

	cfg := &SellerConfig{
		Common:         common,
		PayTo:          os.Getenv("PAY_TO"),
		Price:          getenv("PRICE", "$0.01"),
		ServerURL:      os.Getenv("SERVER_URL"),
		FacilitatorURL: os.Getenv("FACILITATOR_URL"),
		FacilitatorKey: os.Getenv("FACILITATOR_API_KEY"),
		OperatorKey:    os.Getenv("SELLER_PRIVATE_KEY"),
		NFTAddress:     os.Getenv("NFT_CONTRACT_ADDRESS"),
		TokenAddress:   os.Getenv("PXPAY_TOKEN_ADDRESS"),
		RewardAmount:   os.Getenv("PXPAY_REWARD_AMOUNT"),
		OpenAIKey:      os.Getenv("OPENAI_API_KEY"),
	}
	if cfg.ServerURL == "" {
		cfg.ServerURL = "http://localhost:" + cfg.Port
	}
	cfg.ServerURL = strings.TrimSuffix(cfg.ServerURL, "/")

	if cfg.SeedCount, err = getInt("SEED_COUNT", 3); err != nil {
		return nil, err
	}

	if cfg.PayTo == "" {
		return nil, errors.New("PAY_TO is required")
	}
	if !x402evm.IsValidAddress(cfg.PayTo) {
		return nil, fmt.Errorf("PAY_TO is not an address: %s", cfg.PayTo)
	}
	for name, addr := range map[string]string{
		"NFT_CONTRACT_ADDRESS": cfg.NFTAddress,
		"PXPAY_TOKEN_ADDRESS":  cfg.TokenAddress,
	} {
		if addr != "" && !x402evm.IsValidAddress(addr) {
			return nil, fmt.Errorf("%s is not an address: %s", name, addr)
		}
	}
	if cfg.FacilitatorURL == "" && cfg.OperatorKey == "" {
		return nil, errors.New("FACILITATOR_URL or SELLER_PRIVATE_KEY is required to settle payments")
	}
	return cfg, nil
}

// LoadBuyer reads the buyer's configuration.
func LoadBuyer() (*BuyerConfig, error) {
	common, err := loadCommon("4002", "pixelpay-buyer.db")
	if err != nil {
		return nil, err
	}

	cfg := &BuyerConfig{
		Common:       common,
		SellerURL:    strings.TrimSuffix(getenv("SELLER_URL", "http://localhost:4001"), "/"),
		PrivateKey:   os.Getenv("BUYER_PRIVATE_KEY"),
		AnthropicKey: os.Getenv("ANTHROPIC_API_KEY"),
		StorageDir:   getenv("STORAGE_DIR", "storage"),
	}
	if cfg.Interval, err = getDuration("BUY_INTERVAL", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.InitialDelay, err = getDuration("BUY_INITIAL_DELAY", 2*time.Minute); err != nil {
		return nil, err
	}
	if cfg.Interval <= 0 {
		return nil, errors.New("BUY_INTERVAL must be positive")
	}
	return cfg, nil
}

func loadCommon(port, dbPath string) (Common, error) {
	c := Common{
		Port:      getenv("PORT", port),
		DBPath:    getenv("DB_PATH", dbPath),
		Network:   getenv("NETWORK", DefaultNetwork),
		RPCURL:    os.Getenv("RPC_URL"),
		LogFormat: getenv("LOG_FORMAT", "text"),
		LogLevel:  getenv("LOG_LEVEL", "info"),
	}
	network, err := x402evm.GetNetworkConfig(c.Network)
	if err != nil {
		return Common{}, fmt.Errorf("NETWORK: %w", err)
	}
	if c.RPCURL == "" {
		c.RPCURL = network.RPCURL
	}
	return c, nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

// NewLogger builds the process logger: JSON when format is "json", text
// otherwise, at level ("debug", "info", "warn" or "error").
func NewLogger(format, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}
