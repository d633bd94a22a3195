package evm

import (
	"fmt"
	"strconv"
	"strings"

	x402 "github.com/tlguszz1010/Pixel-Pay"
)

// ExactEvmService implements the SchemeNetworkServer interface for EVM exact payments
type ExactEvmService struct {
	moneyParsers []x402.MoneyParser
}

// NewExactEvmService creates a new ExactEvmService
func NewExactEvmService() *ExactEvmService {
	return &ExactEvmService{}
}

// Scheme returns the scheme identifier
func (s *ExactEvmService) Scheme() string {
	return SchemeExact
}

// RegisterMoneyParser adds a custom dollar-to-asset conversion. Parsers run
// in registration order; one returning (nil, nil) defers to the next, and
// the network's default asset is the final fallback.
func (s *ExactEvmService) RegisterMoneyParser(parser x402.MoneyParser) *ExactEvmService {
	s.moneyParsers = append(s.moneyParsers, parser)
	return s
}

// ParsePrice converts a configured price into an asset amount. Accepted
// forms: x402.AssetAmount (used as is), a float64, or a decimal dollar
// string such as "$0.01", "0.01 USD" or "0.01 USDC".
func (s *ExactEvmService) ParsePrice(price interface{}, network x402.Network) (x402.AssetAmount, error) {
	switch p := price.(type) {
	case x402.AssetAmount:
		return s.checkAssetAmount(p)
	case *x402.AssetAmount:
		if p == nil {
			return x402.AssetAmount{}, fmt.Errorf("nil asset amount")
		}
		return s.checkAssetAmount(*p)
	case float64:
		return s.parseMoney(strconv.FormatFloat(p, 'f', -1, 64), p, network)
	case string:
		priceStr := strings.TrimSpace(p)
		priceStr = strings.TrimPrefix(priceStr, "$")
		priceStr = strings.TrimSuffix(priceStr, " USDC")
		priceStr = strings.TrimSuffix(priceStr, " USD")
		priceStr = strings.TrimSpace(priceStr)

		amount, err := strconv.ParseFloat(priceStr, 64)
		if err != nil {
			return x402.AssetAmount{}, fmt.Errorf("invalid price format: %s", p)
		}
		return s.parseMoney(priceStr, amount, network)
	default:
		return x402.AssetAmount{}, fmt.Errorf("unsupported price type %T", price)
	}
}

func (s *ExactEvmService) checkAssetAmount(amount x402.AssetAmount) (x402.AssetAmount, error) {
	if amount.Asset == "" {
		return x402.AssetAmount{}, fmt.Errorf("asset address is required")
	}
	if _, err := x402.ParseAmount(amount.Amount); err != nil {
		return x402.AssetAmount{}, err
	}
	return amount, nil
}

func (s *ExactEvmService) parseMoney(decimal string, amount float64, network x402.Network) (x402.AssetAmount, error) {
	if amount < 0 {
		return x402.AssetAmount{}, fmt.Errorf("negative price: %s", decimal)
	}

	for _, parser := range s.moneyParsers {
		result, err := parser(amount, network)
		if err != nil {
			return x402.AssetAmount{}, err
		}
		if result != nil {
			return *result, nil
		}
	}

	config, err := GetNetworkConfig(string(network))
	if err != nil {
		return x402.AssetAmount{}, err
	}

	units, err := ParseAmount(decimal, config.DefaultAsset.Decimals)
	if err != nil {
		return x402.AssetAmount{}, fmt.Errorf("failed to parse decimal price: %w", err)
	}

	return x402.AssetAmount{
		Asset:  config.DefaultAsset.Address,
		Amount: units.String(),
		Extra: map[string]interface{}{
			"name":    config.DefaultAsset.Name,
			"version": config.DefaultAsset.Version,
		},
	}, nil
}

// EnhancePaymentRequirements adds the EIP-712 token name and version the
// payer needs to sign, unless the price already supplied them.
func (s *ExactEvmService) EnhancePaymentRequirements(requirements x402.PaymentRequirements) (x402.PaymentRequirements, error) {
	networkStr := string(requirements.Network)
	if !IsValidNetwork(networkStr) {
		return requirements, fmt.Errorf("unsupported network: %s", requirements.Network)
	}
	if !IsValidAddress(requirements.PayTo) {
		return requirements, fmt.Errorf("invalid payTo address: %s", requirements.PayTo)
	}

	extra := make(map[string]interface{}, len(requirements.Extra)+2)
	for k, v := range requirements.Extra {
		extra[k] = v
	}

	if assetInfo, err := GetAssetInfo(networkStr, requirements.Asset); err == nil {
		if requirements.Asset == "" {
			requirements.Asset = assetInfo.Address
		}
		if _, ok := extra["name"]; !ok {
			extra["name"] = assetInfo.Name
		}
		if _, ok := extra["version"]; !ok {
			extra["version"] = assetInfo.Version
		}
	} else if _, ok := extra["name"]; !ok {
		return requirements, fmt.Errorf("asset %s needs EIP-712 name and version in extra", requirements.Asset)
	}

	requirements.Extra = extra
	return requirements, nil
}

// GetDisplayAmount formats a smallest-unit amount for display, e.g. "0.01 USDC".
func (s *ExactEvmService) GetDisplayAmount(amount string, network string, asset string) (string, error) {
	assetInfo, err := GetAssetInfo(network, asset)
	if err != nil {
		return "", err
	}
	units, err := x402.ParseAmount(amount)
	if err != nil {
		return "", err
	}
	return FormatAmount(units, assetInfo.Decimals) + " " + assetInfo.Name, nil
}
