package seller

import (
	"errors"
	"math/big"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	x402 "github.com/tlguszz1010/Pixel-Pay"
	x402evm "github.com/tlguszz1010/Pixel-Pay/mechanisms/evm"
)

const nativeDecimals = 18

type nftAttribute struct {
	TraitType string `json:"trait_type"`
	Value     string `json:"value"`
}

// nftMetadata is the ERC-721 tokenURI document.
type nftMetadata struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Image       string         `json:"image"`
	ExternalURL string         `json:"external_url"`
	Attributes  []nftAttribute `json:"attributes"`
}

func (s *Server) nftMetadata(c *gin.Context) {
	tokenID := c.Param("tokenId")
	if _, err := strconv.ParseUint(tokenID, 10, 64); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid tokenId"})
		return
	}

	record, resource, err := s.store.ProvenanceByToken(c.Request.Context(), tokenID)
	if errors.Is(err, x402.ErrResourceNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "NFT not found"})
		return
	}
	if err != nil {
		s.internalError(c, "failed to read NFT", err)
		return
	}

	c.JSON(http.StatusOK, nftMetadata{
		Name:        "PixelPay #" + tokenID,
		Description: "AI-generated image purchased via x402 agent-to-agent economy",
		Image:       resource.LocatorURL,
		ExternalURL: x402evm.ExplorerTxURL(s.network, record.TxHash),
		Attributes: []nftAttribute{
			{TraitType: "Prompt", Value: resource.Prompt},
			{TraitType: "Price", Value: resource.Price + " USDC"},
			{TraitType: "Image ID", Value: resource.ID},
		},
	})
}

func (s *Server) nftStats(c *gin.Context) {
	count, err := s.store.CountProvenance(c.Request.Context())
	if err != nil {
		s.internalError(c, "failed to count NFTs", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"totalMinted": count})
}

func (s *Server) tokenStats(c *gin.Context) {
	if s.token == nil {
		c.JSON(http.StatusOK, gin.H{"deployed": false})
		return
	}
	ctx := c.Request.Context()

	var (
		decimals       uint8
		totalSupply    *big.Int
		creatorBalance *big.Int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		decimals, err = s.token.Decimals(gctx)
		return err
	})
	g.Go(func() (err error) {
		totalSupply, err = s.token.TotalSupply(gctx)
		return err
	})
	g.Go(func() (err error) {
		creatorBalance, err = s.token.BalanceOf(gctx, s.token.Holder())
		return err
	})
	if err := g.Wait(); err != nil {
		s.logger.Error("failed to read token info", "token", s.token.Address(), "error", err)
		c.JSON(http.StatusOK, gin.H{"deployed": false, "error": "Failed to fetch token info"})
		return
	}

	rewards, err := s.store.RewardStats(ctx)
	if err != nil {
		s.internalError(c, "failed to read reward stats", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"deployed":          true,
		"address":           s.token.Address(),
		"decimals":          decimals,
		"totalSupply":       x402evm.FormatAmount(totalSupply, int(decimals)),
		"creatorBalance":    x402evm.FormatAmount(creatorBalance, int(decimals)),
		"creatorPercent":    creatorPercent(creatorBalance, totalSupply),
		"rewardPerPurchase": s.rewardAmount,
		"totalDistributed":  rewards.TotalDistributed,
		"distributionCount": rewards.Count,
	})
}

// creatorPercent is balance/supply as a percentage with two decimals.
func creatorPercent(balance, supply *big.Int) float64 {
	if supply.Sign() <= 0 {
		return 0
	}
	basisPoints := new(big.Int).Mul(balance, big.NewInt(10000))
	basisPoints.Div(basisPoints, supply)
	return float64(basisPoints.Int64()) / 100
}

func (s *Server) walletInfo(c *gin.Context) {
	if s.balances == nil || s.operator == "" {
		c.JSON(http.StatusOK, gin.H{"configured": false})
		return
	}
	ctx := c.Request.Context()

	var mon, usdc *big.Int
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		mon, err = s.balances.GetBalance(gctx, s.operator, "")
		return err
	})
	g.Go(func() (err error) {
		usdc, err = s.balances.GetBalance(gctx, s.operator, s.usdc)
		return err
	})
	if err := g.Wait(); err != nil {
		s.logger.Warn("failed to fetch seller balances", "address", s.operator, "error", err)
		c.JSON(http.StatusOK, gin.H{"configured": true, "address": s.operator, "error": "Failed to fetch balances"})
		return
	}

	pxpay := "0"
	if s.token != nil {
		if decimals, err := s.token.Decimals(ctx); err == nil {
			if balance, err := s.token.BalanceOf(ctx, s.operator); err == nil {
				pxpay = x402evm.FormatAmount(balance, int(decimals))
			}
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"configured": true,
		"address":    s.operator,
		"mon":        x402evm.FormatAmount(mon, nativeDecimals),
		"usdc":       x402evm.FormatAmount(usdc, x402evm.DefaultDecimals),
		"pxpay":      pxpay,
	})
}
