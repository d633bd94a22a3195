package seller

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	x402 "github.com/tlguszz1010/Pixel-Pay"
	ginmw "github.com/tlguszz1010/Pixel-Pay/http/gin"
	"github.com/tlguszz1010/Pixel-Pay/pkg/generate"
	"github.com/tlguszz1010/Pixel-Pay/pkg/sale"
	"github.com/tlguszz1010/Pixel-Pay/pkg/store"
)

type nftView struct {
	TokenID string `json:"tokenId"`
	Owner   string `json:"owner"`
	TxHash  string `json:"txHash"`
}

type rewardView struct {
	Amount string  `json:"amount"`
	TxHash *string `json:"txHash"`
	Token  string  `json:"token"`
	Status string  `json:"status"`
}

type galleryView struct {
	ID          string      `json:"id"`
	Prompt      string      `json:"prompt"`
	ImageURL    string      `json:"imageUrl"`
	PreviewURL  string      `json:"previewUrl"`
	Price       string      `json:"price"`
	Sold        bool        `json:"sold"`
	CreatedAt   time.Time   `json:"createdAt"`
	NFT         *nftView    `json:"nft"`
	TokenReward *rewardView `json:"tokenReward"`
}

type purchaseView struct {
	ID          string      `json:"id"`
	Prompt      string      `json:"prompt"`
	ImageURL    string      `json:"imageUrl"`
	Purchased   bool        `json:"purchased"`
	NFT         *nftView    `json:"nft"`
	TokenReward *rewardView `json:"tokenReward"`
}

type generateRequest struct {
	Prompt string `json:"prompt"`
}

func (s *Server) gallery(c *gin.Context) {
	items, err := s.store.ListGallery(c.Request.Context())
	if err != nil {
		s.internalError(c, "failed to read gallery", err)
		return
	}

	views := make([]galleryView, 0, len(items))
	for _, item := range items {
		view := galleryView{
			ID:         item.ID,
			Prompt:     item.Prompt,
			ImageURL:   item.LocatorURL,
			PreviewURL: item.LocatorURL,
			Price:      item.Price,
			Sold:       item.Sold,
			CreatedAt:  item.CreatedAt,
		}
		if p := item.Provenance; p != nil {
			view.NFT = &nftView{TokenID: p.TokenID, Owner: p.Owner, TxHash: p.TxHash}
		}
		if r := item.Reward; r != nil {
			view.TokenReward = &rewardView{Amount: r.Amount, TxHash: r.TxHash, Token: sale.RewardTokenSymbol, Status: string(r.Status)}
		}
		views = append(views, view)
	}
	c.JSON(http.StatusOK, views)
}

// buy completes a paid purchase. The middleware has verified the payment;
// the resource is reserved before settling so a sold or claimed image never
// takes the buyer's money.
func (s *Server) buy(c *gin.Context) {
	ctx := c.Request.Context()

	id := c.Query("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id query parameter is required"})
		return
	}

	payment := ginmw.PaymentFromContext(c)
	if payment == nil {
		s.internalError(c, "payment context missing", errors.New("route is not protected"))
		return
	}

	reservation, err := s.pipeline.Reserve(ctx, id)
	switch {
	case errors.Is(err, x402.ErrResourceNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Image not found"})
		return
	case errors.Is(err, x402.ErrAlreadySold):
		c.JSON(http.StatusConflict, gin.H{"error": "Image already sold"})
		return
	case err != nil:
		s.internalError(c, "failed to reserve image", err)
		return
	}

	settlement, err := payment.Settle(ctx)
	if err != nil {
		reservation.Release()
		s.logger.Warn("settlement failed", "imageId", id, "payer", payment.Payer, "error", err)
		requote, rerr := payment.Requote(ctx, "Payment settlement failed")
		if rerr != nil {
			s.internalError(c, "failed to build payment requirement", rerr)
			return
		}
		ginmw.AbortWithPaymentRequired(c, requote)
		return
	}

	outcome, err := s.pipeline.Complete(ctx, reservation, payment.Payer, settlement)
	if err != nil {
		s.internalError(c, "failed to record sale", err)
		return
	}
	if outcome.AlreadySold {
		// Payment is settled; report success without provenance or reward.
		s.logger.Warn("image sold during settlement", "imageId", id, "payer", payment.Payer)
	}

	for _, failure := range outcome.Failures {
		s.logger.Warn("sale side effect failed", "imageId", id, "step", failure.Step, "error", failure.Err)
	}

	resource := outcome.Resource
	view := purchaseView{
		ID:        resource.ID,
		Prompt:    resource.Prompt,
		ImageURL:  resource.LocatorURL,
		Purchased: true,
	}
	if outcome.Mint.Status == sale.StepSuccess {
		view.NFT = &nftView{TokenID: outcome.Mint.TokenID, Owner: payment.Payer, TxHash: outcome.Mint.TxHash}
	}
	if outcome.Reward.Status == sale.StepSuccess {
		tx := outcome.Reward.TxHash
		view.TokenReward = &rewardView{Amount: outcome.Reward.Amount, TxHash: &tx, Token: sale.RewardTokenSymbol, Status: string(store.RewardSuccess)}
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) generate(c *gin.Context) {
	if s.generator == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Image generation not configured"})
		return
	}
	s.create(c, s.generator, LogGenerate, "Generated")
}

func (s *Server) generateMock(c *gin.Context) {
	s.create(c, s.mock, LogGenerate, "Mock generated")
}

func (s *Server) create(c *gin.Context, g generate.Generator, logType, verb string) {
	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Prompt == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "prompt is required"})
		return
	}

	ctx := c.Request.Context()
	image, err := g.Generate(ctx, req.Prompt)
	if err != nil {
		s.logger.Error("image generation failed", "prompt", req.Prompt, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Image generation failed", "detail": err.Error()})
		return
	}

	resource, err := s.addImage(ctx, image, logType, fmt.Sprintf("%s: %q", verb, image.Prompt))
	if err != nil {
		s.internalError(c, "failed to store image", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"prompt": resource.Prompt, "imageUrl": resource.LocatorURL, "id": resource.ID})
}

func (s *Server) addImage(ctx context.Context, image *generate.Image, logType, message string) (*store.Resource, error) {
	resource := &store.Resource{
		ID:         uuid.NewString(),
		Prompt:     image.Prompt,
		LocatorURL: image.URL,
		Price:      DefaultPrice,
	}
	if err := s.store.CreateResource(ctx, resource); err != nil {
		return nil, err
	}
	s.audit(ctx, logType, message, map[string]interface{}{
		"id":       resource.ID,
		"imageUrl": resource.LocatorURL,
	})
	return resource, nil
}
