package handler

import (
	"fmt"
	"net/http"

	"auction-house/internal/settlement"
	"auction-house/services/bidding/helpers"
	"auction-house/utils"

	"github.com/gin-gonic/gin"
)

type SettlementHandler struct {
	service SettlementServiceInterface
}

func NewSettlementHandler(service SettlementServiceInterface) *SettlementHandler {
	return &SettlementHandler{service: service}
}

// GetSettlementHandler handles GET /auctions/:auction_id/settlement
func (h *SettlementHandler) GetSettlementHandler(c *gin.Context) {
	auctionID := c.Param("auction_id")
	ref, err := h.service.Document(c.Request.Context(), auctionID)
	if err != nil {
		helpers.RespondError(c, "GetSettlementHandler", err, map[string]any{"auction_id": auctionID})
		return
	}
	utils.JSONResponse(c, http.StatusOK, ref, "settlement document available")
}

// DownloadSettlementHandler handles GET /auctions/:auction_id/settlement/document
func (h *SettlementHandler) DownloadSettlementHandler(c *gin.Context) {
	auctionID := c.Param("auction_id")
	body, err := h.service.Download(c.Request.Context(), auctionID)
	if err != nil {
		helpers.RespondError(c, "DownloadSettlementHandler", err, map[string]any{"auction_id": auctionID})
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("inline; filename=%q", settlement.DocumentKey(auctionID)))
	c.Data(http.StatusOK, "application/pdf", body)
}

// EmailSettlementHandler handles POST /auctions/:auction_id/settlement/email
func (h *SettlementHandler) EmailSettlementHandler(c *gin.Context) {
	seller, ok := requireUser(c, "EmailSettlementHandler")
	if !ok {
		return
	}

	auctionID := c.Param("auction_id")
	ref, err := h.service.EmailDocument(c.Request.Context(), auctionID, seller)
	if err != nil {
		helpers.RespondError(c, "EmailSettlementHandler", err, map[string]any{
			"auction_id": auctionID,
			"user_id":    seller.UserID,
		})
		return
	}

	utils.JSONResponse(c, http.StatusOK, ref, "settlement document sent")
	helpers.LogSuccess("EmailSettlementHandler", "settlement document sent", map[string]any{"auction_id": auctionID})
}
