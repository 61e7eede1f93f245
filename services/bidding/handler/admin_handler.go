package handler

import (
	"net/http"

	model "auction-house/internal/models"
	"auction-house/services/bidding/helpers"
	"auction-house/utils"

	"github.com/gin-gonic/gin"
)

// AdminHandler exposes operator endpoints guarded by the admin key
type AdminHandler struct {
	bidding     BiddingServiceInterface
	negotiation NegotiationServiceInterface
}

func NewAdminHandler(bidding BiddingServiceInterface, negotiation NegotiationServiceInterface) *AdminHandler {
	return &AdminHandler{bidding: bidding, negotiation: negotiation}
}

// ListAuctionsHandler handles GET /admin/auctions
func (h *AdminHandler) ListAuctionsHandler(c *gin.Context) {
	auctions, err := h.bidding.ListAuctions(c.Request.Context())
	if err != nil {
		helpers.RespondError(c, "AdminListAuctionsHandler", err, nil)
		return
	}
	if auctions == nil {
		auctions = []model.AuctionView{}
	}
	utils.JSONResponse(c, http.StatusOK, auctions, "auctions retrieved successfully")
}

// ForceCloseHandler handles POST /admin/auctions/:auction_id/close
func (h *AdminHandler) ForceCloseHandler(c *gin.Context) {
	auctionID := c.Param("auction_id")
	auction, err := h.negotiation.ForceClose(c.Request.Context(), auctionID)
	if err != nil {
		helpers.RespondError(c, "ForceCloseHandler", err, map[string]any{"auction_id": auctionID})
		return
	}

	utils.JSONResponse(c, http.StatusOK, auction, "auction closed")
	helpers.LogSuccess("ForceCloseHandler", "auction closed by operator", map[string]any{"auction_id": auctionID})
}

// DebugHandler handles GET /admin/auctions/:auction_id/debug
func (h *AdminHandler) DebugHandler(c *gin.Context) {
	auctionID := c.Param("auction_id")
	debug, err := h.bidding.Inspect(c.Request.Context(), auctionID)
	if err != nil {
		helpers.RespondError(c, "DebugHandler", err, map[string]any{"auction_id": auctionID})
		return
	}
	if !debug.Consistent {
		utils.Warn("DebugHandler: cached highest bid diverges from recomputed", map[string]any{"auction_id": auctionID})
	}
	utils.JSONResponse(c, http.StatusOK, debug, "auction diagnostics")
}

// HealthHandler handles GET /health
func HealthHandler(c *gin.Context) {
	utils.JSONResponse(c, http.StatusOK, gin.H{"ok": true}, "healthy")
}
