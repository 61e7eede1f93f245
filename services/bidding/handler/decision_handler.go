package handler

import (
	"net/http"

	model "auction-house/internal/models"
	"auction-house/services/bidding/helpers"
	"auction-house/utils"

	"github.com/gin-gonic/gin"
)

type DecisionHandler struct {
	service NegotiationServiceInterface
}

func NewDecisionHandler(service NegotiationServiceInterface) *DecisionHandler {
	return &DecisionHandler{service: service}
}

// GetDecisionHandler handles GET /auctions/:auction_id/decision
func (h *DecisionHandler) GetDecisionHandler(c *gin.Context) {
	auctionID := c.Param("auction_id")
	history, err := h.service.GetDecisions(c.Request.Context(), auctionID)
	if err != nil {
		helpers.RespondError(c, "GetDecisionHandler", err, map[string]any{"auction_id": auctionID})
		return
	}
	if history.History == nil {
		history.History = []model.Decision{}
	}

	utils.JSONResponse(c, http.StatusOK, history, "decisions retrieved successfully")
}

// DecideHandler handles POST /auctions/:auction_id/decision
func (h *DecisionHandler) DecideHandler(c *gin.Context) {
	seller, ok := requireUser(c, "DecideHandler")
	if !ok {
		return
	}

	var req helpers.DecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		helpers.HandleBindError(c, "DecideHandler", err)
		return
	}

	auctionID := c.Param("auction_id")
	decision, err := h.service.Decide(c.Request.Context(), auctionID, seller, model.DecisionKind(req.Action), req.Price)
	if err != nil {
		helpers.RespondError(c, "DecideHandler", err, map[string]any{
			"auction_id": auctionID,
			"user_id":    seller.UserID,
			"action":     req.Action,
		})
		return
	}

	utils.JSONResponse(c, http.StatusCreated, decision, "decision recorded successfully")
	helpers.LogSuccess("DecideHandler", "decision recorded successfully", map[string]any{
		"auction_id":  auctionID,
		"decision_id": decision.DecisionID,
		"type":        decision.Kind,
	})
}

// AcknowledgeCounterHandler handles POST /auctions/:auction_id/counter/ack
func (h *DecisionHandler) AcknowledgeCounterHandler(c *gin.Context) {
	bidder, ok := requireUser(c, "AcknowledgeCounterHandler")
	if !ok {
		return
	}

	var req helpers.AcknowledgeCounterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		helpers.HandleBindError(c, "AcknowledgeCounterHandler", err)
		return
	}

	auctionID := c.Param("auction_id")
	decision, err := h.service.AcknowledgeCounter(c.Request.Context(), auctionID, bidder, *req.Accept, req.Price)
	if err != nil {
		helpers.RespondError(c, "AcknowledgeCounterHandler", err, map[string]any{
			"auction_id": auctionID,
			"user_id":    bidder.UserID,
			"accept":     *req.Accept,
		})
		return
	}

	utils.JSONResponse(c, http.StatusCreated, decision, "counter offer answered")
	helpers.LogSuccess("AcknowledgeCounterHandler", "counter offer answered", map[string]any{
		"auction_id": auctionID,
		"type":       decision.Kind,
	})
}
