package handler

import (
	"net/http"
	"time"

	"auction-house/internal/biddingerrors"
	model "auction-house/internal/models"
	"auction-house/services/bidding/helpers"
	"auction-house/utils"

	"github.com/gin-gonic/gin"
)

type BiddingHandler struct {
	service BiddingServiceInterface
}

func NewBiddingHandler(service BiddingServiceInterface) *BiddingHandler {
	return &BiddingHandler{service: service}
}

// requireUser fetches the authenticated caller or writes a 401
func requireUser(c *gin.Context, handlerName string) (model.User, bool) {
	u, ok := helpers.CurrentUser(c)
	if !ok {
		helpers.RespondError(c, handlerName, biddingerrors.ErrUnauthorized, nil)
		return model.User{}, false
	}
	return u, true
}

// RecordBidHandler handles POST /bids
func (h *BiddingHandler) RecordBidHandler(c *gin.Context) {
	bidder, ok := requireUser(c, "RecordBidHandler")
	if !ok {
		return
	}

	var req helpers.PlaceBidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		helpers.HandleBindError(c, "RecordBidHandler", err)
		return
	}

	bid, err := h.service.PlaceBid(c.Request.Context(), req.AuctionID, bidder, req.Amount)
	if err != nil {
		helpers.RespondError(c, "RecordBidHandler", err, map[string]any{
			"auction_id": req.AuctionID,
			"user_id":    bidder.UserID,
			"amount":     req.Amount.String(),
		})
		return
	}

	utils.JSONResponse(c, http.StatusCreated, helpers.NewBidResponse(bid), "bid recorded successfully")
	helpers.LogSuccess("RecordBidHandler", "bid recorded successfully", map[string]any{
		"bid_id":     bid.BidID,
		"auction_id": bid.AuctionID,
		"user_id":    bidder.UserID,
		"amount":     helpers.FormatAmount(bid.Amount),
	})
}

// CreateAuctionHandler handles POST /auctions
func (h *BiddingHandler) CreateAuctionHandler(c *gin.Context) {
	seller, ok := requireUser(c, "CreateAuctionHandler")
	if !ok {
		return
	}

	var req helpers.CreateAuctionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		helpers.HandleBindError(c, "CreateAuctionHandler", err)
		return
	}

	var startsAt time.Time
	if req.StartsAt != nil {
		startsAt = *req.StartsAt
	}

	auction, err := h.service.CreateAuction(c.Request.Context(), model.NewAuction{
		ItemName:        req.ItemName,
		Description:     req.Description,
		FloorPrice:      req.FloorPrice,
		Increment:       req.Increment,
		StartsAt:        startsAt,
		DurationSeconds: req.DurationSeconds,
		Seller:          seller,
	})
	if err != nil {
		helpers.RespondError(c, "CreateAuctionHandler", err, map[string]any{"seller_id": seller.UserID})
		return
	}

	utils.JSONResponse(c, http.StatusCreated, auction, "auction created successfully")
	helpers.LogSuccess("CreateAuctionHandler", "auction created successfully", map[string]any{
		"auction_id": auction.AuctionID,
		"seller_id":  seller.UserID,
	})
}

// ListAuctionsHandler handles GET /auctions
func (h *BiddingHandler) ListAuctionsHandler(c *gin.Context) {
	auctions, err := h.service.ListAuctions(c.Request.Context())
	if err != nil {
		helpers.RespondError(c, "ListAuctionsHandler", err, nil)
		return
	}
	if auctions == nil {
		auctions = []model.AuctionView{}
	}

	utils.JSONResponse(c, http.StatusOK, auctions, "auctions retrieved successfully")
	helpers.LogSuccess("ListAuctionsHandler", "auctions retrieved successfully", map[string]any{"count": len(auctions)})
}

// GetAuctionHandler handles GET /auctions/:auction_id
func (h *BiddingHandler) GetAuctionHandler(c *gin.Context) {
	auctionID := c.Param("auction_id")
	auction, err := h.service.GetAuction(c.Request.Context(), auctionID)
	if err != nil {
		helpers.RespondError(c, "GetAuctionHandler", err, map[string]any{"auction_id": auctionID})
		return
	}

	utils.JSONResponse(c, http.StatusOK, auction, "auction retrieved successfully")
}

// NextMinBidHandler handles GET /auctions/:auction_id/next-min
func (h *BiddingHandler) NextMinBidHandler(c *gin.Context) {
	auctionID := c.Param("auction_id")
	minBid, err := h.service.NextMinBid(c.Request.Context(), auctionID)
	if err != nil {
		helpers.RespondError(c, "NextMinBidHandler", err, map[string]any{"auction_id": auctionID})
		return
	}

	utils.JSONResponse(c, http.StatusOK, helpers.NextMinBidResponse{
		AuctionID:  auctionID,
		NextMinBid: helpers.FormatAmount(minBid),
	}, "next minimum bid retrieved successfully")
}

// GetBidsByAuctionHandler handles GET /auctions/:auction_id/bids
func (h *BiddingHandler) GetBidsByAuctionHandler(c *gin.Context) {
	auctionID := c.Param("auction_id")
	bids, err := h.service.GetBidsForAuction(c.Request.Context(), auctionID)
	if err != nil {
		helpers.RespondError(c, "GetBidsByAuctionHandler", err, map[string]any{"auction_id": auctionID})
		return
	}

	utils.JSONResponse(c, http.StatusOK, helpers.NewBidResponses(bids), "bids retrieved successfully")
	helpers.LogSuccess("GetBidsByAuctionHandler", "bids retrieved successfully", map[string]any{
		"auction_id": auctionID,
		"count":      len(bids),
	})
}

// GetHighestBidHandler handles GET /auctions/:auction_id/highest.
// An auction without bids answers 200 with null data.
func (h *BiddingHandler) GetHighestBidHandler(c *gin.Context) {
	auctionID := c.Param("auction_id")
	highest, err := h.service.GetHighestBid(c.Request.Context(), auctionID)
	if err != nil {
		helpers.RespondError(c, "GetHighestBidHandler", err, map[string]any{"auction_id": auctionID})
		return
	}

	if highest == nil {
		utils.JSONResponse(c, http.StatusOK, nil, "no bids yet")
		return
	}
	utils.JSONResponse(c, http.StatusOK, helpers.NewBidResponse(model.Bid(*highest)), "highest bid retrieved successfully")
}

// GetAuctionsByUserHandler handles GET /users/:user_id/auctions
func (h *BiddingHandler) GetAuctionsByUserHandler(c *gin.Context) {
	userID := c.Param("user_id")
	auctions, err := h.service.GetAuctionsByBidder(c.Request.Context(), userID)
	if err != nil {
		helpers.RespondError(c, "GetAuctionsByUserHandler", err, map[string]any{"user_id": userID})
		return
	}
	if auctions == nil {
		auctions = []model.AuctionView{}
	}

	utils.JSONResponse(c, http.StatusOK, auctions, "auctions retrieved successfully")
	helpers.LogSuccess("GetAuctionsByUserHandler", "auctions retrieved successfully", map[string]any{
		"user_id":        userID,
		"auctions_count": len(auctions),
	})
}
