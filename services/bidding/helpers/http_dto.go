package helpers

import (
	"time"

	model "auction-house/internal/models"

	"github.com/shopspring/decimal"
)

// Request/Response DTOs
type PlaceBidRequest struct {
	AuctionID string          `json:"auction_id" binding:"required"`
	Amount    decimal.Decimal `json:"amount"`
}

type BidResponse struct {
	BidID        string `json:"bid_id"`
	AuctionID    string `json:"auction_id"`
	BidderID     string `json:"bidder_id"`
	BidderHandle string `json:"bidder_handle"`
	Amount       string `json:"amount"`
	CreatedAt    string `json:"created_at"`
}

type CreateAuctionRequest struct {
	ItemName        string          `json:"item_name" binding:"required"`
	Description     string          `json:"description"`
	FloorPrice      decimal.Decimal `json:"floor_price"`
	Increment       decimal.Decimal `json:"bid_increment"`
	StartsAt        *time.Time      `json:"starts_at"`
	DurationSeconds int64           `json:"duration_seconds" binding:"required"`
}

type NextMinBidResponse struct {
	AuctionID  string `json:"auction_id"`
	NextMinBid string `json:"next_min_bid"`
}

type DecisionRequest struct {
	Action string           `json:"action" binding:"required"`
	Price  *decimal.Decimal `json:"price"`
}

type AcknowledgeCounterRequest struct {
	Accept *bool            `json:"accept" binding:"required"`
	Price  *decimal.Decimal `json:"price"`
}

type LoginRequest struct {
	Handle string `json:"handle" binding:"required"`
	PIN    string `json:"pin" binding:"required"`
}

type UpdateEmailRequest struct {
	Email string `json:"email" binding:"required"`
}

type UpdatePINRequest struct {
	PIN string `json:"pin" binding:"required"`
}

// NewBidResponse formats a bid for the wire with two fractional digits
func NewBidResponse(bid model.Bid) BidResponse {
	return BidResponse{
		BidID:        bid.BidID,
		AuctionID:    bid.AuctionID,
		BidderID:     bid.BidderID,
		BidderHandle: bid.BidderHandle,
		Amount:       bid.Amount.StringFixed(model.MonetaryPrecision),
		CreatedAt:    bid.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func NewBidResponses(bids []model.Bid) []BidResponse {
	out := make([]BidResponse, 0, len(bids))
	for _, b := range bids {
		out = append(out, NewBidResponse(b))
	}
	return out
}
