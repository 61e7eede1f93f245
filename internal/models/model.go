package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// MonetaryPrecision is the number of fractional digits an amount may carry.
const MonetaryPrecision int32 = 2

// Status is the lifecycle phase of an auction
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusLive      Status = "live"
	StatusEnded     Status = "ended"
	StatusClosed    Status = "closed"
)

// DecisionKind is the kind of an entry in an auction's decision log
type DecisionKind string

const (
	DecisionAccept          DecisionKind = "accept"
	DecisionReject          DecisionKind = "reject"
	DecisionCounter         DecisionKind = "counter"
	DecisionCounterAccepted DecisionKind = "counter_accepted"
	DecisionCounterRejected DecisionKind = "counter_rejected"
)

// Terminal reports whether recording the decision closes the auction
func (k DecisionKind) Terminal() bool {
	return k != DecisionCounter
}

// Sale reports whether the decision ends the auction with a sale
func (k DecisionKind) Sale() bool {
	return k == DecisionAccept || k == DecisionCounterAccepted
}

// User represents a participant in the auction
type User struct {
	UserID string `json:"user_id"`
	Handle string `json:"handle"`
	Email  string `json:"email,omitempty"`
}

// Auction represents a single-item, time-boxed auction.
// Status only ever holds scheduled, live or closed; ended is derived from the clock.
type Auction struct {
	AuctionID       string          `json:"auction_id"`
	ItemName        string          `json:"item_name"`
	Description     string          `json:"description,omitempty"`
	FloorPrice      decimal.Decimal `json:"floor_price"`
	Increment       decimal.Decimal `json:"bid_increment"`
	StartsAt        time.Time       `json:"starts_at"`
	DurationSeconds int64           `json:"duration_seconds"`
	SellerID        string          `json:"seller_id"`
	SellerHandle    string          `json:"seller_handle"`
	Status          Status          `json:"status"`
	CreatedAt       time.Time       `json:"created_at"`
	ClosedAt        *time.Time      `json:"closed_at,omitempty"`
}

// Duration returns the length of the live window
func (a Auction) Duration() time.Duration {
	return time.Duration(a.DurationSeconds) * time.Second
}

// NewAuction holds the seller-supplied fields of an auction being created
type NewAuction struct {
	ItemName        string
	Description     string
	FloorPrice      decimal.Decimal
	Increment       decimal.Decimal
	StartsAt        time.Time
	DurationSeconds int64
	Seller          User
}

// AuctionView is an auction together with its status resolved at read time
type AuctionView struct {
	Auction
	Status  Status      `json:"status"`
	EndsAt  time.Time   `json:"ends_at"`
	Highest *HighestBid `json:"highest,omitempty"`
}

// Bid represents a user's bid on an auction. Bids are immutable.
type Bid struct {
	BidID        string          `json:"bid_id"`
	AuctionID    string          `json:"auction_id"`
	BidderID     string          `json:"bidder_id"`
	BidderHandle string          `json:"bidder_handle"`
	Amount       decimal.Decimal `json:"amount"`
	CreatedAt    time.Time       `json:"created_at"`
}

// HighestBid is the cached projection of an auction's leading bid
type HighestBid struct {
	BidID        string          `json:"bid_id"`
	AuctionID    string          `json:"auction_id"`
	BidderID     string          `json:"bidder_id"`
	BidderHandle string          `json:"bidder_handle"`
	Amount       decimal.Decimal `json:"amount"`
	CreatedAt    time.Time       `json:"created_at"`
}

// HighestFromBid projects a bid onto the leading-bid view
func HighestFromBid(b Bid) HighestBid {
	return HighestBid{
		BidID:        b.BidID,
		AuctionID:    b.AuctionID,
		BidderID:     b.BidderID,
		BidderHandle: b.BidderHandle,
		Amount:       b.Amount,
		CreatedAt:    b.CreatedAt,
	}
}

// Outranks reports whether b beats the current leader: greater amount, or equal amount placed earlier.
func (b Bid) Outranks(current HighestBid) bool {
	if cmp := b.Amount.Cmp(current.Amount); cmp != 0 {
		return cmp > 0
	}
	return b.CreatedAt.Before(current.CreatedAt)
}

// HighestOf scans a bid sequence in any order and returns its leader, or nil when empty
func HighestOf(bids []Bid) *HighestBid {
	var best *HighestBid
	for _, b := range bids {
		if best == nil || b.Outranks(*best) {
			h := HighestFromBid(b)
			best = &h
		}
	}
	return best
}

// Decision is an entry in an auction's append-only negotiation log
type Decision struct {
	DecisionID   string           `json:"decision_id"`
	AuctionID    string           `json:"auction_id"`
	Kind         DecisionKind     `json:"type"`
	Price        *decimal.Decimal `json:"price,omitempty"`
	AuthorID     string           `json:"by_user_id"`
	AuthorHandle string           `json:"by_handle"`
	CreatedAt    time.Time        `json:"created_at"`
}

// DecisionHistory is the decision log, newest first
type DecisionHistory struct {
	Latest  *Decision  `json:"latest"`
	History []Decision `json:"history"`
}

// SettlementRequest carries everything the settlement collaborator needs for a sale
type SettlementRequest struct {
	Auction    Auction         `json:"auction"`
	Seller     User            `json:"seller"`
	Winner     User            `json:"winner"`
	FinalPrice decimal.Decimal `json:"final_price"`
	Outcome    DecisionKind    `json:"outcome"`
	DecidedAt  time.Time       `json:"decided_at"`
}

// DocumentRef points at a generated settlement document
type DocumentRef struct {
	AuctionID string `json:"auction_id"`
	Key       string `json:"key"`
	URL       string `json:"url"`
	Created   bool   `json:"created"`
}
