// Package events defines the messages fanned out on an auction's channel.
package events

import (
	"time"

	model "auction-house/internal/models"
	"auction-house/internal/status"

	"github.com/shopspring/decimal"
)

// Type names an event on an auction channel
type Type string

const (
	TypeAuctionState    Type = "auction_state"
	TypeNewBid          Type = "new_bid"
	TypeOutbid          Type = "outbid"
	TypeCounterOffer    Type = "counter_offer"
	TypeSellerDecision  Type = "seller_decision"
	TypeSettlementReady Type = "settlement_ready"
	TypeAuctionEnded    Type = "auction_ended"
)

// Event is one message on an auction channel. Seq is assigned by the broadcaster
// and increases by one per published event of a topic.
type Event struct {
	Type      Type      `json:"type"`
	AuctionID string    `json:"auction_id"`
	Seq       uint64    `json:"seq"`
	At        time.Time `json:"at"`
	Data      any       `json:"data"`
}

// StatePayload is the full current-state snapshot of an auction
type StatePayload struct {
	Status           model.Status      `json:"status"`
	Highest          *model.HighestBid `json:"highest"`
	NextMinBid       decimal.Decimal   `json:"next_min_bid"`
	EndsAt           time.Time         `json:"ends_at"`
	RemainingSeconds int64             `json:"remaining_seconds"`
}

// OutbidPayload names the dethroned leader and the new one
type OutbidPayload struct {
	Previous model.HighestBid `json:"previous"`
	Current  model.HighestBid `json:"current"`
}

// EndedPayload carries the final highest bid, nil when no bids were placed
type EndedPayload struct {
	Final *model.HighestBid `json:"final"`
}

// SettlementPayload points observers at the generated document
type SettlementPayload struct {
	URL        string          `json:"url"`
	FinalPrice decimal.Decimal `json:"final_price"`
}

// CounterPayload is the seller's counter plus the bidder who must answer it
type CounterPayload struct {
	model.Decision
	ToBidderID     string `json:"to_bidder_id"`
	ToBidderHandle string `json:"to_bidder_handle"`
}

// NextMinBid is the floor when there is no leader, otherwise the leader's amount plus the increment
func NextMinBid(a model.Auction, highest *model.HighestBid) decimal.Decimal {
	if highest == nil {
		return a.FloorPrice
	}
	return highest.Amount.Add(a.Increment)
}

// AuctionState builds the snapshot event for an auction at now
func AuctionState(a model.Auction, highest *model.HighestBid, now time.Time) Event {
	return Event{
		Type:      TypeAuctionState,
		AuctionID: a.AuctionID,
		At:        now,
		Data: StatePayload{
			Status:           status.Resolve(a, now),
			Highest:          highest,
			NextMinBid:       NextMinBid(a, highest),
			EndsAt:           status.EndsAt(a),
			RemainingSeconds: int64(status.Remaining(a, now) / time.Second),
		},
	}
}

func NewBid(b model.Bid) Event {
	return Event{Type: TypeNewBid, AuctionID: b.AuctionID, At: b.CreatedAt, Data: b}
}

func Outbid(previous, current model.HighestBid) Event {
	return Event{
		Type:      TypeOutbid,
		AuctionID: current.AuctionID,
		At:        current.CreatedAt,
		Data:      OutbidPayload{Previous: previous, Current: current},
	}
}

// CounterOffer addresses d to the current highest bidder
func CounterOffer(d model.Decision, to model.HighestBid) Event {
	return Event{
		Type:      TypeCounterOffer,
		AuctionID: d.AuctionID,
		At:        d.CreatedAt,
		Data:      CounterPayload{Decision: d, ToBidderID: to.BidderID, ToBidderHandle: to.BidderHandle},
	}
}

func SellerDecision(d model.Decision) Event {
	return Event{Type: TypeSellerDecision, AuctionID: d.AuctionID, At: d.CreatedAt, Data: d}
}

func SettlementReady(auctionID, url string, price decimal.Decimal, now time.Time) Event {
	return Event{
		Type:      TypeSettlementReady,
		AuctionID: auctionID,
		At:        now,
		Data:      SettlementPayload{URL: url, FinalPrice: price},
	}
}

func AuctionEnded(auctionID string, final *model.HighestBid, now time.Time) Event {
	return Event{Type: TypeAuctionEnded, AuctionID: auctionID, At: now, Data: EndedPayload{Final: final}}
}
