// Package negotiation runs the post-close protocol between the seller and the highest bidder.
package negotiation

import (
	"context"
	"fmt"

	"auction-house/internal/auctionlock"
	"auction-house/internal/biddingerrors"
	"auction-house/internal/events"
	model "auction-house/internal/models"
	"auction-house/internal/repository"
	"auction-house/internal/status"
	"auction-house/internal/tracker"
	"auction-house/utils"

	"code.cloudfoundry.org/clock"
	"github.com/shopspring/decimal"
)

// Publisher receives the events of committed transitions
type Publisher interface {
	Publish(ev events.Event)
}

// Settler takes over a sale once the auction has closed. Handoff must not block.
type Settler interface {
	Handoff(req model.SettlementRequest)
}

// NegotiationService records seller decisions and counter-offer acknowledgements.
//
// Transitions, for an auction whose status resolves to ended:
//
//	no decision      --accept-->  closed (accept, sale at highest bid)
//	no decision      --reject-->  closed (reject)
//	no decision      --counter--> counter open
//	counter open     --ack yes--> closed (counter_accepted, sale at counter price)
//	counter open     --ack no-->  closed (counter_rejected)
type NegotiationService struct {
	repo    repository.AuctionDB
	tracker tracker.Tracker
	locks   *auctionlock.KeyedMutex
	hub     Publisher
	clock   clock.Clock
	settler Settler
}

// NewNegotiationService creates a NegotiationService. settler may be nil.
func NewNegotiationService(
	repo repository.AuctionDB,
	tr tracker.Tracker,
	locks *auctionlock.KeyedMutex,
	hub Publisher,
	clk clock.Clock,
	settler Settler,
) *NegotiationService {
	return &NegotiationService{
		repo:    repo,
		tracker: tr,
		locks:   locks,
		hub:     hub,
		clock:   clk,
		settler: settler,
	}
}

// Decide records the seller's accept, reject or counter on an ended auction
func (s *NegotiationService) Decide(ctx context.Context, auctionID string, actor model.User, kind model.DecisionKind, price *decimal.Decimal) (model.Decision, error) {
	unlock := s.locks.Lock(auctionID)
	defer unlock()

	auction, err := s.endedAuction(ctx, auctionID)
	if err != nil {
		return model.Decision{}, err
	}

	if actor.UserID != auction.SellerID {
		return model.Decision{}, fmt.Errorf("negotiation: %w", biddingerrors.ErrOnlySeller)
	}

	latest, err := s.latest(ctx, auctionID)
	if err != nil {
		return model.Decision{}, err
	}
	if latest != nil && latest.Kind == model.DecisionCounter {
		return model.Decision{}, fmt.Errorf("negotiation: %w - countered at %s", biddingerrors.ErrCounterPending, latest.Price.StringFixed(model.MonetaryPrecision))
	}

	highest, err := s.tracker.Load(ctx, auctionID)
	if err != nil {
		return model.Decision{}, fmt.Errorf("negotiation: failed to read highest bid for auction %s: %w", auctionID, err)
	}

	decision := s.newDecision(auctionID, actor, kind)

	switch kind {
	case model.DecisionAccept:
		if highest == nil {
			return model.Decision{}, fmt.Errorf("negotiation: %w - nothing to accept", biddingerrors.ErrNoHighestBid)
		}
	case model.DecisionReject:
	case model.DecisionCounter:
		if price == nil || !price.IsPositive() || !price.Equal(price.Truncate(model.MonetaryPrecision)) {
			return model.Decision{}, fmt.Errorf("negotiation: %w - counter price must be positive with at most %d decimal places", biddingerrors.ErrInvalidAmount, model.MonetaryPrecision)
		}
		if highest == nil {
			return model.Decision{}, fmt.Errorf("negotiation: %w - nobody to counter", biddingerrors.ErrNoHighestBid)
		}
		p := *price
		decision.Price = &p
	default:
		return model.Decision{}, fmt.Errorf("negotiation: %w - unknown action %q", biddingerrors.ErrInvalidDecision, kind)
	}

	closed, err := s.commit(ctx, auction, decision)
	if err != nil {
		return model.Decision{}, err
	}

	if kind == model.DecisionCounter {
		s.hub.Publish(events.CounterOffer(decision, *highest))
	} else {
		s.hub.Publish(events.SellerDecision(decision))
	}
	s.hub.Publish(events.AuctionState(closed, highest, decision.CreatedAt))

	unlock()

	if kind.Sale() {
		s.handoff(closed, *highest, decision)
	}

	return decision, nil
}

// AcknowledgeCounter records the highest bidder's answer to an open counter offer.
// Accepting requires price to equal the counter price.
func (s *NegotiationService) AcknowledgeCounter(ctx context.Context, auctionID string, actor model.User, accept bool, price *decimal.Decimal) (model.Decision, error) {
	unlock := s.locks.Lock(auctionID)
	defer unlock()

	auction, err := s.endedAuction(ctx, auctionID)
	if err != nil {
		return model.Decision{}, err
	}

	latest, err := s.latest(ctx, auctionID)
	if err != nil {
		return model.Decision{}, err
	}
	if latest == nil || latest.Kind != model.DecisionCounter {
		return model.Decision{}, fmt.Errorf("negotiation: %w", biddingerrors.ErrNoOpenCounter)
	}

	highest, err := s.tracker.Load(ctx, auctionID)
	if err != nil {
		return model.Decision{}, fmt.Errorf("negotiation: failed to read highest bid for auction %s: %w", auctionID, err)
	}
	if highest == nil || highest.BidderID != actor.UserID {
		return model.Decision{}, fmt.Errorf("negotiation: %w", biddingerrors.ErrOnlyHighestBidder)
	}

	kind := model.DecisionCounterRejected
	if accept {
		if price == nil || !price.Equal(*latest.Price) {
			return model.Decision{}, fmt.Errorf("negotiation: %w - counter is %s", biddingerrors.ErrPriceMismatch, latest.Price.StringFixed(model.MonetaryPrecision))
		}
		kind = model.DecisionCounterAccepted
	}

	decision := s.newDecision(auctionID, actor, kind)
	if accept {
		p := *latest.Price
		decision.Price = &p
	}

	closed, err := s.commit(ctx, auction, decision)
	if err != nil {
		return model.Decision{}, err
	}

	s.hub.Publish(events.SellerDecision(decision))
	s.hub.Publish(events.AuctionState(closed, highest, decision.CreatedAt))

	unlock()

	if kind.Sale() {
		s.handoff(closed, *highest, decision)
	}

	return decision, nil
}

// ForceClose closes an auction without recording a decision
func (s *NegotiationService) ForceClose(ctx context.Context, auctionID string) (model.Auction, error) {
	unlock := s.locks.Lock(auctionID)
	defer unlock()

	now := s.clock.Now().UTC()
	closed, err := s.repo.CloseAuction(ctx, auctionID, now)
	if err != nil {
		return model.Auction{}, fmt.Errorf("negotiation: failed to close auction %s: %w", auctionID, err)
	}

	highest, err := s.tracker.Load(ctx, auctionID)
	if err != nil {
		utils.Warn("ForceClose: highest bid unavailable for state event", map[string]any{
			"auction_id": auctionID,
			"error":      err.Error(),
		})
	}
	s.hub.Publish(events.AuctionState(closed, highest, now))

	utils.Info("Auction force-closed", map[string]any{"auction_id": auctionID})
	return closed, nil
}

// GetDecisions returns the decision log, newest first, with its latest entry
func (s *NegotiationService) GetDecisions(ctx context.Context, auctionID string) (model.DecisionHistory, error) {
	log, err := s.repo.GetDecisions(ctx, auctionID)
	if err != nil {
		return model.DecisionHistory{}, fmt.Errorf("negotiation: failed to get decisions for auction %s: %w", auctionID, err)
	}
	history := model.DecisionHistory{History: log}
	if len(log) > 0 {
		latest := log[0]
		history.Latest = &latest
	}
	return history, nil
}

// Sale rebuilds the settlement request of a closed auction that ended in a sale
func (s *NegotiationService) Sale(ctx context.Context, auctionID string) (model.SettlementRequest, error) {
	auction, err := s.repo.GetAuction(ctx, auctionID)
	if err != nil {
		return model.SettlementRequest{}, fmt.Errorf("negotiation: failed to load auction %s: %w", auctionID, err)
	}
	if auction.Status != model.StatusClosed {
		return model.SettlementRequest{}, fmt.Errorf("negotiation: %w - auction is not closed", biddingerrors.ErrNoSale)
	}

	latest, err := s.latest(ctx, auctionID)
	if err != nil {
		return model.SettlementRequest{}, err
	}
	if latest == nil || !latest.Kind.Sale() {
		return model.SettlementRequest{}, fmt.Errorf("negotiation: %w", biddingerrors.ErrNoSale)
	}

	highest, err := s.tracker.Get(ctx, auctionID)
	if err != nil {
		return model.SettlementRequest{}, fmt.Errorf("negotiation: failed to read highest bid for auction %s: %w", auctionID, err)
	}
	if highest == nil {
		return model.SettlementRequest{}, fmt.Errorf("negotiation: %w - no winning bid", biddingerrors.ErrNoSale)
	}

	return saleRequest(auction, *highest, *latest), nil
}

// endedAuction loads an auction and enforces the closed and ended guards, in that order
func (s *NegotiationService) endedAuction(ctx context.Context, auctionID string) (model.Auction, error) {
	auction, err := s.repo.GetAuction(ctx, auctionID)
	if err != nil {
		return model.Auction{}, fmt.Errorf("negotiation: failed to load auction %s: %w", auctionID, err)
	}
	switch st := status.Resolve(auction, s.clock.Now().UTC()); st {
	case model.StatusClosed:
		return model.Auction{}, fmt.Errorf("negotiation: %w", biddingerrors.ErrAlreadyClosed)
	case model.StatusEnded:
		return auction, nil
	default:
		return model.Auction{}, fmt.Errorf("negotiation: %w - auction is %s", biddingerrors.ErrNotYetEnded, st)
	}
}

func (s *NegotiationService) latest(ctx context.Context, auctionID string) (*model.Decision, error) {
	log, err := s.repo.GetDecisions(ctx, auctionID)
	if err != nil {
		return nil, fmt.Errorf("negotiation: failed to read decisions for auction %s: %w", auctionID, err)
	}
	if len(log) == 0 {
		return nil, nil
	}
	return &log[0], nil
}

func (s *NegotiationService) newDecision(auctionID string, actor model.User, kind model.DecisionKind) model.Decision {
	return model.Decision{
		DecisionID:   utils.GenerateID(),
		AuctionID:    auctionID,
		Kind:         kind,
		AuthorID:     actor.UserID,
		AuthorHandle: actor.Handle,
		CreatedAt:    s.clock.Now().UTC(),
	}
}

// commit appends the decision; terminal kinds close the auction in the same store operation
func (s *NegotiationService) commit(ctx context.Context, auction model.Auction, decision model.Decision) (model.Auction, error) {
	if !decision.Kind.Terminal() {
		if err := s.repo.AppendDecision(ctx, decision); err != nil {
			return model.Auction{}, fmt.Errorf("negotiation: failed to record %s for auction %s: %w", decision.Kind, auction.AuctionID, err)
		}
		return auction, nil
	}

	closed, err := s.repo.AppendDecisionAndClose(ctx, decision)
	if err != nil {
		return model.Auction{}, fmt.Errorf("negotiation: failed to record %s for auction %s: %w", decision.Kind, auction.AuctionID, err)
	}
	utils.Info("Auction closed by decision", map[string]any{
		"auction_id": auction.AuctionID,
		"decision":   decision.Kind,
	})
	return closed, nil
}

func (s *NegotiationService) handoff(auction model.Auction, winner model.HighestBid, decision model.Decision) {
	if s.settler == nil {
		return
	}
	s.settler.Handoff(saleRequest(auction, winner, decision))
}

// saleRequest prices an accept at the winning bid and a counter_accepted at the counter
func saleRequest(auction model.Auction, winner model.HighestBid, decision model.Decision) model.SettlementRequest {
	price := winner.Amount
	if decision.Kind == model.DecisionCounterAccepted && decision.Price != nil {
		price = *decision.Price
	}
	return model.SettlementRequest{
		Auction:    auction,
		Seller:     model.User{UserID: auction.SellerID, Handle: auction.SellerHandle},
		Winner:     model.User{UserID: winner.BidderID, Handle: winner.BidderHandle},
		FinalPrice: price,
		Outcome:    decision.Kind,
		DecidedAt:  decision.CreatedAt,
	}
}
