package bidding

import (
	"auction-house/internal/auctionlock"
	"auction-house/internal/biddingerrors"
	"auction-house/internal/broadcast"
	"auction-house/internal/events"
	model "auction-house/internal/models"
	"auction-house/internal/repository"
	"auction-house/internal/status"
	"auction-house/internal/tracker"
	"auction-house/utils"
	"context"
	"fmt"
	"strings"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/shopspring/decimal"
)

// EventHub is the part of the broadcaster the engine publishes to
type EventHub interface {
	Publish(ev events.Event)
	Subscribe(auctionID string, snapshot events.Event) *broadcast.Subscription
	SubscriberCount(auctionID string) int
}

// OutbidNotifier is told about a dethroned leader once the bid has committed
type OutbidNotifier interface {
	NotifyOutbid(auction model.Auction, previous, current model.HighestBid)
}

// AuctionDebug compares the cached leader with a full rescan of the bid store
type AuctionDebug struct {
	Auction     model.AuctionView `json:"auction"`
	BidCount    int               `json:"bid_count"`
	Cached      *model.HighestBid `json:"cached_highest"`
	Recomputed  *model.HighestBid `json:"recomputed_highest"`
	Consistent  bool              `json:"consistent"`
	Subscribers int               `json:"subscribers"`
}

// BiddingService admits bids and answers queries about auctions
type BiddingService struct {
	repo     repository.AuctionDB
	tracker  tracker.Tracker
	locks    *auctionlock.KeyedMutex
	hub      EventHub
	clock    clock.Clock
	notifier OutbidNotifier
}

// NewBiddingService creates a new BiddingService instance. notifier may be nil.
func NewBiddingService(
	repo repository.AuctionDB,
	tr tracker.Tracker,
	locks *auctionlock.KeyedMutex,
	hub EventHub,
	clk clock.Clock,
	notifier OutbidNotifier,
) *BiddingService {
	return &BiddingService{
		repo:     repo,
		tracker:  tr,
		locks:    locks,
		hub:      hub,
		clock:    clk,
		notifier: notifier,
	}
}

// PlaceBid validates and records a bid under the auction's lock
func (s *BiddingService) PlaceBid(ctx context.Context, auctionID string, bidder model.User, amount decimal.Decimal) (model.Bid, error) {
	if err := validateAmount(amount); err != nil {
		return model.Bid{}, err
	}

	unlock := s.locks.Lock(auctionID)
	defer unlock()

	auction, err := s.repo.GetAuction(ctx, auctionID)
	if err != nil {
		return model.Bid{}, fmt.Errorf("service: failed to load auction %s: %w", auctionID, err)
	}

	now := s.clock.Now().UTC()
	if st := status.Resolve(auction, now); st != model.StatusLive {
		return model.Bid{}, fmt.Errorf("service: %w - auction is %s", biddingerrors.ErrAuctionNotLive, st)
	}

	previous, err := s.tracker.Load(ctx, auctionID)
	if err != nil {
		return model.Bid{}, fmt.Errorf("service: failed to read highest bid for auction %s: %w", auctionID, err)
	}

	minBid := events.NextMinBid(auction, previous)
	if amount.LessThan(minBid) {
		return model.Bid{}, &biddingerrors.BidTooLowError{MinBid: minBid}
	}

	if bidder.UserID == auction.SellerID {
		return model.Bid{}, fmt.Errorf("service: %w", biddingerrors.ErrSellerCannotBid)
	}

	bid := model.Bid{
		BidID:        utils.GenerateID(),
		AuctionID:    auctionID,
		BidderID:     bidder.UserID,
		BidderHandle: bidder.Handle,
		Amount:       amount,
		CreatedAt:    now,
	}

	if err := s.repo.RecordBidForAuction(ctx, bid); err != nil {
		return model.Bid{}, fmt.Errorf("service: failed to record bid for auction %s by user %s: %w", auctionID, bidder.UserID, err)
	}

	if err := s.tracker.RecordIfHigher(ctx, auctionID, bid); err != nil {
		// the bid is committed; drop the cached value so the next read rescans
		s.tracker.Invalidate(auctionID)
		utils.Warn("PlaceBid: tracker update failed", map[string]any{
			"auction_id": auctionID,
			"bid_id":     bid.BidID,
			"error":      err.Error(),
		})
	}

	current := model.HighestFromBid(bid)
	s.hub.Publish(events.NewBid(bid))
	outbid := previous != nil && previous.BidderID != bid.BidderID
	if outbid {
		s.hub.Publish(events.Outbid(*previous, current))
	}
	s.hub.Publish(events.AuctionState(auction, &current, now))

	unlock()

	if outbid && s.notifier != nil {
		s.notifier.NotifyOutbid(auction, *previous, current)
	}

	return bid, nil
}

// validateAmount rejects non-positive amounts and sub-cent precision
func validateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("service: %w - amount must be positive", biddingerrors.ErrInvalidAmount)
	}
	if !amount.Equal(amount.Truncate(model.MonetaryPrecision)) {
		return fmt.Errorf("service: %w - at most %d decimal places", biddingerrors.ErrInvalidAmount, model.MonetaryPrecision)
	}
	return nil
}

// NextMinBid returns the smallest amount PlaceBid would currently accept
func (s *BiddingService) NextMinBid(ctx context.Context, auctionID string) (decimal.Decimal, error) {
	auction, err := s.repo.GetAuction(ctx, auctionID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("service: failed to load auction %s: %w", auctionID, err)
	}
	highest, err := s.tracker.Get(ctx, auctionID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("service: failed to read highest bid for auction %s: %w", auctionID, err)
	}
	return events.NextMinBid(auction, highest), nil
}

// CreateAuction validates and stores a new auction for the seller
func (s *BiddingService) CreateAuction(ctx context.Context, req model.NewAuction) (model.Auction, error) {
	now := s.clock.Now().UTC()
	if req.StartsAt.IsZero() {
		req.StartsAt = now
	}
	if err := validateNewAuction(req); err != nil {
		return model.Auction{}, err
	}

	auction := model.Auction{
		AuctionID:       utils.GenerateID(),
		ItemName:        strings.TrimSpace(req.ItemName),
		Description:     strings.TrimSpace(req.Description),
		FloorPrice:      req.FloorPrice,
		Increment:       req.Increment,
		StartsAt:        req.StartsAt.UTC(),
		DurationSeconds: req.DurationSeconds,
		SellerID:        req.Seller.UserID,
		SellerHandle:    req.Seller.Handle,
		Status:          model.StatusScheduled,
		CreatedAt:       now,
	}

	if err := s.repo.CreateAuction(ctx, auction); err != nil {
		return model.Auction{}, fmt.Errorf("service: failed to create auction: %w", err)
	}
	return auction, nil
}

func validateNewAuction(req model.NewAuction) error {
	switch {
	case strings.TrimSpace(req.ItemName) == "":
		return fmt.Errorf("service: %w - item name required", biddingerrors.ErrInvalidAuction)
	case req.Seller.UserID == "":
		return fmt.Errorf("service: %w - seller required", biddingerrors.ErrInvalidAuction)
	case req.FloorPrice.IsNegative():
		return fmt.Errorf("service: %w - floor price must not be negative", biddingerrors.ErrInvalidAuction)
	case !req.Increment.IsPositive():
		return fmt.Errorf("service: %w - increment must be positive", biddingerrors.ErrInvalidAuction)
	case req.DurationSeconds <= 0:
		return fmt.Errorf("service: %w - duration must be positive", biddingerrors.ErrInvalidAuction)
	case !req.FloorPrice.Equal(req.FloorPrice.Truncate(model.MonetaryPrecision)),
		!req.Increment.Equal(req.Increment.Truncate(model.MonetaryPrecision)):
		return fmt.Errorf("service: %w - prices carry at most %d decimal places", biddingerrors.ErrInvalidAuction, model.MonetaryPrecision)
	}
	return nil
}

// GetAuction returns an auction with its status resolved now
func (s *BiddingService) GetAuction(ctx context.Context, auctionID string) (model.AuctionView, error) {
	auction, err := s.repo.GetAuction(ctx, auctionID)
	if err != nil {
		return model.AuctionView{}, fmt.Errorf("service: failed to get auction %s: %w", auctionID, err)
	}
	return s.view(ctx, auction, s.clock.Now().UTC())
}

// ListAuctions returns every auction, newest first
func (s *BiddingService) ListAuctions(ctx context.Context) ([]model.AuctionView, error) {
	auctions, err := s.repo.ListAuctions(ctx)
	if err != nil {
		return nil, fmt.Errorf("service: failed to list auctions: %w", err)
	}

	now := s.clock.Now().UTC()
	out := make([]model.AuctionView, 0, len(auctions))
	for _, a := range auctions {
		v, err := s.view(ctx, a, now)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *BiddingService) view(ctx context.Context, a model.Auction, now time.Time) (model.AuctionView, error) {
	highest, err := s.tracker.Get(ctx, a.AuctionID)
	if err != nil {
		return model.AuctionView{}, fmt.Errorf("service: failed to read highest bid for auction %s: %w", a.AuctionID, err)
	}
	return model.AuctionView{
		Auction: a,
		Status:  status.Resolve(a, now),
		EndsAt:  status.EndsAt(a),
		Highest: highest,
	}, nil
}

// GetHighestBid returns the current leader, nil when there are no bids
func (s *BiddingService) GetHighestBid(ctx context.Context, auctionID string) (*model.HighestBid, error) {
	if _, err := s.repo.GetAuction(ctx, auctionID); err != nil {
		return nil, fmt.Errorf("service: failed to get auction %s: %w", auctionID, err)
	}
	highest, err := s.tracker.Get(ctx, auctionID)
	if err != nil {
		return nil, fmt.Errorf("service: failed to get highest bid for auction %s: %w", auctionID, err)
	}
	return highest, nil
}

// GetBidsForAuction returns all bids for an auction, newest first
func (s *BiddingService) GetBidsForAuction(ctx context.Context, auctionID string) ([]model.Bid, error) {
	if auctionID == "" {
		return nil, fmt.Errorf("service: %w - empty auction ID", biddingerrors.ErrAuctionNotFound)
	}

	bids, err := s.repo.GetBidsByAuction(ctx, auctionID)
	if err != nil {
		return nil, fmt.Errorf("service: failed to get bids for auction %s: %w", auctionID, err)
	}

	return bids, nil
}

// GetAuctionsByBidder returns all auctions a user has placed bids on
func (s *BiddingService) GetAuctionsByBidder(ctx context.Context, userID string) ([]model.AuctionView, error) {
	if userID == "" {
		return nil, fmt.Errorf("service: %w - empty user ID", biddingerrors.ErrUserNotFound)
	}

	auctions, err := s.repo.GetAuctionsByBidder(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service: failed to get auctions for user %s: %w", userID, err)
	}

	now := s.clock.Now().UTC()
	out := make([]model.AuctionView, 0, len(auctions))
	for _, a := range auctions {
		v, err := s.view(ctx, a, now)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Subscribe joins the auction's channel. The first event is a full state snapshot
// taken under the auction's lock, so no committed mutation can fall between the
// snapshot and the first incremental event.
func (s *BiddingService) Subscribe(ctx context.Context, auctionID string) (*broadcast.Subscription, error) {
	unlock := s.locks.Lock(auctionID)
	defer unlock()

	auction, err := s.repo.GetAuction(ctx, auctionID)
	if err != nil {
		return nil, fmt.Errorf("service: failed to subscribe to auction %s: %w", auctionID, err)
	}
	highest, err := s.tracker.Load(ctx, auctionID)
	if err != nil {
		return nil, fmt.Errorf("service: failed to read highest bid for auction %s: %w", auctionID, err)
	}

	return s.hub.Subscribe(auctionID, events.AuctionState(auction, highest, s.clock.Now().UTC())), nil
}

// AnnounceStatus publishes the auction's current state and, once its window
// has passed, the auction_ended event with the final leader.
func (s *BiddingService) AnnounceStatus(ctx context.Context, auctionID string) (model.Status, error) {
	unlock := s.locks.Lock(auctionID)
	defer unlock()

	auction, err := s.repo.GetAuction(ctx, auctionID)
	if err != nil {
		return "", fmt.Errorf("service: failed to load auction %s: %w", auctionID, err)
	}
	highest, err := s.tracker.Load(ctx, auctionID)
	if err != nil {
		return "", fmt.Errorf("service: failed to read highest bid for auction %s: %w", auctionID, err)
	}

	now := s.clock.Now().UTC()
	st := status.Resolve(auction, now)
	s.hub.Publish(events.AuctionState(auction, highest, now))
	if st == model.StatusEnded {
		s.hub.Publish(events.AuctionEnded(auctionID, highest, now))
	}
	return st, nil
}

// Inspect reports the cached and recomputed leader of an auction
func (s *BiddingService) Inspect(ctx context.Context, auctionID string) (AuctionDebug, error) {
	v, err := s.GetAuction(ctx, auctionID)
	if err != nil {
		return AuctionDebug{}, err
	}
	bids, err := s.repo.GetBidsByAuction(ctx, auctionID)
	if err != nil {
		return AuctionDebug{}, fmt.Errorf("service: failed to get bids for auction %s: %w", auctionID, err)
	}
	fresh := model.HighestOf(bids)

	consistent := (v.Highest == nil) == (fresh == nil)
	if consistent && fresh != nil {
		consistent = v.Highest.BidID == fresh.BidID
	}

	return AuctionDebug{
		Auction:     v,
		BidCount:    len(bids),
		Cached:      v.Highest,
		Recomputed:  fresh,
		Consistent:  consistent,
		Subscribers: s.hub.SubscriberCount(auctionID),
	}, nil
}
