package repository

import (
	"auction-house/internal/biddingerrors"
	model "auction-house/internal/models"
	"context"
	"fmt"
	"sync"
	"time"
)

//go:generate mockgen -source=repository.go -destination=mock_repository.go -package=repository

// AuctionDB defines the durable storage interface for auctions, bids and decisions.
// Listings of bids and decisions are returned newest first.
type AuctionDB interface {
	CreateAuction(ctx context.Context, auction model.Auction) error
	GetAuction(ctx context.Context, auctionID string) (model.Auction, error)
	ListAuctions(ctx context.Context) ([]model.Auction, error)
	ListOpenAuctions(ctx context.Context) ([]model.Auction, error)
	CloseAuction(ctx context.Context, auctionID string, at time.Time) (model.Auction, error)

	RecordBidForAuction(ctx context.Context, bid model.Bid) error
	GetBidsByAuction(ctx context.Context, auctionID string) ([]model.Bid, error)
	GetAuctionsByBidder(ctx context.Context, userID string) ([]model.Auction, error)

	AppendDecision(ctx context.Context, decision model.Decision) error
	AppendDecisionAndClose(ctx context.Context, decision model.Decision) (model.Auction, error)
	GetDecisions(ctx context.Context, auctionID string) ([]model.Decision, error)
}

// MemoryRepo is a concurrency-safe in-memory implementation of AuctionDB
type MemoryRepo struct {
	mu             sync.RWMutex
	auctions       map[string]model.Auction    // key: auctionID -> value: auction
	order          []string                    // auction ids in creation order
	bids           map[string][]model.Bid      // key: auctionID -> value: bids in commit order
	decisions      map[string][]model.Decision // key: auctionID -> value: decisions in commit order
	bidderAuctions map[string][]string         // key: userID -> value: auctionIDs the user has bid on
}

// NewMemoryRepo creates a new in-memory repository instance
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		auctions:       make(map[string]model.Auction),
		bids:           make(map[string][]model.Bid),
		decisions:      make(map[string][]model.Decision),
		bidderAuctions: make(map[string][]string),
	}
}

// CreateAuction stores a new auction
func (r *MemoryRepo) CreateAuction(_ context.Context, auction model.Auction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if auction.AuctionID == "" {
		return fmt.Errorf("create auction: %w - missing id", biddingerrors.ErrInvalidAuction)
	}
	if _, exists := r.auctions[auction.AuctionID]; exists {
		return fmt.Errorf("create auction %s: %w - duplicate id", auction.AuctionID, biddingerrors.ErrInvalidAuction)
	}
	r.auctions[auction.AuctionID] = auction
	r.order = append(r.order, auction.AuctionID)
	return nil
}

// GetAuction returns a single auction
func (r *MemoryRepo) GetAuction(_ context.Context, auctionID string) (model.Auction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.auctions[auctionID]
	if !ok {
		return model.Auction{}, fmt.Errorf("get auction %s: %w", auctionID, biddingerrors.ErrAuctionNotFound)
	}
	return a, nil
}

// ListAuctions returns every auction, newest first
func (r *MemoryRepo) ListAuctions(_ context.Context) ([]model.Auction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.Auction, 0, len(r.order))
	for i := len(r.order) - 1; i >= 0; i-- {
		out = append(out, r.auctions[r.order[i]])
	}
	return out, nil
}

// ListOpenAuctions returns auctions whose stored status is not closed
func (r *MemoryRepo) ListOpenAuctions(_ context.Context) ([]model.Auction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.Auction, 0, len(r.order))
	for _, id := range r.order {
		if a := r.auctions[id]; a.Status != model.StatusClosed {
			out = append(out, a)
		}
	}
	return out, nil
}

// CloseAuction marks an auction closed. Closing is one-way.
func (r *MemoryRepo) CloseAuction(_ context.Context, auctionID string, at time.Time) (model.Auction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.closeLocked(auctionID, at)
}

func (r *MemoryRepo) closeLocked(auctionID string, at time.Time) (model.Auction, error) {
	a, ok := r.auctions[auctionID]
	if !ok {
		return model.Auction{}, fmt.Errorf("close auction %s: %w", auctionID, biddingerrors.ErrAuctionNotFound)
	}
	if a.Status == model.StatusClosed {
		return model.Auction{}, fmt.Errorf("close auction %s: %w", auctionID, biddingerrors.ErrAlreadyClosed)
	}
	closedAt := at
	a.Status = model.StatusClosed
	a.ClosedAt = &closedAt
	r.auctions[auctionID] = a
	return a, nil
}

// RecordBidForAuction appends a bid to its auction's sequence
func (r *MemoryRepo) RecordBidForAuction(_ context.Context, bid model.Bid) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.auctions[bid.AuctionID]; !ok {
		return fmt.Errorf("record bid for auction %s: %w", bid.AuctionID, biddingerrors.ErrAuctionNotFound)
	}

	r.bids[bid.AuctionID] = append(r.bids[bid.AuctionID], bid)

	for _, id := range r.bidderAuctions[bid.BidderID] {
		if id == bid.AuctionID {
			return nil
		}
	}
	r.bidderAuctions[bid.BidderID] = append(r.bidderAuctions[bid.BidderID], bid.AuctionID)

	return nil
}

// GetBidsByAuction returns all bids for an auction, newest first
func (r *MemoryRepo) GetBidsByAuction(_ context.Context, auctionID string) ([]model.Bid, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.auctions[auctionID]; !ok {
		return nil, fmt.Errorf("get bids for auction %s: %w", auctionID, biddingerrors.ErrAuctionNotFound)
	}

	bids := r.bids[auctionID]
	out := make([]model.Bid, 0, len(bids))
	for i := len(bids) - 1; i >= 0; i-- {
		out = append(out, bids[i])
	}
	return out, nil
}

// GetAuctionsByBidder returns all auctions a user has bid on
func (r *MemoryRepo) GetAuctionsByBidder(_ context.Context, userID string) ([]model.Auction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	auctionIDs := r.bidderAuctions[userID]
	out := make([]model.Auction, 0, len(auctionIDs))
	for _, id := range auctionIDs {
		if a, exists := r.auctions[id]; exists {
			out = append(out, a)
		}
	}
	return out, nil
}

// AppendDecision appends a non-terminal decision to an open auction's log
func (r *MemoryRepo) AppendDecision(_ context.Context, decision model.Decision) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.auctions[decision.AuctionID]
	if !ok {
		return fmt.Errorf("append decision for auction %s: %w", decision.AuctionID, biddingerrors.ErrAuctionNotFound)
	}
	if a.Status == model.StatusClosed {
		return fmt.Errorf("append decision for auction %s: %w", decision.AuctionID, biddingerrors.ErrAlreadyClosed)
	}
	r.decisions[decision.AuctionID] = append(r.decisions[decision.AuctionID], decision)
	return nil
}

// AppendDecisionAndClose records a terminal decision and closes the auction in one step
func (r *MemoryRepo) AppendDecisionAndClose(_ context.Context, decision model.Decision) (model.Auction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	closed, err := r.closeLocked(decision.AuctionID, decision.CreatedAt)
	if err != nil {
		return model.Auction{}, fmt.Errorf("append terminal decision: %w", err)
	}
	r.decisions[decision.AuctionID] = append(r.decisions[decision.AuctionID], decision)
	return closed, nil
}

// GetDecisions returns an auction's decision log, newest first
func (r *MemoryRepo) GetDecisions(_ context.Context, auctionID string) ([]model.Decision, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.auctions[auctionID]; !ok {
		return nil, fmt.Errorf("get decisions for auction %s: %w", auctionID, biddingerrors.ErrAuctionNotFound)
	}

	log := r.decisions[auctionID]
	out := make([]model.Decision, 0, len(log))
	for i := len(log) - 1; i >= 0; i-- {
		out = append(out, log[i])
	}
	return out, nil
}
