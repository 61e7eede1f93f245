// Package tracker keeps the authoritative highest bid per auction.
package tracker

import (
	"context"
	"fmt"

	model "auction-house/internal/models"
	"auction-house/internal/repository"

	lru "github.com/hashicorp/golang-lru"
)

// Tracker answers "what is the current highest bid" for an auction.
// Get is safe without the auction's lock and never fills the cache. Load,
// RecordIfHigher, Recompute and Invalidate must run under the auction's lock.
type Tracker interface {
	Get(ctx context.Context, auctionID string) (*model.HighestBid, error)
	Load(ctx context.Context, auctionID string) (*model.HighestBid, error)
	RecordIfHigher(ctx context.Context, auctionID string, bid model.Bid) error
	Recompute(ctx context.Context, auctionID string) (*model.HighestBid, error)
	Invalidate(auctionID string)
}

// entry wraps a cached value so that "no bids yet" can be cached too
type entry struct {
	highest *model.HighestBid
}

// CachedTracker serves reads from an LRU of immutable values and falls back to a
// full scan of the bid store on a miss. Writes must happen under the auction's
// lock and strictly after the bid is durably stored.
type CachedTracker struct {
	repo  repository.AuctionDB
	cache *lru.Cache
}

// New builds a tracker. A size of zero or less disables the cache and every read scans the store.
func New(repo repository.AuctionDB, size int) (*CachedTracker, error) {
	t := &CachedTracker{repo: repo}
	if size <= 0 {
		return t, nil
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("tracker: create cache: %w", err)
	}
	t.cache = cache
	return t, nil
}

// Get returns the highest bid, or nil when the auction has none. A miss is
// answered from a scan that is not cached: a reader outside the lock may have
// scanned before a commit and must not write its result over a newer leader.
func (t *CachedTracker) Get(ctx context.Context, auctionID string) (*model.HighestBid, error) {
	if h, ok := t.cached(auctionID); ok {
		return h, nil
	}
	return t.scan(ctx, auctionID)
}

// Load is Get for callers holding the auction's lock; a miss fills the cache.
func (t *CachedTracker) Load(ctx context.Context, auctionID string) (*model.HighestBid, error) {
	if h, ok := t.cached(auctionID); ok {
		return h, nil
	}
	return t.Recompute(ctx, auctionID)
}

// Recompute scans the full bid sequence and repopulates the cache
func (t *CachedTracker) Recompute(ctx context.Context, auctionID string) (*model.HighestBid, error) {
	highest, err := t.scan(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	if t.cache != nil {
		t.cache.Add(auctionID, entry{highest: highest})
	}
	return highest, nil
}

func (t *CachedTracker) cached(auctionID string) (*model.HighestBid, bool) {
	if t.cache == nil {
		return nil, false
	}
	v, ok := t.cache.Get(auctionID)
	if !ok {
		return nil, false
	}
	return v.(entry).highest, true
}

func (t *CachedTracker) scan(ctx context.Context, auctionID string) (*model.HighestBid, error) {
	bids, err := t.repo.GetBidsByAuction(ctx, auctionID)
	if err != nil {
		return nil, fmt.Errorf("tracker: scan bids for auction %s: %w", auctionID, err)
	}
	return model.HighestOf(bids), nil
}

// RecordIfHigher replaces the cached leader when bid outranks it
func (t *CachedTracker) RecordIfHigher(ctx context.Context, auctionID string, bid model.Bid) error {
	if t.cache == nil {
		return nil
	}
	v, ok := t.cache.Get(auctionID)
	if !ok {
		// the store already holds bid, so a rescan includes it
		_, err := t.Recompute(ctx, auctionID)
		return err
	}
	current := v.(entry).highest
	if current == nil || bid.Outranks(*current) {
		h := model.HighestFromBid(bid)
		t.cache.Add(auctionID, entry{highest: &h})
	}
	return nil
}

// Invalidate drops the cached value for an auction
func (t *CachedTracker) Invalidate(auctionID string) {
	if t.cache != nil {
		t.cache.Remove(auctionID)
	}
}
