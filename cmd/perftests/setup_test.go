package perftests

import (
	"context"
	"fmt"
	"testing"
	"time"

	"auction-house/internal/auctionlock"
	bidding "auction-house/internal/biddingService"
	"auction-house/internal/broadcast"
	model "auction-house/internal/models"
	"auction-house/internal/repository"
	"auction-house/internal/tracker"

	"code.cloudfoundry.org/clock/fakeclock"
	"github.com/shopspring/decimal"
)

var seller = model.User{UserID: "seller", Handle: "seller"}

// benchEnv is a bidding service over the in-memory store with auctions that stay live
type benchEnv struct {
	repo     *repository.MemoryRepo
	hub      *broadcast.Hub
	svc      *bidding.BiddingService
	auctions []string
}

// setupService creates the service and numAuctions live auctions. cacheSize 0 disables the highest-bid cache.
func setupService(b *testing.B, numAuctions, cacheSize int) *benchEnv {
	b.Helper()

	repo := repository.NewMemoryRepo()
	tr, err := tracker.New(repo, cacheSize)
	if err != nil {
		b.Fatalf("tracker: %v", err)
	}
	clk := fakeclock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	hub := broadcast.NewHub(broadcast.DefaultBuffer)
	svc := bidding.NewBiddingService(repo, tr, auctionlock.New(), hub, clk, nil)

	env := &benchEnv{repo: repo, hub: hub, svc: svc}
	for i := 0; i < numAuctions; i++ {
		a, err := svc.CreateAuction(context.Background(), model.NewAuction{
			ItemName:        fmt.Sprintf("Load test item %d", i),
			FloorPrice:      decimal.NewFromInt(100),
			Increment:       decimal.NewFromInt(1),
			DurationSeconds: int64((24 * time.Hour) / time.Second),
			Seller:          seller,
		})
		if err != nil {
			b.Fatalf("create auction: %v", err)
		}
		env.auctions = append(env.auctions, a.AuctionID)
	}
	return env
}

func bidder(n int) model.User {
	id := fmt.Sprintf("user_%d", n)
	return model.User{UserID: id, Handle: id}
}
