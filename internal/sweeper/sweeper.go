// Package sweeper detects status boundary crossings of open auctions.
package sweeper

import (
	"context"
	"time"

	model "auction-house/internal/models"
	"auction-house/internal/repository"
	"auction-house/internal/status"
	"auction-house/utils"

	"code.cloudfoundry.org/clock"
)

const DefaultInterval = time.Second

// Announcer publishes an auction's state and returns the status it announced
type Announcer interface {
	AnnounceStatus(ctx context.Context, auctionID string) (model.Status, error)
}

// Sweeper polls open auctions and announces each status change once.
// Its memory of observed statuses is process local, so a restart
// re-announces the current status of every open auction.
type Sweeper struct {
	repo      repository.AuctionDB
	announcer Announcer
	clock     clock.Clock
	interval  time.Duration
	observed  map[string]model.Status
}

func New(repo repository.AuctionDB, announcer Announcer, clk clock.Clock, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Sweeper{
		repo:      repo,
		announcer: announcer,
		clock:     clk,
		interval:  interval,
		observed:  make(map[string]model.Status),
	}
}

// Run sweeps on every tick until ctx is done
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	utils.Info("Status sweeper started", map[string]any{"interval": s.interval.String()})
	for {
		select {
		case <-ctx.Done():
			utils.Info("Status sweeper stopped", nil)
			return nil
		case <-ticker.C():
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one pass and returns the number of announcements made.
// Failures are logged and retried on the next pass.
func (s *Sweeper) Sweep(ctx context.Context) int {
	open, err := s.repo.ListOpenAuctions(ctx)
	if err != nil {
		utils.Error("Sweep: failed to list open auctions", map[string]any{"error": err.Error()})
		return 0
	}

	now := s.clock.Now().UTC()
	seen := make(map[string]struct{}, len(open))
	announced := 0

	for _, a := range open {
		seen[a.AuctionID] = struct{}{}

		current := status.Resolve(a, now)
		if prev, ok := s.observed[a.AuctionID]; ok && prev == current {
			continue
		}

		st, err := s.announcer.AnnounceStatus(ctx, a.AuctionID)
		if err != nil {
			utils.Error("Sweep: failed to announce status", map[string]any{
				"auction_id": a.AuctionID,
				"status":     current,
				"error":      err.Error(),
			})
			continue
		}
		s.observed[a.AuctionID] = st
		announced++

		utils.Debug("Sweep: status announced", map[string]any{
			"auction_id": a.AuctionID,
			"status":     st,
		})
	}

	for id := range s.observed {
		if _, ok := seen[id]; !ok {
			delete(s.observed, id)
		}
	}

	return announced
}
