// Package status derives an auction's lifecycle phase from its stored fields and the wall clock.
package status

import (
	"time"

	model "auction-house/internal/models"
)

// Resolve maps an auction and an instant to its lifecycle phase.
// A stored closed status is absorbing; every other phase is computed from the clock.
func Resolve(a model.Auction, now time.Time) model.Status {
	if a.Status == model.StatusClosed {
		return model.StatusClosed
	}
	if now.Before(a.StartsAt) {
		return model.StatusScheduled
	}
	if now.Before(EndsAt(a)) {
		return model.StatusLive
	}
	return model.StatusEnded
}

// EndsAt returns the instant the live window closes
func EndsAt(a model.Auction) time.Time {
	return a.StartsAt.Add(a.Duration())
}

// Remaining returns how long the auction stays live, zero once the window has passed
func Remaining(a model.Auction, now time.Time) time.Duration {
	if a.Status == model.StatusClosed {
		return 0
	}
	left := EndsAt(a).Sub(now)
	if left < 0 {
		return 0
	}
	return left
}
