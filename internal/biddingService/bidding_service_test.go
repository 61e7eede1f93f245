package bidding

import (
	"auction-house/internal/auctionlock"
	"auction-house/internal/biddingerrors"
	"auction-house/internal/broadcast"
	"auction-house/internal/events"
	model "auction-house/internal/models"
	"auction-house/internal/repository"
	"auction-house/internal/tracker"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"code.cloudfoundry.org/clock/fakeclock"
	"github.com/golang/mock/gomock"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

var (
	seller = model.User{UserID: "seller", Handle: "sally"}
	userX  = model.User{UserID: "user-x", Handle: "xavier"}
	userY  = model.User{UserID: "user-y", Handle: "yolanda"}
)

type outbidCall struct {
	previous model.HighestBid
	current  model.HighestBid
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []outbidCall
}

func (n *recordingNotifier) NotifyOutbid(_ model.Auction, previous, current model.HighestBid) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, outbidCall{previous: previous, current: current})
}

func (n *recordingNotifier) Calls() []outbidCall {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]outbidCall(nil), n.calls...)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func liveAuction(id string, floor, increment string) model.Auction {
	return model.Auction{
		AuctionID:       id,
		ItemName:        "vase",
		FloorPrice:      dec(floor),
		Increment:       dec(increment),
		StartsAt:        start,
		DurationSeconds: 60,
		SellerID:        seller.UserID,
		SellerHandle:    seller.Handle,
		Status:          model.StatusScheduled,
		CreatedAt:       start,
	}
}

type fixture struct {
	repo     *repository.MemoryRepo
	hub      *broadcast.Hub
	clock    *fakeclock.FakeClock
	notifier *recordingNotifier
	service  *BiddingService
}

func newFixture(t *testing.T, auctions ...model.Auction) *fixture {
	t.Helper()

	repo := repository.NewMemoryRepo()
	for _, a := range auctions {
		require.NoError(t, repo.CreateAuction(context.Background(), a))
	}
	tr, err := tracker.New(repo, 128)
	require.NoError(t, err)

	f := &fixture{
		repo:     repo,
		hub:      broadcast.NewHub(256),
		clock:    fakeclock.NewFakeClock(start.Add(time.Second)),
		notifier: &recordingNotifier{},
	}
	f.service = NewBiddingService(repo, tr, auctionlock.New(), f.hub, f.clock, f.notifier)
	return f
}

func drain(sub *broadcast.Subscription) []events.Event {
	var out []events.Event
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func eventTypes(evs []events.Event) []events.Type {
	out := make([]events.Type, 0, len(evs))
	for _, ev := range evs {
		out = append(out, ev.Type)
	}
	return out
}

// Tests PlaceBid
func TestBiddingService_PlaceBid(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name          string
		bidder        model.User
		amount        string
		prior         []string
		now           time.Time
		expectedError error
		expectedMin   string
	}{
		{name: "valid_first_bid_at_floor", bidder: userX, amount: "100"},
		{name: "valid_bid_above_floor", bidder: userX, amount: "150.50"},
		{name: "zero_amount", bidder: userX, amount: "0", expectedError: biddingerrors.ErrInvalidAmount},
		{name: "negative_amount", bidder: userX, amount: "-50", expectedError: biddingerrors.ErrInvalidAmount},
		{name: "sub_cent_amount", bidder: userX, amount: "100.005", expectedError: biddingerrors.ErrInvalidAmount},
		{name: "below_floor", bidder: userX, amount: "99.99", expectedError: biddingerrors.ErrBidTooLow, expectedMin: "100"},
		{name: "below_increment", bidder: userY, amount: "105", prior: []string{"100"}, expectedError: biddingerrors.ErrBidTooLow, expectedMin: "110"},
		{name: "exactly_next_min", bidder: userY, amount: "110", prior: []string{"100"}},
		{name: "scheduled", bidder: userX, amount: "100", now: start.Add(-time.Second), expectedError: biddingerrors.ErrAuctionNotLive},
		{name: "ended", bidder: userX, amount: "100", now: start.Add(time.Minute), expectedError: biddingerrors.ErrAuctionNotLive},
		{name: "seller_cannot_bid", bidder: seller, amount: "100", expectedError: biddingerrors.ErrSellerCannotBid},
		{name: "too_low_checked_before_seller", bidder: seller, amount: "50", expectedError: biddingerrors.ErrBidTooLow, expectedMin: "100"},
	}

	for _, tc := range tests {
		tc := tc

		t.Run(tc.name, func(t *testing.T) {
			t.Parallel() // Run tests concurrently

			f := newFixture(t, liveAuction("auction1", "100", "10"))
			for _, amt := range tc.prior {
				_, err := f.service.PlaceBid(ctx, "auction1", userX, dec(amt))
				require.NoError(t, err)
			}
			if !tc.now.IsZero() {
				f.clock.Increment(tc.now.Sub(f.clock.Now()))
			}

			bid, err := f.service.PlaceBid(ctx, "auction1", tc.bidder, dec(tc.amount))

			if tc.expectedError != nil {
				require.Error(t, err)
				require.True(t, errors.Is(err, tc.expectedError), "expected error: %v, got: %v", tc.expectedError, err)
				if tc.expectedMin != "" {
					var tooLow *biddingerrors.BidTooLowError
					require.True(t, errors.As(err, &tooLow))
					require.True(t, dec(tc.expectedMin).Equal(tooLow.MinBid), "min bid %s", tooLow.MinBid)
				}
				return
			}

			require.NoError(t, err)

			// Validate generated BidID
			_, parseErr := uuid.Parse(bid.BidID)
			require.NoError(t, parseErr, "BidID should be a valid UUID")
			require.Equal(t, "auction1", bid.AuctionID)
			require.Equal(t, tc.bidder.UserID, bid.BidderID)
			require.Equal(t, tc.bidder.Handle, bid.BidderHandle)
			require.True(t, dec(tc.amount).Equal(bid.Amount))
			require.Equal(t, f.clock.Now().UTC(), bid.CreatedAt)

			highest, err := f.service.GetHighestBid(ctx, "auction1")
			require.NoError(t, err)
			require.Equal(t, bid.BidID, highest.BidID)
		})
	}

	t.Run("auction_not_found", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		_, err := f.service.PlaceBid(ctx, "missing", userX, dec("100"))
		require.ErrorIs(t, err, biddingerrors.ErrAuctionNotFound)
	})
}

func TestBiddingService_PlaceBid_StoreUnavailable(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	ctx := context.Background()
	mockRepo := repository.NewMockAuctionDB(ctrl)
	tr, err := tracker.New(mockRepo, 128)
	require.NoError(t, err)

	hub := broadcast.NewHub(16)
	clk := fakeclock.NewFakeClock(start.Add(time.Second))
	service := NewBiddingService(mockRepo, tr, auctionlock.New(), hub, clk, nil)

	auction := liveAuction("auction1", "100", "10")
	storeErr := errors.Join(biddingerrors.ErrStoreUnavailable, errors.New("connection reset"))

	gomock.InOrder(
		mockRepo.EXPECT().GetAuction(ctx, "auction1").Return(auction, nil),
		mockRepo.EXPECT().GetBidsByAuction(ctx, "auction1").Return([]model.Bid{}, nil),
		mockRepo.EXPECT().RecordBidForAuction(ctx, gomock.Any()).Return(storeErr),
	)

	sub := hub.Subscribe("auction1", events.Event{Type: events.TypeAuctionState, AuctionID: "auction1"})
	defer sub.Close()
	<-sub.Events()

	_, err = service.PlaceBid(ctx, "auction1", userX, dec("100"))
	require.ErrorIs(t, err, biddingerrors.ErrStoreUnavailable)

	// no partial effect: the cached leader is untouched and nothing was published
	h, err := tr.Get(ctx, "auction1")
	require.NoError(t, err)
	require.Nil(t, h)
	require.Empty(t, drain(sub))
}

// Concurrent {100, 100} against floor 50 / increment 10 admits exactly one bid
func TestBiddingService_ConcurrentEqualBids(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	for round := 0; round < 50; round++ {
		f := newFixture(t, liveAuction("auction1", "50", "10"))

		var (
			wg        sync.WaitGroup
			successes int32
			mu        sync.Mutex
			failures  []error
		)
		for _, bidder := range []model.User{userX, userY} {
			bidder := bidder
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := f.service.PlaceBid(ctx, "auction1", bidder, dec("100"))
				mu.Lock()
				defer mu.Unlock()
				if err == nil {
					successes++
					return
				}
				failures = append(failures, err)
			}()
		}
		wg.Wait()

		require.Equal(t, int32(1), successes)
		require.Len(t, failures, 1)
		require.ErrorIs(t, failures[0], biddingerrors.ErrBidTooLow)

		bids, err := f.repo.GetBidsByAuction(ctx, "auction1")
		require.NoError(t, err)
		require.Len(t, bids, 1)
	}
}

func TestBiddingService_ManyConcurrentBidders(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, liveAuction("auction1", "1", "1"))

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			bidder := model.User{UserID: uuid.NewString(), Handle: "bidder"}
			// errors are expected for losers of each race
			_, _ = f.service.PlaceBid(ctx, "auction1", bidder, decimal.NewFromInt(int64(1+i)))
		}()
	}
	wg.Wait()

	bids, err := f.repo.GetBidsByAuction(ctx, "auction1")
	require.NoError(t, err)
	require.NotEmpty(t, bids)

	// every admitted bid strictly exceeds the one committed before it
	for i := 0; i+1 < len(bids); i++ {
		require.True(t, bids[i].Amount.GreaterThan(bids[i+1].Amount))
	}

	highest, err := f.service.GetHighestBid(ctx, "auction1")
	require.NoError(t, err)
	require.Equal(t, model.HighestOf(bids), highest)
}

func TestBiddingService_EventsInCommitOrder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, liveAuction("auction1", "100", "10"))

	sub, err := f.service.Subscribe(ctx, "auction1")
	require.NoError(t, err)
	defer sub.Close()

	_, err = f.service.PlaceBid(ctx, "auction1", userX, dec("100"))
	require.NoError(t, err)
	_, err = f.service.PlaceBid(ctx, "auction1", userX, dec("110"))
	require.NoError(t, err)
	_, err = f.service.PlaceBid(ctx, "auction1", userY, dec("120"))
	require.NoError(t, err)

	got := drain(sub)
	require.Equal(t, []events.Type{
		events.TypeAuctionState,
		events.TypeNewBid, events.TypeAuctionState,
		events.TypeNewBid, events.TypeAuctionState, // same leader raising: no outbid
		events.TypeNewBid, events.TypeOutbid, events.TypeAuctionState,
	}, eventTypes(got))

	for i := 1; i < len(got); i++ {
		require.Equal(t, got[i-1].Seq+1, got[i].Seq)
	}

	outbid := got[6].Data.(events.OutbidPayload)
	require.Equal(t, userX.UserID, outbid.Previous.BidderID)
	require.Equal(t, userY.UserID, outbid.Current.BidderID)

	calls := f.notifier.Calls()
	require.Len(t, calls, 1)
	require.Equal(t, userX.UserID, calls[0].previous.BidderID)
}

func TestBiddingService_SubscribeSnapshot(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, liveAuction("auction1", "100", "10"))

	_, err := f.service.PlaceBid(ctx, "auction1", userX, dec("100"))
	require.NoError(t, err)

	sub, err := f.service.Subscribe(ctx, "auction1")
	require.NoError(t, err)
	defer sub.Close()

	snap := <-sub.Events()
	require.Equal(t, events.TypeAuctionState, snap.Type)
	state := snap.Data.(events.StatePayload)
	require.Equal(t, model.StatusLive, state.Status)
	require.Equal(t, userX.UserID, state.Highest.BidderID)
	require.True(t, dec("110").Equal(state.NextMinBid))
	require.Equal(t, int64(59), state.RemainingSeconds)

	_, err = f.service.Subscribe(ctx, "missing")
	require.ErrorIs(t, err, biddingerrors.ErrAuctionNotFound)
}

func TestBiddingService_AnnounceStatus(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, liveAuction("auction1", "100", "10"))

	_, err := f.service.PlaceBid(ctx, "auction1", userX, dec("100"))
	require.NoError(t, err)

	sub, err := f.service.Subscribe(ctx, "auction1")
	require.NoError(t, err)
	defer sub.Close()
	<-sub.Events()

	st, err := f.service.AnnounceStatus(ctx, "auction1")
	require.NoError(t, err)
	require.Equal(t, model.StatusLive, st)
	require.Equal(t, []events.Type{events.TypeAuctionState}, eventTypes(drain(sub)))

	f.clock.Increment(time.Minute)

	st, err = f.service.AnnounceStatus(ctx, "auction1")
	require.NoError(t, err)
	require.Equal(t, model.StatusEnded, st)

	got := drain(sub)
	require.Equal(t, []events.Type{events.TypeAuctionState, events.TypeAuctionEnded}, eventTypes(got))
	ended := got[1].Data.(events.EndedPayload)
	require.NotNil(t, ended.Final)
	require.Equal(t, userX.UserID, ended.Final.BidderID)
}

func TestBiddingService_NextMinBid(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, liveAuction("auction1", "100", "10"))

	min, err := f.service.NextMinBid(ctx, "auction1")
	require.NoError(t, err)
	require.True(t, dec("100").Equal(min))

	// round trip: the advertised minimum is accepted, one cent below is not
	_, err = f.service.PlaceBid(ctx, "auction1", userX, min)
	require.NoError(t, err)

	min, err = f.service.NextMinBid(ctx, "auction1")
	require.NoError(t, err)
	require.True(t, dec("110").Equal(min))

	_, err = f.service.PlaceBid(ctx, "auction1", userY, min.Sub(dec("0.01")))
	require.ErrorIs(t, err, biddingerrors.ErrBidTooLow)
	_, err = f.service.PlaceBid(ctx, "auction1", userY, min)
	require.NoError(t, err)

	_, err = f.service.NextMinBid(ctx, "missing")
	require.ErrorIs(t, err, biddingerrors.ErrAuctionNotFound)
}

func TestBiddingService_CreateAuction(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	valid := model.NewAuction{
		ItemName:        "  lamp ",
		FloorPrice:      dec("10"),
		Increment:       dec("0.50"),
		StartsAt:        start.Add(time.Hour),
		DurationSeconds: 300,
		Seller:          seller,
	}

	tests := []struct {
		name    string
		mutate  func(r *model.NewAuction)
		wantErr error
	}{
		{name: "valid", mutate: func(r *model.NewAuction) {}},
		{name: "defaults_start_to_now", mutate: func(r *model.NewAuction) { r.StartsAt = time.Time{} }},
		{name: "zero_floor_allowed", mutate: func(r *model.NewAuction) { r.FloorPrice = decimal.Zero }},
		{name: "missing_name", mutate: func(r *model.NewAuction) { r.ItemName = " " }, wantErr: biddingerrors.ErrInvalidAuction},
		{name: "negative_floor", mutate: func(r *model.NewAuction) { r.FloorPrice = dec("-1") }, wantErr: biddingerrors.ErrInvalidAuction},
		{name: "zero_increment", mutate: func(r *model.NewAuction) { r.Increment = decimal.Zero }, wantErr: biddingerrors.ErrInvalidAuction},
		{name: "zero_duration", mutate: func(r *model.NewAuction) { r.DurationSeconds = 0 }, wantErr: biddingerrors.ErrInvalidAuction},
		{name: "no_seller", mutate: func(r *model.NewAuction) { r.Seller = model.User{} }, wantErr: biddingerrors.ErrInvalidAuction},
		{name: "sub_cent_increment", mutate: func(r *model.NewAuction) { r.Increment = dec("0.001") }, wantErr: biddingerrors.ErrInvalidAuction},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t)
			req := valid
			tc.mutate(&req)

			a, err := f.service.CreateAuction(ctx, req)
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, "lamp", a.ItemName)
			require.Equal(t, model.StatusScheduled, a.Status)
			require.Equal(t, seller.UserID, a.SellerID)
			if req.StartsAt.IsZero() {
				require.Equal(t, f.clock.Now().UTC(), a.StartsAt)
			}

			v, err := f.service.GetAuction(ctx, a.AuctionID)
			require.NoError(t, err)
			require.Nil(t, v.Highest)
		})
	}
}

func TestBiddingService_Queries(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, liveAuction("auction1", "100", "10"), liveAuction("auction2", "5", "1"))

	_, err := f.service.PlaceBid(ctx, "auction1", userX, dec("100"))
	require.NoError(t, err)
	_, err = f.service.PlaceBid(ctx, "auction1", userY, dec("110"))
	require.NoError(t, err)
	_, err = f.service.PlaceBid(ctx, "auction2", userX, dec("5"))
	require.NoError(t, err)

	bids, err := f.service.GetBidsForAuction(ctx, "auction1")
	require.NoError(t, err)
	require.Len(t, bids, 2)
	require.Equal(t, userY.UserID, bids[0].BidderID, "newest first")

	views, err := f.service.GetAuctionsByBidder(ctx, userX.UserID)
	require.NoError(t, err)
	require.Len(t, views, 2)

	_, err = f.service.GetAuctionsByBidder(ctx, "")
	require.ErrorIs(t, err, biddingerrors.ErrUserNotFound)

	all, err := f.service.ListAuctions(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "auction2", all[0].AuctionID)
	require.Equal(t, model.StatusLive, all[0].Status)

	highest, err := f.service.GetHighestBid(ctx, "auction2")
	require.NoError(t, err)
	require.Equal(t, userX.UserID, highest.BidderID)

	_, err = f.service.GetHighestBid(ctx, "missing")
	require.ErrorIs(t, err, biddingerrors.ErrAuctionNotFound)

	dbg, err := f.service.Inspect(ctx, "auction1")
	require.NoError(t, err)
	require.Equal(t, 2, dbg.BidCount)
	require.True(t, dbg.Consistent)
	require.Equal(t, dbg.Cached, dbg.Recomputed)
}

// stallingRepo holds the first bid scan after it has read the store until release is closed
type stallingRepo struct {
	*repository.MemoryRepo
	once    sync.Once
	scanned chan struct{}
	release chan struct{}
}

func (r *stallingRepo) GetBidsByAuction(ctx context.Context, auctionID string) ([]model.Bid, error) {
	bids, err := r.MemoryRepo.GetBidsByAuction(ctx, auctionID)
	first := false
	r.once.Do(func() { first = true })
	if first {
		close(r.scanned)
		<-r.release
	}
	return bids, err
}

// A reader that scanned before a commit must not lower the admission minimum
func TestBiddingService_SlowReaderDoesNotLowerMinimum(t *testing.T) {
	ctx := context.Background()
	repo := &stallingRepo{
		MemoryRepo: repository.NewMemoryRepo(),
		scanned:    make(chan struct{}),
		release:    make(chan struct{}),
	}
	require.NoError(t, repo.CreateAuction(ctx, liveAuction("auction1", "50", "10")))
	require.NoError(t, repo.RecordBidForAuction(ctx, model.Bid{
		BidID: "b0", AuctionID: "auction1", BidderID: userX.UserID, Amount: dec("50"), CreatedAt: start,
	}))

	tr, err := tracker.New(repo, 128)
	require.NoError(t, err)
	service := NewBiddingService(repo, tr, auctionlock.New(), broadcast.NewHub(16), fakeclock.NewFakeClock(start.Add(time.Second)), nil)

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		_, _ = service.GetHighestBid(ctx, "auction1")
	}()
	<-repo.scanned

	_, err = service.PlaceBid(ctx, "auction1", userY, dec("60"))
	require.NoError(t, err)

	close(repo.release)
	<-readerDone

	_, err = service.PlaceBid(ctx, "auction1", userX, dec("60"))
	var tooLow *biddingerrors.BidTooLowError
	require.ErrorAs(t, err, &tooLow)
	require.True(t, tooLow.MinBid.Equal(dec("70")), "min bid %s", tooLow.MinBid)

	dbg, err := service.Inspect(ctx, "auction1")
	require.NoError(t, err)
	require.True(t, dbg.Consistent)
	require.Equal(t, 2, dbg.BidCount)
}
