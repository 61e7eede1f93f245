package integrationtests

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"auction-house/internal/events"
	model "auction-house/internal/models"

	"github.com/stretchr/testify/require"
)

// RecordBidHandler Tests
func TestRecordBidHandler(t *testing.T) {
	h := SetupHarness(t)
	alice := h.Login("alice", "1111")
	bob := h.Login("bob", "2222")
	auctionID := h.CreateAuction(alice, "100", "5", time.Minute)

	tests := []struct {
		name       string
		token      string
		request    any
		wantStatus int
		wantMinBid string
	}{
		{
			name:       "Unauthenticated",
			request:    map[string]any{"auction_id": auctionID, "amount": "100"},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "Invalid_JSON",
			token:      bob,
			request:    "{auction_id: 'missing quotes', amount: 100}",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "Below_Floor",
			token:      bob,
			request:    map[string]any{"auction_id": auctionID, "amount": "99.99"},
			wantStatus: http.StatusConflict,
			wantMinBid: "100.00",
		},
		{
			name:       "Three_Decimals",
			token:      bob,
			request:    map[string]any{"auction_id": auctionID, "amount": "100.005"},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "Unknown_Auction",
			token:      bob,
			request:    map[string]any{"auction_id": "does-not-exist", "amount": "100"},
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "Seller_Cannot_Bid",
			token:      alice,
			request:    map[string]any{"auction_id": auctionID, "amount": "150"},
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "Valid_Bid",
			token:      bob,
			request:    map[string]any{"auction_id": auctionID, "amount": "100"},
			wantStatus: http.StatusCreated,
		},
		{
			name:       "Equal_To_Leader_Rejected",
			token:      bob,
			request:    map[string]any{"auction_id": auctionID, "amount": "100"},
			wantStatus: http.StatusConflict,
			wantMinBid: "105.00",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, w := h.ExecuteRequestAndParse(http.MethodPost, "/bids", tt.token, tt.request)
			require.Equal(t, tt.wantStatus, w.Code, w.Body.String())

			if tt.wantMinBid != "" {
				require.Equal(t, tt.wantMinBid, resp["min_bid"])
			}
			if tt.wantStatus == http.StatusCreated {
				data := resp["data"].(map[string]any)
				require.Equal(t, auctionID, data["auction_id"])
				require.Equal(t, "u-bob", data["bidder_id"])
				require.Equal(t, "100.00", data["amount"])
				require.NotEmpty(t, data["bid_id"])

				_, err := time.Parse(time.RFC3339, data["created_at"].(string))
				require.NoError(t, err)
			}
		})
	}
}

func TestAuctionLifecycle_CounterOfferAccepted(t *testing.T) {
	h := SetupHarness(t)
	alice := h.Login("alice", "1111")
	bob := h.Login("bob", "2222")
	carol := h.Login("carol", "3333")

	auctionID := h.CreateAuction(alice, "100", "5", time.Minute)
	base := "/auctions/" + auctionID

	_, w := h.PlaceBid(bob, auctionID, "100")
	require.Equal(t, http.StatusCreated, w.Code)
	h.Clock.Increment(time.Second)

	resp, w := h.PlaceBid(carol, auctionID, "104")
	require.Equal(t, http.StatusConflict, w.Code)
	require.Equal(t, "105.00", resp["min_bid"])

	_, w = h.PlaceBid(carol, auctionID, "105")
	require.Equal(t, http.StatusCreated, w.Code)

	resp, w = h.ExecuteRequestAndParse(http.MethodGet, base+"/next-min", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "110.00", resp["data"].(map[string]any)["next_min_bid"])

	resp, w = h.ExecuteRequestAndParse(http.MethodGet, base+"/bids", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	bids := resp["data"].([]any)
	require.Len(t, bids, 2)
	require.Equal(t, "u-carol", bids[0].(map[string]any)["bidder_id"], "newest first")

	// the seller cannot decide while the auction is live
	_, w = h.ExecuteRequestAndParse(http.MethodPost, base+"/decision", alice, map[string]any{"action": "accept"})
	require.Equal(t, http.StatusConflict, w.Code)

	h.Clock.Increment(time.Minute)

	resp, w = h.ExecuteRequestAndParse(http.MethodGet, base, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, string(model.StatusEnded), resp["data"].(map[string]any)["status"])

	_, w = h.PlaceBid(bob, auctionID, "200")
	require.Equal(t, http.StatusConflict, w.Code, "bids after the window are refused")

	_, w = h.ExecuteRequestAndParse(http.MethodPost, base+"/decision", bob, map[string]any{"action": "accept"})
	require.Equal(t, http.StatusForbidden, w.Code)

	resp, w = h.ExecuteRequestAndParse(http.MethodPost, base+"/decision", alice, map[string]any{"action": "counter", "price": "150"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	require.Equal(t, string(model.DecisionCounter), resp["data"].(map[string]any)["type"])

	_, w = h.ExecuteRequestAndParse(http.MethodPost, base+"/decision", alice, map[string]any{"action": "accept"})
	require.Equal(t, http.StatusConflict, w.Code, "seller waits for the counter answer")

	_, w = h.ExecuteRequestAndParse(http.MethodPost, base+"/counter/ack", bob, map[string]any{"accept": true, "price": "150"})
	require.Equal(t, http.StatusForbidden, w.Code)

	_, w = h.ExecuteRequestAndParse(http.MethodPost, base+"/counter/ack", carol, map[string]any{"accept": true, "price": "140"})
	require.Equal(t, http.StatusConflict, w.Code)

	resp, w = h.ExecuteRequestAndParse(http.MethodPost, base+"/counter/ack", carol, map[string]any{"accept": true, "price": "150"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	require.Equal(t, string(model.DecisionCounterAccepted), resp["data"].(map[string]any)["type"])

	_, w = h.ExecuteRequestAndParse(http.MethodPost, base+"/counter/ack", carol, map[string]any{"accept": true, "price": "150"})
	require.Equal(t, http.StatusConflict, w.Code, "closed auctions accept no further decisions")

	h.App.Dispatcher.Wait()

	resp, w = h.ExecuteRequestAndParse(http.MethodGet, base+"/decision", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	history := resp["data"].(map[string]any)
	require.Len(t, history["history"].([]any), 2)
	require.Equal(t, string(model.DecisionCounterAccepted), history["latest"].(map[string]any)["type"])

	resp, w = h.ExecuteRequestAndParse(http.MethodGet, base+"/settlement", "", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Equal(t, "settlement-"+auctionID+".pdf", resp["data"].(map[string]any)["key"])

	w = h.ExecuteRequest(http.MethodGet, base+"/settlement/document", "", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, strings.HasPrefix(w.Body.String(), "%PDF"))

	require.NotEmpty(t, h.Mail.To("bob@example.com"), "outbid notice")
	for _, addr := range []string{"alice@example.com", "carol@example.com"} {
		msgs := h.Mail.To(addr)
		require.Len(t, msgs, 1, addr)
		require.Len(t, msgs[0].Attachments, 1)
	}

	_, w = h.ExecuteRequestAndParse(http.MethodPost, base+"/settlement/email", carol, nil)
	require.Equal(t, http.StatusForbidden, w.Code)

	_, w = h.ExecuteRequestAndParse(http.MethodPost, base+"/settlement/email", alice, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Len(t, h.Mail.To("carol@example.com"), 2)
}

func TestAuctionLifecycle_Rejected(t *testing.T) {
	h := SetupHarness(t)
	alice := h.Login("alice", "1111")
	bob := h.Login("bob", "2222")

	auctionID := h.CreateAuction(alice, "50", "1", time.Minute)
	_, w := h.PlaceBid(bob, auctionID, "50")
	require.Equal(t, http.StatusCreated, w.Code)

	h.Clock.Increment(2 * time.Minute)

	_, w = h.ExecuteRequestAndParse(http.MethodPost, "/auctions/"+auctionID+"/decision", alice, map[string]any{"action": "reject"})
	require.Equal(t, http.StatusCreated, w.Code)
	h.App.Dispatcher.Wait()

	resp, w := h.ExecuteRequestAndParse(http.MethodGet, "/auctions/"+auctionID, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, string(model.StatusClosed), resp["data"].(map[string]any)["status"])

	_, w = h.ExecuteRequestAndParse(http.MethodGet, "/auctions/"+auctionID+"/settlement", "", nil)
	require.Equal(t, http.StatusNotFound, w.Code, "no document without a sale")
}

func TestConcurrentEqualBids_ExactlyOneAccepted(t *testing.T) {
	h := SetupHarness(t)
	alice := h.Login("alice", "1111")
	auctionID := h.CreateAuction(alice, "100", "5", time.Hour)

	const bidders = 20
	tokens := make([]string, bidders)
	for i := range tokens {
		handle := fmt.Sprintf("bidder%02d", i)
		_, err := h.App.Directory.AddUser(model.User{Handle: handle}, "0000")
		require.NoError(t, err)
		tokens[i] = h.Login(handle, "0000")
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		refused int
	)
	start := make(chan struct{})
	for _, token := range tokens {
		wg.Add(1)
		go func(token string) {
			defer wg.Done()
			<-start
			req := httptest.NewRequest(http.MethodPost, "/bids", strings.NewReader(fmt.Sprintf(`{"auction_id":%q,"amount":"100"}`, auctionID)))
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Authorization", "Bearer "+token)
			w := httptest.NewRecorder()
			h.Router.ServeHTTP(w, req)

			mu.Lock()
			defer mu.Unlock()
			switch w.Code {
			case http.StatusCreated:
				created++
			case http.StatusConflict:
				refused++
			}
		}(token)
	}
	close(start)
	wg.Wait()

	require.Equal(t, 1, created)
	require.Equal(t, bidders-1, refused)

	resp, w := h.ExecuteRequestAndParse(http.MethodGet, "/auctions/"+auctionID+"/bids", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, resp["data"].([]any), 1)

	resp, w = h.ExecuteRequestAndParse(http.MethodGet, "/admin/auctions/"+auctionID+"/debug", "", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = h.ExecuteRequest(http.MethodGet, "/admin/auctions/"+auctionID+"/debug", "", map[string]string{"X-Admin-Key": adminKey}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"consistent":true`)
}

func TestEventStream_OrderedAndSequenced(t *testing.T) {
	h := SetupHarness(t)
	alice := h.Login("alice", "1111")
	bob := h.Login("bob", "2222")
	carol := h.Login("carol", "3333")
	auctionID := h.CreateAuction(alice, "100", "5", time.Hour)

	srv := httptest.NewServer(h.Router)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/auctions/" + auctionID + "/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	reader := bufio.NewReader(resp.Body)

	snapshot := ReadFrame(t, reader)
	require.Equal(t, string(events.TypeAuctionState), snapshot.Event)
	require.Equal(t, "0", snapshot.ID)

	_, w := h.PlaceBid(bob, auctionID, "100")
	require.Equal(t, http.StatusCreated, w.Code)
	_, w = h.PlaceBid(carol, auctionID, "110")
	require.Equal(t, http.StatusCreated, w.Code)

	want := []struct {
		id    string
		event events.Type
	}{
		{"1", events.TypeNewBid},
		{"2", events.TypeAuctionState},
		{"3", events.TypeNewBid},
		{"4", events.TypeOutbid},
		{"5", events.TypeAuctionState},
	}
	for _, step := range want {
		f := ReadFrame(t, reader)
		require.Equal(t, step.id, f.ID)
		require.Equal(t, string(step.event), f.Event)
	}
}

func TestSweeper_AnnouncesEndOnce(t *testing.T) {
	h := SetupHarness(t)
	alice := h.Login("alice", "1111")
	auctionID := h.CreateAuction(alice, "100", "5", time.Minute)

	ctx := context.Background()
	sub, err := h.App.Bidding.Subscribe(ctx, auctionID)
	require.NoError(t, err)
	defer sub.Close()
	<-sub.Events() // snapshot

	require.Equal(t, 1, h.App.Sweeper.Sweep(ctx), "first pass records the live status")
	h.Clock.Increment(2 * time.Minute)
	require.Equal(t, 1, h.App.Sweeper.Sweep(ctx))
	require.Equal(t, 0, h.App.Sweeper.Sweep(ctx), "unchanged status is not re-announced")

	var seen []events.Type
	timeout := time.After(5 * time.Second)
	for len(seen) < 3 {
		select {
		case ev := <-sub.Events():
			seen = append(seen, ev.Type)
		case <-timeout:
			t.Fatalf("missing events, got %v", seen)
		}
	}
	require.Equal(t, []events.Type{events.TypeAuctionState, events.TypeAuctionState, events.TypeAuctionEnded}, seen)
}

func TestAdminForceClose(t *testing.T) {
	h := SetupHarness(t)
	alice := h.Login("alice", "1111")
	bob := h.Login("bob", "2222")
	auctionID := h.CreateAuction(alice, "100", "5", time.Hour)

	admin := map[string]string{"X-Admin-Key": adminKey}
	w := h.ExecuteRequest(http.MethodPost, "/admin/auctions/"+auctionID+"/close", "", admin, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	_, w = h.PlaceBid(bob, auctionID, "100")
	require.Equal(t, http.StatusConflict, w.Code)

	w = h.ExecuteRequest(http.MethodPost, "/admin/auctions/"+auctionID+"/close", "", admin, nil)
	require.Equal(t, http.StatusConflict, w.Code)
}

func TestProfileAndUsers(t *testing.T) {
	h := SetupHarness(t)
	dave := h.Login("dave", "4444")

	_, w := h.ExecuteRequestAndParse(http.MethodPost, "/auth/login", "", map[string]string{"handle": "dave", "pin": "0000"})
	require.Equal(t, http.StatusUnauthorized, w.Code)

	_, w = h.ExecuteRequestAndParse(http.MethodPut, "/me/email", dave, map[string]string{"email": "not-an-address"})
	require.Equal(t, http.StatusBadRequest, w.Code)

	resp, w := h.ExecuteRequestAndParse(http.MethodPut, "/me/email", dave, map[string]string{"email": "dave@example.com"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "dave@example.com", resp["data"].(map[string]any)["email"])

	_, w = h.ExecuteRequestAndParse(http.MethodPut, "/me/pin", dave, map[string]string{"pin": "12a4"})
	require.Equal(t, http.StatusBadRequest, w.Code)

	_, w = h.ExecuteRequestAndParse(http.MethodPut, "/me/pin", dave, map[string]string{"pin": "9876"})
	require.Equal(t, http.StatusOK, w.Code)
	h.Login("dave", "9876")

	resp, w = h.ExecuteRequestAndParse(http.MethodGet, "/users", dave, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, resp["data"].([]any), 4)
}
