package integrationtests

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"auction-house/internal/app"
	"auction-house/internal/config"
	"auction-house/internal/notify"

	"code.cloudfoundry.org/clock/fakeclock"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const adminKey = "integration-admin-key"

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// recordingSender keeps every outbound message in memory
type recordingSender struct {
	mu   sync.Mutex
	msgs []notify.Message
}

func (r *recordingSender) Send(_ context.Context, msg notify.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return nil
}

func (r *recordingSender) To(addr string) []notify.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notify.Message
	for _, m := range r.msgs {
		if m.To == addr {
			out = append(out, m)
		}
	}
	return out
}

// Harness runs the whole engine in process against a fake clock
type Harness struct {
	t      *testing.T
	App    *app.App
	Clock  *fakeclock.FakeClock
	Mail   *recordingSender
	Router *gin.Engine
}

func testConfig(t *testing.T) config.Config {
	cfg := config.Default()
	cfg.Auth.JWTSecret = "integration-secret"
	cfg.Auth.AdminKey = adminKey
	cfg.Auth.BcryptCost = bcrypt.MinCost
	cfg.Settlement.Dir = t.TempDir()
	cfg.Server.BaseURL = "http://auction.test"
	cfg.Users = []config.SeedUser{
		{ID: "u-alice", Handle: "alice", Email: "alice@example.com", PIN: "1111"},
		{ID: "u-bob", Handle: "bob", Email: "bob@example.com", PIN: "2222"},
		{ID: "u-carol", Handle: "carol", Email: "carol@example.com", PIN: "3333"},
		{ID: "u-dave", Handle: "dave", PIN: "4444"},
	}
	return cfg
}

// SetupHarness initializes the engine with an in-memory repository for integration testing.
func SetupHarness(t *testing.T) *Harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	clk := fakeclock.NewFakeClock(epoch)
	mail := &recordingSender{}
	a, err := app.New(context.Background(), testConfig(t), app.WithClock(clk), app.WithSender(mail))
	require.NoError(t, err)
	t.Cleanup(a.Close)

	return &Harness{t: t, App: a, Clock: clk, Mail: mail, Router: a.Router}
}

// ExecuteRequest executes an HTTP request and returns the response recorder.
func (h *Harness) ExecuteRequest(method, url, token string, headers map[string]string, body any) *httptest.ResponseRecorder {
	h.t.Helper()

	var reqBody []byte
	switch v := body.(type) {
	case nil:
	case string:
		reqBody = []byte(v)
	case []byte:
		reqBody = v
	default:
		var err error
		reqBody, err = json.Marshal(v)
		require.NoError(h.t, err)
	}

	req := httptest.NewRequest(method, url, bytes.NewReader(reqBody))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.Router.ServeHTTP(w, req)
	return w
}

// ExecuteRequestAndParse executes an HTTP request and decodes the response envelope
func (h *Harness) ExecuteRequestAndParse(method, url, token string, body any) (map[string]any, *httptest.ResponseRecorder) {
	h.t.Helper()
	w := h.ExecuteRequest(method, url, token, nil, body)

	var resp map[string]any
	if w.Body.Len() > 0 {
		require.NoError(h.t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	}
	return resp, w
}

// Login returns a bearer token for a seeded user
func (h *Harness) Login(handle, pin string) string {
	h.t.Helper()
	resp, w := h.ExecuteRequestAndParse(http.MethodPost, "/auth/login", "", map[string]string{"handle": handle, "pin": pin})
	require.Equal(h.t, http.StatusOK, w.Code, w.Body.String())
	return resp["data"].(map[string]any)["token"].(string)
}

// CreateAuction opens an auction starting now on the fake clock and returns its id
func (h *Harness) CreateAuction(token, floor, increment string, duration time.Duration) string {
	h.t.Helper()
	resp, w := h.ExecuteRequestAndParse(http.MethodPost, "/auctions", token, map[string]any{
		"item_name":        "Vintage lamp",
		"floor_price":      floor,
		"bid_increment":    increment,
		"duration_seconds": int64(duration / time.Second),
	})
	require.Equal(h.t, http.StatusCreated, w.Code, w.Body.String())
	return resp["data"].(map[string]any)["auction_id"].(string)
}

// PlaceBid posts a bid and returns the response
func (h *Harness) PlaceBid(token, auctionID, amount string) (map[string]any, *httptest.ResponseRecorder) {
	return h.ExecuteRequestAndParse(http.MethodPost, "/bids", token, map[string]any{"auction_id": auctionID, "amount": amount})
}

type sseFrame struct {
	ID    string
	Event string
	Data  map[string]any
}

// ReadFrame reads one Server-Sent Event, skipping heartbeats
func ReadFrame(t *testing.T, r *bufio.Reader) sseFrame {
	t.Helper()
	var f sseFrame
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		if line == "" {
			if f.Event != "" && f.Event != "heartbeat" {
				return f
			}
			f = sseFrame{}
			continue
		}
		key, value, _ := strings.Cut(line, ":")
		switch key {
		case "id":
			f.ID = value
		case "event":
			f.Event = value
		case "data":
			require.NoError(t, json.Unmarshal([]byte(value), &f.Data))
		}
	}
}
