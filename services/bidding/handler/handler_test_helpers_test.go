package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	model "auction-house/internal/models"
	"auction-house/services/bidding/helpers"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

var (
	alice = model.User{UserID: "u-alice", Handle: "alice", Email: "alice@example.com"}
	bob   = model.User{UserID: "u-bob", Handle: "bob", Email: "bob@example.com"}
)

// newTestRouter returns a gin engine that authenticates every request as user, unless user is nil
func newTestRouter(user *model.User) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	if user != nil {
		u := *user
		router.Use(func(c *gin.Context) {
			c.Set(helpers.UserContextKey, u)
			c.Next()
		})
	}
	return router
}

// doJSON sends body (a string is sent verbatim) and decodes the envelope
func doJSON(t *testing.T, router http.Handler, method, path string, body any) (int, map[string]any) {
	t.Helper()

	var reader *bytes.Reader
	switch v := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(v))
	default:
		raw, err := json.Marshal(v)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return w.Code, resp
}
