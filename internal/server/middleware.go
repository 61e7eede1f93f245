package server

import (
	"context"
	"crypto/subtle"
	"strings"
	"time"

	"auction-house/internal/biddingerrors"
	model "auction-house/internal/models"
	"auction-house/services/bidding/helpers"
	"auction-house/utils"

	"github.com/gin-gonic/gin"
)

const AdminKeyHeader = "X-Admin-Key"

// TokenResolver turns a bearer token into the user it was issued to
type TokenResolver interface {
	Resolve(ctx context.Context, token string) (model.User, error)
}

// RequestLoggerMiddleware logs incoming requests with timing
func RequestLoggerMiddleware(c *gin.Context) {
	start := time.Now()

	c.Next() // process request

	fields := map[string]any{
		"method":  c.Request.Method,
		"path":    c.Request.URL.Path,
		"status":  c.Writer.Status(),
		"latency": time.Since(start).String(),
	}
	if u, ok := helpers.CurrentUser(c); ok {
		fields["user_id"] = u.UserID
	}
	utils.Info("HTTP Request", fields)
}

// Authenticate attaches the caller to the context when a bearer token is present.
// Requests without a token pass through anonymously; a bad token is rejected.
func Authenticate(resolver TokenResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.Next()
			return
		}

		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			helpers.RespondError(c, "Authenticate", biddingerrors.ErrUnauthorized, map[string]any{"reason": "malformed authorization header"})
			c.Abort()
			return
		}

		user, err := resolver.Resolve(c.Request.Context(), strings.TrimSpace(token))
		if err != nil {
			helpers.RespondError(c, "Authenticate", err, nil)
			c.Abort()
			return
		}
		c.Set(helpers.UserContextKey, user)
		c.Next()
	}
}

// RequireAuth rejects anonymous requests
func RequireAuth(c *gin.Context) {
	if _, ok := helpers.CurrentUser(c); !ok {
		helpers.RespondError(c, "RequireAuth", biddingerrors.ErrUnauthorized, map[string]any{"path": c.Request.URL.Path})
		c.Abort()
		return
	}
	c.Next()
}

// RequireAdmin checks the admin key header. An empty configured key disables the admin surface.
func RequireAdmin(adminKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader(AdminKeyHeader)
		if adminKey == "" || subtle.ConstantTimeCompare([]byte(got), []byte(adminKey)) != 1 {
			helpers.RespondError(c, "RequireAdmin", biddingerrors.ErrUnauthorized, map[string]any{"path": c.Request.URL.Path})
			c.Abort()
			return
		}
		c.Next()
	}
}
