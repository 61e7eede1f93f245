package identity

import (
	"errors"
	"fmt"
	"time"

	"auction-house/internal/biddingerrors"
	model "auction-house/internal/models"

	"code.cloudfoundry.org/clock"
	"github.com/golang-jwt/jwt/v5"
)

const DefaultTokenTTL = 2 * time.Hour

// Claims are the session token contents
type Claims struct {
	Handle string `json:"handle"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies HS256 session tokens
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	clock  clock.Clock
}

func NewTokenIssuer(secret string, ttl time.Duration, clk clock.Clock) (*TokenIssuer, error) {
	if secret == "" {
		return nil, errors.New("identity: empty token secret")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenIssuer{secret: []byte(secret), ttl: ttl, clock: clk}, nil
}

// Issue signs a token for u and returns it with its expiry
func (t *TokenIssuer) Issue(u model.User) (string, time.Time, error) {
	now := t.clock.Now().UTC()
	expires := now.Add(t.ttl)
	claims := Claims{
		Handle: u.Handle,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("identity: sign token: %w", err)
	}
	return signed, expires, nil
}

// Verify checks signature, algorithm and expiry
func (t *TokenIssuer) Verify(token string) (Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(t.clock.Now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return Claims{}, fmt.Errorf("identity: %w - %s", biddingerrors.ErrUnauthorized, err.Error())
	}
	if claims.Subject == "" {
		return Claims{}, fmt.Errorf("identity: %w - token has no subject", biddingerrors.ErrUnauthorized)
	}
	return claims, nil
}
