package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"auction-house/internal/biddingerrors"
	model "auction-house/internal/models"
)

// Session is the result of a successful login
type Session struct {
	Token     string     `json:"token"`
	ExpiresAt time.Time  `json:"expires_at"`
	User      model.User `json:"user"`
}

// Service combines the directory with token issuance
type Service struct {
	directory *MemoryDirectory
	tokens    *TokenIssuer
}

func NewService(directory *MemoryDirectory, tokens *TokenIssuer) *Service {
	return &Service{directory: directory, tokens: tokens}
}

// Login verifies a handle and PIN and issues a session token
func (s *Service) Login(ctx context.Context, handle, pin string) (Session, error) {
	u, err := s.directory.Authenticate(ctx, handle, pin)
	if err != nil {
		return Session{}, err
	}
	token, expires, err := s.tokens.Issue(u)
	if err != nil {
		return Session{}, err
	}
	return Session{Token: token, ExpiresAt: expires, User: u}, nil
}

// Resolve maps a bearer token to its current user
func (s *Service) Resolve(ctx context.Context, token string) (model.User, error) {
	claims, err := s.tokens.Verify(token)
	if err != nil {
		return model.User{}, err
	}
	u, err := s.directory.FindByID(ctx, claims.Subject)
	if errors.Is(err, biddingerrors.ErrUserNotFound) {
		return model.User{}, fmt.Errorf("identity: %w - unknown subject", biddingerrors.ErrUnauthorized)
	}
	return u, err
}

func (s *Service) FindByID(ctx context.Context, userID string) (model.User, error) {
	return s.directory.FindByID(ctx, userID)
}

func (s *Service) ListUsers(ctx context.Context) []model.User {
	return s.directory.ListUsers(ctx)
}

func (s *Service) UpdateEmail(ctx context.Context, userID, email string) (model.User, error) {
	return s.directory.UpdateEmail(ctx, userID, email)
}

func (s *Service) SetPIN(ctx context.Context, userID, pin string) error {
	return s.directory.SetPIN(ctx, userID, pin)
}
