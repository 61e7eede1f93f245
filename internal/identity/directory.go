// Package identity resolves users, verifies PINs and issues session tokens.
package identity

import (
	"context"
	"fmt"
	"net/mail"
	"regexp"
	"sort"
	"strings"
	"sync"

	"auction-house/internal/biddingerrors"
	model "auction-house/internal/models"
	"auction-house/utils"

	"golang.org/x/crypto/bcrypt"
)

var pinPattern = regexp.MustCompile(`^[0-9]{4}$`)

type account struct {
	user    model.User
	pinHash []byte
}

// MemoryDirectory is a concurrency-safe in-memory user directory with bcrypt-hashed PINs
type MemoryDirectory struct {
	mu       sync.RWMutex
	cost     int
	byID     map[string]*account
	byHandle map[string]*account // key: lower-cased handle
}

// NewMemoryDirectory creates an empty directory hashing PINs at the given bcrypt cost
func NewMemoryDirectory(cost int) *MemoryDirectory {
	if cost < bcrypt.MinCost {
		cost = bcrypt.DefaultCost
	}
	return &MemoryDirectory{
		cost:     cost,
		byID:     make(map[string]*account),
		byHandle: make(map[string]*account),
	}
}

// AddUser registers a user. An empty UserID is replaced with a generated one.
func (d *MemoryDirectory) AddUser(u model.User, pin string) (model.User, error) {
	if strings.TrimSpace(u.Handle) == "" {
		return model.User{}, fmt.Errorf("identity: %w - handle required", biddingerrors.ErrInvalidCredential)
	}
	if !pinPattern.MatchString(pin) {
		return model.User{}, fmt.Errorf("identity: %w", biddingerrors.ErrInvalidPIN)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), d.cost)
	if err != nil {
		return model.User{}, fmt.Errorf("identity: hash pin: %w", err)
	}
	if u.UserID == "" {
		u.UserID = utils.GenerateID()
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	key := strings.ToLower(u.Handle)
	if _, exists := d.byHandle[key]; exists {
		return model.User{}, fmt.Errorf("identity: %w - handle %q taken", biddingerrors.ErrInvalidCredential, u.Handle)
	}
	if _, exists := d.byID[u.UserID]; exists {
		return model.User{}, fmt.Errorf("identity: %w - id %q taken", biddingerrors.ErrInvalidCredential, u.UserID)
	}
	acc := &account{user: u, pinHash: hash}
	d.byID[u.UserID] = acc
	d.byHandle[key] = acc
	return u, nil
}

// Authenticate checks a handle and PIN. Unknown handles and wrong PINs fail alike.
func (d *MemoryDirectory) Authenticate(_ context.Context, handle, pin string) (model.User, error) {
	d.mu.RLock()
	acc, ok := d.byHandle[strings.ToLower(strings.TrimSpace(handle))]
	d.mu.RUnlock()

	if !ok {
		return model.User{}, fmt.Errorf("identity: %w", biddingerrors.ErrInvalidCredential)
	}
	if err := bcrypt.CompareHashAndPassword(acc.pinHash, []byte(pin)); err != nil {
		return model.User{}, fmt.Errorf("identity: %w", biddingerrors.ErrInvalidCredential)
	}
	return acc.user, nil
}

// FindByID returns a user
func (d *MemoryDirectory) FindByID(_ context.Context, userID string) (model.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	acc, ok := d.byID[userID]
	if !ok {
		return model.User{}, fmt.Errorf("identity: user %s: %w", userID, biddingerrors.ErrUserNotFound)
	}
	return acc.user, nil
}

// ListUsers returns every user ordered by handle
func (d *MemoryDirectory) ListUsers(_ context.Context) []model.User {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]model.User, 0, len(d.byID))
	for _, acc := range d.byID {
		out = append(out, acc.user)
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].Handle) < strings.ToLower(out[j].Handle)
	})
	return out
}

// UpdateEmail sets a user's notification address
func (d *MemoryDirectory) UpdateEmail(_ context.Context, userID, email string) (model.User, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(email))
	if err != nil || addr.Name != "" {
		return model.User{}, fmt.Errorf("identity: %w", biddingerrors.ErrInvalidEmail)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	acc, ok := d.byID[userID]
	if !ok {
		return model.User{}, fmt.Errorf("identity: user %s: %w", userID, biddingerrors.ErrUserNotFound)
	}
	acc.user.Email = addr.Address
	return acc.user, nil
}

// SetPIN replaces a user's PIN. PINs are exactly four digits.
func (d *MemoryDirectory) SetPIN(_ context.Context, userID, pin string) error {
	if !pinPattern.MatchString(pin) {
		return fmt.Errorf("identity: %w", biddingerrors.ErrInvalidPIN)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), d.cost)
	if err != nil {
		return fmt.Errorf("identity: hash pin: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	acc, ok := d.byID[userID]
	if !ok {
		return fmt.Errorf("identity: user %s: %w", userID, biddingerrors.ErrUserNotFound)
	}
	acc.pinHash = hash
	return nil
}
