// Package app assembles the auction engine from its configuration.
package app

import (
	"context"
	"fmt"

	"auction-house/internal/auctionlock"
	bidding "auction-house/internal/biddingService"
	"auction-house/internal/broadcast"
	"auction-house/internal/config"
	"auction-house/internal/dispatch"
	"auction-house/internal/identity"
	model "auction-house/internal/models"
	"auction-house/internal/negotiation"
	"auction-house/internal/notify"
	"auction-house/internal/repository"
	"auction-house/internal/server"
	"auction-house/internal/settlement"
	"auction-house/internal/sweeper"
	"auction-house/internal/tracker"
	"auction-house/utils"

	"code.cloudfoundry.org/clock"
	"github.com/gin-gonic/gin"
)

// App holds the wired services. Close releases what New opened.
type App struct {
	Repo        repository.AuctionDB
	Hub         *broadcast.Hub
	Dispatcher  *dispatch.Dispatcher
	Directory   *identity.MemoryDirectory
	Identity    *identity.Service
	Bidding     *bidding.BiddingService
	Negotiation *negotiation.NegotiationService
	Settlement  *settlement.Service
	Sweeper     *sweeper.Sweeper
	Router      *gin.Engine

	closers []func()
}

type options struct {
	clock  clock.Clock
	sender notify.Sender
	repo   repository.AuctionDB
}

type Option func(*options)

// WithClock replaces the wall clock, typically with a fake in tests
func WithClock(clk clock.Clock) Option {
	return func(o *options) { o.clock = clk }
}

// WithSender replaces the mail sender chosen from config
func WithSender(s notify.Sender) Option {
	return func(o *options) { o.sender = s }
}

// WithRepository replaces the store chosen from config
func WithRepository(repo repository.AuctionDB) Option {
	return func(o *options) { o.repo = repo }
}

func New(ctx context.Context, cfg config.Config, opts ...Option) (*App, error) {
	o := options{clock: clock.NewClock()}
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	if o.repo != nil {
		a.Repo = o.repo
	} else {
		repo, closeRepo, err := openStore(ctx, cfg.Store)
		if err != nil {
			return nil, err
		}
		a.Repo = repo
		a.closers = append(a.closers, closeRepo)
	}

	tr, err := tracker.New(a.Repo, cfg.Cache.Size)
	if err != nil {
		return nil, fmt.Errorf("highest-bid tracker: %w", err)
	}

	if a.Dispatcher, err = dispatch.New(cfg.Dispatch.Workers, cfg.Dispatch.Timeout.Duration); err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.Dispatcher.Stop)

	a.Hub = broadcast.NewHub(cfg.Events.Buffer)
	locks := auctionlock.New()

	if a.Identity, a.Directory, err = buildIdentity(cfg, o.clock); err != nil {
		return nil, err
	}

	sender := o.sender
	if sender == nil {
		sender = buildSender(cfg.Mail)
	}
	mailer := notify.NewMailer(sender, a.Directory, a.Dispatcher, cfg.Server.BaseURL)

	storage, err := buildStorage(ctx, cfg.Settlement)
	if err != nil {
		return nil, err
	}
	a.Settlement = settlement.NewService(storage, mailer, a.Directory, a.Dispatcher, a.Hub, o.clock)

	a.Bidding = bidding.NewBiddingService(a.Repo, tr, locks, a.Hub, o.clock, mailer)
	a.Negotiation = negotiation.NewNegotiationService(a.Repo, tr, locks, a.Hub, o.clock, a.Settlement)
	a.Settlement.SetSaleSource(a.Negotiation)

	a.Sweeper = sweeper.New(a.Repo, a.Bidding, o.clock, cfg.Sweeper.Interval.Duration)

	a.Router = server.SetupRouter(server.Services{
		Bidding:     a.Bidding,
		Negotiation: a.Negotiation,
		Identity:    a.Identity,
		Settlement:  a.Settlement,
		AdminKey:    cfg.Auth.AdminKey,
		Heartbeat:   cfg.Events.Heartbeat.Duration,
	})

	ok = true
	return a, nil
}

// Close drains background work and releases the store, in reverse order of creation
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// openStore builds the configured repository. The returned func releases it.
func openStore(ctx context.Context, cfg config.StoreConfig) (repository.AuctionDB, func(), error) {
	if cfg.Driver != "postgres" {
		return repository.NewMemoryRepo(), func() {}, nil
	}

	repo := repository.OpenPostgres(cfg.DSN)
	if err := repo.Migrate(ctx); err != nil {
		_ = repo.Close()
		return nil, nil, fmt.Errorf("migrate postgres store: %w", err)
	}
	return repo, func() {
		if err := repo.Close(); err != nil {
			utils.Warn("Failed to close postgres store", map[string]any{"error": err.Error()})
		}
	}, nil
}

// buildIdentity seeds the user directory from config
func buildIdentity(cfg config.Config, clk clock.Clock) (*identity.Service, *identity.MemoryDirectory, error) {
	directory := identity.NewMemoryDirectory(cfg.Auth.BcryptCost)
	for _, seed := range cfg.Users {
		u, err := directory.AddUser(model.User{UserID: seed.ID, Handle: seed.Handle, Email: seed.Email}, seed.PIN)
		if err != nil {
			return nil, nil, fmt.Errorf("seed user %q: %w", seed.Handle, err)
		}
		utils.Debug("Seeded user", map[string]any{"user_id": u.UserID, "handle": u.Handle})
	}

	tokens, err := identity.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL.Duration, clk)
	if err != nil {
		return nil, nil, err
	}
	return identity.NewService(directory, tokens), directory, nil
}

// buildSender uses SendGrid when a key is configured, otherwise e-mails are only logged
func buildSender(cfg config.MailConfig) notify.Sender {
	if cfg.SendGridKey == "" {
		utils.Warn("No SendGrid key configured, e-mails will be logged only", nil)
		return notify.LogSender{}
	}
	return notify.NewSendGridSender(cfg.SendGridKey, cfg.FromAddress, cfg.FromName)
}

func buildStorage(ctx context.Context, cfg config.SettlementConfig) (settlement.Storage, error) {
	if cfg.Storage == "s3" {
		return settlement.NewS3Storage(ctx, settlement.S3Config(cfg.S3))
	}
	return settlement.NewLocalStorage(cfg.Dir)
}
