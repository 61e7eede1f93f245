package handler

import (
	"context"

	bidding "auction-house/internal/biddingService"
	"auction-house/internal/broadcast"
	"auction-house/internal/identity"
	model "auction-house/internal/models"

	"github.com/shopspring/decimal"
)

//go:generate mockgen -source=interfaces.go -destination=mock_services.go -package=handler

type BiddingServiceInterface interface {
	PlaceBid(ctx context.Context, auctionID string, bidder model.User, amount decimal.Decimal) (model.Bid, error)
	NextMinBid(ctx context.Context, auctionID string) (decimal.Decimal, error)
	CreateAuction(ctx context.Context, req model.NewAuction) (model.Auction, error)
	GetAuction(ctx context.Context, auctionID string) (model.AuctionView, error)
	ListAuctions(ctx context.Context) ([]model.AuctionView, error)
	GetHighestBid(ctx context.Context, auctionID string) (*model.HighestBid, error)
	GetBidsForAuction(ctx context.Context, auctionID string) ([]model.Bid, error)
	GetAuctionsByBidder(ctx context.Context, userID string) ([]model.AuctionView, error)
	Subscribe(ctx context.Context, auctionID string) (*broadcast.Subscription, error)
	Inspect(ctx context.Context, auctionID string) (bidding.AuctionDebug, error)
}

type NegotiationServiceInterface interface {
	Decide(ctx context.Context, auctionID string, actor model.User, kind model.DecisionKind, price *decimal.Decimal) (model.Decision, error)
	AcknowledgeCounter(ctx context.Context, auctionID string, actor model.User, accept bool, price *decimal.Decimal) (model.Decision, error)
	ForceClose(ctx context.Context, auctionID string) (model.Auction, error)
	GetDecisions(ctx context.Context, auctionID string) (model.DecisionHistory, error)
}

type IdentityServiceInterface interface {
	Login(ctx context.Context, handle, pin string) (identity.Session, error)
	ListUsers(ctx context.Context) []model.User
	UpdateEmail(ctx context.Context, userID, email string) (model.User, error)
	SetPIN(ctx context.Context, userID, pin string) error
}

type SettlementServiceInterface interface {
	Document(ctx context.Context, auctionID string) (model.DocumentRef, error)
	Download(ctx context.Context, auctionID string) ([]byte, error)
	EmailDocument(ctx context.Context, auctionID string, actor model.User) (model.DocumentRef, error)
}
