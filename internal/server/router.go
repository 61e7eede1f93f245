package server

import (
	"time"

	handler "auction-house/services/bidding/handler"

	"github.com/gin-gonic/gin"
)

// IdentityService is the identity collaborator as seen by the HTTP layer
type IdentityService interface {
	handler.IdentityServiceInterface
	TokenResolver
}

// Services groups what the router dispatches to
type Services struct {
	Bidding     handler.BiddingServiceInterface
	Negotiation handler.NegotiationServiceInterface
	Identity    IdentityService
	Settlement  handler.SettlementServiceInterface
	AdminKey    string
	Heartbeat   time.Duration
}

// SetupRouter configures all Gin routes for the application
func SetupRouter(svc Services) *gin.Engine {
	router := gin.New() // New router without default middleware for full control over middleware and logging

	router.Use(gin.Recovery())             // recover from panics
	router.Use(RequestLoggerMiddleware)    // custom request logging
	router.Use(Authenticate(svc.Identity)) // optional bearer token

	biddingHandler := handler.NewBiddingHandler(svc.Bidding)
	eventsHandler := handler.NewEventsHandler(svc.Bidding, svc.Heartbeat)
	decisionHandler := handler.NewDecisionHandler(svc.Negotiation)
	authHandler := handler.NewAuthHandler(svc.Identity)
	settlementHandler := handler.NewSettlementHandler(svc.Settlement)
	adminHandler := handler.NewAdminHandler(svc.Bidding, svc.Negotiation)

	router.GET("/health", handler.HealthHandler)

	auth := router.Group("/auth")
	{
		auth.POST("/login", authHandler.LoginHandler)
	}

	me := router.Group("/me", RequireAuth)
	{
		me.GET("", authHandler.MeHandler)
		me.PUT("/email", authHandler.UpdateEmailHandler)
		me.PUT("/pin", authHandler.UpdatePINHandler)
	}

	bids := router.Group("/bids", RequireAuth)
	{
		bids.POST("", biddingHandler.RecordBidHandler)
	}

	auctions := router.Group("/auctions")
	{
		auctions.GET("", biddingHandler.ListAuctionsHandler)
		auctions.POST("", RequireAuth, biddingHandler.CreateAuctionHandler)
		auctions.GET("/:auction_id", biddingHandler.GetAuctionHandler)
		auctions.GET("/:auction_id/next-min", biddingHandler.NextMinBidHandler)
		auctions.GET("/:auction_id/bids", biddingHandler.GetBidsByAuctionHandler)
		auctions.GET("/:auction_id/highest", biddingHandler.GetHighestBidHandler)
		auctions.GET("/:auction_id/events", eventsHandler.StreamEventsHandler)

		auctions.GET("/:auction_id/decision", decisionHandler.GetDecisionHandler)
		auctions.POST("/:auction_id/decision", RequireAuth, decisionHandler.DecideHandler)
		auctions.POST("/:auction_id/counter/ack", RequireAuth, decisionHandler.AcknowledgeCounterHandler)

		auctions.GET("/:auction_id/settlement", settlementHandler.GetSettlementHandler)
		auctions.GET("/:auction_id/settlement/document", settlementHandler.DownloadSettlementHandler)
		auctions.POST("/:auction_id/settlement/email", RequireAuth, settlementHandler.EmailSettlementHandler)
	}

	users := router.Group("/users")
	{
		users.GET("", RequireAuth, authHandler.ListUsersHandler)
		users.GET("/:user_id/auctions", biddingHandler.GetAuctionsByUserHandler)
	}

	admin := router.Group("/admin", RequireAdmin(svc.AdminKey))
	{
		admin.GET("/auctions", adminHandler.ListAuctionsHandler)
		admin.POST("/auctions/:auction_id/close", adminHandler.ForceCloseHandler)
		admin.GET("/auctions/:auction_id/debug", adminHandler.DebugHandler)
	}

	return router
}
