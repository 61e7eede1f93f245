package helpers

import (
	"errors"
	"fmt"
	"net/http"

	"auction-house/internal/biddingerrors"
	model "auction-house/internal/models"
	"auction-house/utils"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// UserContextKey is where the authentication middleware stores the caller
const UserContextKey = "auction.user"

// HandleBindError sends a standardized JSON error for binding failures
func HandleBindError(c *gin.Context, handlerName string, err error) {
	wrappedErr := fmt.Errorf("invalid request payload: %w", err)
	utils.JSONError(c, http.StatusBadRequest, wrappedErr, "invalid request payload")
	utils.Warn(handlerName+": binding error", map[string]any{"error": err.Error()})
}

// MapErrorToHTTP maps domain/service errors to HTTP status code and message
func MapErrorToHTTP(err error) (int, string) {
	switch {
	case errors.Is(err, biddingerrors.ErrAuctionNotFound):
		return http.StatusNotFound, "auction not found"
	case errors.Is(err, biddingerrors.ErrUserNotFound):
		return http.StatusNotFound, "user not found"
	case errors.Is(err, biddingerrors.ErrDocumentNotFound):
		return http.StatusNotFound, "settlement document not found"
	case errors.Is(err, biddingerrors.ErrNoSale):
		return http.StatusNotFound, "auction did not end in a sale"

	case errors.Is(err, biddingerrors.ErrInvalidAmount):
		return http.StatusBadRequest, "invalid amount"
	case errors.Is(err, biddingerrors.ErrInvalidAuction):
		return http.StatusBadRequest, "invalid auction details"
	case errors.Is(err, biddingerrors.ErrInvalidDecision):
		return http.StatusBadRequest, "invalid decision"
	case errors.Is(err, biddingerrors.ErrInvalidPIN):
		return http.StatusBadRequest, "pin must be exactly 4 digits"
	case errors.Is(err, biddingerrors.ErrInvalidEmail):
		return http.StatusBadRequest, "valid email required"

	case errors.Is(err, biddingerrors.ErrInvalidCredential):
		return http.StatusUnauthorized, "invalid handle or pin"
	case errors.Is(err, biddingerrors.ErrUnauthorized):
		return http.StatusUnauthorized, "authentication required"

	case errors.Is(err, biddingerrors.ErrSellerCannotBid):
		return http.StatusForbidden, "seller cannot bid on own auction"
	case errors.Is(err, biddingerrors.ErrOnlySeller):
		return http.StatusForbidden, "only the seller may do this"
	case errors.Is(err, biddingerrors.ErrOnlyHighestBidder):
		return http.StatusForbidden, "only the highest bidder may respond"

	case errors.Is(err, biddingerrors.ErrBidTooLow):
		return http.StatusConflict, "bid amount too low"
	case errors.Is(err, biddingerrors.ErrAuctionNotLive):
		return http.StatusConflict, "auction not live"
	case errors.Is(err, biddingerrors.ErrNotYetEnded):
		return http.StatusConflict, "auction has not ended"
	case errors.Is(err, biddingerrors.ErrAlreadyClosed):
		return http.StatusConflict, "auction already closed"
	case errors.Is(err, biddingerrors.ErrNoHighestBid):
		return http.StatusConflict, "no highest bid"
	case errors.Is(err, biddingerrors.ErrNoOpenCounter):
		return http.StatusConflict, "no open counter offer"
	case errors.Is(err, biddingerrors.ErrCounterPending):
		return http.StatusConflict, "counter offer awaiting bidder response"
	case errors.Is(err, biddingerrors.ErrPriceMismatch):
		return http.StatusConflict, "price does not match the counter offer"

	case errors.Is(err, biddingerrors.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "store unavailable"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

// RespondError writes the mapped error envelope and logs it.
// A rejected bid carries the minimum that would have been accepted.
func RespondError(c *gin.Context, handlerName string, err error, fields map[string]any) {
	status, message := MapErrorToHTTP(err)
	wrapped := fmt.Errorf("%s: %w", message, err)

	var tooLow *biddingerrors.BidTooLowError
	if errors.As(err, &tooLow) {
		utils.JSONErrorWithDetails(c, status, wrapped, message, gin.H{
			"min_bid": tooLow.MinBid.StringFixed(model.MonetaryPrecision),
		})
	} else {
		utils.JSONError(c, status, wrapped, message)
	}

	logFields := map[string]any{"handler": handlerName, "status": status, "error": err.Error()}
	for k, v := range fields {
		logFields[k] = v
	}
	if status >= http.StatusInternalServerError {
		utils.Error(handlerName+": request failed", logFields)
		return
	}
	utils.Warn(handlerName+": request rejected", logFields)
}

// CurrentUser returns the authenticated caller, if any
func CurrentUser(c *gin.Context) (model.User, bool) {
	v, ok := c.Get(UserContextKey)
	if !ok {
		return model.User{}, false
	}
	u, ok := v.(model.User)
	return u, ok
}

// FormatAmount renders money with two fractional digits
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(model.MonetaryPrecision)
}

// LogSuccess is a small helper to standardize logging of successful operations
func LogSuccess(handlerName, message string, ctx map[string]any) {
	utils.Info(handlerName+": "+message, ctx)
}
