package biddingerrors

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Repository-level errors
var (
	ErrAuctionNotFound   = errors.New("auction not found")
	ErrUserNotFound      = errors.New("user not found")
	ErrStoreUnavailable  = errors.New("store unavailable")
	ErrDocumentNotFound  = errors.New("settlement document not found")
	ErrInvalidCredential = errors.New("invalid handle or pin")
)

// business logic errors
var (
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInvalidAuction    = errors.New("invalid auction")
	ErrAuctionNotLive    = errors.New("auction not live")
	ErrBidTooLow         = errors.New("bid amount too low")
	ErrSellerCannotBid   = errors.New("seller cannot bid on own auction")
	ErrOnlySeller        = errors.New("only the seller may decide")
	ErrNotYetEnded       = errors.New("auction has not ended")
	ErrAlreadyClosed     = errors.New("auction already closed")
	ErrNoHighestBid      = errors.New("no highest bid")
	ErrOnlyHighestBidder = errors.New("only the highest bidder may respond")
	ErrNoOpenCounter     = errors.New("no open counter offer")
	ErrCounterPending    = errors.New("counter offer awaiting bidder response")
	ErrPriceMismatch     = errors.New("price does not match the open counter offer")
	ErrInvalidDecision   = errors.New("invalid decision")
	ErrNoSale            = errors.New("auction did not end in a sale")
)

// identity errors
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrInvalidPIN   = errors.New("pin must be exactly 4 digits")
	ErrInvalidEmail = errors.New("valid email required")
)

// BidTooLowError reports the minimum acceptable bid at the time of rejection
type BidTooLowError struct {
	MinBid decimal.Decimal
}

func (e *BidTooLowError) Error() string {
	return fmt.Sprintf("%s - bid must be at least %s", ErrBidTooLow, e.MinBid.StringFixed(2))
}

func (e *BidTooLowError) Unwrap() error {
	return ErrBidTooLow
}
