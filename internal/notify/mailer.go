package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"auction-house/internal/biddingerrors"
	"auction-house/internal/dispatch"
	model "auction-house/internal/models"
	"auction-house/utils"
)

// UserLookup resolves a user's contact details
type UserLookup interface {
	FindByID(ctx context.Context, userID string) (model.User, error)
}

// Submitter runs a task in the background
type Submitter interface {
	Submit(name string, fields map[string]any, task dispatch.Task)
}

// ErrNoAddress means the recipient has not set an e-mail address
var ErrNoAddress = errors.New("recipient has no e-mail address")

// Mailer composes the auction e-mails
type Mailer struct {
	sender  Sender
	users   UserLookup
	tasks   Submitter
	baseURL string
}

func NewMailer(sender Sender, users UserLookup, tasks Submitter, baseURL string) *Mailer {
	return &Mailer{
		sender:  sender,
		users:   users,
		tasks:   tasks,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// NotifyOutbid tells the dethroned leader about the new highest bid. Delivery runs in the background.
func (m *Mailer) NotifyOutbid(auction model.Auction, previous, current model.HighestBid) {
	m.tasks.Submit("outbid_email", map[string]any{
		"auction_id": auction.AuctionID,
		"user_id":    previous.BidderID,
	}, func(ctx context.Context) error {
		to, err := m.recipient(ctx, previous.BidderID)
		if errors.Is(err, ErrNoAddress) {
			utils.Debug("Outbid e-mail skipped: no address", map[string]any{"user_id": previous.BidderID})
			return nil
		}
		if err != nil {
			return err
		}
		return m.sender.Send(ctx, Message{
			To:      to.Email,
			ToName:  to.Handle,
			Subject: fmt.Sprintf("You have been outbid on %s", auction.ItemName),
			Text: fmt.Sprintf("Your bid of %s on %s is no longer the highest. The leading bid is now %s.\n%s",
				previous.Amount.StringFixed(model.MonetaryPrecision),
				auction.ItemName,
				current.Amount.StringFixed(model.MonetaryPrecision),
				m.auctionLink(auction.AuctionID)),
		})
	})
}

// SaleConfirmed e-mails the buyer and the seller a confirmation with the settlement document attached.
// Each side can reply straight to the other. Both deliveries are attempted; the returned error joins any failures.
func (m *Mailer) SaleConfirmed(ctx context.Context, req model.SettlementRequest, doc Attachment, docURL string) error {
	price := req.FinalPrice.StringFixed(model.MonetaryPrecision)

	winner, winnerErr := m.recipient(ctx, req.Winner.UserID)
	seller, sellerErr := m.recipient(ctx, req.Seller.UserID)

	var errs []error
	for _, party := range []struct {
		to      model.User
		err     error
		replyTo string
		subject string
		body    string
	}{
		{
			to:      winner,
			err:     winnerErr,
			replyTo: seller.Email,
			subject: fmt.Sprintf("You bought %s", req.Auction.ItemName),
			body:    fmt.Sprintf("Congratulations, you bought %s from %s for %s.\nSettlement document: %s", req.Auction.ItemName, req.Seller.Handle, price, docURL),
		},
		{
			to:      seller,
			err:     sellerErr,
			replyTo: winner.Email,
			subject: fmt.Sprintf("%s sold", req.Auction.ItemName),
			body:    fmt.Sprintf("%s was sold to %s for %s.\nSettlement document: %s", req.Auction.ItemName, req.Winner.Handle, price, docURL),
		},
	} {
		if errors.Is(party.err, ErrNoAddress) {
			continue
		}
		if party.err != nil {
			errs = append(errs, party.err)
			continue
		}
		if err := m.sender.Send(ctx, Message{
			To:          party.to.Email,
			ToName:      party.to.Handle,
			ReplyTo:     party.replyTo,
			Subject:     party.subject,
			Text:        party.body,
			Attachments: []Attachment{doc},
		}); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SendDocument e-mails the settlement document to buyer and seller, each able to reply to the other.
// Both parties must have an address before anything is sent.
func (m *Mailer) SendDocument(ctx context.Context, req model.SettlementRequest, doc Attachment) error {
	winner, err := m.recipient(ctx, req.Winner.UserID)
	if err != nil {
		return fmt.Errorf("notify: buyer: %w", err)
	}
	seller, err := m.recipient(ctx, req.Seller.UserID)
	if err != nil {
		return fmt.Errorf("notify: seller: %w", err)
	}

	subject := fmt.Sprintf("Settlement document for %s", req.Auction.ItemName)
	text := fmt.Sprintf("Attached is the settlement document for %s, sold for %s.", req.Auction.ItemName, req.FinalPrice.StringFixed(model.MonetaryPrecision))

	if err := m.sender.Send(ctx, Message{
		To: winner.Email, ToName: winner.Handle, ReplyTo: seller.Email,
		Subject: subject, Text: text, Attachments: []Attachment{doc},
	}); err != nil {
		return err
	}
	return m.sender.Send(ctx, Message{
		To: seller.Email, ToName: seller.Handle, ReplyTo: winner.Email,
		Subject: subject, Text: text, Attachments: []Attachment{doc},
	})
}

func (m *Mailer) recipient(ctx context.Context, userID string) (model.User, error) {
	u, err := m.users.FindByID(ctx, userID)
	if err != nil {
		return model.User{}, fmt.Errorf("notify: resolve recipient: %w", err)
	}
	if u.Email == "" {
		return model.User{}, fmt.Errorf("notify: user %s: %w: %w", userID, ErrNoAddress, biddingerrors.ErrInvalidEmail)
	}
	return u, nil
}

func (m *Mailer) auctionLink(auctionID string) string {
	if m.baseURL == "" {
		return ""
	}
	return m.baseURL + "/auctions/" + auctionID
}
