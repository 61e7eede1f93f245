// Package settlement produces and distributes the document of a completed sale.
package settlement

import (
	"context"
	"errors"
	"fmt"

	"auction-house/internal/auctionlock"
	"auction-house/internal/biddingerrors"
	"auction-house/internal/dispatch"
	"auction-house/internal/events"
	model "auction-house/internal/models"
	"auction-house/internal/notify"
	"auction-house/utils"

	"code.cloudfoundry.org/clock"
)

// SaleSource rebuilds the sale of a closed auction
type SaleSource interface {
	Sale(ctx context.Context, auctionID string) (model.SettlementRequest, error)
}

// Mailer sends settlement e-mails
type Mailer interface {
	SaleConfirmed(ctx context.Context, req model.SettlementRequest, doc notify.Attachment, docURL string) error
	SendDocument(ctx context.Context, req model.SettlementRequest, doc notify.Attachment) error
}

type UserLookup interface {
	FindByID(ctx context.Context, userID string) (model.User, error)
}

type Publisher interface {
	Publish(ev events.Event)
}

type Submitter interface {
	Submit(name string, fields map[string]any, task dispatch.Task)
}

// Service generates one document per sold auction. Generation is idempotent:
// a document that already exists is never rewritten.
type Service struct {
	storage Storage
	mailer  Mailer
	users   UserLookup
	tasks   Submitter
	hub     Publisher
	clock   clock.Clock
	locks   *auctionlock.KeyedMutex

	sales SaleSource
}

func NewService(storage Storage, mailer Mailer, users UserLookup, tasks Submitter, hub Publisher, clk clock.Clock) *Service {
	return &Service{
		storage: storage,
		mailer:  mailer,
		users:   users,
		tasks:   tasks,
		hub:     hub,
		clock:   clk,
		locks:   auctionlock.New(),
	}
}

// SetSaleSource wires the lookup used by the read and e-mail operations.
// The negotiation service both feeds and serves this one, so it is set after construction.
func (s *Service) SetSaleSource(sales SaleSource) {
	s.sales = sales
}

// DocumentKey names the stored document of an auction
func DocumentKey(auctionID string) string {
	return fmt.Sprintf("settlement-%s.pdf", auctionID)
}

// Handoff settles a sale in the background. Failures are logged.
func (s *Service) Handoff(req model.SettlementRequest) {
	s.tasks.Submit("settlement", map[string]any{
		"auction_id": req.Auction.AuctionID,
		"outcome":    req.Outcome,
	}, func(ctx context.Context) error {
		_, err := s.Settle(ctx, req)
		return err
	})
}

// Settle generates the document if it does not exist yet, announces it and
// e-mails both parties. A repeated call returns the existing document untouched.
func (s *Service) Settle(ctx context.Context, req model.SettlementRequest) (model.DocumentRef, error) {
	ref, body, err := s.ensure(ctx, req)
	if err != nil || !ref.Created {
		return ref, err
	}

	if err := s.mailer.SaleConfirmed(ctx, req, attachment(ref.Key, body), ref.URL); err != nil {
		utils.Warn("Settle: sale confirmation e-mail failed", map[string]any{
			"auction_id": req.Auction.AuctionID,
			"error":      err.Error(),
		})
	}
	return ref, nil
}

// Document returns the reference of an existing settlement document
func (s *Service) Document(ctx context.Context, auctionID string) (model.DocumentRef, error) {
	if _, err := s.sale(ctx, auctionID); err != nil {
		return model.DocumentRef{}, err
	}
	key := DocumentKey(auctionID)
	ok, err := s.storage.Exists(ctx, key)
	if err != nil {
		return model.DocumentRef{}, fmt.Errorf("settlement: %w", err)
	}
	if !ok {
		return model.DocumentRef{}, fmt.Errorf("settlement: auction %s: %w", auctionID, biddingerrors.ErrDocumentNotFound)
	}
	return s.ref(auctionID, false), nil
}

// Download returns the document body
func (s *Service) Download(ctx context.Context, auctionID string) ([]byte, error) {
	if _, err := s.sale(ctx, auctionID); err != nil {
		return nil, err
	}
	return s.storage.Get(ctx, DocumentKey(auctionID))
}

// EmailDocument lets the seller send the document to both parties, generating it first if needed
func (s *Service) EmailDocument(ctx context.Context, auctionID string, actor model.User) (model.DocumentRef, error) {
	req, err := s.sale(ctx, auctionID)
	if err != nil {
		return model.DocumentRef{}, err
	}
	if actor.UserID != req.Seller.UserID {
		return model.DocumentRef{}, fmt.Errorf("settlement: %w", biddingerrors.ErrOnlySeller)
	}

	ref, body, err := s.ensure(ctx, req)
	if err != nil {
		return model.DocumentRef{}, err
	}
	if body == nil {
		if body, err = s.storage.Get(ctx, ref.Key); err != nil {
			return model.DocumentRef{}, err
		}
	}

	if err := s.mailer.SendDocument(ctx, req, attachment(ref.Key, body)); err != nil {
		return model.DocumentRef{}, fmt.Errorf("settlement: e-mail document for auction %s: %w", auctionID, err)
	}
	return ref, nil
}

// ensure creates the document under the auction's settlement lock. body is nil when it already existed.
func (s *Service) ensure(ctx context.Context, req model.SettlementRequest) (model.DocumentRef, []byte, error) {
	auctionID := req.Auction.AuctionID
	unlock := s.locks.Lock(auctionID)
	defer unlock()

	key := DocumentKey(auctionID)
	exists, err := s.storage.Exists(ctx, key)
	if err != nil {
		return model.DocumentRef{}, nil, fmt.Errorf("settlement: %w", err)
	}
	if exists {
		return s.ref(auctionID, false), nil, nil
	}

	seller := s.contact(ctx, req.Seller)
	winner := s.contact(ctx, req.Winner)
	now := s.clock.Now().UTC()

	body, err := renderDocument(req, seller, winner, now)
	if err != nil {
		return model.DocumentRef{}, nil, err
	}
	if err := s.storage.Put(ctx, key, body, documentContentType); err != nil {
		return model.DocumentRef{}, nil, fmt.Errorf("settlement: %w", err)
	}

	ref := s.ref(auctionID, true)
	s.hub.Publish(events.SettlementReady(auctionID, ref.URL, req.FinalPrice, now))
	utils.Info("Settlement document created", map[string]any{
		"auction_id":  auctionID,
		"key":         key,
		"final_price": req.FinalPrice.StringFixed(model.MonetaryPrecision),
	})
	return ref, body, nil
}

func (s *Service) sale(ctx context.Context, auctionID string) (model.SettlementRequest, error) {
	if s.sales == nil {
		return model.SettlementRequest{}, errors.New("settlement: no sale source configured")
	}
	return s.sales.Sale(ctx, auctionID)
}

// contact fills in the e-mail address of a party; the handle alone is used when lookup fails
func (s *Service) contact(ctx context.Context, u model.User) model.User {
	if s.users == nil {
		return u
	}
	found, err := s.users.FindByID(ctx, u.UserID)
	if err != nil {
		return u
	}
	return found
}

func (s *Service) ref(auctionID string, created bool) model.DocumentRef {
	key := DocumentKey(auctionID)
	url := s.storage.PublicURL(key)
	if url == "" {
		url = fmt.Sprintf("/auctions/%s/settlement/document", auctionID)
	}
	return model.DocumentRef{AuctionID: auctionID, Key: key, URL: url, Created: created}
}

func attachment(key string, body []byte) notify.Attachment {
	return notify.Attachment{Filename: key, ContentType: documentContentType, Content: body}
}
