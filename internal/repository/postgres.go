package repository

import (
	"auction-house/internal/biddingerrors"
	model "auction-house/internal/models"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

type auctionRow struct {
	bun.BaseModel `bun:"table:auctions,alias:a"`

	ID              string          `bun:"id,pk"`
	ItemName        string          `bun:"item_name,notnull"`
	Description     string          `bun:"description"`
	FloorPrice      decimal.Decimal `bun:"floor_price,type:numeric(18,2),notnull"`
	Increment       decimal.Decimal `bun:"bid_increment,type:numeric(18,2),notnull"`
	StartsAt        time.Time       `bun:"starts_at,notnull"`
	DurationSeconds int64           `bun:"duration_seconds,notnull"`
	SellerID        string          `bun:"seller_id,notnull"`
	SellerHandle    string          `bun:"seller_handle,notnull"`
	Status          string          `bun:"status,notnull"`
	CreatedAt       time.Time       `bun:"created_at,notnull"`
	ClosedAt        *time.Time      `bun:"closed_at"`
}

type bidRow struct {
	bun.BaseModel `bun:"table:bids,alias:b"`

	ID           string          `bun:"id,pk"`
	AuctionID    string          `bun:"auction_id,notnull"`
	Amount       decimal.Decimal `bun:"amount,type:numeric(18,2),notnull"`
	BidderID     string          `bun:"bidder_id,notnull"`
	BidderHandle string          `bun:"bidder_handle,notnull"`
	CreatedAt    time.Time       `bun:"created_at,notnull"`
}

type decisionRow struct {
	bun.BaseModel `bun:"table:decisions,alias:d"`

	ID        string           `bun:"id,pk"`
	AuctionID string           `bun:"auction_id,notnull"`
	Kind      string           `bun:"type,notnull"`
	Price     *decimal.Decimal `bun:"price,type:numeric(18,2)"`
	ByUserID  string           `bun:"by_user_id,notnull"`
	ByHandle  string           `bun:"by_handle,notnull"`
	CreatedAt time.Time        `bun:"created_at,notnull"`
}

// PostgresRepo is an AuctionDB backed by PostgreSQL through bun
type PostgresRepo struct {
	db *bun.DB
}

// OpenPostgres connects to the database described by dsn
func OpenPostgres(dsn string) *PostgresRepo {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	return NewPostgresRepo(bun.NewDB(sqldb, pgdialect.New()))
}

// NewPostgresRepo wraps an existing bun handle
func NewPostgresRepo(db *bun.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

// Close releases the underlying connection pool
func (r *PostgresRepo) Close() error {
	return r.db.Close()
}

// Migrate creates the tables and indexes the repository needs
func (r *PostgresRepo) Migrate(ctx context.Context) error {
	for _, m := range []any{(*auctionRow)(nil), (*bidRow)(nil), (*decisionRow)(nil)} {
		if _, err := r.db.NewCreateTable().Model(m).IfNotExists().Exec(ctx); err != nil {
			return unavailable("migrate", err)
		}
	}

	indexes := []struct {
		model   any
		name    string
		columns []string
	}{
		{(*bidRow)(nil), "bids_auction_created_idx", []string{"auction_id", "created_at"}},
		{(*bidRow)(nil), "bids_bidder_idx", []string{"bidder_id"}},
		{(*decisionRow)(nil), "decisions_auction_created_idx", []string{"auction_id", "created_at"}},
		{(*auctionRow)(nil), "auctions_status_idx", []string{"status"}},
	}
	for _, idx := range indexes {
		if _, err := r.db.NewCreateIndex().Model(idx.model).Index(idx.name).Column(idx.columns...).IfNotExists().Exec(ctx); err != nil {
			return unavailable("migrate index "+idx.name, err)
		}
	}
	return nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("postgres: %s: %w: %w", op, biddingerrors.ErrStoreUnavailable, err)
}

// CreateAuction stores a new auction
func (r *PostgresRepo) CreateAuction(ctx context.Context, auction model.Auction) error {
	row := toAuctionRow(auction)
	if _, err := r.db.NewInsert().Model(&row).Exec(ctx); err != nil {
		return unavailable("create auction", err)
	}
	return nil
}

// GetAuction returns a single auction
func (r *PostgresRepo) GetAuction(ctx context.Context, auctionID string) (model.Auction, error) {
	return r.getAuction(ctx, r.db, auctionID, false)
}

func (r *PostgresRepo) getAuction(ctx context.Context, db bun.IDB, auctionID string, forUpdate bool) (model.Auction, error) {
	var row auctionRow
	q := db.NewSelect().Model(&row).Where("id = ?", auctionID)
	if forUpdate {
		q = q.For("UPDATE")
	}
	if err := q.Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Auction{}, fmt.Errorf("get auction %s: %w", auctionID, biddingerrors.ErrAuctionNotFound)
		}
		return model.Auction{}, unavailable("get auction", err)
	}
	return row.toModel(), nil
}

// requireAuction returns ErrAuctionNotFound when no auction has the given id
func (r *PostgresRepo) requireAuction(ctx context.Context, db bun.IDB, op, auctionID string) error {
	exists, err := db.NewSelect().Model((*auctionRow)(nil)).Where("id = ?", auctionID).Exists(ctx)
	if err != nil {
		return unavailable(op, err)
	}
	if !exists {
		return fmt.Errorf("%s %s: %w", op, auctionID, biddingerrors.ErrAuctionNotFound)
	}
	return nil
}

// ListAuctions returns every auction, newest first
func (r *PostgresRepo) ListAuctions(ctx context.Context) ([]model.Auction, error) {
	var rows []auctionRow
	if err := r.db.NewSelect().Model(&rows).Order("created_at DESC").Scan(ctx); err != nil {
		return nil, unavailable("list auctions", err)
	}
	return toAuctions(rows), nil
}

// ListOpenAuctions returns auctions whose stored status is not closed
func (r *PostgresRepo) ListOpenAuctions(ctx context.Context) ([]model.Auction, error) {
	var rows []auctionRow
	if err := r.db.NewSelect().Model(&rows).
		Where("status <> ?", string(model.StatusClosed)).
		Order("created_at ASC").
		Scan(ctx); err != nil {
		return nil, unavailable("list open auctions", err)
	}
	return toAuctions(rows), nil
}

// CloseAuction marks an auction closed. Closing is one-way.
func (r *PostgresRepo) CloseAuction(ctx context.Context, auctionID string, at time.Time) (model.Auction, error) {
	var closed model.Auction
	err := r.db.RunInTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted}, func(ctx context.Context, tx bun.Tx) error {
		var err error
		closed, err = r.closeInTx(ctx, tx, auctionID, at)
		return err
	})
	if err != nil {
		return model.Auction{}, err
	}
	return closed, nil
}

func (r *PostgresRepo) closeInTx(ctx context.Context, tx bun.Tx, auctionID string, at time.Time) (model.Auction, error) {
	a, err := r.getAuction(ctx, tx, auctionID, true)
	if err != nil {
		return model.Auction{}, err
	}
	if a.Status == model.StatusClosed {
		return model.Auction{}, fmt.Errorf("close auction %s: %w", auctionID, biddingerrors.ErrAlreadyClosed)
	}

	if _, err := tx.NewUpdate().
		Model((*auctionRow)(nil)).
		Set("status = ?", string(model.StatusClosed)).
		Set("closed_at = ?", at).
		Where("id = ?", auctionID).
		Exec(ctx); err != nil {
		return model.Auction{}, unavailable("close auction", err)
	}

	closedAt := at
	a.Status = model.StatusClosed
	a.ClosedAt = &closedAt
	return a, nil
}

// RecordBidForAuction appends a bid to its auction's sequence
func (r *PostgresRepo) RecordBidForAuction(ctx context.Context, bid model.Bid) error {
	if err := r.requireAuction(ctx, r.db, "record bid for auction", bid.AuctionID); err != nil {
		return err
	}
	row := bidRow{
		ID:           bid.BidID,
		AuctionID:    bid.AuctionID,
		Amount:       bid.Amount,
		BidderID:     bid.BidderID,
		BidderHandle: bid.BidderHandle,
		CreatedAt:    bid.CreatedAt,
	}
	if _, err := r.db.NewInsert().Model(&row).Exec(ctx); err != nil {
		return unavailable("record bid", err)
	}
	return nil
}

// GetBidsByAuction returns all bids for an auction, newest first
func (r *PostgresRepo) GetBidsByAuction(ctx context.Context, auctionID string) ([]model.Bid, error) {
	if err := r.requireAuction(ctx, r.db, "get bids for auction", auctionID); err != nil {
		return nil, err
	}
	var rows []bidRow
	if err := r.db.NewSelect().Model(&rows).
		Where("auction_id = ?", auctionID).
		Order("created_at DESC").
		Scan(ctx); err != nil {
		return nil, unavailable("get bids", err)
	}

	bids := make([]model.Bid, 0, len(rows))
	for _, row := range rows {
		bids = append(bids, model.Bid{
			BidID:        row.ID,
			AuctionID:    row.AuctionID,
			BidderID:     row.BidderID,
			BidderHandle: row.BidderHandle,
			Amount:       row.Amount,
			CreatedAt:    row.CreatedAt,
		})
	}
	return bids, nil
}

// GetAuctionsByBidder returns all auctions a user has bid on
func (r *PostgresRepo) GetAuctionsByBidder(ctx context.Context, userID string) ([]model.Auction, error) {
	var rows []auctionRow
	sub := r.db.NewSelect().Model((*bidRow)(nil)).Column("auction_id").Where("bidder_id = ?", userID)
	if err := r.db.NewSelect().Model(&rows).
		Where("id IN (?)", sub).
		Order("created_at DESC").
		Scan(ctx); err != nil {
		return nil, unavailable("get auctions by bidder", err)
	}
	return toAuctions(rows), nil
}

// AppendDecision appends a non-terminal decision to an open auction's log
func (r *PostgresRepo) AppendDecision(ctx context.Context, decision model.Decision) error {
	return r.db.RunInTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted}, func(ctx context.Context, tx bun.Tx) error {
		a, err := r.getAuction(ctx, tx, decision.AuctionID, true)
		if err != nil {
			return err
		}
		if a.Status == model.StatusClosed {
			return fmt.Errorf("append decision for auction %s: %w", decision.AuctionID, biddingerrors.ErrAlreadyClosed)
		}
		return insertDecision(ctx, tx, decision)
	})
}

// AppendDecisionAndClose records a terminal decision and closes the auction in one transaction
func (r *PostgresRepo) AppendDecisionAndClose(ctx context.Context, decision model.Decision) (model.Auction, error) {
	var closed model.Auction
	err := r.db.RunInTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted}, func(ctx context.Context, tx bun.Tx) error {
		var err error
		if closed, err = r.closeInTx(ctx, tx, decision.AuctionID, decision.CreatedAt); err != nil {
			return err
		}
		return insertDecision(ctx, tx, decision)
	})
	if err != nil {
		return model.Auction{}, fmt.Errorf("append terminal decision: %w", err)
	}
	return closed, nil
}

func insertDecision(ctx context.Context, tx bun.Tx, d model.Decision) error {
	row := decisionRow{
		ID:        d.DecisionID,
		AuctionID: d.AuctionID,
		Kind:      string(d.Kind),
		Price:     d.Price,
		ByUserID:  d.AuthorID,
		ByHandle:  d.AuthorHandle,
		CreatedAt: d.CreatedAt,
	}
	if _, err := tx.NewInsert().Model(&row).Exec(ctx); err != nil {
		return unavailable("insert decision", err)
	}
	return nil
}

// GetDecisions returns an auction's decision log, newest first
func (r *PostgresRepo) GetDecisions(ctx context.Context, auctionID string) ([]model.Decision, error) {
	if err := r.requireAuction(ctx, r.db, "get decisions for auction", auctionID); err != nil {
		return nil, err
	}
	var rows []decisionRow
	if err := r.db.NewSelect().Model(&rows).
		Where("auction_id = ?", auctionID).
		Order("created_at DESC").
		Scan(ctx); err != nil {
		return nil, unavailable("get decisions", err)
	}

	out := make([]model.Decision, 0, len(rows))
	for _, row := range rows {
		out = append(out, model.Decision{
			DecisionID:   row.ID,
			AuctionID:    row.AuctionID,
			Kind:         model.DecisionKind(row.Kind),
			Price:        row.Price,
			AuthorID:     row.ByUserID,
			AuthorHandle: row.ByHandle,
			CreatedAt:    row.CreatedAt,
		})
	}
	return out, nil
}

func toAuctionRow(a model.Auction) auctionRow {
	return auctionRow{
		ID:              a.AuctionID,
		ItemName:        a.ItemName,
		Description:     a.Description,
		FloorPrice:      a.FloorPrice,
		Increment:       a.Increment,
		StartsAt:        a.StartsAt,
		DurationSeconds: a.DurationSeconds,
		SellerID:        a.SellerID,
		SellerHandle:    a.SellerHandle,
		Status:          string(a.Status),
		CreatedAt:       a.CreatedAt,
		ClosedAt:        a.ClosedAt,
	}
}

func (row auctionRow) toModel() model.Auction {
	return model.Auction{
		AuctionID:       row.ID,
		ItemName:        row.ItemName,
		Description:     row.Description,
		FloorPrice:      row.FloorPrice,
		Increment:       row.Increment,
		StartsAt:        row.StartsAt,
		DurationSeconds: row.DurationSeconds,
		SellerID:        row.SellerID,
		SellerHandle:    row.SellerHandle,
		Status:          model.Status(row.Status),
		CreatedAt:       row.CreatedAt,
		ClosedAt:        row.ClosedAt,
	}
}

func toAuctions(rows []auctionRow) []model.Auction {
	out := make([]model.Auction, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toModel())
	}
	return out
}
