package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mintbay/marketd/internal/domain"
)

// AuctionStore implements domain.AuctionStore using PostgreSQL.
type AuctionStore struct {
	pool *pgxpool.Pool
}

// NewAuctionStore creates a new AuctionStore backed by the given pool.
func NewAuctionStore(pool *pgxpool.Pool) *AuctionStore {
	return &AuctionStore{pool: pool}
}

// Create inserts a new auction record.
func (s *AuctionStore) Create(ctx context.Context, a domain.Auction) error {
	const query = `
		INSERT INTO auctions (
			id, seller, collection, asset_id, quantity, standard, currency,
			start_price, min_increment, start_time, end_time,
			highest_bidder, highest_bid, bids_count, settled, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8::numeric, $9::numeric, $10, $11,
			$12, $13::numeric, $14, $15, $16
		)`

	_, err := s.pool.Exec(ctx, query,
		int64(a.ID), addrText(a.Seller), addrText(a.Collection), a.AssetID,
		int64(a.Quantity), string(a.Standard), addrText(a.Currency),
		numText(a.StartPrice), numText(a.MinIncrement), a.StartTime, a.EndTime,
		addrText(a.HighestBidder), numText(a.HighestBid), int64(a.BidsCount),
		a.Settled, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert auction %d: %w", a.ID, err)
	}
	return nil
}

// Update rewrites the mutable fields of an auction: bid state, the end time
// (anti-snipe extension), and the settled flag.
func (s *AuctionStore) Update(ctx context.Context, a domain.Auction) error {
	const query = `
		UPDATE auctions SET
			end_time       = $2,
			highest_bidder = $3,
			highest_bid    = $4::numeric,
			bids_count     = $5,
			settled        = $6,
			updated_at     = NOW()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		int64(a.ID), a.EndTime, addrText(a.HighestBidder),
		numText(a.HighestBid), int64(a.BidsCount), a.Settled,
	)
	if err != nil {
		return fmt.Errorf("postgres: update auction %d: %w", a.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update auction %d: %w", a.ID, domain.ErrNotFound)
	}
	return nil
}

// GetByID fetches a single auction.
func (s *AuctionStore) GetByID(ctx context.Context, id uint64) (domain.Auction, error) {
	const query = selectAuction + ` WHERE id = $1`
	a, err := scanAuction(s.pool.QueryRow(ctx, query, int64(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Auction{}, fmt.Errorf("postgres: auction %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Auction{}, fmt.Errorf("postgres: get auction %d: %w", id, err)
	}
	return a, nil
}

// ListOpen returns unsettled auctions ordered by soonest end time.
func (s *AuctionStore) ListOpen(ctx context.Context, opts domain.ListOpts) ([]domain.Auction, error) {
	limit, offset := listWindow(opts)
	const query = selectAuction + `
		WHERE settled = FALSE
		ORDER BY end_time ASC
		LIMIT $1 OFFSET $2`
	return s.queryAuctions(ctx, query, limit, offset)
}

// ListBySeller returns a seller's auctions newest first.
func (s *AuctionStore) ListBySeller(ctx context.Context, seller common.Address, opts domain.ListOpts) ([]domain.Auction, error) {
	limit, offset := listWindow(opts)
	const query = selectAuction + `
		WHERE seller = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`
	return s.queryAuctions(ctx, query, addrText(seller), limit, offset)
}

func (s *AuctionStore) queryAuctions(ctx context.Context, query string, args ...any) ([]domain.Auction, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query auctions: %w", err)
	}
	defer rows.Close()

	var out []domain.Auction
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan auction: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

const selectAuction = `
	SELECT id, seller, collection, asset_id, quantity, standard, currency,
	       start_price::text, min_increment::text, start_time, end_time,
	       highest_bidder, highest_bid::text, bids_count, settled, created_at
	FROM auctions`

func scanAuction(row pgx.Row) (domain.Auction, error) {
	var (
		a            domain.Auction
		id, qty, nbd int64
		seller, coll string
		standard     string
		currency     string
		startPrice   *string
		minIncr      *string
		bidder       string
		highestBid   *string
	)
	err := row.Scan(
		&id, &seller, &coll, &a.AssetID, &qty, &standard, &currency,
		&startPrice, &minIncr, &a.StartTime, &a.EndTime,
		&bidder, &highestBid, &nbd, &a.Settled, &a.CreatedAt,
	)
	if err != nil {
		return domain.Auction{}, err
	}

	a.ID = uint64(id)
	a.Quantity = uint64(qty)
	a.BidsCount = uint64(nbd)
	a.Seller = textAddr(seller)
	a.Collection = textAddr(coll)
	a.Standard = domain.Standard(standard)
	a.Currency = textAddr(currency)
	a.HighestBidder = textAddr(bidder)
	if a.StartPrice, err = textNum(startPrice); err != nil {
		return domain.Auction{}, err
	}
	if a.MinIncrement, err = textNum(minIncr); err != nil {
		return domain.Auction{}, err
	}
	if a.HighestBid, err = textNum(highestBid); err != nil {
		return domain.Auction{}, err
	}
	return a, nil
}
