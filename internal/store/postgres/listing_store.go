package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mintbay/marketd/internal/domain"
)

// ListingStore implements domain.ListingStore using PostgreSQL.
type ListingStore struct {
	pool *pgxpool.Pool
}

// NewListingStore creates a new ListingStore backed by the given pool.
func NewListingStore(pool *pgxpool.Pool) *ListingStore {
	return &ListingStore{pool: pool}
}

// Create inserts a new listing record.
func (s *ListingStore) Create(ctx context.Context, l domain.Listing) error {
	const query = `
		INSERT INTO listings (
			id, seller, collection, asset_id, quantity, standard,
			currency, price, start_time, end_time, active, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8::numeric, $9, $10, $11, $12
		)`

	_, err := s.pool.Exec(ctx, query,
		int64(l.ID), addrText(l.Seller), addrText(l.Collection), l.AssetID,
		int64(l.Quantity), string(l.Standard),
		addrText(l.Currency), numText(l.Price),
		l.StartTime, nullableTime(l.EndTime), l.Active, l.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert listing %d: %w", l.ID, err)
	}
	return nil
}

// Update rewrites the mutable fields of an existing listing record.
func (s *ListingStore) Update(ctx context.Context, l domain.Listing) error {
	const query = `
		UPDATE listings SET
			active     = $2,
			end_time   = $3,
			updated_at = NOW()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, int64(l.ID), l.Active, nullableTime(l.EndTime))
	if err != nil {
		return fmt.Errorf("postgres: update listing %d: %w", l.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update listing %d: %w", l.ID, domain.ErrNotFound)
	}
	return nil
}

// GetByID fetches a single listing.
func (s *ListingStore) GetByID(ctx context.Context, id uint64) (domain.Listing, error) {
	const query = selectListing + ` WHERE id = $1`
	l, err := scanListing(s.pool.QueryRow(ctx, query, int64(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Listing{}, fmt.Errorf("postgres: listing %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Listing{}, fmt.Errorf("postgres: get listing %d: %w", id, err)
	}
	return l, nil
}

// ListActive returns active listings newest first.
func (s *ListingStore) ListActive(ctx context.Context, opts domain.ListOpts) ([]domain.Listing, error) {
	limit, offset := listWindow(opts)
	const query = selectListing + `
		WHERE active = TRUE
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`
	return s.queryListings(ctx, query, limit, offset)
}

// ListBySeller returns a seller's listings newest first, active or not.
func (s *ListingStore) ListBySeller(ctx context.Context, seller common.Address, opts domain.ListOpts) ([]domain.Listing, error) {
	limit, offset := listWindow(opts)
	const query = selectListing + `
		WHERE seller = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`
	return s.queryListings(ctx, query, addrText(seller), limit, offset)
}

func (s *ListingStore) queryListings(ctx context.Context, query string, args ...any) ([]domain.Listing, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query listings: %w", err)
	}
	defer rows.Close()

	var out []domain.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan listing: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

const selectListing = `
	SELECT id, seller, collection, asset_id, quantity, standard,
	       currency, price::text, start_time, end_time, active, created_at
	FROM listings`

func scanListing(row pgx.Row) (domain.Listing, error) {
	var (
		l        domain.Listing
		id, qty  int64
		seller   string
		coll     string
		standard string
		currency string
		price    *string
		endTime  *time.Time
	)
	err := row.Scan(
		&id, &seller, &coll, &l.AssetID, &qty, &standard,
		&currency, &price, &l.StartTime, &endTime, &l.Active, &l.CreatedAt,
	)
	if err != nil {
		return domain.Listing{}, err
	}

	l.ID = uint64(id)
	l.Quantity = uint64(qty)
	l.Seller = textAddr(seller)
	l.Collection = textAddr(coll)
	l.Standard = domain.Standard(standard)
	l.Currency = textAddr(currency)
	if l.Price, err = textNum(price); err != nil {
		return domain.Listing{}, err
	}
	if endTime != nil {
		l.EndTime = *endTime
	}
	return l, nil
}
