package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mintbay/marketd/internal/domain"
)

// EventStore implements domain.EventStore using PostgreSQL. The event table
// is append-only.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates a new EventStore backed by the given pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

// Append writes a batch of events in a single round trip.
func (s *EventStore) Append(ctx context.Context, evts []domain.MarketEvent) error {
	if len(evts) == 0 {
		return nil
	}

	const query = `
		INSERT INTO market_events (
			id, event_type, listing_id, auction_id, collection, asset_id,
			quantity, standard, seller, buyer, currency, amount, settlement,
			occurred_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12::numeric, $13,
			$14
		)`

	batch := &pgx.Batch{}
	for _, e := range evts {
		settlement, err := marshalSettlement(e.Settlement)
		if err != nil {
			return fmt.Errorf("postgres: encode settlement for event %s: %w", e.ID, err)
		}
		batch.Queue(query,
			e.ID, string(e.Type), int64(e.ListingID), int64(e.AuctionID),
			addrText(e.Collection), e.AssetID,
			int64(e.Quantity), string(e.Standard),
			addrText(e.Seller), addrText(e.Buyer), addrText(e.Currency),
			numText(e.Amount), settlement, e.OccurredAt,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range evts {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: append event batch item %d: %w", i, err)
		}
	}
	return nil
}

// List returns events newest first with optional time filtering.
func (s *EventStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.MarketEvent, error) {
	query := selectEvent + ` WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND occurred_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND occurred_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	limit, offset := listWindow(opts)
	query += fmt.Sprintf(" ORDER BY occurred_at DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, limit, offset)

	return s.queryEvents(ctx, query, args...)
}

// ListBefore returns every event that occurred strictly before the cutoff,
// oldest first. Used by the archiver, so it is unpaginated.
func (s *EventStore) ListBefore(ctx context.Context, before time.Time) ([]domain.MarketEvent, error) {
	query := selectEvent + `
		WHERE occurred_at < $1
		ORDER BY occurred_at ASC`
	return s.queryEvents(ctx, query, before)
}

// ListByAsset returns the event history of one asset, newest first.
func (s *EventStore) ListByAsset(ctx context.Context, collection common.Address, assetID string, opts domain.ListOpts) ([]domain.MarketEvent, error) {
	limit, offset := listWindow(opts)
	query := selectEvent + `
		WHERE collection = $1 AND asset_id = $2
		ORDER BY occurred_at DESC
		LIMIT $3 OFFSET $4`
	return s.queryEvents(ctx, query, addrText(collection), assetID, limit, offset)
}

func (s *EventStore) queryEvents(ctx context.Context, query string, args ...any) ([]domain.MarketEvent, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query events: %w", err)
	}
	defer rows.Close()

	var out []domain.MarketEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

const selectEvent = `
	SELECT id, event_type, listing_id, auction_id, collection, asset_id,
	       quantity, standard, seller, buyer, currency, amount::text,
	       settlement, occurred_at
	FROM market_events`

func scanEvent(row pgx.Row) (domain.MarketEvent, error) {
	var (
		e                      domain.MarketEvent
		eventType              string
		listingID, auctionID   int64
		qty                    int64
		coll, seller, buyer    string
		standard, currency     string
		amount                 *string
		settlement             []byte
		occurredAt             time.Time
	)
	err := row.Scan(
		&e.ID, &eventType, &listingID, &auctionID, &coll, &e.AssetID,
		&qty, &standard, &seller, &buyer, &currency, &amount,
		&settlement, &occurredAt,
	)
	if err != nil {
		return domain.MarketEvent{}, err
	}

	e.Type = domain.EventType(eventType)
	e.ListingID = uint64(listingID)
	e.AuctionID = uint64(auctionID)
	e.Quantity = uint64(qty)
	e.Collection = textAddr(coll)
	e.Standard = domain.Standard(standard)
	e.Seller = textAddr(seller)
	e.Buyer = textAddr(buyer)
	e.Currency = textAddr(currency)
	e.OccurredAt = occurredAt
	if e.Amount, err = textNum(amount); err != nil {
		return domain.MarketEvent{}, err
	}
	if e.Settlement, err = unmarshalSettlement(settlement); err != nil {
		return domain.MarketEvent{}, err
	}
	return e, nil
}
