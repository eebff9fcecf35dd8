package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// ListingStore persists listing history. Records are written on creation and
// updated in place on deactivation; they are never deleted.
type ListingStore interface {
	Create(ctx context.Context, l Listing) error
	Update(ctx context.Context, l Listing) error
	GetByID(ctx context.Context, id uint64) (Listing, error)
	ListActive(ctx context.Context, opts ListOpts) ([]Listing, error)
	ListBySeller(ctx context.Context, seller common.Address, opts ListOpts) ([]Listing, error)
}

// AuctionStore persists auction history.
type AuctionStore interface {
	Create(ctx context.Context, a Auction) error
	Update(ctx context.Context, a Auction) error
	GetByID(ctx context.Context, id uint64) (Auction, error)
	ListOpen(ctx context.Context, opts ListOpts) ([]Auction, error)
	ListBySeller(ctx context.Context, seller common.Address, opts ListOpts) ([]Auction, error)
}

// CreditStore persists pull-ledger balances for observability. The engine's
// in-memory ledger is authoritative; the store mirrors it for auditing.
type CreditStore interface {
	Upsert(ctx context.Context, c CreditEntry) error
	Get(ctx context.Context, currency, account common.Address) (CreditEntry, error)
	ListByAccount(ctx context.Context, account common.Address) ([]CreditEntry, error)
	ListPending(ctx context.Context) ([]CreditEntry, error)
}

// EventStore persists the append-only marketplace event history.
type EventStore interface {
	Append(ctx context.Context, evts []MarketEvent) error
	List(ctx context.Context, opts ListOpts) ([]MarketEvent, error)
	ListByAsset(ctx context.Context, collection common.Address, assetID string, opts ListOpts) ([]MarketEvent, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log of administrative actions.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// StreamMessage is one durable message read back from a stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus publishes marketplace events to observers.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// ListingCache caches active listings and auctions for read paths.
type ListingCache interface {
	SetListing(ctx context.Context, l Listing, ttl time.Duration) error
	GetListing(ctx context.Context, id uint64) (Listing, error)
	SetAuction(ctx context.Context, a Auction, ttl time.Duration) error
	GetAuction(ctx context.Context, id uint64) (Auction, error)
	Invalidate(ctx context.Context, listingID, auctionID uint64) error
}

// LockManager provides a distributed lock so that multi-replica deployments
// serialize mutations for the same asset before they reach the engine.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// RateLimiter answers whether a keyed caller may perform another request
// within the window.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
