package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/mintbay/marketd/internal/domain"
)

// ListingCache implements domain.ListingCache using Redis string values with
// JSON-serialized records.
//
// Key schema:
//
//	listing:{id} - JSON cachedListing
//	auction:{id} - JSON cachedAuction
type ListingCache struct {
	rdb *redis.Client
}

// NewListingCache creates a ListingCache backed by the given Client.
func NewListingCache(c *Client) *ListingCache {
	return &ListingCache{rdb: c.Underlying()}
}

func listingKey(id uint64) string { return "listing:" + strconv.FormatUint(id, 10) }
func auctionKey(id uint64) string { return "auction:" + strconv.FormatUint(id, 10) }

// cachedListing is the JSON cache shape of a listing. Amounts are decimal
// strings; addresses are hex.
type cachedListing struct {
	ID         uint64    `json:"id"`
	Seller     string    `json:"seller"`
	Collection string    `json:"collection"`
	AssetID    string    `json:"asset_id"`
	Quantity   uint64    `json:"quantity"`
	Standard   string    `json:"standard"`
	Currency   string    `json:"currency"`
	Price      string    `json:"price"`
	StartTime  time.Time `json:"start_time"`
	EndTime    time.Time `json:"end_time,omitzero"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
}

type cachedAuction struct {
	ID            uint64    `json:"id"`
	Seller        string    `json:"seller"`
	Collection    string    `json:"collection"`
	AssetID       string    `json:"asset_id"`
	Quantity      uint64    `json:"quantity"`
	Standard      string    `json:"standard"`
	Currency      string    `json:"currency"`
	StartPrice    string    `json:"start_price"`
	MinIncrement  string    `json:"min_increment"`
	StartTime     time.Time `json:"start_time"`
	EndTime       time.Time `json:"end_time"`
	HighestBidder string    `json:"highest_bidder"`
	HighestBid    string    `json:"highest_bid,omitempty"`
	BidsCount     uint64    `json:"bids_count"`
	Settled       bool      `json:"settled"`
	CreatedAt     time.Time `json:"created_at"`
}

// SetListing stores a listing with the given TTL.
func (lc *ListingCache) SetListing(ctx context.Context, l domain.Listing, ttl time.Duration) error {
	data, err := json.Marshal(toCachedListing(l))
	if err != nil {
		return fmt.Errorf("redis: marshal listing %d: %w", l.ID, err)
	}
	if err := lc.rdb.Set(ctx, listingKey(l.ID), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis: set listing %d: %w", l.ID, err)
	}
	return nil
}

// GetListing retrieves a listing by id. It returns domain.ErrNotFound when
// the key does not exist.
func (lc *ListingCache) GetListing(ctx context.Context, id uint64) (domain.Listing, error) {
	data, err := lc.rdb.Get(ctx, listingKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Listing{}, domain.ErrNotFound
		}
		return domain.Listing{}, fmt.Errorf("redis: get listing %d: %w", id, err)
	}

	var cl cachedListing
	if err := json.Unmarshal(data, &cl); err != nil {
		return domain.Listing{}, fmt.Errorf("redis: unmarshal listing %d: %w", id, err)
	}
	return fromCachedListing(cl)
}

// SetAuction stores an auction with the given TTL.
func (lc *ListingCache) SetAuction(ctx context.Context, a domain.Auction, ttl time.Duration) error {
	data, err := json.Marshal(toCachedAuction(a))
	if err != nil {
		return fmt.Errorf("redis: marshal auction %d: %w", a.ID, err)
	}
	if err := lc.rdb.Set(ctx, auctionKey(a.ID), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis: set auction %d: %w", a.ID, err)
	}
	return nil
}

// GetAuction retrieves an auction by id. It returns domain.ErrNotFound when
// the key does not exist.
func (lc *ListingCache) GetAuction(ctx context.Context, id uint64) (domain.Auction, error) {
	data, err := lc.rdb.Get(ctx, auctionKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Auction{}, domain.ErrNotFound
		}
		return domain.Auction{}, fmt.Errorf("redis: get auction %d: %w", id, err)
	}

	var ca cachedAuction
	if err := json.Unmarshal(data, &ca); err != nil {
		return domain.Auction{}, fmt.Errorf("redis: unmarshal auction %d: %w", id, err)
	}
	return fromCachedAuction(ca)
}

// Invalidate removes a listing and/or auction entry. A zero id is skipped.
func (lc *ListingCache) Invalidate(ctx context.Context, listingID, auctionID uint64) error {
	keys := make([]string, 0, 2)
	if listingID != 0 {
		keys = append(keys, listingKey(listingID))
	}
	if auctionID != 0 {
		keys = append(keys, auctionKey(auctionID))
	}
	if len(keys) == 0 {
		return nil
	}
	if err := lc.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis: invalidate %v: %w", keys, err)
	}
	return nil
}

func toCachedListing(l domain.Listing) cachedListing {
	return cachedListing{
		ID:         l.ID,
		Seller:     l.Seller.Hex(),
		Collection: l.Collection.Hex(),
		AssetID:    l.AssetID,
		Quantity:   l.Quantity,
		Standard:   string(l.Standard),
		Currency:   l.Currency.Hex(),
		Price:      bigString(l.Price),
		StartTime:  l.StartTime,
		EndTime:    l.EndTime,
		Active:     l.Active,
		CreatedAt:  l.CreatedAt,
	}
}

func fromCachedListing(cl cachedListing) (domain.Listing, error) {
	price, err := parseBig(cl.Price)
	if err != nil {
		return domain.Listing{}, err
	}
	return domain.Listing{
		ID:         cl.ID,
		Seller:     common.HexToAddress(cl.Seller),
		Collection: common.HexToAddress(cl.Collection),
		AssetID:    cl.AssetID,
		Quantity:   cl.Quantity,
		Standard:   domain.Standard(cl.Standard),
		Currency:   common.HexToAddress(cl.Currency),
		Price:      price,
		StartTime:  cl.StartTime,
		EndTime:    cl.EndTime,
		Active:     cl.Active,
		CreatedAt:  cl.CreatedAt,
	}, nil
}

func toCachedAuction(a domain.Auction) cachedAuction {
	ca := cachedAuction{
		ID:            a.ID,
		Seller:        a.Seller.Hex(),
		Collection:    a.Collection.Hex(),
		AssetID:       a.AssetID,
		Quantity:      a.Quantity,
		Standard:      string(a.Standard),
		Currency:      a.Currency.Hex(),
		StartPrice:    bigString(a.StartPrice),
		MinIncrement:  bigString(a.MinIncrement),
		StartTime:     a.StartTime,
		EndTime:       a.EndTime,
		HighestBidder: a.HighestBidder.Hex(),
		BidsCount:     a.BidsCount,
		Settled:       a.Settled,
		CreatedAt:     a.CreatedAt,
	}
	if a.HighestBid != nil {
		ca.HighestBid = a.HighestBid.String()
	}
	return ca
}

func fromCachedAuction(ca cachedAuction) (domain.Auction, error) {
	startPrice, err := parseBig(ca.StartPrice)
	if err != nil {
		return domain.Auction{}, err
	}
	minIncr, err := parseBig(ca.MinIncrement)
	if err != nil {
		return domain.Auction{}, err
	}
	a := domain.Auction{
		ID:            ca.ID,
		Seller:        common.HexToAddress(ca.Seller),
		Collection:    common.HexToAddress(ca.Collection),
		AssetID:       ca.AssetID,
		Quantity:      ca.Quantity,
		Standard:      domain.Standard(ca.Standard),
		Currency:      common.HexToAddress(ca.Currency),
		StartPrice:    startPrice,
		MinIncrement:  minIncr,
		StartTime:     ca.StartTime,
		EndTime:       ca.EndTime,
		HighestBidder: common.HexToAddress(ca.HighestBidder),
		BidsCount:     ca.BidsCount,
		Settled:       ca.Settled,
		CreatedAt:     ca.CreatedAt,
	}
	if ca.HighestBid != "" {
		if a.HighestBid, err = parseBig(ca.HighestBid); err != nil {
			return domain.Auction{}, err
		}
	}
	return a, nil
}

func bigString(n *big.Int) string {
	if n == nil {
		return "0"
	}
	return n.String()
}

func parseBig(s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("redis: invalid amount %q", s)
	}
	return n, nil
}

// Compile-time interface check.
var _ domain.ListingCache = (*ListingCache)(nil)
