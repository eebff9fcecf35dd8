package market

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/mintbay/marketd/internal/domain"
)

// CreateListingParams carries the inputs of CreateListing.
type CreateListingParams struct {
	Seller     common.Address
	Collection common.Address
	AssetID    string
	Quantity   uint64
	Standard   domain.Standard
	Currency   common.Address
	Price      *big.Int
	StartTime  time.Time // zero ⇒ effective immediately
	EndTime    time.Time // zero ⇒ no expiry
}

// BuyParams carries the inputs of Buy. Attached is the native value sent
// with the call; it must equal the price exactly for native-currency
// listings and be absent for token-currency listings.
type BuyParams struct {
	ListingID uint64
	Buyer     common.Address
	Attached  *big.Int
}

// PurchaseResult is the full settlement breakdown of one purchase.
type PurchaseResult struct {
	Listing    domain.Listing
	Buyer      common.Address
	Settlement domain.Settlement
	Credits    []CreditNote
}

// CreateListing validates, escrows the asset, allocates a listing id, and
// sets the exclusivity lock. The asset must not be flagged stolen and its
// lock key must be free.
func (c *Core) CreateListing(ctx context.Context, p CreateListingParams) (domain.Listing, error) {
	if err := c.enter(); err != nil {
		return domain.Listing{}, fmt.Errorf("market: create listing: %w", err)
	}
	defer c.exit()
	if err := c.requireLive(); err != nil {
		return domain.Listing{}, fmt.Errorf("market: create listing: %w", err)
	}

	now := c.clock()
	if err := c.validateCommon(p.Standard, p.Quantity, p.Currency, p.Price); err != nil {
		return domain.Listing{}, fmt.Errorf("market: create listing: %w", err)
	}
	start := p.StartTime
	if start.Before(now) {
		start = now
	}
	if !p.EndTime.IsZero() && !p.EndTime.After(start) {
		return domain.Listing{}, fmt.Errorf("market: create listing: end not after start: %w", domain.ErrBadParameters)
	}
	if err := c.checkStolen(ctx, p.Collection, p.AssetID); err != nil {
		return domain.Listing{}, fmt.Errorf("market: create listing: %w", err)
	}

	key := domain.NewLockKey(p.Collection, p.AssetID, p.Standard, p.Seller)
	if c.vault.Locked(key) {
		return domain.Listing{}, fmt.Errorf("market: create listing: %w", domain.ErrAssetBusy)
	}

	// Escrow before any state commit: a rejected transfer leaves the engine
	// untouched.
	if err := c.vault.EscrowIn(ctx, p.Standard, p.Collection, p.AssetID, p.Quantity, p.Seller); err != nil {
		return domain.Listing{}, fmt.Errorf("market: create listing: %w", err)
	}

	c.nextListingID++
	l := &domain.Listing{
		ID:         c.nextListingID,
		Seller:     p.Seller,
		Collection: p.Collection,
		AssetID:    p.AssetID,
		Quantity:   p.Quantity,
		Standard:   p.Standard,
		Currency:   p.Currency,
		Price:      new(big.Int).Set(p.Price),
		StartTime:  start,
		EndTime:    p.EndTime,
		Active:     true,
		CreatedAt:  now,
	}
	c.listings[l.ID] = l
	_ = c.vault.Lock(key, holdListing, l.ID)
	return *l, nil
}

// CancelListing deactivates a listing and returns the asset to its seller.
// Seller only.
func (c *Core) CancelListing(ctx context.Context, caller common.Address, id uint64) (domain.Listing, error) {
	if err := c.enter(); err != nil {
		return domain.Listing{}, fmt.Errorf("market: cancel listing: %w", err)
	}
	defer c.exit()
	if err := c.requireLive(); err != nil {
		return domain.Listing{}, fmt.Errorf("market: cancel listing: %w", err)
	}

	l, ok := c.listings[id]
	if !ok {
		return domain.Listing{}, fmt.Errorf("market: cancel listing %d: %w", id, domain.ErrNotFound)
	}
	if !l.Active {
		return domain.Listing{}, fmt.Errorf("market: cancel listing %d: %w", id, domain.ErrInactive)
	}
	if caller != l.Seller {
		return domain.Listing{}, fmt.Errorf("market: cancel listing %d: caller is not seller: %w", id, domain.ErrUnauthorized)
	}
	if err := c.releaseListing(ctx, l, l.Seller); err != nil {
		return domain.Listing{}, fmt.Errorf("market: cancel listing %d: %w", id, err)
	}
	return *l, nil
}

// ExpiredListings returns copies of the active listings whose end time has
// passed at t, in no particular order. Read-only.
func (c *Core) ExpiredListings(t time.Time) []domain.Listing {
	var out []domain.Listing
	for _, l := range c.listings {
		if l.Active && l.HasExpiry() && t.After(l.EndTime) {
			out = append(out, *l)
		}
	}
	return out
}

// CleanupExpired deactivates an expired listing and returns the asset to the
// seller. Callable by anyone once the end time has passed, so an absent
// seller cannot squat a lock indefinitely.
func (c *Core) CleanupExpired(ctx context.Context, id uint64) (domain.Listing, error) {
	if err := c.enter(); err != nil {
		return domain.Listing{}, fmt.Errorf("market: cleanup expired: %w", err)
	}
	defer c.exit()
	if err := c.requireLive(); err != nil {
		return domain.Listing{}, fmt.Errorf("market: cleanup expired: %w", err)
	}

	l, ok := c.listings[id]
	if !ok {
		return domain.Listing{}, fmt.Errorf("market: cleanup expired %d: %w", id, domain.ErrNotFound)
	}
	if !l.Active {
		return domain.Listing{}, fmt.Errorf("market: cleanup expired %d: %w", id, domain.ErrInactive)
	}
	if !l.HasExpiry() || !c.clock().After(l.EndTime) {
		return domain.Listing{}, fmt.Errorf("market: cleanup expired %d: not yet expired: %w", id, domain.ErrTimeWindow)
	}
	if err := c.releaseListing(ctx, l, l.Seller); err != nil {
		return domain.Listing{}, fmt.Errorf("market: cleanup expired %d: %w", id, err)
	}
	return *l, nil
}

// releaseListing deactivates, unlocks, and escrows the asset out. Effects
// commit before the transfer; a rejected transfer rolls them back so the
// operation leaves no trace.
func (c *Core) releaseListing(ctx context.Context, l *domain.Listing, to common.Address) error {
	key := l.LockKey()
	l.Active = false
	c.vault.Unlock(key)

	if err := c.vault.EscrowOut(ctx, to, l.Standard, l.Collection, l.AssetID, l.Quantity); err != nil {
		l.Active = true
		c.vault.relock(key, holdListing, l.ID)
		return err
	}
	return nil
}

// Buy settles a listing at its exact price: collects payment, releases the
// lock, escrows the asset to the buyer, and routes the price through the
// payout splitter. The stolen-asset gate is consulted again at purchase
// time; a flag raised after listing blocks the sale.
func (c *Core) Buy(ctx context.Context, p BuyParams) (PurchaseResult, error) {
	if err := c.enter(); err != nil {
		return PurchaseResult{}, fmt.Errorf("market: buy: %w", err)
	}
	defer c.exit()
	if err := c.requireLive(); err != nil {
		return PurchaseResult{}, fmt.Errorf("market: buy: %w", err)
	}

	l, ok := c.listings[p.ListingID]
	if !ok {
		return PurchaseResult{}, fmt.Errorf("market: buy listing %d: %w", p.ListingID, domain.ErrNotFound)
	}
	if !l.Active {
		return PurchaseResult{}, fmt.Errorf("market: buy listing %d: %w", p.ListingID, domain.ErrInactive)
	}
	if !l.LiveAt(c.clock()) {
		return PurchaseResult{}, fmt.Errorf("market: buy listing %d: %w", p.ListingID, domain.ErrTimeWindow)
	}
	if err := c.checkStolen(ctx, l.Collection, l.AssetID); err != nil {
		return PurchaseResult{}, fmt.Errorf("market: buy listing %d: %w", p.ListingID, err)
	}

	if err := c.collectExact(ctx, l.Currency, p.Buyer, l.Price, p.Attached); err != nil {
		return PurchaseResult{}, fmt.Errorf("market: buy listing %d: %w", p.ListingID, err)
	}

	// Effects before interactions: the listing is closed and the lock
	// released before custody moves, so a reentrant callback observes a
	// dead listing.
	key := l.LockKey()
	l.Active = false
	c.vault.Unlock(key)

	if err := c.vault.EscrowOut(ctx, p.Buyer, l.Standard, l.Collection, l.AssetID, l.Quantity); err != nil {
		// Full rollback: restore listing and lock, return the payment. A
		// refund push that fails itself degrades to a credit so no value
		// is stranded.
		l.Active = true
		c.vault.relock(key, holdListing, l.ID)
		if payErr := c.currency.Pay(ctx, l.Currency, p.Buyer, l.Price); payErr != nil {
			c.credits.Credit(l.Currency, p.Buyer, l.Price)
		}
		return PurchaseResult{}, fmt.Errorf("market: buy listing %d: %w", p.ListingID, err)
	}

	settlement, notes := c.payouts.Settle(ctx, c.cfg, settleInput{
		Currency:   l.Currency,
		Seller:     l.Seller,
		Collection: l.Collection,
		AssetID:    l.AssetID,
		Price:      l.Price,
	})
	return PurchaseResult{
		Listing:    *l,
		Buyer:      p.Buyer,
		Settlement: settlement,
		Credits:    notes,
	}, nil
}

// collectExact takes payment of exactly amount. Native currency: the
// attached value is the payment and must match exactly. Token currency: no
// value may be attached and exactly amount is pulled via transfer-from.
func (c *Core) collectExact(ctx context.Context, currency, payer common.Address, amount, attached *big.Int) error {
	if domain.IsNative(currency) {
		if attached == nil || attached.Cmp(amount) != 0 {
			return fmt.Errorf("native payment: %w", domain.ErrPriceMismatch)
		}
		return nil
	}
	if attached != nil && attached.Sign() != 0 {
		return fmt.Errorf("unexpected native value with token payment: %w", domain.ErrBadParameters)
	}
	if err := c.currency.Collect(ctx, currency, payer, amount); err != nil {
		return fmt.Errorf("collect %s: %w: %v", currency.Hex(), domain.ErrTransferFailed, err)
	}
	return nil
}
