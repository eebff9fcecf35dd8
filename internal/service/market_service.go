// Package service orchestrates the settlement engine: it serializes access,
// mirrors engine state into PostgreSQL and Redis, emits the event stream,
// and records administrative actions in the audit log.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/mintbay/marketd/internal/domain"
	"github.com/mintbay/marketd/internal/market"
)

const (
	// cacheTTL bounds staleness of cached listings and auctions.
	cacheTTL = 5 * time.Minute

	// assetLockTTL bounds how long a replica may hold the distributed
	// per-asset lock while mutating.
	assetLockTTL = 30 * time.Second
)

// Deps bundles the collaborators of MarketService.
type Deps struct {
	Core     *market.Core
	Listings domain.ListingStore
	Auctions domain.AuctionStore
	Credits  domain.CreditStore
	Events   domain.EventStore
	Audit    domain.AuditStore
	Bus      domain.SignalBus
	Cache    domain.ListingCache
	Locks    domain.LockManager
	Notify   Notifier
	Logger   *slog.Logger
}

// Notifier is the subset of the notification dispatcher the service uses.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// MarketService is the single entry point for marketplace operations. The
// engine itself is not goroutine-safe; every call that reaches it holds the
// service mutex, and asset-scoped mutations additionally hold a distributed
// per-asset lock so multiple replicas serialize before the engine runs.
//
// The engine is the source of truth. Store, cache, and stream writes happen
// after the engine commits; their failures are logged and do not undo the
// settlement.
type MarketService struct {
	mu sync.Mutex

	core     *market.Core
	listings domain.ListingStore
	auctions domain.AuctionStore
	credits  domain.CreditStore
	events   domain.EventStore
	audit    domain.AuditStore
	bus      domain.SignalBus
	cache    domain.ListingCache
	locks    domain.LockManager
	notify   Notifier
	logger   *slog.Logger
}

// NewMarketService creates a MarketService from its dependencies.
func NewMarketService(d Deps) *MarketService {
	return &MarketService{
		core:     d.Core,
		listings: d.Listings,
		auctions: d.Auctions,
		credits:  d.Credits,
		events:   d.Events,
		audit:    d.Audit,
		bus:      d.Bus,
		cache:    d.Cache,
		locks:    d.Locks,
		notify:   d.Notify,
		logger:   d.Logger.With(slog.String("component", "market_service")),
	}
}

// withAssetLock acquires the distributed lock for the asset's exclusivity
// key, then the local mutex, and runs fn.
func (s *MarketService) withAssetLock(ctx context.Context, key domain.LockKey, fn func() error) error {
	unlock, err := s.locks.Acquire(ctx, "asset:"+key.String(), assetLockTTL)
	if err != nil {
		return fmt.Errorf("market_service: asset lock: %w", err)
	}
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	return fn()
}

// ---------------------------------------------------------------------------
// Listings
// ---------------------------------------------------------------------------

// CreateListing escrows the asset and opens a fixed-price listing.
func (s *MarketService) CreateListing(ctx context.Context, p market.CreateListingParams) (domain.Listing, error) {
	var l domain.Listing
	key := domain.NewLockKey(p.Collection, p.AssetID, p.Standard, p.Seller)
	err := s.withAssetLock(ctx, key, func() error {
		var err error
		l, err = s.core.CreateListing(ctx, p)
		return err
	})
	if err != nil {
		return domain.Listing{}, err
	}

	s.persistListing(ctx, l, true)
	s.emit(ctx, domain.MarketEvent{
		Type:       domain.EventListingCreated,
		ListingID:  l.ID,
		Collection: l.Collection,
		AssetID:    l.AssetID,
		Quantity:   l.Quantity,
		Standard:   l.Standard,
		Seller:     l.Seller,
		Currency:   l.Currency,
		Amount:     l.Price,
	})

	s.logger.InfoContext(ctx, "listing created",
		slog.Uint64("listing_id", l.ID),
		slog.String("seller", l.Seller.Hex()),
		slog.String("asset", l.Asset().String()),
	)
	return l, nil
}

// Buy settles a fixed-price purchase.
func (s *MarketService) Buy(ctx context.Context, p market.BuyParams) (market.PurchaseResult, error) {
	s.mu.Lock()
	l, err := s.core.GetListing(p.ListingID)
	s.mu.Unlock()
	if err != nil {
		return market.PurchaseResult{}, err
	}

	var res market.PurchaseResult
	err = s.withAssetLock(ctx, l.LockKey(), func() error {
		var err error
		res, err = s.core.Buy(ctx, p)
		return err
	})
	if err != nil {
		return market.PurchaseResult{}, err
	}

	s.persistListing(ctx, res.Listing, false)
	s.mirrorCreditNotes(ctx, res.Credits)
	s.emit(ctx, domain.MarketEvent{
		Type:       domain.EventPurchase,
		ListingID:  res.Listing.ID,
		Collection: res.Listing.Collection,
		AssetID:    res.Listing.AssetID,
		Quantity:   res.Listing.Quantity,
		Standard:   res.Listing.Standard,
		Seller:     res.Listing.Seller,
		Buyer:      res.Buyer,
		Currency:   res.Settlement.Currency,
		Amount:     res.Settlement.Price,
		Settlement: &res.Settlement,
	})
	s.emitCreditEvents(ctx, res.Credits)

	s.notifyEvent(ctx, string(domain.EventPurchase), "Purchase settled",
		fmt.Sprintf("listing %d sold for %s (seller proceeds %s)",
			res.Listing.ID, res.Settlement.Price, res.Settlement.SellerProceeds))
	return res, nil
}

// CancelListing deactivates a listing and returns the asset to the seller.
func (s *MarketService) CancelListing(ctx context.Context, caller common.Address, id uint64) (domain.Listing, error) {
	s.mu.Lock()
	l, err := s.core.GetListing(id)
	s.mu.Unlock()
	if err != nil {
		return domain.Listing{}, err
	}

	err = s.withAssetLock(ctx, l.LockKey(), func() error {
		var err error
		l, err = s.core.CancelListing(ctx, caller, id)
		return err
	})
	if err != nil {
		return domain.Listing{}, err
	}

	s.persistListing(ctx, l, false)
	s.emit(ctx, domain.MarketEvent{
		Type:       domain.EventListingCancelled,
		ListingID:  l.ID,
		Collection: l.Collection,
		AssetID:    l.AssetID,
		Quantity:   l.Quantity,
		Standard:   l.Standard,
		Seller:     l.Seller,
		Currency:   l.Currency,
		Amount:     l.Price,
	})
	return l, nil
}

// ExpiredListings returns the active listings whose end time has passed at t.
func (s *MarketService) ExpiredListings(t time.Time) []domain.Listing {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.core.ExpiredListings(t)
}

// CleanupExpired deactivates an expired listing. Permissionless.
func (s *MarketService) CleanupExpired(ctx context.Context, id uint64) (domain.Listing, error) {
	s.mu.Lock()
	l, err := s.core.GetListing(id)
	s.mu.Unlock()
	if err != nil {
		return domain.Listing{}, err
	}

	err = s.withAssetLock(ctx, l.LockKey(), func() error {
		var err error
		l, err = s.core.CleanupExpired(ctx, id)
		return err
	})
	if err != nil {
		return domain.Listing{}, err
	}

	s.persistListing(ctx, l, false)
	s.emit(ctx, domain.MarketEvent{
		Type:       domain.EventListingExpired,
		ListingID:  l.ID,
		Collection: l.Collection,
		AssetID:    l.AssetID,
		Quantity:   l.Quantity,
		Standard:   l.Standard,
		Seller:     l.Seller,
		Currency:   l.Currency,
		Amount:     l.Price,
	})
	return l, nil
}

// GetListing reads a listing, cache first, then the engine, then the store.
func (s *MarketService) GetListing(ctx context.Context, id uint64) (domain.Listing, error) {
	if l, err := s.cache.GetListing(ctx, id); err == nil {
		return l, nil
	}

	s.mu.Lock()
	l, err := s.core.GetListing(id)
	s.mu.Unlock()
	if err == nil {
		s.fillListingCache(ctx, l)
		return l, nil
	}

	l, err = s.listings.GetByID(ctx, id)
	if err != nil {
		return domain.Listing{}, fmt.Errorf("market_service: get listing %d: %w", id, err)
	}
	return l, nil
}

// ListActiveListings returns active listings from the store.
func (s *MarketService) ListActiveListings(ctx context.Context, opts domain.ListOpts) ([]domain.Listing, error) {
	out, err := s.listings.ListActive(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("market_service: list active listings: %w", err)
	}
	return out, nil
}

// ListListingsBySeller returns a seller's listing history from the store.
func (s *MarketService) ListListingsBySeller(ctx context.Context, seller common.Address, opts domain.ListOpts) ([]domain.Listing, error) {
	out, err := s.listings.ListBySeller(ctx, seller, opts)
	if err != nil {
		return nil, fmt.Errorf("market_service: list listings by seller: %w", err)
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Auctions
// ---------------------------------------------------------------------------

// CreateAuction escrows the asset and opens a timed ascending auction.
func (s *MarketService) CreateAuction(ctx context.Context, p market.CreateAuctionParams) (domain.Auction, error) {
	var a domain.Auction
	key := domain.NewLockKey(p.Collection, p.AssetID, p.Standard, p.Seller)
	err := s.withAssetLock(ctx, key, func() error {
		var err error
		a, err = s.core.CreateAuction(ctx, p)
		return err
	})
	if err != nil {
		return domain.Auction{}, err
	}

	s.persistAuction(ctx, a, true)
	s.emit(ctx, domain.MarketEvent{
		Type:       domain.EventAuctionCreated,
		AuctionID:  a.ID,
		Collection: a.Collection,
		AssetID:    a.AssetID,
		Quantity:   a.Quantity,
		Standard:   a.Standard,
		Seller:     a.Seller,
		Currency:   a.Currency,
		Amount:     a.StartPrice,
	})

	s.logger.InfoContext(ctx, "auction created",
		slog.Uint64("auction_id", a.ID),
		slog.String("seller", a.Seller.Hex()),
		slog.String("asset", a.Asset().String()),
		slog.Time("end_time", a.EndTime),
	)
	return a, nil
}

// Bid places a bid. The displaced bidder's refund degrades to the pull
// ledger when the push fails.
func (s *MarketService) Bid(ctx context.Context, p market.BidParams) (market.BidResult, error) {
	s.mu.Lock()
	a, err := s.core.GetAuction(p.AuctionID)
	s.mu.Unlock()
	if err != nil {
		return market.BidResult{}, err
	}

	var res market.BidResult
	err = s.withAssetLock(ctx, a.LockKey(), func() error {
		var err error
		res, err = s.core.Bid(ctx, p)
		return err
	})
	if err != nil {
		return market.BidResult{}, err
	}

	s.persistAuction(ctx, res.Auction, false)
	if res.Displaced != nil {
		s.mirrorCreditNotes(ctx, []market.CreditNote{*res.Displaced})
		s.emitCreditEvents(ctx, []market.CreditNote{*res.Displaced})
	}
	s.emit(ctx, domain.MarketEvent{
		Type:       domain.EventBidPlaced,
		AuctionID:  res.Auction.ID,
		Collection: res.Auction.Collection,
		AssetID:    res.Auction.AssetID,
		Quantity:   res.Auction.Quantity,
		Standard:   res.Auction.Standard,
		Seller:     res.Auction.Seller,
		Buyer:      res.Auction.HighestBidder,
		Currency:   res.Auction.Currency,
		Amount:     res.Auction.HighestBid,
	})

	if res.Extended {
		s.logger.InfoContext(ctx, "anti-snipe extension",
			slog.Uint64("auction_id", res.Auction.ID),
			slog.Time("new_end", res.Auction.EndTime),
		)
	}
	return res, nil
}

// FinalizeAuction settles an ended auction. Permissionless.
func (s *MarketService) FinalizeAuction(ctx context.Context, id uint64) (market.FinalizeResult, error) {
	s.mu.Lock()
	a, err := s.core.GetAuction(id)
	s.mu.Unlock()
	if err != nil {
		return market.FinalizeResult{}, err
	}

	var res market.FinalizeResult
	err = s.withAssetLock(ctx, a.LockKey(), func() error {
		var err error
		res, err = s.core.FinalizeAuction(ctx, id)
		return err
	})
	if err != nil {
		return market.FinalizeResult{}, err
	}

	s.persistAuction(ctx, res.Auction, false)
	s.mirrorCreditNotes(ctx, res.Credits)

	evt := domain.MarketEvent{
		AuctionID:  res.Auction.ID,
		Collection: res.Auction.Collection,
		AssetID:    res.Auction.AssetID,
		Quantity:   res.Auction.Quantity,
		Standard:   res.Auction.Standard,
		Seller:     res.Auction.Seller,
		Currency:   res.Auction.Currency,
	}
	if res.NoBids {
		evt.Type = domain.EventAuctionNoBids
	} else {
		evt.Type = domain.EventAuctionSettled
		evt.Buyer = res.Winner
		evt.Amount = res.Settlement.Price
		evt.Settlement = &res.Settlement
	}
	s.emit(ctx, evt)
	s.emitCreditEvents(ctx, res.Credits)

	if !res.NoBids {
		s.notifyEvent(ctx, string(domain.EventAuctionSettled), "Auction settled",
			fmt.Sprintf("auction %d settled at %s to %s",
				res.Auction.ID, res.Settlement.Price, res.Winner.Hex()))
	}
	return res, nil
}

// CancelAuction cancels a zero-bid auction and returns the asset.
func (s *MarketService) CancelAuction(ctx context.Context, caller common.Address, id uint64) (domain.Auction, error) {
	s.mu.Lock()
	a, err := s.core.GetAuction(id)
	s.mu.Unlock()
	if err != nil {
		return domain.Auction{}, err
	}

	err = s.withAssetLock(ctx, a.LockKey(), func() error {
		var err error
		a, err = s.core.CancelAuction(ctx, caller, id)
		return err
	})
	if err != nil {
		return domain.Auction{}, err
	}

	s.persistAuction(ctx, a, false)
	s.emit(ctx, domain.MarketEvent{
		Type:       domain.EventAuctionCancelled,
		AuctionID:  a.ID,
		Collection: a.Collection,
		AssetID:    a.AssetID,
		Quantity:   a.Quantity,
		Standard:   a.Standard,
		Seller:     a.Seller,
		Currency:   a.Currency,
		Amount:     a.StartPrice,
	})
	return a, nil
}

// GetAuction reads an auction, cache first, then the engine, then the store.
func (s *MarketService) GetAuction(ctx context.Context, id uint64) (domain.Auction, error) {
	if a, err := s.cache.GetAuction(ctx, id); err == nil {
		return a, nil
	}

	s.mu.Lock()
	a, err := s.core.GetAuction(id)
	s.mu.Unlock()
	if err == nil {
		s.fillAuctionCache(ctx, a)
		return a, nil
	}

	a, err = s.auctions.GetByID(ctx, id)
	if err != nil {
		return domain.Auction{}, fmt.Errorf("market_service: get auction %d: %w", id, err)
	}
	return a, nil
}

// ListOpenAuctions returns unsettled auctions from the store.
func (s *MarketService) ListOpenAuctions(ctx context.Context, opts domain.ListOpts) ([]domain.Auction, error) {
	out, err := s.auctions.ListOpen(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("market_service: list open auctions: %w", err)
	}
	return out, nil
}

// ListAuctionsBySeller returns a seller's auction history from the store.
func (s *MarketService) ListAuctionsBySeller(ctx context.Context, seller common.Address, opts domain.ListOpts) ([]domain.Auction, error) {
	out, err := s.auctions.ListBySeller(ctx, seller, opts)
	if err != nil {
		return nil, fmt.Errorf("market_service: list auctions by seller: %w", err)
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Credits
// ---------------------------------------------------------------------------

// Withdraw pays out the caller's full pending balance in one currency.
func (s *MarketService) Withdraw(ctx context.Context, caller, currency common.Address) (*big.Int, error) {
	s.mu.Lock()
	amount, err := s.core.Withdraw(ctx, caller, currency)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	s.mirrorCredit(ctx, currency, caller)
	s.emit(ctx, domain.MarketEvent{
		Type:     domain.EventCreditWithdrawn,
		Buyer:    caller,
		Currency: currency,
		Amount:   amount,
	})
	return amount, nil
}

// CreditOf reads the pending balance for one (currency, account) pair.
func (s *MarketService) CreditOf(currency, account common.Address) *big.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.core.CreditOf(currency, account)
}

// Credits snapshots every pending balance.
func (s *MarketService) Credits() []domain.CreditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.core.Credits()
}

// ---------------------------------------------------------------------------
// Administration
// ---------------------------------------------------------------------------

// Pause halts every mutating operation, withdrawals included. Reads stay
// open.
func (s *MarketService) Pause(ctx context.Context, caller common.Address) error {
	s.mu.Lock()
	err := s.core.Pause(ctx, caller)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.auditLog(ctx, "pause", map[string]any{"caller": caller.Hex()})
	s.notifyEvent(ctx, "error", "Marketplace paused",
		fmt.Sprintf("paused by %s", caller.Hex()))
	return nil
}

// Unpause resumes mutating operations.
func (s *MarketService) Unpause(ctx context.Context, caller common.Address) error {
	s.mu.Lock()
	err := s.core.Unpause(ctx, caller)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.auditLog(ctx, "unpause", map[string]any{"caller": caller.Hex()})
	return nil
}

// Paused reports the pause flag.
func (s *MarketService) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.core.Paused()
}

// SetFees replaces the fee schedule.
func (s *MarketService) SetFees(ctx context.Context, caller common.Address, cfg market.FeeConfig) error {
	s.mu.Lock()
	err := s.core.SetFees(ctx, caller, cfg)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.auditLog(ctx, "set_fees", map[string]any{
		"caller":                caller.Hex(),
		"fee_bps":               cfg.FeeBps,
		"distributor_share_bps": cfg.DistributorShareBps,
		"protocol_account":      cfg.ProtocolAccount.Hex(),
		"distributor_account":   cfg.DistributorAccount.Hex(),
	})
	return nil
}

// Fees reads the current fee schedule.
func (s *MarketService) Fees() market.FeeConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.core.Fees()
}

// SetCurrencyAllowed updates the currency allow-list.
func (s *MarketService) SetCurrencyAllowed(ctx context.Context, caller, currency common.Address, allowed bool) error {
	s.mu.Lock()
	err := s.core.SetCurrencyAllowed(ctx, caller, currency, allowed)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.auditLog(ctx, "set_currency_allowed", map[string]any{
		"caller":   caller.Hex(),
		"currency": currency.Hex(),
		"allowed":  allowed,
	})
	return nil
}

// ListEvents reads the persisted event history.
func (s *MarketService) ListEvents(ctx context.Context, opts domain.ListOpts) ([]domain.MarketEvent, error) {
	out, err := s.events.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("market_service: list events: %w", err)
	}
	return out, nil
}

// ListEventsByAsset reads one asset's persisted event history.
func (s *MarketService) ListEventsByAsset(ctx context.Context, collection common.Address, assetID string, opts domain.ListOpts) ([]domain.MarketEvent, error) {
	out, err := s.events.ListByAsset(ctx, collection, assetID, opts)
	if err != nil {
		return nil, fmt.Errorf("market_service: list events by asset: %w", err)
	}
	return out, nil
}

// ListAudit reads the audit log.
func (s *MarketService) ListAudit(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	out, err := s.audit.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("market_service: list audit: %w", err)
	}
	return out, nil
}
