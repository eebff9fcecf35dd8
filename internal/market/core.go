package market

import (
	"context"
	"fmt"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/mintbay/marketd/internal/domain"
)

// Core orchestrates the listing and auction engines, the escrow vault, the
// payout splitter, and the credit ledger behind one locking discipline.
//
// Core is not goroutine-safe: the service layer serializes all calls. The
// reentrancy guard exists for a different threat, a port implementation
// handing control to hostile code that calls straight back in on the same
// goroutine. Such a call observes the in-flight flag and fails with
// domain.ErrReentrancy before touching any state.
type Core struct {
	access   AccessGate
	stolen   StolenAssetGate
	currency CurrencyPort

	vault    *EscrowVault
	payouts  *PayoutSplitter
	credits  *CreditLedger

	cfg     FeeConfig
	allowed map[common.Address]bool

	listings map[uint64]*domain.Listing
	auctions map[uint64]*domain.Auction

	nextListingID uint64
	nextAuctionID uint64

	antiSnipeWindow time.Duration
	paused          bool
	inflight        atomic.Bool
	clock           func() time.Time
}

// Options configures a Core.
type Options struct {
	VaultAccount    common.Address
	Fees            FeeConfig
	AntiSnipeWindow time.Duration

	// AllowedCurrencies are the token currencies accepted at creation time.
	// The native currency is always allowed.
	AllowedCurrencies []common.Address
}

// NewCore constructs the marketplace core over its ports. royalty may be nil.
func NewCore(assets AssetTransferPort, currency CurrencyPort, stolen StolenAssetGate, access AccessGate, royalty RoyaltyQuery, opts Options) (*Core, error) {
	if err := opts.Fees.Validate(); err != nil {
		return nil, fmt.Errorf("market: fee config: %w", err)
	}
	if opts.AntiSnipeWindow < 0 {
		return nil, fmt.Errorf("market: anti-snipe window: %w", domain.ErrBadParameters)
	}

	credits := NewCreditLedger()
	c := &Core{
		access:          access,
		stolen:          stolen,
		currency:        currency,
		vault:           NewEscrowVault(opts.VaultAccount, assets),
		credits:         credits,
		payouts:         NewPayoutSplitter(currency, royalty, credits),
		cfg:             opts.Fees,
		allowed:         make(map[common.Address]bool),
		listings:        make(map[uint64]*domain.Listing),
		auctions:        make(map[uint64]*domain.Auction),
		antiSnipeWindow: opts.AntiSnipeWindow,
		clock:           time.Now,
	}
	c.allowed[domain.NativeCurrency] = true
	for _, cur := range opts.AllowedCurrencies {
		c.allowed[cur] = true
	}
	return c, nil
}

// WithClock overrides the engine clock for deterministic tests.
func (c *Core) WithClock(clock func() time.Time) {
	if clock != nil {
		c.clock = clock
	}
}

// Restore loads persisted state into a freshly constructed engine after a
// restart. Active listings and unsettled auctions reacquire their asset
// locks, pending credit balances are re-credited, and the id counters
// resume past the highest persisted id. Two live records contending for the
// same lock key mean corrupt history and fail the restore.
func (c *Core) Restore(listings []domain.Listing, auctions []domain.Auction, credits []domain.CreditEntry) error {
	for _, l := range listings {
		if l.ID > c.nextListingID {
			c.nextListingID = l.ID
		}
		if l.Active {
			if err := c.vault.Lock(l.LockKey(), holdListing, l.ID); err != nil {
				return fmt.Errorf("market: restore listing %d: %w", l.ID, err)
			}
		}
		cp := l
		if l.Price != nil {
			cp.Price = new(big.Int).Set(l.Price)
		}
		c.listings[l.ID] = &cp
	}
	for _, a := range auctions {
		if a.ID > c.nextAuctionID {
			c.nextAuctionID = a.ID
		}
		if !a.Settled {
			if err := c.vault.Lock(a.LockKey(), holdAuction, a.ID); err != nil {
				return fmt.Errorf("market: restore auction %d: %w", a.ID, err)
			}
		}
		cp := a
		if a.StartPrice != nil {
			cp.StartPrice = new(big.Int).Set(a.StartPrice)
		}
		if a.MinIncrement != nil {
			cp.MinIncrement = new(big.Int).Set(a.MinIncrement)
		}
		if a.HighestBid != nil {
			cp.HighestBid = new(big.Int).Set(a.HighestBid)
		}
		c.auctions[a.ID] = &cp
	}
	for _, e := range credits {
		c.credits.Credit(e.Currency, e.Account, e.Amount)
	}
	return nil
}

// enter acquires the in-flight guard for a state-mutating operation.
func (c *Core) enter() error {
	if !c.inflight.CompareAndSwap(false, true) {
		return domain.ErrReentrancy
	}
	return nil
}

// exit releases the in-flight guard. Deferred on every exit path.
func (c *Core) exit() {
	c.inflight.Store(false)
}

// requireLive rejects state mutation while the marketplace is paused.
func (c *Core) requireLive() error {
	if c.paused {
		return domain.ErrPaused
	}
	return nil
}

// currencyAllowed reports whether a currency is accepted for new listings
// and auctions. Already-created records settle in their original currency
// even if it is later disallowed.
func (c *Core) currencyAllowed(currency common.Address) bool {
	return c.allowed[currency]
}

// ---------------------------------------------------------------------------
// Administrative operations
// ---------------------------------------------------------------------------

// Pause short-circuits all state-mutating entry points. Pauser role only.
func (c *Core) Pause(ctx context.Context, caller common.Address) error {
	if !c.access.IsPauser(ctx, caller) {
		return fmt.Errorf("market: pause: %w", domain.ErrUnauthorized)
	}
	c.paused = true
	return nil
}

// Unpause re-enables state mutation. Pauser role only.
func (c *Core) Unpause(ctx context.Context, caller common.Address) error {
	if !c.access.IsPauser(ctx, caller) {
		return fmt.Errorf("market: unpause: %w", domain.ErrUnauthorized)
	}
	c.paused = false
	return nil
}

// Paused reports the pause flag.
func (c *Core) Paused() bool {
	return c.paused
}

// SetFees replaces the fee schedule. Config role only.
func (c *Core) SetFees(ctx context.Context, caller common.Address, cfg FeeConfig) error {
	if !c.access.IsConfigAdmin(ctx, caller) {
		return fmt.Errorf("market: set fees: %w", domain.ErrUnauthorized)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("market: set fees: %w", err)
	}
	c.cfg = cfg
	return nil
}

// Fees returns the current fee schedule.
func (c *Core) Fees() FeeConfig {
	return c.cfg
}

// SetCurrencyAllowed adds or removes a token currency from the allow-list.
// The native currency cannot be disallowed. Config role only.
func (c *Core) SetCurrencyAllowed(ctx context.Context, caller, currency common.Address, allowed bool) error {
	if !c.access.IsConfigAdmin(ctx, caller) {
		return fmt.Errorf("market: set currency: %w", domain.ErrUnauthorized)
	}
	if domain.IsNative(currency) && !allowed {
		return fmt.Errorf("market: set currency: native currency is always allowed: %w", domain.ErrBadParameters)
	}
	if allowed {
		c.allowed[currency] = true
	} else {
		delete(c.allowed, currency)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Credit ledger
// ---------------------------------------------------------------------------

// Withdraw pays out the caller's entire pending balance in one currency.
// Pull-only: no account may withdraw on another's behalf. The balance is
// zeroed before the external payment is attempted; if the payment fails the
// balance is restored and the caller may retry.
func (c *Core) Withdraw(ctx context.Context, caller, currency common.Address) (*big.Int, error) {
	if err := c.enter(); err != nil {
		return nil, fmt.Errorf("market: withdraw: %w", err)
	}
	defer c.exit()
	if err := c.requireLive(); err != nil {
		return nil, fmt.Errorf("market: withdraw: %w", err)
	}

	amount := c.credits.Take(currency, caller)
	if amount.Sign() == 0 {
		return nil, fmt.Errorf("market: withdraw: %w", domain.ErrNoCredit)
	}

	if err := c.currency.Pay(ctx, currency, caller, amount); err != nil {
		c.credits.Credit(currency, caller, amount)
		return nil, fmt.Errorf("market: withdraw %s: %w: %v", caller.Hex(), domain.ErrTransferFailed, err)
	}
	return amount, nil
}

// CreditOf returns the caller's pending balance in one currency. Available
// while paused.
func (c *Core) CreditOf(currency, account common.Address) *big.Int {
	return c.credits.BalanceOf(currency, account)
}

// Credits returns a snapshot of all pending balances.
func (c *Core) Credits() []domain.CreditEntry {
	return c.credits.Entries()
}

// ---------------------------------------------------------------------------
// Reads
// ---------------------------------------------------------------------------

// GetListing returns a copy of the listing record. Available while paused.
func (c *Core) GetListing(id uint64) (domain.Listing, error) {
	l, ok := c.listings[id]
	if !ok {
		return domain.Listing{}, fmt.Errorf("market: listing %d: %w", id, domain.ErrNotFound)
	}
	return *l, nil
}

// GetAuction returns a copy of the auction record. Available while paused.
func (c *Core) GetAuction(id uint64) (domain.Auction, error) {
	a, ok := c.auctions[id]
	if !ok {
		return domain.Auction{}, fmt.Errorf("market: auction %d: %w", id, domain.ErrNotFound)
	}
	return *a, nil
}

// LockedBy reports which record holds the lock for an asset, if any.
func (c *Core) LockedBy(key domain.LockKey) (kind string, id uint64, held bool) {
	h, ok := c.vault.locks[key]
	if !ok {
		return "", 0, false
	}
	switch h.kind {
	case holdListing:
		return "listing", h.id, true
	case holdAuction:
		return "auction", h.id, true
	}
	return "", 0, false
}

// validateCommon checks the parameter family shared by listing and auction
// creation.
func (c *Core) validateCommon(standard domain.Standard, quantity uint64, currency common.Address, price *big.Int) error {
	if !standard.Valid() {
		return fmt.Errorf("unknown standard %q: %w", standard, domain.ErrBadParameters)
	}
	switch standard {
	case domain.StandardSingle:
		if quantity != 1 {
			return fmt.Errorf("single-unit quantity must be 1, got %d: %w", quantity, domain.ErrBadParameters)
		}
	case domain.StandardMulti:
		if quantity < 1 {
			return fmt.Errorf("multi-unit quantity must be >= 1: %w", domain.ErrBadParameters)
		}
	}
	if price == nil || price.Sign() <= 0 {
		return fmt.Errorf("price must be positive: %w", domain.ErrBadParameters)
	}
	if !c.currencyAllowed(currency) {
		return fmt.Errorf("currency %s not allowed: %w", currency.Hex(), domain.ErrBadParameters)
	}
	return nil
}

// checkStolen consults the stolen-asset gate; a gate error is fatal to the
// operation so a sale never proceeds on an unknown flag state.
func (c *Core) checkStolen(ctx context.Context, collection common.Address, assetID string) error {
	flagged, err := c.stolen.IsFlagged(ctx, collection, assetID)
	if err != nil {
		return fmt.Errorf("stolen gate %s/%s: %w: %v", collection.Hex(), assetID, domain.ErrTransferFailed, err)
	}
	if flagged {
		return fmt.Errorf("%s/%s: %w", collection.Hex(), assetID, domain.ErrStolenAsset)
	}
	return nil
}
