package market

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/mintbay/marketd/internal/domain"
)

// CreateAuctionParams carries the inputs of CreateAuction.
type CreateAuctionParams struct {
	Seller       common.Address
	Collection   common.Address
	AssetID      string
	Quantity     uint64
	Standard     domain.Standard
	Currency     common.Address
	StartPrice   *big.Int
	MinIncrement *big.Int
	StartTime    time.Time // zero ⇒ effective immediately
	EndTime      time.Time // required, strictly after effective start
}

// BidParams carries the inputs of Bid. For native-currency auctions the
// attached value is the bid and Amount is ignored; for token-currency
// auctions Amount is pulled via transfer-from.
type BidParams struct {
	AuctionID uint64
	Bidder    common.Address
	Amount    *big.Int
	Attached  *big.Int
}

// BidResult reports the auction state after a bid, the credit issued to the
// displaced bidder if any, and whether the anti-snipe extension fired.
type BidResult struct {
	Auction   domain.Auction
	Displaced *CreditNote
	Extended  bool
}

// FinalizeResult reports the outcome of FinalizeAuction. With no bids the
// asset returns to the seller and Settlement is absent.
type FinalizeResult struct {
	Auction    domain.Auction
	Winner     common.Address
	NoBids     bool
	Settlement domain.Settlement
	Credits    []CreditNote
}

// CreateAuction validates, escrows the asset, allocates an auction id, and
// sets the exclusivity lock. Unlike listings, auctions require a bounded
// end strictly after the effective start.
func (c *Core) CreateAuction(ctx context.Context, p CreateAuctionParams) (domain.Auction, error) {
	if err := c.enter(); err != nil {
		return domain.Auction{}, fmt.Errorf("market: create auction: %w", err)
	}
	defer c.exit()
	if err := c.requireLive(); err != nil {
		return domain.Auction{}, fmt.Errorf("market: create auction: %w", err)
	}

	now := c.clock()
	if err := c.validateCommon(p.Standard, p.Quantity, p.Currency, p.StartPrice); err != nil {
		return domain.Auction{}, fmt.Errorf("market: create auction: %w", err)
	}
	if p.MinIncrement == nil || p.MinIncrement.Sign() <= 0 {
		return domain.Auction{}, fmt.Errorf("market: create auction: min increment must be positive: %w", domain.ErrBadParameters)
	}
	start := p.StartTime
	if start.Before(now) {
		start = now
	}
	if p.EndTime.IsZero() || !p.EndTime.After(start) {
		return domain.Auction{}, fmt.Errorf("market: create auction: end not after start: %w", domain.ErrBadParameters)
	}
	if err := c.checkStolen(ctx, p.Collection, p.AssetID); err != nil {
		return domain.Auction{}, fmt.Errorf("market: create auction: %w", err)
	}

	key := domain.NewLockKey(p.Collection, p.AssetID, p.Standard, p.Seller)
	if c.vault.Locked(key) {
		return domain.Auction{}, fmt.Errorf("market: create auction: %w", domain.ErrAssetBusy)
	}

	if err := c.vault.EscrowIn(ctx, p.Standard, p.Collection, p.AssetID, p.Quantity, p.Seller); err != nil {
		return domain.Auction{}, fmt.Errorf("market: create auction: %w", err)
	}

	c.nextAuctionID++
	a := &domain.Auction{
		ID:           c.nextAuctionID,
		Seller:       p.Seller,
		Collection:   p.Collection,
		AssetID:      p.AssetID,
		Quantity:     p.Quantity,
		Standard:     p.Standard,
		Currency:     p.Currency,
		StartPrice:   new(big.Int).Set(p.StartPrice),
		MinIncrement: new(big.Int).Set(p.MinIncrement),
		StartTime:    start,
		EndTime:      p.EndTime,
		HighestBid:   new(big.Int),
		CreatedAt:    now,
	}
	c.auctions[a.ID] = a
	_ = c.vault.Lock(key, holdAuction, a.ID)
	return *a, nil
}

// Bid places an ascending bid. The displaced highest bidder is always made
// whole through the credit ledger, never silently re-entered. A bid landing
// inside the anti-snipe window extends the end time monotonically.
func (c *Core) Bid(ctx context.Context, p BidParams) (BidResult, error) {
	if err := c.enter(); err != nil {
		return BidResult{}, fmt.Errorf("market: bid: %w", err)
	}
	defer c.exit()
	if err := c.requireLive(); err != nil {
		return BidResult{}, fmt.Errorf("market: bid: %w", err)
	}

	a, ok := c.auctions[p.AuctionID]
	if !ok {
		return BidResult{}, fmt.Errorf("market: bid auction %d: %w", p.AuctionID, domain.ErrNotFound)
	}
	if a.Settled {
		return BidResult{}, fmt.Errorf("market: bid auction %d: %w", p.AuctionID, domain.ErrAlreadySettled)
	}
	now := c.clock()
	if !a.LiveAt(now) {
		return BidResult{}, fmt.Errorf("market: bid auction %d: %w", p.AuctionID, domain.ErrTimeWindow)
	}
	if err := c.checkStolen(ctx, a.Collection, a.AssetID); err != nil {
		return BidResult{}, fmt.Errorf("market: bid auction %d: %w", p.AuctionID, err)
	}

	// Native: the attached value is the bid. Token: the stated amount is
	// pulled and becomes the bid, exactly.
	var amount *big.Int
	if domain.IsNative(a.Currency) {
		amount = p.Attached
	} else {
		if p.Attached != nil && p.Attached.Sign() != 0 {
			return BidResult{}, fmt.Errorf("market: bid auction %d: unexpected native value: %w", p.AuctionID, domain.ErrBadParameters)
		}
		amount = p.Amount
	}
	if amount == nil || amount.Sign() <= 0 {
		return BidResult{}, fmt.Errorf("market: bid auction %d: missing bid amount: %w", p.AuctionID, domain.ErrBadParameters)
	}
	if amount.Cmp(a.MinNextBid()) < 0 {
		return BidResult{}, fmt.Errorf("market: bid auction %d: below minimum %s: %w", p.AuctionID, a.MinNextBid(), domain.ErrBadParameters)
	}

	if !domain.IsNative(a.Currency) {
		if err := c.currency.Collect(ctx, a.Currency, p.Bidder, amount); err != nil {
			return BidResult{}, fmt.Errorf("market: bid auction %d: %w: %v", p.AuctionID, domain.ErrTransferFailed, err)
		}
	}

	res := BidResult{}

	// Displaced bidder becomes a pending credit before the new bid is
	// recorded.
	if a.BidsCount > 0 {
		c.credits.Credit(a.Currency, a.HighestBidder, a.HighestBid)
		res.Displaced = &CreditNote{
			Currency: a.Currency,
			Account:  a.HighestBidder,
			Amount:   new(big.Int).Set(a.HighestBid),
			Reason:   "outbid_refund",
		}
	}

	a.HighestBidder = p.Bidder
	a.HighestBid = new(big.Int).Set(amount)
	a.BidsCount++

	// Anti-snipe: a bid landing with less than the extension window left
	// pushes the end out to now+window. Never shortens.
	if c.antiSnipeWindow > 0 {
		extended := now.Add(c.antiSnipeWindow)
		if a.EndTime.Before(extended) {
			a.EndTime = extended
			res.Extended = true
		}
	}

	res.Auction = *a
	return res, nil
}

// FinalizeAuction settles an auction exactly once after its end time. With
// no bids the asset returns to the seller with no payout; with bids the
// stolen flag is re-checked, the asset escrows to the highest bidder, and
// the winning bid routes through the payout splitter.
func (c *Core) FinalizeAuction(ctx context.Context, id uint64) (FinalizeResult, error) {
	if err := c.enter(); err != nil {
		return FinalizeResult{}, fmt.Errorf("market: finalize auction: %w", err)
	}
	defer c.exit()
	if err := c.requireLive(); err != nil {
		return FinalizeResult{}, fmt.Errorf("market: finalize auction: %w", err)
	}

	a, ok := c.auctions[id]
	if !ok {
		return FinalizeResult{}, fmt.Errorf("market: finalize auction %d: %w", id, domain.ErrNotFound)
	}
	if a.Settled {
		return FinalizeResult{}, fmt.Errorf("market: finalize auction %d: %w", id, domain.ErrAlreadySettled)
	}
	if !c.clock().After(a.EndTime) {
		return FinalizeResult{}, fmt.Errorf("market: finalize auction %d: still open: %w", id, domain.ErrTimeWindow)
	}

	key := a.LockKey()

	if a.BidsCount == 0 {
		a.Settled = true
		c.vault.Unlock(key)
		if err := c.vault.EscrowOut(ctx, a.Seller, a.Standard, a.Collection, a.AssetID, a.Quantity); err != nil {
			a.Settled = false
			c.vault.relock(key, holdAuction, a.ID)
			return FinalizeResult{}, fmt.Errorf("market: finalize auction %d: %w", id, err)
		}
		return FinalizeResult{Auction: *a, NoBids: true}, nil
	}

	// A sale must not complete on a since-flagged asset even if bidding was
	// legitimate.
	if err := c.checkStolen(ctx, a.Collection, a.AssetID); err != nil {
		return FinalizeResult{}, fmt.Errorf("market: finalize auction %d: %w", id, err)
	}

	a.Settled = true
	c.vault.Unlock(key)

	if err := c.vault.EscrowOut(ctx, a.HighestBidder, a.Standard, a.Collection, a.AssetID, a.Quantity); err != nil {
		a.Settled = false
		c.vault.relock(key, holdAuction, a.ID)
		return FinalizeResult{}, fmt.Errorf("market: finalize auction %d: %w", id, err)
	}

	settlement, notes := c.payouts.Settle(ctx, c.cfg, settleInput{
		Currency:   a.Currency,
		Seller:     a.Seller,
		Collection: a.Collection,
		AssetID:    a.AssetID,
		Price:      a.HighestBid,
	})
	return FinalizeResult{
		Auction:    *a,
		Winner:     a.HighestBidder,
		Settlement: settlement,
		Credits:    notes,
	}, nil
}

// CancelAuction withdraws an auction before any bids exist. Seller only: an
// auction with bids cannot be unilaterally withdrawn.
func (c *Core) CancelAuction(ctx context.Context, caller common.Address, id uint64) (domain.Auction, error) {
	if err := c.enter(); err != nil {
		return domain.Auction{}, fmt.Errorf("market: cancel auction: %w", err)
	}
	defer c.exit()
	if err := c.requireLive(); err != nil {
		return domain.Auction{}, fmt.Errorf("market: cancel auction: %w", err)
	}

	a, ok := c.auctions[id]
	if !ok {
		return domain.Auction{}, fmt.Errorf("market: cancel auction %d: %w", id, domain.ErrNotFound)
	}
	if a.Settled {
		return domain.Auction{}, fmt.Errorf("market: cancel auction %d: %w", id, domain.ErrAlreadySettled)
	}
	if caller != a.Seller {
		return domain.Auction{}, fmt.Errorf("market: cancel auction %d: caller is not seller: %w", id, domain.ErrUnauthorized)
	}
	if a.BidsCount > 0 {
		return domain.Auction{}, fmt.Errorf("market: cancel auction %d: bids placed: %w", id, domain.ErrBadParameters)
	}

	key := a.LockKey()
	a.Settled = true
	c.vault.Unlock(key)
	if err := c.vault.EscrowOut(ctx, a.Seller, a.Standard, a.Collection, a.AssetID, a.Quantity); err != nil {
		a.Settled = false
		c.vault.relock(key, holdAuction, a.ID)
		return domain.Auction{}, fmt.Errorf("market: cancel auction %d: %w", id, err)
	}
	return *a, nil
}
