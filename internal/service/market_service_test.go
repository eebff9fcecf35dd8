package service

import (
	"context"
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mintbay/marketd/internal/domain"
	"github.com/mintbay/marketd/internal/market"
)

func TestCreateListingPersistsEmitsAndCaches(t *testing.T) {
	f := newSvcFixture(t)
	l := f.createListing(t)

	assert.Equal(t, 1, f.listings.creates)
	stored, err := f.listings.GetByID(context.Background(), l.ID)
	require.NoError(t, err)
	assert.True(t, stored.Active)

	evts := f.events.byType(domain.EventListingCreated)
	require.Len(t, evts, 1)
	assert.Equal(t, l.ID, evts[0].ListingID)
	assert.Equal(t, svcSeller, evts[0].Seller)
	_, err = uuid.Parse(evts[0].ID)
	assert.NoError(t, err, "event id is a uuid")

	// Published and streamed once, and the payload decodes to the wire form.
	require.Len(t, f.bus.published, 1)
	require.Len(t, f.bus.streamed, 1)
	var w EventWire
	require.NoError(t, json.Unmarshal(f.bus.published[0], &w))
	assert.Equal(t, string(domain.EventListingCreated), w.Type)
	assert.Equal(t, "10000", w.Amount)

	// Active listing is cached; reads hit the cache.
	cached, err := f.cache.GetListing(context.Background(), l.ID)
	require.NoError(t, err)
	assert.Equal(t, l.ID, cached.ID)

	// Distributed lock was taken and released.
	assert.Equal(t, 1, f.locks.acquires)
	assert.Equal(t, 1, f.locks.releases)
}

func TestBuyEmitsSettlementAndNotifies(t *testing.T) {
	f := newSvcFixture(t)
	l := f.createListing(t)

	res, err := f.svc.Buy(context.Background(), market.BuyParams{
		ListingID: l.ID,
		Buyer:     svcBuyer,
		Attached:  big.NewInt(10_000),
	})
	require.NoError(t, err)
	require.NotNil(t, res.Settlement.SellerProceeds)

	// Listing row flipped inactive and left the cache.
	stored, err := f.listings.GetByID(context.Background(), l.ID)
	require.NoError(t, err)
	assert.False(t, stored.Active)
	_, err = f.cache.GetListing(context.Background(), l.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	evts := f.events.byType(domain.EventPurchase)
	require.Len(t, evts, 1)
	require.NotNil(t, evts[0].Settlement)
	assert.Equal(t, res.Settlement.Price, evts[0].Settlement.Price)
	assert.Equal(t, svcBuyer, evts[0].Buyer)

	assert.Contains(t, f.notify.events, string(domain.EventPurchase))
}

func TestLockHeldRejectsMutation(t *testing.T) {
	f := newSvcFixture(t)
	f.locks.held = true

	_, err := f.svc.CreateListing(context.Background(), market.CreateListingParams{
		Seller:     svcSeller,
		Collection: svcColl,
		AssetID:    "1",
		Quantity:   1,
		Standard:   domain.StandardSingle,
		Currency:   domain.NativeCurrency,
		Price:      big.NewInt(10_000),
	})
	require.ErrorIs(t, err, domain.ErrLockHeld)

	assert.Equal(t, 0, f.listings.creates)
	assert.Empty(t, f.events.rows)
}

func TestAuctionLifecycleThroughService(t *testing.T) {
	f := newSvcFixture(t)
	ctx := context.Background()

	a, err := f.svc.CreateAuction(ctx, market.CreateAuctionParams{
		Seller:       svcSeller,
		Collection:   svcColl,
		AssetID:      "7",
		Quantity:     1,
		Standard:     domain.StandardSingle,
		Currency:     domain.NativeCurrency,
		StartPrice:   big.NewInt(1_000),
		MinIncrement: big.NewInt(100),
		EndTime:      f.now.Add(time.Hour),
	})
	require.NoError(t, err)

	_, err = f.svc.Bid(ctx, market.BidParams{
		AuctionID: a.ID,
		Bidder:    svcBuyer,
		Attached:  big.NewInt(1_000),
	})
	require.NoError(t, err)
	require.Len(t, f.events.byType(domain.EventBidPlaced), 1)

	f.now = f.now.Add(2 * time.Hour)
	res, err := f.svc.FinalizeAuction(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, res.NoBids)
	assert.Equal(t, svcBuyer, res.Winner)

	stored, err := f.auctions.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, stored.Settled)
	_, err = f.cache.GetAuction(ctx, a.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.Len(t, f.events.byType(domain.EventAuctionSettled), 1)
	assert.Contains(t, f.notify.events, string(domain.EventAuctionSettled))
}

func TestPauseIsAuditedAndBlocksWrites(t *testing.T) {
	f := newSvcFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.Pause(ctx, svcAdmin))
	assert.Contains(t, f.audit.events, "pause")
	assert.True(t, f.svc.Paused())

	_, err := f.svc.CreateListing(ctx, market.CreateListingParams{
		Seller:     svcSeller,
		Collection: svcColl,
		AssetID:    "1",
		Quantity:   1,
		Standard:   domain.StandardSingle,
		Currency:   domain.NativeCurrency,
		Price:      big.NewInt(10_000),
	})
	require.ErrorIs(t, err, domain.ErrPaused)

	require.NoError(t, f.svc.Unpause(ctx, svcAdmin))
	assert.Contains(t, f.audit.events, "unpause")
	f.createListing(t)
}

func TestSetFeesRejectsNonAdminAndAudits(t *testing.T) {
	f := newSvcFixture(t)
	ctx := context.Background()

	cfg := market.FeeConfig{
		FeeBps:              100,
		DistributorShareBps: 10,
		ProtocolAccount:     svcProtocol,
		DistributorAccount:  svcProtocol,
	}
	require.ErrorIs(t, f.svc.SetFees(ctx, svcBuyer, cfg), domain.ErrUnauthorized)
	assert.NotContains(t, f.audit.events, "set_fees")

	require.NoError(t, f.svc.SetFees(ctx, svcAdmin, cfg))
	assert.Contains(t, f.audit.events, "set_fees")
	assert.Equal(t, int64(100), f.svc.Fees().FeeBps)
}

func TestGetListingFallsBackToStore(t *testing.T) {
	f := newSvcFixture(t)
	ctx := context.Background()

	// A row only the store knows about (cold replica restart).
	stale := domain.Listing{ID: 99, Seller: svcSeller, Collection: svcColl, AssetID: "9",
		Quantity: 1, Standard: domain.StandardSingle, Price: big.NewInt(5)}
	require.NoError(t, f.listings.Create(ctx, stale))

	got, err := f.svc.GetListing(ctx, 99)
	require.NoError(t, err)
	assert.Equal(t, uint64(99), got.ID)
}

func TestWithdrawEmitsAndMirrors(t *testing.T) {
	f := newSvcFixture(t)
	ctx := context.Background()

	// No balance: withdrawal refused, nothing emitted.
	_, err := f.svc.Withdraw(ctx, svcBuyer, domain.NativeCurrency)
	require.ErrorIs(t, err, domain.ErrNoCredit)
	assert.Empty(t, f.events.byType(domain.EventCreditWithdrawn))
}

func TestReloadRestoresEngineAfterRestart(t *testing.T) {
	f := newSvcFixture(t)
	ctx := context.Background()

	l := f.createListing(t)
	a, err := f.svc.CreateAuction(ctx, market.CreateAuctionParams{
		Seller:       svcSeller,
		Collection:   svcColl,
		AssetID:      "7",
		Quantity:     1,
		Standard:     domain.StandardSingle,
		Currency:     domain.NativeCurrency,
		StartPrice:   big.NewInt(1_000),
		MinIncrement: big.NewInt(100),
		EndTime:      f.now.Add(time.Hour),
	})
	require.NoError(t, err)
	require.NoError(t, f.credits.Upsert(ctx, domain.CreditEntry{
		Currency: domain.NativeCurrency,
		Account:  svcSeller,
		Amount:   big.NewInt(777),
	}))

	f.restart(t)

	// The escrowed listing holds its asset lock again.
	_, err = f.svc.CreateListing(ctx, market.CreateListingParams{
		Seller:     svcSeller,
		Collection: svcColl,
		AssetID:    "1",
		Quantity:   1,
		Standard:   domain.StandardSingle,
		Currency:   domain.NativeCurrency,
		Price:      big.NewInt(5_000),
	})
	require.ErrorIs(t, err, domain.ErrAssetBusy)

	// The mirrored balance is withdrawable again.
	assert.Zero(t, f.svc.CreditOf(domain.NativeCurrency, svcSeller).Cmp(big.NewInt(777)))

	// The restored listing settles and the restored auction takes bids.
	res, err := f.svc.Buy(ctx, market.BuyParams{
		ListingID: l.ID,
		Buyer:     svcBuyer,
		Attached:  big.NewInt(10_000),
	})
	require.NoError(t, err)
	assert.False(t, res.Listing.Active)

	_, err = f.svc.Bid(ctx, market.BidParams{
		AuctionID: a.ID,
		Bidder:    svcBuyer,
		Attached:  big.NewInt(1_000),
	})
	require.NoError(t, err)

	// New ids continue past the persisted history.
	l2, err := f.svc.CreateListing(ctx, market.CreateListingParams{
		Seller:     svcSeller,
		Collection: svcColl,
		AssetID:    "2",
		Quantity:   1,
		Standard:   domain.StandardSingle,
		Currency:   domain.NativeCurrency,
		Price:      big.NewInt(5_000),
	})
	require.NoError(t, err)
	assert.Greater(t, l2.ID, l.ID)
}
