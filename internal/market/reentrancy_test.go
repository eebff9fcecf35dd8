package market

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/mintbay/marketd/internal/domain"
)

func TestReentrantBuyDuringPayoutRejected(t *testing.T) {
	// A hostile seller whose payment callback re-enters Buy must be
	// rejected by the in-flight guard, and the outer settlement must still
	// complete.
	f := newFixture(t)
	ctx := context.Background()

	l := f.listSingle(t, "1", 10_000)
	l2 := f.listSingle(t, "2", 10_000)

	var reentrant error
	fired := false
	f.currency.onPay = func(to common.Address, amount *big.Int) {
		if to == seller && !fired {
			fired = true
			_, reentrant = f.core.Buy(ctx, BuyParams{ListingID: l2.ID, Buyer: seller, Attached: big.NewInt(10_000)})
		}
	}

	res, err := f.core.Buy(ctx, BuyParams{ListingID: l.ID, Buyer: buyer, Attached: big.NewInt(10_000)})
	require.NoError(t, err)
	require.True(t, fired)
	require.ErrorIs(t, reentrant, domain.ErrReentrancy)

	// Outer purchase fully settled; the probed listing is untouched.
	require.Equal(t, buyer, f.assets.owner[assetKey(collection, "1")])
	require.Equal(t, int64(9_250), res.Settlement.SellerProceeds.Int64())
	got, err := f.core.GetListing(l2.ID)
	require.NoError(t, err)
	require.True(t, got.Active)
	require.Equal(t, vaultAcc, f.assets.owner[assetKey(collection, "2")])
}

func TestReentrantWithdrawDuringWithdrawRejected(t *testing.T) {
	// The classic double-withdraw: the payment callback tries to withdraw
	// again before the first completes. The ledger is already zeroed
	// (effects before interactions) and the guard rejects the re-entry.
	f := newFixture(t)
	ctx := context.Background()

	a := f.auctionSingle(t, "1", 100, 10, time.Hour)
	_, err := f.core.Bid(ctx, BidParams{AuctionID: a.ID, Bidder: bidderOne, Amount: big.NewInt(100)})
	require.NoError(t, err)
	_, err = f.core.Bid(ctx, BidParams{AuctionID: a.ID, Bidder: bidderTwo, Amount: big.NewInt(200)})
	require.NoError(t, err)

	var reentrant error
	calls := 0
	f.currency.onPay = func(to common.Address, amount *big.Int) {
		if to == bidderOne && calls == 0 {
			calls++
			_, reentrant = f.core.Withdraw(ctx, bidderOne, tokenCur)
		}
	}

	amount, err := f.core.Withdraw(ctx, bidderOne, tokenCur)
	require.NoError(t, err)
	require.Equal(t, int64(100), amount.Int64())
	require.ErrorIs(t, reentrant, domain.ErrReentrancy)
	require.Zero(t, f.core.CreditOf(tokenCur, bidderOne).Sign())
}

func TestReentrantListingDuringEscrowOutRejected(t *testing.T) {
	// A hostile asset contract re-entering during the escrow-out of a
	// cancellation cannot create a conflicting record mid-operation.
	f := newFixture(t)
	ctx := context.Background()
	l := f.listSingle(t, "1", 100)

	var reentrant error
	f.assets.onTransfer = func(from, to common.Address) {
		if from == vaultAcc {
			f.assets.onTransfer = nil
			_, reentrant = f.core.CreateListing(ctx, CreateListingParams{
				Seller: seller, Collection: collection, AssetID: "1",
				Quantity: 1, Standard: domain.StandardSingle,
				Currency: domain.NativeCurrency, Price: big.NewInt(1),
			})
		}
	}

	_, err := f.core.CancelListing(ctx, seller, l.ID)
	require.NoError(t, err)
	require.ErrorIs(t, reentrant, domain.ErrReentrancy)
}

func TestGuardReleasedAfterErrorExit(t *testing.T) {
	// The guard must be released on every exit path, including errors.
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.core.Buy(ctx, BuyParams{ListingID: 404, Buyer: buyer})
	require.ErrorIs(t, err, domain.ErrNotFound)

	// The engine still accepts operations.
	l := f.listSingle(t, "1", 100)
	_, err = f.core.Buy(ctx, BuyParams{ListingID: l.ID, Buyer: buyer, Attached: big.NewInt(100)})
	require.NoError(t, err)
}
