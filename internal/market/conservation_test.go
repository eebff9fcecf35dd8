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

// totalCredits sums all pending ledger balances for one currency.
func totalCredits(c *Core, currency common.Address) *big.Int {
	sum := new(big.Int)
	for _, e := range c.Credits() {
		if e.Currency == currency {
			sum.Add(sum, e.Amount)
		}
	}
	return sum
}

func TestConservationOfValue(t *testing.T) {
	// Across a mixed sequence of purchases, bids, settlements, and
	// withdrawals, every token unit collected is either disbursed or
	// pending in the credit ledger: funds are never created or destroyed.
	f := newFixture(t)
	ctx := context.Background()

	check := func() {
		t.Helper()
		collected := f.currency.collected[tokenCur]
		if collected == nil {
			collected = new(big.Int)
		}
		paid := f.currency.paid[tokenCur]
		if paid == nil {
			paid = new(big.Int)
		}
		outstanding := new(big.Int).Add(paid, totalCredits(f.core, tokenCur))
		require.Zero(t, collected.Cmp(outstanding), "collected %s != paid+credited %s", collected, outstanding)
	}

	// Token-currency listing bought outright, with the royalty receiver
	// rejecting pushes so part of the flow lands in the ledger.
	f.currency.reject[royaltyRcv] = true
	f.assets.mintSingle(collection, "1", seller)
	l, err := f.core.CreateListing(ctx, CreateListingParams{
		Seller: seller, Collection: collection, AssetID: "1",
		Quantity: 1, Standard: domain.StandardSingle,
		Currency: tokenCur, Price: big.NewInt(10_000),
	})
	require.NoError(t, err)
	_, err = f.core.Buy(ctx, BuyParams{ListingID: l.ID, Buyer: buyer})
	require.NoError(t, err)
	check()

	// Auction with a displaced bidder.
	a := f.auctionSingle(t, "2", 1_000, 100, time.Hour)
	_, err = f.core.Bid(ctx, BidParams{AuctionID: a.ID, Bidder: bidderOne, Amount: big.NewInt(1_000)})
	require.NoError(t, err)
	check()
	_, err = f.core.Bid(ctx, BidParams{AuctionID: a.ID, Bidder: bidderTwo, Amount: big.NewInt(2_500)})
	require.NoError(t, err)
	check()

	f.advance(2 * time.Hour)
	_, err = f.core.FinalizeAuction(ctx, a.ID)
	require.NoError(t, err)
	check()

	// Displaced bidder pulls their refund.
	_, err = f.core.Withdraw(ctx, bidderOne, tokenCur)
	require.NoError(t, err)
	check()

	// Royalty receiver starts accepting and pulls the accumulated credits.
	f.currency.reject[royaltyRcv] = false
	_, err = f.core.Withdraw(ctx, royaltyRcv, tokenCur)
	require.NoError(t, err)
	check()

	require.Zero(t, totalCredits(f.core, tokenCur).Sign())
}
