package market

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/mintbay/marketd/internal/domain"
)

func settleFixture(royaltyBps int64) (*PayoutSplitter, *memCurrency, *CreditLedger) {
	currency := newMemCurrency()
	credits := NewCreditLedger()
	royalty := &memRoyalty{receiver: royaltyRcv, bps: royaltyBps}
	return NewPayoutSplitter(currency, royalty, credits), currency, credits
}

func TestSettleSplitExactness(t *testing.T) {
	// Price 10_000, fee 250 bps, distributor 15 bps of price, royalty 5%:
	// royalty 500, fee 250 split 15/235, seller remainder 9250. The four
	// parts sum to the price exactly.
	splitter, _, _ := settleFixture(500)

	s, notes := splitter.Settle(context.Background(), defaultFees(), settleInput{
		Currency:   tokenCur,
		Seller:     seller,
		Collection: collection,
		AssetID:    "1",
		Price:      big.NewInt(10_000),
	})

	require.Empty(t, notes)
	require.Equal(t, int64(500), s.RoyaltyAmount.Int64())
	require.Equal(t, royaltyRcv, s.RoyaltyReceiver)
	require.Equal(t, int64(250), s.FeeAmount.Int64())
	require.Equal(t, int64(15), s.DistributorShare.Int64())
	require.Equal(t, int64(235), s.ProtocolShare.Int64())
	require.Equal(t, int64(9_250), s.SellerProceeds.Int64())

	sum := new(big.Int).Add(s.RoyaltyAmount, s.DistributorShare)
	sum.Add(sum, s.ProtocolShare)
	sum.Add(sum, s.SellerProceeds)
	require.Zero(t, sum.Cmp(s.Price))
}

func TestSettleDistributorShareFormula(t *testing.T) {
	// The distributor share is fee * shareBps / feeBps, i.e. shareBps of
	// the price carved out of the fee.
	splitter, _, _ := settleFixture(0)

	cfg := defaultFees()
	cfg.DistributorShareBps = 150
	cfg.FeeBps = 250

	s, _ := splitter.Settle(context.Background(), cfg, settleInput{
		Currency: tokenCur,
		Seller:   seller,
		Price:    big.NewInt(10_000),
	})
	require.Equal(t, int64(150), s.DistributorShare.Int64())
	require.Equal(t, int64(100), s.ProtocolShare.Int64())
}

func TestSettleTruncationRetainsDust(t *testing.T) {
	// An awkward price forces truncation in both the fee and the
	// distributor share; the remainders flow into the protocol share and
	// seller remainder, so the sum still equals the price.
	splitter, _, _ := settleFixture(333)

	s, _ := splitter.Settle(context.Background(), defaultFees(), settleInput{
		Currency: tokenCur,
		Seller:   seller,
		Price:    big.NewInt(9_999),
	})

	require.Equal(t, int64(332), s.RoyaltyAmount.Int64()) // 9999*333/10000 truncated
	require.Equal(t, int64(249), s.FeeAmount.Int64())     // 9999*250/10000 truncated
	require.Equal(t, int64(14), s.DistributorShare.Int64())
	require.Equal(t, int64(235), s.ProtocolShare.Int64())

	sum := new(big.Int).Add(s.RoyaltyAmount, s.DistributorShare)
	sum.Add(sum, s.ProtocolShare)
	sum.Add(sum, s.SellerProceeds)
	require.Zero(t, sum.Cmp(big.NewInt(9_999)))
}

func TestSettleRoyaltyClampedToPrice(t *testing.T) {
	splitter, _, _ := settleFixture(0)
	splitter.royalty = &memRoyalty{receiver: royaltyRcv, bps: 20_000} // 200%

	s, _ := splitter.Settle(context.Background(), FeeConfig{}, settleInput{
		Currency: tokenCur,
		Seller:   seller,
		Price:    big.NewInt(1_000),
	})
	require.Equal(t, int64(1_000), s.RoyaltyAmount.Int64())
	require.Zero(t, s.SellerProceeds.Sign())
}

func TestSettleRoyaltyPlusFeeBoundedByPrice(t *testing.T) {
	// A 99% royalty on top of the 250 bps fee would overshoot the price.
	// The royalty yields to the fee: it is clamped to price - fee, the
	// seller remainder floors at zero, and the pushed total equals what
	// was collected.
	splitter, currency, _ := settleFixture(9_900)

	s, notes := splitter.Settle(context.Background(), defaultFees(), settleInput{
		Currency:   tokenCur,
		Seller:     seller,
		Collection: collection,
		AssetID:    "1",
		Price:      big.NewInt(10_000),
	})

	require.Empty(t, notes)
	require.Equal(t, int64(250), s.FeeAmount.Int64())
	require.Equal(t, int64(9_750), s.RoyaltyAmount.Int64())
	require.Zero(t, s.SellerProceeds.Sign())

	require.Zero(t, currency.paid[tokenCur].Cmp(big.NewInt(10_000)))

	sum := new(big.Int).Add(s.RoyaltyAmount, s.DistributorShare)
	sum.Add(sum, s.ProtocolShare)
	sum.Add(sum, s.SellerProceeds)
	require.Zero(t, sum.Cmp(s.Price))
}

func TestSettleFullFeeLeavesNoRoyalty(t *testing.T) {
	splitter, _, _ := settleFixture(500)

	cfg := defaultFees()
	cfg.FeeBps = domain.BpsDenominator
	cfg.DistributorShareBps = 0

	s, _ := splitter.Settle(context.Background(), cfg, settleInput{
		Currency: tokenCur,
		Seller:   seller,
		Price:    big.NewInt(1_000),
	})
	require.Equal(t, int64(1_000), s.FeeAmount.Int64())
	require.Zero(t, s.RoyaltyAmount.Sign())
	require.Equal(t, common.Address{}, s.RoyaltyReceiver)
	require.Zero(t, s.SellerProceeds.Sign())
}

func TestSettleNoRoyaltyDeclared(t *testing.T) {
	splitter, _, _ := settleFixture(0)

	s, _ := splitter.Settle(context.Background(), defaultFees(), settleInput{
		Currency: tokenCur,
		Seller:   seller,
		Price:    big.NewInt(10_000),
	})
	require.Zero(t, s.RoyaltyAmount.Sign())
	require.Equal(t, common.Address{}, s.RoyaltyReceiver)
	require.Equal(t, int64(9_750), s.SellerProceeds.Int64())
}

func TestSettleRoyaltyQueryErrorDegradesToNoRoyalty(t *testing.T) {
	splitter, _, _ := settleFixture(500)
	splitter.royalty = &memRoyalty{err: errRejected}

	s, _ := splitter.Settle(context.Background(), defaultFees(), settleInput{
		Currency: tokenCur,
		Seller:   seller,
		Price:    big.NewInt(10_000),
	})
	require.Zero(t, s.RoyaltyAmount.Sign())
	require.Equal(t, int64(9_750), s.SellerProceeds.Int64())
}

func TestSettleRejectedRecipientBecomesCredit(t *testing.T) {
	// A recipient that rejects transfers must not block settlement: the
	// amount lands in the credit ledger instead.
	splitter, currency, credits := settleFixture(500)
	currency.reject[royaltyRcv] = true
	currency.reject[seller] = true

	s, notes := splitter.Settle(context.Background(), defaultFees(), settleInput{
		Currency: tokenCur,
		Seller:   seller,
		Price:    big.NewInt(10_000),
	})

	require.Len(t, notes, 2)
	require.Equal(t, "royalty", notes[0].Reason)
	require.Equal(t, "seller_proceeds", notes[1].Reason)
	require.Zero(t, credits.BalanceOf(tokenCur, royaltyRcv).Cmp(s.RoyaltyAmount))
	require.Zero(t, credits.BalanceOf(tokenCur, seller).Cmp(s.SellerProceeds))

	// Pushed + credited covers the whole price.
	pushed := new(big.Int).Add(s.DistributorShare, s.ProtocolShare)
	require.Zero(t, currency.paid[tokenCur].Cmp(pushed))
}

func TestSettleZeroFeeConfig(t *testing.T) {
	splitter, _, _ := settleFixture(0)

	s, notes := splitter.Settle(context.Background(), FeeConfig{}, settleInput{
		Currency: tokenCur,
		Seller:   seller,
		Price:    big.NewInt(777),
	})
	require.Empty(t, notes)
	require.Zero(t, s.FeeAmount.Sign())
	require.Zero(t, s.DistributorShare.Sign())
	require.Equal(t, int64(777), s.SellerProceeds.Int64())
}

func TestFeeConfigValidate(t *testing.T) {
	cases := []struct {
		name string
		cfg  FeeConfig
		ok   bool
	}{
		{"zero", FeeConfig{}, true},
		{"typical", defaultFees(), true},
		{"fee over denominator", FeeConfig{FeeBps: 10_001}, false},
		{"negative fee", FeeConfig{FeeBps: -1}, false},
		{"share exceeds fee", FeeConfig{FeeBps: 100, DistributorShareBps: 101}, false},
		{"share equals fee", FeeConfig{FeeBps: 100, DistributorShareBps: 100}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.ok {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, domain.ErrBadParameters)
			}
		})
	}
}
