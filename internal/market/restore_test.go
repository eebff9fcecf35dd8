package market

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mintbay/marketd/internal/domain"
)

func TestRestoreRehydratesEngine(t *testing.T) {
	f := newFixture(t)
	f.assets.mintSingle(collection, "9", vaultAcc) // escrowed before the restart

	l := domain.Listing{
		ID:         4,
		Seller:     seller,
		Collection: collection,
		AssetID:    "9",
		Quantity:   1,
		Standard:   domain.StandardSingle,
		Currency:   domain.NativeCurrency,
		Price:      big.NewInt(2_000),
		StartTime:  f.now,
		Active:     true,
		CreatedAt:  f.now,
	}
	a := domain.Auction{
		ID:           2,
		Seller:       sellerTwo,
		Collection:   collection,
		AssetID:      "10",
		Quantity:     1,
		Standard:     domain.StandardSingle,
		Currency:     domain.NativeCurrency,
		StartPrice:   big.NewInt(1_000),
		MinIncrement: big.NewInt(100),
		StartTime:    f.now,
		EndTime:      f.now.Add(time.Hour),
		CreatedAt:    f.now,
	}
	credit := domain.CreditEntry{
		Currency: domain.NativeCurrency,
		Account:  buyer,
		Amount:   big.NewInt(42),
	}

	require.NoError(t, f.core.Restore(
		[]domain.Listing{l}, []domain.Auction{a}, []domain.CreditEntry{credit},
	))

	// Both live records hold their exclusivity locks again.
	kind, id, held := f.core.LockedBy(l.LockKey())
	require.True(t, held)
	require.Equal(t, "listing", kind)
	require.Equal(t, uint64(4), id)
	kind, id, held = f.core.LockedBy(a.LockKey())
	require.True(t, held)
	require.Equal(t, "auction", kind)
	require.Equal(t, uint64(2), id)

	// The pending balance survived.
	require.Zero(t, f.core.CreditOf(domain.NativeCurrency, buyer).Cmp(big.NewInt(42)))

	// A restored listing settles like any other.
	res, err := f.core.Buy(context.Background(), BuyParams{
		ListingID: 4,
		Buyer:     buyer,
		Attached:  big.NewInt(2_000),
	})
	require.NoError(t, err)
	require.False(t, res.Listing.Active)

	// The id counters continue past the persisted history.
	next := f.listSingle(t, "11", 1_000)
	require.Greater(t, next.ID, uint64(4))
}

func TestRestoreConflictingLocksFail(t *testing.T) {
	f := newFixture(t)

	mk := func(id uint64) domain.Listing {
		return domain.Listing{
			ID:         id,
			Seller:     seller,
			Collection: collection,
			AssetID:    "9",
			Quantity:   1,
			Standard:   domain.StandardSingle,
			Currency:   domain.NativeCurrency,
			Price:      big.NewInt(1_000),
			StartTime:  f.now,
			Active:     true,
			CreatedAt:  f.now,
		}
	}

	err := f.core.Restore([]domain.Listing{mk(1), mk(2)}, nil, nil)
	require.ErrorIs(t, err, domain.ErrAssetBusy)
}
