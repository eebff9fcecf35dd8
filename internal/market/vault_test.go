package market

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mintbay/marketd/internal/domain"
)

func TestVaultLockTable(t *testing.T) {
	v := NewEscrowVault(vaultAcc, newMemAssets())
	key := domain.NewLockKey(collection, "1", domain.StandardSingle, seller)

	require.False(t, v.Locked(key))
	require.NoError(t, v.Lock(key, holdListing, 1))
	require.True(t, v.Locked(key))
	require.ErrorIs(t, v.Lock(key, holdAuction, 9), domain.ErrAssetBusy)

	v.Unlock(key)
	require.False(t, v.Locked(key))
	// Releasing an unheld key is a no-op.
	v.Unlock(key)
}

func TestVaultEscrowRoundTrip(t *testing.T) {
	assets := newMemAssets()
	v := NewEscrowVault(vaultAcc, assets)
	ctx := context.Background()

	assets.mintSingle(collection, "1", seller)
	require.NoError(t, v.EscrowIn(ctx, domain.StandardSingle, collection, "1", 1, seller))
	require.Equal(t, vaultAcc, assets.owner[assetKey(collection, "1")])

	require.NoError(t, v.EscrowOut(ctx, buyer, domain.StandardSingle, collection, "1", 1))
	require.Equal(t, buyer, assets.owner[assetKey(collection, "1")])
}

func TestVaultEscrowInWrongOwner(t *testing.T) {
	assets := newMemAssets()
	v := NewEscrowVault(vaultAcc, assets)

	assets.mintSingle(collection, "1", sellerTwo)
	err := v.EscrowIn(context.Background(), domain.StandardSingle, collection, "1", 1, seller)
	require.ErrorIs(t, err, domain.ErrTransferFailed)
	require.Equal(t, sellerTwo, assets.owner[assetKey(collection, "1")])
}

func TestVaultMultiUnitBalances(t *testing.T) {
	assets := newMemAssets()
	v := NewEscrowVault(vaultAcc, assets)
	ctx := context.Background()

	assets.mintMulti(collection, "77", seller, 10)
	require.NoError(t, v.EscrowIn(ctx, domain.StandardMulti, collection, "77", 4, seller))
	require.Equal(t, uint64(6), assets.balance[assetKey(collection, "77")][seller])
	require.Equal(t, uint64(4), assets.balance[assetKey(collection, "77")][vaultAcc])

	// More than the remaining balance is rejected.
	err := v.EscrowIn(ctx, domain.StandardMulti, collection, "77", 7, seller)
	require.ErrorIs(t, err, domain.ErrTransferFailed)
}
