package market

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/mintbay/marketd/internal/domain"
)

// holdKind records which engine currently holds an asset lock.
type holdKind uint8

const (
	holdListing holdKind = iota + 1
	holdAuction
)

// lockHolder identifies the listing or auction holding a lock.
type lockHolder struct {
	kind holdKind
	id   uint64
}

// EscrowVault exclusively custodies assets between listing/auction creation
// and settlement or cancellation. It wraps the asset transfer port with the
// lock table: an asset is idle, listed, or auctioned, never two of these for
// the same lock key.
type EscrowVault struct {
	account common.Address
	assets  AssetTransferPort
	locks   map[domain.LockKey]lockHolder
}

// NewEscrowVault creates a vault custodying assets under the given account.
func NewEscrowVault(account common.Address, assets AssetTransferPort) *EscrowVault {
	return &EscrowVault{
		account: account,
		assets:  assets,
		locks:   make(map[domain.LockKey]lockHolder),
	}
}

// Account returns the vault's custody account.
func (v *EscrowVault) Account() common.Address {
	return v.account
}

// Locked reports whether a lock is held for the key.
func (v *EscrowVault) Locked(key domain.LockKey) bool {
	_, ok := v.locks[key]
	return ok
}

// Lock records a lock holder for the key. Returns domain.ErrAssetBusy when
// the key is already held.
func (v *EscrowVault) Lock(key domain.LockKey, kind holdKind, id uint64) error {
	if _, ok := v.locks[key]; ok {
		return domain.ErrAssetBusy
	}
	v.locks[key] = lockHolder{kind: kind, id: id}
	return nil
}

// Unlock releases the lock for the key. Releasing an unheld key is a no-op.
func (v *EscrowVault) Unlock(key domain.LockKey) {
	delete(v.locks, key)
}

// relock restores a lock during rollback of a failed settlement.
func (v *EscrowVault) relock(key domain.LockKey, kind holdKind, id uint64) {
	v.locks[key] = lockHolder{kind: kind, id: id}
}

// EscrowIn moves custody of an asset from the owner to the vault. Failure
// here must prevent any state commit by the caller.
func (v *EscrowVault) EscrowIn(ctx context.Context, standard domain.Standard, collection common.Address, assetID string, quantity uint64, from common.Address) error {
	if err := v.assets.Transfer(ctx, standard, collection, assetID, quantity, from, v.account); err != nil {
		return fmt.Errorf("vault: escrow in %s/%s: %w: %v", collection.Hex(), assetID, domain.ErrTransferFailed, err)
	}
	return nil
}

// EscrowOut moves custody of an asset from the vault back out.
func (v *EscrowVault) EscrowOut(ctx context.Context, to common.Address, standard domain.Standard, collection common.Address, assetID string, quantity uint64) error {
	if err := v.assets.Transfer(ctx, standard, collection, assetID, quantity, v.account, to); err != nil {
		return fmt.Errorf("vault: escrow out %s/%s: %w: %v", collection.Hex(), assetID, domain.ErrTransferFailed, err)
	}
	return nil
}
