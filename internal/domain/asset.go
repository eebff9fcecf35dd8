package domain

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Standard identifies which asset-transfer protocol custodies an asset.
type Standard string

const (
	// StandardSingle is an exclusive-ownership asset: exactly one unit
	// exists per (collection, assetID) and exactly one account owns it.
	StandardSingle Standard = "single"

	// StandardMulti is a balance-based asset: many accounts may each hold
	// an independent quantity of the same (collection, assetID).
	StandardMulti Standard = "multi"
)

// Valid reports whether s is a known standard.
func (s Standard) Valid() bool {
	return s == StandardSingle || s == StandardMulti
}

// NativeCurrency is the zero address, denoting the chain's native value
// rather than a token contract.
var NativeCurrency = common.Address{}

// IsNative reports whether the currency address denotes native value.
func IsNative(currency common.Address) bool {
	return currency == NativeCurrency
}

// AssetRef identifies one asset: a collection contract plus a token id.
// Asset ids are kept as decimal strings because ERC token ids regularly
// exceed uint64 and strings are comparable map keys.
type AssetRef struct {
	Collection common.Address
	AssetID    string
}

func (a AssetRef) String() string {
	return fmt.Sprintf("%s/%s", a.Collection.Hex(), a.AssetID)
}

// LockKey is the exclusivity key for listings and auctions. For single-unit
// assets the seller field is the zero address: exclusivity is global across
// sellers. For multi-unit assets the key includes the seller, since multiple
// sellers hold independent units of the same id.
type LockKey struct {
	Collection common.Address
	AssetID    string
	Seller     common.Address
}

// String renders the key in a form usable as a distributed lock name.
func (k LockKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Collection.Hex(), k.AssetID, k.Seller.Hex())
}

// NewLockKey derives the lock key for an asset under the given standard.
func NewLockKey(collection common.Address, assetID string, standard Standard, seller common.Address) LockKey {
	k := LockKey{Collection: collection, AssetID: assetID}
	if standard == StandardMulti {
		k.Seller = seller
	}
	return k
}

// BpsDenominator is the fixed-point denominator for basis-point arithmetic.
const BpsDenominator = 10_000

// MulBps returns amount * bps / 10000, truncating toward zero. The dust lost
// to truncation is intentionally retained by the caller, never distributed.
func MulBps(amount *big.Int, bps int64) *big.Int {
	out := new(big.Int).Mul(amount, big.NewInt(bps))
	return out.Quo(out, big.NewInt(BpsDenominator))
}
