package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Listing is a fixed-price sale offer over an escrowed asset. A listing id is
// single-use: once deactivated (sold, cancelled, or expired) it is never
// reactivated and the record is kept as immutable history.
type Listing struct {
	ID         uint64
	Seller     common.Address
	Collection common.Address
	AssetID    string
	Quantity   uint64
	Standard   Standard
	Currency   common.Address // NativeCurrency for native value
	Price      *big.Int
	StartTime  time.Time
	EndTime    time.Time // zero ⇒ no expiry
	Active     bool
	CreatedAt  time.Time
}

// Asset returns the listing's asset reference.
func (l Listing) Asset() AssetRef {
	return AssetRef{Collection: l.Collection, AssetID: l.AssetID}
}

// LockKey returns the exclusivity key this listing holds while active.
func (l Listing) LockKey() LockKey {
	return NewLockKey(l.Collection, l.AssetID, l.Standard, l.Seller)
}

// HasExpiry reports whether the listing carries an end time.
func (l Listing) HasExpiry() bool {
	return !l.EndTime.IsZero()
}

// LiveAt reports whether the listing time window contains t.
func (l Listing) LiveAt(t time.Time) bool {
	if t.Before(l.StartTime) {
		return false
	}
	if l.HasExpiry() && t.After(l.EndTime) {
		return false
	}
	return true
}
