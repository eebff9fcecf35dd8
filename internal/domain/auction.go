package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Auction is a timed ascending-bid sale over an escrowed asset. EndTime is
// mutable upward only (anti-snipe extension); Settled flips exactly once.
type Auction struct {
	ID            uint64
	Seller        common.Address
	Collection    common.Address
	AssetID       string
	Quantity      uint64
	Standard      Standard
	Currency      common.Address
	StartPrice    *big.Int
	MinIncrement  *big.Int
	StartTime     time.Time
	EndTime       time.Time
	HighestBidder common.Address
	HighestBid    *big.Int
	BidsCount     uint64
	Settled       bool
	CreatedAt     time.Time
}

// Asset returns the auction's asset reference.
func (a Auction) Asset() AssetRef {
	return AssetRef{Collection: a.Collection, AssetID: a.AssetID}
}

// LockKey returns the exclusivity key this auction holds until settled.
func (a Auction) LockKey() LockKey {
	return NewLockKey(a.Collection, a.AssetID, a.Standard, a.Seller)
}

// MinNextBid returns the smallest acceptable bid: the start price while no
// bids have been placed, otherwise the highest bid plus the minimum
// increment.
func (a Auction) MinNextBid() *big.Int {
	if a.BidsCount == 0 {
		return new(big.Int).Set(a.StartPrice)
	}
	return new(big.Int).Add(a.HighestBid, a.MinIncrement)
}

// LiveAt reports whether bidding is open at t.
func (a Auction) LiveAt(t time.Time) bool {
	return !t.Before(a.StartTime) && !t.After(a.EndTime)
}
