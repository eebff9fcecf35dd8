package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// EventType enumerates the marketplace event stream. Every event carries
// enough fields to reconstruct ledger state from history alone.
type EventType string

const (
	EventListingCreated   EventType = "listing_created"
	EventListingCancelled EventType = "listing_cancelled"
	EventListingExpired   EventType = "listing_expired"
	EventPurchase         EventType = "purchase"
	EventAuctionCreated   EventType = "auction_created"
	EventAuctionCancelled EventType = "auction_cancelled"
	EventBidPlaced        EventType = "bid_placed"
	EventAuctionSettled   EventType = "auction_settled"
	EventAuctionNoBids    EventType = "auction_no_bids"
	EventCreditIssued     EventType = "credit_issued"
	EventCreditWithdrawn  EventType = "credit_withdrawn"
)

// Settlement is the full fund-split breakdown of a purchase or auction
// settlement. RoyaltyAmount + DistributorShare + ProtocolShare +
// SellerProceeds equals Price exactly.
type Settlement struct {
	Price            *big.Int
	Currency         common.Address
	RoyaltyReceiver  common.Address
	RoyaltyAmount    *big.Int
	FeeAmount        *big.Int
	DistributorShare *big.Int
	ProtocolShare    *big.Int
	SellerProceeds   *big.Int
}

// MarketEvent is one entry in the append-only marketplace event history.
type MarketEvent struct {
	ID         string // UUID assigned by the service layer
	Type       EventType
	ListingID  uint64 // zero when not listing-scoped
	AuctionID  uint64 // zero when not auction-scoped
	Collection common.Address
	AssetID    string
	Quantity   uint64
	Standard   Standard
	Seller     common.Address
	Buyer      common.Address // buyer, bidder, or credit account
	Currency   common.Address
	Amount     *big.Int // price, bid, or credit amount
	Settlement *Settlement
	OccurredAt time.Time
}
