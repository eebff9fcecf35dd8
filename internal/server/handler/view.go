package handler

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/mintbay/marketd/internal/domain"
)

// API response shapes. Amounts are decimal strings because token amounts
// routinely exceed what JSON numbers can carry, and addresses are rendered
// in checksummed hex.

type listingView struct {
	ID         uint64     `json:"id"`
	Seller     string     `json:"seller"`
	Collection string     `json:"collection"`
	AssetID    string     `json:"asset_id"`
	Quantity   uint64     `json:"quantity"`
	Standard   string     `json:"standard"`
	Currency   string     `json:"currency"`
	Price      string     `json:"price"`
	StartTime  time.Time  `json:"start_time"`
	EndTime    *time.Time `json:"end_time,omitempty"`
	Active     bool       `json:"active"`
	CreatedAt  time.Time  `json:"created_at"`
}

type auctionView struct {
	ID            uint64    `json:"id"`
	Seller        string    `json:"seller"`
	Collection    string    `json:"collection"`
	AssetID       string    `json:"asset_id"`
	Quantity      uint64    `json:"quantity"`
	Standard      string    `json:"standard"`
	Currency      string    `json:"currency"`
	StartPrice    string    `json:"start_price"`
	MinIncrement  string    `json:"min_increment"`
	StartTime     time.Time `json:"start_time"`
	EndTime       time.Time `json:"end_time"`
	HighestBidder string    `json:"highest_bidder,omitempty"`
	HighestBid    string    `json:"highest_bid,omitempty"`
	MinNextBid    string    `json:"min_next_bid"`
	BidsCount     uint64    `json:"bids_count"`
	Settled       bool      `json:"settled"`
	CreatedAt     time.Time `json:"created_at"`
}

type settlementView struct {
	Price            string `json:"price"`
	Currency         string `json:"currency"`
	RoyaltyReceiver  string `json:"royalty_receiver,omitempty"`
	RoyaltyAmount    string `json:"royalty_amount"`
	FeeAmount        string `json:"fee_amount"`
	DistributorShare string `json:"distributor_share"`
	ProtocolShare    string `json:"protocol_share"`
	SellerProceeds   string `json:"seller_proceeds"`
}

type creditView struct {
	Currency  string    `json:"currency"`
	Account   string    `json:"account"`
	Amount    string    `json:"amount"`
	UpdatedAt time.Time `json:"updated_at,omitzero"`
}

func amountString(n *big.Int) string {
	if n == nil {
		return "0"
	}
	return n.String()
}

func toListingView(l domain.Listing) listingView {
	v := listingView{
		ID:         l.ID,
		Seller:     l.Seller.Hex(),
		Collection: l.Collection.Hex(),
		AssetID:    l.AssetID,
		Quantity:   l.Quantity,
		Standard:   string(l.Standard),
		Currency:   l.Currency.Hex(),
		Price:      amountString(l.Price),
		StartTime:  l.StartTime,
		Active:     l.Active,
		CreatedAt:  l.CreatedAt,
	}
	if l.HasExpiry() {
		end := l.EndTime
		v.EndTime = &end
	}
	return v
}

func toListingViews(ls []domain.Listing) []listingView {
	out := make([]listingView, 0, len(ls))
	for _, l := range ls {
		out = append(out, toListingView(l))
	}
	return out
}

func toAuctionView(a domain.Auction) auctionView {
	v := auctionView{
		ID:           a.ID,
		Seller:       a.Seller.Hex(),
		Collection:   a.Collection.Hex(),
		AssetID:      a.AssetID,
		Quantity:     a.Quantity,
		Standard:     string(a.Standard),
		Currency:     a.Currency.Hex(),
		StartPrice:   amountString(a.StartPrice),
		MinIncrement: amountString(a.MinIncrement),
		StartTime:    a.StartTime,
		EndTime:      a.EndTime,
		MinNextBid:   a.MinNextBid().String(),
		BidsCount:    a.BidsCount,
		Settled:      a.Settled,
		CreatedAt:    a.CreatedAt,
	}
	var zero common.Address
	if a.HighestBidder != zero {
		v.HighestBidder = a.HighestBidder.Hex()
		v.HighestBid = amountString(a.HighestBid)
	}
	return v
}

func toAuctionViews(as []domain.Auction) []auctionView {
	out := make([]auctionView, 0, len(as))
	for _, a := range as {
		out = append(out, toAuctionView(a))
	}
	return out
}

func toSettlementView(s domain.Settlement) settlementView {
	v := settlementView{
		Price:            amountString(s.Price),
		Currency:         s.Currency.Hex(),
		RoyaltyAmount:    amountString(s.RoyaltyAmount),
		FeeAmount:        amountString(s.FeeAmount),
		DistributorShare: amountString(s.DistributorShare),
		ProtocolShare:    amountString(s.ProtocolShare),
		SellerProceeds:   amountString(s.SellerProceeds),
	}
	var zero common.Address
	if s.RoyaltyReceiver != zero {
		v.RoyaltyReceiver = s.RoyaltyReceiver.Hex()
	}
	return v
}

func toCreditView(c domain.CreditEntry) creditView {
	return creditView{
		Currency:  c.Currency.Hex(),
		Account:   c.Account.Hex(),
		Amount:    amountString(c.Amount),
		UpdatedAt: c.UpdatedAt,
	}
}
