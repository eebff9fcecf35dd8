package service

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/mintbay/marketd/internal/domain"
)

// EventWire is the JSON shape of a market event as published on the signal
// bus and served over the WebSocket feed. Amounts are decimal strings.
type EventWire struct {
	ID         string              `json:"id"`
	Type       string              `json:"type"`
	ListingID  uint64              `json:"listing_id,omitempty"`
	AuctionID  uint64              `json:"auction_id,omitempty"`
	Collection string              `json:"collection,omitempty"`
	AssetID    string              `json:"asset_id,omitempty"`
	Quantity   uint64              `json:"quantity,omitempty"`
	Standard   string              `json:"standard,omitempty"`
	Seller     string              `json:"seller,omitempty"`
	Buyer      string              `json:"buyer,omitempty"`
	Currency   string              `json:"currency"`
	Amount     string              `json:"amount,omitempty"`
	Settlement *SettlementWire     `json:"settlement,omitempty"`
	OccurredAt time.Time           `json:"occurred_at"`
}

// SettlementWire is the JSON shape of a settlement breakdown.
type SettlementWire struct {
	Price            string `json:"price"`
	Currency         string `json:"currency"`
	RoyaltyReceiver  string `json:"royalty_receiver"`
	RoyaltyAmount    string `json:"royalty_amount"`
	FeeAmount        string `json:"fee_amount"`
	DistributorShare string `json:"distributor_share"`
	ProtocolShare    string `json:"protocol_share"`
	SellerProceeds   string `json:"seller_proceeds"`
}

// ToWire converts a domain event into its wire shape.
func ToWire(evt domain.MarketEvent) EventWire {
	return eventWire(evt)
}

func eventWire(evt domain.MarketEvent) EventWire {
	w := EventWire{
		ID:         evt.ID,
		Type:       string(evt.Type),
		ListingID:  evt.ListingID,
		AuctionID:  evt.AuctionID,
		AssetID:    evt.AssetID,
		Quantity:   evt.Quantity,
		Standard:   string(evt.Standard),
		Currency:   evt.Currency.Hex(),
		OccurredAt: evt.OccurredAt,
	}
	var zero common.Address
	if evt.Collection != zero || evt.AssetID != "" {
		w.Collection = evt.Collection.Hex()
	}
	if evt.Seller != zero {
		w.Seller = evt.Seller.Hex()
	}
	if evt.Buyer != zero {
		w.Buyer = evt.Buyer.Hex()
	}
	if evt.Amount != nil {
		w.Amount = evt.Amount.String()
	}
	if evt.Settlement != nil {
		w.Settlement = settlementWire(*evt.Settlement)
	}
	return w
}

func settlementWire(s domain.Settlement) *SettlementWire {
	str := func(n *big.Int) string {
		if n == nil {
			return "0"
		}
		return n.String()
	}
	return &SettlementWire{
		Price:            str(s.Price),
		Currency:         s.Currency.Hex(),
		RoyaltyReceiver:  s.RoyaltyReceiver.Hex(),
		RoyaltyAmount:    str(s.RoyaltyAmount),
		FeeAmount:        str(s.FeeAmount),
		DistributorShare: str(s.DistributorShare),
		ProtocolShare:    str(s.ProtocolShare),
		SellerProceeds:   str(s.SellerProceeds),
	}
}
