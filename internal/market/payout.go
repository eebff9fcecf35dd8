package market

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/mintbay/marketd/internal/domain"
)

// FeeConfig is the fee schedule applied to every settlement. It is read
// through by value at the start of each operation.
type FeeConfig struct {
	// FeeBps is the protocol fee in basis points of the sale price.
	FeeBps int64

	// DistributorShareBps is the rewards-distributor share, expressed in
	// basis points of the sale price carved out of the fee. Must not exceed
	// FeeBps. The disbursed share is fee * DistributorShareBps / FeeBps.
	DistributorShareBps int64

	// ProtocolAccount receives the fee remainder.
	ProtocolAccount common.Address

	// DistributorAccount receives the distributor share.
	DistributorAccount common.Address
}

// Validate checks the fee schedule for internally consistent values.
func (c FeeConfig) Validate() error {
	if c.FeeBps < 0 || c.FeeBps > domain.BpsDenominator {
		return domain.ErrBadParameters
	}
	if c.DistributorShareBps < 0 || c.DistributorShareBps > c.FeeBps {
		return domain.ErrBadParameters
	}
	return nil
}

// settleInput carries the identity of one sale into the splitter.
type settleInput struct {
	Currency   common.Address
	Seller     common.Address
	Collection common.Address
	AssetID    string
	Price      *big.Int
}

// PayoutSplitter computes and disburses the royalty, protocol-fee,
// distributor-share, and seller-remainder portions of a sale price.
//
// All division truncates toward zero. The split is exact: royalty +
// distributor share + protocol share + seller remainder always equals the
// price, because each truncation remainder flows into the next residual
// rather than being distributed on its own. The fee is carved out first and
// the royalty is bounded by what remains, so the seller remainder is never
// negative and the disbursed total never exceeds the price.
type PayoutSplitter struct {
	currency CurrencyPort
	royalty  RoyaltyQuery
	credits  *CreditLedger
}

// NewPayoutSplitter wires a splitter over its collaborators. royalty may be
// nil when no royalty query is deployed.
func NewPayoutSplitter(currency CurrencyPort, royalty RoyaltyQuery, credits *CreditLedger) *PayoutSplitter {
	return &PayoutSplitter{currency: currency, royalty: royalty, credits: credits}
}

// Settle carves the fee out of the price, bounds the royalty by what
// remains, and leaves the rest to the seller. Disbursement runs in fixed
// order: royalty, distributor share, protocol remainder, seller remainder.
// Every disbursement is push-with-fallback: a failed push becomes a credit-ledger
// entry instead of aborting the settlement, so a single bad recipient can
// never block a sale. Settle therefore has no error return.
func (p *PayoutSplitter) Settle(ctx context.Context, cfg FeeConfig, in settleInput) (domain.Settlement, []CreditNote) {
	price := new(big.Int).Set(in.Price)

	s := domain.Settlement{
		Price:            price,
		Currency:         in.Currency,
		RoyaltyAmount:    new(big.Int),
		FeeAmount:        new(big.Int),
		DistributorShare: new(big.Int),
		ProtocolShare:    new(big.Int),
		SellerProceeds:   new(big.Int),
	}
	var notes []CreditNote

	// Step 1: fee, split between distributor and protocol. The distributor
	// share truncates toward zero; the protocol takes the fee remainder.
	s.FeeAmount = domain.MulBps(price, cfg.FeeBps)
	if cfg.FeeBps > 0 && cfg.DistributorShareBps > 0 {
		share := new(big.Int).Mul(s.FeeAmount, big.NewInt(cfg.DistributorShareBps))
		s.DistributorShare = share.Quo(share, big.NewInt(cfg.FeeBps))
	}
	s.ProtocolShare = new(big.Int).Sub(s.FeeAmount, s.DistributorShare)

	// Step 2: royalty, clamped to what the fee leaves behind so the split
	// never disburses more than the price. A royalty query failure is
	// treated as no royalty declared: fund delivery may degrade, custody
	// settlement must not.
	if p.royalty != nil {
		receiver, amount, err := p.royalty.RoyaltyInfo(ctx, in.Collection, in.AssetID, price)
		if err == nil && amount != nil && amount.Sign() > 0 && receiver != (common.Address{}) {
			limit := new(big.Int).Sub(price, s.FeeAmount)
			if amount.Cmp(limit) > 0 {
				amount = limit
			}
			if amount.Sign() > 0 {
				s.RoyaltyReceiver = receiver
				s.RoyaltyAmount = new(big.Int).Set(amount)
			}
		}
	}

	// Step 3: seller remainder.
	s.SellerProceeds.Sub(price, s.RoyaltyAmount)
	s.SellerProceeds.Sub(s.SellerProceeds, s.FeeAmount)

	notes = p.payOrCredit(ctx, notes, in.Currency, s.RoyaltyReceiver, s.RoyaltyAmount, "royalty")
	notes = p.payOrCredit(ctx, notes, in.Currency, cfg.DistributorAccount, s.DistributorShare, "distributor_share")
	notes = p.payOrCredit(ctx, notes, in.Currency, cfg.ProtocolAccount, s.ProtocolShare, "protocol_fee")
	notes = p.payOrCredit(ctx, notes, in.Currency, in.Seller, s.SellerProceeds, "seller_proceeds")

	return s, notes
}

// payOrCredit attempts a push payment and degrades to a ledger credit on
// failure, appending a note either way the amount moved off-book.
func (p *PayoutSplitter) payOrCredit(ctx context.Context, notes []CreditNote, currency, to common.Address, amount *big.Int, reason string) []CreditNote {
	if amount == nil || amount.Sign() <= 0 {
		return notes
	}
	if err := p.currency.Pay(ctx, currency, to, amount); err != nil {
		p.credits.Credit(currency, to, amount)
		notes = append(notes, CreditNote{
			Currency: currency,
			Account:  to,
			Amount:   new(big.Int).Set(amount),
			Reason:   reason,
		})
	}
	return notes
}
