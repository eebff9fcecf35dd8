// Package market implements the marketplace settlement engine: escrowed
// fixed-price listings, timed ascending auctions, exact proportional payout
// splitting, and a pull-payment credit ledger, behind a single locking
// discipline.
//
// The engine is deterministic and single-threaded: callers must serialize
// access (the service layer does). External transfers are reached only
// through the port interfaces below, and every public operation is protected
// by a reentrancy guard so a malicious port callback cannot re-enter.
package market

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/mintbay/marketd/internal/domain"
)

// AssetTransferPort moves assets between accounts under one of the two
// supported transfer standards. A non-nil error means the underlying
// protocol rejected the move; partial transfers do not occur.
type AssetTransferPort interface {
	Transfer(ctx context.Context, standard domain.Standard, collection common.Address, assetID string, quantity uint64, from, to common.Address) error
}

// CurrencyPort collects and disburses funds in the native currency or a
// token currency.
type CurrencyPort interface {
	// Collect pulls amount from payer into the engine's custody. For the
	// native currency the attached value accompanying the call is the
	// payment and no pull occurs; for token currencies attached must be nil
	// or zero and exactly amount is pulled via transfer-from.
	Collect(ctx context.Context, currency common.Address, payer common.Address, amount *big.Int) error

	// Pay pushes amount from the engine's custody to the recipient.
	Pay(ctx context.Context, currency common.Address, to common.Address, amount *big.Int) error
}

// StolenAssetGate answers whether an asset is flagged as stolen, OR'd over
// collection-level and asset-level flags. Checked at creation and again at
// the moment of settlement.
type StolenAssetGate interface {
	IsFlagged(ctx context.Context, collection common.Address, assetID string) (bool, error)
}

// AccessGate provides role predicates for administrative operations.
type AccessGate interface {
	IsAdmin(ctx context.Context, account common.Address) bool
	IsPauser(ctx context.Context, account common.Address) bool
	IsConfigAdmin(ctx context.Context, account common.Address) bool
}

// RoyaltyQuery resolves per-collection royalty terms. Collections without
// royalty terms return a zero receiver and nil amount. The returned amount
// is clamped by the engine to at most the sale price.
type RoyaltyQuery interface {
	RoyaltyInfo(ctx context.Context, collection common.Address, assetID string, price *big.Int) (common.Address, *big.Int, error)
}
