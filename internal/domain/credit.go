package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// CreditKey identifies a pending balance in the pull-payment ledger.
type CreditKey struct {
	Currency common.Address
	Account  common.Address
}

// CreditEntry is a pending balance owed to an account in one currency.
// Amounts are only ever increased by failed push payments and zeroed by a
// successful withdrawal.
type CreditEntry struct {
	Currency  common.Address
	Account   common.Address
	Amount    *big.Int
	UpdatedAt time.Time
}

// Key returns the ledger key for this entry.
func (c CreditEntry) Key() CreditKey {
	return CreditKey{Currency: c.Currency, Account: c.Account}
}
