package market

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/mintbay/marketd/internal/domain"
)

// CreditNote reports a credit-ledger entry issued during an operation, for
// event emission by the caller.
type CreditNote struct {
	Currency common.Address
	Account  common.Address
	Amount   *big.Int
	Reason   string
}

// CreditLedger is the per-(currency, account) pending-balance table backing
// pull payments. Balances only grow through Credit and are zeroed by a
// withdrawal; withdrawal rollback on payment failure is the caller's job.
type CreditLedger struct {
	balances map[domain.CreditKey]*big.Int
}

// NewCreditLedger creates an empty ledger.
func NewCreditLedger() *CreditLedger {
	return &CreditLedger{balances: make(map[domain.CreditKey]*big.Int)}
}

// Credit adds amount to the pending balance. Additive, never overwrites.
// Zero or nil amounts are ignored.
func (l *CreditLedger) Credit(currency, account common.Address, amount *big.Int) {
	if amount == nil || amount.Sign() <= 0 {
		return
	}
	key := domain.CreditKey{Currency: currency, Account: account}
	if cur, ok := l.balances[key]; ok {
		cur.Add(cur, amount)
		return
	}
	l.balances[key] = new(big.Int).Set(amount)
}

// BalanceOf returns the pending balance, zero if none.
func (l *CreditLedger) BalanceOf(currency, account common.Address) *big.Int {
	if cur, ok := l.balances[domain.CreditKey{Currency: currency, Account: account}]; ok {
		return new(big.Int).Set(cur)
	}
	return new(big.Int)
}

// Take zeroes and returns the pending balance. Effects before interactions:
// the caller attempts payment only after the balance is gone, and restores
// it with Credit if the payment fails.
func (l *CreditLedger) Take(currency, account common.Address) *big.Int {
	key := domain.CreditKey{Currency: currency, Account: account}
	cur, ok := l.balances[key]
	if !ok {
		return new(big.Int)
	}
	delete(l.balances, key)
	return cur
}

// Entries returns a snapshot of all pending balances.
func (l *CreditLedger) Entries() []domain.CreditEntry {
	out := make([]domain.CreditEntry, 0, len(l.balances))
	for key, amt := range l.balances {
		out = append(out, domain.CreditEntry{
			Currency: key.Currency,
			Account:  key.Account,
			Amount:   new(big.Int).Set(amt),
		})
	}
	return out
}
