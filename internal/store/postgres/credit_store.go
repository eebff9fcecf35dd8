package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mintbay/marketd/internal/domain"
)

// CreditStore mirrors the engine's pull-payment ledger into PostgreSQL for
// auditing. It implements domain.CreditStore.
type CreditStore struct {
	pool *pgxpool.Pool
}

// NewCreditStore creates a new CreditStore backed by the given pool.
func NewCreditStore(pool *pgxpool.Pool) *CreditStore {
	return &CreditStore{pool: pool}
}

// Upsert writes the current balance for one (currency, account) pair.
func (s *CreditStore) Upsert(ctx context.Context, c domain.CreditEntry) error {
	const query = `
		INSERT INTO credits (currency, account, amount, updated_at)
		VALUES ($1, $2, $3::numeric, NOW())
		ON CONFLICT (currency, account) DO UPDATE SET
			amount     = EXCLUDED.amount,
			updated_at = NOW()`

	_, err := s.pool.Exec(ctx, query,
		addrText(c.Currency), addrText(c.Account), numText(c.Amount),
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert credit %s/%s: %w",
			addrText(c.Currency), addrText(c.Account), err)
	}
	return nil
}

// Get fetches the stored balance for one pair.
func (s *CreditStore) Get(ctx context.Context, currency, account common.Address) (domain.CreditEntry, error) {
	const query = `
		SELECT currency, account, amount::text, updated_at
		FROM credits
		WHERE currency = $1 AND account = $2`

	e, err := scanCredit(s.pool.QueryRow(ctx, query, addrText(currency), addrText(account)))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.CreditEntry{}, fmt.Errorf("postgres: credit %s/%s: %w",
			addrText(currency), addrText(account), domain.ErrNotFound)
	}
	if err != nil {
		return domain.CreditEntry{}, fmt.Errorf("postgres: get credit: %w", err)
	}
	return e, nil
}

// ListByAccount returns every stored balance owed to account.
func (s *CreditStore) ListByAccount(ctx context.Context, account common.Address) ([]domain.CreditEntry, error) {
	const query = `
		SELECT currency, account, amount::text, updated_at
		FROM credits
		WHERE account = $1
		ORDER BY currency`

	rows, err := s.pool.Query(ctx, query, addrText(account))
	if err != nil {
		return nil, fmt.Errorf("postgres: query credits: %w", err)
	}
	defer rows.Close()

	var out []domain.CreditEntry
	for rows.Next() {
		e, err := scanCredit(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan credit: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListPending returns every nonzero stored balance. Used by the startup
// reload to rehydrate the engine ledger.
func (s *CreditStore) ListPending(ctx context.Context) ([]domain.CreditEntry, error) {
	const query = `
		SELECT currency, account, amount::text, updated_at
		FROM credits
		WHERE amount > 0
		ORDER BY currency, account`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: query pending credits: %w", err)
	}
	defer rows.Close()

	var out []domain.CreditEntry
	for rows.Next() {
		e, err := scanCredit(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan credit: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanCredit(row pgx.Row) (domain.CreditEntry, error) {
	var (
		e                 domain.CreditEntry
		currency, account string
		amount            *string
	)
	if err := row.Scan(&currency, &account, &amount, &e.UpdatedAt); err != nil {
		return domain.CreditEntry{}, err
	}
	e.Currency = textAddr(currency)
	e.Account = textAddr(account)
	var err error
	if e.Amount, err = textNum(amount); err != nil {
		return domain.CreditEntry{}, err
	}
	return e, nil
}
