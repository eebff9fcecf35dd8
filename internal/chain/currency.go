package chain

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/mintbay/marketd/internal/domain"
)

// Treasury moves funds in and out of the operator account. Native currency
// moves as plain value transfers; token currencies move via ERC-20 transfer
// and transferFrom calls. It implements the engine's currency port.
type Treasury struct {
	client *Client
	logger *slog.Logger
}

// NewTreasury returns a Treasury bound to client.
func NewTreasury(client *Client, logger *slog.Logger) *Treasury {
	return &Treasury{
		client: client,
		logger: logger.With(slog.String("component", "chain.treasury")),
	}
}

// Collect pulls amount of the token currency from payer into the operator
// account via transferFrom. Native-currency payments arrive attached to the
// caller's own transaction, so for the native currency Collect is a no-op.
func (tr *Treasury) Collect(ctx context.Context, currency common.Address, payer common.Address, amount *big.Int) error {
	if domain.IsNative(currency) {
		return nil
	}

	data := pack(selTransferFrom,
		wordAddress(payer),
		wordAddress(tr.client.Operator()),
		wordBig(amount),
	)
	if err := tr.sendERC20(ctx, currency, data); err != nil {
		return fmt.Errorf("chain: collecting %s from %s: %w", amount, payer.Hex(), err)
	}
	return nil
}

// Pay pushes amount from the operator account to the recipient. For the
// native currency this is a plain value transfer with empty calldata.
func (tr *Treasury) Pay(ctx context.Context, currency common.Address, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return nil
	}

	if domain.IsNative(currency) {
		if _, err := tr.client.SendAndWait(ctx, to, amount, nil); err != nil {
			return fmt.Errorf("chain: paying %s native to %s: %w", amount, to.Hex(), err)
		}
		return nil
	}

	data := pack(selTransfer,
		wordAddress(to),
		wordBig(amount),
	)
	if err := tr.sendERC20(ctx, currency, data); err != nil {
		return fmt.Errorf("chain: paying %s of %s to %s: %w", amount, currency.Hex(), to.Hex(), err)
	}
	return nil
}

// sendERC20 simulates an ERC-20 call, checks its boolean result, then
// submits it. Tokens that return no data on success (a common deviation from
// the standard) are accepted; a simulated false means the transfer would be
// a silent no-op, so it is rejected before any gas is spent.
func (tr *Treasury) sendERC20(ctx context.Context, token common.Address, data []byte) error {
	out, err := tr.client.Call(ctx, token, data)
	if err != nil {
		return err
	}
	if len(out) > 0 && !unpackBool(out) {
		return fmt.Errorf("chain: token %s returned false", token.Hex())
	}

	_, err = tr.client.SendAndWait(ctx, token, nil, data)
	return err
}
