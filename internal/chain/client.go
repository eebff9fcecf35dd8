// Package chain contains the on-chain adapters behind the engine's port
// interfaces: asset transfers, currency movement, the stolen-asset and access
// registries, and EIP-2981 royalty lookup. Calldata is packed by hand from
// pre-computed selectors; no generated bindings.
package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// receiptPollInterval is how often SendAndWait polls for a mined receipt.
const receiptPollInterval = 2 * time.Second

// Client wraps an Ethereum JSON-RPC connection together with the operator
// key that signs all settlement transactions. The operator address doubles
// as the escrow vault: assets and collected funds are held by it between
// escrow-in and settlement.
type Client struct {
	eth      *ethclient.Client
	chainID  *big.Int
	key      *ecdsa.PrivateKey
	operator common.Address
	logger   *slog.Logger
}

// Dial connects to the JSON-RPC endpoint and binds the hex-encoded operator
// private key.
func Dial(ctx context.Context, rpcURL string, chainID int64, operatorKeyHex string, logger *slog.Logger) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dialing %s: %w", rpcURL, err)
	}

	key, err := ethcrypto.HexToECDSA(strings.TrimPrefix(operatorKeyHex, "0x"))
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("chain: invalid operator key: %w", err)
	}

	return &Client{
		eth:      eth,
		chainID:  big.NewInt(chainID),
		key:      key,
		operator: ethcrypto.PubkeyToAddress(key.PublicKey),
		logger:   logger.With(slog.String("component", "chain")),
	}, nil
}

// Operator returns the address derived from the operator key. The engine
// uses it as the vault account.
func (c *Client) Operator() common.Address {
	return c.operator
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	c.eth.Close()
}

// Call performs a read-only eth_call against the contract at to with the
// given packed calldata and returns the raw return data.
func (c *Client) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	msg := ethereum.CallMsg{
		From: c.operator,
		To:   &to,
		Data: data,
	}
	out, err := c.eth.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, fmt.Errorf("chain: call to %s: %w", to.Hex(), err)
	}
	return out, nil
}

// SendAndWait signs and broadcasts a transaction to the contract at to with
// the given value and calldata, then blocks until the transaction is mined.
// A mined-but-reverted transaction is returned as an error.
func (c *Client) SendAndWait(ctx context.Context, to common.Address, value *big.Int, data []byte) (*types.Receipt, error) {
	nonce, err := c.eth.PendingNonceAt(ctx, c.operator)
	if err != nil {
		return nil, fmt.Errorf("chain: fetching nonce: %w", err)
	}

	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain: fetching gas price: %w", err)
	}

	if value == nil {
		value = new(big.Int)
	}
	gas, err := c.eth.EstimateGas(ctx, ethereum.CallMsg{
		From:     c.operator,
		To:       &to,
		Value:    value,
		Data:     data,
		GasPrice: gasPrice,
	})
	if err != nil {
		return nil, fmt.Errorf("chain: estimating gas for %s: %w", to.Hex(), err)
	}

	tx := types.NewTransaction(nonce, to, value, gas, gasPrice, data)
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return nil, fmt.Errorf("chain: signing tx: %w", err)
	}

	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("chain: broadcasting tx: %w", err)
	}

	c.logger.Debug("transaction sent",
		slog.String("hash", signed.Hash().Hex()),
		slog.String("to", to.Hex()),
		slog.Uint64("nonce", nonce),
	)

	receipt, err := c.waitMined(ctx, signed.Hash())
	if err != nil {
		return nil, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("chain: tx %s reverted", signed.Hash().Hex())
	}
	return receipt, nil
}

// waitMined polls for the receipt of hash until it appears or ctx expires.
func (c *Client) waitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.eth.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if err != ethereum.NotFound {
			return nil, fmt.Errorf("chain: fetching receipt for %s: %w", hash.Hex(), err)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("chain: waiting for tx %s: %w", hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}
