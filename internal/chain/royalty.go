package chain

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// RoyaltyReader resolves royalty terms by calling royaltyInfo on the
// collection contract itself (EIP-2981). Collections that do not advertise
// the royalty interface resolve to no royalty. It implements the engine's
// royalty query port.
type RoyaltyReader struct {
	client *Client
	logger *slog.Logger
}

// NewRoyaltyReader returns a RoyaltyReader bound to client.
func NewRoyaltyReader(client *Client, logger *slog.Logger) *RoyaltyReader {
	return &RoyaltyReader{
		client: client,
		logger: logger.With(slog.String("component", "chain.royalty")),
	}
}

// RoyaltyInfo returns the royalty receiver and amount for selling assetID of
// collection at price. A collection without royalty support returns a zero
// receiver and nil amount with no error.
func (r *RoyaltyReader) RoyaltyInfo(ctx context.Context, collection common.Address, assetID string, price *big.Int) (common.Address, *big.Int, error) {
	supported, err := r.supportsRoyalty(ctx, collection)
	if err != nil {
		return common.Address{}, nil, err
	}
	if !supported {
		return common.Address{}, nil, nil
	}

	id, err := parseAssetID(assetID)
	if err != nil {
		return common.Address{}, nil, err
	}

	out, err := r.client.Call(ctx, collection, pack(selRoyaltyInfo, wordBig(id), wordBig(price)))
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("chain: querying royalty for %s/%s: %w", collection.Hex(), assetID, err)
	}
	if len(out) < 64 {
		return common.Address{}, nil, fmt.Errorf("chain: short royaltyInfo return (%d bytes)", len(out))
	}

	receiver := common.BytesToAddress(out[12:32])
	amount := new(big.Int).SetBytes(out[32:64])
	return receiver, amount, nil
}

// supportsRoyalty probes EIP-165 for the EIP-2981 interface id. A reverting
// probe (pre-165 contract) reads as unsupported.
func (r *RoyaltyReader) supportsRoyalty(ctx context.Context, collection common.Address) (bool, error) {
	arg := make([]byte, 32)
	copy(arg, royaltyInterfaceID[:])
	out, err := r.client.Call(ctx, collection, pack(selSupportsInterface, arg))
	if err != nil {
		r.logger.Debug("supportsInterface probe failed",
			slog.String("collection", collection.Hex()),
			slog.String("error", err.Error()),
		)
		return false, nil
	}
	return unpackBool(out), nil
}
