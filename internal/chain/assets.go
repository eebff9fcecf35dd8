package chain

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/mintbay/marketd/internal/domain"
)

// Transferor moves NFTs between accounts by submitting safeTransferFrom
// transactions signed with the operator key. It implements the engine's
// asset transfer port.
type Transferor struct {
	client *Client
	logger *slog.Logger
}

// NewTransferor returns a Transferor bound to client.
func NewTransferor(client *Client, logger *slog.Logger) *Transferor {
	return &Transferor{
		client: client,
		logger: logger.With(slog.String("component", "chain.transferor")),
	}
}

// Transfer moves quantity units of the asset from from to to under the given
// transfer standard. For single-unit assets quantity must be 1 and the
// quantity argument is not encoded.
func (t *Transferor) Transfer(ctx context.Context, standard domain.Standard, collection common.Address, assetID string, quantity uint64, from, to common.Address) error {
	id, err := parseAssetID(assetID)
	if err != nil {
		return err
	}

	var data []byte
	switch standard {
	case domain.StandardSingle:
		data = pack(selSafeTransfer721,
			wordAddress(from),
			wordAddress(to),
			wordBig(id),
		)
	case domain.StandardMulti:
		// Head: from, to, id, amount, offset of bytes arg. Tail: empty bytes.
		data = pack(selSafeTransfer1155,
			wordAddress(from),
			wordAddress(to),
			wordBig(id),
			wordUint64(quantity),
			wordUint64(160),
			emptyBytesTail(),
		)
	default:
		return fmt.Errorf("chain: unsupported transfer standard %q", standard)
	}

	if _, err := t.client.SendAndWait(ctx, collection, nil, data); err != nil {
		t.logger.Error("asset transfer failed",
			slog.String("collection", collection.Hex()),
			slog.String("asset_id", assetID),
			slog.String("from", from.Hex()),
			slog.String("to", to.Hex()),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("chain: transferring %s/%s: %w", collection.Hex(), assetID, err)
	}
	return nil
}
