package chain

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Role identifiers, keccak256 of the role name, matching the access registry
// contract's constants.
var (
	roleAdmin       = ethcrypto.Keccak256([]byte("MARKET_ADMIN_ROLE"))
	rolePauser      = ethcrypto.Keccak256([]byte("PAUSER_ROLE"))
	roleConfigAdmin = ethcrypto.Keccak256([]byte("CONFIG_ADMIN_ROLE"))
)

// StolenRegistry answers stolen-asset queries against an on-chain registry
// contract. It implements the engine's stolen-asset gate.
type StolenRegistry struct {
	client   *Client
	registry common.Address
	logger   *slog.Logger
}

// NewStolenRegistry returns a StolenRegistry backed by the contract at
// registry.
func NewStolenRegistry(client *Client, registry common.Address, logger *slog.Logger) *StolenRegistry {
	return &StolenRegistry{
		client:   client,
		registry: registry,
		logger:   logger.With(slog.String("component", "chain.stolen_registry")),
	}
}

// IsFlagged reports whether the asset or its whole collection is flagged.
// Registry call failures propagate so settlement can refuse to proceed on an
// unverifiable asset.
func (r *StolenRegistry) IsFlagged(ctx context.Context, collection common.Address, assetID string) (bool, error) {
	out, err := r.client.Call(ctx, r.registry, pack(selIsCollectionFlagged, wordAddress(collection)))
	if err != nil {
		return false, fmt.Errorf("chain: querying collection flag: %w", err)
	}
	if unpackBool(out) {
		return true, nil
	}

	id, err := parseAssetID(assetID)
	if err != nil {
		return false, err
	}
	out, err = r.client.Call(ctx, r.registry, pack(selIsFlagged, wordAddress(collection), wordBig(id)))
	if err != nil {
		return false, fmt.Errorf("chain: querying asset flag: %w", err)
	}
	return unpackBool(out), nil
}

// AccessRegistry answers role queries against an on-chain access control
// contract. It implements the engine's access gate. Lookup failures read as
// no-role: administrative operations fail closed.
type AccessRegistry struct {
	client   *Client
	registry common.Address
	logger   *slog.Logger
}

// NewAccessRegistry returns an AccessRegistry backed by the contract at
// registry.
func NewAccessRegistry(client *Client, registry common.Address, logger *slog.Logger) *AccessRegistry {
	return &AccessRegistry{
		client:   client,
		registry: registry,
		logger:   logger.With(slog.String("component", "chain.access_registry")),
	}
}

func (r *AccessRegistry) IsAdmin(ctx context.Context, account common.Address) bool {
	return r.hasRole(ctx, roleAdmin, account)
}

func (r *AccessRegistry) IsPauser(ctx context.Context, account common.Address) bool {
	return r.hasRole(ctx, rolePauser, account)
}

func (r *AccessRegistry) IsConfigAdmin(ctx context.Context, account common.Address) bool {
	return r.hasRole(ctx, roleConfigAdmin, account)
}

func (r *AccessRegistry) hasRole(ctx context.Context, role []byte, account common.Address) bool {
	out, err := r.client.Call(ctx, r.registry, pack(selHasRole, role, wordAddress(account)))
	if err != nil {
		r.logger.Warn("role lookup failed, denying",
			slog.String("account", account.Hex()),
			slog.String("error", err.Error()),
		)
		return false
	}
	return unpackBool(out)
}
