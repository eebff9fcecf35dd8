package market

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/mintbay/marketd/internal/domain"
)

// Test accounts.
var (
	seller      = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	sellerTwo   = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	buyer       = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	bidderOne   = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	bidderTwo   = common.HexToAddress("0x00000000000000000000000000000000000000c2")
	royaltyRcv  = common.HexToAddress("0x00000000000000000000000000000000000000d1")
	protocolAcc = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	distribAcc  = common.HexToAddress("0x00000000000000000000000000000000000000e2")
	vaultAcc    = common.HexToAddress("0x00000000000000000000000000000000000000f1")
	adminAcc    = common.HexToAddress("0x00000000000000000000000000000000000000f2")
	collection  = common.HexToAddress("0x0000000000000000000000000000000000000c01")
	tokenCur    = common.HexToAddress("0x0000000000000000000000000000000000000e99")
)

var errRejected = errors.New("rejected")

func assetKey(collection common.Address, assetID string) string {
	return collection.Hex() + "/" + assetID
}

// memAssets is an in-memory AssetTransferPort covering both standards.
type memAssets struct {
	owner      map[string]common.Address            // single-unit ownership
	balance    map[string]map[common.Address]uint64 // multi-unit balances
	rejectNext int
	onTransfer func(from, to common.Address) // reentrancy hook, runs after the move
}

func newMemAssets() *memAssets {
	return &memAssets{
		owner:   make(map[string]common.Address),
		balance: make(map[string]map[common.Address]uint64),
	}
}

func (m *memAssets) mintSingle(collection common.Address, assetID string, owner common.Address) {
	m.owner[assetKey(collection, assetID)] = owner
}

func (m *memAssets) mintMulti(collection common.Address, assetID string, owner common.Address, qty uint64) {
	key := assetKey(collection, assetID)
	if m.balance[key] == nil {
		m.balance[key] = make(map[common.Address]uint64)
	}
	m.balance[key][owner] += qty
}

func (m *memAssets) Transfer(ctx context.Context, standard domain.Standard, collection common.Address, assetID string, quantity uint64, from, to common.Address) error {
	if m.rejectNext > 0 {
		m.rejectNext--
		return errRejected
	}
	key := assetKey(collection, assetID)
	switch standard {
	case domain.StandardSingle:
		if m.owner[key] != from {
			return fmt.Errorf("not owner of %s", key)
		}
		m.owner[key] = to
	case domain.StandardMulti:
		if m.balance[key][from] < quantity {
			return fmt.Errorf("insufficient balance of %s", key)
		}
		m.balance[key][from] -= quantity
		m.balance[key][to] += quantity
	default:
		return fmt.Errorf("unknown standard %q", standard)
	}
	if m.onTransfer != nil {
		m.onTransfer(from, to)
	}
	return nil
}

// memCurrency is an in-memory CurrencyPort with per-currency flow tallies
// for conservation checks.
type memCurrency struct {
	collected map[common.Address]*big.Int
	paid      map[common.Address]*big.Int
	reject    map[common.Address]bool // recipients rejecting push payments
	failFrom  map[common.Address]bool // payers whose pulls fail
	onPay     func(to common.Address, amount *big.Int) // reentrancy hook
}

func newMemCurrency() *memCurrency {
	return &memCurrency{
		collected: make(map[common.Address]*big.Int),
		paid:      make(map[common.Address]*big.Int),
		reject:    make(map[common.Address]bool),
		failFrom:  make(map[common.Address]bool),
	}
}

func (m *memCurrency) add(tab map[common.Address]*big.Int, currency common.Address, amount *big.Int) {
	if tab[currency] == nil {
		tab[currency] = new(big.Int)
	}
	tab[currency].Add(tab[currency], amount)
}

func (m *memCurrency) Collect(ctx context.Context, currency, payer common.Address, amount *big.Int) error {
	if m.failFrom[payer] {
		return errRejected
	}
	m.add(m.collected, currency, amount)
	return nil
}

func (m *memCurrency) Pay(ctx context.Context, currency, to common.Address, amount *big.Int) error {
	if m.onPay != nil {
		m.onPay(to, amount)
	}
	if m.reject[to] {
		return errRejected
	}
	m.add(m.paid, currency, amount)
	return nil
}

// memStolen is an in-memory StolenAssetGate. A collection-level flag is
// stored under the empty asset id.
type memStolen struct {
	flagged map[string]bool
	err     error
}

func newMemStolen() *memStolen {
	return &memStolen{flagged: make(map[string]bool)}
}

func (m *memStolen) flag(collection common.Address, assetID string) {
	m.flagged[assetKey(collection, assetID)] = true
}

func (m *memStolen) IsFlagged(ctx context.Context, collection common.Address, assetID string) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	// Collection-level flag is the empty asset id, OR'd with the asset flag.
	return m.flagged[assetKey(collection, "")] || m.flagged[assetKey(collection, assetID)], nil
}

type memAccess struct {
	admins  map[common.Address]bool
	pausers map[common.Address]bool
	config  map[common.Address]bool
}

func newMemAccess(admin common.Address) *memAccess {
	return &memAccess{
		admins:  map[common.Address]bool{admin: true},
		pausers: map[common.Address]bool{admin: true},
		config:  map[common.Address]bool{admin: true},
	}
}

func (m *memAccess) IsAdmin(ctx context.Context, a common.Address) bool       { return m.admins[a] }
func (m *memAccess) IsPauser(ctx context.Context, a common.Address) bool      { return m.pausers[a] }
func (m *memAccess) IsConfigAdmin(ctx context.Context, a common.Address) bool { return m.config[a] }

// memRoyalty declares a flat basis-point royalty for every asset.
type memRoyalty struct {
	receiver common.Address
	bps      int64
	err      error
}

func (m *memRoyalty) RoyaltyInfo(ctx context.Context, collection common.Address, assetID string, price *big.Int) (common.Address, *big.Int, error) {
	if m.err != nil {
		return common.Address{}, nil, m.err
	}
	if m.bps == 0 {
		return common.Address{}, nil, nil
	}
	return m.receiver, domain.MulBps(price, m.bps), nil
}

// fixture bundles a core with its fakes and a controllable clock.
type fixture struct {
	core     *Core
	assets   *memAssets
	currency *memCurrency
	stolen   *memStolen
	access   *memAccess
	royalty  *memRoyalty
	now      time.Time
}

func (f *fixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

// defaultFees matches the documented split example: 2.5% fee of which 15
// bps of price goes to the distributor.
func defaultFees() FeeConfig {
	return FeeConfig{
		FeeBps:              250,
		DistributorShareBps: 15,
		ProtocolAccount:     protocolAcc,
		DistributorAccount:  distribAcc,
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		assets:   newMemAssets(),
		currency: newMemCurrency(),
		stolen:   newMemStolen(),
		access:   newMemAccess(adminAcc),
		royalty:  &memRoyalty{receiver: royaltyRcv, bps: 500},
		now:      time.Unix(1_700_000_000, 0),
	}
	core, err := NewCore(f.assets, f.currency, f.stolen, f.access, f.royalty, Options{
		VaultAccount:      vaultAcc,
		Fees:              defaultFees(),
		AntiSnipeWindow:   300 * time.Second,
		AllowedCurrencies: []common.Address{tokenCur},
	})
	if err != nil {
		t.Fatalf("new core: %v", err)
	}
	core.WithClock(func() time.Time { return f.now })
	f.core = core
	return f
}

// listSingle creates a native-currency listing of a freshly minted
// single-unit asset and returns it.
func (f *fixture) listSingle(t *testing.T, assetID string, price int64) domain.Listing {
	t.Helper()
	f.assets.mintSingle(collection, assetID, seller)
	l, err := f.core.CreateListing(context.Background(), CreateListingParams{
		Seller:     seller,
		Collection: collection,
		AssetID:    assetID,
		Quantity:   1,
		Standard:   domain.StandardSingle,
		Currency:   domain.NativeCurrency,
		Price:      big.NewInt(price),
	})
	if err != nil {
		t.Fatalf("create listing: %v", err)
	}
	return l
}

// auctionSingle creates a token-currency auction over a freshly minted
// single-unit asset, open for the given duration.
func (f *fixture) auctionSingle(t *testing.T, assetID string, startPrice, minIncrement int64, d time.Duration) domain.Auction {
	t.Helper()
	f.assets.mintSingle(collection, assetID, seller)
	a, err := f.core.CreateAuction(context.Background(), CreateAuctionParams{
		Seller:       seller,
		Collection:   collection,
		AssetID:      assetID,
		Quantity:     1,
		Standard:     domain.StandardSingle,
		Currency:     tokenCur,
		StartPrice:   big.NewInt(startPrice),
		MinIncrement: big.NewInt(minIncrement),
		EndTime:      f.now.Add(d),
	})
	if err != nil {
		t.Fatalf("create auction: %v", err)
	}
	return a
}
