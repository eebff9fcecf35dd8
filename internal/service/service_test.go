package service

import (
	"context"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/mintbay/marketd/internal/domain"
	"github.com/mintbay/marketd/internal/market"
)

var (
	svcSeller   = common.HexToAddress("0x00000000000000000000000000000000000000s1")
	svcBuyer    = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	svcAdmin    = common.HexToAddress("0x00000000000000000000000000000000000000ad")
	svcVault    = common.HexToAddress("0x00000000000000000000000000000000000000fa")
	svcProtocol = common.HexToAddress("0x00000000000000000000000000000000000000fe")
	svcColl     = common.HexToAddress("0x00000000000000000000000000000000000000cc")
)

// ---------------------------------------------------------------------------
// Engine port fakes
// ---------------------------------------------------------------------------

type okAssets struct{ transfers int }

func (a *okAssets) Transfer(ctx context.Context, standard domain.Standard, collection common.Address, assetID string, quantity uint64, from, to common.Address) error {
	a.transfers++
	return nil
}

type okCurrency struct{ paid int }

func (c *okCurrency) Collect(ctx context.Context, currency, payer common.Address, amount *big.Int) error {
	return nil
}

func (c *okCurrency) Pay(ctx context.Context, currency, to common.Address, amount *big.Int) error {
	c.paid++
	return nil
}

type okStolen struct{}

func (okStolen) IsFlagged(ctx context.Context, collection common.Address, assetID string) (bool, error) {
	return false, nil
}

type adminAccess struct{}

func (adminAccess) IsAdmin(ctx context.Context, a common.Address) bool       { return a == svcAdmin }
func (adminAccess) IsPauser(ctx context.Context, a common.Address) bool      { return a == svcAdmin }
func (adminAccess) IsConfigAdmin(ctx context.Context, a common.Address) bool { return a == svcAdmin }

// ---------------------------------------------------------------------------
// Store and bus fakes
// ---------------------------------------------------------------------------

type memListingStore struct {
	mu      sync.Mutex
	rows    map[uint64]domain.Listing
	creates int
	updates int
}

func newMemListingStore() *memListingStore {
	return &memListingStore{rows: make(map[uint64]domain.Listing)}
}

func (m *memListingStore) Create(ctx context.Context, l domain.Listing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[l.ID] = l
	m.creates++
	return nil
}

func (m *memListingStore) Update(ctx context.Context, l domain.Listing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[l.ID]; !ok {
		return domain.ErrNotFound
	}
	m.rows[l.ID] = l
	m.updates++
	return nil
}

func (m *memListingStore) GetByID(ctx context.Context, id uint64) (domain.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.rows[id]
	if !ok {
		return domain.Listing{}, domain.ErrNotFound
	}
	return l, nil
}

func (m *memListingStore) ListActive(ctx context.Context, opts domain.ListOpts) ([]domain.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Listing
	for _, l := range m.rows {
		if l.Active {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *memListingStore) ListBySeller(ctx context.Context, seller common.Address, opts domain.ListOpts) ([]domain.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Listing
	for _, l := range m.rows {
		if l.Seller == seller {
			out = append(out, l)
		}
	}
	return out, nil
}

type memAuctionStore struct {
	mu   sync.Mutex
	rows map[uint64]domain.Auction
}

func newMemAuctionStore() *memAuctionStore {
	return &memAuctionStore{rows: make(map[uint64]domain.Auction)}
}

func (m *memAuctionStore) Create(ctx context.Context, a domain.Auction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[a.ID] = a
	return nil
}

func (m *memAuctionStore) Update(ctx context.Context, a domain.Auction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[a.ID]; !ok {
		return domain.ErrNotFound
	}
	m.rows[a.ID] = a
	return nil
}

func (m *memAuctionStore) GetByID(ctx context.Context, id uint64) (domain.Auction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.rows[id]
	if !ok {
		return domain.Auction{}, domain.ErrNotFound
	}
	return a, nil
}

func (m *memAuctionStore) ListOpen(ctx context.Context, opts domain.ListOpts) ([]domain.Auction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Auction
	for _, a := range m.rows {
		if !a.Settled {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memAuctionStore) ListBySeller(ctx context.Context, seller common.Address, opts domain.ListOpts) ([]domain.Auction, error) {
	return nil, nil
}

type memCreditStore struct {
	mu   sync.Mutex
	rows map[domain.CreditKey]domain.CreditEntry
}

func newMemCreditStore() *memCreditStore {
	return &memCreditStore{rows: make(map[domain.CreditKey]domain.CreditEntry)}
}

func (m *memCreditStore) Upsert(ctx context.Context, c domain.CreditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[c.Key()] = c
	return nil
}

func (m *memCreditStore) Get(ctx context.Context, currency, account common.Address) (domain.CreditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.rows[domain.CreditKey{Currency: currency, Account: account}]
	if !ok {
		return domain.CreditEntry{}, domain.ErrNotFound
	}
	return e, nil
}

func (m *memCreditStore) ListByAccount(ctx context.Context, account common.Address) ([]domain.CreditEntry, error) {
	return nil, nil
}

func (m *memCreditStore) ListPending(ctx context.Context) ([]domain.CreditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.CreditEntry
	for _, e := range m.rows {
		if e.Amount != nil && e.Amount.Sign() > 0 {
			out = append(out, e)
		}
	}
	return out, nil
}

type memEventStore struct {
	mu   sync.Mutex
	rows []domain.MarketEvent
}

func (m *memEventStore) Append(ctx context.Context, evts []domain.MarketEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, evts...)
	return nil
}

func (m *memEventStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.MarketEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.MarketEvent(nil), m.rows...), nil
}

func (m *memEventStore) ListByAsset(ctx context.Context, collection common.Address, assetID string, opts domain.ListOpts) ([]domain.MarketEvent, error) {
	return m.List(ctx, opts)
}

func (m *memEventStore) byType(t domain.EventType) []domain.MarketEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.MarketEvent
	for _, e := range m.rows {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type memAuditStore struct {
	mu     sync.Mutex
	events []string
}

func (m *memAuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *memAuditStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

type memBus struct {
	mu        sync.Mutex
	published [][]byte
	streamed  [][]byte
}

func (m *memBus) Publish(ctx context.Context, channel string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, payload)
	return nil
}

func (m *memBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte)
	close(ch)
	return ch, nil
}

func (m *memBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streamed = append(m.streamed, payload)
	return nil
}

func (m *memBus) StreamRead(ctx context.Context, stream, lastID string, count int) ([]domain.StreamMessage, error) {
	return nil, nil
}

type memCache struct {
	mu       sync.Mutex
	listings map[uint64]domain.Listing
	auctions map[uint64]domain.Auction
}

func newMemCache() *memCache {
	return &memCache{
		listings: make(map[uint64]domain.Listing),
		auctions: make(map[uint64]domain.Auction),
	}
}

func (m *memCache) SetListing(ctx context.Context, l domain.Listing, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listings[l.ID] = l
	return nil
}

func (m *memCache) GetListing(ctx context.Context, id uint64) (domain.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.listings[id]
	if !ok {
		return domain.Listing{}, domain.ErrNotFound
	}
	return l, nil
}

func (m *memCache) SetAuction(ctx context.Context, a domain.Auction, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.auctions[a.ID] = a
	return nil
}

func (m *memCache) GetAuction(ctx context.Context, id uint64) (domain.Auction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.auctions[id]
	if !ok {
		return domain.Auction{}, domain.ErrNotFound
	}
	return a, nil
}

func (m *memCache) Invalidate(ctx context.Context, listingID, auctionID uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.listings, listingID)
	delete(m.auctions, auctionID)
	return nil
}

type memLocks struct {
	mu       sync.Mutex
	acquires int
	releases int
	held     bool
}

func (m *memLocks) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held {
		return nil, domain.ErrLockHeld
	}
	m.acquires++
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.releases++
	}, nil
}

type memNotifier struct {
	mu     sync.Mutex
	events []string
}

func (m *memNotifier) Notify(ctx context.Context, event, title, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

// ---------------------------------------------------------------------------
// Fixture
// ---------------------------------------------------------------------------

type svcFixture struct {
	svc      *MarketService
	listings *memListingStore
	auctions *memAuctionStore
	credits  *memCreditStore
	events   *memEventStore
	audit    *memAuditStore
	bus      *memBus
	cache    *memCache
	locks    *memLocks
	notify   *memNotifier
	currency *okCurrency
	now      time.Time
}

func newSvcFixture(t *testing.T) *svcFixture {
	t.Helper()

	f := &svcFixture{
		listings: newMemListingStore(),
		auctions: newMemAuctionStore(),
		credits:  newMemCreditStore(),
		events:   &memEventStore{},
		audit:    &memAuditStore{},
		bus:      &memBus{},
		cache:    newMemCache(),
		locks:    &memLocks{},
		notify:   &memNotifier{},
		currency: &okCurrency{},
		now:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.build(t)
	return f
}

// build constructs a fresh engine and service over the fixture's stores.
func (f *svcFixture) build(t *testing.T) {
	t.Helper()

	core, err := market.NewCore(&okAssets{}, f.currency, okStolen{}, adminAccess{}, nil, market.Options{
		VaultAccount: svcVault,
		Fees: market.FeeConfig{
			FeeBps:              250,
			DistributorShareBps: 15,
			ProtocolAccount:     svcProtocol,
			DistributorAccount:  svcProtocol,
		},
		AntiSnipeWindow: 5 * time.Minute,
	})
	require.NoError(t, err)
	core.WithClock(func() time.Time { return f.now })

	f.svc = NewMarketService(Deps{
		Core:     core,
		Listings: f.listings,
		Auctions: f.auctions,
		Credits:  f.credits,
		Events:   f.events,
		Audit:    f.audit,
		Bus:      f.bus,
		Cache:    f.cache,
		Locks:    f.locks,
		Notify:   f.notify,
		Logger:   slog.New(slog.DiscardHandler),
	})
}

// restart swaps in a fresh empty engine over the same stores, the way a
// daemon restart does, and runs the startup reload.
func (f *svcFixture) restart(t *testing.T) {
	t.Helper()
	f.build(t)
	require.NoError(t, f.svc.Reload(context.Background()))
}

func (f *svcFixture) createListing(t *testing.T) domain.Listing {
	t.Helper()
	l, err := f.svc.CreateListing(context.Background(), market.CreateListingParams{
		Seller:     svcSeller,
		Collection: svcColl,
		AssetID:    "1",
		Quantity:   1,
		Standard:   domain.StandardSingle,
		Currency:   domain.NativeCurrency,
		Price:      big.NewInt(10_000),
	})
	require.NoError(t, err)
	return l
}
