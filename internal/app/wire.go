package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/mintbay/marketd/internal/blob/s3"
	"github.com/mintbay/marketd/internal/cache/redis"
	"github.com/mintbay/marketd/internal/chain"
	"github.com/mintbay/marketd/internal/config"
	"github.com/mintbay/marketd/internal/crypto"
	"github.com/mintbay/marketd/internal/domain"
	"github.com/mintbay/marketd/internal/market"
	"github.com/mintbay/marketd/internal/notify"
	"github.com/mintbay/marketd/internal/service"
	"github.com/mintbay/marketd/internal/store/postgres"

	"github.com/ethereum/go-ethereum/common"
)

// Dependencies bundles everything the application modes need to operate. It
// is constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Chain
	Chain *chain.Client

	// Settlement engine and its service wrapper
	Core    *market.Core
	Service *service.MarketService

	// Stores
	Listings domain.ListingStore
	Auctions domain.AuctionStore
	Credits  domain.CreditStore
	Events   domain.EventStore
	Audit    domain.AuditStore

	// Redis
	Cache       domain.ListingCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Blob storage
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	// Notifications
	Notifier *notify.Notifier
}

// needsS3 returns true for modes that require object storage.
func needsS3(mode string) bool {
	switch mode {
	case "archive", "full":
		return true
	default:
		return false
	}
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Chain client ---
	keyHex, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    cfg.Chain.OperatorKey,
		EncryptedKeyPath: cfg.Chain.EncryptedKeyPath,
		KeyPassword:      cfg.Chain.KeyPassword,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("wire: operator key: %w", err)
	}

	chainClient, err := chain.Dial(ctx, cfg.Chain.RPCURL, cfg.Chain.ChainID, keyHex, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("wire: chain: %w", err)
	}
	closers = append(closers, chainClient.Close)
	deps.Chain = chainClient

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	eventStore := postgres.NewEventStore(pool)
	auditStore := postgres.NewAuditStore(pool)
	deps.Listings = postgres.NewListingStore(pool)
	deps.Auctions = postgres.NewAuctionStore(pool)
	deps.Credits = postgres.NewCreditStore(pool)
	deps.Events = eventStore
	deps.Audit = auditStore

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.Cache = redis.NewListingCache(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)

	// --- S3 blob storage (only for modes that need object storage) ---
	if needsS3(cfg.Mode) && cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)
		deps.Archiver = s3blob.NewArchiver(
			deps.BlobWriter,
			eventStore,
			auditStore,
			auditStore,
			cfg.Archive.Prefix,
		)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Settlement engine ---
	vault := chainClient.Operator()
	if cfg.Chain.VaultAccount != "" {
		vault = common.HexToAddress(cfg.Chain.VaultAccount)
	}

	royalty := chain.NewRoyaltyReader(chainClient, logger)

	// Without a stolen registry nothing is flagged; without an access
	// registry every administrative call is denied.
	var stolen market.StolenAssetGate = openStolenGate{}
	var access market.AccessGate = closedAccessGate{}
	if cfg.Chain.StolenRegistry != "" {
		stolen = chain.NewStolenRegistry(chainClient, common.HexToAddress(cfg.Chain.StolenRegistry), logger)
	}
	if cfg.Chain.AccessRegistry != "" {
		access = chain.NewAccessRegistry(chainClient, common.HexToAddress(cfg.Chain.AccessRegistry), logger)
	}

	core, err := market.NewCore(
		chain.NewTransferor(chainClient, logger),
		chain.NewTreasury(chainClient, logger),
		stolen,
		access,
		royalty,
		market.Options{
			VaultAccount: vault,
			Fees: market.FeeConfig{
				FeeBps:              cfg.Market.FeeBps,
				DistributorShareBps: cfg.Market.DistributorShareBps,
				ProtocolAccount:     common.HexToAddress(cfg.Market.ProtocolAccount),
				DistributorAccount:  common.HexToAddress(cfg.Market.DistributorAccount),
			},
			AntiSnipeWindow:   cfg.Market.AntiSnipeWindow.Duration,
			AllowedCurrencies: cfg.AllowedCurrencyAddresses(),
		},
	)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: market core: %w", err)
	}
	deps.Core = core

	deps.Service = service.NewMarketService(service.Deps{
		Core:     core,
		Listings: deps.Listings,
		Auctions: deps.Auctions,
		Credits:  deps.Credits,
		Events:   deps.Events,
		Audit:    deps.Audit,
		Bus:      deps.SignalBus,
		Cache:    deps.Cache,
		Locks:    deps.LockManager,
		Notify:   deps.Notifier,
		Logger:   logger,
	})

	// Rehydrate the engine: still-escrowed listings and auctions must be
	// reachable again before the first request lands.
	if err := deps.Service.Reload(ctx); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: reload engine state: %w", err)
	}

	return deps, cleanup, nil
}

// openStolenGate flags nothing. Used when no stolen registry is configured.
type openStolenGate struct{}

func (openStolenGate) IsFlagged(context.Context, common.Address, string) (bool, error) {
	return false, nil
}

// closedAccessGate denies every role. Used when no access registry is
// configured, so administrative endpoints reject all callers.
type closedAccessGate struct{}

func (closedAccessGate) IsAdmin(context.Context, common.Address) bool       { return false }
func (closedAccessGate) IsPauser(context.Context, common.Address) bool     { return false }
func (closedAccessGate) IsConfigAdmin(context.Context, common.Address) bool { return false }
