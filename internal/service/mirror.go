package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/mintbay/marketd/internal/domain"
	"github.com/mintbay/marketd/internal/market"
)

const (
	// EventChannel is the Redis Pub/Sub channel for live event fan-out.
	EventChannel = "market.events"

	// EventStream is the durable Redis stream mirroring the same events.
	EventStream = "stream:market.events"
)

// reloadPageSize bounds each store read during startup hydration.
const reloadPageSize = 500

// Reload hydrates the engine from the stores after a restart: active
// listings and open auctions resume with their asset locks held, and
// pending credit balances become withdrawable again. Must run before the
// service starts taking requests.
func (s *MarketService) Reload(ctx context.Context) error {
	var listings []domain.Listing
	for offset := 0; ; offset += reloadPageSize {
		page, err := s.listings.ListActive(ctx, domain.ListOpts{Limit: reloadPageSize, Offset: offset})
		if err != nil {
			return fmt.Errorf("market_service: reload listings: %w", err)
		}
		listings = append(listings, page...)
		if len(page) < reloadPageSize {
			break
		}
	}

	var auctions []domain.Auction
	for offset := 0; ; offset += reloadPageSize {
		page, err := s.auctions.ListOpen(ctx, domain.ListOpts{Limit: reloadPageSize, Offset: offset})
		if err != nil {
			return fmt.Errorf("market_service: reload auctions: %w", err)
		}
		auctions = append(auctions, page...)
		if len(page) < reloadPageSize {
			break
		}
	}

	credits, err := s.credits.ListPending(ctx)
	if err != nil {
		return fmt.Errorf("market_service: reload credits: %w", err)
	}

	s.mu.Lock()
	err = s.core.Restore(listings, auctions, credits)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("market_service: reload: %w", err)
	}

	s.logger.InfoContext(ctx, "engine state reloaded",
		slog.Int("listings", len(listings)),
		slog.Int("auctions", len(auctions)),
		slog.Int("credits", len(credits)),
	)
	return nil
}

// persistListing writes a listing to the store and refreshes the cache.
// Called after the engine has committed; failures are logged, not returned.
func (s *MarketService) persistListing(ctx context.Context, l domain.Listing, isNew bool) {
	var err error
	if isNew {
		err = s.listings.Create(ctx, l)
	} else {
		err = s.listings.Update(ctx, l)
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "listing persist failed",
			slog.Uint64("listing_id", l.ID),
			slog.String("error", err.Error()),
		)
	}

	if l.Active {
		s.fillListingCache(ctx, l)
	} else if err := s.cache.Invalidate(ctx, l.ID, 0); err != nil {
		s.logger.WarnContext(ctx, "listing cache invalidate failed",
			slog.Uint64("listing_id", l.ID),
			slog.String("error", err.Error()),
		)
	}
}

// persistAuction writes an auction to the store and refreshes the cache.
func (s *MarketService) persistAuction(ctx context.Context, a domain.Auction, isNew bool) {
	var err error
	if isNew {
		err = s.auctions.Create(ctx, a)
	} else {
		err = s.auctions.Update(ctx, a)
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "auction persist failed",
			slog.Uint64("auction_id", a.ID),
			slog.String("error", err.Error()),
		)
	}

	if !a.Settled {
		s.fillAuctionCache(ctx, a)
	} else if err := s.cache.Invalidate(ctx, 0, a.ID); err != nil {
		s.logger.WarnContext(ctx, "auction cache invalidate failed",
			slog.Uint64("auction_id", a.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *MarketService) fillListingCache(ctx context.Context, l domain.Listing) {
	if err := s.cache.SetListing(ctx, l, cacheTTL); err != nil {
		s.logger.WarnContext(ctx, "listing cache set failed",
			slog.Uint64("listing_id", l.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *MarketService) fillAuctionCache(ctx context.Context, a domain.Auction) {
	if err := s.cache.SetAuction(ctx, a, cacheTTL); err != nil {
		s.logger.WarnContext(ctx, "auction cache set failed",
			slog.Uint64("auction_id", a.ID),
			slog.String("error", err.Error()),
		)
	}
}

// mirrorCreditNotes refreshes the stored balance of every account a credit
// note touched.
func (s *MarketService) mirrorCreditNotes(ctx context.Context, notes []market.CreditNote) {
	for _, n := range notes {
		s.mirrorCredit(ctx, n.Currency, n.Account)
	}
}

// mirrorCredit reads the authoritative balance from the engine and upserts
// it into the credit store.
func (s *MarketService) mirrorCredit(ctx context.Context, currency, account common.Address) {
	s.mu.Lock()
	amount := s.core.CreditOf(currency, account)
	s.mu.Unlock()

	entry := domain.CreditEntry{Currency: currency, Account: account, Amount: amount}
	if err := s.credits.Upsert(ctx, entry); err != nil {
		s.logger.ErrorContext(ctx, "credit mirror failed",
			slog.String("currency", currency.Hex()),
			slog.String("account", account.Hex()),
			slog.String("error", err.Error()),
		)
	}
}

// emit assigns the event an id and timestamp, appends it to the persistent
// history, and fans it out over Pub/Sub and the durable stream.
func (s *MarketService) emit(ctx context.Context, evt domain.MarketEvent) {
	evt.ID = uuid.New().String()
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}

	if err := s.events.Append(ctx, []domain.MarketEvent{evt}); err != nil {
		s.logger.ErrorContext(ctx, "event append failed",
			slog.String("event_id", evt.ID),
			slog.String("type", string(evt.Type)),
			slog.String("error", err.Error()),
		)
	}

	payload, err := json.Marshal(eventWire(evt))
	if err != nil {
		s.logger.ErrorContext(ctx, "event encode failed",
			slog.String("event_id", evt.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	if err := s.bus.Publish(ctx, EventChannel, payload); err != nil {
		s.logger.WarnContext(ctx, "event publish failed",
			slog.String("event_id", evt.ID),
			slog.String("error", err.Error()),
		)
	}
	if err := s.bus.StreamAppend(ctx, EventStream, payload); err != nil {
		s.logger.WarnContext(ctx, "event stream append failed",
			slog.String("event_id", evt.ID),
			slog.String("error", err.Error()),
		)
	}
}

// emitCreditEvents emits one credit_issued event per credit note.
func (s *MarketService) emitCreditEvents(ctx context.Context, notes []market.CreditNote) {
	for _, n := range notes {
		s.emit(ctx, domain.MarketEvent{
			Type:     domain.EventCreditIssued,
			Buyer:    n.Account,
			Currency: n.Currency,
			Amount:   n.Amount,
		})
	}
}

// auditLog records an administrative action; failures are logged only.
func (s *MarketService) auditLog(ctx context.Context, event string, detail map[string]any) {
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.ErrorContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// notifyEvent forwards an operator notification; failures are logged only.
func (s *MarketService) notifyEvent(ctx context.Context, event, title, message string) {
	if s.notify == nil {
		return
	}
	if err := s.notify.Notify(ctx, event, title, message); err != nil {
		s.logger.WarnContext(ctx, "notification failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
