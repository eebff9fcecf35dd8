package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mintbay/marketd/internal/server"
	"github.com/mintbay/marketd/internal/server/handler"
	"github.com/mintbay/marketd/internal/server/ws"
)

// cleanupSweepInterval is how often the expiry janitor scans active listings.
const cleanupSweepInterval = time.Minute

// shutdownGrace is how long in-flight HTTP requests get to finish.
const shutdownGrace = 10 * time.Second

// ServeMode runs the HTTP API, the WebSocket hub, and the expiry janitor.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startServer(ctx, g, deps)
	a.startJanitor(ctx, g, deps)
	return g.Wait()
}

// ArchiveMode runs only the periodic history archival loop.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")

	if deps.Archiver == nil {
		return fmt.Errorf("archive mode: archiving is not enabled in config")
	}

	g, ctx := errgroup.WithContext(ctx)
	a.startArchiver(ctx, g, deps)
	return g.Wait()
}

// FullMode runs every subsystem: the HTTP API, the WebSocket hub, the expiry
// janitor, and the archival loop when enabled.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startServer(ctx, g, deps)
	a.startJanitor(ctx, g, deps)
	if deps.Archiver != nil {
		a.startArchiver(ctx, g, deps)
	}
	return g.Wait()
}

// startServer adds the HTTP server and WebSocket hub goroutines to the given
// errgroup. The server is shut down gracefully when the context is cancelled.
func (a *App) startServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if !a.cfg.Server.Enabled {
		a.logger.InfoContext(ctx, "http server disabled by config")
		return
	}

	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: time.Now().UTC(),
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	srv := server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		APIKey:          a.cfg.Server.APIKey,
		RateLimiter:     deps.RateLimiter,
		RateLimit:       a.cfg.Server.RateLimitPerMin,
		RateLimitWindow: time.Minute,
	}, server.Handlers{
		Health:   handler.NewHealthHandler(a.logger),
		Listings: handler.NewListingHandler(deps.Service, a.logger),
		Auctions: handler.NewAuctionHandler(deps.Service, a.logger),
		Credits:  handler.NewCreditHandler(deps.Service, a.logger),
		Admin:    handler.NewAdminHandler(deps.Service, a.logger),
		Events:   handler.NewEventHandler(deps.Service, a.logger),
	}, hub, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// startJanitor adds a goroutine that periodically deactivates expired
// listings so their escrowed assets return to the sellers without waiting for
// an external caller.
func (a *App) startJanitor(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	logger := a.logger.With(slog.String("component", "janitor"))

	g.Go(func() error {
		ticker := time.NewTicker(cleanupSweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				a.sweepExpired(ctx, deps, logger)
			}
		}
	})
}

// sweepExpired walks the active listings and cleans up the expired ones.
// Individual failures are logged and do not stop the sweep.
func (a *App) sweepExpired(ctx context.Context, deps *Dependencies, logger *slog.Logger) {
	now := time.Now().UTC()
	for _, l := range deps.Service.ExpiredListings(now) {
		if _, err := deps.Service.CleanupExpired(ctx, l.ID); err != nil {
			logger.WarnContext(ctx, "expired listing cleanup failed",
				slog.Uint64("listing_id", l.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		logger.InfoContext(ctx, "expired listing cleaned up",
			slog.Uint64("listing_id", l.ID),
		)
	}
}

// startArchiver adds a goroutine that periodically exports marketplace
// history to object storage.
func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	logger := a.logger.With(slog.String("component", "archiver"))
	interval := a.cfg.Archive.Interval.Duration

	g.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				cutoff := time.Now().UTC()
				n, err := deps.Archiver.ArchiveEvents(ctx, cutoff)
				if err != nil {
					logger.ErrorContext(ctx, "event archival failed",
						slog.String("error", err.Error()),
					)
				} else if n > 0 {
					logger.InfoContext(ctx, "events archived", slog.Int64("count", n))
				}

				n, err = deps.Archiver.ArchiveAudit(ctx, cutoff)
				if err != nil {
					logger.ErrorContext(ctx, "audit archival failed",
						slog.String("error", err.Error()),
					)
				} else if n > 0 {
					logger.InfoContext(ctx, "audit entries archived", slog.Int64("count", n))
				}
			}
		}
	})
}
