package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/oddsarb/internal/arbitrage"
	"github.com/alanyoungcy/oddsarb/internal/domain"
	"github.com/alanyoungcy/oddsarb/internal/normalize"
	"github.com/alanyoungcy/oddsarb/internal/pipeline"
	"github.com/alanyoungcy/oddsarb/internal/platform/oddsapi"
	"github.com/alanyoungcy/oddsarb/internal/server"
	"github.com/alanyoungcy/oddsarb/internal/server/handler"
	"github.com/alanyoungcy/oddsarb/internal/server/ws"
)

const (
	shutdownTimeout = 5 * time.Second
	relayRetryDelay = 5 * time.Second

	// storeTimeout bounds each durable store call made by a pass.
	storeTimeout = 5 * time.Second
)

// ScanMode runs the periodic pipeline only. Opportunities are published on
// the signal bus for a separate server process to broadcast.
func (a *App) ScanMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting scan mode")

	g, ctx := errgroup.WithContext(ctx)
	if err := a.startPipeline(ctx, g, deps, ws.NewPublisher(deps.SignalBus, a.logger)); err != nil {
		return fmt.Errorf("scan mode: %w", err)
	}
	return g.Wait()
}

// ServerMode runs the HTTP and websocket server only, relaying opportunities
// published by scanning processes to local subscribers.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	hub := a.newHub()
	g.Go(func() error {
		a.relayLoop(ctx, hub, deps.SignalBus)
		return nil
	})
	a.startHTTPServer(ctx, g, deps, hub)
	return g.Wait()
}

// FullMode runs the pipeline and, when enabled, the server in one process.
// The pipeline broadcasts straight into the local hub.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	var broadcaster pipeline.Broadcaster
	if a.cfg.NeedsServer() {
		hub := a.newHub()
		a.startHTTPServer(ctx, g, deps, hub)
		broadcaster = hub
	} else {
		a.logger.InfoContext(ctx, "server disabled, publishing opportunities on the signal bus")
		broadcaster = ws.NewPublisher(deps.SignalBus, a.logger)
	}

	if err := a.startPipeline(ctx, g, deps, broadcaster); err != nil {
		return fmt.Errorf("full mode: %w", err)
	}
	return g.Wait()
}

func (a *App) newHub() *ws.Hub {
	return ws.NewHub(ws.Config{
		SendTimeout: a.cfg.Server.SendTimeout.Duration,
		Mode:        a.cfg.Mode,
		StartedAt:   time.Now().UTC(),
	}, a.logger)
}

// startPipeline builds the fetch, normalize, scan chain and adds the
// periodic runner to g.
func (a *App) startPipeline(ctx context.Context, g *errgroup.Group, deps *Dependencies, broadcaster pipeline.Broadcaster) error {
	if deps.OddsClient == nil {
		return errors.New("pipeline: odds client not wired")
	}

	engine := arbitrage.NewEngine(arbitrage.EngineConfig{
		MinProfitThreshold: a.cfg.Arbitrage.MinProfitThreshold,
		TotalStake:         a.cfg.Arbitrage.DefaultTotalStake,
	})
	scanner := arbitrage.NewScanner(engine, a.cfg.Arbitrage.ScanWorkers, a.logger)

	pd := pipeline.Deps{
		Fetcher:          oddsapi.NewFetcher(deps.OddsClient, a.cfg.OddsAPI.MaxConcurrency, a.cfg.OddsAPI.RequestTimeout.Duration, a.logger),
		Normalizer:       normalize.New(a.cfg.Pipeline.Market, a.logger),
		Scanner:          scanner,
		OddsCache:        deps.OddsCache,
		OpportunityCache: deps.OpportunityCache,
		Broadcaster:      broadcaster,
		Quota:            deps.OddsClient,
		Store:            deps.Store,
		Audit:            deps.Audit,
	}
	if deps.Notifier.Enabled() {
		pd.Alerter = deps.Notifier
	}
	if deps.Archiver != nil {
		pd.Archiver = deps.Archiver
	}
	if a.cfg.Pipeline.PassLock {
		pd.Locks = deps.LockManager
	}

	p, err := pipeline.New(pipeline.Config{
		Sports:       a.cfg.OddsAPI.Sports,
		ArchiveRaw:   a.cfg.Pipeline.ArchiveRaw,
		StoreTimeout: storeTimeout,
		LockTTL:      a.cfg.Pipeline.Interval.Duration,
	}, pd, a.logger)
	if err != nil {
		return err
	}

	a.logger.InfoContext(ctx, "pipeline configured",
		slog.Any("sports", a.cfg.OddsAPI.Sports),
		slog.Int("scan_workers", scanner.Workers()),
		slog.Float64("min_profit_threshold", engine.MinProfitThreshold()),
		slog.Bool("durable_store", deps.Store != nil),
		slog.Bool("pass_lock", pd.Locks != nil),
	)

	runner := pipeline.NewRunner(p, a.cfg.Pipeline.Interval.Duration, a.cfg.Pipeline.RunOnStart, a.logger)
	g.Go(func() error {
		return runner.Run(ctx)
	})
	return nil
}

// relayLoop keeps the hub subscribed to the signal bus, resubscribing after
// a failure until ctx is cancelled.
func (a *App) relayLoop(ctx context.Context, hub *ws.Hub, bus domain.SignalBus) {
	for {
		err := hub.Relay(ctx, bus)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			a.logger.WarnContext(ctx, "opportunity relay interrupted",
				slog.String("error", err.Error()),
				slog.Duration("retry_in", relayRetryDelay),
			)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(relayRetryDelay):
		}
	}
}

// startHTTPServer adds the HTTP server goroutines to g. The server is shut
// down gracefully and the hub's subscribers closed when ctx is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, hub *ws.Hub) {
	checks := map[string]handler.Checker{
		"redis": deps.Redis,
	}
	if deps.Postgres != nil {
		pool := deps.Postgres.Pool()
		checks["postgres"] = handler.CheckerFunc(pool.Ping)
	}

	var history handler.HistoryReader
	if deps.Store != nil {
		history = deps.Store
	}

	handlers := server.Handlers{
		Health:        handler.NewHealthHandler(checks, hub.Count, a.logger),
		Opportunities: handler.NewOpportunityHandler(deps.OpportunityCache, history, a.logger),
		Odds:          handler.NewOddsHandler(deps.OddsCache, a.logger),
	}
	if deps.Audit != nil {
		handlers.Passes = handler.NewPassHandler(deps.Audit, a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:           a.cfg.Server.Port,
		CORSOrigins:    a.cfg.Server.CORSOrigins,
		RateLimitRPS:   a.cfg.Server.RateLimitRPS,
		RateLimitBurst: a.cfg.Server.RateLimitBurst,
	}, handlers, hub, a.logger)

	g.Go(srv.Start)

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		hub.Close()
		return srv.Shutdown(shutCtx)
	})
}
