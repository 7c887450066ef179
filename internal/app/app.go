// Package app wires the odds client, caches, stores, archive and alert
// channels together and runs the goroutines of the configured mode.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/oddsarb/internal/config"
)

// App owns the configuration and the cleanup of whatever Wire opened.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	started time.Time

	closeOnce sync.Once
	cleanup   func()
}

// New creates an App. Nothing is connected until Run.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "app")),
		cleanup: func() {},
	}
}

// modeFunc runs one deployment mode until ctx is cancelled.
type modeFunc func(a *App, ctx context.Context, deps *Dependencies) error

var modes = map[string]modeFunc{
	"scan":   (*App).ScanMode,
	"server": (*App).ServerMode,
	"full":   (*App).FullMode,
}

// Run wires dependencies and blocks in the configured mode. A nil return
// means ctx was cancelled.
func (a *App) Run(ctx context.Context) error {
	mode := strings.ToLower(a.cfg.Mode)
	run, ok := modes[mode]
	if !ok {
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}

	a.started = time.Now()
	a.logger.InfoContext(ctx, "starting",
		slog.String("mode", mode),
		slog.Any("sports", a.cfg.OddsAPI.Sports),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire: %w", err)
	}
	a.cleanup = cleanup

	return run(a, ctx, deps)
}

// Close releases everything Wire opened. Only the first call has effect.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		a.cleanup()
		attrs := []any{}
		if !a.started.IsZero() {
			attrs = append(attrs, slog.Duration("uptime", time.Since(a.started)))
		}
		a.logger.Info("stopped", attrs...)
	})
}
