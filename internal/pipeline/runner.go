package pipeline

import (
	"context"
	"log/slog"
	"time"
)

// Passer runs one pass.
type Passer interface {
	RunOnce(ctx context.Context) (Report, error)
}

// Runner invokes a Passer on a fixed interval. Passes never overlap: a pass
// that outlasts the interval delays the next tick.
type Runner struct {
	pass       Passer
	interval   time.Duration
	runOnStart bool
	logger     *slog.Logger
}

// NewRunner creates a Runner.
func NewRunner(pass Passer, interval time.Duration, runOnStart bool, logger *slog.Logger) *Runner {
	return &Runner{
		pass:       pass,
		interval:   interval,
		runOnStart: runOnStart,
		logger:     logger.With(slog.String("component", "runner")),
	}
}

// Run blocks until ctx is cancelled. Pass errors are logged and retried on
// the next tick.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("pipeline runner starting",
		slog.Duration("interval", r.interval),
		slog.Bool("run_on_start", r.runOnStart),
	)

	if r.runOnStart {
		r.runPass(ctx)
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("pipeline runner stopped")
			return nil
		case <-ticker.C:
			r.runPass(ctx)
		}
	}
}

func (r *Runner) runPass(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := r.pass.RunOnce(ctx); err != nil && ctx.Err() == nil {
		r.logger.Error("pipeline pass failed", slog.String("error", err.Error()))
	}
}
