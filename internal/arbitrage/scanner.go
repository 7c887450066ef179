package arbitrage

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/oddsarb/internal/domain"
)

// Evaluator turns one event into zero or one opportunity.
type Evaluator interface {
	Evaluate(ev domain.EventOdds) *domain.Opportunity
}

var _ Evaluator = (*Engine)(nil)

// ScanStats summarises a single Scan call.
type ScanStats struct {
	Events        int           `json:"events"`
	Evaluated     int           `json:"evaluated"`
	Opportunities int           `json:"opportunities"`
	Failed        int           `json:"failed"`
	Skipped       int           `json:"skipped"`
	Duration      time.Duration `json:"duration"`
}

// Scanner evaluates events in parallel with a bounded number of workers.
// One event's failure does not affect the others.
type Scanner struct {
	eval    Evaluator
	workers int
	logger  *slog.Logger
}

// NewScanner creates a Scanner. workers <= 0 uses GOMAXPROCS.
func NewScanner(eval Evaluator, workers int, logger *slog.Logger) *Scanner {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Scanner{
		eval:    eval,
		workers: workers,
		logger:  logger.With(slog.String("component", "scanner")),
	}
}

// Workers returns the parallelism bound.
func (s *Scanner) Workers() int { return s.workers }

// Scan evaluates every event and returns the opportunities found, ordered
// by descending profit percentage then event ID. Events not yet started
// when ctx is cancelled are counted as skipped.
func (s *Scanner) Scan(ctx context.Context, events []domain.EventOdds) ([]domain.Opportunity, ScanStats) {
	start := time.Now()
	stats := ScanStats{Events: len(events)}

	var (
		mu    sync.Mutex
		found []domain.Opportunity
	)

	var g errgroup.Group
	g.SetLimit(s.workers)

	for _, ev := range events {
		if ctx.Err() != nil {
			mu.Lock()
			stats.Skipped++
			mu.Unlock()
			continue
		}
		ev := ev
		g.Go(func() error {
			opp, err := s.evaluate(ev)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				stats.Failed++
				s.logger.Warn("evaluation failed",
					slog.String("event_id", ev.EventID),
					slog.String("error", err.Error()),
				)
				return nil
			}
			stats.Evaluated++
			if opp != nil {
				found = append(found, *opp)
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.SliceStable(found, func(i, j int) bool {
		if found[i].ProfitPercentage != found[j].ProfitPercentage {
			return found[i].ProfitPercentage > found[j].ProfitPercentage
		}
		return found[i].EventID < found[j].EventID
	})

	stats.Opportunities = len(found)
	stats.Duration = time.Since(start)
	return found, stats
}

func (s *Scanner) evaluate(ev domain.EventOdds) (opp *domain.Opportunity, err error) {
	defer func() {
		if r := recover(); r != nil {
			opp = nil
			err = fmt.Errorf("arbitrage: evaluate %s: panic: %v", ev.EventID, r)
		}
	}()
	return s.eval.Evaluate(ev), nil
}
