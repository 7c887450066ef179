// Package pipeline runs one fetch, normalize, scan and publish pass over the
// configured sports and schedules passes on a fixed interval.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/oddsarb/internal/arbitrage"
	"github.com/alanyoungcy/oddsarb/internal/domain"
	"github.com/alanyoungcy/oddsarb/internal/normalize"
	"github.com/alanyoungcy/oddsarb/internal/notify"
	"github.com/alanyoungcy/oddsarb/internal/platform/oddsapi"
	"github.com/alanyoungcy/oddsarb/internal/server/ws"
)

// ErrStageFailed marks a pass in which every operation of one stage failed.
var ErrStageFailed = errors.New("pipeline: stage failed")

const passLockKey = "pipeline:pass"

// Fetcher retrieves raw per-sport payloads.
type Fetcher interface {
	FetchAll(ctx context.Context, sportKeys []string) map[string]oddsapi.FetchResult
}

// Normalizer turns one sport payload into per-event odds.
type Normalizer interface {
	NormalizeWithStats(sportKey string, payload []byte) (domain.EventOddsSet, normalize.Stats, error)
}

// Scanner evaluates every event and returns the detected opportunities.
type Scanner interface {
	Scan(ctx context.Context, events []domain.EventOdds) ([]domain.Opportunity, arbitrage.ScanStats)
}

// Broadcaster pushes opportunities to live subscribers, either through a
// local hub or a cross-process publisher.
type Broadcaster interface {
	BroadcastAll(ctx context.Context, opps []domain.Opportunity) ws.BroadcastReport
}

// Alerter sends out-of-band notifications.
type Alerter interface {
	OpportunitiesDetected(ctx context.Context, opps []domain.Opportunity) error
	Notify(ctx context.Context, event, title, message string) error
}

// Archiver copies raw payloads and detected opportunities to object storage.
type Archiver interface {
	ArchiveRaw(ctx context.Context, sport string, payload []byte, at time.Time) (string, error)
	ArchiveOpportunities(ctx context.Context, opps []domain.Opportunity, at time.Time) (string, error)
}

// QuotaReporter logs the remaining upstream request quota.
type QuotaReporter interface {
	LogQuota(ctx context.Context, logger *slog.Logger)
}

// Config holds the per-pass parameters.
type Config struct {
	Sports     []string
	ArchiveRaw bool

	// StoreTimeout bounds each durable store call. 0 means no extra deadline.
	StoreTimeout time.Duration

	// LockTTL is how long the cross-replica pass lock is held at most.
	// Ignored when Deps.Locks is nil.
	LockTTL time.Duration
}

// Deps are the collaborators of a pass. Fetcher, Normalizer and Scanner are
// required; every other field may be nil and its stage is then skipped.
type Deps struct {
	Fetcher          Fetcher
	Normalizer       Normalizer
	Scanner          Scanner
	OddsCache        domain.OddsCache
	OpportunityCache domain.OpportunityCache
	Store            domain.OpportunityStore
	Broadcaster      Broadcaster
	Alerter          Alerter
	Archiver         Archiver
	Audit            domain.AuditStore
	Locks            domain.LockManager
	Quota            QuotaReporter
}

// Pipeline executes passes. It is safe to call RunOnce from one goroutine
// at a time; concurrent passes across processes are serialised by the pass
// lock when one is configured.
type Pipeline struct {
	cfg    Config
	deps   Deps
	now    func() time.Time
	logger *slog.Logger
}

// New creates a Pipeline.
func New(cfg Config, deps Deps, logger *slog.Logger) (*Pipeline, error) {
	if deps.Fetcher == nil || deps.Normalizer == nil || deps.Scanner == nil {
		return nil, errors.New("pipeline: fetcher, normalizer and scanner are required")
	}
	cfg.Sports = dedupe(cfg.Sports)
	return &Pipeline{
		cfg:    cfg,
		deps:   deps,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.With(slog.String("component", "pipeline")),
	}, nil
}

// RunOnce executes a single pass. Failures of individual fetches, events,
// cache calls, saves and deliveries are logged and counted in the Report.
// The returned error is non-nil only when an entire stage failed or ctx was
// cancelled; the pass still completes every stage it can.
func (p *Pipeline) RunOnce(ctx context.Context) (Report, error) {
	report := Report{StartedAt: p.now(), Sports: len(p.cfg.Sports)}

	if p.deps.Locks != nil && p.cfg.LockTTL > 0 {
		unlock, err := p.deps.Locks.Acquire(ctx, passLockKey, p.cfg.LockTTL)
		switch {
		case errors.Is(err, domain.ErrLockHeld):
			p.logger.InfoContext(ctx, "pass skipped, another replica holds the lock")
			report.Skipped = true
			return report, nil
		case err != nil:
			p.logger.WarnContext(ctx, "pass lock unavailable, running unlocked", slog.String("error", err.Error()))
		default:
			defer unlock()
		}
	}

	var stageErrs []error
	cache := cacheTally{logger: p.logger}

	if err := p.expire(ctx, &report, &cache); err != nil {
		stageErrs = append(stageErrs, err)
	}

	results := p.deps.Fetcher.FetchAll(ctx, p.cfg.Sports)
	if err := ctx.Err(); err != nil {
		return p.finish(ctx, report, errors.Join(append(stageErrs, err)...))
	}

	var (
		events    []domain.EventOdds
		evaluated []string
		lastFetch error
	)
	for _, sport := range p.cfg.Sports {
		res, ok := results[sport]
		if !ok {
			continue
		}
		if !res.OK() {
			report.FailedSports = append(report.FailedSports, sport)
			lastFetch = res.Err
			continue
		}
		report.SportsFetched++

		if p.cfg.ArchiveRaw && p.deps.Archiver != nil {
			if _, err := p.deps.Archiver.ArchiveRaw(ctx, sport, res.Payload, report.StartedAt); err != nil {
				p.logger.WarnContext(ctx, "raw archive failed", slog.String("sport", sport), slog.String("error", err.Error()))
			}
		}

		set, stats, err := p.deps.Normalizer.NormalizeWithStats(sport, res.Payload)
		report.DroppedEvents += stats.DroppedEvents
		report.DroppedQuotes += stats.DroppedQuotes
		report.EmptyMarkets += stats.EmptyMarkets
		if err != nil {
			p.logger.WarnContext(ctx, "payload rejected", slog.String("sport", sport), slog.String("error", err.Error()))
			continue
		}
		evaluated = append(evaluated, sport)
		events = append(events, set.Events()...)
	}
	report.Events = len(events)

	if report.Sports > 0 && report.SportsFetched == 0 && lastFetch != nil {
		stageErrs = append(stageErrs, stageError("fetch", len(report.FailedSports), lastFetch))
	}

	if p.deps.OddsCache != nil && len(events) > 0 {
		cache.record(ctx, "put_events", p.deps.OddsCache.PutEvents(ctx, events))
	}

	opps, scanStats := p.deps.Scanner.Scan(ctx, events)
	report.Scan = scanStats
	report.Opportunities = len(opps)

	// Persist and cache first so a client querying current state after a
	// live message sees the same opportunity.
	if err := p.persist(ctx, opps, &report); err != nil {
		stageErrs = append(stageErrs, err)
	}
	if p.deps.OpportunityCache != nil {
		cache.record(ctx, "put_opportunities", p.deps.OpportunityCache.PutOpportunities(ctx, opps))
		if empty := sportsWithout(evaluated, opps); len(empty) > 0 {
			cache.record(ctx, "clear_current", p.deps.OpportunityCache.ClearCurrent(ctx, empty))
		}
	}
	report.CacheOps, report.CacheFailures = cache.ops, cache.failed
	if err := cache.stageErr(); err != nil {
		p.logger.WarnContext(ctx, "cache unreachable for the whole pass", slog.String("error", err.Error()))
		stageErrs = append(stageErrs, err)
	}

	if p.deps.Broadcaster != nil && len(opps) > 0 {
		report.Broadcast = p.deps.Broadcaster.BroadcastAll(ctx, opps)
	}

	if p.deps.Alerter != nil && len(opps) > 0 {
		if err := p.deps.Alerter.OpportunitiesDetected(ctx, opps); err != nil {
			p.logger.WarnContext(ctx, "alerts failed", slog.String("error", err.Error()))
		}
	}

	if p.deps.Archiver != nil && len(opps) > 0 {
		if _, err := p.deps.Archiver.ArchiveOpportunities(ctx, opps, report.StartedAt); err != nil {
			p.logger.WarnContext(ctx, "opportunity archive failed", slog.String("error", err.Error()))
		}
	}

	return p.finish(ctx, report, errors.Join(stageErrs...))
}

// expire marks opportunities whose event has started and drops them from
// the live snapshot. Expired opportunities are not broadcast.
func (p *Pipeline) expire(ctx context.Context, report *Report, cache *cacheTally) error {
	if p.deps.Store == nil {
		return nil
	}
	sctx, cancel := p.storeContext(ctx)
	ids, err := p.deps.Store.ExpireCommenced(sctx, report.StartedAt)
	cancel()
	if err != nil {
		p.logger.WarnContext(ctx, "expiry sweep failed", slog.String("error", err.Error()))
		return stageError("expire", 1, err)
	}
	report.Expired = len(ids)
	if len(ids) > 0 && p.deps.OpportunityCache != nil {
		cache.record(ctx, "remove_current", p.deps.OpportunityCache.RemoveCurrent(ctx, ids))
	}
	return nil
}

// persist saves every opportunity, continuing past individual failures.
func (p *Pipeline) persist(ctx context.Context, opps []domain.Opportunity, report *Report) error {
	if p.deps.Store == nil || len(opps) == 0 {
		return nil
	}
	var last error
	for _, opp := range opps {
		sctx, cancel := p.storeContext(ctx)
		err := p.deps.Store.Save(sctx, opp)
		cancel()
		if err != nil {
			report.PersistFailed++
			last = err
			p.logger.WarnContext(ctx, "save failed",
				slog.String("opportunity_id", opp.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		report.Persisted++
	}
	if report.Persisted == 0 {
		return stageError("persist", report.PersistFailed, last)
	}
	return nil
}

// finish logs the pass, records it in the audit log and raises a
// pass_failed alert when err is set.
func (p *Pipeline) finish(ctx context.Context, report Report, err error) (Report, error) {
	report.Duration = p.now().Sub(report.StartedAt)

	attrs := report.logAttrs()
	if err != nil {
		report.Error = err.Error()
		p.logger.ErrorContext(ctx, "pass finished with errors", append(attrs, slog.String("error", err.Error()))...)
	} else {
		p.logger.InfoContext(ctx, "pass complete", attrs...)
	}

	if p.deps.Quota != nil {
		p.deps.Quota.LogQuota(ctx, p.logger)
	}

	// A cancelled pass still gets recorded.
	bg := context.WithoutCancel(ctx)
	if p.deps.Audit != nil {
		actx, cancel := p.storeContext(bg)
		if aerr := p.deps.Audit.Log(actx, domain.AuditPassCompleted, report.auditDetail()); aerr != nil {
			p.logger.WarnContext(ctx, "audit log failed", slog.String("error", aerr.Error()))
		}
		cancel()
	}
	if err != nil && p.deps.Alerter != nil && ctx.Err() == nil {
		if aerr := p.deps.Alerter.Notify(bg, notify.EventPassFailed, "Pipeline pass failed", err.Error()); aerr != nil {
			p.logger.WarnContext(ctx, "pass_failed alert failed", slog.String("error", aerr.Error()))
		}
	}
	return report, err
}

func (p *Pipeline) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.cfg.StoreTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.cfg.StoreTimeout)
}

// cacheTally counts cache calls so a pass can tell a flaky cache from an
// unreachable one. Every failure is logged as it happens.
type cacheTally struct {
	logger *slog.Logger
	ops    int
	failed int
	last   error
}

func (t *cacheTally) record(ctx context.Context, op string, err error) {
	t.ops++
	if err == nil {
		return
	}
	t.failed++
	t.last = err
	t.logger.WarnContext(ctx, "cache write failed",
		slog.String("op", op),
		slog.String("error", err.Error()),
	)
}

func (t *cacheTally) stageErr() error {
	if t.ops == 0 || t.failed < t.ops {
		return nil
	}
	return stageError("cache", t.failed, t.last)
}

func stageError(stage string, n int, last error) error {
	return fmt.Errorf("%w: %s: all %d call(s) failed: %w", ErrStageFailed, stage, n, last)
}

// sportsWithout returns the sports in evaluated with no opportunity in opps.
func sportsWithout(evaluated []string, opps []domain.Opportunity) []string {
	found := make(map[string]bool, len(opps))
	for _, o := range opps {
		found[o.SportKey] = true
	}
	var out []string
	for _, s := range evaluated {
		if !found[s] {
			out = append(out, s)
		}
	}
	return out
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
