package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/oddsarb/internal/arbitrage"
	"github.com/alanyoungcy/oddsarb/internal/domain"
	"github.com/alanyoungcy/oddsarb/internal/normalize"
	"github.com/alanyoungcy/oddsarb/internal/notify"
	"github.com/alanyoungcy/oddsarb/internal/platform/oddsapi"
	"github.com/alanyoungcy/oddsarb/internal/server/ws"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// arbPayload is one event whose best prices, 2.15 and 2.05, form an
// arbitrage with a 4.71% margin.
func arbPayload(eventID string) []byte {
	return []byte(fmt.Sprintf(`[{
		"id": %q, "commence_time": "2099-01-01T00:00:00Z",
		"home_team": "Home", "away_team": "Away",
		"bookmakers": [
			{"key": "bk1", "markets": [{"key": "h2h", "outcomes": [{"name": "Home", "price": 2.15}, {"name": "Away", "price": 1.80}]}]},
			{"key": "bk2", "markets": [{"key": "h2h", "outcomes": [{"name": "Home", "price": 1.95}, {"name": "Away", "price": 2.05}]}]}
		]}]`, eventID))
}

func noArbPayload() []byte {
	return []byte(`[{
		"id": "flat", "commence_time": "2099-01-01T00:00:00Z",
		"home_team": "A", "away_team": "B",
		"bookmakers": [{"key": "bk1", "markets": [{"key": "h2h", "outcomes": [{"name": "A", "price": 1.90}, {"name": "B", "price": 1.80}]}]}]
	}]`)
}

type fakeFetcher struct {
	payloads map[string][]byte
	errs     map[string]error
}

func (f *fakeFetcher) FetchAll(_ context.Context, keys []string) map[string]oddsapi.FetchResult {
	out := make(map[string]oddsapi.FetchResult, len(keys))
	for _, k := range keys {
		if err, ok := f.errs[k]; ok {
			out[k] = oddsapi.FetchResult{SportKey: k, Err: err}
			continue
		}
		out[k] = oddsapi.FetchResult{SportKey: k, Payload: f.payloads[k]}
	}
	return out
}

// journal records the order in which collaborators were called.
type journal struct {
	mu    sync.Mutex
	steps []string
}

func (j *journal) add(s string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.steps = append(j.steps, s)
}

func (j *journal) index(s string) int {
	j.mu.Lock()
	defer j.mu.Unlock()
	for i, v := range j.steps {
		if v == s {
			return i
		}
	}
	return -1
}

type fakeOddsCache struct {
	j      *journal
	err    error
	events []domain.EventOdds
}

func (c *fakeOddsCache) PutEvents(_ context.Context, events []domain.EventOdds) error {
	c.j.add("odds_cache")
	c.events = events
	return c.err
}

func (c *fakeOddsCache) GetEvent(context.Context, string) (domain.EventOdds, error) {
	return domain.EventOdds{}, domain.ErrNotFound
}

func (c *fakeOddsCache) GetEvents(context.Context, []string) ([]domain.EventOdds, error) {
	return c.events, c.err
}

func (c *fakeOddsCache) SportEvents(context.Context, string) ([]domain.EventOdds, error) {
	return c.events, c.err
}

type fakeOppCache struct {
	j       *journal
	err     error
	put     []domain.Opportunity
	removed []string
	cleared []string
}

func (c *fakeOppCache) PutOpportunities(_ context.Context, opps []domain.Opportunity) error {
	c.j.add("opp_cache")
	c.put = append(c.put, opps...)
	return c.err
}

func (c *fakeOppCache) GetOpportunity(context.Context, string) (domain.Opportunity, error) {
	return domain.Opportunity{}, domain.ErrNotFound
}

func (c *fakeOppCache) Current(context.Context, string) ([]domain.Opportunity, error) {
	return c.put, c.err
}

func (c *fakeOppCache) RemoveCurrent(_ context.Context, ids []string) error {
	c.removed = append(c.removed, ids...)
	return c.err
}

func (c *fakeOppCache) ClearCurrent(_ context.Context, sports []string) error {
	c.cleared = append(c.cleared, sports...)
	return c.err
}

type fakeStore struct {
	j       *journal
	saveErr error
	saved   []domain.Opportunity
	expired []string
}

func (s *fakeStore) Save(_ context.Context, opp domain.Opportunity) error {
	s.j.add("store")
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saved = append(s.saved, opp)
	return nil
}

func (s *fakeStore) MarkExpired(context.Context, string) error { return nil }

func (s *fakeStore) ExpireCommenced(context.Context, time.Time) ([]string, error) {
	return s.expired, nil
}

func (s *fakeStore) GetByID(context.Context, string) (domain.Opportunity, error) {
	return domain.Opportunity{}, domain.ErrNotFound
}

func (s *fakeStore) Query(context.Context, domain.OpportunityFilter) ([]domain.Opportunity, error) {
	return s.saved, nil
}

type fakeBroadcaster struct {
	j    *journal
	sent []domain.Opportunity
}

func (b *fakeBroadcaster) BroadcastAll(_ context.Context, opps []domain.Opportunity) ws.BroadcastReport {
	b.j.add("broadcast")
	b.sent = append(b.sent, opps...)
	return ws.BroadcastReport{Messages: len(opps), Delivered: len(opps)}
}

type fakeAlerter struct {
	detected int
	events   []string
}

func (a *fakeAlerter) OpportunitiesDetected(_ context.Context, opps []domain.Opportunity) error {
	a.detected += len(opps)
	return nil
}

func (a *fakeAlerter) Notify(_ context.Context, event, _, _ string) error {
	a.events = append(a.events, event)
	return nil
}

type fakeAudit struct{ details []map[string]any }

func (a *fakeAudit) Log(_ context.Context, event string, detail map[string]any) error {
	if event == domain.AuditPassCompleted {
		a.details = append(a.details, detail)
	}
	return nil
}

func (a *fakeAudit) Recent(context.Context, string, int) ([]domain.AuditEntry, error) {
	return nil, nil
}

type fakeLocks struct{ err error }

func (l fakeLocks) Acquire(context.Context, string, time.Duration) (func(), error) {
	if l.err != nil {
		return nil, l.err
	}
	return func() {}, nil
}

type fixture struct {
	j           *journal
	fetcher     *fakeFetcher
	oddsCache   *fakeOddsCache
	oppCache    *fakeOppCache
	store       *fakeStore
	broadcaster *fakeBroadcaster
	alerter     *fakeAlerter
	audit       *fakeAudit
	logger      *slog.Logger
}

func newFixture() *fixture {
	j := &journal{}
	return &fixture{
		j: j,
		fetcher: &fakeFetcher{
			payloads: map[string][]byte{
				"basketball_nba": arbPayload("nba-1"),
				"soccer_epl":     noArbPayload(),
			},
			errs: map[string]error{},
		},
		oddsCache:   &fakeOddsCache{j: j},
		oppCache:    &fakeOppCache{j: j},
		store:       &fakeStore{j: j},
		broadcaster: &fakeBroadcaster{j: j},
		alerter:     &fakeAlerter{},
		audit:       &fakeAudit{},
	}
}

func (f *fixture) pipeline(t *testing.T, mutate ...func(*Deps)) *Pipeline {
	t.Helper()
	deps := Deps{
		Fetcher:          f.fetcher,
		Normalizer:       normalize.New("h2h", discard()),
		Scanner:          arbitrage.NewScanner(arbitrage.NewEngine(arbitrage.EngineConfig{MinProfitThreshold: 1, TotalStake: 1000}), 4, discard()),
		OddsCache:        f.oddsCache,
		OpportunityCache: f.oppCache,
		Store:            f.store,
		Broadcaster:      f.broadcaster,
		Alerter:          f.alerter,
		Audit:            f.audit,
	}
	for _, m := range mutate {
		m(&deps)
	}
	logger := f.logger
	if logger == nil {
		logger = discard()
	}
	p, err := New(Config{Sports: []string{"basketball_nba", "soccer_epl", "basketball_nba"}}, deps, logger)
	require.NoError(t, err)
	return p
}

func TestRunOnce_HappyPath(t *testing.T) {
	f := newFixture()
	report, err := f.pipeline(t).RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, report.Sports, "duplicate sport keys are fetched once")
	assert.Equal(t, 2, report.SportsFetched)
	assert.Equal(t, 2, report.Events)
	require.Equal(t, 1, report.Opportunities)
	assert.Equal(t, 1, report.Persisted)

	require.Len(t, f.broadcaster.sent, 1)
	opp := f.broadcaster.sent[0]
	assert.Equal(t, "nba-1", opp.EventID)
	assert.Equal(t, "basketball_nba", opp.SportKey)
	assert.InDelta(t, 4.71, opp.ProfitPercentage, 0.01)

	assert.Len(t, f.oddsCache.events, 2)
	assert.Equal(t, []string{"soccer_epl"}, f.oppCache.cleared)
	assert.Equal(t, 1, f.alerter.detected)
	assert.Empty(t, f.alerter.events)
	require.Len(t, f.audit.details, 1)
	assert.Equal(t, 1, f.audit.details[0]["opportunities"])
}

func TestRunOnce_PersistAndCacheBeforeBroadcast(t *testing.T) {
	f := newFixture()
	_, err := f.pipeline(t).RunOnce(context.Background())
	require.NoError(t, err)

	b := f.j.index("broadcast")
	require.GreaterOrEqual(t, b, 0)
	assert.Less(t, f.j.index("odds_cache"), f.j.index("store"))
	assert.Less(t, f.j.index("store"), b)
	assert.Less(t, f.j.index("opp_cache"), b)
}

func TestRunOnce_PartialFetchFailure(t *testing.T) {
	f := newFixture()
	f.fetcher.errs["soccer_epl"] = &oddsapi.FetchError{SportKey: "soccer_epl", StatusCode: 500, Err: errors.New("boom")}

	report, err := f.pipeline(t).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.SportsFetched)
	assert.Equal(t, []string{"soccer_epl"}, report.FailedSports)
	assert.Equal(t, 1, report.Opportunities)
	assert.Empty(t, f.oppCache.cleared, "a failed sport keeps its snapshot")
}

func TestRunOnce_AllFetchesFailEscalates(t *testing.T) {
	f := newFixture()
	f.fetcher.errs["basketball_nba"] = errors.Join(domain.ErrTransient, errors.New("timeout"))
	f.fetcher.errs["soccer_epl"] = errors.Join(domain.ErrTransient, errors.New("timeout"))

	report, err := f.pipeline(t).RunOnce(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStageFailed)
	assert.ErrorIs(t, err, domain.ErrTransient)
	assert.Zero(t, report.Opportunities)
	assert.Equal(t, []string{notify.EventPassFailed}, f.alerter.events)
	require.Len(t, f.audit.details, 1)
	assert.Contains(t, f.audit.details[0]["error"], "fetch")
}

func TestRunOnce_CacheDownDegrades(t *testing.T) {
	f := newFixture()
	down := errors.Join(domain.ErrCacheUnavailable, errors.New("connection refused"))
	f.oddsCache.err = down
	f.oppCache.err = down

	report, err := f.pipeline(t).RunOnce(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStageFailed)
	assert.ErrorIs(t, err, domain.ErrCacheUnavailable)

	// Persistence and broadcast still happen.
	assert.Equal(t, 1, report.Persisted)
	assert.Len(t, f.broadcaster.sent, 1)
	assert.Equal(t, report.CacheOps, report.CacheFailures)
}

func TestRunOnce_PartialCacheFailureIsNotEscalated(t *testing.T) {
	f := newFixture()
	f.oddsCache.err = errors.New("odds write timed out")
	var logs bytes.Buffer
	f.logger = slog.New(slog.NewTextHandler(&logs, nil))

	report, err := f.pipeline(t).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.CacheFailures)
	assert.Greater(t, report.CacheOps, 1)

	// The single failure is logged with its op even though the pass succeeds.
	out := logs.String()
	assert.Contains(t, out, `msg="cache write failed"`)
	assert.Contains(t, out, "op=put_events")
	assert.Contains(t, out, "odds write timed out")
	assert.NotContains(t, out, "cache unreachable for the whole pass")
}

func TestRunOnce_RepeatedArbitrageKeepsItsID(t *testing.T) {
	f := newFixture()
	p := f.pipeline(t)

	_, err := p.RunOnce(context.Background())
	require.NoError(t, err)
	_, err = p.RunOnce(context.Background())
	require.NoError(t, err)

	require.Len(t, f.store.saved, 2)
	assert.Equal(t, f.store.saved[0].ID, f.store.saved[1].ID)
}

func TestRunOnce_ReportsEmptyMarkets(t *testing.T) {
	f := newFixture()
	f.fetcher.payloads["soccer_epl"] = []byte(`[{
		"id": "flat", "commence_time": "2099-01-01T00:00:00Z",
		"home_team": "A", "away_team": "B",
		"bookmakers": [
			{"key": "bk1", "markets": [{"key": "h2h", "outcomes": []}]},
			{"key": "bk2", "markets": [{"key": "h2h", "outcomes": [{"name": "A", "price": 1.90}, {"name": "B", "price": 1.80}]}]}
		]}]`)

	report, err := f.pipeline(t).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.EmptyMarkets)
	assert.Equal(t, 2, report.Events)
}

func TestRunOnce_NoCollaborators(t *testing.T) {
	f := newFixture()
	p := f.pipeline(t, func(d *Deps) {
		d.OddsCache, d.OpportunityCache, d.Store = nil, nil, nil
		d.Alerter, d.Audit = nil, nil
	})
	report, err := p.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Opportunities)
	assert.Len(t, f.broadcaster.sent, 1)
}

func TestRunOnce_AllSavesFailStillBroadcasts(t *testing.T) {
	f := newFixture()
	f.store.saveErr = errors.New("db down")

	report, err := f.pipeline(t).RunOnce(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStageFailed)
	assert.Equal(t, 1, report.PersistFailed)
	assert.Len(t, f.broadcaster.sent, 1)
	assert.Len(t, f.oppCache.put, 1)
}

func TestRunOnce_ExpiresCommenced(t *testing.T) {
	f := newFixture()
	f.store.expired = []string{"old-1", "old-2"}

	report, err := f.pipeline(t).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Expired)
	assert.Equal(t, []string{"old-1", "old-2"}, f.oppCache.removed)
	for _, o := range f.broadcaster.sent {
		assert.NotContains(t, []string{"old-1", "old-2"}, o.ID)
	}
}

func TestRunOnce_SkipsWhenLockHeld(t *testing.T) {
	f := newFixture()
	p := f.pipeline(t, func(d *Deps) { d.Locks = fakeLocks{err: domain.ErrLockHeld} })
	p.cfg.LockTTL = time.Minute

	report, err := p.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Skipped)
	assert.Empty(t, f.broadcaster.sent)
	assert.Empty(t, f.audit.details)
}

func TestRunOnce_LockErrorRunsUnlocked(t *testing.T) {
	f := newFixture()
	p := f.pipeline(t, func(d *Deps) { d.Locks = fakeLocks{err: errors.New("redis down")} })
	p.cfg.LockTTL = time.Minute

	report, err := p.RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, report.Skipped)
	assert.Equal(t, 1, report.Opportunities)
}

func TestRunOnce_CancelledContext(t *testing.T) {
	f := newFixture()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.pipeline(t).RunOnce(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, f.broadcaster.sent)
	assert.Empty(t, f.alerter.events, "shutdown is not a pass failure")
}

func TestNew_RequiresCoreStages(t *testing.T) {
	_, err := New(Config{}, Deps{}, discard())
	assert.Error(t, err)
}

type countingPasser struct {
	mu    sync.Mutex
	calls int
}

func (c *countingPasser) RunOnce(context.Context) (Report, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return Report{}, errors.New("ignored")
}

func (c *countingPasser) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func TestRunner_RunsOnStartAndOnTick(t *testing.T) {
	cp := &countingPasser{}
	r := NewRunner(cp, 10*time.Millisecond, true, discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	assert.Eventually(t, func() bool { return cp.count() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("runner did not stop")
	}
}

func TestRunner_NoRunOnStart(t *testing.T) {
	cp := &countingPasser{}
	r := NewRunner(cp, time.Hour, false, discard())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.NoError(t, r.Run(ctx))
	assert.Zero(t, cp.count())
}
