package normalize_test

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/oddsarb/internal/arbitrage"
	"github.com/alanyoungcy/oddsarb/internal/domain"
	"github.com/alanyoungcy/oddsarb/internal/normalize"
)

var fixedNow = time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

func newNormalizer() *normalize.Normalizer {
	return normalize.New("", slog.New(slog.NewTextHandler(io.Discard, nil)),
		normalize.WithClock(func() time.Time { return fixedNow }))
}

func loadFixture(t *testing.T) []byte {
	t.Helper()
	data, err := os.ReadFile("testdata/nba_odds.json")
	require.NoError(t, err)
	return data
}

func TestNormalize_Fixture(t *testing.T) {
	set, stats, err := newNormalizer().NormalizeWithStats("basketball_nba", loadFixture(t))
	require.NoError(t, err)

	// Missing commence time, no bookmakers and all-invalid events are dropped.
	require.Len(t, set, 2)
	assert.Equal(t, 3, stats.DroppedEvents)
	assert.Equal(t, 2, stats.Events)

	ev, ok := set["evt-lakers-celtics"]
	require.True(t, ok)
	assert.Equal(t, "basketball_nba", ev.SportKey)
	assert.Equal(t, "Los Angeles Lakers @ Boston Celtics", ev.EventName)
	assert.Equal(t, "h2h", ev.Market)
	assert.Equal(t, time.Date(2026, 10, 20, 23, 30, 0, 0, time.UTC), ev.CommenceTime)
	assert.Equal(t, []string{"Boston Celtics", "Los Angeles Lakers"}, ev.Outcomes)

	// The spreads market and the two invalid prices are ignored.
	require.Len(t, ev.Quotes["Boston Celtics"], 2)
	require.Len(t, ev.Quotes["Los Angeles Lakers"], 2)
	for _, qs := range ev.Quotes {
		for _, q := range qs {
			assert.Greater(t, q.Odds, 1.0)
			assert.NotEqual(t, "brokenbook", q.SourceID)
			assert.Equal(t, fixedNow, q.ObservedAt)
			assert.Equal(t, "evt-lakers-celtics", q.EventID)
		}
	}

	best, ok := ev.BestQuotes()
	require.True(t, ok)
	assert.Equal(t, "draftkings", best[0].SourceID)
	assert.InDelta(t, 2.15, best[0].Odds, 1e-9)
	assert.Equal(t, "fanduel", best[1].SourceID)
	assert.InDelta(t, 2.05, best[1].Odds, 1e-9)
}

func TestNormalize_IncompleteEventKeptButNotEvaluable(t *testing.T) {
	set, err := newNormalizer().Normalize("basketball_nba", loadFixture(t))
	require.NoError(t, err)

	ev, ok := set["evt-one-sided"]
	require.True(t, ok)
	assert.Equal(t, []string{"M", "N"}, ev.Outcomes)
	assert.Empty(t, ev.Quotes["N"])

	_, complete := ev.BestQuotes()
	assert.False(t, complete)
}

func TestNormalize_Deterministic(t *testing.T) {
	n := newNormalizer()
	a, err := n.Normalize("basketball_nba", loadFixture(t))
	require.NoError(t, err)
	b, err := n.Normalize("basketball_nba", loadFixture(t))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestNormalize_BadPayload(t *testing.T) {
	_, err := newNormalizer().Normalize("soccer_epl", []byte(`{"message":"quota exceeded"}`))
	require.Error(t, err)

	var ne *normalize.Error
	require.True(t, errors.As(err, &ne))
	assert.Equal(t, "soccer_epl", ne.SportKey)
	assert.True(t, errors.Is(err, domain.ErrValidation))
}

func TestNormalize_EmptyArray(t *testing.T) {
	set, err := newNormalizer().Normalize("soccer_epl", []byte(`[]`))
	require.NoError(t, err)
	assert.Empty(t, set)
}

func TestNormalize_OtherMarket(t *testing.T) {
	n := normalize.New("spreads", slog.New(slog.NewTextHandler(io.Discard, nil)))
	set, err := n.Normalize("basketball_nba", loadFixture(t))
	require.NoError(t, err)
	require.Len(t, set, 1)
	ev, ok := set["evt-lakers-celtics:-4.5"]
	require.True(t, ok)
	assert.Equal(t, "spreads", ev.Market)
	assert.Equal(t, "Los Angeles Lakers @ Boston Celtics (-4.5)", ev.EventName)
	assert.Equal(t, []string{"Boston Celtics -4.5", "Los Angeles Lakers 4.5"}, ev.Outcomes)
	assert.Len(t, ev.Quotes["Boston Celtics -4.5"], 1)
}

func totalsEvent(books string) []byte {
	return []byte(`[{"id":"g1","commence_time":"2026-10-20T00:00:00Z","home_team":"H","away_team":"A",
	 "bookmakers":[` + books + `]}]`)
}

func TestNormalize_TotalsLinesAreSeparateEvents(t *testing.T) {
	payload := totalsEvent(`
	 {"key":"bk1","markets":[{"key":"totals","outcomes":[
	   {"name":"Over","price":2.20,"point":210.5},{"name":"Under","price":1.70,"point":210.5}]}]},
	 {"key":"bk2","markets":[{"key":"totals","outcomes":[
	   {"name":"Over","price":1.70,"point":230.5},{"name":"Under","price":2.20,"point":230.5}]}]},
	 {"key":"bk3","markets":[{"key":"totals","outcomes":[
	   {"name":"Over","price":1.95,"point":210.5},{"name":"Under","price":1.75,"point":210.5}]}]}`)

	n := normalize.New("totals", slog.New(slog.NewTextHandler(io.Discard, nil)))
	set, err := n.Normalize("basketball_nba", payload)
	require.NoError(t, err)
	require.Len(t, set, 2)

	low := set["g1:210.5"]
	assert.Equal(t, []string{"Over 210.5", "Under 210.5"}, low.Outcomes)
	assert.Len(t, low.Quotes["Over 210.5"], 2)
	high := set["g1:230.5"]
	assert.Equal(t, []string{"Over 230.5", "Under 230.5"}, high.Outcomes)

	// Over 2.20 at one line and Under 2.20 at another never meet: each line
	// on its own is overround.
	engine := arbitrage.NewEngine(arbitrage.EngineConfig{MinProfitThreshold: 0, TotalStake: 1000})
	for id, ev := range set {
		assert.Nil(t, engine.Evaluate(ev), id)
	}
}

func TestNormalize_FlippedSpreadsStayApart(t *testing.T) {
	payload := totalsEvent(`
	 {"key":"bk1","markets":[{"key":"spreads","outcomes":[
	   {"name":"H","price":2.10,"point":-3.5},{"name":"A","price":1.75,"point":3.5}]}]},
	 {"key":"bk2","markets":[{"key":"spreads","outcomes":[
	   {"name":"H","price":1.75,"point":3.5},{"name":"A","price":2.10,"point":-3.5}]}]}`)

	n := normalize.New("spreads", slog.New(slog.NewTextHandler(io.Discard, nil)))
	set, err := n.Normalize("basketball_nba", payload)
	require.NoError(t, err)
	require.Len(t, set, 2)
	assert.Equal(t, []string{"A 3.5", "H -3.5"}, set["g1:3.5"].Outcomes)
	assert.Equal(t, []string{"A -3.5", "H 3.5"}, set["g1:-3.5"].Outcomes)
}

func TestNormalize_EmptyMarketBlocksAreCounted(t *testing.T) {
	payload := totalsEvent(`
	 {"key":"bk1","markets":[{"key":"h2h","outcomes":[]}]},
	 {"key":"bk2","markets":[{"key":"h2h","outcomes":[{"name":"H","price":2.0},{"name":"A","price":2.1}]}]}`)

	set, stats, err := newNormalizer().NormalizeWithStats("basketball_nba", payload)
	require.NoError(t, err)
	require.Len(t, set, 1)
	assert.Equal(t, 1, stats.EmptyMarkets)
	assert.Zero(t, stats.DroppedEvents)

	// An event whose only block is empty has nothing to keep.
	_, stats, err = newNormalizer().NormalizeWithStats("basketball_nba",
		totalsEvent(`{"key":"bk1","markets":[{"key":"h2h","outcomes":[]}]}`))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.EmptyMarkets)
	assert.Equal(t, 1, stats.DroppedEvents)
}

func TestNormalize_DuplicateEventsMerged(t *testing.T) {
	payload := []byte(`[
	{"id":"e","commence_time":"2026-10-20T00:00:00Z","home_team":"H","away_team":"A",
	 "bookmakers":[{"key":"b1","markets":[{"key":"h2h","outcomes":[{"name":"H","price":2.0}]}]}]},
	{"id":"e","commence_time":"2026-10-20T00:00:00Z","home_team":"H","away_team":"A",
	 "bookmakers":[{"key":"b2","markets":[{"key":"h2h","outcomes":[{"name":"A","price":2.2}]}]}]}
	]`)
	set, err := newNormalizer().Normalize("x", payload)
	require.NoError(t, err)
	require.Len(t, set, 1)
	assert.Equal(t, []string{"A", "H"}, set["e"].Outcomes)
	_, ok := set["e"].BestQuotes()
	assert.True(t, ok)
}
