// Package normalize turns raw odds source payloads into domain.EventOddsSet
// values keyed by event and outcome.
package normalize

import (
	"bytes"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/oddsarb/internal/domain"
	"github.com/alanyoungcy/oddsarb/internal/platform/oddsapi"
)

// DefaultMarket is the market evaluated when none is configured.
const DefaultMarket = "h2h"

// Error is returned when a whole payload cannot be normalized.
type Error struct {
	SportKey string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("normalize: sport %s: %v", e.SportKey, e.Err)
}

func (e *Error) Unwrap() []error {
	return []error{domain.ErrValidation, e.Err}
}

// Stats counts what a Normalize call kept and dropped. EmptyMarkets counts
// bookmaker blocks of the configured market that carried no outcomes.
type Stats struct {
	Events        int
	DroppedEvents int
	Quotes        int
	DroppedQuotes int
	EmptyMarkets  int
}

// Normalizer converts payloads for a single market key.
type Normalizer struct {
	market string
	now    func() time.Time
	logger *slog.Logger
}

// Option customises a Normalizer.
type Option func(*Normalizer)

// WithClock overrides the clock used to stamp observed_at.
func WithClock(now func() time.Time) Option {
	return func(n *Normalizer) { n.now = now }
}

// New creates a Normalizer for market (DefaultMarket when empty).
func New(market string, logger *slog.Logger, opts ...Option) *Normalizer {
	if market == "" {
		market = DefaultMarket
	}
	n := &Normalizer{
		market: market,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.With(slog.String("component", "normalizer")),
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

// Normalize decodes payload and groups its valid quotes by event and
// outcome. Individual bad quotes and events are dropped and logged; only an
// undecodable payload returns an error.
func (n *Normalizer) Normalize(sportKey string, payload []byte) (domain.EventOddsSet, error) {
	set, _, err := n.NormalizeWithStats(sportKey, payload)
	return set, err
}

// NormalizeWithStats is Normalize plus drop counters.
func (n *Normalizer) NormalizeWithStats(sportKey string, payload []byte) (domain.EventOddsSet, Stats, error) {
	var stats Stats

	events, err := oddsapi.DecodeEvents(payload)
	if err != nil {
		return nil, stats, &Error{SportKey: sportKey, Err: fmt.Errorf("decode payload: %w", err)}
	}

	observedAt := n.now()
	set := make(domain.EventOddsSet, len(events))

	for i := range events {
		res, err := n.normalizeEvent(sportKey, &events[i], observedAt)
		stats.DroppedQuotes += res.droppedQuotes
		stats.EmptyMarkets += res.emptyMarkets
		if err != nil {
			stats.DroppedEvents++
			n.logger.Debug("dropping event",
				slog.String("sport", sportKey),
				slog.String("event_id", events[i].ID),
				slog.String("reason", err.Error()),
			)
			continue
		}
		for _, ev := range res.events {
			if existing, ok := set[ev.EventID]; ok {
				ev = merge(existing, ev)
			}
			set[ev.EventID] = ev
		}
	}

	stats.Events = len(set)
	for _, ev := range set {
		stats.Quotes += ev.QuoteCount()
	}

	if stats.DroppedEvents > 0 || stats.DroppedQuotes > 0 || stats.EmptyMarkets > 0 {
		n.logger.Info("normalized payload with drops",
			slog.String("sport", sportKey),
			slog.Int("events", stats.Events),
			slog.Int("dropped_events", stats.DroppedEvents),
			slog.Int("dropped_quotes", stats.DroppedQuotes),
			slog.Int("empty_markets", stats.EmptyMarkets),
		)
	}

	return set, stats, nil
}

// eventResult is what one raw event contributes to a set.
type eventResult struct {
	events        []domain.EventOdds
	droppedQuotes int
	emptyMarkets  int
}

// lineGroup collects the outcomes of one line of a market. Markets without
// points (h2h) have a single group with an empty line.
type lineGroup struct {
	defined map[string]bool
	quotes  map[string][]domain.OutcomeQuote
}

func (n *Normalizer) normalizeEvent(sportKey string, ev *oddsapi.APIEvent, observedAt time.Time) (eventResult, error) {
	var res eventResult
	id := strings.TrimSpace(ev.ID)
	if id == "" {
		return res, fmt.Errorf("%w: missing event id", domain.ErrValidation)
	}
	if ev.CommenceTime == "" {
		return res, fmt.Errorf("%w: missing commence_time", domain.ErrValidation)
	}
	commence, err := time.Parse(time.RFC3339, ev.CommenceTime)
	if err != nil {
		return res, fmt.Errorf("%w: bad commence_time %q", domain.ErrValidation, ev.CommenceTime)
	}
	if len(ev.Bookmakers) == 0 {
		return res, fmt.Errorf("%w: no bookmakers", domain.ErrValidation)
	}

	groups := make(map[string]*lineGroup)
	group := func(line string) *lineGroup {
		g, ok := groups[line]
		if !ok {
			g = &lineGroup{defined: map[string]bool{}, quotes: map[string][]domain.OutcomeQuote{}}
			groups[line] = g
		}
		return g
	}

	for _, bk := range ev.Bookmakers {
		source := strings.TrimSpace(bk.Key)
		if source == "" {
			source = strings.TrimSpace(bk.Title)
		}
		for _, mkt := range bk.Markets {
			if mkt.Key != n.market {
				continue
			}
			if len(mkt.Outcomes) == 0 {
				res.emptyMarkets++
				continue
			}
			line := blockLine(mkt.Outcomes)
			g := group(line)
			for _, oc := range mkt.Outcomes {
				name := strings.TrimSpace(oc.Name)
				if name == "" {
					res.droppedQuotes++
					continue
				}
				if oc.Point != nil {
					if !finite(*oc.Point) {
						res.droppedQuotes++
						continue
					}
					name += " " + formatPoint(*oc.Point)
				}
				g.defined[name] = true
				if source == "" {
					res.droppedQuotes++
					continue
				}
				odds, ok := parseOdds(oc.Price)
				if !ok {
					res.droppedQuotes++
					continue
				}
				g.quotes[name] = append(g.quotes[name], domain.OutcomeQuote{
					EventID:    lineEventID(id, line),
					Outcome:    name,
					SourceID:   source,
					Odds:       odds,
					ObservedAt: observedAt,
				})
			}
		}
	}

	lines := make([]string, 0, len(groups))
	for line := range groups {
		lines = append(lines, line)
	}
	sort.Strings(lines)

	for _, line := range lines {
		g := groups[line]
		if len(g.quotes) == 0 {
			continue
		}
		res.events = append(res.events, domain.EventOdds{
			EventID:      lineEventID(id, line),
			SportKey:     sportKey,
			EventName:    lineEventName(eventName(ev), line),
			Market:       n.market,
			CommenceTime: commence.UTC(),
			Outcomes:     sortedKeys(g.defined),
			Quotes:       g.quotes,
		})
	}

	if len(res.events) == 0 {
		return res, fmt.Errorf("%w: no valid %s quotes", domain.ErrValidation, n.market)
	}
	return res, nil
}

// blockLine identifies the line a bookmaker's market block is quoted on: the
// point of its alphabetically first outcome. Over/Under 210.5 gives "210.5";
// a spread block gives the first team's handicap, so "A -3.5 / B +3.5" and
// "A +3.5 / B -3.5" stay apart. Markets without points have no line.
func blockLine(outcomes []oddsapi.APIOutcome) string {
	first, line := "", ""
	for _, oc := range outcomes {
		name := strings.TrimSpace(oc.Name)
		if name == "" || oc.Point == nil || !finite(*oc.Point) {
			continue
		}
		if first == "" || name < first {
			first, line = name, formatPoint(*oc.Point)
		}
	}
	return line
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

// lineEventID keys each line of a point market as its own event, so prices
// quoted on different lines are never compared against each other.
func lineEventID(id, line string) string {
	if line == "" {
		return id
	}
	return id + ":" + line
}

func lineEventName(name, line string) string {
	if line == "" {
		return name
	}
	return name + " (" + line + ")"
}

func formatPoint(p float64) string {
	return strconv.FormatFloat(p, 'f', -1, 64)
}

// parseOdds accepts JSON numbers and numeric strings; anything not finite
// and strictly above 1.0 is rejected.
func parseOdds(raw []byte) (float64, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, false
	}
	s := string(raw)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v <= 1.0 {
		return 0, false
	}
	return v, true
}

func eventName(ev *oddsapi.APIEvent) string {
	home := strings.TrimSpace(ev.HomeTeam)
	away := strings.TrimSpace(ev.AwayTeam)
	switch {
	case home != "" && away != "":
		return away + " @ " + home
	case home != "":
		return home
	case away != "":
		return away
	default:
		return ev.ID
	}
}

// merge folds a duplicate event entry into an existing one.
func merge(a, b domain.EventOdds) domain.EventOdds {
	defined := make(map[string]bool, len(a.Outcomes)+len(b.Outcomes))
	for _, o := range a.Outcomes {
		defined[o] = true
	}
	for _, o := range b.Outcomes {
		defined[o] = true
	}
	for name, qs := range b.Quotes {
		a.Quotes[name] = append(a.Quotes[name], qs...)
	}
	a.Outcomes = sortedKeys(defined)
	return a
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
