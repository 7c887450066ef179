package domain

import (
	"sort"
	"time"
)

// OutcomeQuote is a single bookmaker price for one outcome of an event.
// Odds are decimal and always > 1.0 once past normalization.
type OutcomeQuote struct {
	EventID    string    `json:"event_id"`
	Outcome    string    `json:"outcome"`
	SourceID   string    `json:"source_id"`
	Odds       float64   `json:"odds"`
	ObservedAt time.Time `json:"observed_at"`
}

// EventOdds holds every valid quote collected for one event, grouped by
// outcome name. Outcomes lists the outcome names the event defines for the
// market, sorted, whether or not a valid quote exists for each.
type EventOdds struct {
	EventID      string                    `json:"event_id"`
	SportKey     string                    `json:"sport_key"`
	EventName    string                    `json:"event_name"`
	Market       string                    `json:"market"`
	CommenceTime time.Time                 `json:"commence_time"`
	Outcomes     []string                  `json:"outcomes"`
	Quotes       map[string][]OutcomeQuote `json:"quotes"`
}

// EventOddsSet maps event ID to its collected odds.
type EventOddsSet map[string]EventOdds

// BestQuotes returns, for each defined outcome, the quote with the highest
// decimal odds. The result follows the order of Outcomes. ok is false when
// fewer than two outcomes are defined or any defined outcome has no quote.
func (e EventOdds) BestQuotes() (best []OutcomeQuote, ok bool) {
	if len(e.Outcomes) < 2 {
		return nil, false
	}
	best = make([]OutcomeQuote, 0, len(e.Outcomes))
	for _, name := range e.Outcomes {
		quotes := e.Quotes[name]
		if len(quotes) == 0 {
			return nil, false
		}
		top := quotes[0]
		for _, q := range quotes[1:] {
			// Ties keep the lexically first source so results are stable.
			if q.Odds > top.Odds || (q.Odds == top.Odds && q.SourceID < top.SourceID) {
				top = q
			}
		}
		best = append(best, top)
	}
	return best, true
}

// QuoteCount returns the total number of quotes held.
func (e EventOdds) QuoteCount() int {
	n := 0
	for _, qs := range e.Quotes {
		n += len(qs)
	}
	return n
}

// Events returns the set's events sorted by commence time, then ID.
func (s EventOddsSet) Events() []EventOdds {
	out := make([]EventOdds, 0, len(s))
	for _, ev := range s {
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CommenceTime.Equal(out[j].CommenceTime) {
			return out[i].CommenceTime.Before(out[j].CommenceTime)
		}
		return out[i].EventID < out[j].EventID
	})
	return out
}
