// Package arbitrage implements the arbitrage math over an event's best
// prices and a bounded concurrent scanner that applies it across events.
package arbitrage

import (
	"errors"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/oddsarb/internal/domain"
)

const (
	// DefaultMinProfitThreshold is the minimum margin, in percent, reported.
	DefaultMinProfitThreshold = 1.0
	// DefaultTotalStake is the stake allocated across legs when none is set.
	DefaultTotalStake = 1000.0
	// ReturnTolerance bounds how far any leg's pre-rounding return may drift
	// from the guaranteed return.
	ReturnTolerance = 0.01
)

// ErrDegenerate is returned by Analyze for inputs the math cannot handle:
// fewer than two outcomes, odds <= 1.0, non-finite values or a
// non-positive stake.
var ErrDegenerate = errors.New("arbitrage: degenerate odds")

// Analysis holds the unrounded results of the arbitrage math for one
// outcome set.
type Analysis struct {
	ImpliedProbabilities []float64
	ImpliedTotal         float64
	// Margin is 100 - ImpliedTotal; positive when IsArbitrage.
	Margin           float64
	IsArbitrage      bool
	TotalStake       float64
	Stakes           []float64
	Returns          []float64
	GuaranteedReturn float64
	Profit           float64
	ReturnPercentage float64
}

// ImpliedProbability returns 100/odds, the bookmaker's priced likelihood in
// percent.
func ImpliedProbability(odds float64) float64 {
	return 100 / odds
}

// Analyze runs the full computation for decimal odds and totalStake. Stakes
// are weighted by 1/odds_i, which makes every leg return the same amount.
func Analyze(odds []float64, totalStake float64) (Analysis, error) {
	if len(odds) < 2 || !(totalStake > 0) || math.IsInf(totalStake, 0) {
		return Analysis{}, ErrDegenerate
	}
	for _, o := range odds {
		if !(o > 1.0) || math.IsInf(o, 0) {
			return Analysis{}, ErrDegenerate
		}
	}

	a := Analysis{
		ImpliedProbabilities: make([]float64, len(odds)),
		TotalStake:           totalStake,
		Stakes:               make([]float64, len(odds)),
		Returns:              make([]float64, len(odds)),
	}

	var sumWeights float64
	for i, o := range odds {
		p := ImpliedProbability(o)
		a.ImpliedProbabilities[i] = p
		a.ImpliedTotal += p
		sumWeights += 1 / o
	}
	a.Margin = 100 - a.ImpliedTotal
	a.IsArbitrage = a.ImpliedTotal < 100

	for i, o := range odds {
		a.Stakes[i] = totalStake * (1 / o) / sumWeights
		a.Returns[i] = a.Stakes[i] * o
	}
	a.GuaranteedReturn = a.Returns[0]
	a.Profit = a.GuaranteedReturn - totalStake
	a.ReturnPercentage = 100 * a.Profit / totalStake

	return a, nil
}

// EqualReturns reports whether every leg returns within ReturnTolerance of
// the guaranteed return.
func (a Analysis) EqualReturns() bool {
	for _, r := range a.Returns {
		if math.Abs(r-a.GuaranteedReturn) > ReturnTolerance {
			return false
		}
	}
	return true
}

// EngineConfig holds the two thresholds the engine depends on.
type EngineConfig struct {
	MinProfitThreshold float64
	TotalStake         float64
}

// Engine evaluates one event at a time. It is safe for concurrent use.
type Engine struct {
	minProfit  float64
	totalStake float64
	now        func() time.Time
	newID      func(eventID string, bets []domain.Bet) string
}

// NewEngine creates an Engine. A zero TotalStake falls back to
// DefaultTotalStake; a negative threshold is treated as zero.
func NewEngine(cfg EngineConfig) *Engine {
	stake := cfg.TotalStake
	if stake <= 0 {
		stake = DefaultTotalStake
	}
	minProfit := cfg.MinProfitThreshold
	if minProfit < 0 {
		minProfit = 0
	}
	return &Engine{
		minProfit:  minProfit,
		totalStake: stake,
		now:        func() time.Time { return time.Now().UTC() },
		newID:      OpportunityID,
	}
}

// MinProfitThreshold returns the configured threshold.
func (e *Engine) MinProfitThreshold() float64 { return e.minProfit }

// TotalStake returns the configured stake.
func (e *Engine) TotalStake() float64 { return e.totalStake }

// Evaluate returns an opportunity for ev's best prices, or nil when the set
// is incomplete, not an arbitrage, below threshold, or degenerate.
func (e *Engine) Evaluate(ev domain.EventOdds) *domain.Opportunity {
	best, ok := ev.BestQuotes()
	if !ok {
		return nil
	}

	odds := make([]float64, len(best))
	for i, q := range best {
		odds[i] = q.Odds
	}

	a, err := Analyze(odds, e.totalStake)
	if err != nil || !a.IsArbitrage {
		return nil
	}
	if a.Margin < e.minProfit {
		return nil
	}
	if !a.EqualReturns() {
		return nil
	}

	bets := make([]domain.Bet, len(best))
	for i, q := range best {
		bets[i] = domain.Bet{
			SourceID:        q.SourceID,
			Outcome:         q.Outcome,
			Odds:            q.Odds,
			Stake:           round2(a.Stakes[i]),
			PotentialReturn: round2(a.Returns[i]),
		}
	}

	return &domain.Opportunity{
		ID:               e.newID(ev.EventID, bets),
		EventID:          ev.EventID,
		SportKey:         ev.SportKey,
		EventName:        ev.EventName,
		CommenceTime:     ev.CommenceTime,
		ImpliedTotal:     round4(a.ImpliedTotal),
		ProfitPercentage: round2(a.Margin),
		ReturnPercentage: round2(a.ReturnPercentage),
		TotalStake:       round2(a.TotalStake),
		GuaranteedReturn: round2(a.GuaranteedReturn),
		GuaranteedProfit: round2(a.Profit),
		Bets:             bets,
		DetectedAt:       e.now(),
	}
}

// opportunityNamespace scopes the name-based UUIDs of OpportunityID.
var opportunityNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("oddsarb/opportunity"))

// OpportunityID derives a stable UUID from the event and the
// (bookmaker, outcome) legs. The same arbitrage seen on consecutive passes
// keeps its id while prices move; a different bookmaker on any leg is a
// different opportunity.
func OpportunityID(eventID string, bets []domain.Bet) string {
	legs := make([]string, len(bets))
	for i, b := range bets {
		legs[i] = b.Outcome + "\x1f" + b.SourceID
	}
	sort.Strings(legs)
	name := eventID + "\x1e" + strings.Join(legs, "\x1e")
	return uuid.NewSHA1(opportunityNamespace, []byte(name)).String()
}

func round2(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

func round4(v float64) float64 {
	return decimal.NewFromFloat(v).Round(4).InexactFloat64()
}
