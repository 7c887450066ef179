package domain

import "time"

// Bet is one leg of an arbitrage: the stake to place on an outcome at a
// given source.
type Bet struct {
	SourceID        string  `json:"source_id"`
	Outcome         string  `json:"outcome"`
	Odds            float64 `json:"odds"`
	Stake           float64 `json:"stake"`
	PotentialReturn float64 `json:"potential_return"`
}

// Opportunity is a detected arbitrage across the best prices of an event.
//
// ProfitPercentage is the arbitrage margin (100 minus the summed implied
// probabilities). ReturnPercentage is the guaranteed profit relative to
// TotalStake. Monetary fields are rounded to two decimals.
type Opportunity struct {
	ID               string    `json:"opportunity_id"`
	EventID          string    `json:"event_id"`
	SportKey         string    `json:"sport"`
	EventName        string    `json:"event_name"`
	CommenceTime     time.Time `json:"commence_time"`
	ImpliedTotal     float64   `json:"implied_total"`
	ProfitPercentage float64   `json:"profit_percentage"`
	ReturnPercentage float64   `json:"return_percentage"`
	TotalStake       float64   `json:"total_stake"`
	GuaranteedReturn float64   `json:"guaranteed_return"`
	GuaranteedProfit float64   `json:"guaranteed_profit"`
	Bets             []Bet     `json:"bets"`
	DetectedAt       time.Time `json:"detected_at"`
	Expired          bool      `json:"expired"`
}

// Commenced reports whether the event has started at the given instant.
func (o Opportunity) Commenced(now time.Time) bool {
	return !o.CommenceTime.IsZero() && !now.Before(o.CommenceTime)
}
