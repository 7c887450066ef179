package oddsapi

import "encoding/json"

// APIEvent is a single event as returned by GET /sports/{sport}/odds.
type APIEvent struct {
	ID           string         `json:"id"`
	SportKey     string         `json:"sport_key"`
	SportTitle   string         `json:"sport_title"`
	CommenceTime string         `json:"commence_time"`
	HomeTeam     string         `json:"home_team"`
	AwayTeam     string         `json:"away_team"`
	Bookmakers   []APIBookmaker `json:"bookmakers"`
}

// APIBookmaker is one source's block of markets for an event.
type APIBookmaker struct {
	Key        string      `json:"key"`
	Title      string      `json:"title"`
	LastUpdate string      `json:"last_update"`
	Markets    []APIMarket `json:"markets"`
}

// APIMarket is a market (h2h, spreads, totals, ...) offered by a bookmaker.
type APIMarket struct {
	Key        string       `json:"key"`
	LastUpdate string       `json:"last_update"`
	Outcomes   []APIOutcome `json:"outcomes"`
}

// APIOutcome is a priced outcome. Price is kept raw because upstream
// occasionally sends strings or nulls; the normalizer decides validity.
type APIOutcome struct {
	Name  string          `json:"name"`
	Price json.RawMessage `json:"price"`
	Point *float64        `json:"point,omitempty"`
}

// DecodeEvents parses a raw /odds payload.
func DecodeEvents(payload []byte) ([]APIEvent, error) {
	var events []APIEvent
	if err := json.Unmarshal(payload, &events); err != nil {
		return nil, err
	}
	return events, nil
}
