package pipeline

import (
	"log/slog"
	"time"

	"github.com/alanyoungcy/oddsarb/internal/arbitrage"
	"github.com/alanyoungcy/oddsarb/internal/server/ws"
)

// Report summarises one pass.
type Report struct {
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Skipped   bool          `json:"skipped,omitempty"`

	Sports        int      `json:"sports"`
	SportsFetched int      `json:"sports_fetched"`
	FailedSports  []string `json:"failed_sports,omitempty"`

	Events        int `json:"events"`
	DroppedEvents int `json:"dropped_events"`
	DroppedQuotes int `json:"dropped_quotes"`
	EmptyMarkets  int `json:"empty_markets"`

	Scan          arbitrage.ScanStats `json:"scan"`
	Opportunities int                 `json:"opportunities"`
	Expired       int                 `json:"expired"`
	Persisted     int                 `json:"persisted"`
	PersistFailed int                 `json:"persist_failed"`
	CacheOps      int                 `json:"cache_ops"`
	CacheFailures int                 `json:"cache_failures"`

	Broadcast ws.BroadcastReport `json:"broadcast"`
	Error     string             `json:"error,omitempty"`
}

func (r Report) logAttrs() []any {
	return []any{
		slog.Duration("duration", r.Duration),
		slog.Int("sports", r.Sports),
		slog.Int("sports_fetched", r.SportsFetched),
		slog.Int("events", r.Events),
		slog.Int("dropped_events", r.DroppedEvents),
		slog.Int("dropped_quotes", r.DroppedQuotes),
		slog.Int("empty_markets", r.EmptyMarkets),
		slog.Int("eval_failed", r.Scan.Failed),
		slog.Int("opportunities", r.Opportunities),
		slog.Int("expired", r.Expired),
		slog.Int("persisted", r.Persisted),
		slog.Int("cache_failures", r.CacheFailures),
		slog.Int("delivered", r.Broadcast.Delivered),
		slog.Int("disconnected", len(r.Broadcast.Disconnected)),
	}
}

// auditDetail flattens the report into the audit log's JSON detail.
func (r Report) auditDetail() map[string]any {
	d := map[string]any{
		"started_at":     r.StartedAt.Format(time.RFC3339Nano),
		"duration_ms":    r.Duration.Milliseconds(),
		"sports":         r.Sports,
		"sports_fetched": r.SportsFetched,
		"events":         r.Events,
		"dropped_events": r.DroppedEvents,
		"dropped_quotes": r.DroppedQuotes,
		"empty_markets":  r.EmptyMarkets,
		"opportunities":  r.Opportunities,
		"expired":        r.Expired,
		"persisted":      r.Persisted,
		"persist_failed": r.PersistFailed,
		"cache_failures": r.CacheFailures,
		"delivered":      r.Broadcast.Delivered,
	}
	if len(r.FailedSports) > 0 {
		d["failed_sports"] = r.FailedSports
	}
	if r.Error != "" {
		d["error"] = r.Error
	}
	return d
}
