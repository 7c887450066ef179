package domain

import (
	"context"
	"time"
)

// OpportunityFilter narrows OpportunityStore.Query results. Zero values are
// ignored.
type OpportunityFilter struct {
	Sport          string
	EventID        string
	IncludeExpired bool
	MinProfit      float64
	Since          *time.Time
	Limit          int
	Offset         int
}

// OpportunityStore persists detected opportunities.
type OpportunityStore interface {
	Save(ctx context.Context, opp Opportunity) error
	MarkExpired(ctx context.Context, id string) error
	// ExpireCommenced marks every unexpired opportunity whose event has
	// started by now and returns the affected IDs.
	ExpireCommenced(ctx context.Context, now time.Time) ([]string, error)
	GetByID(ctx context.Context, id string) (Opportunity, error)
	Query(ctx context.Context, f OpportunityFilter) ([]Opportunity, error)
}

// AuditEntry is one recorded pipeline event, such as a completed pass.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore is an append-only log of pipeline events.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	Recent(ctx context.Context, event string, limit int) ([]AuditEntry, error)
}

// AuditPassCompleted is logged once per finished pipeline pass.
const AuditPassCompleted = "pass_completed"
