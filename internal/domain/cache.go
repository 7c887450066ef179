package domain

import (
	"context"
	"time"
)

// Cache is a short-TTL key/value store. It is advisory: callers must stay
// correct when every read misses and every write fails.
//
// Get returns ErrNotFound for absent or expired keys. GetMany omits absent
// keys from the result.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	GetMany(ctx context.Context, keys []string) (map[string][]byte, error)
	SetMany(ctx context.Context, items map[string][]byte, ttl time.Duration) error
}

// OddsCache stores normalized event odds. GetEvent returns ErrNotFound on
// a miss; SportEvents returns the events last written for a sport.
type OddsCache interface {
	PutEvents(ctx context.Context, events []EventOdds) error
	GetEvent(ctx context.Context, eventID string) (EventOdds, error)
	GetEvents(ctx context.Context, eventIDs []string) ([]EventOdds, error)
	SportEvents(ctx context.Context, sport string) ([]EventOdds, error)
}

// OpportunityCache stores computed opportunities and the current
// per-sport snapshot served to reconnecting clients.
type OpportunityCache interface {
	PutOpportunities(ctx context.Context, opps []Opportunity) error
	GetOpportunity(ctx context.Context, id string) (Opportunity, error)
	Current(ctx context.Context, sport string) ([]Opportunity, error)
	RemoveCurrent(ctx context.Context, ids []string) error
	// ClearCurrent empties the snapshot of each sport, used when a pass
	// evaluated a sport and found nothing.
	ClearCurrent(ctx context.Context, sports []string) error
}
