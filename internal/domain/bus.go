package domain

import (
	"context"
	"time"
)

// OpportunityChannel is the pub/sub channel detected opportunities are
// relayed on between a scanning process and a serving process.
const OpportunityChannel = "arb:opportunities"

// SignalBus carries raw payloads between processes.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe returns a channel that is closed when ctx is cancelled or
	// the subscription ends.
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// LockManager hands out short-lived exclusive locks. Acquire returns
// ErrLockHeld when another holder owns key.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}
