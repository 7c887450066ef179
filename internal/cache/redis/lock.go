package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/oddsarb/internal/domain"
)

// releaseLua deletes a lock key only when it still carries the caller's
// token.
const releaseLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// LockManager implements domain.LockManager with SET NX and a scripted
// conditional release. Scanner replicas sharing one Redis use it so only
// one of them runs a pass at a time.
type LockManager struct {
	c       *Client
	release *redis.Script
}

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		c:       c,
		release: redis.NewScript(releaseLua),
	}
}

func lockKey(key string) string { return "lock:" + key }

// Acquire obtains the lock for key for at most ttl. The returned unlock
// function is idempotent.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	lk := lockKey(key)

	opCtx, cancel := lm.c.withTimeout(ctx)
	defer cancel()

	ok, err := lm.c.rdb.SetNX(opCtx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, classify(err))
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	var once sync.Once
	unlock := func() {
		once.Do(func() {
			// Release even if the caller's context is already gone.
			relCtx, cancel := lm.c.withTimeout(context.Background())
			defer cancel()
			_ = lm.release.Run(relCtx, lm.c.rdb, []string{lk}, token).Err()
		})
	}
	return unlock, nil
}

// Compile-time interface check.
var _ domain.LockManager = (*LockManager)(nil)
