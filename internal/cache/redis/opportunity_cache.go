package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/oddsarb/internal/domain"
)

// OpportunityCache implements domain.OpportunityCache.
//
// Key schema:
//
//	arb:opp:{id}          - JSON-encoded domain.Opportunity
//	arb:current:{sport}   - hash of opportunity id -> JSON, the live snapshot
//	arb:current:sports    - set of sports that have a snapshot
type OpportunityCache struct {
	c   *Client
	ttl time.Duration
}

// NewOpportunityCache creates an OpportunityCache whose entries expire after
// ttl.
func NewOpportunityCache(c *Client, ttl time.Duration) *OpportunityCache {
	return &OpportunityCache{c: c, ttl: ttl}
}

const currentSportsKey = "arb:current:sports"

func opportunityKey(id string) string { return "arb:opp:" + id }
func currentKey(sport string) string  { return "arb:current:" + sport }

// PutOpportunities stores each opportunity and replaces the live snapshot
// of every sport present in opps.
func (oc *OpportunityCache) PutOpportunities(ctx context.Context, opps []domain.Opportunity) error {
	if len(opps) == 0 {
		return nil
	}

	ctx, cancel := oc.c.withTimeout(ctx)
	defer cancel()

	bySport := make(map[string]map[string]any)
	pipe := oc.c.rdb.TxPipeline()
	for _, opp := range opps {
		data, err := json.Marshal(opp)
		if err != nil {
			return fmt.Errorf("redis: marshal opportunity %s: %w", opp.ID, err)
		}
		pipe.Set(ctx, opportunityKey(opp.ID), data, oc.ttl)

		fields, ok := bySport[opp.SportKey]
		if !ok {
			fields = make(map[string]any)
			bySport[opp.SportKey] = fields
		}
		fields[opp.ID] = data
	}

	for sport, fields := range bySport {
		key := currentKey(sport)
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, fields)
		pipe.Expire(ctx, key, oc.ttl)
		pipe.SAdd(ctx, currentSportsKey, sport)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: put opportunities: %w", classify(err))
	}
	return nil
}

// GetOpportunity returns a single cached opportunity or domain.ErrNotFound.
func (oc *OpportunityCache) GetOpportunity(ctx context.Context, id string) (domain.Opportunity, error) {
	ctx, cancel := oc.c.withTimeout(ctx)
	defer cancel()

	data, err := oc.c.rdb.Get(ctx, opportunityKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Opportunity{}, domain.ErrNotFound
		}
		return domain.Opportunity{}, fmt.Errorf("redis: get opportunity %s: %w", id, classify(err))
	}

	var opp domain.Opportunity
	if err := json.Unmarshal(data, &opp); err != nil {
		return domain.Opportunity{}, fmt.Errorf("redis: unmarshal opportunity %s: %w", id, err)
	}
	return opp, nil
}

// Current returns the live snapshot for sport, or for every sport when sport
// is empty, ordered by descending profit percentage.
func (oc *OpportunityCache) Current(ctx context.Context, sport string) ([]domain.Opportunity, error) {
	ctx, cancel := oc.c.withTimeout(ctx)
	defer cancel()

	sports := []string{sport}
	if sport == "" {
		all, err := oc.c.rdb.SMembers(ctx, currentSportsKey).Result()
		if err != nil {
			return nil, fmt.Errorf("redis: current sports: %w", classify(err))
		}
		sports = all
	}

	pipe := oc.c.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(sports))
	for i, s := range sports {
		cmds[i] = pipe.HGetAll(ctx, currentKey(s))
	}
	if len(cmds) > 0 {
		if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("redis: current opportunities: %w", classify(err))
		}
	}

	var out []domain.Opportunity
	for _, cmd := range cmds {
		for _, raw := range cmd.Val() {
			var opp domain.Opportunity
			if err := json.Unmarshal([]byte(raw), &opp); err != nil {
				continue
			}
			out = append(out, opp)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].ProfitPercentage != out[j].ProfitPercentage {
			return out[i].ProfitPercentage > out[j].ProfitPercentage
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// RemoveCurrent drops ids from every live snapshot. The per-id documents
// are left to expire on their own.
func (oc *OpportunityCache) RemoveCurrent(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	ctx, cancel := oc.c.withTimeout(ctx)
	defer cancel()

	sports, err := oc.c.rdb.SMembers(ctx, currentSportsKey).Result()
	if err != nil {
		return fmt.Errorf("redis: current sports: %w", classify(err))
	}
	if len(sports) == 0 {
		return nil
	}

	pipe := oc.c.rdb.Pipeline()
	for _, s := range sports {
		pipe.HDel(ctx, currentKey(s), ids...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: remove current: %w", classify(err))
	}
	return nil
}

// ClearCurrent deletes the live snapshot of each sport.
func (oc *OpportunityCache) ClearCurrent(ctx context.Context, sports []string) error {
	if len(sports) == 0 {
		return nil
	}

	ctx, cancel := oc.c.withTimeout(ctx)
	defer cancel()

	keys := make([]string, len(sports))
	members := make([]any, len(sports))
	for i, s := range sports {
		keys[i] = currentKey(s)
		members[i] = s
	}
	pipe := oc.c.rdb.TxPipeline()
	pipe.Del(ctx, keys...)
	pipe.SRem(ctx, currentSportsKey, members...)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: clear current: %w", classify(err))
	}
	return nil
}

// Compile-time interface check.
var _ domain.OpportunityCache = (*OpportunityCache)(nil)
