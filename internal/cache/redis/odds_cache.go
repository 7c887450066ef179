package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/alanyoungcy/oddsarb/internal/domain"
)

// OddsCache implements domain.OddsCache as JSON documents on a domain.Cache.
//
// Key schema:
//
//	odds:event:{id}    - JSON-encoded domain.EventOdds
//	odds:sport:{sport} - JSON array of the event ids last written for sport
type OddsCache struct {
	cache domain.Cache
	ttl   time.Duration
}

// NewOddsCache creates an OddsCache whose entries expire after ttl.
func NewOddsCache(cache domain.Cache, ttl time.Duration) *OddsCache {
	return &OddsCache{cache: cache, ttl: ttl}
}

func oddsKey(eventID string) string { return "odds:event:" + eventID }

func sportIndexKey(sport string) string { return "odds:sport:" + sport }

// PutEvents stores every event in one batch, then rewrites the index of
// each sport present in events. The index is written after the documents
// so a reader never sees an id whose document was not stored.
func (oc *OddsCache) PutEvents(ctx context.Context, events []domain.EventOdds) error {
	items := make(map[string][]byte, len(events))
	bySport := make(map[string][]string)
	for _, ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("redis: marshal odds %s: %w", ev.EventID, err)
		}
		items[oddsKey(ev.EventID)] = data
		bySport[ev.SportKey] = append(bySport[ev.SportKey], ev.EventID)
	}
	if err := oc.cache.SetMany(ctx, items, oc.ttl); err != nil {
		return err
	}

	var errs []error
	for sport, ids := range bySport {
		sort.Strings(ids)
		data, err := json.Marshal(ids)
		if err != nil {
			return fmt.Errorf("redis: marshal odds index %s: %w", sport, err)
		}
		if err := oc.cache.Set(ctx, sportIndexKey(sport), data, oc.ttl); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// GetEvent returns one cached event or domain.ErrNotFound.
func (oc *OddsCache) GetEvent(ctx context.Context, eventID string) (domain.EventOdds, error) {
	data, err := oc.cache.Get(ctx, oddsKey(eventID))
	if err != nil {
		return domain.EventOdds{}, err
	}
	var ev domain.EventOdds
	if err := json.Unmarshal(data, &ev); err != nil {
		return domain.EventOdds{}, fmt.Errorf("redis: unmarshal odds %s: %w", eventID, err)
	}
	return ev, nil
}

// GetEvents returns the cached events among eventIDs, in the given order.
// Missing or undecodable entries are skipped.
func (oc *OddsCache) GetEvents(ctx context.Context, eventIDs []string) ([]domain.EventOdds, error) {
	keys := make([]string, len(eventIDs))
	for i, id := range eventIDs {
		keys[i] = oddsKey(id)
	}

	found, err := oc.cache.GetMany(ctx, keys)
	if err != nil {
		return nil, err
	}

	out := make([]domain.EventOdds, 0, len(found))
	for _, key := range keys {
		data, ok := found[key]
		if !ok {
			continue
		}
		var ev domain.EventOdds
		if err := json.Unmarshal(data, &ev); err != nil {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

// SportEvents returns the events of the last pass that covered sport. An
// unknown or expired sport yields an empty slice.
func (oc *OddsCache) SportEvents(ctx context.Context, sport string) ([]domain.EventOdds, error) {
	data, err := oc.cache.Get(ctx, sportIndexKey(sport))
	if errors.Is(err, domain.ErrNotFound) {
		return []domain.EventOdds{}, nil
	}
	if err != nil {
		return nil, err
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("redis: unmarshal odds index %s: %w", sport, err)
	}
	return oc.GetEvents(ctx, ids)
}

// Compile-time interface check.
var _ domain.OddsCache = (*OddsCache)(nil)
