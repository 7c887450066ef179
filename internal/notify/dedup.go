package notify

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/oddsarb/internal/domain"
)

// Dedup suppresses repeat alerts for an opportunity that is detected again
// on every pass. The id stays the same while prices move, so alerts are
// keyed by Signature, which includes the odds. It is safe for concurrent use.
type Dedup struct {
	mu     sync.Mutex
	seen   map[string]time.Time
	window time.Duration
	now    func() time.Time
}

// NewDedup creates a Dedup that treats a signature as a repeat for window
// after it was last alerted.
func NewDedup(window time.Duration) *Dedup {
	return &Dedup{
		seen:   make(map[string]time.Time),
		window: window,
		now:    time.Now,
	}
}

// Seen reports whether key was recorded within the window. A new or lapsed
// key is recorded and false is returned. Lapsed entries are pruned.
func (d *Dedup) Seen(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for k, at := range d.seen {
		if now.Sub(at) >= d.window {
			delete(d.seen, k)
		}
	}
	if _, ok := d.seen[key]; ok {
		return true
	}
	d.seen[key] = now
	return false
}

// Signature identifies an opportunity by event and the exact prices it
// would be placed at. A price move produces a new signature.
func Signature(opp domain.Opportunity) string {
	legs := make([]string, len(opp.Bets))
	for i, b := range opp.Bets {
		legs[i] = fmt.Sprintf("%s/%s@%.4f", b.SourceID, b.Outcome, b.Odds)
	}
	sort.Strings(legs)
	return opp.EventID + "|" + strings.Join(legs, ",")
}
