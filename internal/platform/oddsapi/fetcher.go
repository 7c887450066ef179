package oddsapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// DefaultMaxConcurrency is the permit count used when none is configured.
const DefaultMaxConcurrency = 5

// SportFetcher retrieves the raw payload for a single sport.
type SportFetcher interface {
	FetchSport(ctx context.Context, sportKey string) ([]byte, error)
}

// FetchResult is the outcome of fetching one sport: exactly one of Payload
// or Err is meaningful.
type FetchResult struct {
	SportKey string
	Payload  []byte
	Err      error
}

// OK reports whether the fetch succeeded.
func (r FetchResult) OK() bool { return r.Err == nil }

// Fetcher fans out per-sport fetches under a counting permit so that at most
// maxConcurrency requests are in flight, each with its own timeout.
type Fetcher struct {
	source  SportFetcher
	permits *semaphore.Weighted
	timeout time.Duration
	logger  *slog.Logger
}

// NewFetcher creates a Fetcher. maxConcurrency < 1 falls back to
// DefaultMaxConcurrency; timeout <= 0 disables the per-request deadline.
func NewFetcher(source SportFetcher, maxConcurrency int, timeout time.Duration, logger *slog.Logger) *Fetcher {
	if maxConcurrency < 1 {
		maxConcurrency = DefaultMaxConcurrency
	}
	return &Fetcher{
		source:  source,
		permits: semaphore.NewWeighted(int64(maxConcurrency)),
		timeout: timeout,
		logger:  logger.With(slog.String("component", "fetcher")),
	}
}

// FetchAll fetches every sport concurrently and returns one result per
// distinct key. It never fails as a whole: timeouts, transport errors,
// non-2xx statuses and a cancelled ctx all become per-key errors.
func (f *Fetcher) FetchAll(ctx context.Context, sportKeys []string) map[string]FetchResult {
	results := make(map[string]FetchResult, len(sportKeys))
	var mu sync.Mutex
	var wg sync.WaitGroup

	seen := make(map[string]bool, len(sportKeys))
	for _, key := range sportKeys {
		if seen[key] {
			continue
		}
		seen[key] = true

		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			res := f.fetchOne(ctx, key)

			mu.Lock()
			results[key] = res
			mu.Unlock()
		}(key)
	}
	wg.Wait()

	failed := 0
	for _, r := range results {
		if !r.OK() {
			failed++
		}
	}
	f.logger.DebugContext(ctx, "fetch pass complete",
		slog.Int("sports", len(results)),
		slog.Int("failed", failed),
	)

	return results
}

// fetchOne acquires a permit, issues the call and releases the permit on
// every exit path, including panics in the source.
func (f *Fetcher) fetchOne(ctx context.Context, key string) (res FetchResult) {
	res.SportKey = key

	if err := f.permits.Acquire(ctx, 1); err != nil {
		res.Err = &FetchError{SportKey: key, Err: err}
		return res
	}
	defer f.permits.Release(1)

	defer func() {
		if r := recover(); r != nil {
			res.Payload = nil
			res.Err = &FetchError{SportKey: key, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	callCtx := ctx
	if f.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	payload, err := f.source.FetchSport(callCtx, key)
	if err != nil {
		var fe *FetchError
		if !errors.As(err, &fe) {
			err = &FetchError{SportKey: key, Err: err}
		}
		f.logger.WarnContext(ctx, "fetch failed",
			slog.String("sport", key),
			slog.String("error", err.Error()),
		)
		res.Err = err
		return res
	}

	res.Payload = payload
	return res
}
