// Package oddsapi is the client for the external odds source. It issues
// GET /sports/{sport}/odds requests and returns raw payloads; decoding into
// domain types is the normalizer's job.
package oddsapi

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/oddsarb/internal/domain"
)

// maxBodyBytes caps a single payload read.
const maxBodyBytes = 16 << 20

// ClientConfig holds the odds source parameters.
type ClientConfig struct {
	BaseURL    string
	APIKey     string
	Regions    []string
	Markets    []string
	OddsFormat string
	// RequestsPerSecond paces outbound calls. 0 disables pacing.
	RequestsPerSecond float64
	HTTPClient        *http.Client
}

// Quota is the server-side request quota as last reported by the source.
type Quota struct {
	Remaining int
	Used      int
	UpdatedAt time.Time
}

// Client is the REST client for the odds source.
type Client struct {
	baseURL    string
	apiKey     string
	regions    string
	markets    string
	oddsFormat string
	httpClient *http.Client
	limiter    *rate.Limiter

	mu    sync.Mutex
	quota Quota
}

// NewClient creates a new odds source client.
func NewClient(cfg ClientConfig) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	oddsFormat := cfg.OddsFormat
	if oddsFormat == "" {
		oddsFormat = "decimal"
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		regions:    strings.Join(cfg.Regions, ","),
		markets:    strings.Join(cfg.Markets, ","),
		oddsFormat: oddsFormat,
		httpClient: httpClient,
		limiter:    limiter,
	}
}

// FetchSport returns the raw odds payload for one sport. Any transport
// failure, timeout or non-2xx status is returned as a *FetchError.
func (c *Client) FetchSport(ctx context.Context, sportKey string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &FetchError{SportKey: sportKey, Err: err}
	}

	params := url.Values{}
	params.Set("apiKey", c.apiKey)
	if c.regions != "" {
		params.Set("regions", c.regions)
	}
	if c.markets != "" {
		params.Set("markets", c.markets)
	}
	params.Set("oddsFormat", c.oddsFormat)

	endpoint := fmt.Sprintf("%s/sports/%s/odds?%s", c.baseURL, url.PathEscape(sportKey), params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &FetchError{SportKey: sportKey, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &FetchError{SportKey: sportKey, Err: err}
	}
	defer resp.Body.Close()

	c.recordQuota(resp.Header)

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &FetchError{SportKey: sportKey, StatusCode: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &FetchError{
			SportKey:   sportKey,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(body, 256)),
		}
	}

	return body, nil
}

// Quota returns the most recently observed request quota.
func (c *Client) Quota() Quota {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.quota
}

func (c *Client) recordQuota(h http.Header) {
	remaining, errR := strconv.Atoi(h.Get("x-requests-remaining"))
	used, errU := strconv.Atoi(h.Get("x-requests-used"))
	if errR != nil && errU != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if errR == nil {
		c.quota.Remaining = remaining
	}
	if errU == nil {
		c.quota.Used = used
	}
	c.quota.UpdatedAt = time.Now().UTC()
}

// LogQuota writes the current quota to logger when one has been observed.
func (c *Client) LogQuota(ctx context.Context, logger *slog.Logger) {
	q := c.Quota()
	if q.UpdatedAt.IsZero() {
		return
	}
	logger.InfoContext(ctx, "odds api quota",
		slog.Int("remaining", q.Remaining),
		slog.Int("used", q.Used),
	)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// FetchError records a failed fetch for one sport. It always unwraps to
// domain.ErrTransient so callers can classify it without type switches.
type FetchError struct {
	SportKey   string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("oddsapi: fetch %s: status %d: %v", e.SportKey, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("oddsapi: fetch %s: %v", e.SportKey, e.Err)
}

func (e *FetchError) Unwrap() []error {
	return []error{domain.ErrTransient, e.Err}
}
