// Package redis implements the odds and opportunity caches, the cross
// process signal bus and pass locks on top of go-redis/v9.
package redis

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/oddsarb/internal/domain"
)

// DefaultOpTimeout bounds a single cache operation when none is configured.
const DefaultOpTimeout = 2 * time.Second

// ClientConfig holds connection parameters for the Redis client.
type ClientConfig struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TLSEnabled bool
	OpTimeout  time.Duration
}

// Client wraps a go-redis Client and provides connectivity helpers.
type Client struct {
	rdb       *redis.Client
	opTimeout time.Duration
}

// Dial builds a Client without checking connectivity. go-redis connects
// lazily, so a Client dialled while Redis is down starts working once it
// comes back.
func Dial(cfg ClientConfig) *Client {
	opts := &redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		PoolSize:   cfg.PoolSize,
		MaxRetries: cfg.MaxRetries,
	}

	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	return Wrap(redis.NewClient(opts), cfg.OpTimeout)
}

// New dials Redis and pings it, returning an error tagged with
// domain.ErrCacheUnavailable if the server cannot be reached.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	c := Dial(cfg)
	if err := c.Ping(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

// Wrap adopts an existing go-redis client.
func Wrap(rdb *redis.Client, opTimeout time.Duration) *Client {
	if opTimeout <= 0 {
		opTimeout = DefaultOpTimeout
	}
	return &Client{rdb: rdb, opTimeout: opTimeout}
}

// Ping checks the Redis connection.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping: %w", errors.Join(domain.ErrCacheUnavailable, err))
	}
	return nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// withTimeout derives the per-operation context.
func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.opTimeout)
}

// classify tags connectivity failures with domain.ErrCacheUnavailable so
// callers can degrade instead of failing.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, redis.ErrClosed) {
		return errors.Join(domain.ErrCacheUnavailable, err)
	}
	return err
}
