// Package config defines the top-level configuration for the odds arbitrage
// service and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by ODDSARB_* environment variables.
type Config struct {
	OddsAPI   OddsAPIConfig   `toml:"odds_api"`
	Arbitrage ArbitrageConfig `toml:"arbitrage"`
	Pipeline  PipelineConfig  `toml:"pipeline"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// OddsAPIConfig holds the odds source endpoint, credentials and the
// client-side concurrency bound.
type OddsAPIConfig struct {
	BaseURL           string   `toml:"base_url"`
	APIKey            string   `toml:"api_key"`
	Sports            []string `toml:"sports"`
	Regions           []string `toml:"regions"`
	Markets           []string `toml:"markets"`
	OddsFormat        string   `toml:"odds_format"`
	MaxConcurrency    int      `toml:"max_concurrency"`
	RequestTimeout    duration `toml:"request_timeout"`
	RequestsPerSecond float64  `toml:"requests_per_second"`
}

// ArbitrageConfig holds the detection threshold and stake sizing.
type ArbitrageConfig struct {
	MinProfitThreshold float64 `toml:"min_profit_threshold"`
	DefaultTotalStake  float64 `toml:"default_total_stake"`

	// ScanWorkers bounds concurrent evaluations. 0 means GOMAXPROCS.
	ScanWorkers int `toml:"scan_workers"`
}

// PipelineConfig holds the periodic pass parameters.
type PipelineConfig struct {
	Interval       duration `toml:"interval"`
	OddsTTL        duration `toml:"odds_ttl"`
	OpportunityTTL duration `toml:"opportunity_ttl"`
	RunOnStart     bool     `toml:"run_on_start"`
	ArchiveRaw     bool     `toml:"archive_raw"`
	Market         string   `toml:"market"`

	// PassLock serialises passes across replicas sharing one Redis.
	PassLock bool `toml:"pass_lock"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	OpTimeout  duration `toml:"op_timeout"`
}

// S3Config holds S3-compatible object storage parameters for the raw
// payload archive.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	Prefix         string `toml:"prefix"`
}

// ServerConfig holds HTTP and websocket server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	SendTimeout duration `toml:"send_timeout"`

	// RateLimitRPS caps API requests per client IP; 0 disables the limit.
	RateLimitRPS   float64 `toml:"rate_limit_rps"`
	RateLimitBurst int     `toml:"rate_limit_burst"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`

	// DedupWindow suppresses repeat alerts for an unchanged opportunity.
	// 0 alerts on every pass.
	DedupWindow duration `toml:"dedup_window"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		OddsAPI: OddsAPIConfig{
			BaseURL:        "https://api.the-odds-api.com/v4",
			Sports:         []string{"basketball_nba", "americanfootball_nfl", "soccer_epl"},
			Regions:        []string{"us", "uk", "eu"},
			Markets:        []string{"h2h"},
			OddsFormat:     "decimal",
			MaxConcurrency: 5,
			RequestTimeout: duration{10 * time.Second},
		},
		Arbitrage: ArbitrageConfig{
			MinProfitThreshold: 1.0,
			DefaultTotalStake:  1000,
		},
		Pipeline: PipelineConfig{
			Interval:       duration{60 * time.Second},
			OddsTTL:        duration{2 * time.Minute},
			OpportunityTTL: duration{5 * time.Minute},
			RunOnStart:     true,
			Market:         "h2h",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 1,
			OpTimeout:  duration{2 * time.Second},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "oddsarb-raw",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled:        true,
			Port:           8000,
			CORSOrigins:    []string{"http://localhost:3000", "http://localhost:5173"},
			SendTimeout:    duration{5 * time.Second},
			RateLimitRPS:   10,
			RateLimitBurst: 20,
		},
		Notify: NotifyConfig{
			Events:      []string{"arb_detected", "pass_failed"},
			DedupWindow: duration{30 * time.Minute},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"scan":   true,
	"server": true,
	"full":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// NeedsScanner reports whether the mode runs the periodic pipeline.
func (c *Config) NeedsScanner() bool {
	m := strings.ToLower(c.Mode)
	return m == "scan" || m == "full"
}

// NeedsServer reports whether the mode runs the HTTP/websocket server.
func (c *Config) NeedsServer() bool {
	m := strings.ToLower(c.Mode)
	return m == "server" || (m == "full" && c.Server.Enabled)
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: scan, server, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Odds source, only needed when the pipeline runs.
	if c.NeedsScanner() {
		if c.OddsAPI.BaseURL == "" {
			errs = append(errs, "odds_api: base_url must not be empty")
		}
		if c.OddsAPI.APIKey == "" {
			errs = append(errs, "odds_api: api_key is required for mode "+c.Mode)
		}
		if len(c.OddsAPI.Sports) == 0 {
			errs = append(errs, "odds_api: at least one sport must be configured")
		}
		if len(c.OddsAPI.Regions) == 0 {
			errs = append(errs, "odds_api: at least one region must be configured")
		}
		if c.OddsAPI.OddsFormat != "" && c.OddsAPI.OddsFormat != "decimal" {
			errs = append(errs, fmt.Sprintf("odds_api: odds_format must be \"decimal\", got %q", c.OddsAPI.OddsFormat))
		}
		if c.Pipeline.Interval.Duration <= 0 {
			errs = append(errs, "pipeline: interval must be > 0")
		}
		if c.Pipeline.Market == "" {
			errs = append(errs, "pipeline: market must not be empty")
		}
	}
	if c.OddsAPI.MaxConcurrency < 1 {
		errs = append(errs, "odds_api: max_concurrency must be >= 1")
	}
	if c.OddsAPI.RequestTimeout.Duration <= 0 {
		errs = append(errs, "odds_api: request_timeout must be > 0")
	}
	if c.OddsAPI.RequestsPerSecond < 0 {
		errs = append(errs, "odds_api: requests_per_second must be >= 0")
	}

	// Arbitrage
	if c.Arbitrage.MinProfitThreshold < 0 {
		errs = append(errs, "arbitrage: min_profit_threshold must be >= 0")
	}
	if c.Arbitrage.DefaultTotalStake <= 0 {
		errs = append(errs, "arbitrage: default_total_stake must be > 0")
	}
	if c.Arbitrage.ScanWorkers < 0 {
		errs = append(errs, "arbitrage: scan_workers must be >= 0")
	}

	// Cache TTLs
	if c.Pipeline.OddsTTL.Duration <= 0 {
		errs = append(errs, "pipeline: odds_ttl must be > 0")
	}
	if c.Pipeline.OpportunityTTL.Duration <= 0 {
		errs = append(errs, "pipeline: opportunity_ttl must be > 0")
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3, only when the archive is on.
	if c.Pipeline.ArchiveRaw {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when pipeline.archive_raw is set")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty when pipeline.archive_raw is set")
		}
	}

	// Server
	if c.NeedsServer() {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.SendTimeout.Duration <= 0 {
			errs = append(errs, "server: send_timeout must be > 0")
		}
		if c.Server.RateLimitRPS < 0 {
			errs = append(errs, "server: rate_limit_rps must be >= 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
