package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies ODDSARB_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known ODDSARB_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Odds API ──
	setStr(&cfg.OddsAPI.BaseURL, "ODDSARB_ODDS_API_BASE_URL")
	setStr(&cfg.OddsAPI.APIKey, "ODDSARB_ODDS_API_KEY")
	setStringSlice(&cfg.OddsAPI.Sports, "ODDSARB_ODDS_API_SPORTS")
	setStringSlice(&cfg.OddsAPI.Regions, "ODDSARB_ODDS_API_REGIONS")
	setStringSlice(&cfg.OddsAPI.Markets, "ODDSARB_ODDS_API_MARKETS")
	setInt(&cfg.OddsAPI.MaxConcurrency, "ODDSARB_ODDS_API_MAX_CONCURRENCY")
	setDuration(&cfg.OddsAPI.RequestTimeout, "ODDSARB_ODDS_API_REQUEST_TIMEOUT")
	setFloat64(&cfg.OddsAPI.RequestsPerSecond, "ODDSARB_ODDS_API_REQUESTS_PER_SECOND")

	// ── Arbitrage ──
	setFloat64(&cfg.Arbitrage.MinProfitThreshold, "ODDSARB_ARBITRAGE_MIN_PROFIT_THRESHOLD")
	setFloat64(&cfg.Arbitrage.DefaultTotalStake, "ODDSARB_ARBITRAGE_DEFAULT_TOTAL_STAKE")
	setInt(&cfg.Arbitrage.ScanWorkers, "ODDSARB_ARBITRAGE_SCAN_WORKERS")

	// ── Pipeline ──
	setDuration(&cfg.Pipeline.Interval, "ODDSARB_PIPELINE_INTERVAL")
	setDuration(&cfg.Pipeline.OddsTTL, "ODDSARB_PIPELINE_ODDS_TTL")
	setDuration(&cfg.Pipeline.OpportunityTTL, "ODDSARB_PIPELINE_OPPORTUNITY_TTL")
	setBool(&cfg.Pipeline.RunOnStart, "ODDSARB_PIPELINE_RUN_ON_START")
	setBool(&cfg.Pipeline.ArchiveRaw, "ODDSARB_PIPELINE_ARCHIVE_RAW")
	setStr(&cfg.Pipeline.Market, "ODDSARB_PIPELINE_MARKET")
	setBool(&cfg.Pipeline.PassLock, "ODDSARB_PIPELINE_PASS_LOCK")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "ODDSARB_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "ODDSARB_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "ODDSARB_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "ODDSARB_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "ODDSARB_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "ODDSARB_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "ODDSARB_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "ODDSARB_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "ODDSARB_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "ODDSARB_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "ODDSARB_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ODDSARB_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ODDSARB_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "ODDSARB_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "ODDSARB_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "ODDSARB_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.OpTimeout, "ODDSARB_REDIS_OP_TIMEOUT")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "ODDSARB_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "ODDSARB_S3_REGION")
	setStr(&cfg.S3.Bucket, "ODDSARB_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "ODDSARB_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "ODDSARB_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "ODDSARB_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "ODDSARB_S3_FORCE_PATH_STYLE")
	setStr(&cfg.S3.Prefix, "ODDSARB_S3_PREFIX")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "ODDSARB_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "ODDSARB_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "ODDSARB_SERVER_CORS_ORIGINS")
	setDuration(&cfg.Server.SendTimeout, "ODDSARB_SERVER_SEND_TIMEOUT")
	setFloat64(&cfg.Server.RateLimitRPS, "ODDSARB_SERVER_RATE_LIMIT_RPS")
	setInt(&cfg.Server.RateLimitBurst, "ODDSARB_SERVER_RATE_LIMIT_BURST")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "ODDSARB_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "ODDSARB_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "ODDSARB_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "ODDSARB_NOTIFY_EVENTS")
	setDuration(&cfg.Notify.DedupWindow, "ODDSARB_NOTIFY_DEDUP_WINDOW")

	// ── Top-level ──
	setStr(&cfg.Mode, "ODDSARB_MODE")
	setStr(&cfg.LogLevel, "ODDSARB_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
