package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_MergesOverDefaults(t *testing.T) {
	path := writeConfig(t, `
mode = "scan"

[odds_api]
api_key = "file-key"
sports = ["soccer_epl"]
max_concurrency = 3
request_timeout = "4s"

[pipeline]
interval = "30s"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "scan", cfg.Mode)
	assert.Equal(t, "file-key", cfg.OddsAPI.APIKey)
	assert.Equal(t, []string{"soccer_epl"}, cfg.OddsAPI.Sports)
	assert.Equal(t, 3, cfg.OddsAPI.MaxConcurrency)
	assert.Equal(t, 4*time.Second, cfg.OddsAPI.RequestTimeout.Duration)
	assert.Equal(t, 30*time.Second, cfg.Pipeline.Interval.Duration)

	// Untouched values keep their defaults.
	assert.Equal(t, "h2h", cfg.Pipeline.Market)
	assert.InDelta(t, 1.0, cfg.Arbitrage.MinProfitThreshold, 1e-9)
	assert.InDelta(t, 1000.0, cfg.Arbitrage.DefaultTotalStake, 1e-9)
	assert.Equal(t, 30*time.Minute, cfg.Notify.DedupWindow.Duration)
	assert.False(t, cfg.Pipeline.PassLock)
	require.NoError(t, cfg.Validate())
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, `mode = "full"`)
	t.Setenv("ODDSARB_ODDS_API_KEY", "env-key")
	t.Setenv("ODDSARB_ODDS_API_SPORTS", "basketball_nba, icehockey_nhl ,")
	t.Setenv("ODDSARB_ARBITRAGE_MIN_PROFIT_THRESHOLD", "2.5")
	t.Setenv("ODDSARB_PIPELINE_INTERVAL", "45s")
	t.Setenv("ODDSARB_SERVER_ENABLED", "false")
	t.Setenv("ODDSARB_REDIS_POOL_SIZE", "not-a-number")
	t.Setenv("ODDSARB_PIPELINE_PASS_LOCK", "true")
	t.Setenv("ODDSARB_SERVER_RATE_LIMIT_RPS", "2.5")
	t.Setenv("ODDSARB_NOTIFY_DEDUP_WINDOW", "0s")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "env-key", cfg.OddsAPI.APIKey)
	assert.Equal(t, []string{"basketball_nba", "icehockey_nhl"}, cfg.OddsAPI.Sports)
	assert.InDelta(t, 2.5, cfg.Arbitrage.MinProfitThreshold, 1e-9)
	assert.Equal(t, 45*time.Second, cfg.Pipeline.Interval.Duration)
	assert.False(t, cfg.Server.Enabled)
	assert.False(t, cfg.NeedsServer())
	assert.Equal(t, 20, cfg.Redis.PoolSize, "unparsable override is ignored")
	assert.True(t, cfg.Pipeline.PassLock)
	assert.InDelta(t, 2.5, cfg.Server.RateLimitRPS, 1e-9)
	assert.Zero(t, cfg.Notify.DedupWindow.Duration)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestValidate_CollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.LogLevel = "loud"
	cfg.OddsAPI.MaxConcurrency = 0
	cfg.Arbitrage.DefaultTotalStake = 0
	cfg.Postgres.PoolMinConns = 50

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, `unknown mode "trade"`)
	assert.Contains(t, msg, `unknown log_level "loud"`)
	assert.Contains(t, msg, "max_concurrency")
	assert.Contains(t, msg, "default_total_stake")
	assert.Contains(t, msg, "pool_min_conns must not exceed")
}

func TestValidate_ScanModeNeedsAPIKey(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "scan"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api_key is required")

	cfg.Mode = "server"
	assert.NoError(t, cfg.Validate())
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.OddsAPI.APIKey = "secret"
	cfg.Postgres.Password = "pw"
	cfg.Notify.TelegramToken = ""

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.OddsAPI.APIKey)
	assert.Equal(t, "***", out.Postgres.Password)
	assert.Equal(t, "", out.Notify.TelegramToken)
	assert.Equal(t, "secret", cfg.OddsAPI.APIKey)

	out.OddsAPI.Sports[0] = "changed"
	assert.NotEqual(t, "changed", cfg.OddsAPI.Sports[0])
}
