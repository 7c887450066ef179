package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/oddsarb/internal/blob/s3"
	"github.com/alanyoungcy/oddsarb/internal/cache/redis"
	"github.com/alanyoungcy/oddsarb/internal/config"
	"github.com/alanyoungcy/oddsarb/internal/domain"
	"github.com/alanyoungcy/oddsarb/internal/notify"
	"github.com/alanyoungcy/oddsarb/internal/platform/oddsapi"
	"github.com/alanyoungcy/oddsarb/internal/store/postgres"
)

// Dependencies bundles the concrete collaborators the modes need. Store,
// Audit and Archiver are nil when their backend is not configured or not
// reachable.
type Dependencies struct {
	OddsClient *oddsapi.Client

	// Caches and cross-process coordination. The Redis client is always
	// present; it reconnects on its own when Redis comes back.
	Redis            *redis.Client
	OddsCache        domain.OddsCache
	OpportunityCache *redis.OpportunityCache
	SignalBus        domain.SignalBus
	LockManager      domain.LockManager

	// Durable store
	Postgres *postgres.Client
	Store    domain.OpportunityStore
	Audit    domain.AuditStore

	Archiver *s3blob.Archiver
	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
//
// The cache and the durable store are optional at runtime: when either
// cannot be reached the service logs a warning and keeps running without
// it.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Odds source ---
	if cfg.NeedsScanner() {
		deps.OddsClient = oddsapi.NewClient(oddsapi.ClientConfig{
			BaseURL:           cfg.OddsAPI.BaseURL,
			APIKey:            cfg.OddsAPI.APIKey,
			Regions:           cfg.OddsAPI.Regions,
			Markets:           cfg.OddsAPI.Markets,
			OddsFormat:        cfg.OddsAPI.OddsFormat,
			RequestsPerSecond: cfg.OddsAPI.RequestsPerSecond,
		})
	}

	// --- Redis ---
	redisClient := redis.Dial(redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
		OpTimeout:  cfg.Redis.OpTimeout.Duration,
	})
	closers = append(closers, func() { _ = redisClient.Close() })
	if err := redisClient.Ping(ctx); err != nil {
		logger.WarnContext(ctx, "redis unreachable, starting degraded",
			slog.String("addr", cfg.Redis.Addr),
			slog.String("error", err.Error()),
		)
	}

	deps.Redis = redisClient
	deps.OddsCache = redis.NewOddsCache(redis.NewCache(redisClient), cfg.Pipeline.OddsTTL.Duration)
	deps.OpportunityCache = redis.NewOpportunityCache(redisClient, cfg.Pipeline.OpportunityTTL.Duration)
	deps.SignalBus = redis.NewSignalBus(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)

	// --- PostgreSQL ---
	pgCfg := postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	}
	if pgCfg.Configured() {
		if err := wirePostgres(ctx, cfg, pgCfg, deps, &closers, logger); err != nil {
			logger.WarnContext(ctx, "postgres unavailable, running without durable store",
				slog.String("error", err.Error()),
			)
		}
	}

	// --- S3 archive (scanner only) ---
	if cfg.NeedsScanner() && cfg.Pipeline.ArchiveRaw {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
			Prefix:         cfg.S3.Prefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		if err := s3Client.Health(ctx); err != nil {
			logger.WarnContext(ctx, "s3 bucket not reachable, archive uploads will fail until it is",
				slog.String("bucket", cfg.S3.Bucket),
				slog.String("error", err.Error()),
			)
		}
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client))
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)
	if cfg.Notify.DedupWindow.Duration > 0 {
		deps.Notifier.WithDedup(notify.NewDedup(cfg.Notify.DedupWindow.Duration))
	}

	return deps, cleanup, nil
}

func wirePostgres(
	ctx context.Context,
	cfg *config.Config,
	pgCfg postgres.ClientConfig,
	deps *Dependencies,
	closers *[]func(),
	logger *slog.Logger,
) error {
	pgClient, err := postgres.New(ctx, pgCfg)
	if err != nil {
		return err
	}

	if cfg.Postgres.RunMigrations {
		applied, err := pgClient.RunMigrations(ctx)
		if err != nil {
			pgClient.Close()
			return fmt.Errorf("wire: postgres migrations: %w", err)
		}
		if len(applied) > 0 {
			logger.InfoContext(ctx, "applied migrations", slog.Any("files", applied))
		}
	}

	*closers = append(*closers, pgClient.Close)
	pool := pgClient.Pool()
	deps.Postgres = pgClient
	deps.Store = postgres.NewOpportunityStore(pool)
	deps.Audit = postgres.NewAuditStore(pool)
	return nil
}
