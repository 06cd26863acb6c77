package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	v1 "github.com/aevon-lab/mailmetrics/internal/api/v1"
	"github.com/aevon-lab/mailmetrics/internal/core/config"
	"github.com/aevon-lab/mailmetrics/internal/core/sequence"
	"github.com/aevon-lab/mailmetrics/internal/core/storage"
	"github.com/aevon-lab/mailmetrics/internal/core/storage/postgres"
	"github.com/aevon-lab/mailmetrics/internal/directory"
	"github.com/aevon-lab/mailmetrics/internal/ingestion"
	"github.com/aevon-lab/mailmetrics/internal/normalize"
	"github.com/aevon-lab/mailmetrics/internal/projection"
	"github.com/aevon-lab/mailmetrics/internal/server"
	"github.com/aevon-lab/mailmetrics/internal/snapshot"
	"github.com/redis/go-redis/v9"
)

// components is the wired service graph shared by serve and materialize.
type components struct {
	db           *postgres.Adapter
	redis        redis.UniversalClient
	server       *server.Server
	materializer *snapshot.Materializer
	scheduler    *snapshot.Scheduler
}

func (c *components) Close() {
	if c.redis != nil {
		if err := c.redis.Close(); err != nil {
			slog.Warn("[App] Failed to close redis client", "error", err)
		}
	}
	if err := c.db.Close(); err != nil {
		slog.Warn("[App] Failed to close database", "error", err)
	}
}

func build(cfg *config.Config) (*components, error) {
	db, err := postgres.NewAdapter(cfg.Database.DSN, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	c := &components{db: db}

	checks := map[string]server.HealthChecker{"database": db}

	var snapshots storage.SnapshotStore = db
	if cfg.Redis.Enabled {
		client, err := newRedisClient(cfg.Redis)
		if err != nil {
			c.Close()
			return nil, err
		}
		c.redis = client
		snapshots = snapshot.NewCachedStore(db, client, cfg.Snapshot.CacheTTL)
		checks["redis"] = server.HealthCheckFunc(func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
		slog.Info("[App] Snapshot cache enabled", "ttl", cfg.Snapshot.CacheTTL)
	}

	registry := normalize.NewRegistry(normalize.WithUnknownAsSend(cfg.Ingestion.UnknownAsSend))
	overrides, err := normalize.LoadMappingOverrides(cfg.Ingestion.MappingDir)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to load provider mappings: %w", err)
	}
	if err := registry.ApplyOverrides(overrides); err != nil {
		c.Close()
		return nil, err
	}
	slog.Info("[App] Provider mappings loaded", "override_files", len(overrides))

	dir := directory.NewService(db, directory.NewClient(cfg.Directory.Timeout))

	ingestionSvc := ingestion.NewService(dir, registry, db, sequence.NewAllocator(db),
		ingestion.WithMaxBodySizeMB(cfg.Server.MaxBodySizeMB),
		ingestion.WithBackfillTimeout(cfg.Ingestion.BackfillTimeout),
		ingestion.WithOpenRefireWindow(cfg.Ingestion.OpenRefireWindow),
	)

	queryOpts := []projection.Option{
		projection.WithMaxParallel(cfg.Metrics.MaxParallel),
		projection.WithRealTimeDays(cfg.Metrics.RealTimeDays),
	}
	// The materializer always aggregates from the event log, never from snapshots.
	live := projection.NewService(db, queryOpts...)
	if cfg.Snapshot.Enabled {
		queryOpts = append(queryOpts, projection.WithSnapshots(snapshots))
	}
	projectionSvc := projection.NewService(db, queryOpts...)

	c.materializer = snapshot.NewMaterializer(db, snapshots, live, snapshot.MaterializerParameter{
		Granularities:   v1.Granularities,
		LookbackPeriods: cfg.Snapshot.LookbackPeriods,
		RealTimeDays:    cfg.Metrics.RealTimeDays,
		WorkerCount:     cfg.Snapshot.WorkerCount,
	})
	if cfg.Snapshot.Enabled {
		c.scheduler = snapshot.NewScheduler(cfg.Snapshot.Interval, c.materializer)
	}

	c.server = server.New(cfg.Server.Addr(), cfg.Server.Mode, checks)
	ingestionSvc.RegisterRoutes(c.server.Engine)
	projectionSvc.RegisterRoutes(c.server.Engine)

	return c, nil
}

func newRedisClient(cfg config.RedisConfig) (redis.UniversalClient, error) {
	if cfg.URL != "" {
		opts, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis.url: %w", err)
		}
		return redis.NewClient(opts), nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}), nil
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewTextHandler(os.Stdout, opts)
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
