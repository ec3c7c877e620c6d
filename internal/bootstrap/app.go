package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	app "github.com/mohammadpnp/card-ingest/internal/application/migration"
	"github.com/mohammadpnp/card-ingest/internal/application/validation"
	"github.com/mohammadpnp/card-ingest/internal/config"
	domain "github.com/mohammadpnp/card-ingest/internal/domain/migration"
	infrafile "github.com/mohammadpnp/card-ingest/internal/infrastructure/file"
	"github.com/mohammadpnp/card-ingest/internal/infrastructure/lock"
	"github.com/mohammadpnp/card-ingest/internal/infrastructure/metrics"
	"github.com/mohammadpnp/card-ingest/internal/infrastructure/progress"
	"github.com/mohammadpnp/card-ingest/internal/infrastructure/repository"
	"github.com/mohammadpnp/card-ingest/internal/pkg/logger"
)

// App holds the wired pipeline shared by the HTTP server and the CLI.
type App struct {
	Config     *config.Configuration
	Log        *logger.Logger
	DB         *gorm.DB
	Pool       *pgxpool.Pool
	Registry   *prometheus.Registry
	Manager    *app.Manager
	Validation *validation.Engine
	CSV        *app.CSVImporter
	Progress   domain.ProgressStore
	Jobs       *repository.MigrationJobRepository

	redis *goredis.Client
}

// Build opens the database connections and wires every component. Close
// releases what Build opened.
func Build(ctx context.Context, cfg *config.Configuration, log *logger.Logger) (*App, error) {
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	db, err := gorm.Open(postgres.Open(cfg.Database.URL), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	a := &App{
		Config:   cfg,
		Log:      log,
		DB:       db,
		Pool:     pool,
		Registry: prometheus.NewRegistry(),
		Jobs:     repository.NewMigrationJobRepository(db),
	}
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// A nil *metrics.Metrics records nothing.
	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		m = metrics.New(a.Registry)
	}

	if err := a.buildProgress(ctx); err != nil {
		a.Close()
		return nil, err
	}

	lockOpts := []lock.Option{
		lock.WithStaleAfter(cfg.Import.LockStaleAfter),
		lock.WithObserver(m),
		lock.WithLogger(log),
	}
	var importLock domain.ImportLock
	switch cfg.Import.LockBackend {
	case "memory":
		importLock = lock.NewMemoryLock(lockOpts...)
	default:
		importLock = lock.NewFileLock(cfg.LockPath(), lockOpts...)
	}

	source := infrafile.NewLocalSource(cfg.Import.BaseDir)
	bulk := repository.NewCardBulkRepository(pool)
	lookup := repository.NewCardLookupRepository(db)

	a.CSV = app.NewCSVImporter(source, lookup, bulk, app.CSVImporterConfig{})
	loader := app.NewJSONLoader(source, bulk, app.JSONLoaderConfig{BatchSize: cfg.Import.BatchSize})

	a.Manager = app.NewManager(app.ManagerDeps{
		Lock:     importLock,
		Progress: a.Progress,
		JSON:     loader,
		CSV:      a.CSV,
		Recorder: a.Jobs,
		Metrics:  m,
		Log:      log,
	}, app.ManagerConfig{
		LockHeartbeat: cfg.Import.LockHeartbeat,
		LogPath:       cfg.LogPath(),
		Reporter: app.ReporterConfig{
			Every:    cfg.Progress.ReportEvery,
			Interval: cfg.Progress.ReportInterval,
			Window:   cfg.Progress.RateWindow,
		},
	})

	a.Validation = validation.NewEngine(
		repository.NewIntegrityRepository(db),
		validation.Config{MaxIssues: cfg.Validation.MaxIssues},
		m,
		log,
	)
	return a, nil
}

func (a *App) buildProgress(ctx context.Context) error {
	if a.Config.Progress.Backend != "redis" {
		a.Progress = progress.NewFileStore(a.Config.ProgressPath())
		return nil
	}
	rdb, err := progress.DialRedis(ctx, a.Config.Progress.RedisAddr)
	if err != nil {
		return err
	}
	a.redis = rdb
	a.Progress = progress.NewRedisStore(rdb, a.Config.Progress.RedisKey, progress.DefaultRedisTTL)
	return nil
}

// Close stops running jobs, then closes the connections.
func (a *App) Close() {
	if a.Manager != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := a.Manager.Shutdown(ctx); err != nil {
			a.Log.Warn("migration workers did not stop in time", "error", err)
		}
		cancel()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}
