package core

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/vrsandeep/comicvault/internal/assets"
	"github.com/vrsandeep/comicvault/internal/auth"
	"github.com/vrsandeep/comicvault/internal/config"
	"github.com/vrsandeep/comicvault/internal/db"
	"github.com/vrsandeep/comicvault/internal/jobs"
	"github.com/vrsandeep/comicvault/internal/logger"
	"github.com/vrsandeep/comicvault/internal/media"
	"github.com/vrsandeep/comicvault/internal/metrics"
	"github.com/vrsandeep/comicvault/internal/seed"
	"github.com/vrsandeep/comicvault/internal/store"
	"github.com/vrsandeep/comicvault/internal/util"
	"github.com/vrsandeep/comicvault/internal/websocket"
)

// SeedJobID is the job manager id of a full seed run.
const SeedJobID = "seed"

// App holds the core components of the application that are shared
// between the server and the CLI.
type App struct {
	Config     *config.Config
	DB         *sql.DB
	Logger     *zap.Logger
	Store      *store.Store
	Media      *media.Manager
	Seeder     *seed.Seeder
	WsHub      *websocket.Hub
	JobManager *jobs.JobManager
	Metrics    *metrics.Metrics
	Version    string
}

// New loads config.yml (and .env), builds the logger and wires the app.
func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	log, err := logger.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return NewWithConfig(cfg, log)
}

// NewWithConfig opens the database, applies migrations, prepares the media
// root and wires the seeder, hub and job manager.
func NewWithConfig(cfg *config.Config, log *zap.Logger) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}

	database, err := db.InitDB(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	if err := db.RunMigrations(database); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to run database migrations: %w", err)
	}

	resolver := media.NewResolver(cfg.Media.Root, cfg.Media.UploadsDir)
	if err := util.EnsureWritableDir(resolver.UploadsPath()); err != nil {
		database.Close()
		return nil, fmt.Errorf("media root is not writable: %w", err)
	}
	if err := installPlaceholders(cfg, resolver, log); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to install placeholder images: %w", err)
	}

	m := metrics.New()
	st := store.New(database)
	hub := websocket.NewHub()
	hub.SetLogger(log)

	mediaManager := media.NewManager(resolver, media.Options{
		Enabled:           cfg.Download.Enabled,
		Concurrency:       cfg.Download.Concurrency,
		Timeout:           cfg.Download.Timeout,
		Retries:           cfg.Download.Retries,
		BackoffInitial:    cfg.Download.BackoffInitial,
		MaxBytes:          cfg.Download.MaxBytes,
		RequestsPerSecond: cfg.Download.RequestsPerSecond,
		UserAgent:         cfg.Download.UserAgent,
	}, log)
	mediaManager.SetRecorder(m)

	seeder := seed.NewSeeder(st, mediaManager, auth.Hasher{Cost: cfg.Seed.PasswordCost}, seed.Options{
		BaseDir:     cfg.Seed.Dir,
		ErrorSample: cfg.Seed.ErrorSample,
		Defaults: seed.Defaults{
			Avatar: cfg.Media.FallbackAvatar,
			Cover:  cfg.Media.FallbackCover,
			Page:   cfg.Media.FallbackPage,
		},
		Thumbnails: cfg.Media.Thumbnails,
	}, log).
		WithStatus(seed.NewStatusWriter(cfg.Seed.StatusFile)).
		WithProgress(hub).
		WithMetrics(m)

	jm := jobs.NewManager(log)
	jm.SetObserver(m)

	app := &App{
		Config:     cfg,
		DB:         database,
		Logger:     log,
		Store:      st,
		Media:      mediaManager,
		Seeder:     seeder,
		WsHub:      hub,
		JobManager: jm,
		Metrics:    m,
	}
	jm.Register(SeedJobID, "Seed data", func(ctx context.Context) error {
		_, err := app.Seeder.SeedAll(ctx, app.SeedPatterns())
		return err
	})

	log.Info("core application setup complete",
		zap.String("database", cfg.Database.Path),
		zap.String("media_root", resolver.Root()),
		zap.String("seed_dir", cfg.Seed.Dir),
	)
	return app, nil
}

// installPlaceholders puts the bundled images at the configured fallback
// paths that do not exist yet. Remote fallbacks are left alone.
func installPlaceholders(cfg *config.Config, resolver *media.Resolver, log *zap.Logger) error {
	for kind, public := range map[assets.Kind]string{
		assets.Avatar: cfg.Media.FallbackAvatar,
		assets.Cover:  cfg.Media.FallbackCover,
		assets.Page:   cfg.Media.FallbackPage,
	} {
		if public == "" || media.IsRemote(public) {
			continue
		}
		diskPath, err := resolver.DiskPath(public)
		if err != nil {
			return err
		}
		wrote, err := assets.Install(kind, diskPath)
		if err != nil {
			return err
		}
		if wrote {
			log.Info("installed placeholder image", zap.String("kind", string(kind)), zap.String("path", public))
		}
	}
	return nil
}

// SeedPatterns are the configured fixture globs.
func (a *App) SeedPatterns() seed.Patterns {
	return seed.Patterns{
		Users:    a.Config.Seed.Users,
		Comics:   a.Config.Seed.Comics,
		Chapters: a.Config.Seed.Chapters,
	}
}

// Close stops background work and releases the database.
func (a *App) Close() {
	if a.JobManager != nil {
		done := make(chan struct{})
		go func() {
			a.JobManager.Shutdown()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(30 * time.Second):
			a.Logger.Warn("background jobs did not stop in time")
		}
	}
	if a.WsHub != nil {
		a.WsHub.Stop()
	}
	if a.DB != nil {
		a.DB.Close()
	}
	if a.Logger != nil {
		_ = a.Logger.Sync()
	}
}
