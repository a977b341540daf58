package main

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/vrsandeep/comicvault/internal/api"
	"github.com/vrsandeep/comicvault/internal/auth"
	"github.com/vrsandeep/comicvault/internal/core"
	"github.com/vrsandeep/comicvault/internal/jobs"
	"github.com/vrsandeep/comicvault/internal/models"
	"github.com/vrsandeep/comicvault/internal/seed"
)

var version = "dev"

func main() {
	// Initialize the core application components
	app, err := core.New()
	if err != nil {
		log.Fatalf("Fatal error during application setup: %v", err)
	}
	defer app.Close()
	app.Version = version
	logger := app.Logger

	// --- First User Provisioning ---
	if err := provisionAdmin(context.Background(), app); err != nil {
		logger.Fatal("could not provision default admin", zap.Error(err))
	}

	go app.WsHub.Run()

	scheduler := jobs.StartScheduler(app.JobManager, core.SeedJobID, app.Config.Seed.Interval, logger)
	if scheduler != nil {
		defer scheduler.Stop()
	}

	if app.Config.Seed.Watch {
		watcher := seed.NewWatcher(app.Config.Seed.Dir, 0, func(paths []string) {
			logger.Info("seed fixtures changed", zap.Strings("paths", paths))
			if err := app.JobManager.RunJob(core.SeedJobID); err != nil {
				logger.Warn("seed run not started", zap.Error(err))
			}
		}, logger)
		if err := watcher.Start(); err != nil {
			logger.Warn("could not watch seed directory", zap.String("dir", app.Config.Seed.Dir), zap.Error(err))
		} else {
			defer watcher.Stop()
		}
	}

	server := api.NewServer(app)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", app.Config.Port),
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	// --- Graceful Shutdown ---
	go func() {
		logger.Info("starting web server", zap.String("addr", httpServer.Addr), zap.String("version", version))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("could not start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	logger.Info("server exiting")
}

// provisionAdmin creates an admin account with a random password when the
// database has no users at all.
func provisionAdmin(ctx context.Context, app *core.App) error {
	count, err := app.Store.CountUsers(ctx)
	if err != nil {
		return fmt.Errorf("could not check user count: %w", err)
	}
	if count > 0 {
		return nil
	}

	password := rand.Text()[:16]
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	if _, err := app.Store.CreateUser(ctx, &models.User{
		Name:         "admin",
		Email:        "admin@localhost",
		PasswordHash: hash,
		Role:         models.RoleAdmin,
	}); err != nil {
		return err
	}

	app.Logger.Warn("no users found, created default admin account; change this password immediately",
		zap.String("email", "admin@localhost"),
		zap.String("password", password),
	)
	return nil
}
