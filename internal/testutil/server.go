// Shared test server setup, which simplifies all API tests.

package testutil

import (
	"path/filepath"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/vrsandeep/comicvault/internal/api"
	"github.com/vrsandeep/comicvault/internal/config"
	"github.com/vrsandeep/comicvault/internal/core"
)

// TestConfig returns defaults rooted in a temp dir, with remote downloads
// off and the cheapest bcrypt cost.
func TestConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Database.Path = filepath.Join(dir, "test.db")
	cfg.Media.Root = filepath.Join(dir, "public")
	cfg.Seed.Dir = filepath.Join(dir, "seed")
	cfg.Seed.StatusFile = filepath.Join(dir, "seed-status.json")
	cfg.Seed.PasswordCost = 4
	cfg.Download.Enabled = false
	return cfg
}

// SetupTestApp builds a fully wired core.App from cfg, or TestConfig when
// cfg is nil.
func SetupTestApp(t *testing.T, cfg *config.Config) *core.App {
	t.Helper()
	if cfg == nil {
		cfg = TestConfig(t)
	}
	app, err := core.NewWithConfig(cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Failed to set up app: %v", err)
	}
	app.Version = "test"
	go app.WsHub.Run()
	t.Cleanup(app.Close)
	return app
}

// SetupTestServer initializes a full core.App and api.Server for integration testing.
func SetupTestServer(t *testing.T, cfg *config.Config) (*api.Server, *core.App) {
	t.Helper()
	app := SetupTestApp(t, cfg)
	return api.NewServer(app), app
}
