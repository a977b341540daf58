// This file defines the configuration structure for the application.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration settings for the application.
// It maps directly to the structure of config.yml.
type Config struct {
	Port     int `mapstructure:"port"`
	Database struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"database"`
	Log struct {
		Level       string `mapstructure:"level"`
		Development bool   `mapstructure:"development"`
	} `mapstructure:"log"`
	Media    MediaConfig    `mapstructure:"media"`
	Download DownloadConfig `mapstructure:"download"`
	Seed     SeedConfig     `mapstructure:"seed"`
}

// MediaConfig describes where media lives on disk and what to show when
// an asset is unavailable.
type MediaConfig struct {
	Root           string `mapstructure:"root"`
	UploadsDir     string `mapstructure:"uploads_dir"`
	FallbackAvatar string `mapstructure:"fallback_avatar"`
	FallbackCover  string `mapstructure:"fallback_cover"`
	FallbackPage   string `mapstructure:"fallback_page"`
	Thumbnails     bool   `mapstructure:"thumbnails"`
}

// DownloadConfig holds the remote media fetch tunables.
type DownloadConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	Concurrency       int           `mapstructure:"concurrency"`
	Timeout           time.Duration `mapstructure:"timeout"`
	Retries           int           `mapstructure:"retries"`
	BackoffInitial    time.Duration `mapstructure:"backoff_initial"`
	MaxBytes          int64         `mapstructure:"max_bytes"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	UserAgent         string        `mapstructure:"user_agent"`
}

type SeedConfig struct {
	Dir          string   `mapstructure:"dir"`
	Users        []string `mapstructure:"users"`
	Comics       []string `mapstructure:"comics"`
	Chapters     []string `mapstructure:"chapters"`
	StatusFile   string   `mapstructure:"status_file"`
	Interval     int      `mapstructure:"interval"` // minutes, 0 disables
	Watch        bool     `mapstructure:"watch"`
	PasswordCost int      `mapstructure:"password_cost"`
	ErrorSample  int      `mapstructure:"error_sample"`
}

// Load reads configuration from a file named "config.yml" in the
// current directory and unmarshals it into a Config struct. A .env file in
// the working directory is loaded into the environment first when present.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yml")
	v.AddConfigPath(".")

	// e.g., COMICVAULT_DATABASE_PATH will override the `database.path` key.
	v.SetEnvPrefix("COMICVAULT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration with every default applied and no
// file or environment overrides.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", 8080)
	v.SetDefault("database.path", "./comicvault.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetDefault("media.root", "./public")
	v.SetDefault("media.uploads_dir", "uploads")
	v.SetDefault("media.fallback_avatar", "/images/default-avatar.png")
	v.SetDefault("media.fallback_cover", "/images/default-cover.png")
	v.SetDefault("media.fallback_page", "/images/placeholder-page.png")
	v.SetDefault("media.thumbnails", true)

	v.SetDefault("download.enabled", true)
	v.SetDefault("download.concurrency", 4)
	v.SetDefault("download.timeout", 15*time.Second)
	v.SetDefault("download.retries", 3)
	v.SetDefault("download.backoff_initial", 500*time.Millisecond)
	v.SetDefault("download.max_bytes", 10<<20)
	v.SetDefault("download.requests_per_second", 0)
	v.SetDefault("download.user_agent", "comicvault-seeder/1.0")

	v.SetDefault("seed.dir", "./data/seed")
	v.SetDefault("seed.users", []string{"users.json"})
	v.SetDefault("seed.comics", []string{"comics*.json"})
	v.SetDefault("seed.chapters", []string{"chapters*.json"})
	v.SetDefault("seed.status_file", "./data/seed-status.json")
	v.SetDefault("seed.interval", 0)
	v.SetDefault("seed.watch", false)
	v.SetDefault("seed.password_cost", 10)
	v.SetDefault("seed.error_sample", 5)
}
