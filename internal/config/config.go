package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Run modes of the daemon.
const (
	ModeHTTP = "http"
	ModeMCP  = "mcp"
	ModeBoth = "both"
)

// ServerConfig holds server-related settings.
type ServerConfig struct {
	Addr      string `env:"TASKSCHED_ADDR" envDefault:"0.0.0.0:8099"`
	AuthToken string `env:"TASKSCHED_AUTH_TOKEN"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"console"`
}

// SupervisorConfig holds the control-plane connection.
type SupervisorConfig struct {
	URL       string        `env:"SUPERVISOR_URL" envDefault:"http://supervisor"`
	Token     string        `env:"SUPERVISOR_TOKEN"`
	Timeout   time.Duration `env:"SUPERVISOR_TIMEOUT" envDefault:"30s"`
	RateLimit float64       `env:"SUPERVISOR_RATE_LIMIT" envDefault:"0"`
	Burst     int           `env:"SUPERVISOR_BURST" envDefault:"1"`
}

// StoreConfig selects where tasks and history are persisted.
type StoreConfig struct {
	Driver       string `env:"STORE_DRIVER" envDefault:"json"`
	StateDir     string `env:"STATE_DIR"`
	HistoryLimit int    `env:"HISTORY_LIMIT" envDefault:"100"`
}

// SolarConfig holds the sun-relative polling constants.
type SolarConfig struct {
	PollInterval time.Duration `env:"SOLAR_POLL_INTERVAL" envDefault:"60s"`
	Tolerance    time.Duration `env:"SOLAR_TOLERANCE" envDefault:"60s"`
	Cooldown     time.Duration `env:"SOLAR_COOLDOWN" envDefault:"300s"`
	RefreshSpec  string        `env:"SOLAR_REFRESH_SPEC" envDefault:"5 0 * * *"`
	SunEntity    string        `env:"SUN_ENTITY" envDefault:"sun.sun"`
}

// BarkConfig holds Bark notification settings.
type BarkConfig struct {
	URL     string `env:"BARK_URL"`
	Enabled bool   `env:"BARK_ENABLED" envDefault:"false"`
}

// NotificationConfig holds all notification settings.
type NotificationConfig struct {
	Bark BarkConfig
	// Persistent raises a Home Assistant persistent notification on failure.
	Persistent bool `env:"NOTIFY_PERSISTENT" envDefault:"false"`
}

// Config holds all runtime configuration options for the daemon.
type Config struct {
	Server       ServerConfig
	Log          LogConfig
	Supervisor   SupervisorConfig
	Store        StoreConfig
	Solar        SolarConfig
	Notification NotificationConfig

	Mode          string        `env:"TASKSCHED_MODE" envDefault:"http"`
	UseUTC        bool          `env:"USE_UTC" envDefault:"false"`
	ShutdownGrace time.Duration `env:"SHUTDOWN_GRACE" envDefault:"5s"`
}

const defaultAddonStateDir = "/config/task_scheduler"

// Load reads the environment into Config. A .env file in the working
// directory, if present, is loaded first; real environment variables win.
// Command-line flags are applied on top by the caller, followed by Validate.
func Load() (*Config, error) {
	_ = godotenv.Load(envFiles()...)

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

func envFiles() []string {
	files := []string{}
	if _, err := os.Stat(".env"); err == nil {
		files = append(files, ".env")
	}
	if configDir, err := os.UserConfigDir(); err == nil {
		path := filepath.Join(configDir, "taskscheduler", ".env")
		if _, err := os.Stat(path); err == nil {
			files = append(files, path)
		}
	}
	return files
}

// Validate normalizes derived fields and rejects unusable values.
func (c *Config) Validate() error {
	c.Mode = strings.ToLower(strings.TrimSpace(c.Mode))
	switch c.Mode {
	case ModeHTTP, ModeMCP, ModeBoth:
	default:
		return fmt.Errorf("invalid mode %q (use http, mcp or both)", c.Mode)
	}

	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	switch c.Store.Driver {
	case "json", "sqlite":
	default:
		return fmt.Errorf("invalid store driver %q (use json or sqlite)", c.Store.Driver)
	}
	if c.Store.HistoryLimit < 1 {
		return fmt.Errorf("HISTORY_LIMIT must be at least 1, got %d", c.Store.HistoryLimit)
	}
	if c.Store.StateDir == "" {
		c.Store.StateDir = defaultStateDir()
	}

	if c.Solar.PollInterval <= 0 {
		return fmt.Errorf("SOLAR_POLL_INTERVAL must be positive")
	}
	if c.Solar.Tolerance <= 0 {
		return fmt.Errorf("SOLAR_TOLERANCE must be positive")
	}
	if c.Solar.Cooldown <= 0 {
		return fmt.Errorf("SOLAR_COOLDOWN must be positive")
	}
	if c.Notification.Bark.Enabled && c.Notification.Bark.URL == "" {
		return fmt.Errorf("BARK_ENABLED requires BARK_URL")
	}
	return nil
}

// Location is the zone used for cron evaluation and naive timestamps.
func (c *Config) Location() *time.Location {
	if c.UseUTC {
		return time.UTC
	}
	return time.Local
}

// defaultStateDir prefers the add-on /config volume and falls back to the
// user config directory when it is not mounted.
func defaultStateDir() string {
	if info, err := os.Stat(filepath.Dir(defaultAddonStateDir)); err == nil && info.IsDir() {
		return defaultAddonStateDir
	}
	if baseDir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(baseDir, "taskscheduler")
	}
	return "data"
}
