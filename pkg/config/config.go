// Package config loads and resolves autodb's application-level
// configuration: busy timeouts, debounce intervals, the settings-key ->
// database-file mapping (spec.md §3.1, §4.7, §6 "Settings"), and the
// ambient logging/REST knobs every component reads at bootstrap.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config is the complete application configuration.
type Config struct {
	Profile  string         `mapstructure:"profile"`
	Database DatabaseConfig `mapstructure:"database"`
	Engine   EngineConfig   `mapstructure:"engine"`
	RestAPI  RestAPIConfig  `mapstructure:"rest_api"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// DatabaseConfig controls where each settings-key's database file lives.
type DatabaseConfig struct {
	AppDir         string `mapstructure:"app_dir"`
	CacheDir       string `mapstructure:"cache_dir"`
	RegularFile    string `mapstructure:"regular_file"`
	CacheFile      string `mapstructure:"cache_file"`
	BackupEligible bool   `mapstructure:"backup_eligible"`
}

// EngineConfig tunes the concurrency/timing constants spec.md §4.1/§4.2/
// §4.7/§5 call out explicitly rather than leaving as hardcoded numbers.
type EngineConfig struct {
	BusyTimeout           time.Duration `mapstructure:"busy_timeout"`             // ~80ms
	BusyRetryAttempts     int           `mapstructure:"busy_retry_attempts"`      // 900
	BusyRetrySleep        time.Duration `mapstructure:"busy_retry_sleep"`         // ~10us
	RowChangeDebounce     time.Duration `mapstructure:"row_change_debounce"`      // ~9us
	SaveChangesLaterDelay time.Duration `mapstructure:"save_changes_later_delay"` // ~3s
	DeleteLaterDelay      time.Duration `mapstructure:"delete_later_delay"`       // ~10s
	PreparedStmtCacheMax  int           `mapstructure:"prepared_stmt_cache_max"`  // 100
	WatchdogWait          time.Duration `mapstructure:"watchdog_wait"`            // 0 disables
	FTSPopulateBatch      int           `mapstructure:"fts_populate_batch"`       // 20000
}

// RestAPIConfig controls the optional inspection HTTP surface
// (internal/api), grounded in the teacher's own RestAPIConfig shape.
type RestAPIConfig struct {
	Enabled      bool     `mapstructure:"enabled"`
	Host         string   `mapstructure:"host"`
	Port         int      `mapstructure:"port"`
	CORS         bool     `mapstructure:"cors"`
	AllowOrigins []string `mapstructure:"allow_origins"`
	APIKey       string   `mapstructure:"api_key"`
}

// LoggingConfig controls internal/logging.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DefaultConfig returns configuration with sensible defaults for every
// knob above.
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	appDir := filepath.Join(home, ".autodb")
	cacheDir := filepath.Join(home, ".cache", "autodb")

	return &Config{
		Profile: "default",
		Database: DatabaseConfig{
			AppDir:         appDir,
			CacheDir:       cacheDir,
			RegularFile:    "store.db",
			CacheFile:      "cache.db",
			BackupEligible: true,
		},
		Engine: EngineConfig{
			BusyTimeout:           80 * time.Millisecond,
			BusyRetryAttempts:     900,
			BusyRetrySleep:        10 * time.Microsecond,
			RowChangeDebounce:     9 * time.Microsecond,
			SaveChangesLaterDelay: 3 * time.Second,
			DeleteLaterDelay:      10 * time.Second,
			PreparedStmtCacheMax:  100,
			WatchdogWait:          0,
			FTSPopulateBatch:      20000,
		},
		RestAPI: RestAPIConfig{
			Enabled: false,
			Host:    "localhost",
			Port:    8088,
			CORS:    true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from a YAML file with fallback to defaults,
// searching ./config.yaml, ~/.autodb/config.yaml, then /etc/autodb.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath(".")
	home, _ := os.UserHomeDir()
	v.AddConfigPath(filepath.Join(home, ".autodb"))
	v.AddConfigPath("/etc/autodb")

	setDefaults(v, DefaultConfig())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("config: error reading config file: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: invalid configuration: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("profile", d.Profile)
	v.SetDefault("database.app_dir", d.Database.AppDir)
	v.SetDefault("database.cache_dir", d.Database.CacheDir)
	v.SetDefault("database.regular_file", d.Database.RegularFile)
	v.SetDefault("database.cache_file", d.Database.CacheFile)
	v.SetDefault("database.backup_eligible", d.Database.BackupEligible)
	v.SetDefault("engine.busy_timeout", d.Engine.BusyTimeout)
	v.SetDefault("engine.busy_retry_attempts", d.Engine.BusyRetryAttempts)
	v.SetDefault("engine.busy_retry_sleep", d.Engine.BusyRetrySleep)
	v.SetDefault("engine.row_change_debounce", d.Engine.RowChangeDebounce)
	v.SetDefault("engine.save_changes_later_delay", d.Engine.SaveChangesLaterDelay)
	v.SetDefault("engine.delete_later_delay", d.Engine.DeleteLaterDelay)
	v.SetDefault("engine.prepared_stmt_cache_max", d.Engine.PreparedStmtCacheMax)
	v.SetDefault("engine.watchdog_wait", d.Engine.WatchdogWait)
	v.SetDefault("engine.fts_populate_batch", d.Engine.FTSPopulateBatch)
	v.SetDefault("rest_api.enabled", d.RestAPI.Enabled)
	v.SetDefault("rest_api.host", d.RestAPI.Host)
	v.SetDefault("rest_api.port", d.RestAPI.Port)
	v.SetDefault("rest_api.cors", d.RestAPI.CORS)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
}

// Validate sanity-checks the loaded configuration.
func (c *Config) Validate() error {
	if c.Database.AppDir == "" {
		return fmt.Errorf("database.app_dir must not be empty")
	}
	if c.Engine.BusyRetryAttempts <= 0 {
		return fmt.Errorf("engine.busy_retry_attempts must be positive")
	}
	if c.Engine.PreparedStmtCacheMax <= 0 {
		return fmt.Errorf("engine.prepared_stmt_cache_max must be positive")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error, got %q", c.Logging.Level)
	}
	return nil
}

// EnsureDirs creates the app and cache directories if missing.
func (c *Config) EnsureDirs() error {
	if err := os.MkdirAll(c.Database.AppDir, 0o755); err != nil {
		return err
	}
	return os.MkdirAll(c.Database.CacheDir, 0o755)
}
