// Package config loads attendsync settings.
//
// Precedence, lowest first: built-in defaults, the config file, a .env file,
// then ATTENDSYNC_* environment variables. Nested keys map to env names with
// dots replaced by underscores, e.g. sync.batch_size is ATTENDSYNC_SYNC_BATCH_SIZE.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "ATTENDSYNC"

// Backend names.
const (
	BackendSheets   = "sheets"
	BackendPostgres = "postgres"
	BackendLocal    = "local"
)

// Config is the full application configuration.
type Config struct {
	DB        DBConfig        `mapstructure:"db"`
	Backend   string          `mapstructure:"backend"`
	Sheets    SheetsConfig    `mapstructure:"sheets"`
	Postgres  PostgresConfig  `mapstructure:"postgres"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Catalog   CatalogConfig   `mapstructure:"catalog"`
	Timezone  string          `mapstructure:"timezone"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
	Log       LogConfig       `mapstructure:"log"`
}

type DBConfig struct {
	Path string `mapstructure:"path"`
}

type SheetsConfig struct {
	CredentialsFile   string `mapstructure:"credentials_file"`
	SpreadsheetID     string `mapstructure:"spreadsheet_id"`
	Worksheet         string `mapstructure:"worksheet"`
	RequestsPerMinute int    `mapstructure:"requests_per_minute"`
}

type PostgresConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

type SyncConfig struct {
	BatchSize       int           `mapstructure:"batch_size"`
	Interval        time.Duration `mapstructure:"interval"`
	Debounce        time.Duration `mapstructure:"debounce"`
	FlushAfterWrite bool          `mapstructure:"flush_after_write"`
	RemoteTimeout   time.Duration `mapstructure:"remote_timeout"`
}

type CacheConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

type CatalogConfig struct {
	Path string `mapstructure:"path"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type DashboardConfig struct {
	Port int `mapstructure:"port"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("db.path", filepath.Join(".attendsync", "attendance.db"))
	v.SetDefault("backend", BackendSheets)
	v.SetDefault("sheets.credentials_file", "credentials.json")
	v.SetDefault("sheets.spreadsheet_id", "")
	v.SetDefault("sheets.worksheet", "AttendanceLog")
	v.SetDefault("sheets.requests_per_minute", 55)
	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.max_conns", 4)
	v.SetDefault("sync.batch_size", 20)
	v.SetDefault("sync.interval", 30*time.Second)
	v.SetDefault("sync.debounce", 2*time.Second)
	v.SetDefault("sync.flush_after_write", true)
	v.SetDefault("sync.remote_timeout", 15*time.Second)
	v.SetDefault("cache.ttl", 10*time.Second)
	v.SetDefault("catalog.path", "")
	v.SetDefault("timezone", "Africa/Lagos")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("dashboard.port", 8081)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
}

// Options controls where Load looks.
type Options struct {
	// ConfigFile is an explicit config file. Empty searches the default locations.
	ConfigFile string
	// EnvFile is the dotenv file to read. Empty means ".env"; a missing file is ignored.
	EnvFile string
}

// Load reads the configuration and validates it.
func Load(opts Options) (*Config, error) {
	envFile := opts.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
	} else {
		v.SetConfigName("attendsync")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".attendsync"))
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if opts.ConfigFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.Backend = strings.ToLower(strings.TrimSpace(cfg.Backend))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendSheets:
		if c.Sheets.SpreadsheetID == "" {
			return fmt.Errorf("sheets.spreadsheet_id is required for the sheets backend")
		}
		if c.Sheets.CredentialsFile == "" {
			return fmt.Errorf("sheets.credentials_file is required for the sheets backend")
		}
	case BackendPostgres:
		if c.Postgres.DSN == "" {
			return fmt.Errorf("postgres.dsn is required for the postgres backend")
		}
	case BackendLocal:
	default:
		return fmt.Errorf("unknown backend %q (want sheets, postgres or local)", c.Backend)
	}

	if c.DB.Path == "" {
		return fmt.Errorf("db.path is required")
	}
	if c.Sync.BatchSize <= 0 {
		return fmt.Errorf("sync.batch_size must be positive (got %d)", c.Sync.BatchSize)
	}
	if c.Sync.Interval < 0 || c.Sync.Debounce < 0 || c.Sync.RemoteTimeout < 0 {
		return fmt.Errorf("sync durations cannot be negative")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return nil
}

// Location returns the configured timezone. Call after Validate.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// LocalOnly reports whether no remote backend is configured.
func (c *Config) LocalOnly() bool {
	return c.Backend == BackendLocal
}
