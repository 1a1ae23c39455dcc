package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envKeys = []string{
	"ATTENDSYNC_BACKEND",
	"ATTENDSYNC_DB_PATH",
	"ATTENDSYNC_SHEETS_SPREADSHEET_ID",
	"ATTENDSYNC_POSTGRES_DSN",
	"ATTENDSYNC_SYNC_BATCH_SIZE",
	"ATTENDSYNC_SYNC_INTERVAL",
	"ATTENDSYNC_TIMEZONE",
}

// isolate runs the test in an empty directory with no ATTENDSYNC_* variables.
func isolate(t *testing.T) string {
	t.Helper()
	for _, key := range envKeys {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", dir)
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	dir := isolate(t)
	t.Setenv("ATTENDSYNC_BACKEND", "local")

	cfg, err := Load(Options{EnvFile: filepath.Join(dir, "missing.env")})
	require.NoError(t, err)

	assert.Equal(t, BackendLocal, cfg.Backend)
	assert.True(t, cfg.LocalOnly())
	assert.Equal(t, 20, cfg.Sync.BatchSize)
	assert.Equal(t, 30*time.Second, cfg.Sync.Interval)
	assert.Equal(t, 2*time.Second, cfg.Sync.Debounce)
	assert.True(t, cfg.Sync.FlushAfterWrite)
	assert.Equal(t, 15*time.Second, cfg.Sync.RemoteTimeout)
	assert.Equal(t, 10*time.Second, cfg.Cache.TTL)
	assert.Equal(t, "Africa/Lagos", cfg.Timezone)
	assert.Equal(t, "Africa/Lagos", cfg.Location().String())
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 8081, cfg.Dashboard.Port)
	assert.Equal(t, "AttendanceLog", cfg.Sheets.Worksheet)
	assert.Equal(t, 55, cfg.Sheets.RequestsPerMinute)
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "attendsync.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
backend = "postgres"

[postgres]
dsn = "postgres://localhost/attendance"

[sync]
batch_size = 5
interval = "1m"
`), 0o600))

	cfg, err := Load(Options{})
	require.NoError(t, err, "found in the working directory")
	assert.Equal(t, BackendPostgres, cfg.Backend)
	assert.Equal(t, "postgres://localhost/attendance", cfg.Postgres.DSN)
	assert.Equal(t, 5, cfg.Sync.BatchSize)
	assert.Equal(t, time.Minute, cfg.Sync.Interval)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backend: local\nsync:\n  batch_size: 5\n"), 0o600))
	t.Setenv("ATTENDSYNC_SYNC_BATCH_SIZE", "50")

	cfg, err := Load(Options{ConfigFile: path})
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.Sync.BatchSize)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := isolate(t)
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte(
		"ATTENDSYNC_BACKEND=sheets\nATTENDSYNC_SHEETS_SPREADSHEET_ID=sheet-123\n"), 0o600))
	t.Cleanup(func() {
		_ = os.Unsetenv("ATTENDSYNC_BACKEND")
		_ = os.Unsetenv("ATTENDSYNC_SHEETS_SPREADSHEET_ID")
	})

	cfg, err := Load(Options{EnvFile: envFile})
	require.NoError(t, err)
	assert.Equal(t, BackendSheets, cfg.Backend)
	assert.Equal(t, "sheet-123", cfg.Sheets.SpreadsheetID)
}

func TestLoad_ExplicitFileMissing(t *testing.T) {
	dir := isolate(t)
	_, err := Load(Options{ConfigFile: filepath.Join(dir, "nope.toml")})
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			DB:       DBConfig{Path: "a.db"},
			Backend:  BackendSheets,
			Sheets:   SheetsConfig{SpreadsheetID: "id", CredentialsFile: "creds.json"},
			Sync:     SyncConfig{BatchSize: 20},
			Timezone: "Africa/Lagos",
		}
	}

	tests := []struct {
		name    string
		edit    func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"unknown backend", func(c *Config) { c.Backend = "excel" }, "unknown backend"},
		{"sheets without id", func(c *Config) { c.Sheets.SpreadsheetID = "" }, "spreadsheet_id"},
		{"sheets without creds", func(c *Config) { c.Sheets.CredentialsFile = "" }, "credentials_file"},
		{"postgres without dsn", func(c *Config) { c.Backend = BackendPostgres }, "postgres.dsn"},
		{"local needs nothing", func(c *Config) {
			c.Backend = BackendLocal
			c.Sheets = SheetsConfig{}
		}, ""},
		{"zero batch", func(c *Config) { c.Sync.BatchSize = 0 }, "batch_size"},
		{"negative interval", func(c *Config) { c.Sync.Interval = -time.Second }, "negative"},
		{"bad timezone", func(c *Config) { c.Timezone = "Mars/Olympus" }, "timezone"},
		{"no db path", func(c *Config) { c.DB.Path = "" }, "db.path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.edit(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
