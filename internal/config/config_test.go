package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := writeConfig(t, `
[server]
addr = ":9090"
timeout = "3s"

[security]
jwt_secret = "sekrit"

[security.rate_limiting]
enabled = true
requests_per_second = 50.0
burst = 10

[security.cors]
enabled = true
allowed_origins = ["https://app.example.com"]

[database]
driver = "sqlite3"
dsn = "file:app.db"
pool_size = 4
statement_timeout = "2s"

[cache]
enabled = false
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.Server.Addr)
	require.Equal(t, 3*time.Second, cfg.Server.Timeout.Std())
	require.Equal(t, "sekrit", cfg.Security.JWTSecret)
	require.True(t, cfg.Security.RateLimiting.Enabled)
	require.Equal(t, 4, cfg.Database.PoolSize)
	require.Equal(t, 2*time.Second, cfg.Database.StatementTimeout.Std())
	require.False(t, cfg.Cache.Enabled)
	// untouched defaults survive
	require.Equal(t, 5*time.Second, cfg.Database.ConnectionTimeout.Std())
	require.Equal(t, "quarry", cfg.Observability.ServiceName)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, "[databse]\npool_size = 4\n")
	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown config key")
}

func TestLoadRejectsBadDriver(t *testing.T) {
	path := writeConfig(t, "[database]\ndriver = \"oracle\"\n")
	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported database.driver")
}

func TestLoadRejectsZeroPool(t *testing.T) {
	path := writeConfig(t, "[database]\npool_size = -1\n")
	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "pool_size")
}
