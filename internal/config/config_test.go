package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAPIConfig(t *testing.T) {
	tests := []struct {
		name        string
		configFile  string
		expectError bool
		validate    func(*testing.T, *APIConfig)
	}{
		{
			name: "valid config file",
			configFile: `
debug: true
sentry_dsn: "https://sentry.example.com"
server:
  host: 127.0.0.1
  port: 9090
  read_timeout: 5
auth:
  api_keys:
    - key-one
    - key-two
database:
  host: localhost
  port: 5432
  user: testuser
  password: testpass
  dbname: testdb
  sslmode: require
redis:
  addr: "redis:6379"
  db: 2
nats:
  url: "nats://nats:4222"
  max_reconnects: 5
  reconnect_wait: "5s"
matcher:
  threshold: 75
freshness:
  fresh_window: "12h"
  cooldown_window: "15m"
chains:
  shoprite:
    locator_url: "https://shoprite.example.com/stores"
    zip_param: "zip"
    search_url: "https://shoprite.example.com/search"
    query_param: "q"
    store_param: "storeId"
    min_interval: "3s"
`,
			expectError: false,
			validate: func(t *testing.T, cfg *APIConfig) {
				assert.True(t, cfg.Debug)
				assert.Equal(t, "https://sentry.example.com", cfg.SentryDSN)
				assert.Equal(t, "127.0.0.1", cfg.Server.Host)
				assert.Equal(t, 9090, cfg.Server.Port)
				assert.Equal(t, 5, cfg.Server.ReadTimeout)
				assert.Equal(t, []string{"key-one", "key-two"}, cfg.Auth.APIKeys)
				assert.Equal(t, "localhost", cfg.Database.Host)
				assert.Equal(t, "require", cfg.Database.SSLMode)
				assert.Equal(t, "redis:6379", cfg.Redis.Addr)
				assert.Equal(t, 2, cfg.Redis.DB)
				assert.Equal(t, "nats://nats:4222", cfg.NATS.URL)
				assert.Equal(t, 5, cfg.NATS.MaxReconnects)
				assert.Equal(t, 5*time.Second, cfg.NATS.ReconnectWait)
				assert.Equal(t, 75.0, cfg.Matcher.Threshold)
				assert.Equal(t, 12*time.Hour, cfg.Freshness.FreshWindow)
				assert.Equal(t, 15*time.Minute, cfg.Freshness.CooldownWindow)

				shoprite := cfg.Chains["shoprite"]
				assert.Equal(t, "https://shoprite.example.com/stores", shoprite.LocatorURL)
				assert.Equal(t, "q", shoprite.QueryParam)
				assert.Equal(t, 3*time.Second, shoprite.MinInterval)
				// per-chain defaults still apply to unset fields
				assert.Equal(t, 10*time.Second, shoprite.Timeout)
				assert.True(t, shoprite.RotateUserAgent)
			},
		},
		{
			name: "config with defaults",
			configFile: `
database:
  host: localhost
  user: testuser
  password: testpass
  dbname: testdb
`,
			expectError: false,
			validate: func(t *testing.T, cfg *APIConfig) {
				assert.False(t, cfg.Debug)
				assert.Equal(t, "0.0.0.0", cfg.Server.Host)
				assert.Equal(t, 8080, cfg.Server.Port)
				assert.Equal(t, 5432, cfg.Database.Port)
				assert.Equal(t, "disable", cfg.Database.SSLMode)
				assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
				assert.Equal(t, "nats://localhost:4222", cfg.NATS.URL)
				assert.Equal(t, 70.0, cfg.Matcher.Threshold)
				assert.Equal(t, 24*time.Hour, cfg.Freshness.FreshWindow)
				assert.Equal(t, 30*time.Minute, cfg.Freshness.CooldownWindow)
				assert.Equal(t, 720*time.Hour, cfg.Discovery.CacheTTL)
				assert.Equal(t, 3, cfg.Queue.MaxAttempts)
				assert.Equal(t, 5*time.Second, cfg.Queue.BackoffInitial)
				assert.Equal(t, 15*time.Minute, cfg.Queue.AckWait)
				assert.Equal(t, 100, cfg.Queue.HistoryLimit)
				assert.Equal(t, 20*time.Second, cfg.Orchestrator.WaitTimeout)
				assert.Equal(t, 500*time.Millisecond, cfg.Orchestrator.PollInterval)

				// every supported chain gets a default fetch policy
				for _, chain := range []string{"shoprite", "acme", "walmart", "target"} {
					assert.Equal(t, 2*time.Second, cfg.Chains[chain].MinInterval, chain)
					assert.Equal(t, 256, cfg.Chains[chain].MinResponseBytes, chain)
				}
			},
		},
		{
			name: "missing database host",
			configFile: `
database:
  dbname: testdb
`,
			expectError: true,
			validate:    nil,
		},
		{
			name: "invalid yaml",
			configFile: `
				database:
				  host: localhost
				  port: invalid
			`,
			expectError: true,
			validate:    nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			configFile := filepath.Join(tmpDir, "config.yaml")
			err := os.WriteFile(configFile, []byte(tt.configFile), 0600)
			require.NoError(t, err)

			cfg, err := LoadAPIConfig(configFile, tmpDir)

			if tt.expectError {
				assert.Error(t, err)
				assert.Nil(t, cfg)
			} else {
				require.NoError(t, err)
				require.NotNil(t, cfg)
				if tt.validate != nil {
					tt.validate(t, cfg)
				}
			}
		})
	}
}

func TestLoadWorkerConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.yaml")
	content := `
database:
  host: localhost
  user: worker
  password: secret
  dbname: grocart
queue:
  max_attempts: 5
  backoff_initial: "10s"
  fetch_wait: "1s"
chains:
  walmart:
    search_url: "https://walmart.example.com/search"
    query_param: "query"
    store_param: "store"
    rotate_user_agent: false
`
	require.NoError(t, os.WriteFile(configFile, []byte(content), 0600))

	cfg, err := LoadWorkerConfig(configFile, tmpDir)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Queue.MaxAttempts)
	assert.Equal(t, 10*time.Second, cfg.Queue.BackoffInitial)
	assert.Equal(t, time.Second, cfg.Queue.FetchWait)
	assert.Equal(t, 15*time.Minute, cfg.Queue.AckWait)
	assert.False(t, cfg.Chains["walmart"].RotateUserAgent)
	assert.Equal(t, "query", cfg.Chains["walmart"].QueryParam)
}

func TestLoadSweeperConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.yaml")
	content := `
database:
  host: localhost
  user: sweeper
  password: secret
  dbname: grocart
refresh:
  schedule: "30 2 * * 6"
  active_zip_horizon: "168h"
`
	require.NoError(t, os.WriteFile(configFile, []byte(content), 0600))

	cfg, err := LoadSweeperConfig(configFile, tmpDir)
	require.NoError(t, err)

	assert.Equal(t, "30 2 * * 6", cfg.Refresh.Schedule)
	assert.Equal(t, 168*time.Hour, cfg.Refresh.ActiveZipHorizon)
	assert.Equal(t, "nats://localhost:4222", cfg.NATS.URL)
	assert.Equal(t, 100, cfg.Queue.HistoryLimit)
}

func TestSweeperConfigDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.yaml")
	content := `
database:
  host: localhost
  user: sweeper
  password: secret
  dbname: grocart
`
	require.NoError(t, os.WriteFile(configFile, []byte(content), 0600))

	cfg, err := LoadSweeperConfig(configFile, tmpDir)
	require.NoError(t, err)

	assert.Equal(t, "0 3 * * 0", cfg.Refresh.Schedule)
	assert.Equal(t, 720*time.Hour, cfg.Refresh.ActiveZipHorizon)
}

func TestDatabaseConfig_DSN(t *testing.T) {
	cfg := DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "testuser",
		Password: "p@ssw0rd!",
		DBName:   "testdb",
		SSLMode:  "require",
	}
	assert.Equal(t,
		"host=localhost port=5432 user=testuser password=p@ssw0rd! dbname=testdb sslmode=require",
		cfg.DSN())
}

func TestConfigWithEnvironmentVariables(t *testing.T) {
	tmpDir := t.TempDir()

	envDir := filepath.Join(tmpDir, "env")
	require.NoError(t, os.MkdirAll(envDir, 0750))

	envFile := filepath.Join(envDir, ".env")
	envContent := `MYGROCART_DEBUG=true
MYGROCART_DATABASE_HOST=env-host
MYGROCART_DATABASE_PORT=3306
MYGROCART_DATABASE_USER=env-user
MYGROCART_DATABASE_PASSWORD=env-pass
MYGROCART_DATABASE_DBNAME=env-db
MYGROCART_DATABASE_SSLMODE=require
`
	require.NoError(t, os.WriteFile(envFile, []byte(envContent), 0600))

	configPath := filepath.Join(tmpDir, "config.yaml")
	configFile := `
debug: false
database:
  host: file-host
  port: 5432
  user: file-user
  password: file-pass
  dbname: file-db
  sslmode: disable
`
	require.NoError(t, os.WriteFile(configPath, []byte(configFile), 0600))

	cfg, err := LoadAPIConfig(configPath, envDir)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	// .env values are loaded into the process environment and take
	// precedence over the config file
	assert.True(t, cfg.Debug)
	assert.Equal(t, "env-host", cfg.Database.Host)
	assert.Equal(t, 3306, cfg.Database.Port)
	assert.Equal(t, "env-user", cfg.Database.User)
	assert.Equal(t, "env-pass", cfg.Database.Password)
	assert.Equal(t, "env-db", cfg.Database.DBName)
	assert.Equal(t, "require", cfg.Database.SSLMode)
}
