package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/pilotgate/pkg/observability"
)

// isolate points the .env lookup at an empty temp dir so a developer's
// local file cannot leak into tests
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("PILOTGATE_ENV_FILE", filepath.Join(dir, ".env"))
	t.Setenv("PILOTGATE_CONFIG_FILE", "")
	return dir
}

func TestGetEnv(t *testing.T) {
	t.Setenv("PILOTGATE_TEST_VAR", "custom")

	if got := getEnv("PILOTGATE_TEST_VAR", "default"); got != "custom" {
		t.Errorf("getEnv() = %v, want custom", got)
	}
	if got := getEnv("PILOTGATE_TEST_VAR_NOT_SET", "default"); got != "default" {
		t.Errorf("getEnv() = %v, want default", got)
	}
}

func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		envValue     string
		defaultValue bool
		want         bool
	}{
		{"true", false, true},
		{"1", false, true},
		{"TRUE", false, true},
		{"false", true, false},
		{"yes", true, false},
		{"", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.envValue, func(t *testing.T) {
			t.Setenv("PILOTGATE_TEST_BOOL", tt.envValue)
			assert.Equal(t, tt.want, getEnvBool("PILOTGATE_TEST_BOOL", tt.defaultValue))
		})
	}
}

func TestGetEnvNumbers(t *testing.T) {
	t.Setenv("PILOTGATE_TEST_INT", "42")
	t.Setenv("PILOTGATE_TEST_BAD_INT", "forty")
	t.Setenv("PILOTGATE_TEST_FLOAT", "0.25")
	t.Setenv("PILOTGATE_TEST_DURATION", "90s")
	t.Setenv("PILOTGATE_TEST_BAD_DURATION", "soon")

	assert.Equal(t, 42, getEnvInt("PILOTGATE_TEST_INT", 1))
	assert.Equal(t, 1, getEnvInt("PILOTGATE_TEST_BAD_INT", 1))
	assert.Equal(t, 0.25, getEnvFloat("PILOTGATE_TEST_FLOAT", 1))
	assert.Equal(t, 90*time.Second, getEnvDuration("PILOTGATE_TEST_DURATION", time.Second))
	assert.Equal(t, time.Second, getEnvDuration("PILOTGATE_TEST_BAD_DURATION", time.Second))
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]observability.LogLevel{
		"debug":   observability.DebugLevel,
		"INFO":    observability.InfoLevel,
		"warning": observability.WarnLevel,
		"error":   observability.ErrorLevel,
		"chatty":  observability.InfoLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, parseLogLevel(in), in)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	isolate(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
	assert.Equal(t, BackendMemory, cfg.Storage.OrgStore)
	assert.Equal(t, BackendMemory, cfg.Storage.CounterBackend)
	assert.Equal(t, "/billing", cfg.Gate.BillingPath)
	assert.Equal(t, 5*time.Second, cfg.Gate.EntitlementCacheTTL)
	assert.Equal(t, 8*24*time.Hour, cfg.Gate.CounterRetention)
	assert.Equal(t, observability.InfoLevel, cfg.Observability.Level())

	loc, err := cfg.Gate.Location()
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)
}

func TestLoadConfig_Layers(t *testing.T) {
	dir := isolate(t)

	yamlPath := filepath.Join(dir, "pilotgate.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(`
server:
  port: "9000"
storage:
  org_store: postgres
  counter_backend: redis
  postgres_url: postgres://file/pilotgate
  redis_url: redis://file:6379/0
gate:
  reporting_timezone: Asia/Tokyo
  entitlement_cache_ttl: 10s
observability:
  log_level: debug
`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"),
		[]byte("PILOTGATE_REDIS_URL=redis://dotenv:6379/1\nPILOTGATE_PORT=7000\n"), 0o600))

	t.Setenv("PILOTGATE_CONFIG_FILE", yamlPath)
	t.Setenv("PILOTGATE_PORT", "8443")
	t.Setenv("PILOTGATE_POSTGRES_REPLICA_URLS", "postgres://r1/db, postgres://r2/db")
	// godotenv writes straight into the process env
	t.Cleanup(func() { os.Unsetenv("PILOTGATE_REDIS_URL") })

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8443", cfg.Server.Port, "environment beats .env and file")
	assert.Equal(t, "redis://dotenv:6379/1", cfg.Storage.RedisURL, ".env beats file")
	assert.Equal(t, "postgres://file/pilotgate", cfg.Storage.PostgresURL)
	assert.Equal(t, []string{"postgres://r1/db", "postgres://r2/db"}, cfg.Storage.PostgresReplicaURLs)
	assert.Equal(t, 10*time.Second, cfg.Gate.EntitlementCacheTTL)
	assert.Equal(t, observability.DebugLevel, cfg.Observability.Level())
	assert.Equal(t, "/billing", cfg.Gate.BillingPath, "unset keys keep defaults")
	assert.True(t, cfg.Storage.NeedsPostgres())

	conn := cfg.Storage.ConnectionConfig()
	assert.Equal(t, "postgres://file/pilotgate", conn.PrimaryURL)
	assert.Len(t, conn.ReplicaURLs, 2)
	assert.Equal(t, "redis://dotenv:6379/1", cfg.Storage.RedisConfig().URL)
}

func TestLoadConfig_BadFile(t *testing.T) {
	dir := isolate(t)

	t.Setenv("PILOTGATE_CONFIG_FILE", filepath.Join(dir, "missing.yaml"))
	_, err := LoadConfig()
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("server: [unclosed"), 0o600))
	t.Setenv("PILOTGATE_CONFIG_FILE", bad)
	_, err = LoadConfig()
	assert.ErrorContains(t, err, "failed to parse config file")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"missing port", func(c *Config) { c.Server.Port = "" }, "server port is required"},
		{"bad org store", func(c *Config) { c.Storage.OrgStore = "mysql" }, "invalid org store"},
		{"bad counter backend", func(c *Config) { c.Storage.CounterBackend = "etcd" }, "invalid counter backend"},
		{"redis without URL", func(c *Config) { c.Storage.CounterBackend = BackendRedis }, "redis URL is required"},
		{"sqlite without path", func(c *Config) {
			c.Storage.CounterBackend = BackendSQLite
			c.Storage.SQLitePath = ""
		}, "sqlite path is required"},
		{"postgres without URL", func(c *Config) { c.Storage.OrgStore = BackendPostgres }, "postgres URL is required"},
		{"relative billing path", func(c *Config) { c.Gate.BillingPath = "billing" }, "billing path must be absolute"},
		{"unknown timezone", func(c *Config) { c.Gate.ReportingTimezone = "Mars/Olympus" }, "invalid reporting timezone"},
		{"negative cache TTL", func(c *Config) { c.Gate.EntitlementCacheTTL = -time.Second }, "must not be negative"},
		{"short retention", func(c *Config) { c.Gate.CounterRetention = time.Hour }, "at least 24h"},
		{"otel without endpoint", func(c *Config) {
			c.Observability.OTelEnabled = true
			c.Observability.OTelEndpoint = ""
		}, "endpoint is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
