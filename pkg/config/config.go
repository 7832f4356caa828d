package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/pilotgate/pkg/observability"
	"github.com/platinummonkey/pilotgate/pkg/storage/postgres"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Storage       StorageConfig       `yaml:"storage"`
	Gate          GateConfig          `yaml:"gate"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Addr returns host:port
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// Backend names
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendSQLite   = "sqlite"
)

// StorageConfig selects and connects the organization, override and
// counter stores
type StorageConfig struct {
	// OrgStore is memory or postgres. Overrides come from postgres when
	// OrgStore is postgres, otherwise from OverridesFile.
	OrgStore string `yaml:"org_store"`
	// CounterBackend is memory, redis, postgres or sqlite
	CounterBackend string `yaml:"counter_backend"`

	PostgresURL         string        `yaml:"postgres_url"`
	PostgresReplicaURLs []string      `yaml:"postgres_replica_urls"`
	PostgresMaxConns    int           `yaml:"postgres_max_conns"`
	PostgresMinConns    int           `yaml:"postgres_min_conns"`
	PostgresTimeout     time.Duration `yaml:"postgres_timeout"`
	AutoMigrate         bool          `yaml:"auto_migrate"`

	RedisURL        string `yaml:"redis_url"`
	RedisPassword   string `yaml:"redis_password"`
	RedisDB         int    `yaml:"redis_db"`
	RedisMaxRetries int    `yaml:"redis_max_retries"`
	RedisPoolSize   int    `yaml:"redis_pool_size"`

	SQLitePath    string `yaml:"sqlite_path"`
	OverridesFile string `yaml:"overrides_file"`

	// ConnectTimeout bounds startup connection retries
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// ConnectionConfig converts the postgres settings
func (s StorageConfig) ConnectionConfig() postgres.ConnectionConfig {
	return postgres.ConnectionConfig{
		PrimaryURL:  s.PostgresURL,
		ReplicaURLs: s.PostgresReplicaURLs,
		MaxConns:    s.PostgresMaxConns,
		MinConns:    s.PostgresMinConns,
		Timeout:     s.PostgresTimeout,
		MaxLifetime: 30 * time.Minute,
		MaxIdleTime: 5 * time.Minute,
	}
}

// RedisConfig converts the redis settings
func (s StorageConfig) RedisConfig() postgres.RedisConfig {
	return postgres.RedisConfig{
		URL:        s.RedisURL,
		Password:   s.RedisPassword,
		DB:         s.RedisDB,
		MaxRetries: s.RedisMaxRetries,
		PoolSize:   s.RedisPoolSize,
	}
}

// NeedsPostgres reports whether any store is backed by postgres
func (s StorageConfig) NeedsPostgres() bool {
	return s.OrgStore == BackendPostgres || s.CounterBackend == BackendPostgres
}

// GateConfig holds access gate and quota settings
type GateConfig struct {
	BillingPath string `yaml:"billing_path"`
	// ReportingTimezone is the IANA zone whose calendar day buckets counters
	ReportingTimezone    string        `yaml:"reporting_timezone"`
	EntitlementCacheTTL  time.Duration `yaml:"entitlement_cache_ttl"`
	EntitlementCacheSize int           `yaml:"entitlement_cache_size"`
	CounterRetention     time.Duration `yaml:"counter_retention"`
	JanitorSchedule      string        `yaml:"janitor_schedule"`
}

// Location loads ReportingTimezone
func (g GateConfig) Location() (*time.Location, error) {
	return time.LoadLocation(g.ReportingTimezone)
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       string `yaml:"log_level"`
	MetricsEnabled bool   `yaml:"metrics_enabled"`

	OTelEnabled        bool    `yaml:"otel_enabled"`
	OTelEndpoint       string  `yaml:"otel_endpoint"`
	OTelServiceName    string  `yaml:"otel_service_name"`
	OTelServiceVersion string  `yaml:"otel_service_version"`
	OTelInsecure       bool    `yaml:"otel_insecure"`
	OTelSampleRatio    float64 `yaml:"otel_sample_ratio"`
}

// Level parses LogLevel
func (o ObservabilityConfig) Level() observability.LogLevel {
	return parseLogLevel(o.LogLevel)
}

// OTel converts the OpenTelemetry settings
func (o ObservabilityConfig) OTel() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        o.OTelEnabled,
		Endpoint:       o.OTelEndpoint,
		ServiceName:    o.OTelServiceName,
		ServiceVersion: o.OTelServiceVersion,
		Insecure:       o.OTelInsecure,
		SampleRatio:    o.OTelSampleRatio,
	}
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Storage: StorageConfig{
			OrgStore:         BackendMemory,
			CounterBackend:   BackendMemory,
			PostgresMaxConns: 20,
			PostgresMinConns: 2,
			PostgresTimeout:  5 * time.Second,
			AutoMigrate:      true,
			SQLitePath:       "pilotgate-usage.db",
			ConnectTimeout:   time.Minute,
		},
		Gate: GateConfig{
			BillingPath:          "/billing",
			ReportingTimezone:    "UTC",
			EntitlementCacheTTL:  5 * time.Second,
			EntitlementCacheSize: 10000,
			CounterRetention:     8 * 24 * time.Hour,
			JanitorSchedule:      "@hourly",
		},
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			MetricsEnabled:     true,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "pilotgate",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
			OTelSampleRatio:    1.0,
		},
	}
}

// LoadConfig builds the configuration in layers: defaults, then the YAML
// file named by PILOTGATE_CONFIG_FILE, then environment variables. A .env
// file (PILOTGATE_ENV_FILE, default ".env") is loaded into the environment
// first without overriding variables that are already set.
func LoadConfig() (*Config, error) {
	envFile := getEnv("PILOTGATE_ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
	}

	cfg := Default()

	if path := os.Getenv("PILOTGATE_CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	s := &c.Server
	s.Host = getEnv("PILOTGATE_HOST", s.Host)
	s.Port = getEnv("PILOTGATE_PORT", s.Port)
	s.ReadTimeout = getEnvDuration("PILOTGATE_READ_TIMEOUT", s.ReadTimeout)
	s.WriteTimeout = getEnvDuration("PILOTGATE_WRITE_TIMEOUT", s.WriteTimeout)
	s.IdleTimeout = getEnvDuration("PILOTGATE_IDLE_TIMEOUT", s.IdleTimeout)
	s.ShutdownTimeout = getEnvDuration("PILOTGATE_SHUTDOWN_TIMEOUT", s.ShutdownTimeout)

	st := &c.Storage
	st.OrgStore = getEnv("PILOTGATE_ORG_STORE", st.OrgStore)
	st.CounterBackend = getEnv("PILOTGATE_COUNTER_BACKEND", st.CounterBackend)
	st.PostgresURL = getEnv("PILOTGATE_POSTGRES_URL", st.PostgresURL)
	if replicas := os.Getenv("PILOTGATE_POSTGRES_REPLICA_URLS"); replicas != "" {
		st.PostgresReplicaURLs = postgres.ParseReplicaURLs(replicas)
	}
	st.PostgresMaxConns = getEnvInt("PILOTGATE_POSTGRES_MAX_CONNS", st.PostgresMaxConns)
	st.PostgresMinConns = getEnvInt("PILOTGATE_POSTGRES_MIN_CONNS", st.PostgresMinConns)
	st.PostgresTimeout = getEnvDuration("PILOTGATE_POSTGRES_TIMEOUT", st.PostgresTimeout)
	st.AutoMigrate = getEnvBool("PILOTGATE_AUTO_MIGRATE", st.AutoMigrate)
	st.RedisURL = getEnv("PILOTGATE_REDIS_URL", st.RedisURL)
	st.RedisPassword = getEnv("PILOTGATE_REDIS_PASSWORD", st.RedisPassword)
	st.RedisDB = getEnvInt("PILOTGATE_REDIS_DB", st.RedisDB)
	st.RedisMaxRetries = getEnvInt("PILOTGATE_REDIS_MAX_RETRIES", st.RedisMaxRetries)
	st.RedisPoolSize = getEnvInt("PILOTGATE_REDIS_POOL_SIZE", st.RedisPoolSize)
	st.SQLitePath = getEnv("PILOTGATE_SQLITE_PATH", st.SQLitePath)
	st.OverridesFile = getEnv("PILOTGATE_OVERRIDES_FILE", st.OverridesFile)
	st.ConnectTimeout = getEnvDuration("PILOTGATE_CONNECT_TIMEOUT", st.ConnectTimeout)

	g := &c.Gate
	g.BillingPath = getEnv("PILOTGATE_BILLING_PATH", g.BillingPath)
	g.ReportingTimezone = getEnv("PILOTGATE_REPORTING_TIMEZONE", g.ReportingTimezone)
	g.EntitlementCacheTTL = getEnvDuration("PILOTGATE_ENTITLEMENT_CACHE_TTL", g.EntitlementCacheTTL)
	g.EntitlementCacheSize = getEnvInt("PILOTGATE_ENTITLEMENT_CACHE_SIZE", g.EntitlementCacheSize)
	g.CounterRetention = getEnvDuration("PILOTGATE_COUNTER_RETENTION", g.CounterRetention)
	g.JanitorSchedule = getEnv("PILOTGATE_JANITOR_SCHEDULE", g.JanitorSchedule)

	o := &c.Observability
	o.LogLevel = getEnv("PILOTGATE_LOG_LEVEL", o.LogLevel)
	o.MetricsEnabled = getEnvBool("PILOTGATE_METRICS_ENABLED", o.MetricsEnabled)
	o.OTelEnabled = getEnvBool("PILOTGATE_OTEL_ENABLED", o.OTelEnabled)
	o.OTelEndpoint = getEnv("PILOTGATE_OTEL_ENDPOINT", o.OTelEndpoint)
	o.OTelServiceName = getEnv("PILOTGATE_OTEL_SERVICE_NAME", o.OTelServiceName)
	o.OTelServiceVersion = getEnv("PILOTGATE_OTEL_SERVICE_VERSION", o.OTelServiceVersion)
	o.OTelInsecure = getEnvBool("PILOTGATE_OTEL_INSECURE", o.OTelInsecure)
	o.OTelSampleRatio = getEnvFloat("PILOTGATE_OTEL_SAMPLE_RATIO", o.OTelSampleRatio)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	switch c.Storage.OrgStore {
	case BackendMemory, BackendPostgres:
	default:
		return fmt.Errorf("invalid org store: %s (must be memory or postgres)", c.Storage.OrgStore)
	}

	switch c.Storage.CounterBackend {
	case BackendMemory, BackendPostgres:
	case BackendRedis:
		if c.Storage.RedisURL == "" {
			return fmt.Errorf("redis URL is required for the redis counter backend")
		}
	case BackendSQLite:
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("sqlite path is required for the sqlite counter backend")
		}
	default:
		return fmt.Errorf("invalid counter backend: %s (must be memory, redis, postgres, or sqlite)", c.Storage.CounterBackend)
	}

	if c.Storage.NeedsPostgres() && c.Storage.PostgresURL == "" {
		return fmt.Errorf("postgres URL is required for postgres-backed stores")
	}

	if !strings.HasPrefix(c.Gate.BillingPath, "/") {
		return fmt.Errorf("billing path must be absolute: %q", c.Gate.BillingPath)
	}
	if _, err := c.Gate.Location(); err != nil {
		return fmt.Errorf("invalid reporting timezone %q: %w", c.Gate.ReportingTimezone, err)
	}
	if c.Gate.EntitlementCacheTTL < 0 {
		return fmt.Errorf("entitlement cache TTL must not be negative")
	}
	if c.Gate.CounterRetention < 24*time.Hour {
		return fmt.Errorf("counter retention must be at least 24h, got %s", c.Gate.CounterRetention)
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
