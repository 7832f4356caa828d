// Package config provides application configuration from defaults, an
// optional YAML file and environment variables.
//
// # Precedence
//
// Later layers win:
//
//  1. Default()
//  2. YAML file at PILOTGATE_CONFIG_FILE
//  3. PILOTGATE_* environment variables (a .env file at PILOTGATE_ENV_FILE,
//     default ".env", is loaded into the environment first)
//
// # Configuration Structure
//
// Server settings:
//
//	PILOTGATE_HOST="0.0.0.0"
//	PILOTGATE_PORT="8080"
//	PILOTGATE_SHUTDOWN_TIMEOUT="30s"
//
// Storage settings:
//
//	PILOTGATE_ORG_STORE="postgres"          # memory, postgres
//	PILOTGATE_COUNTER_BACKEND="redis"       # memory, redis, postgres, sqlite
//	PILOTGATE_POSTGRES_URL="postgres://localhost/pilotgate?sslmode=disable"
//	PILOTGATE_POSTGRES_REPLICA_URLS="postgres://replica1/pilotgate,postgres://replica2/pilotgate"
//	PILOTGATE_REDIS_URL="redis://localhost:6379/0"
//	PILOTGATE_SQLITE_PATH="/var/lib/pilotgate/usage.db"
//	PILOTGATE_OVERRIDES_FILE="/etc/pilotgate/overrides.yaml"
//
// Gate settings:
//
//	PILOTGATE_BILLING_PATH="/billing"
//	PILOTGATE_REPORTING_TIMEZONE="UTC"
//	PILOTGATE_ENTITLEMENT_CACHE_TTL="5s"    # 0 disables the cache
//	PILOTGATE_COUNTER_RETENTION="192h"
//	PILOTGATE_JANITOR_SCHEDULE="@hourly"
//
// Observability settings:
//
//	PILOTGATE_LOG_LEVEL="info"  # debug, info, warn, error
//	PILOTGATE_METRICS_ENABLED="true"
//	PILOTGATE_OTEL_ENABLED="true"
//	PILOTGATE_OTEL_ENDPOINT="otel-collector:4317"
//	PILOTGATE_OTEL_SAMPLE_RATIO="0.1"
//
// The same settings in YAML:
//
//	storage:
//	  org_store: postgres
//	  counter_backend: redis
//	gate:
//	  reporting_timezone: America/New_York
//	  entitlement_cache_ttl: 10s
package config
