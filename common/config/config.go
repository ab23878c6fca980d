package config

import (
	"sync"
	"time"

	"github.com/dfft546/gproxy/common/env"
)

var (
	// DebugEnabled toggles verbose structured logging when DEBUG=true.
	DebugEnabled = env.Bool("DEBUG", false)
	// DebugSQLEnabled toggles per-query SQL logging when DEBUG_SQL=true.
	DebugSQLEnabled = env.Bool("DEBUG_SQL", false)

	// DSN selects the database: postgres:// prefix for PostgreSQL, any other
	// non-empty value for MySQL, empty for SQLite.
	DSN = env.String("GPROXY_DSN", "")
	// SQLitePath is the SQLite file used when no DSN is configured.
	SQLitePath = env.String("SQLITE_PATH", "gproxy.db")
	// SQLiteBusyTimeout is the SQLite busy_timeout pragma in milliseconds.
	SQLiteBusyTimeout = env.Int("SQLITE_BUSY_TIMEOUT", 3000)

	// RedisConnString enables the Redis-backed api-key cache when set.
	RedisConnString = env.String("REDIS_CONN_STRING", "")
	RedisPassword   = env.String("REDIS_PASSWORD", "")
	RedisMasterName = env.String("REDIS_MASTER_NAME", "")

	// PoolMaxAttempts caps the credential rotation loop per request.
	PoolMaxAttempts = env.Int("POOL_MAX_ATTEMPTS", 8)

	// SuspendDurationFor429 is the transient disallow window applied after an
	// upstream 429 when no Retry-After header is parseable.
	SuspendDurationFor429 = time.Second * time.Duration(env.Int("SUSPEND_SECONDS_FOR_429", 60))
	// SuspendDurationFor5XX is the transient disallow window after upstream 5xx.
	SuspendDurationFor5XX = time.Second * time.Duration(env.Int("SUSPEND_SECONDS_FOR_5XX", 30))
	// SuspendDurationForNetwork is the transient disallow window after DNS,
	// connect, TLS, or read failures.
	SuspendDurationForNetwork = time.Second * time.Duration(env.Int("SUSPEND_SECONDS_FOR_NETWORK", 10))

	// ConnectTimeout bounds upstream TCP/TLS establishment.
	ConnectTimeout = time.Second * time.Duration(env.Int("CONNECT_TIMEOUT", 10))
	// UpstreamTimeout bounds one upstream HTTP call end to end, streaming included.
	UpstreamTimeout = time.Second * time.Duration(env.Int("UPSTREAM_TIMEOUT", 600))
	// RefreshTimeout bounds one OAuth token refresh call.
	RefreshTimeout = time.Second * time.Duration(env.Int("REFRESH_TIMEOUT", 30))

	// TokenRefreshSkew refreshes access tokens this long before expiry.
	TokenRefreshSkew = time.Second * time.Duration(env.Int("TOKEN_REFRESH_SKEW", 30))

	// OAuthStateTTL bounds the authorize-state lifetime between /start and /callback.
	OAuthStateTTL = time.Second * time.Duration(env.Int("OAUTH_STATE_TTL", 600))

	// BusControlQueueSize bounds the storage-bus control channel.
	BusControlQueueSize = env.Int("BUS_CONTROL_QUEUE_SIZE", 1024)
	// BusTrafficQueueSize bounds the storage-bus traffic channel.
	BusTrafficQueueSize = env.Int("BUS_TRAFFIC_QUEUE_SIZE", 65536)
	// BusFlushInterval is the batched flush cadence of the storage bus.
	BusFlushInterval = time.Millisecond * time.Duration(env.Int("BUS_FLUSH_INTERVAL_MS", 200))
	// BusBatchSize flushes a storage-bus batch early once it reaches this many rows.
	BusBatchSize = env.Int("BUS_BATCH_SIZE", 200)
	// BusRetryBackoff is the wait between storage write retries on DB error.
	BusRetryBackoff = time.Millisecond * time.Duration(env.Int("BUS_RETRY_BACKOFF_MS", 200))

	// MaxErrorBodyBytes bounds how much of an upstream error body is read.
	MaxErrorBodyBytes = int64(env.Int("MAX_ERROR_BODY_BYTES", 1<<20))

	// RateLimitPerKey is the sustained requests/second allowed per api key (0 disables).
	RateLimitPerKey = env.Float64("RATE_LIMIT_PER_KEY", 0)
	// RateLimitBurst is the per-key burst allowance.
	RateLimitBurst = env.Int("RATE_LIMIT_BURST", 20)

	// EnablePrometheusMetrics exposes /metrics for scrapers when true.
	EnablePrometheusMetrics = env.Bool("ENABLE_PROMETHEUS_METRICS", true)

	// InitialAdminKey seeds global_config.admin_key on first boot when set.
	InitialAdminKey = env.String("INITIAL_ADMIN_KEY", "")
)

// Runtime holds the single global_config row, loaded at boot and replaced
// wholesale on admin writes. Readers take the lock briefly and copy.
type Runtime struct {
	Host                 string `json:"host"`
	Port                 int    `json:"port"`
	AdminKey             string `json:"admin_key"`
	Proxy                string `json:"proxy,omitempty"`
	EventRedactSensitive bool   `json:"event_redact_sensitive"`
}

var (
	runtimeMu sync.RWMutex
	runtime   = Runtime{Host: "0.0.0.0", Port: 3000}
)

func GetRuntime() Runtime {
	runtimeMu.RLock()
	defer runtimeMu.RUnlock()
	return runtime
}

func SetRuntime(r Runtime) {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()
	if r.Host == "" {
		r.Host = "0.0.0.0"
	}
	if r.Port == 0 {
		r.Port = 3000
	}
	runtime = r
}
