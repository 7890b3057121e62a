package settings

import "time"

// Defaults for service settings.
const (
	// DefaultPort is the HTTP listen port when neither flag nor config sets one.
	DefaultPort = 8318
	// DefaultDatabaseDSN is the SQLite database used when no DSN is configured.
	DefaultDatabaseDSN = "file:tipidbuddy.db"
	// DefaultKVBackend selects the key-value backend.
	DefaultKVBackend = "database"
	// DefaultLevelDBPath is the leveldb directory for the leveldb backend.
	DefaultLevelDBPath = "./data/kv"
	// DefaultRedisPrefix namespaces KV keys and locks in Redis.
	DefaultRedisPrefix = "tipid"
	// DefaultRateLimitRedisPrefix namespaces rate limit counters in Redis.
	DefaultRateLimitRedisPrefix = "tipid:rl"
	// DefaultRateLimit is the fallback per-user request limit per second (0 means unlimited).
	DefaultRateLimit = 0
	// DefaultIdentityMode selects the identity verifier.
	DefaultIdentityMode = "jwt"
	// DefaultIdentityRetries is the number of attempts for transient identity failures.
	DefaultIdentityRetries = 3
	// DefaultIdentityRetryBackoff is the fixed wait between identity attempts.
	DefaultIdentityRetryBackoff = 500 * time.Millisecond
	// DefaultProfileCacheTTL bounds how long display names are cached.
	DefaultProfileCacheTTL = 5 * time.Minute
	// DefaultGroupLockTTL is the lease of a distributed group lock.
	DefaultGroupLockTTL = 10 * time.Second
	// DefaultRequestTimeout bounds each API request.
	DefaultRequestTimeout = 15 * time.Second
	// DefaultLogLevel is the logrus level name.
	DefaultLogLevel = "info"
)
