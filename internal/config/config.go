package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ListenPort      string        // ex: ":8080"
	ShutdownTimeout time.Duration // ex: 5s
	RequestTimeout  time.Duration // per-request timeout for short API calls

	LogLevel      string // "debug" | "info" | "warn" | "error"
	PrettyLog     bool   // true => zap dev (color), false => zap prod (JSON)
	LogFile       string // optional rotating log file
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int

	// Sync services
	ServiceFile    string        // path to the services.yaml file
	ReloadInterval time.Duration // interval to reload services.yaml (default: 1h)
	GCInterval     time.Duration // interval to purge services removed from the file
	GCThreshold    time.Duration // how long a removed service is kept before purge

	// Commands
	MaxHistorySize int // undo/redo history bound (default: 50)

	// Sync engine
	SyncMaxAttempts   int           // attempts per sync when the remote changes underneath
	SyncRetryInterval time.Duration // first backoff between attempts
	SyncTimeout       time.Duration // deadline of a sync started over HTTP
	SyncQueueSize     int
	HTTPTimeout       time.Duration // per-request timeout for remote backends
	UserAgent         string

	// Browser-extension peers
	ExtensionPingTimeout    time.Duration
	ExtensionRequestTimeout time.Duration
	DiscoveryWindow         time.Duration
	BusChannel              string // Redis Pub/Sub channel for peer frames

	// Auto-sync leadership
	HeartbeatInterval time.Duration
	StaleAfter        time.Duration

	// Redis (optional, empty address => memory only)
	RedisAddr             string        // ex: "localhost:6379"
	RedisUser             string        // optional
	RedisPassword         string        // optional
	RedisPasswordRequired bool          // true => require password, false => allow empty password
	RedisDB               int           // Redis DB number
	RedisDT               time.Duration // Redis dial timeout (ex: 5s)
	RedisRT               time.Duration // Redis read timeout (ex: 3s)
	RedisWT               time.Duration // Redis write timeout (ex: 3s)
	RedisMaxWait          time.Duration // max wait between retries (ex: 10s)
	RedisPingTimeout      time.Duration // timeout for each ping attempt (ex: 5s)
	RedisPoolSize         int           // Redis connection pool size
	RedisConnectTimeout   time.Duration // Total time to retry connecting (ex: 30s)
	RedisRetryInterval    time.Duration // Initial wait between retries (ex: 2s, grows exponentially)
	RedisWarnThreshold    int           // warn after this many attempts
	RedisLockTTL          time.Duration // expiry of the auto-sync lock key

	AllowedHosts []string // optional, restrict access to specific Host headers
	AllowedCIDRS []string // optional, restrict access to specific IP (e.g. "1.2.3.4, 5.6.7.8")
	TrustProxy   bool     // true => trust X-Forwarded-For headers (e.g. cloudflared)

	// Rate limit applied to sync endpoints, per client IP.
	SyncRateBurst     int
	SyncRatePerMinute int
}

func Load() *Config {
	cfg := &Config{
		// Server settings
		ListenPort:      getenv("LINKTAGS_LISTEN_PORT", ":8080"),
		ShutdownTimeout: mustDuration("LINKTAGS_SHUTDOWN_TIMEOUT", 5*time.Second),
		RequestTimeout:  mustDuration("LINKTAGS_REQUEST_TIMEOUT", 5*time.Second),

		// Logging
		LogLevel:      getenv("LINKTAGS_LOG_LEVEL", "info"),
		PrettyLog:     mustBool("LINKTAGS_PRETTY_LOG", true),
		LogFile:       getenv("LINKTAGS_LOG_FILE", ""),
		LogMaxSizeMB:  getenvInt("LINKTAGS_LOG_MAX_SIZE_MB", 50),
		LogMaxBackups: getenvInt("LINKTAGS_LOG_MAX_BACKUPS", 3),
		LogMaxAgeDays: getenvInt("LINKTAGS_LOG_MAX_AGE_DAYS", 28),

		// Services file
		ServiceFile:    getenv("LINKTAGS_SERVICE_FILE", "/app/services.yaml"),
		ReloadInterval: mustDuration("LINKTAGS_RELOAD_INTERVAL", time.Hour),
		GCInterval:     mustDuration("LINKTAGS_GC_INTERVAL", 24*time.Hour),
		GCThreshold:    mustDuration("LINKTAGS_GC_THRESHOLD", 30*24*time.Hour),

		MaxHistorySize: getenvInt("LINKTAGS_MAX_HISTORY", 50),

		// Sync engine
		SyncMaxAttempts:   getenvInt("LINKTAGS_SYNC_MAX_ATTEMPTS", 3),
		SyncRetryInterval: mustDuration("LINKTAGS_SYNC_RETRY_INTERVAL", 250*time.Millisecond),
		SyncTimeout:       mustDuration("LINKTAGS_SYNC_TIMEOUT", 2*time.Minute),
		SyncQueueSize:     getenvInt("LINKTAGS_SYNC_QUEUE_SIZE", 32),
		HTTPTimeout:       mustDuration("LINKTAGS_HTTP_TIMEOUT", 30*time.Second),
		UserAgent:         getenv("LINKTAGS_USER_AGENT", "linktags-sync"),

		ExtensionPingTimeout:    mustDuration("LINKTAGS_EXTENSION_PING_TIMEOUT", 5*time.Second),
		ExtensionRequestTimeout: mustDuration("LINKTAGS_EXTENSION_REQUEST_TIMEOUT", 30*time.Second),
		DiscoveryWindow:         mustDuration("LINKTAGS_DISCOVERY_WINDOW", 3*time.Second),
		BusChannel:              getenv("LINKTAGS_BUS_CHANNEL", "linktags:bridge"),

		HeartbeatInterval: mustDuration("LINKTAGS_HEARTBEAT_INTERVAL", 10*time.Second),
		StaleAfter:        mustDuration("LINKTAGS_STALE_AFTER", 30*time.Second),

		// Redis settings
		RedisAddr:             getenv("LINKTAGS_REDIS_ADDR", ""),
		RedisUser:             getenv("LINKTAGS_REDIS_USERNAME", "default"),
		RedisPasswordRequired: mustBool("LINKTAGS_REDIS_PASSWORD_REQUIRED", false),
		RedisPassword:         getenv("LINKTAGS_REDIS_PASSWORD", ""),
		RedisDB:               getenvInt("LINKTAGS_REDIS_DB", 0),
		RedisDT:               mustDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
		RedisRT:               mustDuration("REDIS_READ_TIMEOUT", 3*time.Second),
		RedisWT:               mustDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		RedisMaxWait:          mustDuration("REDIS_MAX_WAIT", 10*time.Second),
		RedisPingTimeout:      mustDuration("REDIS_PING_TIMEOUT", 5*time.Second),
		RedisPoolSize:         getenvInt("REDIS_POOL_SIZE", 10),
		RedisConnectTimeout:   mustDuration("REDIS_CONNECT_TIMEOUT", 30*time.Second),
		RedisRetryInterval:    mustDuration("REDIS_RETRY_INTERVAL", 2*time.Second),
		RedisWarnThreshold:    getenvInt("REDIS_WARN_THRESHOLD", 3),
		RedisLockTTL:          mustDuration("LINKTAGS_REDIS_LOCK_TTL", time.Minute),

		// Access restrictions
		AllowedHosts: splitAndTrim(getenv("LINKTAGS_ALLOWED_HOSTS", "")),
		AllowedCIDRS: parseAllowedIPs(getenv("LINKTAGS_ALLOWED_CIDRS", "")),
		TrustProxy:   mustBool("LINKTAGS_TRUST_PROXY", false),

		SyncRateBurst:     getenvInt("LINKTAGS_SYNC_RATE_BURST", 10),
		SyncRatePerMinute: getenvInt("LINKTAGS_SYNC_RATE_PER_MINUTE", 30),
	}

	// Validate Redis password configuration
	if cfg.RedisAddr != "" && cfg.RedisPasswordRequired && cfg.RedisPassword == "" {
		panic("❌ FATAL: LINKTAGS_REDIS_PASSWORD is required when LINKTAGS_REDIS_PASSWORD_REQUIRED=true")
	}
	if cfg.StaleAfter <= cfg.HeartbeatInterval {
		panic(fmt.Sprintf("❌ FATAL: LINKTAGS_STALE_AFTER (%s) must exceed LINKTAGS_HEARTBEAT_INTERVAL (%s)",
			cfg.StaleAfter, cfg.HeartbeatInterval))
	}

	// Log config only in debug mode with redacted sensitive fields
	if cfg.LogLevel == "debug" {
		cfgCopy := *cfg
		cfgCopy.RedisPassword = "***REDACTED***"
		if cfg.RedisUser != "" {
			cfgCopy.RedisUser = "***REDACTED***"
		}
		log.Printf("[DEBUG] cfg: %+v\n", cfgCopy)
	}

	return cfg
}

// RedisEnabled reports whether a Redis address was configured.
func (c *Config) RedisEnabled() bool { return c.RedisAddr != "" }

// helpers
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func mustBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func mustDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func parseAllowedIPs(allowed string) []string {
	if allowed == "" {
		return nil
	}
	ips := make([]string, 0, 4)
	for _, ip := range splitAndTrim(allowed) {
		if ip != "" {
			ips = append(ips, ip)
		}
	}
	return ips
}

func splitAndTrim(s string) []string {
	if s == "" {
		return nil
	}
	raw := strings.Split(s, ",")
	parts := make([]string, 0, len(raw))
	for _, part := range raw {
		trimmed := strings.TrimSpace(part)
		// Remove surrounding quotes if present
		trimmed = strings.Trim(trimmed, `"'`)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
