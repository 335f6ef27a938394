// Package config loads the runtime's environment-variable configuration
// once at startup into a typed Config struct, following the same
// getEnv/getEnvInt helper pattern the teacher inlines in its cmd/main.go,
// but read into an explicit struct rather than scattered local variables so
// it can be passed down to the supervisor's components instead of read
// through a global.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config is the runtime's full environment-derived configuration.
type Config struct {
	// HTTP front end
	Port string

	// Worker pool defaults (per-app overrides still come from the app's
	// own manifest; these are the fallback WorkerConfig values).
	DefaultTTL            time.Duration
	DefaultIdleTimeout     time.Duration
	DefaultRequestTimeout time.Duration
	DefaultMaxRequests    int
	DefaultMaxBodyBytes   int64
	PoolMaxSize           int

	// Plugins
	PluginDirs []string
	APIPrefix  string

	// AppsRoot is the filesystem directory under which tenant application
	// directories live; the pipeline joins the first URL path segment onto
	// this root to resolve the appDir WorkerPool.Fetch expects.
	AppsRoot string

	// Optional backing services. Empty string disables the feature;
	// per SPEC_FULL.md §10 the core must run with none of these set.
	RedisURL string
	NatsURL  string

	// HRANA
	HranaSessionTTL      time.Duration
	HranaSweepInterval time.Duration

	// DatabaseURL is the DSN for the HRANA root adapter (no
	// x-database-namespace header). DatabaseNamespaceDSNTemplate, if set,
	// is a DSN containing the literal substring "{namespace}", substituted
	// per-tenant to provision the per-namespace adapters the HRANA
	// x-database-namespace header selects.
	DatabaseURL                 string
	DatabaseNamespaceDSNTemplate string

	LogLevel string
	LogPretty bool
}

// Load reads Config from the process environment, applying the same
// defaults the teacher's cmd/main.go hardcodes inline.
func Load() Config {
	return Config{
		Port: getEnv("APPRUN_PORT", "8000"),

		DefaultTTL:            getEnvDuration("WORKER_DEFAULT_TTL", 5*time.Minute),
		DefaultIdleTimeout:     getEnvDuration("WORKER_DEFAULT_IDLE_TIMEOUT", 60*time.Second),
		DefaultRequestTimeout: getEnvDuration("WORKER_DEFAULT_REQUEST_TIMEOUT", 30*time.Second),
		DefaultMaxRequests:    getEnvInt("WORKER_DEFAULT_MAX_REQUESTS", 1000),
		DefaultMaxBodyBytes:   int64(getEnvInt("WORKER_DEFAULT_MAX_BODY_BYTES", 10<<20)),
		PoolMaxSize:           getEnvInt("WORKER_POOL_MAX_SIZE", 256),

		PluginDirs: []string{getEnv("PLUGIN_DIR", "./plugins")},
		APIPrefix:  getEnv("API_PREFIX", "/api"),
		AppsRoot:   getEnv("APPS_ROOT", "./apps"),

		RedisURL: os.Getenv("REDIS_URL"),
		NatsURL:  os.Getenv("NATS_URL"),

		HranaSessionTTL:    getEnvDuration("HRANA_SESSION_TTL", 30*time.Second),
		HranaSweepInterval: getEnvDuration("HRANA_SWEEP_INTERVAL", 60*time.Second),

		DatabaseURL:                  os.Getenv("DATABASE_URL"),
		DatabaseNamespaceDSNTemplate: os.Getenv("DATABASE_NAMESPACE_DSN_TEMPLATE"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogPretty: getEnv("LOG_PRETTY", "false") == "true",
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
