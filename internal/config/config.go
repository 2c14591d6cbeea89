// Package config provides centralized configuration management for the server.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"net"
	"strconv"
	"time"
)

// Journal backends.
const (
	BackendMemory   = "memory"
	BackendBadger   = "badger"
	BackendPostgres = "postgres"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Journal    JournalConfig
	Extraction ExtractionConfig
	Services   ServicesConfig
	Upload     UploadConfig
	Rate       RateLimitConfig
	Security   SecurityConfig
	Logging    LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is the maximum duration for writing response (default: 0 for SSE)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for non-streaming requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// DatabaseConfig holds PostgreSQL settings, used when the journal backend
// is postgres.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string.
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	// MaxConns is the maximum number of connections in the pool (default: 10)
	MaxConns int `env:"DB_MAX_CONNS" default:"10"`

	// MinConns is the minimum number of connections to keep open (default: 2)
	MinConns int `env:"DB_MIN_CONNS" default:"2"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// JournalConfig selects where project history is persisted.
type JournalConfig struct {
	// Backend is memory, badger or postgres (default: badger)
	Backend string `env:"JOURNAL_BACKEND" default:"badger"`

	// Dir is the badger data directory (default: data/journal)
	Dir string `env:"JOURNAL_DIR" default:"data/journal"`

	// SyncWrites fsyncs every badger write (default: true)
	SyncWrites bool `env:"JOURNAL_SYNC_WRITES" default:"true"`

	// GCInterval is how often badger's value log is garbage collected (default: 10m)
	GCInterval time.Duration `env:"JOURNAL_GC_INTERVAL" default:"10m"`

	// GCDiscardRatio is the badger value log GC threshold (default: 0.5)
	GCDiscardRatio float64 `env:"JOURNAL_GC_DISCARD_RATIO" default:"0.5"`
}

// ExtractionConfig holds extraction job settings.
type ExtractionConfig struct {
	// MaxConcurrentJobs is the maximum number of jobs running at once (default: 4)
	MaxConcurrentJobs int `env:"EXTRACT_MAX_CONCURRENT_JOBS" default:"4"`

	// MaxWaitTime is how long a start request waits for a job slot (default: 10s)
	MaxWaitTime time.Duration `env:"EXTRACT_MAX_WAIT_TIME" default:"10s"`

	// JobTimeout bounds a whole job; 0 means no limit (default: 0)
	JobTimeout time.Duration `env:"EXTRACT_JOB_TIMEOUT" default:"0s"`

	// ServiceTimeout bounds a single service call; 0 means no limit (default: 30s)
	ServiceTimeout time.Duration `env:"EXTRACT_SERVICE_TIMEOUT" default:"30s"`

	// JobRetention is how long finished jobs stay queryable (default: 1h)
	JobRetention time.Duration `env:"EXTRACT_JOB_RETENTION" default:"1h"`

	// SweepInterval is how often finished jobs are swept (default: 1m)
	SweepInterval time.Duration `env:"EXTRACT_SWEEP_INTERVAL" default:"1m"`
}

// ServicesConfig holds extraction service settings.
type ServicesConfig struct {
	// SettingsFile is the JSON file service settings are saved to (default: data/services.json)
	SettingsFile string `env:"SERVICES_FILE" default:"data/services.json"`

	// Watch reloads the settings file when it changes on disk (default: true)
	Watch bool `env:"SERVICES_WATCH" default:"true"`

	// HTTPTimeout is the client timeout for remote services (default: 30s)
	HTTPTimeout time.Duration `env:"SERVICES_HTTP_TIMEOUT" default:"30s"`

	// RateLimit is requests per second per remote service; 0 disables it (default: 0)
	RateLimit float64 `env:"SERVICES_RATE_LIMIT" default:"0"`

	// Burst is the remote service rate limiter burst (default: 1)
	Burst int `env:"SERVICES_RATE_BURST" default:"1"`

	// OpenAIKey enables the openai service kind when set
	OpenAIKey string `env:"OPENAI_API_KEY"`

	// OpenAIModel is the default chat model (default: gpt-4o-mini)
	OpenAIModel string `env:"OPENAI_MODEL" default:"gpt-4o-mini"`

	// OpenAIBaseURL overrides the API endpoint for compatible servers
	OpenAIBaseURL string `env:"OPENAI_BASE_URL"`
}

// UploadConfig holds CSV import settings.
type UploadConfig struct {
	// MaxFileSize is the maximum allowed file size in bytes (default: 100MB)
	MaxFileSize int64 `env:"UPLOAD_MAX_FILE_SIZE" default:"104857600"`
}

// RateLimitConfig holds per-IP rate limiting settings.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 300)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"300"`

	// UploadLimit is requests per minute for import and extract endpoints (default: 20)
	UploadLimit int `env:"RATE_LIMIT_UPLOAD" default:"20"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// EnableCSP enables Content-Security-Policy headers (default: true)
	EnableCSP bool `env:"SECURITY_ENABLE_CSP" default:"true"`

	// RequireAPIKey enforces API key auth on /api routes (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of accepted API keys
	APIKeys []string `env:"API_KEYS"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
