package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for one worker process
type Config struct {
	// Database
	DatabaseURL string

	// HTTP server
	ListenAddr  string
	IngestToken string // bearer token required on the ingestion endpoint; empty disables the check
	NodeLabel   string // origin label attached to batches forwarded from this instance

	// Upstream forwarding
	UpstreamURL      string // peer ingestion endpoint; empty disables forwarding
	UpstreamToken    string
	UpstreamInterval time.Duration // minimum time between real forwarding attempts
	UpstreamTick     time.Duration // scheduler tick period
	UpstreamTimeout  time.Duration // bound on one forwarding POST
	UpstreamStale    time.Duration // age at which a non-terminal batch counts as abandoned
	BatchTarget      int           // target records per forwarded batch
	BatchFloor       float64       // lower bound on the adaptive batch multiplier
	BatchStep        float64       // additive multiplier step per outcome
	Compress         bool          // gzip outbound batches

	// Worker role
	DesignatedWorker bool // whether this process runs the forwarding scheduler

	// Caches
	HostCacheTTL time.Duration
	HostPrewarm  int // most recently active hostnames preloaded at start

	// Local state
	StatePath     string // bbolt file for forwarder state
	StatusMapPath string // optional yaml override for the status code seed

	// Observability
	LogLevel       string
	LogFile        string
	TracingEnabled bool
	OTLPEndpoint   string
	OTLPProtocol   string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	hostname, _ := os.Hostname()

	cfg := &Config{
		DatabaseURL: getEnv("DATABASE_URL", ""),

		ListenAddr:  getEnv("LISTEN_ADDR", ":8080"),
		IngestToken: getEnv("INGEST_TOKEN", ""),
		NodeLabel:   getEnv("NODE_LABEL", hostname),

		UpstreamURL:      getEnv("UPSTREAM_URL", ""),
		UpstreamToken:    getEnv("UPSTREAM_TOKEN", ""),
		UpstreamInterval: getEnvDuration("UPSTREAM_INTERVAL", 5*time.Minute),
		UpstreamTick:     getEnvDuration("UPSTREAM_TICK", 20*time.Second),
		UpstreamTimeout:  getEnvDuration("UPSTREAM_TIMEOUT", 60*time.Second),
		UpstreamStale:    getEnvDuration("UPSTREAM_STALE_AFTER", 30*time.Minute),
		BatchTarget:      getEnvInt("UPSTREAM_BATCH_TARGET", 2000),
		BatchFloor:       getEnvFloat("UPSTREAM_BATCH_FLOOR", 0.1),
		BatchStep:        getEnvFloat("UPSTREAM_BATCH_STEP", 0.1),
		Compress:         getEnvBool("UPSTREAM_COMPRESS", true),

		DesignatedWorker: getEnvBool("DESIGNATED_WORKER", true),

		HostCacheTTL: getEnvDuration("HOST_CACHE_TTL", time.Hour),
		HostPrewarm:  getEnvInt("HOST_PREWARM", 1000),

		StatePath:     getEnv("STATE_PATH", "weblog-relay.db"),
		StatusMapPath: getEnv("STATUS_MAP_PATH", ""),

		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFile:        getEnv("LOG_FILE", ""),
		TracingEnabled: getEnvBool("TRACING_ENABLED", false),
		OTLPEndpoint:   getEnv("OTLP_ENDPOINT", ""),
		OTLPProtocol:   getEnv("OTLP_PROTOCOL", "grpc"),
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// ForwardingEnabled reports whether this instance forwards to an upstream peer
func (c *Config) ForwardingEnabled() bool {
	return c.UpstreamURL != ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("LISTEN_ADDR is required")
	}
	if c.NodeLabel == "" {
		return fmt.Errorf("NODE_LABEL is required")
	}
	if c.UpstreamURL != "" {
		if !strings.HasPrefix(c.UpstreamURL, "http://") && !strings.HasPrefix(c.UpstreamURL, "https://") {
			return fmt.Errorf("UPSTREAM_URL must be an http(s) URL")
		}
		if c.UpstreamInterval <= 0 {
			return fmt.Errorf("UPSTREAM_INTERVAL must be positive")
		}
		if c.UpstreamTick <= 0 {
			return fmt.Errorf("UPSTREAM_TICK must be positive")
		}
		if c.UpstreamTimeout <= 0 {
			return fmt.Errorf("UPSTREAM_TIMEOUT must be positive")
		}
		// The sweep must never race a live attempt still inside its POST
		if c.UpstreamStale > 0 && c.UpstreamStale <= c.UpstreamTimeout {
			return fmt.Errorf("UPSTREAM_STALE_AFTER must exceed UPSTREAM_TIMEOUT")
		}
	}
	if c.BatchTarget < 1 {
		return fmt.Errorf("UPSTREAM_BATCH_TARGET must be at least 1")
	}
	if c.BatchFloor <= 0 || c.BatchFloor > 1.0 {
		return fmt.Errorf("UPSTREAM_BATCH_FLOOR must be between 0 and 1")
	}
	if c.BatchStep <= 0 || c.BatchStep > 1.0 {
		return fmt.Errorf("UPSTREAM_BATCH_STEP must be between 0 and 1")
	}
	if c.HostCacheTTL <= 0 {
		return fmt.Errorf("HOST_CACHE_TTL must be positive")
	}
	if c.HostPrewarm < 0 {
		return fmt.Errorf("HOST_PREWARM must not be negative")
	}

	return nil
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer environment variable or returns a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable or returns a default value
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvFloat gets a float environment variable or returns a default value
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvDuration gets a duration environment variable or returns a default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
