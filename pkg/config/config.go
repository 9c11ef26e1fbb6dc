package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/onboard/pkg/observability"
)

// Directory modes
const (
	DirectoryModeKeycloak = "keycloak"
	DirectoryModeMemory   = "memory"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Identity directory configuration
	Directory DirectoryConfig

	// Channel-type service configuration
	Channels ChannelsConfig

	// Invitation behavior
	Invite InviteConfig

	// Redis (optional, enables distributed locking and rate limiting)
	Redis RedisConfig

	// Accept endpoint rate limiting
	RateLimit RateLimitConfig

	// Scheduled expiry reporting
	Report ReportConfig

	// Observability configuration
	Observability ObservabilityConfig

	// PolicyFile is an optional YAML file with provisioning group names
	PolicyFile string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// DirectoryConfig configures the identity directory client
type DirectoryConfig struct {
	Mode         string
	BaseURL      string
	Realm        string
	ClientID     string
	ClientSecret string
	TokenURL     string
	Timeout      time.Duration
}

// ChannelsConfig configures the channel-type service client
type ChannelsConfig struct {
	BaseURL string
	Timeout time.Duration
}

// InviteConfig holds invitation defaults
type InviteConfig struct {
	AppURL        string
	DefaultExpiry time.Duration
	LockEnabled   bool
	LockTTL       time.Duration
	// MaxExpiry caps a request's expiresInMinutes
	MaxExpiry time.Duration
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

// RateLimitConfig limits token redemption attempts per client
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerMinute int
	Burst             int
	// TrustProxyHeaders keys clients by X-Forwarded-For / X-Real-IP
	TrustProxyHeaders bool
	// MaxClients bounds the in-memory limiter's tracked clients
	MaxClients int
	// FailClosed rejects requests with 503 when the limiter backend errors
	FailClosed bool
}

// ReportConfig schedules the read-only expiry reporter
type ReportConfig struct {
	Schedule      string
	Organizations []string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
	OTelSampleRatio    float64
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Directory:     loadDirectoryConfig(),
		Channels:      loadChannelsConfig(),
		Invite:        loadInviteConfig(),
		Redis:         loadRedisConfig(),
		RateLimit:     loadRateLimitConfig(),
		Report:        loadReportConfig(),
		Observability: loadObservabilityConfig(),
		PolicyFile:    getEnv("ONBOARD_POLICY_FILE", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("ONBOARD_HOST", "0.0.0.0"),
		Port:            getEnv("ONBOARD_PORT", "8080"),
		ReadTimeout:     getEnvDuration("ONBOARD_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("ONBOARD_WRITE_TIMEOUT", 30*time.Second),
		IdleTimeout:     getEnvDuration("ONBOARD_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("ONBOARD_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("ONBOARD_HEALTH_PORT", "9090"),
	}
}

func loadDirectoryConfig() DirectoryConfig {
	return DirectoryConfig{
		Mode:         strings.ToLower(getEnv("ONBOARD_DIRECTORY_MODE", DirectoryModeKeycloak)),
		BaseURL:      getEnv("ONBOARD_DIRECTORY_URL", ""),
		Realm:        getEnv("ONBOARD_DIRECTORY_REALM", ""),
		ClientID:     getEnv("ONBOARD_DIRECTORY_CLIENT_ID", ""),
		ClientSecret: getEnv("ONBOARD_DIRECTORY_CLIENT_SECRET", ""),
		TokenURL:     getEnv("ONBOARD_DIRECTORY_TOKEN_URL", ""),
		Timeout:      getEnvDuration("ONBOARD_DIRECTORY_TIMEOUT", 10*time.Second),
	}
}

func loadChannelsConfig() ChannelsConfig {
	return ChannelsConfig{
		BaseURL: getEnv("ONBOARD_CHANNELS_URL", ""),
		Timeout: getEnvDuration("ONBOARD_CHANNELS_TIMEOUT", 5*time.Second),
	}
}

func loadInviteConfig() InviteConfig {
	return InviteConfig{
		AppURL:        getEnv("ONBOARD_APP_URL", ""),
		DefaultExpiry: getEnvDuration("ONBOARD_INVITE_DEFAULT_EXPIRY", 24*time.Hour),
		LockEnabled:   getEnvBool("ONBOARD_INVITE_LOCK_ENABLED", false),
		LockTTL:       getEnvDuration("ONBOARD_INVITE_LOCK_TTL", 30*time.Second),
		MaxExpiry:     getEnvDuration("ONBOARD_INVITE_MAX_EXPIRY", 30*24*time.Hour),
	}
}

func loadRedisConfig() RedisConfig {
	return RedisConfig{
		URL:      getEnv("ONBOARD_REDIS_URL", ""),
		Password: getEnv("ONBOARD_REDIS_PASSWORD", ""),
		DB:       getEnvInt("ONBOARD_REDIS_DB", 0),
		PoolSize: getEnvInt("ONBOARD_REDIS_POOL_SIZE", 10),
	}
}

func loadRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Enabled:           getEnvBool("ONBOARD_RATE_LIMIT_ENABLED", true),
		RequestsPerMinute: getEnvInt("ONBOARD_RATE_LIMIT_PER_MINUTE", 20),
		Burst:             getEnvInt("ONBOARD_RATE_LIMIT_BURST", 5),
		TrustProxyHeaders: getEnvBool("ONBOARD_RATE_LIMIT_TRUST_PROXY", false),
		MaxClients:        getEnvInt("ONBOARD_RATE_LIMIT_MAX_CLIENTS", 10000),
		FailClosed:        getEnvBool("ONBOARD_RATE_LIMIT_FAIL_CLOSED", false),
	}
}

func loadReportConfig() ReportConfig {
	return ReportConfig{
		Schedule:      getEnv("ONBOARD_REPORT_SCHEDULE", "@every 5m"),
		Organizations: getEnvList("ONBOARD_REPORT_ORGANIZATIONS"),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	cfg := ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("ONBOARD_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("ONBOARD_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("ONBOARD_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("ONBOARD_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("ONBOARD_OTEL_SERVICE_NAME", "onboard"),
		OTelServiceVersion: getEnv("ONBOARD_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("ONBOARD_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("ONBOARD_OTEL_SAMPLE_RATIO", 1),
	}

	return cfg
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	switch c.Directory.Mode {
	case DirectoryModeMemory:
	case DirectoryModeKeycloak:
		if c.Directory.BaseURL == "" {
			return fmt.Errorf("directory URL is required for keycloak mode")
		}
		if c.Directory.Realm == "" {
			return fmt.Errorf("directory realm is required for keycloak mode")
		}
		if c.Directory.ClientID == "" || c.Directory.ClientSecret == "" {
			return fmt.Errorf("directory client credentials are required for keycloak mode")
		}
	default:
		return fmt.Errorf("invalid directory mode: %s (must be keycloak or memory)", c.Directory.Mode)
	}

	if c.Invite.DefaultExpiry <= 0 {
		return fmt.Errorf("default invitation expiry must be positive")
	}
	if c.Invite.MaxExpiry < c.Invite.DefaultExpiry {
		return fmt.Errorf("maximum invitation expiry must not be shorter than the default expiry")
	}
	if c.Invite.LockEnabled {
		if c.Redis.URL == "" {
			return fmt.Errorf("redis URL is required when the invite lock is enabled")
		}
		if c.Invite.LockTTL <= 0 {
			return fmt.Errorf("invite lock TTL must be positive")
		}
	}

	if c.RateLimit.Enabled && c.RateLimit.RequestsPerMinute <= 0 {
		return fmt.Errorf("rate limit must be positive when enabled")
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
		if r := c.Observability.OTelSampleRatio; r < 0 || r > 1 {
			return fmt.Errorf("OpenTelemetry sample ratio must be between 0 and 1")
		}
	}

	return nil
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

// getEnvList returns a comma-separated environment variable as a list
func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
