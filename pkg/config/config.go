// Package config loads service configuration from environment variables and
// an optional YAML providers file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/copperline/stile/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Sanity        SanityConfig
	Okta          OktaConfig
	Redis         RedisConfig
	RateLimit     RateLimitConfig
	Observability ObservabilityConfig

	// ProvidersFile optionally points at a YAML file defining additional
	// SSO providers beyond the env-configured Okta one
	ProvidersFile string

	// MetadataRefreshSchedule is a cron expression for IdP metadata
	// refresh; empty disables it
	MetadataRefreshSchedule string
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

	// BaseURL is this service's externally visible URL, used in SAML
	// metadata and callback URLs
	BaseURL string

	// StudioURL is where the browser lands after a successful login
	StudioURL string
}

// SanityConfig holds content store connection settings
type SanityConfig struct {
	ProjectID string
	Dataset   string
	Token     string
}

// OktaConfig holds the default SAML provider settings
type OktaConfig struct {
	// Entrypoint is the IdP single sign-on URL
	Entrypoint string
	// Issuer is the IdP entity ID
	Issuer string
	// Certificate is the IdP signing certificate, PEM encoded
	Certificate string
	// CertificateFile optionally points at a PEM file on disk
	CertificateFile string
	// MetadataURL enables periodic metadata refresh
	MetadataURL string
}

// Configured reports whether the env-based Okta provider is set up
func (o OktaConfig) Configured() bool {
	return o.Entrypoint != "" || o.Issuer != "" || o.Certificate != "" || o.CertificateFile != ""
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RateLimitConfig holds login rate limit settings
type RateLimitConfig struct {
	RequestsPerMinute int
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("STILE_HOST", "0.0.0.0"),
			Port:            getEnv("STILE_PORT", "8080"),
			ReadTimeout:     getEnvDuration("STILE_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("STILE_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("STILE_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("STILE_SHUTDOWN_TIMEOUT", 30*time.Second),
			HealthPort:      getEnv("STILE_HEALTH_PORT", "9090"),
			BaseURL:         strings.TrimRight(getEnv("STILE_BASE_URL", ""), "/"),
			StudioURL:       getEnv("STILE_STUDIO_URL", ""),
		},
		Sanity: SanityConfig{
			ProjectID: getEnv("SANITY_PROJECT_ID", ""),
			Dataset:   getEnv("SANITY_DATASET", "production"),
			Token:     getEnv("SANITY_TOKEN", ""),
		},
		Okta: OktaConfig{
			Entrypoint:      getEnv("OKTA_ENTRYPOINT", ""),
			Issuer:          getEnv("OKTA_ISSUER", ""),
			Certificate:     ReconstituteCert(getEnv("OKTA_CERT", "")),
			CertificateFile: getEnv("OKTA_CERT_FILE", ""),
			MetadataURL:     getEnv("OKTA_METADATA_URL", ""),
		},
		Redis: RedisConfig{
			Addr:     getEnv("STILE_REDIS_ADDR", "localhost:6379"),
			Password: getEnv("STILE_REDIS_PASSWORD", ""),
			DB:       getEnvInt("STILE_REDIS_DB", 0),
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: getEnvInt("STILE_RATELIMIT_RPM", 30),
		},
		Observability: ObservabilityConfig{
			LogLevel:           observability.ParseLogLevel(strings.ToLower(getEnv("STILE_LOG_LEVEL", "info"))),
			MetricsEnabled:     getEnvBool("STILE_METRICS_ENABLED", true),
			OTelEnabled:        getEnvBool("STILE_OTEL_ENABLED", false),
			OTelEndpoint:       getEnv("STILE_OTEL_ENDPOINT", "localhost:4317"),
			OTelServiceName:    getEnv("STILE_OTEL_SERVICE_NAME", "stile"),
			OTelServiceVersion: getEnv("STILE_OTEL_SERVICE_VERSION", "1.0.0"),
			OTelInsecure:       getEnvBool("STILE_OTEL_INSECURE", true),
		},
		ProvidersFile:           getEnv("STILE_PROVIDERS_FILE", ""),
		MetadataRefreshSchedule: getEnv("STILE_METADATA_REFRESH_SCHEDULE", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// ReconstituteCert undoes the flattening applied when a PEM certificate is
// stored in a single-line environment variable, where newlines are replaced
// with underscores.
func ReconstituteCert(flattened string) string {
	return strings.ReplaceAll(flattened, "_", "\r\n")
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}
	if c.Server.BaseURL == "" {
		return fmt.Errorf("base URL is required (STILE_BASE_URL)")
	}
	if c.Server.StudioURL == "" {
		return fmt.Errorf("studio URL is required (STILE_STUDIO_URL)")
	}

	if c.Sanity.ProjectID == "" {
		return fmt.Errorf("content store project ID is required (SANITY_PROJECT_ID)")
	}
	if c.Sanity.Dataset == "" {
		return fmt.Errorf("content store dataset is required (SANITY_DATASET)")
	}
	if c.Sanity.Token == "" {
		return fmt.Errorf("content store token is required (SANITY_TOKEN)")
	}

	if !c.Okta.Configured() && c.ProvidersFile == "" {
		return fmt.Errorf("no SSO provider configured: set OKTA_* or STILE_PROVIDERS_FILE")
	}
	if c.Okta.Configured() {
		if c.Okta.Entrypoint == "" {
			return fmt.Errorf("Okta entrypoint is required (OKTA_ENTRYPOINT)")
		}
		if c.Okta.Issuer == "" {
			return fmt.Errorf("Okta issuer is required (OKTA_ISSUER)")
		}
		if c.Okta.Certificate == "" && c.Okta.CertificateFile == "" {
			return fmt.Errorf("Okta certificate is required (OKTA_CERT or OKTA_CERT_FILE)")
		}
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

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
