package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"
)

// Config holds all runtime configuration, loaded from environment variables
type Config struct {
	Server        ServerConfig
	Issuer        string
	Store         StoreConfig
	OAuth2        OAuth2Config
	OIDC          OIDCConfig
	MFA           MFAConfig
	RateLimit     RateLimitConfig
	Log           LogConfig
	Observability ObservabilityConfig

	// SweepInterval drives the background expiry sweeper
	SweepInterval time.Duration
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
}

// StoreConfig selects and configures the persistence backend
type StoreConfig struct {
	// Backend is "memory" or "postgres"
	Backend string

	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string
	DBMaxConns int32
}

// OAuth2Config holds grant and token policy
type OAuth2Config struct {
	AccessTokenTTL              time.Duration
	RefreshTokenAbsoluteTTL     time.Duration
	CodeTTL                     time.Duration
	TokenFormat                 string
	RequirePKCEForPublicClients bool
}

// OIDCConfig holds signing settings
type OIDCConfig struct {
	SigningAlg        string
	IDTokenTTL        time.Duration
	KeyRotationPeriod time.Duration
	KeyOverlapWindow  time.Duration
}

// MFAConfig holds challenge policy
type MFAConfig struct {
	ChallengeTTL time.Duration
	MaxAttempts  int
}

// RateLimitConfig holds per-IP limiter settings
type RateLimitConfig struct {
	Enabled bool
	RPS     float64
	Burst   int
}

// LogConfig holds logging settings
type LogConfig struct {
	Level  string
	Format string
}

// ObservabilityConfig holds OTel settings
type ObservabilityConfig struct {
	TracingEnabled bool
	MetricsEnabled bool
	ServiceName    string
	ServiceVersion string
	SamplingRate   float64
}

// Load reads configuration from the environment and validates it
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            parseInt("SERVER_PORT", 8080),
			ReadTimeout:     parseDuration("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    parseDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			RequestTimeout:  parseDuration("SERVER_REQUEST_TIMEOUT", 60*time.Second),
			ShutdownTimeout: parseDuration("SERVER_SHUTDOWN_TIMEOUT", 15*time.Second),
		},
		Issuer: getEnv("ISSUER_URL", ""),
		Store: StoreConfig{
			Backend:    getEnv("STORE_BACKEND", "memory"),
			DBHost:     getEnv("DB_HOST", "localhost"),
			DBPort:     parseInt("DB_PORT", 5432),
			DBUser:     getEnv("DB_USER", "authgrid"),
			DBPassword: getEnv("DB_PASSWORD", ""),
			DBName:     getEnv("DB_NAME", "authgrid"),
			DBSSLMode:  getEnv("DB_SSLMODE", "prefer"),
			DBMaxConns: int32(parseInt("DB_MAX_CONNS", 10)),
		},
		OAuth2: OAuth2Config{
			AccessTokenTTL:              parseDuration("ACCESS_TOKEN_TTL", time.Hour),
			RefreshTokenAbsoluteTTL:     parseDuration("REFRESH_TOKEN_ABSOLUTE_TTL", 720*time.Hour),
			CodeTTL:                     parseDuration("CODE_TTL", 5*time.Minute),
			TokenFormat:                 getEnv("TOKEN_FORMAT", "opaque"),
			RequirePKCEForPublicClients: parseBool("REQUIRE_PKCE_FOR_PUBLIC_CLIENTS", true),
		},
		OIDC: OIDCConfig{
			SigningAlg:        getEnv("SIGNING_ALG", "RS256"),
			IDTokenTTL:        parseDuration("ID_TOKEN_TTL", time.Hour),
			KeyRotationPeriod: parseDuration("KEY_ROTATION_PERIOD", 720*time.Hour),
			KeyOverlapWindow:  parseDuration("KEY_OVERLAP_WINDOW", 24*time.Hour),
		},
		MFA: MFAConfig{
			ChallengeTTL: parseDuration("MFA_CODE_TTL", 5*time.Minute),
			MaxAttempts:  parseInt("MFA_MAX_ATTEMPTS", 3),
		},
		RateLimit: RateLimitConfig{
			Enabled: parseBool("RATE_LIMIT_ENABLED", true),
			RPS:     parseFloat("RATE_LIMIT_RPS", 20),
			Burst:   parseInt("RATE_LIMIT_BURST", 40),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Observability: ObservabilityConfig{
			TracingEnabled: parseBool("OTEL_TRACING_ENABLED", false),
			MetricsEnabled: parseBool("OTEL_METRICS_ENABLED", false),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "authgrid"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "dev"),
			SamplingRate:   parseFloat("OTEL_SAMPLING_RATE", 1.0),
		},
		SweepInterval: parseDuration("SWEEP_INTERVAL", time.Minute),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks invariants the rest of the system relies on
func (c *Config) Validate() error {
	if c.Issuer == "" {
		return fmt.Errorf("ISSUER_URL is required")
	}
	u, err := url.Parse(c.Issuer)
	if err != nil || !u.IsAbs() {
		return fmt.Errorf("ISSUER_URL must be an absolute URL")
	}
	if u.Fragment != "" || u.RawQuery != "" {
		return fmt.Errorf("ISSUER_URL must not contain a query or fragment")
	}

	if c.Store.Backend != "memory" && c.Store.Backend != "postgres" {
		return fmt.Errorf("STORE_BACKEND must be memory or postgres, got %q", c.Store.Backend)
	}
	if c.OAuth2.TokenFormat != "opaque" && c.OAuth2.TokenFormat != "jwt" {
		return fmt.Errorf("TOKEN_FORMAT must be opaque or jwt, got %q", c.OAuth2.TokenFormat)
	}
	if c.OIDC.SigningAlg != "RS256" && c.OIDC.SigningAlg != "ES256" {
		return fmt.Errorf("SIGNING_ALG must be RS256 or ES256, got %q", c.OIDC.SigningAlg)
	}
	if c.OAuth2.CodeTTL <= 0 || c.OAuth2.CodeTTL > 10*time.Minute {
		return fmt.Errorf("CODE_TTL must be positive and at most 10m")
	}
	if c.MFA.ChallengeTTL <= 0 || c.MFA.ChallengeTTL > 5*time.Minute {
		return fmt.Errorf("MFA_CODE_TTL must be positive and at most 5m")
	}
	if c.MFA.MaxAttempts <= 0 {
		return fmt.Errorf("MFA_MAX_ATTEMPTS must be positive")
	}

	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func parseFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func parseBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func parseDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		// Bare integers are seconds.
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return fallback
}
