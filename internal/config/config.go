// Package config loads and validates the Airlock configuration using Viper.
//
// Configuration is layered: built-in defaults < YAML config file < environment
// variables. Environment variables use the AIRLOCK_ prefix (e.g.
// AIRLOCK_DATABASE_HOST overrides database.host in the YAML). This layering
// allows the same binaries to run with a config.yaml in local development and
// with pure environment variables in containerized deployments.
//
// All three binaries (server, gateway, mockidp) load the same configuration so
// the JWT signing settings — secret, algorithm, issuer, TTLs — are guaranteed
// identical in every process that issues or verifies tokens. A mismatch there
// would make cross-service token validation fail silently, so Validate()
// rejects it at startup instead of leaving it to surface per-request.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	OAuth    OAuthConfig    `mapstructure:"oauth"`
	APIKeys  APIKeyConfig   `mapstructure:"api_keys"`
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Security SecurityConfig `mapstructure:"security"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Audit    AuditConfig    `mapstructure:"audit"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	BaseURL      string        `mapstructure:"base_url"`
	FrontendURL  string        `mapstructure:"frontend_url"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// GetAddress returns the server address in host:port format
func (s *ServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	Name               string `mapstructure:"name"`
	User               string `mapstructure:"user"`
	Password           string `mapstructure:"password"`
	SSLMode            string `mapstructure:"ssl_mode"`
	MaxConnections     int    `mapstructure:"max_connections"`
	MinIdleConnections int    `mapstructure:"min_idle_connections"`
}

// GetDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// JWTConfig holds token signing configuration. Every field here must be
// identical across the server, the gateway, and any future verifier — the
// token contract is a single shared secret, not a per-service key.
type JWTConfig struct {
	// Secret is the shared HMAC signing secret. Required outside dev mode.
	Secret string `mapstructure:"secret"`
	// Algorithm is the signing algorithm. Only HMAC variants are accepted.
	Algorithm string `mapstructure:"algorithm"`
	// Issuer is the iss claim stamped on every token and checked on verify.
	Issuer string `mapstructure:"issuer"`
	// AccessTTLMinutes is the access token lifetime in minutes.
	AccessTTLMinutes int `mapstructure:"access_ttl_minutes"`
	// RefreshTTLDays is the refresh token lifetime in days.
	RefreshTTLDays int `mapstructure:"refresh_ttl_days"`
}

// AccessTTL returns the access token lifetime as a duration.
func (j *JWTConfig) AccessTTL() time.Duration {
	return time.Duration(j.AccessTTLMinutes) * time.Minute
}

// RefreshTTL returns the refresh token lifetime as a duration.
func (j *JWTConfig) RefreshTTL() time.Duration {
	return time.Duration(j.RefreshTTLDays) * 24 * time.Hour
}

// OAuthConfig holds the upstream identity provider configuration.
//
// Two modes are supported:
//   - issuer_url set: OIDC discovery resolves the authorize/token/userinfo
//     endpoints and the ID token is verified against the provider JWKS.
//   - explicit endpoints: authorization_url/token_url/userinfo_url name the
//     provider endpoints directly (ADFS-style providers, and the mockidp
//     binary, which does not serve a discovery document).
type OAuthConfig struct {
	IssuerURL        string   `mapstructure:"issuer_url"`
	AuthorizationURL string   `mapstructure:"authorization_url"`
	TokenURL         string   `mapstructure:"token_url"`
	UserinfoURL      string   `mapstructure:"userinfo_url"`
	ClientID         string   `mapstructure:"client_id"`
	ClientSecret     string   `mapstructure:"client_secret"`
	RedirectURL      string   `mapstructure:"redirect_url"`
	Scopes           []string `mapstructure:"scopes"`
	// ExchangeTimeout bounds the code-exchange and userinfo calls to the
	// provider; a timeout surfaces as UPSTREAM_UNAVAILABLE, not INVALID_GRANT.
	ExchangeTimeout time.Duration `mapstructure:"exchange_timeout"`
}

// APIKeyConfig holds API key issuance configuration
type APIKeyConfig struct {
	// Prefix is prepended to every generated key ("ak_" by default) so keys
	// are recognizable in logs, scanners, and support tickets.
	Prefix string `mapstructure:"prefix"`
	// SweepIntervalHours is how often the expired-key sweeper runs.
	SweepIntervalHours int `mapstructure:"sweep_interval_hours"`
	// ExpiredRetentionDays is how long expired keys stay visible in list
	// views before the sweeper deletes the rows.
	ExpiredRetentionDays int `mapstructure:"expired_retention_days"`
}

// GatewayConfig holds the reverse-proxy gateway configuration
type GatewayConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// Routes maps path prefixes to backend base URLs, e.g.
	// "/api/v1/auth" -> "http://auth-service:8081".
	Routes map[string]string `mapstructure:"routes"`
	// AdminPrefixes lists path prefixes that require the admin role.
	AdminPrefixes []string `mapstructure:"admin_prefixes"`
	// OpenPaths lists exact paths reachable without a bearer token.
	OpenPaths []string `mapstructure:"open_paths"`
}

// GetAddress returns the gateway listen address in host:port format
func (g *GatewayConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", g.Host, g.Port)
}

// RedisConfig holds the optional Redis connection used for distributed rate
// limiting. When Addr is empty the gateway falls back to per-process
// in-memory token buckets.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	RateLimiting RateLimitingConfig `mapstructure:"rate_limiting"`
	CORS         CORSConfig         `mapstructure:"cors"`
}

// RateLimitingConfig holds rate limiting configuration
type RateLimitingConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// RequestsPerMinute / Burst apply to authenticated API traffic.
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
	Burst             int `mapstructure:"burst"`
	// AuthRequestsPerMinute / AuthBurst apply to the unauthenticated auth
	// endpoints, which get the tighter budget.
	AuthRequestsPerMinute int `mapstructure:"auth_requests_per_minute"`
	AuthBurst             int `mapstructure:"auth_burst"`
}

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TelemetryConfig holds observability configuration
type TelemetryConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
	Metrics     MetricsConfig `mapstructure:"metrics"`
}

// MetricsConfig holds Prometheus metrics configuration
type MetricsConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	PrometheusPort int  `mapstructure:"prometheus_port"`
}

// AuditConfig holds audit logging configuration
type AuditConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// LogReadOperations determines if GET requests should be recorded
	LogReadOperations bool `mapstructure:"log_read_operations"`
}

// bindEnvVars explicitly binds environment variables to config keys.
// This is necessary because AutomaticEnv() doesn't work well with nested
// structs during Unmarshal. viper.BindEnv only errors when called with zero
// keys; since every key here is a non-empty hardcoded string, any error
// indicates a programming bug and is surfaced to the caller.
func bindEnvVars(v *viper.Viper) error {
	keys := []string{
		// Server
		"server.host",
		"server.port",
		"server.base_url",
		"server.frontend_url",
		"server.read_timeout",
		"server.write_timeout",

		// Database
		"database.host",
		"database.port",
		"database.name",
		"database.user",
		"database.password",
		"database.ssl_mode",
		"database.max_connections",
		"database.min_idle_connections",

		// JWT
		"jwt.secret",
		"jwt.algorithm",
		"jwt.issuer",
		"jwt.access_ttl_minutes",
		"jwt.refresh_ttl_days",

		// OAuth
		"oauth.issuer_url",
		"oauth.authorization_url",
		"oauth.token_url",
		"oauth.userinfo_url",
		"oauth.client_id",
		"oauth.client_secret",
		"oauth.redirect_url",
		"oauth.scopes",
		"oauth.exchange_timeout",

		// API keys
		"api_keys.prefix",
		"api_keys.sweep_interval_hours",
		"api_keys.expired_retention_days",

		// Gateway
		"gateway.host",
		"gateway.port",
		"gateway.read_timeout",
		"gateway.write_timeout",

		// Redis
		"redis.addr",
		"redis.password",
		"redis.db",

		// Security
		"security.rate_limiting.enabled",
		"security.rate_limiting.requests_per_minute",
		"security.rate_limiting.burst",
		"security.rate_limiting.auth_requests_per_minute",
		"security.rate_limiting.auth_burst",
		"security.cors.allowed_origins",
		"security.cors.allowed_methods",

		// Logging
		"logging.level",
		"logging.format",

		// Telemetry
		"telemetry.enabled",
		"telemetry.service_name",
		"telemetry.metrics.enabled",
		"telemetry.metrics.prometheus_port",

		// Audit
		"audit.enabled",
		"audit.log_read_operations",
	}
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("failed to bind env var %q: %w", key, err)
		}
	}
	return nil
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/airlock")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; use defaults and environment variables
	}

	v.SetEnvPrefix("AIRLOCK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := bindEnvVars(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Expand ${VAR} references in sensitive fields so secrets can be
	// injected indirectly by infrastructure tooling.
	cfg.Database.Password = os.ExpandEnv(cfg.Database.Password)
	cfg.JWT.Secret = os.ExpandEnv(cfg.JWT.Secret)
	cfg.OAuth.ClientSecret = os.ExpandEnv(cfg.OAuth.ClientSecret)
	cfg.Redis.Password = os.ExpandEnv(cfg.Redis.Password)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8081)
	v.SetDefault("server.base_url", "http://localhost:8081")
	v.SetDefault("server.frontend_url", "")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "airlock")
	v.SetDefault("database.user", "airlock")
	v.SetDefault("database.ssl_mode", "require")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_idle_connections", 5)

	// JWT defaults
	v.SetDefault("jwt.algorithm", "HS256")
	v.SetDefault("jwt.issuer", "airlock")
	v.SetDefault("jwt.access_ttl_minutes", 15)
	v.SetDefault("jwt.refresh_ttl_days", 7)

	// OAuth defaults
	v.SetDefault("oauth.scopes", []string{"openid", "profile", "email"})
	v.SetDefault("oauth.exchange_timeout", "30s")

	// API key defaults
	v.SetDefault("api_keys.prefix", "ak_")
	v.SetDefault("api_keys.sweep_interval_hours", 24)
	v.SetDefault("api_keys.expired_retention_days", 30)

	// Gateway defaults
	v.SetDefault("gateway.host", "0.0.0.0")
	v.SetDefault("gateway.port", 8080)
	v.SetDefault("gateway.read_timeout", "30s")
	v.SetDefault("gateway.write_timeout", "60s")
	v.SetDefault("gateway.routes", map[string]string{})
	v.SetDefault("gateway.admin_prefixes", []string{"/api/v1/keys"})
	v.SetDefault("gateway.open_paths", []string{
		"/health",
		"/api/v1/auth/login",
		"/api/v1/auth/callback",
		"/api/v1/auth/token",
		"/.well-known/*",
	})

	// Security defaults
	v.SetDefault("security.rate_limiting.enabled", true)
	v.SetDefault("security.rate_limiting.requests_per_minute", 200)
	v.SetDefault("security.rate_limiting.burst", 50)
	v.SetDefault("security.rate_limiting.auth_requests_per_minute", 10)
	v.SetDefault("security.rate_limiting.auth_burst", 5)
	v.SetDefault("security.cors.allowed_origins", []string{"*"})
	v.SetDefault("security.cors.allowed_methods", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Telemetry defaults
	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.service_name", "airlock")
	v.SetDefault("telemetry.metrics.enabled", true)
	v.SetDefault("telemetry.metrics.prometheus_port", 9090)

	// Audit defaults
	v.SetDefault("audit.enabled", true)
	v.SetDefault("audit.log_read_operations", false)
}

// isDevMode checks if we're running in development mode
func isDevMode() bool {
	devMode := os.Getenv("DEV_MODE")
	ginMode := os.Getenv("GIN_MODE")
	return devMode == "true" || devMode == "1" || ginMode == "debug"
}

// Validate validates the configuration. Token-contract fields fail fast here
// so a misconfigured deployment dies at startup rather than rejecting every
// request at runtime.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Gateway.Port < 1 || c.Gateway.Port > 65535 {
		return fmt.Errorf("invalid gateway port: %d", c.Gateway.Port)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database.name is required")
	}
	if c.Database.User == "" {
		return fmt.Errorf("database.user is required")
	}

	// JWT contract
	if c.JWT.Secret == "" && !isDevMode() {
		return fmt.Errorf("jwt.secret is required in production. Generate one with: openssl rand -hex 32")
	}
	switch c.JWT.Algorithm {
	case "HS256", "HS384", "HS512":
	default:
		return fmt.Errorf("invalid jwt.algorithm: %s (must be HS256, HS384, or HS512)", c.JWT.Algorithm)
	}
	if c.JWT.Issuer == "" {
		return fmt.Errorf("jwt.issuer is required")
	}
	if c.JWT.AccessTTLMinutes <= 0 {
		return fmt.Errorf("jwt.access_ttl_minutes must be positive, got %d", c.JWT.AccessTTLMinutes)
	}
	if c.JWT.RefreshTTLDays <= 0 {
		return fmt.Errorf("jwt.refresh_ttl_days must be positive, got %d", c.JWT.RefreshTTLDays)
	}

	// OAuth: either discovery or a full explicit endpoint triple.
	if c.OAuth.IssuerURL == "" {
		if (c.OAuth.AuthorizationURL == "") != (c.OAuth.TokenURL == "") ||
			(c.OAuth.TokenURL == "") != (c.OAuth.UserinfoURL == "") {
			return fmt.Errorf("oauth endpoints must be configured together: authorization_url, token_url, userinfo_url")
		}
	}

	if c.APIKeys.Prefix == "" {
		return fmt.Errorf("api_keys.prefix is required")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	return nil
}
