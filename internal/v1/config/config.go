package config

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
)

// Config holds validated environment configuration
type Config struct {
	// Service identity
	ServiceName string
	ServerHost  string
	ServerPort  string
	LogLevel    string

	// Backing services
	DatabaseURL  string
	RedisURL     string
	KafkaBrokers string

	// Auth
	JWTSecret   string
	AuthAPIKeys []string

	// HTTP
	AllowedOrigins []string

	// Observability. Tracing is off when the endpoint is empty.
	OTLPEndpoint string
}

// ValidateEnv validates all environment variables and returns a Config.
// Every problem is collected so a broken deployment reports the full list
// at once. Missing JWT_SECRET or DATABASE_URL is a boot failure; there is
// deliberately no built-in secret fallback.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errs []string

	cfg.ServiceName = getEnvOrDefault("SERVICE_NAME", "chat-service")
	cfg.ServerHost = getEnvOrDefault("SERVER_HOST", "0.0.0.0")

	cfg.ServerPort = getEnvOrDefault("SERVER_PORT", "8080")
	if port, err := strconv.Atoi(cfg.ServerPort); err != nil || port < 1 || port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.ServerPort))
	}

	cfg.LogLevel = strings.ToLower(getEnvOrDefault("LOG_LEVEL", "info"))
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("LOG_LEVEL must be one of debug|info|warn|error (got '%s')", cfg.LogLevel))
	}

	// Required: DATABASE_URL
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		errs = append(errs, "DATABASE_URL is required")
	}

	cfg.RedisURL = getEnvOrDefault("REDIS_URL", "redis://localhost:6379")

	// Enumerated for cluster parity; the chat core does not open a broker
	// connection itself.
	cfg.KafkaBrokers = getEnvOrDefault("KAFKA_BROKERS", "localhost:9092")

	// Required: JWT_SECRET (minimum 32 characters)
	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		errs = append(errs, "JWT_SECRET is required")
	} else if len(cfg.JWTSecret) < 32 {
		errs = append(errs, fmt.Sprintf("JWT_SECRET must be at least 32 characters (got %d)", len(cfg.JWTSecret)))
	}

	cfg.AuthAPIKeys = splitAndTrim(os.Getenv("AUTH_API_KEYS"))
	if len(cfg.AuthAPIKeys) == 0 {
		slog.Warn("AUTH_API_KEYS not set, API key gate is disabled")
	}

	cfg.AllowedOrigins = splitAndTrim(os.Getenv("ALLOWED_ORIGINS"))

	cfg.OTLPEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")

	if len(errs) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	logValidatedConfig(cfg)

	return cfg, nil
}

// Addr returns the listen address in host:port form.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.ServerHost, c.ServerPort)
}

// splitAndTrim parses a comma-separated list, dropping empty entries.
func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// logValidatedConfig logs the validated configuration with secrets redacted
func logValidatedConfig(cfg *Config) {
	slog.Info("✅ Environment configuration validated successfully")
	slog.Info("Configuration",
		"service_name", cfg.ServiceName,
		"server_host", cfg.ServerHost,
		"server_port", cfg.ServerPort,
		"log_level", cfg.LogLevel,
		"database_url", redactDSN(cfg.DatabaseURL),
		"redis_url", redactDSN(cfg.RedisURL),
		"kafka_brokers", cfg.KafkaBrokers,
		"jwt_secret", redactSecret(cfg.JWTSecret),
		"auth_api_keys", len(cfg.AuthAPIKeys),
		"allowed_origins", cfg.AllowedOrigins,
		"otlp_endpoint", cfg.OTLPEndpoint,
	)
}

// getEnvOrDefault returns the value of the environment variable or a default value if not set
func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

// redactSecret redacts a secret by showing only the first 8 characters
func redactSecret(secret string) string {
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:8] + "***"
}

// redactDSN hides credentials embedded in a connection URL.
func redactDSN(dsn string) string {
	atIndex := strings.LastIndexByte(dsn, '@')
	if atIndex < 0 {
		return dsn
	}
	schemeEnd := strings.Index(dsn, "://")
	if schemeEnd < 0 || schemeEnd+3 > atIndex {
		return "***"
	}
	return dsn[:schemeEnd+3] + "***" + dsn[atIndex:]
}
