// Package config loads and validates the RDM_* environment variables.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Config holds validated environment configuration for the watch-together server.
type Config struct {
	Host string
	Port string

	UploadDir         string
	MaxFileSizeMB     int64
	RoomExpirySeconds int64

	JWTSecret string

	RedisAddr     string
	RedisPassword string
	RedisEnabled  bool

	RateLimitJoin string

	GoEnv                  string
	GinMode                string
	OtelCollectorAddr      string
	OtelInsecureSkipVerify bool
}

// MaxFileSizeBytes is MaxFileSizeMB converted to bytes.
func (c *Config) MaxFileSizeBytes() int64 {
	return c.MaxFileSizeMB * 1024 * 1024
}

// ValidateEnv validates all required environment variables and returns a Config.
// Returns an aggregated error if any required variable is missing or invalid.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errs []string

	cfg.Host = getEnvOrDefault("RDM_HOST", "0.0.0.0")
	cfg.Port = getEnvOrDefault("RDM_PORT", "8765")
	if port, err := strconv.Atoi(cfg.Port); err != nil || port < 1 || port > 65535 {
		errs = append(errs, fmt.Sprintf("RDM_PORT must be a valid port number between 1 and 65535 (got %q)", cfg.Port))
	}

	cfg.UploadDir = getEnvOrDefault("RDM_UPLOAD_DIR", "./uploads")

	cfg.MaxFileSizeMB = getEnvOrDefaultInt64("RDM_MAX_FILE_SIZE_MB", 500)
	if cfg.MaxFileSizeMB <= 0 {
		errs = append(errs, fmt.Sprintf("RDM_MAX_FILE_SIZE_MB must be positive (got %d)", cfg.MaxFileSizeMB))
	}

	cfg.RoomExpirySeconds = getEnvOrDefaultInt64("RDM_ROOM_EXPIRY_SECONDS", 14400)
	if cfg.RoomExpirySeconds <= 0 {
		errs = append(errs, fmt.Sprintf("RDM_ROOM_EXPIRY_SECONDS must be positive (got %d)", cfg.RoomExpirySeconds))
	}

	cfg.JWTSecret = os.Getenv("RDM_JWT_SECRET")
	if cfg.JWTSecret == "" {
		errs = append(errs, "RDM_JWT_SECRET is required")
	} else if len(cfg.JWTSecret) < 32 {
		errs = append(errs, fmt.Sprintf("RDM_JWT_SECRET must be at least 32 characters (got %d)", len(cfg.JWTSecret)))
	}

	cfg.RedisAddr = os.Getenv("RDM_REDIS_ADDR")
	cfg.RedisEnabled = cfg.RedisAddr != ""
	if cfg.RedisEnabled && !isValidHostPort(cfg.RedisAddr) {
		errs = append(errs, fmt.Sprintf("RDM_REDIS_ADDR must be in format 'host:port' (got %q)", cfg.RedisAddr))
	}
	cfg.RedisPassword = os.Getenv("RDM_REDIS_PASSWORD")

	cfg.RateLimitJoin = getEnvOrDefault("RDM_RATE_LIMIT_JOIN", "5-M")

	cfg.GoEnv = getEnvOrDefault("RDM_GO_ENV", "production")
	cfg.GinMode = getEnvOrDefault("RDM_GIN_MODE", "release")
	cfg.OtelCollectorAddr = os.Getenv("RDM_OTEL_COLLECTOR_ADDR")
	cfg.OtelInsecureSkipVerify = getEnvOrDefault("RDM_OTEL_INSECURE_SKIP_VERIFY", "false") == "true"

	if len(errs) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	logValidatedConfig(cfg)
	return cfg, nil
}

// isValidHostPort checks if a string is in the format "host:port".
func isValidHostPort(addr string) bool {
	parts := strings.Split(addr, ":")
	if len(parts) != 2 {
		return false
	}
	port, err := strconv.Atoi(parts[1])
	if err != nil || port < 1 || port > 65535 {
		return false
	}
	return parts[0] != ""
}

func logValidatedConfig(cfg *Config) {
	slog.Info("environment configuration validated",
		"jwt_secret", redactSecret(cfg.JWTSecret),
		"host", cfg.Host,
		"port", cfg.Port,
		"upload_dir", cfg.UploadDir,
		"max_file_size_mb", cfg.MaxFileSizeMB,
		"room_expiry_seconds", cfg.RoomExpirySeconds,
		"redis_enabled", cfg.RedisEnabled,
		"go_env", cfg.GoEnv,
		"rate_limit_join", cfg.RateLimitJoin,
	)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvOrDefaultInt64(key string, defaultValue int64) int64 {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return defaultValue
	}
	return n
}

// redactSecret shows only the first 8 characters of a secret.
func redactSecret(secret string) string {
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:8] + "***"
}
