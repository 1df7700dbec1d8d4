package config

import (
	"os"
	"strings"
	"testing"
)

func setupTestEnv(t *testing.T) func() {
	keys := []string{
		"RDM_HOST", "RDM_PORT", "RDM_UPLOAD_DIR", "RDM_MAX_FILE_SIZE_MB",
		"RDM_ROOM_EXPIRY_SECONDS", "RDM_JWT_SECRET", "RDM_REDIS_ADDR",
		"RDM_REDIS_PASSWORD", "RDM_RATE_LIMIT_JOIN", "RDM_GO_ENV", "RDM_GIN_MODE",
	}
	orig := make(map[string]string, len(keys))
	for _, k := range keys {
		orig[k] = os.Getenv(k)
		os.Unsetenv(k)
	}
	return func() {
		for _, k := range keys {
			if orig[k] != "" {
				os.Setenv(k, orig[k])
			} else {
				os.Unsetenv(k)
			}
		}
	}
}

func TestValidateEnv_ValidConfiguration(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("RDM_JWT_SECRET", "this-is-a-very-long-secret-key-for-testing-purposes")
	os.Setenv("RDM_PORT", "8080")

	cfg, err := ValidateEnv()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("expected port 8080, got %q", cfg.Port)
	}
	if cfg.UploadDir != "./uploads" {
		t.Errorf("expected default upload dir, got %q", cfg.UploadDir)
	}
	if cfg.MaxFileSizeMB != 500 {
		t.Errorf("expected default max file size 500, got %d", cfg.MaxFileSizeMB)
	}
	if cfg.RoomExpirySeconds != 14400 {
		t.Errorf("expected default expiry 14400, got %d", cfg.RoomExpirySeconds)
	}
	if cfg.GoEnv != "production" {
		t.Errorf("expected default go env production, got %q", cfg.GoEnv)
	}
	if cfg.RateLimitJoin != "5-M" {
		t.Errorf("expected default rate limit 5-M, got %q", cfg.RateLimitJoin)
	}
}

func TestValidateEnv_MissingJWTSecret(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("expected error for missing RDM_JWT_SECRET")
	}
	if !strings.Contains(err.Error(), "RDM_JWT_SECRET is required") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidateEnv_ShortJWTSecret(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("RDM_JWT_SECRET", "short")
	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("expected error for short secret")
	}
	if !strings.Contains(err.Error(), "at least 32 characters") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidateEnv_InvalidPort(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("RDM_JWT_SECRET", "this-is-a-very-long-secret-key-for-testing-purposes")
	os.Setenv("RDM_PORT", "99999")

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("expected error for invalid port")
	}
	if !strings.Contains(err.Error(), "RDM_PORT must be a valid port number") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidateEnv_InvalidRedisAddr(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("RDM_JWT_SECRET", "this-is-a-very-long-secret-key-for-testing-purposes")
	os.Setenv("RDM_REDIS_ADDR", "invalid-format")

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("expected error for invalid redis addr")
	}
	if !strings.Contains(err.Error(), "RDM_REDIS_ADDR must be in format") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidateEnv_RedisDisabledByDefault(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("RDM_JWT_SECRET", "this-is-a-very-long-secret-key-for-testing-purposes")

	cfg, err := ValidateEnv()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if cfg.RedisEnabled {
		t.Error("expected redis disabled when RDM_REDIS_ADDR unset")
	}
}

func TestRedactSecret(t *testing.T) {
	tests := []struct {
		name     string
		secret   string
		expected string
	}{
		{"long secret", "this-is-a-very-long-secret-key", "this-is-***"},
		{"short secret", "short", "***"},
		{"exactly 8 chars", "12345678", "***"},
		{"9 chars", "123456789", "12345678***"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := redactSecret(tt.secret); got != tt.expected {
				t.Errorf("got %q, expected %q", got, tt.expected)
			}
		})
	}
}

func TestIsValidHostPort(t *testing.T) {
	tests := []struct {
		name     string
		addr     string
		expected bool
	}{
		{"valid localhost", "localhost:8080", true},
		{"valid ip", "127.0.0.1:3000", true},
		{"missing port", "localhost", false},
		{"missing host", ":8080", false},
		{"invalid port", "localhost:99999", false},
		{"non-numeric port", "localhost:abc", false},
		{"empty string", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isValidHostPort(tt.addr); got != tt.expected {
				t.Errorf("isValidHostPort(%q) = %v, expected %v", tt.addr, got, tt.expected)
			}
		})
	}
}
