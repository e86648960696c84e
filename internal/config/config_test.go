package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Port)
	}
	if cfg.Env != "development" {
		t.Errorf("expected default env development, got %s", cfg.Env)
	}
	if cfg.WebhookDedupTTL != 24*time.Hour {
		t.Errorf("expected default dedup TTL 24h, got %s", cfg.WebhookDedupTTL)
	}
	if cfg.RetryMultiplier != 2.0 {
		t.Errorf("expected default retry multiplier 2.0, got %f", cfg.RetryMultiplier)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("BOOKING_ENCRYPTION_KEY", "test-key")
	t.Setenv("RETRY_MAX_ATTEMPTS", "5")
	t.Setenv("RETRY_INITIAL_DELAY", "250ms")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://app.example.com, https://staging.example.com")

	cfg := Load()

	if cfg.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Port)
	}
	if cfg.BookingEncryptionKey != "test-key" {
		t.Errorf("expected encryption key override, got %q", cfg.BookingEncryptionKey)
	}
	if cfg.RetryMaxAttempts != 5 {
		t.Errorf("expected 5 retry attempts, got %d", cfg.RetryMaxAttempts)
	}
	if cfg.RetryInitialDelay != 250*time.Millisecond {
		t.Errorf("expected 250ms initial delay, got %s", cfg.RetryInitialDelay)
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[0] != "https://app.example.com" {
		t.Errorf("unexpected CORS origins: %v", cfg.CORSAllowedOrigins)
	}
}

func TestInvalidValuesFallBack(t *testing.T) {
	t.Setenv("RETRY_MAX_ATTEMPTS", "lots")
	t.Setenv("RETRY_INITIAL_DELAY", "soon")
	t.Setenv("REDIS_TLS", "yep")

	cfg := Load()

	if cfg.RetryMaxAttempts != 3 {
		t.Errorf("expected fallback to 3 attempts, got %d", cfg.RetryMaxAttempts)
	}
	if cfg.RetryInitialDelay != 500*time.Millisecond {
		t.Errorf("expected fallback initial delay, got %s", cfg.RetryInitialDelay)
	}
	if cfg.RedisTLS {
		t.Error("expected invalid bool to fall back to false")
	}
}
