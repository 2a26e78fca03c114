package config

import (
	"os"
	"testing"

	"github.com/spf13/viper"
)

func TestLoadConfig_Defaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "SERVER_PORT")
	unsetEnvWithCleanup(t, "PORT")
	unsetEnvWithCleanup(t, "APP_ENV")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "8080" {
		t.Errorf("expected default port 8080, got %q", cfg.ServerPort)
	}
	if cfg.IsProduction() {
		t.Error("development must be the default environment")
	}
	if cfg.PollIntervalSeconds != 60 || cfg.PollMinAgeSeconds != 120 || cfg.PollBatchSize != 25 {
		t.Errorf("unexpected poller defaults: %d/%d/%d", cfg.PollIntervalSeconds, cfg.PollMinAgeSeconds, cfg.PollBatchSize)
	}
	if cfg.PaymentRateLimitPerMinute != 10 {
		t.Errorf("expected default rate limit 10, got %d", cfg.PaymentRateLimitPerMinute)
	}
}

func TestLoadConfig_PortEnvOverridesServerPort(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "SERVER_PORT", "8080")
	setEnvWithCleanup(t, "PORT", "9999")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "9999" {
		t.Fatalf("expected PORT to win, got %q", cfg.ServerPort)
	}
}

func TestLoadConfig_ProductionDetection(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "APP_ENV", "Production")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if !cfg.IsProduction() {
		t.Error("APP_ENV=Production must count as production")
	}
}

func TestLoadConfig_BaseURLsAreTrimmed(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "FRONTEND_BASE_URL", "https://pay.example.test/ ")
	setEnvWithCleanup(t, "PUBLIC_BASE_URL", " https://api.example.test/")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.FrontendBaseURL != "https://pay.example.test" {
		t.Errorf("frontend base URL not normalized: %q", cfg.FrontendBaseURL)
	}
	if cfg.PublicBaseURL != "https://api.example.test" {
		t.Errorf("public base URL not normalized: %q", cfg.PublicBaseURL)
	}
}

func TestLoadConfig_NegativeRateLimitCoercedToZero(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "PAYMENT_RATE_LIMIT_PER_MINUTE", "-5")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.PaymentRateLimitPerMinute != 0 {
		t.Fatalf("expected negative rate limit coerced to 0, got %d", cfg.PaymentRateLimitPerMinute)
	}
}

func TestOrigins(t *testing.T) {
	cfg := Config{AllowedOrigins: "https://paylink.cm, https://www.paylink.cm ,"}
	origins := cfg.Origins()
	if len(origins) != 2 || origins[0] != "https://paylink.cm" || origins[1] != "https://www.paylink.cm" {
		t.Fatalf("unexpected origins: %v", origins)
	}

	if got := (Config{}).Origins(); len(got) != 1 || got[0] != "*" {
		t.Fatalf("empty origin list must default to wildcard, got %v", got)
	}
}

func setEnvWithCleanup(t *testing.T, key string, value string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Setenv(key, value); err != nil {
		t.Fatalf("failed to set env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}

func unsetEnvWithCleanup(t *testing.T, key string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("failed to unset env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}
