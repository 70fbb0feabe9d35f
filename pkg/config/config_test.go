package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

// unsetEnv clears keys for the test so envconfig falls back to default tags,
// which it only does for variables that are not set at all.
func unsetEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, key := range keys {
		key := key
		prev, ok := os.LookupEnv(key)
		if err := os.Unsetenv(key); err != nil {
			t.Fatalf("unset %s: %v", key, err)
		}
		if ok {
			t.Cleanup(func() { os.Setenv(key, prev) })
		}
	}
}

func TestLoad_Defaults(t *testing.T) {
	unsetEnv(t, EnvAppEnv, EnvAPIKey, EnvAPIEndpoint, EnvPollInterval, EnvReadyTimeout,
		EnvDBDSN, EnvRedisURL, "BONDAI_REDIS_ADDR", "BONDAI_RELAY_ALLOWED_ORIGINS")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned unexpected error: %v", err)
	}
	if cfg.App.Env != AppEnvDev {
		t.Fatalf("expected default env %q, got %q", AppEnvDev, cfg.App.Env)
	}
	if cfg.Reporter.APIEndpoint != DefaultAPIEndpoint {
		t.Fatalf("unexpected endpoint %q", cfg.Reporter.APIEndpoint)
	}
	if cfg.Reporter.PollInterval != 120*time.Millisecond {
		t.Fatalf("expected 120ms poll interval, got %v", cfg.Reporter.PollInterval)
	}
	if cfg.Reporter.ReadyTimeout != 2*time.Second {
		t.Fatalf("expected 2s ready timeout, got %v", cfg.Reporter.ReadyTimeout)
	}
	if cfg.DB.Enabled() || cfg.Redis.Enabled() {
		t.Fatalf("db and redis should be disabled without connection settings")
	}
	if len(cfg.Relay.AllowedOrigins) != 1 || cfg.Relay.AllowedOrigins[0] != "*" {
		t.Fatalf("unexpected allowed origins %v", cfg.Relay.AllowedOrigins)
	}
}

func TestLoad_ReadsReporterSettings(t *testing.T) {
	t.Setenv(EnvAPIKey, "key-123")
	t.Setenv(EnvMode, "manual")
	t.Setenv(EnvTotalSelector, "#order-total")
	t.Setenv(EnvReadyTimeout, "3s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned unexpected error: %v", err)
	}
	if cfg.Reporter.APIKey != "key-123" {
		t.Fatalf("unexpected api key %q", cfg.Reporter.APIKey)
	}
	if !cfg.Reporter.IsManual() {
		t.Fatalf("expected manual mode")
	}
	if !cfg.Reporter.HasSelectors() {
		t.Fatalf("expected selectors to be configured")
	}
	if cfg.Reporter.ReadyTimeout != 3*time.Second {
		t.Fatalf("unexpected timeout %v", cfg.Reporter.ReadyTimeout)
	}
}

func TestLoad_RejectsInvalidSettings(t *testing.T) {
	t.Setenv(EnvMode, "sometimes")
	t.Setenv(EnvDBDriver, "oracle")

	_, err := Load()
	if err == nil {
		t.Fatal("expected invalid settings to return an error")
	}
	msg := err.Error()
	if !strings.Contains(msg, EnvMode) || !strings.Contains(msg, EnvDBDriver) {
		t.Fatalf("expected both problems to be reported, got %q", msg)
	}
}

func TestReporterConfigWithDefaults(t *testing.T) {
	cfg := ReporterConfig{}.WithDefaults()
	if cfg.APIEndpoint != DefaultAPIEndpoint {
		t.Fatalf("unexpected endpoint %q", cfg.APIEndpoint)
	}
	if cfg.Mode != ModeAuto || cfg.IsManual() {
		t.Fatalf("expected auto mode, got %q", cfg.Mode)
	}
	if cfg.IdentifierQueryKey != "mid" {
		t.Fatalf("expected mid query key, got %q", cfg.IdentifierQueryKey)
	}
	if cfg.PollInterval != DefaultPollInterval || cfg.ReadyTimeout != DefaultReadyTimeout {
		t.Fatalf("unexpected timings %v %v", cfg.PollInterval, cfg.ReadyTimeout)
	}
	if cfg.HasAmountEventMapping() || cfg.HasSelectors() {
		t.Fatalf("empty config must be heuristic-only")
	}
}

func TestReporterConfigValidateTimeoutShorterThanInterval(t *testing.T) {
	cfg := ReporterConfig{PollInterval: time.Second, ReadyTimeout: 100 * time.Millisecond}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected timeout shorter than interval to be rejected")
	}
}

func TestApplyAttributes(t *testing.T) {
	base := ReporterConfig{APIKey: "env-key", Mode: ModeAuto, TotalSelector: "#env-total"}
	cfg := base.ApplyAttributes(map[string]string{
		AttrKey:              "attr-key",
		AttrSend:             "NOW",
		AttrDebug:            "1",
		AttrAmountEventKey:   "transactionTotal",
		AttrDiscountEventKey: "totalDiscounts",
		AttrMidQuery:         "  ",
	})

	if cfg.APIKey != "attr-key" {
		t.Fatalf("attribute key should override env key, got %q", cfg.APIKey)
	}
	if !cfg.SendImmediately || !cfg.Debug {
		t.Fatalf("expected send-now and debug flags, got %+v", cfg)
	}
	if cfg.TotalSelector != "#env-total" {
		t.Fatalf("absent attributes must keep existing values, got %q", cfg.TotalSelector)
	}
	if cfg.IdentifierQueryKey != "" {
		t.Fatalf("blank attribute must not override, got %q", cfg.IdentifierQueryKey)
	}
	if !cfg.HasAmountEventMapping() {
		t.Fatalf("expected amount event mapping")
	}

	cfg = cfg.ApplyAttributes(map[string]string{AttrSend: "later", AttrDebug: "yes"})
	if cfg.SendImmediately || cfg.Debug {
		t.Fatalf("non-matching flag values should disable flags, got %+v", cfg)
	}
}

func TestAppConfigEnvHelpers(t *testing.T) {
	devConfig := AppConfig{Env: "DEV"}
	if !devConfig.IsDev() || devConfig.IsProd() {
		t.Fatalf("expected dev helpers for %q", devConfig.Env)
	}
	prodConfig := AppConfig{Env: "prod"}
	if !prodConfig.IsProd() || prodConfig.IsDev() {
		t.Fatalf("expected prod helpers for %q", prodConfig.Env)
	}
}

func TestRelayConfigConfigured(t *testing.T) {
	if (RelayConfig{UpstreamURL: "https://hub"}).Configured() {
		t.Fatalf("relay without key must not be configured")
	}
	if !(RelayConfig{UpstreamURL: "https://hub", UpstreamKey: "k"}).Configured() {
		t.Fatalf("relay with url and key should be configured")
	}
}
