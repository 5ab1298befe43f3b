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
	unsetEnvWithCleanup(t, "SETTLEMENT_CRON_SCHEDULE")
	unsetEnvWithCleanup(t, "SETTLEMENT_RUN_BUDGET_SECONDS")
	unsetEnvWithCleanup(t, "SETTLEMENT_BATCH_LIMIT")
	unsetEnvWithCleanup(t, "TRIGGER_RATE_LIMIT_PER_MINUTE")
	unsetEnvWithCleanup(t, "SETTLEMENT_EVENT_EXCHANGE")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "8084" {
		t.Fatalf("expected default ServerPort 8084, got %q", cfg.ServerPort)
	}
	if cfg.SettlementCronSchedule != "*/5 * * * *" {
		t.Fatalf("expected default cron schedule, got %q", cfg.SettlementCronSchedule)
	}
	if cfg.SettlementRunBudgetSecs != 240 {
		t.Fatalf("expected default run budget 240, got %d", cfg.SettlementRunBudgetSecs)
	}
	if cfg.SettlementBatchLimit != 50 {
		t.Fatalf("expected default batch limit 50, got %d", cfg.SettlementBatchLimit)
	}
	if cfg.TriggerRateLimitPerMinute != 6 {
		t.Fatalf("expected default trigger rate limit 6, got %d", cfg.TriggerRateLimitPerMinute)
	}
	if cfg.SettlementEventExchange != "settlement_events" {
		t.Fatalf("expected default exchange settlement_events, got %q", cfg.SettlementEventExchange)
	}
}

func TestLoadConfig_UsesSettlementServiceInternalAPIKeyAlias(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "INTERNAL_API_KEY")
	setEnvWithCleanup(t, "SETTLEMENT_SERVICE_INTERNAL_API_KEY", "alias-only-key")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.InternalAPIKey != "alias-only-key" {
		t.Fatalf("expected InternalAPIKey from alias env var, got %q", cfg.InternalAPIKey)
	}
}

func TestLoadConfig_InternalAPIKeyTakesPrecedenceOverAlias(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "INTERNAL_API_KEY", "primary-key")
	setEnvWithCleanup(t, "SETTLEMENT_SERVICE_INTERNAL_API_KEY", "alias-key")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.InternalAPIKey != "primary-key" {
		t.Fatalf("expected InternalAPIKey to prioritize INTERNAL_API_KEY, got %q", cfg.InternalAPIKey)
	}
}

func TestLoadConfig_PortEnvOverridesServerPort(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "SERVER_PORT", "8084")
	setEnvWithCleanup(t, "PORT", "9090")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "9090" {
		t.Fatalf("expected PORT to override ServerPort, got %q", cfg.ServerPort)
	}
}

func TestLoadConfig_NonPositiveBudgetFallsBackToDefault(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "SETTLEMENT_RUN_BUDGET_SECONDS", "0")
	setEnvWithCleanup(t, "SETTLEMENT_BATCH_LIMIT", "-5")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.SettlementRunBudgetSecs != 240 {
		t.Fatalf("expected run budget fallback 240, got %d", cfg.SettlementRunBudgetSecs)
	}
	if cfg.SettlementBatchLimit != 50 {
		t.Fatalf("expected batch limit fallback 50, got %d", cfg.SettlementBatchLimit)
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
