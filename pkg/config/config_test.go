package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	// Empty values fall through to defaults, isolating from ambient env.
	for _, key := range []string{"PORT", "LOG_LEVEL", "LEDGER_BACKEND",
		"AUDIT_MASK_FIELDS", "QUEUE_REJECT_DEPTH", "RATE_LIMIT_RPS"} {
		t.Setenv(key, "")
	}
	cfg := Load()

	require.Equal(t, "8080", cfg.Port)
	require.Equal(t, "INFO", cfg.LogLevel)
	require.Equal(t, "file", cfg.LedgerBackend)
	require.Equal(t, []string{"iban", "tax_id", "account_number"}, cfg.AuditMaskFields)
	require.Equal(t, 100, cfg.QueueRejectDepth)
	require.Greater(t, cfg.RateLimitRPS, 0.0)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("LEDGER_BACKEND", "sqlite")
	t.Setenv("AUDIT_MASK_FIELDS", "iban, ssn ,")
	t.Setenv("QUEUE_REJECT_DEPTH", "5")
	t.Setenv("RATE_LIMIT_RPS", "2.5")

	cfg := Load()

	require.Equal(t, "9090", cfg.Port)
	require.Equal(t, "sqlite", cfg.LedgerBackend)
	require.Equal(t, []string{"iban", "ssn"}, cfg.AuditMaskFields)
	require.Equal(t, 5, cfg.QueueRejectDepth)
	require.InDelta(t, 2.5, cfg.RateLimitRPS, 1e-9)
}

func TestLoadIgnoresMalformedNumbers(t *testing.T) {
	t.Setenv("QUEUE_REJECT_DEPTH", "many")
	t.Setenv("RATE_LIMIT_RPS", "fast")

	cfg := Load()

	require.Equal(t, 100, cfg.QueueRejectDepth)
	require.InDelta(t, 20.0, cfg.RateLimitRPS, 1e-9)
}

func TestVersionDefaults(t *testing.T) {
	t.Setenv("MODEL_VERSION", "v7")

	defaults := Load().VersionDefaults()

	require.Equal(t, "v7", defaults["model_version"])
	require.Equal(t, "v1", defaults["prompt_version"])
	require.Len(t, defaults, 5)
}
