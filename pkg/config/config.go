package config

import (
	"os"
	"strconv"
	"strings"
)

// Config holds server configuration.
type Config struct {
	Port     string
	LogLevel string

	// Ledger storage. Backend is one of memory, file, sqlite, postgres.
	LedgerBackend string
	LedgerPath    string
	DatabaseURL   string
	DocumentsPath string

	// Payload fields masked before hashing and persistence.
	AuditMaskFields []string

	// Queue depth thresholds for run-action backpressure.
	QueueWarnDepth   int
	QueueRejectDepth int

	// Bearer auth. Empty secret disables auth (local development only).
	JWTSecret string

	// Per-client request rate limiting.
	RateLimitRPS   float64
	RateLimitBurst int

	// Governance version bundle.
	ConfigBundleRoot string
	PromptVersion    string
	TemplateVersion  string
	RoutingVersion   string
	PolicyVersion    string
	ModelVersion     string
	ModelRuntime     string

	// OTLP export. Disabled unless an endpoint is set.
	OTLPEndpoint string
	ServiceName  string
}

// Load loads configuration from environment variables.
func Load() *Config {
	cfg := &Config{
		Port:             envOr("PORT", "8080"),
		LogLevel:         envOr("LOG_LEVEL", "INFO"),
		LedgerBackend:    envOr("LEDGER_BACKEND", "file"),
		LedgerPath:       envOr("LEDGER_PATH", "data/audit_events.jsonl"),
		DocumentsPath:    envOr("DOCUMENTS_DB_PATH", "data/documents.db"),
		DatabaseURL:      envOr("DATABASE_URL", "postgres://invoicemind@localhost:5432/invoicemind?sslmode=disable"),
		QueueWarnDepth:   envInt("QUEUE_WARN_DEPTH", 25),
		QueueRejectDepth: envInt("QUEUE_REJECT_DEPTH", 100),
		JWTSecret:        os.Getenv("JWT_SECRET"),
		RateLimitRPS:     envFloat("RATE_LIMIT_RPS", 20),
		RateLimitBurst:   envInt("RATE_LIMIT_BURST", 40),
		ConfigBundleRoot: envOr("CONFIG_BUNDLE_ROOT", "config_bundle"),
		PromptVersion:    envOr("PROMPT_VERSION", "v1"),
		TemplateVersion:  envOr("TEMPLATE_VERSION", "v1"),
		RoutingVersion:   envOr("ROUTING_VERSION", "v1"),
		PolicyVersion:    envOr("POLICY_VERSION", "v1"),
		ModelVersion:     envOr("MODEL_VERSION", "v1"),
		ModelRuntime:     envOr("MODEL_RUNTIME", "vllm"),
		OTLPEndpoint:     os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		ServiceName:      envOr("OTEL_SERVICE_NAME", "invoicemind"),
	}

	mask := envOr("AUDIT_MASK_FIELDS", "iban,tax_id,account_number")
	for _, field := range strings.Split(mask, ",") {
		field = strings.TrimSpace(field)
		if field != "" {
			cfg.AuditMaskFields = append(cfg.AuditMaskFields, field)
		}
	}
	return cfg
}

// VersionDefaults returns the fallback component versions used when the
// bundle root carries no active_versions.yaml.
func (c *Config) VersionDefaults() map[string]string {
	return map[string]string{
		"prompt_version":   c.PromptVersion,
		"template_version": c.TemplateVersion,
		"routing_version":  c.RoutingVersion,
		"policy_version":   c.PolicyVersion,
		"model_version":    c.ModelVersion,
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
