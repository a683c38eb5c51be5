// Package config loads Clasper's process-wide configuration from the
// environment. There is no file-based override beyond POLICY_PATH: every
// other knob in spec §6 is an env var with a documented default.
package config

import (
	"os"
	"strconv"
	"time"
)

// EnforcementMode is the shared off|warn|enforce tri-state used by both
// telemetry verification (C10) and tool-token authorization.
type EnforcementMode string

const (
	ModeOff     EnforcementMode = "off"
	ModeWarn    EnforcementMode = "warn"
	ModeEnforce EnforcementMode = "enforce"
)

// Config holds server configuration.
type Config struct {
	Port     string
	LogLevel string

	DBDriver string // "sqlite" or "postgres"
	DBPath   string // DSN for either driver

	RedisAddr string // optional; empty disables Redis-backed features

	AgentJWTSecret    string
	OpsOIDCIssuer     string
	OpsOIDCJWKSURL    string
	OpsOIDCAudience   string
	AdapterJWTSecret  string
	DecisionTokenSecret string
	ToolTokenSecret   string

	TelemetrySignatureMode  EnforcementMode
	TelemetryMaxSkewSeconds time.Duration

	ToolAuthMode EnforcementMode

	RateLimitRPM   int // per-actor requests per minute, spec §5 backpressure
	RateLimitBurst int

	PolicyPath string

	// DevNoAuth enables the C1 development bypass. Per spec §4.1 this is
	// honored only in combination with non-production deployment and no
	// external identity provider configured; Load alone does not enforce
	// that — the auth middleware re-checks all three preconditions.
	DevNoAuth bool
	Env       string // "production" disables the dev bypass outright
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		Port:     getenv("PORT", "8080"),
		LogLevel: getenv("LOG_LEVEL", "INFO"),

		DBDriver: getenv("DB_DRIVER", "sqlite"),
		DBPath:   getenv("DB_PATH", "clasper.db"),

		RedisAddr: os.Getenv("REDIS_ADDR"),

		AgentJWTSecret:      os.Getenv("AGENT_JWT_SECRET"),
		OpsOIDCIssuer:       os.Getenv("OPS_OIDC_ISSUER"),
		OpsOIDCJWKSURL:      os.Getenv("OPS_OIDC_JWKS_URL"),
		OpsOIDCAudience:     os.Getenv("OPS_OIDC_AUDIENCE"),
		AdapterJWTSecret:    os.Getenv("ADAPTER_JWT_SECRET"),
		DecisionTokenSecret: os.Getenv("DECISION_TOKEN_SECRET"),
		ToolTokenSecret:     os.Getenv("TOOL_TOKEN_SECRET"),

		TelemetrySignatureMode:  EnforcementMode(getenv("TELEMETRY_SIGNATURE_MODE", "enforce")),
		TelemetryMaxSkewSeconds: time.Duration(getenvInt("TELEMETRY_MAX_SKEW_SECONDS", 300)) * time.Second,

		ToolAuthMode: EnforcementMode(getenv("TOOL_AUTH_MODE", "enforce")),

		RateLimitRPM:   getenvInt("RATE_LIMIT_RPM", 300),
		RateLimitBurst: getenvInt("RATE_LIMIT_BURST", 50),

		PolicyPath: os.Getenv("POLICY_PATH"),

		DevNoAuth: os.Getenv("DEV_NO_AUTH") == "true",
		Env:       getenv("ENV", "development"),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
