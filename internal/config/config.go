// Package config handles service configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cybershield-x/shield/internal/session"
	"github.com/joho/godotenv"
)

// Remote provider selections.
const (
	RemoteNone   = "none"
	RemoteGemini = "gemini"
	RemoteGRPC   = "grpc"
)

const (
	DefaultHTTPPort     = "8080"
	DefaultGRPCPort     = "9090"
	DefaultLogLevel     = "info"
	DefaultSelfPackage  = "com.cybershield.x"
	DefaultSystemUI     = "com.android.systemui"
	DefaultGeminiModel  = "gemini-pro"
	DefaultSQLitePath   = "data/shield.db"
	DefaultScanInterval = 6 * time.Hour
	DefaultScanWorkers  = 4
	DefaultLogRetention = 30 * 24 * time.Hour
	DefaultAuthCacheTTL = 30 * time.Second

	DefaultBreakerThreshold = 5
	DefaultBreakerCooldown  = 30 * time.Second
)

// Config holds all service configuration.
type Config struct {
	HTTPPort string
	GRPCPort string
	LogLevel string

	// Lock session
	TrustDuration    time.Duration
	SettleTimeout    time.Duration
	ChallengeTimeout time.Duration
	RevocationPolicy string
	SelfPackage      string
	IgnoredPackages  []string

	// Scoring
	RemoteProvider   string // none, gemini or grpc
	GeminiAPIKey     string
	GeminiModel      string
	GeminiEndpoint   string // empty selects the public API
	AnalysisEndpoint string // gRPC analysis target
	RemoteTimeout    time.Duration
	RulesFile        string // optional TOML rule tables
	BreakerThreshold int    // consecutive remote failures before the circuit opens; 0 disables
	BreakerCooldown  time.Duration

	// Storage
	PostgresDSN   string // optional; lock policy stays in memory without it
	ClickHouseDSN string // optional analytics sink
	SQLitePath    string
	LogRetention  time.Duration

	// Security
	APIKeyHash   string // bcrypt; empty disables auth
	AuthCacheTTL time.Duration

	// Threat scan
	ScanInterval time.Duration
	ScanWorkers  int

	GRPCReflection bool
}

// Load reads configuration from environment variables.
// It loads a .env file if present (for local development).
func Load() (*Config, error) {
	_ = godotenv.Load()

	defaults := session.DefaultConfig()
	self := getEnv("SHIELD_SELF_PACKAGE", DefaultSelfPackage)

	cfg := &Config{
		HTTPPort:         getEnv("SHIELD_HTTP_PORT", DefaultHTTPPort),
		GRPCPort:         getEnv("SHIELD_GRPC_PORT", DefaultGRPCPort),
		LogLevel:         getEnv("SHIELD_LOG_LEVEL", DefaultLogLevel),
		TrustDuration:    getEnvDuration("SHIELD_TRUST_DURATION", defaults.TrustDuration),
		SettleTimeout:    getEnvDuration("SHIELD_SETTLE_TIMEOUT", defaults.SettleTimeout),
		ChallengeTimeout: getEnvDuration("SHIELD_CHALLENGE_TIMEOUT", defaults.ChallengeTimeout),
		RevocationPolicy: getEnv("SHIELD_REVOCATION_POLICY", defaults.Revocation.String()),
		SelfPackage:      self,
		IgnoredPackages:  withPackage(getEnvList("SHIELD_IGNORED_PACKAGES", []string{self, DefaultSystemUI}), self),
		RemoteProvider:   strings.ToLower(getEnv("SHIELD_REMOTE_PROVIDER", RemoteNone)),
		GeminiAPIKey:     os.Getenv("GEMINI_API_KEY"),
		GeminiModel:      getEnv("GEMINI_MODEL", DefaultGeminiModel),
		GeminiEndpoint:   os.Getenv("GEMINI_ENDPOINT"),
		AnalysisEndpoint: os.Getenv("SHIELD_ANALYSIS_ENDPOINT"),
		RemoteTimeout:    getEnvDuration("SHIELD_REMOTE_TIMEOUT", 15*time.Second),
		RulesFile:        os.Getenv("SHIELD_RULES_FILE"),
		BreakerThreshold: getEnvInt("SHIELD_BREAKER_THRESHOLD", DefaultBreakerThreshold),
		BreakerCooldown:  getEnvDuration("SHIELD_BREAKER_COOLDOWN", DefaultBreakerCooldown),
		PostgresDSN:      os.Getenv("POSTGRES_DSN"),
		ClickHouseDSN:    os.Getenv("CLICKHOUSE_DSN"),
		SQLitePath:       getEnv("SHIELD_SQLITE_PATH", DefaultSQLitePath),
		LogRetention:     getEnvDuration("SHIELD_LOG_RETENTION", DefaultLogRetention),
		APIKeyHash:       os.Getenv("SHIELD_API_KEY_HASH"),
		AuthCacheTTL:     getEnvDuration("SHIELD_AUTH_CACHE_TTL", DefaultAuthCacheTTL),
		ScanInterval:     getEnvDuration("SHIELD_SCAN_INTERVAL", DefaultScanInterval),
		ScanWorkers:      getEnvInt("SHIELD_SCAN_WORKERS", DefaultScanWorkers),
		GRPCReflection:   getEnvBool("SHIELD_GRPC_REFLECTION", false),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if _, err := session.ParseRevocationPolicy(c.RevocationPolicy); err != nil {
		return fmt.Errorf("SHIELD_REVOCATION_POLICY: %w", err)
	}

	for key, d := range map[string]time.Duration{
		"SHIELD_TRUST_DURATION":    c.TrustDuration,
		"SHIELD_SETTLE_TIMEOUT":    c.SettleTimeout,
		"SHIELD_CHALLENGE_TIMEOUT": c.ChallengeTimeout,
		"SHIELD_REMOTE_TIMEOUT":    c.RemoteTimeout,
		"SHIELD_SCAN_INTERVAL":     c.ScanInterval,
		"SHIELD_BREAKER_COOLDOWN":  c.BreakerCooldown,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}

	switch c.RemoteProvider {
	case RemoteNone:
	case RemoteGemini:
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required when SHIELD_REMOTE_PROVIDER=gemini")
		}
	case RemoteGRPC:
		if c.AnalysisEndpoint == "" {
			return fmt.Errorf("SHIELD_ANALYSIS_ENDPOINT is required when SHIELD_REMOTE_PROVIDER=grpc")
		}
	default:
		return fmt.Errorf("SHIELD_REMOTE_PROVIDER must be one of none, gemini, grpc; got %q", c.RemoteProvider)
	}

	if c.ScanWorkers <= 0 {
		return fmt.Errorf("SHIELD_SCAN_WORKERS must be positive")
	}
	if c.BreakerThreshold < 0 {
		return fmt.Errorf("SHIELD_BREAKER_THRESHOLD must not be negative")
	}
	if c.APIKeyHash != "" && !strings.HasPrefix(c.APIKeyHash, "$2") {
		return fmt.Errorf("SHIELD_API_KEY_HASH must be a bcrypt hash")
	}
	return nil
}

// Session returns the state machine configuration.
func (c *Config) Session() session.Config {
	policy, _ := session.ParseRevocationPolicy(c.RevocationPolicy)
	return session.Config{
		TrustDuration:    c.TrustDuration,
		SettleTimeout:    c.SettleTimeout,
		ChallengeTimeout: c.ChallengeTimeout,
		Revocation:       policy,
	}
}

// AuthEnabled reports whether API keys are checked.
func (c *Config) AuthEnabled() bool {
	return c.APIKeyHash != ""
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated value, dropping blanks.
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// withPackage appends pkg unless already present.
func withPackage(list []string, pkg string) []string {
	for _, p := range list {
		if p == pkg {
			return list
		}
	}
	return append(list, pkg)
}
