// Package config provides configuration management for RecallKit.
// It loads settings from environment variables with the RECALLKIT_ prefix,
// optionally overlaid by a YAML file, and provides sensible defaults for all
// configuration options.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration settings for the memory subsystem.
type Config struct {
	Memory MemoryConfig `yaml:"memory"`
	Gate   GateConfig   `yaml:"gate"`
	LLM    LLMConfig    `yaml:"llm"`
	// Verbose enables debug-level log lines (duplicate-hash no-ops, gate
	// skips). Off by default so the hot path stays quiet.
	Verbose bool `yaml:"verbose"`
}

// MemoryConfig contains storage tier limits and scoring thresholds.
type MemoryConfig struct {
	// ConversationTierCap is the maximum live records per conversation scope (default: 100).
	ConversationTierCap int `yaml:"conversation_tier_cap"`
	// UserTierCap is the maximum live records per owner at the user tier (default: 500).
	UserTierCap int `yaml:"user_tier_cap"`
	// MinImportance is the floor below which candidates are never persisted (default: 3).
	MinImportance int `yaml:"min_importance"`
	// PromotionImportance is the floor for promotion to the user tier (default: 7).
	PromotionImportance int `yaml:"promotion_importance"`
	// TemporaryTTL is how long temporality=temporary records live (default: 90 days).
	TemporaryTTL time.Duration `yaml:"temporary_ttl"`
	// DedupWindow is how many recent records feed extraction dedup context (default: 50).
	DedupWindow int `yaml:"dedup_window"`
	// DefaultRetrieveCount is the default maxCount for GetRelevant (default: 15).
	DefaultRetrieveCount int `yaml:"default_retrieve_count"`
}

// GateConfig contains admission-gate settings.
type GateConfig struct {
	// Mode selects the gate strategy: "embedding" or "llm" (default: embedding).
	Mode string `yaml:"mode"`
	// EmbeddingThreshold is the minimum heuristic score in embedding mode (default: 0.55).
	EmbeddingThreshold float64 `yaml:"embedding_threshold"`
	// EmbeddingCacheSize bounds the gate's embedding LRU cache (default: 512).
	EmbeddingCacheSize int `yaml:"embedding_cache_size"`
}

// LLMConfig contains settings for the delegated classification/extraction
// capability. Provider wiring itself is injected; these bound its use.
type LLMConfig struct {
	// BaseURL is the endpoint for the bundled HTTP provider (default: http://localhost:11434).
	BaseURL string `yaml:"base_url"`
	// Model is the model name for the bundled HTTP provider (default: qwen2.5:7b).
	Model string `yaml:"model"`
	// EmbeddingModel is the embedding model name (default: nomic-embed-text).
	EmbeddingModel string `yaml:"embedding_model"`
	// Timeout bounds every delegated call (default: 20s).
	Timeout time.Duration `yaml:"timeout"`
	// RequestsPerSecond rate-limits delegated calls (default: 5).
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// LoadConfig loads configuration from environment variables with sensible
// defaults. All environment variables use the RECALLKIT_ prefix.
func LoadConfig() (*Config, error) {
	cfg := buildBaseConfig()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfigFile loads configuration from environment variables and then
// overlays values from a YAML file. File values take precedence over
// environment variables.
func LoadConfigFile(path string) (*Config, error) {
	cfg := buildBaseConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that all configured values are usable.
func (c *Config) Validate() error {
	if c.Memory.ConversationTierCap < 1 {
		return fmt.Errorf("config: conversation_tier_cap must be positive, got %d", c.Memory.ConversationTierCap)
	}
	if c.Memory.UserTierCap < 1 {
		return fmt.Errorf("config: user_tier_cap must be positive, got %d", c.Memory.UserTierCap)
	}
	if c.Memory.MinImportance < 1 || c.Memory.MinImportance > 10 {
		return fmt.Errorf("config: min_importance must be in [1,10], got %d", c.Memory.MinImportance)
	}
	if c.Memory.PromotionImportance < 1 || c.Memory.PromotionImportance > 10 {
		return fmt.Errorf("config: promotion_importance must be in [1,10], got %d", c.Memory.PromotionImportance)
	}
	if c.Memory.TemporaryTTL <= 0 {
		return fmt.Errorf("config: temporary_ttl must be positive, got %s", c.Memory.TemporaryTTL)
	}
	if c.Gate.Mode != "embedding" && c.Gate.Mode != "llm" {
		return fmt.Errorf("config: gate mode must be \"embedding\" or \"llm\", got %q", c.Gate.Mode)
	}
	if c.Gate.EmbeddingThreshold < 0 || c.Gate.EmbeddingThreshold > 1 {
		return fmt.Errorf("config: embedding_threshold must be in [0,1], got %g", c.Gate.EmbeddingThreshold)
	}
	if c.LLM.Timeout <= 0 {
		return fmt.Errorf("config: llm timeout must be positive, got %s", c.LLM.Timeout)
	}
	return nil
}

// buildBaseConfig constructs a Config with values from environment variables
// and defaults. This is the shared base for LoadConfig and LoadConfigFile.
func buildBaseConfig() *Config {
	return &Config{
		Memory: MemoryConfig{
			ConversationTierCap:  getEnvInt("RECALLKIT_CONVERSATION_TIER_CAP", 100),
			UserTierCap:          getEnvInt("RECALLKIT_USER_TIER_CAP", 500),
			MinImportance:        getEnvInt("RECALLKIT_MIN_IMPORTANCE", 3),
			PromotionImportance:  getEnvInt("RECALLKIT_PROMOTION_IMPORTANCE", 7),
			TemporaryTTL:         getEnvDuration("RECALLKIT_TEMPORARY_TTL", 90*24*time.Hour),
			DedupWindow:          getEnvInt("RECALLKIT_DEDUP_WINDOW", 50),
			DefaultRetrieveCount: getEnvInt("RECALLKIT_DEFAULT_RETRIEVE_COUNT", 15),
		},
		Gate: GateConfig{
			Mode:               getEnv("RECALLKIT_GATE_MODE", "embedding"),
			EmbeddingThreshold: getEnvFloat("RECALLKIT_GATE_THRESHOLD", 0.55),
			EmbeddingCacheSize: getEnvInt("RECALLKIT_GATE_CACHE_SIZE", 512),
		},
		LLM: LLMConfig{
			BaseURL:           getEnv("RECALLKIT_LLM_URL", "http://localhost:11434"),
			Model:             getEnv("RECALLKIT_LLM_MODEL", "qwen2.5:7b"),
			EmbeddingModel:    getEnv("RECALLKIT_EMBEDDING_MODEL", "nomic-embed-text"),
			Timeout:           getEnvDuration("RECALLKIT_LLM_TIMEOUT", 20*time.Second),
			RequestsPerSecond: getEnvFloat("RECALLKIT_LLM_RPS", 5),
		},
		Verbose: getEnvBool("RECALLKIT_VERBOSE", false),
	}
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default
// value. If the environment variable exists but cannot be parsed as an
// integer, it returns the default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float environment variable or returns a default value.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration retrieves a duration environment variable (Go syntax, e.g.
// "2160h") or returns a default value.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default
// value. It recognizes "true", "1", "yes" as true and "false", "0", "no" as
// false (case-insensitive).
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch value {
		case "true", "1", "yes", "True", "TRUE", "Yes", "YES":
			return true
		case "false", "0", "no", "False", "FALSE", "No", "NO":
			return false
		}
	}
	return defaultValue
}
