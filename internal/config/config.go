// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultAllowedOrigins are the origins accepted when ALLOWED_ORIGINS is unset.
var DefaultAllowedOrigins = []string{
	"http://localhost:5173",
	"http://localhost:5174",
	"http://127.0.0.1:5173",
	"http://127.0.0.1:5174",
	"https://*.vercel.app",
}

// Config holds all application configuration.
type Config struct {
	Port           string
	AllowedOrigins []string
	LogLevel       string
	LogFile        string

	Inference InferenceConfig
	Prompt    PromptConfig
	Session   SessionConfig

	TelemetryEnabled bool
	GRPCHealthAddr   string
	ConversationLog  ConversationLogConfig
}

// InferenceConfig configures the hosted model client.
type InferenceConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Timeout    time.Duration
	MaxRetries int
}

// PromptConfig configures prompt composition.
type PromptConfig struct {
	SystemPrompt          string
	TemplatesFile         string
	DefaultTargetLanguage string
	DefaultCodeLanguage   string
	HistoryWindow         int
}

// SessionConfig configures the in-memory session store.
type SessionConfig struct {
	TTL           time.Duration
	SweepInterval time.Duration
	MaxTurns      int
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled   bool
	Path      string
	QueueSize int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		AllowedOrigins: getEnvList("ALLOWED_ORIGINS", DefaultAllowedOrigins),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFile:        getEnv("LOG_FILE", ""),
		Inference: InferenceConfig{
			APIKey:     strings.TrimSpace(getEnv("HF_API_KEY", "")),
			BaseURL:    getEnv("INFERENCE_BASE_URL", "https://router.huggingface.co/v1"),
			Model:      getEnv("INFERENCE_MODEL", "HuggingFaceTB/SmolLM3-3B"),
			Timeout:    getEnvDuration("INFERENCE_TIMEOUT", 60*time.Second),
			MaxRetries: getEnvInt("INFERENCE_MAX_RETRIES", 1),
		},
		Prompt: PromptConfig{
			SystemPrompt:          getEnv("SYSTEM_PROMPT", ""),
			TemplatesFile:         getEnv("PROMPT_TEMPLATES_FILE", ""),
			DefaultTargetLanguage: getEnv("DEFAULT_TARGET_LANGUAGE", "Chinese"),
			DefaultCodeLanguage:   getEnv("DEFAULT_CODE_LANGUAGE", "Python"),
			HistoryWindow:         getEnvInt("HISTORY_WINDOW", 5),
		},
		Session: SessionConfig{
			TTL:           getEnvDuration("SESSION_TTL", time.Hour),
			SweepInterval: getEnvDuration("SESSION_SWEEP_INTERVAL", 5*time.Minute),
			MaxTurns:      getEnvInt("SESSION_MAX_TURNS", 50),
		},
		TelemetryEnabled: getEnvBool("TELEMETRY_ENABLED", false),
		GRPCHealthAddr:   getEnv("GRPC_HEALTH_ADDR", ""),
		ConversationLog: ConversationLogConfig{
			Enabled:   getEnvBool("CONVERSATION_LOG_ENABLED", false),
			Path:      getEnv("CONVERSATION_LOG_PATH", "./data/logs/conversations.ndjson"),
			QueueSize: queueSize,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.Inference.BaseURL == "" {
		return fmt.Errorf("INFERENCE_BASE_URL cannot be empty")
	}
	if c.Inference.Model == "" {
		return fmt.Errorf("INFERENCE_MODEL cannot be empty")
	}
	if c.Inference.Timeout <= 0 {
		return fmt.Errorf("INFERENCE_TIMEOUT must be > 0")
	}
	if c.Inference.MaxRetries < 0 {
		return fmt.Errorf("INFERENCE_MAX_RETRIES must be >= 0")
	}
	if c.Prompt.HistoryWindow <= 0 {
		return fmt.Errorf("HISTORY_WINDOW must be > 0")
	}
	if c.Session.TTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be > 0")
	}
	if c.Session.SweepInterval <= 0 {
		return fmt.Errorf("SESSION_SWEEP_INTERVAL must be > 0")
	}
	if c.Session.MaxTurns < c.Prompt.HistoryWindow {
		return fmt.Errorf("SESSION_MAX_TURNS must be >= HISTORY_WINDOW")
	}
	if c.ConversationLog.Enabled && c.ConversationLog.Path == "" {
		return fmt.Errorf("CONVERSATION_LOG_PATH cannot be empty")
	}
	return nil
}

// HasInferenceKey reports whether a model credential is configured.
func (c *Config) HasInferenceKey() bool {
	return c.Inference.APIKey != ""
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

// getEnvList splits a comma-separated variable, dropping empty items.
func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		return append([]string(nil), fallback...)
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
