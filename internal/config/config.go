// Package config provides configuration for the review engine.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/xiaot623/gogo/prreview/internal/adapter/llm"
	"github.com/xiaot623/gogo/prreview/internal/domain"
)

// Config holds the engine configuration.
type Config struct {
	// Server settings
	HTTPPort int

	// Database
	DatabaseURL string

	// LLM settings
	LLMBaseURL     string
	LLMAPIKey      string
	LLMModel       string
	LLMMode        string
	LLMTimeout     time.Duration
	LLMTemperature float64

	// Step dispatch
	Retry            domain.RetryPolicy
	ExecutionTimeout time.Duration
	Workers          int

	// Pipeline
	PipelineSteps []string
	PipelineFile  string

	// Admission
	PolicyFile   string
	MaxDiffBytes int

	// Archive of completed responses, disabled when empty.
	ReviewsDir string

	PollInterval time.Duration

	// Logging
	LogLevel string
}

// Load loads configuration from environment variables.
func Load() *Config {
	cfg := &Config{
		HTTPPort:       getEnvInt("HTTP_PORT", 8080),
		DatabaseURL:    getEnv("DATABASE_URL", "file:prreview.db?cache=shared&mode=rwc&_busy_timeout=5000"),
		LLMBaseURL:     getEnv("LLM_BASE_URL", "https://api.openai.com"),
		LLMAPIKey:      getEnv("LLM_API_KEY", ""),
		LLMModel:       getEnv("LLM_MODEL", "gpt-4o-mini"),
		LLMMode:        getEnv("LLM_MODE", llm.ModeProduction),
		LLMTimeout:     getEnvDuration("LLM_TIMEOUT_MS", 30000),
		LLMTemperature: getEnvFloat("LLM_TEMPERATURE", 0.2),
		Retry: domain.RetryPolicy{
			AttemptTimeout:    getEnvDuration("STEP_ATTEMPT_TIMEOUT_MS", 60000),
			InitialBackoff:    getEnvDuration("STEP_INITIAL_BACKOFF_MS", 2000),
			BackoffMultiplier: getEnvFloat("STEP_BACKOFF_MULTIPLIER", 2.0),
			MaxAttempts:       getEnvInt("STEP_MAX_ATTEMPTS", 5),
		},
		ExecutionTimeout: getEnvDuration("EXECUTION_TIMEOUT_MS", 0),
		Workers:          getEnvInt("WORKERS", 4),
		PipelineSteps:    splitList(getEnv("PIPELINE_STEPS", "CodeQuality,TestQuality,Security,Priority")),
		PipelineFile:     getEnv("PIPELINE_FILE", ""),
		PolicyFile:       getEnv("POLICY_FILE", ""),
		MaxDiffBytes:     getEnvInt("MAX_DIFF_BYTES", 200000),
		ReviewsDir:       getEnv("REVIEWS_DIR", ""),
		PollInterval:     getEnvDuration("POLL_INTERVAL_MS", 200),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
	}
	return cfg
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	if c.HTTPPort <= 0 {
		return fmt.Errorf("HTTP_PORT must be positive, got %d", c.HTTPPort)
	}
	if c.Workers < 1 {
		return fmt.Errorf("WORKERS must be at least 1, got %d", c.Workers)
	}
	if err := c.Retry.Validate(); err != nil {
		return fmt.Errorf("invalid step retry policy: %w", err)
	}
	if c.ExecutionTimeout < 0 {
		return fmt.Errorf("EXECUTION_TIMEOUT_MS must not be negative")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL_MS must be positive")
	}
	if c.LLMTimeout <= 0 {
		return fmt.Errorf("LLM_TIMEOUT_MS must be positive")
	}
	switch strings.ToLower(c.LLMMode) {
	case llm.ModeMock:
	case llm.ModeProduction:
		if c.LLMAPIKey == "" {
			return fmt.Errorf("LLM_API_KEY is required in %s mode", llm.ModeProduction)
		}
	default:
		return fmt.Errorf("unknown LLM_MODE %q", c.LLMMode)
	}
	if len(c.PipelineSteps) == 0 && c.PipelineFile == "" {
		return fmt.Errorf("PIPELINE_STEPS must name at least one step")
	}
	for _, name := range c.PipelineSteps {
		if !domain.IsKnownStep(name) {
			return fmt.Errorf("unknown pipeline step %q", name)
		}
	}
	return nil
}

// Debug reports whether verbose logging is enabled.
func (c *Config) Debug() bool {
	return strings.EqualFold(c.LogLevel, "debug")
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

// getEnvDuration reads a millisecond count.
func getEnvDuration(key string, defaultMs int) time.Duration {
	return time.Duration(getEnvInt(key, defaultMs)) * time.Millisecond
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
