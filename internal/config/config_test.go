package config

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/prreview/internal/domain"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, "gpt-4o-mini", cfg.LLMModel)
	assert.Equal(t, "production", cfg.LLMMode)
	assert.Equal(t, 30*time.Second, cfg.LLMTimeout)
	assert.Equal(t, 0.2, cfg.LLMTemperature)
	assert.Equal(t, domain.RetryPolicy{
		AttemptTimeout:    time.Minute,
		InitialBackoff:    2 * time.Second,
		BackoffMultiplier: 2.0,
		MaxAttempts:       5,
	}, cfg.Retry)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, []string{"CodeQuality", "TestQuality", "Security", "Priority"}, cfg.PipelineSteps)
	assert.Equal(t, 200*time.Millisecond, cfg.PollInterval)
	assert.False(t, cfg.Debug())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("LLM_MODE", "mock")
	t.Setenv("STEP_BACKOFF_MULTIPLIER", "1.5")
	t.Setenv("STEP_MAX_ATTEMPTS", "0")
	t.Setenv("STEP_ATTEMPT_TIMEOUT_MS", "500")
	t.Setenv("PIPELINE_STEPS", " Security , Complexity,")
	t.Setenv("WORKERS", "not-a-number")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg := Load()
	assert.Equal(t, 9090, cfg.HTTPPort)
	assert.Equal(t, "mock", cfg.LLMMode)
	assert.Equal(t, 1.5, cfg.Retry.BackoffMultiplier)
	assert.Equal(t, 0, cfg.Retry.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Retry.AttemptTimeout)
	assert.Equal(t, []string{"Security", "Complexity"}, cfg.PipelineSteps)
	assert.Equal(t, 4, cfg.Workers)
	assert.True(t, cfg.Debug())
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Load()
		cfg.LLMMode = "mock"
		return cfg
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"multiplier below one", func(c *Config) { c.Retry.BackoffMultiplier = 0.5 }},
		{"negative backoff", func(c *Config) { c.Retry.InitialBackoff = -time.Second }},
		{"zero attempt timeout", func(c *Config) { c.Retry.AttemptTimeout = 0 }},
		{"zero workers", func(c *Config) { c.Workers = 0 }},
		{"unknown step", func(c *Config) { c.PipelineSteps = []string{"Linting"} }},
		{"no steps", func(c *Config) { c.PipelineSteps = nil }},
		{"unknown mode", func(c *Config) { c.LLMMode = "replay" }},
		{"production without key", func(c *Config) { c.LLMMode = "production"; c.LLMAPIKey = "" }},
		{"negative execution timeout", func(c *Config) { c.ExecutionTimeout = -time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestPipelineFromSteps(t *testing.T) {
	cfg := Load()
	steps, err := cfg.Pipeline(afero.NewMemMapFs())
	require.NoError(t, err)
	require.Len(t, steps, 4)
	assert.Equal(t, "CodeQuality", steps[0].Name)
	assert.Equal(t, cfg.Retry, steps[3].Retry)

	cfg.PipelineSteps = []string{"Security", "Security"}
	_, err = cfg.Pipeline(afero.NewMemMapFs())
	assert.Error(t, err)
}

var defaults = domain.RetryPolicy{
	AttemptTimeout:    time.Minute,
	InitialBackoff:    2 * time.Second,
	BackoffMultiplier: 2,
	MaxAttempts:       5,
}

func TestLoadPipelineYAML(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/etc/pipeline.yaml", []byte(`
steps:
  - name: CodeQuality
    retry:
      attempt_timeout: 10s
      max_attempts: 0
  - name: Security
  - name: Priority
    retry:
      initial_backoff: 500ms
      backoff_multiplier: 3
`), 0o644))

	steps, err := LoadPipeline(fs, "/etc/pipeline.yaml", defaults)
	require.NoError(t, err)
	require.Len(t, steps, 3)

	assert.Equal(t, 10*time.Second, steps[0].Retry.AttemptTimeout)
	assert.Equal(t, 0, steps[0].Retry.MaxAttempts)
	assert.Equal(t, 2*time.Second, steps[0].Retry.InitialBackoff)
	assert.Equal(t, defaults, steps[1].Retry)
	assert.Equal(t, 500*time.Millisecond, steps[2].Retry.InitialBackoff)
	assert.Equal(t, 3.0, steps[2].Retry.BackoffMultiplier)
	assert.Equal(t, 5, steps[2].Retry.MaxAttempts)
}

func TestLoadPipelineTOML(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "pipeline.toml", []byte(`
[[steps]]
name = "TestQuality"

[[steps]]
name = "Complexity"
[steps.retry]
max_attempts = 2
attempt_timeout = "5s"
`), 0o644))

	steps, err := LoadPipeline(fs, "pipeline.toml", defaults)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, "TestQuality", steps[0].Name)
	assert.Equal(t, defaults, steps[0].Retry)
	assert.Equal(t, 2, steps[1].Retry.MaxAttempts)
	assert.Equal(t, 5*time.Second, steps[1].Retry.AttemptTimeout)
}

func TestLoadPipelineErrors(t *testing.T) {
	fs := afero.NewMemMapFs()
	files := map[string]string{
		"unknown.yaml":    "steps:\n  - name: Linting\n",
		"empty.yaml":      "steps: []\n",
		"badduration.yml": "steps:\n  - name: Security\n    retry:\n      attempt_timeout: soon\n",
		"badpolicy.yaml":  "steps:\n  - name: Security\n    retry:\n      backoff_multiplier: 0.5\n",
		"typo.yaml":       "steps:\n  - name: Security\n    retyr: {}\n",
		"typo.toml":       "[[steps]]\nname = \"Security\"\nretries = 3\n",
		"pipeline.json":   `{"steps":[]}`,
	}
	for name, content := range files {
		require.NoError(t, afero.WriteFile(fs, name, []byte(content), 0o644))
	}

	for name := range files {
		t.Run(name, func(t *testing.T) {
			_, err := LoadPipeline(fs, name, defaults)
			assert.Error(t, err)
		})
	}

	_, err := LoadPipeline(fs, "missing.yaml", defaults)
	assert.Error(t, err)
}
