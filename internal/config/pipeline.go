package config

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/xiaot623/gogo/prreview/internal/domain"
)

type pipelineFile struct {
	Steps []pipelineStep `yaml:"steps" toml:"steps"`
}

type pipelineStep struct {
	Name  string     `yaml:"name" toml:"name"`
	Retry *retrySpec `yaml:"retry" toml:"retry"`
}

// retrySpec leaves fields nil when the file omits them so they inherit the
// environment defaults.
type retrySpec struct {
	AttemptTimeout    string   `yaml:"attempt_timeout" toml:"attempt_timeout"`
	InitialBackoff    string   `yaml:"initial_backoff" toml:"initial_backoff"`
	BackoffMultiplier *float64 `yaml:"backoff_multiplier" toml:"backoff_multiplier"`
	MaxAttempts       *int     `yaml:"max_attempts" toml:"max_attempts"`
}

// Pipeline returns the step roster new executions run with: the pipeline
// file when one is configured, PIPELINE_STEPS otherwise.
func (c *Config) Pipeline(fs afero.Fs) ([]domain.StepSpec, error) {
	if c.PipelineFile != "" {
		return LoadPipeline(fs, c.PipelineFile, c.Retry)
	}
	steps := make([]domain.StepSpec, 0, len(c.PipelineSteps))
	for _, name := range c.PipelineSteps {
		steps = append(steps, domain.StepSpec{Name: name, Retry: c.Retry})
	}
	if err := validateRoster(steps); err != nil {
		return nil, err
	}
	return steps, nil
}

// LoadPipeline reads a YAML or TOML pipeline definition, chosen by file
// extension.
func LoadPipeline(fs afero.Fs, path string, defaults domain.RetryPolicy) ([]domain.StepSpec, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pipeline file: %w", err)
	}

	var pf pipelineFile
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&pf); err != nil {
			return nil, fmt.Errorf("failed to parse pipeline file %s: %w", path, err)
		}
	case ".toml":
		md, err := toml.Decode(string(data), &pf)
		if err != nil {
			return nil, fmt.Errorf("failed to parse pipeline file %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("unknown keys in pipeline file %s: %v", path, undecoded)
		}
	default:
		return nil, fmt.Errorf("unsupported pipeline file extension %q", ext)
	}

	steps := make([]domain.StepSpec, 0, len(pf.Steps))
	for i, s := range pf.Steps {
		policy, err := s.Retry.apply(defaults)
		if err != nil {
			return nil, fmt.Errorf("pipeline step %d (%s): %w", i, s.Name, err)
		}
		steps = append(steps, domain.StepSpec{Name: strings.TrimSpace(s.Name), Retry: policy})
	}
	if err := validateRoster(steps); err != nil {
		return nil, err
	}
	return steps, nil
}

func (r *retrySpec) apply(p domain.RetryPolicy) (domain.RetryPolicy, error) {
	if r == nil {
		return p, nil
	}
	if r.AttemptTimeout != "" {
		d, err := time.ParseDuration(r.AttemptTimeout)
		if err != nil {
			return p, fmt.Errorf("invalid attempt_timeout: %w", err)
		}
		p.AttemptTimeout = d
	}
	if r.InitialBackoff != "" {
		d, err := time.ParseDuration(r.InitialBackoff)
		if err != nil {
			return p, fmt.Errorf("invalid initial_backoff: %w", err)
		}
		p.InitialBackoff = d
	}
	if r.BackoffMultiplier != nil {
		p.BackoffMultiplier = *r.BackoffMultiplier
	}
	if r.MaxAttempts != nil {
		p.MaxAttempts = *r.MaxAttempts
	}
	return p, nil
}

func validateRoster(steps []domain.StepSpec) error {
	if len(steps) == 0 {
		return fmt.Errorf("pipeline has no steps")
	}
	seen := make(map[string]bool, len(steps))
	for _, s := range steps {
		if !domain.IsKnownStep(s.Name) {
			return fmt.Errorf("unknown pipeline step %q", s.Name)
		}
		if seen[s.Name] {
			return fmt.Errorf("pipeline step %q appears twice", s.Name)
		}
		seen[s.Name] = true
		if err := s.Retry.Validate(); err != nil {
			return fmt.Errorf("pipeline step %s: %w", s.Name, err)
		}
	}
	return nil
}
