package agent

import (
	"fmt"
	"sort"

	"github.com/xiaot623/gogo/prreview/internal/adapter/llm"
	"github.com/xiaot623/gogo/prreview/internal/dispatch"
	"github.com/xiaot623/gogo/prreview/internal/domain"
)

// Registry maps step names to analyzers.
type Registry struct {
	analyzers map[string]dispatch.Analyzer
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{analyzers: make(map[string]dispatch.Analyzer)}
}

// Register adds or replaces the analyzer for name.
func (r *Registry) Register(name string, a dispatch.Analyzer) {
	r.analyzers[name] = a
}

// Lookup returns the analyzer for name.
func (r *Registry) Lookup(name string) (dispatch.Analyzer, bool) {
	a, ok := r.analyzers[name]
	return a, ok
}

// Names returns the registered step names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.analyzers))
	for n := range r.analyzers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// NewLLMRegistry registers every known step against client.
func NewLLMRegistry(client llm.LLMClient, opts Options) (*Registry, error) {
	r := NewRegistry()
	for _, name := range domain.KnownSteps {
		prompt, err := SystemPrompt(name)
		if err != nil {
			return nil, fmt.Errorf("failed to load step %s: %w", name, err)
		}
		switch name {
		case domain.StepTestQuality:
			r.Register(name, NewTestQualityAgent(NewLLMAgent(name, prompt, client, opts, TestQualityPrompt)))
		case domain.StepPriority:
			r.Register(name, NewLLMAgent(name, prompt, client, opts, PriorityPrompt))
		default:
			r.Register(name, NewLLMAgent(name, prompt, client, opts, DiffPrompt))
		}
	}
	return r, nil
}
