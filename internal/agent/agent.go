// Package agent implements the analysis steps of a review. Each step asks
// an LLM for a verdict on the pull request and parses its JSON answer into
// a StepResult.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/xiaot623/gogo/prreview/internal/adapter/llm"
	"github.com/xiaot623/gogo/prreview/internal/dispatch"
	"github.com/xiaot623/gogo/prreview/internal/domain"
)

// Options configures the LLM calls made by every step.
type Options struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// PromptBuilder renders the user message for a step.
type PromptBuilder func(input domain.ReviewContext) string

// LLMAgent is a step backed by a single chat completion.
type LLMAgent struct {
	name         string
	systemPrompt string
	client       llm.LLMClient
	opts         Options
	buildPrompt  PromptBuilder
}

var _ dispatch.Analyzer = (*LLMAgent)(nil)

// NewLLMAgent creates a step that sends systemPrompt and the rendered user
// message to client.
func NewLLMAgent(name, systemPrompt string, client llm.LLMClient, opts Options, build PromptBuilder) *LLMAgent {
	if build == nil {
		build = DiffPrompt
	}
	return &LLMAgent{
		name:         name,
		systemPrompt: systemPrompt,
		client:       client,
		opts:         opts,
		buildPrompt:  build,
	}
}

// Name returns the step name.
func (a *LLMAgent) Name() string { return a.name }

// Analyze implements dispatch.Analyzer.
func (a *LLMAgent) Analyze(ctx context.Context, input domain.ReviewContext) (domain.StepResult, error) {
	temperature := a.opts.Temperature
	req := &llm.ChatCompletionRequest{
		Model: a.opts.Model,
		Messages: []llm.ChatMessage{
			{Role: "system", Content: a.systemPrompt},
			{Role: "user", Content: a.buildPrompt(input)},
		},
		Temperature:    &temperature,
		ResponseFormat: map[string]interface{}{"type": "json_object"},
	}
	if a.opts.MaxTokens > 0 {
		maxTokens := a.opts.MaxTokens
		req.MaxTokens = &maxTokens
	}

	resp, err := a.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return domain.StepResult{}, classifyLLMError(a.name, err)
	}
	content := resp.Content()
	if strings.TrimSpace(content) == "" {
		return domain.StepResult{}, domain.NewRetryableError(domain.StepErrorMalformedResponse,
			fmt.Sprintf("%s received an empty completion", a.name), nil)
	}
	return ParseResult(a.name, content)
}

// classifyLLMError maps client failures onto step errors. Rate limits and
// server errors are retried; other API rejections will not improve on retry.
func classifyLLMError(step string, err error) *domain.StepError {
	var statusErr *llm.StatusError
	if errors.As(err, &statusErr) {
		if statusErr.Temporary() {
			return domain.NewRetryableError(domain.StepErrorUpstream,
				fmt.Sprintf("%s: LLM returned status %d", step, statusErr.StatusCode), err)
		}
		code := domain.StepErrorUpstream
		if statusErr.StatusCode == 401 || statusErr.StatusCode == 403 || statusErr.StatusCode == 404 {
			code = domain.StepErrorMisconfigured
		}
		return domain.NewTerminalError(code,
			fmt.Sprintf("%s: LLM rejected the request with status %d", step, statusErr.StatusCode), err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.NewRetryableError(domain.StepErrorTimeout, fmt.Sprintf("%s: LLM call timed out", step), err)
	}
	return domain.NewRetryableError(domain.StepErrorTransport, fmt.Sprintf("%s: LLM call failed", step), err)
}

// DiffPrompt renders the title, description and diff of the pull request.
func DiffPrompt(input domain.ReviewContext) string {
	r := input.Request
	return fmt.Sprintf("PR Title: %s\n\nPR Description: %s\n\nDiff:\n%s", r.PRTitle, r.PRDescription, r.Diff)
}
