// Package policy evaluates the admission policy applied to review requests
// before an execution is created.
package policy

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"
	"github.com/spf13/afero"

	"github.com/xiaot623/gogo/prreview/internal/domain"
)

// Decisions a policy can return.
const (
	DecisionAllow = "allow"
	DecisionBlock = "block"
)

// Engine is the OPA policy engine.
type Engine struct {
	query        rego.PreparedEvalQuery
	maxDiffBytes int
}

// Decision is the outcome of one evaluation.
type Decision struct {
	Decision string
	Reason   string
}

// Allowed reports whether the request may start an execution.
func (d Decision) Allowed() bool {
	return d.Decision != DecisionBlock
}

// Input is the document the policy sees as `input`.
type Input struct {
	PRNumber     int      `json:"pr_number"`
	PRTitle      string   `json:"pr_title"`
	Author       string   `json:"author"`
	DiffBytes    int      `json:"diff_bytes"`
	MaxDiffBytes int      `json:"max_diff_bytes"`
	Steps        []string `json:"steps"`
	TestsPassed  *bool    `json:"tests_passed"`
}

// NewEngine creates a new policy engine with the given policy content.
func NewEngine(ctx context.Context, policyContent string, maxDiffBytes int) (*Engine, error) {
	r := rego.New(
		rego.Query("data.review_policy.decision"),
		rego.Module("review_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query, maxDiffBytes: maxDiffBytes}, nil
}

// LoadEngine reads the policy from path, or uses DefaultPolicy when path is
// empty.
func LoadEngine(ctx context.Context, fs afero.Fs, path string, maxDiffBytes int) (*Engine, error) {
	content := DefaultPolicy
	if path != "" {
		data, err := afero.ReadFile(fs, path)
		if err != nil {
			return nil, fmt.Errorf("failed to read policy file: %w", err)
		}
		content = string(data)
	}
	return NewEngine(ctx, content, maxDiffBytes)
}

// InputFor builds the policy input of a request about to run steps.
func (e *Engine) InputFor(req *domain.ReviewRequest, steps []string) Input {
	in := Input{
		PRTitle:      req.PRTitle,
		Author:       req.Author,
		DiffBytes:    len(req.Diff),
		MaxDiffBytes: e.maxDiffBytes,
		Steps:        steps,
	}
	if req.PRNumber != nil {
		in.PRNumber = *req.PRNumber
	}
	if req.TestSummary != nil {
		passed := req.TestSummary.Passed
		in.TestsPassed = &passed
	}
	return in
}

// Evaluate checks the review policy. The rule may produce either a bare
// decision string or an object with decision and reason.
func (e *Engine) Evaluate(ctx context.Context, input Input) (Decision, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return Decision{}, fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return Decision{Decision: DecisionAllow, Reason: "default"}, nil
	}

	switch v := results[0].Expressions[0].Value.(type) {
	case string:
		return Decision{Decision: v}, nil
	case map[string]interface{}:
		d := Decision{Decision: DecisionAllow}
		if s, ok := v["decision"].(string); ok {
			d.Decision = s
		}
		if s, ok := v["reason"].(string); ok {
			d.Reason = s
		}
		return d, nil
	default:
		return Decision{}, fmt.Errorf("policy returned unexpected type %T", v)
	}
}

// DefaultPolicy rejects diffs larger than the configured limit.
const DefaultPolicy = `
package review_policy

default decision = {"decision": "allow", "reason": ""}

decision = {"decision": "block", "reason": msg} {
	input.max_diff_bytes > 0
	input.diff_bytes > input.max_diff_bytes
	msg := sprintf("diff is %d bytes, the limit is %d", [input.diff_bytes, input.max_diff_bytes])
}
`
