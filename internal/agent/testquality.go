package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/xiaot623/gogo/prreview/internal/domain"
)

// TestQualityAgent reviews test coverage. A failing CI run blocks the pull
// request outright without consulting the LLM.
type TestQualityAgent struct {
	*LLMAgent
}

// NewTestQualityAgent wraps an LLM step with the failing-tests rule.
func NewTestQualityAgent(inner *LLMAgent) *TestQualityAgent {
	return &TestQualityAgent{LLMAgent: inner}
}

// Analyze implements dispatch.Analyzer.
func (a *TestQualityAgent) Analyze(ctx context.Context, input domain.ReviewContext) (domain.StepResult, error) {
	if ts := input.Request.TestSummary; ts != nil && !ts.Passed {
		return FailingTestsResult(a.name, ts), nil
	}
	return a.LLMAgent.Analyze(ctx, input)
}

// FailingTestsResult is the verdict for a pull request whose tests fail.
func FailingTestsResult(step string, ts *domain.TestSummary) domain.StepResult {
	return domain.StepResult{
		StepName:       step,
		RiskLevel:      domain.RiskLevelHigh,
		Recommendation: domain.RecommendationBlock,
		Findings: []string{
			fmt.Sprintf("Tests are failing - %d out of %d tests failed", ts.FailedTests, ts.TotalTests),
			"All tests must pass before the PR can be approved",
			"Fix the failing tests and ensure the build is green",
		},
	}
}

// TestQualityPrompt adds the CI test summary to the diff prompt.
func TestQualityPrompt(input domain.ReviewContext) string {
	var b strings.Builder
	b.WriteString(DiffPrompt(input))
	b.WriteString("\n\nTest Summary:\n")
	ts := input.Request.TestSummary
	if ts == nil {
		// No CI report counts as a passing run with no tests.
		ts = &domain.TestSummary{Passed: true}
	}
	fmt.Fprintf(&b, "- Passed: %t\n- Total tests: %d\n- Failed tests: %d\n- Duration: %dms\n",
		ts.Passed, ts.TotalTests, ts.FailedTests, ts.DurationMs)
	return b.String()
}
