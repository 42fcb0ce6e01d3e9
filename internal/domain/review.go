package domain

import (
	"fmt"
	"strings"
	"time"
)

// TestSummary describes the CI test run attached to a review request.
type TestSummary struct {
	Passed      bool  `json:"passed"`
	TotalTests  int   `json:"totalTests"`
	FailedTests int   `json:"failedTests"`
	DurationMs  int64 `json:"durationMs"`
}

// ReviewRequest is the input of a review execution.
type ReviewRequest struct {
	PRNumber      *int         `json:"prNumber,omitempty"`
	PRTitle       string       `json:"prTitle"`
	PRDescription string       `json:"prDescription"`
	Author        string       `json:"author,omitempty"`
	Diff          string       `json:"diff"`
	TestSummary   *TestSummary `json:"testSummary,omitempty"`
}

// Validate checks that the request can start an execution.
func (r *ReviewRequest) Validate() error {
	if r == nil {
		return &ValidationError{Field: "request", Message: "request body is required"}
	}
	if strings.TrimSpace(r.PRTitle) == "" {
		return &ValidationError{Field: "prTitle", Message: "prTitle is required"}
	}
	if strings.TrimSpace(r.Diff) == "" {
		return &ValidationError{Field: "diff", Message: "diff is required"}
	}
	if r.PRNumber != nil && *r.PRNumber <= 0 {
		return &ValidationError{Field: "prNumber", Message: "prNumber must be positive"}
	}
	if ts := r.TestSummary; ts != nil {
		if ts.TotalTests < 0 || ts.FailedTests < 0 || ts.DurationMs < 0 {
			return &ValidationError{Field: "testSummary", Message: "test counts and duration must not be negative"}
		}
		if ts.FailedTests > ts.TotalTests {
			return &ValidationError{
				Field:   "testSummary",
				Message: fmt.Sprintf("failedTests (%d) exceeds totalTests (%d)", ts.FailedTests, ts.TotalTests),
			}
		}
	}
	return nil
}

// StepResult is the structured verdict of one analysis step.
type StepResult struct {
	StepName       string         `json:"stepName"`
	RiskLevel      RiskLevel      `json:"riskLevel"`
	Recommendation Recommendation `json:"recommendation"`
	Findings       []string       `json:"findings"`
}

// Validate checks the result against the fixed schema.
func (r *StepResult) Validate() error {
	if r.StepName == "" {
		return fmt.Errorf("stepName is required")
	}
	if !r.RiskLevel.Valid() {
		return fmt.Errorf("riskLevel %q is not one of LOW, MEDIUM, HIGH", r.RiskLevel)
	}
	if !r.Recommendation.Valid() {
		return fmt.Errorf("recommendation %q is not one of APPROVE, REQUEST_CHANGES, BLOCK", r.Recommendation)
	}
	if r.Findings == nil {
		return fmt.Errorf("findings must be present")
	}
	return nil
}

// ReviewContext is what a step adapter sees: the request plus the results of
// the steps that ran before it, in roster order.
type ReviewContext struct {
	ExecutionID string        `json:"executionId"`
	Request     ReviewRequest `json:"request"`
	Prior       []StepResult  `json:"prior,omitempty"`
}

// ResponseMetadata describes how a review response was produced.
type ResponseMetadata struct {
	GeneratedAt time.Time `json:"generatedAt"`
	TookMs      int64     `json:"tookMs"`
	Model       string    `json:"model"`
}

// ReviewResponse is the final output of a completed execution.
type ReviewResponse struct {
	OverallRecommendation Recommendation   `json:"overallRecommendation"`
	Agents                []StepResult     `json:"agents"`
	Metadata              ResponseMetadata `json:"metadata"`
	PRNumber              *int             `json:"prNumber,omitempty"`
	PRTitle               string           `json:"prTitle,omitempty"`
	Author                string           `json:"author,omitempty"`
}
