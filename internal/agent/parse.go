package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xiaot623/gogo/prreview/internal/domain"
)

type rawResult struct {
	StepName       string    `json:"stepName"`
	RiskLevel      *string   `json:"riskLevel"`
	Recommendation *string   `json:"recommendation"`
	Findings       *[]string `json:"findings"`
}

// ParseResult decodes an LLM answer into a StepResult for step. Text that
// is not JSON is reported as a retryable malformed response; JSON that does
// not match the result schema is a terminal schema violation. Enum values
// must match exactly.
func ParseResult(step, content string) (domain.StepResult, error) {
	body := stripFence(content)
	if !json.Valid([]byte(body)) {
		return domain.StepResult{}, domain.NewRetryableError(domain.StepErrorMalformedResponse,
			fmt.Sprintf("%s answer is not valid JSON", step), nil)
	}

	var raw rawResult
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return domain.StepResult{}, domain.NewTerminalError(domain.StepErrorSchemaViolation,
			fmt.Sprintf("%s answer does not match the result schema", step), err)
	}

	switch {
	case raw.RiskLevel == nil:
		return domain.StepResult{}, schemaViolation(step, "riskLevel is missing")
	case raw.Recommendation == nil:
		return domain.StepResult{}, schemaViolation(step, "recommendation is missing")
	case raw.Findings == nil || *raw.Findings == nil:
		return domain.StepResult{}, schemaViolation(step, "findings is missing")
	}

	result := domain.StepResult{
		StepName:       step,
		RiskLevel:      domain.RiskLevel(*raw.RiskLevel),
		Recommendation: domain.Recommendation(*raw.Recommendation),
		Findings:       *raw.Findings,
	}
	if err := result.Validate(); err != nil {
		return domain.StepResult{}, schemaViolation(step, err.Error())
	}
	return result, nil
}

func schemaViolation(step, msg string) *domain.StepError {
	return domain.NewTerminalError(domain.StepErrorSchemaViolation, fmt.Sprintf("%s answer: %s", step, msg), nil)
}

// stripFence removes a surrounding markdown code fence.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
