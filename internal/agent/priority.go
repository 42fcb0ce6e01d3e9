package agent

import (
	"fmt"
	"strings"

	"github.com/xiaot623/gogo/prreview/internal/domain"
)

// PriorityPrompt renders the findings of every earlier step for
// consolidation.
func PriorityPrompt(input domain.ReviewContext) string {
	r := input.Request
	var b strings.Builder
	fmt.Fprintf(&b, "PR Title: %s\n\nPR Description: %s\n\n", r.PRTitle, r.PRDescription)
	b.WriteString("=== FINDINGS FROM OTHER REVIEWERS ===\n\n")
	if len(input.Prior) == 0 {
		b.WriteString("No findings were reported.\n")
	}
	for _, res := range input.Prior {
		fmt.Fprintf(&b, "[%s] Risk: %s, Recommendation: %s\n", res.StepName, res.RiskLevel, res.Recommendation)
		for _, f := range res.Findings {
			fmt.Fprintf(&b, "  - %s\n", f)
		}
		b.WriteString("\n")
	}
	b.WriteString("Consolidate and prioritize the findings above.")
	return b.String()
}
