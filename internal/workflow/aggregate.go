package workflow

import (
	"fmt"

	"github.com/xiaot623/gogo/prreview/internal/domain"
)

// Aggregate merges step verdicts into one recommendation. Precedence is
// BLOCK > REQUEST_CHANGES > APPROVE; order and counts do not matter.
func Aggregate(results []domain.StepResult) (domain.Recommendation, error) {
	if len(results) == 0 {
		return "", &domain.InvalidInputError{Reason: "no step results"}
	}

	overall := domain.RecommendationApprove
	for _, r := range results {
		if !r.Recommendation.Valid() {
			return "", &domain.InvalidInputError{
				Reason: fmt.Sprintf("step %s has unknown recommendation %q", r.StepName, r.Recommendation),
			}
		}
		if r.Recommendation.Rank() > overall.Rank() {
			overall = r.Recommendation
		}
	}
	return overall, nil
}
