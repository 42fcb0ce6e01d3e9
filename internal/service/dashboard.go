package service

import (
	"context"
	"fmt"
	"math"

	"github.com/xiaot623/gogo/prreview/internal/domain"
)

// hoursSavedPerReview assumes a 30 minute manual review replaced by a
// 3 minute automated one.
const hoursSavedPerReview = 0.45

// Dashboard summarizes completed reviews.
type Dashboard struct {
	PRsAnalyzed            int                           `json:"prsAnalyzed"`
	AvgAnalysisTimeMinutes float64                       `json:"avgAnalysisTimeMinutes"`
	AutoApprovedPct        float64                       `json:"autoApprovedPct"`
	EngineeringHoursSaved  float64                       `json:"engineeringHoursSaved"`
	Recommendations        map[domain.Recommendation]int `json:"recommendations"`
}

// Dashboard computes review statistics from every completed execution.
func (s *Service) Dashboard(ctx context.Context) (*Dashboard, error) {
	responses, err := s.store.ListCompletedResponses(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list completed reviews: %w", err)
	}
	return Summarize(responses), nil
}

// Summarize computes dashboard statistics over responses.
func Summarize(responses []domain.ReviewResponse) *Dashboard {
	d := &Dashboard{
		Recommendations: map[domain.Recommendation]int{
			domain.RecommendationApprove:        0,
			domain.RecommendationRequestChanges: 0,
			domain.RecommendationBlock:          0,
		},
	}
	if len(responses) == 0 {
		return d
	}

	var totalMs int64
	for _, r := range responses {
		totalMs += r.Metadata.TookMs
		d.Recommendations[r.OverallRecommendation]++
	}
	n := float64(len(responses))
	d.PRsAnalyzed = len(responses)
	d.AvgAnalysisTimeMinutes = round1(float64(totalMs) / n / 60000)
	d.AutoApprovedPct = math.Round(float64(d.Recommendations[domain.RecommendationApprove]) / n * 100)
	d.EngineeringHoursSaved = math.Round(n * hoursSavedPerReview)
	return d
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
