package workflow

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xiaot623/gogo/prreview/internal/domain"
	"pgregory.net/rapid"
)

func results(recs ...domain.Recommendation) []domain.StepResult {
	out := make([]domain.StepResult, len(recs))
	for i, r := range recs {
		out[i] = domain.StepResult{StepName: "Step", RiskLevel: domain.RiskLevelLow, Recommendation: r, Findings: []string{}}
	}
	return out
}

func TestAggregateTotality(t *testing.T) {
	tests := []struct {
		in   []domain.Recommendation
		want domain.Recommendation
	}{
		{[]domain.Recommendation{domain.RecommendationApprove, domain.RecommendationApprove}, domain.RecommendationApprove},
		{[]domain.Recommendation{domain.RecommendationApprove, domain.RecommendationRequestChanges}, domain.RecommendationRequestChanges},
		{[]domain.Recommendation{domain.RecommendationRequestChanges, domain.RecommendationBlock, domain.RecommendationApprove}, domain.RecommendationBlock},
		{[]domain.Recommendation{domain.RecommendationBlock}, domain.RecommendationBlock},
	}
	for _, tt := range tests {
		got, err := Aggregate(results(tt.in...))
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "aggregate(%v)", tt.in)
	}
}

func TestAggregateInvalidInput(t *testing.T) {
	var invalid *domain.InvalidInputError

	_, err := Aggregate(nil)
	assert.True(t, errors.As(err, &invalid))

	_, err = Aggregate(results(domain.RecommendationApprove, "MERGE"))
	assert.True(t, errors.As(err, &invalid))
}

func genRecommendation() *rapid.Generator[domain.Recommendation] {
	return rapid.SampledFrom([]domain.Recommendation{
		domain.RecommendationApprove,
		domain.RecommendationRequestChanges,
		domain.RecommendationBlock,
	})
}

func TestAggregateBlockDominates(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		recs := rapid.SliceOf(genRecommendation()).Draw(t, "recs")
		pos := rapid.IntRange(0, len(recs)).Draw(t, "pos")
		recs = append(recs[:pos], append([]domain.Recommendation{domain.RecommendationBlock}, recs[pos:]...)...)

		got, err := Aggregate(results(recs...))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != domain.RecommendationBlock {
			t.Fatalf("aggregate(%v) = %s, want BLOCK", recs, got)
		}
	})
}

func TestAggregateIsOrderIndependent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		recs := rapid.SliceOfN(genRecommendation(), 1, 20).Draw(t, "recs")
		shuffled := rapid.Permutation(recs).Draw(t, "shuffled")

		a, err := Aggregate(results(recs...))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		b, err := Aggregate(results(shuffled...))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if a != b {
			t.Fatalf("aggregate(%v) = %s but aggregate(%v) = %s", recs, a, shuffled, b)
		}

		want := domain.RecommendationApprove
		for _, r := range recs {
			if r.Rank() > want.Rank() {
				want = r
			}
		}
		if a != want {
			t.Fatalf("aggregate(%v) = %s, want %s", recs, a, want)
		}
	})
}
