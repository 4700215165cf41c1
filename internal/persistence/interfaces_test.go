package persistence

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/demandcast/demandcast/internal/domain"
)

func weightSet(sum float64) *domain.WeightSet {
	return &domain.WeightSet{
		ID: "ws-1",
		Buckets: map[domain.HorizonBucket]map[string]float64{
			domain.Bucket1to7: {"seasonal_naive": sum / 2, "weekday_median": sum / 2},
		},
	}
}

func TestLoadToleranceAcceptsRoundTripDrift(t *testing.T) {
	// JSONB round trips can shave a little off the sum; 0.05 absorbs that.
	assert.NoError(t, weightSet(1.0).ValidateWeights(WeightSumTolerance))
	assert.NoError(t, weightSet(0.96).ValidateWeights(WeightSumTolerance))
	assert.NoError(t, weightSet(1.04).ValidateWeights(WeightSumTolerance))
}

func TestLoadToleranceRejectsCorruptWeights(t *testing.T) {
	assert.Error(t, weightSet(0.90).ValidateWeights(WeightSumTolerance))
	assert.Error(t, weightSet(1.20).ValidateWeights(WeightSumTolerance))
}
