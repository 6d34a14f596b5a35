package governance

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEstimateCapacity(t *testing.T) {
	stages := []StageInput{
		{Stage: "ocr", ServiceTimeMS: 500, Concurrency: 2},
		{Stage: "extract", ServiceTimeMS: 700, Concurrency: 1},
		{Stage: "postprocess", ServiceTimeMS: 90, Concurrency: 4},
	}

	got, err := EstimateCapacity(stages, 0.7, nil)
	require.NoError(t, err)

	require.Len(t, got.StageCapacities, 3)
	require.InDelta(t, 4.0, got.StageCapacities[0].CapacityDocsPerSec, 1e-9)
	require.InDelta(t, 1.0/0.7, got.StageCapacities[1].CapacityDocsPerSec, 1e-9)
	require.InDelta(t, 4.0/0.09, got.StageCapacities[2].CapacityDocsPerSec, 1e-9)

	require.Equal(t, "extract", got.BottleneckStage)
	require.InDelta(t, 1.0/0.7, got.CapacitySystemDocsPerSec, 1e-9)
	require.InDelta(t, (1.0/0.7)*0.7, got.RecommendedPeakLambda, 1e-9)
	require.Zero(t, got.CostPerDoc)
}

func TestEstimateCapacityInvalidInput(t *testing.T) {
	t.Run("no stages", func(t *testing.T) {
		_, err := EstimateCapacity(nil, 0.7, nil)
		require.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("zero concurrency", func(t *testing.T) {
		_, err := EstimateCapacity([]StageInput{
			{Stage: "ocr", ServiceTimeMS: 500, Concurrency: 0},
		}, 0.7, nil)
		require.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("negative service time", func(t *testing.T) {
		_, err := EstimateCapacity([]StageInput{
			{Stage: "ocr", ServiceTimeMS: -1, Concurrency: 2},
		}, 0.7, nil)
		require.ErrorIs(t, err, ErrInvalidInput)
	})
}

func TestEstimateCapacityUtilizationFallback(t *testing.T) {
	stages := []StageInput{{Stage: "ocr", ServiceTimeMS: 1000, Concurrency: 1}}

	got, err := EstimateCapacity(stages, 0, nil)
	require.NoError(t, err)
	require.InDelta(t, DefaultUtilizationTarget, got.RecommendedPeakLambda, 1e-9)

	got, err = EstimateCapacity(stages, 1.5, nil)
	require.NoError(t, err)
	require.InDelta(t, DefaultUtilizationTarget, got.RecommendedPeakLambda, 1e-9)
}

func TestEstimateCostPerDoc(t *testing.T) {
	in := CostInputs{
		InfraCostPerHour:    3.6,
		GPUSecondsPerDoc:    2,
		CPUSecondsPerDoc:    1,
		StorageCostPerDoc:   0.01,
		ReviewRatio:         0.2,
		ReviewMinutesPerDoc: 3,
		ReviewerCostPerHour: 30,
	}

	got := EstimateCostPerDoc(in)
	require.InDelta(t, 0.003, got.InfraCostPerDoc, 1e-9)
	require.InDelta(t, 0.01, got.StorageCostPerDoc, 1e-9)
	require.InDelta(t, 0.3, got.ReviewCostPerDoc, 1e-9)
	require.InDelta(t, 0.313, got.CostPerDoc, 1e-9)
}

func TestEstimateCostReviewRatioClamped(t *testing.T) {
	in := CostInputs{ReviewRatio: 2.5, ReviewMinutesPerDoc: 6, ReviewerCostPerHour: 60}
	require.InDelta(t, 6.0, EstimateCostPerDoc(in).ReviewCostPerDoc, 1e-9)

	in.ReviewRatio = -1
	require.Zero(t, EstimateCostPerDoc(in).ReviewCostPerDoc)
}

func TestEstimateCapacityWithCostInputs(t *testing.T) {
	stages := []StageInput{{Stage: "ocr", ServiceTimeMS: 100, Concurrency: 1}}
	cost := &CostInputs{StorageCostPerDoc: 0.05}

	got, err := EstimateCapacity(stages, 0.7, cost)
	require.NoError(t, err)
	require.InDelta(t, 0.05, got.CostPerDoc, 1e-9)
}
