package governance

import (
	"fmt"
	"math"
)

// StageInput describes one pipeline stage for capacity estimation.
type StageInput struct {
	Stage         string  `json:"stage"`
	ServiceTimeMS float64 `json:"service_time_ms"`
	Concurrency   float64 `json:"concurrency"`
}

// StageCapacity is the per-stage throughput bound derived from StageInput.
type StageCapacity struct {
	Stage              string  `json:"stage"`
	ServiceTimeMS      float64 `json:"service_time_ms"`
	Concurrency        float64 `json:"concurrency"`
	CapacityDocsPerSec float64 `json:"capacity_docs_per_sec"`
}

// CostInputs feeds the per-document cost model. All rates are in the same
// currency unit; ReviewRatio is clamped to [0, 1].
type CostInputs struct {
	InfraCostPerHour    float64 `json:"infra_cost_per_hour"`
	GPUSecondsPerDoc    float64 `json:"gpu_seconds_per_doc"`
	CPUSecondsPerDoc    float64 `json:"cpu_seconds_per_doc"`
	StorageCostPerDoc   float64 `json:"storage_cost_per_doc"`
	ReviewRatio         float64 `json:"review_ratio"`
	ReviewMinutesPerDoc float64 `json:"review_minutes_per_doc"`
	ReviewerCostPerHour float64 `json:"reviewer_cost_per_hour"`
}

// CostBreakdown itemizes the per-document cost estimate.
type CostBreakdown struct {
	InfraCostPerDoc   float64 `json:"infra_cost_per_doc"`
	StorageCostPerDoc float64 `json:"storage_cost_per_doc"`
	ReviewCostPerDoc  float64 `json:"review_cost_per_doc"`
	CostPerDoc        float64 `json:"cost_per_doc"`
}

// CapacityEstimate is the system-level throughput estimate. CostPerDoc is
// zero when no cost inputs were supplied; the estimate never fails for lack
// of cost data.
type CapacityEstimate struct {
	CapacitySystemDocsPerSec float64         `json:"capacity_system_docs_per_sec"`
	RecommendedPeakLambda    float64         `json:"recommended_peak_lambda"`
	BottleneckStage          string          `json:"bottleneck_stage"`
	StageCapacities          []StageCapacity `json:"stage_capacities"`
	CostPerDoc               float64         `json:"cost_per_doc"`
}

// DefaultUtilizationTarget keeps recommended arrival rate below the service
// rate bound so queue depth stays finite under bursty load.
const DefaultUtilizationTarget = 0.7

// EstimateCapacity computes an M/M/c-style service-rate bound per stage,
// capacity = concurrency / (service_time_ms / 1000), takes the minimum as the
// system capacity (the bottleneck stage governs throughput), and scales it by
// utilizationTarget to produce a recommended peak arrival rate. A target
// outside (0, 1] falls back to DefaultUtilizationTarget. cost may be nil.
//
// Returns ErrInvalidInput when stages is empty or any stage has
// concurrency <= 0 or service_time_ms <= 0, since those make the service-rate
// formula undefined.
func EstimateCapacity(stages []StageInput, utilizationTarget float64, cost *CostInputs) (CapacityEstimate, error) {
	if len(stages) == 0 {
		return CapacityEstimate{}, fmt.Errorf("%w: no stages provided", ErrInvalidInput)
	}
	if utilizationTarget <= 0 || utilizationTarget > 1 {
		utilizationTarget = DefaultUtilizationTarget
	}

	capacities := make([]StageCapacity, 0, len(stages))
	systemCapacity := math.Inf(1)
	bottleneck := ""
	for i, stage := range stages {
		if stage.Concurrency <= 0 {
			return CapacityEstimate{}, fmt.Errorf("%w: stage %q (index %d) has concurrency %v",
				ErrInvalidInput, stage.Stage, i, stage.Concurrency)
		}
		if stage.ServiceTimeMS <= 0 {
			return CapacityEstimate{}, fmt.Errorf("%w: stage %q (index %d) has service_time_ms %v",
				ErrInvalidInput, stage.Stage, i, stage.ServiceTimeMS)
		}
		capacity := stage.Concurrency / (stage.ServiceTimeMS / 1000.0)
		capacities = append(capacities, StageCapacity{
			Stage:              stage.Stage,
			ServiceTimeMS:      stage.ServiceTimeMS,
			Concurrency:        stage.Concurrency,
			CapacityDocsPerSec: capacity,
		})
		if capacity < systemCapacity {
			systemCapacity = capacity
			bottleneck = stage.Stage
		}
	}

	estimate := CapacityEstimate{
		CapacitySystemDocsPerSec: systemCapacity,
		RecommendedPeakLambda:    systemCapacity * utilizationTarget,
		BottleneckStage:          bottleneck,
		StageCapacities:          capacities,
	}
	if cost != nil {
		estimate.CostPerDoc = EstimateCostPerDoc(*cost).CostPerDoc
	}
	return estimate, nil
}

// EstimateCostPerDoc evaluates the per-document cost model: amortized infra
// time, flat storage, and expected human review cost weighted by the share of
// documents that reach review.
func EstimateCostPerDoc(in CostInputs) CostBreakdown {
	infraPerSecond := in.InfraCostPerHour / 3600.0
	infraCost := infraPerSecond * (in.GPUSecondsPerDoc + in.CPUSecondsPerDoc)

	reviewRatio := math.Max(0, math.Min(1, in.ReviewRatio))
	reviewCost := (in.ReviewMinutesPerDoc / 60.0) * in.ReviewerCostPerHour * reviewRatio

	return CostBreakdown{
		InfraCostPerDoc:   infraCost,
		StorageCostPerDoc: in.StorageCostPerDoc,
		ReviewCostPerDoc:  reviewCost,
		CostPerDoc:        infraCost + in.StorageCostPerDoc + reviewCost,
	}
}
