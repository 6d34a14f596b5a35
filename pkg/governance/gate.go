package governance

import (
	"fmt"
	"sort"

	"github.com/Masterminds/semver/v3"
)

// GateTolerance bounds the allowed quality drift between a baseline and a
// candidate release.
type GateTolerance struct {
	DocPassRateDrop            float64 `json:"doc_pass_rate_drop"`
	CriticalErrorRateIncrease  float64 `json:"critical_error_rate_increase"`
	CriticalFalseAcceptCeiling float64 `json:"critical_false_accept_ceiling"`
}

// DefaultGateTolerance matches the operational defaults: half a percent pass
// rate drop, 0.2% critical error growth, and a hard false-accept ceiling.
var DefaultGateTolerance = GateTolerance{
	DocPassRateDrop:            0.005,
	CriticalErrorRateIncrease:  0.002,
	CriticalFalseAcceptCeiling: 0.001,
}

// QualityMetrics are the evaluation-set rates a release gate compares.
type QualityMetrics struct {
	DocPassRate             float64 `json:"doc_pass_rate"`
	DocCriticalErrorRate    float64 `json:"doc_critical_error_rate"`
	CriticalFalseAcceptRate float64 `json:"critical_false_accept_rate"`
}

// GateResult reports the per-check outcome of a release gate evaluation.
// Passed is true only when every check holds.
type GateResult struct {
	Passed    bool            `json:"passed"`
	Checks    map[string]bool `json:"checks"`
	Tolerance GateTolerance   `json:"tolerance"`
}

// EvaluateReleaseGate compares candidate metrics against a baseline under the
// given tolerance. A zero-valued tolerance falls back to
// DefaultGateTolerance. The three checks guard pass rate regression, critical
// error growth, and the absolute false-accept ceiling.
func EvaluateReleaseGate(candidate, baseline QualityMetrics, tol GateTolerance) GateResult {
	if tol == (GateTolerance{}) {
		tol = DefaultGateTolerance
	}
	checks := map[string]bool{
		"doc_pass_rate_guard":         candidate.DocPassRate >= baseline.DocPassRate-tol.DocPassRateDrop,
		"critical_error_guard":        candidate.DocCriticalErrorRate <= baseline.DocCriticalErrorRate+tol.CriticalErrorRateIncrease,
		"critical_false_accept_guard": candidate.CriticalFalseAcceptRate <= tol.CriticalFalseAcceptCeiling,
	}
	passed := true
	for _, ok := range checks {
		passed = passed && ok
	}
	return GateResult{Passed: passed, Checks: checks, Tolerance: tol}
}

// CheckVersionRegression compares candidate component versions against the
// baseline snapshot and reports any component whose version parses as semver
// and moved backwards. Components absent from either map, or with
// non-semver version strings, are skipped; version ordering only applies
// where both sides opted into semantic versioning.
func CheckVersionRegression(baseline, candidate map[string]string) []string {
	var regressed []string
	for component, baseVersion := range baseline {
		candVersion, ok := candidate[component]
		if !ok {
			continue
		}
		base, err := semver.NewVersion(baseVersion)
		if err != nil {
			continue
		}
		cand, err := semver.NewVersion(candVersion)
		if err != nil {
			continue
		}
		if cand.LessThan(base) {
			regressed = append(regressed, fmt.Sprintf("%s: %s -> %s", component, base, cand))
		}
	}
	sort.Strings(regressed)
	return regressed
}
