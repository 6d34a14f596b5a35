// Package governance provides the analytic estimators behind the governance
// screens: change-risk classification, queueing-based capacity estimation,
// runtime version snapshots, and release gate evaluation. Everything here is
// a stateless pure function over caller-supplied inputs.
package governance

import (
	"errors"
	"sort"
	"strings"
)

// ErrInvalidInput marks estimator inputs that make the math undefined.
// Rejected before any side effect.
var ErrInvalidInput = errors.New("invalid input")

// RiskLevel represents the severity of a proposed change.
type RiskLevel int

const (
	RiskLevelLow RiskLevel = iota + 1
	RiskLevelMedium
	RiskLevelHigh
)

func (r RiskLevel) String() string {
	switch r {
	case RiskLevelLow:
		return "low"
	case RiskLevelMedium:
		return "medium"
	case RiskLevelHigh:
		return "high"
	default:
		return "unknown"
	}
}

// highRiskComponents are changes that can silently alter extraction output.
var highRiskComponents = map[string]struct{}{
	"model":            {},
	"model_version":    {},
	"template":         {},
	"template_version": {},
	"routing_order":    {},
	"critical_fields":  {},
	"schema":           {},
}

// mediumRiskComponents are changes with bounded, reviewable blast radius.
var mediumRiskComponents = map[string]struct{}{
	"prompt":            {},
	"prompt_version":    {},
	"routing_threshold": {},
	"policy":            {},
	"policy_version":    {},
	"validation_rules":  {},
	"decision_policy":   {},
}

// RiskAssessment is the result of classifying a change set.
type RiskAssessment struct {
	RiskLevel         string   `json:"risk_level"`
	ChangedComponents []string `json:"changed_components"`
}

// ClassifyChangeRisk maps a set of changed component identifiers to a
// qualitative risk level: the maximum severity over all components. Unknown
// components score medium rather than being silently ignored, so a typo in a
// change request can only over-estimate risk, never hide it. An empty set is
// low risk. Monotonic: adding components never lowers the level.
func ClassifyChangeRisk(changedComponents []string) RiskAssessment {
	normalized := make(map[string]struct{}, len(changedComponents))
	for _, c := range changedComponents {
		c = strings.ToLower(strings.TrimSpace(c))
		if c != "" {
			normalized[c] = struct{}{}
		}
	}

	level := RiskLevelLow
	for c := range normalized {
		var severity RiskLevel
		if _, high := highRiskComponents[c]; high {
			severity = RiskLevelHigh
		} else if _, medium := mediumRiskComponents[c]; medium {
			severity = RiskLevelMedium
		} else {
			// Unknown components score medium, never low: a typo in a change
			// request must not hide risk.
			severity = RiskLevelMedium
		}
		if severity > level {
			level = severity
		}
	}

	components := make([]string, 0, len(normalized))
	for c := range normalized {
		components = append(components, c)
	}
	sort.Strings(components)

	return RiskAssessment{
		RiskLevel:         level.String(),
		ChangedComponents: components,
	}
}
