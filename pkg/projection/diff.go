package projection

import (
	"fmt"
	"strings"
)

// missingPlaceholder normalizes absent values so that "absent" on both sides
// never registers as changed.
const missingPlaceholder = "-"

// FieldDiff is one row of a field-level run comparison.
type FieldDiff struct {
	Field   string `json:"field"`
	Left    string `json:"left_value"`
	Right   string `json:"right_value"`
	Changed bool   `json:"changed"`
}

// Diff compares two projected run states over a fixed field list: status,
// review decision, joined reason codes, the extracted vendor/invoice/total/tax
// fields, model name, and route name. Pure and order-preserving.
func Diff(left, right *RunState) []FieldDiff {
	rows := []FieldDiff{
		row("status", string(left.Status), string(right.Status)),
		row("review_decision", left.ReviewDecision, right.ReviewDecision),
		row("review_reason_codes", strings.Join(left.ReviewReasonCodes, ", "), strings.Join(right.ReviewReasonCodes, ", ")),
		row("vendor_name", resultField(left, "vendor_name"), resultField(right, "vendor_name")),
		row("invoice_no", resultField(left, "invoice_no"), resultField(right, "invoice_no")),
		row("total", resultField(left, "total"), resultField(right, "total")),
		row("tax", resultField(left, "tax"), resultField(right, "tax")),
		row("model_name", left.ModelName, right.ModelName),
		row("route_name", left.RouteName, right.RouteName),
	}
	return rows
}

func row(field, left, right string) FieldDiff {
	l := normalize(left)
	r := normalize(right)
	return FieldDiff{Field: field, Left: l, Right: r, Changed: l != r}
}

func normalize(v string) string {
	if v == "" {
		return missingPlaceholder
	}
	return v
}

func resultField(state *RunState, key string) string {
	if state.Result == nil {
		return ""
	}
	v, ok := state.Result[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		// Trim the float64 that JSON decoding produces for whole numbers.
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	default:
		return fmt.Sprintf("%v", t)
	}
}
