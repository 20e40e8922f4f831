package domain

import "encoding/json"

// Condition is one (metric, operation, value) triple tested against an
// evaluation context. Conditions within a rule are OR-combined.
type Condition struct {
	Metric    string          `json:"metric"`
	Operation Operation       `json:"operation"`
	Value     json.RawMessage `json:"value"`
}

// RangeSpec is a closed numeric interval mapped to an interpretation label.
// A missing bound defaults to -Inf/+Inf; at least one bound must be present.
type RangeSpec struct {
	Min            *float64 `json:"min,omitempty"`
	Max            *float64 `json:"max,omitempty"`
	Interpretation string   `json:"interpretation"`
}

// ValuesetInterpretation maps membership of a coding in a value set to a
// custom interpretation label.
type ValuesetInterpretation struct {
	ValueSet       string `json:"valueset"`
	Interpretation string `json:"interpretation"`
}

// Rule is one entry of an observation definition's qualified ranges. A rule
// is either range-based or valueset-based, never both; the first rule whose
// conditions match the context is the one resolved against.
type Rule struct {
	Conditions              []Condition              `json:"conditions,omitempty"`
	Ranges                  []RangeSpec              `json:"ranges,omitempty"`
	NormalCodedValueSet     string                   `json:"normal_coded_value_set,omitempty"`
	CriticalCodedValueSet   string                   `json:"critical_coded_value_set,omitempty"`
	AbnormalCodedValueSet   string                   `json:"abnormal_coded_value_set,omitempty"`
	ValuesetInterpretations []ValuesetInterpretation `json:"valueset_interpretation,omitempty"`
}

// IsRangeBased reports whether the rule resolves through numeric ranges.
func (r *Rule) IsRangeBased() bool {
	return len(r.Ranges) > 0
}

// IsValuesetBased reports whether the rule resolves through coded value sets.
func (r *Rule) IsValuesetBased() bool {
	return r.NormalCodedValueSet != "" ||
		r.CriticalCodedValueSet != "" ||
		r.AbnormalCodedValueSet != "" ||
		len(r.ValuesetInterpretations) > 0
}

// EqualityPayload is the decoded condition value for the equality operation.
// The rule author supplies either a bare scalar or {"value": ...}; metrics
// with unit-sensitive values also read value_type.
type EqualityPayload struct {
	Value     any     `json:"value"`
	ValueType AgeUnit `json:"value_type,omitempty"`
}

// RangePayload is the decoded condition value for the in_range operation.
type RangePayload struct {
	Min       float64 `json:"min"`
	Max       float64 `json:"max"`
	ValueType AgeUnit `json:"value_type,omitempty"`
}

// IntersectsAnyPayload is the decoded condition value for the
// intersects_any operation.
type IntersectsAnyPayload struct {
	Values []any `json:"values"`
}
