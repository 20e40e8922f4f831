// Package metric provides pluggable evaluation metrics: named value
// extractors bound to a domain context object (patient, encounter) that
// evaluate rule operations against the extracted value. Metrics register
// once at startup; a bound instance is constructed per evaluation session
// and is safe to reuse across rule evaluations within that session.
package metric

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/emr-interpretation-server/internal/domain"
)

// Metric is a stateless metric definition. Implementations register with a
// Registry at process startup and are never mutated afterwards.
type Metric interface {
	// Name is the unique identifier used in rule condition specs.
	Name() string
	// Context identifies which domain object this metric reads from.
	Context() domain.EvaluatorContext
	// AllowedOperations lists the operations this metric supports.
	AllowedOperations() []domain.Operation
	// ValidateRule checks an operation and its payload at rule-authoring
	// time. Unknown operations and malformed payloads are rejected with
	// *domain.InvalidOperationError.
	ValidateRule(op domain.Operation, value json.RawMessage) error
	// Bind constructs a metric instance bound to one context object. The
	// bound instance caches its computed value and may be reused across
	// multiple rule evaluations for the same context object.
	Bind(contextObject any) BoundMetric
}

// BoundMetric is a metric instance bound to a single context object.
type BoundMetric interface {
	// Value computes and returns the metric's value. Pure; computed once
	// and memoized by implementations where extraction is expensive.
	Value() any
	// ApplyRule evaluates the operation against the bound value. A nil
	// context object yields (false, nil): an absent context cannot match,
	// it is not an error.
	ApplyRule(op domain.Operation, payload json.RawMessage) (bool, error)
}

// Descriptor is the API-facing description of a registered metric.
type Descriptor struct {
	Name              string                  `json:"name"`
	Context           domain.EvaluatorContext `json:"context"`
	AllowedOperations []domain.Operation      `json:"allowed_operations"`
}

// Describe builds a Descriptor for a metric.
func Describe(m Metric) Descriptor {
	return Descriptor{
		Name:              m.Name(),
		Context:           m.Context(),
		AllowedOperations: m.AllowedOperations(),
	}
}

// supportsOperation reports whether op is in the metric's allowed set.
func supportsOperation(m Metric, op domain.Operation) bool {
	for _, allowed := range m.AllowedOperations() {
		if allowed == op {
			return true
		}
	}
	return false
}

// invalidOp builds the error for an unsupported or malformed operation.
func invalidOp(m Metric, op domain.Operation, reason string) error {
	return &domain.InvalidOperationError{Metric: m.Name(), Operation: op, Reason: reason}
}

// decodeEquality decodes an equality payload, accepting either a bare JSON
// scalar or an {"value": ..., "value_type": ...} object.
func decodeEquality(raw json.RawMessage) (domain.EqualityPayload, error) {
	var payload domain.EqualityPayload
	if err := json.Unmarshal(raw, &payload); err == nil && payload.Value != nil {
		return payload, nil
	}
	var scalar any
	if err := json.Unmarshal(raw, &scalar); err != nil {
		return payload, fmt.Errorf("decoding equality payload: %w", err)
	}
	payload.Value = scalar
	return payload, nil
}

// decodeRange decodes an in_range payload. Both bounds are required for
// condition payloads; open-ended intervals exist only in reference ranges.
func decodeRange(raw json.RawMessage) (domain.RangePayload, error) {
	var probe struct {
		Min       *float64       `json:"min"`
		Max       *float64       `json:"max"`
		ValueType domain.AgeUnit `json:"value_type"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return domain.RangePayload{}, fmt.Errorf("decoding in_range payload: %w", err)
	}
	if probe.Min == nil || probe.Max == nil {
		return domain.RangePayload{}, fmt.Errorf("in_range payload requires min and max")
	}
	return domain.RangePayload{Min: *probe.Min, Max: *probe.Max, ValueType: probe.ValueType}, nil
}

// decodeIntersectsAny decodes an intersects_any payload.
func decodeIntersectsAny(raw json.RawMessage) (domain.IntersectsAnyPayload, error) {
	var payload domain.IntersectsAnyPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return payload, fmt.Errorf("decoding intersects_any payload: %w", err)
	}
	if payload.Values == nil {
		return payload, fmt.Errorf("intersects_any payload requires values")
	}
	return payload, nil
}

// containsValue reports whether value appears as an element of values.
// This is element membership, not set intersection: a list-valued metric
// matches only when the whole list is an element of values.
func containsValue(value any, values []any) bool {
	for _, candidate := range values {
		if reflect.DeepEqual(value, candidate) {
			return true
		}
	}
	return false
}
