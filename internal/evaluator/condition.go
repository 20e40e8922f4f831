// Package evaluator implements condition matching and clinical
// interpretation resolution for observation values against qualified-range
// rules.
package evaluator

import (
	"github.com/emr-interpretation-server/internal/domain"
	"github.com/emr-interpretation-server/internal/metric"
)

// MetricCache holds bound metric instances for one evaluation session (one
// observation plus its components). It is not synchronized: a cache belongs
// to a single logical request and must never be shared across concurrent
// evaluations. Reusing a cache with a different context object is a caller
// error.
type MetricCache map[string]metric.BoundMetric

// NewMetricCache creates an empty metric cache.
func NewMetricCache() MetricCache {
	return MetricCache{}
}

// ValidateCondition resolves the condition's metric in the registry and
// validates the operation and payload. Intended to run at
// configuration-save time so broken conditions never reach evaluation.
func ValidateCondition(registry *metric.Registry, condition domain.Condition) error {
	m, err := registry.Get(condition.Metric)
	if err != nil {
		return err
	}
	return m.ValidateRule(condition.Operation, condition.Value)
}

// evaluateConditions reports whether any condition matches the context.
// Conditions are OR-combined with short-circuit in list order; an empty
// condition list matches unconditionally, which is how default rules are
// expressed. Bound metrics are resolved through the cache so the context
// extraction runs once per session.
func evaluateConditions(registry *metric.Registry, conditions []domain.Condition, evalCtx domain.EvaluationContext, cache MetricCache) (bool, error) {
	if len(conditions) == 0 {
		return true, nil
	}
	for _, condition := range conditions {
		bound, ok := cache[condition.Metric]
		if !ok {
			m, err := registry.Get(condition.Metric)
			if err != nil {
				return false, err
			}
			bound = m.Bind(evalCtx[m.Context()])
			cache[condition.Metric] = bound
		}
		matched, err := bound.ApplyRule(condition.Operation, condition.Value)
		if err != nil {
			return false, err
		}
		if matched {
			return true, nil
		}
	}
	return false, nil
}
