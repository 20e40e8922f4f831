package evaluator

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"github.com/emr-interpretation-server/internal/domain"
	"github.com/emr-interpretation-server/internal/metric"
)

// ValueSetLookup answers whether a coding belongs to a named value set.
// Implemented by the terminology service; the evaluator treats it as a
// blocking collaborator call.
type ValueSetLookup interface {
	Lookup(ctx context.Context, slug string, coding domain.Coding) (bool, error)
}

// InterpretationEvaluator resolves a clinical interpretation for an
// observation value from an ordered rule list. Rule selection is first
// match wins; resolution goes through numeric ranges or coded value sets
// depending on the rule. A single evaluator is scoped to one rule list; the
// metric cache may be shared across evaluators of the same session by
// constructing with WithMetricCache.
type InterpretationEvaluator struct {
	rules     []domain.Rule
	registry  *metric.Registry
	valuesets ValueSetLookup
	cache     MetricCache
}

// New creates an evaluator over an ordered rule list.
func New(rules []domain.Rule, registry *metric.Registry, valuesets ValueSetLookup) *InterpretationEvaluator {
	return &InterpretationEvaluator{
		rules:     rules,
		registry:  registry,
		valuesets: valuesets,
		cache:     NewMetricCache(),
	}
}

// WithMetricCache creates an evaluator sharing an existing metric cache.
// Used when evaluating the components of an observation so patient and
// encounter metrics are bound once for the whole session.
func WithMetricCache(rules []domain.Rule, registry *metric.Registry, valuesets ValueSetLookup, cache MetricCache) *InterpretationEvaluator {
	e := New(rules, registry, valuesets)
	if cache != nil {
		e.cache = cache
	}
	return e
}

// MetricCache returns the evaluator's metric cache for reuse by sibling
// evaluations of the same session.
func (e *InterpretationEvaluator) MetricCache() MetricCache {
	return e.cache
}

// Evaluate selects the first rule whose conditions match the context and
// resolves the interpretation for the value. An empty interpretation with
// empty ranges means no rule or no range/value set matched; that is not an
// error. Errors indicate structural rule misconfiguration or a value shape
// incompatible with the matched rule's branch.
func (e *InterpretationEvaluator) Evaluate(ctx context.Context, evalCtx domain.EvaluationContext, value *domain.ObservationValue) (string, []domain.RangeSpec, error) {
	rule, err := e.matchRule(evalCtx)
	if err != nil {
		return "", nil, err
	}
	if rule == nil {
		return "", []domain.RangeSpec{}, nil
	}
	return e.resolve(ctx, rule, value)
}

// matchRule returns the first rule whose condition set matches, nil when
// none do.
func (e *InterpretationEvaluator) matchRule(evalCtx domain.EvaluationContext) (*domain.Rule, error) {
	for i := range e.rules {
		matched, err := evaluateConditions(e.registry, e.rules[i].Conditions, evalCtx, e.cache)
		if err != nil {
			return nil, err
		}
		if matched {
			return &e.rules[i], nil
		}
	}
	return nil, nil
}

// resolve computes the interpretation for a matched rule.
func (e *InterpretationEvaluator) resolve(ctx context.Context, rule *domain.Rule, value *domain.ObservationValue) (string, []domain.RangeSpec, error) {
	if rule.IsRangeBased() {
		return e.resolveRanges(rule, value)
	}
	return e.resolveValuesets(ctx, rule, value)
}

// resolveRanges walks the rule's ranges in order and returns the first
// containing interval. Missing bounds default to -Inf/+Inf; a range with
// neither bound is corrupt configuration and fails hard. Values that carry
// no usable number resolve to no interpretation, not an error.
func (e *InterpretationEvaluator) resolveRanges(rule *domain.Rule, value *domain.ObservationValue) (string, []domain.RangeSpec, error) {
	if value == nil {
		return "", []domain.RangeSpec{}, nil
	}
	if value.Coding != nil {
		return "", nil, &domain.UnsupportedCodingError{}
	}

	var numeric float64
	switch {
	case value.Quantity != nil:
		numeric = *value.Quantity
	case value.Value != nil:
		parsed, err := strconv.ParseFloat(*value.Value, 64)
		if err != nil {
			return "", []domain.RangeSpec{}, nil
		}
		numeric = parsed
	default:
		return "", []domain.RangeSpec{}, nil
	}

	for _, spec := range rule.Ranges {
		if spec.Min == nil && spec.Max == nil {
			return "", nil, &domain.InvalidRangeError{Interpretation: spec.Interpretation}
		}
		min := math.Inf(-1)
		if spec.Min != nil {
			min = *spec.Min
		}
		max := math.Inf(1)
		if spec.Max != nil {
			max = *spec.Max
		}
		if numeric >= min && numeric <= max {
			return spec.Interpretation, rule.Ranges, nil
		}
	}
	return "", []domain.RangeSpec{}, nil
}

// resolveValuesets checks the fixed coded value sets in priority order
// (normal, critical, abnormal) and then each valueset_interpretation entry
// in list order. The first membership hit wins.
func (e *InterpretationEvaluator) resolveValuesets(ctx context.Context, rule *domain.Rule, value *domain.ObservationValue) (string, []domain.RangeSpec, error) {
	if value == nil || value.Coding == nil {
		return "", nil, &domain.MissingCodingError{}
	}
	coding := *value.Coding

	checks := []struct {
		slug           string
		interpretation string
	}{
		{rule.NormalCodedValueSet, domain.NormalInterpretation},
		{rule.CriticalCodedValueSet, domain.CriticalInterpretation},
		{rule.AbnormalCodedValueSet, domain.AbnormalInterpretation},
	}
	for _, entry := range rule.ValuesetInterpretations {
		if entry.ValueSet == "" {
			continue
		}
		checks = append(checks, struct {
			slug           string
			interpretation string
		}{entry.ValueSet, entry.Interpretation})
	}

	for _, check := range checks {
		if check.slug == "" {
			continue
		}
		member, err := e.valuesets.Lookup(ctx, check.slug, coding)
		if err != nil {
			return "", nil, fmt.Errorf("valueset lookup %q: %w", check.slug, err)
		}
		if member {
			return check.interpretation, []domain.RangeSpec{}, nil
		}
	}
	return "", []domain.RangeSpec{}, nil
}

// ValidateRules validates a qualified-ranges rule list at configuration-save
// time: every condition must resolve and validate against the registry,
// every range spec must carry at least one bound, and each rule must be
// range-based or valueset-based, not both or neither.
func ValidateRules(registry *metric.Registry, rules []domain.Rule) error {
	for i, rule := range rules {
		rangeBased := rule.IsRangeBased()
		valuesetBased := rule.IsValuesetBased()
		if rangeBased && valuesetBased {
			return &domain.RuleValidationError{Index: i, Reason: "rule mixes ranges and coded value sets"}
		}
		if !rangeBased && !valuesetBased {
			return &domain.RuleValidationError{Index: i, Reason: "rule has neither ranges nor coded value sets"}
		}
		for _, spec := range rule.Ranges {
			if spec.Min == nil && spec.Max == nil {
				return &domain.RuleValidationError{
					Index: i, Reason: "range requires min or max",
					Err: &domain.InvalidRangeError{Interpretation: spec.Interpretation},
				}
			}
		}
		for _, condition := range rule.Conditions {
			if err := ValidateCondition(registry, condition); err != nil {
				return &domain.RuleValidationError{Index: i, Reason: "invalid condition", Err: err}
			}
		}
	}
	return nil
}
