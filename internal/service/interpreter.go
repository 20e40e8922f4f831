// Package service orchestrates observation interpretation: loading the
// observation definition, evaluating the observation value and each
// component against its qualified ranges, and attaching the results.
package service

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/emr-interpretation-server/internal/definition"
	"github.com/emr-interpretation-server/internal/domain"
	"github.com/emr-interpretation-server/internal/evaluator"
	"github.com/emr-interpretation-server/internal/metric"
)

// DefinitionStore loads observation definitions by slug.
type DefinitionStore interface {
	Get(ctx context.Context, slug string) (*definition.ObservationDefinition, error)
}

// ObservationInterpreter computes interpretations for observations and
// their components.
type ObservationInterpreter struct {
	definitions DefinitionStore
	registry    *metric.Registry
	valuesets   evaluator.ValueSetLookup
	log         *logrus.Logger
}

// NewObservationInterpreter creates a new observation interpreter.
func NewObservationInterpreter(definitions DefinitionStore, registry *metric.Registry, valuesets evaluator.ValueSetLookup, logger *logrus.Logger) *ObservationInterpreter {
	return &ObservationInterpreter{
		definitions: definitions,
		registry:    registry,
		valuesets:   valuesets,
		log:         logger,
	}
}

// Interpret evaluates the observation value and each component value
// against the definition's qualified ranges, mutating the observation in
// place. Interpretation and reference range are set only when a rule
// produced an interpretation. One metric cache is threaded through the
// whole observation so patient and encounter metrics are bound once.
func (s *ObservationInterpreter) Interpret(ctx context.Context, evalCtx domain.EvaluationContext, obs *domain.Observation) error {
	def, err := s.definitions.Get(ctx, obs.DefinitionSlug)
	if err != nil {
		return fmt.Errorf("loading definition %q: %w", obs.DefinitionSlug, err)
	}

	cache := evaluator.NewMetricCache()
	eval := evaluator.WithMetricCache(def.QualifiedRanges, s.registry, s.valuesets, cache)

	interpretation, ranges, err := eval.Evaluate(ctx, evalCtx, obs.Value)
	if err != nil {
		return fmt.Errorf("evaluating observation %q: %w", obs.ID, err)
	}
	if interpretation != "" {
		obs.Interpretation = interpretation
		obs.ReferenceRange = ranges
	}

	if len(def.Components) == 0 {
		return nil
	}

	componentRanges := make(map[string][]domain.Rule, len(def.Components))
	for _, componentDef := range def.Components {
		componentRanges[componentDef.Code.Code] = componentDef.QualifiedRanges
	}

	for i := range obs.Component {
		component := &obs.Component[i]
		rules := componentRanges[component.Code.Code]
		eval := evaluator.WithMetricCache(rules, s.registry, s.valuesets, cache)

		interpretation, ranges, err := eval.Evaluate(ctx, evalCtx, component.Value)
		if err != nil {
			return fmt.Errorf("evaluating component %q of observation %q: %w", component.Code.Code, obs.ID, err)
		}
		if interpretation != "" {
			component.Interpretation = interpretation
			component.ReferenceRange = ranges
		}
	}

	s.log.WithFields(logrus.Fields{
		"observation_id": obs.ID,
		"definition":     obs.DefinitionSlug,
		"interpretation": obs.Interpretation,
		"components":     len(obs.Component),
	}).Debug("Observation interpretation computed")

	return nil
}
