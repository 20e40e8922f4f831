package metric

import (
	"encoding/json"

	"github.com/emr-interpretation-server/internal/domain"
)

// EncounterTagMetric extracts the union of the patient's facility-scoped
// tags (keyed by the encounter's facility), the patient's instance-level
// tags, and the encounter's own tags. Supports intersects_any only.
//
// intersects_any is element membership, not set intersection: each scalar
// tag in the rule payload's values is tested for membership in the unioned
// tag list, and a non-scalar entry matches only when it equals the whole
// unioned list.
type EncounterTagMetric struct{}

func (m *EncounterTagMetric) Name() string { return "encounter_tag" }

func (m *EncounterTagMetric) Context() domain.EvaluatorContext { return domain.EncounterContext }

func (m *EncounterTagMetric) AllowedOperations() []domain.Operation {
	return []domain.Operation{domain.OpIntersectsAny}
}

func (m *EncounterTagMetric) ValidateRule(op domain.Operation, value json.RawMessage) error {
	if !supportsOperation(m, op) {
		return invalidOp(m, op, "")
	}
	if _, err := decodeIntersectsAny(value); err != nil {
		return invalidOp(m, op, err.Error())
	}
	return nil
}

func (m *EncounterTagMetric) Bind(contextObject any) BoundMetric {
	encounter, _ := contextObject.(*domain.Encounter)
	return &boundEncounterTag{metric: m, encounter: encounter}
}

type boundEncounterTag struct {
	metric    *EncounterTagMetric
	encounter *domain.Encounter
	tags      []string
	computed  bool
}

func (b *boundEncounterTag) Value() any {
	if !b.computed {
		b.tags = b.unionTags()
		b.computed = true
	}
	return b.tags
}

func (b *boundEncounterTag) unionTags() []string {
	var tags []string
	if patient := b.encounter.Patient; patient != nil {
		tags = append(tags, patient.FacilityTags[b.encounter.FacilityID]...)
		tags = append(tags, patient.InstanceTags...)
	}
	tags = append(tags, b.encounter.Tags...)
	return tags
}

func (b *boundEncounterTag) ApplyRule(op domain.Operation, payload json.RawMessage) (bool, error) {
	if b.encounter == nil {
		return false, nil
	}
	if op != domain.OpIntersectsAny {
		return false, invalidOp(b.metric, op, "")
	}
	decoded, err := decodeIntersectsAny(payload)
	if err != nil {
		return false, invalidOp(b.metric, op, err.Error())
	}

	// Scalar entries in values are tested against the unioned tag list;
	// anything else falls back to whole-value membership.
	tags, _ := b.Value().([]string)
	for _, candidate := range decoded.Values {
		tag, ok := candidate.(string)
		if !ok {
			continue
		}
		if b.hasTag(tag, tags) {
			return true, nil
		}
	}
	return containsValue(b.Value(), decoded.Values), nil
}

// hasTag reports whether tag appears in the unioned tag list.
func (b *boundEncounterTag) hasTag(tag string, tags []string) bool {
	for _, existing := range tags {
		if existing == tag {
			return true
		}
	}
	return false
}
