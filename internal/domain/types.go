// Package domain contains core business entities and types for clinical
// observation interpretation. Observation values are evaluated against
// qualified-range rules attached to an observation definition to derive a
// clinical interpretation (normal/abnormal/critical or a custom label).
package domain

import "time"

// Interpretation labels produced by the fixed coded value sets. Rules may
// also carry custom labels through ranges or valueset_interpretation entries.
const (
	NormalInterpretation   = "normal"
	CriticalInterpretation = "critical"
	AbnormalInterpretation = "abnormal"
)

// EvaluatorContext identifies which domain object a metric reads from.
type EvaluatorContext string

const (
	PatientContext   EvaluatorContext = "patient"
	EncounterContext EvaluatorContext = "encounter"
)

// Operation identifies a condition operation supported by a metric.
type Operation string

const (
	OpEquality      Operation = "equality"
	OpInRange       Operation = "in_range"
	OpIntersectsAny Operation = "intersects_any"
)

// AgeUnit controls unit conversion for age comparisons.
type AgeUnit string

const (
	AgeYears  AgeUnit = "years"
	AgeMonths AgeUnit = "months"
	AgeDays   AgeUnit = "days"
)

// Coding represents a single code from a terminology system.
type Coding struct {
	System  string `json:"system"`
	Code    string `json:"code"`
	Display string `json:"display,omitempty"`
}

// ObservationValue is the JSON-compatible value of an observation or one of
// its components. Exactly one of the shapes is expected to be populated:
// a numeric quantity/value, a plain string value, or a coded value.
type ObservationValue struct {
	Value    *string  `json:"value,omitempty"`
	Quantity *float64 `json:"quantity,omitempty"`
	Unit     *Coding  `json:"unit,omitempty"`
	Coding   *Coding  `json:"coding,omitempty"`
}

// Patient carries the patient fields read by the built-in metrics.
type Patient struct {
	ID               string              `json:"id"`
	Gender           string              `json:"gender"`
	DateOfBirth      *time.Time          `json:"date_of_birth,omitempty"`
	YearOfBirth      int                 `json:"year_of_birth,omitempty"`
	DeceasedDatetime *time.Time          `json:"deceased_datetime,omitempty"`
	FacilityTags     map[string][]string `json:"facility_tags,omitempty"`
	InstanceTags     []string            `json:"instance_tags,omitempty"`
}

// Encounter carries the encounter fields read by the built-in metrics.
type Encounter struct {
	ID         string   `json:"id"`
	FacilityID string   `json:"facility_id"`
	Patient    *Patient `json:"patient,omitempty"`
	Tags       []string `json:"tags,omitempty"`
}

// EvaluationContext maps a metric's context tag to the domain object it
// reads from. Callers populate one entry per distinct context referenced by
// the conditions of the rules under evaluation.
type EvaluationContext map[EvaluatorContext]any

// Observation is the subset of an observation used for interpretation.
type Observation struct {
	ID             string                 `json:"id"`
	DefinitionSlug string                 `json:"definition_slug"`
	Value          *ObservationValue      `json:"value,omitempty"`
	Interpretation string                 `json:"interpretation,omitempty"`
	ReferenceRange []RangeSpec            `json:"reference_range,omitempty"`
	Component      []ObservationComponent `json:"component,omitempty"`
}

// ObservationComponent is a nested measurement of a parent observation,
// matched to its component definition by code.
type ObservationComponent struct {
	Code           Coding            `json:"code"`
	Value          *ObservationValue `json:"value,omitempty"`
	Interpretation string            `json:"interpretation,omitempty"`
	ReferenceRange []RangeSpec       `json:"reference_range,omitempty"`
}
