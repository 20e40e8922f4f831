package metric

import (
	"encoding/json"
	"math"
	"time"

	"github.com/emr-interpretation-server/internal/domain"
)

// Age is a normalized calendar duration between two dates.
type Age struct {
	Years  int
	Months int
	Days   int
}

// InUnit converts the age to a single unit. Months are approximated as 30
// days and years as 365 days; this is a documented limitation, not a
// calendar-accurate conversion.
func (a Age) InUnit(unit domain.AgeUnit) (int, bool) {
	switch unit {
	case domain.AgeYears:
		return a.Years, true
	case domain.AgeMonths:
		return a.Years*12 + a.Months, true
	case domain.AgeDays:
		return a.Years*365 + a.Months*30 + a.Days, true
	}
	return 0, false
}

// ageBetween computes the normalized calendar age from start to end.
func ageBetween(start, end time.Time) Age {
	years := end.Year() - start.Year()
	months := int(end.Month()) - int(start.Month())
	days := end.Day() - start.Day()

	if days < 0 {
		months--
		// Day 0 of end's month is the last day of the previous month.
		lastOfPrev := time.Date(end.Year(), end.Month(), 0, 0, 0, 0, 0, end.Location())
		days += lastOfPrev.Day()
	}
	if months < 0 {
		years--
		months += 12
	}
	return Age{Years: years, Months: months, Days: days}
}

// PatientAgeMetric computes a patient's calendar age. Birth falls back to
// January 1 of year_of_birth when date_of_birth is absent; the age endpoint
// is the deceased time when set, otherwise now.
type PatientAgeMetric struct {
	// now is injectable for tests; zero means time.Now.
	now func() time.Time
}

func (m *PatientAgeMetric) Name() string { return "patient_age" }

func (m *PatientAgeMetric) Context() domain.EvaluatorContext { return domain.PatientContext }

func (m *PatientAgeMetric) AllowedOperations() []domain.Operation {
	return []domain.Operation{domain.OpInRange, domain.OpEquality}
}

func (m *PatientAgeMetric) ValidateRule(op domain.Operation, value json.RawMessage) error {
	if !supportsOperation(m, op) {
		return invalidOp(m, op, "")
	}
	switch op {
	case domain.OpInRange:
		payload, err := decodeRange(value)
		if err != nil {
			return invalidOp(m, op, err.Error())
		}
		if payload.ValueType != "" {
			if _, ok := (Age{}).InUnit(payload.ValueType); !ok {
				return invalidOp(m, op, "invalid value_type")
			}
		}
	case domain.OpEquality:
		if _, err := decodeEquality(value); err != nil {
			return invalidOp(m, op, err.Error())
		}
	}
	return nil
}

func (m *PatientAgeMetric) Bind(contextObject any) BoundMetric {
	patient, _ := contextObject.(*domain.Patient)
	return &boundPatientAge{metric: m, patient: patient}
}

type boundPatientAge struct {
	metric   *PatientAgeMetric
	patient  *domain.Patient
	age      Age
	computed bool
}

func (b *boundPatientAge) Value() any {
	if !b.computed {
		b.age = b.computeAge()
		b.computed = true
	}
	return b.age
}

func (b *boundPatientAge) computeAge() Age {
	now := time.Now
	if b.metric.now != nil {
		now = b.metric.now
	}
	start := time.Date(b.patient.YearOfBirth, time.January, 1, 0, 0, 0, 0, time.UTC)
	if b.patient.DateOfBirth != nil {
		start = *b.patient.DateOfBirth
	}
	end := now()
	if b.patient.DeceasedDatetime != nil {
		end = *b.patient.DeceasedDatetime
	}
	return ageBetween(start.UTC(), end.UTC())
}

func (b *boundPatientAge) ApplyRule(op domain.Operation, payload json.RawMessage) (bool, error) {
	if b.patient == nil {
		return false, nil
	}
	switch op {
	case domain.OpInRange:
		decoded, err := decodeRange(payload)
		if err != nil {
			return false, invalidOp(b.metric, op, err.Error())
		}
		age, err := b.ageIn(decoded.ValueType)
		if err != nil {
			return false, err
		}
		return float64(age) >= decoded.Min && float64(age) <= decoded.Max, nil
	case domain.OpEquality:
		decoded, err := decodeEquality(payload)
		if err != nil {
			return false, invalidOp(b.metric, op, err.Error())
		}
		expected, ok := decoded.Value.(float64)
		if !ok {
			return false, invalidOp(b.metric, op, "equality value must be numeric")
		}
		age, err := b.ageIn(decoded.ValueType)
		if err != nil {
			return false, err
		}
		return age == int(math.Trunc(expected)), nil
	}
	return false, invalidOp(b.metric, op, "")
}

// ageIn converts the bound age to the requested unit, defaulting an empty
// value_type to years as the original configuration format does.
func (b *boundPatientAge) ageIn(unit domain.AgeUnit) (int, error) {
	if unit == "" {
		unit = domain.AgeYears
	}
	age, _ := b.Value().(Age)
	converted, ok := age.InUnit(unit)
	if !ok {
		return 0, invalidOp(b.metric, domain.OpInRange, "invalid value_type")
	}
	return converted, nil
}
