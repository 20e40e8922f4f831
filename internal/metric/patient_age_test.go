package metric

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emr-interpretation-server/internal/domain"
)

func date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func datePtr(year int, month time.Month, day int) *time.Time {
	d := date(year, month, day)
	return &d
}

func TestAgeBetween(t *testing.T) {
	tests := []struct {
		name     string
		start    time.Time
		end      time.Time
		expected Age
	}{
		{"exact years", date(1990, time.May, 15), date(2020, time.May, 15), Age{30, 0, 0}},
		{"day before birthday", date(1990, time.May, 15), date(2020, time.May, 14), Age{29, 11, 29}},
		{"borrowed days", date(1990, time.May, 20), date(2020, time.May, 15), Age{29, 11, 25}},
		{"borrowed months", date(1990, time.November, 1), date(2020, time.May, 1), Age{29, 6, 0}},
		{"leap day birth", date(2020, time.February, 29), date(2021, time.March, 1), Age{1, 0, 0}},
		{"infant", date(2024, time.January, 15), date(2024, time.March, 10), Age{0, 1, 24}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ageBetween(tt.start, tt.end))
		})
	}
}

func TestAge_InUnit(t *testing.T) {
	age := Age{Years: 2, Months: 3, Days: 10}

	tests := []struct {
		name     string
		unit     domain.AgeUnit
		expected int
		ok       bool
	}{
		{"years", domain.AgeYears, 2, true},
		{"months", domain.AgeMonths, 27, true},
		{"days", domain.AgeDays, 2*365 + 3*30 + 10, true},
		{"unknown unit", domain.AgeUnit("decades"), 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := age.InUnit(tt.unit)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.expected, got)
		})
	}
}

// fixedAgeMetric binds ages against a pinned clock so tests are stable.
func fixedAgeMetric(now time.Time) *PatientAgeMetric {
	return &PatientAgeMetric{now: func() time.Time { return now }}
}

func TestPatientAge_ApplyRule_InRange(t *testing.T) {
	m := fixedAgeMetric(date(2022, time.June, 1))
	patient := &domain.Patient{ID: "p1", DateOfBirth: datePtr(2010, time.June, 1)}

	tests := []struct {
		name     string
		payload  string
		expected bool
	}{
		{"inside range", `{"min": 10, "max": 14}`, true},
		{"equal to min", `{"min": 12, "max": 15}`, true},
		{"equal to max", `{"min": 5, "max": 12}`, true},
		{"below range", `{"min": 13, "max": 20}`, false},
		{"above range", `{"min": 0, "max": 11}`, false},
		// Bounds compare as floats without truncation; a fractional min
		// above the age excludes it.
		{"fractional bounds containing age", `{"min": 11.5, "max": 12.5}`, true},
		{"fractional min above age", `{"min": 12.5, "max": 13}`, false},
		{"months unit", `{"min": 140, "max": 150, "value_type": "months"}`, true},
		{"days unit", `{"min": 4000, "max": 4500, "value_type": "days"}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bound := m.Bind(patient)
			matched, err := bound.ApplyRule(domain.OpInRange, json.RawMessage(tt.payload))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, matched)
		})
	}
}

func TestPatientAge_ApplyRule_Equality(t *testing.T) {
	m := fixedAgeMetric(date(2022, time.June, 1))
	patient := &domain.Patient{ID: "p1", DateOfBirth: datePtr(2010, time.June, 1)}

	tests := []struct {
		name     string
		payload  string
		expected bool
	}{
		{"bare scalar match", `12`, true},
		{"bare scalar mismatch", `13`, false},
		{"object payload match", `{"value": 12}`, true},
		{"object payload months", `{"value": 144, "value_type": "months"}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bound := m.Bind(patient)
			matched, err := bound.ApplyRule(domain.OpEquality, json.RawMessage(tt.payload))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, matched)
		})
	}
}

func TestPatientAge_YearOfBirthFallback(t *testing.T) {
	m := fixedAgeMetric(date(2022, time.June, 1))
	// No date_of_birth: age counts from January 1 of the birth year.
	patient := &domain.Patient{ID: "p1", YearOfBirth: 2000}

	bound := m.Bind(patient)
	matched, err := bound.ApplyRule(domain.OpEquality, json.RawMessage(`22`))
	require.NoError(t, err)
	assert.True(t, matched)
}

func TestPatientAge_DeceasedEndpoint(t *testing.T) {
	m := fixedAgeMetric(date(2022, time.June, 1))
	patient := &domain.Patient{
		ID:               "p1",
		DateOfBirth:      datePtr(1950, time.January, 1),
		DeceasedDatetime: datePtr(2000, time.January, 1),
	}

	bound := m.Bind(patient)
	matched, err := bound.ApplyRule(domain.OpEquality, json.RawMessage(`50`))
	require.NoError(t, err)
	assert.True(t, matched, "age should stop at the deceased datetime")
}

func TestPatientAge_NilPatient(t *testing.T) {
	m := fixedAgeMetric(date(2022, time.June, 1))

	bound := m.Bind(nil)
	matched, err := bound.ApplyRule(domain.OpInRange, json.RawMessage(`{"min": 0, "max": 100}`))
	require.NoError(t, err, "absent context is not an error")
	assert.False(t, matched)
}

func TestPatientAge_ValueMemoized(t *testing.T) {
	calls := 0
	m := &PatientAgeMetric{now: func() time.Time {
		calls++
		return date(2022, time.June, 1)
	}}
	patient := &domain.Patient{ID: "p1", DateOfBirth: datePtr(2010, time.June, 1)}

	bound := m.Bind(patient)
	bound.Value()
	bound.Value()
	assert.Equal(t, 1, calls, "age should be computed once per bound instance")
}

func TestPatientAge_ValidateRule(t *testing.T) {
	m := &PatientAgeMetric{}

	tests := []struct {
		name    string
		op      domain.Operation
		payload string
		wantErr bool
	}{
		{"valid in_range", domain.OpInRange, `{"min": 0, "max": 10}`, false},
		{"valid in_range with unit", domain.OpInRange, `{"min": 0, "max": 10, "value_type": "days"}`, false},
		{"missing max", domain.OpInRange, `{"min": 0}`, true},
		{"missing min", domain.OpInRange, `{"max": 10}`, true},
		{"invalid value_type", domain.OpInRange, `{"min": 0, "max": 10, "value_type": "decades"}`, true},
		{"valid equality", domain.OpEquality, `12`, false},
		{"unsupported operation", domain.OpIntersectsAny, `{"values": []}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := m.ValidateRule(tt.op, json.RawMessage(tt.payload))
			if tt.wantErr {
				var invalid *domain.InvalidOperationError
				require.ErrorAs(t, err, &invalid)
				assert.Equal(t, "patient_age", invalid.Metric)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
