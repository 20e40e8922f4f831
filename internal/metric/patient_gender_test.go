package metric

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emr-interpretation-server/internal/domain"
)

func TestPatientGender_ApplyRule(t *testing.T) {
	m := &PatientGenderMetric{}
	patient := &domain.Patient{ID: "p1", Gender: "female"}

	tests := []struct {
		name     string
		payload  string
		expected bool
	}{
		{"bare scalar match", `"female"`, true},
		{"bare scalar mismatch", `"male"`, false},
		{"object payload match", `{"value": "female"}`, true},
		{"object payload mismatch", `{"value": "non_binary"}`, false},
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

func TestPatientGender_NilPatient(t *testing.T) {
	m := &PatientGenderMetric{}

	bound := m.Bind(nil)
	matched, err := bound.ApplyRule(domain.OpEquality, json.RawMessage(`"female"`))
	require.NoError(t, err)
	assert.False(t, matched)
}

func TestPatientGender_UnsupportedOperation(t *testing.T) {
	m := &PatientGenderMetric{}
	bound := m.Bind(&domain.Patient{Gender: "male"})

	_, err := bound.ApplyRule(domain.OpInRange, json.RawMessage(`{"min": 0, "max": 1}`))
	var invalid *domain.InvalidOperationError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, domain.OpInRange, invalid.Operation)
}

func TestPatientGender_ValidateRule(t *testing.T) {
	m := &PatientGenderMetric{}

	tests := []struct {
		name    string
		op      domain.Operation
		payload string
		wantErr bool
	}{
		{"valid scalar", domain.OpEquality, `"female"`, false},
		{"valid object", domain.OpEquality, `{"value": "male"}`, false},
		{"numeric value rejected", domain.OpEquality, `42`, true},
		{"unsupported operation", domain.OpInRange, `{"min": 0, "max": 1}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := m.ValidateRule(tt.op, json.RawMessage(tt.payload))
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
