package metric

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emr-interpretation-server/internal/domain"
)

func TestRegistry_Register_Idempotent(t *testing.T) {
	registry := NewRegistry()

	registry.Register(&PatientGenderMetric{})
	registry.Register(&PatientGenderMetric{})
	registry.Register(&PatientGenderMetric{})

	assert.Len(t, registry.All(), 1, "duplicate registrations should be ignored")
}

func TestRegistry_Get(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&PatientAgeMetric{})

	m, err := registry.Get("patient_age")
	require.NoError(t, err)
	assert.Equal(t, "patient_age", m.Name())
	assert.Equal(t, domain.PatientContext, m.Context())
}

func TestRegistry_Get_NotFound(t *testing.T) {
	registry := NewRegistry()

	_, err := registry.Get("no_such_metric")
	require.Error(t, err)

	var notFound *domain.MetricNotFoundError
	require.True(t, errors.As(err, &notFound))
	assert.Equal(t, "no_such_metric", notFound.Metric)
}

func TestRegistry_All_PreservesRegistrationOrder(t *testing.T) {
	registry := NewRegistry()
	RegisterBuiltins(registry)

	var names []string
	for _, m := range registry.All() {
		names = append(names, m.Name())
	}
	assert.Equal(t, []string{"patient_age", "patient_gender", "encounter_tag"}, names)
}

func TestRegisterBuiltins_Idempotent(t *testing.T) {
	registry := NewRegistry()
	RegisterBuiltins(registry)
	RegisterBuiltins(registry)

	assert.Len(t, registry.All(), 3)
}

func TestDescribe(t *testing.T) {
	descriptor := Describe(&EncounterTagMetric{})

	assert.Equal(t, "encounter_tag", descriptor.Name)
	assert.Equal(t, domain.EncounterContext, descriptor.Context)
	assert.Equal(t, []domain.Operation{domain.OpIntersectsAny}, descriptor.AllowedOperations)
}
