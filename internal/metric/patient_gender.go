package metric

import (
	"encoding/json"

	"github.com/emr-interpretation-server/internal/domain"
)

// PatientGenderMetric extracts the patient's gender code. Supports equality
// only.
type PatientGenderMetric struct{}

func (m *PatientGenderMetric) Name() string { return "patient_gender" }

func (m *PatientGenderMetric) Context() domain.EvaluatorContext { return domain.PatientContext }

func (m *PatientGenderMetric) AllowedOperations() []domain.Operation {
	return []domain.Operation{domain.OpEquality}
}

func (m *PatientGenderMetric) ValidateRule(op domain.Operation, value json.RawMessage) error {
	if !supportsOperation(m, op) {
		return invalidOp(m, op, "")
	}
	payload, err := decodeEquality(value)
	if err != nil {
		return invalidOp(m, op, err.Error())
	}
	if _, ok := payload.Value.(string); !ok {
		return invalidOp(m, op, "equality value must be a string gender code")
	}
	return nil
}

func (m *PatientGenderMetric) Bind(contextObject any) BoundMetric {
	patient, _ := contextObject.(*domain.Patient)
	return &boundPatientGender{metric: m, patient: patient}
}

type boundPatientGender struct {
	metric  *PatientGenderMetric
	patient *domain.Patient
}

func (b *boundPatientGender) Value() any {
	if b.patient == nil {
		return ""
	}
	return b.patient.Gender
}

func (b *boundPatientGender) ApplyRule(op domain.Operation, payload json.RawMessage) (bool, error) {
	if b.patient == nil {
		return false, nil
	}
	if op != domain.OpEquality {
		return false, invalidOp(b.metric, op, "")
	}
	decoded, err := decodeEquality(payload)
	if err != nil {
		return false, invalidOp(b.metric, op, err.Error())
	}
	return b.Value() == decoded.Value, nil
}
