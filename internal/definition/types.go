// Package definition persists observation definitions, the configuration
// entities that carry the qualified-ranges rule lists consumed by the
// interpretation evaluator.
package definition

import (
	"time"

	"github.com/emr-interpretation-server/internal/domain"
)

// ObservationDefinition describes one observable and the rules used to
// interpret its values. Qualified ranges are validated when the definition
// is saved so broken rules never reach evaluation.
type ObservationDefinition struct {
	ID              string                `json:"id"`
	Slug            string                `json:"slug"`
	Title           string                `json:"title"`
	Status          string                `json:"status"`
	Description     string                `json:"description,omitempty"`
	Category        *domain.Coding        `json:"category,omitempty"`
	Code            *domain.Coding        `json:"code,omitempty"`
	PermittedUnit   *domain.Coding        `json:"permitted_unit,omitempty"`
	QualifiedRanges []domain.Rule         `json:"qualified_ranges,omitempty"`
	Components      []ComponentDefinition `json:"components,omitempty"`
	CreatedAt       time.Time             `json:"created_at"`
	UpdatedAt       time.Time             `json:"updated_at"`
}

// ComponentDefinition describes one component of a composite observation,
// matched to observation components by code.
type ComponentDefinition struct {
	Code            domain.Coding  `json:"code"`
	PermittedUnit   *domain.Coding `json:"permitted_unit,omitempty"`
	QualifiedRanges []domain.Rule  `json:"qualified_ranges,omitempty"`
}
