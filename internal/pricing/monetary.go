// Package pricing computes charge item totals from monetary price
// components. Components cascade in a fixed order: the base amount is
// scaled by quantity, surcharges are added against the base, discounts are
// computed against the post-surcharge net price, and taxes against the
// post-discount taxable price.
package pricing

import (
	"fmt"

	"github.com/emr-interpretation-server/internal/domain"
)

// ComponentType classifies a monetary component.
type ComponentType string

const (
	BaseComponent          ComponentType = "base"
	SurchargeComponent     ComponentType = "surcharge"
	DiscountComponent      ComponentType = "discount"
	TaxComponent           ComponentType = "tax"
	InformationalComponent ComponentType = "informational"
)

// MonetaryComponent is one price component of a charge item. Exactly one of
// Amount and Factor is set: Amount is an absolute per-unit price, Factor a
// percentage applied to the cascade's current reference price.
type MonetaryComponent struct {
	Type   ComponentType  `json:"monetary_component_type"`
	Code   *domain.Coding `json:"code,omitempty"`
	Factor *float64       `json:"factor,omitempty"`
	Amount *float64       `json:"amount,omitempty"`
}

// ChargeItem carries the inputs and outputs of a pricing run.
type ChargeItem struct {
	ID                   string              `json:"id"`
	Quantity             float64             `json:"quantity"`
	UnitPriceComponents  []MonetaryComponent `json:"unit_price_components"`
	TotalPriceComponents []MonetaryComponent `json:"total_price_components,omitempty"`
	TotalPrice           float64             `json:"total_price"`
}

// ValidateComponents checks the structural invariants of a component list:
// base components carry an amount, amount and factor are mutually
// exclusive, codes are unique, and at most one base component exists.
func ValidateComponents(components []MonetaryComponent) error {
	baseCount := 0
	codes := map[string]bool{}
	for i, component := range components {
		if component.Amount != nil && component.Factor != nil {
			return fmt.Errorf("component %d: only one of amount or factor can be present", i)
		}
		if component.Amount == nil && component.Factor == nil {
			return fmt.Errorf("component %d: either amount or factor must be present", i)
		}
		if component.Type == BaseComponent {
			baseCount++
			if component.Amount == nil {
				return fmt.Errorf("component %d: base component must have an amount", i)
			}
		}
		if component.Code != nil {
			if codes[component.Code.Code] {
				return fmt.Errorf("component %d: duplicate code %q", i, component.Code.Code)
			}
			codes[component.Code.Code] = true
		}
	}
	if baseCount > 1 {
		return fmt.Errorf("only one base component is allowed")
	}
	return nil
}

// resolveAmount computes the effective amount of a non-base component.
// Absolute amounts scale by quantity; factors apply as a percentage of the
// cascade's current reference price and do not scale by quantity.
func resolveAmount(component MonetaryComponent, quantity, reference float64) (MonetaryComponent, bool) {
	if component.Amount != nil {
		total := *component.Amount * quantity
		component.Amount = &total
		return component, true
	}
	if component.Factor != nil {
		amount := reference * *component.Factor / 100
		component.Amount = &amount
		return component, true
	}
	return component, false
}

// SyncCosts computes the charge item's total price and resolved component
// list from its unit price components and quantity.
func SyncCosts(item *ChargeItem) error {
	if err := ValidateComponents(item.UnitPriceComponents); err != nil {
		return fmt.Errorf("invalid price components: %w", err)
	}

	resolved := make([]MonetaryComponent, 0, len(item.UnitPriceComponents))
	var totalPrice, base float64

	for _, component := range item.UnitPriceComponents {
		if component.Type != BaseComponent {
			continue
		}
		amount := *component.Amount * item.Quantity
		component.Amount = &amount
		totalPrice = amount
		base = amount
		resolved = append(resolved, component)
	}

	for _, component := range item.UnitPriceComponents {
		if component.Type != SurchargeComponent {
			continue
		}
		component, ok := resolveAmount(component, item.Quantity, base)
		if !ok {
			continue
		}
		totalPrice += *component.Amount
		resolved = append(resolved, component)
	}

	netPrice := totalPrice
	for _, component := range item.UnitPriceComponents {
		if component.Type != DiscountComponent {
			continue
		}
		component, ok := resolveAmount(component, item.Quantity, netPrice)
		if !ok {
			continue
		}
		totalPrice -= *component.Amount
		resolved = append(resolved, component)
	}

	taxablePrice := totalPrice
	for _, component := range item.UnitPriceComponents {
		if component.Type != TaxComponent {
			continue
		}
		component, ok := resolveAmount(component, item.Quantity, taxablePrice)
		if !ok {
			continue
		}
		totalPrice += *component.Amount
		resolved = append(resolved, component)
	}

	item.TotalPrice = totalPrice
	item.TotalPriceComponents = resolved
	return nil
}
