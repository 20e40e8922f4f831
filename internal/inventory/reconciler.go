// Package inventory reconciles inventory item availability. Net content at
// a location is derived from movement records rather than kept as a
// counter: completed incoming deliveries add, in-progress outgoing
// deliveries and active dispenses subtract. Reconciliation runs under a
// distributed lock per location/product pair.
package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// InventoryItem tracks the availability of one product at one location.
type InventoryItem struct {
	ID         string    `json:"id"`
	ProductID  string    `json:"product_id"`
	LocationID string    `json:"location_id"`
	Status     string    `json:"status"`
	NetContent float64   `json:"net_content"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Store provides the movement aggregates and item persistence the
// reconciler needs.
type Store interface {
	// GetItem loads the inventory item for a location/product pair,
	// returning nil when none exists yet.
	GetItem(ctx context.Context, locationID, productID string) (*InventoryItem, error)
	// CompletedIncomingQuantity sums completed deliveries of the product
	// into the location.
	CompletedIncomingQuantity(ctx context.Context, locationID, productID string) (float64, error)
	// InProgressOutgoingQuantity sums in-progress deliveries sourced from
	// the item.
	InProgressOutgoingQuantity(ctx context.Context, itemID string) (float64, error)
	// ActiveDispensedQuantity sums non-cancelled dispenses from the item.
	ActiveDispensedQuantity(ctx context.Context, itemID string) (float64, error)
	// UpsertItem persists the item with its recomputed net content.
	UpsertItem(ctx context.Context, item *InventoryItem) error
}

// Reconciler recomputes inventory availability.
type Reconciler struct {
	store  Store
	locker Locker
	log    *logrus.Logger
}

// NewReconciler creates a new inventory reconciler.
func NewReconciler(store Store, locker Locker, logger *logrus.Logger) *Reconciler {
	return &Reconciler{
		store:  store,
		locker: locker,
		log:    logger,
	}
}

// Reconcile recomputes and persists the net content for one
// location/product pair:
//
//	net = completed incoming deliveries
//	    - in-progress outgoing deliveries
//	    - active dispenses
func (r *Reconciler) Reconcile(ctx context.Context, locationID, productID string) (*InventoryItem, error) {
	release, err := r.locker.Acquire(ctx, locationID, productID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := release(ctx); err != nil {
			r.log.WithError(err).WithFields(logrus.Fields{
				"location_id": locationID,
				"product_id":  productID,
			}).Warn("Failed to release inventory lock")
		}
	}()

	item, err := r.store.GetItem(ctx, locationID, productID)
	if err != nil {
		return nil, fmt.Errorf("loading inventory item: %w", err)
	}
	if item == nil {
		item = &InventoryItem{
			ProductID:  productID,
			LocationID: locationID,
			Status:     "active",
		}
	}

	incoming, err := r.store.CompletedIncomingQuantity(ctx, locationID, productID)
	if err != nil {
		return nil, fmt.Errorf("summing incoming deliveries: %w", err)
	}

	var outgoing, dispensed float64
	if item.ID != "" {
		outgoing, err = r.store.InProgressOutgoingQuantity(ctx, item.ID)
		if err != nil {
			return nil, fmt.Errorf("summing outgoing deliveries: %w", err)
		}
		dispensed, err = r.store.ActiveDispensedQuantity(ctx, item.ID)
		if err != nil {
			return nil, fmt.Errorf("summing dispenses: %w", err)
		}
	}

	item.NetContent = incoming - outgoing - dispensed
	item.UpdatedAt = time.Now().UTC()

	if err := r.store.UpsertItem(ctx, item); err != nil {
		return nil, fmt.Errorf("persisting inventory item: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"location_id": locationID,
		"product_id":  productID,
		"incoming":    incoming,
		"outgoing":    outgoing,
		"dispensed":   dispensed,
		"net_content": item.NetContent,
	}).Info("Inventory availability reconciled")

	return item, nil
}
