package inventory

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

// Dispense statuses excluded from availability: these never consumed stock.
var cancelledDispenseStatuses = []string{"entered_in_error", "cancelled", "declined"}

// PostgresStore implements Store on a pgx pool.
type PostgresStore struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewPostgresStore creates a new inventory store.
func NewPostgresStore(db *pgxpool.Pool, logger *logrus.Logger) *PostgresStore {
	return &PostgresStore{db: db, log: logger}
}

// GetItem loads the inventory item for a location/product pair.
func (s *PostgresStore) GetItem(ctx context.Context, locationID, productID string) (*InventoryItem, error) {
	query := `
		SELECT id, product_id, location_id, status, net_content, updated_at
		FROM inventory_items
		WHERE location_id = $1 AND product_id = $2`

	var item InventoryItem
	err := s.db.QueryRow(ctx, query, locationID, productID).Scan(
		&item.ID,
		&item.ProductID,
		&item.LocationID,
		&item.Status,
		&item.NetContent,
		&item.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying inventory item: %w", err)
	}
	return &item, nil
}

// CompletedIncomingQuantity sums completed deliveries of the product into
// the location.
func (s *PostgresStore) CompletedIncomingQuantity(ctx context.Context, locationID, productID string) (float64, error) {
	query := `
		SELECT COALESCE(SUM(d.supplied_item_quantity), 0)
		FROM supply_deliveries d
		JOIN inventory_items i ON i.id = d.supplied_inventory_item_id
		WHERE d.destination_id = $1
		  AND d.status = 'completed'
		  AND i.product_id = $2`

	var total float64
	if err := s.db.QueryRow(ctx, query, locationID, productID).Scan(&total); err != nil {
		return 0, fmt.Errorf("summing completed deliveries: %w", err)
	}
	return total, nil
}

// InProgressOutgoingQuantity sums in-progress deliveries sourced from the
// item.
func (s *PostgresStore) InProgressOutgoingQuantity(ctx context.Context, itemID string) (float64, error) {
	query := `
		SELECT COALESCE(SUM(supplied_item_quantity), 0)
		FROM supply_deliveries
		WHERE supplied_inventory_item_id = $1
		  AND status = 'in_progress'`

	var total float64
	if err := s.db.QueryRow(ctx, query, itemID).Scan(&total); err != nil {
		return 0, fmt.Errorf("summing in-progress deliveries: %w", err)
	}
	return total, nil
}

// ActiveDispensedQuantity sums non-cancelled dispenses from the item.
func (s *PostgresStore) ActiveDispensedQuantity(ctx context.Context, itemID string) (float64, error) {
	query := `
		SELECT COALESCE(SUM(quantity), 0)
		FROM medication_dispenses
		WHERE inventory_item_id = $1
		  AND status != ALL($2)`

	var total float64
	if err := s.db.QueryRow(ctx, query, itemID, cancelledDispenseStatuses).Scan(&total); err != nil {
		return 0, fmt.Errorf("summing dispenses: %w", err)
	}
	return total, nil
}

// UpsertItem persists the item with its recomputed net content.
func (s *PostgresStore) UpsertItem(ctx context.Context, item *InventoryItem) error {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}

	query := `
		INSERT INTO inventory_items (id, product_id, location_id, status, net_content, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (location_id, product_id) DO UPDATE SET
			status = EXCLUDED.status,
			net_content = EXCLUDED.net_content,
			updated_at = EXCLUDED.updated_at`

	_, err := s.db.Exec(ctx, query,
		item.ID, item.ProductID, item.LocationID,
		item.Status, item.NetContent, item.UpdatedAt,
	)
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"location_id": item.LocationID,
			"product_id":  item.ProductID,
			"error":       err,
		}).Error("Failed to upsert inventory item")
		return fmt.Errorf("upserting inventory item: %w", err)
	}
	return nil
}
