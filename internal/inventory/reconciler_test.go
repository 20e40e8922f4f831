package inventory

import (
	"context"
	"fmt"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubStore serves canned movement aggregates and records the upserted item.
type stubStore struct {
	item      *InventoryItem
	incoming  float64
	outgoing  float64
	dispensed float64

	upserted *InventoryItem
	getErr   error
}

func (s *stubStore) GetItem(ctx context.Context, locationID, productID string) (*InventoryItem, error) {
	return s.item, s.getErr
}

func (s *stubStore) CompletedIncomingQuantity(ctx context.Context, locationID, productID string) (float64, error) {
	return s.incoming, nil
}

func (s *stubStore) InProgressOutgoingQuantity(ctx context.Context, itemID string) (float64, error) {
	return s.outgoing, nil
}

func (s *stubStore) ActiveDispensedQuantity(ctx context.Context, itemID string) (float64, error) {
	return s.dispensed, nil
}

func (s *stubStore) UpsertItem(ctx context.Context, item *InventoryItem) error {
	s.upserted = item
	return nil
}

// fakeLocker grants or refuses the lock and records releases.
type fakeLocker struct {
	held     bool
	released int
}

func (l *fakeLocker) Acquire(ctx context.Context, locationID, productID string) (func(ctx context.Context) error, error) {
	if l.held {
		return nil, ErrLockHeld
	}
	return func(ctx context.Context) error {
		l.released++
		return nil
	}, nil
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestReconcile_NetsMovements(t *testing.T) {
	store := &stubStore{
		item:      &InventoryItem{ID: "item-1", LocationID: "loc-1", ProductID: "prod-1", Status: "active"},
		incoming:  100,
		outgoing:  30,
		dispensed: 20,
	}
	locker := &fakeLocker{}
	reconciler := NewReconciler(store, locker, testLogger())

	item, err := reconciler.Reconcile(context.Background(), "loc-1", "prod-1")
	require.NoError(t, err)
	assert.InDelta(t, 50, item.NetContent, 1e-9)
	assert.False(t, item.UpdatedAt.IsZero())
	require.NotNil(t, store.upserted)
	assert.InDelta(t, 50, store.upserted.NetContent, 1e-9)
	assert.Equal(t, 1, locker.released)
}

func TestReconcile_CreatesItemWhenMissing(t *testing.T) {
	// No existing item: outgoing and dispense sums are skipped because
	// there is no item to move from yet.
	store := &stubStore{incoming: 40, outgoing: 999, dispensed: 999}
	locker := &fakeLocker{}
	reconciler := NewReconciler(store, locker, testLogger())

	item, err := reconciler.Reconcile(context.Background(), "loc-1", "prod-1")
	require.NoError(t, err)
	assert.Equal(t, "loc-1", item.LocationID)
	assert.Equal(t, "prod-1", item.ProductID)
	assert.Equal(t, "active", item.Status)
	assert.InDelta(t, 40, item.NetContent, 1e-9)
}

func TestReconcile_LockHeld(t *testing.T) {
	store := &stubStore{}
	locker := &fakeLocker{held: true}
	reconciler := NewReconciler(store, locker, testLogger())

	_, err := reconciler.Reconcile(context.Background(), "loc-1", "prod-1")
	require.ErrorIs(t, err, ErrLockHeld)
	assert.Nil(t, store.upserted, "store must not be touched without the lock")
}

func TestReconcile_ReleasesLockOnStoreError(t *testing.T) {
	store := &stubStore{getErr: fmt.Errorf("connection reset")}
	locker := &fakeLocker{}
	reconciler := NewReconciler(store, locker, testLogger())

	_, err := reconciler.Reconcile(context.Background(), "loc-1", "prod-1")
	require.Error(t, err)
	assert.Equal(t, 1, locker.released, "lock must be released on failure")
}

func TestLockKey(t *testing.T) {
	assert.Equal(t, "lock:location:loc-1:product:prod-9", lockKey("loc-1", "prod-9"))
}
