package service

import (
	"context"
	"testing"
	"time"

	"github.com/richardliu001/order-choreography/internal/config"
	"github.com/richardliu001/order-choreography/internal/domain"
	"github.com/richardliu001/order-choreography/internal/messaging"
	"github.com/richardliu001/order-choreography/internal/model"
	"github.com/richardliu001/order-choreography/internal/repo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestCheckAndReserve_ConservesStock(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, product("A", 10, 1), product("B", 5, 1))

	res, err := f.inventory.CheckAndReserve(ctx, "o-1", []domain.LineItem{line("A", 3), line("B", 2), line("A", 1)})

	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Empty(t, res.Shortages)
	require.Len(t, res.Reservations, 2)
	assert.Equal(t, 4, res.Reservations[0].QuantityReserved)

	a, b := f.item(t, "A"), f.item(t, "B")
	assert.Equal(t, 6, a.QuantityAvailable)
	assert.Equal(t, 4, a.QuantityReserved)
	assert.Equal(t, 10, a.OnHand())
	assert.Equal(t, 3, b.QuantityAvailable)
	assert.Equal(t, 2, b.QuantityReserved)
	assert.Equal(t, 5, b.OnHand())

	rs, err := f.inventory.Reservations(ctx, "o-1")
	require.NoError(t, err)
	require.Len(t, rs, 2)
	for _, r := range rs {
		assert.Equal(t, string(domain.ReservationActive), r.Status)
	}
}

// stealStock empties productID right before the next n guarded stock updates,
// inside their transaction, as a concurrent order would between read and write.
func stealStock(t *testing.T, f *fixture, productID string, n int) *int {
	t.Helper()
	stolen := 0
	err := f.db.Callback().Update().Before("gorm:update").Register("test:steal_stock", func(tx *gorm.DB) {
		if tx.Statement.Table != "inventory_items" || stolen >= n {
			return
		}
		stolen++
		err := tx.Session(&gorm.Session{NewDB: true}).
			Exec("UPDATE inventory_items SET quantity_available = 0 WHERE product_id = ?", productID).Error
		require.NoError(t, err)
	})
	require.NoError(t, err)
	return &stolen
}

func TestCheckAndReserve_RetriesWhenStockMoves(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, product("A", 5, 1))
	stolen := stealStock(t, f, "A", 1)

	res, err := f.inventory.CheckAndReserve(ctx, "o-1", []domain.LineItem{line("A", 3)})

	require.NoError(t, err)
	assert.Equal(t, 1, *stolen)
	assert.True(t, res.Success)
	a := f.item(t, "A")
	assert.Equal(t, 2, a.QuantityAvailable)
	assert.Equal(t, 3, a.QuantityReserved)
	rs, err := f.inventory.Reservations(ctx, "o-1")
	require.NoError(t, err)
	assert.Len(t, rs, 1, "the failed attempt left no reservation behind")
}

func TestCheckAndReserve_GivesUpAfterRetries(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, product("A", 5, 1))
	stolen := stealStock(t, f, "A", reserveAttempts)

	_, err := f.inventory.CheckAndReserve(ctx, "o-1", []domain.LineItem{line("A", 3)})

	assert.ErrorIs(t, err, repo.ErrStockChanged)
	assert.Equal(t, reserveAttempts, *stolen)
	a := f.item(t, "A")
	assert.Equal(t, 5, a.QuantityAvailable)
	assert.Zero(t, a.QuantityReserved)
	rs, err := f.inventory.Reservations(ctx, "o-1")
	require.NoError(t, err)
	assert.Empty(t, rs)
}

func TestCheckAndReserve_NoPartialReservation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, product("A", 10, 1), product("B", 2, 1))

	res, err := f.inventory.CheckAndReserve(ctx, "o-1", []domain.LineItem{line("A", 3), line("B", 5), line("GHOST", 1)})

	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Empty(t, res.Reservations)
	assert.Equal(t, []domain.ShortageItem{
		{ProductID: "B", QuantityRequested: 5, QuantityAvailable: 2, Shortage: 3},
		{ProductID: "GHOST", QuantityRequested: 1, QuantityAvailable: 0, Shortage: 1},
	}, res.Shortages)

	a, b := f.item(t, "A"), f.item(t, "B")
	assert.Equal(t, 10, a.QuantityAvailable)
	assert.Zero(t, a.QuantityReserved)
	assert.Equal(t, 2, b.QuantityAvailable)
	assert.Zero(t, b.QuantityReserved)

	rs, err := f.inventory.Reservations(ctx, "o-1")
	require.NoError(t, err)
	assert.Empty(t, rs)
}

func TestRelease_RestoresStockOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, product("A", 10, 1))

	res, err := f.inventory.CheckAndReserve(ctx, "O1", []domain.LineItem{line("A", 3)})
	require.NoError(t, err)
	require.True(t, res.Success)
	a := f.item(t, "A")
	assert.Equal(t, 7, a.QuantityAvailable)
	assert.Equal(t, 3, a.QuantityReserved)

	require.NoError(t, f.inventory.Release(ctx, "O1", "customer request"))

	a = f.item(t, "A")
	assert.Equal(t, 10, a.QuantityAvailable)
	assert.Zero(t, a.QuantityReserved)
	rs, err := f.inventory.Reservations(ctx, "O1")
	require.NoError(t, err)
	require.Len(t, rs, 1)
	assert.Equal(t, string(domain.ReservationReleased), rs[0].Status)
	assert.Equal(t, "customer request", rs[0].Reason)
	assert.NotNil(t, rs[0].ReleasedAt)

	require.NoError(t, f.inventory.Release(ctx, "O1", "again"))
	assert.Equal(t, a, f.item(t, "A"))
	rs, _ = f.inventory.Reservations(ctx, "O1")
	assert.Equal(t, "customer request", rs[0].Reason)
}

func TestReleaseReservations_OnlyNamed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, product("A", 10, 1))

	first, err := f.inventory.CheckAndReserve(ctx, "O1", []domain.LineItem{line("A", 2)})
	require.NoError(t, err)
	_, err = f.inventory.CheckAndReserve(ctx, "O1", []domain.LineItem{line("A", 3)})
	require.NoError(t, err)

	require.NoError(t, f.inventory.ReleaseReservations(ctx, "O1", []string{first.Reservations[0].ReservationID}, "rollback"))

	a := f.item(t, "A")
	assert.Equal(t, 7, a.QuantityAvailable)
	assert.Equal(t, 3, a.QuantityReserved)
}

func TestFulfill_ConsumesReservedStock(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, product("A", 10, 1))
	_, err := f.inventory.CheckAndReserve(ctx, "O1", []domain.LineItem{line("A", 3)})
	require.NoError(t, err)

	require.NoError(t, f.inventory.Fulfill(ctx, "O1"))

	a := f.item(t, "A")
	assert.Equal(t, 7, a.QuantityAvailable)
	assert.Zero(t, a.QuantityReserved)
	rs, _ := f.inventory.Reservations(ctx, "O1")
	assert.Equal(t, string(domain.ReservationFulfilled), rs[0].Status)
	assert.NotNil(t, rs[0].FulfilledAt)

	// nothing Active remains to release
	require.NoError(t, f.inventory.Release(ctx, "O1", "late cancel"))
	assert.Equal(t, 7, f.item(t, "A").QuantityAvailable)
}

func TestLowStockSignals(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, product("A", 6, 10))

	_, err := f.inventory.CheckAndReserve(ctx, "O1", []domain.LineItem{line("A", 2)})
	require.NoError(t, err)

	assert.Equal(t, []domain.Kind{domain.KindLowStockWarning}, f.publisher.kinds(f.topology.LowStockWarning))
	assert.Equal(t, []domain.Kind{domain.KindRestockRequest}, f.publisher.kinds(f.topology.Restocking))
	warning := f.publisher.payloads(domain.KindLowStockWarning)[0].(domain.LowStockWarning)
	assert.Equal(t, 4, warning.CurrentStock)
	assert.Equal(t, "Product A", warning.ProductName)
	assert.Equal(t, "Stock level (4) is at or below threshold (5)", warning.Reason)
	restock := f.publisher.payloads(domain.KindRestockRequest)[0].(domain.RestockRequest)
	assert.Equal(t, 44, restock.RequestedQuantity)
	assert.Equal(t, domain.PriorityHigh, restock.Priority)
	assert.Equal(t, "System", restock.RequestedBy)

	_, err = f.inventory.CheckAndReserve(ctx, "O2", []domain.LineItem{line("A", 4)})
	require.NoError(t, err)
	restock = f.publisher.payloads(domain.KindRestockRequest)[1].(domain.RestockRequest)
	assert.Equal(t, domain.PriorityCritical, restock.Priority)
	assert.Zero(t, restock.CurrentStock)

	// fulfilment does not change available stock and raises nothing
	before := len(f.publisher.kinds(f.topology.LowStockWarning))
	require.NoError(t, f.inventory.Fulfill(ctx, "O2"))
	assert.Len(t, f.publisher.kinds(f.topology.LowStockWarning), before)
}

func TestLowStockMonitor_Evaluate(t *testing.T) {
	m := NewLowStockMonitor(5, nil, messaging.Topology{}, nil)
	at := time.Now()

	w, r := m.Evaluate(model.InventoryItem{ProductID: "A", QuantityAvailable: 8, ReorderLevel: 10}, "A", at)
	assert.Nil(t, w)
	assert.Nil(t, r)

	w, r = m.Evaluate(model.InventoryItem{ProductID: "A", QuantityAvailable: 5, ReorderLevel: 3}, "", at)
	require.NotNil(t, w)
	assert.Nil(t, r, "above reorder level only warns")
	assert.Equal(t, "Unknown Product", w.ProductName)

	w, r = m.Evaluate(model.InventoryItem{ProductID: "A", QuantityAvailable: 3, QuantityReserved: 100, ReorderLevel: 10}, "A", at)
	require.NotNil(t, w)
	assert.Nil(t, r, "enough on hand, nothing to order")
	assert.Zero(t, w.RecommendedRestockQuantity)

	w, r = m.Evaluate(model.InventoryItem{ProductID: "A", QuantityAvailable: 4, ReorderLevel: 20}, "A", at)
	require.NotNil(t, r)
	assert.Equal(t, 56, r.RequestedQuantity)
	assert.Equal(t, domain.PriorityHigh, r.Priority)
	assert.Equal(t, 56, w.RecommendedRestockQuantity)

	_, r = m.Evaluate(model.InventoryItem{ProductID: "A", QuantityAvailable: 5, ReorderLevel: 6}, "A", at)
	require.NotNil(t, r)
	assert.Equal(t, domain.PriorityNormal, r.Priority)
}

func TestSeed_OnlyOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, product("A", 10, 1))

	seeded, err := f.inventory.Seed(ctx, nil)
	require.NoError(t, err)
	assert.False(t, seeded)
	seeded, err = f.inventory.Seed(ctx, []config.ProductSeed{product("B", 1, 1)})
	require.NoError(t, err)
	assert.False(t, seeded)

	ps, err := f.inventory.Products(ctx, nil)
	require.NoError(t, err)
	require.Len(t, ps, 1)
	assert.Equal(t, "A", ps[0].ID)

	ok, err := f.inventory.IsAvailable(ctx, []domain.LineItem{line("A", 10)})
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = f.inventory.IsAvailable(ctx, []domain.LineItem{line("A", 6), line("A", 5)})
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = f.inventory.Item(ctx, "B")
	assert.ErrorIs(t, err, ErrProductNotFound)
}
