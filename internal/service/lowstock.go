package service

import (
	"context"
	"fmt"
	"time"

	"github.com/richardliu001/order-choreography/internal/domain"
	"github.com/richardliu001/order-choreography/internal/messaging"
	"github.com/richardliu001/order-choreography/internal/model"
	"go.uber.org/zap"
)

const (
	minRestockTarget = 50
	restockRequester = "System"
	unknownProduct   = "Unknown Product"
)

// LowStockMonitor turns post-mutation stock levels into warnings and restock requests.
type LowStockMonitor struct {
	threshold int
	publisher messaging.Publisher
	topology  messaging.Topology
	log       *zap.SugaredLogger
}

func NewLowStockMonitor(threshold int, pub messaging.Publisher, topology messaging.Topology, logger *zap.SugaredLogger) *LowStockMonitor {
	return &LowStockMonitor{threshold: threshold, publisher: pub, topology: topology, log: logger}
}

// RestockQuantity tops on-hand stock up to max(3*reorder level, 50); never negative.
func RestockQuantity(item model.InventoryItem) int {
	target := item.ReorderLevel * 3
	if target < minRestockTarget {
		target = minRestockTarget
	}
	if q := target - item.OnHand(); q > 0 {
		return q
	}
	return 0
}

func RestockPriority(item model.InventoryItem) domain.RestockPriority {
	switch {
	case item.QuantityAvailable == 0:
		return domain.PriorityCritical
	case item.QuantityAvailable <= item.ReorderLevel/2:
		return domain.PriorityHigh
	default:
		return domain.PriorityNormal
	}
}

// Evaluate returns the signals for one item; either may be nil.
func (m *LowStockMonitor) Evaluate(item model.InventoryItem, name string, at time.Time) (*domain.LowStockWarning, *domain.RestockRequest) {
	if item.QuantityAvailable > m.threshold {
		return nil, nil
	}
	if name == "" {
		name = unknownProduct
	}
	qty := RestockQuantity(item)
	warning := &domain.LowStockWarning{
		ProductID:                  item.ProductID,
		ProductName:                name,
		CurrentStock:               item.QuantityAvailable,
		ReorderLevel:               item.ReorderLevel,
		RecommendedRestockQuantity: qty,
		WarningTimestamp:           at,
		Reason:                     fmt.Sprintf("Stock level (%d) is at or below threshold (%d)", item.QuantityAvailable, m.threshold),
	}
	if item.QuantityAvailable > item.ReorderLevel || qty == 0 {
		return warning, nil
	}
	return warning, &domain.RestockRequest{
		ProductID:         item.ProductID,
		ProductName:       name,
		RequestedQuantity: qty,
		CurrentStock:      item.QuantityAvailable,
		ReorderLevel:      item.ReorderLevel,
		RequestTimestamp:  at,
		Priority:          RestockPriority(item),
		RequestedBy:       restockRequester,
	}
}

// Check publishes signals for items. Publish failures are logged; stock has
// already been committed and the next mutation re-evaluates the product.
func (m *LowStockMonitor) Check(ctx context.Context, items []model.InventoryItem, names map[string]string) {
	at := time.Now().UTC()
	for _, it := range items {
		warning, restock := m.Evaluate(it, names[it.ProductID], at)
		if warning != nil {
			m.publish(ctx, m.topology.LowStockWarning, it.ProductID, *warning)
			m.log.Warnf("low stock warning for %s: %d units remaining", it.ProductID, it.QuantityAvailable)
		}
		if restock != nil {
			m.publish(ctx, m.topology.Restocking, it.ProductID, *restock)
			m.log.Warnf("restock request for %s: requesting %d units (%s)", it.ProductID, restock.RequestedQuantity, restock.Priority)
		}
	}
}

func (m *LowStockMonitor) publish(ctx context.Context, route messaging.Route, productID string, p domain.Payload) {
	e, err := domain.NewEvent(productID, p, 0, time.Now())
	if err != nil {
		m.log.Errorf("build %s for %s: %v", p.Kind(), productID, err)
		return
	}
	e.CorrelationID = domain.CorrelationIDFrom(ctx)
	if err := m.publisher.Publish(ctx, route, e); err != nil {
		m.log.Errorf("publish %s for %s: %v", p.Kind(), productID, err)
	}
}
