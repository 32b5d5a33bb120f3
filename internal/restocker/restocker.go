package restocker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/richardliu001/order-choreography/internal/config"
	"github.com/richardliu001/order-choreography/internal/domain"
	"github.com/richardliu001/order-choreography/internal/messaging"
	"go.uber.org/zap"
)

// Restocker stands in for purchasing: it acknowledges low-stock warnings and
// places simulated supplier orders for restock requests. Stock itself is only
// changed by the inventory owner.
type Restocker struct {
	cfg config.RestockerConfig
	log *zap.SugaredLogger
}

func New(cfg config.RestockerConfig, logger *zap.SugaredLogger) *Restocker {
	return &Restocker{cfg: cfg, log: logger}
}

func (r *Restocker) Run(ctx context.Context, c messaging.Consumer, sub messaging.Subscription) error {
	r.log.Infof("restocker listening on %s (%v)", sub.Queue, sub.RoutingKeys)
	return c.Consume(ctx, sub, r.Handle)
}

// Handle dispatches on kind. Unknown or malformed messages are dropped.
func (r *Restocker) Handle(ctx context.Context, msg messaging.Message) error {
	switch msg.Kind {
	case domain.KindLowStockWarning, domain.KindRestockRequest:
	default:
		r.log.Warnf("dropping message of kind %q", msg.Kind)
		return nil
	}

	ev, err := messaging.DecodeEvent(msg)
	if err != nil {
		r.log.Errorf("dropping malformed %s: %v", msg.Kind, err)
		return nil
	}
	payload, err := ev.Decode()
	if err != nil {
		r.log.Errorf("dropping malformed %s: %v", msg.Kind, err)
		return nil
	}

	switch p := payload.(type) {
	case domain.LowStockWarning:
		return r.warn(ctx, p)
	case domain.RestockRequest:
		return r.restock(ctx, p)
	}
	return nil
}

func (r *Restocker) warn(ctx context.Context, w domain.LowStockWarning) error {
	r.log.Warnw("low stock",
		"product_id", w.ProductID,
		"product", w.ProductName,
		"current_stock", w.CurrentStock,
		"reorder_level", w.ReorderLevel,
		"recommended", w.RecommendedRestockQuantity,
		"reason", w.Reason)
	if err := sleep(ctx, r.cfg.NotifyDelay); err != nil {
		return err
	}
	r.log.Infof("purchasing notified about %s", w.ProductID)
	return nil
}

func (r *Restocker) restock(ctx context.Context, req domain.RestockRequest) error {
	r.log.Infow("restock requested",
		"product_id", req.ProductID,
		"product", req.ProductName,
		"quantity", req.RequestedQuantity,
		"priority", req.Priority,
		"requested_by", req.RequestedBy)
	if req.Priority == domain.PriorityCritical {
		r.log.Warnf("critical restock for %s: product is out of stock", req.ProductID)
	}
	if err := sleep(ctx, r.cfg.OrderDelay); err != nil {
		return err
	}
	eta := time.Now().Add(r.cfg.LeadTime)
	r.log.Infow("supplier order placed",
		"purchase_order", uuid.NewString(),
		"product_id", req.ProductID,
		"quantity", req.RequestedQuantity,
		"eta", eta.Format(time.RFC3339))
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
