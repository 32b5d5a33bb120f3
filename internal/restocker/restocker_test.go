package restocker

import (
	"context"
	"testing"
	"time"

	"github.com/richardliu001/order-choreography/internal/config"
	"github.com/richardliu001/order-choreography/internal/domain"
	"github.com/richardliu001/order-choreography/internal/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newRestocker(cfg config.RestockerConfig) (*Restocker, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.InfoLevel)
	return New(cfg, zap.New(core).Sugar()), logs
}

func encode(t *testing.T, p domain.Payload, key string) messaging.Message {
	t.Helper()
	ev, err := domain.NewEvent(key, p, 0, time.Now())
	require.NoError(t, err)
	msg, err := messaging.Encode(messaging.Route{Exchange: "restocking_exchange", RoutingKey: "restocking"}, ev)
	require.NoError(t, err)
	return msg
}

func TestHandle_RestockRequest(t *testing.T) {
	r, logs := newRestocker(config.RestockerConfig{LeadTime: 72 * time.Hour})

	err := r.Handle(context.Background(), encode(t, domain.RestockRequest{
		ProductID:         "A",
		ProductName:       "Laptop",
		RequestedQuantity: 44,
		Priority:          domain.PriorityCritical,
		RequestedBy:       "System",
	}, "A"))

	require.NoError(t, err)
	placed := logs.FilterMessage("supplier order placed").All()
	require.Len(t, placed, 1)
	fields := placed[0].ContextMap()
	assert.Equal(t, "A", fields["product_id"])
	assert.EqualValues(t, 44, fields["quantity"])
	assert.NotEmpty(t, fields["purchase_order"])
	assert.Equal(t, 1, logs.FilterMessage("critical restock for A: product is out of stock").Len())
}

func TestHandle_LowStockWarning(t *testing.T) {
	r, logs := newRestocker(config.RestockerConfig{})

	err := r.Handle(context.Background(), encode(t, domain.LowStockWarning{ProductID: "B", CurrentStock: 3, Reason: "low"}, "B"))

	require.NoError(t, err)
	assert.Equal(t, 1, logs.FilterMessage("low stock").Len())
	assert.Equal(t, 1, logs.FilterMessage("purchasing notified about B").Len())
}

func TestHandle_DropsUnknownAndMalformed(t *testing.T) {
	r, logs := newRestocker(config.RestockerConfig{})
	ctx := context.Background()

	assert.NoError(t, r.Handle(ctx, messaging.Message{Kind: "Mystery"}))
	assert.NoError(t, r.Handle(ctx, messaging.Message{Kind: domain.KindRestockRequest, Body: []byte("{")}))
	assert.Equal(t, 1, logs.FilterMessage(`dropping message of kind "Mystery"`).Len())
	assert.Empty(t, logs.FilterMessage("supplier order placed").All())
}

func TestHandle_CancelledWhileOrdering(t *testing.T) {
	r, logs := newRestocker(config.RestockerConfig{OrderDelay: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := r.Handle(ctx, encode(t, domain.RestockRequest{ProductID: "A", RequestedQuantity: 5}, "A"))

	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, logs.FilterMessage("supplier order placed").Len())
}
