package processor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/richardliu001/order-choreography/internal/domain"
	"github.com/richardliu001/order-choreography/internal/messaging"
	"github.com/richardliu001/order-choreography/internal/repo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakePublisher struct {
	routes []messaging.Route
	events []domain.Event
	err    error
}

func (p *fakePublisher) Publish(ctx context.Context, route messaging.Route, events ...domain.Event) error {
	if p.err != nil {
		return p.err
	}
	for _, e := range events {
		p.routes = append(p.routes, route)
		p.events = append(p.events, e)
	}
	return nil
}

type memoryDeduper struct {
	seen map[string]bool
}

func (d *memoryDeduper) FirstSeen(ctx context.Context, id string) (bool, error) {
	if d.seen[id] {
		return false, nil
	}
	d.seen[id] = true
	return true, nil
}

func (d *memoryDeduper) Forget(ctx context.Context, id string) error {
	delete(d.seen, id)
	return nil
}

var processed = messaging.Route{Exchange: "processed_orders_exchange", RoutingKey: "processed_orders", Queue: "processed_orders_queue"}

func startedMessage(t *testing.T) (domain.Event, messaging.Message) {
	t.Helper()
	snap := domain.OrderSnapshot{
		OrderID:      "o-1",
		CustomerName: "Ada",
		TotalAmount:  decimal.NewFromInt(30),
		Items:        []domain.LineItem{{ProductID: "A", Quantity: 3, UnitPrice: decimal.NewFromInt(10)}},
		Status:       domain.StatusProcessing,
	}
	ev, err := domain.NewEvent("o-1", domain.OrderProcessingStarted{Order: snap}, 4, time.Now())
	require.NoError(t, err)
	ev.CorrelationID = "corr-1"
	msg, err := messaging.Encode(messaging.Route{Exchange: "orders_exchange", RoutingKey: "orders"}, ev)
	require.NoError(t, err)
	return ev, msg
}

func TestHandle_PublishesFulfilment(t *testing.T) {
	pub := &fakePublisher{}
	p := New(pub, processed, &memoryDeduper{seen: map[string]bool{}}, 0, zap.NewNop().Sugar())
	ev, msg := startedMessage(t)

	require.NoError(t, p.Handle(context.Background(), msg))

	require.Len(t, pub.events, 1)
	out := pub.events[0]
	assert.Equal(t, processed, pub.routes[0])
	assert.Equal(t, domain.KindOrderFulfilled, out.Kind)
	assert.Equal(t, "o-1", out.AggregateID)
	assert.Equal(t, int64(5), out.Version)
	assert.Equal(t, ev.ID, out.CausationID)
	assert.Equal(t, "corr-1", out.CorrelationID)
	payload, err := out.Decode()
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFulfilled, payload.(domain.OrderFulfilled).Order.Status)

	// redelivery of the same event
	require.NoError(t, p.Handle(context.Background(), msg))
	assert.Len(t, pub.events, 1)
}

func TestHandle_IgnoresOtherKinds(t *testing.T) {
	pub := &fakePublisher{}
	p := New(pub, processed, &memoryDeduper{seen: map[string]bool{}}, 0, zap.NewNop().Sugar())

	ev, err := domain.NewEvent("o-1", domain.OrderCreated{}, 1, time.Now())
	require.NoError(t, err)
	msg, err := messaging.Encode(messaging.Route{RoutingKey: "orders"}, ev)
	require.NoError(t, err)
	require.NoError(t, p.Handle(context.Background(), msg))

	require.NoError(t, p.Handle(context.Background(), messaging.Message{Kind: "Mystery", Body: []byte(`{}`)}))
	require.NoError(t, p.Handle(context.Background(), messaging.Message{Kind: domain.KindOrderProcessingStarted, Body: []byte(`not json`)}))
	assert.Empty(t, pub.events)
}

func TestHandle_PublishFailureAllowsRetry(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker down")}
	dedupe := &memoryDeduper{seen: map[string]bool{}}
	p := New(pub, processed, dedupe, 0, zap.NewNop().Sugar())
	ev, msg := startedMessage(t)

	err := p.Handle(context.Background(), msg)
	require.Error(t, err)
	assert.False(t, dedupe.seen[ev.ID])

	pub.err = nil
	require.NoError(t, p.Handle(context.Background(), msg))
	assert.Len(t, pub.events, 1)
}

func TestHandle_CancelledDuringWork(t *testing.T) {
	pub := &fakePublisher{}
	dedupe := &memoryDeduper{seen: map[string]bool{}}
	p := New(pub, processed, dedupe, time.Hour, zap.NewNop().Sugar())
	ev, msg := startedMessage(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := p.Handle(ctx, msg)

	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, pub.events)
	assert.False(t, dedupe.seen[ev.ID])
}

func TestHandle_RedisDeduplicator(t *testing.T) {
	db, mock := redismock.NewClientMock()
	dedupe := repo.NewDeduplicator(db, "processor", time.Hour)
	pub := &fakePublisher{}
	p := New(pub, processed, dedupe, 0, zap.NewNop().Sugar())
	ev, msg := startedMessage(t)

	mock.ExpectSetNX("processed:processor:"+ev.ID, 1, time.Hour).SetVal(true)
	mock.ExpectSetNX("processed:processor:"+ev.ID, 1, time.Hour).SetVal(false)

	require.NoError(t, p.Handle(context.Background(), msg))
	require.NoError(t, p.Handle(context.Background(), msg))

	assert.Len(t, pub.events, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRun_OverMemoryBus(t *testing.T) {
	log := zap.NewNop().Sugar()
	bus := messaging.NewMemoryBus(time.Millisecond, log)
	orders := messaging.Route{Exchange: "orders_exchange", RoutingKey: "orders", Queue: "orders_queue"}
	sub := orders.Subscription()
	bus.Declare(sub)
	bus.Declare(processed.Subscription())

	p := New(bus, processed, &memoryDeduper{seen: map[string]bool{}}, 0, log)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = p.Run(ctx, bus, sub) }()

	got := make(chan domain.Event, 1)
	go func() {
		_ = bus.Consume(ctx, processed.Subscription(), func(ctx context.Context, msg messaging.Message) error {
			e, err := messaging.DecodeEvent(msg)
			if err != nil {
				return err
			}
			got <- e
			return nil
		})
	}()

	ev, _ := startedMessage(t)
	require.NoError(t, bus.Publish(ctx, orders, ev))

	select {
	case e := <-got:
		assert.Equal(t, domain.KindOrderFulfilled, e.Kind)
		assert.Equal(t, ev.ID, e.CausationID)
	case <-time.After(2 * time.Second):
		t.Fatal("no fulfilment published")
	}
}
