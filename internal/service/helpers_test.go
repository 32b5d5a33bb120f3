package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/richardliu001/order-choreography/internal/config"
	"github.com/richardliu001/order-choreography/internal/domain"
	"github.com/richardliu001/order-choreography/internal/messaging"
	"github.com/richardliu001/order-choreography/internal/model"
	"github.com/richardliu001/order-choreography/internal/repo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type publishedEvent struct {
	route messaging.Route
	event domain.Event
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, route messaging.Route, events ...domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	for _, e := range events {
		p.events = append(p.events, publishedEvent{route: route, event: e})
	}
	return nil
}

func (p *recordingPublisher) kinds(route messaging.Route) []domain.Kind {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []domain.Kind
	for _, pe := range p.events {
		if pe.route == route {
			out = append(out, pe.event.Kind)
		}
	}
	return out
}

func (p *recordingPublisher) payloads(kind domain.Kind) []domain.Payload {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []domain.Payload
	for _, pe := range p.events {
		if pe.event.Kind != kind {
			continue
		}
		pl, err := pe.event.Decode()
		if err == nil {
			out = append(out, pl)
		}
	}
	return out
}

type fixture struct {
	db        *gorm.DB
	store     *repo.EventStore
	inventory *InventoryService
	publisher *recordingPublisher
	topology  messaging.Topology
	log       *zap.SugaredLogger
}

func newFixture(t *testing.T, seeds ...config.ProductSeed) *fixture {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(
		&model.EventRecord{}, &model.EventStream{},
		&model.Product{}, &model.InventoryItem{}, &model.InventoryReservation{},
	))

	cfg, err := config.Parse([]byte("{}"))
	require.NoError(t, err)
	log := zap.NewNop().Sugar()
	pub := &recordingPublisher{}
	top := messaging.NewTopology(cfg.Topology)
	monitor := NewLowStockMonitor(cfg.Inventory.LowStockThreshold, pub, top, log)
	inv := NewInventoryService(repo.NewInventoryRepository(db, log), monitor, log)
	if len(seeds) > 0 {
		seeded, err := inv.Seed(context.Background(), seeds)
		require.NoError(t, err)
		require.True(t, seeded)
	}
	return &fixture{
		db:        db,
		store:     repo.NewEventStore(db, log),
		inventory: inv,
		publisher: pub,
		topology:  top,
		log:       log,
	}
}

func (f *fixture) orders(opts ...Option) *OrderService {
	return NewOrderService(f.store, f.inventory, f.publisher, f.topology.Orders, f.log, opts...)
}

func (f *fixture) item(t *testing.T, productID string) model.InventoryItem {
	t.Helper()
	it, err := f.inventory.Item(context.Background(), productID)
	require.NoError(t, err)
	return *it
}

func product(id string, qty, reorder int) config.ProductSeed {
	return config.ProductSeed{
		ID:           id,
		Name:         "Product " + id,
		Price:        decimal.NewFromInt(10),
		Quantity:     qty,
		ReorderLevel: reorder,
	}
}

func line(productID string, qty int) domain.LineItem {
	return domain.LineItem{ProductID: productID, Quantity: qty}
}
