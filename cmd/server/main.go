package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/richardliu001/order-choreography/internal/app"
	"github.com/richardliu001/order-choreography/internal/messaging"
	"github.com/richardliu001/order-choreography/internal/processor"
	"github.com/richardliu001/order-choreography/internal/repo"
	"github.com/richardliu001/order-choreography/internal/restocker"
	"github.com/richardliu001/order-choreography/internal/service"
	httptransport "github.com/richardliu001/order-choreography/internal/transport/http"
	"golang.org/x/sync/errgroup"
)

func main() {
	// 1. config, logger, tracing
	base := app.Start("order-service")
	defer base.Close()
	cfg, log, ctx := base.Config, base.Log, base.Ctx

	// 2. postgres
	gdb, err := app.OpenPostgres(cfg.Postgres, log)
	if err != nil {
		log.Fatalf("%v", err)
	}

	// 3. redis (optional)
	rdb := app.OpenRedis(ctx, cfg.Redis, log)
	if rdb != nil {
		defer rdb.Close()
	}

	// 4. broker
	top := messaging.NewTopology(cfg.Topology)
	g, gctx := errgroup.WithContext(ctx)

	var pub messaging.Publisher
	switch cfg.Broker {
	case "memory":
		bus := messaging.NewMemoryBus(cfg.Kafka.RetryBackoff, log)
		pub = bus
		// single-process mode: every consumer runs here
		ordersSub, restockSub := top.Orders.Subscription(), top.RestockingSubscription()
		bus.Declare(ordersSub)
		bus.Declare(restockSub)
		proc := processor.New(bus, top.ProcessedOrders, repo.NewDeduplicator(rdb, "processor", cfg.Cache.DedupeTTL), cfg.Processor.SimulatedWork, log)
		rst := restocker.New(cfg.Restocker, log)
		g.Go(func() error { return proc.Run(gctx, bus, ordersSub) })
		g.Go(func() error { return rst.Run(gctx, bus, restockSub) })
	default:
		kp := messaging.NewKafkaPublisher(cfg.Kafka, log)
		defer kp.Close()
		pub = kp
	}

	// 5. repo & service
	store := repo.NewEventStore(gdb, log)
	monitor := service.NewLowStockMonitor(cfg.Inventory.LowStockThreshold, pub, top, log)
	inv := service.NewInventoryService(repo.NewInventoryRepository(gdb, log), monitor, log)
	if _, err := inv.Seed(ctx, cfg.Inventory.Seed); err != nil {
		log.Fatalf("%v", err)
	}
	orders := service.NewOrderService(store, inv, pub, top.Orders, log,
		service.WithCache(repo.NewOrderCache(rdb, cfg.Cache.OrderTTL)),
		service.WithCancelOnShortage(cfg.Inventory.CancelOnShortage),
	)
	if cfg.Broker == "memory" {
		relay := service.NewOutboxRelay(store, pub, top.Orders, cfg.Relay.BatchSize, cfg.Relay.Grace, log)
		g.Go(func() error { return relay.Run(gctx, cfg.Relay.Interval) })
	}

	// 6. gin router
	router := httptransport.NewRouter(orders, inv, cfg.Inventory.Seed, cfg.RateLimit, log)
	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Server.Port), Handler: router}

	// 7. serve until signalled
	g.Go(func() error {
		log.Infof("order-service listening on %s (broker=%s)", srv.Addr, cfg.Broker)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	if err := g.Wait(); err != nil {
		log.Errorf("order-service stopped: %v", err)
		return
	}
	log.Info("order-service stopped")
}
