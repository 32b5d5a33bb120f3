package main

import (
	"github.com/richardliu001/order-choreography/internal/app"
	"github.com/richardliu001/order-choreography/internal/messaging"
	"github.com/richardliu001/order-choreography/internal/processor"
	"github.com/richardliu001/order-choreography/internal/repo"
)

func main() {
	base := app.Start("order-processor")
	defer base.Close()
	cfg, log := base.Config, base.Log

	rdb := app.OpenRedis(base.Ctx, cfg.Redis, log)
	if rdb != nil {
		defer rdb.Close()
	} else {
		log.Warn("no redis: duplicate deliveries will be processed again")
	}

	kp := messaging.NewKafkaPublisher(cfg.Kafka, log)
	defer kp.Close()

	top := messaging.NewTopology(cfg.Topology)
	p := processor.New(kp, top.ProcessedOrders, repo.NewDeduplicator(rdb, "processor", cfg.Cache.DedupeTTL), cfg.Processor.SimulatedWork, log)
	if err := p.Run(base.Ctx, messaging.NewKafkaConsumer(cfg.Kafka, log), top.Orders.Subscription()); err != nil {
		log.Errorf("processor: %v", err)
	}
	log.Info("order-processor stopped")
}
