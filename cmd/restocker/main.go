package main

import (
	"github.com/richardliu001/order-choreography/internal/app"
	"github.com/richardliu001/order-choreography/internal/messaging"
	"github.com/richardliu001/order-choreography/internal/restocker"
)

func main() {
	base := app.Start("restocker")
	defer base.Close()
	cfg, log := base.Config, base.Log

	top := messaging.NewTopology(cfg.Topology)
	r := restocker.New(cfg.Restocker, log)
	if err := r.Run(base.Ctx, messaging.NewKafkaConsumer(cfg.Kafka, log), top.RestockingSubscription()); err != nil {
		log.Errorf("restocker: %v", err)
	}
	log.Info("restocker stopped")
}
