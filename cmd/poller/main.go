package main

import (
	"github.com/richardliu001/order-choreography/internal/app"
	"github.com/richardliu001/order-choreography/internal/messaging"
	"github.com/richardliu001/order-choreography/internal/repo"
	"github.com/richardliu001/order-choreography/internal/service"
)

func main() {
	base := app.Start("order-poller")
	defer base.Close()
	cfg, log := base.Config, base.Log

	gdb, err := app.OpenPostgres(cfg.Postgres, log)
	if err != nil {
		log.Fatalf("%v", err)
	}

	kp := messaging.NewKafkaPublisher(cfg.Kafka, log)
	defer kp.Close()

	top := messaging.NewTopology(cfg.Topology)
	relay := service.NewOutboxRelay(repo.NewEventStore(gdb, log), kp, top.Orders, cfg.Relay.BatchSize, cfg.Relay.Grace, log)
	if err := relay.Run(base.Ctx, cfg.Relay.Interval); err != nil {
		log.Errorf("relay: %v", err)
	}
	log.Info("order-poller stopped")
}
