package service

import (
	"context"
	"time"

	"github.com/richardliu001/order-choreography/internal/domain"
	"github.com/richardliu001/order-choreography/internal/messaging"
	"go.uber.org/zap"
)

// OutboxStore is the event log as seen by the relay.
type OutboxStore interface {
	Unpublished(ctx context.Context, olderThan time.Time, limit int) ([]domain.Event, error)
	MarkPublished(ctx context.Context, ids ...string) error
}

// OutboxRelay republishes order events whose inline publish never completed.
// Events younger than grace are skipped so the relay does not race the
// orchestrator's own publish.
type OutboxRelay struct {
	store     OutboxStore
	publisher messaging.Publisher
	route     messaging.Route
	batch     int
	grace     time.Duration
	log       *zap.SugaredLogger
}

func NewOutboxRelay(store OutboxStore, pub messaging.Publisher, route messaging.Route, batch int, grace time.Duration, logger *zap.SugaredLogger) *OutboxRelay {
	return &OutboxRelay{store: store, publisher: pub, route: route, batch: batch, grace: grace, log: logger}
}

// RunOnce publishes one batch and returns how many events went out.
func (r *OutboxRelay) RunOnce(ctx context.Context) (int, error) {
	events, err := r.store.Unpublished(ctx, time.Now().Add(-r.grace), r.batch)
	if err != nil {
		return 0, err
	}
	sent := 0
	failed := make(map[string]bool)
	for _, e := range events {
		// keep per-order order: once one event of an order fails, hold the rest
		if failed[e.AggregateID] {
			continue
		}
		if err := r.publisher.Publish(ctx, r.route, e); err != nil {
			r.log.Errorf("publish event %s of %s: %v", e.ID, e.AggregateID, err)
			failed[e.AggregateID] = true
			continue
		}
		if err := r.store.MarkPublished(ctx, e.ID); err != nil {
			r.log.Errorf("mark published %s: %v", e.ID, err)
			continue
		}
		sent++
	}
	if sent > 0 {
		r.log.Infof("relayed %d event(s)", sent)
	}
	return sent, nil
}

// Run polls until ctx is cancelled.
func (r *OutboxRelay) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.log.Info("outbox relay started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
				r.log.Errorf("poll outbox: %v", err)
			}
		}
	}
}
