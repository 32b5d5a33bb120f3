package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/richardliu001/order-choreography/internal/domain"
	"github.com/richardliu001/order-choreography/internal/messaging"
	"go.uber.org/zap"
)

// Deduper claims incoming event ids so a redelivered event is handled once.
type Deduper interface {
	FirstSeen(ctx context.Context, id string) (bool, error)
	Forget(ctx context.Context, id string) error
}

// Processor reacts to orders entering processing by announcing them as
// fulfilled on the processed-orders route. It never writes the order stream;
// the order service stays the single owner of order state.
type Processor struct {
	publisher messaging.Publisher
	route     messaging.Route
	dedupe    Deduper
	work      time.Duration
	log       *zap.SugaredLogger
}

func New(pub messaging.Publisher, processed messaging.Route, dedupe Deduper, work time.Duration, logger *zap.SugaredLogger) *Processor {
	return &Processor{publisher: pub, route: processed, dedupe: dedupe, work: work, log: logger}
}

// Run consumes sub until ctx is cancelled.
func (p *Processor) Run(ctx context.Context, c messaging.Consumer, sub messaging.Subscription) error {
	p.log.Infof("processor listening on %s", sub.Queue)
	return c.Consume(ctx, sub, p.Handle)
}

// Handle is the messaging.Handler for the orders queue.
func (p *Processor) Handle(ctx context.Context, msg messaging.Message) error {
	if msg.Kind != domain.KindOrderProcessingStarted {
		if !domain.Known(msg.Kind) {
			p.log.Warnf("dropping message of unknown kind %q", msg.Kind)
		}
		return nil
	}

	ev, err := messaging.DecodeEvent(msg)
	if err != nil {
		p.log.Errorf("dropping malformed %s: %v", msg.Kind, err)
		return nil
	}
	payload, err := ev.Decode()
	if err != nil {
		p.log.Errorf("dropping malformed %s: %v", msg.Kind, err)
		return nil
	}
	started, ok := payload.(domain.OrderProcessingStarted)
	if !ok {
		p.log.Errorf("dropping %s with payload %T", msg.Kind, payload)
		return nil
	}

	first, err := p.dedupe.FirstSeen(ctx, ev.ID)
	if err != nil {
		return fmt.Errorf("claim event %s: %w", ev.ID, err)
	}
	if !first {
		p.log.Infof("event %s for order %s already processed", ev.ID, ev.AggregateID)
		return nil
	}

	if err := p.fulfil(ctx, ev, started); err != nil {
		if ferr := p.dedupe.Forget(ctx, ev.ID); ferr != nil {
			p.log.Warnf("release claim on %s: %v", ev.ID, ferr)
		}
		return err
	}
	return nil
}

func (p *Processor) fulfil(ctx context.Context, ev domain.Event, started domain.OrderProcessingStarted) error {
	p.log.Infow("processing order", "order_id", ev.AggregateID, "customer", started.Order.CustomerName,
		"total", started.Order.TotalAmount.String())

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(p.work):
	}

	snap := started.Order
	snap.Status = domain.StatusFulfilled
	out, err := domain.NewEvent(ev.AggregateID, domain.OrderFulfilled{Order: snap}, ev.Version+1, time.Now())
	if err != nil {
		return err
	}
	out.CausationID = ev.ID
	out.CorrelationID = ev.CorrelationID
	if err := p.publisher.Publish(ctx, p.route, out); err != nil {
		return fmt.Errorf("publish fulfilment of %s: %w", ev.AggregateID, err)
	}
	p.log.Infow("order fulfilled", "order_id", ev.AggregateID, "event_id", out.ID)
	return nil
}
