package messaging

import (
	"context"
	"sync"
	"time"

	"github.com/richardliu001/order-choreography/internal/domain"
	"go.uber.org/zap"
)

const memoryQueueSize = 1024

type binding struct {
	routingKey string
	queue      string
}

// MemoryBus is an in-process broker with exchange/queue/binding semantics.
// Messages published to an exchange with no matching binding are dropped.
type MemoryBus struct {
	mu       sync.Mutex
	queues   map[string]chan Message
	bindings map[string][]binding
	backoff  time.Duration
	log      *zap.SugaredLogger
}

func NewMemoryBus(backoff time.Duration, logger *zap.SugaredLogger) *MemoryBus {
	return &MemoryBus{
		queues:   make(map[string]chan Message),
		bindings: make(map[string][]binding),
		backoff:  backoff,
		log:      logger,
	}
}

// Declare creates sub's queue and bindings. Consume calls it; publishers that
// start first can call it to avoid losing early messages.
func (b *MemoryBus) Declare(sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.queues[sub.Queue]; !ok {
		b.queues[sub.Queue] = make(chan Message, memoryQueueSize)
	}
	for _, key := range sub.RoutingKeys {
		if b.bound(sub.Exchange, key, sub.Queue) {
			continue
		}
		b.bindings[sub.Exchange] = append(b.bindings[sub.Exchange], binding{routingKey: key, queue: sub.Queue})
	}
}

func (b *MemoryBus) bound(exchange, key, queue string) bool {
	for _, bd := range b.bindings[exchange] {
		if bd.routingKey == key && bd.queue == queue {
			return true
		}
	}
	return false
}

func (b *MemoryBus) targets(route Route) []chan Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []chan Message
	seen := make(map[string]bool)
	for _, bd := range b.bindings[route.Exchange] {
		if bd.routingKey != route.RoutingKey || seen[bd.queue] {
			continue
		}
		seen[bd.queue] = true
		out = append(out, b.queues[bd.queue])
	}
	return out
}

func (b *MemoryBus) Publish(ctx context.Context, route Route, events ...domain.Event) error {
	targets := b.targets(route)
	if len(targets) == 0 {
		b.log.Debugf("no queue bound to %s/%s, dropping %d event(s)", route.Exchange, route.RoutingKey, len(events))
		return nil
	}
	for _, e := range events {
		msg, err := Encode(route, e)
		if err != nil {
			return err
		}
		for _, q := range targets {
			select {
			case q <- msg:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}

// Consume handles one message at a time. A failed message is redelivered
// before anything behind it.
func (b *MemoryBus) Consume(ctx context.Context, sub Subscription, h Handler) error {
	b.Declare(sub)
	b.mu.Lock()
	q := b.queues[sub.Queue]
	b.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-q:
			if !deliver(ctx, sub.Queue, msg, h, b.backoff, b.log) {
				return nil
			}
		}
	}
}
