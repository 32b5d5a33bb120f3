package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/richardliu001/order-choreography/internal/domain"
)

const (
	HeaderKind          = "kind"
	HeaderRoutingKey    = "routing-key"
	HeaderEventID       = "event-id"
	HeaderCorrelationID = "correlation-id"
)

// Message is a transport-neutral delivery.
type Message struct {
	Kind       domain.Kind
	RoutingKey string
	Key        string
	Body       []byte
	Headers    map[string]string
}

// Handler returning an error leaves the message unacknowledged for redelivery.
type Handler func(ctx context.Context, msg Message) error

type Publisher interface {
	Publish(ctx context.Context, route Route, events ...domain.Event) error
}

// Consumer delivers messages from sub to h until ctx is cancelled.
type Consumer interface {
	Consume(ctx context.Context, sub Subscription, h Handler) error
}

// Encode wraps an event for route. The body is the event wire shape; the kind
// is duplicated into a header so consumers can filter without decoding.
func Encode(route Route, e domain.Event) (Message, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s: %w", e.Kind, err)
	}
	headers := map[string]string{
		HeaderKind:       string(e.Kind),
		HeaderRoutingKey: route.RoutingKey,
		HeaderEventID:    e.ID,
	}
	if e.CorrelationID != "" {
		headers[HeaderCorrelationID] = e.CorrelationID
	}
	return Message{
		Kind:       e.Kind,
		RoutingKey: route.RoutingKey,
		Key:        e.AggregateID,
		Body:       body,
		Headers:    headers,
	}, nil
}

// ResolveKind fills msg.Kind from the header, falling back to the body.
func ResolveKind(msg *Message) error {
	if msg.Kind != "" {
		return nil
	}
	if k := msg.Headers[HeaderKind]; k != "" {
		msg.Kind = domain.Kind(k)
		return nil
	}
	k, err := domain.PeekKind(msg.Body)
	if err != nil {
		return fmt.Errorf("peek kind: %w", err)
	}
	msg.Kind = k
	return nil
}

func DecodeEvent(msg Message) (domain.Event, error) {
	var e domain.Event
	if err := json.Unmarshal(msg.Body, &e); err != nil {
		return domain.Event{}, fmt.Errorf("decode event: %w", err)
	}
	return e, nil
}
