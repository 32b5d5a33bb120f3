package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind is the discriminator carried by every event and message envelope.
type Kind string

const (
	KindOrderCreated                  Kind = "OrderCreated"
	KindInventoryReservationRequested Kind = "InventoryReservationRequested"
	KindInventoryReserved             Kind = "InventoryReserved"
	KindInventoryInsufficient         Kind = "InventoryInsufficient"
	KindOrderPending                  Kind = "OrderPending"
	KindOrderProcessingStarted        Kind = "OrderProcessingStarted"
	KindOrderFulfilled                Kind = "OrderFulfilled"
	KindOrderCancelled                Kind = "OrderCancelled"
	KindLowStockWarning               Kind = "LowStockWarning"
	KindRestockRequest                Kind = "RestockRequest"
)

// Event is the stored and transmitted form of a domain event.
type Event struct {
	ID            string          `json:"id"`
	AggregateID   string          `json:"aggregateId"`
	Kind          Kind            `json:"kind"`
	Timestamp     time.Time       `json:"timestamp"`
	Version       int64           `json:"version"`
	Payload       json.RawMessage `json:"payload"`
	CorrelationID string          `json:"correlationId,omitempty"`
	CausationID   string          `json:"causationId,omitempty"`
}

// Payload is implemented by every typed event body.
type Payload interface {
	Kind() Kind
}

type decoder func(data []byte) (Payload, error)

func decodeAs[T Payload](data []byte) (Payload, error) {
	var p T
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return p, nil
}

var decoders = map[Kind]decoder{
	KindOrderCreated:                  decodeAs[OrderCreated],
	KindInventoryReservationRequested: decodeAs[InventoryReservationRequested],
	KindInventoryReserved:             decodeAs[InventoryReserved],
	KindInventoryInsufficient:         decodeAs[InventoryInsufficient],
	KindOrderPending:                  decodeAs[OrderPending],
	KindOrderProcessingStarted:        decodeAs[OrderProcessingStarted],
	KindOrderFulfilled:                decodeAs[OrderFulfilled],
	KindOrderCancelled:                decodeAs[OrderCancelled],
	KindLowStockWarning:               decodeAs[LowStockWarning],
	KindRestockRequest:                decodeAs[RestockRequest],
}

// Known reports whether k has a registered decoder.
func Known(k Kind) bool {
	_, ok := decoders[k]
	return ok
}

// NewEvent serializes p into a fresh event for aggregateID.
func NewEvent(aggregateID string, p Payload, version int64, at time.Time) (Event, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s: %w", p.Kind(), err)
	}
	return Event{
		ID:          newEventID(),
		AggregateID: aggregateID,
		Kind:        p.Kind(),
		Timestamp:   at.UTC().Truncate(time.Microsecond),
		Version:     version,
		Payload:     body,
	}, nil
}

// Decode rebuilds the typed payload through the kind table.
func (e Event) Decode() (Payload, error) {
	dec, ok := decoders[e.Kind]
	if !ok {
		return nil, fmt.Errorf("unknown event kind %q", e.Kind)
	}
	p, err := dec(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", e.Kind, err)
	}
	return p, nil
}

// PeekKind reads only the kind field of a serialized event.
func PeekKind(data []byte) (Kind, error) {
	var head struct {
		Kind Kind `json:"kind"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return "", err
	}
	return head.Kind, nil
}

func newEventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

type correlationKey struct{}

// WithCorrelationID attaches the id stamped on events produced under ctx.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationIDFrom returns the id set by WithCorrelationID, if any.
func CorrelationIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}
