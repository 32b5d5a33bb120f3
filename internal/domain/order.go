package domain

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusCreated    Status = "Created"
	StatusPending    Status = "Pending"
	StatusProcessing Status = "Processing"
	StatusFulfilled  Status = "Fulfilled"
	StatusCancelled  Status = "Cancelled"
)

// InsufficientInventoryReason is recorded when an order is cancelled by a failed reservation.
const InsufficientInventoryReason = "insufficient inventory"

var now = time.Now

type LineItem struct {
	ProductID string          `json:"productId"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

// Order is the state projected from an order's event stream. Intention methods
// never mutate the receiver; they return the next state and the events that produced it.
type Order struct {
	ID           string          `json:"id"`
	CustomerName string          `json:"customerName"`
	TotalAmount  decimal.Decimal `json:"totalAmount"`
	Items        []LineItem      `json:"items"`
	Status       Status          `json:"status"`
	Version      int64           `json:"version"`
	CreatedAt    time.Time       `json:"createdAt"`
	Reason       string          `json:"reason,omitempty"`
	LastEventID  string          `json:"lastEventId,omitempty"`
}

// OrderSnapshot is the order view embedded in every order event payload.
type OrderSnapshot struct {
	OrderID      string          `json:"orderId"`
	CustomerName string          `json:"customerName"`
	TotalAmount  decimal.Decimal `json:"totalAmount"`
	Items        []LineItem      `json:"items"`
	Status       Status          `json:"status"`
	CreatedAt    time.Time       `json:"createdAt"`
}

type OrderCreated struct {
	Order OrderSnapshot `json:"order"`
}

type InventoryReservationRequested struct {
	Order OrderSnapshot `json:"order"`
}

type InventoryReserved struct {
	Order        OrderSnapshot     `json:"order"`
	Reservations []ReservationItem `json:"reservations"`
}

type InventoryInsufficient struct {
	Order     OrderSnapshot  `json:"order"`
	Shortages []ShortageItem `json:"shortages"`
}

type OrderPending struct {
	Order     OrderSnapshot  `json:"order"`
	Shortages []ShortageItem `json:"shortages"`
}

type OrderProcessingStarted struct {
	Order OrderSnapshot `json:"order"`
}

type OrderFulfilled struct {
	Order OrderSnapshot `json:"order"`
}

type OrderCancelled struct {
	Order  OrderSnapshot `json:"order"`
	Reason string        `json:"reason"`
}

func (OrderCreated) Kind() Kind                  { return KindOrderCreated }
func (InventoryReservationRequested) Kind() Kind { return KindInventoryReservationRequested }
func (InventoryReserved) Kind() Kind             { return KindInventoryReserved }
func (InventoryInsufficient) Kind() Kind         { return KindInventoryInsufficient }
func (OrderPending) Kind() Kind                  { return KindOrderPending }
func (OrderProcessingStarted) Kind() Kind        { return KindOrderProcessingStarted }
func (OrderFulfilled) Kind() Kind                { return KindOrderFulfilled }
func (OrderCancelled) Kind() Kind                { return KindOrderCancelled }

// MergeLineItems sums quantities of repeated products, keeping the first unit
// price seen and the order in which products first appear.
func MergeLineItems(items []LineItem) []LineItem {
	merged := make([]LineItem, 0, len(items))
	index := make(map[string]int, len(items))
	for _, it := range items {
		if i, ok := index[it.ProductID]; ok {
			merged[i].Quantity += it.Quantity
			continue
		}
		index[it.ProductID] = len(merged)
		merged = append(merged, it)
	}
	return merged
}

// Total is the sum of quantity times unit price over items.
func Total(items []LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return total
}

// Create starts a new order stream.
func Create(id, customerName string, totalAmount decimal.Decimal, items []LineItem) (Order, []Event, error) {
	if id == "" {
		return Order{}, nil, invalidOrder("order id is required")
	}
	if customerName == "" {
		return Order{}, nil, invalidOrder("customer name is required")
	}
	if len(items) == 0 {
		return Order{}, nil, invalidOrder("order must contain at least one item")
	}
	for _, it := range items {
		if it.Quantity <= 0 {
			return Order{}, nil, invalidOrder("all item quantities must be positive")
		}
	}
	merged := MergeLineItems(items)
	at := now().UTC().Truncate(time.Microsecond)
	seed := Order{ID: id}
	return seed.emit(OrderCreated{Order: OrderSnapshot{
		OrderID:      id,
		CustomerName: customerName,
		TotalAmount:  totalAmount,
		Items:        merged,
		Status:       StatusCreated,
		CreatedAt:    at,
	}}, at)
}

// FromEvents rebuilds an order from its history. Events are applied in version order.
func FromEvents(events []Event) (Order, error) {
	sorted := make([]Event, len(events))
	copy(sorted, events)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Version < sorted[j].Version })

	var o Order
	for _, e := range sorted {
		next, err := o.Apply(e)
		if err != nil {
			return Order{}, err
		}
		o = next
	}
	return o, nil
}

// Apply folds one event into the order. Replay and live transitions both go through here.
func (o Order) Apply(e Event) (Order, error) {
	if e.Version != o.Version+1 {
		return o, fmt.Errorf("event %s out of sequence: version %d after %d", e.ID, e.Version, o.Version)
	}
	if o.ID != "" && e.AggregateID != o.ID {
		return o, fmt.Errorf("event %s belongs to %s, not %s", e.ID, e.AggregateID, o.ID)
	}
	p, err := e.Decode()
	if err != nil {
		return o, err
	}
	_, created := p.(OrderCreated)
	switch {
	case created && o.Version != 0:
		return o, fmt.Errorf("event %s recreates order %s at version %d", e.ID, o.ID, e.Version)
	case !created && o.Version == 0:
		return o, fmt.Errorf("event %s: stream of %s must start with %s, not %s", e.ID, e.AggregateID, KindOrderCreated, e.Kind)
	}

	next := o
	switch p := p.(type) {
	case OrderCreated:
		next.ID = e.AggregateID
		next.CustomerName = p.Order.CustomerName
		next.TotalAmount = p.Order.TotalAmount
		next.Items = append([]LineItem(nil), p.Order.Items...)
		next.Status = StatusCreated
		next.CreatedAt = e.Timestamp
	case InventoryReservationRequested, InventoryReserved:
	case OrderPending:
		next.Status = StatusPending
	case InventoryInsufficient:
		next.Status = StatusCancelled
		next.Reason = InsufficientInventoryReason
	case OrderProcessingStarted:
		next.Status = StatusProcessing
	case OrderFulfilled:
		next.Status = StatusFulfilled
	case OrderCancelled:
		next.Status = StatusCancelled
		next.Reason = p.Reason
	default:
		return o, fmt.Errorf("event kind %s does not apply to orders", e.Kind)
	}
	next.Version++
	next.LastEventID = e.ID
	return next, nil
}

func (o Order) RequestInventoryReservation() (Order, []Event, error) {
	if err := o.require("request inventory reservation", StatusCreated, StatusPending); err != nil {
		return o, nil, err
	}
	return o.emit(InventoryReservationRequested{Order: o.snapshot(o.Status)}, now())
}

func (o Order) ReserveInventory(reservations []ReservationItem) (Order, []Event, error) {
	if err := o.require("reserve inventory for", StatusCreated, StatusPending); err != nil {
		return o, nil, err
	}
	return o.emit(InventoryReserved{Order: o.snapshot(o.Status), Reservations: reservations}, now())
}

func (o Order) MarkAsPending(shortages []ShortageItem) (Order, []Event, error) {
	if err := o.require("mark as pending", StatusCreated); err != nil {
		return o, nil, err
	}
	return o.emit(OrderPending{Order: o.snapshot(StatusPending), Shortages: shortages}, now())
}

func (o Order) MarkInventoryInsufficient(shortages []ShortageItem) (Order, []Event, error) {
	if err := o.require("mark inventory insufficient for", StatusCreated); err != nil {
		return o, nil, err
	}
	return o.emit(InventoryInsufficient{Order: o.snapshot(StatusCancelled), Shortages: shortages}, now())
}

func (o Order) StartProcessing() (Order, []Event, error) {
	if err := o.require("start processing", StatusCreated, StatusPending); err != nil {
		return o, nil, err
	}
	return o.emit(OrderProcessingStarted{Order: o.snapshot(StatusProcessing)}, now())
}

func (o Order) Fulfill() (Order, []Event, error) {
	if err := o.require("fulfill", StatusProcessing); err != nil {
		return o, nil, err
	}
	return o.emit(OrderFulfilled{Order: o.snapshot(StatusFulfilled)}, now())
}

// Cancel is allowed from every status except Fulfilled, including Cancelled.
func (o Order) Cancel(reason string) (Order, []Event, error) {
	if o.Status == StatusFulfilled {
		return o, nil, &InvalidStateTransitionError{Transition: "cancel", State: o.Status}
	}
	return o.emit(OrderCancelled{Order: o.snapshot(StatusCancelled), Reason: reason}, now())
}

// Snapshot returns the payload view of the order in its current status.
func (o Order) Snapshot() OrderSnapshot {
	return o.snapshot(o.Status)
}

func (o Order) snapshot(status Status) OrderSnapshot {
	return OrderSnapshot{
		OrderID:      o.ID,
		CustomerName: o.CustomerName,
		TotalAmount:  o.TotalAmount,
		Items:        o.Items,
		Status:       status,
		CreatedAt:    o.CreatedAt,
	}
}

func (o Order) require(transition string, allowed ...Status) error {
	for _, s := range allowed {
		if o.Status == s {
			return nil
		}
	}
	return &InvalidStateTransitionError{Transition: transition, State: o.Status}
}

func (o Order) emit(p Payload, at time.Time) (Order, []Event, error) {
	e, err := NewEvent(o.ID, p, o.Version+1, at)
	if err != nil {
		return o, nil, err
	}
	next, err := o.Apply(e)
	if err != nil {
		return o, nil, err
	}
	return next, []Event{e}, nil
}
