package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/richardliu001/order-choreography/internal/domain"
	"github.com/richardliu001/order-choreography/internal/messaging"
	"github.com/richardliu001/order-choreography/internal/model"
	"github.com/richardliu001/order-choreography/internal/repo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const defaultCancelReason = "cancelled by request"

var tracer = otel.Tracer("github.com/richardliu001/order-choreography/internal/service")

// EventStore restricts the event log to what the orchestrator needs.
type EventStore interface {
	Append(ctx context.Context, aggregateID string, events []domain.Event, expectedVersion int64) error
	Read(ctx context.Context, aggregateID string, fromVersion int64) ([]domain.Event, error)
	UnpublishedBefore(ctx context.Context, aggregateID string, version int64) ([]domain.Event, error)
	MarkPublished(ctx context.Context, ids ...string) error
}

// Inventory is the reservation engine as seen by the orchestrator.
type Inventory interface {
	CheckAndReserve(ctx context.Context, orderID string, items []domain.LineItem) (domain.ReservationResult, error)
	Release(ctx context.Context, orderID, reason string) error
	ReleaseReservations(ctx context.Context, orderID string, reservationIDs []string, reason string) error
	Fulfill(ctx context.Context, orderID string) error
	Products(ctx context.Context, ids []string) ([]model.Product, error)
}

// OrderLine is a requested product and quantity; prices come from the catalog.
type OrderLine struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type ProcessingResult struct {
	OrderID      string                   `json:"orderId"`
	Success      bool                     `json:"success"`
	Status       domain.Status            `json:"status"`
	Reservations []domain.ReservationItem `json:"reservations,omitempty"`
	Shortages    []domain.ShortageItem    `json:"shortages,omitempty"`
	Message      string                   `json:"message"`
}

type HistoryEntry struct {
	EventID          string                 `json:"eventId"`
	Kind             domain.Kind            `json:"kind"`
	Description      string                 `json:"description"`
	Timestamp        time.Time              `json:"timestamp"`
	Version          int64                  `json:"version"`
	StatusAfterEvent domain.Status          `json:"statusAfterEvent"`
	CorrelationID    string                 `json:"correlationId,omitempty"`
	CausationID      string                 `json:"causationId,omitempty"`
	AdditionalData   map[string]interface{} `json:"additionalData,omitempty"`
}

type OrderHistory struct {
	OrderID       string         `json:"orderId"`
	CurrentStatus domain.Status  `json:"currentStatus"`
	Events        []HistoryEntry `json:"events"`
}

type Option func(*OrderService)

// WithCache puts a snapshot cache in front of replay.
func WithCache(c *repo.OrderCache) Option {
	return func(s *OrderService) { s.cache = c }
}

// WithCancelOnShortage cancels orders whose first reservation falls short
// instead of leaving them Pending.
func WithCancelOnShortage(v bool) Option {
	return func(s *OrderService) { s.cancelOnShortage = v }
}

// OrderService runs the order use cases: load, decide, append with the loaded
// version, publish.
type OrderService struct {
	store            EventStore
	inventory        Inventory
	publisher        messaging.Publisher
	route            messaging.Route
	cache            *repo.OrderCache
	cancelOnShortage bool
	log              *zap.SugaredLogger
}

func NewOrderService(store EventStore, inv Inventory, pub messaging.Publisher, route messaging.Route, logger *zap.SugaredLogger, opts ...Option) *OrderService {
	s := &OrderService{store: store, inventory: inv, publisher: pub, route: route, log: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateOrder validates lines against the catalog and starts a new order stream.
func (s *OrderService) CreateOrder(ctx context.Context, customerName string, lines []OrderLine) (id string, err error) {
	ctx, span := startSpan(ctx, "OrderService.CreateOrder", "")
	defer func() { endSpan(span, err) }()

	if strings.TrimSpace(customerName) == "" {
		return "", fmt.Errorf("%w: customer name is required", domain.ErrInvalidOrder)
	}
	if len(lines) == 0 {
		return "", fmt.Errorf("%w: order must contain at least one item", domain.ErrInvalidOrder)
	}
	for _, l := range lines {
		if l.Quantity <= 0 {
			return "", fmt.Errorf("%w: all item quantities must be positive", domain.ErrInvalidOrder)
		}
	}

	ids := make([]string, 0, len(lines))
	seen := make(map[string]bool, len(lines))
	for _, l := range lines {
		if !seen[l.ProductID] {
			seen[l.ProductID] = true
			ids = append(ids, l.ProductID)
		}
	}
	products, err := s.inventory.Products(ctx, ids)
	if err != nil {
		return "", fmt.Errorf("load products: %w", err)
	}
	catalog := make(map[string]model.Product, len(products))
	for _, p := range products {
		catalog[p.ID] = p
	}
	var missing []string
	for _, pid := range ids {
		if _, ok := catalog[pid]; !ok {
			missing = append(missing, pid)
		}
	}
	if len(missing) > 0 {
		return "", fmt.Errorf("%w: the following products do not exist: %s", domain.ErrInvalidOrder, strings.Join(missing, ", "))
	}

	items := make([]domain.LineItem, 0, len(lines))
	for _, l := range lines {
		items = append(items, domain.LineItem{ProductID: l.ProductID, Quantity: l.Quantity, UnitPrice: catalog[l.ProductID].Price})
	}
	items = domain.MergeLineItems(items)

	id = uuid.NewString()
	span.SetAttributes(attribute.String("order.id", id))
	order, events, err := domain.Create(id, customerName, domain.Total(items), items)
	if err != nil {
		return "", err
	}
	if err := s.persist(ctx, domain.Order{}, order, events); err != nil {
		return "", err
	}
	s.log.Infow("order created", "order_id", id, "customer", customerName, "total", order.TotalAmount.String())
	return id, nil
}

// ProcessOrder attempts to reserve inventory and start processing.
func (s *OrderService) ProcessOrder(ctx context.Context, id string) (res ProcessingResult, err error) {
	ctx, span := startSpan(ctx, "OrderService.ProcessOrder", id)
	defer func() { endSpan(span, err) }()

	order, err := s.load(ctx, id)
	if err != nil {
		return ProcessingResult{}, err
	}
	return s.process(ctx, order)
}

// ProcessPendingOrder retries reservation for an order waiting on stock.
func (s *OrderService) ProcessPendingOrder(ctx context.Context, id string) (res ProcessingResult, err error) {
	ctx, span := startSpan(ctx, "OrderService.ProcessPendingOrder", id)
	defer func() { endSpan(span, err) }()

	order, err := s.load(ctx, id)
	if err != nil {
		return ProcessingResult{}, err
	}
	if order.Status != domain.StatusPending {
		return ProcessingResult{}, &domain.InvalidStateTransitionError{Transition: "process pending order for", State: order.Status}
	}
	return s.process(ctx, order)
}

func (s *OrderService) process(ctx context.Context, order domain.Order) (ProcessingResult, error) {
	requested, events, err := order.RequestInventoryReservation()
	if err != nil {
		return ProcessingResult{}, err
	}
	if err := s.persist(ctx, order, requested, events); err != nil {
		return ProcessingResult{}, err
	}

	result, err := s.inventory.CheckAndReserve(ctx, order.ID, requested.Items)
	if err != nil {
		return ProcessingResult{}, err
	}

	if result.Success {
		reserved, evReserved, err := requested.ReserveInventory(result.Reservations)
		if err != nil {
			return ProcessingResult{}, s.compensate(ctx, order.ID, result.Reservations, err)
		}
		started, evStarted, err := reserved.StartProcessing()
		if err != nil {
			return ProcessingResult{}, s.compensate(ctx, order.ID, result.Reservations, err)
		}
		if err := s.persist(ctx, requested, started, append(evReserved, evStarted...)); err != nil {
			return ProcessingResult{}, s.compensate(ctx, order.ID, result.Reservations, err)
		}
		return ProcessingResult{
			OrderID:      order.ID,
			Success:      true,
			Status:       started.Status,
			Reservations: result.Reservations,
			Message:      "inventory reserved, processing started",
		}, nil
	}

	out := ProcessingResult{
		OrderID:   order.ID,
		Status:    requested.Status,
		Shortages: result.Shortages,
		Message:   "insufficient inventory, order is pending",
	}
	var (
		next domain.Order
		evs  []domain.Event
	)
	switch {
	case requested.Status == domain.StatusPending:
		// still waiting on stock; nothing new to record
		return out, nil
	case s.cancelOnShortage:
		next, evs, err = requested.MarkInventoryInsufficient(result.Shortages)
		out.Message = "insufficient inventory, order cancelled"
	default:
		next, evs, err = requested.MarkAsPending(result.Shortages)
	}
	if err != nil {
		return ProcessingResult{}, err
	}
	if err := s.persist(ctx, requested, next, evs); err != nil {
		return ProcessingResult{}, err
	}
	out.Status = next.Status
	return out, nil
}

// compensate gives back reservations made for a transition that could not be recorded.
func (s *OrderService) compensate(ctx context.Context, orderID string, reservations []domain.ReservationItem, cause error) error {
	ids := make([]string, len(reservations))
	for i, r := range reservations {
		ids[i] = r.ReservationID
	}
	if err := s.inventory.ReleaseReservations(ctx, orderID, ids, "order update failed"); err != nil {
		s.log.Errorf("release reservations of %s after failed update: %v", orderID, err)
	}
	return cause
}

// FulfillOrder records fulfilment, then consumes the reserved stock. Repeating it
// on a Fulfilled order is rejected but still commits reservations left Active.
func (s *OrderService) FulfillOrder(ctx context.Context, id string) (err error) {
	ctx, span := startSpan(ctx, "OrderService.FulfillOrder", id)
	defer func() { endSpan(span, err) }()

	order, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	next, events, err := order.Fulfill()
	if err != nil {
		if order.Status == domain.StatusFulfilled {
			// an earlier call may have stopped before the stock was committed
			if ferr := s.inventory.Fulfill(ctx, id); ferr != nil {
				s.log.Errorw("settle reservations of fulfilled order", "order_id", id, "error", ferr)
			}
		}
		return err
	}
	if err := s.persist(ctx, order, next, events); err != nil {
		return err
	}
	if err := s.inventory.Fulfill(ctx, id); err != nil {
		s.log.Errorw("order fulfilled but reserved stock not committed, fulfil again to settle",
			"order_id", id, "version", next.Version, "error", err)
		return err
	}
	return nil
}

// CancelOrder records the cancellation, then releases reserved stock.
func (s *OrderService) CancelOrder(ctx context.Context, id, reason string) (err error) {
	ctx, span := startSpan(ctx, "OrderService.CancelOrder", id)
	defer func() { endSpan(span, err) }()

	if strings.TrimSpace(reason) == "" {
		reason = defaultCancelReason
	}
	order, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	next, events, err := order.Cancel(reason)
	if err != nil {
		return err
	}
	if err := s.persist(ctx, order, next, events); err != nil {
		return err
	}
	if err := s.inventory.Release(ctx, id, reason); err != nil {
		s.log.Errorf("order %s cancelled but inventory not released: %v", id, err)
		return err
	}
	return nil
}

// GetOrder returns the current state, starting from a cached snapshot when one exists.
func (s *OrderService) GetOrder(ctx context.Context, id string) (order domain.Order, err error) {
	ctx, span := startSpan(ctx, "OrderService.GetOrder", id)
	defer func() { endSpan(span, err) }()

	cached, hit, err := s.cache.Get(ctx, id)
	if err != nil {
		s.log.Warn(err)
	}
	if hit {
		tail, err := s.store.Read(ctx, id, cached.Version)
		if err != nil {
			return domain.Order{}, err
		}
		if o, ok := applyAll(cached, tail); ok {
			if len(tail) > 0 {
				s.cacheOrder(ctx, o)
			}
			return o, nil
		}
		s.log.Warnf("cached order %s does not line up with its stream, replaying", id)
	}
	order, err = s.load(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	s.cacheOrder(ctx, order)
	return order, nil
}

// GetOrderHistory describes each stored event and the status it left the order in.
func (s *OrderService) GetOrderHistory(ctx context.Context, id string) (hist OrderHistory, err error) {
	ctx, span := startSpan(ctx, "OrderService.GetOrderHistory", id)
	defer func() { endSpan(span, err) }()

	events, err := s.store.Read(ctx, id, 0)
	if err != nil {
		return OrderHistory{}, err
	}
	if len(events) == 0 {
		return OrderHistory{}, fmt.Errorf("order %s: %w", id, domain.ErrOrderNotFound)
	}

	var order domain.Order
	entries := make([]HistoryEntry, 0, len(events))
	for _, e := range events {
		next, err := order.Apply(e)
		if err != nil {
			return OrderHistory{}, err
		}
		order = next
		entries = append(entries, describe(e, order.Status))
	}
	return OrderHistory{OrderID: id, CurrentStatus: order.Status, Events: entries}, nil
}

func describe(e domain.Event, status domain.Status) HistoryEntry {
	h := HistoryEntry{
		EventID:          e.ID,
		Kind:             e.Kind,
		Timestamp:        e.Timestamp,
		Version:          e.Version,
		StatusAfterEvent: status,
		CorrelationID:    e.CorrelationID,
		CausationID:      e.CausationID,
		AdditionalData:   map[string]interface{}{},
	}
	p, err := e.Decode()
	if err != nil {
		h.Description = fmt.Sprintf("Unknown event: %s", e.Kind)
		return h
	}
	switch p := p.(type) {
	case domain.OrderCreated:
		h.Description = "Order was created"
		h.AdditionalData["customerName"] = p.Order.CustomerName
		h.AdditionalData["totalAmount"] = p.Order.TotalAmount.String()
		h.AdditionalData["itemCount"] = len(p.Order.Items)
	case domain.InventoryReservationRequested:
		h.Description = "Inventory reservation was requested"
	case domain.InventoryReserved:
		h.Description = "Inventory was successfully reserved"
		h.AdditionalData["reservations"] = p.Reservations
	case domain.InventoryInsufficient:
		h.Description = "Insufficient inventory - order cancelled"
		h.AdditionalData["shortages"] = p.Shortages
	case domain.OrderPending:
		h.Description = "Order marked as pending due to inventory shortage"
		h.AdditionalData["shortages"] = p.Shortages
	case domain.OrderProcessingStarted:
		h.Description = "Order processing started"
	case domain.OrderFulfilled:
		h.Description = "Order was fulfilled"
	case domain.OrderCancelled:
		h.Description = "Order was cancelled"
		if p.Reason != "" {
			h.AdditionalData["cancellationReason"] = p.Reason
		}
	default:
		h.Description = fmt.Sprintf("Unknown event: %s", e.Kind)
	}
	if len(h.AdditionalData) == 0 {
		h.AdditionalData = nil
	}
	return h
}

func (s *OrderService) load(ctx context.Context, id string) (domain.Order, error) {
	events, err := s.store.Read(ctx, id, 0)
	if err != nil {
		return domain.Order{}, fmt.Errorf("read order %s: %w", id, err)
	}
	if len(events) == 0 {
		return domain.Order{}, fmt.Errorf("order %s: %w", id, domain.ErrOrderNotFound)
	}
	return domain.FromEvents(events)
}

// persist appends events produced from before, then publishes them behind any
// earlier events of the order still waiting in the outbox. A publish failure
// leaves the rows unpublished for the outbox relay.
func (s *OrderService) persist(ctx context.Context, before, after domain.Order, events []domain.Event) error {
	if len(events) == 0 {
		return nil
	}
	correlation := domain.CorrelationIDFrom(ctx)
	if correlation == "" {
		correlation = after.ID
	}
	cause := before.LastEventID
	for i := range events {
		events[i].CorrelationID = correlation
		events[i].CausationID = cause
		cause = events[i].ID
	}

	if err := s.store.Append(ctx, after.ID, events, before.Version); err != nil {
		return fmt.Errorf("append to order %s: %w", after.ID, err)
	}
	s.cacheOrder(ctx, after)

	outgoing := events
	backlog, err := s.store.UnpublishedBefore(ctx, after.ID, events[0].Version)
	if err != nil {
		s.log.Warnf("read outbox of order %s, publish deferred to relay: %v", after.ID, err)
		return nil
	}
	if len(backlog) > 0 {
		s.log.Infof("order %s has %d unpublished earlier event(s), sending them first", after.ID, len(backlog))
		outgoing = append(backlog, events...)
	}

	if err := s.publisher.Publish(ctx, s.route, outgoing...); err != nil {
		s.log.Warnf("publish %d event(s) of order %s deferred to relay: %v", len(outgoing), after.ID, err)
		return nil
	}
	ids := make([]string, len(outgoing))
	for i, e := range outgoing {
		ids[i] = e.ID
	}
	if err := s.store.MarkPublished(ctx, ids...); err != nil {
		s.log.Warnf("mark published for order %s: %v", after.ID, err)
	}
	return nil
}

func (s *OrderService) cacheOrder(ctx context.Context, o domain.Order) {
	if err := s.cache.Set(ctx, o); err != nil {
		s.log.Warn(err)
	}
}

func applyAll(o domain.Order, events []domain.Event) (domain.Order, bool) {
	sort.Slice(events, func(i, j int) bool { return events[i].Version < events[j].Version })
	for _, e := range events {
		next, err := o.Apply(e)
		if err != nil {
			return o, false
		}
		o = next
	}
	return o, true
}

func startSpan(ctx context.Context, name, orderID string) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, name)
	if orderID != "" {
		span.SetAttributes(attribute.String("order.id", orderID))
	}
	return ctx, span
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
