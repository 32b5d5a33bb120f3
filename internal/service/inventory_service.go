package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/richardliu001/order-choreography/internal/config"
	"github.com/richardliu001/order-choreography/internal/domain"
	"github.com/richardliu001/order-choreography/internal/model"
	"github.com/richardliu001/order-choreography/internal/repo"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const reserveAttempts = 3

// ErrProductNotFound is returned for lookups of products missing from the catalog.
var ErrProductNotFound = errors.New("product not found")

// InventoryService is the reservation engine. Every batch runs in one
// transaction with guarded counter updates; nothing is locked.
type InventoryService struct {
	repo    *repo.InventoryRepository
	monitor *LowStockMonitor
	log     *zap.SugaredLogger
}

func NewInventoryService(r *repo.InventoryRepository, monitor *LowStockMonitor, logger *zap.SugaredLogger) *InventoryService {
	return &InventoryService{repo: r, monitor: monitor, log: logger}
}

// CheckAndReserve reserves every line or none. When stock moves between the
// read and the guarded update the whole batch is re-evaluated.
func (s *InventoryService) CheckAndReserve(ctx context.Context, orderID string, items []domain.LineItem) (domain.ReservationResult, error) {
	lines := domain.MergeLineItems(items)
	if len(lines) == 0 {
		return domain.ReservationResult{}, fmt.Errorf("%w: nothing to reserve", domain.ErrInvalidOrder)
	}
	for _, l := range lines {
		if l.Quantity <= 0 {
			return domain.ReservationResult{}, fmt.Errorf("%w: quantity for %s must be positive", domain.ErrInvalidOrder, l.ProductID)
		}
	}
	ids := productIDs(lines)

	var result domain.ReservationResult
	for attempt := 1; attempt <= reserveAttempts; attempt++ {
		var err error
		result, err = s.tryReserve(ctx, orderID, lines, ids)
		if errors.Is(err, repo.ErrStockChanged) && attempt < reserveAttempts {
			s.log.Infof("stock changed while reserving order %s, retrying (%d/%d)", orderID, attempt, reserveAttempts)
			continue
		}
		if err != nil {
			return domain.ReservationResult{}, fmt.Errorf("reserve inventory for %s: %w", orderID, err)
		}
		break
	}

	if result.Success {
		s.log.Infof("reserved %d line(s) for order %s", len(result.Reservations), orderID)
		s.checkLowStock(ctx, ids)
	} else {
		s.log.Infof("order %s short on %d line(s)", orderID, len(result.Shortages))
	}
	return result, nil
}

func (s *InventoryService) tryReserve(ctx context.Context, orderID string, lines []domain.LineItem, ids []string) (domain.ReservationResult, error) {
	var result domain.ReservationResult
	err := s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		stock, err := s.repo.Items(ctx, tx, ids)
		if err != nil {
			return err
		}
		for _, l := range lines {
			available := 0
			if it, ok := stock[l.ProductID]; ok {
				available = it.QuantityAvailable
			}
			if available < l.Quantity {
				result.Shortages = append(result.Shortages, domain.NewShortageItem(l.ProductID, l.Quantity, available))
			}
		}
		if len(result.Shortages) > 0 {
			return nil
		}

		now := time.Now().UTC()
		rows := make([]model.InventoryReservation, 0, len(lines))
		for _, l := range lines {
			if err := s.repo.Reserve(ctx, tx, l.ProductID, l.Quantity); err != nil {
				return err
			}
			r := model.InventoryReservation{
				ID:               uuid.NewString(),
				OrderID:          orderID,
				ProductID:        l.ProductID,
				QuantityReserved: l.Quantity,
				Status:           string(domain.ReservationActive),
				ReservedAt:       now,
			}
			rows = append(rows, r)
			result.Reservations = append(result.Reservations, domain.ReservationItem{
				ProductID:         l.ProductID,
				QuantityRequested: l.Quantity,
				QuantityReserved:  l.Quantity,
				ReservationID:     r.ID,
			})
		}
		if err := s.repo.CreateReservations(ctx, tx, rows); err != nil {
			return err
		}
		result.Success = true
		return nil
	})
	if err != nil {
		return domain.ReservationResult{}, err
	}
	return result, nil
}

// Release returns every Active reservation of the order to available stock.
// Reservations that are no longer Active are left alone.
func (s *InventoryService) Release(ctx context.Context, orderID, reason string) error {
	return s.ReleaseReservations(ctx, orderID, nil, reason)
}

// ReleaseReservations is Release restricted to reservationIDs; nil means all.
func (s *InventoryService) ReleaseReservations(ctx context.Context, orderID string, reservationIDs []string, reason string) error {
	touched, err := s.close(ctx, orderID, reservationIDs, domain.ReservationReleased, reason)
	if err != nil {
		return fmt.Errorf("release inventory for %s: %w", orderID, err)
	}
	if len(touched) > 0 {
		s.log.Infof("released %d reservation(s) for order %s: %s", len(touched), orderID, reason)
		s.checkLowStock(ctx, touched)
	}
	return nil
}

// Fulfill turns Active reservations into shipped stock.
func (s *InventoryService) Fulfill(ctx context.Context, orderID string) error {
	touched, err := s.close(ctx, orderID, nil, domain.ReservationFulfilled, "")
	if err != nil {
		return fmt.Errorf("fulfill inventory for %s: %w", orderID, err)
	}
	if len(touched) > 0 {
		s.log.Infof("fulfilled %d reservation(s) for order %s", len(touched), orderID)
	}
	return nil
}

func (s *InventoryService) close(ctx context.Context, orderID string, only []string, status domain.ReservationStatus, reason string) ([]string, error) {
	filter := make(map[string]bool, len(only))
	for _, id := range only {
		filter[id] = true
	}

	var touched []string
	err := s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		touched = touched[:0]
		active, err := s.repo.ActiveReservations(ctx, tx, orderID)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		for _, r := range active {
			if only != nil && !filter[r.ID] {
				continue
			}
			closed, err := s.repo.CloseReservation(ctx, tx, r.ID, status, reason, now)
			if err != nil {
				return err
			}
			if !closed {
				continue
			}
			if status == domain.ReservationFulfilled {
				err = s.repo.Consume(ctx, tx, r.ProductID, r.QuantityReserved)
			} else {
				err = s.repo.Unreserve(ctx, tx, r.ProductID, r.QuantityReserved)
			}
			if err != nil {
				return err
			}
			touched = append(touched, r.ProductID)
		}
		return nil
	})
	return touched, err
}

func (s *InventoryService) checkLowStock(ctx context.Context, ids []string) {
	if s.monitor == nil {
		return
	}
	stock, err := s.repo.Items(ctx, s.repo.DB(ctx), ids)
	if err != nil {
		s.log.Errorf("low stock check: %v", err)
		return
	}
	products, err := s.repo.Products(ctx, ids)
	if err != nil {
		s.log.Errorf("low stock check: %v", err)
		return
	}
	names := make(map[string]string, len(products))
	for _, p := range products {
		names[p.ID] = p.Name
	}
	items := make([]model.InventoryItem, 0, len(stock))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if it, ok := stock[id]; ok && !seen[id] {
			seen[id] = true
			items = append(items, it)
		}
	}
	s.monitor.Check(ctx, items, names)
}

// Products lists the catalog, or only ids when given.
func (s *InventoryService) Products(ctx context.Context, ids []string) ([]model.Product, error) {
	return s.repo.Products(ctx, ids)
}

// Stock returns current counters keyed by product id.
func (s *InventoryService) Stock(ctx context.Context, ids []string) (map[string]model.InventoryItem, error) {
	return s.repo.Items(ctx, s.repo.DB(ctx), ids)
}

// IsAvailable reports whether every line could be reserved right now.
func (s *InventoryService) IsAvailable(ctx context.Context, items []domain.LineItem) (bool, error) {
	lines := domain.MergeLineItems(items)
	stock, err := s.repo.Items(ctx, s.repo.DB(ctx), productIDs(lines))
	if err != nil {
		return false, err
	}
	for _, l := range lines {
		if it, ok := stock[l.ProductID]; !ok || it.QuantityAvailable < l.Quantity {
			return false, nil
		}
	}
	return true, nil
}

func (s *InventoryService) Item(ctx context.Context, productID string) (*model.InventoryItem, error) {
	it, err := s.repo.Item(ctx, productID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("product %s: %w", productID, ErrProductNotFound)
	}
	return it, err
}

func (s *InventoryService) Reservations(ctx context.Context, orderID string) ([]model.InventoryReservation, error) {
	return s.repo.Reservations(ctx, orderID)
}

// Seed loads the catalog and opening stock once; it is a no-op when products exist.
func (s *InventoryService) Seed(ctx context.Context, seeds []config.ProductSeed) (bool, error) {
	if len(seeds) == 0 {
		return false, nil
	}
	n, err := s.repo.CountProducts(ctx)
	if err != nil {
		return false, err
	}
	if n > 0 {
		return false, nil
	}
	products := make([]model.Product, 0, len(seeds))
	items := make([]model.InventoryItem, 0, len(seeds))
	for _, sd := range seeds {
		products = append(products, model.Product{ID: sd.ID, Name: sd.Name, Description: sd.Description, Price: sd.Price})
		items = append(items, model.InventoryItem{ProductID: sd.ID, QuantityAvailable: sd.Quantity, ReorderLevel: sd.ReorderLevel})
	}
	err = s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		return s.repo.CreateCatalog(ctx, tx, products, items)
	})
	if err != nil {
		return false, fmt.Errorf("seed inventory: %w", err)
	}
	s.log.Infof("seeded %d products", len(products))
	return true, nil
}

func productIDs(lines []domain.LineItem) []string {
	ids := make([]string, len(lines))
	for i, l := range lines {
		ids[i] = l.ProductID
	}
	return ids
}
