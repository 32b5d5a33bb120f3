package repo

import (
	"context"
	"errors"
	"time"

	"github.com/richardliu001/order-choreography/internal/domain"
	"github.com/richardliu001/order-choreography/internal/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrStockChanged is returned when a guarded counter update matched no row
// because stock moved after it was read.
var ErrStockChanged = errors.New("inventory changed concurrently")

// InventoryRepository holds the product catalog, stock counters and reservations.
// Methods taking a tx are meant to run inside a caller-owned transaction.
type InventoryRepository struct {
	db  *gorm.DB
	log *zap.SugaredLogger
}

func NewInventoryRepository(db *gorm.DB, logger *zap.SugaredLogger) *InventoryRepository {
	return &InventoryRepository{db: db, log: logger}
}

// DB returns underlying *gorm.DB
func (r *InventoryRepository) DB(ctx context.Context) *gorm.DB { return r.db.WithContext(ctx) }

// Items returns counters keyed by product id; unknown ids are absent.
func (r *InventoryRepository) Items(ctx context.Context, tx *gorm.DB, productIDs []string) (map[string]model.InventoryItem, error) {
	var rows []model.InventoryItem
	if err := tx.WithContext(ctx).Where("product_id IN ?", productIDs).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]model.InventoryItem, len(rows))
	for _, it := range rows {
		out[it.ProductID] = it
	}
	return out, nil
}

func (r *InventoryRepository) Item(ctx context.Context, productID string) (*model.InventoryItem, error) {
	var it model.InventoryItem
	if err := r.db.WithContext(ctx).Where("product_id = ?", productID).Take(&it).Error; err != nil {
		return nil, err
	}
	return &it, nil
}

// Reserve moves qty from available to reserved if enough is available.
func (r *InventoryRepository) Reserve(ctx context.Context, tx *gorm.DB, productID string, qty int) error {
	return guarded(tx.WithContext(ctx).Model(&model.InventoryItem{}).
		Where("product_id = ? AND quantity_available >= ?", productID, qty).
		Updates(map[string]interface{}{
			"quantity_available": gorm.Expr("quantity_available - ?", qty),
			"quantity_reserved":  gorm.Expr("quantity_reserved + ?", qty),
			"updated_at":         time.Now().UTC(),
		}))
}

// Unreserve moves qty from reserved back to available.
func (r *InventoryRepository) Unreserve(ctx context.Context, tx *gorm.DB, productID string, qty int) error {
	return guarded(tx.WithContext(ctx).Model(&model.InventoryItem{}).
		Where("product_id = ? AND quantity_reserved >= ?", productID, qty).
		Updates(map[string]interface{}{
			"quantity_available": gorm.Expr("quantity_available + ?", qty),
			"quantity_reserved":  gorm.Expr("quantity_reserved - ?", qty),
			"updated_at":         time.Now().UTC(),
		}))
}

// Consume drops qty from reserved; the goods have left the warehouse.
func (r *InventoryRepository) Consume(ctx context.Context, tx *gorm.DB, productID string, qty int) error {
	return guarded(tx.WithContext(ctx).Model(&model.InventoryItem{}).
		Where("product_id = ? AND quantity_reserved >= ?", productID, qty).
		Updates(map[string]interface{}{
			"quantity_reserved": gorm.Expr("quantity_reserved - ?", qty),
			"updated_at":        time.Now().UTC(),
		}))
}

func (r *InventoryRepository) CreateReservations(ctx context.Context, tx *gorm.DB, rs []model.InventoryReservation) error {
	if len(rs) == 0 {
		return nil
	}
	return tx.WithContext(ctx).Create(&rs).Error
}

func (r *InventoryRepository) ActiveReservations(ctx context.Context, tx *gorm.DB, orderID string) ([]model.InventoryReservation, error) {
	var rs []model.InventoryReservation
	err := tx.WithContext(ctx).
		Where("order_id = ? AND status = ?", orderID, string(domain.ReservationActive)).
		Order("reserved_at asc").
		Find(&rs).Error
	return rs, err
}

func (r *InventoryRepository) Reservations(ctx context.Context, orderID string) ([]model.InventoryReservation, error) {
	var rs []model.InventoryReservation
	err := r.db.WithContext(ctx).Where("order_id = ?", orderID).Order("reserved_at asc").Find(&rs).Error
	return rs, err
}

// CloseReservation moves an Active reservation to status. It reports false when
// the reservation was no longer Active, so callers skip the counter change.
func (r *InventoryRepository) CloseReservation(ctx context.Context, tx *gorm.DB, id string, status domain.ReservationStatus, reason string, at time.Time) (bool, error) {
	updates := map[string]interface{}{"status": string(status)}
	switch status {
	case domain.ReservationFulfilled:
		updates["fulfilled_at"] = &at
	default:
		updates["released_at"] = &at
		updates["reason"] = reason
	}
	res := tx.WithContext(ctx).Model(&model.InventoryReservation{}).
		Where("id = ? AND status = ?", id, string(domain.ReservationActive)).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// Products returns the catalog entries for ids, or the whole catalog when ids is empty.
func (r *InventoryRepository) Products(ctx context.Context, ids []string) ([]model.Product, error) {
	q := r.db.WithContext(ctx).Order("product_id asc")
	if len(ids) > 0 {
		q = q.Where("product_id IN ?", ids)
	}
	var ps []model.Product
	if err := q.Find(&ps).Error; err != nil {
		return nil, err
	}
	return ps, nil
}

func (r *InventoryRepository) CountProducts(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.Product{}).Count(&n).Error
	return n, err
}

func (r *InventoryRepository) CreateCatalog(ctx context.Context, tx *gorm.DB, products []model.Product, items []model.InventoryItem) error {
	if err := tx.WithContext(ctx).Create(&products).Error; err != nil {
		return err
	}
	return tx.WithContext(ctx).Create(&items).Error
}

func guarded(res *gorm.DB) error {
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStockChanged
	}
	return nil
}
