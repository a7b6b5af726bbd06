package orders

import (
	"context"
	"time"

	"github.com/angelmondragon/marketsplit-backend/pkg/db/models"
	"github.com/angelmondragon/marketsplit-backend/pkg/enums"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type repository struct {
	db *gorm.DB
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// CreateOrder inserts the order together with its sub-orders and their items.
func (r *repository) CreateOrder(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("SubOrders", func(db *gorm.DB) *gorm.DB { return db.Order("sequence ASC") }).
		Preload("SubOrders.Items").
		Where("id = ?", id).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindByCheckoutKey(ctx context.Context, checkoutKey string) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("SubOrders", func(db *gorm.DB) *gorm.DB { return db.Order("sequence ASC") }).
		Preload("SubOrders.Items").
		Where("checkout_key = ?", checkoutKey).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// DeleteOrder removes the order and its children. Children are deleted
// explicitly so the behavior does not depend on FK cascade support.
func (r *repository) DeleteOrder(ctx context.Context, id uuid.UUID) error {
	db := r.db.WithContext(ctx)
	subOrderIDs := db.Model(&models.SubOrder{}).Select("id").Where("order_id = ?", id)
	if err := db.Where("sub_order_id IN (?)", subOrderIDs).Delete(&models.OrderItem{}).Error; err != nil {
		return err
	}
	if err := db.Where("order_id = ?", id).Delete(&models.SubOrder{}).Error; err != nil {
		return err
	}
	return db.Where("id = ?", id).Delete(&models.Order{}).Error
}

func (r *repository) SetPaymentIntent(ctx context.Context, orderID uuid.UUID, intentID string) error {
	return r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", orderID).
		Update("payment_intent_id", intentID).Error
}

// MarkPaid flips an awaiting order to paid. It reports false when another
// caller already moved the order out of pending/processing.
func (r *repository) MarkPaid(ctx context.Context, orderID uuid.UUID, intentID string, paidAt time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND payment_intent_id = ? AND payment_status IN ?", orderID, intentID,
			[]enums.PaymentStatus{enums.PaymentStatusPending, enums.PaymentStatusProcessing}).
		Updates(map[string]any{
			"payment_status": enums.PaymentStatusPaid,
			"paid_at":        paidAt,
			"updated_at":     paidAt,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// CancelPending marks a still-pending order as failed. It reports false when the
// order already left pending.
func (r *repository) CancelPending(ctx context.Context, orderID uuid.UUID, reason string, cancelledAt time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND payment_status = ?", orderID, enums.PaymentStatusPending).
		Updates(map[string]any{
			"payment_status": enums.PaymentStatusFailed,
			"cancelled_at":   cancelledAt,
			"cancel_reason":  reason,
			"updated_at":     cancelledAt,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) TransitionSubOrders(ctx context.Context, orderID uuid.UUID, from, to enums.SubOrderStatus) error {
	return r.db.WithContext(ctx).
		Model(&models.SubOrder{}).
		Where("order_id = ? AND status = ?", orderID, from).
		Updates(map[string]any{"status": to, "updated_at": time.Now().UTC()}).Error
}

func (r *repository) FindSubOrder(ctx context.Context, id uuid.UUID) (*models.SubOrder, error) {
	var sub models.SubOrder
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&sub).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *repository) UpdateSubOrderStatus(ctx context.Context, id uuid.UUID, from, to enums.SubOrderStatus) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.SubOrder{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]any{"status": to, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) FindStalePending(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error) {
	var orders []models.Order
	err := r.db.WithContext(ctx).
		Where("payment_status = ? AND created_at < ?", enums.PaymentStatusPending, cutoff).
		Order("created_at ASC").
		Limit(limit).
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}
