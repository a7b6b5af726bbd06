package orders

import (
	"context"
	"time"

	"github.com/angelmondragon/marketsplit-backend/pkg/db/models"
	"github.com/angelmondragon/marketsplit-backend/pkg/enums"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository defines persistence operations for orders, sub-orders and items.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateOrder(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByCheckoutKey(ctx context.Context, checkoutKey string) (*models.Order, error)
	DeleteOrder(ctx context.Context, id uuid.UUID) error
	SetPaymentIntent(ctx context.Context, orderID uuid.UUID, intentID string) error
	MarkPaid(ctx context.Context, orderID uuid.UUID, intentID string, paidAt time.Time) (bool, error)
	CancelPending(ctx context.Context, orderID uuid.UUID, reason string, cancelledAt time.Time) (bool, error)
	TransitionSubOrders(ctx context.Context, orderID uuid.UUID, from, to enums.SubOrderStatus) error
	FindSubOrder(ctx context.Context, id uuid.UUID) (*models.SubOrder, error)
	UpdateSubOrderStatus(ctx context.Context, id uuid.UUID, from, to enums.SubOrderStatus) (bool, error)
	FindStalePending(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error)
}
