package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketsplit-backend/pkg/enums"
)

// SubOrder is the slice of an order fulfilled by one vendor.
// CommissionRate is a percentage snapshotted at creation.
type SubOrder struct {
	ID               uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	OrderID          uuid.UUID            `gorm:"column:order_id;type:uuid;not null;index"`
	VendorID         uuid.UUID            `gorm:"column:vendor_id;type:uuid;not null;index"`
	SubOrderNumber   string               `gorm:"column:sub_order_number;not null;uniqueIndex"`
	Sequence         int                  `gorm:"column:sequence;not null"`
	Subtotal         decimal.Decimal      `gorm:"column:subtotal;type:numeric(12,2);not null"`
	ShippingMethod   string               `gorm:"column:shipping_method;not null"`
	ShippingCost     decimal.Decimal      `gorm:"column:shipping_cost;type:numeric(12,2);not null"`
	Total            decimal.Decimal      `gorm:"column:total;type:numeric(12,2);not null"`
	CommissionRate   decimal.Decimal      `gorm:"column:commission_rate;type:numeric(5,2);not null"`
	CommissionAmount decimal.Decimal      `gorm:"column:commission_amount;type:numeric(12,2);not null"`
	VendorPayout     decimal.Decimal      `gorm:"column:vendor_payout;type:numeric(12,2);not null"`
	Status           enums.SubOrderStatus `gorm:"column:status;type:text;not null;default:'pending'"`
	Items            []OrderItem          `gorm:"foreignKey:SubOrderID;constraint:OnDelete:CASCADE"`
	CreatedAt        time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}

func (SubOrder) TableName() string { return "sub_orders" }

func (s *SubOrder) BeforeCreate(*gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}
