package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// OrderItem is the immutable historical record of one purchased cart line.
type OrderItem struct {
	ID         uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	SubOrderID uuid.UUID       `gorm:"column:sub_order_id;type:uuid;not null;index"`
	ProductID  uuid.UUID       `gorm:"column:product_id;type:uuid;not null"`
	VariantID  *uuid.UUID      `gorm:"column:variant_id;type:uuid"`
	Quantity   int             `gorm:"column:quantity;not null"`
	UnitPrice  decimal.Decimal `gorm:"column:unit_price;type:numeric(12,2);not null"`
	TotalPrice decimal.Decimal `gorm:"column:total_price;type:numeric(12,2);not null"`
	CreatedAt  time.Time       `gorm:"column:created_at;autoCreateTime"`
}

func (OrderItem) TableName() string { return "order_items" }

func (i *OrderItem) BeforeCreate(*gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}
