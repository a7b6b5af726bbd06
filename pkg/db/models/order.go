package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketsplit-backend/pkg/enums"
	"github.com/angelmondragon/marketsplit-backend/pkg/types"
)

// Order is the master order created from one checkout of a buyer cart.
// Amounts are fixed at creation; payment confirmation only changes status.
type Order struct {
	ID              uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	OrderNumber     string              `gorm:"column:order_number;not null;uniqueIndex"`
	BuyerID         uuid.UUID           `gorm:"column:buyer_id;type:uuid;not null;index"`
	BuyerEmail      string              `gorm:"column:buyer_email;not null"`
	CheckoutKey     string              `gorm:"column:checkout_key;not null;uniqueIndex"`
	ShippingAddress types.Address       `gorm:"column:shipping_address;type:jsonb;serializer:json;not null"`
	BillingAddress  types.Address       `gorm:"column:billing_address;type:jsonb;serializer:json;not null"`
	Currency        string              `gorm:"column:currency;not null;default:'usd'"`
	Subtotal        decimal.Decimal     `gorm:"column:subtotal;type:numeric(12,2);not null"`
	ShippingTotal   decimal.Decimal     `gorm:"column:shipping_total;type:numeric(12,2);not null"`
	GrandTotal      decimal.Decimal     `gorm:"column:grand_total;type:numeric(12,2);not null"`
	ApplicationFee  decimal.Decimal     `gorm:"column:application_fee;type:numeric(12,2);not null"`
	PaymentStatus   enums.PaymentStatus `gorm:"column:payment_status;type:text;not null;default:'pending'"`
	PaymentIntentID *string             `gorm:"column:payment_intent_id"`
	PaidAt          *time.Time          `gorm:"column:paid_at"`
	CancelledAt     *time.Time          `gorm:"column:cancelled_at"`
	CancelReason    *string             `gorm:"column:cancel_reason"`
	SubOrders       []SubOrder          `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt       time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (Order) TableName() string { return "orders" }

func (o *Order) BeforeCreate(*gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}
