package orders

import (
	"time"

	"github.com/angelmondragon/marketsplit-backend/pkg/db/models"
	"github.com/angelmondragon/marketsplit-backend/pkg/enums"
	"github.com/angelmondragon/marketsplit-backend/pkg/money"
	"github.com/angelmondragon/marketsplit-backend/pkg/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Verification is the authoritative payment view of an order returned to the
// payment service before it confirms a webhook.
type Verification struct {
	OrderID         uuid.UUID           `json:"order_id"`
	OrderNumber     string              `json:"order_number"`
	BuyerID         uuid.UUID           `json:"buyer_id"`
	GrandTotal      decimal.Decimal     `json:"grand_total"`
	GrandTotalCents int64               `json:"grand_total_cents"`
	Currency        string              `json:"currency"`
	PaymentIntentID string              `json:"payment_intent_id"`
	PaymentStatus   enums.PaymentStatus `json:"payment_status"`
}

// ConfirmInput is the body of a payment confirmation.
type ConfirmInput struct {
	PaymentIntentID     string `json:"payment_intent_id" validate:"required"`
	AmountReceivedCents int64  `json:"amount_received_cents" validate:"gt=0"`
	Currency            string `json:"currency" validate:"required,len=3"`
}

// Confirmation reports the outcome of a confirmation. AlreadyPaid is set when
// another delivery won the transition.
type Confirmation struct {
	OrderID       uuid.UUID           `json:"order_id"`
	PaymentStatus enums.PaymentStatus `json:"payment_status"`
	PaidAt        *time.Time          `json:"paid_at,omitempty"`
	AlreadyPaid   bool                `json:"already_paid"`
}

// SettlementLine is what the settlement worker needs to pay one vendor.
type SettlementLine struct {
	SubOrderID       uuid.UUID            `json:"sub_order_id"`
	SubOrderNumber   string               `json:"sub_order_number"`
	VendorID         uuid.UUID            `json:"vendor_id"`
	Status           enums.SubOrderStatus `json:"status"`
	Total            decimal.Decimal      `json:"total"`
	CommissionAmount decimal.Decimal      `json:"commission_amount"`
	VendorPayout     decimal.Decimal      `json:"vendor_payout"`
}

// Settlement lists the payable sub-orders of a paid order.
type Settlement struct {
	OrderID         uuid.UUID           `json:"order_id"`
	OrderNumber     string              `json:"order_number"`
	PaymentIntentID string              `json:"payment_intent_id"`
	PaymentStatus   enums.PaymentStatus `json:"payment_status"`
	Currency        string              `json:"currency"`
	Lines           []SettlementLine    `json:"lines"`
}

// OrderItemDTO is the buyer-facing view of one purchased line.
type OrderItemDTO struct {
	ID         uuid.UUID       `json:"id"`
	ProductID  uuid.UUID       `json:"product_id"`
	VariantID  *uuid.UUID      `json:"variant_id,omitempty"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	TotalPrice decimal.Decimal `json:"total_price"`
}

// SubOrderDTO is the buyer-facing view of a vendor sub-order.
type SubOrderDTO struct {
	ID               uuid.UUID            `json:"id"`
	SubOrderNumber   string               `json:"sub_order_number"`
	VendorID         uuid.UUID            `json:"vendor_id"`
	Subtotal         decimal.Decimal      `json:"subtotal"`
	ShippingMethod   string               `json:"shipping_method"`
	ShippingCost     decimal.Decimal      `json:"shipping_cost"`
	Total            decimal.Decimal      `json:"total"`
	CommissionRate   decimal.Decimal      `json:"commission_rate"`
	CommissionAmount decimal.Decimal      `json:"commission_amount"`
	VendorPayout     decimal.Decimal      `json:"vendor_payout"`
	Status           enums.SubOrderStatus `json:"status"`
	Items            []OrderItemDTO       `json:"items,omitempty"`
}

// OrderDTO is the buyer-facing view of a master order.
type OrderDTO struct {
	ID              uuid.UUID           `json:"id"`
	OrderNumber     string              `json:"order_number"`
	BuyerID         uuid.UUID           `json:"buyer_id"`
	ShippingAddress types.Address       `json:"shipping_address"`
	BillingAddress  types.Address       `json:"billing_address"`
	Currency        string              `json:"currency"`
	Subtotal        decimal.Decimal     `json:"subtotal"`
	ShippingTotal   decimal.Decimal     `json:"shipping_total"`
	GrandTotal      decimal.Decimal     `json:"grand_total"`
	ApplicationFee  decimal.Decimal     `json:"application_fee"`
	PaymentStatus   enums.PaymentStatus `json:"payment_status"`
	PaymentIntentID *string             `json:"payment_intent_id,omitempty"`
	PaidAt          *time.Time          `json:"paid_at,omitempty"`
	CancelledAt     *time.Time          `json:"cancelled_at,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
	SubOrders       []SubOrderDTO       `json:"sub_orders"`
}

// NewVerification maps an order into its payment verification view.
func NewVerification(order *models.Order) Verification {
	v := Verification{
		OrderID:         order.ID,
		OrderNumber:     order.OrderNumber,
		BuyerID:         order.BuyerID,
		GrandTotal:      order.GrandTotal,
		GrandTotalCents: money.ToMinorUnits(order.GrandTotal),
		Currency:        order.Currency,
		PaymentStatus:   order.PaymentStatus,
	}
	if order.PaymentIntentID != nil {
		v.PaymentIntentID = *order.PaymentIntentID
	}
	return v
}

// NewOrderDTO maps an order with preloaded children.
func NewOrderDTO(order *models.Order) OrderDTO {
	dto := OrderDTO{
		ID:              order.ID,
		OrderNumber:     order.OrderNumber,
		BuyerID:         order.BuyerID,
		ShippingAddress: order.ShippingAddress,
		BillingAddress:  order.BillingAddress,
		Currency:        order.Currency,
		Subtotal:        order.Subtotal,
		ShippingTotal:   order.ShippingTotal,
		GrandTotal:      order.GrandTotal,
		ApplicationFee:  order.ApplicationFee,
		PaymentStatus:   order.PaymentStatus,
		PaymentIntentID: order.PaymentIntentID,
		PaidAt:          order.PaidAt,
		CancelledAt:     order.CancelledAt,
		CreatedAt:       order.CreatedAt,
		SubOrders:       make([]SubOrderDTO, 0, len(order.SubOrders)),
	}
	for _, sub := range order.SubOrders {
		dto.SubOrders = append(dto.SubOrders, NewSubOrderDTO(sub))
	}
	return dto
}

// NewSubOrderDTO maps a sub-order and any preloaded items.
func NewSubOrderDTO(sub models.SubOrder) SubOrderDTO {
	dto := SubOrderDTO{
		ID:               sub.ID,
		SubOrderNumber:   sub.SubOrderNumber,
		VendorID:         sub.VendorID,
		Subtotal:         sub.Subtotal,
		ShippingMethod:   sub.ShippingMethod,
		ShippingCost:     sub.ShippingCost,
		Total:            sub.Total,
		CommissionRate:   sub.CommissionRate,
		CommissionAmount: sub.CommissionAmount,
		VendorPayout:     sub.VendorPayout,
		Status:           sub.Status,
	}
	for _, item := range sub.Items {
		dto.Items = append(dto.Items, OrderItemDTO{
			ID:         item.ID,
			ProductID:  item.ProductID,
			VariantID:  item.VariantID,
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice,
			TotalPrice: item.TotalPrice,
		})
	}
	return dto
}
