package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderCreatedEvent is emitted once per checkout with the vendor split.
type OrderCreatedEvent struct {
	OrderID     uuid.UUID         `json:"order_id"`
	OrderNumber string            `json:"order_number"`
	BuyerID     uuid.UUID         `json:"buyer_id"`
	GrandTotal  decimal.Decimal   `json:"grand_total"`
	Currency    string            `json:"currency"`
	SubOrders   []SubOrderSummary `json:"sub_orders"`
}

type SubOrderSummary struct {
	SubOrderID     uuid.UUID       `json:"sub_order_id"`
	SubOrderNumber string          `json:"sub_order_number"`
	VendorID       uuid.UUID       `json:"vendor_id"`
	Total          decimal.Decimal `json:"total"`
	VendorPayout   decimal.Decimal `json:"vendor_payout"`
}

// OrderPaidEvent is emitted by the winning payment confirmation and drives settlement.
type OrderPaidEvent struct {
	OrderID         uuid.UUID       `json:"order_id"`
	OrderNumber     string          `json:"order_number"`
	PaymentIntentID string          `json:"payment_intent_id"`
	AmountCents     int64           `json:"amount_cents"`
	Currency        string          `json:"currency"`
	ApplicationFee  decimal.Decimal `json:"application_fee"`
	PaidAt          time.Time       `json:"paid_at"`
}

// OrderCancelledEvent is emitted when a pending order is cancelled or expires.
type OrderCancelledEvent struct {
	OrderID     uuid.UUID `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	BuyerID     uuid.UUID `json:"buyer_id"`
	Reason      string    `json:"reason,omitempty"`
	CancelledAt time.Time `json:"cancelled_at"`
}
