package checkout

import (
	"github.com/angelmondragon/marketsplit-backend/internal/orders"
	"github.com/angelmondragon/marketsplit-backend/pkg/db/models"
	"github.com/angelmondragon/marketsplit-backend/pkg/types"
	"github.com/google/uuid"
)

// CheckoutInput captures buyer data collected at checkout. The billing
// address defaults to the shipping address.
type CheckoutInput struct {
	BuyerEmail      string         `json:"buyer_email" validate:"required,email,max=254"`
	ShippingAddress types.Address  `json:"shipping_address"`
	BillingAddress  *types.Address `json:"billing_address,omitempty"`
}

// PaymentHandle is what the buyer's client needs to complete payment.
type PaymentHandle struct {
	IntentID     string `json:"payment_intent_id"`
	ClientSecret string `json:"client_secret"`
}

// Result is the outcome of a checkout. Replayed is set when the cart snapshot
// had already been checked out and the existing order was returned.
type Result struct {
	Order     *models.Order
	SubOrders []models.SubOrder
	Payment   PaymentHandle
	Replayed  bool
}

// ResultDTO is the API view of a checkout result.
type ResultDTO struct {
	OrderID         uuid.UUID            `json:"order_id"`
	OrderNumber     string               `json:"order_number"`
	GrandTotal      string               `json:"grand_total"`
	ApplicationFee  string               `json:"application_fee"`
	Currency        string               `json:"currency"`
	SubOrders       []orders.SubOrderDTO `json:"sub_orders"`
	PaymentIntentID string               `json:"payment_intent_id"`
	ClientSecret    string               `json:"client_secret"`
}

// NewResultDTO maps a checkout result for the API.
func NewResultDTO(result *Result) ResultDTO {
	dto := ResultDTO{
		OrderID:         result.Order.ID,
		OrderNumber:     result.Order.OrderNumber,
		GrandTotal:      result.Order.GrandTotal.StringFixed(2),
		ApplicationFee:  result.Order.ApplicationFee.StringFixed(2),
		Currency:        result.Order.Currency,
		SubOrders:       make([]orders.SubOrderDTO, 0, len(result.SubOrders)),
		PaymentIntentID: result.Payment.IntentID,
		ClientSecret:    result.Payment.ClientSecret,
	}
	for _, sub := range result.SubOrders {
		dto.SubOrders = append(dto.SubOrders, orders.NewSubOrderDTO(sub))
	}
	return dto
}
