package checkout

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketsplit-backend/internal/cart"
	"github.com/angelmondragon/marketsplit-backend/internal/catalog"
	"github.com/angelmondragon/marketsplit-backend/internal/checkout/helpers"
	"github.com/angelmondragon/marketsplit-backend/internal/orders"
	"github.com/angelmondragon/marketsplit-backend/internal/payments"
	"github.com/angelmondragon/marketsplit-backend/pkg/db"
	"github.com/angelmondragon/marketsplit-backend/pkg/db/models"
	"github.com/angelmondragon/marketsplit-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketsplit-backend/pkg/errors"
	"github.com/angelmondragon/marketsplit-backend/pkg/logger"
	"github.com/angelmondragon/marketsplit-backend/pkg/money"
	"github.com/angelmondragon/marketsplit-backend/pkg/outbox"
	"github.com/angelmondragon/marketsplit-backend/pkg/outbox/payloads"
)

const maxNumberAttempts = 3

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type cartStore interface {
	GetCart(ctx context.Context, buyerID uuid.UUID) (*cart.Cart, error)
	ClearCart(ctx context.Context, buyerID uuid.UUID) error
}

type inventoryReserver interface {
	Reserve(ctx context.Context, reservationID uuid.UUID, items []catalog.ReservationItem) error
	Release(ctx context.Context, reservationID uuid.UUID) error
}

type intentGateway interface {
	CreateIntent(ctx context.Context, orderID uuid.UUID, amount, applicationFee decimal.Decimal, metadata map[string]string) (*payments.Intent, error)
	CancelIntent(ctx context.Context, intentID string) error
}

type outboxPurger interface {
	DeleteForAggregateTx(tx *gorm.DB, aggregateType enums.OutboxAggregateType, aggregateID uuid.UUID) error
}

// Service turns a buyer cart into a persisted order with one sub-order per
// vendor and a single payment authorization.
type Service interface {
	CreateOrder(ctx context.Context, buyerID uuid.UUID, input CheckoutInput) (*Result, error)
}

// ServiceParams groups dependencies for the checkout service.
type ServiceParams struct {
	Carts          cartStore
	Inventory      inventoryReserver
	Payments       intentGateway
	Orders         orders.Repository
	Tx             txRunner
	Outbox         outbox.Emitter
	OutboxPurger   outboxPurger
	CommissionRate decimal.Decimal
	Currency       string
	Logger         *logger.Logger
}

type service struct {
	carts     cartStore
	inventory inventoryReserver
	payments  intentGateway
	orders    orders.Repository
	tx        txRunner
	outbox    outbox.Emitter
	purger    outboxPurger
	rate      decimal.Decimal
	currency  string
	logg      *logger.Logger
	now       func() time.Time
	numbers   func(time.Time) (string, error)
}

// NewService builds the checkout service.
func NewService(params ServiceParams) (Service, error) {
	if params.Carts == nil {
		return nil, fmt.Errorf("cart store required")
	}
	if params.Inventory == nil {
		return nil, fmt.Errorf("inventory client required")
	}
	if params.Payments == nil {
		return nil, fmt.Errorf("payment gateway required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if params.Outbox == nil || params.OutboxPurger == nil {
		return nil, fmt.Errorf("outbox emitter and purger required")
	}
	if params.CommissionRate.IsNegative() || params.CommissionRate.GreaterThan(decimal.NewFromInt(100)) {
		return nil, fmt.Errorf("commission rate must be between 0 and 100")
	}
	currency := strings.ToLower(strings.TrimSpace(params.Currency))
	if currency == "" {
		currency = "usd"
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{
		carts:     params.Carts,
		inventory: params.Inventory,
		payments:  params.Payments,
		orders:    params.Orders,
		tx:        params.Tx,
		outbox:    params.Outbox,
		purger:    params.OutboxPurger,
		rate:      params.CommissionRate,
		currency:  currency,
		logg:      logg,
		now:       time.Now,
		numbers:   newOrderNumber,
	}, nil
}

// CreateOrder checks out the buyer's current cart. The order is persisted
// first, inventory is reserved under the order id, and only then is the
// payment intent requested. Any failure before the intent reference is stored
// removes the order, its outbox event and the reservation.
func (s *service) CreateOrder(ctx context.Context, buyerID uuid.UUID, input CheckoutInput) (*Result, error) {
	if buyerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "buyer id is required")
	}
	input, err := normalizeInput(input)
	if err != nil {
		return nil, err
	}

	c, err := s.carts.GetCart(ctx, buyerID)
	if err != nil {
		return nil, err
	}
	if c.IsEmpty() {
		return nil, pkgerrors.New(pkgerrors.CodeEmptyCart, "cart is empty")
	}

	checkoutKey := CheckoutKey(c)
	orderID := OrderID(checkoutKey)
	ctx = s.logg.WithOrderID(ctx, orderID.String())

	existing, err := s.findExisting(ctx, checkoutKey)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return s.resume(ctx, buyerID, existing)
	}

	splits, totals := helpers.SplitCart(c, s.rate)
	if !money.InRange(totals.GrandTotal) {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidAmount, "order total must be greater than 0 and at most 999999.99")
	}

	order, created, err := s.persist(ctx, orderID, checkoutKey, buyerID, input, splits, totals)
	if err != nil {
		return nil, err
	}
	if !created {
		return s.resume(ctx, buyerID, order)
	}

	if err := s.inventory.Reserve(ctx, order.ID, reservationItems(splits)); err != nil {
		s.rollback(ctx, order.ID)
		return nil, err
	}

	intent, err := s.payments.CreateIntent(ctx, order.ID, order.GrandTotal, order.ApplicationFee, intentMetadata(order))
	if err != nil {
		s.rollback(ctx, order.ID)
		return nil, err
	}

	if err := s.orders.SetPaymentIntent(ctx, order.ID, intent.ID); err != nil {
		s.voidIntent(ctx, intent.ID)
		s.rollback(ctx, order.ID)
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store payment intent")
	}
	order.PaymentIntentID = &intent.ID

	s.clearCart(ctx, buyerID)

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"order_number": order.OrderNumber,
		"sub_orders":   len(order.SubOrders),
		"grand_total":  order.GrandTotal.StringFixed(2),
	}), "checkout completed")

	return &Result{
		Order:     order,
		SubOrders: order.SubOrders,
		Payment:   PaymentHandle{IntentID: intent.ID, ClientSecret: intent.ClientSecret},
	}, nil
}

// resume answers a repeated checkout of a snapshot that already produced an
// order. The intent request reuses the order-derived idempotency key, so the
// provider returns the original authorization.
func (s *service) resume(ctx context.Context, buyerID uuid.UUID, order *models.Order) (*Result, error) {
	if order.BuyerID != buyerID {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "cart was checked out by another buyer")
	}
	if order.PaymentStatus != enums.PaymentStatusPending {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("order %s for this cart is already %s", order.OrderNumber, order.PaymentStatus))
	}
	if order.PaymentIntentID == nil {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "checkout for this cart is still in progress")
	}

	intent, err := s.payments.CreateIntent(ctx, order.ID, order.GrandTotal, order.ApplicationFee, intentMetadata(order))
	if err != nil {
		return nil, err
	}
	if intent.ID != *order.PaymentIntentID {
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
			"stored_intent":   *order.PaymentIntentID,
			"returned_intent": intent.ID,
		}), "payment intent differs from stored reference")
	}

	s.clearCart(ctx, buyerID)
	s.logg.Info(ctx, "checkout replayed for existing order")

	return &Result{
		Order:     order,
		SubOrders: order.SubOrders,
		Payment:   PaymentHandle{IntentID: intent.ID, ClientSecret: intent.ClientSecret},
		Replayed:  true,
	}, nil
}

// persist writes the order tree and its order_created event in one
// transaction. created is false when another checkout of the same snapshot
// won the insert; order is then the stored one.
func (s *service) persist(
	ctx context.Context,
	orderID uuid.UUID,
	checkoutKey string,
	buyerID uuid.UUID,
	input CheckoutInput,
	splits []helpers.VendorSplit,
	totals helpers.OrderTotals,
) (*models.Order, bool, error) {
	for attempt := 1; ; attempt++ {
		number, err := s.numbers(s.now())
		if err != nil {
			return nil, false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate order number")
		}
		order := buildOrder(orderID, number, checkoutKey, buyerID, s.currency, input, splits, totals)

		err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			if err := s.orders.WithTx(tx).CreateOrder(ctx, order); err != nil {
				return err
			}
			return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventOrderCreated,
				AggregateType: enums.AggregateOrder,
				AggregateID:   order.ID,
				Actor:         &outbox.ActorRef{ID: buyerID, Kind: string(enums.RoleBuyer)},
				Data:          createdEvent(order),
			})
		})
		if err == nil {
			return order, true, nil
		}
		if !db.IsUniqueViolation(err, "") {
			return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist order")
		}

		existing, findErr := s.findExisting(ctx, checkoutKey)
		if findErr != nil {
			return nil, false, findErr
		}
		if existing != nil {
			return existing, false, nil
		}
		if attempt >= maxNumberAttempts {
			return nil, false, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "could not allocate order number")
		}
	}
}

func (s *service) findExisting(ctx context.Context, checkoutKey string) (*models.Order, error) {
	order, err := s.orders.FindByCheckoutKey(ctx, checkoutKey)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load existing checkout")
	}
	return order, nil
}

// rollback undoes a checkout that never got a stored payment intent. It runs
// detached from the request context so a cancelled client still gets cleaned up.
func (s *service) rollback(ctx context.Context, orderID uuid.UUID) {
	ctx = context.WithoutCancel(ctx)

	var errs error
	errs = multierr.Append(errs, s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.orders.WithTx(tx).DeleteOrder(ctx, orderID); err != nil {
			return err
		}
		return s.purger.DeleteForAggregateTx(tx, enums.AggregateOrder, orderID)
	}))
	errs = multierr.Append(errs, s.inventory.Release(ctx, orderID))

	if errs != nil {
		s.logg.Error(ctx, "checkout rollback incomplete", errs)
		return
	}
	s.logg.Warn(ctx, "checkout rolled back")
}

func (s *service) voidIntent(ctx context.Context, intentID string) {
	if err := s.payments.CancelIntent(context.WithoutCancel(ctx), intentID); err != nil {
		s.logg.Error(s.logg.WithField(ctx, "payment_intent_id", intentID), "cancel orphaned payment intent", err)
	}
}

func (s *service) clearCart(ctx context.Context, buyerID uuid.UUID) {
	if err := s.carts.ClearCart(ctx, buyerID); err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "clear cart after checkout failed")
	}
}

func normalizeInput(input CheckoutInput) (CheckoutInput, error) {
	input.BuyerEmail = strings.TrimSpace(input.BuyerEmail)
	if input.BuyerEmail == "" {
		return input, pkgerrors.New(pkgerrors.CodeValidation, "buyer email is required")
	}
	input.ShippingAddress = input.ShippingAddress.Normalize()
	if input.ShippingAddress.Line1 == "" || input.ShippingAddress.Country == "" {
		return input, pkgerrors.New(pkgerrors.CodeValidation, "shipping address is required")
	}
	if input.BillingAddress == nil {
		billing := input.ShippingAddress
		input.BillingAddress = &billing
	} else {
		billing := input.BillingAddress.Normalize()
		input.BillingAddress = &billing
	}
	return input, nil
}

func buildOrder(
	orderID uuid.UUID,
	number, checkoutKey string,
	buyerID uuid.UUID,
	currency string,
	input CheckoutInput,
	splits []helpers.VendorSplit,
	totals helpers.OrderTotals,
) *models.Order {
	order := &models.Order{
		ID:              orderID,
		OrderNumber:     number,
		BuyerID:         buyerID,
		BuyerEmail:      input.BuyerEmail,
		CheckoutKey:     checkoutKey,
		ShippingAddress: input.ShippingAddress,
		BillingAddress:  *input.BillingAddress,
		Currency:        currency,
		Subtotal:        totals.Subtotal,
		ShippingTotal:   totals.ShippingTotal,
		GrandTotal:      totals.GrandTotal,
		ApplicationFee:  totals.ApplicationFee,
		PaymentStatus:   enums.PaymentStatusPending,
		SubOrders:       make([]models.SubOrder, 0, len(splits)),
	}
	for _, split := range splits {
		sub := models.SubOrder{
			OrderID:          orderID,
			VendorID:         split.VendorID,
			SubOrderNumber:   subOrderNumber(number, split.Sequence),
			Sequence:         split.Sequence,
			Subtotal:         split.Subtotal,
			ShippingMethod:   split.ShippingMethod,
			ShippingCost:     split.ShippingCost,
			Total:            split.Total,
			CommissionRate:   split.CommissionRate,
			CommissionAmount: split.CommissionAmount,
			VendorPayout:     split.VendorPayout,
			Status:           enums.SubOrderStatusPending,
			Items:            make([]models.OrderItem, 0, len(split.Items)),
		}
		for _, item := range split.Items {
			sub.Items = append(sub.Items, models.OrderItem{
				ProductID:  item.ProductID,
				VariantID:  item.VariantID,
				Quantity:   item.Quantity,
				UnitPrice:  item.UnitPrice,
				TotalPrice: money.Round(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))),
			})
		}
		order.SubOrders = append(order.SubOrders, sub)
	}
	return order
}

func reservationItems(splits []helpers.VendorSplit) []catalog.ReservationItem {
	items := make([]catalog.ReservationItem, 0)
	for _, split := range splits {
		for _, item := range split.Items {
			items = append(items, catalog.ReservationItem{
				ProductID: item.ProductID,
				VariantID: item.VariantID,
				Quantity:  item.Quantity,
			})
		}
	}
	return items
}

func intentMetadata(order *models.Order) map[string]string {
	return map[string]string{
		"order_id":     order.ID.String(),
		"order_number": order.OrderNumber,
		"buyer_id":     order.BuyerID.String(),
		"vendor_count": strconv.Itoa(len(order.SubOrders)),
	}
}

func createdEvent(order *models.Order) payloads.OrderCreatedEvent {
	event := payloads.OrderCreatedEvent{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		BuyerID:     order.BuyerID,
		GrandTotal:  order.GrandTotal,
		Currency:    order.Currency,
		SubOrders:   make([]payloads.SubOrderSummary, 0, len(order.SubOrders)),
	}
	for _, sub := range order.SubOrders {
		event.SubOrders = append(event.SubOrders, payloads.SubOrderSummary{
			SubOrderID:     sub.ID,
			SubOrderNumber: sub.SubOrderNumber,
			VendorID:       sub.VendorID,
			Total:          sub.Total,
			VendorPayout:   sub.VendorPayout,
		})
	}
	return event
}
