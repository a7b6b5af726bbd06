package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v84"

	pkgerrors "github.com/angelmondragon/marketsplit-backend/pkg/errors"
	"github.com/angelmondragon/marketsplit-backend/pkg/money"
	pkgstripe "github.com/angelmondragon/marketsplit-backend/pkg/stripe"
)

const defaultTimeout = 10 * time.Second

type stripeAPI interface {
	Currency() string
	CreatePaymentIntent(ctx context.Context, params *stripe.PaymentIntentCreateParams) (*stripe.PaymentIntent, error)
	CancelPaymentIntent(ctx context.Context, id string, params *stripe.PaymentIntentCancelParams) (*stripe.PaymentIntent, error)
	CreateTransfer(ctx context.Context, params *stripe.TransferCreateParams) (*stripe.Transfer, error)
}

// Intent is the provider handle returned to checkout.
type Intent struct {
	ID                  string
	ClientSecret        string
	Status              string
	AmountCents         int64
	ApplicationFeeCents int64
	IdempotencyKey      string
}

// TransferInput describes one payout to a connected account.
type TransferInput struct {
	OrderID     uuid.UUID
	SubOrderID  uuid.UUID
	VendorID    uuid.UUID
	Amount      decimal.Decimal
	Destination string
	Attempt     int
}

// Transfer is the provider handle of a created transfer.
type Transfer struct {
	ID             string
	AmountCents    int64
	IdempotencyKey string
}

// GatewayParams groups dependencies for the payment gateway.
type GatewayParams struct {
	Stripe  stripeAPI
	Timeout time.Duration
}

// Gateway talks to Stripe on behalf of checkout, cancellation and settlement.
type Gateway struct {
	stripe  stripeAPI
	timeout time.Duration
}

// NewGateway builds a payment gateway.
func NewGateway(params GatewayParams) (*Gateway, error) {
	if params.Stripe == nil {
		return nil, errors.New("stripe client is required")
	}
	timeout := params.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Gateway{stripe: params.Stripe, timeout: timeout}, nil
}

// IntentIdempotencyKey derives the provider idempotency key for an order's
// payment intent. It depends on the order id only, so every retry of the same
// checkout collapses onto one authorization.
func IntentIdempotencyKey(orderID uuid.UUID) string {
	return "order-intent-" + orderID.String()
}

// TransferIdempotencyKey derives the provider idempotency key of one transfer attempt.
func TransferIdempotencyKey(subOrderID uuid.UUID, attempt int) string {
	return fmt.Sprintf("transfer-%s-%d", subOrderID, attempt)
}

// TransferRejected reports whether a CreateTransfer error proves the provider
// did not create the transfer. Timeouts and provider outages leave the outcome
// unknown, so a retry must reuse the same idempotency key.
func TransferRejected(err error) bool {
	switch pkgerrors.As(err).Code() {
	case pkgerrors.CodePaymentRejected, pkgerrors.CodeInvalidRequest, pkgerrors.CodeInvalidAmount:
		return true
	default:
		return false
	}
}

// CreateIntent requests a payment authorization for amount with
// applicationFee retained by the platform.
func (g *Gateway) CreateIntent(ctx context.Context, orderID uuid.UUID, amount, applicationFee decimal.Decimal, metadata map[string]string) (*Intent, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidRequest, "order id is required")
	}
	if !money.InRange(amount) {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidAmount, "amount must be greater than 0 and at most 999999.99")
	}
	if applicationFee.IsNegative() || applicationFee.GreaterThan(amount) {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidFee, "application fee must be between 0 and the amount")
	}

	amountCents := money.ToMinorUnits(amount)
	feeCents := money.ToMinorUnits(applicationFee)
	key := IntentIdempotencyKey(orderID)

	params := &stripe.PaymentIntentCreateParams{
		Amount:               stripe.Int64(amountCents),
		Currency:             stripe.String(g.stripe.Currency()),
		ApplicationFeeAmount: stripe.Int64(feeCents),
		TransferGroup:        stripe.String(orderID.String()),
		AutomaticPaymentMethods: &stripe.PaymentIntentCreateAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.SetIdempotencyKey(key)
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}
	params.AddMetadata("order_id", orderID.String())

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	pi, err := g.stripe.CreatePaymentIntent(callCtx, params)
	if err != nil {
		return nil, pkgstripe.MapError(err, "create payment intent")
	}
	if pi == nil || strings.TrimSpace(pi.ID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodePaymentUnavailable, "payment intent response missing id")
	}

	return &Intent{
		ID:                  pi.ID,
		ClientSecret:        pi.ClientSecret,
		Status:              string(pi.Status),
		AmountCents:         amountCents,
		ApplicationFeeCents: feeCents,
		IdempotencyKey:      key,
	}, nil
}

// CancelIntent voids an unpaid intent. An intent that already moved past a
// cancellable state yields STATE_CONFLICT.
func (g *Gateway) CancelIntent(ctx context.Context, intentID string) error {
	intentID = strings.TrimSpace(intentID)
	if intentID == "" {
		return pkgerrors.New(pkgerrors.CodeInvalidRequest, "payment intent id is required")
	}

	params := &stripe.PaymentIntentCancelParams{
		CancellationReason: stripe.String(string(stripe.PaymentIntentCancellationReasonAbandoned)),
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	if _, err := g.stripe.CancelPaymentIntent(callCtx, intentID, params); err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Code == stripe.ErrorCodePaymentIntentUnexpectedState {
			return pkgerrors.Wrap(pkgerrors.CodeStateConflict, err, "payment intent can no longer be cancelled")
		}
		return pkgstripe.MapError(err, "cancel payment intent")
	}
	return nil
}

// CreateTransfer sends amount from the platform balance to a connected account.
// The transfer is grouped under the order so provider reports line up with it.
func (g *Gateway) CreateTransfer(ctx context.Context, input TransferInput) (*Transfer, error) {
	if input.OrderID == uuid.Nil || input.SubOrderID == uuid.Nil || input.VendorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidRequest, "order, sub-order and vendor ids are required")
	}
	if !money.InRange(input.Amount) {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidAmount, "transfer amount must be greater than 0 and at most 999999.99")
	}
	destination := strings.TrimSpace(input.Destination)
	if destination == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidRequest, "destination account is required")
	}
	attempt := input.Attempt
	if attempt < 1 {
		attempt = 1
	}

	amountCents := money.ToMinorUnits(input.Amount)
	key := TransferIdempotencyKey(input.SubOrderID, attempt)

	params := &stripe.TransferCreateParams{
		Amount:        stripe.Int64(amountCents),
		Currency:      stripe.String(g.stripe.Currency()),
		Destination:   stripe.String(destination),
		TransferGroup: stripe.String(input.OrderID.String()),
	}
	params.SetIdempotencyKey(key)
	params.AddMetadata("order_id", input.OrderID.String())
	params.AddMetadata("sub_order_id", input.SubOrderID.String())
	params.AddMetadata("vendor_id", input.VendorID.String())

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	tr, err := g.stripe.CreateTransfer(callCtx, params)
	if err != nil {
		return nil, pkgstripe.MapError(err, "create transfer")
	}
	if tr == nil || strings.TrimSpace(tr.ID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodePaymentUnavailable, "transfer response missing id")
	}
	return &Transfer{ID: tr.ID, AmountCents: amountCents, IdempotencyKey: key}, nil
}
