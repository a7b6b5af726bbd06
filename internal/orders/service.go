package orders

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/marketsplit-backend/pkg/db"
	"github.com/angelmondragon/marketsplit-backend/pkg/db/models"
	"github.com/angelmondragon/marketsplit-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketsplit-backend/pkg/errors"
	"github.com/angelmondragon/marketsplit-backend/pkg/logger"
	"github.com/angelmondragon/marketsplit-backend/pkg/money"
	"github.com/angelmondragon/marketsplit-backend/pkg/outbox"
	"github.com/angelmondragon/marketsplit-backend/pkg/outbox/payloads"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"
)

const (
	staleBatchSize      = 100
	ReasonBuyerCancel   = "cancelled by buyer"
	ReasonPaymentExpiry = "payment not completed in time"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// IntentCanceller voids a provider payment intent that was never captured.
type IntentCanceller interface {
	CancelIntent(ctx context.Context, intentID string) error
}

// InventoryReleaser returns stock held for an order. Reservations are keyed by
// order id.
type InventoryReleaser interface {
	Release(ctx context.Context, reservationID uuid.UUID) error
}

// Service defines order operations exposed to buyers, vendors and internal
// services.
type Service interface {
	GetOrder(ctx context.Context, buyerID, orderID uuid.UUID) (*models.Order, error)
	VerifyForPayment(ctx context.Context, orderID uuid.UUID) (*Verification, error)
	ConfirmPayment(ctx context.Context, orderID uuid.UUID, input ConfirmInput) (*Confirmation, error)
	SettlementLines(ctx context.Context, orderID uuid.UUID) (*Settlement, error)
	CancelOrder(ctx context.Context, buyerID, orderID uuid.UUID, reason string) (*models.Order, error)
	UpdateSubOrderStatus(ctx context.Context, vendorID, subOrderID uuid.UUID, status enums.SubOrderStatus) (*models.SubOrder, error)
	ExpireStalePending(ctx context.Context, olderThan time.Duration) (int, error)
}

type service struct {
	repo      Repository
	tx        txRunner
	outbox    outbox.Emitter
	intents   IntentCanceller
	inventory InventoryReleaser
	logg      *logger.Logger
	now       func() time.Time
}

// NewService builds the order service with the required dependencies.
func NewService(repo Repository, tx txRunner, emitter outbox.Emitter, intents IntentCanceller, inventory InventoryReleaser, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if emitter == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if intents == nil {
		return nil, fmt.Errorf("intent canceller required")
	}
	if inventory == nil {
		return nil, fmt.Errorf("inventory releaser required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{
		repo:      repo,
		tx:        tx,
		outbox:    emitter,
		intents:   intents,
		inventory: inventory,
		logg:      logg,
		now:       time.Now,
	}, nil
}

func (s *service) GetOrder(ctx context.Context, buyerID, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.BuyerID != buyerID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return order, nil
}

func (s *service) VerifyForPayment(ctx context.Context, orderID uuid.UUID) (*Verification, error) {
	order, err := s.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	verification := NewVerification(order)
	return &verification, nil
}

// ConfirmPayment moves an order to paid exactly once. Amount, reference and
// currency are checked against the stored order, never recomputed. Concurrent
// callers race on a conditional update; losers get AlreadyPaid.
func (s *service) ConfirmPayment(ctx context.Context, orderID uuid.UUID, input ConfirmInput) (*Confirmation, error) {
	if orderID == uuid.Nil || strings.TrimSpace(input.PaymentIntentID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidRequest, "order id and payment intent id are required")
	}
	ctx = s.logg.WithOrderID(ctx, orderID.String())

	var result *Confirmation
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.FindByID(ctx, orderID)
		if err != nil {
			if db.IsNotFound(err) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}

		if err := s.checkConfirmation(ctx, order, input); err != nil {
			return err
		}

		switch order.PaymentStatus {
		case enums.PaymentStatusPaid:
			result = &Confirmation{OrderID: order.ID, PaymentStatus: order.PaymentStatus, PaidAt: order.PaidAt, AlreadyPaid: true}
			return nil
		case enums.PaymentStatusFailed:
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order is no longer awaiting payment").
				WithDetails(map[string]any{"payment_status": order.PaymentStatus})
		}

		paidAt := s.now().UTC()
		won, err := repo.MarkPaid(ctx, order.ID, input.PaymentIntentID, paidAt)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark order paid")
		}
		if !won {
			result = &Confirmation{OrderID: order.ID, PaymentStatus: enums.PaymentStatusPaid, AlreadyPaid: true}
			return nil
		}

		if err := repo.TransitionSubOrders(ctx, order.ID, enums.SubOrderStatusPending, enums.SubOrderStatusProcessing); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "advance sub-orders")
		}
		event := outbox.DomainEvent{
			EventType:     enums.EventOrderPaid,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			OccurredAt:    paidAt,
			Data: payloads.OrderPaidEvent{
				OrderID:         order.ID,
				OrderNumber:     order.OrderNumber,
				PaymentIntentID: input.PaymentIntentID,
				AmountCents:     input.AmountReceivedCents,
				Currency:        order.Currency,
				ApplicationFee:  order.ApplicationFee,
				PaidAt:          paidAt,
			},
		}
		if err := s.outbox.Emit(ctx, tx, event); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit order_paid")
		}
		result = &Confirmation{OrderID: order.ID, PaymentStatus: enums.PaymentStatusPaid, PaidAt: &paidAt}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !result.AlreadyPaid {
		s.logg.Info(ctx, "order payment confirmed")
	}
	return result, nil
}

func (s *service) checkConfirmation(ctx context.Context, order *models.Order, input ConfirmInput) error {
	expected := money.ToMinorUnits(order.GrandTotal)
	if input.AmountReceivedCents != expected {
		s.logg.Critical(ctx, "payment amount does not match order total", map[string]any{
			"expected_cents": expected,
			"received_cents": input.AmountReceivedCents,
		})
		return pkgerrors.New(pkgerrors.CodeSecurityMismatch, "payment amount mismatch")
	}
	if order.PaymentIntentID == nil || *order.PaymentIntentID != input.PaymentIntentID {
		s.logg.Critical(ctx, "payment reference does not match order", map[string]any{
			"received_reference": input.PaymentIntentID,
		})
		return pkgerrors.New(pkgerrors.CodeSecurityMismatch, "payment reference mismatch")
	}
	if !strings.EqualFold(order.Currency, input.Currency) {
		s.logg.Critical(ctx, "payment currency does not match order", map[string]any{
			"expected_currency": order.Currency,
			"received_currency": input.Currency,
		})
		return pkgerrors.New(pkgerrors.CodeSecurityMismatch, "payment currency mismatch")
	}
	return nil
}

func (s *service) SettlementLines(ctx context.Context, orderID uuid.UUID) (*Settlement, error) {
	order, err := s.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.PaymentStatus != enums.PaymentStatusPaid {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order is not paid").
			WithDetails(map[string]any{"payment_status": order.PaymentStatus})
	}

	settlement := &Settlement{
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		PaymentStatus: order.PaymentStatus,
		Currency:      order.Currency,
		Lines:         make([]SettlementLine, 0, len(order.SubOrders)),
	}
	if order.PaymentIntentID != nil {
		settlement.PaymentIntentID = *order.PaymentIntentID
	}
	for _, sub := range order.SubOrders {
		if sub.Status == enums.SubOrderStatusCancelled {
			continue
		}
		settlement.Lines = append(settlement.Lines, SettlementLine{
			SubOrderID:       sub.ID,
			SubOrderNumber:   sub.SubOrderNumber,
			VendorID:         sub.VendorID,
			Status:           sub.Status,
			Total:            sub.Total,
			CommissionAmount: sub.CommissionAmount,
			VendorPayout:     sub.VendorPayout,
		})
	}
	return settlement, nil
}

// CancelOrder voids the payment intent first so a buyer cannot pay for an
// order that is being cancelled, then marks the order failed.
func (s *service) CancelOrder(ctx context.Context, buyerID, orderID uuid.UUID, reason string) (*models.Order, error) {
	order, err := s.GetOrder(ctx, buyerID, orderID)
	if err != nil {
		return nil, err
	}
	if order.PaymentStatus != enums.PaymentStatusPending {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "only orders awaiting payment can be cancelled").
			WithDetails(map[string]any{"payment_status": order.PaymentStatus})
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = ReasonBuyerCancel
	}
	actor := &outbox.ActorRef{ID: buyerID, Kind: string(enums.RoleBuyer)}
	if err := s.cancel(ctx, order, reason, actor); err != nil {
		return nil, err
	}
	return s.load(ctx, orderID)
}

// ExpireStalePending cancels orders still pending after olderThan. Per-order
// failures do not stop the batch.
func (s *service) ExpireStalePending(ctx context.Context, olderThan time.Duration) (int, error) {
	if olderThan <= 0 {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "expiry window must be positive")
	}
	cutoff := s.now().UTC().Add(-olderThan)
	stale, err := s.repo.FindStalePending(ctx, cutoff, staleBatchSize)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load stale orders")
	}

	var errs error
	expired := 0
	for i := range stale {
		order := &stale[i]
		if err := s.cancel(ctx, order, ReasonPaymentExpiry, nil); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("order %s: %w", order.ID, err))
			continue
		}
		expired++
	}
	return expired, errs
}

func (s *service) cancel(ctx context.Context, order *models.Order, reason string, actor *outbox.ActorRef) error {
	ctx = s.logg.WithOrderID(ctx, order.ID.String())
	if order.PaymentIntentID != nil && *order.PaymentIntentID != "" {
		if err := s.intents.CancelIntent(ctx, *order.PaymentIntentID); err != nil {
			return err
		}
	}

	cancelledAt := s.now().UTC()
	cancelled := false
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		ok, err := repo.CancelPending(ctx, order.ID, reason, cancelledAt)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel order")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order is no longer pending")
		}
		if err := repo.TransitionSubOrders(ctx, order.ID, enums.SubOrderStatusPending, enums.SubOrderStatusCancelled); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel sub-orders")
		}
		cancelled = true
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCancelled,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         actor,
			OccurredAt:    cancelledAt,
			Data: payloads.OrderCancelledEvent{
				OrderID:     order.ID,
				OrderNumber: order.OrderNumber,
				BuyerID:     order.BuyerID,
				Reason:      reason,
				CancelledAt: cancelledAt,
			},
		})
	})
	if err != nil {
		return err
	}

	if cancelled {
		if err := s.inventory.Release(ctx, order.ID); err != nil {
			s.logg.Error(ctx, "release inventory for cancelled order", err)
		}
		s.logg.Info(s.logg.WithField(ctx, "reason", reason), "order cancelled")
	}
	return nil
}

func (s *service) UpdateSubOrderStatus(ctx context.Context, vendorID, subOrderID uuid.UUID, status enums.SubOrderStatus) (*models.SubOrder, error) {
	if status != enums.SubOrderStatusShipped && status != enums.SubOrderStatusDelivered {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "vendors may only mark sub-orders shipped or delivered")
	}
	sub, err := s.repo.FindSubOrder(ctx, subOrderID)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "sub-order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load sub-order")
	}
	if sub.VendorID != vendorID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "sub-order not found")
	}
	if !sub.Status.CanTransitionTo(status) {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "sub-order status transition not allowed").
			WithDetails(map[string]any{"from": sub.Status, "to": status})
	}

	ok, err := s.repo.UpdateSubOrderStatus(ctx, sub.ID, sub.Status, status)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update sub-order status")
	}
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "sub-order was updated concurrently")
	}
	sub.Status = status
	return sub, nil
}

func (s *service) load(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}
