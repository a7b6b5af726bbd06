// Package stripewebhook confirms payments and tracks transfers from verified
// Stripe webhook events.
package stripewebhook

import (
	"context"
	"encoding/json"
	"runtime/debug"
	"strings"

	"github.com/angelmondragon/marketsplit-backend/internal/orders"
	"github.com/angelmondragon/marketsplit-backend/internal/webhookfailures"
	"github.com/angelmondragon/marketsplit-backend/pkg/db"
	"github.com/angelmondragon/marketsplit-backend/pkg/db/models"
	"github.com/angelmondragon/marketsplit-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketsplit-backend/pkg/errors"
	"github.com/angelmondragon/marketsplit-backend/pkg/logger"
	"github.com/angelmondragon/marketsplit-backend/pkg/metrics"
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
)

const providerStripe = "stripe"

type orderAPI interface {
	Verify(ctx context.Context, orderID uuid.UUID) (*orders.Verification, error)
	ConfirmPayment(ctx context.Context, orderID uuid.UUID, input orders.ConfirmInput) (*orders.Confirmation, error)
}

type payoutLedger interface {
	MarkTransferPaid(ctx context.Context, transferID string) (bool, error)
	MarkTransferFailed(ctx context.Context, transferID, reason string) (bool, error)
	FindByTransferID(ctx context.Context, transferID string) (*models.VendorPayout, error)
	UpsertAccount(ctx context.Context, account *models.VendorAccount) error
	UpdateAccountByStripeID(ctx context.Context, account *models.VendorAccount) (bool, error)
}

type failureRecorder interface {
	Record(ctx context.Context, input webhookfailures.RecordInput) (*models.WebhookFailure, error)
}

type deliveryGuard interface {
	CheckAndMark(ctx context.Context, eventID string) (bool, error)
	Release(ctx context.Context, eventID string) error
}

// RequestMeta carries what the HTTP layer knows about a delivery.
type RequestMeta struct {
	SourceIP string
	Payload  []byte
}

type ServiceParams struct {
	Orders   orderAPI
	Payouts  payoutLedger
	Failures failureRecorder
	Guard    deliveryGuard
	Metrics  *metrics.SettlementMetrics
	Logger   *logger.Logger
}

type Service struct {
	orders   orderAPI
	payouts  payoutLedger
	failures failureRecorder
	guard    deliveryGuard
	metrics  *metrics.SettlementMetrics
	logg     *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Orders == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "order client required")
	}
	if params.Payouts == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payout repository required")
	}
	if params.Failures == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "failure ledger required")
	}
	if params.Guard == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "delivery guard required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{
		orders:   params.Orders,
		payouts:  params.Payouts,
		failures: params.Failures,
		guard:    params.Guard,
		metrics:  params.Metrics,
		logg:     params.Logger,
	}, nil
}

// HandleEvent processes one signature-verified delivery. Redeliveries of a
// processed event are acknowledged without side effects. When processing
// fails the delivery marker is released, the failure is written to the
// ledger and the error is returned so the provider retries.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event, meta RequestMeta) error {
	if event == nil || strings.TrimSpace(event.ID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event id required")
	}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"event_id":   event.ID,
		"event_type": string(event.Type),
		"source_ip":  meta.SourceIP,
	})

	seen, err := s.guard.CheckAndMark(ctx, event.ID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check webhook delivery")
	}
	if seen {
		s.metrics.WebhookEvent(string(event.Type), "duplicate")
		s.logg.Info(ctx, "duplicate webhook delivery ignored")
		return nil
	}

	kind, err := s.process(ctx, event)
	if err != nil {
		if releaseErr := s.guard.Release(ctx, event.ID); releaseErr != nil {
			s.logg.Error(ctx, "release webhook delivery marker", releaseErr)
		}
		s.recordFailure(ctx, event, meta, err)
		s.metrics.WebhookEvent(string(kind), outcomeFor(err))
		return err
	}
	s.metrics.WebhookEvent(string(kind), "processed")
	return nil
}

// Reprocess re-runs a stored event from the failure ledger. It bypasses the
// delivery guard; every step is idempotent on its own.
func (s *Service) Reprocess(ctx context.Context, failure *models.WebhookFailure) error {
	if failure == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "webhook failure required")
	}
	if failure.Provider != providerStripe {
		return pkgerrors.New(pkgerrors.CodeValidation, "unsupported webhook provider").
			WithDetails(map[string]any{"provider": failure.Provider})
	}
	var event stripe.Event
	if err := json.Unmarshal(failure.Payload, &event); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode stored event")
	}
	_, err := s.process(ctx, &event)
	return err
}

func (s *Service) process(ctx context.Context, event *stripe.Event) (Kind, error) {
	parsed, err := ParseEvent(event)
	if err != nil {
		return KindUnknown, err
	}

	switch ev := parsed.(type) {
	case PaymentSucceeded:
		return ev.Kind(), s.confirmPayment(ctx, ev)
	case TransferCreated:
		return ev.Kind(), s.settleTransfer(ctx, ev)
	case TransferFailed:
		return ev.Kind(), s.failTransfer(ctx, ev)
	case AccountUpdated:
		return ev.Kind(), s.syncAccount(ctx, ev)
	case Unknown:
		s.logg.Info(ctx, "unhandled stripe event acknowledged")
		return ev.Kind(), nil
	default:
		return KindUnknown, nil
	}
}

// confirmPayment checks the event against the order of record (amount, then
// reference, then currency) before asking the order service to mark it paid.
func (s *Service) confirmPayment(ctx context.Context, ev PaymentSucceeded) error {
	ctx = s.logg.WithOrderID(ctx, ev.OrderID.String())

	verification, err := s.orders.Verify(ctx, ev.OrderID)
	if err != nil {
		return err
	}

	if verification.GrandTotalCents != ev.AmountCents {
		return s.mismatch(ctx, "amount", "payment amount does not match order total", map[string]any{
			"expected_cents": verification.GrandTotalCents,
			"received_cents": ev.AmountCents,
		})
	}
	if verification.PaymentIntentID != ev.IntentID {
		return s.mismatch(ctx, "reference", "payment reference does not match order", map[string]any{
			"expected_reference": verification.PaymentIntentID,
			"received_reference": ev.IntentID,
		})
	}
	if !strings.EqualFold(verification.Currency, ev.Currency) {
		return s.mismatch(ctx, "currency", "payment currency does not match order", map[string]any{
			"expected_currency": verification.Currency,
			"received_currency": ev.Currency,
		})
	}

	switch verification.PaymentStatus {
	case enums.PaymentStatusPaid:
		s.logg.Info(ctx, "order already paid")
		return nil
	case enums.PaymentStatusFailed:
		return pkgerrors.New(pkgerrors.CodeStateConflict, "payment succeeded for an order that is no longer payable").
			WithDetails(map[string]any{"payment_intent_id": ev.IntentID})
	}

	confirmation, err := s.orders.ConfirmPayment(ctx, ev.OrderID, orders.ConfirmInput{
		PaymentIntentID:     ev.IntentID,
		AmountReceivedCents: ev.AmountCents,
		Currency:            ev.Currency,
	})
	if err != nil {
		return err
	}
	if confirmation.AlreadyPaid {
		s.logg.Info(ctx, "order confirmed by a concurrent delivery")
		return nil
	}
	s.logg.Info(ctx, "order payment confirmed")
	return nil
}

func (s *Service) mismatch(ctx context.Context, check, msg string, fields map[string]any) error {
	s.metrics.SecurityMismatch(check)
	s.logg.Critical(ctx, msg, fields)
	return pkgerrors.New(pkgerrors.CodeSecurityMismatch, "payment "+check+" mismatch")
}

func (s *Service) settleTransfer(ctx context.Context, ev TransferCreated) error {
	updated, err := s.payouts.MarkTransferPaid(ctx, ev.TransferID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark payout paid")
	}
	if updated {
		s.logg.Info(ctx, "vendor payout paid")
		return nil
	}
	// The executor may not have stored the transfer id yet; the retry job
	// picks this up once it has.
	if _, err := s.payouts.FindByTransferID(ctx, ev.TransferID); err != nil {
		if db.IsNotFound(err) {
			return pkgerrors.New(pkgerrors.CodeDependency, "payout for transfer not recorded yet").
				WithDetails(map[string]any{"transfer_id": ev.TransferID})
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payout")
	}
	return nil
}

func (s *Service) failTransfer(ctx context.Context, ev TransferFailed) error {
	updated, err := s.payouts.MarkTransferFailed(ctx, ev.TransferID, ev.Reason)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark payout failed")
	}
	if updated {
		s.logg.Warn(ctx, "vendor payout "+ev.Reason)
		return nil
	}
	if _, err := s.payouts.FindByTransferID(ctx, ev.TransferID); err != nil {
		if db.IsNotFound(err) {
			return pkgerrors.New(pkgerrors.CodeDependency, "payout for transfer not recorded yet").
				WithDetails(map[string]any{"transfer_id": ev.TransferID})
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payout")
	}
	return nil
}

// syncAccount upserts when the account carries a vendor id and otherwise
// updates the row already linked to the account.
func (s *Service) syncAccount(ctx context.Context, ev AccountUpdated) error {
	account := &models.VendorAccount{
		VendorID:         ev.VendorID,
		StripeAccountID:  ev.AccountID,
		ChargesEnabled:   ev.ChargesEnabled,
		PayoutsEnabled:   ev.PayoutsEnabled,
		DetailsSubmitted: ev.DetailsSubmitted,
	}
	if ev.VendorID != uuid.Nil {
		if err := s.payouts.UpsertAccount(ctx, account); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "upsert vendor account")
		}
		return nil
	}
	updated, err := s.payouts.UpdateAccountByStripeID(ctx, account)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update vendor account")
	}
	if !updated {
		s.logg.Warn(ctx, "account update for unknown connected account ignored")
	}
	return nil
}

func (s *Service) recordFailure(ctx context.Context, event *stripe.Event, meta RequestMeta, cause error) {
	payload := meta.Payload
	if len(payload) == 0 {
		payload, _ = json.Marshal(event)
	}
	metadata := map[string]any{"livemode": event.Livemode}
	if typed := pkgerrors.As(cause); typed != nil {
		metadata["error_code"] = string(typed.Code())
	}
	_, err := s.failures.Record(ctx, webhookfailures.RecordInput{
		Provider:  providerStripe,
		EventType: string(event.Type),
		EventID:   event.ID,
		Payload:   payload,
		Reason:    cause.Error(),
		Stack:     string(debug.Stack()),
		SourceIP:  meta.SourceIP,
		Metadata:  metadata,
	})
	if err != nil {
		s.logg.Error(ctx, "record webhook failure", err)
		return
	}
	s.logg.Error(ctx, "webhook processing failed", cause)
}

func outcomeFor(err error) string {
	if pkgerrors.IsCode(err, pkgerrors.CodeSecurityMismatch) {
		return "rejected"
	}
	return "failed"
}
