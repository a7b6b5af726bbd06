// Package transfers sends each vendor its share of a paid order.
package transfers

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/angelmondragon/marketsplit-backend/internal/payments"
	"github.com/angelmondragon/marketsplit-backend/pkg/db/models"
	"github.com/angelmondragon/marketsplit-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketsplit-backend/pkg/errors"
	"github.com/angelmondragon/marketsplit-backend/pkg/logger"
	"github.com/angelmondragon/marketsplit-backend/pkg/metrics"
	"github.com/angelmondragon/marketsplit-backend/pkg/money"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

const (
	// MaxBatchSize bounds one ExecuteTransfers call. Larger batches are
	// rejected, not split.
	MaxBatchSize       = 50
	defaultConcurrency = 5
	defaultTimeout     = 15 * time.Second
)

var destinationPattern = regexp.MustCompile(`^acct_[A-Za-z0-9]+$`)

type transferGateway interface {
	CreateTransfer(ctx context.Context, input payments.TransferInput) (*payments.Transfer, error)
}

type payoutWriter interface {
	Create(ctx context.Context, payout *models.VendorPayout) error
}

// SubOrderTransfer is one vendor's share of an order. KeyAttempt selects the
// provider idempotency key and defaults to Attempt.
type SubOrderTransfer struct {
	SubOrderID       uuid.UUID
	VendorID         uuid.UUID
	GrossAmount      decimal.Decimal
	CommissionAmount decimal.Decimal
	NetAmount        decimal.Decimal
	Destination      string
	Attempt          int
	KeyAttempt       int
}

// TransferResult is the outcome of one transfer. Status is processing on
// success and failed otherwise. OutcomeUnknown marks a failure after which the
// provider may still have created the transfer.
type TransferResult struct {
	SubOrderID     uuid.UUID          `json:"sub_order_id"`
	VendorID       uuid.UUID          `json:"vendor_id"`
	PayoutID       uuid.UUID          `json:"payout_id"`
	Attempt        int                `json:"attempt"`
	Status         enums.PayoutStatus `json:"status"`
	TransferID     string             `json:"transfer_id,omitempty"`
	Error          string             `json:"error,omitempty"`
	OutcomeUnknown bool               `json:"outcome_unknown,omitempty"`
}

type ExecutorParams struct {
	Gateway     transferGateway
	Payouts     payoutWriter
	Concurrency int
	Timeout     time.Duration
	Metrics     *metrics.SettlementMetrics
	Logger      *logger.Logger
}

type Executor struct {
	gateway     transferGateway
	payouts     payoutWriter
	concurrency int
	timeout     time.Duration
	metrics     *metrics.SettlementMetrics
	logg        *logger.Logger
}

func NewExecutor(params ExecutorParams) (*Executor, error) {
	if params.Gateway == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transfer gateway required")
	}
	if params.Payouts == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payout repository required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	exec := &Executor{
		gateway:     params.Gateway,
		payouts:     params.Payouts,
		concurrency: params.Concurrency,
		timeout:     params.Timeout,
		metrics:     params.Metrics,
		logg:        params.Logger,
	}
	if exec.concurrency <= 0 {
		exec.concurrency = defaultConcurrency
	}
	if exec.timeout <= 0 {
		exec.timeout = defaultTimeout
	}
	return exec, nil
}

// ExecuteTransfers validates the whole batch, then sends every transfer
// concurrently. A failed transfer never affects its siblings: each result
// slot and payout row is written by exactly one goroutine, and the call
// returns only after every attempt has finished.
func (e *Executor) ExecuteTransfers(ctx context.Context, orderID uuid.UUID, batch []SubOrderTransfer) ([]TransferResult, error) {
	if err := validateBatch(orderID, batch); err != nil {
		return nil, err
	}
	ctx = e.logg.WithOrderID(ctx, orderID.String())

	results := make([]TransferResult, len(batch))
	var g errgroup.Group
	g.SetLimit(e.concurrency)
	for i := range batch {
		g.Go(func() error {
			results[i] = e.execute(ctx, orderID, batch[i])
			return nil
		})
	}
	_ = g.Wait()
	return results, nil
}

func (e *Executor) execute(ctx context.Context, orderID uuid.UUID, t SubOrderTransfer) TransferResult {
	attempt := t.Attempt
	if attempt < 1 {
		attempt = 1
	}
	keyAttempt := t.KeyAttempt
	if keyAttempt < 1 {
		keyAttempt = attempt
	}
	result := TransferResult{SubOrderID: t.SubOrderID, VendorID: t.VendorID, Attempt: attempt}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	transfer, err := e.gateway.CreateTransfer(callCtx, payments.TransferInput{
		OrderID:     orderID,
		SubOrderID:  t.SubOrderID,
		VendorID:    t.VendorID,
		Amount:      t.NetAmount,
		Destination: t.Destination,
		Attempt:     keyAttempt,
	})
	cancel()

	payout := &models.VendorPayout{
		VendorID:           t.VendorID,
		OrderID:            orderID,
		SubOrderID:         t.SubOrderID,
		Attempt:            attempt,
		KeyAttempt:         keyAttempt,
		GrossAmount:        t.GrossAmount,
		CommissionAmount:   t.CommissionAmount,
		NetAmount:          t.NetAmount,
		DestinationAccount: t.Destination,
	}
	if err != nil {
		reason := err.Error()
		payout.Status = enums.PayoutStatusFailed
		payout.FailureReason = &reason
		payout.OutcomeUnknown = !payments.TransferRejected(err)
		result.Status = enums.PayoutStatusFailed
		result.Error = reason
		result.OutcomeUnknown = payout.OutcomeUnknown
		e.metrics.Transfer("failed")
		e.logg.Warn(e.logg.WithFields(ctx, map[string]any{
			"sub_order_id":    t.SubOrderID.String(),
			"outcome_unknown": payout.OutcomeUnknown,
		}), "vendor transfer failed: "+reason)
	} else {
		payout.Status = enums.PayoutStatusProcessing
		payout.TransferID = &transfer.ID
		result.Status = enums.PayoutStatusProcessing
		result.TransferID = transfer.ID
		e.metrics.Transfer("processing")
	}

	// The payout row is written even if the caller gave up, so the ledger
	// matches what was sent to the provider.
	if err := e.payouts.Create(context.WithoutCancel(ctx), payout); err != nil {
		e.logg.Error(e.logg.WithField(ctx, "sub_order_id", t.SubOrderID.String()), "record vendor payout", err)
		if result.Error == "" {
			result.Error = fmt.Sprintf("record payout: %v", err)
		}
		return result
	}
	result.PayoutID = payout.ID
	return result
}

func validateBatch(orderID uuid.UUID, batch []SubOrderTransfer) error {
	if orderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeInvalidRequest, "order id is required")
	}
	if len(batch) == 0 {
		return pkgerrors.New(pkgerrors.CodeInvalidRequest, "at least one transfer is required")
	}
	if len(batch) > MaxBatchSize {
		return pkgerrors.New(pkgerrors.CodeInvalidRequest, fmt.Sprintf("at most %d transfers per batch", MaxBatchSize)).
			WithDetails(map[string]any{"count": len(batch)})
	}
	seen := make(map[uuid.UUID]struct{}, len(batch))
	for i, t := range batch {
		details := map[string]any{"index": i}
		if t.SubOrderID == uuid.Nil || t.VendorID == uuid.Nil {
			return pkgerrors.New(pkgerrors.CodeInvalidRequest, "sub-order id and vendor id are required").WithDetails(details)
		}
		if _, dup := seen[t.SubOrderID]; dup {
			return pkgerrors.New(pkgerrors.CodeInvalidRequest, "duplicate sub-order in batch").WithDetails(details)
		}
		seen[t.SubOrderID] = struct{}{}
		if !money.InRange(t.NetAmount) {
			return pkgerrors.New(pkgerrors.CodeInvalidRequest, "transfer amount must be greater than 0 and at most 999999.99").WithDetails(details)
		}
		if !destinationPattern.MatchString(strings.TrimSpace(t.Destination)) {
			return pkgerrors.New(pkgerrors.CodeInvalidRequest, "destination must be a connected account id").WithDetails(details)
		}
	}
	return nil
}
