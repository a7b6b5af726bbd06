package transfers

import (
	"context"

	"github.com/angelmondragon/marketsplit-backend/internal/orders"
	"github.com/angelmondragon/marketsplit-backend/pkg/db/models"
	"github.com/angelmondragon/marketsplit-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketsplit-backend/pkg/errors"
	"github.com/angelmondragon/marketsplit-backend/pkg/logger"
	"github.com/google/uuid"
)

const reasonAccountNotReady = "vendor account not ready"

type settlementSource interface {
	Settlement(ctx context.Context, orderID uuid.UUID) (*orders.Settlement, error)
}

type payoutStore interface {
	payoutWriter
	LatestForSubOrders(ctx context.Context, subOrderIDs []uuid.UUID) (map[uuid.UUID]models.VendorPayout, error)
	AccountsForVendors(ctx context.Context, vendorIDs []uuid.UUID) (map[uuid.UUID]models.VendorAccount, error)
}

type transferRunner interface {
	ExecuteTransfers(ctx context.Context, orderID uuid.UUID, batch []SubOrderTransfer) ([]TransferResult, error)
}

// SettlementReport summarizes one settlement run.
type SettlementReport struct {
	OrderID  uuid.UUID        `json:"order_id"`
	Results  []TransferResult `json:"results"`
	Skipped  int              `json:"skipped"`
	Deferred int              `json:"deferred"`
}

type SettlerParams struct {
	Orders   settlementSource
	Payouts  payoutStore
	Executor transferRunner
	Logger   *logger.Logger
}

// Settler turns a paid order into vendor transfers.
type Settler struct {
	orders   settlementSource
	payouts  payoutStore
	executor transferRunner
	logg     *logger.Logger
}

func NewSettler(params SettlerParams) (*Settler, error) {
	if params.Orders == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "order client required")
	}
	if params.Payouts == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payout repository required")
	}
	if params.Executor == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transfer executor required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Settler{
		orders:   params.Orders,
		payouts:  params.Payouts,
		executor: params.Executor,
		logg:     params.Logger,
	}, nil
}

// SettleOrder pays every vendor of a paid order that has not been paid yet.
// Sub-orders with a processing or paid payout are skipped, so running it again
// for the same order only retries failed or missing transfers.
func (s *Settler) SettleOrder(ctx context.Context, orderID uuid.UUID) (*SettlementReport, error) {
	ctx = s.logg.WithOrderID(ctx, orderID.String())
	settlement, err := s.orders.Settlement(ctx, orderID)
	if err != nil {
		return nil, err
	}

	subOrderIDs := make([]uuid.UUID, 0, len(settlement.Lines))
	vendorIDs := make([]uuid.UUID, 0, len(settlement.Lines))
	for _, line := range settlement.Lines {
		subOrderIDs = append(subOrderIDs, line.SubOrderID)
		vendorIDs = append(vendorIDs, line.VendorID)
	}
	latest, err := s.payouts.LatestForSubOrders(ctx, subOrderIDs)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payouts")
	}
	accounts, err := s.payouts.AccountsForVendors(ctx, vendorIDs)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load vendor accounts")
	}

	report := &SettlementReport{OrderID: orderID}
	var batch []SubOrderTransfer
	for _, line := range settlement.Lines {
		attempt, keyAttempt, unknown := 1, 1, false
		if prev, ok := latest[line.SubOrderID]; ok {
			if prev.Status == enums.PayoutStatusProcessing || prev.Status == enums.PayoutStatusPaid {
				report.Skipped++
				continue
			}
			attempt = prev.Attempt + 1
			keyAttempt, unknown = nextKeyAttempt(prev)
		}
		if !line.VendorPayout.IsPositive() {
			report.Skipped++
			continue
		}

		transfer := SubOrderTransfer{
			SubOrderID:       line.SubOrderID,
			VendorID:         line.VendorID,
			GrossAmount:      line.Total,
			CommissionAmount: line.CommissionAmount,
			NetAmount:        line.VendorPayout,
			Attempt:          attempt,
			KeyAttempt:       keyAttempt,
		}
		account, ok := accounts[line.VendorID]
		if !ok || !account.ReadyForTransfers() {
			result, err := s.deferTransfer(ctx, orderID, transfer, unknown)
			if err != nil {
				return nil, err
			}
			report.Results = append(report.Results, result)
			report.Deferred++
			continue
		}
		transfer.Destination = account.StripeAccountID
		batch = append(batch, transfer)
	}

	for start := 0; start < len(batch); start += MaxBatchSize {
		end := min(start+MaxBatchSize, len(batch))
		results, err := s.executor.ExecuteTransfers(ctx, orderID, batch[start:end])
		if err != nil {
			return nil, err
		}
		report.Results = append(report.Results, results...)
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"transfers": len(batch),
		"skipped":   report.Skipped,
		"deferred":  report.Deferred,
	}), "order settlement finished")
	return report, nil
}

// nextKeyAttempt picks the idempotency key for the attempt after prev. A
// transfer whose outcome is unknown may exist at the provider, so it is
// retried under the same key; only a definite rejection moves to a new one.
func nextKeyAttempt(prev models.VendorPayout) (int, bool) {
	key := max(prev.KeyAttempt, 1)
	if prev.OutcomeUnknown {
		return key, true
	}
	return key + 1, false
}

// deferTransfer records a failed attempt for a vendor that cannot receive
// funds yet. Nothing is sent, so an unknown outcome from an earlier attempt
// is carried forward with its key.
func (s *Settler) deferTransfer(ctx context.Context, orderID uuid.UUID, t SubOrderTransfer, unknown bool) (TransferResult, error) {
	reason := reasonAccountNotReady
	payout := &models.VendorPayout{
		VendorID:         t.VendorID,
		OrderID:          orderID,
		SubOrderID:       t.SubOrderID,
		Attempt:          t.Attempt,
		KeyAttempt:       t.KeyAttempt,
		GrossAmount:      t.GrossAmount,
		CommissionAmount: t.CommissionAmount,
		NetAmount:        t.NetAmount,
		Status:           enums.PayoutStatusFailed,
		FailureReason:    &reason,
		OutcomeUnknown:   unknown,
	}
	if err := s.payouts.Create(ctx, payout); err != nil {
		return TransferResult{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record deferred payout")
	}
	s.logg.Warn(s.logg.WithField(ctx, "vendor_id", t.VendorID.String()), "vendor payout deferred: "+reason)
	return TransferResult{
		SubOrderID:     t.SubOrderID,
		VendorID:       t.VendorID,
		PayoutID:       payout.ID,
		Attempt:        t.Attempt,
		Status:         enums.PayoutStatusFailed,
		Error:          reason,
		OutcomeUnknown: unknown,
	}, nil
}
