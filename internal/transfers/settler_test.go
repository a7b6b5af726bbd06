package transfers

import (
	"context"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/marketsplit-backend/internal/orders"
	"github.com/angelmondragon/marketsplit-backend/internal/payments"
	"github.com/angelmondragon/marketsplit-backend/internal/payouts"
	"github.com/angelmondragon/marketsplit-backend/pkg/db/dbtest"
	"github.com/angelmondragon/marketsplit-backend/pkg/db/models"
	"github.com/angelmondragon/marketsplit-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketsplit-backend/pkg/errors"
	"github.com/angelmondragon/marketsplit-backend/pkg/logger"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type stubSettlements struct {
	settlement *orders.Settlement
	err        error
}

func (s *stubSettlements) Settlement(context.Context, uuid.UUID) (*orders.Settlement, error) {
	return s.settlement, s.err
}

func settlementLine(total, commission string) orders.SettlementLine {
	d := decimal.RequireFromString
	return orders.SettlementLine{
		SubOrderID:       uuid.New(),
		VendorID:         uuid.New(),
		Status:           enums.SubOrderStatusProcessing,
		Total:            d(total),
		CommissionAmount: d(commission),
		VendorPayout:     d(total).Sub(d(commission)),
	}
}

func newSettler(t *testing.T, settlement *orders.Settlement, gateway *stubGateway) (*Settler, *gorm.DB) {
	t.Helper()
	exec, conn := newExecutor(t, gateway, 4)
	settler, err := NewSettler(SettlerParams{
		Orders:   &stubSettlements{settlement: settlement},
		Payouts:  payouts.NewRepository(conn),
		Executor: exec,
		Logger:   logger.New(logger.Options{ServiceName: "settlement-worker", Output: io.Discard}),
	})
	require.NoError(t, err)
	return settler, conn
}

func linkAccount(t *testing.T, conn *gorm.DB, vendorID uuid.UUID, account string, ready bool) {
	t.Helper()
	require.NoError(t, conn.Create(&models.VendorAccount{
		VendorID: vendorID, StripeAccountID: account, PayoutsEnabled: ready, ChargesEnabled: ready,
	}).Error)
}

func TestSettleOrderPaysTheNinetyFiveDollarExample(t *testing.T) {
	orderID := uuid.New()
	vendorA := settlementLine("65.00", "6.50")
	vendorB := settlementLine("30.00", "3.00")
	settlement := &orders.Settlement{OrderID: orderID, PaymentStatus: enums.PaymentStatusPaid, Lines: []orders.SettlementLine{vendorA, vendorB}}
	gateway := &stubGateway{}
	settler, conn := newSettler(t, settlement, gateway)
	linkAccount(t, conn, vendorA.VendorID, "acct_A", true)
	linkAccount(t, conn, vendorB.VendorID, "acct_B", true)

	report, err := settler.SettleOrder(context.Background(), orderID)
	require.NoError(t, err)
	require.Len(t, report.Results, 2)
	for _, result := range report.Results {
		assert.Equal(t, enums.PayoutStatusProcessing, result.Status)
	}

	sent := decimal.Zero
	for _, input := range gateway.inputs {
		sent = sent.Add(input.Amount)
	}
	assert.True(t, sent.Equal(decimal.RequireFromString("85.50")), sent.String())
}

func TestSettleOrderSkipsPaidAndRetriesFailed(t *testing.T) {
	orderID := uuid.New()
	paid := settlementLine("20.00", "2.00")
	failed := settlementLine("10.00", "1.00")
	settlement := &orders.Settlement{OrderID: orderID, Lines: []orders.SettlementLine{paid, failed}}
	gateway := &stubGateway{}
	settler, conn := newSettler(t, settlement, gateway)
	linkAccount(t, conn, paid.VendorID, "acct_P", true)
	linkAccount(t, conn, failed.VendorID, "acct_F", true)

	transferID := "tr_done"
	reason := "destination restricted"
	require.NoError(t, conn.Create(&models.VendorPayout{
		VendorID: paid.VendorID, OrderID: orderID, SubOrderID: paid.SubOrderID, Attempt: 1,
		GrossAmount: paid.Total, CommissionAmount: paid.CommissionAmount, NetAmount: paid.VendorPayout,
		DestinationAccount: "acct_P", TransferID: &transferID, Status: enums.PayoutStatusPaid,
	}).Error)
	require.NoError(t, conn.Create(&models.VendorPayout{
		VendorID: failed.VendorID, OrderID: orderID, SubOrderID: failed.SubOrderID, Attempt: 1,
		GrossAmount: failed.Total, CommissionAmount: failed.CommissionAmount, NetAmount: failed.VendorPayout,
		DestinationAccount: "acct_F", Status: enums.PayoutStatusFailed, FailureReason: &reason,
	}).Error)

	report, err := settler.SettleOrder(context.Background(), orderID)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped)
	require.Len(t, gateway.inputs, 1)
	assert.Equal(t, failed.SubOrderID, gateway.inputs[0].SubOrderID)
	assert.Equal(t, 2, gateway.inputs[0].Attempt)
}

func TestSettleOrderDefersVendorsWithoutReadyAccount(t *testing.T) {
	orderID := uuid.New()
	ready := settlementLine("20.00", "2.00")
	restricted := settlementLine("15.00", "1.50")
	missing := settlementLine("5.00", "0.50")
	settlement := &orders.Settlement{OrderID: orderID, Lines: []orders.SettlementLine{ready, restricted, missing}}
	gateway := &stubGateway{}
	settler, conn := newSettler(t, settlement, gateway)
	linkAccount(t, conn, ready.VendorID, "acct_R", true)
	linkAccount(t, conn, restricted.VendorID, "acct_X", false)

	report, err := settler.SettleOrder(context.Background(), orderID)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Deferred)
	require.Len(t, gateway.inputs, 1)
	assert.Equal(t, "acct_R", gateway.inputs[0].Destination)

	var deferred []models.VendorPayout
	require.NoError(t, conn.Where("order_id = ? AND status = ?", orderID, enums.PayoutStatusFailed).Find(&deferred).Error)
	require.Len(t, deferred, 2)
	for _, row := range deferred {
		assert.Equal(t, reasonAccountNotReady, *row.FailureReason)
	}
}

func TestSettleOrderPropagatesOrderServiceErrors(t *testing.T) {
	exec, conn := newExecutor(t, &stubGateway{}, 1)
	settler, err := NewSettler(SettlerParams{
		Orders:   &stubSettlements{err: pkgerrors.New(pkgerrors.CodeStateConflict, "order is not paid")},
		Payouts:  payouts.NewRepository(conn),
		Executor: exec,
		Logger:   logger.Nop(),
	})
	require.NoError(t, err)

	_, err = settler.SettleOrder(context.Background(), uuid.New())
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
}

// providerTransfers behaves like the provider's transfer endpoint: a reused
// idempotency key returns the transfer created under it. Keys listed in
// lostResponse create the transfer but answer with a timeout the first time.
type providerTransfers struct {
	mu           sync.Mutex
	created      map[string]*stripe.Transfer
	calls        []string
	lostResponse map[string]bool
	reject       error
}

func (p *providerTransfers) Currency() string { return "usd" }

func (p *providerTransfers) CreatePaymentIntent(context.Context, *stripe.PaymentIntentCreateParams) (*stripe.PaymentIntent, error) {
	return nil, nil
}

func (p *providerTransfers) CancelPaymentIntent(context.Context, string, *stripe.PaymentIntentCancelParams) (*stripe.PaymentIntent, error) {
	return nil, nil
}

func (p *providerTransfers) CreateTransfer(_ context.Context, params *stripe.TransferCreateParams) (*stripe.Transfer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := *params.IdempotencyKey
	p.calls = append(p.calls, key)
	if p.reject != nil {
		err := p.reject
		p.reject = nil
		return nil, err
	}
	if tr, ok := p.created[key]; ok {
		return tr, nil
	}
	tr := &stripe.Transfer{ID: "tr_" + key, Amount: *params.Amount}
	p.created[key] = tr
	if p.lostResponse[key] {
		delete(p.lostResponse, key)
		return nil, context.DeadlineExceeded
	}
	return tr, nil
}

func newProviderSettler(t *testing.T, settlement *orders.Settlement, provider *providerTransfers) (*Settler, *gorm.DB) {
	t.Helper()
	gateway, err := payments.NewGateway(payments.GatewayParams{Stripe: provider, Timeout: time.Second})
	require.NoError(t, err)
	conn := dbtest.Open(t)
	logg := logger.New(logger.Options{ServiceName: "settlement-worker", Output: io.Discard})
	exec, err := NewExecutor(ExecutorParams{
		Gateway: gateway, Payouts: payouts.NewRepository(conn), Concurrency: 2, Timeout: time.Second, Logger: logg,
	})
	require.NoError(t, err)
	settler, err := NewSettler(SettlerParams{
		Orders:   &stubSettlements{settlement: settlement},
		Payouts:  payouts.NewRepository(conn),
		Executor: exec,
		Logger:   logg,
	})
	require.NoError(t, err)
	return settler, conn
}

func TestSettleOrderAfterLostTransferResponsePaysOnce(t *testing.T) {
	orderID := uuid.New()
	line := settlementLine("65.00", "6.50")
	settlement := &orders.Settlement{OrderID: orderID, Lines: []orders.SettlementLine{line}}
	firstKey := payments.TransferIdempotencyKey(line.SubOrderID, 1)
	provider := &providerTransfers{
		created:      map[string]*stripe.Transfer{},
		lostResponse: map[string]bool{firstKey: true},
	}
	settler, conn := newProviderSettler(t, settlement, provider)
	linkAccount(t, conn, line.VendorID, "acct_A", true)
	ctx := context.Background()

	report, err := settler.SettleOrder(ctx, orderID)
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.Equal(t, enums.PayoutStatusFailed, report.Results[0].Status)
	assert.True(t, report.Results[0].OutcomeUnknown)

	report, err = settler.SettleOrder(ctx, orderID)
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.Equal(t, enums.PayoutStatusProcessing, report.Results[0].Status)
	assert.Equal(t, 2, report.Results[0].Attempt)
	assert.Equal(t, "tr_"+firstKey, report.Results[0].TransferID)

	assert.Len(t, provider.created, 1)
	assert.Equal(t, []string{firstKey, firstKey}, provider.calls)

	var rows []models.VendorPayout
	require.NoError(t, conn.Where("sub_order_id = ?", line.SubOrderID).Order("attempt ASC").Find(&rows).Error)
	require.Len(t, rows, 2)
	assert.True(t, rows[0].OutcomeUnknown)
	assert.Equal(t, 1, rows[1].KeyAttempt)
}

func TestSettleOrderAfterRejectedTransferUsesNewKey(t *testing.T) {
	orderID := uuid.New()
	line := settlementLine("30.00", "3.00")
	settlement := &orders.Settlement{OrderID: orderID, Lines: []orders.SettlementLine{line}}
	provider := &providerTransfers{
		created: map[string]*stripe.Transfer{},
		reject: &stripe.Error{
			Type:           stripe.ErrorTypeInvalidRequest,
			HTTPStatusCode: http.StatusBadRequest,
			Msg:            "insufficient platform balance",
		},
	}
	settler, conn := newProviderSettler(t, settlement, provider)
	linkAccount(t, conn, line.VendorID, "acct_B", true)
	ctx := context.Background()

	report, err := settler.SettleOrder(ctx, orderID)
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.False(t, report.Results[0].OutcomeUnknown)

	report, err = settler.SettleOrder(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, enums.PayoutStatusProcessing, report.Results[0].Status)
	assert.Equal(t, []string{
		payments.TransferIdempotencyKey(line.SubOrderID, 1),
		payments.TransferIdempotencyKey(line.SubOrderID, 2),
	}, provider.calls)
}

func TestDeferredVendorKeepsUnknownTransferKey(t *testing.T) {
	orderID := uuid.New()
	line := settlementLine("20.00", "2.00")
	settlement := &orders.Settlement{OrderID: orderID, Lines: []orders.SettlementLine{line}}
	gateway := &stubGateway{}
	settler, conn := newSettler(t, settlement, gateway)
	linkAccount(t, conn, line.VendorID, "acct_C", false)

	reason := "create transfer: context deadline exceeded"
	require.NoError(t, conn.Create(&models.VendorPayout{
		VendorID: line.VendorID, OrderID: orderID, SubOrderID: line.SubOrderID, Attempt: 1, KeyAttempt: 1,
		GrossAmount: line.Total, CommissionAmount: line.CommissionAmount, NetAmount: line.VendorPayout,
		DestinationAccount: "acct_C", Status: enums.PayoutStatusFailed, FailureReason: &reason, OutcomeUnknown: true,
	}).Error)

	_, err := settler.SettleOrder(context.Background(), orderID)
	require.NoError(t, err)
	require.NoError(t, conn.Model(&models.VendorAccount{}).Where("vendor_id = ?", line.VendorID).
		Updates(map[string]any{"payouts_enabled": true, "charges_enabled": true}).Error)

	_, err = settler.SettleOrder(context.Background(), orderID)
	require.NoError(t, err)
	require.Len(t, gateway.inputs, 1)
	assert.Equal(t, 1, gateway.inputs[0].Attempt)
}
