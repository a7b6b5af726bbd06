package transfers

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

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

type stubGateway struct {
	mu       sync.Mutex
	failFor  map[uuid.UUID]error
	inputs   []payments.TransferInput
	inFlight atomic.Int32
	peak     atomic.Int32
	delay    time.Duration
}

func (s *stubGateway) CreateTransfer(ctx context.Context, input payments.TransferInput) (*payments.Transfer, error) {
	current := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		peak := s.peak.Load()
		if current <= peak || s.peak.CompareAndSwap(peak, current) {
			break
		}
	}
	if _, ok := ctx.Deadline(); !ok {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "missing deadline")
	}
	time.Sleep(s.delay)

	s.mu.Lock()
	s.inputs = append(s.inputs, input)
	err := s.failFor[input.SubOrderID]
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &payments.Transfer{
		ID:             "tr_" + input.SubOrderID.String()[:8],
		IdempotencyKey: payments.TransferIdempotencyKey(input.SubOrderID, input.Attempt),
	}, nil
}

func newExecutor(t *testing.T, gateway *stubGateway, concurrency int) (*Executor, *gorm.DB) {
	t.Helper()
	conn := dbtest.Open(t)
	exec, err := NewExecutor(ExecutorParams{
		Gateway:     gateway,
		Payouts:     payouts.NewRepository(conn),
		Concurrency: concurrency,
		Timeout:     time.Second,
		Logger:      logger.New(logger.Options{ServiceName: "settlement-worker", Output: io.Discard}),
	})
	require.NoError(t, err)
	return exec, conn
}

func transferFor(net string, destination string) SubOrderTransfer {
	amount := decimal.RequireFromString(net)
	return SubOrderTransfer{
		SubOrderID:       uuid.New(),
		VendorID:         uuid.New(),
		GrossAmount:      amount,
		CommissionAmount: decimal.Zero,
		NetAmount:        amount,
		Destination:      destination,
		Attempt:          1,
	}
}

func TestExecuteTransfersIsolatesFailures(t *testing.T) {
	batch := []SubOrderTransfer{
		transferFor("54.00", "acct_A"),
		transferFor("27.00", "acct_B"),
		transferFor("13.50", "acct_C"),
	}
	gateway := &stubGateway{failFor: map[uuid.UUID]error{
		batch[1].SubOrderID: pkgerrors.New(pkgerrors.CodeInvalidRequest, "destination account restricted"),
	}}
	exec, conn := newExecutor(t, gateway, 3)
	orderID := uuid.New()

	results, err := exec.ExecuteTransfers(context.Background(), orderID, batch)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, enums.PayoutStatusProcessing, results[0].Status)
	assert.Equal(t, enums.PayoutStatusFailed, results[1].Status)
	assert.Contains(t, results[1].Error, "destination account restricted")
	assert.Equal(t, enums.PayoutStatusProcessing, results[2].Status)
	for i, result := range results {
		assert.Equal(t, batch[i].SubOrderID, result.SubOrderID)
		assert.NotEqual(t, uuid.Nil, result.PayoutID)
	}

	var rows []models.VendorPayout
	require.NoError(t, conn.Where("order_id = ?", orderID).Find(&rows).Error)
	require.Len(t, rows, 3)
	byStatus := map[enums.PayoutStatus]int{}
	for _, row := range rows {
		byStatus[row.Status]++
		if row.Status == enums.PayoutStatusProcessing {
			require.NotNil(t, row.TransferID)
		} else {
			require.NotNil(t, row.FailureReason)
			assert.Equal(t, batch[1].SubOrderID, row.SubOrderID)
		}
	}
	assert.Equal(t, 2, byStatus[enums.PayoutStatusProcessing])
	assert.Equal(t, 1, byStatus[enums.PayoutStatusFailed])
}

func TestExecuteTransfersUsesOrderGroupAndAttemptKeys(t *testing.T) {
	gateway := &stubGateway{}
	exec, _ := newExecutor(t, gateway, 2)
	orderID := uuid.New()
	transfer := transferFor("10.00", "acct_X")
	transfer.Attempt = 3

	results, err := exec.ExecuteTransfers(context.Background(), orderID, []SubOrderTransfer{transfer})
	require.NoError(t, err)
	require.Len(t, gateway.inputs, 1)
	assert.Equal(t, orderID, gateway.inputs[0].OrderID)
	assert.Equal(t, 3, gateway.inputs[0].Attempt)
	assert.Equal(t, 3, results[0].Attempt)
	assert.True(t, gateway.inputs[0].Amount.Equal(decimal.RequireFromString("10.00")))
}

func TestExecuteTransfersRespectsConcurrencyLimit(t *testing.T) {
	gateway := &stubGateway{delay: 10 * time.Millisecond}
	exec, _ := newExecutor(t, gateway, 2)
	batch := make([]SubOrderTransfer, 8)
	for i := range batch {
		batch[i] = transferFor("1.00", "acct_N")
	}

	results, err := exec.ExecuteTransfers(context.Background(), uuid.New(), batch)
	require.NoError(t, err)
	assert.Len(t, results, 8)
	assert.LessOrEqual(t, gateway.peak.Load(), int32(2))
}

func TestExecuteTransfersValidatesBeforeSending(t *testing.T) {
	tooMany := make([]SubOrderTransfer, MaxBatchSize+1)
	for i := range tooMany {
		tooMany[i] = transferFor("1.00", "acct_A")
	}
	dup := transferFor("1.00", "acct_A")

	cases := []struct {
		name    string
		orderID uuid.UUID
		batch   []SubOrderTransfer
	}{
		{"nil order", uuid.Nil, []SubOrderTransfer{transferFor("1.00", "acct_A")}},
		{"empty batch", uuid.New(), nil},
		{"too many", uuid.New(), tooMany},
		{"zero amount", uuid.New(), []SubOrderTransfer{transferFor("0.00", "acct_A")}},
		{"amount over limit", uuid.New(), []SubOrderTransfer{transferFor("1000000.00", "acct_A")}},
		{"bad destination", uuid.New(), []SubOrderTransfer{transferFor("1.00", "ba_123")}},
		{"destination with symbols", uuid.New(), []SubOrderTransfer{transferFor("1.00", "acct_12-3")}},
		{"duplicate sub-order", uuid.New(), []SubOrderTransfer{dup, dup}},
		{"missing vendor", uuid.New(), []SubOrderTransfer{{SubOrderID: uuid.New(), NetAmount: decimal.NewFromInt(1), Destination: "acct_A"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gateway := &stubGateway{}
			exec, _ := newExecutor(t, gateway, 2)
			_, err := exec.ExecuteTransfers(context.Background(), tc.orderID, tc.batch)
			require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidRequest), "got %v", err)
			assert.Empty(t, gateway.inputs)
		})
	}
}
