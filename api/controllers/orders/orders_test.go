package orders

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/marketsplit-backend/api/middleware"
	internalorders "github.com/angelmondragon/marketsplit-backend/internal/orders"
	"github.com/angelmondragon/marketsplit-backend/pkg/db/models"
	"github.com/angelmondragon/marketsplit-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketsplit-backend/pkg/errors"
)

type stubOrderService struct {
	order        *models.Order
	subOrder     *models.SubOrder
	verification *internalorders.Verification
	confirmation *internalorders.Confirmation
	settlement   *internalorders.Settlement
	err          error

	lastBuyer   uuid.UUID
	lastVendor  uuid.UUID
	lastReason  string
	lastStatus  enums.SubOrderStatus
	lastConfirm internalorders.ConfirmInput
}

func (s *stubOrderService) GetOrder(_ context.Context, buyerID, _ uuid.UUID) (*models.Order, error) {
	s.lastBuyer = buyerID
	return s.order, s.err
}

func (s *stubOrderService) VerifyForPayment(context.Context, uuid.UUID) (*internalorders.Verification, error) {
	return s.verification, s.err
}

func (s *stubOrderService) ConfirmPayment(_ context.Context, _ uuid.UUID, input internalorders.ConfirmInput) (*internalorders.Confirmation, error) {
	s.lastConfirm = input
	return s.confirmation, s.err
}

func (s *stubOrderService) SettlementLines(context.Context, uuid.UUID) (*internalorders.Settlement, error) {
	return s.settlement, s.err
}

func (s *stubOrderService) CancelOrder(_ context.Context, buyerID, _ uuid.UUID, reason string) (*models.Order, error) {
	s.lastBuyer = buyerID
	s.lastReason = reason
	return s.order, s.err
}

func (s *stubOrderService) UpdateSubOrderStatus(_ context.Context, vendorID, _ uuid.UUID, status enums.SubOrderStatus) (*models.SubOrder, error) {
	s.lastVendor = vendorID
	s.lastStatus = status
	return s.subOrder, s.err
}

func (s *stubOrderService) ExpireStalePending(context.Context, time.Duration) (int, error) {
	return 0, s.err
}

func sampleOrder() *models.Order {
	return &models.Order{
		ID:            uuid.New(),
		OrderNumber:   "MS-100001",
		GrandTotal:    decimal.RequireFromString("95"),
		PaymentStatus: enums.PaymentStatusPending,
		SubOrders: []models.SubOrder{{
			ID:             uuid.New(),
			SubOrderNumber: "MS-100001-1",
			VendorID:       uuid.New(),
			Status:         enums.SubOrderStatusPending,
		}},
	}
}

func withParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func errorCode(t *testing.T, resp *httptest.ResponseRecorder) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	return envelope.Error.Code
}

func TestDetailUnauthorized(t *testing.T) {
	handler := Detail(&stubOrderService{}, nil)

	req := withParam(httptest.NewRequest(http.MethodGet, "/api/v1/orders/x", nil), "orderId", uuid.NewString())
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestDetailSuccess(t *testing.T) {
	buyerID := uuid.New()
	order := sampleOrder()
	stub := &stubOrderService{order: order}
	handler := Detail(stub, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/"+order.ID.String(), nil)
	req = req.WithContext(middleware.WithUserID(req.Context(), buyerID.String()))
	req = withParam(req, "orderId", order.ID.String())
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	if stub.lastBuyer != buyerID {
		t.Fatalf("expected buyer %s got %s", buyerID, stub.lastBuyer)
	}
	var envelope struct {
		Data internalorders.OrderDTO `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Data.OrderNumber != order.OrderNumber || len(envelope.Data.SubOrders) != 1 {
		t.Fatalf("unexpected payload %+v", envelope.Data)
	}
}

func TestCancelOrderSanitizesReason(t *testing.T) {
	buyerID := uuid.New()
	order := sampleOrder()
	stub := &stubOrderService{order: order}
	handler := Cancel(stub, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/"+order.ID.String()+"/cancel", strings.NewReader(`{"reason":"  changed my mind  "}`))
	req = req.WithContext(middleware.WithUserID(req.Context(), buyerID.String()))
	req = withParam(req, "orderId", order.ID.String())
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	if stub.lastReason != "changed my mind" {
		t.Fatalf("unexpected reason %q", stub.lastReason)
	}
}

func TestCancelOrderWithoutBody(t *testing.T) {
	order := sampleOrder()
	stub := &stubOrderService{order: order}
	handler := Cancel(stub, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/"+order.ID.String()+"/cancel", nil)
	req = req.WithContext(middleware.WithUserID(req.Context(), uuid.NewString()))
	req = withParam(req, "orderId", order.ID.String())
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	if stub.lastReason != "" {
		t.Fatalf("expected empty reason got %q", stub.lastReason)
	}
}

func TestCancelOrderStateConflict(t *testing.T) {
	order := sampleOrder()
	stub := &stubOrderService{err: pkgerrors.New(pkgerrors.CodeStateConflict, "only orders awaiting payment can be cancelled")}
	handler := Cancel(stub, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/"+order.ID.String()+"/cancel", nil)
	req = req.WithContext(middleware.WithUserID(req.Context(), uuid.NewString()))
	req = withParam(req, "orderId", order.ID.String())
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 got %d", resp.Code)
	}
}

func TestUpdateSubOrderStatusRequiresVendor(t *testing.T) {
	handler := UpdateSubOrderStatus(&stubOrderService{}, nil)

	req := httptest.NewRequest(http.MethodPatch, "/api/v1/vendor/sub-orders/x/status", strings.NewReader(`{"status":"shipped"}`))
	req = withParam(req, "subOrderId", uuid.NewString())
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", resp.Code)
	}
}

func TestUpdateSubOrderStatusRejectsUnknownStatus(t *testing.T) {
	vendorID := uuid.New()
	handler := UpdateSubOrderStatus(&stubOrderService{}, nil)

	req := httptest.NewRequest(http.MethodPatch, "/api/v1/vendor/sub-orders/x/status", strings.NewReader(`{"status":"lost"}`))
	req = req.WithContext(middleware.WithVendorID(req.Context(), vendorID.String()))
	req = withParam(req, "subOrderId", uuid.NewString())
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestUpdateSubOrderStatusSuccess(t *testing.T) {
	vendorID := uuid.New()
	sub := sampleOrder().SubOrders[0]
	sub.Status = enums.SubOrderStatusShipped
	stub := &stubOrderService{subOrder: &sub}
	handler := UpdateSubOrderStatus(stub, nil)

	req := httptest.NewRequest(http.MethodPatch, "/api/v1/vendor/sub-orders/"+sub.ID.String()+"/status", strings.NewReader(`{"status":"shipped"}`))
	req = req.WithContext(middleware.WithVendorID(req.Context(), vendorID.String()))
	req = withParam(req, "subOrderId", sub.ID.String())
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	if stub.lastVendor != vendorID || stub.lastStatus != enums.SubOrderStatusShipped {
		t.Fatalf("unexpected call vendor=%s status=%s", stub.lastVendor, stub.lastStatus)
	}
}

func TestVerifyReturnsPaymentView(t *testing.T) {
	orderID := uuid.New()
	stub := &stubOrderService{verification: &internalorders.Verification{
		OrderID:         orderID,
		GrandTotalCents: 9500,
		Currency:        "usd",
		PaymentIntentID: "pi_123",
		PaymentStatus:   enums.PaymentStatusPending,
	}}
	handler := Verify(stub, nil)

	req := withParam(httptest.NewRequest(http.MethodGet, "/internal/orders/"+orderID.String()+"/verify", nil), "orderId", orderID.String())
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	var envelope struct {
		Data internalorders.Verification `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Data.GrandTotalCents != 9500 || envelope.Data.PaymentIntentID != "pi_123" {
		t.Fatalf("unexpected verification %+v", envelope.Data)
	}
}

func TestConfirmPaymentValidatesBody(t *testing.T) {
	orderID := uuid.New()
	stub := &stubOrderService{}
	handler := ConfirmPayment(stub, nil)

	req := httptest.NewRequest(http.MethodPost, "/internal/orders/"+orderID.String()+"/confirm-payment", strings.NewReader(`{"payment_intent_id":"pi_123","amount_received_cents":0,"currency":"usd"}`))
	req = withParam(req, "orderId", orderID.String())
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestConfirmPaymentHidesSecurityMismatch(t *testing.T) {
	orderID := uuid.New()
	stub := &stubOrderService{err: pkgerrors.New(pkgerrors.CodeSecurityMismatch, "amount 100 does not match 9500")}
	handler := ConfirmPayment(stub, nil)

	req := httptest.NewRequest(http.MethodPost, "/internal/orders/"+orderID.String()+"/confirm-payment", strings.NewReader(`{"payment_intent_id":"pi_123","amount_received_cents":100,"currency":"usd"}`))
	req = withParam(req, "orderId", orderID.String())
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d", resp.Code)
	}
	if code := errorCode(t, resp); code != string(pkgerrors.CodeSecurityMismatch) {
		t.Fatalf("expected SECURITY_MISMATCH got %s", code)
	}
	if stub.lastConfirm.AmountReceivedCents != 100 {
		t.Fatalf("unexpected confirm input %+v", stub.lastConfirm)
	}
}

func TestSettlementNotFound(t *testing.T) {
	orderID := uuid.New()
	handler := Settlement(&stubOrderService{err: pkgerrors.New(pkgerrors.CodeNotFound, "order not found")}, nil)

	req := withParam(httptest.NewRequest(http.MethodGet, "/internal/orders/"+orderID.String()+"/settlement", nil), "orderId", orderID.String())
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", resp.Code)
	}
}
