package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/marketsplit-backend/api/middleware"
	checkoutsvc "github.com/angelmondragon/marketsplit-backend/internal/checkout"
	"github.com/angelmondragon/marketsplit-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/marketsplit-backend/pkg/errors"
)

type stubCheckoutService struct {
	result    *checkoutsvc.Result
	err       error
	lastBuyer uuid.UUID
	lastInput checkoutsvc.CheckoutInput
}

func (s *stubCheckoutService) CreateOrder(_ context.Context, buyerID uuid.UUID, input checkoutsvc.CheckoutInput) (*checkoutsvc.Result, error) {
	s.lastBuyer = buyerID
	s.lastInput = input
	return s.result, s.err
}

const checkoutBody = `{
	"buyer_email": "buyer@example.com",
	"shipping_address": {
		"name": "Ada Buyer",
		"line1": "1 Main St",
		"city": "Portland",
		"state": "OR",
		"postal_code": "97201",
		"country": "US"
	}
}`

func checkoutResult(replayed bool) *checkoutsvc.Result {
	order := &models.Order{
		ID:             uuid.New(),
		OrderNumber:    "MS-100001",
		GrandTotal:     decimal.RequireFromString("95"),
		ApplicationFee: decimal.RequireFromString("9"),
		Currency:       "usd",
	}
	return &checkoutsvc.Result{
		Order:    order,
		Payment:  checkoutsvc.PaymentHandle{IntentID: "pi_123", ClientSecret: "pi_123_secret"},
		Replayed: replayed,
	}
}

func TestCheckoutCreatesOrder(t *testing.T) {
	buyerID := uuid.New()
	stub := &stubCheckoutService{result: checkoutResult(false)}
	handler := Checkout(stub, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", strings.NewReader(checkoutBody))
	req = req.WithContext(middleware.WithUserID(req.Context(), buyerID.String()))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", resp.Code, resp.Body.String())
	}
	if stub.lastBuyer != buyerID {
		t.Fatalf("expected buyer %s got %s", buyerID, stub.lastBuyer)
	}
	if stub.lastInput.ShippingAddress.City != "Portland" {
		t.Fatalf("unexpected input %+v", stub.lastInput)
	}
	var envelope struct {
		Data checkoutsvc.ResultDTO `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Data.ClientSecret != "pi_123_secret" || envelope.Data.GrandTotal != "95.00" {
		t.Fatalf("unexpected payload %+v", envelope.Data)
	}
}

func TestCheckoutReplayReturnsOK(t *testing.T) {
	handler := Checkout(&stubCheckoutService{result: checkoutResult(true)}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", strings.NewReader(checkoutBody))
	req = req.WithContext(middleware.WithUserID(req.Context(), uuid.NewString()))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
}

func TestCheckoutRejectsMissingAddress(t *testing.T) {
	stub := &stubCheckoutService{result: checkoutResult(false)}
	handler := Checkout(stub, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", strings.NewReader(`{"buyer_email":"buyer@example.com","shipping_address":{}}`))
	req = req.WithContext(middleware.WithUserID(req.Context(), uuid.NewString()))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
	if stub.lastBuyer != uuid.Nil {
		t.Fatal("service should not be called")
	}
}

func TestCheckoutSurfacesEmptyCart(t *testing.T) {
	handler := Checkout(&stubCheckoutService{err: pkgerrors.New(pkgerrors.CodeEmptyCart, "cart is empty")}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", strings.NewReader(checkoutBody))
	req = req.WithContext(middleware.WithUserID(req.Context(), uuid.NewString()))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Error.Code != string(pkgerrors.CodeEmptyCart) {
		t.Fatalf("expected EMPTY_CART got %s", envelope.Error.Code)
	}
}
