package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/marketsplit-backend/api/middleware"
	"github.com/angelmondragon/marketsplit-backend/internal/payouts"
	"github.com/angelmondragon/marketsplit-backend/pkg/enums"
	"github.com/angelmondragon/marketsplit-backend/pkg/pagination"
	"github.com/angelmondragon/marketsplit-backend/pkg/types"
)

type stubPayoutService struct {
	list       *payouts.ListResult
	earnings   *payouts.Earnings
	err        error
	lastVendor uuid.UUID
	lastParams pagination.Params
}

func (s *stubPayoutService) List(_ context.Context, vendorID uuid.UUID, params pagination.Params) (*payouts.ListResult, error) {
	s.lastVendor = vendorID
	s.lastParams = params
	return s.list, s.err
}

func (s *stubPayoutService) Earnings(_ context.Context, vendorID uuid.UUID) (*payouts.Earnings, error) {
	s.lastVendor = vendorID
	return s.earnings, s.err
}

func routeParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestVendorPayoutsUsesContextVendor(t *testing.T) {
	vendorID := uuid.New()
	stub := &stubPayoutService{list: &payouts.ListResult{
		Items:  []payouts.PayoutDTO{{ID: uuid.New(), Status: enums.PayoutStatusPaid, NetAmount: decimal.RequireFromString("85")}},
		Cursor: "next",
	}}
	handler := VendorPayouts(stub, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/vendor/payouts?limit=10&cursor=abc", nil)
	req = req.WithContext(middleware.WithVendorID(req.Context(), vendorID.String()))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	if stub.lastVendor != vendorID {
		t.Fatalf("expected vendor %s got %s", vendorID, stub.lastVendor)
	}
	if stub.lastParams.Limit != 10 || stub.lastParams.Cursor != "abc" {
		t.Fatalf("unexpected params %+v", stub.lastParams)
	}
	var page types.PageEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if page.NextCursor != "next" {
		t.Fatalf("expected cursor next got %q", page.NextCursor)
	}
}

func TestVendorPayoutsRejectsLimitAboveMax(t *testing.T) {
	handler := VendorPayouts(&stubPayoutService{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/vendor/payouts?limit=1000", nil)
	req = req.WithContext(middleware.WithVendorID(req.Context(), uuid.NewString()))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestVendorEarningsRequiresVendor(t *testing.T) {
	handler := VendorEarnings(&stubPayoutService{}, nil)

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/vendor/payouts/earnings", nil))
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", resp.Code)
	}
}

func TestAdminVendorEarningsReadsPathVendor(t *testing.T) {
	vendorID := uuid.New()
	stub := &stubPayoutService{earnings: &payouts.Earnings{VendorID: vendorID, Paid: decimal.RequireFromString("170")}}
	handler := AdminVendorEarnings(stub, nil)

	req := routeParam(httptest.NewRequest(http.MethodGet, "/api/admin/v1/vendors/x/earnings", nil), "vendorId", vendorID.String())
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if stub.lastVendor != vendorID {
		t.Fatalf("expected vendor %s got %s", vendorID, stub.lastVendor)
	}
}
