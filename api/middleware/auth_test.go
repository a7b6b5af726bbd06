package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/angelmondragon/marketsplit-backend/pkg/auth"
	"github.com/angelmondragon/marketsplit-backend/pkg/config"
	"github.com/angelmondragon/marketsplit-backend/pkg/enums"
	"github.com/google/uuid"
)

var testJWT = config.JWTConfig{Secret: "secret", Issuer: "marketsplit-auth"}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthRejectsMissingToken(t *testing.T) {
	handler := Auth(testJWT, nil)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestAuthRejectsInvalidToken(t *testing.T) {
	handler := Auth(testJWT, nil)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer invalid")
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestAuthAllowsValidToken(t *testing.T) {
	vendorID := uuid.New()
	token := mintTestToken(t, enums.RoleVendor, &vendorID)

	var captured struct {
		user   string
		role   string
		vendor string
	}
	handler := Auth(testJWT, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.user = UserIDFromContext(r.Context())
		captured.role = RoleFromContext(r.Context())
		captured.vendor = VendorIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if captured.user == "" {
		t.Fatal("expected user id in context")
	}
	if captured.role != string(enums.RoleVendor) {
		t.Fatalf("expected role vendor got %s", captured.role)
	}
	if captured.vendor != vendorID.String() {
		t.Fatalf("expected vendor %s got %s", vendorID, captured.vendor)
	}
}

func TestRequireRole(t *testing.T) {
	handler := Auth(testJWT, nil)(RequireRole(nil, enums.RoleAdmin)(okHandler()))

	for role, want := range map[enums.Role]int{
		enums.RoleAdmin: http.StatusOK,
		enums.RoleBuyer: http.StatusForbidden,
	} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+mintTestToken(t, role, nil))
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, req)
		if resp.Code != want {
			t.Fatalf("role %s: expected %d got %d", role, want, resp.Code)
		}
	}
}

func TestRequireVendorRejectsTokensWithoutVendor(t *testing.T) {
	handler := Auth(testJWT, nil)(RequireVendor(nil)(okHandler()))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+mintTestToken(t, enums.RoleVendor, nil))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", resp.Code)
	}
}

func TestRequireServiceScope(t *testing.T) {
	tokens, err := auth.NewServiceTokens(config.InternalAuthConfig{Secret: "internal-secret", ServiceName: "payment-service"})
	if err != nil {
		t.Fatalf("service tokens: %v", err)
	}
	var caller string
	handler := RequireServiceScope(tokens, auth.AudienceOrderService, auth.ScopeOrdersConfirm, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if claims, ok := ServiceClaimsFromContext(r.Context()); ok {
			caller = claims.Subject
		}
		w.WriteHeader(http.StatusOK)
	}))

	verifyOnly, _ := tokens.Mint(auth.AudienceOrderService, auth.ScopeOrdersVerify)
	confirm, _ := tokens.Mint(auth.AudienceOrderService, auth.ScopeOrdersConfirm)
	wrongAudience, _ := tokens.Mint(auth.AudienceCatalogService, auth.ScopeOrdersConfirm)
	userToken := mintTestToken(t, enums.RoleAdmin, nil)

	cases := []struct {
		name  string
		token string
		want  int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"end-user token", userToken, http.StatusUnauthorized},
		{"wrong audience", wrongAudience, http.StatusUnauthorized},
		{"missing scope", verifyOnly, http.StatusForbidden},
		{"granted", confirm, http.StatusOK},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		if tc.token != "" {
			req.Header.Set(auth.ServiceTokenHeader, tc.token)
		}
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, req)
		if resp.Code != tc.want {
			t.Fatalf("%s: expected %d got %d", tc.name, tc.want, resp.Code)
		}
	}
	if caller != "payment-service" {
		t.Fatalf("expected caller payment-service got %q", caller)
	}
}

func TestClientIPPrefersForwardedFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.RemoteAddr = "10.0.0.9:4431"
	if got := ClientIP(req); got != "10.0.0.9" {
		t.Fatalf("expected remote addr host got %s", got)
	}
	req.Header.Set("X-Forwarded-For", "54.187.174.169, 10.0.0.1")
	if got := ClientIP(req); got != "54.187.174.169" {
		t.Fatalf("expected first forwarded hop got %s", got)
	}
}

func mintTestToken(t *testing.T, role enums.Role, vendorID *uuid.UUID) string {
	t.Helper()
	token, err := auth.MintAccessToken(testJWT, time.Now().UTC(), auth.AccessTokenPayload{
		UserID:   uuid.New(),
		VendorID: vendorID,
		Role:     role,
	})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return token
}
