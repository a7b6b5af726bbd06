package svcclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/angelmondragon/marketsplit-backend/pkg/auth"
	"github.com/angelmondragon/marketsplit-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/marketsplit-backend/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTokens(t *testing.T) *auth.ServiceTokens {
	t.Helper()
	tokens, err := auth.NewServiceTokens(config.InternalAuthConfig{Secret: "shared-secret", ServiceName: "payment-service"})
	require.NoError(t, err)
	return tokens
}

func TestDoSendsServiceTokenAndDecodes(t *testing.T) {
	tokens := newTokens(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := tokens.Verify(r.Header.Get(auth.ServiceTokenHeader), auth.AudienceOrderService, auth.ScopeOrdersVerify)
		if err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.Equal(t, "payment-service", claims.Subject)
		assert.Equal(t, "/internal/orders/abc/verify", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}))
	defer srv.Close()

	client, err := New(srv.URL, auth.AudienceOrderService, tokens, time.Second)
	require.NoError(t, err)

	var out struct {
		Status string `json:"status"`
	}
	require.NoError(t, client.Do(context.Background(), http.MethodGet, "/internal/orders/abc/verify", auth.ScopeOrdersVerify, nil, &out))
	assert.Equal(t, "ok", out.Status)
}

func TestDoRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client, err := New(srv.URL, auth.AudienceCatalogService, newTokens(t), time.Second, WithRetries(3, time.Millisecond))
	require.NoError(t, err)

	require.NoError(t, client.Do(context.Background(), http.MethodDelete, "/x", auth.ScopeInventoryReserve, nil, nil))
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestDoReturnsStatusErrorWithEnvelope(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"code":"NOT_FOUND","message":"order not found"}}`))
	}))
	defer srv.Close()

	client, err := New(srv.URL, auth.AudienceOrderService, newTokens(t), time.Second, WithRetries(3, time.Millisecond))
	require.NoError(t, err)

	err = client.Do(context.Background(), http.MethodGet, "/missing", auth.ScopeOrdersVerify, nil, nil)
	statusErr, ok := AsStatus(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)
	assert.Equal(t, "NOT_FOUND", statusErr.Code)
	assert.Equal(t, "order not found", statusErr.Message)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls), "4xx must not be retried")
}

func TestDoExhaustedRetriesIsDependencyError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
	}))
	defer srv.Close()

	client, err := New(srv.URL, auth.AudienceOrderService, newTokens(t), 5*time.Millisecond, WithRetries(1, time.Millisecond))
	require.NoError(t, err)

	err = client.Do(context.Background(), http.MethodGet, "/slow", auth.ScopeOrdersVerify, nil, nil)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))
}

func TestNewValidatesArguments(t *testing.T) {
	tokens := newTokens(t)
	_, err := New("", auth.AudienceOrderService, tokens, 0)
	assert.ErrorIs(t, err, errBaseURLRequired)
	_, err = New("http://orders", "", tokens, 0)
	assert.ErrorIs(t, err, errAudienceRequired)
	_, err = New("http://orders", auth.AudienceOrderService, nil, 0)
	assert.ErrorIs(t, err, errTokensRequired)
}

func TestDoForwardsRequestID(t *testing.T) {
	seen := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen <- r.Header.Get(RequestIDHeader)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client, err := New(srv.URL, auth.AudienceOrderService, newTokens(t), time.Second)
	require.NoError(t, err)

	ctx := ContextWithRequestID(context.Background(), "req-webhook-1")
	require.NoError(t, client.Do(ctx, http.MethodPost, "/internal/orders/abc/confirm-payment", auth.ScopeOrdersConfirm, nil, nil))
	assert.Equal(t, "req-webhook-1", <-seen)
}
