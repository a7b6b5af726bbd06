package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/angelmondragon/marketsplit-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/marketsplit-backend/pkg/errors"
)

func TestNewClientValidatesKeys(t *testing.T) {
	ctx := context.Background()

	_, err := NewClient(ctx, config.StripeConfig{Env: "test"}, nil)
	require.ErrorIs(t, err, errAPIKeyRequired)

	_, err = NewClient(ctx, config.StripeConfig{Env: "live", APIKey: "sk_test_123"}, nil)
	require.Error(t, err)

	_, err = NewClient(ctx, config.StripeConfig{Env: "staging", APIKey: "sk_test_123"}, nil)
	require.ErrorIs(t, err, errInvalidStripeEnv)

	client, err := NewClient(ctx, config.StripeConfig{APIKey: "sk_test_123"}, nil)
	require.NoError(t, err)
	require.Equal(t, "test", client.Environment())
	require.Equal(t, "usd", client.Currency())
}

func TestConstructEventRequiresSecret(t *testing.T) {
	client, err := NewClient(context.Background(), config.StripeConfig{APIKey: "sk_test_123"}, nil)
	require.NoError(t, err)

	_, err = client.ConstructEvent([]byte(`{}`), "sig")
	require.ErrorIs(t, err, errSecretRequired)
}

func TestConstructEventVerifiesSignature(t *testing.T) {
	payload := []byte(`{"id":"evt_1","object":"event","type":"payment_intent.succeeded","api_version":"2020-08-27","data":{"object":{"id":"pi_1","object":"payment_intent"}}}`)
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    "whsec_test",
		Timestamp: time.Now(),
	})

	event, err := ConstructEvent(signed.Payload, signed.Header, "whsec_test")
	require.NoError(t, err)
	require.Equal(t, "evt_1", event.ID)

	_, err = ConstructEvent(signed.Payload, signed.Header, "whsec_other")
	require.Error(t, err)

	tampered := append([]byte{}, signed.Payload...)
	tampered[len(tampered)-2] = ' '
	_, err = ConstructEvent(tampered, signed.Header, "whsec_test")
	require.Error(t, err)
}

func TestMapError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code pkgerrors.Code
	}{
		{"card", &stripe.Error{Type: stripe.ErrorTypeCard, Code: stripe.ErrorCodeCardDeclined, Msg: "Your card was declined."}, pkgerrors.CodePaymentRejected},
		{"invalid request", &stripe.Error{Type: stripe.ErrorTypeInvalidRequest, Param: "amount"}, pkgerrors.CodeInvalidRequest},
		{"idempotency", &stripe.Error{Type: stripe.ErrorTypeIdempotency}, pkgerrors.CodeInvalidRequest},
		{"api", &stripe.Error{Type: stripe.ErrorTypeAPI}, pkgerrors.CodePaymentUnavailable},
		{"rate limited", &stripe.Error{Type: stripe.ErrorTypeInvalidRequest, HTTPStatusCode: http.StatusTooManyRequests}, pkgerrors.CodePaymentUnavailable},
		{"timeout", fmt.Errorf("call: %w", context.DeadlineExceeded), pkgerrors.CodePaymentUnavailable},
		{"network", errors.New("connection reset by peer"), pkgerrors.CodePaymentUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mapped := MapError(tc.err, "create payment intent")
			require.True(t, pkgerrors.IsCode(mapped, tc.code), "got %v", mapped)
		})
	}

	require.Nil(t, MapError(nil, "noop"))
	require.True(t, pkgerrors.As(MapError(&stripe.Error{Type: stripe.ErrorTypeAPI}, "x")).Retryable())
}
