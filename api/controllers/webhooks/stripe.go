package webhooks

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/marketsplit-backend/api/middleware"
	"github.com/angelmondragon/marketsplit-backend/api/responses"
	stripewebhook "github.com/angelmondragon/marketsplit-backend/internal/webhooks/stripe"
	pkgerrors "github.com/angelmondragon/marketsplit-backend/pkg/errors"
	"github.com/angelmondragon/marketsplit-backend/pkg/logger"
)

const maxWebhookBodyBytes = 1 << 16

type StripeWebhookService interface {
	HandleEvent(ctx context.Context, event *stripe.Event, meta stripewebhook.RequestMeta) error
}

type eventVerifier interface {
	ConstructEvent(payload []byte, signature string) (stripe.Event, error)
}

// StripeWebhook verifies the signature of a Stripe delivery against the raw
// body and hands the event to the webhook service. Duplicate deliveries are
// detected by the service.
func StripeWebhook(svc StripeWebhookService, verifier eventVerifier, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}
		if verifier == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "stripe client unavailable"))
			return
		}

		payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
			return
		}

		sourceIP := middleware.ClientIP(r)
		sigHeader := strings.TrimSpace(r.Header.Get("Stripe-Signature"))
		if sigHeader == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInvalidSignature, "stripe signature missing"))
			return
		}

		event, err := verifier.ConstructEvent(payload, sigHeader)
		if err != nil {
			if logg != nil {
				logg.Warn(logg.WithField(ctx, "source_ip", sourceIP), "stripe webhook signature rejected")
			}
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInvalidSignature, err, "verify signature"))
			return
		}

		if err := svc.HandleEvent(ctx, &event, stripewebhook.RequestMeta{SourceIP: sourceIP, Payload: payload}); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]bool{"received": true})
	}
}
