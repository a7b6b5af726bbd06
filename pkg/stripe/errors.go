package stripe

import (
	"context"
	"errors"
	"net/http"

	"github.com/stripe/stripe-go/v84"

	pkgerrors "github.com/angelmondragon/marketsplit-backend/pkg/errors"
)

// MapError converts a Stripe SDK error into the platform error taxonomy.
// Card declines are user facing. Anything other than a malformed request is
// retryable.
func MapError(err error, message string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return pkgerrors.Wrap(pkgerrors.CodePaymentUnavailable, err, message)
	}

	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return pkgerrors.Wrap(pkgerrors.CodePaymentUnavailable, err, message)
	}

	if stripeErr.HTTPStatusCode == http.StatusTooManyRequests {
		return pkgerrors.Wrap(pkgerrors.CodePaymentUnavailable, err, message)
	}

	switch stripeErr.Type {
	case stripe.ErrorTypeCard:
		details := map[string]string{"stripe_code": string(stripeErr.Code)}
		if stripeErr.DeclineCode != "" {
			details["decline_code"] = string(stripeErr.DeclineCode)
		}
		return pkgerrors.Wrap(pkgerrors.CodePaymentRejected, err, declineMessage(stripeErr)).WithDetails(details)
	case stripe.ErrorTypeInvalidRequest, stripe.ErrorTypeIdempotency:
		return pkgerrors.Wrap(pkgerrors.CodeInvalidRequest, err, message).
			WithDetails(map[string]string{"stripe_code": string(stripeErr.Code), "param": stripeErr.Param})
	default:
		return pkgerrors.Wrap(pkgerrors.CodePaymentUnavailable, err, message)
	}
}

func declineMessage(err *stripe.Error) string {
	if err.Msg != "" {
		return err.Msg
	}
	return "payment was declined"
}
