package orders

import (
	"net/http"

	"github.com/angelmondragon/marketsplit-backend/api/responses"
	"github.com/angelmondragon/marketsplit-backend/api/validators"
	internalorders "github.com/angelmondragon/marketsplit-backend/internal/orders"
	pkgerrors "github.com/angelmondragon/marketsplit-backend/pkg/errors"
	"github.com/angelmondragon/marketsplit-backend/pkg/logger"
)

// Verify returns the payment view of an order so the payment service can
// check a webhook against it.
func Verify(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order service unavailable"))
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		verification, err := svc.VerifyForPayment(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, verification)
	}
}

// ConfirmPayment marks an order paid after the payment service verified the
// provider event. A repeated confirmation answers 200 with already_paid set.
func ConfirmPayment(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order service unavailable"))
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload internalorders.ConfirmInput
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		confirmation, err := svc.ConfirmPayment(r.Context(), orderID, payload)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, confirmation)
	}
}

// Settlement lists the payable sub-orders of a paid order.
func Settlement(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order service unavailable"))
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		settlement, err := svc.SettlementLines(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, settlement)
	}
}
