package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketsplit-backend/api/middleware"
	"github.com/angelmondragon/marketsplit-backend/api/responses"
	"github.com/angelmondragon/marketsplit-backend/api/validators"
	checkoutsvc "github.com/angelmondragon/marketsplit-backend/internal/checkout"
	pkgerrors "github.com/angelmondragon/marketsplit-backend/pkg/errors"
	"github.com/angelmondragon/marketsplit-backend/pkg/logger"
)

// Checkout converts the buyer's cart into an order and returns the client
// secret of its payment authorization. Replaying a checkout of the same cart
// returns the existing order with 200.
func Checkout(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		buyerID, err := buyerIDFromContext(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload checkoutsvc.CheckoutInput
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.CreateOrder(r.Context(), buyerID, payload)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		status := http.StatusCreated
		if result.Replayed {
			status = http.StatusOK
		}
		responses.WriteSuccessStatus(w, status, checkoutsvc.NewResultDTO(result))
	}
}

func buyerIDFromContext(r *http.Request) (uuid.UUID, error) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "buyer context missing")
	}
	buyerID, err := uuid.Parse(userID)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid buyer id")
	}
	return buyerID, nil
}
