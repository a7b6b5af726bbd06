package cart

import (
	"net/http"
	"strings"

	cartsvc "github.com/angelmondragon/marketsplit-backend/internal/cart"
	pkgerrors "github.com/angelmondragon/marketsplit-backend/pkg/errors"
	"github.com/google/uuid"
)

// Quantities are range-checked by the cart service so callers get
// INVALID_QUANTITY rather than a generic validation error.
type addItemRequest struct {
	ProductID uuid.UUID  `json:"product_id" validate:"required"`
	VariantID *uuid.UUID `json:"variant_id,omitempty"`
	Quantity  int        `json:"quantity"`
}

func (r addItemRequest) toInput() cartsvc.AddItemInput {
	return cartsvc.AddItemInput{
		ProductID: r.ProductID,
		VariantID: r.VariantID,
		Quantity:  r.Quantity,
	}
}

type updateQuantityRequest struct {
	Quantity int `json:"quantity"`
}

type shippingRequest struct {
	Method string `json:"method" validate:"required,max=32"`
}

// productRef builds the line key from the path product id and an optional
// variant_id query parameter.
func productRef(r *http.Request, productID uuid.UUID) (cartsvc.ProductRef, error) {
	ref := cartsvc.ProductRef{ProductID: productID}
	raw := strings.TrimSpace(r.URL.Query().Get("variant_id"))
	if raw == "" {
		return ref, nil
	}
	variantID, err := uuid.Parse(raw)
	if err != nil {
		return cartsvc.ProductRef{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid variant id").
			WithDetails(map[string]any{"field": "variant_id"})
	}
	ref.VariantID = &variantID
	return ref, nil
}
