package catalog

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/angelmondragon/marketsplit-backend/pkg/auth"
	"github.com/angelmondragon/marketsplit-backend/pkg/config"
	"github.com/angelmondragon/marketsplit-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketsplit-backend/pkg/errors"
	"github.com/angelmondragon/marketsplit-backend/pkg/svcclient"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Product is the catalog view needed by cart and checkout.
type Product struct {
	ID                uuid.UUID           `json:"id"`
	VendorID          uuid.UUID           `json:"vendor_id"`
	Price             decimal.Decimal     `json:"price"`
	TrackInventory    bool                `json:"track_inventory"`
	AvailableQuantity int                 `json:"available_quantity"`
	Status            enums.ProductStatus `json:"status"`
}

// ReservationItem is one line held against inventory.
type ReservationItem struct {
	ProductID uuid.UUID  `json:"product_id"`
	VariantID *uuid.UUID `json:"variant_id,omitempty"`
	Quantity  int        `json:"quantity"`
}

type reservationRequest struct {
	ReservationID uuid.UUID         `json:"reservation_id"`
	Items         []ReservationItem `json:"items"`
}

// Client talks to the catalog service.
type Client struct {
	http *svcclient.Client
}

// NewClient builds a catalog client authenticated with service tokens.
func NewClient(cfg config.CatalogConfig, tokens *auth.ServiceTokens, opts ...svcclient.Option) (*Client, error) {
	httpClient, err := svcclient.New(cfg.BaseURL, auth.AudienceCatalogService, tokens, cfg.Timeout, opts...)
	if err != nil {
		return nil, fmt.Errorf("catalog client: %w", err)
	}
	return &Client{http: httpClient}, nil
}

// GetProduct loads the current catalog state of a product, or of one of its
// variants when variantID is set.
func (c *Client) GetProduct(ctx context.Context, productID uuid.UUID, variantID *uuid.UUID) (*Product, error) {
	path := "/internal/products/" + productID.String()
	if variantID != nil {
		path += "?" + url.Values{"variant_id": {variantID.String()}}.Encode()
	}

	var product Product
	if err := c.http.Do(ctx, http.MethodGet, path, auth.ScopeCatalogRead, nil, &product); err != nil {
		if statusErr, ok := svcclient.AsStatus(err); ok && statusErr.StatusCode == http.StatusNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
		}
		return nil, mapError(err, "load product")
	}
	return &product, nil
}

// Reserve holds inventory for items under reservationID. Repeating the call
// with the same id is a no-op on the catalog side.
func (c *Client) Reserve(ctx context.Context, reservationID uuid.UUID, items []ReservationItem) error {
	if len(items) == 0 {
		return nil
	}
	body := reservationRequest{ReservationID: reservationID, Items: items}
	err := c.http.Do(ctx, http.MethodPost, "/internal/inventory/reservations", auth.ScopeInventoryReserve, body, nil)
	if err == nil {
		return nil
	}
	if statusErr, ok := svcclient.AsStatus(err); ok && statusErr.StatusCode == http.StatusConflict {
		return pkgerrors.New(pkgerrors.CodeInsufficientInventory, "insufficient inventory").
			WithDetails(map[string]any{"reason": statusErr.Message})
	}
	return mapError(err, "reserve inventory")
}

// Release drops a reservation. Unknown reservations are treated as released.
func (c *Client) Release(ctx context.Context, reservationID uuid.UUID) error {
	err := c.http.Do(ctx, http.MethodDelete, "/internal/inventory/reservations/"+reservationID.String(), auth.ScopeInventoryReserve, nil, nil)
	if err == nil {
		return nil
	}
	if statusErr, ok := svcclient.AsStatus(err); ok && statusErr.StatusCode == http.StatusNotFound {
		return nil
	}
	return mapError(err, "release inventory")
}

func mapError(err error, message string) error {
	if typed := pkgerrors.As(err); typed != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, message)
}
