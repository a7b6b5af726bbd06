package cart

import (
	"time"

	cartsvc "github.com/angelmondragon/marketsplit-backend/internal/cart"
	"github.com/google/uuid"
)

type cartResponse struct {
	BuyerID       uuid.UUID          `json:"buyer_id"`
	Version       int64              `json:"version"`
	ItemCount     int                `json:"item_count"`
	Items         []cartItemResponse `json:"items"`
	Vendors       []vendorResponse   `json:"vendors"`
	Subtotal      string             `json:"subtotal"`
	ShippingTotal string             `json:"shipping_total"`
	GrandTotal    string             `json:"grand_total"`
	UpdatedAt     *time.Time         `json:"updated_at,omitempty"`
}

type cartItemResponse struct {
	ProductID uuid.UUID  `json:"product_id"`
	VariantID *uuid.UUID `json:"variant_id,omitempty"`
	VendorID  uuid.UUID  `json:"vendor_id"`
	Quantity  int        `json:"quantity"`
	UnitPrice string     `json:"unit_price"`
	LineTotal string     `json:"line_total"`
}

type vendorResponse struct {
	VendorID       uuid.UUID `json:"vendor_id"`
	ItemCount      int       `json:"item_count"`
	Subtotal       string    `json:"subtotal"`
	ShippingMethod string    `json:"shipping_method"`
	ShippingCost   string    `json:"shipping_cost"`
	Total          string    `json:"total"`
}

func newCartResponse(c *cartsvc.Cart) cartResponse {
	resp := cartResponse{
		BuyerID:       c.BuyerID,
		Version:       c.Version,
		Items:         make([]cartItemResponse, 0, len(c.Items)),
		Vendors:       make([]vendorResponse, 0, len(c.Vendors)),
		Subtotal:      c.Subtotal.StringFixed(2),
		ShippingTotal: c.ShippingTotal.StringFixed(2),
		GrandTotal:    c.GrandTotal.StringFixed(2),
	}
	if !c.UpdatedAt.IsZero() {
		updated := c.UpdatedAt
		resp.UpdatedAt = &updated
	}
	for _, item := range c.Items {
		resp.ItemCount += item.Quantity
		resp.Items = append(resp.Items, cartItemResponse{
			ProductID: item.ProductID,
			VariantID: item.VariantID,
			VendorID:  item.VendorID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice.StringFixed(2),
			LineTotal: item.LineTotal.StringFixed(2),
		})
	}
	for _, vendor := range c.Vendors {
		resp.Vendors = append(resp.Vendors, vendorResponse{
			VendorID:       vendor.VendorID,
			ItemCount:      vendor.ItemCount,
			Subtotal:       vendor.Subtotal.StringFixed(2),
			ShippingMethod: vendor.ShippingMethod,
			ShippingCost:   vendor.ShippingCost.StringFixed(2),
			Total:          vendor.Total.StringFixed(2),
		})
	}
	return resp
}
