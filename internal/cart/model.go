package cart

import (
	"sort"
	"time"

	"github.com/angelmondragon/marketsplit-backend/pkg/money"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ProductRef identifies a cart line.
type ProductRef struct {
	ProductID uuid.UUID  `json:"product_id"`
	VariantID *uuid.UUID `json:"variant_id,omitempty"`
}

func (r ProductRef) matches(item CartItem) bool {
	if r.ProductID != item.ProductID {
		return false
	}
	if r.VariantID == nil || item.VariantID == nil {
		return r.VariantID == nil && item.VariantID == nil
	}
	return *r.VariantID == *item.VariantID
}

// CartItem is one line with the catalog price captured when it was added.
type CartItem struct {
	ProductID uuid.UUID       `json:"product_id"`
	VariantID *uuid.UUID      `json:"variant_id,omitempty"`
	VendorID  uuid.UUID       `json:"vendor_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	LineTotal decimal.Decimal `json:"line_total"`
	AddedAt   time.Time       `json:"added_at"`
}

// Ref returns the key of the line.
func (i CartItem) Ref() ProductRef {
	return ProductRef{ProductID: i.ProductID, VariantID: i.VariantID}
}

// VendorPartition groups the lines sold by one vendor together with the
// shipping selected for them.
type VendorPartition struct {
	VendorID       uuid.UUID       `json:"vendor_id"`
	ItemCount      int             `json:"item_count"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	ShippingMethod string          `json:"shipping_method"`
	ShippingCost   decimal.Decimal `json:"shipping_cost"`
	Total          decimal.Decimal `json:"total"`
}

// Cart is the document stored per buyer. Partitions and totals are derived
// from Items on every mutation and are never edited directly.
type Cart struct {
	ID            uuid.UUID         `json:"id"`
	BuyerID       uuid.UUID         `json:"buyer_id"`
	Version       int64             `json:"version"`
	Items         []CartItem        `json:"items"`
	Vendors       []VendorPartition `json:"vendors"`
	Subtotal      decimal.Decimal   `json:"subtotal"`
	ShippingTotal decimal.Decimal   `json:"shipping_total"`
	GrandTotal    decimal.Decimal   `json:"grand_total"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

func emptyCart(buyerID uuid.UUID) *Cart {
	return &Cart{
		BuyerID:       buyerID,
		Items:         []CartItem{},
		Vendors:       []VendorPartition{},
		Subtotal:      decimal.Zero,
		ShippingTotal: decimal.Zero,
		GrandTotal:    decimal.Zero,
	}
}

// IsEmpty reports whether the cart has no lines.
func (c *Cart) IsEmpty() bool {
	return c == nil || len(c.Items) == 0
}

// ItemsFor returns the lines sold by vendorID.
func (c *Cart) ItemsFor(vendorID uuid.UUID) []CartItem {
	items := make([]CartItem, 0)
	for _, item := range c.Items {
		if item.VendorID == vendorID {
			items = append(items, item)
		}
	}
	return items
}

// Partition returns the partition for vendorID.
func (c *Cart) Partition(vendorID uuid.UUID) (*VendorPartition, bool) {
	for i := range c.Vendors {
		if c.Vendors[i].VendorID == vendorID {
			return &c.Vendors[i], true
		}
	}
	return nil, false
}

func (c *Cart) findItem(ref ProductRef) int {
	for i, item := range c.Items {
		if ref.matches(item) {
			return i
		}
	}
	return -1
}

// shippingChoice seeds the partition of a vendor that had no lines before.
type shippingChoice struct {
	Method string
	Cost   decimal.Decimal
}

// recompute rebuilds partitions and totals from Items. Existing partitions keep
// their shipping selection; new vendors take fallback. Partitions are ordered by
// vendor id so sub-order numbering is stable for a given cart.
func (c *Cart) recompute(fallback shippingChoice) {
	previous := make(map[uuid.UUID]VendorPartition, len(c.Vendors))
	for _, partition := range c.Vendors {
		previous[partition.VendorID] = partition
	}

	grouped := make(map[uuid.UUID]*VendorPartition)
	for i := range c.Items {
		item := &c.Items[i]
		item.LineTotal = money.Round(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))

		partition, ok := grouped[item.VendorID]
		if !ok {
			partition = &VendorPartition{VendorID: item.VendorID, Subtotal: decimal.Zero}
			if prior, seen := previous[item.VendorID]; seen {
				partition.ShippingMethod = prior.ShippingMethod
				partition.ShippingCost = prior.ShippingCost
			} else {
				partition.ShippingMethod = fallback.Method
				partition.ShippingCost = fallback.Cost
			}
			grouped[item.VendorID] = partition
		}
		partition.ItemCount++
		partition.Subtotal = partition.Subtotal.Add(item.LineTotal)
	}

	c.Vendors = make([]VendorPartition, 0, len(grouped))
	c.Subtotal = decimal.Zero
	c.ShippingTotal = decimal.Zero
	for _, partition := range grouped {
		partition.Total = partition.Subtotal.Add(partition.ShippingCost)
		c.Subtotal = c.Subtotal.Add(partition.Subtotal)
		c.ShippingTotal = c.ShippingTotal.Add(partition.ShippingCost)
		c.Vendors = append(c.Vendors, *partition)
	}
	sort.Slice(c.Vendors, func(i, j int) bool {
		return c.Vendors[i].VendorID.String() < c.Vendors[j].VendorID.String()
	})
	c.GrandTotal = c.Subtotal.Add(c.ShippingTotal)
}
