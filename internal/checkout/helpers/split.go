package helpers

import (
	"sort"

	"github.com/angelmondragon/marketsplit-backend/internal/cart"
	"github.com/angelmondragon/marketsplit-backend/pkg/money"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// VendorSplit is the money split of one vendor partition of a cart.
type VendorSplit struct {
	VendorID         uuid.UUID
	Sequence         int
	Subtotal         decimal.Decimal
	ShippingMethod   string
	ShippingCost     decimal.Decimal
	Total            decimal.Decimal
	CommissionRate   decimal.Decimal
	CommissionAmount decimal.Decimal
	VendorPayout     decimal.Decimal
	Items            []cart.CartItem
}

// OrderTotals are the aggregates stored on the master order.
type OrderTotals struct {
	Subtotal       decimal.Decimal
	ShippingTotal  decimal.Decimal
	GrandTotal     decimal.Decimal
	ApplicationFee decimal.Decimal
}

// Commission splits total into the platform share at rate percent and the
// vendor payout. The payout is derived by subtraction so the two always add
// back to total.
func Commission(total, rate decimal.Decimal) (commission, payout decimal.Decimal) {
	commission = money.Percent(total, rate)
	return commission, total.Sub(commission)
}

// SplitCart decomposes a cart into one split per vendor, ordered by vendor id
// with 1-based sequences. The grand total is the sum of the split totals.
func SplitCart(c *cart.Cart, rate decimal.Decimal) ([]VendorSplit, OrderTotals) {
	partitions := append([]cart.VendorPartition(nil), c.Vendors...)
	sort.Slice(partitions, func(i, j int) bool {
		return partitions[i].VendorID.String() < partitions[j].VendorID.String()
	})

	totals := OrderTotals{
		Subtotal:      decimal.Zero,
		ShippingTotal: decimal.Zero,
		GrandTotal:    decimal.Zero,
	}
	splits := make([]VendorSplit, 0, len(partitions))
	for _, partition := range partitions {
		items := c.ItemsFor(partition.VendorID)
		if len(items) == 0 {
			continue
		}
		subtotal := decimal.Zero
		for _, item := range items {
			subtotal = subtotal.Add(money.Round(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))))
		}
		shipping := money.Round(partition.ShippingCost)
		total := subtotal.Add(shipping)
		commission, payout := Commission(total, rate)

		splits = append(splits, VendorSplit{
			VendorID:         partition.VendorID,
			Sequence:         len(splits) + 1,
			Subtotal:         subtotal,
			ShippingMethod:   partition.ShippingMethod,
			ShippingCost:     shipping,
			Total:            total,
			CommissionRate:   rate,
			CommissionAmount: commission,
			VendorPayout:     payout,
			Items:            items,
		})
		totals.Subtotal = totals.Subtotal.Add(subtotal)
		totals.ShippingTotal = totals.ShippingTotal.Add(shipping)
	}
	totals.GrandTotal = totals.Subtotal.Add(totals.ShippingTotal)
	totals.ApplicationFee = money.Percent(totals.GrandTotal, rate)
	return splits, totals
}
