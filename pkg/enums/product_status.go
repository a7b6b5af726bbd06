package enums

// ProductStatus mirrors the catalog service product lifecycle.
type ProductStatus string

const (
	ProductStatusActive   ProductStatus = "active"
	ProductStatusDraft    ProductStatus = "draft"
	ProductStatusInactive ProductStatus = "inactive"
	ProductStatusArchived ProductStatus = "archived"
)

// Purchasable reports whether buyers may add the product to a cart.
func (s ProductStatus) Purchasable() bool {
	return s == ProductStatusActive
}
