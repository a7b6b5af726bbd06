package models

import (
	"time"

	"github.com/google/uuid"
)

// VendorAccount maps a vendor to its Stripe connected account.
type VendorAccount struct {
	VendorID         uuid.UUID `gorm:"column:vendor_id;type:uuid;primaryKey"`
	StripeAccountID  string    `gorm:"column:stripe_account_id;not null;uniqueIndex"`
	ChargesEnabled   bool      `gorm:"column:charges_enabled;not null;default:false"`
	PayoutsEnabled   bool      `gorm:"column:payouts_enabled;not null;default:false"`
	DetailsSubmitted bool      `gorm:"column:details_submitted;not null;default:false"`
	CreatedAt        time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (VendorAccount) TableName() string { return "vendor_accounts" }

// ReadyForTransfers reports whether funds can be sent to the account.
func (a VendorAccount) ReadyForTransfers() bool {
	return a.StripeAccountID != "" && a.PayoutsEnabled
}
