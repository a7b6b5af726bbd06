package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketsplit-backend/pkg/enums"
)

// VendorPayout records one transfer attempt for one sub-order. KeyAttempt
// numbers the provider idempotency key the attempt was sent under; it only
// advances once the provider has definitely rejected the previous key.
type VendorPayout struct {
	ID                 uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	VendorID           uuid.UUID          `gorm:"column:vendor_id;type:uuid;not null;index"`
	OrderID            uuid.UUID          `gorm:"column:order_id;type:uuid;not null;index"`
	SubOrderID         uuid.UUID          `gorm:"column:sub_order_id;type:uuid;not null;index"`
	Attempt            int                `gorm:"column:attempt;not null;default:1"`
	KeyAttempt         int                `gorm:"column:key_attempt;not null;default:1"`
	GrossAmount        decimal.Decimal    `gorm:"column:gross_amount;type:numeric(12,2);not null"`
	CommissionAmount   decimal.Decimal    `gorm:"column:commission_amount;type:numeric(12,2);not null"`
	NetAmount          decimal.Decimal    `gorm:"column:net_amount;type:numeric(12,2);not null"`
	DestinationAccount string             `gorm:"column:destination_account;not null"`
	TransferID         *string            `gorm:"column:transfer_id;index"`
	Status             enums.PayoutStatus `gorm:"column:status;type:text;not null"`
	FailureReason      *string            `gorm:"column:failure_reason"`
	OutcomeUnknown     bool               `gorm:"column:outcome_unknown;not null;default:false"`
	CreatedAt          time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}

func (VendorPayout) TableName() string { return "vendor_payouts" }

func (p *VendorPayout) BeforeCreate(*gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
