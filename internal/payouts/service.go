// Package payouts stores vendor transfer attempts and connected accounts and
// serves the vendor payout query API.
package payouts

import (
	"context"
	"time"

	"github.com/angelmondragon/marketsplit-backend/pkg/db/models"
	"github.com/angelmondragon/marketsplit-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketsplit-backend/pkg/errors"
	"github.com/angelmondragon/marketsplit-backend/pkg/pagination"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PayoutDTO is the vendor-facing view of one transfer attempt.
type PayoutDTO struct {
	ID                 uuid.UUID          `json:"id"`
	OrderID            uuid.UUID          `json:"order_id"`
	SubOrderID         uuid.UUID          `json:"sub_order_id"`
	Attempt            int                `json:"attempt"`
	GrossAmount        decimal.Decimal    `json:"gross_amount"`
	CommissionAmount   decimal.Decimal    `json:"commission_amount"`
	NetAmount          decimal.Decimal    `json:"net_amount"`
	DestinationAccount string             `json:"destination_account"`
	TransferID         *string            `json:"transfer_id,omitempty"`
	Status             enums.PayoutStatus `json:"status"`
	FailureReason      *string            `json:"failure_reason,omitempty"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

type ListResult struct {
	Items  []PayoutDTO `json:"items"`
	Cursor string      `json:"cursor"`
}

// Earnings aggregates a vendor's net payouts. Pending covers rows not yet
// sent; failed attempts are reported separately and never counted as earned.
type Earnings struct {
	VendorID   uuid.UUID       `json:"vendor_id"`
	Paid       decimal.Decimal `json:"paid"`
	InTransit  decimal.Decimal `json:"in_transit"`
	Pending    decimal.Decimal `json:"pending"`
	Failed     decimal.Decimal `json:"failed"`
	PayoutRows int64           `json:"payout_rows"`
}

type Service interface {
	List(ctx context.Context, vendorID uuid.UUID, params pagination.Params) (*ListResult, error)
	Earnings(ctx context.Context, vendorID uuid.UUID) (*Earnings, error)
}

type service struct {
	repo Repository
}

func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payout repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) List(ctx context.Context, vendorID uuid.UUID, params pagination.Params) (*ListResult, error) {
	if vendorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "vendor id is required")
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	limit := pagination.NormalizeLimit(params.Limit)

	rows, err := s.repo.ListByVendor(ctx, vendorID, pagination.LimitWithBuffer(limit), cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list payouts")
	}

	result := &ListResult{Items: make([]PayoutDTO, 0, len(rows))}
	if len(rows) > limit {
		rows = rows[:limit]
		last := rows[len(rows)-1]
		result.Cursor = pagination.EncodeCursor(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	for _, row := range rows {
		result.Items = append(result.Items, toDTO(row))
	}
	return result, nil
}

func (s *service) Earnings(ctx context.Context, vendorID uuid.UUID) (*Earnings, error) {
	if vendorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "vendor id is required")
	}
	totals, err := s.repo.EarningsByStatus(ctx, vendorID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "aggregate earnings")
	}
	earnings := &Earnings{
		VendorID:  vendorID,
		Paid:      decimal.Zero,
		InTransit: decimal.Zero,
		Pending:   decimal.Zero,
		Failed:    decimal.Zero,
	}
	for _, total := range totals {
		amount := total.Total.Round(2)
		earnings.PayoutRows += total.Count
		switch total.Status {
		case enums.PayoutStatusPaid:
			earnings.Paid = earnings.Paid.Add(amount)
		case enums.PayoutStatusProcessing:
			earnings.InTransit = earnings.InTransit.Add(amount)
		case enums.PayoutStatusPending:
			earnings.Pending = earnings.Pending.Add(amount)
		case enums.PayoutStatusFailed:
			earnings.Failed = earnings.Failed.Add(amount)
		}
	}
	return earnings, nil
}

func toDTO(p models.VendorPayout) PayoutDTO {
	return PayoutDTO{
		ID:                 p.ID,
		OrderID:            p.OrderID,
		SubOrderID:         p.SubOrderID,
		Attempt:            p.Attempt,
		GrossAmount:        p.GrossAmount,
		CommissionAmount:   p.CommissionAmount,
		NetAmount:          p.NetAmount,
		DestinationAccount: p.DestinationAccount,
		TransferID:         p.TransferID,
		Status:             p.Status,
		FailureReason:      p.FailureReason,
		CreatedAt:          p.CreatedAt,
		UpdatedAt:          p.UpdatedAt,
	}
}
