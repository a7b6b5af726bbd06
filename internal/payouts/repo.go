package payouts

import (
	"context"
	"time"

	"github.com/angelmondragon/marketsplit-backend/internal/repo"
	"github.com/angelmondragon/marketsplit-backend/pkg/db/models"
	"github.com/angelmondragon/marketsplit-backend/pkg/enums"
	"github.com/angelmondragon/marketsplit-backend/pkg/pagination"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository persists vendor payout attempts and connected accounts.
type Repository interface {
	Create(ctx context.Context, payout *models.VendorPayout) error
	MarkTransferPaid(ctx context.Context, transferID string) (bool, error)
	MarkTransferFailed(ctx context.Context, transferID, reason string) (bool, error)
	FindByTransferID(ctx context.Context, transferID string) (*models.VendorPayout, error)
	LatestForSubOrders(ctx context.Context, subOrderIDs []uuid.UUID) (map[uuid.UUID]models.VendorPayout, error)
	ListByVendor(ctx context.Context, vendorID uuid.UUID, limit int, cursor *pagination.Cursor) ([]models.VendorPayout, error)
	EarningsByStatus(ctx context.Context, vendorID uuid.UUID) ([]StatusTotal, error)

	UpsertAccount(ctx context.Context, account *models.VendorAccount) error
	UpdateAccountByStripeID(ctx context.Context, account *models.VendorAccount) (bool, error)
	AccountsForVendors(ctx context.Context, vendorIDs []uuid.UUID) (map[uuid.UUID]models.VendorAccount, error)
}

// StatusTotal is the sum of net payouts in one status.
type StatusTotal struct {
	Status enums.PayoutStatus
	Count  int64
	Total  decimal.Decimal
}

type repository struct {
	repo.Base
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) Create(ctx context.Context, payout *models.VendorPayout) error {
	return r.DB(ctx).Create(payout).Error
}

// MarkTransferPaid settles a processing payout. A payout already paid is left
// untouched and reported as not updated.
func (r *repository) MarkTransferPaid(ctx context.Context, transferID string) (bool, error) {
	result := r.DB(ctx).
		Model(&models.VendorPayout{}).
		Where("transfer_id = ? AND status IN ?", transferID,
			[]enums.PayoutStatus{enums.PayoutStatusPending, enums.PayoutStatusProcessing}).
		Updates(map[string]any{
			"status":     enums.PayoutStatusPaid,
			"updated_at": time.Now().UTC(),
		})
	return result.RowsAffected > 0, result.Error
}

func (r *repository) MarkTransferFailed(ctx context.Context, transferID, reason string) (bool, error) {
	result := r.DB(ctx).
		Model(&models.VendorPayout{}).
		Where("transfer_id = ? AND status <> ?", transferID, enums.PayoutStatusFailed).
		Updates(map[string]any{
			"status":         enums.PayoutStatusFailed,
			"failure_reason": reason,
			"updated_at":     time.Now().UTC(),
		})
	return result.RowsAffected > 0, result.Error
}

func (r *repository) FindByTransferID(ctx context.Context, transferID string) (*models.VendorPayout, error) {
	var payout models.VendorPayout
	if err := r.DB(ctx).Where("transfer_id = ?", transferID).First(&payout).Error; err != nil {
		return nil, err
	}
	return &payout, nil
}

// LatestForSubOrders returns the highest attempt per sub-order.
func (r *repository) LatestForSubOrders(ctx context.Context, subOrderIDs []uuid.UUID) (map[uuid.UUID]models.VendorPayout, error) {
	latest := make(map[uuid.UUID]models.VendorPayout, len(subOrderIDs))
	if len(subOrderIDs) == 0 {
		return latest, nil
	}
	var rows []models.VendorPayout
	err := r.DB(ctx).
		Where("sub_order_id IN ?", subOrderIDs).
		Order("attempt ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		latest[row.SubOrderID] = row
	}
	return latest, nil
}

func (r *repository) ListByVendor(ctx context.Context, vendorID uuid.UUID, limit int, cursor *pagination.Cursor) ([]models.VendorPayout, error) {
	query := r.DB(ctx).Where("vendor_id = ?", vendorID)
	if cursor != nil {
		query = query.Where("created_at < ? OR (created_at = ? AND id < ?)", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}
	var rows []models.VendorPayout
	err := query.Order("created_at DESC, id DESC").Limit(limit).Find(&rows).Error
	return rows, err
}

func (r *repository) EarningsByStatus(ctx context.Context, vendorID uuid.UUID) ([]StatusTotal, error) {
	type row struct {
		Status string
		Count  int64
		Total  string
	}
	var rows []row
	err := r.DB(ctx).
		Model(&models.VendorPayout{}).
		Select("status, COUNT(*) AS count, CAST(COALESCE(SUM(net_amount), 0) AS TEXT) AS total").
		Where("vendor_id = ?", vendorID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	totals := make([]StatusTotal, 0, len(rows))
	for _, rw := range rows {
		total, err := decimal.NewFromString(rw.Total)
		if err != nil {
			return nil, err
		}
		totals = append(totals, StatusTotal{Status: enums.PayoutStatus(rw.Status), Count: rw.Count, Total: total})
	}
	return totals, nil
}

func (r *repository) UpsertAccount(ctx context.Context, account *models.VendorAccount) error {
	return r.DB(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "vendor_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"stripe_account_id", "charges_enabled", "payouts_enabled", "details_submitted", "updated_at",
			}),
		}).
		Create(account).Error
}

func (r *repository) UpdateAccountByStripeID(ctx context.Context, account *models.VendorAccount) (bool, error) {
	result := r.DB(ctx).
		Model(&models.VendorAccount{}).
		Where("stripe_account_id = ?", account.StripeAccountID).
		Updates(map[string]any{
			"charges_enabled":   account.ChargesEnabled,
			"payouts_enabled":   account.PayoutsEnabled,
			"details_submitted": account.DetailsSubmitted,
			"updated_at":        time.Now().UTC(),
		})
	return result.RowsAffected > 0, result.Error
}

func (r *repository) AccountsForVendors(ctx context.Context, vendorIDs []uuid.UUID) (map[uuid.UUID]models.VendorAccount, error) {
	accounts := make(map[uuid.UUID]models.VendorAccount, len(vendorIDs))
	if len(vendorIDs) == 0 {
		return accounts, nil
	}
	var rows []models.VendorAccount
	if err := r.DB(ctx).Where("vendor_id IN ?", vendorIDs).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		accounts[row.VendorID] = row
	}
	return accounts, nil
}
