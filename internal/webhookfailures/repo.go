package webhookfailures

import (
	"context"
	"time"

	"github.com/angelmondragon/marketsplit-backend/internal/repo"
	"github.com/angelmondragon/marketsplit-backend/pkg/db/models"
	"github.com/angelmondragon/marketsplit-backend/pkg/enums"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository persists the webhook failure ledger.
type Repository interface {
	Upsert(ctx context.Context, failure *models.WebhookFailure) (*models.WebhookFailure, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.WebhookFailure, error)
	List(ctx context.Context, status *enums.WebhookFailureStatus, limit int) ([]models.WebhookFailure, error)
	ListDue(ctx context.Context, maxRetries int, now time.Time, limit int) ([]models.WebhookFailure, error)
	MarkResolved(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	MarkRetried(ctx context.Context, id uuid.UUID, status enums.WebhookFailureStatus, reason string, at, next time.Time) (bool, error)
}

type repository struct {
	repo.Base
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

// Upsert stores a failed delivery, keeping one row per provider event. A
// repeated failure bumps delivery_count and refreshes the diagnostics without
// touching the retry schedule; a resolved row is reopened.
func (r *repository) Upsert(ctx context.Context, failure *models.WebhookFailure) (*models.WebhookFailure, error) {
	resolved := string(enums.WebhookFailureResolved)
	err := r.DB(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "provider"}, {Name: "event_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"delivery_count": gorm.Expr("webhook_failures.delivery_count + 1"),
				"failure_reason": gorm.Expr("excluded.failure_reason"),
				"stack_trace":    gorm.Expr("excluded.stack_trace"),
				"source_ip":      gorm.Expr("excluded.source_ip"),
				"metadata":       gorm.Expr("excluded.metadata"),
				"status":         gorm.Expr("CASE WHEN webhook_failures.status = ? THEN excluded.status ELSE webhook_failures.status END", resolved),
				"next_retry_at":  gorm.Expr("CASE WHEN webhook_failures.status = ? THEN excluded.next_retry_at ELSE webhook_failures.next_retry_at END", resolved),
				"resolved_at":    gorm.Expr("CASE WHEN webhook_failures.status = ? THEN NULL ELSE webhook_failures.resolved_at END", resolved),
				"updated_at":     gorm.Expr("excluded.updated_at"),
			}),
		}).
		Create(failure).Error
	if err != nil {
		return nil, err
	}

	var stored models.WebhookFailure
	err = r.DB(ctx).
		Where("provider = ? AND event_id = ?", failure.Provider, failure.EventID).
		First(&stored).Error
	if err != nil {
		return nil, err
	}
	return &stored, nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.WebhookFailure, error) {
	var failure models.WebhookFailure
	if err := r.DB(ctx).Where("id = ?", id).First(&failure).Error; err != nil {
		return nil, err
	}
	return &failure, nil
}

func (r *repository) List(ctx context.Context, status *enums.WebhookFailureStatus, limit int) ([]models.WebhookFailure, error) {
	query := r.DB(ctx).Model(&models.WebhookFailure{})
	if status != nil {
		query = query.Where("status = ?", *status)
	}
	var rows []models.WebhookFailure
	err := query.Order("created_at DESC, id DESC").Limit(limit).Find(&rows).Error
	return rows, err
}

// ListDue returns unresolved rows below the retry ceiling whose next attempt
// is due, earliest first.
func (r *repository) ListDue(ctx context.Context, maxRetries int, now time.Time, limit int) ([]models.WebhookFailure, error) {
	var rows []models.WebhookFailure
	err := r.DB(ctx).
		Where("status IN ?", []enums.WebhookFailureStatus{enums.WebhookFailureFailed, enums.WebhookFailureRetrying}).
		Where("retry_count < ?", maxRetries).
		Where("next_retry_at <= ?", now).
		Order("next_retry_at ASC, id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *repository) MarkResolved(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	result := r.DB(ctx).
		Model(&models.WebhookFailure{}).
		Where("id = ? AND status <> ?", id, enums.WebhookFailureResolved).
		Updates(map[string]any{
			"status":        enums.WebhookFailureResolved,
			"resolved_at":   at,
			"last_retry_at": at,
			"retry_count":   gorm.Expr("retry_count + 1"),
			"updated_at":    at,
		})
	return result.RowsAffected > 0, result.Error
}

func (r *repository) MarkRetried(ctx context.Context, id uuid.UUID, status enums.WebhookFailureStatus, reason string, at, next time.Time) (bool, error) {
	result := r.DB(ctx).
		Model(&models.WebhookFailure{}).
		Where("id = ? AND status <> ?", id, enums.WebhookFailureResolved).
		Updates(map[string]any{
			"status":         status,
			"failure_reason": reason,
			"last_retry_at":  at,
			"next_retry_at":  next,
			"retry_count":    gorm.Expr("retry_count + 1"),
			"updated_at":     at,
		})
	return result.RowsAffected > 0, result.Error
}
