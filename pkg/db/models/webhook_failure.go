package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbtypes "github.com/angelmondragon/marketsplit-backend/pkg/db/types"
	"github.com/angelmondragon/marketsplit-backend/pkg/enums"
)

// WebhookFailure is the durable record of a verified webhook event that could
// not be processed. It exists for operational recovery only. One row is kept
// per provider event; redeliveries that fail again bump DeliveryCount.
type WebhookFailure struct {
	ID            uuid.UUID                  `gorm:"column:id;type:uuid;primaryKey"`
	Provider      string                     `gorm:"column:provider;not null;uniqueIndex:idx_webhook_failures_event,priority:1"`
	EventType     string                     `gorm:"column:event_type;not null"`
	EventID       string                     `gorm:"column:event_id;not null;uniqueIndex:idx_webhook_failures_event,priority:2"`
	Payload       dbtypes.JSON               `gorm:"column:payload;type:jsonb;not null"`
	FailureReason string                     `gorm:"column:failure_reason;not null"`
	StackTrace    *string                    `gorm:"column:stack_trace"`
	Status        enums.WebhookFailureStatus `gorm:"column:status;type:text;not null;default:'failed';index:idx_webhook_failures_due,priority:1"`
	RetryCount    int                        `gorm:"column:retry_count;not null;default:0"`
	DeliveryCount int                        `gorm:"column:delivery_count;not null;default:1"`
	LastRetryAt   *time.Time                 `gorm:"column:last_retry_at"`
	NextRetryAt   time.Time                  `gorm:"column:next_retry_at;not null;index:idx_webhook_failures_due,priority:2"`
	ResolvedAt    *time.Time                 `gorm:"column:resolved_at"`
	SourceIP      *string                    `gorm:"column:source_ip"`
	Metadata      dbtypes.JSON               `gorm:"column:metadata;type:jsonb"`
	CreatedAt     time.Time                  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time                  `gorm:"column:updated_at;autoUpdateTime"`
}

func (WebhookFailure) TableName() string { return "webhook_failures" }

func (w *WebhookFailure) BeforeCreate(*gorm.DB) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	return nil
}
