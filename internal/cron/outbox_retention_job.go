package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/marketsplit-backend/pkg/logger"
	"gorm.io/gorm"
)

const (
	defaultOutboxRetention = 30 * 24 * time.Hour
	outboxDeleteBatch      = 500
	outboxMaxBatches       = 20
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxRetentionRepo interface {
	DeletePublishedBefore(tx *gorm.DB, cutoff time.Time, limit int) (int64, error)
}

type OutboxRetentionJobParams struct {
	Logger     *logger.Logger
	DB         txRunner
	Repository outboxRetentionRepo
	Retention  time.Duration
}

// NewOutboxRetentionJob builds the job that prunes published outbox rows.
func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("outbox repository required")
	}
	retention := params.Retention
	if retention <= 0 {
		retention = defaultOutboxRetention
	}
	return &outboxRetentionJob{
		logg:      params.Logger,
		db:        params.DB,
		repo:      params.Repository,
		retention: retention,
		now:       time.Now,
	}, nil
}

type outboxRetentionJob struct {
	logg      *logger.Logger
	db        txRunner
	repo      outboxRetentionRepo
	retention time.Duration
	now       func() time.Time
}

func (j *outboxRetentionJob) Name() string { return "outbox-retention" }

// Run deletes in bounded batches, one transaction each, so a large backlog
// never holds a long lock on outbox_events.
func (j *outboxRetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.retention)
	var deleted int64
	for range outboxMaxBatches {
		var rows int64
		err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
			var err error
			rows, err = j.repo.DeletePublishedBefore(tx, cutoff, outboxDeleteBatch)
			return err
		})
		if err != nil {
			return fmt.Errorf("outbox retention: %w", err)
		}
		deleted += rows
		if rows < outboxDeleteBatch {
			break
		}
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":       cutoff,
		"retention":    j.retention.String(),
		"rows_deleted": deleted,
	})
	j.logg.Info(logCtx, "outbox retention cleanup complete")
	return nil
}
