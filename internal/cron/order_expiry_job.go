package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/marketsplit-backend/pkg/logger"
)

const defaultPendingOrderTTL = 24 * time.Hour

type pendingOrderExpirer interface {
	ExpireStalePending(ctx context.Context, olderThan time.Duration) (int, error)
}

// OrderExpiryJobParams configure the pending order expiry job.
type OrderExpiryJobParams struct {
	Logger *logger.Logger
	Orders pendingOrderExpirer
	TTL    time.Duration
}

// NewOrderExpiryJob builds the job that cancels orders whose payment never
// arrived, releasing their inventory and payment intent.
func NewOrderExpiryJob(params OrderExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("order service required")
	}
	ttl := params.TTL
	if ttl <= 0 {
		ttl = defaultPendingOrderTTL
	}
	return &orderExpiryJob{logg: params.Logger, orders: params.Orders, ttl: ttl}, nil
}

type orderExpiryJob struct {
	logg   *logger.Logger
	orders pendingOrderExpirer
	ttl    time.Duration
}

func (j *orderExpiryJob) Name() string { return "pending-order-expiry" }

func (j *orderExpiryJob) Run(ctx context.Context) error {
	expired, err := j.orders.ExpireStalePending(ctx, j.ttl)
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"expired": expired,
		"ttl":     j.ttl.String(),
	})
	if err != nil {
		return fmt.Errorf("expire pending orders: %w", err)
	}
	j.logg.Info(logCtx, "pending order expiry complete")
	return nil
}
