package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/marketsplit-backend/internal/webhookfailures"
	"github.com/angelmondragon/marketsplit-backend/pkg/logger"
)

type failureRetrier interface {
	RetryDue(ctx context.Context, proc webhookfailures.Reprocessor) (webhookfailures.RetryReport, error)
}

// WebhookRetryJobParams configure the webhook failure retry job.
type WebhookRetryJobParams struct {
	Logger      *logger.Logger
	Failures    failureRetrier
	Reprocessor webhookfailures.Reprocessor
}

// NewWebhookRetryJob builds the job that replays failed webhook deliveries
// once their backoff has elapsed.
func NewWebhookRetryJob(params WebhookRetryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Failures == nil {
		return nil, fmt.Errorf("webhook failure service required")
	}
	if params.Reprocessor == nil {
		return nil, fmt.Errorf("webhook reprocessor required")
	}
	return &webhookRetryJob{
		logg:     params.Logger,
		failures: params.Failures,
		proc:     params.Reprocessor,
	}, nil
}

type webhookRetryJob struct {
	logg     *logger.Logger
	failures failureRetrier
	proc     webhookfailures.Reprocessor
}

func (j *webhookRetryJob) Name() string { return "webhook-failure-retry" }

func (j *webhookRetryJob) Run(ctx context.Context) error {
	report, err := j.failures.RetryDue(ctx, j.proc)
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"selected":  report.Selected,
		"resolved":  report.Resolved,
		"retried":   report.Retried,
		"exhausted": report.Exhausted,
	})
	if err != nil {
		return fmt.Errorf("retry webhook failures: %w", err)
	}
	if report.Exhausted > 0 {
		j.logg.Warn(logCtx, "webhook failures reached the retry ceiling")
	}
	j.logg.Info(logCtx, "webhook failure retry complete")
	return nil
}
