// Package webhookfailures keeps the durable ledger of webhook events that were
// verified but could not be processed, and retries them on a backoff schedule.
package webhookfailures

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/angelmondragon/marketsplit-backend/pkg/db"
	"github.com/angelmondragon/marketsplit-backend/pkg/db/models"
	dbtypes "github.com/angelmondragon/marketsplit-backend/pkg/db/types"
	"github.com/angelmondragon/marketsplit-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketsplit-backend/pkg/errors"
	"github.com/angelmondragon/marketsplit-backend/pkg/logger"
	"github.com/angelmondragon/marketsplit-backend/pkg/metrics"
	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"go.uber.org/multierr"
)

const (
	defaultMaxRetries = 5
	defaultBaseDelay  = time.Minute
	defaultMaxDelay   = 6 * time.Hour
	defaultBatchSize  = 25
	defaultListLimit  = 50
	maxListLimit      = 200
	maxReasonLength   = 2000
)

// RecordInput describes one failed webhook delivery.
type RecordInput struct {
	Provider  string
	EventType string
	EventID   string
	Payload   []byte
	Reason    string
	Stack     string
	SourceIP  string
	Metadata  map[string]any
}

// Reprocessor re-runs the processing steps for a stored event.
type Reprocessor interface {
	Reprocess(ctx context.Context, failure *models.WebhookFailure) error
}

// RetryReport summarizes one retry cycle.
type RetryReport struct {
	Selected  int
	Resolved  int
	Retried   int
	Exhausted int
}

type Service interface {
	Record(ctx context.Context, input RecordInput) (*models.WebhookFailure, error)
	Get(ctx context.Context, id uuid.UUID) (*models.WebhookFailure, error)
	List(ctx context.Context, status string, limit int) ([]models.WebhookFailure, error)
	SelectDue(ctx context.Context) ([]models.WebhookFailure, error)
	Replay(ctx context.Context, id uuid.UUID, proc Reprocessor) (*models.WebhookFailure, error)
	RetryDue(ctx context.Context, proc Reprocessor) (RetryReport, error)
}

type ServiceParams struct {
	Repo       Repository
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	BatchSize  int
	Metrics    *metrics.SettlementMetrics
	Logger     *logger.Logger
}

type service struct {
	repo       Repository
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	batchSize  int
	metrics    *metrics.SettlementMetrics
	logg       *logger.Logger
	now        func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "webhook failure repository required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	svc := &service{
		repo:       params.Repo,
		maxRetries: params.MaxRetries,
		baseDelay:  params.BaseDelay,
		maxDelay:   params.MaxDelay,
		batchSize:  params.BatchSize,
		metrics:    params.Metrics,
		logg:       params.Logger,
		now:        time.Now,
	}
	if svc.maxRetries <= 0 {
		svc.maxRetries = defaultMaxRetries
	}
	if svc.baseDelay <= 0 {
		svc.baseDelay = defaultBaseDelay
	}
	if svc.maxDelay <= 0 {
		svc.maxDelay = defaultMaxDelay
	}
	if svc.batchSize <= 0 {
		svc.batchSize = defaultBatchSize
	}
	return svc, nil
}

func (s *service) Record(ctx context.Context, input RecordInput) (*models.WebhookFailure, error) {
	provider := strings.TrimSpace(input.Provider)
	eventID := strings.TrimSpace(input.EventID)
	if provider == "" || eventID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "provider and event id are required")
	}
	payload := input.Payload
	if len(payload) == 0 || !json.Valid(payload) {
		wrapped, err := json.Marshal(map[string]string{"raw": string(payload)})
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode payload")
		}
		payload = wrapped
	}

	now := s.now().UTC()
	failure := &models.WebhookFailure{
		Provider:      provider,
		EventType:     strings.TrimSpace(input.EventType),
		EventID:       eventID,
		Payload:       dbtypes.JSON(payload),
		FailureReason: truncate(input.Reason),
		Status:        enums.WebhookFailureFailed,
		NextRetryAt:   now.Add(s.retryDelay(0)),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if failure.FailureReason == "" {
		failure.FailureReason = "unknown failure"
	}
	if input.Stack != "" {
		stack := input.Stack
		failure.StackTrace = &stack
	}
	if ip := strings.TrimSpace(input.SourceIP); ip != "" {
		failure.SourceIP = &ip
	}
	if len(input.Metadata) > 0 {
		meta, err := json.Marshal(input.Metadata)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode metadata")
		}
		failure.Metadata = dbtypes.JSON(meta)
	}

	stored, err := s.repo.Upsert(ctx, failure)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record webhook failure")
	}
	if stored.DeliveryCount > 1 {
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
			"event_id":       stored.EventID,
			"delivery_count": stored.DeliveryCount,
		}), "webhook event failed again")
	}
	return stored, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.WebhookFailure, error) {
	failure, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "webhook failure not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load webhook failure")
	}
	return failure, nil
}

func (s *service) List(ctx context.Context, status string, limit int) ([]models.WebhookFailure, error) {
	var filter *enums.WebhookFailureStatus
	if status = strings.TrimSpace(status); status != "" {
		parsed, err := enums.ParseWebhookFailureStatus(status)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status filter")
		}
		filter = &parsed
	}
	switch {
	case limit <= 0:
		limit = defaultListLimit
	case limit > maxListLimit:
		limit = maxListLimit
	}
	rows, err := s.repo.List(ctx, filter, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list webhook failures")
	}
	return rows, nil
}

// SelectDue returns the failures whose backoff has elapsed.
func (s *service) SelectDue(ctx context.Context) ([]models.WebhookFailure, error) {
	rows, err := s.repo.ListDue(ctx, s.maxRetries, s.now().UTC(), s.batchSize)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list due webhook failures")
	}
	return rows, nil
}

// retryDelay is the wait before the next attempt of a failure already retried
// retryCount times: base, 2*base, 4*base and so on, capped at maxDelay.
func (s *service) retryDelay(retryCount int) time.Duration {
	backoff := retry.WithCappedDuration(s.maxDelay, retry.NewExponential(s.baseDelay))
	delay := s.baseDelay
	for i := 0; i <= retryCount; i++ {
		next, stop := backoff.Next()
		if stop {
			return s.maxDelay
		}
		delay = next
	}
	return delay
}

// Replay reprocesses one failure immediately, ignoring its backoff. The
// returned row reflects the outcome.
func (s *service) Replay(ctx context.Context, id uuid.UUID, proc Reprocessor) (*models.WebhookFailure, error) {
	failure, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if failure.Status == enums.WebhookFailureResolved {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "webhook failure already resolved")
	}
	if _, err := s.attempt(ctx, failure, proc); err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

func (s *service) RetryDue(ctx context.Context, proc Reprocessor) (RetryReport, error) {
	var report RetryReport
	due, err := s.SelectDue(ctx)
	if err != nil {
		return report, err
	}
	report.Selected = len(due)

	var errs error
	for i := range due {
		if ctx.Err() != nil {
			errs = multierr.Append(errs, ctx.Err())
			break
		}
		outcome, err := s.attempt(ctx, &due[i], proc)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		switch outcome {
		case enums.WebhookFailureResolved:
			report.Resolved++
		case enums.WebhookFailureRetrying:
			report.Retried++
		default:
			report.Exhausted++
		}
	}
	return report, errs
}

// attempt runs the reprocessor once and books the outcome. Only bookkeeping
// errors are returned; a failed reprocess is recorded on the row.
func (s *service) attempt(ctx context.Context, failure *models.WebhookFailure, proc Reprocessor) (enums.WebhookFailureStatus, error) {
	ctx = s.logg.WithFields(ctx, map[string]any{
		"webhook_failure_id": failure.ID.String(),
		"event_id":           failure.EventID,
		"event_type":         failure.EventType,
	})

	procErr := proc.Reprocess(ctx, failure)
	now := s.now().UTC()
	if procErr == nil {
		if _, err := s.repo.MarkResolved(ctx, failure.ID, now); err != nil {
			return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark webhook failure resolved")
		}
		s.metrics.WebhookRetry("resolved")
		s.logg.Info(ctx, "webhook failure resolved")
		return enums.WebhookFailureResolved, nil
	}

	status := enums.WebhookFailureRetrying
	if failure.RetryCount+1 >= s.maxRetries {
		status = enums.WebhookFailureFailed
	}
	next := now.Add(s.retryDelay(failure.RetryCount + 1))
	if _, err := s.repo.MarkRetried(ctx, failure.ID, status, truncate(procErr.Error()), now, next); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark webhook failure retried")
	}
	if status == enums.WebhookFailureFailed {
		s.metrics.WebhookRetry("exhausted")
		s.logg.Error(ctx, "webhook failure reached retry ceiling", procErr)
	} else {
		s.metrics.WebhookRetry("failed")
		s.logg.Warn(ctx, "webhook failure retry failed: "+procErr.Error())
	}
	return status, nil
}

func truncate(reason string) string {
	reason = strings.TrimSpace(reason)
	if len(reason) > maxReasonLength {
		return reason[:maxReasonLength]
	}
	return reason
}
