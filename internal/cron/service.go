package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/marketsplit-backend/pkg/logger"
	"github.com/angelmondragon/marketsplit-backend/pkg/metrics"
)

const defaultInterval = time.Minute

// ServiceParams configure the cron service.
type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Lock     Lock
	Metrics  *metrics.CronJobMetrics
	// Interval is the tick; each job runs on the first tick after its own
	// cadence has elapsed.
	Interval time.Duration
}

// Service executes registered cron jobs, each under its own distributed lock.
type Service struct {
	logg     *logger.Logger
	registry *Registry
	lock     Lock
	metrics  *metrics.CronJobMetrics
	interval time.Duration
	now      func() time.Time
	lastRun  map[string]time.Time
}

// NewService builds a cron service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Lock == nil {
		return nil, fmt.Errorf("lock required")
	}
	registry := params.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	interval := params.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Service{
		logg:     params.Logger,
		registry: registry,
		lock:     params.Lock,
		metrics:  params.Metrics,
		interval: interval,
		now:      time.Now,
		lastRun:  map[string]time.Time{},
	}, nil
}

// Run ticks until the context is canceled.
func (s *Service) Run(ctx context.Context) error {
	s.tick(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "cron service context canceled")
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs every job that is due. A failing job never stops the others.
func (s *Service) tick(ctx context.Context) {
	now := s.now()
	for _, entry := range s.registry.Entries() {
		name := entry.Job.Name()
		if last, ok := s.lastRun[name]; ok && entry.Every > 0 && now.Sub(last) < entry.Every {
			continue
		}
		ran, err := s.runJob(ctx, entry.Job)
		if err != nil {
			s.logg.Error(s.logg.WithField(ctx, "job", name), "scheduled job failed", err)
		}
		if ran {
			s.lastRun[name] = now
		}
	}
}

func (s *Service) runJob(ctx context.Context, job Job) (bool, error) {
	name := job.Name()
	jobCtx := s.logg.WithFields(ctx, map[string]any{"job": name, "event": "cron.job"})

	locked, err := s.lock.Acquire(jobCtx, name)
	if err != nil {
		return false, fmt.Errorf("lock acquire: %w", err)
	}
	if !locked {
		s.logg.Info(jobCtx, "job running on another instance; skipping")
		s.metrics.IncSkipped(name)
		return false, nil
	}
	defer func() {
		if relErr := s.lock.Release(context.WithoutCancel(jobCtx), name); relErr != nil {
			s.logg.Error(jobCtx, "failed to release cron lock", relErr)
		}
	}()

	s.logg.Info(jobCtx, "job start")
	start := time.Now()
	err = job.Run(jobCtx)
	duration := time.Since(start)
	s.metrics.ObserveDuration(name, duration)
	jobCtx = s.logg.WithField(jobCtx, "duration_ms", duration.Milliseconds())
	if err != nil {
		s.metrics.IncFailure(name)
		return true, err
	}
	s.logg.Info(jobCtx, "job completed")
	s.metrics.IncSuccess(name)
	return true, nil
}
