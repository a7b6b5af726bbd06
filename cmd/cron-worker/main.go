package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/marketsplit-backend/internal/catalog"
	"github.com/angelmondragon/marketsplit-backend/internal/cron"
	"github.com/angelmondragon/marketsplit-backend/internal/orderclient"
	"github.com/angelmondragon/marketsplit-backend/internal/orders"
	"github.com/angelmondragon/marketsplit-backend/internal/payments"
	"github.com/angelmondragon/marketsplit-backend/internal/payouts"
	"github.com/angelmondragon/marketsplit-backend/internal/webhookfailures"
	stripewebhook "github.com/angelmondragon/marketsplit-backend/internal/webhooks/stripe"
	"github.com/angelmondragon/marketsplit-backend/pkg/auth"
	"github.com/angelmondragon/marketsplit-backend/pkg/config"
	"github.com/angelmondragon/marketsplit-backend/pkg/db"
	"github.com/angelmondragon/marketsplit-backend/pkg/instance"
	"github.com/angelmondragon/marketsplit-backend/pkg/logger"
	"github.com/angelmondragon/marketsplit-backend/pkg/metrics"
	"github.com/angelmondragon/marketsplit-backend/pkg/migrate"
	"github.com/angelmondragon/marketsplit-backend/pkg/outbox"
	"github.com/angelmondragon/marketsplit-backend/pkg/redis"
	pkgstripe "github.com/angelmondragon/marketsplit-backend/pkg/stripe"
)

const (
	webhookRetryEvery    = time.Minute
	orderExpiryEvery     = 15 * time.Minute
	outboxRetentionEvery = 6 * time.Hour
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	tokens, err := auth.NewServiceTokens(cfg.Internal)
	if err != nil {
		logg.Error(context.Background(), "failed to create service tokens", err)
		os.Exit(1)
	}
	catalogClient, err := catalog.NewClient(cfg.Catalog, tokens)
	if err != nil {
		logg.Error(context.Background(), "failed to create catalog client", err)
		os.Exit(1)
	}
	orderClient, err := orderclient.New(cfg.OrderService, tokens)
	if err != nil {
		logg.Error(context.Background(), "failed to create order client", err)
		os.Exit(1)
	}

	stripeClient, err := pkgstripe.NewClient(context.Background(), cfg.Stripe, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create stripe client", err)
		os.Exit(1)
	}
	gateway, err := payments.NewGateway(payments.GatewayParams{
		Stripe:  stripeClient,
		Timeout: cfg.Stripe.Timeout,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create payment gateway", err)
		os.Exit(1)
	}

	settlementMetrics := metrics.NewSettlementMetrics(prometheus.DefaultRegisterer)
	cronMetrics := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)

	outboxRepo := outbox.NewRepository(dbClient.DB())
	ordersService, err := orders.NewService(
		orders.NewRepository(dbClient.DB()),
		dbClient,
		outbox.NewService(outboxRepo, logg),
		gateway,
		catalogClient,
		logg,
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create orders service", err)
		os.Exit(1)
	}

	failures, err := webhookfailures.NewService(webhookfailures.ServiceParams{
		Repo:       webhookfailures.NewRepository(dbClient.DB()),
		MaxRetries: cfg.WebhookRetry.MaxRetries,
		BaseDelay:  cfg.WebhookRetry.BaseDelay,
		MaxDelay:   cfg.WebhookRetry.MaxDelay,
		BatchSize:  cfg.WebhookRetry.BatchSize,
		Metrics:    settlementMetrics,
		Logger:     logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook failure ledger", err)
		os.Exit(1)
	}
	guard, err := stripewebhook.NewDeliveryGuard(redisClient, cfg.Eventing.WebhookIdempotencyTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook delivery guard", err)
		os.Exit(1)
	}
	webhookService, err := stripewebhook.NewService(stripewebhook.ServiceParams{
		Orders:   orderClient,
		Payouts:  payouts.NewRepository(dbClient.DB()),
		Failures: failures,
		Guard:    guard,
		Metrics:  settlementMetrics,
		Logger:   logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create stripe webhook service", err)
		os.Exit(1)
	}

	webhookRetryJob, err := cron.NewWebhookRetryJob(cron.WebhookRetryJobParams{
		Logger:      logg,
		Failures:    failures,
		Reprocessor: webhookService,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook retry job", err)
		os.Exit(1)
	}
	orderExpiryJob, err := cron.NewOrderExpiryJob(cron.OrderExpiryJobParams{
		Logger: logg,
		Orders: ordersService,
		TTL:    cfg.Checkout.PendingOrderTTL,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create order expiry job", err)
		os.Exit(1)
	}
	outboxRetentionJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		DB:         dbClient,
		Repository: outboxRepo,
		Retention:  cfg.Outbox.Retention,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create outbox retention job", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient, cfg.Cron.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	registry := cron.NewRegistry()
	registry.Register(webhookRetryJob, webhookRetryEvery)
	registry.Register(orderExpiryJob, orderExpiryEvery)
	registry.Register(outboxRetentionJob, outboxRetentionEvery)

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  cronMetrics,
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"instance":    instance.GetID(),
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}
