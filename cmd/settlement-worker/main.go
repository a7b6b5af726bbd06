package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/marketsplit-backend/internal/consumers/settlement"
	"github.com/angelmondragon/marketsplit-backend/internal/orderclient"
	"github.com/angelmondragon/marketsplit-backend/internal/payments"
	"github.com/angelmondragon/marketsplit-backend/internal/payouts"
	"github.com/angelmondragon/marketsplit-backend/internal/transfers"
	"github.com/angelmondragon/marketsplit-backend/pkg/auth"
	"github.com/angelmondragon/marketsplit-backend/pkg/config"
	"github.com/angelmondragon/marketsplit-backend/pkg/db"
	"github.com/angelmondragon/marketsplit-backend/pkg/instance"
	"github.com/angelmondragon/marketsplit-backend/pkg/logger"
	"github.com/angelmondragon/marketsplit-backend/pkg/metrics"
	"github.com/angelmondragon/marketsplit-backend/pkg/migrate"
	"github.com/angelmondragon/marketsplit-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/marketsplit-backend/pkg/pubsub"
	"github.com/angelmondragon/marketsplit-backend/pkg/redis"
	"github.com/angelmondragon/marketsplit-backend/pkg/stripe"
)

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "settlement-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(ctx, ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	cfg.Service.Kind = "settlement-worker"

	logg = logger.New(logger.Options{
		ServiceName: "settlement-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	requireResource(ctx, logg, "database", err)
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(ctx, "error closing database", err)
		}
	}()

	requireResource(ctx, logg, "dev migrations", migrate.MaybeRunDev(ctx, cfg, logg, dbClient))

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	requireResource(ctx, logg, "redis", err)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(ctx, "error closing redis", err)
		}
	}()

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg, cfg.PubSub.OrdersSubscription)
	requireResource(ctx, logg, "pubsub", err)
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logg.Error(ctx, "error closing pubsub client", err)
		}
	}()

	subscription := pubsubClient.OrdersSubscription()
	if subscription == nil {
		requireResource(ctx, logg, "orders subscription", errors.New("subscription not configured"))
	}

	tokens, err := auth.NewServiceTokens(cfg.Internal)
	requireResource(ctx, logg, "service tokens", err)

	orderClient, err := orderclient.New(cfg.OrderService, tokens)
	requireResource(ctx, logg, "order client", err)

	stripeClient, err := stripe.NewClient(ctx, cfg.Stripe, logg)
	requireResource(ctx, logg, "stripe client", err)

	gateway, err := payments.NewGateway(payments.GatewayParams{
		Stripe:  stripeClient,
		Timeout: cfg.Stripe.Timeout,
	})
	requireResource(ctx, logg, "payment gateway", err)

	settlementMetrics := metrics.NewSettlementMetrics(prometheus.DefaultRegisterer)
	payoutsRepo := payouts.NewRepository(dbClient.DB())

	executor, err := transfers.NewExecutor(transfers.ExecutorParams{
		Gateway:     gateway,
		Payouts:     payoutsRepo,
		Concurrency: cfg.Transfers.Concurrency,
		Timeout:     cfg.Transfers.Timeout,
		Metrics:     settlementMetrics,
		Logger:      logg,
	})
	requireResource(ctx, logg, "transfer executor", err)

	settler, err := transfers.NewSettler(transfers.SettlerParams{
		Orders:   orderClient,
		Payouts:  payoutsRepo,
		Executor: executor,
		Logger:   logg,
	})
	requireResource(ctx, logg, "settler", err)

	manager, err := idempotency.NewManager(redisClient, cfg.Eventing.OutboxIdempotencyTTL)
	requireResource(ctx, logg, "idempotency manager", err)

	consumer, err := settlement.NewConsumer(settler, manager, logg)
	requireResource(ctx, logg, "settlement consumer", err)

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	runCtx = logg.WithFields(runCtx, map[string]any{
		"env":          cfg.App.Env,
		"serviceKind":  cfg.Service.Kind,
		"instance":     instance.GetID(),
		"subscription": cfg.PubSub.OrdersSubscription,
	})
	logg.Info(runCtx, "settlement worker ready")

	if err := consumer.Run(runCtx, subscription); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(runCtx, "settlement worker failed", err)
		os.Exit(1)
	}
	logg.Info(runCtx, "settlement worker shutting down gracefully")
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
