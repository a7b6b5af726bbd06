package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/marketsplit-backend/api/controllers"
	"github.com/angelmondragon/marketsplit-backend/api/routes"
	"github.com/angelmondragon/marketsplit-backend/internal/orderclient"
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
	"github.com/angelmondragon/marketsplit-backend/pkg/redis"
	pkgstripe "github.com/angelmondragon/marketsplit-backend/pkg/stripe"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "payment-service"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "payment-service"

	logg = logger.New(logger.Options{
		ServiceName: "payment-service",
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

	stripeClient, err := pkgstripe.NewClient(context.Background(), cfg.Stripe, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create stripe client", err)
		os.Exit(1)
	}

	tokens, err := auth.NewServiceTokens(cfg.Internal)
	if err != nil {
		logg.Error(context.Background(), "failed to create service tokens", err)
		os.Exit(1)
	}

	orderClient, err := orderclient.New(cfg.OrderService, tokens)
	if err != nil {
		logg.Error(context.Background(), "failed to create order client", err)
		os.Exit(1)
	}

	settlementMetrics := metrics.NewSettlementMetrics(prometheus.DefaultRegisterer)

	payoutsRepo := payouts.NewRepository(dbClient.DB())
	payoutsService, err := payouts.NewService(payoutsRepo)
	if err != nil {
		logg.Error(context.Background(), "failed to create payouts service", err)
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
		Payouts:  payoutsRepo,
		Failures: failures,
		Guard:    guard,
		Metrics:  settlementMetrics,
		Logger:   logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create stripe webhook service", err)
		os.Exit(1)
	}

	router := routes.NewPaymentRouter(routes.PaymentRouterParams{
		Config: cfg,
		Logger: logg,
		Readiness: map[string]controllers.Pinger{
			"database": dbClient,
			"redis":    redisClient,
		},
		Gatherer:        prometheus.DefaultGatherer,
		Idempotency:     redisClient,
		StripeVerifier:  stripeClient,
		StripeWebhooks:  webhookService,
		Reprocessor:     webhookService,
		Payouts:         payoutsService,
		WebhookFailures: failures,
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"addr":        addr,
		"serviceKind": cfg.Service.Kind,
		"instance":    instance.GetID(),
		"stripeEnv":   stripeClient.Environment(),
	})
	logg.Info(ctx, "starting payment service")

	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "payment service stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "payment service shutdown failed", err)
		}
	}

	logg.Info(ctx, "payment service shutting down gracefully")
}
