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
	"github.com/angelmondragon/marketsplit-backend/internal/cart"
	"github.com/angelmondragon/marketsplit-backend/internal/catalog"
	"github.com/angelmondragon/marketsplit-backend/internal/checkout"
	"github.com/angelmondragon/marketsplit-backend/internal/orders"
	"github.com/angelmondragon/marketsplit-backend/internal/payments"
	"github.com/angelmondragon/marketsplit-backend/pkg/auth"
	"github.com/angelmondragon/marketsplit-backend/pkg/config"
	"github.com/angelmondragon/marketsplit-backend/pkg/db"
	"github.com/angelmondragon/marketsplit-backend/pkg/instance"
	"github.com/angelmondragon/marketsplit-backend/pkg/logger"
	"github.com/angelmondragon/marketsplit-backend/pkg/migrate"
	"github.com/angelmondragon/marketsplit-backend/pkg/outbox"
	"github.com/angelmondragon/marketsplit-backend/pkg/redis"
	"github.com/angelmondragon/marketsplit-backend/pkg/stripe"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "order-service"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "order-service"

	logg = logger.New(logger.Options{
		ServiceName: "order-service",
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

	stripeClient, err := stripe.NewClient(context.Background(), cfg.Stripe, logg)
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

	quoter, err := cart.NewFlatRateQuoter(cfg.Shipping)
	if err != nil {
		logg.Error(context.Background(), "failed to build shipping quoter", err)
		os.Exit(1)
	}

	cartService, err := cart.NewService(redisClient, catalogClient, quoter, cfg.Cart)
	if err != nil {
		logg.Error(context.Background(), "failed to create cart service", err)
		os.Exit(1)
	}

	outboxRepo := outbox.NewRepository(dbClient.DB())
	outboxService := outbox.NewService(outboxRepo, logg)
	ordersRepo := orders.NewRepository(dbClient.DB())

	ordersService, err := orders.NewService(ordersRepo, dbClient, outboxService, gateway, catalogClient, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create orders service", err)
		os.Exit(1)
	}

	checkoutService, err := checkout.NewService(checkout.ServiceParams{
		Carts:          cartService,
		Inventory:      catalogClient,
		Payments:       gateway,
		Orders:         ordersRepo,
		Tx:             dbClient,
		Outbox:         outboxService,
		OutboxPurger:   outboxRepo,
		CommissionRate: cfg.Checkout.CommissionRate,
		Currency:       cfg.Stripe.Currency,
		Logger:         logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create checkout service", err)
		os.Exit(1)
	}

	router := routes.NewOrderRouter(routes.OrderRouterParams{
		Config: cfg,
		Logger: logg,
		Readiness: map[string]controllers.Pinger{
			"database": dbClient,
			"redis":    redisClient,
		},
		Gatherer:      prometheus.DefaultGatherer,
		Idempotency:   redisClient,
		ServiceTokens: tokens,
		Cart:          cartService,
		Checkout:      checkoutService,
		Orders:        ordersService,
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
	})
	logg.Info(ctx, "starting order service")

	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := serve(ctx, server); err != nil {
		logg.Error(ctx, "order service stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "order service shutting down gracefully")
}

func serve(ctx context.Context, server *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
