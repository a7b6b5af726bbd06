package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/marketsplit-backend/api/controllers"
	cartcontrollers "github.com/angelmondragon/marketsplit-backend/api/controllers/cart"
	ordercontrollers "github.com/angelmondragon/marketsplit-backend/api/controllers/orders"
	webhookcontrollers "github.com/angelmondragon/marketsplit-backend/api/controllers/webhooks"
	"github.com/angelmondragon/marketsplit-backend/api/middleware"
	"github.com/angelmondragon/marketsplit-backend/internal/cart"
	checkoutsvc "github.com/angelmondragon/marketsplit-backend/internal/checkout"
	"github.com/angelmondragon/marketsplit-backend/internal/orders"
	"github.com/angelmondragon/marketsplit-backend/internal/payouts"
	"github.com/angelmondragon/marketsplit-backend/internal/webhookfailures"
	pkgAuth "github.com/angelmondragon/marketsplit-backend/pkg/auth"
	"github.com/angelmondragon/marketsplit-backend/pkg/config"
	"github.com/angelmondragon/marketsplit-backend/pkg/enums"
	"github.com/angelmondragon/marketsplit-backend/pkg/logger"
	"github.com/angelmondragon/marketsplit-backend/pkg/redis"
)

// OrderRouterParams wires the buyer, vendor and internal surfaces of the
// order service.
type OrderRouterParams struct {
	Config        *config.Config
	Logger        *logger.Logger
	Readiness     map[string]controllers.Pinger
	Gatherer      prometheus.Gatherer
	Idempotency   redis.IdempotencyStore
	ServiceTokens *pkgAuth.ServiceTokens
	Cart          cart.Service
	Checkout      checkoutsvc.Service
	Orders        orders.Service
}

// PaymentRouterParams wires the webhook, payout and ledger surfaces of the
// payment service.
type PaymentRouterParams struct {
	Config          *config.Config
	Logger          *logger.Logger
	Readiness       map[string]controllers.Pinger
	Gatherer        prometheus.Gatherer
	Idempotency     redis.IdempotencyStore
	StripeVerifier  stripeVerifier
	StripeWebhooks  webhookcontrollers.StripeWebhookService
	Reprocessor     webhookfailures.Reprocessor
	Payouts         payouts.Service
	WebhookFailures webhookfailures.Service
}

type stripeVerifier interface {
	ConstructEvent(payload []byte, signature string) (stripe.Event, error)
}

func NewOrderRouter(p OrderRouterParams) http.Handler {
	cfg, logg := p.Config, p.Logger
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)
	mountOps(r, cfg, logg, p.Readiness, p.Gatherer)

	idem := middleware.Idempotency(p.Idempotency, logg)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.RoleBuyer))

			r.Route("/cart", func(r chi.Router) {
				r.Get("/", cartcontrollers.Get(p.Cart, logg))
				r.Delete("/", cartcontrollers.Clear(p.Cart, logg))
				r.With(idem).Post("/items", cartcontrollers.AddItem(p.Cart, logg))
				r.Patch("/items/{productId}", cartcontrollers.UpdateQuantity(p.Cart, logg))
				r.Delete("/items/{productId}", cartcontrollers.RemoveItem(p.Cart, logg))
				r.Put("/vendors/{vendorId}/shipping", cartcontrollers.SetShipping(p.Cart, logg))
			})

			r.With(idem).Post("/checkout", controllers.Checkout(p.Checkout, logg))

			r.Route("/orders/{orderId}", func(r chi.Router) {
				r.Get("/", ordercontrollers.Detail(p.Orders, logg))
				r.With(idem).Post("/cancel", ordercontrollers.Cancel(p.Orders, logg))
			})
		})

		r.Route("/vendor", func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.RoleVendor))
			r.Use(middleware.RequireVendor(logg))
			r.Patch("/sub-orders/{subOrderId}/status", ordercontrollers.UpdateSubOrderStatus(p.Orders, logg))
		})
	})

	tokens := serviceVerifier(p.ServiceTokens)
	r.Route("/internal/orders/{orderId}", func(r chi.Router) {
		r.With(middleware.RequireServiceScope(tokens, pkgAuth.AudienceOrderService, pkgAuth.ScopeOrdersVerify, logg)).
			Get("/verify", ordercontrollers.Verify(p.Orders, logg))
		r.With(middleware.RequireServiceScope(tokens, pkgAuth.AudienceOrderService, pkgAuth.ScopeOrdersConfirm, logg)).
			Post("/confirm-payment", ordercontrollers.ConfirmPayment(p.Orders, logg))
		r.With(middleware.RequireServiceScope(tokens, pkgAuth.AudienceOrderService, pkgAuth.ScopeOrdersSettlement, logg)).
			Get("/settlement", ordercontrollers.Settlement(p.Orders, logg))
	})

	return r
}

func NewPaymentRouter(p PaymentRouterParams) http.Handler {
	cfg, logg := p.Config, p.Logger
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)
	mountOps(r, cfg, logg, p.Readiness, p.Gatherer)

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/stripe", webhookcontrollers.StripeWebhook(p.StripeWebhooks, p.StripeVerifier, logg))
	})

	r.Route("/api/v1/vendor", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireRole(logg, enums.RoleVendor))
		r.Use(middleware.RequireVendor(logg))
		r.Get("/payouts", controllers.VendorPayouts(p.Payouts, logg))
		r.Get("/payouts/earnings", controllers.VendorEarnings(p.Payouts, logg))
	})

	idem := middleware.Idempotency(p.Idempotency, logg)

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireRole(logg, enums.RoleAdmin))

		r.Get("/vendors/{vendorId}/payouts", controllers.AdminVendorPayouts(p.Payouts, logg))
		r.Get("/vendors/{vendorId}/earnings", controllers.AdminVendorEarnings(p.Payouts, logg))

		r.Route("/webhook-failures", func(r chi.Router) {
			r.Get("/", controllers.AdminWebhookFailures(p.WebhookFailures, logg))
			r.Get("/{failureId}", controllers.AdminWebhookFailure(p.WebhookFailures, logg))
			r.With(idem).Post("/{failureId}/replay", controllers.AdminReplayWebhookFailure(p.WebhookFailures, p.Reprocessor, logg))
		})
	})

	return r
}

func mountOps(r chi.Router, cfg *config.Config, logg *logger.Logger, readiness map[string]controllers.Pinger, gatherer prometheus.Gatherer) {
	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, readiness))
	})
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
}

// serviceVerifier keeps a nil *ServiceTokens from becoming a non-nil
// interface value.
func serviceVerifier(tokens *pkgAuth.ServiceTokens) interface {
	Verify(tokenString, audience string, scope pkgAuth.Scope) (*pkgAuth.ServiceClaims, error)
} {
	if tokens == nil {
		return nil
	}
	return tokens
}
