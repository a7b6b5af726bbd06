package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Internal     InternalAuthConfig
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Stripe       StripeConfig
	Catalog      CatalogConfig
	OrderService OrderServiceConfig
	Cart         CartConfig
	Checkout     CheckoutConfig
	Shipping     ShippingConfig
	Transfers    TransferConfig
	WebhookRetry WebhookRetryConfig
	Cron         CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(cfg.FeatureFlags.UseSQLite); err != nil {
		return nil, err
	}
	if err := cfg.Checkout.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"MARKETSPLIT_APP_ENV" required:"true"`
	Port         string `envconfig:"MARKETSPLIT_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"MARKETSPLIT_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"MARKETSPLIT_LOG_WARN_STACK" default:"false"`

	// CORSOrigins lists storefront origins allowed to call the buyer API.
	CORSOrigins []string `envconfig:"MARKETSPLIT_CORS_ORIGINS"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"MARKETSPLIT_SERVICE_KIND" default:"order-service"`
}

type DBConfig struct {
	DSN    string `envconfig:"MARKETSPLIT_DB_DSN"`
	Driver string `envconfig:"MARKETSPLIT_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"MARKETSPLIT_DB_HOST"`
	LegacyPort     int    `envconfig:"MARKETSPLIT_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"MARKETSPLIT_DB_USER"`
	LegacyPassword string `envconfig:"MARKETSPLIT_DB_PASSWORD"`
	LegacyName     string `envconfig:"MARKETSPLIT_DB_NAME"`
	LegacySSLMode  string `envconfig:"MARKETSPLIT_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"MARKETSPLIT_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"MARKETSPLIT_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"MARKETSPLIT_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"MARKETSPLIT_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"MARKETSPLIT_REDIS_URL" required:"true"`
	Address      string        `envconfig:"MARKETSPLIT_REDIS_ADDR"`
	Password     string        `envconfig:"MARKETSPLIT_REDIS_PASSWORD"`
	DB           int           `envconfig:"MARKETSPLIT_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"MARKETSPLIT_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"MARKETSPLIT_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"MARKETSPLIT_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"MARKETSPLIT_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"MARKETSPLIT_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// JWTConfig covers end-user access tokens issued by the auth service.
type JWTConfig struct {
	Secret string `envconfig:"MARKETSPLIT_JWT_SECRET" required:"true"`
	Issuer string `envconfig:"MARKETSPLIT_JWT_ISSUER" default:"marketsplit-auth"`
}

// InternalAuthConfig covers service-to-service credentials.
type InternalAuthConfig struct {
	Secret      string        `envconfig:"MARKETSPLIT_INTERNAL_SECRET"`
	ServiceName string        `envconfig:"MARKETSPLIT_INTERNAL_SERVICE_NAME"`
	TokenTTL    time.Duration `envconfig:"MARKETSPLIT_INTERNAL_TOKEN_TTL" default:"60s"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"MARKETSPLIT_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"MARKETSPLIT_AUTO_MIGRATE" default:"false"`
}

type EventingConfig struct {
	OutboxIdempotencyTTL  time.Duration `envconfig:"MARKETSPLIT_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
	WebhookIdempotencyTTL time.Duration `envconfig:"MARKETSPLIT_WEBHOOK_IDEMPOTENCY_TTL" default:"72h"`
}

type GCPConfig struct {
	ProjectID       string `envconfig:"MARKETSPLIT_GCP_PROJECT_ID"`
	CredentialsJSON string `envconfig:"MARKETSPLIT_GCP_CREDENTIALS_JSON"`
}

type PubSubConfig struct {
	OrdersTopic        string `envconfig:"MARKETSPLIT_PUBSUB_ORDERS_TOPIC" default:"ms-order-events"`
	OrdersSubscription string `envconfig:"MARKETSPLIT_PUBSUB_ORDERS_SUBSCRIPTION" default:"ms-order-events-settlement"`
}

type OutboxConfig struct {
	BatchSize      int           `envconfig:"MARKETSPLIT_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int           `envconfig:"MARKETSPLIT_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int           `envconfig:"MARKETSPLIT_OUTBOX_MAX_ATTEMPTS" default:"10"`
	Retention      time.Duration `envconfig:"MARKETSPLIT_OUTBOX_RETENTION" default:"720h"`
}

type StripeConfig struct {
	APIKey        string        `envconfig:"MARKETSPLIT_STRIPE_API_KEY"`
	WebhookSecret string        `envconfig:"MARKETSPLIT_STRIPE_WEBHOOK_SECRET"`
	Env           string        `envconfig:"MARKETSPLIT_STRIPE_ENV" default:"test"`
	Currency      string        `envconfig:"MARKETSPLIT_STRIPE_CURRENCY" default:"usd"`
	Timeout       time.Duration `envconfig:"MARKETSPLIT_STRIPE_TIMEOUT" default:"10s"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type CatalogConfig struct {
	BaseURL string        `envconfig:"MARKETSPLIT_CATALOG_BASE_URL"`
	Timeout time.Duration `envconfig:"MARKETSPLIT_CATALOG_TIMEOUT" default:"5s"`
}

type OrderServiceConfig struct {
	BaseURL string        `envconfig:"MARKETSPLIT_ORDER_SERVICE_BASE_URL"`
	Timeout time.Duration `envconfig:"MARKETSPLIT_ORDER_SERVICE_TIMEOUT" default:"5s"`
}

type CartConfig struct {
	TTL             time.Duration `envconfig:"MARKETSPLIT_CART_TTL" default:"168h"`
	MaxItemQuantity int           `envconfig:"MARKETSPLIT_CART_MAX_ITEM_QUANTITY" default:"99"`
}

type CheckoutConfig struct {
	// CommissionRate is a percentage in [0, 100].
	CommissionRate  decimal.Decimal `envconfig:"MARKETSPLIT_COMMISSION_RATE" default:"10"`
	PendingOrderTTL time.Duration   `envconfig:"MARKETSPLIT_PENDING_ORDER_TTL" default:"24h"`
}

func (c CheckoutConfig) validate() error {
	if c.CommissionRate.IsNegative() || c.CommissionRate.GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("%s must be between 0 and 100", EnvCommissionRate)
	}
	return nil
}

type ShippingConfig struct {
	Rates         map[string]string `envconfig:"MARKETSPLIT_SHIPPING_RATES" default:"standard:5.00,express:15.00"`
	DefaultMethod string            `envconfig:"MARKETSPLIT_SHIPPING_DEFAULT_METHOD" default:"standard"`
}

type TransferConfig struct {
	Concurrency int           `envconfig:"MARKETSPLIT_TRANSFER_CONCURRENCY" default:"5"`
	Timeout     time.Duration `envconfig:"MARKETSPLIT_TRANSFER_TIMEOUT" default:"15s"`
}

type WebhookRetryConfig struct {
	MaxRetries int           `envconfig:"MARKETSPLIT_WEBHOOK_RETRY_MAX" default:"5"`
	BaseDelay  time.Duration `envconfig:"MARKETSPLIT_WEBHOOK_RETRY_BASE_DELAY" default:"1m"`
	MaxDelay   time.Duration `envconfig:"MARKETSPLIT_WEBHOOK_RETRY_MAX_DELAY" default:"6h"`
	BatchSize  int           `envconfig:"MARKETSPLIT_WEBHOOK_RETRY_BATCH_SIZE" default:"25"`
}

type CronConfig struct {
	Interval time.Duration `envconfig:"MARKETSPLIT_CRON_INTERVAL" default:"1m"`
	LockTTL  time.Duration `envconfig:"MARKETSPLIT_CRON_LOCK_TTL" default:"10m"`
}

func (db *DBConfig) ensureDSN(useSQLite bool) error {
	if db.DSN != "" {
		return nil
	}
	if useSQLite {
		db.Driver = DriverSQLite
		db.DSN = "file:marketsplit.db?cache=shared"
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
