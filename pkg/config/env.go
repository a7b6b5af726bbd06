package config

const (
	EnvPrefix = "MARKETSPLIT"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	EnvAppEnv         = "MARKETSPLIT_APP_ENV"
	EnvPort           = "MARKETSPLIT_APP_PORT"
	EnvDBDSN          = "MARKETSPLIT_DB_DSN"
	EnvDBHost         = "MARKETSPLIT_DB_HOST"
	EnvDBUser         = "MARKETSPLIT_DB_USER"
	EnvDBName         = "MARKETSPLIT_DB_NAME"
	EnvRedisURL       = "MARKETSPLIT_REDIS_URL"
	EnvJWTSecret      = "MARKETSPLIT_JWT_SECRET"
	EnvInternalSecret = "MARKETSPLIT_INTERNAL_SECRET"
	EnvCommissionRate = "MARKETSPLIT_COMMISSION_RATE"
	EnvShippingRates  = "MARKETSPLIT_SHIPPING_RATES"
	EnvUseSQLite      = "MARKETSPLIT_USE_SQLITE"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
