package config

const (
	EnvPrefix = "PAYCORE"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv   = "PAYCORE_APP_ENV"
	EnvPort     = "PAYCORE_APP_PORT"
	EnvLogLevel = "PAYCORE_LOG_LEVEL"

	EnvDBDSN  = "PAYCORE_DB_DSN"
	EnvDBHost = "PAYCORE_DB_HOST"
	EnvDBUser = "PAYCORE_DB_USER"
	EnvDBName = "PAYCORE_DB_NAME"

	EnvRedisURL = "PAYCORE_REDIS_URL"

	EnvJWTSecret = "PAYCORE_JWT_SECRET"
	EnvJWTIssuer = "PAYCORE_JWT_ISSUER"

	EnvGatewayDealerCode = "PAYCORE_GATEWAY_DEALER_CODE"
	EnvGatewayUsername   = "PAYCORE_GATEWAY_USERNAME"
	EnvGatewayPassword   = "PAYCORE_GATEWAY_PASSWORD"

	EnvPaymentsPayloadKey     = "PAYCORE_PAYMENTS_PAYLOAD_KEY"
	EnvPaymentsReuseWindow    = "PAYCORE_PAYMENTS_REUSE_WINDOW"
	EnvPaymentsReservationTTL = "PAYCORE_PAYMENTS_RESERVATION_TTL"
	EnvPaymentsRateLimit      = "PAYCORE_PAYMENTS_RATE_LIMIT_PER_MINUTE"

	EnvMaintenanceSecret       = "PAYCORE_MAINTENANCE_SECRET"
	EnvReconciliationEnabled   = "PAYCORE_RECONCILIATION_ENABLED"
	EnvReconciliationMaxRecord = "PAYCORE_RECONCILIATION_MAX_RECORDS"
	EnvCORSAllowedOrigins      = "PAYCORE_CORS_ALLOWED_ORIGINS"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
