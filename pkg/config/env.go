package config

const (
	EnvPrefix = "PHARMALINK"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv   = "PHARMALINK_APP_ENV"
	EnvPort     = "PHARMALINK_APP_PORT"
	EnvLogLevel = "PHARMALINK_LOG_LEVEL"

	EnvDBDSN  = "PHARMALINK_DB_DSN"
	EnvDBHost = "PHARMALINK_DB_HOST"
	EnvDBPort = "PHARMALINK_DB_PORT"
	EnvDBUser = "PHARMALINK_DB_USER"
	EnvDBPass = "PHARMALINK_DB_PASSWORD"
	EnvDBName = "PHARMALINK_DB_NAME"

	EnvRedisURL = "PHARMALINK_REDIS_URL"

	EnvJWTSecret  = "PHARMALINK_JWT_SECRET"
	EnvJWTIssuer  = "PHARMALINK_JWT_ISSUER"
	EnvJWTExpMins = "PHARMALINK_JWT_EXPIRATION_MINUTES"

	EnvFeesDeliveryCharge = "PHARMALINK_FEES_DELIVERY_CHARGE"
	EnvFeesPlatformRate   = "PHARMALINK_FEES_PLATFORM_RATE"
	EnvFeesCommissionRate = "PHARMALINK_FEES_COMMISSION_RATE"

	EnvSettlementLockTimeout = "PHARMALINK_SETTLEMENT_LOCK_TIMEOUT"

	EnvGatewayStoreID       = "PHARMALINK_GATEWAY_STORE_ID"
	EnvGatewayStorePassword = "PHARMALINK_GATEWAY_STORE_PASSWORD"
	EnvGatewayPublicBaseURL = "PHARMALINK_GATEWAY_PUBLIC_BASE_URL"
	EnvFrontendURL          = "PHARMALINK_FRONTEND_URL"

	EnvPubSubDomainTopic = "PHARMALINK_PUBSUB_DOMAIN_TOPIC"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
