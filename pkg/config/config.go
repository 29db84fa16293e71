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
	FeatureFlags FeatureFlagsConfig
	Fees         FeesConfig
	Settlement   SettlementConfig
	Gateway      GatewayConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Cron         CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Fees.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"PHARMALINK_APP_ENV" required:"true"`
	Port         string `envconfig:"PHARMALINK_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"PHARMALINK_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"PHARMALINK_LOG_WARN_STACK" default:"false"`

	CORSAllowedOrigins []string `envconfig:"PHARMALINK_CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"PHARMALINK_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN string `envconfig:"PHARMALINK_DB_DSN"`

	LegacyHost     string `envconfig:"PHARMALINK_DB_HOST"`
	LegacyPort     int    `envconfig:"PHARMALINK_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"PHARMALINK_DB_USER"`
	LegacyPassword string `envconfig:"PHARMALINK_DB_PASSWORD"`
	LegacyName     string `envconfig:"PHARMALINK_DB_NAME"`
	LegacySSLMode  string `envconfig:"PHARMALINK_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"PHARMALINK_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"PHARMALINK_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"PHARMALINK_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"PHARMALINK_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"PHARMALINK_REDIS_URL" required:"true"`
	Address      string        `envconfig:"PHARMALINK_REDIS_ADDR"`
	Password     string        `envconfig:"PHARMALINK_REDIS_PASSWORD"`
	DB           int           `envconfig:"PHARMALINK_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"PHARMALINK_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"PHARMALINK_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"PHARMALINK_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"PHARMALINK_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"PHARMALINK_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"PHARMALINK_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"PHARMALINK_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"PHARMALINK_JWT_EXPIRATION_MINUTES" required:"true"`
}

// Expiration returns the access token lifetime.
func (j JWTConfig) Expiration() time.Duration {
	if j.ExpirationMinutes <= 0 {
		return 0
	}
	return time.Duration(j.ExpirationMinutes) * time.Minute
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"PHARMALINK_AUTO_MIGRATE" default:"false"`
}

// FeesConfig holds the fixed fee model applied to every settlement.
// CommissionRate is the pharmacy-side commission used by reporting and is
// never added to a customer's grand total.
type FeesConfig struct {
	DeliveryCharge  decimal.Decimal `envconfig:"PHARMALINK_FEES_DELIVERY_CHARGE" default:"60.00"`
	PlatformFeeRate decimal.Decimal `envconfig:"PHARMALINK_FEES_PLATFORM_RATE" default:"0.003"`
	CommissionRate  decimal.Decimal `envconfig:"PHARMALINK_FEES_COMMISSION_RATE" default:"0.03"`
}

func (f FeesConfig) validate() error {
	if f.DeliveryCharge.IsNegative() {
		return fmt.Errorf("%s must not be negative", EnvFeesDeliveryCharge)
	}
	if f.PlatformFeeRate.IsNegative() || f.PlatformFeeRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("%s must be within [0, 1)", EnvFeesPlatformRate)
	}
	if f.CommissionRate.IsNegative() || f.CommissionRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("%s must be within [0, 1)", EnvFeesCommissionRate)
	}
	return nil
}

type SettlementConfig struct {
	LockTimeout time.Duration `envconfig:"PHARMALINK_SETTLEMENT_LOCK_TIMEOUT" default:"5s"`
	CallbackTTL time.Duration `envconfig:"PHARMALINK_SETTLEMENT_CALLBACK_TTL" default:"10m"`
}

type GatewayConfig struct {
	StoreID        string        `envconfig:"PHARMALINK_GATEWAY_STORE_ID" required:"true"`
	StorePassword  string        `envconfig:"PHARMALINK_GATEWAY_STORE_PASSWORD" required:"true"`
	SessionURL     string        `envconfig:"PHARMALINK_GATEWAY_SESSION_URL" default:"https://sandbox.sslcommerz.com/gwprocess/v4/api.php"`
	ValidationURL  string        `envconfig:"PHARMALINK_GATEWAY_VALIDATION_URL" default:"https://sandbox.sslcommerz.com/validator/api/validationserverAPI.php"`
	Currency       string        `envconfig:"PHARMALINK_GATEWAY_CURRENCY" default:"BDT"`
	Timeout        time.Duration `envconfig:"PHARMALINK_GATEWAY_TIMEOUT" default:"15s"`
	PublicBaseURL  string        `envconfig:"PHARMALINK_GATEWAY_PUBLIC_BASE_URL" required:"true"`
	FrontendURL    string        `envconfig:"PHARMALINK_FRONTEND_URL" required:"true"`
	SessionTTL     time.Duration `envconfig:"PHARMALINK_GATEWAY_SESSION_TTL" default:"2h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"PHARMALINK_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"PHARMALINK_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"PHARMALINK_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	DomainTopic string `envconfig:"PHARMALINK_PUBSUB_DOMAIN_TOPIC" default:"pharmalink-domain-events"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"PHARMALINK_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"PHARMALINK_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"PHARMALINK_OUTBOX_MAX_ATTEMPTS" default:"10"`
	RetentionDays  int `envconfig:"PHARMALINK_OUTBOX_RETENTION_DAYS" default:"30"`
}

type CronConfig struct {
	Interval      time.Duration `envconfig:"PHARMALINK_CRON_INTERVAL" default:"5m"`
	LockTTL       time.Duration `envconfig:"PHARMALINK_CRON_LOCK_TTL" default:"4m"`
	LowStockLimit int           `envconfig:"PHARMALINK_CRON_LOW_STOCK_LIMIT" default:"200"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
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
