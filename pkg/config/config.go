package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App            AppConfig
	Service        ServiceConfig
	DB             DBConfig
	Redis          RedisConfig
	JWT            JWTConfig
	FeatureFlags   FeatureFlagsConfig
	Gateway        GatewayConfig
	Payments       PaymentsConfig
	Quote          QuoteConfig
	Maintenance    MaintenanceConfig
	Reconciliation ReconciliationConfig
	CORS           CORSConfig
	Cron           CronConfig
	GCP            GCPConfig
	PubSub         PubSubConfig
	BigQuery       BigQueryConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Payments.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"PAYCORE_APP_ENV" required:"true"`
	Port         string `envconfig:"PAYCORE_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"PAYCORE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"PAYCORE_LOG_WARN_STACK" default:"false"`
	LogFormat    string `envconfig:"PAYCORE_LOG_FORMAT" default:"json"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"PAYCORE_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"PAYCORE_DB_DSN"`
	Driver string `envconfig:"PAYCORE_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"PAYCORE_DB_HOST"`
	LegacyPort     int    `envconfig:"PAYCORE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"PAYCORE_DB_USER"`
	LegacyPassword string `envconfig:"PAYCORE_DB_PASSWORD"`
	LegacyName     string `envconfig:"PAYCORE_DB_NAME"`
	LegacySSLMode  string `envconfig:"PAYCORE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"PAYCORE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"PAYCORE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"PAYCORE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"PAYCORE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	SlowQuery       time.Duration `envconfig:"PAYCORE_DB_SLOW_QUERY_THRESHOLD" default:"500ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"PAYCORE_REDIS_URL" required:"true"`
	Address      string        `envconfig:"PAYCORE_REDIS_ADDR"`
	Password     string        `envconfig:"PAYCORE_REDIS_PASSWORD"`
	DB           int           `envconfig:"PAYCORE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"PAYCORE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"PAYCORE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"PAYCORE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"PAYCORE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"PAYCORE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret string `envconfig:"PAYCORE_JWT_SECRET" required:"true"`
	Issuer string `envconfig:"PAYCORE_JWT_ISSUER" required:"true"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"PAYCORE_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"PAYCORE_AUTO_MIGRATE" default:"false"`
}

// GatewayConfig holds the dealer credentials and endpoints for the 3-D Secure provider.
type GatewayConfig struct {
	BaseURL        string        `envconfig:"PAYCORE_GATEWAY_BASE_URL" default:"https://service.refmokaunited.com"`
	ProdBaseURL    string        `envconfig:"PAYCORE_GATEWAY_PROD_BASE_URL" default:"https://service.mokaunited.com"`
	SandboxBaseURL string        `envconfig:"PAYCORE_GATEWAY_SANDBOX_BASE_URL" default:"https://service.refmokaunited.com"`
	DealerCode     string        `envconfig:"PAYCORE_GATEWAY_DEALER_CODE"`
	Username       string        `envconfig:"PAYCORE_GATEWAY_USERNAME"`
	Password       string        `envconfig:"PAYCORE_GATEWAY_PASSWORD"`
	Software       string        `envconfig:"PAYCORE_GATEWAY_SOFTWARE" default:"paycore"`
	IntegratorID   int           `envconfig:"PAYCORE_GATEWAY_INTEGRATOR_ID" default:"0"`
	RedirectURL    string        `envconfig:"PAYCORE_GATEWAY_REDIRECT_URL"`
	AppBaseURL     string        `envconfig:"PAYCORE_APP_BASE_URL" default:"http://localhost:3000"`
	Timeout        time.Duration `envconfig:"PAYCORE_GATEWAY_TIMEOUT" default:"20s"`
}

// Configured reports whether dealer credentials are present.
func (g GatewayConfig) Configured() bool {
	return strings.TrimSpace(g.DealerCode) != "" &&
		strings.TrimSpace(g.Username) != "" &&
		strings.TrimSpace(g.Password) != ""
}

type PaymentsConfig struct {
	CardEnabled         bool          `envconfig:"PAYCORE_PAYMENTS_CARD_ENABLED" default:"true"`
	RawCaptureEnabled   bool          `envconfig:"PAYCORE_PAYMENTS_RAW_CAPTURE_ENABLED" default:"true"`
	TokenCaptureEnabled bool          `envconfig:"PAYCORE_PAYMENTS_TOKEN_CAPTURE_ENABLED" default:"true"`
	RateLimitPerMinute  int           `envconfig:"PAYCORE_PAYMENTS_RATE_LIMIT_PER_MINUTE" default:"10"`
	IPRateLimitPerMin   int           `envconfig:"PAYCORE_PAYMENTS_IP_RATE_LIMIT_PER_MINUTE" default:"30"`
	ReuseWindow         time.Duration `envconfig:"PAYCORE_PAYMENTS_REUSE_WINDOW" default:"10m"`
	ReservationTTL      time.Duration `envconfig:"PAYCORE_PAYMENTS_RESERVATION_TTL" default:"15m"`
	AbandonAfter        time.Duration `envconfig:"PAYCORE_PAYMENTS_ABANDON_AFTER" default:"30m"`
	PayloadKey          string        `envconfig:"PAYCORE_PAYMENTS_PAYLOAD_KEY" required:"true"`
	PayloadKeyVersion   int           `envconfig:"PAYCORE_PAYMENTS_PAYLOAD_KEY_VERSION" default:"1"`
}

func (p PaymentsConfig) validate() error {
	if p.ReuseWindow <= 0 {
		return fmt.Errorf("%s must be positive", EnvPaymentsReuseWindow)
	}
	if p.ReservationTTL <= 0 {
		return fmt.Errorf("%s must be positive", EnvPaymentsReservationTTL)
	}
	if p.RateLimitPerMinute <= 0 {
		return fmt.Errorf("%s must be positive", EnvPaymentsRateLimit)
	}
	return nil
}

// QuoteConfig points at the pricing service that produces checkout quotes.
type QuoteConfig struct {
	URL        string        `envconfig:"PAYCORE_QUOTE_URL"`
	APIKey     string        `envconfig:"PAYCORE_QUOTE_API_KEY"`
	Timeout    time.Duration `envconfig:"PAYCORE_QUOTE_TIMEOUT" default:"5s"`
	MaxRetries uint64        `envconfig:"PAYCORE_QUOTE_MAX_RETRIES" default:"2"`
}

type MaintenanceConfig struct {
	Secret           string        `envconfig:"PAYCORE_MAINTENANCE_SECRET"`
	VoidPendingAfter time.Duration `envconfig:"PAYCORE_MAINTENANCE_VOID_PENDING_AFTER" default:"30m"`
	RefundPendAfter  time.Duration `envconfig:"PAYCORE_MAINTENANCE_REFUND_PENDING_AFTER" default:"2h"`
}

type ReconciliationConfig struct {
	Enabled       bool `envconfig:"PAYCORE_RECONCILIATION_ENABLED" default:"true"`
	LookbackHours int  `envconfig:"PAYCORE_RECONCILIATION_LOOKBACK_HOURS" default:"24"`
	WindowMinutes int  `envconfig:"PAYCORE_RECONCILIATION_WINDOW_MINUTES" default:"30"`
	MaxRecords    int  `envconfig:"PAYCORE_RECONCILIATION_MAX_RECORDS" default:"500"`
}

// Lookback returns the configured lookback as a duration.
func (r ReconciliationConfig) Lookback() time.Duration {
	if r.LookbackHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(r.LookbackHours) * time.Hour
}

// Window returns the base reconciliation window as a duration.
func (r ReconciliationConfig) Window() time.Duration {
	if r.WindowMinutes <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(r.WindowMinutes) * time.Minute
}

type CORSConfig struct {
	AllowedOrigins string `envconfig:"PAYCORE_CORS_ALLOWED_ORIGINS"`
}

// Origins splits the comma separated allow-list.
func (c CORSConfig) Origins() []string {
	out := []string{}
	for _, part := range strings.Split(c.AllowedOrigins, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

type CronConfig struct {
	Interval time.Duration `envconfig:"PAYCORE_CRON_INTERVAL" default:"15m"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"PAYCORE_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"PAYCORE_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"PAYCORE_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	ReviewTopic string `envconfig:"PAYCORE_PUBSUB_REVIEW_TOPIC"`
}

type BigQueryConfig struct {
	Dataset             string `envconfig:"PAYCORE_BIGQUERY_DATASET"`
	ReconciliationTable string `envconfig:"PAYCORE_BIGQUERY_RECONCILIATION_TABLE" default:"reconciliation_runs"`
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
