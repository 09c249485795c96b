package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	Negotiation  NegotiationConfig
	Inventory    InventoryConfig
	Payments     PaymentsConfig
	Stripe       StripeConfig
	PayPal       PayPalConfig
	Square       SquareConfig
	Cron         CronConfig
	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"GRIDBROKER_APP_ENV" required:"true"`
	Port         string `envconfig:"GRIDBROKER_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"GRIDBROKER_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"GRIDBROKER_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"GRIDBROKER_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"GRIDBROKER_DB_DSN"`
	Driver string `envconfig:"GRIDBROKER_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"GRIDBROKER_DB_HOST"`
	LegacyPort     int    `envconfig:"GRIDBROKER_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"GRIDBROKER_DB_USER"`
	LegacyPassword string `envconfig:"GRIDBROKER_DB_PASSWORD"`
	LegacyName     string `envconfig:"GRIDBROKER_DB_NAME"`
	LegacySSLMode  string `envconfig:"GRIDBROKER_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"GRIDBROKER_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"GRIDBROKER_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"GRIDBROKER_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"GRIDBROKER_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"GRIDBROKER_REDIS_URL" required:"true"`
	Address      string        `envconfig:"GRIDBROKER_REDIS_ADDR"`
	Password     string        `envconfig:"GRIDBROKER_REDIS_PASSWORD"`
	DB           int           `envconfig:"GRIDBROKER_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"GRIDBROKER_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"GRIDBROKER_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"GRIDBROKER_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"GRIDBROKER_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"GRIDBROKER_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// NegotiationConfig bounds the quote negotiation loop.
type NegotiationConfig struct {
	MaxRounds           int           `envconfig:"GRIDBROKER_NEGOTIATION_MAX_ROUNDS" default:"3"`
	ProposalTimeout     time.Duration `envconfig:"GRIDBROKER_NEGOTIATION_PROPOSAL_TIMEOUT" default:"10s"`
	ProposalMaxAttempts int           `envconfig:"GRIDBROKER_NEGOTIATION_PROPOSAL_MAX_ATTEMPTS" default:"3"`
	ProposalBackoff     time.Duration `envconfig:"GRIDBROKER_NEGOTIATION_PROPOSAL_BACKOFF" default:"500ms"`
	QuoteMaxAge         time.Duration `envconfig:"GRIDBROKER_NEGOTIATION_QUOTE_MAX_AGE" default:"30m"`
}

type InventoryConfig struct {
	ReservationTTL time.Duration `envconfig:"GRIDBROKER_INVENTORY_RESERVATION_TTL" default:"15m"`
}

// PaymentsConfig bounds the settlement pipeline.
type PaymentsConfig struct {
	PendingStaleAfter time.Duration `envconfig:"GRIDBROKER_PAYMENTS_PENDING_STALE_AFTER" default:"2m"`
	MaxAttempts       int           `envconfig:"GRIDBROKER_PAYMENTS_MAX_ATTEMPTS" default:"3"`
	RetryBackoff      time.Duration `envconfig:"GRIDBROKER_PAYMENTS_RETRY_BACKOFF" default:"1s"`
	ChargeTimeout     time.Duration `envconfig:"GRIDBROKER_PAYMENTS_CHARGE_TIMEOUT" default:"15s"`
}

type StripeConfig struct {
	APIKey string `envconfig:"GRIDBROKER_STRIPE_API_KEY"`
	Env    string `envconfig:"GRIDBROKER_STRIPE_ENV" default:"test"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type PayPalConfig struct {
	BaseURL  string `envconfig:"GRIDBROKER_PAYPAL_BASE_URL" default:"https://api-m.sandbox.paypal.com"`
	ClientID string `envconfig:"GRIDBROKER_PAYPAL_CLIENT_ID"`
	Secret   string `envconfig:"GRIDBROKER_PAYPAL_SECRET"`
}

type SquareConfig struct {
	AccessToken string `envconfig:"GRIDBROKER_SQUARE_ACCESS_TOKEN"`
	Env         string `envconfig:"GRIDBROKER_SQUARE_ENV" default:"sandbox"`
	LocationID  string `envconfig:"GRIDBROKER_SQUARE_LOCATION_ID"`
}

// Environment returns the normalized Square environment (sandbox/production).
func (s SquareConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "sandbox"
	}
	return env
}

type CronConfig struct {
	Interval time.Duration `envconfig:"GRIDBROKER_CRON_INTERVAL" default:"1m"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"GRIDBROKER_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"GRIDBROKER_AUTO_MIGRATE" default:"false"`
	SeedDemo    bool `envconfig:"GRIDBROKER_SEED_DEMO" default:"false"`
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
