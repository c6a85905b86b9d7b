package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port           string        `mapstructure:"PORT"`
	Env            string        `mapstructure:"ENV"`
	DatabaseURL    string        `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32         `mapstructure:"DB_MIN_CONNS"`
	MigrationsDir  string        `mapstructure:"MIGRATIONS_DIR"`
	RedisURL       string        `mapstructure:"REDIS_URL"`
	AMQPURL        string        `mapstructure:"AMQP_URL"`
	AMQPExchange   string        `mapstructure:"AMQP_EXCHANGE"`
	AuthIssuer     string        `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL    string        `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience   string        `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey string        `mapstructure:"AUTH_SIGNING_KEY"`
	CORSOrigins    []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`

	StripeSecretKey string        `mapstructure:"STRIPE_SECRET_KEY"`
	StripeAPIURL    string        `mapstructure:"STRIPE_API_URL"`
	PaymentCurrency string        `mapstructure:"PAYMENT_CURRENCY"`
	PaymentTimeout  time.Duration `mapstructure:"PAYMENT_TIMEOUT"`

	ReconcileSchedule    string        `mapstructure:"RECONCILE_SCHEDULE"`
	ReconcileAfter       time.Duration `mapstructure:"RECONCILE_AFTER"`
	ReconcileExpireAfter time.Duration `mapstructure:"RECONCILE_EXPIRE_AFTER"`

	// Fixed per-kind service charges in minor units. Zero keeps the built-in
	// charge for that kind.
	ServiceChargeHome        int64 `mapstructure:"SERVICE_CHARGE_HOME_SERVICE"`
	ServiceChargeOnline      int64 `mapstructure:"SERVICE_CHARGE_ONLINE_CONSULTATION"`
	ServiceChargeLab         int64 `mapstructure:"SERVICE_CHARGE_LAB_TEST"`
	ServiceChargeSpecialized int64 `mapstructure:"SERVICE_CHARGE_SPECIALIZED_TREATMENT"`
	ServiceChargeMedicine    int64 `mapstructure:"SERVICE_CHARGE_MEDICINE_ORDER"`
}

var envKeys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "MIGRATIONS_DIR",
	"REDIS_URL", "AMQP_URL", "AMQP_EXCHANGE",
	"AUTH_ISSUER", "AUTH_JWKS_URL", "AUTH_AUDIENCE", "AUTH_SIGNING_KEY",
	"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "REQUEST_TIMEOUT",
	"STRIPE_SECRET_KEY", "STRIPE_API_URL", "PAYMENT_CURRENCY", "PAYMENT_TIMEOUT",
	"RECONCILE_SCHEDULE", "RECONCILE_AFTER", "RECONCILE_EXPIRE_AFTER",
	"SERVICE_CHARGE_HOME_SERVICE", "SERVICE_CHARGE_ONLINE_CONSULTATION",
	"SERVICE_CHARGE_LAB_TEST", "SERVICE_CHARGE_SPECIALIZED_TREATMENT",
	"SERVICE_CHARGE_MEDICINE_ORDER",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("AMQP_EXCHANGE", "medconnect.events")
	v.SetDefault("CORS_ORIGINS", "*")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("PAYMENT_CURRENCY", "usd")
	v.SetDefault("PAYMENT_TIMEOUT", "10s")
	v.SetDefault("RECONCILE_SCHEDULE", "@every 5m")
	v.SetDefault("RECONCILE_AFTER", "15m")
	v.SetDefault("RECONCILE_EXPIRE_AFTER", "24h")

	for _, k := range envKeys {
		_ = v.BindEnv(k)
	}

	// .env is optional
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		if origins := v.GetString("CORS_ORIGINS"); origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}
	cfg.PaymentCurrency = strings.ToLower(cfg.PaymentCurrency)

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run. Outside development
// requests must be authenticated, and production needs a payment gateway key.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthIssuer == "" && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_ISSUER or AUTH_SIGNING_KEY must be set when ENV=%q", c.Env)
	}
	if c.IsProduction() && c.AuthSigningKey != "" {
		return fmt.Errorf("AUTH_SIGNING_KEY is for development only, use AUTH_ISSUER in production")
	}
	if c.IsProduction() && c.StripeSecretKey == "" {
		return fmt.Errorf("STRIPE_SECRET_KEY is required in production")
	}
	if c.PaymentTimeout <= 0 {
		return fmt.Errorf("PAYMENT_TIMEOUT must be positive, got %s", c.PaymentTimeout)
	}
	if c.ReconcileAfter <= 0 || c.ReconcileExpireAfter < c.ReconcileAfter {
		return fmt.Errorf("RECONCILE_EXPIRE_AFTER (%s) must be at least RECONCILE_AFTER (%s)",
			c.ReconcileExpireAfter, c.ReconcileAfter)
	}
	if len(c.PaymentCurrency) != 3 {
		return fmt.Errorf("PAYMENT_CURRENCY must be an ISO 4217 code, got %q", c.PaymentCurrency)
	}
	return nil
}

// ServiceCharges returns the configured per-kind charge overrides keyed by
// service kind name. Kinds without an override are omitted.
func (c *Config) ServiceCharges() map[string]int64 {
	out := make(map[string]int64)
	set := func(kind string, v int64) {
		if v > 0 {
			out[kind] = v
		}
	}
	set("HOME_SERVICE", c.ServiceChargeHome)
	set("ONLINE_CONSULTATION", c.ServiceChargeOnline)
	set("LAB_TEST", c.ServiceChargeLab)
	set("SPECIALIZED_TREATMENT", c.ServiceChargeSpecialized)
	set("MEDICINE_ORDER", c.ServiceChargeMedicine)
	return out
}
