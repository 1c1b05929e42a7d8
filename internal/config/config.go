package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	_ "github.com/joho/godotenv/autoload"
	"github.com/spf13/viper"
)

type Config struct {
	Port string `mapstructure:"PORT" validate:"required"`

	DBHost     string `mapstructure:"BLUEPRINT_DB_HOST" validate:"required"`
	DBPort     string `mapstructure:"BLUEPRINT_DB_PORT" validate:"required"`
	DBDatabase string `mapstructure:"BLUEPRINT_DB_DATABASE" validate:"required"`
	DBUsername string `mapstructure:"BLUEPRINT_DB_USERNAME" validate:"required"`
	DBPassword string `mapstructure:"BLUEPRINT_DB_PASSWORD"`
	DBSchema   string `mapstructure:"BLUEPRINT_DB_SCHEMA" validate:"required"`

	RedisAddr     string `mapstructure:"REDIS_ADDR" validate:"required"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB" validate:"min=0"`

	YooKassaShopID    string        `mapstructure:"YOOKASSA_SHOP_ID" validate:"required"`
	YooKassaSecretKey string        `mapstructure:"YOOKASSA_SECRET_KEY" validate:"required"`
	YooKassaBaseURL   string        `mapstructure:"YOOKASSA_BASE_URL" validate:"required,url"`
	GatewayTimeout    time.Duration `mapstructure:"GATEWAY_TIMEOUT" validate:"gt=0"`
	ReturnURL         string        `mapstructure:"RETURN_URL" validate:"required,url"`

	TelegramToken string `mapstructure:"TG_TOKEN" validate:"required"`

	RenewalDelay     time.Duration `mapstructure:"RENEWAL_DELAY" validate:"gt=0"`
	RetryDelay       time.Duration `mapstructure:"RETRY_DELAY" validate:"gt=0"`
	RetryMaxAttempts int           `mapstructure:"RETRY_MAX_ATTEMPTS" validate:"min=1"`
	RetryBackoff     time.Duration `mapstructure:"RETRY_BACKOFF" validate:"gt=0"`
	JobTimeout       time.Duration `mapstructure:"JOB_TIMEOUT" validate:"gt=0"`
	SweepInterval    time.Duration `mapstructure:"SWEEP_INTERVAL" validate:"gt=0"`
	StuckJobAfter    time.Duration `mapstructure:"STUCK_JOB_AFTER" validate:"gt=0"`
	WebhookDedupeTTL time.Duration `mapstructure:"WEBHOOK_DEDUPE_TTL" validate:"gt=0"`

	WebhookAllowedCIDRs []string `mapstructure:"WEBHOOK_ALLOWED_CIDRS" validate:"dive,cidr"`
	// TrustedProxies may set X-Forwarded-For. Empty means the peer address is the client.
	TrustedProxies     []string `mapstructure:"TRUSTED_PROXIES" validate:"dive,cidr"`
	CORSAllowedOrigins []string `mapstructure:"CORS_ALLOWED_ORIGINS"`
	PurchaseRateLimit  float64  `mapstructure:"PURCHASE_RATE_LIMIT" validate:"gte=0"`
	PurchaseRateBurst  int      `mapstructure:"PURCHASE_RATE_BURST" validate:"min=1"`
}

// DSN returns the postgres connection string in the form pgx expects.
func (c *Config) DSN() string {
	return dsn(c.DBUsername, c.DBPassword, c.DBHost, c.DBPort, c.DBDatabase, c.DBSchema)
}

func dsn(user, password, host, port, name, schema string) string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable&search_path=%s",
		user, password, host, port, name, schema,
	)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("BLUEPRINT_DB_SCHEMA", "public")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("YOOKASSA_BASE_URL", "https://api.yookassa.ru/v3")
	v.SetDefault("GATEWAY_TIMEOUT", "10s")
	v.SetDefault("RENEWAL_DELAY", "720h")
	v.SetDefault("RETRY_DELAY", "24h")
	v.SetDefault("RETRY_MAX_ATTEMPTS", 3)
	v.SetDefault("RETRY_BACKOFF", "1h")
	v.SetDefault("JOB_TIMEOUT", "30s")
	v.SetDefault("SWEEP_INTERVAL", "1m")
	v.SetDefault("STUCK_JOB_AFTER", "15m")
	v.SetDefault("WEBHOOK_DEDUPE_TTL", "72h")
	v.SetDefault("PURCHASE_RATE_LIMIT", 20)
	v.SetDefault("PURCHASE_RATE_BURST", 40)
}

// Load reads configuration from the environment (and .env, via godotenv) and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := load(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Database holds only the Postgres settings, for tools that need nothing else.
type Database struct {
	Host     string `mapstructure:"BLUEPRINT_DB_HOST" validate:"required"`
	Port     string `mapstructure:"BLUEPRINT_DB_PORT" validate:"required"`
	Name     string `mapstructure:"BLUEPRINT_DB_DATABASE" validate:"required"`
	Username string `mapstructure:"BLUEPRINT_DB_USERNAME" validate:"required"`
	Password string `mapstructure:"BLUEPRINT_DB_PASSWORD"`
	Schema   string `mapstructure:"BLUEPRINT_DB_SCHEMA" validate:"required"`
}

func (d *Database) DSN() string {
	return dsn(d.Username, d.Password, d.Host, d.Port, d.Name, d.Schema)
}

func LoadDatabase() (*Database, error) {
	var db Database
	if err := load(&db); err != nil {
		return nil, err
	}
	return &db, nil
}

func load(out any) error {
	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	if err := bindStructEnv(v, out); err != nil {
		return err
	}
	if err := v.Unmarshal(out); err != nil {
		return fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := validator.New().Struct(out); err != nil {
		return formatValidationErrors(err)
	}
	return nil
}

// bindStructEnv makes viper aware of every mapstructure key so Unmarshal sees env-only values.
func bindStructEnv(v *viper.Viper, cfg any) error {
	t := reflect.TypeOf(cfg).Elem()
	for i := 0; i < t.NumField(); i++ {
		if tag := t.Field(i).Tag.Get("mapstructure"); tag != "" {
			if err := v.BindEnv(tag); err != nil {
				return err
			}
		}
	}
	return nil
}

func formatValidationErrors(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("config: invalid: %s", strings.Join(msgs, "; "))
}
