package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

type PostgresConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MigrationsPath  string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type PayPalConfig struct {
	ClientID     string
	ClientSecret string
	APIBase      string
}

type PrintfulConfig struct {
	APIKey          string
	APIBase         string
	WebhookSecret   string
	AllowUnverified bool
}

type MailgunConfig struct {
	APIKey  string
	Domain  string
	APIBase string
}

type Config struct {
	App struct {
		Port         string
		PublicURL    string
		SupportEmail string
		ServiceToken string
	}
	Postgres  PostgresConfig
	PayPal    PayPalConfig
	Printful  PrintfulConfig
	Mailgun   MailgunConfig
	AMQPURL   string
	RedisAddr string
}

// Load reads configuration from the environment, optionally seeding it from a
// .env file first. Missing required keys are reported as a single error so a
// misconfigured deploy fails on startup, not mid-request.
func Load(envPath string) (*Config, error) {
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load .env: %w", err)
		}
	}

	cfg := &Config{}

	cfg.App.Port = getEnv("APP_PORT", "8080")
	cfg.App.PublicURL = getEnv("PUBLIC_URL", "https://redeemedwearclothing.com")
	cfg.App.SupportEmail = getEnv("SUPPORT_EMAIL", "support@redeemedwearclothing.com")

	var err error
	if cfg.App.ServiceToken, err = requireEnv("SERVICE_TOKEN"); err != nil {
		return nil, err
	}

	if cfg.Postgres.Host, err = requireEnv("DB_HOST"); err != nil {
		return nil, err
	}
	if cfg.Postgres.Port, err = requireEnv("DB_PORT"); err != nil {
		return nil, err
	}
	if cfg.Postgres.User, err = requireEnv("DB_USER"); err != nil {
		return nil, err
	}
	if cfg.Postgres.Password, err = requireEnv("DB_PASSWORD"); err != nil {
		return nil, err
	}
	if cfg.Postgres.DBName, err = requireEnv("DB_NAME"); err != nil {
		return nil, err
	}
	cfg.Postgres.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Postgres.MigrationsPath = getEnv("MIGRATIONS_PATH", "migrations")
	cfg.Postgres.MaxConns = 10
	cfg.Postgres.MinConns = 2
	cfg.Postgres.MaxConnLifetime = time.Hour

	if cfg.PayPal.ClientID, err = requireEnv("PAYPAL_CLIENT_ID"); err != nil {
		return nil, err
	}
	if cfg.PayPal.ClientSecret, err = requireEnv("PAYPAL_CLIENT_SECRET"); err != nil {
		return nil, err
	}
	cfg.PayPal.APIBase = getEnv("PAYPAL_API", "https://api-m.sandbox.paypal.com")

	if cfg.Printful.APIKey, err = requireEnv("PRINTFUL_API_KEY"); err != nil {
		return nil, err
	}
	cfg.Printful.APIBase = getEnv("PRINTFUL_API", "https://api.printful.com")
	cfg.Printful.WebhookSecret = os.Getenv("PRINTFUL_WEBHOOK_SECRET")
	cfg.Printful.AllowUnverified = os.Getenv("WEBHOOK_ALLOW_UNVERIFIED") == "true"

	if cfg.Mailgun.APIKey, err = requireEnv("MAILGUN_API_KEY"); err != nil {
		return nil, err
	}
	if cfg.Mailgun.Domain, err = requireEnv("MAILGUN_DOMAIN"); err != nil {
		return nil, err
	}
	cfg.Mailgun.APIBase = getEnv("MAILGUN_API", "https://api.mailgun.net")

	cfg.AMQPURL = os.Getenv("AMQP_URL")
	cfg.RedisAddr = os.Getenv("REDIS_ADDR")

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func requireEnv(key string) (string, error) {
	v := os.Getenv(key)
	if v == "" {
		return "", fmt.Errorf("%s is required", key)
	}
	return v, nil
}
