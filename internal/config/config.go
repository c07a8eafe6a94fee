package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	LogLevel  string          `envconfig:"LOG_LEVEL" default:"info"`
	Server    ServerConfig    `envconfig:"SERVER"`
	Postgres  PostgresConfig  `envconfig:"POSTGRES"`
	Redis     RedisConfig     `envconfig:"REDIS"`
	JWT       JWTConfig       `envconfig:"JWT"`
	Payment   PaymentConfig   `envconfig:"PAYMENT"`
	Booking   BookingConfig   `envconfig:"BOOKING"`
	Checkout  CheckoutConfig  `envconfig:"CHECKOUT"`
	Reconcile ReconcileConfig `envconfig:"RECONCILE"`
	Xendit    XenditConfig    `envconfig:"XENDIT"`
}

type ServerConfig struct {
	Host        string   `envconfig:"HOST" default:"localhost"`
	Port        int      `envconfig:"PORT" default:"8080"`
	CORSOrigins []string `envconfig:"CORS_ORIGINS" default:"*"`
}

type PostgresConfig struct {
	User     string `envconfig:"USER" required:"true"`
	Password string `envconfig:"PASSWORD" required:"true"`
	Name     string `envconfig:"DB" required:"true"`
	Host     string `envconfig:"HOST" default:"localhost"`
	Port     int    `envconfig:"PORT" default:"5432"`
	SSLMode  string `envconfig:"SSLMODE" default:"disable"`
	MaxConns int32  `envconfig:"MAX_CONNS" default:"10"`
}

func (c PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User,
		c.Password,
		c.Host,
		c.Port,
		c.Name,
		c.SSLMode,
	)
}

type RedisConfig struct {
	Addr     string `envconfig:"ADDR" default:"localhost:6379"`
	Password string `envconfig:"PASSWORD"`
	DB       int    `envconfig:"DB" default:"0"`
}

type JWTConfig struct {
	Secret string `envconfig:"SECRET" required:"true"`
}

type PaymentConfig struct {
	SuccessURL string        `envconfig:"SUCCESS_URL"`
	Currency   string        `envconfig:"CURRENCY" default:"IDR"`
	Timeout    time.Duration `envconfig:"TIMEOUT" default:"10s"`
	Verify     bool          `envconfig:"VERIFY" default:"true"`
}

type XenditConfig struct {
	SecretKey string `envconfig:"SECRET_KEY" required:"true"`
}

type BookingConfig struct {
	TxRetries int `envconfig:"TX_RETRIES" default:"2"`
}

type CheckoutConfig struct {
	RateLimit int `envconfig:"RATE_LIMIT" default:"10"`
}

type ReconcileConfig struct {
	Interval time.Duration `envconfig:"INTERVAL" default:"1m"`
	MinAge   time.Duration `envconfig:"MIN_AGE" default:"2m"`
}

// New loads .env if present, then the process environment.
func New() (*Config, error) {
	const op = "config.New"

	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if cfg.Booking.TxRetries < 0 {
		return nil, fmt.Errorf("%s: BOOKING_TX_RETRIES must not be negative", op)
	}

	return &cfg, nil
}

func (c *Config) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
