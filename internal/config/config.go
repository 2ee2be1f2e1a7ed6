package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Economy holds the tunable limits of the market, trade and reward flows.
// They are operator settings; players cannot change them.
type Economy struct {
	MarketFeePercent    int64         `env:"MARKET_FEE_PERCENT" envDefault:"5"`
	MarketMinPrice      int64         `env:"MARKET_MIN_PRICE" envDefault:"10"`
	MarketMaxOpenOrders int           `env:"MARKET_MAX_OPEN_ORDERS" envDefault:"20"`
	MarketMaxItems      int           `env:"MARKET_MAX_ITEMS" envDefault:"10"`
	TradeMaxOpenOffers  int           `env:"TRADE_MAX_OPEN_OFFERS" envDefault:"10"`
	TradeMaxItems       int           `env:"TRADE_MAX_ITEMS" envDefault:"10"`
	DigCooldown         time.Duration `env:"DIG_COOLDOWN" envDefault:"2s"`
	ExpirySweepInterval time.Duration `env:"EXPIRY_SWEEP_INTERVAL" envDefault:"1m"`
}

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string        `env:"APP_NAME" envDefault:"minerush-economy"`
	AppEnv         string        `env:"APP_ENV" envDefault:"development"`
	Port           string        `env:"PORT" envDefault:"8080"`
	LogLevel       string        `env:"LOG_LEVEL" envDefault:"info"`
	DatabaseURL    string        `env:"DATABASE_URL"`
	RedisURL       string        `env:"REDIS_URL"`
	ShutdownPeriod time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	IdempotencyTTL time.Duration `env:"IDEMPOTENCY_TTL" envDefault:"24h"`
	JWTSecret      string        `env:"JWT_SECRET"`
	JWTIssuer      string        `env:"JWT_ISSUER"`
	CatalogPath    string        `env:"CATALOG_PATH"`
	RateLimit      int           `env:"RATE_LIMIT_PER_MIN" envDefault:"120"`
	Economy        Economy
}

// Load reads an optional .env file, then the environment. Variables already
// set in the environment win over the file.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return Parse(nil)
}

// Parse builds a Config from the process environment, or from environ when
// it is non-nil.
func Parse(environ map[string]string) (Config, error) {
	opts := env.Options{}
	if environ != nil {
		opts.Environment = environ
	}
	cfg, err := env.ParseAsWithOptions[Config](opts)
	if err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if !c.IsDev() {
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL must be set when APP_ENV=%s", c.AppEnv)
		}
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL must be set when APP_ENV=%s", c.AppEnv)
		}
		if c.JWTSecret == "" {
			return fmt.Errorf("JWT_SECRET must be set when APP_ENV=%s", c.AppEnv)
		}
	}
	e := c.Economy
	if e.MarketFeePercent < 0 || e.MarketFeePercent > 100 {
		return fmt.Errorf("MARKET_FEE_PERCENT must be within 0..100, got %d", e.MarketFeePercent)
	}
	if e.MarketMinPrice < 1 {
		return fmt.Errorf("MARKET_MIN_PRICE must be positive, got %d", e.MarketMinPrice)
	}
	if e.MarketMaxOpenOrders < 1 || e.MarketMaxItems < 1 || e.TradeMaxOpenOffers < 1 || e.TradeMaxItems < 1 {
		return errors.New("listing limits must be positive")
	}
	if e.DigCooldown < 0 {
		return errors.New("DIG_COOLDOWN must not be negative")
	}
	if e.ExpirySweepInterval <= 0 {
		return errors.New("EXPIRY_SWEEP_INTERVAL must be positive")
	}
	return nil
}

// IsDev reports whether the app runs in a local environment, where Postgres
// and Redis are optional and in-memory backends stand in.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}
