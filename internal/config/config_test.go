package config

import (
	"strings"
	"testing"
	"time"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse(map[string]string{})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !cfg.IsDev() {
		t.Fatalf("expected development default, got %q", cfg.AppEnv)
	}
	if cfg.Address() != ":8080" {
		t.Fatalf("unexpected address %q", cfg.Address())
	}
	e := cfg.Economy
	if e.MarketFeePercent != 5 || e.MarketMinPrice != 10 || e.MarketMaxOpenOrders != 20 || e.TradeMaxItems != 10 {
		t.Fatalf("unexpected economy defaults %+v", e)
	}
	if e.DigCooldown != 2*time.Second || e.ExpirySweepInterval != time.Minute {
		t.Fatalf("unexpected durations %+v", e)
	}
	if cfg.IdempotencyTTL != 24*time.Hour {
		t.Fatalf("unexpected idempotency ttl %s", cfg.IdempotencyTTL)
	}
}

func TestParseOverrides(t *testing.T) {
	cfg, err := Parse(map[string]string{
		"PORT":               ":9000",
		"LOG_LEVEL":          "DEBUG",
		"MARKET_FEE_PERCENT": "0",
		"DIG_COOLDOWN":       "750ms",
	})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Address() != ":9000" || cfg.LogLevel != "debug" {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.Economy.MarketFeePercent != 0 || cfg.Economy.DigCooldown != 750*time.Millisecond {
		t.Fatalf("economy overrides not applied: %+v", cfg.Economy)
	}
}

func TestParseRejects(t *testing.T) {
	cases := map[string]map[string]string{
		"production without db":  {"APP_ENV": "production", "REDIS_URL": "redis://x", "JWT_SECRET": "s"},
		"production without jwt": {"APP_ENV": "production", "DATABASE_URL": "postgres://x", "REDIS_URL": "redis://x"},
		"fee above 100":          {"MARKET_FEE_PERCENT": "101"},
		"zero min price":         {"MARKET_MIN_PRICE": "0"},
		"bad duration":           {"DIG_COOLDOWN": "soon"},
		"zero sweep":             {"EXPIRY_SWEEP_INTERVAL": "0s"},
	}
	for name, environ := range cases {
		if _, err := Parse(environ); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestParseProduction(t *testing.T) {
	cfg, err := Parse(map[string]string{
		"APP_ENV":      "production",
		"DATABASE_URL": "postgres://localhost/economy",
		"REDIS_URL":    "redis://localhost:6379/0",
		"JWT_SECRET":   "s3cret",
	})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.IsDev() || !strings.HasPrefix(cfg.DatabaseURL, "postgres://") {
		t.Fatalf("unexpected config %+v", cfg)
	}
}
