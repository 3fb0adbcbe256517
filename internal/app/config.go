package app

import (
	"os"
	"strings"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/shopfront/internal/domain/order"
	"github.com/xenking/shopfront/internal/domain/pricing"
	"github.com/xenking/shopfront/internal/payment/paypal"
	"github.com/xenking/shopfront/internal/payment/stripe"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the complete application configuration, loadable from
// environment variables (SHOP_ prefix), flags, or YAML config files. It is
// built once in main and never mutated afterwards.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (SHOP_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	ImageBaseURL string `default:"" usage:"Base URL for product images (e.g. https://cdn.example.com/images)" flag:"image-base-url"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing (SHOP_API_KEY_PEPPER)" flag:"api-key-pepper"`
	Pricing      PricingConfig
	Payments     PaymentsConfig
	Invoice      InvoiceConfig
	Redis        RedisConfig
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Graceful     GracefulConfig
}

// PricingConfig describes the flat tax and shipping policy. Amounts are
// decimal strings.
type PricingConfig struct {
	Currency              string `default:"USD"    usage:"ISO currency of all prices"`
	TaxRate               string `default:"0.15"   usage:"Tax rate applied to discounted items price"`
	ShippingFee           string `default:"10.00"  usage:"Flat shipping fee"`
	FreeShippingThreshold string `default:"100.00" usage:"Shipping is free strictly above this discounted items price; 0 disables"`
}

// PaymentsConfig configures the payment providers.
type PaymentsConfig struct {
	CurrencyPolicy string `default:"warn" usage:"Stripe currency mismatch handling: warn or strict"`
	PayPal         paypal.Config
	Stripe         stripe.Config
}

// InvoiceConfig controls invoice storage.
type InvoiceConfig struct {
	Dir string `default:"invoices" usage:"Directory for generated invoices"`
}

// RedisConfig enables the Idempotency-Key response cache.
type RedisConfig struct {
	URL            string        `default:"" usage:"Redis URL for the idempotency cache; empty disables it"`
	IdempotencyTTL time.Duration `default:"24h" usage:"How long idempotent responses are replayed"`
}

// RateLimitConfig controls the per-client token bucket rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "SHOP",
		Files:     []string{"config.yaml", "/etc/shop/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the settings that cannot be defaulted.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database URL is required: set SHOP_DATABASE_URL or DATABASE_URL")
	}
	if c.APIKeyPepper == "" {
		return errors.New("API key pepper is required: set SHOP_API_KEY_PEPPER")
	}
	if _, err := c.Pricing.Policy(); err != nil {
		return err
	}
	if _, err := c.Payments.Policy(); err != nil {
		return err
	}
	return nil
}

// Policy parses the pricing settings.
func (p PricingConfig) Policy() (pricing.FlatPolicy, error) {
	parse := func(name, v string) (decimal.Decimal, error) {
		d, err := decimal.NewFromString(strings.TrimSpace(v))
		if err != nil {
			return decimal.Zero, errors.Wrapf(err, "pricing %s", name)
		}
		if d.IsNegative() {
			return decimal.Zero, errors.Errorf("pricing %s must not be negative", name)
		}
		return d, nil
	}

	policy := pricing.FlatPolicy{CurrencyCode: strings.ToUpper(strings.TrimSpace(p.Currency))}
	if len(policy.CurrencyCode) != 3 {
		return pricing.FlatPolicy{}, errors.Errorf("pricing currency %q is not an ISO code", p.Currency)
	}
	var err error
	if policy.TaxRate, err = parse("tax rate", p.TaxRate); err != nil {
		return pricing.FlatPolicy{}, err
	}
	if policy.ShippingFee, err = parse("shipping fee", p.ShippingFee); err != nil {
		return pricing.FlatPolicy{}, err
	}
	if policy.FreeShippingThreshold, err = parse("free shipping threshold", p.FreeShippingThreshold); err != nil {
		return pricing.FlatPolicy{}, err
	}
	return policy, nil
}

// Policy parses the currency mismatch policy.
func (p PaymentsConfig) Policy() (order.CurrencyPolicy, error) {
	switch cp := order.CurrencyPolicy(strings.ToLower(strings.TrimSpace(p.CurrencyPolicy))); cp {
	case order.CurrencyPolicyWarn, order.CurrencyPolicyStrict:
		return cp, nil
	default:
		return "", errors.Errorf("unknown currency policy %q", p.CurrencyPolicy)
	}
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's SHOP_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if c.Redis.URL == "" {
		if v := os.Getenv("REDIS_URL"); v != "" {
			c.Redis.URL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}
