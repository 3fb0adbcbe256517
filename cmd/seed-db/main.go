package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/shopfront/internal/domain/auth"
	"github.com/xenking/shopfront/internal/domain/coupon"
	"github.com/xenking/shopfront/internal/domain/product"
	"github.com/xenking/shopfront/internal/storage/postgres"
)

type productJSON struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	Price        decimal.Decimal `json:"price"`
	Category     string          `json:"category"`
	CountInStock int             `json:"countInStock"`
	Image        struct {
		Thumbnail string `json:"thumbnail"`
		Mobile    string `json:"mobile"`
		Tablet    string `json:"tablet"`
		Desktop   string `json:"desktop"`
	} `json:"image"`
}

type options struct {
	databaseURL  string
	productsFile string
	apiKey       string
	apiKeyID     string
	apiKeyPepper string
	admin        bool
}

func main() {
	var opts options

	flag.StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&opts.productsFile, "products-file", "db/seed/products.json", "path to products JSON file")
	flag.StringVar(&opts.apiKey, "api-key", "", "API key to seed (or SHOP_SEED_API_KEY env)")
	flag.StringVar(&opts.apiKeyID, "api-key-id", "default", "owner id of the seeded API key")
	flag.StringVar(&opts.apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or SHOP_API_KEY_PEPPER env)")
	flag.BoolVar(&opts.admin, "admin", false, "grant the seeded API key the admin scope")
	flag.Parse()

	if opts.databaseURL == "" {
		opts.databaseURL = os.Getenv("DATABASE_URL")
	}
	if opts.databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if opts.apiKey == "" {
		opts.apiKey = os.Getenv("SHOP_SEED_API_KEY")
	}
	if opts.apiKey == "" {
		slog.Error("API key is required: set --api-key or SHOP_SEED_API_KEY")
		os.Exit(1)
	}
	if opts.apiKeyPepper == "" {
		opts.apiKeyPepper = os.Getenv("SHOP_API_KEY_PEPPER")
	}
	if opts.apiKeyPepper == "" {
		slog.Error("API key pepper is required: set --api-key-pepper or SHOP_API_KEY_PEPPER")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, opts); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, opts options) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, opts.databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedProducts(ctx, postgres.NewProductRepository(pool), opts.productsFile); err != nil {
		return errors.Wrap(err, "seed products")
	}

	if err := seedCoupons(ctx, postgres.NewCouponRepository(pool), time.Now()); err != nil {
		return errors.Wrap(err, "seed coupons")
	}

	if err := seedAPIKey(ctx, postgres.NewAPIKeyRepository(pool), opts); err != nil {
		return errors.Wrap(err, "seed api key")
	}

	return nil
}

func seedProducts(ctx context.Context, repo *postgres.ProductRepository, productsFile string) error {
	slog.Info("reading products file", slog.String("path", productsFile))

	data, err := os.ReadFile(productsFile)
	if err != nil {
		return errors.Wrap(err, "read products file")
	}

	var products []productJSON
	if err := json.Unmarshal(data, &products); err != nil {
		return errors.Wrap(err, "parse products JSON")
	}

	slog.Info("upserting products", slog.Int("count", len(products)))

	for _, p := range products {
		if err := repo.Upsert(ctx, &product.Product{
			ID:           p.ID,
			Name:         p.Name,
			Description:  p.Description,
			Price:        p.Price,
			Category:     p.Category,
			CountInStock: p.CountInStock,
			Image: product.Image{
				Thumbnail: p.Image.Thumbnail,
				Mobile:    p.Image.Mobile,
				Tablet:    p.Image.Tablet,
				Desktop:   p.Image.Desktop,
			},
		}); err != nil {
			return errors.Wrapf(err, "upsert product %s", p.ID)
		}

		slog.Info("upserted product", slog.String("id", p.ID), slog.String("name", p.Name))
	}

	return nil
}

func seedCoupons(ctx context.Context, repo *postgres.CouponRepository, now time.Time) error {
	slog.Info("seeding demo coupons")

	limit := 100
	validFrom := now.Add(-24 * time.Hour).Truncate(time.Hour)
	validUntil := now.AddDate(1, 0, 0).Truncate(time.Hour)

	coupons := []coupon.Coupon{
		{
			Code:          "WELCOME10",
			Description:   "10% off your first order",
			DiscountType:  coupon.DiscountPercentage,
			DiscountValue: decimal.NewFromInt(10),
			ValidFrom:     validFrom,
			ValidUntil:    validUntil,
			IsActive:      true,
		},
		{
			Code:                  "SAVE30",
			Description:           "$30 off orders over $150",
			DiscountType:          coupon.DiscountFixedAmount,
			DiscountValue:         decimal.NewFromInt(30),
			MinimumPurchaseAmount: decimal.NewFromInt(150),
			ValidFrom:             validFrom,
			ValidUntil:            validUntil,
			IsActive:              true,
			UsageLimitTotal:       &limit,
		},
		{
			Code:          "EXPIRED5",
			Description:   "Expired 5% promotion",
			DiscountType:  coupon.DiscountPercentage,
			DiscountValue: decimal.NewFromInt(5),
			ValidFrom:     validFrom.AddDate(-1, 0, 0),
			ValidUntil:    validFrom,
			IsActive:      true,
		},
	}

	for i := range coupons {
		c := &coupons[i]
		if err := repo.Upsert(ctx, c); err != nil {
			return errors.Wrapf(err, "upsert coupon %s", c.Code)
		}

		slog.Info("upserted coupon", slog.String("code", c.Code), slog.String("description", c.Description))
	}

	return nil
}

func seedAPIKey(ctx context.Context, repo *postgres.APIKeyRepository, opts options) error {
	slog.Info("seeding API key", slog.String("id", opts.apiKeyID), slog.Bool("admin", opts.admin))

	var scopes []string
	name := "Customer key"
	if opts.admin {
		scopes = append(scopes, auth.ScopeAdmin)
		name = "Admin key"
	}

	if err := repo.Upsert(ctx, &auth.APIKeyInfo{
		ID:      opts.apiKeyID,
		KeyHash: auth.HashKey([]byte(opts.apiKeyPepper), opts.apiKey),
		Name:    name,
		Scopes:  scopes,
	}); err != nil {
		return errors.Wrapf(err, "upsert API key %s", opts.apiKeyID)
	}

	slog.Info("upserted API key", slog.String("id", opts.apiKeyID), slog.String("name", name))

	return nil
}
