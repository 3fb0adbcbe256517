package app

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/shopfront/internal/domain/auth"
	"github.com/xenking/shopfront/internal/domain/coupon"
	"github.com/xenking/shopfront/internal/domain/order"
	"github.com/xenking/shopfront/internal/handler"
	"github.com/xenking/shopfront/internal/invoice"
	"github.com/xenking/shopfront/internal/payment/paypal"
	"github.com/xenking/shopfront/internal/payment/stripe"
	"github.com/xenking/shopfront/internal/storage/postgres"
	"github.com/xenking/shopfront/internal/storage/redis"
	"github.com/xenking/shopfront/pkg/health"
	"github.com/xenking/shopfront/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application; m is usually
// the *app.Telemetry of go-faster/sdk.
func Run(ctx context.Context, lg *zap.Logger, m httpmiddleware.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	policy, err := cfg.Pricing.Policy()
	if err != nil {
		return err
	}
	currencyPolicy, err := cfg.Payments.Policy()
	if err != nil {
		return err
	}

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	invoices, err := invoice.NewWriter(cfg.Invoice.Dir)
	if err != nil {
		return errors.Wrap(err, "create invoice writer")
	}

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))
	healthSvc.AddReadinessCheck("invoices", time.Second, health.DirWritableCheck(cfg.Invoice.Dir))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))

	// Optional Idempotency-Key cache.
	var authenticated []httpmiddleware.Middleware
	if cfg.Redis.URL != "" {
		store, err := redis.Open(ctx, cfg.Redis.URL)
		if err != nil {
			return errors.Wrap(err, "connect redis")
		}
		defer func() { _ = store.Close() }()

		healthSvc.AddReadinessCheck("redis", time.Second, health.PingCheck(store))
		authenticated = append(authenticated, httpmiddleware.Idempotency(httpmiddleware.IdempotencyConfig{
			Store: store,
			TTL:   cfg.Redis.IdempotencyTTL,
			Scope: handler.IdempotencyScope,
		}))
	} else {
		lg.Info("Redis URL not set, idempotency cache disabled")
	}

	// Payment providers.
	var paypalClient order.PayPalVerifier
	if cfg.Payments.PayPal.Enabled() {
		c, err := paypal.NewClient(cfg.Payments.PayPal)
		if err != nil {
			return errors.Wrap(err, "create paypal client")
		}
		paypalClient = c
	} else {
		lg.Warn("PayPal credentials not set, PayPal payments disabled")
	}
	var stripeClient handler.StripeFetcher
	if cfg.Payments.Stripe.Enabled() {
		c, err := stripe.NewClient(cfg.Payments.Stripe)
		if err != nil {
			return errors.Wrap(err, "create stripe client")
		}
		stripeClient = c
	} else {
		lg.Warn("Stripe key not set, Stripe payments disabled")
	}

	// Repositories.
	productRepo := postgres.NewProductRepository(pool)
	couponRepo := postgres.NewCouponRepository(pool)
	orderRepo := postgres.NewOrderRepository(pool)
	apikeyRepo := postgres.NewAPIKeyRepository(pool)

	// Domain services.
	orderService, err := order.NewService(order.ServiceConfig{
		Pricing:        policy,
		CurrencyPolicy: currencyPolicy,
		PayPal:         paypalClient,
		Invoices:       invoices,
		Meter:          m.MeterProvider().Meter("shopfront"),
	}, productRepo, coupon.NewService(couponRepo), orderRepo)
	if err != nil {
		return errors.Wrap(err, "create order service")
	}

	// HTTP handlers.
	pepper := []byte(cfg.APIKeyPepper)
	h := handler.New(
		handler.Config{ImageBaseURL: cfg.ImageBaseURL},
		productRepo,
		orderService,
		stripeClient,
		invoices,
	)
	router := h.Routes(handler.NewSecurity(apikeyRepo, pepper), authenticated...)
	router.Get("/livez", healthSvc.LiveEndpoint)
	router.Get("/readyz", healthSvc.ReadyEndpoint)
	routeFinder := httpmiddleware.MakeRouteFinder(router)

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		BaseContext: func(net.Listener) context.Context {
			// Keep the root logger but not the cancellation, so draining
			// requests are not aborted on shutdown.
			return context.WithoutCancel(ctx)
		},
		Handler: httpmiddleware.Wrap(router,
			httpmiddleware.Recovery(),
			cors.Handler(cors.Options{
				AllowedOrigins:   cfg.CORS.Origins,
				AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
				AllowedHeaders:   []string{"Content-Type", handler.APIKeyHeader, httpmiddleware.IdempotencyKeyHeader},
				ExposedHeaders:   []string{"Location", "Retry-After", "Idempotent-Replayed"},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimit(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
				KeyFunc: func(r *http.Request) string {
					if key := r.Header.Get(handler.APIKeyHeader); key != "" {
						return "key:" + auth.HashKey(pepper, key)
					}
					return "ip:" + httpmiddleware.ClientIP(r)
				},
			}),
			middleware.RequestID,
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument("shopfront", routeFinder, m),
			httpmiddleware.LogRequests(routeFinder),
			httpmiddleware.Labeler(routeFinder),
		),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}
