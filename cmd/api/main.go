package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	limiterstdlib "github.com/ulule/limiter/v3/drivers/middleware/stdlib"

	"github.com/noah-isme/backend-bullion/internal/app"
	"github.com/noah-isme/backend-bullion/internal/cart"
	"github.com/noah-isme/backend-bullion/internal/catalog"
	"github.com/noah-isme/backend-bullion/internal/checkout"
	"github.com/noah-isme/backend-bullion/internal/common"
	"github.com/noah-isme/backend-bullion/internal/config"
	"github.com/noah-isme/backend-bullion/internal/events"
	"github.com/noah-isme/backend-bullion/internal/health"
	"github.com/noah-isme/backend-bullion/internal/ledger"
	"github.com/noah-isme/backend-bullion/internal/lock"
	"github.com/noah-isme/backend-bullion/internal/obs"
	"github.com/noah-isme/backend-bullion/internal/order"
	"github.com/noah-isme/backend-bullion/internal/payment"
	"github.com/noah-isme/backend-bullion/internal/pricing"
	"github.com/noah-isme/backend-bullion/internal/ratelimit"
	"github.com/noah-isme/backend-bullion/internal/repo"
	"github.com/noah-isme/backend-bullion/internal/security"
	"github.com/noah-isme/backend-bullion/internal/spot"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("env", cfg.AppEnv).Logger()

	metricsNamespace := envOrDefault("OBS_METRICS_NAMESPACE", "bullion")
	metricsEnabled := envBool("OBS_ENABLE_PROMETHEUS", true)
	obs.MustRegisterDomainMetrics(metricsNamespace, nil)

	tracingEnabled := envBool("OBS_ENABLE_TRACING", true)
	if tracingEnabled {
		sampling := envFloat("OBS_TRACING_SAMPLING_RATIO", 1.0)
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "bullion-api",
			Endpoint:      envOrDefault("OBS_OTLP_ENDPOINT", ""),
			Exporter:      envOrDefault("OBS_TRACING_EXPORTER", "otlp"),
			SamplingRatio: sampling,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				ctx := context.Background()
				if err := shutdown(ctx); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	startCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	deps, cleanup, err := app.Build(startCtx, cfg, "bullion-api")
	if err != nil {
		logger.Fatal().Err(err).Msg("build dependencies")
	}
	defer cleanup()

	if envBool("DB_AUTO_MIGRATE", false) {
		dir := envOrDefault("MIGRATIONS_DIR", "migrations")
		if err := app.RunMigrations(cfg.DatabaseURL, dir); err != nil {
			logger.Fatal().Err(err).Str("dir", dir).Msg("run migrations")
		}
		logger.Info().Str("dir", dir).Msg("migrations applied")
	}

	pricingCfg := pricing.Config{
		ShippingFlatUsd:     cfg.ShippingFlatUsd,
		ShippingFreeOverUsd: cfg.ShippingFreeOverUsd,
		ProcessingFeeRate:   cfg.ProcessingFeeRate,
	}

	spotClient := spot.NewClient(cfg.SpotAPIURL, cfg.SpotAPIKey, cfg.SpotTimeout)
	cachedOracle := &spot.Cached{Oracle: spotClient, R: deps.Redis, TTL: cfg.SpotCacheTTL}
	spotHandler := spot.Handler{Oracle: cachedOracle}

	ordersRepo := repo.OrdersRepo{Pool: deps.DB}
	settlementsRepo := repo.SettlementsRepo{Pool: deps.DB}
	productsRepo := repo.ProductsRepo{Pool: deps.DB}
	eventsRepo := repo.EventsRepo{Pool: deps.DB}

	bus := &events.Bus{Store: eventsRepo}

	catalogSvc := &catalog.Service{
		Store: productsRepo,
		Cache: catalog.NewCache(deps.Redis, cfg.CatalogCacheTTL),
	}
	catalogHandler := &catalog.Handler{Svc: catalogSvc}

	cartSvc := &cart.Service{R: deps.Redis, TTL: cfg.CartTTL}
	cartHandler := &cart.Handler{
		Svc:      cartSvc,
		Oracle:   cachedOracle,
		Pricing:  pricingCfg,
		Validate: deps.Validator,
	}

	lockSvc := &lock.Service{R: deps.Redis, Duration: cfg.PriceLockTTL}
	lockHandler := &lock.Handler{
		Svc: lockSvc,
		Subtotal: func(r *http.Request, cartID string) (float64, error) {
			ctx := r.Context()
			c, err := cartSvc.Get(ctx, cartID)
			if err != nil {
				if errors.Is(err, cart.ErrNotFound) {
					return 0, common.NewAppError(common.CodeNotFound, "cart not found", http.StatusNotFound, err)
				}
				return 0, err
			}
			q, err := cachedOracle.Quote(ctx)
			if err != nil {
				return 0, common.NewAppError(common.CodeSpotUnavailable, "pricing temporarily unavailable", http.StatusServiceUnavailable, err)
			}
			b, err := pricingCfg.Price(q, c.LineItems())
			if err != nil {
				return 0, common.NewAppError(common.CodeValidation, err.Error(), http.StatusBadRequest, err)
			}
			return b.SubtotalUsd, nil
		},
	}

	stripeProvider := &payment.Stripe{
		SecretKey:     cfg.StripeSecretKey,
		WebhookSecret: cfg.StripeWebhookSecret,
	}

	checkoutSvc := &checkout.Service{
		Carts:    cartSvc,
		Orders:   ordersRepo,
		Oracle:   spotClient,
		Provider: stripeProvider,
		Pricing:  pricingCfg,
		Bus:      bus,
		Log:      logger,
	}
	checkoutHandler := &checkout.Handler{Svc: checkoutSvc, Validate: deps.Validator}

	ledgerEnqueuer := &ledger.Enqueuer{Client: deps.TaskClient, Log: logger}

	webhookHandler := payment.Webhook{
		Provider:    stripeProvider,
		Orders:      ordersRepo,
		Settlements: settlementsRepo,
		Bus:         bus,
		Ledger:      ledgerEnqueuer,
		Carts:       cartSvc,
		Locks:       lockSvc,
		Replay:      deps.Redis,
		ReplayTTL:   cfg.WebhookReplayTTL,
		Log:         logger,
	}

	orderHandler := &order.Handler{Orders: ordersRepo, Settlements: settlementsRepo}

	idem := common.Idem{R: deps.Redis, TTL: cfg.IdempotencyTTL}

	spotLimiter := ratelimit.Handler{
		Limiter: ratelimit.Limiter{Client: deps.Redis, Prefix: "rl:spot:"},
		Config: ratelimit.Config{
			Key:    func(r *http.Request) string { return r.RemoteAddr },
			Window: cfg.SpotRateWindow,
			Max:    cfg.SpotRateMax,
		},
		OnError: func(err error) {
			logger.Warn().Err(err).Msg("spot rate limiter degraded")
		},
	}

	apiLimiter, err := app.NewAPILimiter(deps.LimiterStore, cfg.APIRateLimit)
	if err != nil {
		logger.Fatal().Err(err).Msg("configure api rate limit")
	}

	var httpMetrics *obs.HTTPMetrics
	if metricsEnabled {
		buckets := obs.ParseBucketsCSV(envOrDefault("OBS_METRICS_BUCKETS_MS", ""))
		httpMetrics = obs.NewHTTPMetrics(metricsNamespace, buckets, nil)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.RoutePatternMiddleware)
	if tracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if metricsEnabled && httpMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(security.Headers{
		Enable:                envBool("SECURE_HEADERS_ENABLED", true),
		EnableHSTS:            envBool("SECURE_HSTS_ENABLED", false),
		HSTSMaxAge:            envInt("SECURE_HSTS_MAX_AGE", 31536000),
		HSTSIncludeSubdomains: envBool("SECURE_HSTS_INCLUDE_SUBDOMAINS", true),
	}.Middleware)
	r.Use(security.BodyLimit{Max: int64(envInt("SECURE_MAX_BODY_BYTES", 1<<20))}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"Link", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	if envBool("OBS_ENABLE_PPROF", true) {
		user := envOrDefault("SECURE_PPROF_BASIC_AUTH_USER", "")
		pass := envOrDefault("SECURE_PPROF_BASIC_AUTH_PASS", "")
		r.Mount("/debug/pprof", protectPprof(newPprofMux(), user, pass))
	}

	healthHandler := health.Handler{
		Checker:      health.Probes{DB: deps.DB, Redis: deps.Redis},
		DBTimeout:    envDurationMillis("HEALTH_READY_DB_TIMEOUT_MS", 500),
		RedisTimeout: envDurationMillis("HEALTH_READY_REDIS_TIMEOUT_MS", 300),
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		v.Use(limiterstdlib.NewMiddleware(apiLimiter).Handler)

		v.With(spotLimiter.Middleware).Get("/spot", spotHandler.Get)

		v.Get("/products", catalogHandler.Products)
		v.Get("/products/{slug}", catalogHandler.ProductDetail)

		v.Route("/carts", func(c chi.Router) {
			c.Post("/", cartHandler.Create)
			c.Route("/{id}", func(cc chi.Router) {
				cc.Get("/", cartHandler.Get)
				cc.Post("/items", cartHandler.AddItem)
				cc.Delete("/items", cartHandler.Clear)
				cc.Patch("/items/{itemId}", cartHandler.UpdateItem)
				cc.Delete("/items/{itemId}", cartHandler.RemoveItem)
				cc.Get("/estimate", cartHandler.Estimate)
				cc.Post("/lock", lockHandler.Create)
				cc.Get("/lock", lockHandler.Get)
			})
		})

		v.With(idem.Middleware).Post("/checkout/payment-intent", checkoutHandler.PaymentIntent)

		v.Get("/orders/{orderId}", orderHandler.Get)
		v.Get("/orders/{orderId}/settlements", orderHandler.SettlementHistory)

		v.Post("/webhooks/payment/stripe", webhookHandler.Handle)
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("api listening")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("serve")
		}
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
		health.SetReady(false)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("shutdown http server")
		}
	}
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "1", "t", "true", "yes", "on":
			return true
		case "0", "f", "false", "no", "off":
			return false
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return parsed
		}
	}
	return fallback
}

func envDurationMillis(key string, fallback int) time.Duration {
	return time.Duration(envInt(key, fallback)) * time.Millisecond
}

func newPprofMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", pprof.Index)
	mux.HandleFunc("/cmdline", pprof.Cmdline)
	mux.HandleFunc("/profile", pprof.Profile)
	mux.HandleFunc("/symbol", pprof.Symbol)
	mux.HandleFunc("/trace", pprof.Trace)
	mux.Handle("/allocs", pprof.Handler("allocs"))
	mux.Handle("/block", pprof.Handler("block"))
	mux.Handle("/goroutine", pprof.Handler("goroutine"))
	mux.Handle("/heap", pprof.Handler("heap"))
	mux.Handle("/mutex", pprof.Handler("mutex"))
	mux.Handle("/threadcreate", pprof.Handler("threadcreate"))
	return mux
}

func protectPprof(handler http.Handler, user, pass string) http.Handler {
	user = strings.TrimSpace(user)
	pass = strings.TrimSpace(pass)
	if user == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 || subtle.ConstantTimeCompare([]byte(p), []byte(pass)) != 1 {
			w.Header().Set("WWW-Authenticate", "Basic realm=restricted")
			http.Error(w, "unauthorised", http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
