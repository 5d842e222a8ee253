package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-donasi/internal/analytics"
	"github.com/noah-isme/backend-donasi/internal/app"
	"github.com/noah-isme/backend-donasi/internal/audit"
	"github.com/noah-isme/backend-donasi/internal/auth"
	"github.com/noah-isme/backend-donasi/internal/common"
	"github.com/noah-isme/backend-donasi/internal/config"
	"github.com/noah-isme/backend-donasi/internal/donation"
	"github.com/noah-isme/backend-donasi/internal/events"
	"github.com/noah-isme/backend-donasi/internal/health"
	"github.com/noah-isme/backend-donasi/internal/notify"
	"github.com/noah-isme/backend-donasi/internal/obs"
	"github.com/noah-isme/backend-donasi/internal/queue"
	"github.com/noah-isme/backend-donasi/internal/ratelimit"
	"github.com/noah-isme/backend-donasi/internal/security"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.Obs.LogFormat, cfg.Obs.LogLevel).With().Str("env", cfg.AppEnv).Logger()

	metricsEnabled := cfg.Obs.Prometheus
	obs.MustRegisterDomainMetrics(cfg.Obs.MetricsNamespace, nil)

	tracingEnabled := cfg.Obs.Tracing
	if tracingEnabled {
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "donasi-api",
			Endpoint:      cfg.Obs.OTLPEndpoint,
			Exporter:      cfg.Obs.TracingExporter,
			SamplingRatio: cfg.Obs.SamplingRatio,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdown(ctx); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	if cfg.AutoMigrate {
		if err := app.RunMigrations(cfg.DatabaseURL); err != nil {
			logger.Fatal().Err(err).Msg("run migrations")
		}
		logger.Info().Msg("migrations applied")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := app.NewPool(ctx, cfg.DatabaseURL, "donasi-api")
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()

	redisClient, err := app.NewRedis(ctx, cfg.RedisURL, metricsEnabled, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect redis")
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()

	taskClient, err := app.NewTaskClient(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise task client")
	}
	defer func() {
		if err := taskClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close task client")
		}
	}()

	analyticsSvc := &analytics.Service{Q: analytics.NewQuerier(pool), R: redisClient, TTL: cfg.AnalyticsCacheTTL}
	analyticsHandler := &analytics.Handler{Svc: analyticsSvc, Logger: logger}

	bus := &events.Bus{
		Store: events.NewStore(pool),
		Notifiers: []events.Notifier{
			notify.ReceiptEnqueuer{Client: taskClient, Enabled: cfg.ReceiptsEnabled},
			analyticsSvc,
		},
	}

	donationSvc := app.NewDonationService(cfg, pool, redisClient, bus, logger)
	donationHandler := &donation.Handler{Service: donationSvc, Checkout: app.CheckoutConfig(cfg), Logger: logger}

	authService, err := auth.NewService(auth.Config{
		Store:          auth.NewStore(pool),
		Secret:         cfg.JWTSecret,
		AccessTokenTTL: cfg.AccessTokenTTL,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise auth service")
	}
	authHandler := &auth.Handler{Service: authService, Logger: logger}
	authMiddleware := auth.Middleware{Tokens: authService}

	loginLimiter, err := ratelimit.NewLoginLimiter(redisClient, ratelimit.LoginConfig{Rate: cfg.LoginRate})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise login limiter")
	}

	auditSvc := &audit.Service{Store: audit.NewStore(pool), Enabled: cfg.AuditEnabled, SamplingRate: 1}
	auditRecorder := audit.HTTPRecorder{
		Service: auditSvc,
		OnError: func(err error) { logger.Error().Err(err).Msg("audit_record_failed") },
	}
	auditHandler := &audit.Handler{Store: auditSvc.Store, Logger: logger}

	reconcileAdmin := &queue.AdminHandler{
		Store:             queue.NewStore(pool),
		Queue:             app.QueueEnqueuer(cfg, redisClient),
		DefaultKind:       donation.ReconcileKind,
		Logger:            logger,
		VisibilityTimeout: cfg.Queue.VisibilityTimeout,
	}

	idem := common.Idem{R: redisClient, TTL: 24 * time.Hour, Reject: donation.WriteRejection}
	orderLimit := ratelimit.Handler{
		Limiter: ratelimit.Limiter{Client: redisClient},
		Config:  ratelimit.Config{Key: ratelimit.ClientIPKey, Window: cfg.CreateOrderWindow, Max: cfg.CreateOrderMax},
		OnError: func(err error) { logger.Warn().Err(err).Msg("rate_limiter_unavailable") },
		Reject:  donation.WriteRejection,
	}
	bodyLimit := security.BodyLimit{Max: cfg.BodyLimitBytes, Reject: donation.WriteRejection}

	var httpMetrics *obs.HTTPMetrics
	if metricsEnabled {
		buckets := obs.ParseBucketsCSV(cfg.Obs.MetricsBuckets)
		httpMetrics = obs.NewHTTPMetrics(cfg.Obs.MetricsNamespace, buckets, nil)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.Scoped)
	if tracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if metricsEnabled && httpMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(security.Headers{Enable: true, EnableHSTS: cfg.IsProduction(), HSTSIncludeSubdomains: true}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins(cfg),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		MaxAge:         300,
	}))

	if metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	if cfg.Obs.Pprof {
		r.Mount("/debug/pprof", protectPprof(newPprofMux(), cfg.Obs.PprofUser, cfg.Obs.PprofPass))
	}

	healthHandler := health.Handler{
		Checks: []health.Check{
			health.Postgres(pool, cfg.ReadyDBTimeout),
			health.Redis(redisClient, cfg.ReadyRedisTimeout),
		},
		Logger: logger,
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		v.Route("/donations", func(d chi.Router) {
			d.Get("/checkout-config", donationHandler.CheckoutConfigHandler)
			d.With(bodyLimit.Middleware, orderLimit.Middleware, idem.Middleware).Post("/orders", donationHandler.CreateOrder)
			d.With(bodyLimit.Middleware).Post("/verify", donationHandler.VerifyPayment)
		})

		v.Route("/auth", func(a chi.Router) {
			a.With(security.BodyLimit{Max: 4 << 10}.Middleware, loginLimiter).Post("/login", authHandler.Login)
			a.With(authMiddleware.RequireAuth).Get("/me", authHandler.Me)
		})

		v.Route("/admin", func(admin chi.Router) {
			admin.Use(authMiddleware.RequireAuth)
			admin.With(auditRecorder.Middleware(audit.HTTPConfig{Action: "donation.list", ResourceType: "donation"})).
				Get("/donations", donationHandler.List)
			admin.With(auditRecorder.Middleware(audit.HTTPConfig{Action: "donation.stats", ResourceType: "donation"})).
				Get("/donations/stats", analyticsHandler.Stats)
			admin.With(auditRecorder.Middleware(audit.HTTPConfig{Action: "donation.view", ResourceType: "donation", ResourceIDParam: "id"})).
				Get("/donations/{id}", donationHandler.Get)
			admin.Get("/audit", auditHandler.List)
			admin.With(auditRecorder.Middleware(audit.HTTPConfig{Action: "reconciliation.list", ResourceType: "reconciliation"})).
				Get("/reconciliation", reconcileAdmin.List)
			admin.Get("/reconciliation/stats", reconcileAdmin.Stats)
			admin.With(auditRecorder.Middleware(audit.HTTPConfig{Action: "reconciliation.replay", ResourceType: "reconciliation"})).
				Post("/reconciliation/replay", reconcileAdmin.Replay)
		})
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("server starting")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server exited unexpectedly")
		}
	case <-sigCtx.Done():
		shutdownServer(srv, cfg.ShutdownTimeout, logger)
	}
}

func shutdownServer(srv *http.Server, timeout time.Duration, logger zerolog.Logger) {
	health.SetReady(false)
	logger.Info().Msg("server shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown")
	}
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}

func newPprofMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", pprof.Index)
	mux.HandleFunc("/cmdline", pprof.Cmdline)
	mux.HandleFunc("/profile", pprof.Profile)
	mux.HandleFunc("/symbol", pprof.Symbol)
	mux.HandleFunc("/trace", pprof.Trace)
	mux.Handle("/allocs", pprof.Handler("allocs"))
	mux.Handle("/goroutine", pprof.Handler("goroutine"))
	mux.Handle("/heap", pprof.Handler("heap"))
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
