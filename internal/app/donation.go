package app

import (
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/noah-isme/backend-donasi/internal/config"
	"github.com/noah-isme/backend-donasi/internal/donation"
	"github.com/noah-isme/backend-donasi/internal/events"
	"github.com/noah-isme/backend-donasi/internal/lock"
	"github.com/noah-isme/backend-donasi/internal/payment"
	"github.com/noah-isme/backend-donasi/internal/queue"
	"github.com/noah-isme/backend-donasi/internal/resilience"
)

// NewGateway builds the Razorpay client behind a circuit breaker. Outbound
// requests are traced through otelhttp.
func NewGateway(cfg config.GatewayConfig, logger zerolog.Logger) *payment.Razorpay {
	breaker := resilience.NewBreaker(cfg.BreakerMinReq, cfg.BreakerRatio, cfg.BreakerOpenFor).
		WithTarget("razorpay").
		WithLogger(logger)
	return &payment.Razorpay{
		KeyID:     cfg.KeyID,
		KeySecret: cfg.KeySecret,
		BaseURL:   cfg.BaseURL,
		HTTP: resilience.HTTPClient{
			Client:      &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
			Breaker:     breaker,
			BaseBackoff: 200 * time.Millisecond,
			MaxAttempts: cfg.MaxAttempts,
			Jitter:      0.2,
			Timeout:     cfg.Timeout,
		},
	}
}

// QueueEnqueuer returns the Redis queue publisher shared by the API and worker.
func QueueEnqueuer(cfg *config.Config, rdb redis.Cmdable) queue.Enqueuer {
	return queue.Enqueuer{R: rdb, Prefix: cfg.Queue.Prefix, DedupTTL: 24 * time.Hour}
}

// NewDonationService assembles the checkout service over Postgres, Redis and the gateway.
func NewDonationService(cfg *config.Config, pool *pgxpool.Pool, rdb redis.Cmdable, bus *events.Bus, logger zerolog.Logger) *donation.Service {
	return &donation.Service{
		Store:          donation.NewStore(pool),
		Gateway:        NewGateway(cfg.Gateway, logger),
		KeySecret:      cfg.Gateway.KeySecret,
		Orders:         donation.RedisOrderCache{R: rdb},
		Locker:         lock.Locker{R: rdb, RetryBackoff: 50 * time.Millisecond, MaxWait: cfg.Donation.VerifyLockTTL},
		ReconcileQueue: QueueEnqueuer(cfg, rdb),
		Events:         bus,
		Rules: donation.Rules{
			MinAmount:         cfg.Donation.MinAmount,
			Currency:          cfg.Donation.Currency,
			ReceiptPrefix:     cfg.Donation.ReceiptPrefix,
			DefaultPurpose:    cfg.Donation.DefaultPurpose,
			OrderCacheTTL:     cfg.Donation.OrderCacheTTL,
			VerifyLockTTL:     cfg.Donation.VerifyLockTTL,
			PersistTimeout:    5 * time.Second,
			ReconcileAttempts: cfg.Queue.MaxAttempts,
		},
		Logger: logger.With().Str("component", "donation").Logger(),
	}
}

// CheckoutConfig is the public widget configuration derived from cfg.
func CheckoutConfig(cfg *config.Config) donation.CheckoutConfig {
	return donation.CheckoutConfig{
		KeyID:          cfg.Gateway.KeyID,
		Name:           cfg.Donation.OrgName,
		Description:    cfg.Donation.Description,
		ThemeColor:     cfg.Donation.ThemeColor,
		Currency:       cfg.Donation.Currency,
		MinAmount:      cfg.Donation.MinAmount,
		DefaultPurpose: cfg.Donation.DefaultPurpose,
		Presets:        donation.Presets(cfg.Donation.PresetAmounts),
	}
}
