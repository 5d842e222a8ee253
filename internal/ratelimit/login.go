package ratelimit

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/redis/go-redis/v9"
	limiter "github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"

	"github.com/noah-isme/backend-donasi/internal/common"
)

// LoginConfig configures the fixed-window admin login throttle.
type LoginConfig struct {
	// Rate uses the limiter format, e.g. "5-M" for five attempts per minute.
	Rate   string
	Prefix string
}

// NewLoginLimiter returns middleware that throttles login attempts per client IP.
// Store errors reject the attempt with 503.
func NewLoginLimiter(client *redis.Client, cfg LoginConfig) (func(http.Handler) http.Handler, error) {
	if client == nil {
		return nil, fmt.Errorf("ratelimit: redis client is required")
	}
	rate, err := limiter.NewRateFromFormatted(strings.TrimSpace(cfg.Rate))
	if err != nil {
		return nil, fmt.Errorf("ratelimit: parse login rate: %w", err)
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "donasi:login"
	}
	store, err := limiterredis.NewStoreWithOptions(client, limiter.StoreOptions{Prefix: prefix})
	if err != nil {
		return nil, fmt.Errorf("ratelimit: login store: %w", err)
	}
	instance := limiter.New(store, rate)
	mw := stdlib.NewMiddleware(instance,
		stdlib.WithKeyGetter(common.ClientIP),
		stdlib.WithLimitReachedHandler(func(w http.ResponseWriter, _ *http.Request) {
			RateLimitedTotal.WithLabelValues("login").Inc()
			common.JSONError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many login attempts, try again later", nil)
		}),
		stdlib.WithErrorHandler(func(w http.ResponseWriter, _ *http.Request, _ error) {
			common.JSONError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "login temporarily unavailable", nil)
		}),
	)
	return mw.Handler, nil
}
