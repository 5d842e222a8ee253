package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// RateLimitedTotal counts rejected requests per limiter: "sliding" for order
// creation, "login" for admin sign-in.
var RateLimitedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "donasi",
	Name:      "rate_limited_total",
	Help:      "Requests rejected by a rate limiter.",
}, []string{"limiter"})
