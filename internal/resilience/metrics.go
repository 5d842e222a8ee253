package resilience

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Breaker series are labelled by target, one per upstream.
var (
	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "donasi",
		Name:      "breaker_state",
		Help:      "Breaker position: 0 closed, 1 open, 2 half-open.",
	}, []string{"target"})
	BreakerTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "donasi",
		Name:      "breaker_transition_total",
		Help:      "Breaker state changes.",
	}, []string{"target", "from", "to"})
	BreakerOpenedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "donasi",
		Name:      "breaker_open_total",
		Help:      "Times a breaker tripped open.",
	}, []string{"target"})
)
