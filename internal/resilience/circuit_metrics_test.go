package resilience_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-donasi/internal/resilience"
)

func TestBreakerPublishesStateAndTransitions(t *testing.T) {
	const target = "razorpay-metrics"
	ctx := context.Background()
	b := resilience.NewBreaker(1, 0.5, 20*time.Millisecond).WithTarget(target)
	state := func() float64 { return testutil.ToFloat64(resilience.BreakerState.WithLabelValues(target)) }
	moved := func(from, to string) float64 {
		return testutil.ToFloat64(resilience.BreakerTransitions.WithLabelValues(target, from, to))
	}

	require.Equal(t, float64(resilience.Closed), state())

	require.True(t, b.Allow(ctx))
	b.Report(ctx, false)
	require.Equal(t, float64(resilience.Open), state())

	require.Eventually(t, func() bool { return b.Allow(ctx) }, 200*time.Millisecond, 5*time.Millisecond)
	require.Equal(t, float64(resilience.HalfOpen), state())

	b.Report(ctx, true)
	require.Equal(t, float64(resilience.Closed), state())

	require.Equal(t, 1.0, testutil.ToFloat64(resilience.BreakerOpenedTotal.WithLabelValues(target)))
	require.Equal(t, 1.0, moved("closed", "open"))
	require.Equal(t, 1.0, moved("open", "half_open"))
	require.Equal(t, 1.0, moved("half_open", "closed"))
}
