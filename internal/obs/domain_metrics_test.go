package obs_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-donasi/internal/obs"
)

func TestCountToleratesUnregisteredVec(t *testing.T) {
	require.NotPanics(t, func() {
		obs.Count(nil, "success")
		obs.Add(nil, 10, "INR")
	})
}

func TestDomainMetricsRecordOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	obs.MustRegisterDomainMetrics("donasi_test", reg)

	before := testutil.ToFloat64(obs.DonationVerifyTotal.WithLabelValues("success"))
	obs.Count(obs.DonationVerifyTotal, "success")
	require.Equal(t, before+1, testutil.ToFloat64(obs.DonationVerifyTotal.WithLabelValues("success")))

	amountBefore := testutil.ToFloat64(obs.DonationAmountTotal.WithLabelValues("INR"))
	obs.Add(obs.DonationAmountTotal, 500, "INR")
	obs.Add(obs.DonationAmountTotal, -3, "INR")
	require.Equal(t, amountBefore+500, testutil.ToFloat64(obs.DonationAmountTotal.WithLabelValues("INR")))
}
