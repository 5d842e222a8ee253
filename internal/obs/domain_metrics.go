package obs

import (
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// DonationOrderTotal counts gateway order creation outcomes.
	DonationOrderTotal *prometheus.CounterVec
	// DonationVerifyTotal counts payment verification outcomes.
	DonationVerifyTotal *prometheus.CounterVec
	// DonationAmountTotal sums persisted donation amounts in whole currency units.
	DonationAmountTotal *prometheus.CounterVec
	// DonationReconcileTotal counts reconciliation attempts for verified payments without a record.
	DonationReconcileTotal *prometheus.CounterVec
	// ReceiptTotal counts receipt email outcomes.
	ReceiptTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		DonationOrderTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "donation_order_total",
			Help:      "Count of donation order creation outcomes.",
		}, []string{"result"})
		DonationVerifyTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "donation_verify_total",
			Help:      "Count of donation payment verification outcomes.",
		}, []string{"result"})
		DonationAmountTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "donation_amount_total",
			Help:      "Sum of recorded donation amounts in whole currency units.",
		}, []string{"currency"})
		DonationReconcileTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "donation_reconcile_total",
			Help:      "Count of donation reconciliation outcomes.",
		}, []string{"result"})
		ReceiptTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "donation_receipt_total",
			Help:      "Count of donation receipt email outcomes.",
		}, []string{"result"})

		for _, vec := range []**prometheus.CounterVec{
			&DonationOrderTotal, &DonationVerifyTotal, &DonationAmountTotal, &DonationReconcileTotal, &ReceiptTotal,
		} {
			register(reg, vec)
		}
	})
}

// Count increments a labelled counter when it has been registered. Packages
// used outside the binaries (tests, tools) may run without domain metrics.
func Count(vec *prometheus.CounterVec, labels ...string) {
	if vec == nil {
		return
	}
	vec.WithLabelValues(labels...).Inc()
}

// Add adds v to a labelled counter when it has been registered.
func Add(vec *prometheus.CounterVec, v float64, labels ...string) {
	if vec == nil || v <= 0 {
		return
	}
	vec.WithLabelValues(labels...).Add(v)
}

// register adds *c to reg. When an equal collector is already registered the
// existing one is stored in *c so every caller increments the same series.
func register[T prometheus.Collector](reg prometheus.Registerer, c *T) {
	err := reg.Register(*c)
	if err == nil {
		return
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(T); ok {
			*c = existing
		}
		return
	}
	panic(fmt.Errorf("register metric: %w", err))
}
