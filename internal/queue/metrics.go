package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "donasi",
		Name:      "queue_depth",
		Help:      "Ready tasks per kind, sampled by workers and the stats endpoint.",
	}, []string{"kind"})
	QueueEnqueuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "donasi",
		Name:      "queue_enqueued_total",
		Help:      "Tasks accepted into the queue.",
	}, []string{"kind"})
	QueueProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "donasi",
		Name:      "queue_processed_total",
		Help:      "Task deliveries by outcome: ok, retry or dead.",
	}, []string{"kind", "status"})
	QueueDLQSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "donasi",
		Name:      "queue_dlq_size",
		Help:      "Tasks parked after exhausting their attempts.",
	}, []string{"kind"})
)

func queueLabel(kind string) string {
	if kind == "" {
		return "all"
	}
	return kind
}
