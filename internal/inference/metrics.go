package inference

import "github.com/prometheus/client_golang/prometheus"

var (
	itemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "upscaled",
			Subsystem: "items",
			Name:      "total",
			Help:      "Processed items by status and error kind",
		},
		[]string{"status", "kind"},
	)

	itemDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "upscaled",
			Subsystem: "items",
			Name:      "duration_seconds",
			Help:      "End-to-end item time (fetch, enhance, store)",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"status"},
	)

	itemsInflight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "upscaled",
		Subsystem: "items",
		Name:      "inflight",
		Help:      "Items currently being processed",
	})

	batchItems = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "upscaled",
		Subsystem: "batch",
		Name:      "items",
		Help:      "Items per batch request",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
	})
)

func init() {
	prometheus.MustRegister(itemsTotal, itemDuration, itemsInflight, batchItems)
}
