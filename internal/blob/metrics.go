package blob

import "github.com/prometheus/client_golang/prometheus"

var (
	transferBytesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "upscaled",
			Subsystem: "transfer",
			Name:      "bytes_total",
			Help:      "Bytes moved between the object store and local disk",
		},
		[]string{"direction"},
	)

	transferCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "upscaled",
			Subsystem: "transfer",
			Name:      "cache_lookups_total",
			Help:      "Local cache lookups on fetch by result (hit, miss)",
		},
		[]string{"result"},
	)

	transferErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "upscaled",
			Subsystem: "transfer",
			Name:      "errors_total",
			Help:      "Failed transfers by operation",
		},
		[]string{"op"},
	)
)

func init() {
	prometheus.MustRegister(transferBytesTotal, transferCacheTotal, transferErrorsTotal)
}
