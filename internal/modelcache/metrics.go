package modelcache

import "github.com/prometheus/client_golang/prometheus"

var (
	modelLoadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "upscaled",
			Subsystem: "models",
			Name:      "loads_total",
			Help:      "Model loads by family and result",
		},
		[]string{"family", "result"},
	)

	modelLoadSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "upscaled",
			Subsystem: "models",
			Name:      "load_seconds",
			Help:      "Time spent loading a model",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"family"},
	)

	modelsResident = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "upscaled",
			Subsystem: "models",
			Name:      "resident",
			Help:      "Number of models held in the cache",
		},
	)
)

func init() {
	prometheus.MustRegister(modelLoadsTotal, modelLoadSeconds, modelsResident)
}
