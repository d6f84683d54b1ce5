package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	RowsProcessed          *prometheus.CounterVec
	Batches                prometheus.Counter
	ProviderRequestSeconds *prometheus.HistogramVec
	ProviderErrors         *prometheus.CounterVec
	InFlight               prometheus.Gauge
	RateLimitWaitSeconds   *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RowsProcessed: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "geocoding_rows_processed_total",
			Help: "Total number of processed import rows.",
		}, []string{"status"}),
		Batches: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "geocoding_batches_total",
			Help: "Total number of completed batches.",
		}),
		ProviderRequestSeconds: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "geocoding_provider_request_duration_seconds",
			Help:    "Duration of requests to the geocoding provider API.",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),
		ProviderErrors: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "geocoding_provider_api_errors_total",
			Help: "Total number of errors received from the geocoding provider API.",
		}, []string{"provider", "category"}),
		InFlight: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "geocoding_rows_in_flight",
			Help: "Current number of rows holding a concurrency permit.",
		}),
		RateLimitWaitSeconds: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "geocoding_rate_limit_wait_seconds",
			Help:    "Time spent waiting for a provider rate-limit token.",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"provider"}),
	}
}

// ObserveRateLimitWait records how long a caller waited for a token of the named bucket.
func (m *Metrics) ObserveRateLimitWait(provider string, wait time.Duration) {
	m.RateLimitWaitSeconds.WithLabelValues(provider).Observe(wait.Seconds())
}
