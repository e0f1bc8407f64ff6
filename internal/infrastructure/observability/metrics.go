package observability

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Outcome of issue/verify/rotate/revoke, labelled with the internal reason.
	AuthOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_operations_total",
			Help: "Total number of auth operations by outcome",
		},
		[]string{"operation", "outcome"},
	)

	SessionStoreCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_store_calls_total",
			Help: "Total number of session store calls",
		},
		[]string{"method", "status"},
	)

	SessionStoreDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "session_store_duration_seconds",
			Help:    "Duration of session store calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	RepositoryCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repository_calls_total",
			Help: "Total number of repository method calls",
		},
		[]string{"method", "status"},
	)

	RepositoryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "repository_duration_seconds",
			Help:    "Duration of repository method calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

// ObserveStore records one session store call.
func ObserveStore(method, status string, start time.Time) {
	SessionStoreCalls.WithLabelValues(method, status).Inc()
	SessionStoreDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
}

func InitMetrics(addr string) *http.Server {
	prometheus.MustRegister(AuthOperations, SessionStoreCalls, SessionStoreDuration, RepositoryCalls, RepositoryDuration)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server failed", "addr", addr, "error", err)
		}
	}()
	return srv
}
