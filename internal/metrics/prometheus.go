package metrics

import (
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	QueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "market_retriever_query_duration_seconds",
			Help:    "Retrieval cycle duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
		},
		[]string{"intent"},
	)

	QueryTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "market_retriever_query_total",
			Help: "Total number of retrieval cycles by aggregate status",
		},
		[]string{"status"},
	)

	RouteDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "market_retriever_route_decisions_total",
			Help: "Route decisions by selected intent and source",
		},
		[]string{"intent", "source"},
	)

	ProbeTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "market_retriever_probe_total",
			Help: "Tool probe outcomes",
		},
		[]string{"branch", "status", "reason"},
	)

	ProbeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "market_retriever_probe_duration_seconds",
			Help:    "Tool probe duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 3},
		},
		[]string{"branch"},
	)

	FallbackTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "market_retriever_companion_fallback_total",
			Help: "Companion branch fallback rounds",
		},
		[]string{"from", "to"},
	)

	BreakerOpen = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "market_retriever_breaker_open",
			Help: "1 while a breaker key is inside its fast-fail window",
		},
		[]string{"key"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "market_retriever_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "market_retriever_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	AuditFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "market_retriever_audit_write_failures_total",
			Help: "Retrieval runs that could not be persisted",
		},
	)
)

var initOnce sync.Once

// Init registers every collector with the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			QueryDuration,
			QueryTotal,
			RouteDecisions,
			ProbeTotal,
			ProbeDuration,
			FallbackTotal,
			BreakerOpen,
			CacheHits,
			CacheMisses,
			AuditFailures,
		)
	})
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}

// Recorder adapts the package collectors to the dispatcher's hooks.
type Recorder struct{}

func (Recorder) ObserveProbe(branch, status, reason string, d time.Duration) {
	ProbeTotal.WithLabelValues(branch, status, reason).Inc()
	ProbeDuration.WithLabelValues(branch).Observe(d.Seconds())
}

func (Recorder) ObserveFallback(from, to string) {
	FallbackTotal.WithLabelValues(from, to).Inc()
}

func ObserveQuery(intent, status string, d time.Duration) {
	QueryDuration.WithLabelValues(intent).Observe(d.Seconds())
	QueryTotal.WithLabelValues(status).Inc()
}

func ObserveRoute(intent, source string) {
	RouteDecisions.WithLabelValues(intent, source).Inc()
}

func ObserveCache(cacheType string, hit bool) {
	if hit {
		CacheHits.WithLabelValues(cacheType).Inc()
		return
	}
	CacheMisses.WithLabelValues(cacheType).Inc()
}

func SetBreakerOpen(key string, open bool) {
	v := 0.0
	if open {
		v = 1
	}
	BreakerOpen.WithLabelValues(key).Set(v)
}
