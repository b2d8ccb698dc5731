// Package metrics exposes gateway counters and latencies on Prometheus.
//
// Metrics (namespace from METRICS_NAMESPACE):
//   - requests_total{tenant_id,provider,status}: completed pipeline runs
//   - request_duration_seconds{provider,status}: end-to-end latency
//   - tokens_total{provider,type}: prompt and completion tokens
//   - cost_usd_total{tenant_id,provider}: charged spend
//   - cache_hits_total{tenant_id}
//   - rate_limit_exceeded_total{tenant_id}
//   - provider_attempts_total{provider,outcome} and provider_attempt_duration_seconds{provider}
//   - active_requests
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tenant_gateway/internal/config"
)

// maxTenantLabels caps distinct tenant_id values; later tenants share "other".
const maxTenantLabels = 10000

var durationBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0}

// Collector implements the pipeline's metrics sink on a private registry.
type Collector struct {
	registry *prometheus.Registry
	tenants  *tenantLimiter

	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	tokensTotal      *prometheus.CounterVec
	costTotal        *prometheus.CounterVec
	cacheHitsTotal   *prometheus.CounterVec
	rateLimitedTotal *prometheus.CounterVec
	attemptsTotal    *prometheus.CounterVec
	attemptDuration  *prometheus.HistogramVec
	activeRequests   prometheus.Gauge
}

// NewCollector creates and registers the gateway metrics. A nil registry gets
// a fresh one so tests and multiple gateways in one process do not collide.
func NewCollector(cfg config.MetricsConfig, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	ns := cfg.Namespace
	if ns == "" {
		ns = "tenant_gateway"
	}

	c := &Collector{
		registry: registry,
		tenants:  newTenantLimiter(maxTenantLabels),

		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "requests_total",
			Help:      "Completed completion requests by tenant, provider and status",
		}, []string{"tenant_id", "provider", "status"}),

		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "request_duration_seconds",
			Help:      "End-to-end latency of completion requests",
			Buckets:   durationBuckets,
		}, []string{"provider", "status"}),

		tokensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "tokens_total",
			Help:      "Tokens processed by provider and type",
		}, []string{"provider", "type"}),

		costTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "cost_usd_total",
			Help:      "Charged spend in USD",
		}, []string{"tenant_id", "provider"}),

		cacheHitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "cache_hits_total",
			Help:      "Requests answered from the response cache",
		}, []string{"tenant_id"}),

		rateLimitedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "rate_limit_exceeded_total",
			Help:      "Requests rejected by the per-tenant quota",
		}, []string{"tenant_id"}),

		attemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "provider_attempts_total",
			Help:      "Provider attempts by outcome",
		}, []string{"provider", "outcome"}),

		attemptDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "provider_attempt_duration_seconds",
			Help:      "Latency of individual provider attempts",
			Buckets:   durationBuckets,
		}, []string{"provider"}),

		activeRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "active_requests",
			Help:      "Requests currently in the pipeline",
		}),
	}

	registry.MustRegister(
		c.requestsTotal,
		c.requestDuration,
		c.tokensTotal,
		c.costTotal,
		c.cacheHitsTotal,
		c.rateLimitedTotal,
		c.attemptsTotal,
		c.attemptDuration,
		c.activeRequests,
	)
	return c
}

// RequestStarted marks a request as in flight. Call the returned func when it ends.
func (c *Collector) RequestStarted() func() {
	c.activeRequests.Inc()
	return c.activeRequests.Dec
}

// RequestCompleted records a finished pipeline run
func (c *Collector) RequestCompleted(tenantID, provider, status string, duration time.Duration, promptTokens, completionTokens int, costUSD float64) {
	tenantID = c.tenants.label(tenantID)
	if provider == "" {
		provider = "none"
	}

	c.requestsTotal.WithLabelValues(tenantID, provider, status).Inc()
	c.requestDuration.WithLabelValues(provider, status).Observe(duration.Seconds())
	if promptTokens > 0 {
		c.tokensTotal.WithLabelValues(provider, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		c.tokensTotal.WithLabelValues(provider, "completion").Add(float64(completionTokens))
	}
	if costUSD > 0 {
		c.costTotal.WithLabelValues(tenantID, provider).Add(costUSD)
	}
}

// CacheHit records a request served from the response cache
func (c *Collector) CacheHit(tenantID string) {
	c.cacheHitsTotal.WithLabelValues(c.tenants.label(tenantID)).Inc()
}

// QuotaRejected records a request turned away by the quota
func (c *Collector) QuotaRejected(tenantID string) {
	c.rateLimitedTotal.WithLabelValues(c.tenants.label(tenantID)).Inc()
}

// ProviderAttempt records one provider call; outcome is "success", "error" or "timeout"
func (c *Collector) ProviderAttempt(provider, outcome string, duration time.Duration) {
	c.attemptsTotal.WithLabelValues(provider, outcome).Inc()
	c.attemptDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// Handler serves the registry in the Prometheus exposition format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}

// Registry returns the underlying registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Noop discards everything. Used when metrics are disabled.
type Noop struct{}

func (Noop) RequestStarted() func() { return func() {} }

func (Noop) RequestCompleted(tenantID, provider, status string, duration time.Duration, promptTokens, completionTokens int, costUSD float64) {
}

func (Noop) CacheHit(tenantID string) {}

func (Noop) QuotaRejected(tenantID string) {}

func (Noop) ProviderAttempt(provider, outcome string, duration time.Duration) {}

// tenantLimiter bounds tenant_id cardinality.
type tenantLimiter struct {
	max  int
	mu   sync.RWMutex
	seen map[string]struct{}
}

func newTenantLimiter(limit int) *tenantLimiter {
	return &tenantLimiter{max: limit, seen: make(map[string]struct{})}
}

func (l *tenantLimiter) label(tenantID string) string {
	if tenantID == "" {
		return "unknown"
	}

	l.mu.RLock()
	_, ok := l.seen[tenantID]
	l.mu.RUnlock()
	if ok {
		return tenantID
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.seen[tenantID]; ok {
		return tenantID
	}
	if len(l.seen) >= l.max {
		return "other"
	}
	l.seen[tenantID] = struct{}{}
	return tenantID
}
