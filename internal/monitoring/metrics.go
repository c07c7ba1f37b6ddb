package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 网关监控指标
type Metrics struct {
	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// 认证指标
	AuthFailuresTotal *prometheus.CounterVec
	AuthSuccessTotal  *prometheus.CounterVec

	// 限流指标
	RateLimitAllowed *prometheus.CounterVec
	RateLimitBlocked *prometheus.CounterVec

	// 身份缓存指标
	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter

	// 计数存储可用性（1=connected）
	CounterStoreUp prometheus.Gauge

	// 错误指标
	PanicsTotal prometheus.Counter
}

// NewMetrics 创建监控指标
func NewMetrics() *Metrics {
	return &Metrics{
		HTTPRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
		AuthFailuresTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_auth_failures_total",
			Help: "Credential resolution failures by scheme and cause",
		}, []string{"scheme", "cause"}),
		AuthSuccessTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_auth_success_total",
			Help: "Successful credential resolutions by scheme",
		}, []string{"scheme"}),
		RateLimitAllowed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_rate_limit_allowed_total",
			Help: "Requests allowed by the rate limiter per scope class",
		}, []string{"scope"}),
		RateLimitBlocked: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_rate_limit_blocked_total",
			Help: "Requests blocked by the rate limiter per scope class",
		}, []string{"scope"}),
		CacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gateway_identity_cache_hits_total",
			Help: "Identity cache hits",
		}),
		CacheMisses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gateway_identity_cache_misses_total",
			Help: "Identity cache misses",
		}),
		CounterStoreUp: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_counter_store_up",
			Help: "Whether the shared counter store is reachable (1=yes)",
		}),
		PanicsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gateway_panics_total",
			Help: "Recovered panics",
		}),
	}
}

// RecordHTTPRequest 记录一次 HTTP 请求
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordAuthFailure 记录一次认证失败
func (m *Metrics) RecordAuthFailure(scheme, cause string) {
	m.AuthFailuresTotal.WithLabelValues(scheme, cause).Inc()
}

// RecordRateDecision 记录一次限流判定
func (m *Metrics) RecordRateDecision(scopeClass string, allowed bool) {
	if allowed {
		m.RateLimitAllowed.WithLabelValues(scopeClass).Inc()
	} else {
		m.RateLimitBlocked.WithLabelValues(scopeClass).Inc()
	}
}

// Handler 返回 /metrics 处理器
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
