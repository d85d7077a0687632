package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "safecircle"

// Metrics 指标管理器。所有方法对 nil 接收者安全，测试里可直接传 nil
type Metrics struct {
	// HTTP请求指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	rateLimitedTotal    *prometheus.CounterVec

	// 缓存指标
	cacheHitsTotal   *prometheus.CounterVec
	cacheMissesTotal *prometheus.CounterVec

	// 业务指标
	alertsCreatedTotal   *prometheus.CounterVec
	checkInsCreatedTotal prometheus.Counter
	transitionsTotal     *prometheus.CounterVec
	escalationsTotal     prometheus.Counter
	sweepDuration        *prometheus.HistogramVec
	versionConflicts     *prometheus.CounterVec

	// 实时推送指标
	wsConnections prometheus.Gauge
	wsDelivered   *prometheus.CounterVec
	wsDropped     prometheus.Counter

	// 离线推送
	pushTotal *prometheus.CounterVec
}

// NewMetrics 创建指标管理器并注册到 reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		httpRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),

		httpRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		rateLimitedTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_rate_limited_total",
				Help:      "Requests rejected by the rate limiter",
			},
			[]string{"path"},
		),

		cacheHitsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_hits_total",
				Help:      "Total number of cache hits",
			},
			[]string{"cache"},
		),

		cacheMissesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_misses_total",
				Help:      "Total number of cache misses",
			},
			[]string{"cache"},
		),

		alertsCreatedTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "alerts_created_total",
				Help:      "Alerts raised, by type and severity",
			},
			[]string{"type", "severity"},
		),

		checkInsCreatedTotal: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "checkins_created_total",
				Help:      "Check-ins started",
			},
		),

		transitionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "status_transitions_total",
				Help:      "Lifecycle transitions of alerts and check-ins",
			},
			[]string{"entity", "to"},
		),

		escalationsTotal: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "alert_escalations_total",
				Help:      "Alerts escalated by the sweep",
			},
		),

		sweepDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "sweep_duration_seconds",
				Help:      "Duration of periodic sweeps",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"sweep"},
		),

		versionConflicts: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "version_conflicts_total",
				Help:      "Optimistic concurrency retries",
			},
			[]string{"entity"},
		),

		wsConnections: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "ws_connections",
				Help:      "Open realtime connections",
			},
		),

		wsDelivered: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ws_messages_delivered_total",
				Help:      "Realtime messages queued to connections",
			},
			[]string{"type"},
		),

		wsDropped: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ws_messages_dropped_total",
				Help:      "Realtime messages dropped because a send buffer was full",
			},
		),

		pushTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "push_notifications_total",
				Help:      "Push notification attempts by outcome",
			},
			[]string{"channel", "status"},
		),
	}
}

// RecordHTTPRequest 记录HTTP请求指标
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

func (m *Metrics) RecordRateLimited(path string) {
	if m == nil {
		return
	}
	m.rateLimitedTotal.WithLabelValues(path).Inc()
}

// RecordCacheHit 记录缓存命中
func (m *Metrics) RecordCacheHit(cache string) {
	if m == nil {
		return
	}
	m.cacheHitsTotal.WithLabelValues(cache).Inc()
}

// RecordCacheMiss 记录缓存未命中
func (m *Metrics) RecordCacheMiss(cache string) {
	if m == nil {
		return
	}
	m.cacheMissesTotal.WithLabelValues(cache).Inc()
}

func (m *Metrics) RecordAlertCreated(alertType, severity string) {
	if m == nil {
		return
	}
	m.alertsCreatedTotal.WithLabelValues(alertType, severity).Inc()
}

func (m *Metrics) RecordCheckInCreated() {
	if m == nil {
		return
	}
	m.checkInsCreatedTotal.Inc()
}

// RecordTransition 记录状态迁移，entity 为 alert 或 checkin
func (m *Metrics) RecordTransition(entity, to string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(entity, to).Inc()
}

func (m *Metrics) RecordEscalation() {
	if m == nil {
		return
	}
	m.escalationsTotal.Inc()
}

func (m *Metrics) RecordSweep(name string, duration time.Duration) {
	if m == nil {
		return
	}
	m.sweepDuration.WithLabelValues(name).Observe(duration.Seconds())
}

func (m *Metrics) RecordVersionConflict(entity string) {
	if m == nil {
		return
	}
	m.versionConflicts.WithLabelValues(entity).Inc()
}

func (m *Metrics) SetWSConnections(n int) {
	if m == nil {
		return
	}
	m.wsConnections.Set(float64(n))
}

func (m *Metrics) RecordWSDelivered(msgType string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.wsDelivered.WithLabelValues(msgType).Add(float64(n))
}

func (m *Metrics) RecordWSDropped() {
	if m == nil {
		return
	}
	m.wsDropped.Inc()
}

// RecordPush 记录离线推送结果，status 为 sent 或 failed
func (m *Metrics) RecordPush(channel, status string) {
	if m == nil {
		return
	}
	m.pushTotal.WithLabelValues(channel, status).Inc()
}
