package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// unmatchedRoute заменяет путь запросов без маршрута, чтобы 404 не плодили метки
const unmatchedRoute = "unmatched"

// HTTPMetrics - Prometheus-метрики REST API:
//
//	<ns>_http_requests_total{method,route,code}
//	<ns>_http_request_duration_seconds{method,route}
//	<ns>_http_response_size_bytes{route}
//	<ns>_http_requests_inflight
type HTTPMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	size     *prometheus.HistogramVec
	inflight prometheus.Gauge
	gatherer prometheus.Gatherer
	skip     map[string]struct{}
}

// NewHTTPMetrics регистрирует метрики в reg (nil - глобальный регистр).
// Запросы к skipPaths не учитываются.
func NewHTTPMetrics(namespace string, reg *prometheus.Registry, skipPaths ...string) (*HTTPMetrics, error) {
	var registerer prometheus.Registerer = prometheus.DefaultRegisterer
	var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	if reg != nil {
		registerer, gatherer = reg, reg
	}

	m := &HTTPMetrics{
		gatherer: gatherer,
		skip:     make(map[string]struct{}, len(skipPaths)),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP-запросы по маршруту и коду ответа.",
		}, []string{"method", "route", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Длительность HTTP-запросов.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"method", "route"}),
		size: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "Размер тела ответа.",
			Buckets:   prometheus.ExponentialBuckets(256, 4, 8),
		}, []string{"route"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_inflight",
			Help:      "Запросы в обработке.",
		}),
	}
	for _, p := range skipPaths {
		m.skip[p] = struct{}{}
	}

	for _, c := range []prometheus.Collector{m.requests, m.duration, m.size, m.inflight} {
		if err := registerer.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *HTTPMetrics) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if _, ok := m.skip[route]; ok {
			c.Next()
			return
		}
		if route == "" {
			route = unmatchedRoute
		}

		m.inflight.Inc()
		start := time.Now()
		c.Next()
		m.inflight.Dec()

		method := c.Request.Method
		m.requests.WithLabelValues(method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.duration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
		if n := c.Writer.Size(); n > 0 {
			m.size.WithLabelValues(route).Observe(float64(n))
		}
	}
}

// RegisterMetricsEndpoint отдаёт GET /metrics из того же регистра.
func (m *HTTPMetrics) RegisterMetricsEndpoint(r gin.IRoutes) {
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})))
}
