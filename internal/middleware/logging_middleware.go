package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/atillabyte/World/internal/logging"
)

// TraceHeader - заголовок ответа с идентификатором трассировки
const TraceHeader = "X-Trace-ID"

// RequestLogger снабжает каждый HTTP-запрос trace-ID и пишет краткие логи.
// Пути из quiet (health-check, /metrics) не логируются.
type RequestLogger struct {
	quiet map[string]struct{}
}

func NewRequestLogger(quietPaths ...string) *RequestLogger {
	rl := &RequestLogger{quiet: make(map[string]struct{}, len(quietPaths))}
	for _, p := range quietPaths {
		rl.quiet[p] = struct{}{}
	}
	return rl
}

func (rl *RequestLogger) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		// trace-id из OpenTelemetry, если span уже создан
		span := trace.SpanFromContext(c.Request.Context())
		var traceID string
		if span.SpanContext().IsValid() {
			traceID = span.SpanContext().TraceID().String()
		} else {
			traceID = uuid.NewString()
		}
		c.Set("trace_id", traceID)
		c.Header(TraceHeader, traceID)

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		if _, ok := rl.quiet[path]; ok {
			c.Next()
			return
		}

		start := time.Now()
		method := c.Request.Method
		logging.Debug("[HTTP] ▶ %s %s ip=%s trace=%s", method, path, c.ClientIP(), traceID)

		c.Next()

		status := c.Writer.Status()
		latency := time.Since(start)
		if status >= 500 {
			logging.Warn("[HTTP] ◀ %s %s %d %s trace=%s errors=%s", method, path, status, latency, traceID, c.Errors.String())
			return
		}
		logging.Info("[HTTP] ◀ %s %s %d %s trace=%s", method, path, status, latency, traceID)
	}
}
