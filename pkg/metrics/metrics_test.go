package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordAlertCreated("panic", "critical")
		m.RecordTransition("alert", "resolved")
		m.RecordEscalation()
		m.SetWSConnections(3)
		m.RecordPush("fcm", "sent")
	})
}

func TestMiddlewareAndHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	r := gin.New()
	r.Use(MonitorMiddleware(m))
	r.GET("/ping/:id", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	r.GET("/metrics", Handler(reg))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping/42", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("GET", "/ping/:id", "200")))

	m.RecordAlertCreated("panic", "critical")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.True(t, strings.Contains(w.Body.String(), "safecircle_alerts_created_total"))
}

func TestCollectSystemStats(t *testing.T) {
	s := CollectSystemStats(context.Background())
	assert.False(t, s.Timestamp.IsZero())
	assert.Positive(t, s.Runtime.Goroutines)
	assert.NotEmpty(t, s.Runtime.GoVersion)
}
