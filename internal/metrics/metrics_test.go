package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()
	m.Delivery(true, 10*time.Millisecond)
	m.Delivery(true, 10*time.Millisecond)
	m.Delivery(false, time.Millisecond)
	m.Invocation("test", true)
	m.PolledRows(3)
	m.PollError()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.deliveries.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deliveries.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.invocations.WithLabelValues("test", "ok")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.polledRows))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.pollErrors))
}

func TestHandlerServesRegistry(t *testing.T) {
	m := New()
	m.HTTPRequest("POST", "/v1/test", 200, time.Millisecond)
	require.NoError(t, m.WatchGauge("eventbus_dropped", "Dropped events.", func() float64 { return 7 }))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `formrelay_http_requests_total{method="POST",route="/v1/test",status="200"} 1`), body)
	assert.Contains(t, body, "formrelay_eventbus_dropped 7")
}

func TestNilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Delivery(true, 0)
		m.Invocation("submission", false)
		m.PolledRows(1)
		m.PollError()
		m.HTTPRequest("GET", "/", 200, 0)
		_ = m.WatchGauge("x", "x", func() float64 { return 0 })
	})
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
