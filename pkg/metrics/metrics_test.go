package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestJobMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewJobMetrics(reg)
	require.NoError(t, err)

	m.ObserveJob("reconcile", JobResultDone, 20*time.Millisecond)
	m.ObserveJob("reconcile", JobResultDone, 30*time.Millisecond)
	m.ObserveJob("reconcile", JobResultRetry, time.Millisecond)
	m.Claimed(3)
	m.Claimed(0)
	m.Reclaimed(2)

	require.Equal(t, 2.0, testutil.ToFloat64(m.processed.WithLabelValues("reconcile", JobResultDone)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.processed.WithLabelValues("reconcile", JobResultRetry)))
	require.Equal(t, 3.0, testutil.ToFloat64(m.claimed))
	require.Equal(t, 2.0, testutil.ToFloat64(m.reclaimed))

	// registering twice reuses the existing collectors
	again, err := NewJobMetrics(reg)
	require.NoError(t, err)
	require.Equal(t, 3.0, testutil.ToFloat64(again.claimed))
}

func TestNilJobMetrics(t *testing.T) {
	var m *JobMetrics
	m.ObserveJob("x", JobResultDone, time.Second)
	m.Claimed(1)
	m.Reclaimed(1)
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	reg := prometheus.NewRegistry()
	m, err := NewHTTPMetrics(reg)
	require.NoError(t, err)

	r := gin.New()
	r.Use(m.Middleware())
	r.GET("/jobs/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, id := range []string{"a", "b"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/jobs/"+id, nil))
		require.Equal(t, http.StatusOK, w.Code)
	}

	require.Equal(t, 2.0, testutil.ToFloat64(m.reqCnt.WithLabelValues("200", http.MethodGet, "/jobs/:id")))
}

func TestNewMetricRejectsUnknownType(t *testing.T) {
	_, err := NewMetric(&Metric{Name: "x", Type: "summary_vec"}, "")
	require.Error(t, err)
}
