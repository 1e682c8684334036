package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/tunnelbot/pkg/config"
)

const (
	httpSubsystem = "http"
	MetricsPath   = "/metrics"
)

var (
	reqCnt = &Metric{
		ID:          "reqCnt",
		Name:        "req_total",
		Description: "How many HTTP requests processed, partitioned by status code, method and route.",
		Type:        "counter_vec",
		Args:        []string{"code", "method", "url"},
	}
	reqDur = &Metric{
		ID:          "reqDur",
		Name:        "req_dur_ms",
		Description: "The HTTP request latencies in milliseconds.",
		Type:        "histogram_vec",
		Args:        []string{"code", "method", "url"},
	}
)

// HTTPMetrics is the gin request instrumentation.
type HTTPMetrics struct {
	reqCnt *prometheus.CounterVec
	reqDur *prometheus.HistogramVec
}

func NewHTTPMetrics(reg prometheus.Registerer) (*HTTPMetrics, error) {
	cs, err := register(reg, httpSubsystem, reqCnt, reqDur)
	if err != nil {
		return nil, err
	}
	return &HTTPMetrics{
		reqCnt: cs[reqCnt.ID].(*prometheus.CounterVec),
		reqDur: cs[reqDur.ID].(*prometheus.HistogramVec),
	}, nil
}

// Middleware labels requests by route template so path params do not explode cardinality.
func (p *HTTPMetrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		url := c.FullPath()
		if url == "" {
			url = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		elapsed := float64(time.Since(start)) / float64(time.Millisecond)
		p.reqCnt.WithLabelValues(status, c.Request.Method, url).Inc()
		p.reqDur.WithLabelValues(status, c.Request.Method, url).Observe(elapsed)
	}
}

func NewRegistry() (prometheus.Registerer, prometheus.Gatherer) {
	return prometheus.DefaultRegisterer, prometheus.DefaultGatherer
}

// ServeMetrics exposes the gatherer on cfg.MetricsAddr in its own listener,
// keeping scrapes out of the API access log.
func ServeMetrics(lc fx.Lifecycle, cfg *config.Config, log *zap.SugaredLogger, g prometheus.Gatherer) {
	if cfg.MetricsAddr == "" {
		return
	}
	r := gin.New()
	r.GET(MetricsPath, gin.WrapH(promhttp.HandlerFor(g, promhttp.HandlerOpts{})))
	srv := &http.Server{Addr: cfg.MetricsAddr, Handler: r, ReadHeaderTimeout: 5 * time.Second}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Infow("metrics started", "addr", cfg.MetricsAddr)
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Errorw("metrics server error", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

var Module = fx.Options(
	fx.Provide(NewRegistry, NewJobMetrics, NewHTTPMetrics),
	fx.Invoke(ServeMetrics),
)
