// Package httpsurface is the optional HTTP exposure started by
// health-check --continuous, reusing the teacher's
// gin.Default() + promhttp.Handler() wiring from cmd/bot/api/server.go.
package httpsurface

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/daveintdbn/futures-ingest/internal/health"
	"github.com/daveintdbn/futures-ingest/internal/resilience"
)

var (
	breakerOpenGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ingestor_breaker_open",
		Help: "1 if the named circuit breaker is OPEN, else 0",
	}, []string{"endpoint"})
	trackerErrorsTotal = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ingestor_errors_total",
		Help: "Total recorded errors by kind",
	}, []string{"kind"})
)

func init() {
	prometheus.MustRegister(breakerOpenGauge, trackerErrorsTotal)
}

// New builds the gin router serving /healthz, /metrics and /errors.
func New(checker *health.Checker, tracker *resilience.Tracker, breakers *resilience.Registry) *gin.Engine {
	r := gin.Default()

	r.GET("/healthz", func(c *gin.Context) {
		results := checker.RunOnce(c.Request.Context())
		overall := checker.Overall()
		code := http.StatusOK
		if overall != health.StatusHealthy {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{"status": overall, "checks": results})
	})

	r.GET("/metrics", func(c *gin.Context) {
		for name, stats := range breakers.AllStats() {
			v := 0.0
			if stats.State == resilience.StateOpen {
				v = 1.0
			}
			breakerOpenGauge.WithLabelValues(name).Set(v)
		}
		summary := tracker.Summary(0)
		for kind, count := range summary.ByKind {
			trackerErrorsTotal.WithLabelValues(string(kind)).Set(float64(count))
		}
		promhttp.Handler().ServeHTTP(c.Writer, c.Request)
	})

	r.GET("/errors", func(c *gin.Context) {
		summary := tracker.Summary(100)
		c.JSON(http.StatusOK, gin.H{
			"total":    summary.Total,
			"by_kind":  summary.ByKind,
			"rates":    summary.Rates,
			"recent":   summary.Recent,
			"breakers": breakers.AllStats(),
		})
	})

	return r
}
