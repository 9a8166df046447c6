// Package metrics holds the Prometheus collectors of the API.  A nil
// *Metrics is valid and records nothing, so components can be built
// without instrumentation in tests.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iliyamo/admin-dashboard-api/internal/apperr"
)

// Metrics holds all Prometheus metrics.
type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Security chain
	RejectionsTotal *prometheus.CounterVec

	// Side effects
	ActivityWritesTotal *prometheus.CounterVec
	BroadcastsTotal     *prometheus.CounterVec
	PresenceSweptTotal  prometheus.Counter

	registry *prometheus.Registry
}

// New creates and registers all metrics on registry.
func New(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dashboard_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dashboard_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		RejectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dashboard_rejections_total",
				Help: "Requests refused by the auth, role or rate-limit middleware",
			},
			[]string{"reason"},
		),
		ActivityWritesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dashboard_activity_writes_total",
				Help: "Audit log writes by result",
			},
			[]string{"result"},
		),
		BroadcastsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dashboard_broadcasts_total",
				Help: "Real-time events published by result",
			},
			[]string{"event", "result"},
		),
		PresenceSweptTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "dashboard_presence_swept_total",
				Help: "Identities marked offline after going idle",
			},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.RejectionsTotal,
		m.ActivityWritesTotal,
		m.BroadcastsTotal,
		m.PresenceSweptTotal,
	)
	return m
}

// Rejection counts one refused request.
func (m *Metrics) Rejection(reason string) {
	if m == nil {
		return
	}
	m.RejectionsTotal.WithLabelValues(reason).Inc()
}

// ActivityWrite counts one audit write; ok is false on failure.
func (m *Metrics) ActivityWrite(ok bool) {
	if m == nil {
		return
	}
	m.ActivityWritesTotal.WithLabelValues(result(ok)).Inc()
}

// Broadcast counts one publish attempt.
func (m *Metrics) Broadcast(event string, ok bool) {
	if m == nil {
		return
	}
	m.BroadcastsTotal.WithLabelValues(event, result(ok)).Inc()
}

// PresenceSwept adds n identities flipped offline by the sweeper.
func (m *Metrics) PresenceSwept(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.PresenceSweptTotal.Add(float64(n))
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}

// Middleware instruments every request, labelled by route template so
// path parameters do not explode cardinality.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if m == nil {
			return next
		}
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				var (
					he  *echo.HTTPError
					rej *apperr.Rejection
				)
				switch {
				case errors.As(err, &he):
					status = he.Code
				case errors.As(err, &rej):
					status = rej.Kind.Status()
				default:
					status = http.StatusInternalServerError
				}
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			method := c.Request().Method
			m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
			m.HTTPRequestDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}
