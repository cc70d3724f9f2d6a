package server

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mailevent_http_requests_total",
		Help: "Total HTTP requests by method, endpoint and status code.",
	}, []string{"method", "endpoint", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mailevent_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds by method, endpoint and status code.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
	}, []string{"method", "endpoint", "status"})

	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mailevent_result_cache_lookups_total",
		Help: "Result cache lookups by outcome (hit, miss, expired).",
	}, []string{"outcome"})
)

// metricsMiddleware records request counts and latencies. Routes are
// fixed, so the echo route path is a safe label value.
func metricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			endpoint := c.Path()
			if endpoint == "" {
				endpoint = "/"
			}
			status := strconv.Itoa(c.Response().Status)
			requestsTotal.WithLabelValues(c.Request().Method, endpoint, status).Inc()
			requestDuration.WithLabelValues(c.Request().Method, endpoint, status).
				Observe(time.Since(start).Seconds())
			return err
		}
	}
}
