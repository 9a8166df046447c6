package middleware

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/admin-dashboard-api/internal/apperr"
	"github.com/iliyamo/admin-dashboard-api/internal/metrics"
	"github.com/iliyamo/admin-dashboard-api/internal/ratelimit"
)

// RateLimit returns a middleware admitting at most max requests per client
// IP in any window-long interval.  Rejections carry message.
func RateLimit(window time.Duration, max int, message string, opts ...ratelimit.Option) echo.MiddlewareFunc {
	return Limit(ratelimit.New(window, max, opts...), message, nil)
}

// Limit wraps an existing limiter.  Limiters are per route group: two
// groups sharing one limiter share one budget.
func Limit(l *ratelimit.Limiter, message string, m *metrics.Metrics) echo.MiddlewareFunc {
	if message == "" {
		message = "Too many requests, please try again later"
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			d := l.Allow(clientKey(c))

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))

			if !d.Allowed {
				secs := d.RetryAfterSeconds()
				h.Set("Retry-After", strconv.Itoa(secs))
				m.Rejection(string(apperr.RateLimited))
				return apperr.Write(c, &apperr.Rejection{Kind: apperr.RateLimited, Message: message, RetryAfter: secs})
			}
			return next(c)
		}
	}
}

func clientKey(c echo.Context) string {
	if ip := c.RealIP(); ip != "" {
		return ip
	}
	return "unknown"
}
