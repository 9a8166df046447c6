package middleware

import (
	"context"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/admin-dashboard-api/internal/activity"
	"github.com/iliyamo/admin-dashboard-api/internal/model"
)

// ActivityRecorder schedules an audit write.
type ActivityRecorder interface {
	Record(ctx context.Context, e activity.Entry)
}

// LogActivity records an audit entry for the principal after the wrapped
// handler succeeds.  Failed requests and anonymous callers are not logged.
func LogActivity(rec ActivityRecorder, typ model.ActivityType, description string, severity model.Severity) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if err := next(c); err != nil {
				return err
			}
			status := c.Response().Status
			if status >= 400 {
				return nil
			}
			p, ok := CurrentPrincipal(c)
			if !ok {
				return nil
			}

			req := c.Request()
			rec.Record(req.Context(), activity.Entry{
				ActorID:     p.ID(),
				Type:        typ,
				Description: description,
				IP:          c.RealIP(),
				UserAgent:   req.UserAgent(),
				Severity:    severity,
				Metadata: map[string]any{
					"method": req.Method,
					"path":   req.URL.Path,
					"status": status,
				},
			})
			return nil
		}
	}
}
