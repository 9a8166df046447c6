package middleware

import (
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/admin-dashboard-api/internal/apperr"
	"github.com/iliyamo/admin-dashboard-api/internal/metrics"
	"github.com/iliyamo/admin-dashboard-api/internal/model"
)

// RequireRole admits the request only when the principal's token role is
// one of roles.  It must run after Authenticate.  Refusals are counted on m.
func RequireRole(m *metrics.Metrics, roles ...model.Role) echo.MiddlewareFunc {
	names := make([]string, 0, len(roles))
	for _, r := range roles {
		names = append(names, string(r))
	}
	denied := "Access denied. Required role: " + strings.Join(names, " or ")

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p, ok := CurrentPrincipal(c)
			if !ok {
				m.Rejection(string(apperr.Unauthenticated))
				return apperr.Write(c, apperr.New(apperr.Unauthenticated, "Authentication required"))
			}
			for _, r := range roles {
				if strings.EqualFold(string(p.TokenRole), string(r)) {
					return next(c)
				}
			}
			m.Rejection(string(apperr.Forbidden))
			return apperr.Write(c, apperr.New(apperr.Forbidden, denied))
		}
	}
}

// RequireAdmin is RequireRole(m, model.RoleAdmin).
func RequireAdmin(m *metrics.Metrics) echo.MiddlewareFunc { return RequireRole(m, model.RoleAdmin) }
