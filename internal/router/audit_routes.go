package router

// Audit trail and aggregate figures for admins.  Kept apart from user
// management because the analytics route is cached.

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/admin-dashboard-api/internal/middleware"
)

// RegisterAudit registers the admin activity list and analytics overview.
func RegisterAudit(e *echo.Echo, d Deps, lim Limiters) {
	g := e.Group(
		"/api",
		lim.API,
		d.Auth.Authenticate,
		middleware.RequireAdmin(d.Metrics),
	)
	g.GET("/activities", d.Activities.List)
	g.GET("/analytics/overview", d.Analytics.Overview, middleware.RedisCache(d.Config.Cache, d.Redis))
}
