package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/admin-dashboard-api/internal/middleware"
)

// RegisterAdmin registers user management under /api/users.  All routes
// require a valid token whose role is admin.
func RegisterAdmin(e *echo.Echo, d Deps, lim Limiters) {
	u := d.Users
	g := e.Group(
		"/api/users",
		lim.API,
		d.Auth.Authenticate,
		middleware.RequireAdmin(d.Metrics),
	)

	g.GET("", u.List)
	g.POST("/bulk-status", u.BulkUpdateStatus)
	g.GET("/:id", u.Get)
	g.PUT("/:id", u.Update)
	g.PATCH("/:id", u.Update)
	g.DELETE("/:id", u.Delete)
}
