package router

import (
	"github.com/labstack/echo/v4"
)

// RegisterAccount registers endpoints any authenticated identity may call
// about itself.
func RegisterAccount(e *echo.Echo, d Deps, lim Limiters) {
	g := e.Group("/api", lim.API, d.Auth.Authenticate)
	g.GET("/activities/me", d.Activities.Mine)
}
