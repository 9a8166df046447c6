// Package router wires middleware and handlers onto an Echo instance.
package router

import (
	"fmt"
	"net"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/admin-dashboard-api/internal/config"
	"github.com/iliyamo/admin-dashboard-api/internal/handler"
	"github.com/iliyamo/admin-dashboard-api/internal/logging"
	"github.com/iliyamo/admin-dashboard-api/internal/metrics"
	"github.com/iliyamo/admin-dashboard-api/internal/middleware"
	"github.com/iliyamo/admin-dashboard-api/internal/model"
	"github.com/iliyamo/admin-dashboard-api/internal/ratelimit"
)

// Deps is everything the routes need.  Redis and Metrics may be nil.
type Deps struct {
	Config  config.Config
	Logger  logrus.FieldLogger
	Metrics *metrics.Metrics
	Redis   *redis.Client
	DB      handler.Pinger

	Auth       *middleware.Authenticator
	Recorder   middleware.ActivityRecorder
	Accounts   *handler.AuthHandler
	Users      *handler.UserHandler
	Activities *handler.ActivityHandler
	Analytics  *handler.AnalyticsHandler
}

// Limiters holds one limiter per policy.  Each limiter keeps its own
// budget, so routes sharing a policy share a budget.
type Limiters struct {
	Auth      echo.MiddlewareFunc
	API       echo.MiddlewareFunc
	Sensitive echo.MiddlewareFunc
}

// New builds the Echo instance with the global middleware stack and every
// route registered.
func New(d Deps) (*echo.Echo, error) {
	if d.Logger == nil {
		d.Logger = logging.Discard()
	}
	lim, err := NewLimiters(d.Config.RateLimit, d.Metrics)
	if err != nil {
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.IPExtractor = IPExtractor(d.Config.TrustedProxies)
	e.Validator = handler.NewValidator()
	e.HTTPErrorHandler = handler.HTTPErrorHandler(d.Config.IsProduction(), d.Logger)

	e.Use(echomw.RequestID())
	e.Use(echomw.Recover())
	e.Use(logging.RequestLogger(d.Logger))
	e.Use(d.Metrics.Middleware())

	RegisterRoutes(e, d)
	RegisterAuth(e, d, lim)
	RegisterAccount(e, d, lim)
	RegisterAdmin(e, d, lim)
	RegisterAudit(e, d, lim)
	return e, nil
}

// IPExtractor returns how the client IP is derived.  Forwarding headers
// are only believed when the peer is a configured proxy; otherwise the TCP
// peer address is the client.
func IPExtractor(trusted []*net.IPNet) echo.IPExtractor {
	if len(trusted) == 0 {
		return echo.ExtractIPDirect()
	}
	opts := []echo.TrustOption{
		echo.TrustLoopback(false),
		echo.TrustLinkLocal(false),
		echo.TrustPrivateNet(false),
	}
	for _, n := range trusted {
		opts = append(opts, echo.TrustIPRange(n))
	}
	return echo.ExtractIPFromXFFHeader(opts...)
}

// NewLimiters builds the named rate-limit policies.  A disabled config
// yields pass-through middleware.
func NewLimiters(cfg config.RateLimitConfig, m *metrics.Metrics) (Limiters, error) {
	if !cfg.Enabled {
		pass := func(next echo.HandlerFunc) echo.HandlerFunc { return next }
		return Limiters{Auth: pass, API: pass, Sensitive: pass}, nil
	}
	build := func(name string) (echo.MiddlewareFunc, error) {
		p := cfg.Policy(name)
		opts := []ratelimit.Option{ratelimit.WithGC(cfg.GCProbability, nil)}
		if cfg.Store == "lru" {
			s, err := ratelimit.NewLRUStore(cfg.MaxKeys)
			if err != nil {
				return nil, fmt.Errorf("rate limit %s: %w", name, err)
			}
			opts = append(opts, ratelimit.WithStore(s))
		}
		return middleware.Limit(ratelimit.New(p.Window, p.Max, opts...), p.Message, m), nil
	}

	var (
		l   Limiters
		err error
	)
	if l.Auth, err = build(config.PolicyAuth); err != nil {
		return l, err
	}
	if l.API, err = build(config.PolicyAPI); err != nil {
		return l, err
	}
	if l.Sensitive, err = build(config.PolicySensitive); err != nil {
		return l, err
	}
	return l, nil
}

// RegisterRoutes registers routes that do not require authentication.
func RegisterRoutes(e *echo.Echo, d Deps) {
	e.GET("/healthz", handler.Health(d.DB))
	if d.Metrics != nil {
		e.GET("/metrics", d.Metrics.Handler())
	}
}

// RegisterAuth registers the session endpoints under /api/auth.  Register
// and login share the strict auth budget.
func RegisterAuth(e *echo.Echo, d Deps, lim Limiters) {
	a := d.Accounts
	g := e.Group("/api/auth")
	g.POST("/register", a.Register, lim.Auth)
	g.POST("/login", a.Login, lim.Auth)
	g.POST("/refresh", a.Refresh, lim.API)

	auth := g.Group("", lim.API, d.Auth.Authenticate)
	auth.POST("/logout", a.Logout)
	auth.GET("/me", a.Me)
	auth.PUT("/profile", a.UpdateProfile)
	auth.PUT("/password", a.ChangePassword,
		lim.Sensitive,
		middleware.LogActivity(d.Recorder, model.ActivityPasswordChange, "Password changed", model.SeverityMedium),
	)
}
