package middleware

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/admin-dashboard-api/internal/apperr"
	"github.com/iliyamo/admin-dashboard-api/internal/metrics"
	"github.com/iliyamo/admin-dashboard-api/internal/model"
	"github.com/iliyamo/admin-dashboard-api/internal/repository"
	"github.com/iliyamo/admin-dashboard-api/internal/token"
)

const principalKey = "principal"

// Principal is the authenticated caller attached to the request.
// TokenRole is the role carried by the token, which can lag behind
// Identity.Role until the token is refreshed.
type Principal struct {
	Identity  model.Identity
	TokenRole model.Role
}

// ID returns the identity id.
func (p Principal) ID() string { return p.Identity.ID }

// SetPrincipal attaches p to the request.
func SetPrincipal(c echo.Context, p Principal) { c.Set(principalKey, p) }

// CurrentPrincipal returns the principal set by Authenticate.
func CurrentPrincipal(c echo.Context) (Principal, bool) {
	p, ok := c.Get(principalKey).(Principal)
	return p, ok
}

// TokenVerifier checks an access token.
type TokenVerifier interface {
	Verify(raw string) (token.Claims, error)
}

// IdentityStore loads identities and records their presence.
type IdentityStore interface {
	FindByID(ctx context.Context, id string) (model.Identity, error)
	Touch(ctx context.Context, id string, at time.Time) error
}

// StatusNotifier is told when an identity comes online.
type StatusNotifier interface {
	IdentityStatusChanged(ctx context.Context, u model.Identity, online bool, reason string)
}

// Authenticator verifies bearer tokens and loads the calling identity.
type Authenticator struct {
	tokens       TokenVerifier
	users        IdentityStore
	notifier     StatusNotifier
	logger       logrus.FieldLogger
	metrics      *metrics.Metrics
	touchTimeout time.Duration
	now          func() time.Time

	wg sync.WaitGroup
}

// AuthOption customises an Authenticator.
type AuthOption func(*Authenticator)

func WithStatusNotifier(n StatusNotifier) AuthOption { return func(a *Authenticator) { a.notifier = n } }
func WithAuthLogger(l logrus.FieldLogger) AuthOption { return func(a *Authenticator) { a.logger = l } }
func WithAuthMetrics(m *metrics.Metrics) AuthOption  { return func(a *Authenticator) { a.metrics = m } }
func WithAuthClock(now func() time.Time) AuthOption  { return func(a *Authenticator) { a.now = now } }

func WithTouchTimeout(d time.Duration) AuthOption {
	return func(a *Authenticator) {
		if d > 0 {
			a.touchTimeout = d
		}
	}
}

// NewAuthenticator returns an Authenticator.  A nil verifier is accepted
// and turns every request into a ConfigurationError.
func NewAuthenticator(tokens TokenVerifier, users IdentityStore, opts ...AuthOption) *Authenticator {
	a := &Authenticator{
		tokens:       tokens,
		users:        users,
		logger:       logrus.StandardLogger(),
		touchTimeout: 2 * time.Second,
		now:          time.Now,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Authenticate rejects the request unless it carries a valid bearer token
// for an existing, active identity.  On success the Principal is attached
// to the context.
func (a *Authenticator) Authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if a.tokens == nil || a.users == nil {
			a.logger.Error("auth: token service is not configured")
			return a.reject(c, apperr.New(apperr.ConfigurationError, "Server authentication is not configured"))
		}

		raw, ok := bearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
		if !ok {
			return a.reject(c, apperr.New(apperr.MissingToken, "Access token required"))
		}

		claims, err := a.tokens.Verify(raw)
		switch {
		case errors.Is(err, token.ErrExpiredToken):
			return a.reject(c, apperr.New(apperr.ExpiredToken, "Token expired"))
		case err != nil:
			return a.reject(c, apperr.New(apperr.InvalidToken, "Invalid token"))
		}

		ctx := c.Request().Context()
		u, err := a.users.FindByID(ctx, claims.IdentityID)
		if errors.Is(err, repository.ErrNotFound) {
			return a.reject(c, apperr.New(apperr.AccountNotFound, "Account not found"))
		}
		if err != nil {
			return fmt.Errorf("auth: load identity: %w", err)
		}

		if !u.IsActive() {
			return a.reject(c, apperr.Suspended(string(u.Status)))
		}

		now := a.now()
		a.touch(ctx, u, now)
		u.IsOnline = true
		u.LastActivity = &now

		SetPrincipal(c, Principal{Identity: u, TokenRole: claims.Role})
		return next(c)
	}
}

// touch records presence without holding up the request.
func (a *Authenticator) touch(ctx context.Context, u model.Identity, at time.Time) {
	detached := context.WithoutCancel(ctx)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		tctx, cancel := context.WithTimeout(detached, a.touchTimeout)
		defer cancel()

		if err := a.users.Touch(tctx, u.ID, at); err != nil {
			a.logger.WithError(err).WithField("identity_id", u.ID).Warn("auth: failed to update last activity")
			return
		}
		if !u.IsOnline && a.notifier != nil {
			u.IsOnline = true
			u.LastActivity = &at
			a.notifier.IdentityStatusChanged(tctx, u, true, "")
		}
	}()
}

// Wait blocks until background presence updates have finished.
func (a *Authenticator) Wait() { a.wg.Wait() }

func (a *Authenticator) reject(c echo.Context, r *apperr.Rejection) error {
	a.metrics.Rejection(string(r.Kind))
	return apperr.Write(c, r)
}

func bearerToken(header string) (string, bool) {
	const prefix = "bearer "
	header = strings.TrimSpace(header)
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	raw := strings.TrimSpace(header[len(prefix):])
	return raw, raw != ""
}
