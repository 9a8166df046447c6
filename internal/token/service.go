// Package token issues and verifies the signed, stateless session tokens
// used by the API.  Access tokens carry the identity id and a snapshot of
// its role; refresh tokens are signed with a separate secret and can only
// be exchanged for a new access token.
package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/iliyamo/admin-dashboard-api/internal/model"
	"github.com/iliyamo/admin-dashboard-api/internal/repository"
)

const (
	typeAccess  = "access"
	typeRefresh = "refresh"
)

var (
	ErrMissingSecret       = errors.New("token: signing secret is not configured")
	ErrInvalidToken        = errors.New("token: invalid token")
	ErrExpiredToken        = errors.New("token: token expired")
	ErrInvalidRefreshToken = errors.New("token: invalid refresh token")
	ErrAccountInactive     = errors.New("token: account is not active")
)

// Claims is the payload embedded in every token.
type Claims struct {
	jwt.RegisteredClaims
	IdentityID string     `json:"id"`
	Role       model.Role `json:"role"`
	Type       string     `json:"typ"`
}

// Token is a signed token together with its expiry.
type Token struct {
	Value     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// IdentityLookup loads the live identity during refresh.
type IdentityLookup interface {
	FindByID(ctx context.Context, id string) (model.Identity, error)
}

// Config holds the secrets and lifetimes.  Zero durations fall back to the
// defaults below.
type Config struct {
	Secret        string
	RefreshSecret string
	AccessTTL     time.Duration
	ExtendedTTL   time.Duration
	RefreshTTL    time.Duration
	Issuer        string
}

const (
	DefaultAccessTTL   = 7 * 24 * time.Hour
	DefaultExtendedTTL = 30 * 24 * time.Hour
	DefaultRefreshTTL  = 30 * 24 * time.Hour
)

// Service signs and verifies tokens.  It is safe for concurrent use.
type Service struct {
	cfg   Config
	users IdentityLookup
	now   func() time.Time
}

// Option customises a Service.
type Option func(*Service)

// WithClock replaces time.Now.  Used by tests to move past expiry.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithIdentityLookup sets the store consulted by Refresh.
func WithIdentityLookup(l IdentityLookup) Option { return func(s *Service) { s.users = l } }

// NewService validates cfg and returns a Service.  Missing secrets are a
// configuration error: the caller must not start serving traffic.
func NewService(cfg Config, opts ...Option) (*Service, error) {
	if cfg.Secret == "" || cfg.RefreshSecret == "" {
		return nil, ErrMissingSecret
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}
	if cfg.ExtendedTTL <= 0 {
		cfg.ExtendedTTL = DefaultExtendedTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = DefaultRefreshTTL
	}
	s := &Service{cfg: cfg, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Issue signs an access token for the identity.  extended selects the
// "remember me" lifetime.
func (s *Service) Issue(identityID string, role model.Role, extended bool) (Token, error) {
	ttl := s.cfg.AccessTTL
	if extended {
		ttl = s.cfg.ExtendedTTL
	}
	return s.sign(s.cfg.Secret, identityID, role, typeAccess, ttl)
}

// IssueRefresh signs a refresh token.  Refresh tokens carry no role.
func (s *Service) IssueRefresh(identityID string) (Token, error) {
	return s.sign(s.cfg.RefreshSecret, identityID, "", typeRefresh, s.cfg.RefreshTTL)
}

func (s *Service) sign(secret, identityID string, role model.Role, typ string, ttl time.Duration) (Token, error) {
	now := s.now().UTC()
	exp := now.Add(ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identityID,
			Issuer:    s.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		IdentityID: identityID,
		Role:       role,
		Type:       typ,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return Token{}, fmt.Errorf("sign %s token: %w", typ, err)
	}
	return Token{Value: signed, ExpiresAt: exp}, nil
}

// Verify parses an access token.  It returns ErrExpiredToken when the
// signature is good but the token is past its expiry and ErrInvalidToken
// for every other failure.
func (s *Service) Verify(raw string) (Claims, error) {
	claims, err := s.parse(s.cfg.Secret, raw)
	if err != nil {
		return Claims{}, err
	}
	if claims.Type != typeAccess || claims.IdentityID == "" {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}

func (s *Service) parse(secret, raw string) (Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	switch {
	case err == nil:
		return claims, nil
	case errors.Is(err, jwt.ErrTokenExpired):
		return Claims{}, ErrExpiredToken
	default:
		return Claims{}, ErrInvalidToken
	}
}

// Refresh exchanges a refresh token for a new access token.  The identity
// is re-loaded so that a deactivated account cannot keep refreshing, and
// the new token carries the identity's current role.  The refresh token
// itself is returned to the caller unchanged.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Token, model.Identity, error) {
	if s.users == nil {
		return Token{}, model.Identity{}, errors.New("token: refresh requires an identity lookup")
	}
	claims, err := s.parse(s.cfg.RefreshSecret, refreshToken)
	if err != nil || claims.Type != typeRefresh || claims.IdentityID == "" {
		return Token{}, model.Identity{}, ErrInvalidRefreshToken
	}
	u, err := s.users.FindByID(ctx, claims.IdentityID)
	if errors.Is(err, repository.ErrNotFound) {
		return Token{}, model.Identity{}, ErrInvalidRefreshToken
	}
	if err != nil {
		return Token{}, model.Identity{}, fmt.Errorf("load identity: %w", err)
	}
	if !u.IsActive() {
		return Token{}, u, ErrAccountInactive
	}
	tok, err := s.Issue(u.ID, model.NormalizeRole(u.Role), false)
	if err != nil {
		return Token{}, u, err
	}
	return tok, u, nil
}
