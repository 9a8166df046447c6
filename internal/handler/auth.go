package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/admin-dashboard-api/internal/activity"
	"github.com/iliyamo/admin-dashboard-api/internal/apperr"
	"github.com/iliyamo/admin-dashboard-api/internal/middleware"
	"github.com/iliyamo/admin-dashboard-api/internal/model"
	"github.com/iliyamo/admin-dashboard-api/internal/repository"
	"github.com/iliyamo/admin-dashboard-api/internal/token"
	"github.com/iliyamo/admin-dashboard-api/internal/utils"
)

// AuthHandler bundles dependencies for auth endpoints.
type AuthHandler struct {
	Users      UserStore
	Tokens     TokenIssuer
	Recorder   middleware.ActivityRecorder
	Notifier   middleware.StatusNotifier
	BcryptCost int
	Now        func() time.Time
}

func NewAuthHandler(users UserStore, tokens TokenIssuer, rec middleware.ActivityRecorder, notifier middleware.StatusNotifier, bcryptCost int) *AuthHandler {
	return &AuthHandler{Users: users, Tokens: tokens, Recorder: rec, Notifier: notifier, BcryptCost: bcryptCost, Now: time.Now}
}

// ----- DTOs -----

type registerReq struct {
	Username string `json:"username" validate:"required,min=3,max=30,alphanum"`
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,min=8,max=128"`
}

type loginReq struct {
	// Login is an email address or a username.
	Login      string `json:"login" validate:"required"`
	Password   string `json:"password" validate:"required"`
	RememberMe bool   `json:"rememberMe"`
}

type refreshReq struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

type profileReq struct {
	Username *string `json:"username" validate:"omitempty,min=3,max=30,alphanum"`
	Email    *string `json:"email" validate:"omitempty,email,max=255"`
}

type passwordReq struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required,min=8,max=128"`
}

type authResp struct {
	User    model.Identity `json:"user"`
	Access  token.Token    `json:"access"`
	Refresh token.Token    `json:"refresh"`
}

// Register creates a regular active account and returns a token pair.
func (h *AuthHandler) Register(c echo.Context) error {
	var req registerReq
	if ok, err := bind(c, &req); !ok {
		return err
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()

	u := model.Identity{
		Username: req.Username,
		Email:    req.Email,
		Role:     model.RoleUser,
		Status:   model.StatusActive,
	}
	if err := h.Users.Create(ctx, &u, req.Password, h.BcryptCost); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return apperr.Fail(c, http.StatusConflict, "Username or email already exists")
		}
		return err
	}

	resp, err := h.issuePair(u, false)
	if err != nil {
		return err
	}
	h.record(c, u.ID, model.ActivityRegister, "User registered", model.SeverityLow, nil)
	return ok(c, http.StatusCreated, "User registered successfully", resp)
}

// Login verifies credentials and starts a session.  rememberMe selects the
// extended token lifetime.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if ok, err := bind(c, &req); !ok {
		return err
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()

	u, err := h.Users.FindByLogin(ctx, strings.TrimSpace(req.Login))
	if errors.Is(err, repository.ErrNotFound) {
		utils.BurnCompare(req.Password)
		return apperr.Fail(c, http.StatusUnauthorized, "Invalid credentials")
	}
	if err != nil {
		return err
	}
	if !utils.VerifyPassword(u.PasswordHash, req.Password) {
		return apperr.Fail(c, http.StatusUnauthorized, "Invalid credentials")
	}
	if !u.IsActive() {
		return apperr.Write(c, apperr.Suspended(string(u.Status)))
	}

	now := h.Now()
	ip, device := c.RealIP(), c.Request().UserAgent()
	if err := h.Users.RecordLogin(ctx, u.ID, ip, device, now); err != nil {
		return err
	}
	wasOnline := u.IsOnline
	u.IsOnline, u.LastActivity, u.LastLoginAt = true, &now, &now
	u.LoginCount++
	u.LastLoginIP, u.LastLoginDevice = ip, device
	u.PasswordHash = ""

	resp, err := h.issuePair(u, req.RememberMe)
	if err != nil {
		return err
	}
	if !wasOnline && h.Notifier != nil {
		h.Notifier.IdentityStatusChanged(c.Request().Context(), u, true, "login")
	}
	h.record(c, u.ID, model.ActivityLogin, "User logged in", model.SeverityLow, map[string]any{"rememberMe": req.RememberMe})
	return ok(c, http.StatusOK, "Login successful", resp)
}

// Refresh exchanges a refresh token for a new access token.  The refresh
// token itself is returned unchanged.
func (h *AuthHandler) Refresh(c echo.Context) error {
	var req refreshReq
	if ok, err := bind(c, &req); !ok {
		return err
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()

	access, u, err := h.Tokens.Refresh(ctx, strings.TrimSpace(req.RefreshToken))
	switch {
	case errors.Is(err, token.ErrInvalidRefreshToken):
		return apperr.FailReason(c, http.StatusUnauthorized, apperr.InvalidToken, "Invalid refresh token")
	case errors.Is(err, token.ErrAccountInactive):
		return apperr.Write(c, apperr.Suspended(string(u.Status)))
	case err != nil:
		return err
	}
	return ok(c, http.StatusOK, "", echo.Map{"access": access})
}

// Logout marks the caller offline.  Tokens are stateless and stay valid
// until they expire.
func (h *AuthHandler) Logout(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()

	if err := h.Users.SetOnline(ctx, p.ID(), false); err != nil {
		return err
	}
	if h.Notifier != nil {
		u := p.Identity
		u.IsOnline = false
		h.Notifier.IdentityStatusChanged(c.Request().Context(), u, false, "logout")
	}
	h.record(c, p.ID(), model.ActivityLogout, "User logged out", model.SeverityLow, nil)
	return ok(c, http.StatusOK, "Logout successful", nil)
}

// Me returns the caller's identity.
func (h *AuthHandler) Me(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	return ok(c, http.StatusOK, "", echo.Map{"user": p.Identity})
}

// UpdateProfile changes the caller's username and/or email.
func (h *AuthHandler) UpdateProfile(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	var req profileReq
	if ok, err := bind(c, &req); !ok {
		return err
	}
	if req.Username == nil && req.Email == nil {
		return badRequest(c, "Nothing to update")
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()

	err = h.Users.Update(ctx, p.ID(), repository.UserPatch{Username: req.Username, Email: req.Email})
	switch {
	case errors.Is(err, repository.ErrDuplicate):
		return apperr.Fail(c, http.StatusConflict, "Username or email already exists")
	case errors.Is(err, repository.ErrNotFound):
		return notFound(c, "User")
	case err != nil:
		return err
	}
	u, err := h.Users.FindByID(ctx, p.ID())
	if err != nil {
		return err
	}
	changed := map[string]any{}
	if req.Username != nil {
		changed["username"] = u.Username
	}
	if req.Email != nil {
		changed["email"] = u.Email
	}
	h.record(c, p.ID(), model.ActivityProfileUpdate, "Profile updated", model.SeverityMedium, changed)
	return ok(c, http.StatusOK, "Profile updated successfully", echo.Map{"user": u})
}

// ChangePassword requires the current password.  The audit entry is
// written by the route's LogActivity middleware.
func (h *AuthHandler) ChangePassword(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	var req passwordReq
	if ok, err := bind(c, &req); !ok {
		return err
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()

	u, err := h.Users.FindByIDWithHash(ctx, p.ID())
	if err != nil {
		return err
	}
	if !utils.VerifyPassword(u.PasswordHash, req.CurrentPassword) {
		return badRequest(c, "Current password is incorrect")
	}
	hash, err := utils.HashPassword(req.NewPassword, h.BcryptCost)
	if err != nil {
		return err
	}
	if err := h.Users.Update(ctx, p.ID(), repository.UserPatch{PasswordHash: &hash}); err != nil {
		return err
	}
	return ok(c, http.StatusOK, "Password changed successfully", nil)
}

func (h *AuthHandler) issuePair(u model.Identity, extended bool) (authResp, error) {
	access, err := h.Tokens.Issue(u.ID, u.Role, extended)
	if err != nil {
		return authResp{}, err
	}
	refresh, err := h.Tokens.IssueRefresh(u.ID)
	if err != nil {
		return authResp{}, err
	}
	return authResp{User: u, Access: access, Refresh: refresh}, nil
}

func (h *AuthHandler) record(c echo.Context, actor string, typ model.ActivityType, desc string, sev model.Severity, meta map[string]any) {
	recordActivity(c, h.Recorder, actor, typ, desc, sev, meta)
}

// recordActivity schedules an audit entry carrying the request's client
// metadata.
func recordActivity(c echo.Context, rec middleware.ActivityRecorder, actor string, typ model.ActivityType, desc string, sev model.Severity, meta map[string]any) {
	if rec == nil {
		return
	}
	req := c.Request()
	rec.Record(req.Context(), activity.Entry{
		ActorID:     actor,
		Type:        typ,
		Description: desc,
		IP:          c.RealIP(),
		UserAgent:   req.UserAgent(),
		Metadata:    meta,
		Severity:    sev,
	})
}
