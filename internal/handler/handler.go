// Package handler implements the HTTP endpoints of the dashboard API.
package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/admin-dashboard-api/internal/apperr"
	"github.com/iliyamo/admin-dashboard-api/internal/middleware"
	"github.com/iliyamo/admin-dashboard-api/internal/model"
	"github.com/iliyamo/admin-dashboard-api/internal/repository"
	"github.com/iliyamo/admin-dashboard-api/internal/token"
)

// dbTimeout bounds the store calls made by a single handler.
const dbTimeout = 5 * time.Second

// UserStore is the identity persistence used by the handlers.
type UserStore interface {
	Create(ctx context.Context, u *model.Identity, password string, cost int) error
	FindByID(ctx context.Context, id string) (model.Identity, error)
	FindByIDWithHash(ctx context.Context, id string) (model.Identity, error)
	FindByLogin(ctx context.Context, login string) (model.Identity, error)
	Update(ctx context.Context, id string, p repository.UserPatch) error
	RecordLogin(ctx context.Context, id, ip, device string, at time.Time) error
	SetOnline(ctx context.Context, id string, online bool) error
	SetStatus(ctx context.Context, ids []string, status model.Status) (int64, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, f repository.UserFilter) ([]model.Identity, int, error)
	Stats(ctx context.Context, now time.Time) (repository.UserStats, error)
}

// ActivityStore reads the audit trail.
type ActivityStore interface {
	List(ctx context.Context, f repository.ActivityFilter) ([]model.Activity, int, error)
	CountsSince(ctx context.Context, since time.Time) (repository.ActivityCounts, error)
}

// TokenIssuer issues and refreshes session tokens.
type TokenIssuer interface {
	Issue(identityID string, role model.Role, extended bool) (token.Token, error)
	IssueRefresh(identityID string) (token.Token, error)
	Refresh(ctx context.Context, refreshToken string) (token.Token, model.Identity, error)
}

type okEnvelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func ok(c echo.Context, status int, message string, data any) error {
	return c.JSON(status, okEnvelope{Success: true, Message: message, Data: data})
}

// Pagination is returned with every list.
type Pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}

func newPagination(page, limit, total int) Pagination {
	pages := 0
	if limit > 0 {
		pages = (total + limit - 1) / limit
	}
	return Pagination{Page: page, Limit: limit, Total: total, Pages: pages}
}

// pageParams reads ?page and ?limit, clamping limit to [1,100].
func pageParams(c echo.Context) (page, limit int) {
	page, _ = strconv.Atoi(c.QueryParam("page"))
	if page < 1 {
		page = 1
	}
	limit, _ = strconv.Atoi(c.QueryParam("limit"))
	switch {
	case limit < 1:
		limit = 20
	case limit > 100:
		limit = 100
	}
	return page, limit
}

// principal returns the caller; routes using it sit behind Authenticate.
func principal(c echo.Context) (middleware.Principal, error) {
	p, ok := middleware.CurrentPrincipal(c)
	if !ok {
		return middleware.Principal{}, apperr.New(apperr.Unauthenticated, "Authentication required")
	}
	return p, nil
}

func badRequest(c echo.Context, message string) error {
	return apperr.Fail(c, http.StatusBadRequest, message)
}

func notFound(c echo.Context, what string) error {
	return apperr.Fail(c, http.StatusNotFound, what+" not found")
}
