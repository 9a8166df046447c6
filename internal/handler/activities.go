package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/admin-dashboard-api/internal/model"
	"github.com/iliyamo/admin-dashboard-api/internal/repository"
)

// ActivityHandler serves the audit trail.
type ActivityHandler struct {
	Activities ActivityStore
}

func NewActivityHandler(store ActivityStore) *ActivityHandler {
	return &ActivityHandler{Activities: store}
}

// List returns all activity, optionally filtered by ?userId, ?type,
// ?severity and ?since (RFC 3339).  Admin only.
func (h *ActivityHandler) List(c echo.Context) error {
	f, err := activityFilter(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	f.UserID = c.QueryParam("userId")
	return h.list(c, f)
}

// Mine returns the caller's own activity.
func (h *ActivityHandler) Mine(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	f, err := activityFilter(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	f.UserID = p.ID()
	return h.list(c, f)
}

func (h *ActivityHandler) list(c echo.Context, f repository.ActivityFilter) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()

	items, total, err := h.Activities.List(ctx, f)
	if err != nil {
		return err
	}
	return ok(c, http.StatusOK, "", echo.Map{
		"activities": items,
		"pagination": newPagination(f.Page, f.Limit, total),
	})
}

type filterError string

func (e filterError) Error() string { return string(e) }

func activityFilter(c echo.Context) (repository.ActivityFilter, error) {
	page, limit := pageParams(c)
	f := repository.ActivityFilter{Page: page, Limit: limit}
	if t := c.QueryParam("type"); t != "" {
		f.Type = model.ActivityType(t)
		if !f.Type.Valid() {
			return f, filterError("unknown activity type " + t)
		}
	}
	if s := c.QueryParam("severity"); s != "" {
		f.Severity = model.Severity(s)
		if !f.Severity.Valid() {
			return f, filterError("unknown severity " + s)
		}
	}
	if s := c.QueryParam("since"); s != "" {
		since, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return f, filterError("since must be an RFC 3339 timestamp")
		}
		f.Since = since
	}
	return f, nil
}
