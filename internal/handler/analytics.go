package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/sync/errgroup"

	"github.com/iliyamo/admin-dashboard-api/internal/repository"
)

// AnalyticsHandler serves aggregate dashboard figures.
type AnalyticsHandler struct {
	Users      UserStore
	Activities ActivityStore
	Now        func() time.Time
}

func NewAnalyticsHandler(users UserStore, activities ActivityStore) *AnalyticsHandler {
	return &AnalyticsHandler{Users: users, Activities: activities, Now: time.Now}
}

// Overview is the payload of GET /api/analytics/overview.
type Overview struct {
	Users          repository.UserStats      `json:"users"`
	Activity24h    repository.ActivityCounts `json:"activity24h"`
	GeneratedAt    time.Time                 `json:"generatedAt"`
	ActiveRatioPct float64                   `json:"activeRatioPct"`
}

// Overview computes user and activity aggregates concurrently.
func (h *AnalyticsHandler) Overview(c echo.Context) error {
	now := h.Now().UTC()

	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()

	var out Overview
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s, err := h.Users.Stats(gctx, now)
		out.Users = s
		return err
	})
	g.Go(func() error {
		a, err := h.Activities.CountsSince(gctx, now.Add(-24*time.Hour))
		out.Activity24h = a
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	out.GeneratedAt = now
	if out.Users.Total > 0 {
		out.ActiveRatioPct = float64(out.Users.Active*10000/out.Users.Total) / 100
	}
	return ok(c, http.StatusOK, "", out)
}
