package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/admin-dashboard-api/internal/apperr"
	"github.com/iliyamo/admin-dashboard-api/internal/middleware"
	"github.com/iliyamo/admin-dashboard-api/internal/model"
	"github.com/iliyamo/admin-dashboard-api/internal/repository"
)

// ReasonCannotActOnSelf is returned when an admin targets their own account
// with a destructive action.
const ReasonCannotActOnSelf apperr.Kind = "cannot_act_on_self"

// UserHandler serves the admin user-management endpoints.
type UserHandler struct {
	Users    UserStore
	Recorder middleware.ActivityRecorder
	Notifier middleware.StatusNotifier
}

func NewUserHandler(users UserStore, rec middleware.ActivityRecorder, notifier middleware.StatusNotifier) *UserHandler {
	return &UserHandler{Users: users, Recorder: rec, Notifier: notifier}
}

type updateUserReq struct {
	Username *string `json:"username" validate:"omitempty,min=3,max=30,alphanum"`
	Email    *string `json:"email" validate:"omitempty,email,max=255"`
	Role     *string `json:"role" validate:"omitempty"`
	Status   *string `json:"status" validate:"omitempty"`
}

type bulkStatusReq struct {
	IDs    []string `json:"ids" validate:"required,min=1,max=500,dive,required"`
	Status string   `json:"status" validate:"required"`
}

// List returns a filtered page of identities.
func (h *UserHandler) List(c echo.Context) error {
	page, limit := pageParams(c)
	f := repository.UserFilter{Search: c.QueryParam("search"), Page: page, Limit: limit}
	if r := c.QueryParam("role"); r != "" {
		role, err := model.ParseRole(r)
		if err != nil {
			return badRequest(c, err.Error())
		}
		f.Role = role
	}
	if s := c.QueryParam("status"); s != "" {
		status, err := model.ParseStatus(s)
		if err != nil {
			return badRequest(c, err.Error())
		}
		f.Status = status
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()

	users, total, err := h.Users.List(ctx, f)
	if err != nil {
		return err
	}
	return ok(c, http.StatusOK, "", echo.Map{
		"users":      users,
		"pagination": newPagination(page, limit, total),
	})
}

// Get returns one identity.
func (h *UserHandler) Get(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()

	u, err := h.Users.FindByID(ctx, c.Param("id"))
	if errors.Is(err, repository.ErrNotFound) {
		return notFound(c, "User")
	}
	if err != nil {
		return err
	}
	return ok(c, http.StatusOK, "", echo.Map{"user": u})
}

// Update patches another identity's profile, role or status.  An admin may
// not change their own role or status.
func (h *UserHandler) Update(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	id := c.Param("id")

	var req updateUserReq
	if ok, err := bind(c, &req); !ok {
		return err
	}

	patch := repository.UserPatch{Username: req.Username, Email: req.Email}
	if req.Role != nil {
		role, err := model.ParseRole(*req.Role)
		if err != nil {
			return badRequest(c, err.Error())
		}
		patch.Role = &role
	}
	if req.Status != nil {
		status, err := model.ParseStatus(*req.Status)
		if err != nil {
			return badRequest(c, err.Error())
		}
		patch.Status = &status
	}
	if patch == (repository.UserPatch{}) {
		return badRequest(c, "Nothing to update")
	}
	if id == p.ID() && (patch.Role != nil || patch.Status != nil) {
		return apperr.FailReason(c, http.StatusBadRequest, ReasonCannotActOnSelf, "You cannot change your own role or status")
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()

	before, err := h.Users.FindByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return notFound(c, "User")
	}
	if err != nil {
		return err
	}

	err = h.Users.Update(ctx, id, patch)
	switch {
	case errors.Is(err, repository.ErrDuplicate):
		return apperr.Fail(c, http.StatusConflict, "Username or email already exists")
	case errors.Is(err, repository.ErrNotFound):
		return notFound(c, "User")
	case err != nil:
		return err
	}

	after, err := h.Users.FindByID(ctx, id)
	if err != nil {
		return err
	}

	// deactivating a user who is online ends their presence
	if before.IsOnline && !after.IsActive() {
		if err := h.Users.SetOnline(ctx, id, false); err == nil {
			after.IsOnline = false
			if h.Notifier != nil {
				h.Notifier.IdentityStatusChanged(c.Request().Context(), after, false, "status_"+string(after.Status))
			}
		}
	}

	meta := map[string]any{"targetId": id}
	if patch.Role != nil {
		meta["role"] = map[string]any{"from": before.Role, "to": after.Role}
	}
	if patch.Status != nil {
		meta["status"] = map[string]any{"from": before.Status, "to": after.Status}
	}
	recordActivity(c, h.Recorder, p.ID(), model.ActivityUserUpdate,
		fmt.Sprintf("Updated user %s", after.Username), model.SeverityHigh, meta)
	return ok(c, http.StatusOK, "User updated successfully", echo.Map{"user": after})
}

// Delete removes another identity.
func (h *UserHandler) Delete(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	id := c.Param("id")
	if id == p.ID() {
		return apperr.FailReason(c, http.StatusBadRequest, ReasonCannotActOnSelf, "You cannot delete your own account")
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()

	target, err := h.Users.FindByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return notFound(c, "User")
	}
	if err != nil {
		return err
	}
	if err := h.Users.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return notFound(c, "User")
		}
		return err
	}

	recordActivity(c, h.Recorder, p.ID(), model.ActivityUserDelete,
		fmt.Sprintf("Deleted user %s", target.Username), model.SeverityHigh,
		map[string]any{"targetId": id, "username": target.Username, "email": target.Email})
	return ok(c, http.StatusOK, "User deleted successfully", nil)
}

// BulkUpdateStatus sets the status of many identities.  The caller's own
// id is never updated and is reported back in "skipped".
func (h *UserHandler) BulkUpdateStatus(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	var req bulkStatusReq
	if ok, err := bind(c, &req); !ok {
		return err
	}
	status, err := model.ParseStatus(req.Status)
	if err != nil {
		return badRequest(c, err.Error())
	}

	targets, skipped := excludeSelf(req.IDs, p.ID())
	if len(targets) == 0 {
		return apperr.FailReason(c, http.StatusBadRequest, ReasonCannotActOnSelf, "You cannot change your own status")
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()

	n, err := h.Users.SetStatus(ctx, targets, status)
	if err != nil {
		return err
	}
	if status != model.StatusActive {
		h.endPresence(ctx, c, targets)
	}

	recordActivity(c, h.Recorder, p.ID(), model.ActivityAdminAction,
		fmt.Sprintf("Bulk status update to %s for %d users", status, len(targets)), model.SeverityHigh,
		map[string]any{"status": status, "targetIds": targets, "skipped": skipped, "updated": n})
	return ok(c, http.StatusOK, fmt.Sprintf("%d users updated", n), echo.Map{
		"updated": n,
		"skipped": skipped,
	})
}

// endPresence marks deactivated identities among ids offline and
// announces it.  Lookup failures leave that identity's presence alone.
func (h *UserHandler) endPresence(ctx context.Context, c echo.Context, ids []string) {
	for _, id := range ids {
		u, err := h.Users.FindByID(ctx, id)
		if err != nil || !u.IsOnline || u.IsActive() {
			continue
		}
		if err := h.Users.SetOnline(ctx, id, false); err != nil {
			continue
		}
		u.IsOnline = false
		if h.Notifier != nil {
			h.Notifier.IdentityStatusChanged(c.Request().Context(), u, false, "status_"+string(u.Status))
		}
	}
}

// excludeSelf drops self and duplicate ids, preserving order.
func excludeSelf(ids []string, self string) (targets, skipped []string) {
	seen := make(map[string]bool, len(ids))
	targets = make([]string, 0, len(ids))
	skipped = []string{}
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		if id == self {
			skipped = append(skipped, id)
			continue
		}
		targets = append(targets, id)
	}
	return targets, skipped
}

