package handler

import (
	"net/http"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/admin-dashboard-api/internal/model"
)

type usersFixture struct {
	e      *echo.Echo
	users  *memUsers
	rec    *recorderSpy
	status *statusSpy
}

func newUsersFixture(t *testing.T) *usersFixture {
	t.Helper()
	f := &usersFixture{users: newMemUsers(), rec: &recorderSpy{}, status: &statusSpy{}}
	admin := f.users.seed(t, "u-admin", "root", model.RoleAdmin, model.StatusActive, "pw-admin-123")
	f.users.seed(t, "u-ada", "ada", model.RoleUser, model.StatusActive, "pw-ada-12345")
	f.users.seed(t, "u-bob", "bob", model.RoleUser, model.StatusInactive, "pw-bob-12345")

	h := NewUserHandler(f.users, f.rec, f.status)
	f.e = newTestEcho()
	g := f.e.Group("/users", asPrincipal(admin))
	g.GET("", h.List)
	g.GET("/:id", h.Get)
	g.PUT("/:id", h.Update)
	g.DELETE("/:id", h.Delete)
	g.PATCH("/status", h.BulkUpdateStatus)
	return f
}

func TestUsersList_Filters(t *testing.T) {
	f := newUsersFixture(t)

	rec := call(f.e, http.MethodGet, "/users?role=USER&limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	data := dataOf(t, rec)
	assert.Len(t, data["users"], 1)
	pg := data["pagination"].(map[string]any)
	assert.EqualValues(t, 2, pg["total"])
	assert.EqualValues(t, 2, pg["pages"])

	rec = call(f.e, http.MethodGet, "/users?status=inactive", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	users := dataOf(t, rec)["users"].([]any)
	require.Len(t, users, 1)
	assert.Equal(t, "bob", users[0].(map[string]any)["username"])

	rec = call(f.e, http.MethodGet, "/users?role=owner", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUsersGet(t *testing.T) {
	f := newUsersFixture(t)

	rec := call(f.e, http.MethodGet, "/users/u-ada", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ada", dataOf(t, rec)["user"].(map[string]any)["username"])

	rec = call(f.e, http.MethodGet, "/users/ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUsersUpdate(t *testing.T) {
	f := newUsersFixture(t)

	rec := call(f.e, http.MethodPut, "/users/u-ada", echo.Map{"role": "Admin"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, model.RoleAdmin, f.users.byID["u-ada"].Role)
	assert.Equal(t, []model.ActivityType{model.ActivityUserUpdate}, f.rec.types())
	assert.Equal(t, model.SeverityHigh, f.rec.entries[0].Severity)
	assert.Equal(t, "u-admin", f.rec.entries[0].ActorID)

	rec = call(f.e, http.MethodPut, "/users/u-ada", echo.Map{"role": "owner"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = call(f.e, http.MethodPut, "/users/u-ada", echo.Map{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = call(f.e, http.MethodPut, "/users/ghost", echo.Map{"status": "active"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUsersUpdate_SuspendingOnlineUserEndsPresence(t *testing.T) {
	f := newUsersFixture(t)
	u := f.users.byID["u-ada"]
	u.IsOnline = true
	f.users.byID["u-ada"] = u

	rec := call(f.e, http.MethodPut, "/users/u-ada", echo.Map{"status": "suspended"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.False(t, f.users.byID["u-ada"].IsOnline)
	assert.Equal(t, []string{"u-ada:offline:status_suspended"}, f.status.events)
}

func TestUsers_SelfGuard(t *testing.T) {
	f := newUsersFixture(t)

	for name, tc := range map[string]struct {
		method string
		path   string
		body   any
	}{
		"delete self":         {http.MethodDelete, "/users/u-admin", nil},
		"demote self":         {http.MethodPut, "/users/u-admin", echo.Map{"role": "user"}},
		"suspend self":        {http.MethodPut, "/users/u-admin", echo.Map{"status": "suspended"}},
		"bulk with only self": {http.MethodPatch, "/users/status", echo.Map{"ids": []string{"u-admin"}, "status": "inactive"}},
	} {
		rec := call(f.e, tc.method, tc.path, tc.body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, name)
		assert.Equal(t, string(ReasonCannotActOnSelf), decodeBody(t, rec)["reason"], name)
	}

	assert.Equal(t, model.RoleAdmin, f.users.byID["u-admin"].Role)
	assert.Equal(t, model.StatusActive, f.users.byID["u-admin"].Status)
	assert.Empty(t, f.rec.types())

	// renaming yourself is allowed
	rec := call(f.e, http.MethodPut, "/users/u-admin", echo.Map{"username": "boss"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUsersDelete(t *testing.T) {
	f := newUsersFixture(t)

	rec := call(f.e, http.MethodDelete, "/users/u-bob", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, f.users.byID, "u-bob")
	assert.Equal(t, []model.ActivityType{model.ActivityUserDelete}, f.rec.types())

	rec = call(f.e, http.MethodDelete, "/users/u-bob", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUsersBulkStatus_SkipsSelf(t *testing.T) {
	f := newUsersFixture(t)

	rec := call(f.e, http.MethodPatch, "/users/status", echo.Map{
		"ids":    []string{"u-ada", "u-admin", "u-bob", "u-ada"},
		"status": "Suspended",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	data := dataOf(t, rec)
	assert.EqualValues(t, 2, data["updated"])
	assert.Equal(t, []any{"u-admin"}, data["skipped"])

	assert.Equal(t, model.StatusSuspended, f.users.byID["u-ada"].Status)
	assert.Equal(t, model.StatusSuspended, f.users.byID["u-bob"].Status)
	assert.Equal(t, model.StatusActive, f.users.byID["u-admin"].Status)
	assert.Equal(t, []model.ActivityType{model.ActivityAdminAction}, f.rec.types())

	rec = call(f.e, http.MethodPatch, "/users/status", echo.Map{"ids": []string{"u-ada"}, "status": "gone"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = call(f.e, http.MethodPatch, "/users/status", echo.Map{"ids": []string{}, "status": "active"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUsersBulkStatus_DeactivatingEndsPresence(t *testing.T) {
	f := newUsersFixture(t)
	f.users.seed(t, "u-cy", "cy", model.RoleUser, model.StatusActive, "pw-cy-123456")
	for _, id := range []string{"u-ada", "u-cy"} {
		u := f.users.byID[id]
		u.IsOnline = true
		f.users.byID[id] = u
	}

	rec := call(f.e, http.MethodPatch, "/users/status", echo.Map{
		"ids":    []string{"u-ada", "u-bob"},
		"status": "inactive",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.False(t, f.users.byID["u-ada"].IsOnline)
	assert.True(t, f.users.byID["u-cy"].IsOnline)
	assert.Equal(t, []string{"u-ada:offline:status_inactive"}, f.status.events)

	// reactivating does not touch presence
	rec = call(f.e, http.MethodPatch, "/users/status", echo.Map{"ids": []string{"u-cy"}, "status": "active"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, f.users.byID["u-cy"].IsOnline)
	assert.Len(t, f.status.events, 1)
}

func TestExcludeSelf(t *testing.T) {
	targets, skipped := excludeSelf([]string{" a ", "me", "b", "a", ""}, "me")
	assert.Equal(t, []string{"a", "b"}, targets)
	assert.Equal(t, []string{"me"}, skipped)

	targets, skipped = excludeSelf([]string{"a"}, "me")
	assert.Equal(t, []string{"a"}, targets)
	assert.Empty(t, skipped)
}
