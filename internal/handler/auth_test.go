package handler

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/admin-dashboard-api/internal/model"
	"github.com/iliyamo/admin-dashboard-api/internal/token"
	"github.com/iliyamo/admin-dashboard-api/internal/utils"
)

type authFixture struct {
	e      *echo.Echo
	users  *memUsers
	tokens *token.Service
	rec    *recorderSpy
	status *statusSpy
	now    time.Time
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	f := &authFixture{users: newMemUsers(), rec: &recorderSpy{}, status: &statusSpy{}, now: time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)}
	clock := func() time.Time { return f.now }

	var err error
	f.tokens, err = token.NewService(token.Config{Secret: "s", RefreshSecret: "r"},
		token.WithClock(clock), token.WithIdentityLookup(f.users))
	require.NoError(t, err)

	h := NewAuthHandler(f.users, f.tokens, f.rec, f.status, testCost)
	h.Now = clock

	f.e = newTestEcho()
	f.e.POST("/register", h.Register)
	f.e.POST("/login", h.Login)
	f.e.POST("/refresh", h.Refresh)

	ada := f.users.seed(t, "u-ada", "ada", model.RoleUser, model.StatusActive, "correct-horse")
	f.users.seed(t, "u-bob", "bob", model.RoleUser, model.StatusSuspended, "correct-horse")
	ada.PasswordHash = ""
	f.e.POST("/logout", h.Logout, asPrincipal(ada))
	f.e.GET("/me", h.Me, asPrincipal(ada))
	f.e.PUT("/profile", h.UpdateProfile, asPrincipal(ada))
	f.e.PUT("/password", h.ChangePassword, asPrincipal(ada))
	return f
}

func TestRegister(t *testing.T) {
	f := newAuthFixture(t)

	rec := call(f.e, http.MethodPost, "/register", echo.Map{"username": "carol", "email": "Carol@Example.com", "password": "long-enough"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	data := dataOf(t, rec)
	user := data["user"].(map[string]any)
	assert.Equal(t, "carol@example.com", user["email"])
	assert.Equal(t, "user", user["role"])
	assert.NotContains(t, user, "passwordHash")
	assert.NotContains(t, user, "PasswordHash")

	access := data["access"].(map[string]any)["token"].(string)
	claims, err := f.tokens.Verify(access)
	require.NoError(t, err)
	assert.Equal(t, "id-carol", claims.IdentityID)
	assert.Equal(t, []model.ActivityType{model.ActivityRegister}, f.rec.types())

	rec = call(f.e, http.MethodPost, "/register", echo.Map{"username": "carol", "email": "other@example.com", "password": "long-enough"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRegister_Validation(t *testing.T) {
	f := newAuthFixture(t)

	rec := call(f.e, http.MethodPost, "/register", echo.Map{"username": "x", "email": "nope", "password": "short"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	msg := decodeBody(t, rec)["message"].(string)
	assert.Contains(t, msg, "username must be at least 3 characters long")
	assert.Contains(t, msg, "email must be a valid email address")
	assert.Contains(t, msg, "password must be at least 8 characters long")
	assert.Empty(t, f.rec.types())
}

func TestLogin(t *testing.T) {
	f := newAuthFixture(t)

	rec := call(f.e, http.MethodPost, "/login", echo.Map{"login": "ada@example.com", "password": "correct-horse"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	data := dataOf(t, rec)
	exp := data["access"].(map[string]any)["expiresAt"].(string)
	assert.Equal(t, f.now.Add(token.DefaultAccessTTL).Format(time.RFC3339), exp)

	assert.Equal(t, 1, f.users.logins)
	stored := f.users.byID["u-ada"]
	assert.Equal(t, "198.51.100.20", stored.LastLoginIP)
	assert.Equal(t, "handler-test", stored.LastLoginDevice)
	assert.Equal(t, []string{"u-ada:online:login"}, f.status.events)
	assert.Equal(t, []model.ActivityType{model.ActivityLogin}, f.rec.types())
}

func TestLogin_RememberMeByUsername(t *testing.T) {
	f := newAuthFixture(t)

	rec := call(f.e, http.MethodPost, "/login", echo.Map{"login": "ada", "password": "correct-horse", "rememberMe": true})
	require.Equal(t, http.StatusOK, rec.Code)
	exp := dataOf(t, rec)["access"].(map[string]any)["expiresAt"].(string)
	assert.Equal(t, f.now.Add(token.DefaultExtendedTTL).Format(time.RFC3339), exp)
}

func TestLogin_Rejections(t *testing.T) {
	f := newAuthFixture(t)

	rec := call(f.e, http.MethodPost, "/login", echo.Map{"login": "ada", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid credentials", decodeBody(t, rec)["message"])

	rec = call(f.e, http.MethodPost, "/login", echo.Map{"login": "nobody", "password": "whatever"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid credentials", decodeBody(t, rec)["message"])

	rec = call(f.e, http.MethodPost, "/login", echo.Map{"login": "bob", "password": "correct-horse"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "account_suspended", body["reason"])
	assert.Equal(t, "Account is suspended", body["message"])

	assert.Zero(t, f.users.logins)
	assert.Empty(t, f.rec.types())
}

func TestRefresh(t *testing.T) {
	f := newAuthFixture(t)
	rt, err := f.tokens.IssueRefresh("u-ada")
	require.NoError(t, err)

	rec := call(f.e, http.MethodPost, "/refresh", echo.Map{"refreshToken": rt.Value})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	access := dataOf(t, rec)["access"].(map[string]any)["token"].(string)
	_, err = f.tokens.Verify(access)
	assert.NoError(t, err)

	rec = call(f.e, http.MethodPost, "/refresh", echo.Map{"refreshToken": "garbage"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	bob, err := f.tokens.IssueRefresh("u-bob")
	require.NoError(t, err)
	rec = call(f.e, http.MethodPost, "/refresh", echo.Map{"refreshToken": bob.Value})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Account is suspended", decodeBody(t, rec)["message"])
}

func TestLogoutAndMe(t *testing.T) {
	f := newAuthFixture(t)
	require.NoError(t, f.users.SetOnline(context.Background(), "u-ada", true))

	rec := call(f.e, http.MethodGet, "/me", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u-ada", dataOf(t, rec)["user"].(map[string]any)["id"])

	rec = call(f.e, http.MethodPost, "/logout", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, f.users.byID["u-ada"].IsOnline)
	assert.Equal(t, []string{"u-ada:offline:logout"}, f.status.events)
	assert.Equal(t, []model.ActivityType{model.ActivityLogout}, f.rec.types())
}

func TestUpdateProfile(t *testing.T) {
	f := newAuthFixture(t)

	rec := call(f.e, http.MethodPut, "/profile", echo.Map{"email": "ADA@new.example.com"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "ada@new.example.com", dataOf(t, rec)["user"].(map[string]any)["email"])
	assert.Equal(t, []model.ActivityType{model.ActivityProfileUpdate}, f.rec.types())

	rec = call(f.e, http.MethodPut, "/profile", echo.Map{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = call(f.e, http.MethodPut, "/profile", echo.Map{"username": "bob"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestChangePassword(t *testing.T) {
	f := newAuthFixture(t)

	rec := call(f.e, http.MethodPut, "/password", echo.Map{"currentPassword": "wrong", "newPassword": "brand-new-pass"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = call(f.e, http.MethodPut, "/password", echo.Map{"currentPassword": "correct-horse", "newPassword": "brand-new-pass"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, utils.VerifyPassword(f.users.byID["u-ada"].PasswordHash, "brand-new-pass"))
}
