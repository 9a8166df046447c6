package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/admin-dashboard-api/internal/activity"
	"github.com/iliyamo/admin-dashboard-api/internal/middleware"
	"github.com/iliyamo/admin-dashboard-api/internal/model"
	"github.com/iliyamo/admin-dashboard-api/internal/repository"
	"github.com/iliyamo/admin-dashboard-api/internal/utils"
)

const testCost = 4 // bcrypt.MinCost

type memUsers struct {
	mu     sync.Mutex
	byID   map[string]model.Identity
	fail   error
	logins int
}

func newMemUsers() *memUsers { return &memUsers{byID: map[string]model.Identity{}} }

func (m *memUsers) seed(t *testing.T, id, username string, role model.Role, status model.Status, password string) model.Identity {
	t.Helper()
	hash, err := utils.HashPassword(password, testCost)
	require.NoError(t, err)
	u := model.Identity{ID: id, Username: username, Email: username + "@example.com", Role: role, Status: status, PasswordHash: hash}
	m.byID[id] = u
	return u
}

func (m *memUsers) Create(_ context.Context, u *model.Identity, password string, cost int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, x := range m.byID {
		if x.Username == u.Username || x.Email == model.NormalizeEmail(u.Email) {
			return repository.ErrDuplicate
		}
	}
	hash, err := utils.HashPassword(password, cost)
	if err != nil {
		return err
	}
	u.ID = "id-" + u.Username
	u.Email = model.NormalizeEmail(u.Email)
	u.PasswordHash = hash
	m.byID[u.ID] = *u
	return nil
}

func (m *memUsers) FindByID(ctx context.Context, id string) (model.Identity, error) {
	u, err := m.FindByIDWithHash(ctx, id)
	u.PasswordHash = ""
	return u, err
}

func (m *memUsers) FindByIDWithHash(_ context.Context, id string) (model.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return model.Identity{}, m.fail
	}
	u, ok := m.byID[id]
	if !ok {
		return model.Identity{}, repository.ErrNotFound
	}
	return u, nil
}

func (m *memUsers) FindByLogin(_ context.Context, login string) (model.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byID {
		if u.Username == login || u.Email == strings.ToLower(login) {
			return u, nil
		}
	}
	return model.Identity{}, repository.ErrNotFound
}

func (m *memUsers) Update(_ context.Context, id string, p repository.UserPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	for xid, x := range m.byID {
		if xid == id {
			continue
		}
		if (p.Username != nil && x.Username == *p.Username) || (p.Email != nil && x.Email == model.NormalizeEmail(*p.Email)) {
			return repository.ErrDuplicate
		}
	}
	if p.Username != nil {
		u.Username = *p.Username
	}
	if p.Email != nil {
		u.Email = model.NormalizeEmail(*p.Email)
	}
	if p.PasswordHash != nil {
		u.PasswordHash = *p.PasswordHash
	}
	if p.Role != nil {
		u.Role = *p.Role
	}
	if p.Status != nil {
		u.Status = *p.Status
	}
	m.byID[id] = u
	return nil
}

func (m *memUsers) RecordLogin(_ context.Context, id, ip, device string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.byID[id]
	u.LoginCount++
	u.LastLoginIP, u.LastLoginDevice, u.IsOnline = ip, device, true
	u.LastLoginAt = &at
	m.byID[id] = u
	m.logins++
	return nil
}

func (m *memUsers) SetOnline(_ context.Context, id string, online bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.byID[id]
	u.IsOnline = online
	m.byID[id] = u
	return nil
}

func (m *memUsers) SetStatus(_ context.Context, ids []string, status model.Status) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, id := range ids {
		if u, ok := m.byID[id]; ok {
			u.Status = status
			m.byID[id] = u
			n++
		}
	}
	return n, nil
}

func (m *memUsers) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[id]; !ok {
		return repository.ErrNotFound
	}
	delete(m.byID, id)
	return nil
}

func (m *memUsers) List(_ context.Context, f repository.UserFilter) ([]model.Identity, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Identity
	for _, u := range m.byID {
		if f.Role != "" && u.Role != f.Role {
			continue
		}
		if f.Status != "" && u.Status != f.Status {
			continue
		}
		u.PasswordHash = ""
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	total := len(out)
	start := f.Offset()
	if start > total {
		start = total
	}
	end := start + f.Limit
	if end > total {
		end = total
	}
	return out[start:end], total, nil
}

func (m *memUsers) Stats(_ context.Context, _ time.Time) (repository.UserStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var s repository.UserStats
	for _, u := range m.byID {
		s.Total++
		if u.Status == model.StatusActive {
			s.Active++
		}
		if u.Role == model.RoleAdmin {
			s.Admins++
		}
	}
	return s, nil
}

type recorderSpy struct {
	mu      sync.Mutex
	entries []activity.Entry
}

func (r *recorderSpy) Record(_ context.Context, e activity.Entry) {
	r.mu.Lock()
	r.entries = append(r.entries, e)
	r.mu.Unlock()
}

func (r *recorderSpy) types() []model.ActivityType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.ActivityType, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.Type)
	}
	return out
}

type statusSpy struct {
	mu     sync.Mutex
	events []string
}

func (s *statusSpy) IdentityStatusChanged(_ context.Context, u model.Identity, online bool, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := "offline"
	if online {
		state = "online"
	}
	s.events = append(s.events, u.ID+":"+state+":"+reason)
}

func newTestEcho() *echo.Echo {
	e := echo.New()
	e.Validator = NewValidator()
	logger, _ := test.NewNullLogger()
	e.HTTPErrorHandler = HTTPErrorHandler(false, logger)
	return e
}

// asPrincipal attaches a principal whose token role matches the identity.
func asPrincipal(u model.Identity) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			middleware.SetPrincipal(c, middleware.Principal{Identity: u, TokenRole: u.Role})
			return next(c)
		}
	}
}

func call(e *echo.Echo, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(echo.HeaderXRealIP, "198.51.100.20")
	req.Header.Set("User-Agent", "handler-test")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func dataOf(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	body := decodeBody(t, rec)
	require.Equal(t, true, body["success"], rec.Body.String())
	data, _ := body["data"].(map[string]any)
	return data
}
