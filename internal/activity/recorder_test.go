package activity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/admin-dashboard-api/internal/model"
)

type memStore struct {
	mu          sync.Mutex
	rows        []model.Activity
	err         error
	panic       bool
	ctxErrs     []error
	hadDeadline []bool
}

func (m *memStore) Insert(ctx context.Context, a *model.Activity) error {
	if m.panic {
		panic("driver exploded")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := ctx.Deadline()
	m.ctxErrs = append(m.ctxErrs, ctx.Err())
	m.hadDeadline = append(m.hadDeadline, ok)
	if m.err != nil {
		return m.err
	}
	m.rows = append(m.rows, *a)
	return nil
}

type spyNotifier struct {
	mu   sync.Mutex
	seen []model.Activity
}

func (s *spyNotifier) ActivityRecorded(_ context.Context, a model.Activity) {
	s.mu.Lock()
	s.seen = append(s.seen, a)
	s.mu.Unlock()
}

func TestRecord_WritesAndNotifies(t *testing.T) {
	store := &memStore{}
	spy := &spyNotifier{}
	fixed := time.Date(2026, 2, 1, 9, 30, 0, 0, time.UTC)
	r := NewRecorder(store, WithNotifier(spy), WithClock(func() time.Time { return fixed }))

	r.Record(context.Background(), Entry{
		ActorID:     "u1",
		Type:        model.ActivityLogin,
		Description: "User logged in",
		IP:          "10.0.0.1",
		Metadata:    map[string]any{"device": "cli"},
	})
	r.Wait()

	require.Len(t, store.rows, 1)
	got := store.rows[0]
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, model.SeverityLow, got.Severity)
	assert.Equal(t, fixed, got.CreatedAt)
	assert.NotEmpty(t, got.ID)
	require.Len(t, spy.seen, 1)
	assert.Equal(t, got.ID, spy.seen[0].ID)
}

func TestRecord_SurvivesRequestCancellation(t *testing.T) {
	store := &memStore{}
	r := NewRecorder(store)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r.Record(ctx, Entry{ActorID: "u1", Type: model.ActivityLogout})
	r.Wait()

	require.Len(t, store.rows, 1)
	require.Len(t, store.ctxErrs, 1)
	assert.NoError(t, store.ctxErrs[0], "write context was live during Insert")
	assert.True(t, store.hadDeadline[0])
}

func TestRecord_FailureIsLoggedNotRaised(t *testing.T) {
	logger, hook := test.NewNullLogger()
	store := &memStore{err: errors.New("disk full")}
	spy := &spyNotifier{}
	r := NewRecorder(store, WithLogger(logger), WithNotifier(spy))

	r.Record(context.Background(), Entry{ActorID: "u1", Type: model.ActivityUserDelete, Severity: model.SeverityHigh})
	r.Wait()

	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.Empty(t, spy.seen)
}

func TestRecord_PanicIsContained(t *testing.T) {
	logger, hook := test.NewNullLogger()
	r := NewRecorder(&memStore{panic: true}, WithLogger(logger))

	assert.NotPanics(t, func() {
		r.Record(context.Background(), Entry{ActorID: "u1", Type: model.ActivityLogin})
		r.Wait()
	})
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
}

func TestRecord_RejectsInvalidEntries(t *testing.T) {
	logger, hook := test.NewNullLogger()
	store := &memStore{}
	r := NewRecorder(store, WithLogger(logger))

	r.Record(context.Background(), Entry{ActorID: "", Type: model.ActivityLogin})
	r.Record(context.Background(), Entry{ActorID: "u1", Type: "teleport"})
	r.Record(context.Background(), Entry{ActorID: "u1", Type: model.ActivityLogin, Severity: "apocalyptic"})
	r.Wait()

	assert.Empty(t, store.rows)
	assert.Len(t, hook.AllEntries(), 3)
}

func TestNilRecorderIsNoop(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() {
		r.Record(context.Background(), Entry{ActorID: "u1", Type: model.ActivityLogin})
		r.Wait()
	})
}
