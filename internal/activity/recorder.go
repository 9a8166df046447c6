// Package activity records the audit trail.  Writes are best-effort: they
// run detached from the request, never delay the response, and a failure
// is only logged.
package activity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/admin-dashboard-api/internal/metrics"
	"github.com/iliyamo/admin-dashboard-api/internal/model"
)

// Store persists activity records.
type Store interface {
	Insert(ctx context.Context, a *model.Activity) error
}

// Notifier is told about every activity that was stored.
type Notifier interface {
	ActivityRecorded(ctx context.Context, a model.Activity)
}

// Entry is one audit event as seen by callers.
type Entry struct {
	ActorID     string
	Type        model.ActivityType
	Description string
	IP          string
	UserAgent   string
	Metadata    map[string]any
	Severity    model.Severity
}

// DefaultTimeout bounds a single detached write.
const DefaultTimeout = 5 * time.Second

// Recorder writes entries in the background.
type Recorder struct {
	store    Store
	notifier Notifier
	logger   logrus.FieldLogger
	metrics  *metrics.Metrics
	timeout  time.Duration
	now      func() time.Time

	wg sync.WaitGroup
}

// Option customises a Recorder.
type Option func(*Recorder)

func WithNotifier(n Notifier) Option         { return func(r *Recorder) { r.notifier = n } }
func WithLogger(l logrus.FieldLogger) Option { return func(r *Recorder) { r.logger = l } }
func WithMetrics(m *metrics.Metrics) Option  { return func(r *Recorder) { r.metrics = m } }
func WithClock(now func() time.Time) Option  { return func(r *Recorder) { r.now = now } }

func WithTimeout(d time.Duration) Option {
	return func(r *Recorder) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// NewRecorder returns a Recorder writing to store.
func NewRecorder(store Store, opts ...Option) *Recorder {
	r := &Recorder{
		store:   store,
		logger:  logrus.StandardLogger(),
		timeout: DefaultTimeout,
		now:     time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Record schedules the write and returns immediately.  The write is not
// cancelled when ctx is: an aborted request still leaves its audit record.
func (r *Recorder) Record(ctx context.Context, e Entry) {
	if r == nil || r.store == nil {
		return
	}
	a, err := r.build(e)
	if err != nil {
		r.logger.WithError(err).WithField("actor_id", e.ActorID).Warn("activity: dropped invalid entry")
		r.metrics.ActivityWrite(false)
		return
	}

	detached := context.WithoutCancel(ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			if p := recover(); p != nil {
				r.logger.WithField("panic", p).WithField("type", a.Type).Error("activity: write panicked")
				r.metrics.ActivityWrite(false)
			}
		}()

		wctx, cancel := context.WithTimeout(detached, r.timeout)
		defer cancel()

		if err := r.store.Insert(wctx, &a); err != nil {
			r.logger.WithError(err).WithFields(logrus.Fields{
				"actor_id": a.UserID,
				"type":     a.Type,
			}).Warn("activity: write failed")
			r.metrics.ActivityWrite(false)
			return
		}
		r.metrics.ActivityWrite(true)
		if r.notifier != nil {
			r.notifier.ActivityRecorded(wctx, a)
		}
	}()
}

// Wait blocks until every scheduled write has finished.
func (r *Recorder) Wait() {
	if r == nil {
		return
	}
	r.wg.Wait()
}

func (r *Recorder) build(e Entry) (model.Activity, error) {
	if e.ActorID == "" {
		return model.Activity{}, fmt.Errorf("missing actor")
	}
	if !e.Type.Valid() {
		return model.Activity{}, fmt.Errorf("unknown activity type %q", e.Type)
	}
	sev := e.Severity
	if sev == "" {
		sev = model.SeverityLow
	}
	if !sev.Valid() {
		return model.Activity{}, fmt.Errorf("unknown severity %q", e.Severity)
	}
	return model.Activity{
		ID:          uuid.NewString(),
		UserID:      e.ActorID,
		Type:        e.Type,
		Description: e.Description,
		IPAddress:   e.IP,
		UserAgent:   e.UserAgent,
		Metadata:    e.Metadata,
		Severity:    sev,
		CreatedAt:   r.now().UTC(),
	}, nil
}
