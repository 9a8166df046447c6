package service

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/admin-dashboard-api/internal/config"
	"github.com/iliyamo/admin-dashboard-api/internal/metrics"
	"github.com/iliyamo/admin-dashboard-api/internal/model"
)

// IdleMarker flips identities whose last activity is older than before to
// offline and returns their ids.
type IdleMarker interface {
	MarkIdleOffline(ctx context.Context, before time.Time) ([]string, error)
}

// StatusNotifier is told when an identity goes online or offline.
type StatusNotifier interface {
	IdentityStatusChanged(ctx context.Context, u model.Identity, online bool, reason string)
}

// PresenceSweeper periodically marks idle identities offline.  The auth
// middleware only ever sets the online flag; this is what clears it for
// clients that disappear without logging out.
type PresenceSweeper struct {
	store     IdleMarker
	notifier  StatusNotifier
	schedule  string
	idleAfter time.Duration
	logger    logrus.FieldLogger
	metrics   *metrics.Metrics
	now       func() time.Time
}

// NewPresenceSweeper returns a sweeper for cfg.  notifier may be nil.
func NewPresenceSweeper(store IdleMarker, notifier StatusNotifier, cfg config.PresenceConfig, logger logrus.FieldLogger, m *metrics.Metrics) *PresenceSweeper {
	return &PresenceSweeper{
		store:     store,
		notifier:  notifier,
		schedule:  cfg.Schedule,
		idleAfter: cfg.IdleAfter,
		logger:    logger,
		metrics:   m,
		now:       time.Now,
	}
}

// SweepOnce runs a single pass and reports how many identities went offline.
func (p *PresenceSweeper) SweepOnce(ctx context.Context) (int, error) {
	before := p.now().Add(-p.idleAfter)
	ids, err := p.store.MarkIdleOffline(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("mark idle offline: %w", err)
	}
	if p.notifier != nil {
		for _, id := range ids {
			p.notifier.IdentityStatusChanged(ctx, model.Identity{ID: id}, false, "idle")
		}
	}
	p.metrics.PresenceSwept(len(ids))
	return len(ids), nil
}

// Run schedules the sweep and blocks until ctx is cancelled, then waits
// for a running pass to finish.
func (p *PresenceSweeper) Run(ctx context.Context) error {
	c := cron.New()
	_, err := c.AddFunc(p.schedule, func() {
		n, err := p.SweepOnce(ctx)
		if err != nil {
			p.logger.WithError(err).Warn("presence: sweep failed")
			return
		}
		if n > 0 {
			p.logger.WithField("count", n).Info("presence: marked idle identities offline")
		}
	})
	if err != nil {
		return fmt.Errorf("schedule presence sweep %q: %w", p.schedule, err)
	}

	c.Start()
	p.logger.WithFields(logrus.Fields{
		"schedule":   p.schedule,
		"idle_after": p.idleAfter.String(),
	}).Info("presence sweeper started")

	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}
