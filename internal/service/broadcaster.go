// Package service holds the background collaborators of the API: the
// real-time event broadcaster and the presence sweeper.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/admin-dashboard-api/internal/config"
	"github.com/iliyamo/admin-dashboard-api/internal/metrics"
	"github.com/iliyamo/admin-dashboard-api/internal/model"
	q "github.com/iliyamo/admin-dashboard-api/internal/queue"
)

var (
	// ErrBroadcasterClosed is returned by Publish after Close.
	ErrBroadcasterClosed = errors.New("broadcaster: closed")
	// ErrBrokerUnavailable is returned without dialling while the last
	// failed dial is still within its backoff.
	ErrBrokerUnavailable = errors.New("broadcaster: broker unavailable")
)

// DefaultRedialBackoff is how long publishes fail fast after a failed dial.
const DefaultRedialBackoff = 5 * time.Second

// channel is the subset of *amqp.Channel used for publishing.
type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// amqpChannel owns its connection so closing the channel releases both.
type amqpChannel struct {
	*amqp.Channel
	conn *amqp.Connection
}

func (c amqpChannel) Close() error {
	_ = c.Channel.Close()
	return c.conn.Close()
}

func dialAMQP(url string, timeout time.Duration) func() (channel, error) {
	return func() (channel, error) {
		conn, err := amqp.DialConfig(url, amqp.Config{
			Heartbeat: 10 * time.Second,
			Locale:    "en_US",
			Dial:      amqp.DefaultDial(timeout),
		})
		if err != nil {
			return nil, fmt.Errorf("dial: %w", err)
		}
		ch, err := conn.Channel()
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("channel open: %w", err)
		}
		return amqpChannel{Channel: ch, conn: conn}, nil
	}
}

// Broadcaster publishes identity status changes and new activities to a
// topic exchange.  Notifications are fire-and-forget: they run on their own
// goroutine and a failure is only logged.
type Broadcaster struct {
	exchange string
	open     func() (channel, error)
	logger   logrus.FieldLogger
	metrics  *metrics.Metrics
	timeout  time.Duration
	now      func() time.Time

	redialBackoff time.Duration

	mu      sync.Mutex
	ch      channel
	dialing chan struct{} // closed when the dial in flight finishes
	retryAt time.Time
	closing bool // no new notifications
	closed  bool // no publishes at all
	wg      sync.WaitGroup
}

// BroadcasterOption customises a Broadcaster.
type BroadcasterOption func(*Broadcaster)

func WithBroadcastLogger(l logrus.FieldLogger) BroadcasterOption {
	return func(b *Broadcaster) { b.logger = l }
}

func WithBroadcastMetrics(m *metrics.Metrics) BroadcasterOption {
	return func(b *Broadcaster) { b.metrics = m }
}

func withChannelOpener(open func() (channel, error)) BroadcasterOption {
	return func(b *Broadcaster) { b.open = open }
}

func withRedialBackoff(d time.Duration) BroadcasterOption {
	return func(b *Broadcaster) { b.redialBackoff = d }
}

func withBroadcastTimeout(d time.Duration) BroadcasterOption {
	return func(b *Broadcaster) { b.timeout = d }
}

func withBroadcastClock(now func() time.Time) BroadcasterOption {
	return func(b *Broadcaster) { b.now = now }
}

// NewBroadcaster returns a broadcaster for cfg.  The broker is dialled
// lazily on first publish and redialled after a failure.
func NewBroadcaster(cfg config.BrokerConfig, opts ...BroadcasterOption) *Broadcaster {
	b := &Broadcaster{
		exchange:      cfg.Exchange,
		logger:        logrus.StandardLogger(),
		timeout:       5 * time.Second,
		redialBackoff: DefaultRedialBackoff,
		now:           time.Now,
	}
	for _, o := range opts {
		o(b)
	}
	if b.open == nil {
		b.open = dialAMQP(cfg.URL, b.timeout)
	}
	return b
}

// IdentityStatusChanged announces that u went online or offline.
func (b *Broadcaster) IdentityStatusChanged(ctx context.Context, u model.Identity, online bool, reason string) {
	b.async(ctx, q.KeyIdentityStatus, q.IdentityStatusEvent{
		IdentityID: u.ID,
		Username:   u.Username,
		Role:       string(u.Role),
		Status:     string(u.Status),
		IsOnline:   online,
		Reason:     reason,
		At:         b.now().UTC().Format(time.RFC3339),
	})
}

// ActivityRecorded announces a stored audit record.
func (b *Broadcaster) ActivityRecorded(ctx context.Context, a model.Activity) {
	b.async(ctx, q.KeyActivityRecorded, q.ActivityRecordedEvent{
		ActivityID:  a.ID,
		UserID:      a.UserID,
		Type:        string(a.Type),
		Severity:    string(a.Severity),
		Description: a.Description,
		IPAddress:   a.IPAddress,
		At:          a.CreatedAt.UTC().Format(time.RFC3339),
	})
}

func (b *Broadcaster) async(ctx context.Context, key string, event any) {
	b.mu.Lock()
	if b.closing {
		b.mu.Unlock()
		return
	}
	b.wg.Add(1)
	b.mu.Unlock()

	detached := context.WithoutCancel(ctx)
	go func() {
		defer b.wg.Done()
		pctx, cancel := context.WithTimeout(detached, b.timeout)
		defer cancel()
		if err := b.Publish(pctx, key, event); err != nil {
			b.logger.WithError(err).WithField("routing_key", key).Warn("broadcast: publish failed")
		}
	}()
}

// Publish sends one persistent JSON message synchronously.  It gives up
// when ctx is done, including while the broker is being dialled.
func (b *Broadcaster) Publish(ctx context.Context, key string, event any) error {
	body, err := json.Marshal(event)
	if err != nil {
		b.metrics.Broadcast(key, false)
		return fmt.Errorf("marshal event: %w", err)
	}

	ch, err := b.conn(ctx)
	if err != nil {
		b.metrics.Broadcast(key, false)
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBroadcasterClosed
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    b.now().UTC(),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, b.exchange, key, false, false, pub); err != nil {
		// drop the channel so the next publish redials
		if b.ch == ch {
			_ = ch.Close()
			b.ch = nil
		}
		b.metrics.Broadcast(key, false)
		return fmt.Errorf("publish: %w", err)
	}
	b.metrics.Broadcast(key, true)
	return nil
}

// conn returns the open channel, dialling when there is none.  At most
// one dial runs at a time; callers arriving meanwhile wait for it or for
// ctx.  The lock is never held across a dial.
func (b *Broadcaster) conn(ctx context.Context) (channel, error) {
	for {
		b.mu.Lock()
		switch {
		case b.closed:
			b.mu.Unlock()
			return nil, ErrBroadcasterClosed
		case b.ch != nil:
			ch := b.ch
			b.mu.Unlock()
			return ch, nil
		case b.dialing != nil:
			wait := b.dialing
			b.mu.Unlock()
			select {
			case <-wait:
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		case b.now().Before(b.retryAt):
			b.mu.Unlock()
			return nil, ErrBrokerUnavailable
		}
		done := make(chan struct{})
		b.dialing = done
		b.mu.Unlock()
		return b.dial(ctx, done)
	}
}

// dial opens a channel in the background so a slow broker cannot outlive
// ctx.  The result is installed even when the caller has given up.
func (b *Broadcaster) dial(ctx context.Context, done chan struct{}) (channel, error) {
	type result struct {
		ch  channel
		err error
	}
	res := make(chan result, 1)
	go func() {
		ch, err := b.open()
		if err == nil {
			if derr := ch.ExchangeDeclare(b.exchange, amqp.ExchangeTopic, true, false, false, false, nil); derr != nil {
				_ = ch.Close()
				ch, err = nil, fmt.Errorf("exchange declare: %w", derr)
			}
		}

		b.mu.Lock()
		b.dialing = nil
		switch {
		case err != nil:
			b.retryAt = b.now().Add(b.redialBackoff)
		case b.closed:
			_ = ch.Close()
			ch, err = nil, ErrBroadcasterClosed
		default:
			b.ch = ch
		}
		b.mu.Unlock()
		close(done)
		res <- result{ch, err}
	}()

	select {
	case r := <-res:
		return r.ch, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close waits for pending notifications and releases the connection.
func (b *Broadcaster) Close() error {
	b.mu.Lock()
	b.closing = true
	b.mu.Unlock()

	b.wg.Wait()

	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	if b.ch == nil {
		return nil
	}
	err := b.ch.Close()
	b.ch = nil
	return err
}
