package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/admin-dashboard-api/internal/config"
)

// FeedConsumer binds a durable queue to the broadcast exchange and appends
// one human-readable line per event to a log file.
type FeedConsumer struct {
	cfg    config.BrokerConfig
	logger logrus.FieldLogger

	mu sync.Mutex
}

// NewFeedConsumer returns a consumer for cfg.
func NewFeedConsumer(cfg config.BrokerConfig, logger logrus.FieldLogger) *FeedConsumer {
	if cfg.LogPath == "" {
		cfg.LogPath = filepath.Join("logs", "activity.log")
	}
	return &FeedConsumer{cfg: cfg, logger: logger}
}

// Run connects and consumes until ctx is cancelled, reconnecting with
// exponential backoff when the broker goes away.
func (f *FeedConsumer) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return nil
		}
		conn, err := amqp.Dial(f.cfg.URL)
		if err != nil {
			f.logger.WithError(err).Warnf("activity-feed: failed to dial broker; retrying in %s", backoff)
			if !sleep(ctx, backoff) {
				return nil
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = f.consumeLoop(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return nil
		}
		f.logger.WithError(err).Warn("activity-feed: consume loop ended; reconnecting")
		if !sleep(ctx, 2*time.Second) {
			return nil
		}
	}
}

func (f *FeedConsumer) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		f.logger.WithError(err).Warn("activity-feed: set QoS failed")
	}
	if err := ch.ExchangeDeclare(f.cfg.Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("exchange declare: %w", err)
	}
	if _, err := ch.QueueDeclare(f.cfg.Queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	if err := ch.QueueBind(f.cfg.Queue, "#", f.cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("queue bind: %w", err)
	}

	msgs, err := ch.ConsumeWithContext(ctx, f.cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for d := range msgs {
		if err := f.Handle(d.RoutingKey, d.Body); err != nil {
			f.logger.WithError(err).WithField("routing_key", d.RoutingKey).Warn("activity-feed: handle message failed")
			_ = d.Nack(false, false) // reject, do not requeue to avoid tight loops
			continue
		}
		_ = d.Ack(false)
	}
	return errors.New("deliveries channel closed")
}

// Handle formats one delivery and appends it to the feed log.
func (f *FeedConsumer) Handle(routingKey string, body []byte) error {
	line, err := FormatEvent(routingKey, body)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(f.cfg.LogPath), 0o755); err != nil {
		return fmt.Errorf("mkdir logs: %w", err)
	}
	fh, err := os.OpenFile(f.cfg.LogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer fh.Close()

	if _, err := fh.WriteString(line); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return nil
}

// FormatEvent renders a delivery as a single log line ending in "\n".
func FormatEvent(routingKey string, body []byte) (string, error) {
	switch routingKey {
	case KeyIdentityStatus:
		var ev IdentityStatusEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return "", fmt.Errorf("unmarshal: %w", err)
		}
		state := "offline"
		if ev.IsOnline {
			state = "online"
		}
		line := fmt.Sprintf("[%s] Identity %s | identity_id=%s | username=%q | role=%s | status=%s",
			ev.At, state, ev.IdentityID, ev.Username, ev.Role, ev.Status)
		if ev.Reason != "" {
			line += " | reason=" + ev.Reason
		}
		return line + "\n", nil
	case KeyActivityRecorded:
		var ev ActivityRecordedEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return "", fmt.Errorf("unmarshal: %w", err)
		}
		return fmt.Sprintf("[%s] Activity %s | severity=%s | user_id=%s | activity_id=%s | ip=%s | %q\n",
			ev.At, ev.Type, ev.Severity, ev.UserID, ev.ActivityID, ev.IPAddress, ev.Description), nil
	default:
		return "", fmt.Errorf("unknown routing key %q", routingKey)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
