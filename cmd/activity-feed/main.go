// Command activity-feed consumes dashboard events from the broker and
// appends them to a log file.
package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/admin-dashboard-api/internal/config"
	"github.com/iliyamo/admin-dashboard-api/internal/logging"
	"github.com/iliyamo/admin-dashboard-api/internal/queue"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		logrus.WithError(err).Fatal("read .env")
	}
	broker := config.LoadBrokerConfig()
	if broker.URL == "" {
		logrus.Fatal("RABBITMQ_URL is not set")
	}
	logger := logging.New(config.LoadLogSettings())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	consumer := queue.NewFeedConsumer(broker, logger)
	logger.WithFields(logrus.Fields{
		"exchange": broker.Exchange,
		"queue":    broker.Queue,
		"log":      broker.LogPath,
	}).Info("activity feed started")
	if err := consumer.Run(ctx); err != nil && ctx.Err() == nil {
		logger.WithError(err).Fatal("activity feed stopped")
	}
}
