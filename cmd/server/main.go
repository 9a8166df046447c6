package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/iliyamo/admin-dashboard-api/internal/activity"
	"github.com/iliyamo/admin-dashboard-api/internal/config"
	"github.com/iliyamo/admin-dashboard-api/internal/database"
	"github.com/iliyamo/admin-dashboard-api/internal/handler"
	"github.com/iliyamo/admin-dashboard-api/internal/logging"
	"github.com/iliyamo/admin-dashboard-api/internal/metrics"
	"github.com/iliyamo/admin-dashboard-api/internal/middleware"
	"github.com/iliyamo/admin-dashboard-api/internal/repository"
	"github.com/iliyamo/admin-dashboard-api/internal/router"
	"github.com/iliyamo/admin-dashboard-api/internal/service"
	"github.com/iliyamo/admin-dashboard-api/internal/token"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := config.LoadDotEnv(); err != nil {
		logrus.WithError(err).Fatal("read .env")
	}
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}

	logger := logging.New(cfg.LogLevel, cfg.IsProduction())
	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("server stopped")
	}
}

func run(cfg config.Config, logger *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(ctx, database.Options{
		User: cfg.DBUser, Pass: cfg.DBPass, Host: cfg.DBHost, Port: cfg.DBPort, Name: cfg.DBName,
	})
	if err != nil {
		return err
	}
	defer db.Close()
	if err := database.Migrate(ctx, db); err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	users := repository.NewUserRepo(db)
	activities := repository.NewActivityRepo(db)

	tokens, err := token.NewService(token.Config{
		Secret:        cfg.JWTSecret,
		RefreshSecret: cfg.JWTRefreshSecret,
		Issuer:        cfg.JWTIssuer,
		AccessTTL:     cfg.AccessTTL,
		ExtendedTTL:   cfg.ExtendedTTL,
		RefreshTTL:    cfg.RefreshTTL,
	}, token.WithIdentityLookup(users))
	if err != nil {
		return err
	}

	var rdb *redis.Client
	if cfg.Cache.Enabled {
		rdb, err = config.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			logger.WithError(err).Warn("redis unavailable, analytics cache disabled")
		} else {
			defer rdb.Close()
		}
	}

	recOpts := []activity.Option{activity.WithLogger(logger), activity.WithMetrics(m), activity.WithTimeout(cfg.ActivityTimeout)}
	authOpts := []middleware.AuthOption{middleware.WithAuthLogger(logger), middleware.WithAuthMetrics(m), middleware.WithTouchTimeout(cfg.TouchTimeout)}

	var (
		status      middleware.StatusNotifier
		broadcaster *service.Broadcaster
	)
	if cfg.Broker.Enabled {
		broadcaster = service.NewBroadcaster(cfg.Broker,
			service.WithBroadcastLogger(logger), service.WithBroadcastMetrics(m))
		status = broadcaster
		recOpts = append(recOpts, activity.WithNotifier(broadcaster))
		authOpts = append(authOpts, middleware.WithStatusNotifier(broadcaster))
	}

	recorder := activity.NewRecorder(activities, recOpts...)
	auth := middleware.NewAuthenticator(tokens, users, authOpts...)

	e, err := router.New(router.Deps{
		Config:     cfg,
		Logger:     logger,
		Metrics:    m,
		Redis:      rdb,
		DB:         db,
		Auth:       auth,
		Recorder:   recorder,
		Accounts:   handler.NewAuthHandler(users, tokens, recorder, status, cfg.BcryptCost),
		Users:      handler.NewUserHandler(users, recorder, status),
		Activities: handler.NewActivityHandler(activities),
		Analytics:  handler.NewAnalyticsHandler(users, activities),
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithFields(logrus.Fields{"addr": ":" + cfg.Port, "env": cfg.Env}).Info("listening")
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if cfg.Presence.Enabled {
		sweeper := service.NewPresenceSweeper(users, status, cfg.Presence, logger, m)
		g.Go(func() error { return sweeper.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := e.Shutdown(sctx)

		// drain detached work before the broker and database go away
		auth.Wait()
		recorder.Wait()
		if broadcaster != nil {
			if cerr := broadcaster.Close(); cerr != nil {
				logger.WithError(cerr).Warn("close broadcaster")
			}
		}
		return err
	})
	return g.Wait()
}
