// Package app wires configuration into the stores, catalog client, publisher
// and services shared by every entry point.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"release_notifier/internal/api"
	"release_notifier/internal/catalog"
	"release_notifier/internal/config"
	"release_notifier/internal/metrics"
	"release_notifier/internal/publisher"
	"release_notifier/internal/service"
	"release_notifier/internal/storage/postgres"
)

type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	DB            *sqlx.DB
	Registry      *prometheus.Registry
	Metrics       *metrics.Metrics
	Runner        *service.Runner
	Notifications *service.NotificationService
	Feed          *service.FollowedReleases

	rabbitMQ *publisher.RabbitMQ
}

// New connects to Postgres (and RabbitMQ when configured) and builds the
// services. Close releases what New opened.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	logger.Info("connected to database")

	a := &App{
		Config:   cfg,
		Logger:   logger,
		DB:       db,
		Registry: prometheus.NewRegistry(),
	}

	a.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.Metrics = metrics.New(a.Registry)

	// A nil interface keeps push delivery off; a typed nil would not.
	var pub service.Publisher
	if cfg.RabbitMQ.URL != "" {
		a.rabbitMQ, err = publisher.NewRabbitMQ(publisher.Config{
			URL:        cfg.RabbitMQ.URL,
			Exchange:   cfg.RabbitMQ.Exchange,
			RoutingKey: cfg.RabbitMQ.RoutingKey,
			QueueName:  cfg.RabbitMQ.QueueName,
		}, logger)
		if err != nil {
			db.Close()
			return nil, err
		}
		pub = a.rabbitMQ
	} else {
		logger.Info("rabbitmq url not set, push delivery disabled")
	}

	catalogClient := catalog.New(catalog.Config{
		TokenURL:        cfg.Catalog.TokenURL,
		BaseURL:         cfg.Catalog.BaseURL,
		ClientID:        cfg.Catalog.ClientID,
		ClientSecret:    cfg.Catalog.ClientSecret,
		Timeout:         cfg.Catalog.Timeout,
		TokenMargin:     cfg.Catalog.TokenMargin,
		PageSize:        cfg.Catalog.PageSize,
		MaxPages:        cfg.Catalog.MaxPages,
		LookbackMonths:  cfg.Catalog.LookbackMonths,
		MaxAttempts:     cfg.Catalog.Retry.MaxAttempts,
		InitialBackoff:  cfg.Catalog.Retry.InitialBackoff,
		MaxBackoff:      cfg.Catalog.Retry.MaxBackoff,
		BreakerFailures: cfg.Catalog.Breaker.ConsecutiveFailures,
		BreakerTimeout:  cfg.Catalog.Breaker.OpenTimeout,
	}, logger)

	userStore := postgres.NewUserStore(db)
	followStore := postgres.NewFollowStore(db)
	notificationStore := postgres.NewNotificationStore(db)
	checkpointStore := postgres.NewCheckpointStore(db)
	txManager := postgres.NewTransactionManager(db)

	a.Runner = service.NewRunner(
		userStore,
		followStore,
		notificationStore,
		checkpointStore,
		catalogClient,
		txManager,
		pub,
		a.Metrics,
		logger,
		cfg.Job,
	)
	a.Notifications = service.NewNotificationService(notificationStore, logger)
	a.Feed = service.NewFollowedReleases(followStore, catalogClient, logger)

	return a, nil
}

// RouterConfig assembles the handlers served over HTTP.
func (a *App) RouterConfig() api.RouterConfig {
	return api.RouterConfig{
		Trigger:       api.NewTrigger(a.Runner, a.Logger),
		Notifications: api.NewNotificationHandler(a.Notifications, validator.New(), a.Logger),
		Releases:      api.NewReleasesHandler(a.Feed, a.Logger),
		Metrics:       a.Metrics.Middleware,
		Gatherer:      a.Registry,
		DB:            a.DB,
		Logger:        a.Logger,
	}
}

func (a *App) Close() {
	if a.rabbitMQ != nil {
		if err := a.rabbitMQ.Close(); err != nil {
			a.Logger.Warn("failed to close rabbitmq", "error", err)
		}
	}
	if err := a.DB.Close(); err != nil {
		a.Logger.Warn("failed to close database", "error", err)
	}
}

func NewLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(handler)
}
