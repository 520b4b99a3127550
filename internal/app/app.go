// Package app assembles the application-form service and its backing stores
// from configuration. Both binaries build on it.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"baobab/internal/applicationform/cache"
	formmetrics "baobab/internal/applicationform/metrics"
	"baobab/internal/applicationform/service"
	formstore "baobab/internal/applicationform/store"
	"baobab/internal/audit"
	"baobab/internal/audit/outbox"
	eventstore "baobab/internal/event/store"
	"baobab/internal/platform/config"
	"baobab/internal/platform/postgres"
	redisclient "baobab/internal/platform/redis"
	"baobab/pkg/platform/circuit"
)

// App holds the assembled service and the resources it owns.
type App struct {
	Forms  *service.Service
	Outbox audit.Outbox
	// Directory is set only in memory mode so callers can seed events.
	Directory *eventstore.InMemoryDirectory

	db      *sql.DB
	redis   *redisclient.Client
	logger  *slog.Logger
	closers []func() error
}

type Option func(*options)

type options struct {
	metrics      *formmetrics.Metrics
	requireDB    bool
	createSchema bool
}

// WithFormMetrics records service metrics. Metrics register globally, so
// pass them from main only.
func WithFormMetrics(m *formmetrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// RequireDatabase fails Build when no database URL is configured.
func RequireDatabase() Option {
	return func(o *options) {
		o.requireDB = true
	}
}

// WithSchema creates missing tables after connecting.
func WithSchema() Option {
	return func(o *options) {
		o.createSchema = true
	}
}

// Build connects to Postgres and Redis when configured. Without a database
// URL everything runs in memory.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	a := &App{logger: logger}

	var (
		forms interface {
			service.Store
			service.FormStoreTx
		}
		events interface {
			service.EventDirectory
			service.Authorizer
		}
	)

	switch {
	case cfg.Database.URL != "":
		db, err := postgres.Open(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		a.db = db
		a.closers = append(a.closers, db.Close)
		if o.createSchema {
			if err := postgres.CreateSchema(ctx, db); err != nil {
				a.Close()
				return nil, err
			}
		}
		forms = formstore.NewPostgres(db, formstore.WithTxTimeout(cfg.Server.TxTimeout))
		events = eventstore.NewPostgres(db)
		a.Outbox = outbox.NewPostgres(db)
	case o.requireDB:
		return nil, errors.New("database URL is required (set DATABASE_URL)")
	default:
		logger.WarnContext(ctx, "no database configured, using in-memory stores")
		forms = formstore.NewInMemory(formstore.WithMemoryTxTimeout(cfg.Server.TxTimeout))
		a.Directory = eventstore.NewInMemory()
		events = a.Directory
		a.Outbox = outbox.NewInMemory()
	}

	svcOpts := []service.Option{
		service.WithLogger(logger),
		service.WithAuditPublisher(audit.NewPublisher(a.Outbox)),
	}
	if o.metrics != nil {
		svcOpts = append(svcOpts, service.WithMetrics(o.metrics))
	}

	rc, err := redisclient.New(ctx, cfg.Redis)
	if err != nil {
		a.Close()
		return nil, err
	}
	if rc != nil {
		a.redis = rc
		a.closers = append(a.closers, rc.Close)
		breaker := circuit.New("form-cache", circuit.WithFailureThreshold(5), circuit.WithCooldown(30*time.Second))
		formCache := cache.NewGuarded(cache.NewRedis(rc.Client, cfg.Redis.FormTTL), breaker, logger)
		svcOpts = append(svcOpts, service.WithCache(formCache))
	}

	a.Forms = service.New(forms, forms, events, events, svcOpts...)
	return a, nil
}

// Health reports the first failing dependency.
func (a *App) Health(ctx context.Context) error {
	if a.db != nil {
		if err := a.db.PingContext(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	if a.redis != nil {
		if err := a.redis.Health(ctx); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

// Close releases connections in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", "error", err)
		}
	}
	a.closers = nil
}
