package cache

import (
	"context"
	"errors"
	"log/slog"

	"baobab/internal/applicationform/models"
	id "baobab/pkg/domain"
	"baobab/pkg/platform/circuit"
	"baobab/pkg/platform/sentinel"
)

// Store is the cache contract Guarded wraps; RedisCache implements it.
type Store interface {
	Get(ctx context.Context, eventID id.EventID) (*models.ApplicationForm, int64, error)
	Set(ctx context.Context, form *models.ApplicationForm, generation int64) error
	Invalidate(ctx context.Context, eventID id.EventID) error
}

// Guarded stops reading and filling the cache while it keeps failing. Reads
// skipped by an open breaker are reported as misses that must not be filled.
// Invalidate always reaches the cache.
type Guarded struct {
	inner   Store
	breaker *circuit.Breaker
	logger  *slog.Logger
}

func NewGuarded(inner Store, breaker *circuit.Breaker, logger *slog.Logger) *Guarded {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guarded{inner: inner, breaker: breaker, logger: logger}
}

func (g *Guarded) Get(ctx context.Context, eventID id.EventID) (*models.ApplicationForm, int64, error) {
	if !g.breaker.Allow() {
		return nil, NoFill, sentinel.ErrNotFound
	}
	form, generation, err := g.inner.Get(ctx, eventID)
	g.record(ctx, err)
	return form, generation, err
}

func (g *Guarded) Set(ctx context.Context, form *models.ApplicationForm, generation int64) error {
	if generation == NoFill || !g.breaker.Allow() {
		return nil
	}
	err := g.inner.Set(ctx, form, generation)
	g.record(ctx, err)
	return err
}

func (g *Guarded) Invalidate(ctx context.Context, eventID id.EventID) error {
	err := g.inner.Invalidate(ctx, eventID)
	g.record(ctx, err)
	return err
}

func (g *Guarded) record(ctx context.Context, err error) {
	if err == nil || errors.Is(err, sentinel.ErrNotFound) {
		if _, change := g.breaker.RecordSuccess(); change.Closed {
			g.logger.InfoContext(ctx, "form cache recovered", "breaker", g.breaker.Name())
		}
		return
	}
	if _, change := g.breaker.RecordFailure(); change.Opened {
		g.logger.WarnContext(ctx, "form cache disabled after repeated failures",
			"breaker", g.breaker.Name(),
			"error", err,
		)
	}
}
