package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Producer publishes one record to the audit sink, keyed for ordering.
type Producer interface {
	Publish(ctx context.Context, key string, value []byte) error
}

const (
	defaultBatchSize    = 100
	defaultPollInterval = time.Second
)

// Worker relays committed outbox records to a Producer. A record is marked
// published only after the sink acknowledged it, so delivery is at least once.
type Worker struct {
	outbox   Outbox
	producer Producer
	logger   *slog.Logger
	batch    int
	interval time.Duration
	observer RelayObserver
}

// RelayObserver receives relay outcomes; *metrics.Metrics implements it.
type RelayObserver interface {
	AddAuditRelayed(n int)
	IncrementAuditRelayErrors()
}

type WorkerOption func(*Worker)

func WithBatchSize(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.batch = n
		}
	}
}

func WithPollInterval(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.interval = d
		}
	}
}

func WithWorkerLogger(logger *slog.Logger) WorkerOption {
	return func(w *Worker) {
		w.logger = logger
	}
}

func WithRelayObserver(o RelayObserver) WorkerOption {
	return func(w *Worker) {
		w.observer = o
	}
}

func NewWorker(outbox Outbox, producer Producer, opts ...WorkerOption) *Worker {
	w := &Worker{
		outbox:   outbox,
		producer: producer,
		logger:   slog.Default(),
		batch:    defaultBatchSize,
		interval: defaultPollInterval,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run polls the outbox until ctx is cancelled. Relay failures are logged and
// retried on the next tick.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		n, err := w.RelayOnce(ctx)
		if w.observer != nil {
			w.observer.AddAuditRelayed(n)
		}
		if err != nil && ctx.Err() == nil {
			w.logger.WarnContext(ctx, "audit relay failed", "error", err)
			if w.observer != nil {
				w.observer.IncrementAuditRelayErrors()
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RelayOnce publishes one batch and returns how many records were marked.
// Records published before a failure are still marked.
func (w *Worker) RelayOnce(ctx context.Context) (int, error) {
	pending, err := w.outbox.FetchPending(ctx, w.batch)
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}

	published := make([]uuid.UUID, 0, len(pending))
	var publishErr error
	for _, rec := range pending {
		if err := w.producer.Publish(ctx, rec.AggregateID, rec.Payload); err != nil {
			publishErr = err
			break
		}
		published = append(published, rec.ID)
	}
	if len(published) > 0 {
		if err := w.outbox.MarkPublished(ctx, published); err != nil {
			return 0, err
		}
		w.logger.DebugContext(ctx, "audit records relayed", "count", len(published))
	}
	return len(published), publishErr
}
