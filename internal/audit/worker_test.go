package audit_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"baobab/internal/audit"
	"baobab/internal/audit/outbox"
	id "baobab/pkg/domain"
	"baobab/pkg/requestcontext"
)

type fakeProducer struct {
	mu        sync.Mutex
	keys      []string
	values    [][]byte
	failAfter int
}

func (p *fakeProducer) Publish(_ context.Context, key string, value []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failAfter >= 0 && len(p.keys) >= p.failAfter {
		return errors.New("broker down")
	}
	p.keys = append(p.keys, key)
	p.values = append(p.values, value)
	return nil
}

func emit(t *testing.T, pub *audit.Publisher, at time.Time, formID int64) {
	t.Helper()
	ctx := requestcontext.WithRequestID(requestcontext.WithTime(context.Background(), at), "req-1")
	require.NoError(t, pub.Emit(ctx, audit.Entry{
		Action:  audit.ActionFormReconciled,
		UserID:  3,
		EventID: 9,
		FormID:  id.FormID(formID),
		Version: 2,
		Changes: map[string]int{"sections_deleted": 1},
	}))
}

func TestPublisherEmitEncodesPayload(t *testing.T) {
	store := outbox.NewInMemory()
	pub := audit.NewPublisher(store)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	emit(t, pub, at, 5)

	recs := store.All()
	require.Len(t, recs, 1)
	assert.Equal(t, "5", recs[0].AggregateID)
	assert.Equal(t, string(audit.ActionFormReconciled), recs[0].EventType)

	var body map[string]any
	require.NoError(t, json.Unmarshal(recs[0].Payload, &body))
	assert.Equal(t, "application_form_reconciled", body["action"])
	assert.Equal(t, "req-1", body["request_id"])
	assert.Equal(t, "2026-03-01T12:00:00Z", body["timestamp"])
	assert.EqualValues(t, 9, body["event_id"])
}

func TestWorkerRelayOnce(t *testing.T) {
	t.Run("publishes pending records in order and marks them", func(t *testing.T) {
		store := outbox.NewInMemory()
		pub := audit.NewPublisher(store)
		base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		emit(t, pub, base, 1)
		emit(t, pub, base.Add(time.Second), 2)

		producer := &fakeProducer{failAfter: -1}
		w := audit.NewWorker(store, producer)

		n, err := w.RelayOnce(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		assert.Equal(t, []string{"1", "2"}, producer.keys)

		n, err = w.RelayOnce(context.Background())
		require.NoError(t, err)
		assert.Zero(t, n, "published records are not relayed twice")
	})

	t.Run("marks what was published before a failure", func(t *testing.T) {
		store := outbox.NewInMemory()
		pub := audit.NewPublisher(store)
		base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		emit(t, pub, base, 1)
		emit(t, pub, base.Add(time.Second), 2)

		producer := &fakeProducer{failAfter: 1}
		w := audit.NewWorker(store, producer, audit.WithBatchSize(10))

		n, err := w.RelayOnce(context.Background())
		require.Error(t, err)
		assert.Equal(t, 1, n)

		pending, err := store.FetchPending(context.Background(), 10)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, "2", pending[0].AggregateID)
	})
}

func TestWorkerRunStopsOnCancel(t *testing.T) {
	store := outbox.NewInMemory()
	w := audit.NewWorker(store, &fakeProducer{failAfter: -1}, audit.WithPollInterval(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}
