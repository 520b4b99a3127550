//go:build integration

package kafka_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"baobab/internal/audit"
	"baobab/internal/audit/outbox"
	"baobab/internal/platform/config"
	"baobab/internal/platform/kafka"
	"baobab/pkg/testutil/containers"
)

func TestAuditRelayPublishesToTopic(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	broker := containers.GetManager().GetRedpanda(t)
	cfg := config.Default().Kafka
	cfg.Brokers = broker.Brokers
	cfg.Topic = "baobab.audit.test"

	producer, err := kafka.New(cfg)
	require.NoError(t, err)
	require.NotNil(t, producer)
	defer producer.Close()

	require.NoError(t, producer.EnsureTopic(ctx, 1, 1))
	require.NoError(t, producer.EnsureTopic(ctx, 1, 1), "second call tolerates an existing topic")
	require.NoError(t, producer.Health(ctx))

	store := outbox.NewInMemory()
	require.NoError(t, audit.NewPublisher(store).Emit(ctx, audit.Entry{
		Action:  audit.ActionFormCreated,
		UserID:  7,
		EventID: 1,
		FormID:  3,
		Version: 1,
	}))

	n, err := audit.NewWorker(store, producer).RelayOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(broker.Brokers...),
		kgo.ConsumeTopics(cfg.Topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	require.NoError(t, err)
	defer consumer.Close()

	fetches := consumer.PollFetches(ctx)
	require.Empty(t, fetches.Errors())
	records := fetches.Records()
	require.NotEmpty(t, records)
	require.Equal(t, "3", string(records[0].Key))
	require.Contains(t, string(records[0].Value), `"action":"application_form_created"`)

	pending, err := store.FetchPending(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, pending)
}
