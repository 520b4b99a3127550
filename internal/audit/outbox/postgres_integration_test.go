//go:build integration

package outbox_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"baobab/internal/audit"
	"baobab/internal/audit/outbox"
	id "baobab/pkg/domain"
	"baobab/pkg/testutil/containers"
)

type PostgresOutboxSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *outbox.PostgresStore
}

func TestPostgresOutboxSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresOutboxSuite))
}

func (s *PostgresOutboxSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.store = outbox.NewPostgres(s.postgres.DB)
}

func (s *PostgresOutboxSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "outbox"))
}

func (s *PostgresOutboxSuite) record(formID id.FormID, at time.Time) audit.Record {
	rec, err := audit.NewRecord(audit.Entry{
		ID:        uuid.New(),
		Action:    audit.ActionFormReconciled,
		Timestamp: at,
		UserID:    7,
		EventID:   1,
		FormID:    formID,
		Version:   2,
		Changes:   map[string]int{"sections_updated": 1},
	})
	s.Require().NoError(err)
	return rec
}

func (s *PostgresOutboxSuite) TestAppendFetchMark() {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	older := s.record(3, now.Add(-time.Minute))
	newer := s.record(4, now)

	s.Require().NoError(s.store.Append(ctx, newer))
	s.Require().NoError(s.store.Append(ctx, older))

	pending, err := s.store.FetchPending(ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(pending, 2)
	s.Equal(older.ID, pending[0].ID)
	s.Equal("3", pending[0].AggregateID)
	s.Equal(string(audit.ActionFormReconciled), pending[0].EventType)
	s.JSONEq(string(older.Payload), string(pending[0].Payload))
	s.True(older.CreatedAt.Equal(pending[0].CreatedAt))

	limited, err := s.store.FetchPending(ctx, 1)
	s.Require().NoError(err)
	s.Len(limited, 1)

	s.Require().NoError(s.store.MarkPublished(ctx, []uuid.UUID{older.ID}))
	pending, err = s.store.FetchPending(ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(pending, 1)
	s.Equal(newer.ID, pending[0].ID)
}

func (s *PostgresOutboxSuite) TestMarkPublishedEmpty() {
	s.NoError(s.store.MarkPublished(context.Background(), nil))
}
