package outbox

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"baobab/internal/audit"
)

// InMemoryStore is an audit.Outbox for tests and database-less runs.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[uuid.UUID]audit.Record
	now     func() time.Time
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{records: make(map[uuid.UUID]audit.Record), now: time.Now}
}

func (s *InMemoryStore) Append(_ context.Context, rec audit.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.Payload = append([]byte(nil), rec.Payload...)
	s.records[rec.ID] = rec
	return nil
}

func (s *InMemoryStore) FetchPending(_ context.Context, limit int) ([]audit.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []audit.Record
	for _, rec := range s.records {
		if rec.PublishedAt == nil {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) MarkPublished(_ context.Context, ids []uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for _, v := range ids {
		if rec, ok := s.records[v]; ok {
			rec.PublishedAt = &now
			s.records[v] = rec
		}
	}
	return nil
}

// All returns every record, published or not, oldest first.
func (s *InMemoryStore) All() []audit.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]audit.Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
