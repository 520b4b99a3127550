package audit

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"baobab/pkg/requestcontext"
)

// Outbox persists records for later publication. Append must write through
// the transaction carried by ctx when there is one.
type Outbox interface {
	Append(ctx context.Context, rec Record) error
	FetchPending(ctx context.Context, limit int) ([]Record, error)
	MarkPublished(ctx context.Context, ids []uuid.UUID) error
}

// Publisher captures audit entries. It is append-only and writes to the
// outbox so the entry commits or rolls back with the change it describes.
type Publisher struct {
	outbox Outbox
}

func NewPublisher(outbox Outbox) *Publisher {
	return &Publisher{outbox: outbox}
}

func (p *Publisher) Emit(ctx context.Context, e Entry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = requestcontext.Now(ctx)
	}
	if e.RequestID == "" {
		e.RequestID = requestcontext.RequestID(ctx)
	}
	rec, err := NewRecord(e)
	if err != nil {
		return fmt.Errorf("encode audit entry: %w", err)
	}
	return p.outbox.Append(ctx, rec)
}
