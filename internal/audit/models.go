package audit

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	id "baobab/pkg/domain"
)

// Action names a form-definition change recorded in the audit trail.
type Action string

const (
	ActionFormCreated    Action = "application_form_created"
	ActionFormReconciled Action = "application_form_reconciled"
)

// Entry is emitted from the form service inside the write transaction. Keep it
// transport-agnostic so the outbox relay can publish it anywhere.
type Entry struct {
	ID        uuid.UUID
	Action    Action
	Timestamp time.Time
	UserID    id.UserID
	EventID   id.EventID
	FormID    id.FormID
	Version   int64
	RequestID string
	// Changes counts mutations by kind, e.g. "sections_inserted": 2.
	Changes map[string]int
}

// Record is one outbox row awaiting publication.
type Record struct {
	ID          uuid.UUID
	AggregateID string
	EventType   string
	Payload     []byte
	CreatedAt   time.Time
	PublishedAt *time.Time
}

// payload is the JSON document published to the audit topic.
type payload struct {
	ID        string         `json:"id"`
	Action    string         `json:"action"`
	Timestamp string         `json:"timestamp"`
	UserID    int64          `json:"user_id,omitempty"`
	EventID   int64          `json:"event_id"`
	FormID    int64          `json:"form_id"`
	Version   int64          `json:"version"`
	RequestID string         `json:"request_id,omitempty"`
	Changes   map[string]int `json:"changes,omitempty"`
}

// NewRecord serializes e into an outbox record keyed by form.
func NewRecord(e Entry) (Record, error) {
	body, err := json.Marshal(payload{
		ID:        e.ID.String(),
		Action:    string(e.Action),
		Timestamp: e.Timestamp.UTC().Format(time.RFC3339Nano),
		UserID:    int64(e.UserID),
		EventID:   int64(e.EventID),
		FormID:    int64(e.FormID),
		Version:   e.Version,
		RequestID: e.RequestID,
		Changes:   e.Changes,
	})
	if err != nil {
		return Record{}, err
	}
	return Record{
		ID:          e.ID,
		AggregateID: e.FormID.String(),
		EventType:   string(e.Action),
		Payload:     body,
		CreatedAt:   e.Timestamp,
	}, nil
}
