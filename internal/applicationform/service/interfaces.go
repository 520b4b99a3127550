package service

import (
	"context"

	"baobab/internal/applicationform/models"
	"baobab/internal/applicationform/reconcile"
	"baobab/internal/audit"
	id "baobab/pkg/domain"
)

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks EventDirectory,Authorizer,FormCache,AuditPublisher

// Store is the form persistence port. Finders return sentinel.ErrNotFound
// when no row matches; the aggregate comes back with children ordered by
// (order, id). Inside RunInTx, FindFormByID also locks the form row until
// the transaction ends.
type Store interface {
	reconcile.Mutator
	FindFormByEventID(ctx context.Context, eventID id.EventID) (*models.ApplicationForm, error)
	FindFormByID(ctx context.Context, formID id.FormID) (*models.ApplicationForm, error)
	// CreateForm assigns form.ID and sets form.Version to 1. A second form for
	// the same event fails with sentinel.ErrAlreadyUsed.
	CreateForm(ctx context.Context, form *models.ApplicationForm) error
	// UpdateForm writes the form's scalar fields if the stored version still
	// equals expectedVersion, then sets form.Version to expectedVersion+1.
	// A lost race fails with sentinel.ErrConflict.
	UpdateForm(ctx context.Context, form *models.ApplicationForm, expectedVersion int64) error
}

// FormStoreTx provides the transactional boundary for form mutations. fn gets
// a store bound to the transaction and a context carrying it; any error from
// fn rolls everything back.
type FormStoreTx interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, store Store) error) error
}

// EventDirectory resolves events. Returns sentinel.ErrNotFound for unknown ids.
type EventDirectory interface {
	FindEvent(ctx context.Context, eventID id.EventID) (*models.Event, error)
}

// Authorizer answers whether a user may administer an event's form.
type Authorizer interface {
	IsEventAdmin(ctx context.Context, userID id.UserID, eventID id.EventID) (bool, error)
}

// FormCache is the read-through cache for the public read path. Get returns
// sentinel.ErrNotFound on a miss, along with the generation to pass to Set.
// Set must drop the fill if Invalidate ran for the event after that
// generation was read, or if a newer form version is already cached.
type FormCache interface {
	Get(ctx context.Context, eventID id.EventID) (*models.ApplicationForm, int64, error)
	Set(ctx context.Context, form *models.ApplicationForm, generation int64) error
	Invalidate(ctx context.Context, eventID id.EventID) error
}

// AuditPublisher records committed changes. Emit is called inside the write
// transaction.
type AuditPublisher interface {
	Emit(ctx context.Context, entry audit.Entry) error
}
