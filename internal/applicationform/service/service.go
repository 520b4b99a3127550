package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"baobab/internal/applicationform/metrics"
	"baobab/internal/applicationform/models"
	"baobab/internal/applicationform/reconcile"
	"baobab/internal/audit"
	id "baobab/pkg/domain"
	dErrors "baobab/pkg/domain-errors"
	"baobab/pkg/platform/sentinel"
	"baobab/pkg/requestcontext"
)

// Service is the application-form aggregate: public read, create and
// reconcile of an event's form definition.
type Service struct {
	forms   Store
	tx      FormStoreTx
	events  EventDirectory
	authz   Authorizer
	engine  *reconcile.Engine
	cache   FormCache
	audit   AuditPublisher
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer

	// unflushed holds events whose post-commit invalidation failed; their
	// cache entries are bypassed until an invalidation succeeds.
	unflushed sync.Map
}

const (
	invalidateAttempts = 3
	invalidateBackoff  = 10 * time.Millisecond
)

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithCache(c FormCache) Option {
	return func(s *Service) {
		s.cache = c
	}
}

func WithAuditPublisher(p AuditPublisher) Option {
	return func(s *Service) {
		s.audit = p
	}
}

func WithEngine(e *reconcile.Engine) Option {
	return func(s *Service) {
		s.engine = e
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = t
	}
}

// New constructs a Service. forms serves reads outside transactions.
func New(forms Store, tx FormStoreTx, events EventDirectory, authz Authorizer, opts ...Option) *Service {
	s := &Service{
		forms:  forms,
		tx:     tx,
		events: events,
		authz:  authz,
		engine: reconcile.NewEngine(),
		logger: slog.Default(),
		tracer: otel.Tracer("baobab/applicationform"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Retrieve returns an event's form for candidates. A closed form is reported
// as ApplicationsClosed rather than returned.
func (s *Service) Retrieve(ctx context.Context, eventID id.EventID) (*models.ApplicationForm, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "applicationform.Retrieve",
		trace.WithAttributes(attribute.Int64("event_id", int64(eventID))),
	)
	defer span.End()

	form, err := s.loadForRead(ctx, eventID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load failed")
		return nil, err
	}
	if !form.IsOpen {
		return nil, models.ErrApplicationsClosed()
	}
	if s.metrics != nil {
		s.metrics.ObserveRetrieve(start)
	}
	return form, nil
}

// Get returns an event's form regardless of whether it is open. Used by
// operator tooling.
func (s *Service) Get(ctx context.Context, eventID id.EventID) (*models.ApplicationForm, error) {
	form, err := s.forms.FindFormByEventID(ctx, eventID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, models.ErrFormNotFound()
		}
		return nil, s.storeError(ctx, err, "failed to load application form")
	}
	return form, nil
}

func (s *Service) loadForRead(ctx context.Context, eventID id.EventID) (*models.ApplicationForm, error) {
	cached, generation, fill := s.readCache(ctx, eventID)
	if cached != nil {
		return cached, nil
	}

	form, err := s.Get(ctx, eventID)
	if err != nil {
		return nil, err
	}

	if fill {
		if err := s.cache.Set(ctx, form, generation); err != nil {
			s.logger.WarnContext(ctx, "form cache write failed",
				"event_id", eventID,
				"error", err,
			)
		}
	}
	return form, nil
}

// readCache returns a cached form, or reports whether the store read that
// follows may fill the cache and with which generation.
func (s *Service) readCache(ctx context.Context, eventID id.EventID) (*models.ApplicationForm, int64, bool) {
	if s.cache == nil {
		return nil, 0, false
	}
	if s.pendingInvalidation(ctx, eventID) {
		s.observeCache("bypass")
		return nil, 0, false
	}

	form, generation, err := s.cache.Get(ctx, eventID)
	switch {
	case err == nil:
		s.observeCache("hit")
		return form, 0, false
	case errors.Is(err, sentinel.ErrNotFound):
		s.observeCache("miss")
		return nil, generation, true
	default:
		s.observeCache("error")
		s.logger.WarnContext(ctx, "form cache read failed",
			"event_id", eventID,
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		return nil, 0, false
	}
}

// pendingInvalidation retries a failed invalidation and reports whether the
// cache must still be bypassed for the event.
func (s *Service) pendingInvalidation(ctx context.Context, eventID id.EventID) bool {
	if _, ok := s.unflushed.Load(eventID); !ok {
		return false
	}
	if err := s.cache.Invalidate(ctx, eventID); err != nil {
		return true
	}
	s.unflushed.Delete(eventID)
	s.logger.InfoContext(ctx, "form cache invalidation recovered", "event_id", eventID)
	return false
}

// Create builds an event's form from a desired tree. The whole tree is
// validated before the transaction opens; inside it the form row, sections
// and questions are inserted in submission order.
func (s *Service) Create(ctx context.Context, userID id.UserID, req models.CreateFormRequest) (*models.ApplicationForm, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "applicationform.Create",
		trace.WithAttributes(
			attribute.Int64("event_id", int64(req.EventID)),
			attribute.Int("sections", len(req.Sections)),
		),
	)
	defer span.End()

	created, err := s.create(ctx, userID, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create failed")
		s.rejected(err)
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.IncrementCreated()
		s.metrics.ObserveCreate(start)
	}
	s.invalidate(ctx, created.EventID)
	s.logger.InfoContext(ctx, "application form created",
		"form_id", created.ID,
		"event_id", created.EventID,
		"user_id", userID,
		"sections", len(created.Sections),
		"questions", created.QuestionCount(),
		"request_id", requestcontext.RequestID(ctx),
	)
	return created, nil
}

func (s *Service) create(ctx context.Context, userID id.UserID, req models.CreateFormRequest) (*models.ApplicationForm, error) {
	event, err := s.authorize(ctx, userID, req.EventID)
	if err != nil {
		return nil, err
	}

	if _, err := s.forms.FindFormByEventID(ctx, req.EventID); err == nil {
		return nil, models.ErrApplicationFormExists()
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, s.storeError(ctx, err, "failed to check existing application form")
	}

	plan, err := s.engine.PlanCreate(0, req.Sections)
	if err != nil {
		return nil, err
	}

	var created *models.ApplicationForm
	err = s.tx.RunInTx(ctx, func(ctx context.Context, store Store) error {
		form := &models.ApplicationForm{
			EventID:     req.EventID,
			IsOpen:      req.IsOpen,
			Nominations: req.Nominations,
			Deadline:    event.ApplicationClose,
		}
		if err := store.CreateForm(ctx, form); err != nil {
			if errors.Is(err, sentinel.ErrAlreadyUsed) {
				return models.ErrApplicationFormExists()
			}
			return err
		}

		plan.FormID = form.ID
		if err := s.apply(ctx, store, plan); err != nil {
			return err
		}
		if err := s.emit(ctx, audit.ActionFormCreated, userID, form, plan); err != nil {
			return err
		}

		created, err = store.FindFormByID(ctx, form.ID)
		return err
	})
	if err != nil {
		return nil, s.txError(ctx, err, "failed to create application form")
	}
	s.observePlan(plan)
	return created, nil
}

// Reconcile merges a desired tree onto an existing form, see package
// reconcile for the rules. The form's IsOpen and Nominations flags are
// written unconditionally and its version is bumped.
func (s *Service) Reconcile(ctx context.Context, userID id.UserID, req models.ReconcileFormRequest) (*models.ApplicationForm, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "applicationform.Reconcile",
		trace.WithAttributes(
			attribute.Int64("form_id", int64(req.FormID)),
			attribute.Int64("event_id", int64(req.EventID)),
			attribute.Int("sections", len(req.Sections)),
		),
	)
	defer span.End()

	updated, plan, err := s.reconcile(ctx, userID, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "reconcile failed")
		s.rejected(err)
		return nil, err
	}

	summary := plan.Summary()
	span.SetAttributes(
		attribute.Int("sections_inserted", summary.SectionsInserted),
		attribute.Int("sections_updated", summary.SectionsUpdated),
		attribute.Int("sections_deleted", summary.SectionsDeleted),
		attribute.Int("questions_inserted", summary.QuestionsInserted),
		attribute.Int("questions_updated", summary.QuestionsUpdated),
		attribute.Int64("version", updated.Version),
	)
	if s.metrics != nil {
		s.metrics.IncrementReconciled()
		s.metrics.ObserveReconcile(start)
	}
	s.invalidate(ctx, updated.EventID)
	s.logger.InfoContext(ctx, "application form reconciled",
		"form_id", updated.ID,
		"event_id", updated.EventID,
		"user_id", userID,
		"version", updated.Version,
		"sections_inserted", summary.SectionsInserted,
		"sections_deleted", summary.SectionsDeleted,
		"questions_inserted", summary.QuestionsInserted,
		"request_id", requestcontext.RequestID(ctx),
	)
	return updated, nil
}

func (s *Service) reconcile(ctx context.Context, userID id.UserID, req models.ReconcileFormRequest) (*models.ApplicationForm, *reconcile.Plan, error) {
	if _, err := s.authorize(ctx, userID, req.EventID); err != nil {
		return nil, nil, err
	}

	var (
		updated *models.ApplicationForm
		plan    *reconcile.Plan
	)
	err := s.tx.RunInTx(ctx, func(ctx context.Context, store Store) error {
		current, err := store.FindFormByID(ctx, req.FormID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return models.ErrFormNotFoundByID()
			}
			return err
		}
		if current.EventID != req.EventID {
			return models.ErrUpdateConflict()
		}
		if req.Version != nil && *req.Version != current.Version {
			return models.ErrStaleVersion()
		}

		plan, err = s.engine.Plan(current, req.Sections)
		if err != nil {
			return err
		}

		form := current.Clone()
		form.Sections = nil
		form.IsOpen = req.IsOpen
		form.Nominations = req.Nominations
		if err := store.UpdateForm(ctx, form, current.Version); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return models.ErrStaleVersion()
			}
			return err
		}

		if err := s.apply(ctx, store, plan); err != nil {
			return err
		}
		if err := s.emit(ctx, audit.ActionFormReconciled, userID, form, plan); err != nil {
			return err
		}

		updated, err = store.FindFormByID(ctx, form.ID)
		return err
	})
	if err != nil {
		return nil, nil, s.txError(ctx, err, "failed to reconcile application form")
	}
	s.observePlan(plan)
	return updated, plan, nil
}

// authorize checks event existence then admin rights, in that order, before
// any transaction is opened.
func (s *Service) authorize(ctx context.Context, userID id.UserID, eventID id.EventID) (*models.Event, error) {
	event, err := s.events.FindEvent(ctx, eventID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, models.ErrEventNotFound()
		}
		return nil, s.storeError(ctx, err, "failed to load event")
	}
	ok, err := s.authz.IsEventAdmin(ctx, userID, eventID)
	if err != nil {
		return nil, s.storeError(ctx, err, "failed to check event role")
	}
	if !ok {
		s.logger.WarnContext(ctx, "application form write denied",
			"user_id", userID,
			"event_id", eventID,
			"request_id", requestcontext.RequestID(ctx),
		)
		return nil, models.ErrForbidden()
	}
	return event, nil
}

func (s *Service) apply(ctx context.Context, store Store, plan *reconcile.Plan) error {
	ctx, span := s.tracer.Start(ctx, "applicationform.Apply",
		trace.WithAttributes(attribute.Int("ops", len(plan.Ops))),
	)
	defer span.End()
	if err := reconcile.Apply(ctx, store, plan); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "apply failed")
		return err
	}
	return nil
}

func (s *Service) emit(ctx context.Context, action audit.Action, userID id.UserID, form *models.ApplicationForm, plan *reconcile.Plan) error {
	if s.audit == nil {
		return nil
	}
	sum := plan.Summary()
	return s.audit.Emit(ctx, audit.Entry{
		Action:  action,
		UserID:  userID,
		EventID: form.EventID,
		FormID:  form.ID,
		Version: form.Version,
		Changes: map[string]int{
			"sections_inserted":  sum.SectionsInserted,
			"sections_updated":   sum.SectionsUpdated,
			"sections_deleted":   sum.SectionsDeleted,
			"questions_inserted": sum.QuestionsInserted,
			"questions_updated":  sum.QuestionsUpdated,
		},
	})
}

// invalidate drops the event's cache entry after a commit, outliving the
// request's cancellation. When every attempt fails the event is marked
// unflushed so reads skip the cache.
func (s *Service) invalidate(ctx context.Context, eventID id.EventID) {
	if s.cache == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	err := s.cache.Invalidate(ctx, eventID)
	for attempt := 1; err != nil && attempt < invalidateAttempts; attempt++ {
		time.Sleep(invalidateBackoff * time.Duration(attempt))
		err = s.cache.Invalidate(ctx, eventID)
	}
	if err == nil {
		s.unflushed.Delete(eventID)
		return
	}
	s.unflushed.Store(eventID, struct{}{})
	s.logger.ErrorContext(ctx, "form cache invalidation failed",
		"event_id", eventID,
		"attempts", invalidateAttempts,
		"error", err,
	)
}

// txError passes coded errors raised inside the transaction through and
// classifies the rest.
func (s *Service) txError(ctx context.Context, err error, msg string) error {
	if _, ok := dErrors.As(err); ok {
		return err
	}
	return s.storeError(ctx, err, msg)
}

func (s *Service) storeError(ctx context.Context, err error, msg string) error {
	switch {
	case errors.Is(err, sentinel.ErrUnavailable):
		s.logger.ErrorContext(ctx, "form store unavailable", "error", err)
		return models.ErrStoreUnavailable(err)
	case errors.Is(err, context.DeadlineExceeded):
		return dErrors.Wrap(err, dErrors.CodeTimeout, msg)
	default:
		s.logger.ErrorContext(ctx, msg, "error", err)
		return dErrors.Wrap(err, dErrors.CodeInternal, msg)
	}
}

func (s *Service) rejected(err error) {
	if s.metrics == nil {
		return
	}
	reason := dErrors.ReasonOf(err)
	if reason == "" {
		if de, ok := dErrors.As(err); ok {
			reason = string(de.Code)
		}
	}
	s.metrics.IncrementRejected(reason)
}

func (s *Service) observePlan(plan *reconcile.Plan) {
	if s.metrics == nil || plan == nil {
		return
	}
	sum := plan.Summary()
	s.metrics.AddSections(sum.SectionsInserted, sum.SectionsUpdated, sum.SectionsDeleted)
	s.metrics.AddQuestions(sum.QuestionsInserted, sum.QuestionsUpdated)
}

func (s *Service) observeCache(result string) {
	if s.metrics != nil {
		s.metrics.ObserveCacheLookup(result)
	}
}
