package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"baobab/internal/applicationform/models"
	"baobab/internal/platform/metrics"
	"baobab/internal/platform/middleware"
	id "baobab/pkg/domain"
	dErrors "baobab/pkg/domain-errors"
	"baobab/pkg/platform/httputil"
)

const maxBodyBytes = 1 << 20

// Service defines the application-form operations exposed over HTTP.
type Service interface {
	Retrieve(ctx context.Context, eventID id.EventID) (*models.ApplicationForm, error)
	Create(ctx context.Context, userID id.UserID, req models.CreateFormRequest) (*models.ApplicationForm, error)
	Reconcile(ctx context.Context, userID id.UserID, req models.ReconcileFormRequest) (*models.ApplicationForm, error)
}

type Handler struct {
	forms          Service
	logger         *slog.Logger
	metrics        *metrics.Metrics
	jwtValidator   middleware.JWTValidator
	requestTimeout time.Duration
	writeLimit     func(http.Handler) http.Handler
}

type Option func(*Handler)

func WithRequestTimeout(d time.Duration) Option {
	return func(h *Handler) {
		h.requestTimeout = d
	}
}

// WithWriteLimit runs mw on authenticated writes, after the user is known.
func WithWriteLimit(mw func(http.Handler) http.Handler) Option {
	return func(h *Handler) {
		h.writeLimit = mw
	}
}

func New(forms Service, logger *slog.Logger, m *metrics.Metrics, jwtValidator middleware.JWTValidator, opts ...Option) *Handler {
	h := &Handler{
		forms:          forms,
		logger:         logger,
		metrics:        m,
		jwtValidator:   jwtValidator,
		requestTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts the form routes. Reads are public; writes need a bearer token.
func (h *Handler) Register(r chi.Router) {
	r.Route("/api/v1/application-form", func(r chi.Router) {
		r.Use(middleware.Recovery(h.logger))
		r.Use(middleware.RequestID)
		r.Use(middleware.Logger(h.logger))
		r.Use(middleware.Timeout(h.requestTimeout))
		r.Use(middleware.ContentTypeJSON)
		r.Use(middleware.LatencyMiddleware(h.metrics))

		r.Get("/", h.handleRetrieve)
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth(h.jwtValidator, h.logger))
			if h.writeLimit != nil {
				r.Use(h.writeLimit)
			}
			r.Post("/", h.handleCreate)
			r.Put("/", h.handleReconcile)
		})
	})
}

func (h *Handler) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	eventID, err := strconv.ParseInt(r.URL.Query().Get("event_id"), 10, 64)
	if err != nil || eventID <= 0 {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "event_id must be a positive integer"))
		return
	}

	form, err := h.forms.Retrieve(ctx, id.EventID(eventID))
	if err != nil {
		h.fail(ctx, w, err, "retrieve application form")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toFormResponse(form))
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := h.userID(ctx, w)
	if !ok {
		return
	}

	var body CreateFormRequest
	if !h.decode(w, r, &body) {
		return
	}
	if body.EventID == nil || body.IsOpen == nil || body.Nominations == nil || body.Sections == nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "event_id, is_open, nominations and sections are required"))
		return
	}

	form, err := h.forms.Create(ctx, userID, models.CreateFormRequest{
		EventID:     *body.EventID,
		IsOpen:      *body.IsOpen,
		Nominations: *body.Nominations,
		Sections:    toSectionSpecs(body.Sections),
	})
	if err != nil {
		h.fail(ctx, w, err, "create application form")
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toFormResponse(form))
}

func (h *Handler) handleReconcile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := h.userID(ctx, w)
	if !ok {
		return
	}

	var body ReconcileFormRequest
	if !h.decode(w, r, &body) {
		return
	}
	if body.ID == nil || body.EventID == nil || body.IsOpen == nil || body.Nominations == nil || body.Sections == nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "id, event_id, is_open, nominations and sections are required"))
		return
	}

	form, err := h.forms.Reconcile(ctx, userID, models.ReconcileFormRequest{
		FormID:      *body.ID,
		EventID:     *body.EventID,
		IsOpen:      *body.IsOpen,
		Nominations: *body.Nominations,
		Version:     body.Version,
		Sections:    toSectionSpecs(body.Sections),
	})
	if err != nil {
		h.fail(ctx, w, err, "reconcile application form")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toFormResponse(form))
}

func (h *Handler) userID(ctx context.Context, w http.ResponseWriter) (id.UserID, bool) {
	userID := middleware.GetUserID(ctx)
	if userID.IsNil() {
		// RequireAuth guarantees a user; reaching here is a wiring bug.
		h.logger.ErrorContext(ctx, "userID missing from context despite auth middleware",
			"request_id", middleware.GetRequestID(ctx),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "authentication context error"))
		return 0, false
	}
	return userID, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst); err != nil {
		h.logger.WarnContext(r.Context(), "invalid application form request",
			"request_id", middleware.GetRequestID(r.Context()),
			"error", err.Error(),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return false
	}
	return true
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, err error, op string) {
	status := http.StatusInternalServerError
	if de, ok := dErrors.As(err); ok {
		status = httputil.StatusFor(de.Code)
	}
	attrs := []any{
		"request_id", middleware.GetRequestID(ctx),
		"error", err.Error(),
		"reason", dErrors.ReasonOf(err),
	}
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, "failed to "+op, attrs...)
	} else {
		h.logger.WarnContext(ctx, "rejected "+op, attrs...)
	}
	httputil.WriteError(w, err)
}
