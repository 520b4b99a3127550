package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"baobab/internal/applicationform/handler/mocks"
	"baobab/internal/applicationform/models"
	"baobab/internal/platform/middleware"
	id "baobab/pkg/domain"
	dErrors "baobab/pkg/domain-errors"
	"baobab/pkg/platform/httputil"
	"baobab/pkg/testutil"
)

//go:generate mockgen -source=handler.go -destination=mocks/service-mocks.go -package=mocks Service

type tokenValidator struct{}

func (tokenValidator) ValidateToken(token string) (*middleware.JWTClaims, error) {
	if token != "valid" {
		return nil, errors.New("bad token")
	}
	return &middleware.JWTClaims{UserID: 7, TokenID: "jti"}, nil
}

type HandlerSuite struct {
	suite.Suite
	service *mocks.MockService
	router  chi.Router
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	ctrl := gomock.NewController(s.T())
	s.service = mocks.NewMockService(ctrl)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.router = chi.NewRouter()
	New(s.service, logger, nil, tokenValidator{}).Register(s.router)
}

func sampleForm() *models.ApplicationForm {
	dep := id.QuestionID(11)
	return &models.ApplicationForm{
		ID:      3,
		EventID: 1,
		IsOpen:  true,
		Version: 4,
		Sections: []*models.Section{{
			ID:     10,
			FormID: 3,
			Name:   "About you",
			Order:  1,
			Questions: []*models.Question{
				{ID: 11, FormID: 3, SectionID: 10, Headline: "Role", Type: id.QuestionSingleChoice, Options: json.RawMessage(`["student","staff"]`)},
				{ID: 12, FormID: 3, SectionID: 10, Headline: "Year", Type: id.QuestionShortText, DependsOnQuestionID: &dep, ShowForValues: json.RawMessage(`["student"]`)},
			},
		}},
	}
}

func (s *HandlerSuite) do(req *http.Request) (int, map[string]any) {
	rr := testutil.DoRequest(s.router, req)
	var body map[string]any
	if rr.Body.Len() > 0 {
		require.NoError(s.T(), json.Unmarshal(rr.Body.Bytes(), &body))
	}
	return rr.Code, body
}

func (s *HandlerSuite) TestRetrieve() {
	s.service.EXPECT().Retrieve(gomock.Any(), id.EventID(1)).Return(sampleForm(), nil)

	code, body := s.do(testutil.NewRequest(s.T(), http.MethodGet, "/api/v1/application-form?event_id=1"))

	s.Equal(http.StatusOK, code)
	s.EqualValues(3, body["id"])
	s.EqualValues(4, body["version"])
	s.Nil(body["deadline"])
	sections := body["sections"].([]any)
	s.Require().Len(sections, 1)
	sec := sections[0].(map[string]any)
	s.Nil(sec["depends_on_question_id"])
	s.Nil(sec["show_for_values"])
	questions := sec["questions"].([]any)
	s.Require().Len(questions, 2)
	year := questions[1].(map[string]any)
	s.EqualValues(11, year["depends_on_question_id"])
	s.Equal([]any{"student"}, year["show_for_values"])
	s.Equal("short-text", year["type"])
}

func (s *HandlerSuite) TestRetrieveErrors() {
	cases := []struct {
		name   string
		err    error
		status int
		reason string
	}{
		{"no form", models.ErrFormNotFound(), http.StatusNotFound, models.ReasonFormNotFound},
		{"closed", models.ErrApplicationsClosed(), http.StatusForbidden, models.ReasonApplicationsClosed},
		{"store down", models.ErrStoreUnavailable(errors.New("dial tcp")), http.StatusServiceUnavailable, models.ReasonStoreUnavailable},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, ""},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			s.service.EXPECT().Retrieve(gomock.Any(), id.EventID(1)).Return(nil, tc.err)
			code, body := s.do(testutil.NewRequest(s.T(), http.MethodGet, "/api/v1/application-form?event_id=1"))
			s.Equal(tc.status, code)
			if tc.reason != "" {
				s.Equal(tc.reason, body["reason"])
			}
			if tc.status >= http.StatusInternalServerError {
				s.NotContains(body, "error_description")
			}
		})
	}
}

func (s *HandlerSuite) TestRetrieveRejectsBadEventID() {
	for _, q := range []string{"", "?event_id=abc", "?event_id=0"} {
		code, body := s.do(testutil.NewRequest(s.T(), http.MethodGet, "/api/v1/application-form"+q))
		s.Equal(http.StatusBadRequest, code, q)
		s.Equal(string(dErrors.CodeBadRequest), body["error"])
	}
}

func (s *HandlerSuite) TestWritesRequireToken() {
	req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/api/v1/application-form", map[string]any{"event_id": 1})
	code, _ := s.do(req)
	s.Equal(http.StatusUnauthorized, code)

	req = testutil.NewJSONRequest(s.T(), http.MethodPut, "/api/v1/application-form", map[string]any{"id": 1})
	req.Header.Set("Authorization", "Bearer nope")
	code, _ = s.do(req)
	s.Equal(http.StatusUnauthorized, code)
}

func (s *HandlerSuite) TestCreate() {
	s.service.EXPECT().Create(gomock.Any(), id.UserID(7), gomock.Any()).DoAndReturn(
		func(_ any, _ id.UserID, req models.CreateFormRequest) (*models.ApplicationForm, error) {
			s.Equal(id.EventID(1), req.EventID)
			s.True(req.IsOpen)
			s.Require().Len(req.Sections, 1)
			s.Nil(req.Sections[0].ID)
			q := req.Sections[0].Questions[0]
			s.Equal(id.QuestionShortTextLegacy, q.Type)
			s.Nil(q.Options, "explicit null is stored as absent")
			return sampleForm(), nil
		})

	req := testutil.NewRequestWithBody(s.T(), http.MethodPost, "/api/v1/application-form", `{
		"event_id": 1, "is_open": true, "nominations": false,
		"sections": [{"name": "S1", "description": "d", "order": 1,
			"questions": [{"headline": "Q1", "order": 1, "type": "short_text",
				"is_required": true, "description": "", "options": null}]}]
	}`)
	req.Header.Set("Authorization", "Bearer valid")
	code, body := s.do(req)

	s.Equal(http.StatusCreated, code)
	s.EqualValues(3, body["id"])
}

func (s *HandlerSuite) TestCreateMissingFields() {
	req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/api/v1/application-form", map[string]any{"event_id": 1, "sections": []any{}})
	req.Header.Set("Authorization", "Bearer valid")
	code, body := s.do(req)
	s.Equal(http.StatusBadRequest, code)
	s.Equal(string(dErrors.CodeBadRequest), body["error"])
}

func (s *HandlerSuite) TestCreateMalformedBody() {
	req := testutil.NewRequestWithBody(s.T(), http.MethodPost, "/api/v1/application-form", `{"event_id":`)
	req.Header.Set("Authorization", "Bearer valid")
	code, _ := s.do(req)
	s.Equal(http.StatusBadRequest, code)
}

func (s *HandlerSuite) TestCreateRequiresJSONContentType() {
	req := testutil.NewRequestWithBody(s.T(), http.MethodPost, "/api/v1/application-form", `{}`)
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("Authorization", "Bearer valid")
	code, _ := s.do(req)
	s.Equal(http.StatusUnsupportedMediaType, code)
}

func (s *HandlerSuite) TestReconcile() {
	version := int64(4)
	s.service.EXPECT().Reconcile(gomock.Any(), id.UserID(7), gomock.Any()).DoAndReturn(
		func(_ any, _ id.UserID, req models.ReconcileFormRequest) (*models.ApplicationForm, error) {
			s.Equal(id.FormID(3), req.FormID)
			s.Equal(&version, req.Version)
			s.Require().Len(req.Sections, 1)
			s.Equal(id.SectionID(10), *req.Sections[0].ID)
			s.Equal(id.QuestionID(11), *req.Sections[0].Questions[0].ID)
			form := sampleForm()
			form.Version = 5
			return form, nil
		})

	payload := toFormResponse(sampleForm())
	req := testutil.NewJSONRequest(s.T(), http.MethodPut, "/api/v1/application-form", ReconcileFormRequest{
		ID:          &payload.ID,
		EventID:     &payload.EventID,
		IsOpen:      &payload.IsOpen,
		Nominations: &payload.Nominations,
		Version:     &version,
		Sections:    payload.Sections[:1],
	})
	req.Header.Set("Authorization", "Bearer valid")
	code, body := s.do(req)

	s.Equal(http.StatusOK, code)
	s.EqualValues(5, body["version"])
}

func (s *HandlerSuite) TestReconcileErrorMapping() {
	cases := []struct {
		name   string
		err    error
		status int
		reason string
	}{
		{"event missing", models.ErrEventNotFound(), http.StatusNotFound, models.ReasonEventNotFound},
		{"forbidden", models.ErrForbidden(), http.StatusForbidden, models.ReasonForbidden},
		{"form missing", models.ErrFormNotFoundByID(), http.StatusNotFound, models.ReasonFormNotFoundByID},
		{"event mismatch", models.ErrUpdateConflict(), http.StatusConflict, models.ReasonUpdateConflict},
		{"stale", models.ErrStaleVersion(), http.StatusConflict, models.ReasonStaleVersion},
		{"unknown section", models.ErrSectionNotFound("section 9 not found"), http.StatusNotFound, models.ReasonSectionNotFound},
		{"invalid tree", dErrors.New(dErrors.CodeValidation, "sections[0].name is required"), http.StatusBadRequest, ""},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			s.service.EXPECT().Reconcile(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, tc.err)
			req := testutil.NewRequestWithBody(s.T(), http.MethodPut, "/api/v1/application-form",
				`{"id": 3, "event_id": 1, "is_open": true, "nominations": false, "sections": []}`)
			req.Header.Set("Authorization", "Bearer valid")

			rr := testutil.DoRequest(s.router, req)
			s.Equal(tc.status, rr.Code)
			resp := testutil.UnmarshalResponse[httputil.ErrorResponse](s.T(), rr)
			s.Equal(tc.reason, resp.Reason)
			s.NotEmpty(resp.ErrorDescription)
		})
	}
}

func TestRawDropsExplicitNull(t *testing.T) {
	assert.Nil(t, raw(json.RawMessage("null")))
	assert.Nil(t, raw(json.RawMessage(" null ")))
	assert.Nil(t, raw(nil))
	assert.Equal(t, json.RawMessage(`[1]`), raw(json.RawMessage(`[1]`)))
}
