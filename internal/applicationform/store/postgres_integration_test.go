//go:build integration

package store_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/suite"

	"baobab/internal/applicationform/models"
	"baobab/internal/applicationform/service"
	"baobab/internal/applicationform/store"
	id "baobab/pkg/domain"
	"baobab/pkg/platform/sentinel"
	"baobab/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.store = store.NewPostgres(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	ctx := context.Background()
	s.Require().NoError(s.postgres.TruncateTables(ctx, "outbox", "question", "section", "application_form", "event_role", "app_user", "event"))
	s.Require().NoError(s.postgres.Exec(ctx, `INSERT INTO event (id, name) VALUES (1, 'Indaba'), (2, 'IndabaX')`))
}

func (s *PostgresStoreSuite) seed(ctx context.Context, st service.Store) (*models.ApplicationForm, *models.Section, *models.Question) {
	form := &models.ApplicationForm{EventID: 1, IsOpen: true}
	s.Require().NoError(st.CreateForm(ctx, form))
	key := "about"
	sec := &models.Section{FormID: form.ID, Name: "About", Order: 1, Key: &key}
	s.Require().NoError(st.CreateSection(ctx, sec))
	q := &models.Question{
		FormID:     form.ID,
		SectionID:  sec.ID,
		Headline:   "Role",
		Order:      1,
		Type:       id.QuestionSingleChoice,
		IsRequired: true,
		Options:    json.RawMessage(`[{"value":"student"}]`),
	}
	s.Require().NoError(st.CreateQuestion(ctx, q))
	return form, sec, q
}

func (s *PostgresStoreSuite) TestCreateAndFind() {
	ctx := context.Background()
	form, sec, q := s.seed(ctx, s.store)
	s.EqualValues(1, form.Version)

	got, err := s.store.FindFormByEventID(ctx, 1)
	s.Require().NoError(err)
	s.Equal(form.ID, got.ID)
	s.Require().Len(got.Sections, 1)
	s.Equal(sec.ID, got.Sections[0].ID)
	s.Equal("about", *got.Sections[0].Key)
	s.Nil(got.Sections[0].ShowForValues)
	s.Require().Len(got.Sections[0].Questions, 1)
	s.Equal(q.ID, got.Sections[0].Questions[0].ID)
	s.JSONEq(`[{"value":"student"}]`, string(got.Sections[0].Questions[0].Options))
	s.Nil(got.Sections[0].Questions[0].ShowForValues)

	_, err = s.store.FindFormByEventID(ctx, 2)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestDuplicateFormForEvent() {
	ctx := context.Background()
	s.seed(ctx, s.store)
	err := s.store.CreateForm(ctx, &models.ApplicationForm{EventID: 1})
	s.ErrorIs(err, sentinel.ErrAlreadyUsed)
}

func (s *PostgresStoreSuite) TestUpdateFormVersionCheck() {
	ctx := context.Background()
	form, _, _ := s.seed(ctx, s.store)
	form.Nominations = true
	s.Require().NoError(s.store.UpdateForm(ctx, form, 1))
	s.EqualValues(2, form.Version)
	s.ErrorIs(s.store.UpdateForm(ctx, form, 1), sentinel.ErrConflict)
}

func (s *PostgresStoreSuite) TestDeleteSectionCascades() {
	ctx := context.Background()
	form, sec, q := s.seed(ctx, s.store)
	other := &models.Section{FormID: form.ID, Name: "Follow up", Order: 2, DependsOnQuestionID: &q.ID}
	s.Require().NoError(s.store.CreateSection(ctx, other))

	s.Require().NoError(s.store.DeleteSection(ctx, form.ID, sec.ID))

	got, err := s.store.FindFormByID(ctx, form.ID)
	s.Require().NoError(err)
	s.Require().Len(got.Sections, 1)
	s.Nil(got.Sections[0].DependsOnQuestionID)
	s.Equal(0, got.QuestionCount())
	s.ErrorIs(s.store.DeleteSection(ctx, form.ID, sec.ID), sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestDanglingReferenceIsNotFound() {
	ctx := context.Background()
	form, _, _ := s.seed(ctx, s.store)
	missing := id.QuestionID(999)
	err := s.store.CreateSection(ctx, &models.Section{FormID: form.ID, Name: "x", DependsOnQuestionID: &missing})
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestRunInTxRollsBack() {
	ctx := context.Background()
	boom := errors.New("boom")
	err := s.store.RunInTx(ctx, func(ctx context.Context, st service.Store) error {
		s.seed(ctx, st)
		return boom
	})
	s.ErrorIs(err, boom)

	_, err = s.store.FindFormByEventID(ctx, 1)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestRunInTxCommits() {
	ctx := context.Background()
	var formID id.FormID
	err := s.store.RunInTx(ctx, func(ctx context.Context, st service.Store) error {
		form, _, _ := s.seed(ctx, st)
		locked, err := st.FindFormByID(ctx, form.ID)
		if err != nil {
			return err
		}
		formID = locked.ID
		return nil
	})
	s.Require().NoError(err)

	got, err := s.store.FindFormByEventID(ctx, 1)
	s.Require().NoError(err)
	s.Equal(formID, got.ID)
	s.Equal(1, got.QuestionCount())
}
