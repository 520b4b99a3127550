package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"baobab/internal/applicationform/models"
	"baobab/internal/applicationform/service"
	id "baobab/pkg/domain"
	dErrors "baobab/pkg/domain-errors"
	"baobab/pkg/platform/sentinel"
)

func seed(t *testing.T, s *InMemory) (*models.ApplicationForm, *models.Section, *models.Question) {
	t.Helper()
	ctx := context.Background()
	form := &models.ApplicationForm{EventID: 1, IsOpen: true}
	require.NoError(t, s.CreateForm(ctx, form))
	sec := &models.Section{FormID: form.ID, Name: "A", Order: 1}
	require.NoError(t, s.CreateSection(ctx, sec))
	q := &models.Question{FormID: form.ID, SectionID: sec.ID, Headline: "Q", Type: id.QuestionShortText}
	require.NoError(t, s.CreateQuestion(ctx, q))
	return form, sec, q
}

func TestInMemoryCreateForm(t *testing.T) {
	s := NewInMemory()
	form, _, _ := seed(t, s)
	assert.Equal(t, id.FormID(1), form.ID)
	assert.EqualValues(t, 1, form.Version)

	err := s.CreateForm(context.Background(), &models.ApplicationForm{EventID: 1})
	assert.ErrorIs(t, err, sentinel.ErrAlreadyUsed)
}

func TestInMemoryFindAssemblesOrderedTree(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()
	form, first, _ := seed(t, s)
	earlier := &models.Section{FormID: form.ID, Name: "B", Order: 0}
	require.NoError(t, s.CreateSection(ctx, earlier))
	require.NoError(t, s.CreateQuestion(ctx, &models.Question{FormID: form.ID, SectionID: first.ID, Headline: "Q0", Order: -1, Type: id.QuestionDate}))

	got, err := s.FindFormByEventID(ctx, 1)
	require.NoError(t, err)
	require.Len(t, got.Sections, 2)
	assert.Equal(t, "B", got.Sections[0].Name)
	assert.Equal(t, "A", got.Sections[1].Name)
	require.Len(t, got.Sections[1].Questions, 2)
	assert.Equal(t, "Q0", got.Sections[1].Questions[0].Headline)

	_, err = s.FindFormByEventID(ctx, 2)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
	_, err = s.FindFormByID(ctx, 9)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestInMemoryReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()
	seed(t, s)

	got, err := s.FindFormByEventID(ctx, 1)
	require.NoError(t, err)
	got.Sections[0].Name = "mutated"

	again, err := s.FindFormByEventID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "A", again.Sections[0].Name)
}

func TestInMemoryUpdateFormVersion(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()
	form, _, _ := seed(t, s)

	form.IsOpen = false
	require.NoError(t, s.UpdateForm(ctx, form, 1))
	assert.EqualValues(t, 2, form.Version)

	err := s.UpdateForm(ctx, form, 1)
	assert.ErrorIs(t, err, sentinel.ErrConflict)
}

func TestInMemoryDeleteSectionCascades(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()
	form, doomed, q := seed(t, s)

	kept := &models.Section{FormID: form.ID, Name: "kept", Order: 2, DependsOnQuestionID: &q.ID}
	require.NoError(t, s.CreateSection(ctx, kept))
	dependent := &models.Question{FormID: form.ID, SectionID: kept.ID, Headline: "D", Type: id.QuestionShortText, DependsOnQuestionID: &q.ID}
	require.NoError(t, s.CreateQuestion(ctx, dependent))

	require.NoError(t, s.DeleteSection(ctx, form.ID, doomed.ID))

	got, err := s.FindFormByID(ctx, form.ID)
	require.NoError(t, err)
	require.Len(t, got.Sections, 1)
	assert.Nil(t, got.Sections[0].DependsOnQuestionID)
	require.Len(t, got.Sections[0].Questions, 1)
	assert.Nil(t, got.Sections[0].Questions[0].DependsOnQuestionID)

	assert.ErrorIs(t, s.DeleteSection(ctx, form.ID, doomed.ID), sentinel.ErrNotFound)
}

func TestInMemoryRejectsDanglingReferences(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()
	form, sec, _ := seed(t, s)
	missing := id.QuestionID(99)

	err := s.CreateSection(ctx, &models.Section{FormID: form.ID, Name: "x", DependsOnQuestionID: &missing})
	assert.ErrorIs(t, err, sentinel.ErrNotFound)

	err = s.CreateQuestion(ctx, &models.Question{FormID: form.ID, SectionID: 42, Headline: "x"})
	assert.ErrorIs(t, err, sentinel.ErrNotFound)

	err = s.UpdateQuestion(ctx, &models.Question{ID: 1, FormID: form.ID, SectionID: sec.ID + 1})
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestInMemoryRunInTx(t *testing.T) {
	ctx := context.Background()

	t.Run("commits on success", func(t *testing.T) {
		s := NewInMemory()
		form, sec, _ := seed(t, s)
		err := s.RunInTx(ctx, func(ctx context.Context, st service.Store) error {
			sec.Name = "renamed"
			return st.UpdateSection(ctx, sec)
		})
		require.NoError(t, err)
		got, err := s.FindFormByID(ctx, form.ID)
		require.NoError(t, err)
		assert.Equal(t, "renamed", got.Sections[0].Name)
	})

	t.Run("rolls back every write on error", func(t *testing.T) {
		s := NewInMemory()
		form, sec, _ := seed(t, s)
		boom := errors.New("boom")
		err := s.RunInTx(ctx, func(ctx context.Context, st service.Store) error {
			require.NoError(t, st.DeleteSection(ctx, form.ID, sec.ID))
			require.NoError(t, st.CreateSection(ctx, &models.Section{FormID: form.ID, Name: "new"}))
			return boom
		})
		assert.ErrorIs(t, err, boom)
		got, err := s.FindFormByID(ctx, form.ID)
		require.NoError(t, err)
		require.Len(t, got.Sections, 1)
		assert.Equal(t, sec.ID, got.Sections[0].ID)
		assert.Len(t, got.Sections[0].Questions, 1)
	})

	t.Run("cancelled context", func(t *testing.T) {
		s := NewInMemory()
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		err := s.RunInTx(cctx, func(context.Context, service.Store) error {
			t.Fatal("fn must not run")
			return nil
		})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeTimeout))
	})

	t.Run("deadline hit before commit discards work", func(t *testing.T) {
		s := NewInMemory(WithMemoryTxTimeout(10 * time.Millisecond))
		err := s.RunInTx(ctx, func(ctx context.Context, st service.Store) error {
			if err := st.CreateForm(ctx, &models.ApplicationForm{EventID: 5}); err != nil {
				return err
			}
			<-ctx.Done()
			return nil
		})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeTimeout))
		_, err = s.FindFormByEventID(ctx, 5)
		assert.ErrorIs(t, err, sentinel.ErrNotFound)
	})
}
