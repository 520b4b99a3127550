package reconcile

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"baobab/internal/applicationform/models"
	id "baobab/pkg/domain"
	dErrors "baobab/pkg/domain-errors"
)

func sid(v int64) *id.SectionID  { s := id.SectionID(v); return &s }
func qid(v int64) *id.QuestionID { q := id.QuestionID(v); return &q }

// fixtureForm is form 1 with two sections:
//
//	section 10 "About you"  -> questions 100, 101 (101 shown when 100 answers "yes")
//	section 20 "Motivation" -> question 200, section itself depends on 100
func fixtureForm() *models.ApplicationForm {
	return &models.ApplicationForm{
		ID:      1,
		EventID: 7,
		Version: 3,
		Sections: []*models.Section{
			{
				ID: 10, FormID: 1, Name: "About you", Order: 1,
				Questions: []*models.Question{
					{ID: 100, FormID: 1, SectionID: 10, Headline: "Student?", Order: 1, Type: id.QuestionSingleChoice},
					{ID: 101, FormID: 1, SectionID: 10, Headline: "University", Order: 2, Type: id.QuestionShortText, DependsOnQuestionID: qid(100), ShowForValues: json.RawMessage(`["yes"]`)},
				},
			},
			{
				ID: 20, FormID: 1, Name: "Motivation", Order: 2, DependsOnQuestionID: qid(100),
				Questions: []*models.Question{
					{ID: 200, FormID: 1, SectionID: 20, Headline: "Why?", Order: 1, Type: id.QuestionLongText},
				},
			},
		},
	}
}

// specOf turns a persisted form into the payload that would describe it unchanged.
func specOf(form *models.ApplicationForm) []models.SectionSpec {
	out := make([]models.SectionSpec, 0, len(form.Sections))
	for _, s := range form.Sections {
		spec := models.SectionSpec{
			ID: sid(int64(s.ID)), Name: s.Name, Description: s.Description, Order: s.Order,
			DependsOnQuestionID: s.DependsOnQuestionID, ShowForValues: s.ShowForValues, Key: s.Key,
		}
		for _, q := range s.Questions {
			spec.Questions = append(spec.Questions, models.QuestionSpec{
				ID: qid(int64(q.ID)), Headline: q.Headline, Placeholder: q.Placeholder, Order: q.Order,
				Type: q.Type, ValidationRegex: q.ValidationRegex, ValidationText: q.ValidationText,
				IsRequired: q.IsRequired, Description: q.Description, Options: q.Options,
				DependsOnQuestionID: q.DependsOnQuestionID, ShowForValues: q.ShowForValues, Key: q.Key,
			})
		}
		out = append(out, spec)
	}
	return out
}

func kinds(p *Plan) []OpKind {
	out := make([]OpKind, len(p.Ops))
	for i, op := range p.Ops {
		out[i] = op.Kind
	}
	return out
}

type EngineSuite struct {
	suite.Suite
	engine  *Engine
	current *models.ApplicationForm
}

func (s *EngineSuite) SetupTest() {
	s.engine = NewEngine()
	s.current = fixtureForm()
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}

func (s *EngineSuite) TestUnchangedPayloadOnlyUpdates() {
	plan, err := s.engine.Plan(s.current, specOf(s.current))
	s.Require().NoError(err)

	s.Equal([]OpKind{OpUpdateSection, OpUpdateQuestion, OpUpdateQuestion, OpUpdateSection, OpUpdateQuestion}, kinds(plan))
	s.Equal(Summary{SectionsUpdated: 2, QuestionsUpdated: 3}, plan.Summary())
}

func (s *EngineSuite) TestOmittedSectionIsDeletedLast() {
	desired := specOf(s.current)[:1]

	plan, err := s.engine.Plan(s.current, desired)
	s.Require().NoError(err)

	last := plan.Ops[len(plan.Ops)-1]
	s.Equal(OpDeleteSection, last.Kind)
	s.Equal(id.SectionID(20), last.SectionID)
	s.Equal(1, plan.Summary().SectionsDeleted)
}

func (s *EngineSuite) TestOmittedQuestionIsRetained() {
	desired := specOf(s.current)
	desired[0].Questions = desired[0].Questions[:1]

	plan, err := s.engine.Plan(s.current, desired)
	s.Require().NoError(err)

	for _, op := range plan.Ops {
		s.NotEqual(OpDeleteSection, op.Kind)
		if op.Kind == OpUpdateQuestion {
			s.NotEqual(id.QuestionID(101), op.Question.ID)
		}
	}
}

func (s *EngineSuite) TestNewSectionCarriesItsQuestionsAndIgnoresTheirIDs() {
	desired := specOf(s.current)
	desired = append(desired, models.SectionSpec{
		Name:                "Travel",
		Order:               3,
		DependsOnQuestionID: qid(200),
		Questions: []models.QuestionSpec{
			{ID: qid(100), Headline: "Need a visa?", Type: id.QuestionSingleChoice},
		},
	})

	plan, err := s.engine.Plan(s.current, desired)
	s.Require().NoError(err)

	var inserted *models.Section
	for _, op := range plan.Ops {
		if op.Kind == OpInsertSection {
			inserted = op.Section
		}
	}
	s.Require().NotNil(inserted)
	s.Equal("Travel", inserted.Name)
	s.Equal(qid(200), inserted.DependsOnQuestionID, "create writes depends_on")
	s.Require().Len(inserted.Questions, 1)
	s.True(inserted.Questions[0].ID.IsNil())
	s.Equal("Need a visa?", inserted.Questions[0].Headline)
}

func (s *EngineSuite) TestSectionUpdateHoldsDependsOn() {
	desired := specOf(s.current)
	desired[1].Name = "Why this event"
	desired[1].DependsOnQuestionID = qid(101)
	desired[1].ShowForValues = json.RawMessage(`["no"]`)

	plan, err := s.engine.Plan(s.current, desired)
	s.Require().NoError(err)

	var updated *models.Section
	for _, op := range plan.Ops {
		if op.Kind == OpUpdateSection && op.Section.ID == 20 {
			updated = op.Section
		}
	}
	s.Require().NotNil(updated)
	s.Equal("Why this event", updated.Name)
	s.Equal(qid(100), updated.DependsOnQuestionID)
	s.JSONEq(`["no"]`, string(updated.ShowForValues))
	s.Equal(id.QuestionID(100), *s.current.Sections[1].DependsOnQuestionID, "current aggregate is not mutated")
}

func (s *EngineSuite) TestHeldDependsOnIsNotValidated() {
	desired := specOf(s.current)
	desired[1].DependsOnQuestionID = qid(9999)

	_, err := s.engine.Plan(s.current, desired)
	s.NoError(err)
}

func (s *EngineSuite) TestQuestionUpdateOverwritesEveryField() {
	desired := specOf(s.current)
	desired[0].Questions[1].DependsOnQuestionID = nil
	desired[0].Questions[1].Headline = "Which university?"
	desired[0].Questions[1].IsRequired = true

	plan, err := s.engine.Plan(s.current, desired)
	s.Require().NoError(err)

	var q *models.Question
	for _, op := range plan.Ops {
		if op.Kind == OpUpdateQuestion && op.Question.ID == 101 {
			q = op.Question
		}
	}
	s.Require().NotNil(q)
	s.Nil(q.DependsOnQuestionID)
	s.Equal("Which university?", q.Headline)
	s.True(q.IsRequired)
	s.Equal(id.SectionID(10), q.SectionID)
}

func (s *EngineSuite) TestNewQuestionUnderExistingSection() {
	desired := specOf(s.current)
	desired[1].Questions = append(desired[1].Questions, models.QuestionSpec{
		Headline: "Anything else?", Order: 2, Type: id.QuestionLongText, DependsOnQuestionID: qid(200),
	})

	plan, err := s.engine.Plan(s.current, desired)
	s.Require().NoError(err)

	last := plan.Ops[len(plan.Ops)-1]
	s.Equal(OpInsertQuestion, last.Kind)
	s.Equal(id.SectionID(20), last.Question.SectionID)
	s.Equal(id.FormID(1), last.Question.FormID)
}

func (s *EngineSuite) TestUnknownSectionID() {
	desired := specOf(s.current)
	desired[0].ID = sid(77)

	_, err := s.engine.Plan(s.current, desired)
	s.Require().Error(err)
	s.ErrorIs(err, models.ErrSectionNotFound(""))
}

func (s *EngineSuite) TestQuestionIDFromAnotherSection() {
	desired := specOf(s.current)
	desired[0].Questions = desired[0].Questions[1:]
	desired[1].Questions[0].ID = qid(100)

	_, err := s.engine.Plan(s.current, desired)
	s.Require().Error(err)
	s.ErrorIs(err, models.ErrQuestionNotFound(""))
}

func (s *EngineSuite) TestDependencyOnMissingQuestion() {
	desired := specOf(s.current)
	desired[0].Questions[1].DependsOnQuestionID = qid(555)

	_, err := s.engine.Plan(s.current, desired)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *EngineSuite) TestDependencyOnQuestionOfDeletedSection() {
	desired := specOf(s.current)[1:]
	desired[0].Questions[0].DependsOnQuestionID = qid(100)

	_, err := s.engine.Plan(s.current, desired)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *EngineSuite) TestDependencyCycle() {
	desired := specOf(s.current)
	desired[0].Questions[0].DependsOnQuestionID = qid(101)

	_, err := s.engine.Plan(s.current, desired)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	s.Contains(err.Error(), "cycle")
}

func (s *EngineSuite) TestSelfDependency() {
	desired := specOf(s.current)
	desired[1].Questions[0].DependsOnQuestionID = qid(200)

	_, err := s.engine.Plan(s.current, desired)
	s.Require().Error(err)
	s.Contains(err.Error(), "cycle")
}

func (s *EngineSuite) TestCustomPolicyValidatesSectionDependsOn() {
	policy := DefaultPolicy()
	policy[EntitySection][FieldDependsOn] = Overwrite
	engine := NewEngine(WithPolicy(policy))

	desired := specOf(s.current)
	desired[1].DependsOnQuestionID = qid(9999)
	_, err := engine.Plan(s.current, desired)
	s.Require().Error(err)

	desired[1].DependsOnQuestionID = qid(101)
	plan, err := engine.Plan(s.current, desired)
	s.Require().NoError(err)
	s.Equal(qid(101), plan.Ops[3].Section.DependsOnQuestionID)
}

func TestPlanCreate(t *testing.T) {
	engine := NewEngine()

	t.Run("treats every node as new", func(t *testing.T) {
		plan, err := engine.PlanCreate(5, []models.SectionSpec{
			{ID: sid(1), Name: "A", Questions: []models.QuestionSpec{{ID: qid(1), Headline: "Q", Type: id.QuestionShortTextLegacy}}},
			{Name: "B"},
		})
		require.NoError(t, err)
		assert.Equal(t, []OpKind{OpInsertSection, OpInsertSection}, kinds(plan))
		assert.Equal(t, id.FormID(5), plan.FormID)
		assert.Equal(t, "A", plan.Ops[0].Section.Name)
		assert.Equal(t, Summary{SectionsInserted: 2, QuestionsInserted: 1}, plan.Summary())
	})

	t.Run("rejects dependencies since nothing exists yet", func(t *testing.T) {
		_, err := engine.PlanCreate(5, []models.SectionSpec{{Name: "A", DependsOnQuestionID: qid(1)}})
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})

	t.Run("rejects malformed payload before planning", func(t *testing.T) {
		_, err := engine.PlanCreate(5, []models.SectionSpec{{Name: "A", Questions: []models.QuestionSpec{{Headline: "Q", Type: "slider"}}}})
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func TestOpKindString(t *testing.T) {
	assert.Equal(t, "insert_section", OpInsertSection.String())
	assert.Equal(t, "delete_section", OpDeleteSection.String())
	assert.Equal(t, "unknown", OpKind(42).String())
}
