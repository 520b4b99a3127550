package reconcile

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"baobab/internal/applicationform/models"
	id "baobab/pkg/domain"
)

func TestDefaultPolicyTable(t *testing.T) {
	p := DefaultPolicy()

	assert.Equal(t, CreateOnly, p.Rule(EntitySection, FieldDependsOn))
	for _, f := range []Field{FieldName, FieldDescription, FieldOrder, FieldShowForValues, FieldKey} {
		assert.Equal(t, Overwrite, p.Rule(EntitySection, f), "section %s", f)
	}
	for _, s := range questionSetters {
		assert.Equal(t, Overwrite, p.Rule(EntityQuestion, s.field), "question %s", s.field)
	}
	assert.Equal(t, Overwrite, Policy{}.Rule(EntityQuestion, FieldType))
	assert.Equal(t, "create_only", CreateOnly.String())
}

func TestApplySectionSkipsHeldFields(t *testing.T) {
	key := "motivation"
	dst := &models.Section{ID: 4, Name: "old", DependsOnQuestionID: qid(1)}

	DefaultPolicy().ApplySection(dst, models.SectionSpec{
		Name:                "new",
		Order:               9,
		DependsOnQuestionID: qid(2),
		ShowForValues:       json.RawMessage(`[true]`),
		Key:                 &key,
	})

	assert.Equal(t, "new", dst.Name)
	assert.Equal(t, 9, dst.Order)
	assert.Equal(t, id.QuestionID(1), *dst.DependsOnQuestionID)
	assert.Equal(t, &key, dst.Key)
	assert.Equal(t, id.SectionID(4), dst.ID)
}

func TestNewSectionWritesCreateOnlyFields(t *testing.T) {
	s := NewSection(3, models.SectionSpec{Name: "n", DependsOnQuestionID: qid(2)})

	assert.Equal(t, id.FormID(3), s.FormID)
	assert.Equal(t, id.QuestionID(2), *s.DependsOnQuestionID)
}

func TestApplyQuestionClearsNilFields(t *testing.T) {
	regex := `\d+`
	key := "dob"
	dst := &models.Question{
		ID:                  8,
		SectionID:           2,
		ValidationRegex:     &regex,
		DependsOnQuestionID: qid(3),
		ShowForValues:       json.RawMessage(`["yes"]`),
		Key:                 &key,
	}

	DefaultPolicy().ApplyQuestion(dst, models.QuestionSpec{Headline: "h", Type: id.QuestionDate})

	assert.Nil(t, dst.ValidationRegex)
	assert.Nil(t, dst.DependsOnQuestionID)
	assert.Nil(t, dst.ShowForValues)
	assert.Nil(t, dst.Key)
	assert.Equal(t, id.QuestionDate, dst.Type)
	assert.Equal(t, id.SectionID(2), dst.SectionID)
}

func TestIndexScopesQuestionsToSection(t *testing.T) {
	ix := NewIndex(fixtureForm())

	_, ok := ix.Section(20)
	assert.True(t, ok)
	_, ok = ix.Question(10, 100)
	assert.True(t, ok)
	_, ok = ix.Question(20, 100)
	assert.False(t, ok)

	empty := NewIndex(nil)
	_, ok = empty.Section(10)
	assert.False(t, ok)
}
