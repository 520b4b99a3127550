package reconcile

import (
	"baobab/internal/applicationform/models"
	id "baobab/pkg/domain"
)

// Entity names a node type in the form tree.
type Entity string

const (
	EntitySection  Entity = "section"
	EntityQuestion Entity = "question"
)

// Field names a mutable attribute of a section or question.
type Field string

const (
	FieldName            Field = "name"
	FieldHeadline        Field = "headline"
	FieldPlaceholder     Field = "placeholder"
	FieldDescription     Field = "description"
	FieldOrder           Field = "order"
	FieldType            Field = "type"
	FieldValidationRegex Field = "validation_regex"
	FieldValidationText  Field = "validation_text"
	FieldIsRequired      Field = "is_required"
	FieldOptions         Field = "options"
	FieldDependsOn       Field = "depends_on_question_id"
	FieldShowForValues   Field = "show_for_values"
	FieldKey             Field = "key"
)

// Rule says what an update does with a field.
type Rule int

const (
	// Overwrite replaces the stored value on every update.
	Overwrite Rule = iota
	// CreateOnly is written when the row is created and held on update.
	CreateOnly
)

func (r Rule) String() string {
	if r == CreateOnly {
		return "create_only"
	}
	return "overwrite"
}

// Policy is the per-entity field table consulted on update. Fields absent
// from the table are overwritten.
type Policy map[Entity]map[Field]Rule

// DefaultPolicy holds a section's conditional-display target fixed once the
// section exists; show_for_values is still overwritten. Questions have no
// held fields.
func DefaultPolicy() Policy {
	return Policy{
		EntitySection: {
			FieldName:          Overwrite,
			FieldDescription:   Overwrite,
			FieldOrder:         Overwrite,
			FieldDependsOn:     CreateOnly,
			FieldShowForValues: Overwrite,
			FieldKey:           Overwrite,
		},
		EntityQuestion: {},
	}
}

// Rule returns the update rule for field on entity.
func (p Policy) Rule(e Entity, f Field) Rule {
	if rules, ok := p[e]; ok {
		if r, ok := rules[f]; ok {
			return r
		}
	}
	return Overwrite
}

type sectionSetter struct {
	field Field
	set   func(dst *models.Section, spec models.SectionSpec)
}

type questionSetter struct {
	field Field
	set   func(dst *models.Question, spec models.QuestionSpec)
}

var sectionSetters = []sectionSetter{
	{FieldName, func(d *models.Section, s models.SectionSpec) { d.Name = s.Name }},
	{FieldDescription, func(d *models.Section, s models.SectionSpec) { d.Description = s.Description }},
	{FieldOrder, func(d *models.Section, s models.SectionSpec) { d.Order = s.Order }},
	{FieldDependsOn, func(d *models.Section, s models.SectionSpec) { d.DependsOnQuestionID = s.DependsOnQuestionID }},
	{FieldShowForValues, func(d *models.Section, s models.SectionSpec) { d.ShowForValues = s.ShowForValues }},
	{FieldKey, func(d *models.Section, s models.SectionSpec) { d.Key = s.Key }},
}

var questionSetters = []questionSetter{
	{FieldHeadline, func(d *models.Question, s models.QuestionSpec) { d.Headline = s.Headline }},
	{FieldPlaceholder, func(d *models.Question, s models.QuestionSpec) { d.Placeholder = s.Placeholder }},
	{FieldOrder, func(d *models.Question, s models.QuestionSpec) { d.Order = s.Order }},
	{FieldType, func(d *models.Question, s models.QuestionSpec) { d.Type = s.Type }},
	{FieldValidationRegex, func(d *models.Question, s models.QuestionSpec) { d.ValidationRegex = s.ValidationRegex }},
	{FieldValidationText, func(d *models.Question, s models.QuestionSpec) { d.ValidationText = s.ValidationText }},
	{FieldIsRequired, func(d *models.Question, s models.QuestionSpec) { d.IsRequired = s.IsRequired }},
	{FieldDescription, func(d *models.Question, s models.QuestionSpec) { d.Description = s.Description }},
	{FieldOptions, func(d *models.Question, s models.QuestionSpec) { d.Options = s.Options }},
	{FieldDependsOn, func(d *models.Question, s models.QuestionSpec) { d.DependsOnQuestionID = s.DependsOnQuestionID }},
	{FieldShowForValues, func(d *models.Question, s models.QuestionSpec) { d.ShowForValues = s.ShowForValues }},
	{FieldKey, func(d *models.Question, s models.QuestionSpec) { d.Key = s.Key }},
}

// ApplySection writes spec onto an existing section, skipping held fields.
func (p Policy) ApplySection(dst *models.Section, spec models.SectionSpec) {
	for _, s := range sectionSetters {
		if p.Rule(EntitySection, s.field) == Overwrite {
			s.set(dst, spec)
		}
	}
}

// ApplyQuestion writes spec onto an existing question, skipping held fields.
func (p Policy) ApplyQuestion(dst *models.Question, spec models.QuestionSpec) {
	for _, s := range questionSetters {
		if p.Rule(EntityQuestion, s.field) == Overwrite {
			s.set(dst, spec)
		}
	}
}

// NewSection builds a section row from spec with every field set, including
// create-only ones.
func NewSection(formID id.FormID, spec models.SectionSpec) *models.Section {
	dst := &models.Section{FormID: formID}
	for _, s := range sectionSetters {
		s.set(dst, spec)
	}
	return dst
}

// NewQuestion builds a question row from spec with every field set.
func NewQuestion(formID id.FormID, sectionID id.SectionID, spec models.QuestionSpec) *models.Question {
	dst := &models.Question{FormID: formID, SectionID: sectionID}
	for _, s := range questionSetters {
		s.set(dst, spec)
	}
	return dst
}
