package reconcile

import (
	"baobab/internal/applicationform/models"
	id "baobab/pkg/domain"
)

// Index resolves desired nodes to persisted ones by identifier. Sections are
// matched form-wide; questions only within their own section, so a question
// id submitted under the wrong section does not resolve.
type Index struct {
	sections  map[id.SectionID]*models.Section
	questions map[id.SectionID]map[id.QuestionID]*models.Question
}

// NewIndex builds the lookup maps once for a reconcile call.
func NewIndex(form *models.ApplicationForm) *Index {
	ix := &Index{
		sections:  make(map[id.SectionID]*models.Section),
		questions: make(map[id.SectionID]map[id.QuestionID]*models.Question),
	}
	if form == nil {
		return ix
	}
	for _, s := range form.Sections {
		ix.sections[s.ID] = s
		qs := make(map[id.QuestionID]*models.Question, len(s.Questions))
		for _, q := range s.Questions {
			qs[q.ID] = q
		}
		ix.questions[s.ID] = qs
	}
	return ix
}

// Section returns the persisted section with sectionID.
func (ix *Index) Section(sectionID id.SectionID) (*models.Section, bool) {
	s, ok := ix.sections[sectionID]
	return s, ok
}

// Question returns the persisted question with questionID inside sectionID.
func (ix *Index) Question(sectionID id.SectionID, questionID id.QuestionID) (*models.Question, bool) {
	q, ok := ix.questions[sectionID][questionID]
	return q, ok
}
