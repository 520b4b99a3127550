package models

import (
	"encoding/json"
	"sort"
	"time"

	id "baobab/pkg/domain"
)

// ApplicationForm is the aggregate root describing an event's application
// questionnaire.
//
// Invariants:
//   - Exactly one form per event (enforced at creation)
//   - IsOpen gates the candidate read path only; administrative writes ignore it
//   - Version increases by one on every successful reconcile
//   - Sections are owned by the form, questions by their section
type ApplicationForm struct {
	ID          id.FormID
	EventID     id.EventID
	IsOpen      bool
	Deadline    *time.Time
	Nominations bool
	Version     int64
	Sections    []*Section
}

// Section is an ordered grouping of questions, optionally shown only when
// another question's answer is among ShowForValues.
type Section struct {
	ID                  id.SectionID
	FormID              id.FormID
	Name                string
	Description         string
	Order               int
	DependsOnQuestionID *id.QuestionID
	ShowForValues       json.RawMessage
	Key                 *string
	Questions           []*Question
}

// Question is a single form field.
type Question struct {
	ID                  id.QuestionID
	FormID              id.FormID
	SectionID           id.SectionID
	Headline            string
	Placeholder         string
	Order               int
	Type                id.QuestionType
	ValidationRegex     *string
	ValidationText      *string
	IsRequired          bool
	Description         string
	Options             json.RawMessage
	DependsOnQuestionID *id.QuestionID
	ShowForValues       json.RawMessage
	Key                 *string
}

// Event is the slice of an event this module reads from the event directory.
type Event struct {
	ID               id.EventID
	Name             string
	ApplicationClose *time.Time
}

// QuestionCount returns the number of questions across all sections.
func (f *ApplicationForm) QuestionCount() int {
	n := 0
	for _, s := range f.Sections {
		n += len(s.Questions)
	}
	return n
}

// SortChildren orders sections and each section's questions by (order, id).
func (f *ApplicationForm) SortChildren() {
	sort.SliceStable(f.Sections, func(i, j int) bool {
		a, b := f.Sections[i], f.Sections[j]
		if a.Order != b.Order {
			return a.Order < b.Order
		}
		return a.ID < b.ID
	})
	for _, s := range f.Sections {
		sort.SliceStable(s.Questions, func(i, j int) bool {
			a, b := s.Questions[i], s.Questions[j]
			if a.Order != b.Order {
				return a.Order < b.Order
			}
			return a.ID < b.ID
		})
	}
}

// Clone returns a deep copy of the aggregate.
func (f *ApplicationForm) Clone() *ApplicationForm {
	if f == nil {
		return nil
	}
	cp := *f
	cp.Deadline = clonePtr(f.Deadline)
	cp.Sections = make([]*Section, len(f.Sections))
	for i, s := range f.Sections {
		cp.Sections[i] = s.Clone()
	}
	return &cp
}

// Clone returns a deep copy of the section and its questions.
func (s *Section) Clone() *Section {
	if s == nil {
		return nil
	}
	cp := *s
	cp.DependsOnQuestionID = clonePtr(s.DependsOnQuestionID)
	cp.ShowForValues = cloneRaw(s.ShowForValues)
	cp.Key = clonePtr(s.Key)
	cp.Questions = make([]*Question, len(s.Questions))
	for i, q := range s.Questions {
		cp.Questions[i] = q.Clone()
	}
	return &cp
}

// Clone returns a deep copy of the question.
func (q *Question) Clone() *Question {
	if q == nil {
		return nil
	}
	cp := *q
	cp.ValidationRegex = clonePtr(q.ValidationRegex)
	cp.ValidationText = clonePtr(q.ValidationText)
	cp.Options = cloneRaw(q.Options)
	cp.DependsOnQuestionID = clonePtr(q.DependsOnQuestionID)
	cp.ShowForValues = cloneRaw(q.ShowForValues)
	cp.Key = clonePtr(q.Key)
	return &cp
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneRaw(r json.RawMessage) json.RawMessage {
	if r == nil {
		return nil
	}
	return append(json.RawMessage(nil), r...)
}
