// Package reconcile merges a desired section/question tree onto a persisted
// application form.
//
// Planning is pure: Engine.Plan validates the whole payload against the
// current aggregate and returns an ordered list of operations, or an error
// before anything is written. Apply then executes the plan through a
// Mutator, normally a transaction-scoped store.
//
// Merge rules:
//   - a section with an id must exist in the form; it is updated per Policy
//     and its questions are merged
//   - a section without an id is inserted together with all of its
//     questions, whatever ids those questions carry
//   - a question with an id must exist in its section and is updated per Policy
//   - a question without an id is inserted under its section
//   - persisted questions absent from their section's payload are kept as-is
//   - persisted sections absent from the payload are deleted with their questions
package reconcile

import (
	"fmt"

	"baobab/internal/applicationform/models"
	id "baobab/pkg/domain"
)

// OpKind is the kind of a single planned mutation.
type OpKind int

const (
	OpUpdateSection OpKind = iota
	OpInsertSection
	OpUpdateQuestion
	OpInsertQuestion
	OpDeleteSection
)

func (k OpKind) String() string {
	switch k {
	case OpUpdateSection:
		return "update_section"
	case OpInsertSection:
		return "insert_section"
	case OpUpdateQuestion:
		return "update_question"
	case OpInsertQuestion:
		return "insert_question"
	case OpDeleteSection:
		return "delete_section"
	default:
		return "unknown"
	}
}

// Op is one planned mutation. Section is set for section updates and inserts
// (inserted sections carry their new questions); Question for question
// updates and inserts; SectionID for deletes.
type Op struct {
	Kind      OpKind
	Section   *models.Section
	Question  *models.Question
	SectionID id.SectionID
}

// Plan is the ordered set of mutations for one reconcile call. Inserts keep
// submission order so fresh ids are assigned in that order; deletes come last.
type Plan struct {
	FormID id.FormID
	Ops    []Op
}

// Summary counts planned mutations by kind.
type Summary struct {
	SectionsInserted  int
	SectionsUpdated   int
	SectionsDeleted   int
	QuestionsInserted int
	QuestionsUpdated  int
}

func (p *Plan) Summary() Summary {
	var s Summary
	for _, op := range p.Ops {
		switch op.Kind {
		case OpUpdateSection:
			s.SectionsUpdated++
		case OpInsertSection:
			s.SectionsInserted++
			s.QuestionsInserted += len(op.Section.Questions)
		case OpUpdateQuestion:
			s.QuestionsUpdated++
		case OpInsertQuestion:
			s.QuestionsInserted++
		case OpDeleteSection:
			s.SectionsDeleted++
		}
	}
	return s
}

// Engine plans reconciliations under a field Policy.
type Engine struct {
	policy Policy
}

type Option func(*Engine)

// WithPolicy replaces the default field policy.
func WithPolicy(p Policy) Option {
	return func(e *Engine) {
		e.policy = p
	}
}

func NewEngine(opts ...Option) *Engine {
	e := &Engine{policy: DefaultPolicy()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Policy returns the engine's field policy.
func (e *Engine) Policy() Policy {
	return e.policy
}

// PlanCreate plans the initial population of a new, empty form. Every node
// is treated as new; ids in the payload are ignored.
func (e *Engine) PlanCreate(formID id.FormID, desired []models.SectionSpec) (*Plan, error) {
	fresh := make([]models.SectionSpec, len(desired))
	for i, s := range desired {
		s.ID = nil
		fresh[i] = s
	}
	return e.Plan(&models.ApplicationForm{ID: formID}, fresh)
}

// Plan validates desired against current and returns the mutations that turn
// one into the other. No error means Apply can run the plan to completion
// barring store failures.
func (e *Engine) Plan(current *models.ApplicationForm, desired []models.SectionSpec) (*Plan, error) {
	if err := models.ValidateSections(desired); err != nil {
		return nil, err
	}

	ix := NewIndex(current)
	plan := &Plan{FormID: current.ID}
	kept := make(map[id.SectionID]struct{}, len(desired))

	for i, spec := range desired {
		switch spec.Kind() {
		case models.NodeExisting:
			cur, ok := ix.Section(*spec.ID)
			if !ok {
				return nil, models.ErrSectionNotFound(fmt.Sprintf("sections[%d]: section %d not found in form %d", i, *spec.ID, current.ID))
			}
			kept[cur.ID] = struct{}{}

			updated := cur.Clone()
			updated.Questions = nil
			e.policy.ApplySection(updated, spec)
			plan.Ops = append(plan.Ops, Op{Kind: OpUpdateSection, Section: updated})

			if err := e.planQuestions(plan, ix, cur, spec.Questions, i); err != nil {
				return nil, err
			}

		case models.NodeNew:
			section := NewSection(current.ID, spec)
			for _, q := range spec.Questions {
				q.ID = nil
				section.Questions = append(section.Questions, NewQuestion(current.ID, 0, q))
			}
			plan.Ops = append(plan.Ops, Op{Kind: OpInsertSection, Section: section})
		}
	}

	for _, cur := range current.Sections {
		if _, ok := kept[cur.ID]; !ok {
			plan.Ops = append(plan.Ops, Op{Kind: OpDeleteSection, SectionID: cur.ID})
		}
	}

	if err := e.checkDependencies(current, plan); err != nil {
		return nil, err
	}
	return plan, nil
}

func (e *Engine) planQuestions(plan *Plan, ix *Index, section *models.Section, specs []models.QuestionSpec, sectionIdx int) error {
	for j, spec := range specs {
		switch spec.Kind() {
		case models.NodeExisting:
			cur, ok := ix.Question(section.ID, *spec.ID)
			if !ok {
				return models.ErrQuestionNotFound(fmt.Sprintf("sections[%d].questions[%d]: question %d not found in section %d", sectionIdx, j, *spec.ID, section.ID))
			}
			updated := cur.Clone()
			e.policy.ApplyQuestion(updated, spec)
			plan.Ops = append(plan.Ops, Op{Kind: OpUpdateQuestion, Question: updated})
		case models.NodeNew:
			plan.Ops = append(plan.Ops, Op{Kind: OpInsertQuestion, Question: NewQuestion(plan.FormID, section.ID, spec)})
		}
	}
	return nil
}
