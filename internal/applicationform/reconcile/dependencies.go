package reconcile

import (
	"fmt"

	"baobab/internal/applicationform/models"
	id "baobab/pkg/domain"
	dErrors "baobab/pkg/domain-errors"
)

// checkDependencies validates every conditional-display link the plan writes.
// A link must target a question that still exists in this form once the plan
// is applied, and the question-to-question links must stay acyclic.
//
// Questions created by the plan have no id yet and so can never be targets.
// Links left on untouched rows that point into deleted sections are cleared
// by the store (ON DELETE SET NULL) and are treated here as already cleared.
func (e *Engine) checkDependencies(current *models.ApplicationForm, plan *Plan) error {
	deleted := make(map[id.SectionID]struct{})
	for _, op := range plan.Ops {
		if op.Kind == OpDeleteSection {
			deleted[op.SectionID] = struct{}{}
		}
	}

	// Post-merge link of every surviving persisted question.
	links := make(map[id.QuestionID]*id.QuestionID)
	for _, s := range current.Sections {
		if _, gone := deleted[s.ID]; gone {
			continue
		}
		for _, q := range s.Questions {
			links[q.ID] = q.DependsOnQuestionID
		}
	}
	for _, op := range plan.Ops {
		if op.Kind == OpUpdateQuestion {
			links[op.Question.ID] = op.Question.DependsOnQuestionID
		}
	}

	target := func(what string, dep *id.QuestionID) error {
		if dep == nil {
			return nil
		}
		if _, ok := links[*dep]; !ok {
			return dErrors.New(dErrors.CodeValidation,
				fmt.Sprintf("%s depends on question %d, which is not part of form %d", what, *dep, current.ID))
		}
		return nil
	}

	checkSectionLink := e.policy.Rule(EntitySection, FieldDependsOn) == Overwrite
	for _, op := range plan.Ops {
		switch op.Kind {
		case OpInsertSection:
			if err := target(fmt.Sprintf("new section %q", op.Section.Name), op.Section.DependsOnQuestionID); err != nil {
				return err
			}
			for _, q := range op.Section.Questions {
				if err := target(fmt.Sprintf("new question %q", q.Headline), q.DependsOnQuestionID); err != nil {
					return err
				}
			}
		case OpUpdateSection:
			if checkSectionLink {
				if err := target(fmt.Sprintf("section %d", op.Section.ID), op.Section.DependsOnQuestionID); err != nil {
					return err
				}
			}
		case OpUpdateQuestion:
			if err := target(fmt.Sprintf("question %d", op.Question.ID), op.Question.DependsOnQuestionID); err != nil {
				return err
			}
		case OpInsertQuestion:
			if err := target(fmt.Sprintf("new question %q", op.Question.Headline), op.Question.DependsOnQuestionID); err != nil {
				return err
			}
		}
	}

	return checkAcyclic(links)
}

// checkAcyclic walks each question's link chain. Every node has at most one
// outgoing link, so a chain either ends or revisits a node on the same walk.
func checkAcyclic(links map[id.QuestionID]*id.QuestionID) error {
	const (
		unvisited = iota
		onPath
		done
	)
	state := make(map[id.QuestionID]int, len(links))
	for start := range links {
		if state[start] == done {
			continue
		}
		var path []id.QuestionID
		cur := start
		for {
			st := state[cur]
			if st == done {
				break
			}
			if st == onPath {
				return dErrors.New(dErrors.CodeValidation,
					fmt.Sprintf("question %d is part of a conditional-display cycle", cur))
			}
			state[cur] = onPath
			path = append(path, cur)
			next, ok := links[cur]
			if !ok || next == nil {
				break
			}
			if _, exists := links[*next]; !exists {
				break
			}
			cur = *next
		}
		for _, q := range path {
			state[q] = done
		}
	}
	return nil
}
