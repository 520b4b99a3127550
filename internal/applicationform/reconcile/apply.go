package reconcile

import (
	"context"
	"fmt"

	"baobab/internal/applicationform/models"
	id "baobab/pkg/domain"
)

// Mutator is the write side of a transaction-scoped form store. Create
// methods assign the new row's id onto the passed model.
type Mutator interface {
	CreateSection(ctx context.Context, section *models.Section) error
	UpdateSection(ctx context.Context, section *models.Section) error
	DeleteSection(ctx context.Context, formID id.FormID, sectionID id.SectionID) error
	CreateQuestion(ctx context.Context, question *models.Question) error
	UpdateQuestion(ctx context.Context, question *models.Question) error
}

// Apply executes plan in order. It stops at the first failure and leaves
// undoing partial work to the enclosing transaction.
func Apply(ctx context.Context, m Mutator, plan *Plan) error {
	for i, op := range plan.Ops {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := applyOp(ctx, m, plan.FormID, op); err != nil {
			return fmt.Errorf("apply op %d (%s): %w", i, op.Kind, err)
		}
	}
	return nil
}

func applyOp(ctx context.Context, m Mutator, formID id.FormID, op Op) error {
	switch op.Kind {
	case OpUpdateSection:
		return m.UpdateSection(ctx, op.Section)
	case OpInsertSection:
		op.Section.FormID = formID
		if err := m.CreateSection(ctx, op.Section); err != nil {
			return err
		}
		for _, q := range op.Section.Questions {
			q.FormID = formID
			q.SectionID = op.Section.ID
			if err := m.CreateQuestion(ctx, q); err != nil {
				return err
			}
		}
		return nil
	case OpUpdateQuestion:
		return m.UpdateQuestion(ctx, op.Question)
	case OpInsertQuestion:
		op.Question.FormID = formID
		return m.CreateQuestion(ctx, op.Question)
	case OpDeleteSection:
		return m.DeleteSection(ctx, formID, op.SectionID)
	default:
		return fmt.Errorf("unknown op kind %d", op.Kind)
	}
}
