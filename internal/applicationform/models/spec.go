package models

import (
	"encoding/json"
	"fmt"
	"strings"

	id "baobab/pkg/domain"
	dErrors "baobab/pkg/domain-errors"
)

// NodeKind tags a desired-state node as new or as a reference to a persisted row.
type NodeKind int

const (
	NodeNew NodeKind = iota
	NodeExisting
)

// MaxValidationRegexLen caps validation_regex. The pattern is stored verbatim
// and evaluated by the browser's RegExp engine, so its syntax is not checked
// here.
const MaxValidationRegexLen = 1024

// SectionSpec is one section of a caller-submitted desired-state tree.
// A nil ID denotes "create new".
type SectionSpec struct {
	ID                  *id.SectionID
	Name                string
	Description         string
	Order               int
	DependsOnQuestionID *id.QuestionID
	ShowForValues       json.RawMessage
	Key                 *string
	Questions           []QuestionSpec
}

// QuestionSpec is one question of a desired-state tree. A nil ID denotes
// "create new".
type QuestionSpec struct {
	ID                  *id.QuestionID
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

func (s SectionSpec) Kind() NodeKind {
	if s.ID == nil {
		return NodeNew
	}
	return NodeExisting
}

func (q QuestionSpec) Kind() NodeKind {
	if q.ID == nil {
		return NodeNew
	}
	return NodeExisting
}

// CreateFormRequest is the input to creating an event's form.
type CreateFormRequest struct {
	EventID     id.EventID
	IsOpen      bool
	Nominations bool
	Sections    []SectionSpec
}

// ReconcileFormRequest is the input to reconciling a form onto a desired tree.
// Version, when set, must equal the stored version.
type ReconcileFormRequest struct {
	FormID      id.FormID
	EventID     id.EventID
	IsOpen      bool
	Nominations bool
	Version     *int64
	Sections    []SectionSpec
}

// ValidateSections checks the field-level rules of a desired tree: required
// names and headlines, known question types, compilable regexes, well-formed
// JSON values, and no id repeated within the payload. Reference checks
// against persisted state happen in the reconcile planner.
func ValidateSections(sections []SectionSpec) error {
	seenSections := make(map[id.SectionID]struct{}, len(sections))
	seenQuestions := make(map[id.QuestionID]struct{})
	for i, s := range sections {
		path := fmt.Sprintf("sections[%d]", i)
		if s.ID != nil {
			if s.ID.IsNil() {
				return validationf("%s.id must be positive", path)
			}
			if _, dup := seenSections[*s.ID]; dup {
				return validationf("%s.id %d appears more than once", path, *s.ID)
			}
			seenSections[*s.ID] = struct{}{}
		}
		if strings.TrimSpace(s.Name) == "" {
			return validationf("%s.name is required", path)
		}
		if s.Order < 0 {
			return validationf("%s.order must not be negative", path)
		}
		if err := validateRaw(path+".show_for_values", s.ShowForValues); err != nil {
			return err
		}
		for j, q := range s.Questions {
			qpath := fmt.Sprintf("%s.questions[%d]", path, j)
			if q.ID != nil && s.ID != nil {
				if q.ID.IsNil() {
					return validationf("%s.id must be positive", qpath)
				}
				if _, dup := seenQuestions[*q.ID]; dup {
					return validationf("%s.id %d appears more than once", qpath, *q.ID)
				}
				seenQuestions[*q.ID] = struct{}{}
			}
			if err := q.validate(qpath); err != nil {
				return err
			}
		}
	}
	return nil
}

func (q QuestionSpec) validate(path string) error {
	if strings.TrimSpace(q.Headline) == "" {
		return validationf("%s.headline is required", path)
	}
	if q.Order < 0 {
		return validationf("%s.order must not be negative", path)
	}
	if !q.Type.IsValid() {
		return validationf("%s.type %q is not a known question type", path, q.Type)
	}
	if q.ValidationRegex != nil && len(*q.ValidationRegex) > MaxValidationRegexLen {
		return validationf("%s.validation_regex must be at most %d bytes", path, MaxValidationRegexLen)
	}
	if err := validateRaw(path+".options", q.Options); err != nil {
		return err
	}
	return validateRaw(path+".show_for_values", q.ShowForValues)
}

func validateRaw(path string, raw json.RawMessage) error {
	if len(raw) == 0 {
		return nil
	}
	if !json.Valid(raw) {
		return validationf("%s is not valid JSON", path)
	}
	return nil
}

func validationf(format string, args ...any) error {
	return dErrors.New(dErrors.CodeValidation, fmt.Sprintf(format, args...))
}
