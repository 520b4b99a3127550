package domain

import (
	dErrors "baobab/pkg/domain-errors"
)

// QuestionType is the kind of input a form question renders as.
type QuestionType string

const (
	QuestionShortText              QuestionType = "short-text"
	QuestionLongText               QuestionType = "long-text"
	QuestionSingleChoice           QuestionType = "single-choice"
	QuestionSingleChoiceWithOther  QuestionType = "single-choice-with-other"
	QuestionMultiChoice            QuestionType = "multi-choice"
	QuestionMultiCheckbox          QuestionType = "multi-checkbox"
	QuestionMultiCheckboxWithOther QuestionType = "multi-checkbox-with-other"
	QuestionFile                   QuestionType = "file"
	QuestionMultiFile              QuestionType = "multi-file"
	QuestionDate                   QuestionType = "date"
	QuestionEmail                  QuestionType = "email"
	QuestionInformation            QuestionType = "information"
	QuestionReference              QuestionType = "reference"
	QuestionMarkdown               QuestionType = "markdown"

	// Legacy spellings still present in stored forms.
	QuestionShortTextLegacy QuestionType = "short_text"
	QuestionLongTextLegacy  QuestionType = "long_text"
)

var validQuestionTypes = map[QuestionType]struct{}{
	QuestionShortText:              {},
	QuestionLongText:               {},
	QuestionSingleChoice:           {},
	QuestionSingleChoiceWithOther:  {},
	QuestionMultiChoice:            {},
	QuestionMultiCheckbox:          {},
	QuestionMultiCheckboxWithOther: {},
	QuestionFile:                   {},
	QuestionMultiFile:              {},
	QuestionDate:                   {},
	QuestionEmail:                  {},
	QuestionInformation:            {},
	QuestionReference:              {},
	QuestionMarkdown:               {},
	QuestionShortTextLegacy:        {},
	QuestionLongTextLegacy:         {},
}

// ParseQuestionType validates s and returns it verbatim; legacy spellings are
// not normalized so stored values round-trip unchanged.
func ParseQuestionType(s string) (QuestionType, error) {
	t := QuestionType(s)
	if !t.IsValid() {
		return "", dErrors.New(dErrors.CodeValidation, "unknown question type: "+s)
	}
	return t, nil
}

func (t QuestionType) IsValid() bool {
	_, ok := validQuestionTypes[t]
	return ok
}

func (t QuestionType) String() string {
	return string(t)
}
