package domain

import (
	"strconv"
	"strings"

	dErrors "baobab/pkg/domain-errors"
)

// Typed identifiers. All are store-assigned positive serials; the distinct
// types stop a section id from being passed where a question id is expected.
type (
	UserID     int64
	EventID    int64
	FormID     int64
	SectionID  int64
	QuestionID int64
)

// maxIDDigits bounds input length before parsing; int64 has 19 digits.
const maxIDDigits = 19

func parseID(kind, s string) (int64, error) {
	if s == "" {
		return 0, dErrors.New(dErrors.CodeInvalidInput, kind+" is required")
	}
	if len(s) > maxIDDigits || strings.TrimSpace(s) != s {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "invalid "+kind)
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "invalid "+kind)
	}
	if v <= 0 {
		return 0, dErrors.New(dErrors.CodeInvalidInput, kind+" must be positive")
	}
	return v, nil
}

func ParseUserID(s string) (UserID, error) {
	v, err := parseID("user_id", s)
	return UserID(v), err
}

func ParseEventID(s string) (EventID, error) {
	v, err := parseID("event_id", s)
	return EventID(v), err
}

func ParseFormID(s string) (FormID, error) {
	v, err := parseID("form_id", s)
	return FormID(v), err
}

func ParseSectionID(s string) (SectionID, error) {
	v, err := parseID("section_id", s)
	return SectionID(v), err
}

func ParseQuestionID(s string) (QuestionID, error) {
	v, err := parseID("question_id", s)
	return QuestionID(v), err
}

func (id UserID) IsNil() bool     { return id <= 0 }
func (id EventID) IsNil() bool    { return id <= 0 }
func (id FormID) IsNil() bool     { return id <= 0 }
func (id SectionID) IsNil() bool  { return id <= 0 }
func (id QuestionID) IsNil() bool { return id <= 0 }

func (id UserID) String() string     { return strconv.FormatInt(int64(id), 10) }
func (id EventID) String() string    { return strconv.FormatInt(int64(id), 10) }
func (id FormID) String() string     { return strconv.FormatInt(int64(id), 10) }
func (id SectionID) String() string  { return strconv.FormatInt(int64(id), 10) }
func (id QuestionID) String() string { return strconv.FormatInt(int64(id), 10) }
