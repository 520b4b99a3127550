package models

import (
	dErrors "baobab/pkg/domain-errors"
)

// Reasons returned alongside the coarse error code. Callers key off these.
const (
	ReasonEventNotFound         = "event_not_found"
	ReasonFormNotFound          = "form_not_found"
	ReasonFormNotFoundByID      = "form_not_found_by_id"
	ReasonSectionNotFound       = "section_not_found"
	ReasonQuestionNotFound      = "question_not_found"
	ReasonApplicationsClosed    = "applications_closed"
	ReasonForbidden             = "forbidden"
	ReasonApplicationFormExists = "application_form_exists"
	ReasonUpdateConflict        = "update_conflict"
	ReasonStaleVersion          = "stale_version"
	ReasonStoreUnavailable      = "store_unavailable"
)

func ErrEventNotFound() error {
	return dErrors.New(dErrors.CodeNotFound, "event not found").WithReason(ReasonEventNotFound)
}

func ErrFormNotFound() error {
	return dErrors.New(dErrors.CodeNotFound, "application form not found for event").WithReason(ReasonFormNotFound)
}

func ErrFormNotFoundByID() error {
	return dErrors.New(dErrors.CodeNotFound, "application form not found").WithReason(ReasonFormNotFoundByID)
}

func ErrSectionNotFound(msg string) error {
	return dErrors.New(dErrors.CodeNotFound, msg).WithReason(ReasonSectionNotFound)
}

func ErrQuestionNotFound(msg string) error {
	return dErrors.New(dErrors.CodeNotFound, msg).WithReason(ReasonQuestionNotFound)
}

func ErrApplicationsClosed() error {
	return dErrors.New(dErrors.CodeForbidden, "applications for this event are closed").WithReason(ReasonApplicationsClosed)
}

func ErrForbidden() error {
	return dErrors.New(dErrors.CodeForbidden, "event admin rights required").WithReason(ReasonForbidden)
}

func ErrApplicationFormExists() error {
	return dErrors.New(dErrors.CodeConflict, "an application form already exists for this event").WithReason(ReasonApplicationFormExists)
}

func ErrUpdateConflict() error {
	return dErrors.New(dErrors.CodeConflict, "form does not belong to the given event").WithReason(ReasonUpdateConflict)
}

func ErrStaleVersion() error {
	return dErrors.New(dErrors.CodeConflict, "form was modified by another request").WithReason(ReasonStaleVersion)
}

func ErrStoreUnavailable(err error) error {
	return dErrors.Wrap(err, dErrors.CodeUnavailable, "form store unavailable").WithReason(ReasonStoreUnavailable)
}
