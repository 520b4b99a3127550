package handler

import (
	"bytes"
	"encoding/json"
	"time"

	"baobab/internal/applicationform/models"
	id "baobab/pkg/domain"
)

// QuestionPayload is one question in a request or response body.
type QuestionPayload struct {
	ID                  *id.QuestionID  `json:"id,omitempty"`
	Type                string          `json:"type"`
	Description         string          `json:"description"`
	Headline            string          `json:"headline"`
	Order               int             `json:"order"`
	Options             json.RawMessage `json:"options"`
	Placeholder         string          `json:"placeholder"`
	ValidationRegex     *string         `json:"validation_regex"`
	ValidationText      *string         `json:"validation_text"`
	IsRequired          bool            `json:"is_required"`
	DependsOnQuestionID *id.QuestionID  `json:"depends_on_question_id"`
	ShowForValues       json.RawMessage `json:"show_for_values"`
	Key                 *string         `json:"key"`
}

type SectionPayload struct {
	ID                  *id.SectionID     `json:"id,omitempty"`
	Name                string            `json:"name"`
	Description         string            `json:"description"`
	Order               int               `json:"order"`
	Questions           []QuestionPayload `json:"questions"`
	DependsOnQuestionID *id.QuestionID    `json:"depends_on_question_id"`
	ShowForValues       json.RawMessage   `json:"show_for_values"`
	Key                 *string           `json:"key"`
}

// CreateFormRequest is the POST body. Pointers mark fields that must be present.
type CreateFormRequest struct {
	EventID     *id.EventID      `json:"event_id"`
	IsOpen      *bool            `json:"is_open"`
	Nominations *bool            `json:"nominations"`
	Sections    []SectionPayload `json:"sections"`
}

// ReconcileFormRequest is the PUT body.
type ReconcileFormRequest struct {
	ID          *id.FormID       `json:"id"`
	EventID     *id.EventID      `json:"event_id"`
	IsOpen      *bool            `json:"is_open"`
	Nominations *bool            `json:"nominations"`
	Version     *int64           `json:"version,omitempty"`
	Sections    []SectionPayload `json:"sections"`
}

type FormResponse struct {
	ID          id.FormID        `json:"id"`
	EventID     id.EventID       `json:"event_id"`
	IsOpen      bool             `json:"is_open"`
	Deadline    *time.Time       `json:"deadline"`
	Nominations bool             `json:"nominations"`
	Version     int64            `json:"version"`
	Sections    []SectionPayload `json:"sections"`
}

var jsonNull = []byte("null")

// raw drops explicit JSON nulls so they are stored as absent.
func raw(r json.RawMessage) json.RawMessage {
	if len(r) == 0 || bytes.Equal(bytes.TrimSpace(r), jsonNull) {
		return nil
	}
	return r
}

func toSectionSpecs(in []SectionPayload) []models.SectionSpec {
	out := make([]models.SectionSpec, len(in))
	for i, s := range in {
		spec := models.SectionSpec{
			ID:                  s.ID,
			Name:                s.Name,
			Description:         s.Description,
			Order:               s.Order,
			DependsOnQuestionID: s.DependsOnQuestionID,
			ShowForValues:       raw(s.ShowForValues),
			Key:                 s.Key,
			Questions:           make([]models.QuestionSpec, len(s.Questions)),
		}
		for j, q := range s.Questions {
			spec.Questions[j] = models.QuestionSpec{
				ID:                  q.ID,
				Headline:            q.Headline,
				Placeholder:         q.Placeholder,
				Order:               q.Order,
				Type:                id.QuestionType(q.Type),
				ValidationRegex:     q.ValidationRegex,
				ValidationText:      q.ValidationText,
				IsRequired:          q.IsRequired,
				Description:         q.Description,
				Options:             raw(q.Options),
				DependsOnQuestionID: q.DependsOnQuestionID,
				ShowForValues:       raw(q.ShowForValues),
				Key:                 q.Key,
			}
		}
		out[i] = spec
	}
	return out
}

// toFormResponse renders the aggregate with every id present.
func toFormResponse(form *models.ApplicationForm) FormResponse {
	resp := FormResponse{
		ID:          form.ID,
		EventID:     form.EventID,
		IsOpen:      form.IsOpen,
		Deadline:    form.Deadline,
		Nominations: form.Nominations,
		Version:     form.Version,
		Sections:    make([]SectionPayload, 0, len(form.Sections)),
	}
	for _, s := range form.Sections {
		sid := s.ID
		sec := SectionPayload{
			ID:                  &sid,
			Name:                s.Name,
			Description:         s.Description,
			Order:               s.Order,
			Questions:           make([]QuestionPayload, 0, len(s.Questions)),
			DependsOnQuestionID: s.DependsOnQuestionID,
			ShowForValues:       s.ShowForValues,
			Key:                 s.Key,
		}
		for _, q := range s.Questions {
			qid := q.ID
			sec.Questions = append(sec.Questions, QuestionPayload{
				ID:                  &qid,
				Type:                q.Type.String(),
				Description:         q.Description,
				Headline:            q.Headline,
				Order:               q.Order,
				Options:             q.Options,
				Placeholder:         q.Placeholder,
				ValidationRegex:     q.ValidationRegex,
				ValidationText:      q.ValidationText,
				IsRequired:          q.IsRequired,
				DependsOnQuestionID: q.DependsOnQuestionID,
				ShowForValues:       q.ShowForValues,
				Key:                 q.Key,
			})
		}
		resp.Sections = append(resp.Sections, sec)
	}
	return resp
}
