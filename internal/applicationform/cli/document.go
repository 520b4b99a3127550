package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"baobab/internal/applicationform/models"
	id "baobab/pkg/domain"
)

// Document is the YAML form definition read by apply and written by export.
// Ids are optional on apply; export always writes them so the file can be
// edited and applied back.
type Document struct {
	ID          id.FormID      `yaml:"id,omitempty"`
	EventID     id.EventID     `yaml:"event_id,omitempty"`
	IsOpen      bool           `yaml:"is_open"`
	Nominations bool           `yaml:"nominations"`
	Version     int64          `yaml:"version,omitempty"`
	Sections    []SectionEntry `yaml:"sections"`
}

type SectionEntry struct {
	ID                  *id.SectionID   `yaml:"id,omitempty"`
	Name                string          `yaml:"name"`
	Description         string          `yaml:"description,omitempty"`
	Order               int             `yaml:"order"`
	DependsOnQuestionID *id.QuestionID  `yaml:"depends_on_question_id,omitempty"`
	ShowForValues       any             `yaml:"show_for_values,omitempty"`
	Key                 *string         `yaml:"key,omitempty"`
	Questions           []QuestionEntry `yaml:"questions"`
}

type QuestionEntry struct {
	ID                  *id.QuestionID `yaml:"id,omitempty"`
	Headline            string         `yaml:"headline"`
	Type                string         `yaml:"type"`
	Order               int            `yaml:"order"`
	Placeholder         string         `yaml:"placeholder,omitempty"`
	Description         string         `yaml:"description,omitempty"`
	IsRequired          bool           `yaml:"is_required"`
	ValidationRegex     *string        `yaml:"validation_regex,omitempty"`
	ValidationText      *string        `yaml:"validation_text,omitempty"`
	Options             any            `yaml:"options,omitempty"`
	DependsOnQuestionID *id.QuestionID `yaml:"depends_on_question_id,omitempty"`
	ShowForValues       any            `yaml:"show_for_values,omitempty"`
	Key                 *string        `yaml:"key,omitempty"`
}

// ReadDocument decodes a form definition, rejecting unknown keys.
func ReadDocument(r io.Reader) (*Document, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode form definition: %w", err)
	}
	return &doc, nil
}

// WriteDocument encodes doc as YAML with two-space indentation.
func WriteDocument(w io.Writer, doc *Document) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode form definition: %w", err)
	}
	return enc.Close()
}

// Specs converts the document into the desired tree the service reconciles.
func (d *Document) Specs() ([]models.SectionSpec, error) {
	out := make([]models.SectionSpec, len(d.Sections))
	for i, s := range d.Sections {
		show, err := toJSON(s.ShowForValues)
		if err != nil {
			return nil, fmt.Errorf("sections[%d].show_for_values: %w", i, err)
		}
		spec := models.SectionSpec{
			ID:                  s.ID,
			Name:                s.Name,
			Description:         s.Description,
			Order:               s.Order,
			DependsOnQuestionID: s.DependsOnQuestionID,
			ShowForValues:       show,
			Key:                 s.Key,
			Questions:           make([]models.QuestionSpec, len(s.Questions)),
		}
		for j, q := range s.Questions {
			opts, err := toJSON(q.Options)
			if err != nil {
				return nil, fmt.Errorf("sections[%d].questions[%d].options: %w", i, j, err)
			}
			qshow, err := toJSON(q.ShowForValues)
			if err != nil {
				return nil, fmt.Errorf("sections[%d].questions[%d].show_for_values: %w", i, j, err)
			}
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
				Options:             opts,
				DependsOnQuestionID: q.DependsOnQuestionID,
				ShowForValues:       qshow,
				Key:                 q.Key,
			}
		}
		out[i] = spec
	}
	return out, nil
}

// FromForm renders a stored aggregate as a document.
func FromForm(form *models.ApplicationForm) (*Document, error) {
	doc := &Document{
		ID:          form.ID,
		EventID:     form.EventID,
		IsOpen:      form.IsOpen,
		Nominations: form.Nominations,
		Version:     form.Version,
		Sections:    make([]SectionEntry, 0, len(form.Sections)),
	}
	for _, s := range form.Sections {
		show, err := fromJSON(s.ShowForValues)
		if err != nil {
			return nil, fmt.Errorf("section %d show_for_values: %w", s.ID, err)
		}
		sid := s.ID
		entry := SectionEntry{
			ID:                  &sid,
			Name:                s.Name,
			Description:         s.Description,
			Order:               s.Order,
			DependsOnQuestionID: s.DependsOnQuestionID,
			ShowForValues:       show,
			Key:                 s.Key,
			Questions:           make([]QuestionEntry, 0, len(s.Questions)),
		}
		for _, q := range s.Questions {
			opts, err := fromJSON(q.Options)
			if err != nil {
				return nil, fmt.Errorf("question %d options: %w", q.ID, err)
			}
			qshow, err := fromJSON(q.ShowForValues)
			if err != nil {
				return nil, fmt.Errorf("question %d show_for_values: %w", q.ID, err)
			}
			qid := q.ID
			entry.Questions = append(entry.Questions, QuestionEntry{
				ID:                  &qid,
				Headline:            q.Headline,
				Type:                q.Type.String(),
				Order:               q.Order,
				Placeholder:         q.Placeholder,
				Description:         q.Description,
				IsRequired:          q.IsRequired,
				ValidationRegex:     q.ValidationRegex,
				ValidationText:      q.ValidationText,
				Options:             opts,
				DependsOnQuestionID: q.DependsOnQuestionID,
				ShowForValues:       qshow,
				Key:                 q.Key,
			})
		}
		doc.Sections = append(doc.Sections, entry)
	}
	return doc, nil
}

// toJSON re-encodes a YAML value. yaml.v3 decodes mappings into
// map[string]any, which encoding/json accepts.
func toJSON(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func fromJSON(raw json.RawMessage) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}
