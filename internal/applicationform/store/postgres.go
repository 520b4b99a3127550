package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/lib/pq"

	"baobab/internal/applicationform/models"
	"baobab/internal/applicationform/service"
	id "baobab/pkg/domain"
	dErrors "baobab/pkg/domain-errors"
	"baobab/pkg/platform/sentinel"
	txcontext "baobab/pkg/platform/tx"
)

// PostgresStore persists forms in the application_form, section and question
// tables. The zero-transaction instance returned by NewPostgres reads and
// writes through the pool; RunInTx hands fn a copy bound to the transaction.
type PostgresStore struct {
	db      *sql.DB
	exec    txcontext.Executor
	locking bool
	timeout time.Duration
}

type PostgresOption func(*PostgresStore)

// WithTxTimeout bounds transactions whose context has no deadline.
func WithTxTimeout(d time.Duration) PostgresOption {
	return func(s *PostgresStore) {
		s.timeout = d
	}
}

func NewPostgres(db *sql.DB, opts ...PostgresOption) *PostgresStore {
	s := &PostgresStore{db: db, exec: db, timeout: defaultTxTimeout}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *PostgresStore) RunInTx(ctx context.Context, fn func(ctx context.Context, store service.Store) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline && s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", classify(err))
	}
	defer func() {
		_ = tx.Rollback()
	}()

	scoped := &PostgresStore{db: s.db, exec: tx, locking: true, timeout: s.timeout}
	if err := fn(txcontext.WithTx(ctx, tx), scoped); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", classify(err))
	}
	return nil
}

const formColumns = `id, event_id, is_open, deadline, nominations, version`

func (s *PostgresStore) FindFormByEventID(ctx context.Context, eventID id.EventID) (*models.ApplicationForm, error) {
	return s.findForm(ctx, `SELECT `+formColumns+` FROM application_form WHERE event_id = $1`, int64(eventID))
}

func (s *PostgresStore) FindFormByID(ctx context.Context, formID id.FormID) (*models.ApplicationForm, error) {
	query := `SELECT ` + formColumns + ` FROM application_form WHERE id = $1`
	if s.locking {
		query += ` FOR UPDATE`
	}
	return s.findForm(ctx, query, int64(formID))
}

func (s *PostgresStore) findForm(ctx context.Context, query string, arg int64) (*models.ApplicationForm, error) {
	var (
		form     models.ApplicationForm
		deadline sql.NullTime
	)
	err := s.exec.QueryRowContext(ctx, query, arg).Scan(
		&form.ID, &form.EventID, &form.IsOpen, &deadline, &form.Nominations, &form.Version,
	)
	if err != nil {
		return nil, classify(err)
	}
	if deadline.Valid {
		t := deadline.Time
		form.Deadline = &t
	}

	sections, err := s.loadSections(ctx, form.ID)
	if err != nil {
		return nil, err
	}
	questions, err := s.loadQuestions(ctx, form.ID)
	if err != nil {
		return nil, err
	}
	bySection := make(map[id.SectionID]*models.Section, len(sections))
	for _, sec := range sections {
		bySection[sec.ID] = sec
	}
	for _, q := range questions {
		if sec, ok := bySection[q.SectionID]; ok {
			sec.Questions = append(sec.Questions, q)
		}
	}
	form.Sections = sections
	form.SortChildren()
	return &form, nil
}

func (s *PostgresStore) loadSections(ctx context.Context, formID id.FormID) ([]*models.Section, error) {
	rows, err := s.exec.QueryContext(ctx, `
		SELECT id, application_form_id, name, description, "order",
		       depends_on_question_id, show_for_values, key
		FROM section
		WHERE application_form_id = $1
		ORDER BY "order", id
	`, int64(formID))
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []*models.Section
	for rows.Next() {
		var (
			sec       models.Section
			dependsOn sql.NullInt64
			show      []byte
			key       sql.NullString
		)
		if err := rows.Scan(&sec.ID, &sec.FormID, &sec.Name, &sec.Description, &sec.Order, &dependsOn, &show, &key); err != nil {
			return nil, fmt.Errorf("scan section: %w", err)
		}
		sec.DependsOnQuestionID = questionRef(dependsOn)
		sec.ShowForValues = rawJSON(show)
		sec.Key = nullString(key)
		out = append(out, &sec)
	}
	return out, classify(rows.Err())
}

func (s *PostgresStore) loadQuestions(ctx context.Context, formID id.FormID) ([]*models.Question, error) {
	rows, err := s.exec.QueryContext(ctx, `
		SELECT id, application_form_id, section_id, headline, placeholder, "order", type,
		       validation_regex, validation_text, is_required, description, options,
		       depends_on_question_id, show_for_values, key
		FROM question
		WHERE application_form_id = $1
		ORDER BY section_id, "order", id
	`, int64(formID))
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []*models.Question
	for rows.Next() {
		var (
			q             models.Question
			qtype         string
			regex, text   sql.NullString
			options, show []byte
			dependsOn     sql.NullInt64
			key           sql.NullString
		)
		if err := rows.Scan(
			&q.ID, &q.FormID, &q.SectionID, &q.Headline, &q.Placeholder, &q.Order, &qtype,
			&regex, &text, &q.IsRequired, &q.Description, &options,
			&dependsOn, &show, &key,
		); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		q.Type = id.QuestionType(qtype)
		q.ValidationRegex = nullString(regex)
		q.ValidationText = nullString(text)
		q.Options = rawJSON(options)
		q.DependsOnQuestionID = questionRef(dependsOn)
		q.ShowForValues = rawJSON(show)
		q.Key = nullString(key)
		out = append(out, &q)
	}
	return out, classify(rows.Err())
}

func (s *PostgresStore) CreateForm(ctx context.Context, form *models.ApplicationForm) error {
	err := s.exec.QueryRowContext(ctx, `
		INSERT INTO application_form (event_id, is_open, deadline, nominations, version)
		VALUES ($1, $2, $3, $4, 1)
		RETURNING id, version
	`, int64(form.EventID), form.IsOpen, form.Deadline, form.Nominations).Scan(&form.ID, &form.Version)
	if err != nil {
		return classify(err)
	}
	return nil
}

func (s *PostgresStore) UpdateForm(ctx context.Context, form *models.ApplicationForm, expectedVersion int64) error {
	res, err := s.exec.ExecContext(ctx, `
		UPDATE application_form
		SET is_open = $3, nominations = $4, version = version + 1
		WHERE id = $1 AND version = $2
	`, int64(form.ID), expectedVersion, form.IsOpen, form.Nominations)
	if err != nil {
		return classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classify(err)
	}
	if n == 0 {
		return fmt.Errorf("form %d no longer at version %d: %w", form.ID, expectedVersion, sentinel.ErrConflict)
	}
	form.Version = expectedVersion + 1
	return nil
}

func (s *PostgresStore) CreateSection(ctx context.Context, section *models.Section) error {
	err := s.exec.QueryRowContext(ctx, `
		INSERT INTO section (application_form_id, name, description, "order",
		                     depends_on_question_id, show_for_values, key)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`,
		int64(section.FormID), section.Name, section.Description, section.Order,
		questionArg(section.DependsOnQuestionID), jsonArg(section.ShowForValues), section.Key,
	).Scan(&section.ID)
	return classify(err)
}

func (s *PostgresStore) UpdateSection(ctx context.Context, section *models.Section) error {
	res, err := s.exec.ExecContext(ctx, `
		UPDATE section
		SET name = $3, description = $4, "order" = $5,
		    depends_on_question_id = $6, show_for_values = $7, key = $8
		WHERE id = $1 AND application_form_id = $2
	`,
		int64(section.ID), int64(section.FormID), section.Name, section.Description, section.Order,
		questionArg(section.DependsOnQuestionID), jsonArg(section.ShowForValues), section.Key,
	)
	return affectedOne(res, err, "section", int64(section.ID))
}

func (s *PostgresStore) DeleteSection(ctx context.Context, formID id.FormID, sectionID id.SectionID) error {
	res, err := s.exec.ExecContext(ctx,
		`DELETE FROM section WHERE id = $1 AND application_form_id = $2`,
		int64(sectionID), int64(formID),
	)
	return affectedOne(res, err, "section", int64(sectionID))
}

func (s *PostgresStore) CreateQuestion(ctx context.Context, question *models.Question) error {
	err := s.exec.QueryRowContext(ctx, `
		INSERT INTO question (application_form_id, section_id, headline, placeholder, "order", type,
		                      validation_regex, validation_text, is_required, description, options,
		                      depends_on_question_id, show_for_values, key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id
	`,
		int64(question.FormID), int64(question.SectionID), question.Headline, question.Placeholder,
		question.Order, question.Type.String(), question.ValidationRegex, question.ValidationText,
		question.IsRequired, question.Description, jsonArg(question.Options),
		questionArg(question.DependsOnQuestionID), jsonArg(question.ShowForValues), question.Key,
	).Scan(&question.ID)
	return classify(err)
}

func (s *PostgresStore) UpdateQuestion(ctx context.Context, question *models.Question) error {
	res, err := s.exec.ExecContext(ctx, `
		UPDATE question
		SET headline = $4, placeholder = $5, "order" = $6, type = $7,
		    validation_regex = $8, validation_text = $9, is_required = $10, description = $11,
		    options = $12, depends_on_question_id = $13, show_for_values = $14, key = $15
		WHERE id = $1 AND application_form_id = $2 AND section_id = $3
	`,
		int64(question.ID), int64(question.FormID), int64(question.SectionID),
		question.Headline, question.Placeholder, question.Order, question.Type.String(),
		question.ValidationRegex, question.ValidationText, question.IsRequired, question.Description,
		jsonArg(question.Options), questionArg(question.DependsOnQuestionID),
		jsonArg(question.ShowForValues), question.Key,
	)
	return affectedOne(res, err, "question", int64(question.ID))
}

func affectedOne(res sql.Result, err error, what string, rowID int64) error {
	if err != nil {
		return classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classify(err)
	}
	if n == 0 {
		return fmt.Errorf("%s %d: %w", what, rowID, sentinel.ErrNotFound)
	}
	return nil
}

// classify maps driver errors onto sentinel facts, keeping the original in
// the chain.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return sentinel.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code == "23505":
			return fmt.Errorf("%w: %s", sentinel.ErrAlreadyUsed, pqErr.Message)
		case pqErr.Code == "23503":
			return fmt.Errorf("%w: %s", sentinel.ErrNotFound, pqErr.Message)
		case pqErr.Code.Class() == "08", pqErr.Code.Class() == "57":
			return fmt.Errorf("%w: %w", sentinel.ErrUnavailable, err)
		}
		return err
	}
	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) || errors.As(err, &netErr) {
		return fmt.Errorf("%w: %w", sentinel.ErrUnavailable, err)
	}
	return err
}

func questionRef(v sql.NullInt64) *id.QuestionID {
	if !v.Valid {
		return nil
	}
	q := id.QuestionID(v.Int64)
	return &q
}

func questionArg(q *id.QuestionID) any {
	if q == nil {
		return nil
	}
	return int64(*q)
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func rawJSON(b []byte) json.RawMessage {
	if b == nil {
		return nil
	}
	return json.RawMessage(b)
}

func jsonArg(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	// lib/pq sends []byte as bytea; jsonb needs the text form.
	return string(r)
}
