package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"baobab/internal/applicationform/models"
	"baobab/internal/applicationform/service"
	id "baobab/pkg/domain"
	dErrors "baobab/pkg/domain-errors"
	"baobab/pkg/platform/sentinel"
)

const defaultTxTimeout = 5 * time.Second

// InMemory is a form store backed by maps. Transactions run on a deep copy of
// the committed state that replaces it only when fn succeeds; transactions
// are serialized.
type InMemory struct {
	mu      sync.RWMutex
	state   *memState
	txMu    sync.Mutex
	timeout time.Duration
}

// memState holds rows flat, the way the tables do. Stored sections never
// carry their Questions slice.
type memState struct {
	forms        map[id.FormID]*models.ApplicationForm
	sections     map[id.SectionID]*models.Section
	questions    map[id.QuestionID]*models.Question
	nextForm     int64
	nextSection  int64
	nextQuestion int64
}

func newMemState() *memState {
	return &memState{
		forms:     make(map[id.FormID]*models.ApplicationForm),
		sections:  make(map[id.SectionID]*models.Section),
		questions: make(map[id.QuestionID]*models.Question),
	}
}

func (st *memState) clone() *memState {
	cp := &memState{
		forms:        make(map[id.FormID]*models.ApplicationForm, len(st.forms)),
		sections:     make(map[id.SectionID]*models.Section, len(st.sections)),
		questions:    make(map[id.QuestionID]*models.Question, len(st.questions)),
		nextForm:     st.nextForm,
		nextSection:  st.nextSection,
		nextQuestion: st.nextQuestion,
	}
	for k, v := range st.forms {
		cp.forms[k] = v.Clone()
	}
	for k, v := range st.sections {
		cp.sections[k] = v.Clone()
	}
	for k, v := range st.questions {
		cp.questions[k] = v.Clone()
	}
	return cp
}

type MemoryOption func(*InMemory)

// WithMemoryTxTimeout bounds transactions whose context has no deadline.
func WithMemoryTxTimeout(d time.Duration) MemoryOption {
	return func(s *InMemory) {
		s.timeout = d
	}
}

func NewInMemory(opts ...MemoryOption) *InMemory {
	s := &InMemory{state: newMemState(), timeout: defaultTxTimeout}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *InMemory) RunInTx(ctx context.Context, fn func(ctx context.Context, store service.Store) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline && s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	s.mu.RLock()
	work := s.state.clone()
	s.mu.RUnlock()

	if err := fn(ctx, &memView{st: work}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted before commit")
	}

	s.mu.Lock()
	s.state = work
	s.mu.Unlock()
	return nil
}

func (s *InMemory) read(fn func(v *memView) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&memView{st: s.state})
}

// write applies a single mutation outside a transaction.
func (s *InMemory) write(fn func(v *memView) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&memView{st: s.state})
}

func (s *InMemory) FindFormByEventID(ctx context.Context, eventID id.EventID) (out *models.ApplicationForm, err error) {
	err = s.read(func(v *memView) error {
		out, err = v.FindFormByEventID(ctx, eventID)
		return err
	})
	return out, err
}

func (s *InMemory) FindFormByID(ctx context.Context, formID id.FormID) (out *models.ApplicationForm, err error) {
	err = s.read(func(v *memView) error {
		out, err = v.FindFormByID(ctx, formID)
		return err
	})
	return out, err
}

func (s *InMemory) CreateForm(ctx context.Context, form *models.ApplicationForm) error {
	return s.write(func(v *memView) error { return v.CreateForm(ctx, form) })
}

func (s *InMemory) UpdateForm(ctx context.Context, form *models.ApplicationForm, expectedVersion int64) error {
	return s.write(func(v *memView) error { return v.UpdateForm(ctx, form, expectedVersion) })
}

func (s *InMemory) CreateSection(ctx context.Context, section *models.Section) error {
	return s.write(func(v *memView) error { return v.CreateSection(ctx, section) })
}

func (s *InMemory) UpdateSection(ctx context.Context, section *models.Section) error {
	return s.write(func(v *memView) error { return v.UpdateSection(ctx, section) })
}

func (s *InMemory) DeleteSection(ctx context.Context, formID id.FormID, sectionID id.SectionID) error {
	return s.write(func(v *memView) error { return v.DeleteSection(ctx, formID, sectionID) })
}

func (s *InMemory) CreateQuestion(ctx context.Context, question *models.Question) error {
	return s.write(func(v *memView) error { return v.CreateQuestion(ctx, question) })
}

func (s *InMemory) UpdateQuestion(ctx context.Context, question *models.Question) error {
	return s.write(func(v *memView) error { return v.UpdateQuestion(ctx, question) })
}

// memView implements service.Store over one state snapshot. It does no
// locking of its own.
type memView struct {
	st *memState
}

func (v *memView) assemble(form *models.ApplicationForm) *models.ApplicationForm {
	out := form.Clone()
	out.Sections = nil
	bySection := make(map[id.SectionID]*models.Section)
	for _, sec := range v.st.sections {
		if sec.FormID == form.ID {
			cp := sec.Clone()
			cp.Questions = nil
			bySection[cp.ID] = cp
			out.Sections = append(out.Sections, cp)
		}
	}
	for _, q := range v.st.questions {
		if sec, ok := bySection[q.SectionID]; ok {
			sec.Questions = append(sec.Questions, q.Clone())
		}
	}
	out.SortChildren()
	return out
}

func (v *memView) FindFormByEventID(_ context.Context, eventID id.EventID) (*models.ApplicationForm, error) {
	for _, f := range v.st.forms {
		if f.EventID == eventID {
			return v.assemble(f), nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (v *memView) FindFormByID(_ context.Context, formID id.FormID) (*models.ApplicationForm, error) {
	f, ok := v.st.forms[formID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return v.assemble(f), nil
}

func (v *memView) CreateForm(_ context.Context, form *models.ApplicationForm) error {
	for _, f := range v.st.forms {
		if f.EventID == form.EventID {
			return fmt.Errorf("form for event %d: %w", form.EventID, sentinel.ErrAlreadyUsed)
		}
	}
	v.st.nextForm++
	form.ID = id.FormID(v.st.nextForm)
	form.Version = 1
	row := form.Clone()
	row.Sections = nil
	v.st.forms[form.ID] = row
	return nil
}

func (v *memView) UpdateForm(_ context.Context, form *models.ApplicationForm, expectedVersion int64) error {
	row, ok := v.st.forms[form.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if row.Version != expectedVersion {
		return fmt.Errorf("form %d at version %d, expected %d: %w", form.ID, row.Version, expectedVersion, sentinel.ErrConflict)
	}
	row.IsOpen = form.IsOpen
	row.Nominations = form.Nominations
	row.Version = expectedVersion + 1
	form.Version = row.Version
	return nil
}

func (v *memView) CreateSection(_ context.Context, section *models.Section) error {
	if _, ok := v.st.forms[section.FormID]; !ok {
		return fmt.Errorf("form %d: %w", section.FormID, sentinel.ErrNotFound)
	}
	if err := v.checkQuestionRef(section.FormID, section.DependsOnQuestionID); err != nil {
		return err
	}
	v.st.nextSection++
	section.ID = id.SectionID(v.st.nextSection)
	row := section.Clone()
	row.Questions = nil
	v.st.sections[section.ID] = row
	return nil
}

func (v *memView) UpdateSection(_ context.Context, section *models.Section) error {
	row, ok := v.st.sections[section.ID]
	if !ok || row.FormID != section.FormID {
		return fmt.Errorf("section %d: %w", section.ID, sentinel.ErrNotFound)
	}
	if err := v.checkQuestionRef(section.FormID, section.DependsOnQuestionID); err != nil {
		return err
	}
	cp := section.Clone()
	cp.Questions = nil
	v.st.sections[section.ID] = cp
	return nil
}

// DeleteSection removes the section and its questions, then clears links
// that pointed at the removed questions.
func (v *memView) DeleteSection(_ context.Context, formID id.FormID, sectionID id.SectionID) error {
	row, ok := v.st.sections[sectionID]
	if !ok || row.FormID != formID {
		return fmt.Errorf("section %d: %w", sectionID, sentinel.ErrNotFound)
	}
	delete(v.st.sections, sectionID)

	removed := make(map[id.QuestionID]struct{})
	for qid, q := range v.st.questions {
		if q.SectionID == sectionID {
			removed[qid] = struct{}{}
			delete(v.st.questions, qid)
		}
	}
	for _, sec := range v.st.sections {
		if sec.DependsOnQuestionID != nil {
			if _, gone := removed[*sec.DependsOnQuestionID]; gone {
				sec.DependsOnQuestionID = nil
			}
		}
	}
	for _, q := range v.st.questions {
		if q.DependsOnQuestionID != nil {
			if _, gone := removed[*q.DependsOnQuestionID]; gone {
				q.DependsOnQuestionID = nil
			}
		}
	}
	return nil
}

func (v *memView) CreateQuestion(_ context.Context, question *models.Question) error {
	sec, ok := v.st.sections[question.SectionID]
	if !ok || sec.FormID != question.FormID {
		return fmt.Errorf("section %d: %w", question.SectionID, sentinel.ErrNotFound)
	}
	if err := v.checkQuestionRef(question.FormID, question.DependsOnQuestionID); err != nil {
		return err
	}
	v.st.nextQuestion++
	question.ID = id.QuestionID(v.st.nextQuestion)
	v.st.questions[question.ID] = question.Clone()
	return nil
}

func (v *memView) UpdateQuestion(_ context.Context, question *models.Question) error {
	row, ok := v.st.questions[question.ID]
	if !ok || row.FormID != question.FormID || row.SectionID != question.SectionID {
		return fmt.Errorf("question %d: %w", question.ID, sentinel.ErrNotFound)
	}
	if err := v.checkQuestionRef(question.FormID, question.DependsOnQuestionID); err != nil {
		return err
	}
	v.st.questions[question.ID] = question.Clone()
	return nil
}

// checkQuestionRef mirrors the foreign key on depends_on_question_id.
func (v *memView) checkQuestionRef(formID id.FormID, ref *id.QuestionID) error {
	if ref == nil {
		return nil
	}
	q, ok := v.st.questions[*ref]
	if !ok || q.FormID != formID {
		return fmt.Errorf("depends_on_question_id %d: %w", *ref, sentinel.ErrNotFound)
	}
	return nil
}
