package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/scry-exam/internal/domain"
	"github.com/phrazzld/scry-exam/internal/store"
)

type mistakeKey struct {
	studentID  uuid.UUID
	questionID uuid.UUID
}

type state struct {
	courses      map[uuid.UUID]domain.Course
	questions    map[uuid.UUID]domain.Question
	fingerprints map[string]uuid.UUID
	papers       map[uuid.UUID]domain.Paper
	publications map[uuid.UUID]domain.Publication
	attempts     map[uuid.UUID]domain.ExamAttempt
	answers      map[uuid.UUID][]domain.AnswerRecord
	mistakes     map[mistakeKey]domain.MistakeEntry
	tasks        map[uuid.UUID]domain.Task
}

func newState() *state {
	return &state{
		courses:      make(map[uuid.UUID]domain.Course),
		questions:    make(map[uuid.UUID]domain.Question),
		fingerprints: make(map[string]uuid.UUID),
		papers:       make(map[uuid.UUID]domain.Paper),
		publications: make(map[uuid.UUID]domain.Publication),
		attempts:     make(map[uuid.UUID]domain.ExamAttempt),
		answers:      make(map[uuid.UUID][]domain.AnswerRecord),
		mistakes:     make(map[mistakeKey]domain.MistakeEntry),
		tasks:        make(map[uuid.UUID]domain.Task),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.courses {
		c.courses[k] = v
	}
	for k, v := range s.questions {
		c.questions[k] = v
	}
	for k, v := range s.fingerprints {
		c.fingerprints[k] = v
	}
	for k, v := range s.papers {
		c.papers[k] = v
	}
	for k, v := range s.publications {
		c.publications[k] = v
	}
	for k, v := range s.attempts {
		c.attempts[k] = v
	}
	for k, v := range s.answers {
		c.answers[k] = append([]domain.AnswerRecord(nil), v...)
	}
	for k, v := range s.mistakes {
		c.mistakes[k] = v
	}
	for k, v := range s.tasks {
		c.tasks[k] = v
	}
	return c
}

// Store is an in-memory store.Store.
type Store struct {
	// txMu serializes writers on the root store. It is nil on the
	// transaction-bound copies handed to InTx callbacks.
	txMu *sync.Mutex
	mu   sync.RWMutex
	st   *state
}

var _ store.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{txMu: &sync.Mutex{}, st: newState()}
}

func (s *Store) read(fn func(st *state) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(s.st)
}

func (s *Store) write(fn func(st *state) error) error {
	if s.txMu != nil {
		s.txMu.Lock()
		defer s.txMu.Unlock()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.st)
}

// InTx runs fn against a private copy of the state and commits the copy
// when fn returns nil. Nested calls on a transaction-bound store run inline.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx store.Store) error) error {
	if s.txMu == nil {
		return fn(ctx, s)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	tx := &Store{st: s.st.clone()}
	s.mu.RUnlock()

	if err := fn(ctx, tx); err != nil {
		return err
	}

	s.mu.Lock()
	s.st = tx.st
	s.mu.Unlock()
	return nil
}

// PutCourse seeds a course.
func (s *Store) PutCourse(c domain.Course) {
	_ = s.write(func(st *state) error {
		st.courses[c.ID] = c
		return nil
	})
}

// PutPaper seeds a paper.
func (s *Store) PutPaper(p domain.Paper) {
	p.Items = append([]domain.PaperItem(nil), p.Items...)
	_ = s.write(func(st *state) error {
		st.papers[p.ID] = p
		return nil
	})
}

// PutPublication seeds a publication.
func (s *Store) PutPublication(p domain.Publication) {
	_ = s.write(func(st *state) error {
		st.publications[p.ID] = p
		return nil
	})
}

// PutQuestion seeds a question, replacing any with the same ID.
func (s *Store) PutQuestion(q domain.Question) {
	_ = s.write(func(st *state) error {
		st.questions[q.ID] = q
		if q.Fingerprint != "" {
			st.fingerprints[q.Fingerprint] = q.ID
		}
		return nil
	})
}

// GetCourse implements store.CourseStore.
func (s *Store) GetCourse(_ context.Context, id uuid.UUID) (*domain.Course, error) {
	var out domain.Course
	err := s.read(func(st *state) error {
		c, ok := st.courses[id]
		if !ok {
			return store.ErrCourseNotFound
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ExistingFingerprints implements store.QuestionStore.
func (s *Store) ExistingFingerprints(_ context.Context, fingerprints []string) (map[string]bool, error) {
	found := make(map[string]bool)
	_ = s.read(func(st *state) error {
		for _, fp := range fingerprints {
			if _, ok := st.fingerprints[fp]; ok {
				found[fp] = true
			}
		}
		return nil
	})
	return found, nil
}

// CreateQuestions implements store.QuestionStore.
func (s *Store) CreateQuestions(_ context.Context, questions []domain.Question) ([]domain.Question, error) {
	for i := range questions {
		if err := questions[i].Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
		}
	}

	var inserted []domain.Question
	err := s.write(func(st *state) error {
		for _, q := range questions {
			if _, ok := st.fingerprints[q.Fingerprint]; ok {
				continue
			}
			if _, ok := st.questions[q.ID]; ok {
				return store.ErrDuplicate
			}
			st.questions[q.ID] = q
			st.fingerprints[q.Fingerprint] = q.ID
			inserted = append(inserted, q)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return inserted, nil
}

// GetQuestions implements store.QuestionStore.
func (s *Store) GetQuestions(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]*domain.Question, error) {
	out := make(map[uuid.UUID]*domain.Question, len(ids))
	_ = s.read(func(st *state) error {
		for _, id := range ids {
			if q, ok := st.questions[id]; ok {
				q := q
				out[id] = &q
			}
		}
		return nil
	})
	return out, nil
}

// Questions returns every stored question ordered by creation time.
func (s *Store) Questions() []domain.Question {
	var out []domain.Question
	_ = s.read(func(st *state) error {
		for _, q := range st.questions {
			out = append(out, q)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// GetPaper implements store.PaperStore.
func (s *Store) GetPaper(_ context.Context, id uuid.UUID) (*domain.Paper, error) {
	var out domain.Paper
	err := s.read(func(st *state) error {
		p, ok := st.papers[id]
		if !ok {
			return store.ErrPaperNotFound
		}
		out = p
		out.Items = append([]domain.PaperItem(nil), p.Items...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetPublication implements store.PaperStore.
func (s *Store) GetPublication(_ context.Context, id uuid.UUID) (*domain.Publication, error) {
	var out domain.Publication
	err := s.read(func(st *state) error {
		p, ok := st.publications[id]
		if !ok {
			return store.ErrPublicationNotFound
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateAttempt implements store.AttemptStore.
func (s *Store) CreateAttempt(_ context.Context, attempt *domain.ExamAttempt) error {
	return s.write(func(st *state) error {
		if _, ok := st.attempts[attempt.ID]; ok {
			return store.ErrDuplicate
		}
		if attempt.Status == domain.AttemptStatusInProgress {
			for _, a := range st.attempts {
				if a.StudentID == attempt.StudentID &&
					a.PublicationID == attempt.PublicationID &&
					a.Status == domain.AttemptStatusInProgress {
					return store.ErrAttemptInProgress
				}
			}
		}
		st.attempts[attempt.ID] = *attempt
		return nil
	})
}

// GetAttempt implements store.AttemptStore.
func (s *Store) GetAttempt(_ context.Context, id uuid.UUID) (*domain.ExamAttempt, error) {
	var out domain.ExamAttempt
	err := s.read(func(st *state) error {
		a, ok := st.attempts[id]
		if !ok {
			return store.ErrAttemptNotFound
		}
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetAttemptForUpdate implements store.AttemptStore. Transactions are already
// serialized, so no extra locking is needed.
func (s *Store) GetAttemptForUpdate(ctx context.Context, id uuid.UUID) (*domain.ExamAttempt, error) {
	return s.GetAttempt(ctx, id)
}

// FindInProgressAttempt implements store.AttemptStore.
func (s *Store) FindInProgressAttempt(_ context.Context, studentID, publicationID uuid.UUID) (*domain.ExamAttempt, error) {
	var out *domain.ExamAttempt
	_ = s.read(func(st *state) error {
		for _, a := range st.attempts {
			if a.StudentID == studentID && a.PublicationID == publicationID &&
				a.Status == domain.AttemptStatusInProgress {
				a := a
				out = &a
				return nil
			}
		}
		return nil
	})
	if out == nil {
		return nil, store.ErrAttemptNotFound
	}
	return out, nil
}

// CountAttempts implements store.AttemptStore.
func (s *Store) CountAttempts(_ context.Context, studentID, publicationID uuid.UUID) (int, error) {
	n := 0
	_ = s.read(func(st *state) error {
		for _, a := range st.attempts {
			if a.StudentID == studentID && a.PublicationID == publicationID {
				n++
			}
		}
		return nil
	})
	return n, nil
}

// UpdateAttempt implements store.AttemptStore.
func (s *Store) UpdateAttempt(_ context.Context, attempt *domain.ExamAttempt) error {
	return s.write(func(st *state) error {
		if _, ok := st.attempts[attempt.ID]; !ok {
			return store.ErrAttemptNotFound
		}
		st.attempts[attempt.ID] = *attempt
		return nil
	})
}

func (s *Store) listAttempts(match func(a domain.ExamAttempt) bool, limit int) []*domain.ExamAttempt {
	var out []*domain.ExamAttempt
	_ = s.read(func(st *state) error {
		for _, a := range st.attempts {
			if match(a) {
				a := a
				out = append(out, &a)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// ListSubmittedBefore implements store.AttemptStore.
func (s *Store) ListSubmittedBefore(_ context.Context, cutoff time.Time, limit int) ([]*domain.ExamAttempt, error) {
	return s.listAttempts(func(a domain.ExamAttempt) bool {
		return a.Status == domain.AttemptStatusSubmitted && a.UpdatedAt.Before(cutoff)
	}, limit), nil
}

// ListOverdue implements store.AttemptStore.
func (s *Store) ListOverdue(_ context.Context, cutoff time.Time, limit int) ([]*domain.ExamAttempt, error) {
	return s.listAttempts(func(a domain.ExamAttempt) bool {
		return a.Status == domain.AttemptStatusInProgress && a.Deadline.Before(cutoff)
	}, limit), nil
}

// CreateAnswers implements store.AnswerStore.
func (s *Store) CreateAnswers(_ context.Context, records []domain.AnswerRecord) error {
	return s.write(func(st *state) error {
		for _, r := range records {
			if _, ok := st.attempts[r.AttemptID]; !ok {
				return fmt.Errorf("%w: answer for unknown attempt %s", store.ErrInvalidEntity, r.AttemptID)
			}
		}
		for _, r := range records {
			st.answers[r.AttemptID] = append(st.answers[r.AttemptID], r)
		}
		return nil
	})
}

// ListAnswers implements store.AnswerStore.
func (s *Store) ListAnswers(_ context.Context, attemptID uuid.UUID) ([]domain.AnswerRecord, error) {
	var out []domain.AnswerRecord
	_ = s.read(func(st *state) error {
		out = append([]domain.AnswerRecord(nil), st.answers[attemptID]...)
		return nil
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

// UpdateAnswer implements store.AnswerStore.
func (s *Store) UpdateAnswer(_ context.Context, record *domain.AnswerRecord) error {
	return s.write(func(st *state) error {
		records := st.answers[record.AttemptID]
		for i := range records {
			if records[i].ID == record.ID {
				records[i] = *record
				return nil
			}
		}
		return store.ErrAnswerNotFound
	})
}

// UpsertMistake implements store.MistakeStore.
func (s *Store) UpsertMistake(
	_ context.Context,
	studentID, questionID uuid.UUID,
	answer string,
	now time.Time,
) (*domain.MistakeEntry, error) {
	var out domain.MistakeEntry
	err := s.write(func(st *state) error {
		key := mistakeKey{studentID: studentID, questionID: questionID}
		if m, ok := st.mistakes[key]; ok {
			m.Recur(answer, now)
			st.mistakes[key] = m
			out = m
			return nil
		}
		m := domain.NewMistakeEntry(studentID, questionID, answer, now)
		st.mistakes[key] = *m
		out = *m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetMistake implements store.MistakeStore.
func (s *Store) GetMistake(_ context.Context, studentID, questionID uuid.UUID) (*domain.MistakeEntry, error) {
	var out domain.MistakeEntry
	err := s.read(func(st *state) error {
		m, ok := st.mistakes[mistakeKey{studentID: studentID, questionID: questionID}]
		if !ok {
			return store.ErrMistakeNotFound
		}
		out = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateTask implements store.TaskStore.
func (s *Store) CreateTask(_ context.Context, task *domain.Task) error {
	return s.write(func(st *state) error {
		if _, ok := st.tasks[task.ID]; ok {
			return store.ErrDuplicate
		}
		st.tasks[task.ID] = *task
		return nil
	})
}

// GetTask implements store.TaskStore.
func (s *Store) GetTask(_ context.Context, id uuid.UUID) (*domain.Task, error) {
	var out domain.Task
	err := s.read(func(st *state) error {
		t, ok := st.tasks[id]
		if !ok {
			return store.ErrTaskNotFound
		}
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Store) updateTask(id uuid.UUID, fn func(t *domain.Task) bool) (bool, error) {
	applied := false
	err := s.write(func(st *state) error {
		t, ok := st.tasks[id]
		if !ok {
			return nil
		}
		if fn(&t) {
			st.tasks[id] = t
			applied = true
		}
		return nil
	})
	return applied, err
}

// MarkTaskRunning implements store.TaskStore.
func (s *Store) MarkTaskRunning(_ context.Context, id uuid.UUID, now time.Time) (bool, error) {
	return s.updateTask(id, func(t *domain.Task) bool {
		if t.Status != domain.TaskStatusInit {
			return false
		}
		t.Status = domain.TaskStatusRunning
		t.UpdatedAt = now
		return true
	})
}

// AdvanceTask implements store.TaskStore.
func (s *Store) AdvanceTask(_ context.Context, id uuid.UUID, delta int, now time.Time) (bool, error) {
	return s.updateTask(id, func(t *domain.Task) bool {
		if t.Status.IsTerminal() || t.Completed+delta > t.Target {
			return false
		}
		t.Completed += delta
		t.UpdatedAt = now
		return true
	})
}

// FinishTask implements store.TaskStore.
func (s *Store) FinishTask(
	_ context.Context,
	id uuid.UUID,
	status domain.TaskStatus,
	detail string,
	now time.Time,
) (bool, error) {
	return s.updateTask(id, func(t *domain.Task) bool {
		if t.Status.IsTerminal() {
			return false
		}
		t.Status = status
		t.Detail = detail
		t.UpdatedAt = now
		t.FinishedAt = &now
		return true
	})
}

// ListUnfinishedTasks implements store.TaskStore.
func (s *Store) ListUnfinishedTasks(_ context.Context, kind domain.TaskKind) ([]*domain.Task, error) {
	var out []*domain.Task
	_ = s.read(func(st *state) error {
		for _, t := range st.tasks {
			if t.Kind == kind && !t.Status.IsTerminal() {
				t := t
				out = append(out, &t)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
