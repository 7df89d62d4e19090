package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/scry-exam/internal/domain"
	"github.com/phrazzld/scry-exam/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTask(target int) *domain.Task {
	now := time.Now().UTC()
	return &domain.Task{
		ID:        uuid.New(),
		Kind:      domain.TaskKindGeneration,
		Target:    target,
		Status:    domain.TaskStatusInit,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestInTxCommitsOnSuccess(t *testing.T) {
	s := New()
	ctx := context.Background()
	task := newTask(5)

	err := s.InTx(ctx, func(ctx context.Context, tx store.Store) error {
		return tx.CreateTask(ctx, task)
	})
	require.NoError(t, err)

	got, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, task.ID, got.ID)
}

func TestInTxRollsBackOnError(t *testing.T) {
	s := New()
	ctx := context.Background()
	task := newTask(5)
	boom := errors.New("boom")

	err := s.InTx(ctx, func(ctx context.Context, tx store.Store) error {
		require.NoError(t, tx.CreateTask(ctx, task))
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.GetTask(ctx, task.ID)
	assert.ErrorIs(t, err, store.ErrTaskNotFound)
}

func TestCreateQuestionsSkipsKnownFingerprints(t *testing.T) {
	s := New()
	ctx := context.Background()
	courseID := uuid.New()
	now := time.Now()

	q1 := domain.CandidateQuestion{Content: "What is 2+2?", Type: domain.QuestionTypeShortAnswer, Answer: "4"}.
		ToQuestion(courseID, uuid.New(), "fp-1", now)
	q2 := domain.CandidateQuestion{Content: "What is 3+3?", Type: domain.QuestionTypeShortAnswer, Answer: "6"}.
		ToQuestion(courseID, uuid.New(), "fp-2", now)

	inserted, err := s.CreateQuestions(ctx, []domain.Question{q1})
	require.NoError(t, err)
	assert.Len(t, inserted, 1)

	dup := q1
	dup.ID = uuid.New()
	inserted, err = s.CreateQuestions(ctx, []domain.Question{dup, q2})
	require.NoError(t, err)
	require.Len(t, inserted, 1)
	assert.Equal(t, q2.ID, inserted[0].ID)

	found, err := s.ExistingFingerprints(ctx, []string{"fp-1", "fp-2", "fp-3"})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"fp-1": true, "fp-2": true}, found)
	assert.Len(t, s.Questions(), 2)
}

func TestCreateAttemptRejectsSecondInProgress(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now()
	pub := &domain.Publication{ID: uuid.New(), PaperID: uuid.New(), StartAt: now, EndAt: now.Add(time.Hour)}
	student := uuid.New()

	first := domain.NewExamAttempt(student, pub, decimal.NewFromInt(10), now)
	require.NoError(t, s.CreateAttempt(ctx, first))

	second := domain.NewExamAttempt(student, pub, decimal.NewFromInt(10), now)
	err := s.CreateAttempt(ctx, second)
	assert.ErrorIs(t, err, store.ErrAttemptInProgress)
	assert.True(t, store.IsDuplicateError(err))

	found, err := s.FindInProgressAttempt(ctx, student, pub.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, found.ID)
}

func TestUpsertMistakeIncrements(t *testing.T) {
	s := New()
	ctx := context.Background()
	student, question := uuid.New(), uuid.New()

	m, err := s.UpsertMistake(ctx, student, question, "A", time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, m.WrongCount)

	m, err = s.UpsertMistake(ctx, student, question, "B", time.Now())
	require.NoError(t, err)
	assert.Equal(t, 2, m.WrongCount)
	assert.Equal(t, "B", m.WrongAnswer)

	got, err := s.GetMistake(ctx, student, question)
	require.NoError(t, err)
	assert.Equal(t, m.ID, got.ID)
}

func TestAdvanceTaskGuards(t *testing.T) {
	s := New()
	ctx := context.Background()
	task := newTask(3)
	require.NoError(t, s.CreateTask(ctx, task))

	ok, err := s.AdvanceTask(ctx, task.ID, 2, time.Now())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.AdvanceTask(ctx, task.ID, 2, time.Now())
	require.NoError(t, err)
	assert.False(t, ok, "advance past target must not apply")

	ok, err = s.FinishTask(ctx, task.ID, domain.TaskStatusDone, "", time.Now())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.AdvanceTask(ctx, task.ID, 1, time.Now())
	require.NoError(t, err)
	assert.False(t, ok, "terminal record must not advance")

	got, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Completed)
	assert.Equal(t, domain.TaskStatusDone, got.Status)
}

func TestAdvanceTaskConcurrent(t *testing.T) {
	s := New()
	ctx := context.Background()
	task := newTask(100)
	require.NoError(t, s.CreateTask(ctx, task))

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.AdvanceTask(ctx, task.ID, 1, time.Now())
		}()
	}
	wg.Wait()

	got, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, got.Completed)
}
