package sqlstore

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/scry-exam/internal/domain"
	"github.com/phrazzld/scry-exam/internal/platform/logger"
	"github.com/phrazzld/scry-exam/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestStore opens a migrated SQLite database, or PostgreSQL when
// DATABASE_URL is set.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	driver, dsn := DriverSQLite, ":memory:"
	if url := os.Getenv("DATABASE_URL"); url != "" {
		driver, dsn = DriverPostgres, url
	}

	db, err := Open(ctx, driver, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	log := logger.Discard()
	if driver == DriverPostgres {
		require.NoError(t, Migrate(ctx, db, driver, "reset", log))
	}
	require.NoError(t, Migrate(ctx, db, driver, "up", log))
	return New(db, driver, log)
}

type fixture struct {
	course   *domain.Course
	question domain.Question
	paper    *domain.Paper
	pub      *domain.Publication
}

func seed(t *testing.T, s *Store) fixture {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	course := &domain.Course{ID: uuid.New(), Name: "Discrete Math", Description: "sets and logic"}
	require.NoError(t, s.CreateCourse(ctx, course))

	q := domain.CandidateQuestion{
		Content: "Which of these are sets?",
		Type:    domain.QuestionTypeMultipleChoice,
		Options: []string{"A. {}", "B. 1", "C. {1}"},
		Answer:  "ca",
		Tags:    []string{"sets"},
	}.ToQuestion(course.ID, uuid.New(), "fp-sets", now)
	inserted, err := s.CreateQuestions(ctx, []domain.Question{q})
	require.NoError(t, err)
	require.Len(t, inserted, 1)

	paper := &domain.Paper{
		ID:       uuid.New(),
		CourseID: course.ID,
		Title:    "Quiz 1",
		Items:    []domain.PaperItem{{QuestionID: q.ID, Position: 1, Score: decimal.NewFromInt(10)}},
	}
	require.NoError(t, s.CreatePaper(ctx, paper))

	pub := &domain.Publication{
		ID:              uuid.New(),
		PaperID:         paper.ID,
		Title:           "Quiz 1 (morning)",
		StartAt:         now.Add(-time.Hour),
		EndAt:           now.Add(time.Hour),
		DurationMinutes: 30,
		MaxAttempts:     2,
	}
	require.NoError(t, s.CreatePublication(ctx, pub))

	return fixture{course: course, question: q, paper: paper, pub: pub}
}

func TestQuestionsRoundTripAndDedup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	f := seed(t, s)

	got, err := s.GetQuestions(ctx, []uuid.UUID{f.question.ID})
	require.NoError(t, err)
	require.Contains(t, got, f.question.ID)
	q := got[f.question.ID]
	assert.Equal(t, domain.QuestionTypeMultipleChoice, q.Type)
	assert.Equal(t, "A,C", q.Answer)
	assert.Equal(t, []string{"A. {}", "B. 1", "C. {1}"}, q.Options)
	assert.Equal(t, []string{"sets"}, q.Tags)

	dup := f.question
	dup.ID = uuid.New()
	fresh := domain.CandidateQuestion{Content: "Is {} a set?", Type: domain.QuestionTypeTrueFalse, Answer: "yes"}.
		ToQuestion(f.course.ID, uuid.New(), "fp-empty", time.Now())
	inserted, err := s.CreateQuestions(ctx, []domain.Question{dup, fresh})
	require.NoError(t, err)
	require.Len(t, inserted, 1, "known fingerprint is skipped")
	assert.Equal(t, fresh.ID, inserted[0].ID)

	found, err := s.ExistingFingerprints(ctx, []string{"fp-sets", "fp-empty", "fp-none"})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"fp-sets": true, "fp-empty": true}, found)
}

func TestPaperAndPublication(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	f := seed(t, s)

	paper, err := s.GetPaper(ctx, f.paper.ID)
	require.NoError(t, err)
	require.Len(t, paper.Items, 1)
	assert.True(t, paper.MaxScore().Equal(decimal.NewFromInt(10)))

	pub, err := s.GetPublication(ctx, f.pub.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, pub.MaxAttempts)
	assert.True(t, pub.StartAt.Equal(f.pub.StartAt))

	_, err = s.GetPublication(ctx, uuid.New())
	assert.ErrorIs(t, err, store.ErrPublicationNotFound)
	_, err = s.GetCourse(ctx, uuid.New())
	assert.ErrorIs(t, err, store.ErrCourseNotFound)
}

func TestAttemptsAndAnswers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	f := seed(t, s)
	now := time.Now().UTC().Truncate(time.Second)
	student := uuid.New()

	a := domain.NewExamAttempt(student, f.pub, f.paper.MaxScore(), now)
	require.NoError(t, s.CreateAttempt(ctx, a))

	second := domain.NewExamAttempt(student, f.pub, f.paper.MaxScore(), now)
	assert.ErrorIs(t, s.CreateAttempt(ctx, second), store.ErrAttemptInProgress)

	rec := domain.NewAnswerRecord(a.ID, &f.question, f.paper.Items[0])
	require.NoError(t, s.CreateAnswers(ctx, []domain.AnswerRecord{rec}))

	rec.StudentAnswer = "a,c"
	rec.ScoreObjective(f.question.Answer, now)
	require.NoError(t, s.UpdateAnswer(ctx, &rec))

	records, err := s.ListAnswers(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, records[0].Graded)
	assert.True(t, records[0].Correct)
	assert.True(t, records[0].Score.Equal(decimal.NewFromInt(10)))

	require.NoError(t, a.MarkSubmitted(now))
	a.Score = domain.SumScores(records)
	require.NoError(t, s.UpdateAttempt(ctx, a))

	got, err := s.GetAttempt(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AttemptStatusSubmitted, got.Status)
	require.NotNil(t, got.SubmittedAt)
	assert.True(t, got.Score.Equal(decimal.NewFromInt(10)))

	count, err := s.CountAttempts(ctx, student, f.pub.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	stale, err := s.ListSubmittedBefore(ctx, now.Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, a.ID, stale[0].ID)

	_, err = s.FindInProgressAttempt(ctx, student, f.pub.ID)
	assert.ErrorIs(t, err, store.ErrAttemptNotFound)
}

func TestUpsertMistake(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	f := seed(t, s)
	student := uuid.New()

	m, err := s.UpsertMistake(ctx, student, f.question.ID, "B", time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, m.WrongCount)

	m2, err := s.UpsertMistake(ctx, student, f.question.ID, "A,B", time.Now())
	require.NoError(t, err)
	assert.Equal(t, 2, m2.WrongCount)
	assert.Equal(t, "A,B", m2.WrongAnswer)
	assert.Equal(t, m.ID, m2.ID)
}

func TestTaskGuards(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	task := &domain.Task{
		ID:          uuid.New(),
		Kind:        domain.TaskKindGeneration,
		RequesterID: uuid.New(),
		SubjectID:   uuid.New(),
		Target:      5,
		Status:      domain.TaskStatusInit,
		Payload:     []byte(`{"topic":"sets"}`),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, s.CreateTask(ctx, task))

	ok, err := s.MarkTaskRunning(ctx, task.ID, now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.AdvanceTask(ctx, task.ID, 3, now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.AdvanceTask(ctx, task.ID, 3, now)
	require.NoError(t, err)
	assert.False(t, ok)

	unfinished, err := s.ListUnfinishedTasks(ctx, domain.TaskKindGeneration)
	require.NoError(t, err)
	require.Len(t, unfinished, 1)

	ok, err = s.FinishTask(ctx, task.ID, domain.TaskStatusDone, "3 of 5", now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.FinishTask(ctx, task.ID, domain.TaskStatusFailed, "again", now)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Completed)
	assert.Equal(t, domain.TaskStatusDone, got.Status)
	assert.Equal(t, "3 of 5", got.Detail)
	assert.JSONEq(t, `{"topic":"sets"}`, string(got.Payload))
	assert.NotNil(t, got.FinishedAt)
}

func TestInTxRollback(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")
	id := uuid.New()

	err := s.InTx(ctx, func(ctx context.Context, tx store.Store) error {
		now := time.Now().UTC()
		require.NoError(t, tx.CreateTask(ctx, &domain.Task{
			ID: id, Kind: domain.TaskKindGrading, RequesterID: uuid.New(), SubjectID: uuid.New(),
			Target: 1, Status: domain.TaskStatusInit, CreatedAt: now, UpdatedAt: now,
		}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.GetTask(ctx, id)
	assert.ErrorIs(t, err, store.ErrTaskNotFound)
}
