package exam

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/scry-exam/internal/domain"
	"github.com/phrazzld/scry-exam/internal/notify"
	"github.com/phrazzld/scry-exam/internal/platform/logger"
	"github.com/phrazzld/scry-exam/internal/platform/memory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type mockScheduler struct {
	calls             []scheduleCall
	ScheduleGradingFn func(ctx context.Context, attemptID, studentID uuid.UUID, pending int) (uuid.UUID, error)
}

type scheduleCall struct {
	attemptID uuid.UUID
	pending   int
}

func (m *mockScheduler) ScheduleGrading(ctx context.Context, attemptID, studentID uuid.UUID, pending int) (uuid.UUID, error) {
	m.calls = append(m.calls, scheduleCall{attemptID: attemptID, pending: pending})
	if m.ScheduleGradingFn != nil {
		return m.ScheduleGradingFn(ctx, attemptID, studentID, pending)
	}
	return uuid.New(), nil
}

type recordingNotifier struct {
	sent []notify.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n notify.Notification) error {
	r.sent = append(r.sent, n)
	return nil
}

type fixture struct {
	store     *memory.Store
	scheduler *mockScheduler
	notifier  *recordingNotifier
	svc       *Service
	student   uuid.UUID
	now       time.Time

	single domain.Question
	truth  domain.Question
	essay  domain.Question
	paper  domain.Paper
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:     memory.New(),
		scheduler: &mockScheduler{},
		notifier:  &recordingNotifier{},
		student:   uuid.New(),
		now:       time.Now().UTC(),
	}
	course := domain.Course{ID: uuid.New(), Name: "Biology"}
	f.store.PutCourse(course)

	f.single = domain.Question{
		ID: uuid.New(), CourseID: course.ID, Type: domain.QuestionTypeSingleChoice,
		Content: "Powerhouse of the cell?", Fingerprint: "fp-1",
		Options: []string{"A. Nucleus", "B. Mitochondria"}, Answer: "B",
		Explanation: "ATP synthesis", CreatedAt: f.now,
	}
	f.truth = domain.Question{
		ID: uuid.New(), CourseID: course.ID, Type: domain.QuestionTypeTrueFalse,
		Content: "DNA is double stranded.", Fingerprint: "fp-2", Answer: "true", CreatedAt: f.now,
	}
	f.essay = domain.Question{
		ID: uuid.New(), CourseID: course.ID, Type: domain.QuestionTypeShortAnswer,
		Content: "Describe osmosis.", Fingerprint: "fp-3", Answer: "water across a membrane", CreatedAt: f.now,
	}
	for _, q := range []domain.Question{f.single, f.truth, f.essay} {
		f.store.PutQuestion(q)
	}

	f.paper = domain.Paper{ID: uuid.New(), CourseID: course.ID, Title: "Quiz", Items: []domain.PaperItem{
		{QuestionID: f.single.ID, Position: 1, Score: decimal.NewFromInt(2)},
		{QuestionID: f.truth.ID, Position: 2, Score: decimal.NewFromInt(3)},
		{QuestionID: f.essay.ID, Position: 3, Score: decimal.NewFromInt(5)},
	}}
	f.store.PutPaper(f.paper)

	var err error
	f.svc, err = NewService(f.store, f.scheduler, f.notifier, DefaultConfig(), logger.Discard())
	require.NoError(t, err)
	f.svc.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) publish(mutate func(p *domain.Publication)) domain.Publication {
	p := domain.Publication{
		ID: uuid.New(), PaperID: f.paper.ID, Title: "Quiz",
		StartAt: f.now.Add(-time.Hour), EndAt: f.now.Add(2 * time.Hour),
		DurationMinutes: 30, MaxAttempts: 3,
	}
	if mutate != nil {
		mutate(&p)
	}
	f.store.PutPublication(p)
	return p
}

func (f *fixture) start(t *testing.T, pub domain.Publication) *AttemptView {
	t.Helper()
	v, err := f.svc.Start(context.Background(), StartRequest{StudentID: f.student, PublicationID: pub.ID})
	require.NoError(t, err)
	return v
}

func TestStartOutsideWindowCreatesNoAttempt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for name, mutate := range map[string]func(p *domain.Publication){
		"elapsed":      func(p *domain.Publication) { p.StartAt, p.EndAt = f.now.Add(-2*time.Hour), f.now.Add(-time.Hour) },
		"not yet":      func(p *domain.Publication) { p.StartAt, p.EndAt = f.now.Add(time.Hour), f.now.Add(2*time.Hour) },
		"end boundary": func(p *domain.Publication) { p.EndAt = f.now },
	} {
		t.Run(name, func(t *testing.T) {
			pub := f.publish(mutate)
			_, err := f.svc.Start(ctx, StartRequest{StudentID: f.student, PublicationID: pub.ID})
			assert.ErrorIs(t, err, domain.ErrWindowClosed)

			n, err := f.store.CountAttempts(ctx, f.student, pub.ID)
			require.NoError(t, err)
			assert.Zero(t, n)
		})
	}
}

func TestStartReturnsAnswerableView(t *testing.T) {
	f := newFixture(t)
	pub := f.publish(nil)

	v := f.start(t, pub)
	assert.False(t, v.Resumed)
	assert.Equal(t, domain.AttemptStatusInProgress, v.Status)
	assert.True(t, v.MaxScore.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, f.now.Add(30*time.Minute), v.Deadline)
	require.Len(t, v.Questions, 3)
	assert.Equal(t, f.single.ID, v.Questions[0].QuestionID)
	assert.Equal(t, f.single.Options, v.Questions[0].Options)
	assert.Equal(t, f.essay.Content, v.Questions[2].Content)
}

func TestStartResumesWithSavedAnswers(t *testing.T) {
	f := newFixture(t)
	pub := f.publish(nil)
	ctx := context.Background()

	first := f.start(t, pub)
	require.NoError(t, f.svc.SaveAnswers(ctx, SaveRequest{
		AttemptID: first.AttemptID, StudentID: f.student,
		Answers: map[uuid.UUID]string{f.essay.ID: "draft about membranes"},
	}))

	again := f.start(t, pub)
	assert.True(t, again.Resumed)
	assert.Equal(t, first.AttemptID, again.AttemptID)
	assert.Equal(t, "draft about membranes", again.Questions[2].SavedAnswer)

	n, err := f.store.CountAttempts(ctx, f.student, pub.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestStartChecksPassword(t *testing.T) {
	f := newFixture(t)
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	pub := f.publish(func(p *domain.Publication) { p.PasswordHash = string(hash) })
	ctx := context.Background()

	_, err = f.svc.Start(ctx, StartRequest{StudentID: f.student, PublicationID: pub.ID})
	assert.ErrorIs(t, err, domain.ErrAuthRequired)

	_, err = f.svc.Start(ctx, StartRequest{StudentID: f.student, PublicationID: pub.ID, Password: "guess"})
	assert.ErrorIs(t, err, domain.ErrAuthRequired)

	v, err := f.svc.Start(ctx, StartRequest{StudentID: f.student, PublicationID: pub.ID, Password: "s3cret"})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, v.AttemptID)
}

func TestStartEnforcesAttemptLimit(t *testing.T) {
	f := newFixture(t)
	pub := f.publish(func(p *domain.Publication) { p.MaxAttempts = 1 })
	ctx := context.Background()

	v := f.start(t, pub)
	_, err := f.svc.Submit(ctx, SubmitRequest{AttemptID: v.AttemptID, StudentID: f.student})
	require.NoError(t, err)

	_, err = f.svc.Start(ctx, StartRequest{StudentID: f.student, PublicationID: pub.ID})
	assert.ErrorIs(t, err, domain.ErrAttemptLimitExceeded)
}

func TestSubmitScoresObjectiveAndSchedulesGrading(t *testing.T) {
	f := newFixture(t)
	pub := f.publish(nil)
	ctx := context.Background()
	v := f.start(t, pub)

	res, err := f.svc.Submit(ctx, SubmitRequest{AttemptID: v.AttemptID, StudentID: f.student,
		Answers: map[uuid.UUID]string{
			f.single.ID: "b",
			f.truth.ID:  "no",
			f.essay.ID:  "water moves toward higher solute concentration",
		}})
	require.NoError(t, err)
	assert.Equal(t, domain.AttemptStatusSubmitted, res.Status)
	assert.True(t, res.Score.Equal(decimal.NewFromInt(2)))
	assert.Equal(t, 1, res.PendingGrading)
	require.NotNil(t, res.GradingTaskID)

	require.Len(t, f.scheduler.calls, 1)
	assert.Equal(t, scheduleCall{attemptID: v.AttemptID, pending: 1}, f.scheduler.calls[0])

	entry, err := f.store.GetMistake(ctx, f.student, f.truth.ID)
	require.NoError(t, err)
	assert.Equal(t, "no", entry.WrongAnswer)
	_, err = f.store.GetMistake(ctx, f.student, f.single.ID)
	assert.Error(t, err)

	detail, err := f.svc.GetAttempt(ctx, v.AttemptID, f.student)
	require.NoError(t, err)
	assert.True(t, detail.Attempt.Score.Equal(domain.SumScores(detail.Answers)))
	require.NotNil(t, detail.Attempt.SubmittedAt)
}

func TestSubmitWithoutOpenEndedWorkIsGradedImmediately(t *testing.T) {
	f := newFixture(t)
	pub := f.publish(nil)
	ctx := context.Background()
	v := f.start(t, pub)

	res, err := f.svc.Submit(ctx, SubmitRequest{AttemptID: v.AttemptID, StudentID: f.student,
		Answers: map[uuid.UUID]string{f.single.ID: "B", f.truth.ID: "T", f.essay.ID: "  "}})
	require.NoError(t, err)
	assert.Equal(t, domain.AttemptStatusGraded, res.Status)
	assert.True(t, res.Score.Equal(decimal.NewFromInt(5)))
	assert.Zero(t, res.PendingGrading)
	assert.Empty(t, f.scheduler.calls)

	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, f.student, f.notifier.sent[0].UserID)

	detail, err := f.svc.GetAttempt(ctx, v.AttemptID, f.student)
	require.NoError(t, err)
	assert.Equal(t, domain.BlankAnswerComment, detail.Answers[2].Comment)
}

func TestSubmitIsIdempotent(t *testing.T) {
	f := newFixture(t)
	pub := f.publish(nil)
	ctx := context.Background()
	v := f.start(t, pub)
	req := SubmitRequest{AttemptID: v.AttemptID, StudentID: f.student,
		Answers: map[uuid.UUID]string{f.single.ID: "B", f.essay.ID: "an answer"}}

	first, err := f.svc.Submit(ctx, req)
	require.NoError(t, err)
	before, err := f.svc.GetAttempt(ctx, v.AttemptID, f.student)
	require.NoError(t, err)

	req.Answers = map[uuid.UUID]string{f.single.ID: "A"}
	second, err := f.svc.Submit(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.AlreadySubmitted)
	assert.Equal(t, first.Status, second.Status)
	assert.True(t, first.Score.Equal(second.Score))

	after, err := f.svc.GetAttempt(ctx, v.AttemptID, f.student)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Len(t, f.scheduler.calls, 1)
}

func TestSubmitRejectsOtherStudents(t *testing.T) {
	f := newFixture(t)
	pub := f.publish(nil)
	v := f.start(t, pub)

	_, err := f.svc.Submit(context.Background(), SubmitRequest{AttemptID: v.AttemptID, StudentID: uuid.New()})
	assert.ErrorIs(t, err, domain.ErrNotOwned)

	_, err = f.svc.GetAttempt(context.Background(), v.AttemptID, uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotOwned)
}

func TestSubmitRejectsUnknownQuestion(t *testing.T) {
	f := newFixture(t)
	pub := f.publish(nil)
	v := f.start(t, pub)

	_, err := f.svc.Submit(context.Background(), SubmitRequest{AttemptID: v.AttemptID, StudentID: f.student,
		Answers: map[uuid.UUID]string{uuid.New(): "x"}})
	assert.ErrorIs(t, err, domain.ErrValidation)

	detail, err := f.svc.GetAttempt(context.Background(), v.AttemptID, f.student)
	require.NoError(t, err)
	assert.Equal(t, domain.AttemptStatusInProgress, detail.Attempt.Status)
}

func TestSubmitAfterDeadlineAndExpiry(t *testing.T) {
	f := newFixture(t)
	pub := f.publish(nil)
	ctx := context.Background()
	v := f.start(t, pub)
	require.NoError(t, f.svc.SaveAnswers(ctx, SaveRequest{AttemptID: v.AttemptID, StudentID: f.student,
		Answers: map[uuid.UUID]string{f.single.ID: "B", f.essay.ID: "saved essay"}}))

	f.now = f.now.Add(time.Hour)

	_, err := f.svc.Submit(ctx, SubmitRequest{AttemptID: v.AttemptID, StudentID: f.student})
	assert.ErrorIs(t, err, domain.ErrWindowClosed)
	err = f.svc.SaveAnswers(ctx, SaveRequest{AttemptID: v.AttemptID, StudentID: f.student,
		Answers: map[uuid.UUID]string{}})
	assert.ErrorIs(t, err, domain.ErrWindowClosed)

	require.NoError(t, f.svc.ExpireOverdue(ctx))

	detail, err := f.svc.GetAttempt(ctx, v.AttemptID, f.student)
	require.NoError(t, err)
	assert.Equal(t, domain.AttemptStatusSubmitted, detail.Attempt.Status)
	assert.True(t, detail.Attempt.Score.Equal(decimal.NewFromInt(2)))
	assert.Equal(t, "saved essay", detail.Answers[2].StudentAnswer)
	require.Len(t, f.scheduler.calls, 1)
}

func TestSubmitSurvivesSchedulingFailure(t *testing.T) {
	f := newFixture(t)
	f.scheduler.ScheduleGradingFn = func(context.Context, uuid.UUID, uuid.UUID, int) (uuid.UUID, error) {
		return uuid.Nil, errors.New("queue closed")
	}
	pub := f.publish(nil)
	v := f.start(t, pub)

	res, err := f.svc.Submit(context.Background(), SubmitRequest{AttemptID: v.AttemptID, StudentID: f.student,
		Answers: map[uuid.UUID]string{f.essay.ID: "text"}})
	require.NoError(t, err)
	assert.Equal(t, domain.AttemptStatusSubmitted, res.Status)
	assert.Nil(t, res.GradingTaskID)
}
