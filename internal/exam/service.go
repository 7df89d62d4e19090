package exam

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/scry-exam/internal/domain"
	"github.com/phrazzld/scry-exam/internal/notify"
	"github.com/phrazzld/scry-exam/internal/platform/logger"
	"github.com/phrazzld/scry-exam/internal/store"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
)

// ErrNilDependency is returned by the constructor.
var ErrNilDependency = errors.New("exam dependency cannot be nil")

// GradingScheduler queues AI grading for a submitted attempt.
type GradingScheduler interface {
	ScheduleGrading(ctx context.Context, attemptID, studentID uuid.UUID, pending int) (uuid.UUID, error)
}

// Config holds attempt rules.
type Config struct {
	DefaultMaxAttempts int
	SubmitGrace        time.Duration
	MistakeThreshold   float64
	// ExpireBatch caps how many overdue attempts one sweep submits.
	ExpireBatch int
}

// DefaultConfig returns the standard attempt rules.
func DefaultConfig() Config {
	return Config{
		DefaultMaxAttempts: 1,
		SubmitGrace:        2 * time.Minute,
		MistakeThreshold:   domain.DefaultMistakeThreshold,
		ExpireBatch:        100,
	}
}

// Service runs the attempt state machine.
type Service struct {
	store    store.Store
	grader   GradingScheduler
	notifier notify.Notifier
	config   Config
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates a Service.
func NewService(s store.Store, grader GradingScheduler, notifier notify.Notifier, config Config, logger *slog.Logger) (*Service, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: store", ErrNilDependency)
	}
	if grader == nil {
		return nil, fmt.Errorf("%w: grading scheduler", ErrNilDependency)
	}
	if logger == nil {
		return nil, fmt.Errorf("%w: logger", ErrNilDependency)
	}

	def := DefaultConfig()
	if config.DefaultMaxAttempts <= 0 {
		config.DefaultMaxAttempts = def.DefaultMaxAttempts
	}
	if config.SubmitGrace < 0 {
		config.SubmitGrace = 0
	}
	if config.MistakeThreshold <= 0 || config.MistakeThreshold > 1 {
		config.MistakeThreshold = def.MistakeThreshold
	}
	if config.ExpireBatch <= 0 {
		config.ExpireBatch = def.ExpireBatch
	}

	return &Service{
		store:    s,
		grader:   grader,
		notifier: notifier,
		config:   config,
		logger:   logger.With("component", "exam"),
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// Start starts a new attempt or resumes the student's in-progress one.
// Checks run in order: window, password, resume, attempt limit.
func (s *Service) Start(ctx context.Context, req StartRequest) (*AttemptView, error) {
	if err := check(req); err != nil {
		return nil, err
	}
	log := logger.FromContextOrDefault(ctx, s.logger).With(
		"student_id", req.StudentID, "publication_id", req.PublicationID)

	pub, err := s.store.GetPublication(ctx, req.PublicationID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if !pub.Open(now) {
		return nil, domain.ErrWindowClosed
	}
	if pub.RequiresPassword() {
		if req.Password == "" {
			return nil, domain.ErrAuthRequired
		}
		if err := bcrypt.CompareHashAndPassword([]byte(pub.PasswordHash), []byte(req.Password)); err != nil {
			log.Debug("publication password mismatch")
			return nil, domain.ErrAuthRequired
		}
	}

	existing, err := s.store.FindInProgressAttempt(ctx, req.StudentID, req.PublicationID)
	switch {
	case err == nil:
		if !existing.Overdue(now, s.config.SubmitGrace) {
			log.Info("resuming attempt", "attempt_id", existing.ID)
			return s.view(ctx, existing, true)
		}
		// an abandoned attempt past its deadline is submitted with what it has
		if _, err := s.submit(ctx, existing.ID, existing.StudentID, nil, false); err != nil {
			return nil, err
		}
	case !store.IsNotFoundError(err):
		return nil, fmt.Errorf("%w: find attempt: %v", domain.ErrPersistence, err)
	}

	count, err := s.store.CountAttempts(ctx, req.StudentID, req.PublicationID)
	if err != nil {
		return nil, fmt.Errorf("%w: count attempts: %v", domain.ErrPersistence, err)
	}
	if count >= pub.AttemptLimit(s.config.DefaultMaxAttempts) {
		return nil, domain.ErrAttemptLimitExceeded
	}

	paper, err := s.store.GetPaper(ctx, pub.PaperID)
	if err != nil {
		return nil, err
	}
	questions, err := s.store.GetQuestions(ctx, paperQuestionIDs(paper))
	if err != nil {
		return nil, fmt.Errorf("%w: load questions: %v", domain.ErrPersistence, err)
	}

	attempt := domain.NewExamAttempt(req.StudentID, pub, paper.MaxScore(), now)
	records := make([]domain.AnswerRecord, 0, len(paper.Items))
	for _, item := range paper.Items {
		q, ok := questions[item.QuestionID]
		if !ok {
			return nil, fmt.Errorf("%w: paper %s references missing question %s",
				domain.ErrPersistence, paper.ID, item.QuestionID)
		}
		records = append(records, domain.NewAnswerRecord(attempt.ID, q, item))
	}

	err = s.store.InTx(ctx, func(ctx context.Context, tx store.Store) error {
		if err := tx.CreateAttempt(ctx, attempt); err != nil {
			return err
		}
		return tx.CreateAnswers(ctx, records)
	})
	if errors.Is(err, store.ErrAttemptInProgress) {
		// a concurrent start won the race
		existing, ferr := s.store.FindInProgressAttempt(ctx, req.StudentID, req.PublicationID)
		if ferr != nil {
			return nil, fmt.Errorf("%w: find attempt: %v", domain.ErrPersistence, ferr)
		}
		return s.view(ctx, existing, true)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: create attempt: %v", domain.ErrPersistence, err)
	}

	log.Info("attempt started", "attempt_id", attempt.ID, "deadline", attempt.Deadline)
	return buildView(attempt, records, questions, false), nil
}

// SaveAnswers stores partial answers on an in-progress attempt.
func (s *Service) SaveAnswers(ctx context.Context, req SaveRequest) error {
	if err := check(req); err != nil {
		return err
	}

	return s.store.InTx(ctx, func(ctx context.Context, tx store.Store) error {
		attempt, err := tx.GetAttemptForUpdate(ctx, req.AttemptID)
		if err != nil {
			return err
		}
		if attempt.StudentID != req.StudentID {
			return domain.ErrNotOwned
		}
		if attempt.Status != domain.AttemptStatusInProgress {
			return fmt.Errorf("%w: attempt is %s", domain.ErrInvalidTransition, attempt.Status)
		}
		if attempt.Overdue(s.now(), s.config.SubmitGrace) {
			return domain.ErrWindowClosed
		}

		records, err := tx.ListAnswers(ctx, attempt.ID)
		if err != nil {
			return err
		}
		if err := checkAnswerKeys(records, req.Answers); err != nil {
			return err
		}
		for i := range records {
			ans, ok := req.Answers[records[i].QuestionID]
			if !ok || ans == records[i].StudentAnswer {
				continue
			}
			records[i].StudentAnswer = ans
			if err := tx.UpdateAnswer(ctx, &records[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// Submit finalizes the attempt. Submitting an attempt that is already
// submitted or graded succeeds without changing it.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	if err := check(req); err != nil {
		return nil, err
	}
	return s.submit(ctx, req.AttemptID, req.StudentID, req.Answers, true)
}

// submit runs the submission transaction and then hands any open-ended
// records to the grader.
func (s *Service) submit(
	ctx context.Context,
	attemptID, studentID uuid.UUID,
	answers map[uuid.UUID]string,
	enforceDeadline bool,
) (*SubmitResult, error) {
	log := logger.FromContextOrDefault(ctx, s.logger).With("attempt_id", attemptID)

	var (
		result  SubmitResult
		attempt *domain.ExamAttempt
	)
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Store) error {
		var err error
		attempt, err = tx.GetAttemptForUpdate(ctx, attemptID)
		if err != nil {
			return err
		}
		if attempt.StudentID != studentID {
			return domain.ErrNotOwned
		}

		if attempt.IsFinal() {
			records, err := tx.ListAnswers(ctx, attemptID)
			if err != nil {
				return err
			}
			result.AlreadySubmitted = true
			result.PendingGrading = countPending(records)
			return nil
		}

		now := s.now()
		if enforceDeadline && attempt.Overdue(now, s.config.SubmitGrace) {
			return domain.ErrWindowClosed
		}

		pending, err := s.scoreAndSubmit(ctx, tx, attempt, answers, now)
		if err != nil {
			return err
		}
		result.PendingGrading = pending
		return nil
	})
	if err != nil {
		if store.IsNotFoundError(err) || domain.IsCategory(err) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: submit attempt: %v", domain.ErrPersistence, err)
	}

	result.AttemptID = attempt.ID
	result.Status = attempt.Status
	result.Score = attempt.Score
	result.MaxScore = attempt.MaxScore
	if result.AlreadySubmitted {
		log.Debug("attempt already submitted")
		return &result, nil
	}

	log.Info("attempt submitted", "status", attempt.Status, "score", attempt.Score.String(),
		"pending_grading", result.PendingGrading)

	if attempt.Status == domain.AttemptStatusGraded {
		notifyGraded(ctx, s.notifier, attempt)
		return &result, nil
	}

	// the submission is durable; a scheduling failure is picked up by the retry sweep
	taskID, err := s.grader.ScheduleGrading(ctx, attempt.ID, attempt.StudentID, result.PendingGrading)
	if err != nil {
		log.Error("failed to schedule grading", "error", err)
	} else if taskID != uuid.Nil {
		result.GradingTaskID = &taskID
	}
	return &result, nil
}

// scoreAndSubmit applies the final answers, scores what can be scored now,
// and moves the attempt to submitted, or straight to graded when nothing is
// left for the AI grader. It returns the number of records still pending.
func (s *Service) scoreAndSubmit(
	ctx context.Context,
	tx store.Store,
	attempt *domain.ExamAttempt,
	answers map[uuid.UUID]string,
	now time.Time,
) (int, error) {
	records, err := tx.ListAnswers(ctx, attempt.ID)
	if err != nil {
		return 0, err
	}
	if err := checkAnswerKeys(records, answers); err != nil {
		return 0, err
	}

	ids := make([]uuid.UUID, len(records))
	for i := range records {
		ids[i] = records[i].QuestionID
	}
	questions, err := tx.GetQuestions(ctx, ids)
	if err != nil {
		return 0, err
	}

	pending := 0
	for i := range records {
		r := &records[i]
		if ans, ok := answers[r.QuestionID]; ok {
			r.StudentAnswer = ans
		}

		switch {
		case r.QuestionType.IsObjective():
			q, ok := questions[r.QuestionID]
			if !ok {
				return 0, fmt.Errorf("%w: question %s", store.ErrNotFound, r.QuestionID)
			}
			r.ScoreObjective(q.Answer, now)
		case r.IsBlank():
			r.ApplyGrade(decimal.Zero, domain.BlankAnswerComment, now)
		default:
			pending++
			if err := tx.UpdateAnswer(ctx, r); err != nil {
				return 0, err
			}
			continue
		}

		if err := tx.UpdateAnswer(ctx, r); err != nil {
			return 0, err
		}
		if domain.BelowThreshold(r.Score, r.MaxScore, s.config.MistakeThreshold) {
			if _, err := tx.UpsertMistake(ctx, attempt.StudentID, r.QuestionID, r.StudentAnswer, now); err != nil {
				return 0, err
			}
		}
	}

	attempt.Score = domain.SumScores(records)
	if err := attempt.MarkSubmitted(now); err != nil {
		return 0, err
	}
	if pending == 0 {
		if err := attempt.MarkGraded(now); err != nil {
			return 0, err
		}
	}
	if err := tx.UpdateAttempt(ctx, attempt); err != nil {
		return 0, err
	}
	return pending, nil
}

// GetAttempt returns the attempt and its records to the owning student.
// Canonical answers are not part of the records.
func (s *Service) GetAttempt(ctx context.Context, attemptID, studentID uuid.UUID) (*AttemptDetail, error) {
	attempt, err := s.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if attempt.StudentID != studentID {
		return nil, domain.ErrNotOwned
	}
	records, err := s.store.ListAnswers(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("%w: list answers: %v", domain.ErrPersistence, err)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Position < records[j].Position })
	return &AttemptDetail{Attempt: attempt, Answers: records}, nil
}

// ExpireOverdue submits in-progress attempts whose deadline plus grace has
// passed, using their saved answers. It is meant to run from the sweeper.
func (s *Service) ExpireOverdue(ctx context.Context) error {
	cutoff := s.now().Add(-s.config.SubmitGrace)
	attempts, err := s.store.ListOverdue(ctx, cutoff, s.config.ExpireBatch)
	if err != nil {
		return fmt.Errorf("%w: list overdue attempts: %v", domain.ErrPersistence, err)
	}

	for _, a := range attempts {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := s.submit(ctx, a.ID, a.StudentID, nil, false); err != nil {
			s.logger.Error("failed to expire overdue attempt", "attempt_id", a.ID, "error", err)
			continue
		}
		s.logger.Info("overdue attempt submitted", "attempt_id", a.ID)
	}
	return nil
}

func (s *Service) view(ctx context.Context, attempt *domain.ExamAttempt, resumed bool) (*AttemptView, error) {
	records, err := s.store.ListAnswers(ctx, attempt.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: list answers: %v", domain.ErrPersistence, err)
	}
	ids := make([]uuid.UUID, len(records))
	for i := range records {
		ids[i] = records[i].QuestionID
	}
	questions, err := s.store.GetQuestions(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("%w: load questions: %v", domain.ErrPersistence, err)
	}
	return buildView(attempt, records, questions, resumed), nil
}

func buildView(
	attempt *domain.ExamAttempt,
	records []domain.AnswerRecord,
	questions map[uuid.UUID]*domain.Question,
	resumed bool,
) *AttemptView {
	v := &AttemptView{
		AttemptID:     attempt.ID,
		PublicationID: attempt.PublicationID,
		Status:        attempt.Status,
		StartedAt:     attempt.StartedAt,
		Deadline:      attempt.Deadline,
		MaxScore:      attempt.MaxScore,
		Resumed:       resumed,
		Questions:     make([]QuestionView, 0, len(records)),
	}
	for _, r := range records {
		qv := QuestionView{
			QuestionID:  r.QuestionID,
			Position:    r.Position,
			Type:        r.QuestionType,
			MaxScore:    r.MaxScore,
			SavedAnswer: r.StudentAnswer,
		}
		if q, ok := questions[r.QuestionID]; ok {
			qv.Content = q.Content
			qv.Options = q.Options
		}
		v.Questions = append(v.Questions, qv)
	}
	sort.Slice(v.Questions, func(i, j int) bool { return v.Questions[i].Position < v.Questions[j].Position })
	return v
}

func paperQuestionIDs(p *domain.Paper) []uuid.UUID {
	ids := make([]uuid.UUID, len(p.Items))
	for i, it := range p.Items {
		ids[i] = it.QuestionID
	}
	return ids
}

func checkAnswerKeys(records []domain.AnswerRecord, answers map[uuid.UUID]string) error {
	if len(answers) == 0 {
		return nil
	}
	known := make(map[uuid.UUID]bool, len(records))
	for _, r := range records {
		known[r.QuestionID] = true
	}
	for id := range answers {
		if !known[id] {
			return fmt.Errorf("%w: question %s is not part of this attempt", domain.ErrValidation, id)
		}
	}
	return nil
}

func countPending(records []domain.AnswerRecord) int {
	n := 0
	for i := range records {
		if records[i].NeedsAIGrading() {
			n++
		}
	}
	return n
}

func notifyGraded(ctx context.Context, n notify.Notifier, a *domain.ExamAttempt) {
	notify.Send(ctx, n, notify.New(a.StudentID, "Exam graded",
		fmt.Sprintf("Your score: %s / %s", a.Score.String(), a.MaxScore.String()),
		map[string]any{
			"attempt_id": a.ID.String(),
			"score":      a.Score.String(),
			"max_score":  a.MaxScore.String(),
		}))
}
