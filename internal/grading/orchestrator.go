package grading

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/scry-exam/internal/domain"
	"github.com/phrazzld/scry-exam/internal/gateway"
	"github.com/phrazzld/scry-exam/internal/notify"
	"github.com/phrazzld/scry-exam/internal/platform/logger"
	"github.com/phrazzld/scry-exam/internal/store"
	"github.com/phrazzld/scry-exam/internal/task"
	"github.com/shopspring/decimal"
)

// ErrNilDependency is returned by the constructor.
var ErrNilDependency = errors.New("grading dependency cannot be nil")

// Config tunes grading.
type Config struct {
	// MistakeThreshold is the fraction of the maximum score below which an
	// answer goes into the mistake book.
	MistakeThreshold float64
	// RetryAge is how long an attempt may stay submitted before the sweep
	// schedules another grading pass.
	RetryAge time.Duration
	// SweepBatch caps how many attempts one sweep schedules.
	SweepBatch int
}

// DefaultConfig returns the standard grading settings.
func DefaultConfig() Config {
	return Config{
		MistakeThreshold: domain.DefaultMistakeThreshold,
		RetryAge:         10 * time.Minute,
		SweepBatch:       50,
	}
}

// Orchestrator schedules and runs grading passes.
type Orchestrator struct {
	store     store.Store
	gateway   gateway.Gateway
	creds     gateway.Credentials
	ledger    *task.Ledger
	submitter task.Submitter
	notifier  notify.Notifier
	config    Config
	logger    *slog.Logger
	now       func() time.Time

	// inFlight holds the attempts with a queued or running pass.
	inFlight sync.Map
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(
	s store.Store,
	gw gateway.Gateway,
	creds gateway.Credentials,
	ledger *task.Ledger,
	submitter task.Submitter,
	notifier notify.Notifier,
	config Config,
	logger *slog.Logger,
) (*Orchestrator, error) {
	switch {
	case s == nil:
		return nil, fmt.Errorf("%w: store", ErrNilDependency)
	case gw == nil:
		return nil, fmt.Errorf("%w: gateway", ErrNilDependency)
	case ledger == nil:
		return nil, fmt.Errorf("%w: ledger", ErrNilDependency)
	case submitter == nil:
		return nil, fmt.Errorf("%w: submitter", ErrNilDependency)
	case logger == nil:
		return nil, fmt.Errorf("%w: logger", ErrNilDependency)
	}

	def := DefaultConfig()
	if config.MistakeThreshold <= 0 || config.MistakeThreshold > 1 {
		config.MistakeThreshold = def.MistakeThreshold
	}
	if config.RetryAge <= 0 {
		config.RetryAge = def.RetryAge
	}
	if config.SweepBatch <= 0 {
		config.SweepBatch = def.SweepBatch
	}

	return &Orchestrator{
		store:     s,
		gateway:   gw,
		creds:     creds,
		ledger:    ledger,
		submitter: submitter,
		notifier:  notifier,
		config:    config,
		logger:    logger.With("component", "grading"),
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// ScheduleGrading records a grading pass for the attempt and queues it.
// pending is the number of records waiting for AI grading. It returns
// uuid.Nil without error when a pass for the attempt is already in flight.
func (o *Orchestrator) ScheduleGrading(ctx context.Context, attemptID, studentID uuid.UUID, pending int) (uuid.UUID, error) {
	log := logger.FromContextOrDefault(ctx, o.logger).With("attempt_id", attemptID)

	if _, busy := o.inFlight.LoadOrStore(attemptID, struct{}{}); busy {
		log.Debug("grading already in flight, not scheduling")
		return uuid.Nil, nil
	}

	rec, err := o.ledger.Create(ctx, domain.TaskKindGrading, studentID, attemptID, pending, nil)
	if err != nil {
		o.inFlight.Delete(attemptID)
		return uuid.Nil, err
	}

	job := &Job{taskID: rec.ID, attemptID: attemptID, orchestrator: o}
	if err := o.submitter.Submit(context.WithoutCancel(ctx), job); err != nil {
		o.inFlight.Delete(attemptID)
		if cerr := o.ledger.Complete(ctx, rec.ID, domain.TaskStatusFailed, "job could not be queued: "+err.Error()); cerr != nil {
			log.Error("failed to mark unqueued task as failed", "task_id", rec.ID, "error", cerr)
		}
		return uuid.Nil, fmt.Errorf("submit grading job: %w", err)
	}

	log.Info("grading scheduled", "task_id", rec.ID, "pending", pending)
	return rec.ID, nil
}

// Recover implements task.Recoverer. Interrupted grading records are failed
// rather than resumed; the retry sweep schedules a fresh pass for any attempt
// they left submitted.
func (o *Orchestrator) Recover(ctx context.Context) ([]task.Task, error) {
	records, err := o.ledger.Unfinished(ctx, domain.TaskKindGrading)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		if err := o.ledger.Complete(ctx, rec.ID, domain.TaskStatusFailed, "interrupted by restart"); err != nil && !task.IsFinished(err) {
			o.logger.Error("failed to close interrupted grading task", "task_id", rec.ID, "error", err)
		}
	}
	if len(records) > 0 {
		o.logger.Info("closed interrupted grading tasks", "count", len(records))
	}
	return nil, nil
}

// RetryUngraded schedules a pass for attempts that have stayed submitted
// longer than the retry age. It is meant to run from the sweeper.
func (o *Orchestrator) RetryUngraded(ctx context.Context) error {
	cutoff := o.now().Add(-o.config.RetryAge)
	attempts, err := o.store.ListSubmittedBefore(ctx, cutoff, o.config.SweepBatch)
	if err != nil {
		return fmt.Errorf("%w: list stale attempts: %v", domain.ErrPersistence, err)
	}

	for _, a := range attempts {
		if _, busy := o.inFlight.Load(a.ID); busy {
			continue
		}
		records, err := o.store.ListAnswers(ctx, a.ID)
		if err != nil {
			o.logger.Error("failed to load answers for retry", "attempt_id", a.ID, "error", err)
			continue
		}
		if _, err := o.ScheduleGrading(ctx, a.ID, a.StudentID, countPending(records)); err != nil {
			o.logger.Error("failed to schedule grading retry", "attempt_id", a.ID, "error", err)
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

// GradeOpenEnded runs one grading pass over the attempt and records the
// outcome in the ledger record taskID.
func (o *Orchestrator) GradeOpenEnded(ctx context.Context, attemptID, taskID uuid.UUID) error {
	log := logger.FromContextOrDefault(ctx, o.logger).With("attempt_id", attemptID, "task_id", taskID)

	attempt, err := o.store.GetAttempt(ctx, attemptID)
	if err != nil {
		if store.IsNotFoundError(err) {
			return o.complete(ctx, taskID, domain.TaskStatusFailed, "attempt not found")
		}
		return fmt.Errorf("%w: load attempt: %v", domain.ErrPersistence, err)
	}
	switch attempt.Status {
	case domain.AttemptStatusGraded:
		return o.complete(ctx, taskID, domain.TaskStatusDone, "attempt already graded")
	case domain.AttemptStatusSubmitted:
	default:
		return o.complete(ctx, taskID, domain.TaskStatusFailed,
			fmt.Sprintf("attempt is %s, not submitted", attempt.Status))
	}

	if err := o.ledger.Start(ctx, taskID); err != nil {
		if task.IsFinished(err) {
			return nil
		}
		return err
	}

	records, err := o.store.ListAnswers(ctx, attemptID)
	if err != nil {
		return fmt.Errorf("%w: load answers: %v", domain.ErrPersistence, err)
	}

	var pending []domain.AnswerRecord
	ids := make([]uuid.UUID, 0, len(records))
	for _, r := range records {
		if r.NeedsAIGrading() {
			pending = append(pending, r)
			ids = append(ids, r.QuestionID)
		}
	}

	var ungraded int
	if len(pending) > 0 {
		apiKey, err := gateway.ResolveKey(o.creds, gateway.CapabilityGrading)
		if err != nil {
			log.Error("grading credential unavailable", "error", err)
			return o.complete(ctx, taskID, domain.TaskStatusFailed, err.Error())
		}
		questions, err := o.store.GetQuestions(ctx, ids)
		if err != nil {
			return fmt.Errorf("%w: load questions: %v", domain.ErrPersistence, err)
		}

		ungraded, err = o.gradeRecords(ctx, attempt, pending, questions, apiKey, taskID)
		if err != nil {
			return err
		}
	}

	promoted, err := o.finalize(ctx, attemptID)
	if err != nil {
		return err
	}

	if ungraded > 0 || !promoted {
		detail := fmt.Sprintf("%d of %d records left ungraded", ungraded, len(pending))
		log.Warn("grading pass incomplete", "ungraded", ungraded, "pending", len(pending))
		return o.complete(ctx, taskID, domain.TaskStatusFailed, detail)
	}
	return o.complete(ctx, taskID, domain.TaskStatusDone, "")
}

// gradeRecords grades each pending record in order. A failed gateway call
// leaves its record ungraded and moves on. It returns the number left ungraded.
func (o *Orchestrator) gradeRecords(
	ctx context.Context,
	attempt *domain.ExamAttempt,
	pending []domain.AnswerRecord,
	questions map[uuid.UUID]*domain.Question,
	apiKey string,
	taskID uuid.UUID,
) (int, error) {
	log := logger.FromContextOrDefault(ctx, o.logger).With("attempt_id", attempt.ID)
	ungraded := 0

	for i := range pending {
		rec := pending[i]
		if err := ctx.Err(); err != nil {
			return ungraded + len(pending) - i, nil
		}

		q, ok := questions[rec.QuestionID]
		if !ok {
			log.Error("question missing for answer record", "question_id", rec.QuestionID)
			ungraded++
			continue
		}

		if rec.IsBlank() {
			rec.ApplyGrade(decimal.Zero, domain.BlankAnswerComment, o.now())
		} else {
			grade, err := o.requestGrade(ctx, apiKey, attempt.StudentID, q, &rec)
			if err != nil {
				log.Warn("record left ungraded", "question_id", rec.QuestionID, "error", err)
				ungraded++
				continue
			}
			rec.ApplyGrade(grade.Score, grade.Comment, o.now())
		}

		if err := o.persistGrade(ctx, attempt.StudentID, &rec); err != nil {
			return 0, err
		}
		if err := o.ledger.Advance(ctx, taskID, 1); err != nil {
			log.Warn("failed to advance grading progress", "error", err)
		}
	}
	return ungraded, nil
}

func (o *Orchestrator) requestGrade(
	ctx context.Context,
	apiKey string,
	studentID uuid.UUID,
	q *domain.Question,
	rec *domain.AnswerRecord,
) (gateway.Grade, error) {
	res, err := o.gateway.RunWorkflow(ctx, gateway.WorkflowRequest{
		APIKey:     apiKey,
		Capability: gateway.CapabilityGrading,
		Inputs: gateway.Inputs{
			"question":         q.Content,
			"reference_answer": q.Answer,
			"student_answer":   rec.StudentAnswer,
			"max_score":        rec.MaxScore.String(),
		},
		ActorID: studentID.String(),
	})
	if err != nil {
		return gateway.Grade{}, err
	}
	return gateway.ParseGrade(res.Text)
}

// persistGrade writes the record and, for a low score, the mistake-book entry
// in one transaction.
func (o *Orchestrator) persistGrade(ctx context.Context, studentID uuid.UUID, rec *domain.AnswerRecord) error {
	err := o.store.InTx(ctx, func(ctx context.Context, tx store.Store) error {
		if err := tx.UpdateAnswer(ctx, rec); err != nil {
			return err
		}
		if domain.BelowThreshold(rec.Score, rec.MaxScore, o.config.MistakeThreshold) {
			if _, err := tx.UpsertMistake(ctx, studentID, rec.QuestionID, rec.StudentAnswer, o.now()); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: persist grade: %v", domain.ErrPersistence, err)
	}
	return nil
}

// finalize recomputes the attempt total from its records and promotes the
// attempt to graded when every record is graded. It reports whether the
// attempt is graded afterwards.
func (o *Orchestrator) finalize(ctx context.Context, attemptID uuid.UUID) (bool, error) {
	var graded *domain.ExamAttempt
	err := o.store.InTx(ctx, func(ctx context.Context, tx store.Store) error {
		attempt, err := tx.GetAttemptForUpdate(ctx, attemptID)
		if err != nil {
			return err
		}
		if attempt.Status != domain.AttemptStatusSubmitted {
			return nil
		}
		records, err := tx.ListAnswers(ctx, attemptID)
		if err != nil {
			return err
		}

		now := o.now()
		attempt.Score = domain.SumScores(records)
		attempt.UpdatedAt = now
		if domain.AllGraded(records) {
			if err := attempt.MarkGraded(now); err != nil {
				return err
			}
			graded = attempt
		}
		return tx.UpdateAttempt(ctx, attempt)
	})
	if err != nil {
		return false, fmt.Errorf("%w: finalize attempt: %v", domain.ErrPersistence, err)
	}

	if graded == nil {
		a, err := o.store.GetAttempt(ctx, attemptID)
		if err != nil {
			return false, fmt.Errorf("%w: reload attempt: %v", domain.ErrPersistence, err)
		}
		return a.Status == domain.AttemptStatusGraded, nil
	}

	o.logger.Info("attempt graded", "attempt_id", attemptID, "score", graded.Score.String())
	notify.Send(ctx, o.notifier, notify.New(graded.StudentID, "Exam graded",
		fmt.Sprintf("Your score: %s / %s", graded.Score.String(), graded.MaxScore.String()),
		map[string]any{
			"attempt_id": graded.ID.String(),
			"score":      graded.Score.String(),
			"max_score":  graded.MaxScore.String(),
		}))
	return true, nil
}

func (o *Orchestrator) complete(ctx context.Context, taskID uuid.UUID, status domain.TaskStatus, detail string) error {
	err := o.ledger.Complete(ctx, taskID, status, detail)
	if task.IsFinished(err) {
		return nil
	}
	return err
}
