package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/scry-exam/internal/dedup"
	"github.com/phrazzld/scry-exam/internal/domain"
	"github.com/phrazzld/scry-exam/internal/gateway"
	"github.com/phrazzld/scry-exam/internal/notify"
	"github.com/phrazzld/scry-exam/internal/platform/logger"
	"github.com/phrazzld/scry-exam/internal/store"
	"github.com/phrazzld/scry-exam/internal/task"
)

// Config tunes the batch loop.
type Config struct {
	// BatchSize is the most questions requested per gateway call.
	BatchSize int
	// MaxConsecutiveFailures ends the job after that many failed batches in a row.
	MaxConsecutiveFailures int
	// PacingDelay separates consecutive batches of one job.
	PacingDelay time.Duration
	// KnowledgeDatasetID is the index accepted questions are mirrored into.
	// Mirroring is skipped when empty.
	KnowledgeDatasetID string
}

// DefaultConfig returns the standard batch settings.
func DefaultConfig() Config {
	return Config{
		BatchSize:              10,
		MaxConsecutiveFailures: 3,
		PacingDelay:            2 * time.Second,
	}
}

// Orchestrator starts generation jobs and runs them on the task runner.
type Orchestrator struct {
	store     store.Store
	gateway   gateway.Gateway
	creds     gateway.Credentials
	ledger    *task.Ledger
	submitter task.Submitter
	notifier  notify.Notifier
	checker   *dedup.Checker
	config    Config
	logger    *slog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
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
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}
	if config.MaxConsecutiveFailures <= 0 {
		config.MaxConsecutiveFailures = def.MaxConsecutiveFailures
	}
	if config.PacingDelay < 0 {
		config.PacingDelay = 0
	}

	return &Orchestrator{
		store:     s,
		gateway:   gw,
		creds:     creds,
		ledger:    ledger,
		submitter: submitter,
		notifier:  notifier,
		checker:   dedup.NewChecker(s),
		config:    config,
		logger:    logger.With("component", "generation"),
		now:       func() time.Time { return time.Now().UTC() },
		sleep:     sleepContext,
	}, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// StartGeneration validates the request, records it in the ledger and queues
// the job. It returns the ledger record ID without waiting for generation.
// A missing generation credential fails here, before any record is written.
func (o *Orchestrator) StartGeneration(ctx context.Context, req Request) (uuid.UUID, error) {
	log := logger.FromContextOrDefault(ctx, o.logger)

	if err := req.Validate(); err != nil {
		return uuid.Nil, err
	}
	if _, err := gateway.ResolveKey(o.creds, gateway.CapabilityGeneration); err != nil {
		log.Error("generation credential unavailable", "error", err)
		return uuid.Nil, err
	}
	if _, err := o.store.GetCourse(ctx, req.CourseID); err != nil {
		return uuid.Nil, fmt.Errorf("load course: %w", err)
	}

	rec, err := o.ledger.Create(ctx, domain.TaskKindGeneration, req.RequesterID, req.CourseID, req.TotalCount, req)
	if err != nil {
		return uuid.Nil, err
	}

	job := &Job{taskID: rec.ID, request: req, orchestrator: o}
	if err := o.submitter.Submit(context.WithoutCancel(ctx), job); err != nil {
		log.Error("failed to submit generation job", "task_id", rec.ID, "error", err)
		if cerr := o.ledger.Complete(ctx, rec.ID, domain.TaskStatusFailed, "job could not be queued: "+err.Error()); cerr != nil {
			log.Error("failed to mark unqueued task as failed", "task_id", rec.ID, "error", cerr)
		}
		return uuid.Nil, fmt.Errorf("submit generation job: %w", err)
	}

	log.Info("generation task accepted",
		"task_id", rec.ID,
		"course_id", req.CourseID,
		"total_count", req.TotalCount)
	return rec.ID, nil
}

// Recover implements task.Recoverer: unfinished generation records are
// rebuilt into jobs that resume from their completed count.
func (o *Orchestrator) Recover(ctx context.Context) ([]task.Task, error) {
	records, err := o.ledger.Unfinished(ctx, domain.TaskKindGeneration)
	if err != nil {
		return nil, err
	}

	jobs := make([]task.Task, 0, len(records))
	for _, rec := range records {
		var req Request
		if err := json.Unmarshal(rec.Payload, &req); err != nil {
			o.logger.Error("unreadable generation payload, failing task", "task_id", rec.ID, "error", err)
			if cerr := o.ledger.Complete(ctx, rec.ID, domain.TaskStatusFailed, "unreadable task payload"); cerr != nil {
				o.logger.Error("failed to fail task", "task_id", rec.ID, "error", cerr)
			}
			continue
		}
		jobs = append(jobs, &Job{taskID: rec.ID, request: req, orchestrator: o})
	}
	return jobs, nil
}

// run executes the batch loop for one ledger record.
func (o *Orchestrator) run(ctx context.Context, taskID uuid.UUID, req Request) error {
	log := logger.FromContextOrDefault(ctx, o.logger).With("task_id", taskID)

	rec, err := o.ledger.Get(ctx, taskID)
	if err != nil {
		return err
	}
	if rec.Status.IsTerminal() {
		log.Info("generation task already finished", "status", rec.Status)
		return nil
	}
	if err := o.ledger.Start(ctx, taskID); err != nil {
		return err
	}

	apiKey, err := gateway.ResolveKey(o.creds, gateway.CapabilityGeneration)
	if err != nil {
		return o.finish(ctx, rec, rec.Completed, domain.TaskStatusFailed, err.Error(), req)
	}
	course, err := o.store.GetCourse(ctx, req.CourseID)
	if err != nil {
		if store.IsNotFoundError(err) {
			return o.finish(ctx, rec, rec.Completed, domain.TaskStatusFailed, "course no longer exists", req)
		}
		return fmt.Errorf("%w: load course: %v", domain.ErrPersistence, err)
	}

	completed := rec.Completed
	failures := 0
	var lastErr error

	for batch := 0; completed < rec.Target && failures < o.config.MaxConsecutiveFailures; batch++ {
		if batch > 0 {
			if err := o.sleep(ctx, o.config.PacingDelay); err != nil {
				// interrupted: the record stays unfinished and resumes on recovery
				return err
			}
		}

		want := min(o.config.BatchSize, rec.Target-completed)
		inserted, err := o.runBatch(ctx, apiKey, course, req, taskID, want, rec.Target-completed)
		switch {
		case task.IsFinished(err):
			log.Info("generation task finished elsewhere, stopping")
			return nil
		case errors.Is(err, domain.ErrConfiguration):
			return o.finish(ctx, rec, completed, domain.TaskStatusFailed, err.Error(), req)
		case errors.Is(err, domain.ErrPersistence), errors.Is(err, domain.ErrState):
			log.Error("generation stopped", "completed", completed, "error", err)
			return err
		case err != nil && ctx.Err() != nil:
			// interrupted mid-batch: not a failed batch, the record resumes on recovery
			log.Info("generation interrupted", "completed", completed, "error", err)
			return ctx.Err()
		case err != nil:
			failures++
			lastErr = err
			log.Warn("generation batch failed",
				"batch", batch,
				"consecutive_failures", failures,
				"error", err)
			continue
		case inserted == 0:
			failures++
			lastErr = ErrNoNewQuestions
			log.Warn("generation batch produced no new questions",
				"batch", batch,
				"consecutive_failures", failures)
			continue
		}

		failures = 0
		completed += inserted
		log.Info("generation batch persisted",
			"batch", batch,
			"inserted", inserted,
			"completed", completed,
			"target", rec.Target)
	}

	if failures >= o.config.MaxConsecutiveFailures {
		detail := fmt.Sprintf("stopped after %d consecutive failed batches: %v", failures, lastErr)
		return o.finish(ctx, rec, completed, domain.TaskStatusFailed, detail, req)
	}
	if completed == 0 {
		return o.finish(ctx, rec, completed, domain.TaskStatusFailed, "no questions generated", req)
	}
	return o.finish(ctx, rec, completed, domain.TaskStatusDone, "", req)
}

// runBatch requests want candidates and persists the new ones, at most
// remaining. It returns how many questions were inserted.
func (o *Orchestrator) runBatch(
	ctx context.Context,
	apiKey string,
	course *domain.Course,
	req Request,
	taskID uuid.UUID,
	want, remaining int,
) (int, error) {
	log := logger.FromContextOrDefault(ctx, o.logger)

	res, err := o.gateway.RunWorkflow(ctx, gateway.WorkflowRequest{
		APIKey:     apiKey,
		Capability: gateway.CapabilityGeneration,
		Inputs: gateway.Inputs{
			"course":             course.Name,
			"course_description": course.Description,
			"topic":              req.Topic,
			"difficulty":         req.Difficulty,
			"types":              req.typeLabels(),
			"count":              want,
		},
		ActorID: req.RequesterID.String(),
	})
	if err != nil {
		return 0, err
	}

	parsed, err := gateway.ParseCandidates(res.Text)
	if err != nil {
		return 0, err
	}

	candidates := make([]domain.CandidateQuestion, 0, len(parsed))
	for _, p := range parsed {
		if !p.TypeRecognized {
			log.Warn("unrecognized question type, defaulting to single choice",
				"raw_type", p.RawType,
				"run_id", res.RunID)
		}
		candidates = append(candidates, p.CandidateQuestion)
	}

	accepted, err := o.checker.FilterNew(ctx, candidates)
	if err != nil {
		return 0, err
	}

	now := o.now()
	questions := make([]domain.Question, 0, len(accepted))
	for _, a := range accepted {
		if len(questions) == remaining {
			break
		}
		q := a.Candidate.ToQuestion(req.CourseID, req.RequesterID, a.Fingerprint, now)
		if err := q.Validate(); err != nil {
			log.Debug("discarding invalid candidate", "error", err)
			continue
		}
		questions = append(questions, q)
	}
	if len(questions) == 0 {
		return 0, nil
	}

	var inserted []domain.Question
	err = o.store.InTx(ctx, func(ctx context.Context, tx store.Store) error {
		rows, err := tx.CreateQuestions(ctx, questions)
		if err != nil {
			return fmt.Errorf("%w: persist questions: %v", domain.ErrPersistence, err)
		}
		inserted = rows
		return o.ledger.WithStore(tx).Advance(ctx, taskID, len(rows))
	})
	if err != nil {
		return 0, err
	}

	// rows skipped by a concurrent insert of the same fingerprint are not mirrored
	if len(inserted) > 0 {
		o.mirror(ctx, inserted, req)
	}
	return len(inserted), nil
}

// mirror copies accepted questions into the knowledge index. Failures are
// logged and never affect the job.
func (o *Orchestrator) mirror(ctx context.Context, questions []domain.Question, req Request) {
	if o.config.KnowledgeDatasetID == "" {
		return
	}
	log := logger.FromContextOrDefault(ctx, o.logger)

	key, err := gateway.ResolveKey(o.creds, gateway.CapabilityKnowledge)
	if err != nil {
		log.Debug("knowledge mirroring skipped", "error", err)
		return
	}
	for _, q := range questions {
		label := fmt.Sprintf("%s-%s", req.Topic, q.Fingerprint[:12])
		if err := o.gateway.IndexContent(ctx, key, o.config.KnowledgeDatasetID, q.Content, label); err != nil {
			log.Warn("knowledge mirroring failed", "question_id", q.ID, "error", err)
		}
	}
}

// finish records the outcome and notifies the requester.
func (o *Orchestrator) finish(
	ctx context.Context,
	rec *domain.Task,
	completed int,
	status domain.TaskStatus,
	detail string,
	req Request,
) error {
	if err := o.ledger.Complete(ctx, rec.ID, status, detail); err != nil {
		if task.IsFinished(err) {
			return nil
		}
		return err
	}

	title := "Question generation finished"
	if status == domain.TaskStatusFailed {
		title = "Question generation failed"
	}
	body := fmt.Sprintf("Generated %d of %d questions on %q.", completed, rec.Target, req.Topic)
	if detail != "" {
		body += " " + detail
	}
	notify.Send(ctx, o.notifier, notify.New(req.RequesterID, title, body, map[string]any{
		"task_id":   rec.ID.String(),
		"kind":      string(domain.TaskKindGeneration),
		"status":    string(status),
		"completed": completed,
		"total":     rec.Target,
	}))
	return nil
}
