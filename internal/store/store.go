package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/scry-exam/internal/domain"
)

// CourseStore reads course context for generation prompts.
type CourseStore interface {
	GetCourse(ctx context.Context, id uuid.UUID) (*domain.Course, error)
}

// QuestionStore persists question-bank items.
type QuestionStore interface {
	// ExistingFingerprints returns the subset of fingerprints already stored.
	ExistingFingerprints(ctx context.Context, fingerprints []string) (map[string]bool, error)

	// CreateQuestions inserts the questions in one batch, skipping any whose
	// fingerprint is already stored, and returns the rows actually inserted.
	CreateQuestions(ctx context.Context, questions []domain.Question) ([]domain.Question, error)

	// GetQuestions returns the questions with the given IDs, keyed by ID.
	GetQuestions(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*domain.Question, error)
}

// PaperStore reads papers and their publications.
type PaperStore interface {
	GetPaper(ctx context.Context, id uuid.UUID) (*domain.Paper, error)
	GetPublication(ctx context.Context, id uuid.UUID) (*domain.Publication, error)
}

// AttemptStore persists exam attempts.
type AttemptStore interface {
	// CreateAttempt inserts a new attempt. It returns ErrAttemptInProgress when
	// the student already has an in-progress attempt for the publication.
	CreateAttempt(ctx context.Context, attempt *domain.ExamAttempt) error

	GetAttempt(ctx context.Context, id uuid.UUID) (*domain.ExamAttempt, error)

	// GetAttemptForUpdate reads an attempt and, inside a transaction, locks
	// the row until the transaction ends.
	GetAttemptForUpdate(ctx context.Context, id uuid.UUID) (*domain.ExamAttempt, error)

	// FindInProgressAttempt returns the student's in-progress attempt for the
	// publication, or ErrAttemptNotFound.
	FindInProgressAttempt(ctx context.Context, studentID, publicationID uuid.UUID) (*domain.ExamAttempt, error)

	// CountAttempts counts attempts of any status.
	CountAttempts(ctx context.Context, studentID, publicationID uuid.UUID) (int, error)

	UpdateAttempt(ctx context.Context, attempt *domain.ExamAttempt) error

	// ListSubmittedBefore returns submitted attempts last updated before the cutoff.
	ListSubmittedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*domain.ExamAttempt, error)

	// ListOverdue returns in-progress attempts whose deadline is before the cutoff.
	ListOverdue(ctx context.Context, cutoff time.Time, limit int) ([]*domain.ExamAttempt, error)
}

// AnswerStore persists the answer records of attempts.
type AnswerStore interface {
	CreateAnswers(ctx context.Context, records []domain.AnswerRecord) error

	// ListAnswers returns the records of an attempt ordered by position.
	ListAnswers(ctx context.Context, attemptID uuid.UUID) ([]domain.AnswerRecord, error)

	UpdateAnswer(ctx context.Context, record *domain.AnswerRecord) error
}

// MistakeStore persists mistake-book entries.
type MistakeStore interface {
	// UpsertMistake creates the entry with WrongCount 1, or increments the
	// count and replaces the answer snapshot of the existing one.
	UpsertMistake(ctx context.Context, studentID, questionID uuid.UUID, answer string, now time.Time) (*domain.MistakeEntry, error)

	GetMistake(ctx context.Context, studentID, questionID uuid.UUID) (*domain.MistakeEntry, error)
}

// TaskStore persists task ledger records. The conditional updates return false
// when no row matched their guard, leaving interpretation to the caller.
type TaskStore interface {
	CreateTask(ctx context.Context, task *domain.Task) error
	GetTask(ctx context.Context, id uuid.UUID) (*domain.Task, error)

	// MarkTaskRunning moves an init record to running.
	MarkTaskRunning(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)

	// AdvanceTask adds delta to completed in a single statement, provided the
	// record is not terminal and the result stays within target.
	AdvanceTask(ctx context.Context, id uuid.UUID, delta int, now time.Time) (bool, error)

	// FinishTask sets a terminal status on a non-terminal record.
	FinishTask(ctx context.Context, id uuid.UUID, status domain.TaskStatus, detail string, now time.Time) (bool, error)

	// ListUnfinishedTasks returns init and running records of a kind, oldest first.
	ListUnfinishedTasks(ctx context.Context, kind domain.TaskKind) ([]*domain.Task, error)
}

// Store is the full persistence surface of the pipeline.
type Store interface {
	CourseStore
	QuestionStore
	PaperStore
	AttemptStore
	AnswerStore
	MistakeStore
	TaskStore

	// InTx runs fn against a Store bound to a single transaction. The
	// transaction commits when fn returns nil and rolls back otherwise.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
}
