package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AttemptStatus is the lifecycle state of an exam attempt.
type AttemptStatus string

// Attempt statuses in lifecycle order.
const (
	AttemptStatusNotStarted AttemptStatus = "not_started"
	AttemptStatusInProgress AttemptStatus = "in_progress"
	AttemptStatusSubmitted  AttemptStatus = "submitted"
	AttemptStatusGraded     AttemptStatus = "graded"
)

func (s AttemptStatus) rank() int {
	switch s {
	case AttemptStatusNotStarted:
		return 0
	case AttemptStatusInProgress:
		return 1
	case AttemptStatusSubmitted:
		return 2
	case AttemptStatusGraded:
		return 3
	}
	return -1
}

// Valid reports whether s is a known attempt status.
func (s AttemptStatus) Valid() bool {
	return s.rank() >= 0
}

// CanTransitionTo reports whether next is the state directly after s.
// Attempts only move forward, one step at a time.
func (s AttemptStatus) CanTransitionTo(next AttemptStatus) bool {
	if !s.Valid() || !next.Valid() {
		return false
	}
	return next.rank() == s.rank()+1
}

// ExamAttempt is one student's sitting of a publication.
type ExamAttempt struct {
	ID            uuid.UUID       `json:"id"`
	StudentID     uuid.UUID       `json:"student_id"`
	PublicationID uuid.UUID       `json:"publication_id"`
	PaperID       uuid.UUID       `json:"paper_id"`
	Status        AttemptStatus   `json:"status"`
	Score         decimal.Decimal `json:"score"`
	MaxScore      decimal.Decimal `json:"max_score"`
	StartedAt     time.Time       `json:"started_at"`
	Deadline      time.Time       `json:"deadline"`
	SubmittedAt   *time.Time      `json:"submitted_at,omitempty"`
	GradedAt      *time.Time      `json:"graded_at,omitempty"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// NewExamAttempt creates an in-progress attempt for the student.
func NewExamAttempt(studentID uuid.UUID, pub *Publication, maxScore decimal.Decimal, now time.Time) *ExamAttempt {
	return &ExamAttempt{
		ID:            uuid.New(),
		StudentID:     studentID,
		PublicationID: pub.ID,
		PaperID:       pub.PaperID,
		Status:        AttemptStatusInProgress,
		Score:         decimal.Zero,
		MaxScore:      maxScore,
		StartedAt:     now,
		Deadline:      pub.Deadline(now),
		UpdatedAt:     now,
	}
}

// transition moves the attempt forward or returns ErrInvalidTransition.
func (a *ExamAttempt) transition(next AttemptStatus, now time.Time) error {
	if !a.Status.CanTransitionTo(next) {
		return ErrInvalidTransition
	}
	a.Status = next
	a.UpdatedAt = now
	return nil
}

// MarkSubmitted moves an in-progress attempt to Submitted.
func (a *ExamAttempt) MarkSubmitted(now time.Time) error {
	if err := a.transition(AttemptStatusSubmitted, now); err != nil {
		return err
	}
	a.SubmittedAt = &now
	return nil
}

// MarkGraded moves a submitted attempt to Graded.
func (a *ExamAttempt) MarkGraded(now time.Time) error {
	if err := a.transition(AttemptStatusGraded, now); err != nil {
		return err
	}
	a.GradedAt = &now
	return nil
}

// IsFinal reports whether the attempt no longer accepts answers.
func (a *ExamAttempt) IsFinal() bool {
	return a.Status == AttemptStatusSubmitted || a.Status == AttemptStatusGraded
}

// Overdue reports whether now is past the deadline plus grace.
func (a *ExamAttempt) Overdue(now time.Time, grace time.Duration) bool {
	return now.After(a.Deadline.Add(grace))
}
