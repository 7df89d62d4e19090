package exam

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/phrazzld/scry-exam/internal/domain"
	"github.com/shopspring/decimal"
)

var validate = validator.New()

// StartRequest asks to start or resume an attempt.
type StartRequest struct {
	StudentID     uuid.UUID `json:"-"        validate:"required"`
	PublicationID uuid.UUID `json:"-"        validate:"required"`
	Password      string    `json:"password" validate:"max=200"`
}

// SaveRequest stores partial answers on an in-progress attempt.
type SaveRequest struct {
	AttemptID uuid.UUID            `json:"-"       validate:"required"`
	StudentID uuid.UUID            `json:"-"       validate:"required"`
	Answers   map[uuid.UUID]string `json:"answers" validate:"required,dive,max=20000"`
}

// SubmitRequest finalizes an attempt. Answers override any saved ones.
type SubmitRequest struct {
	AttemptID uuid.UUID            `json:"-"       validate:"required"`
	StudentID uuid.UUID            `json:"-"       validate:"required"`
	Answers   map[uuid.UUID]string `json:"answers" validate:"dive,max=20000"`
}

func check(v any) error {
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	return nil
}

// QuestionView is the answerable part of a question. It never carries the
// canonical answer or the explanation.
type QuestionView struct {
	QuestionID  uuid.UUID           `json:"question_id"`
	Position    int                 `json:"position"`
	Type        domain.QuestionType `json:"type"`
	Content     string              `json:"content"`
	Options     []string            `json:"options"`
	MaxScore    decimal.Decimal     `json:"max_score"`
	SavedAnswer string              `json:"saved_answer,omitempty"`
}

// AttemptView is what a student sees after starting or resuming.
type AttemptView struct {
	AttemptID     uuid.UUID            `json:"attempt_id"`
	PublicationID uuid.UUID            `json:"publication_id"`
	Status        domain.AttemptStatus `json:"status"`
	StartedAt     time.Time            `json:"started_at"`
	Deadline      time.Time            `json:"deadline"`
	MaxScore      decimal.Decimal      `json:"max_score"`
	Resumed       bool                 `json:"resumed"`
	Questions     []QuestionView       `json:"questions"`
}

// SubmitResult acknowledges a submission.
type SubmitResult struct {
	AttemptID        uuid.UUID            `json:"attempt_id"`
	Status           domain.AttemptStatus `json:"status"`
	Score            decimal.Decimal      `json:"score"`
	MaxScore         decimal.Decimal      `json:"max_score"`
	PendingGrading   int                  `json:"pending_grading"`
	GradingTaskID    *uuid.UUID           `json:"grading_task_id,omitempty"`
	AlreadySubmitted bool                 `json:"already_submitted"`
}

// AttemptDetail is an attempt with its records, for its owner.
type AttemptDetail struct {
	Attempt *domain.ExamAttempt   `json:"attempt"`
	Answers []domain.AnswerRecord `json:"answers"`
}
