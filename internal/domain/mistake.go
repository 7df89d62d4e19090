package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultMistakeThreshold is the fraction of the maximum score below which an
// answer is recorded in the mistake book.
const DefaultMistakeThreshold = 0.6

// MistakeEntry is one question in a student's mistake book. There is at most
// one entry per student and question.
type MistakeEntry struct {
	ID          uuid.UUID `json:"id"`
	StudentID   uuid.UUID `json:"student_id"`
	QuestionID  uuid.UUID `json:"question_id"`
	WrongAnswer string    `json:"wrong_answer"`
	WrongCount  int       `json:"wrong_count"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NewMistakeEntry creates the first entry for a student and question.
func NewMistakeEntry(studentID, questionID uuid.UUID, answer string, now time.Time) *MistakeEntry {
	return &MistakeEntry{
		ID:          uuid.New(),
		StudentID:   studentID,
		QuestionID:  questionID,
		WrongAnswer: answer,
		WrongCount:  1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Recur records another low score: the count grows and the snapshot is
// replaced by the latest answer.
func (m *MistakeEntry) Recur(answer string, now time.Time) {
	m.WrongCount++
	m.WrongAnswer = answer
	m.UpdatedAt = now
}

// BelowThreshold reports whether score is below threshold*max.
func BelowThreshold(score, max decimal.Decimal, threshold float64) bool {
	return score.LessThan(max.Mul(decimal.NewFromFloat(threshold)))
}
