package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Course is the context questions are generated for.
type Course struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
}

// PaperItem places a question on a paper with the score it is worth.
type PaperItem struct {
	QuestionID uuid.UUID       `json:"question_id"`
	Position   int             `json:"position"`
	Score      decimal.Decimal `json:"score"`
}

// Paper is an ordered selection of questions.
type Paper struct {
	ID       uuid.UUID   `json:"id"`
	CourseID uuid.UUID   `json:"course_id"`
	Title    string      `json:"title"`
	Items    []PaperItem `json:"items"`
}

// MaxScore returns the sum of the item scores.
func (p *Paper) MaxScore() decimal.Decimal {
	total := decimal.Zero
	for _, it := range p.Items {
		total = total.Add(it.Score)
	}
	return total
}

// Publication makes a paper available to students inside a time window.
type Publication struct {
	ID              uuid.UUID `json:"id"`
	PaperID         uuid.UUID `json:"paper_id"`
	Title           string    `json:"title"`
	StartAt         time.Time `json:"start_at"`
	EndAt           time.Time `json:"end_at"`
	DurationMinutes int       `json:"duration_minutes"`
	MaxAttempts     int       `json:"max_attempts"`
	PasswordHash    string    `json:"-"`
}

// Open reports whether now lies within [StartAt, EndAt).
func (p *Publication) Open(now time.Time) bool {
	return !now.Before(p.StartAt) && now.Before(p.EndAt)
}

// RequiresPassword reports whether starting an attempt needs a password.
func (p *Publication) RequiresPassword() bool {
	return p.PasswordHash != ""
}

// AttemptLimit returns the attempt cap, falling back to def when the
// publication does not set one.
func (p *Publication) AttemptLimit(def int) int {
	if p.MaxAttempts > 0 {
		return p.MaxAttempts
	}
	if def <= 0 {
		return 1
	}
	return def
}

// Deadline returns the latest time an attempt started at startedAt may be
// submitted: the earlier of the window end and the time limit.
func (p *Publication) Deadline(startedAt time.Time) time.Time {
	if p.DurationMinutes <= 0 {
		return p.EndAt
	}
	limit := startedAt.Add(time.Duration(p.DurationMinutes) * time.Minute)
	if limit.Before(p.EndAt) {
		return limit
	}
	return p.EndAt
}
