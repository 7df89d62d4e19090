package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BlankAnswerComment is recorded for open-ended answers submitted empty.
const BlankAnswerComment = "no answer submitted"

// AnswerRecord holds one question of an attempt: the snapshot taken at start
// plus the student's answer and its grading outcome.
type AnswerRecord struct {
	ID            uuid.UUID       `json:"id"`
	AttemptID     uuid.UUID       `json:"attempt_id"`
	QuestionID    uuid.UUID       `json:"question_id"`
	Position      int             `json:"position"`
	QuestionType  QuestionType    `json:"question_type"`
	StudentAnswer string          `json:"student_answer"`
	Score         decimal.Decimal `json:"score"`
	MaxScore      decimal.Decimal `json:"max_score"`
	Graded        bool            `json:"graded"`
	Correct       bool            `json:"correct"`
	Comment       string          `json:"comment"`
	GradedAt      *time.Time      `json:"graded_at,omitempty"`
}

// NewAnswerRecord snapshots a paper item for an attempt.
func NewAnswerRecord(attemptID uuid.UUID, q *Question, item PaperItem) AnswerRecord {
	return AnswerRecord{
		ID:           uuid.New(),
		AttemptID:    attemptID,
		QuestionID:   q.ID,
		Position:     item.Position,
		QuestionType: q.Type,
		Score:        decimal.Zero,
		MaxScore:     item.Score,
	}
}

// ClampScore bounds score to [0, max].
func ClampScore(score, max decimal.Decimal) decimal.Decimal {
	if score.IsNegative() {
		return decimal.Zero
	}
	if score.GreaterThan(max) {
		return max
	}
	return score
}

// ApplyGrade records a grading outcome, clamping the score to [0, MaxScore].
func (r *AnswerRecord) ApplyGrade(score decimal.Decimal, comment string, now time.Time) {
	r.Score = ClampScore(score, r.MaxScore)
	r.Comment = comment
	r.Correct = r.Score.Equal(r.MaxScore)
	r.Graded = true
	r.GradedAt = &now
}

// ScoreObjective grades an objective record by comparing the student answer
// with the canonical one: full marks on a match, zero otherwise.
func (r *AnswerRecord) ScoreObjective(canonical string, now time.Time) {
	score := decimal.Zero
	if AnswerMatches(r.QuestionType, canonical, r.StudentAnswer) {
		score = r.MaxScore
	}
	r.ApplyGrade(score, "", now)
}

// NeedsAIGrading reports whether the record still waits for the AI grader.
func (r *AnswerRecord) NeedsAIGrading() bool {
	return r.QuestionType.IsOpenEnded() && !r.Graded
}

// IsBlank reports whether no answer was given.
func (r *AnswerRecord) IsBlank() bool {
	return strings.TrimSpace(r.StudentAnswer) == ""
}

// SumScores adds up the scores of graded records.
func SumScores(records []AnswerRecord) decimal.Decimal {
	total := decimal.Zero
	for _, r := range records {
		if r.Graded {
			total = total.Add(r.Score)
		}
	}
	return total
}

// AllGraded reports whether every record has been graded.
func AllGraded(records []AnswerRecord) bool {
	for _, r := range records {
		if !r.Graded {
			return false
		}
	}
	return true
}
