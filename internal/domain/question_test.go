package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestParseQuestionType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		label string
		want  QuestionType
		known bool
	}{
		{"1", QuestionTypeSingleChoice, true},
		{"2", QuestionTypeMultipleChoice, true},
		{" 3 ", QuestionTypeTrueFalse, true},
		{"4", QuestionTypeFillBlank, true},
		{"5", QuestionTypeShortAnswer, true},
		{"Multiple Choice", QuestionTypeMultipleChoice, true},
		{"true/false", QuestionTypeTrueFalse, true},
		{"essay", QuestionTypeShortAnswer, true},
		{"判断题", QuestionTypeTrueFalse, true},
		{"short_answer", QuestionTypeShortAnswer, true},
		{"", QuestionTypeSingleChoice, false},
		{"9", QuestionTypeSingleChoice, false},
		{"matching", QuestionTypeSingleChoice, false},
	}

	for _, tc := range tests {
		t.Run(tc.label, func(t *testing.T) {
			got, known := ParseQuestionType(tc.label)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.known, known)
		})
	}
}

func TestQuestionTypeClassification(t *testing.T) {
	t.Parallel()

	assert.True(t, QuestionTypeSingleChoice.IsObjective())
	assert.True(t, QuestionTypeMultipleChoice.IsObjective())
	assert.True(t, QuestionTypeTrueFalse.IsObjective())
	assert.True(t, QuestionTypeFillBlank.IsOpenEnded())
	assert.True(t, QuestionTypeShortAnswer.IsOpenEnded())
	assert.False(t, QuestionType("bogus").IsOpenEnded())
	assert.Equal(t, 2, QuestionTypeMultipleChoice.Code())
}

func TestAnswerMatches(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		qt        QuestionType
		canonical string
		given     string
		want      bool
	}{
		{"single exact", QuestionTypeSingleChoice, "B", "B", true},
		{"single case insensitive", QuestionTypeSingleChoice, "B", " b ", true},
		{"single wrong", QuestionTypeSingleChoice, "B", "C", false},
		{"multi same set different order", QuestionTypeMultipleChoice, "A,C", "C,A", true},
		{"multi packed letters", QuestionTypeMultipleChoice, "A,C,D", "dca", true},
		{"multi subset", QuestionTypeMultipleChoice, "A,C", "A", false},
		{"multi superset", QuestionTypeMultipleChoice, "A,C", "A,B,C", false},
		{"true false synonyms", QuestionTypeTrueFalse, "true", "对", true},
		{"true false mismatch", QuestionTypeTrueFalse, "false", "yes", false},
		{"blank never matches", QuestionTypeSingleChoice, "A", "  ", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, AnswerMatches(tc.qt, tc.canonical, tc.given))
		})
	}
}

func TestCandidateToQuestion(t *testing.T) {
	t.Parallel()

	courseID, author := uuid.New(), uuid.New()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	c := CandidateQuestion{
		Content: "  Which are primes?  ",
		Type:    QuestionTypeMultipleChoice,
		Answer:  "c, a",
	}

	q := c.ToQuestion(courseID, author, "fp", now)

	assert.NotEqual(t, uuid.Nil, q.ID)
	assert.Equal(t, "Which are primes?", q.Content)
	assert.Equal(t, "A,C", q.Answer)
	assert.NotNil(t, q.Options, "missing options normalize to an empty list")
	assert.Empty(t, q.Options)
	assert.NotNil(t, q.Tags)
	assert.NoError(t, q.Validate())
}
