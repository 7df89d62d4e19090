package domain

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// QuestionType identifies how a question is answered and scored.
type QuestionType string

// Question types. The first three are objective and scored at submit time;
// the rest are open-ended and graded by the AI provider.
const (
	QuestionTypeSingleChoice   QuestionType = "single_choice"
	QuestionTypeMultipleChoice QuestionType = "multiple_choice"
	QuestionTypeTrueFalse      QuestionType = "true_false"
	QuestionTypeFillBlank      QuestionType = "fill_blank"
	QuestionTypeShortAnswer    QuestionType = "short_answer"
)

// AllQuestionTypes returns every question type in code order.
func AllQuestionTypes() []QuestionType {
	return []QuestionType{
		QuestionTypeSingleChoice,
		QuestionTypeMultipleChoice,
		QuestionTypeTrueFalse,
		QuestionTypeFillBlank,
		QuestionTypeShortAnswer,
	}
}

// numeric codes used by upstream generators
var questionTypeCodes = map[string]QuestionType{
	"1": QuestionTypeSingleChoice,
	"2": QuestionTypeMultipleChoice,
	"3": QuestionTypeTrueFalse,
	"4": QuestionTypeFillBlank,
	"5": QuestionTypeShortAnswer,
}

var questionTypeNames = map[string]QuestionType{
	"single_choice":     QuestionTypeSingleChoice,
	"single":            QuestionTypeSingleChoice,
	"single choice":     QuestionTypeSingleChoice,
	"choice":            QuestionTypeSingleChoice,
	"单选":                QuestionTypeSingleChoice,
	"单选题":               QuestionTypeSingleChoice,
	"multiple_choice":   QuestionTypeMultipleChoice,
	"multiple choice":   QuestionTypeMultipleChoice,
	"multiple":          QuestionTypeMultipleChoice,
	"multi":             QuestionTypeMultipleChoice,
	"多选":                QuestionTypeMultipleChoice,
	"多选题":               QuestionTypeMultipleChoice,
	"true_false":        QuestionTypeTrueFalse,
	"true/false":        QuestionTypeTrueFalse,
	"true false":        QuestionTypeTrueFalse,
	"boolean":           QuestionTypeTrueFalse,
	"judge":             QuestionTypeTrueFalse,
	"判断":                QuestionTypeTrueFalse,
	"判断题":               QuestionTypeTrueFalse,
	"fill_blank":        QuestionTypeFillBlank,
	"fill in the blank": QuestionTypeFillBlank,
	"fill":              QuestionTypeFillBlank,
	"blank":             QuestionTypeFillBlank,
	"填空":                QuestionTypeFillBlank,
	"填空题":               QuestionTypeFillBlank,
	"short_answer":      QuestionTypeShortAnswer,
	"short answer":      QuestionTypeShortAnswer,
	"essay":             QuestionTypeShortAnswer,
	"subjective":        QuestionTypeShortAnswer,
	"open":              QuestionTypeShortAnswer,
	"简答":                QuestionTypeShortAnswer,
	"简答题":               QuestionTypeShortAnswer,
}

// ParseQuestionType normalizes a type label to a QuestionType. Labels may be
// numeric codes ("1".."5") or names in several spellings. The boolean result is
// false when the label was not recognized and the single-choice default was used.
func ParseQuestionType(label string) (QuestionType, bool) {
	key := strings.ToLower(strings.TrimSpace(label))
	if t, ok := questionTypeCodes[key]; ok {
		return t, true
	}
	if t, ok := questionTypeNames[key]; ok {
		return t, true
	}
	return QuestionTypeSingleChoice, false
}

// Valid reports whether t is a known question type.
func (t QuestionType) Valid() bool {
	switch t {
	case QuestionTypeSingleChoice, QuestionTypeMultipleChoice, QuestionTypeTrueFalse,
		QuestionTypeFillBlank, QuestionTypeShortAnswer:
		return true
	}
	return false
}

// IsObjective reports whether answers of this type are scored by comparison
// with the canonical answer.
func (t QuestionType) IsObjective() bool {
	switch t {
	case QuestionTypeSingleChoice, QuestionTypeMultipleChoice, QuestionTypeTrueFalse:
		return true
	}
	return false
}

// IsOpenEnded reports whether answers of this type need AI grading.
func (t QuestionType) IsOpenEnded() bool {
	return t.Valid() && !t.IsObjective()
}

// Code returns the numeric code of the type as used in generator prompts.
func (t QuestionType) Code() int {
	for code, qt := range questionTypeCodes {
		if qt == t {
			n, _ := strconv.Atoi(code)
			return n
		}
	}
	return 0
}

// Question is a persisted question-bank item.
type Question struct {
	ID          uuid.UUID    `json:"id"`
	CourseID    uuid.UUID    `json:"course_id"`
	Type        QuestionType `json:"type"`
	Content     string       `json:"content"`
	Fingerprint string       `json:"fingerprint"`
	Options     []string     `json:"options"`
	Answer      string       `json:"answer"`
	Explanation string       `json:"explanation"`
	Difficulty  string       `json:"difficulty"`
	Tags        []string     `json:"tags"`
	CreatedBy   uuid.UUID    `json:"created_by"`
	CreatedAt   time.Time    `json:"created_at"`
}

// Validate checks the invariants of a question-bank item.
func (q *Question) Validate() error {
	if q.ID == uuid.Nil || q.CourseID == uuid.Nil {
		return ErrInvalidID
	}
	if strings.TrimSpace(q.Content) == "" || q.Fingerprint == "" {
		return ErrEmptyContent
	}
	if !q.Type.Valid() {
		return ErrValidation
	}
	return nil
}

// CandidateQuestion is a question proposed by the AI provider that has not yet
// passed deduplication.
type CandidateQuestion struct {
	Content     string
	Type        QuestionType
	Options     []string
	Answer      string
	Explanation string
	Difficulty  string
	Tags        []string
}

// ToQuestion converts an accepted candidate into a question-bank item.
func (c CandidateQuestion) ToQuestion(courseID, createdBy uuid.UUID, fingerprint string, now time.Time) Question {
	options := c.Options
	if options == nil {
		options = []string{}
	}
	tags := c.Tags
	if tags == nil {
		tags = []string{}
	}
	return Question{
		ID:          uuid.New(),
		CourseID:    courseID,
		Type:        c.Type,
		Content:     strings.TrimSpace(c.Content),
		Fingerprint: fingerprint,
		Options:     options,
		Answer:      NormalizeAnswer(c.Type, c.Answer),
		Explanation: c.Explanation,
		Difficulty:  c.Difficulty,
		Tags:        tags,
		CreatedBy:   createdBy,
		CreatedAt:   now,
	}
}

// NormalizeAnswer brings an answer into the canonical form for its type:
// upper-cased option letters for single choice, a sorted comma-separated
// letter set for multiple choice, "true"/"false" for true-false and trimmed
// text otherwise.
func NormalizeAnswer(t QuestionType, answer string) string {
	answer = strings.TrimSpace(answer)
	switch t {
	case QuestionTypeSingleChoice:
		return strings.ToUpper(answer)
	case QuestionTypeMultipleChoice:
		return strings.Join(answerSet(answer), ",")
	case QuestionTypeTrueFalse:
		if v, ok := parseTruth(answer); ok {
			return strconv.FormatBool(v)
		}
		return strings.ToLower(answer)
	default:
		return answer
	}
}

// AnswerMatches reports whether a student answer equals the canonical answer
// under the comparison rule of the question type.
func AnswerMatches(t QuestionType, canonical, given string) bool {
	if strings.TrimSpace(given) == "" {
		return false
	}
	switch t {
	case QuestionTypeMultipleChoice:
		want, got := answerSet(canonical), answerSet(given)
		if len(want) != len(got) {
			return false
		}
		for i := range want {
			if want[i] != got[i] {
				return false
			}
		}
		return true
	default:
		return NormalizeAnswer(t, canonical) == NormalizeAnswer(t, given)
	}
}

// answerSet splits a multiple-choice answer such as "A,C", "a c" or "CA" into a
// sorted, de-duplicated list of upper-case tokens.
func answerSet(answer string) []string {
	fields := strings.FieldsFunc(strings.ToUpper(answer), func(r rune) bool {
		return r == ',' || r == ' ' || r == ';' || r == '|' || r == '，' || r == '、'
	})
	if len(fields) == 1 && len(fields[0]) > 1 && isLetters(fields[0]) {
		fields = strings.Split(fields[0], "")
	}
	seen := make(map[string]struct{}, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

func isLetters(s string) bool {
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

func parseTruth(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "t", "yes", "y", "1", "correct", "right", "对", "正确", "√":
		return true, true
	case "false", "f", "no", "n", "0", "incorrect", "wrong", "错", "错误", "×":
		return false, true
	}
	return false, false
}
