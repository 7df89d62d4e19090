package generation

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/phrazzld/scry-exam/internal/domain"
)

var validate = validator.New()

// Request describes a generation job. It is stored as the ledger payload so
// an interrupted job can be rebuilt after a restart.
type Request struct {
	CourseID      uuid.UUID             `json:"course_id"      validate:"required"`
	Topic         string                `json:"topic"          validate:"required,max=500"`
	TotalCount    int                   `json:"total_count"    validate:"required,gte=1,lte=500"`
	Difficulty    string                `json:"difficulty"     validate:"omitempty,max=50"`
	QuestionTypes []domain.QuestionType `json:"question_types" validate:"dive,required"`
	RequesterID   uuid.UUID             `json:"requester_id"   validate:"required"`
}

// Validate checks the request and normalizes its question types.
func (r *Request) Validate() error {
	r.Topic = strings.TrimSpace(r.Topic)
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	for i, t := range r.QuestionTypes {
		parsed, ok := domain.ParseQuestionType(string(t))
		if !ok {
			return fmt.Errorf("%w: unknown question type %q", ErrInvalidRequest, t)
		}
		r.QuestionTypes[i] = parsed
	}
	return nil
}

// typeLabels returns the requested types for the prompt, or every type when
// none were requested.
func (r *Request) typeLabels() string {
	types := r.QuestionTypes
	if len(types) == 0 {
		types = domain.AllQuestionTypes()
	}
	labels := make([]string, len(types))
	for i, t := range types {
		labels[i] = fmt.Sprintf("%d (%s)", t.Code(), t)
	}
	return strings.Join(labels, ", ")
}
