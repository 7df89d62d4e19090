package generation

import (
	"errors"
	"fmt"

	"github.com/phrazzld/scry-exam/internal/domain"
)

// Common errors returned by the generation package
var (
	// ErrInvalidRequest is returned when a generation request fails validation.
	ErrInvalidRequest = fmt.Errorf("%w: invalid generation request", domain.ErrValidation)

	// ErrNoNewQuestions marks a batch in which every candidate was a duplicate
	// or malformed. It counts against the failure budget.
	ErrNoNewQuestions = errors.New("batch produced no new questions")

	// ErrNilDependency is returned by the constructor.
	ErrNilDependency = errors.New("generation dependency cannot be nil")
)
