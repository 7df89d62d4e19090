package gemini

import (
	"fmt"

	"github.com/phrazzld/scry-exam/internal/domain"
)

// Error definitions for the gemini package. All wrap domain.ErrExternalService.
var (
	// ErrInvalidResponse is returned when the model response is empty or malformed.
	ErrInvalidResponse = fmt.Errorf("%w: invalid response from language model", domain.ErrExternalService)

	// ErrContentBlocked is returned when the model blocks the content due to safety filters.
	ErrContentBlocked = fmt.Errorf("%w: content blocked by language model safety filters", domain.ErrExternalService)

	// ErrTransientFailure is returned when retries are exhausted on temporary errors.
	ErrTransientFailure = fmt.Errorf("%w: transient language model failure", domain.ErrExternalService)

	// ErrIndexUnsupported is returned by IndexContent.
	ErrIndexUnsupported = fmt.Errorf("%w: knowledge indexing not supported by gemini", domain.ErrExternalService)
)
