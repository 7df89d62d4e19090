package api

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/phrazzld/scry-exam/internal/api/shared"
	"github.com/phrazzld/scry-exam/internal/auth"
	"github.com/phrazzld/scry-exam/internal/domain"
	"github.com/phrazzld/scry-exam/internal/generation"
)

// GenerationStarter starts question generation jobs.
type GenerationStarter interface {
	StartGeneration(ctx context.Context, req generation.Request) (uuid.UUID, error)
}

// TaskReader reads ledger records.
type TaskReader interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Task, error)
}

// StartGenerationRequest is the body of POST /api/generation-tasks.
type StartGenerationRequest struct {
	CourseID      uuid.UUID `json:"course_id"      validate:"required"`
	Topic         string    `json:"topic"          validate:"required,max=500"`
	TotalCount    int       `json:"total_count"    validate:"required,gte=1,lte=500"`
	Difficulty    string    `json:"difficulty"     validate:"omitempty,max=50"`
	QuestionTypes []string  `json:"question_types" validate:"dive,required"`
}

// TaskAcceptedResponse acknowledges an accepted background job.
type TaskAcceptedResponse struct {
	TaskID uuid.UUID `json:"task_id"`
}

// GenerationHandler serves generation jobs and task progress.
type GenerationHandler struct {
	generator GenerationStarter
	tasks     TaskReader
}

// NewGenerationHandler creates a GenerationHandler.
func NewGenerationHandler(generator GenerationStarter, tasks TaskReader) *GenerationHandler {
	return &GenerationHandler{generator: generator, tasks: tasks}
}

// StartGeneration handles POST /api/generation-tasks.
func (h *GenerationHandler) StartGeneration(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFrom(r.Context())
	if !ok {
		HandleAPIError(w, r, auth.ErrInvalidToken, "")
		return
	}

	var req StartGenerationRequest
	if !decodeBody(w, r, &req) {
		return
	}

	types := make([]domain.QuestionType, len(req.QuestionTypes))
	for i, t := range req.QuestionTypes {
		types[i] = domain.QuestionType(t)
	}

	taskID, err := h.generator.StartGeneration(r.Context(), generation.Request{
		CourseID:      req.CourseID,
		Topic:         req.Topic,
		TotalCount:    req.TotalCount,
		Difficulty:    req.Difficulty,
		QuestionTypes: types,
		RequesterID:   actor.UserID,
	})
	if err != nil {
		HandleAPIError(w, r, err, "Failed to start generation")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusAccepted, TaskAcceptedResponse{TaskID: taskID})
}

// GetTaskProgress handles GET /api/tasks/{id}. Students only see their own
// tasks.
func (h *GenerationHandler) GetTaskProgress(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := actorAndPathUUID(w, r, "id")
	if !ok {
		return
	}

	t, err := h.tasks.Get(r.Context(), id)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to load task")
		return
	}
	if actor.Role == string(auth.RoleStudent) && t.RequesterID != actor.UserID {
		HandleAPIError(w, r, auth.ErrForbidden, "")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, t.Progress())
}
