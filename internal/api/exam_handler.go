package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/phrazzld/scry-exam/internal/api/shared"
	"github.com/phrazzld/scry-exam/internal/exam"
	"github.com/phrazzld/scry-exam/internal/platform/logger"
)

// ExamService is the attempt lifecycle used by the handlers.
type ExamService interface {
	Start(ctx context.Context, req exam.StartRequest) (*exam.AttemptView, error)
	SaveAnswers(ctx context.Context, req exam.SaveRequest) error
	Submit(ctx context.Context, req exam.SubmitRequest) (*exam.SubmitResult, error)
	GetAttempt(ctx context.Context, attemptID, studentID uuid.UUID) (*exam.AttemptDetail, error)
}

// StartAttemptRequest is the optional body of POST /api/publications/{id}/attempts.
type StartAttemptRequest struct {
	Password string `json:"password" validate:"max=200"`
}

// AnswersRequest carries answers keyed by question ID.
type AnswersRequest struct {
	Answers map[uuid.UUID]string `json:"answers" validate:"dive,max=20000"`
}

// ExamHandler serves the attempt lifecycle.
type ExamHandler struct {
	exams ExamService
}

// NewExamHandler creates an ExamHandler.
func NewExamHandler(exams ExamService) *ExamHandler {
	return &ExamHandler{exams: exams}
}

// decodeOptionalBody is decodeBody for endpoints whose body may be empty.
func decodeOptionalBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := shared.DecodeJSON(w, r, v); err != nil {
		if errors.Is(err, shared.ErrEmptyBody) {
			return true
		}
		logger.FromContext(r.Context()).Debug("invalid request body", "error", err)
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return false
	}
	if err := shared.ValidateRequest(v); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, SanitizeValidationError(err), err)
		return false
	}
	return true
}

// StartAttempt handles POST /api/publications/{id}/attempts.
func (h *ExamHandler) StartAttempt(w http.ResponseWriter, r *http.Request) {
	actor, pubID, ok := actorAndPathUUID(w, r, "id")
	if !ok {
		return
	}
	var req StartAttemptRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}

	view, err := h.exams.Start(r.Context(), exam.StartRequest{
		StudentID:     actor.UserID,
		PublicationID: pubID,
		Password:      req.Password,
	})
	if err != nil {
		HandleAPIError(w, r, err, "Failed to start attempt")
		return
	}

	status := http.StatusCreated
	if view.Resumed {
		status = http.StatusOK
	}
	shared.RespondWithJSON(w, r, status, view)
}

// SaveAnswers handles PUT /api/attempts/{id}/answers.
func (h *ExamHandler) SaveAnswers(w http.ResponseWriter, r *http.Request) {
	actor, attemptID, ok := actorAndPathUUID(w, r, "id")
	if !ok {
		return
	}
	var req AnswersRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Answers == nil {
		req.Answers = map[uuid.UUID]string{}
	}

	err := h.exams.SaveAnswers(r.Context(), exam.SaveRequest{
		AttemptID: attemptID,
		StudentID: actor.UserID,
		Answers:   req.Answers,
	})
	if err != nil {
		HandleAPIError(w, r, err, "Failed to save answers")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SubmitAttempt handles POST /api/attempts/{id}/submit.
func (h *ExamHandler) SubmitAttempt(w http.ResponseWriter, r *http.Request) {
	actor, attemptID, ok := actorAndPathUUID(w, r, "id")
	if !ok {
		return
	}
	var req AnswersRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}

	res, err := h.exams.Submit(r.Context(), exam.SubmitRequest{
		AttemptID: attemptID,
		StudentID: actor.UserID,
		Answers:   req.Answers,
	})
	if err != nil {
		HandleAPIError(w, r, err, "Failed to submit attempt")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, res)
}

// GetAttempt handles GET /api/attempts/{id}.
func (h *ExamHandler) GetAttempt(w http.ResponseWriter, r *http.Request) {
	actor, attemptID, ok := actorAndPathUUID(w, r, "id")
	if !ok {
		return
	}
	detail, err := h.exams.GetAttempt(r.Context(), attemptID, actor.UserID)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to load attempt")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, detail)
}
