package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/phrazzld/scry-exam/internal/api"
	apiMiddleware "github.com/phrazzld/scry-exam/internal/api/middleware"
	"github.com/phrazzld/scry-exam/internal/auth"
)

// setupRouter creates the router with all routes and middleware.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.NewTraceMiddleware(app.logger))

	authMiddleware := apiMiddleware.NewAuthMiddleware(app.tokens)
	generationHandler := api.NewGenerationHandler(app.generator, app.ledger)
	examHandler := api.NewExamHandler(app.exams)
	notificationHandler := api.NewNotificationHandler(app.hub, 0)

	r.Route("/api", func(r chi.Router) {
		r.Use(authMiddleware.Authenticate)

		r.Get("/tasks/{id}", generationHandler.GetTaskProgress)
		r.Get("/notifications/stream", notificationHandler.Stream)

		r.With(apiMiddleware.RequireRole(auth.RoleTeacher, auth.RoleAdmin)).
			Post("/generation-tasks", generationHandler.StartGeneration)

		// ownership of an attempt is checked by the exam service
		r.Group(func(r chi.Router) {
			r.Use(apiMiddleware.RequireRole(auth.RoleStudent))
			r.Post("/publications/{id}/attempts", examHandler.StartAttempt)
			r.Put("/attempts/{id}/answers", examHandler.SaveAnswers)
			r.Post("/attempts/{id}/submit", examHandler.SubmitAttempt)
			r.Get("/attempts/{id}", examHandler.GetAttempt)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			app.logger.Error("failed to write health check response", "error", err)
		}
	})

	return r
}
