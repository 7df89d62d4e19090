package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/scry-exam/internal/api/shared"
	"github.com/phrazzld/scry-exam/internal/auth"
	"github.com/phrazzld/scry-exam/internal/notify"
	"github.com/phrazzld/scry-exam/internal/platform/logger"
)

// Subscriber registers a per-user notification session.
type Subscriber interface {
	Register(userID uuid.UUID) (<-chan notify.Notification, func())
}

// NotificationHandler streams notifications as server-sent events.
type NotificationHandler struct {
	hub       Subscriber
	heartbeat time.Duration
}

// NewNotificationHandler creates a NotificationHandler. A non-positive
// heartbeat defaults to 25 seconds.
func NewNotificationHandler(hub Subscriber, heartbeat time.Duration) *NotificationHandler {
	if heartbeat <= 0 {
		heartbeat = 25 * time.Second
	}
	return &NotificationHandler{hub: hub, heartbeat: heartbeat}
}

// Stream handles GET /api/notifications/stream. The session lasts until the
// client disconnects.
func (h *NotificationHandler) Stream(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFrom(r.Context())
	if !ok {
		HandleAPIError(w, r, auth.ErrInvalidToken, "")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		shared.RespondWithError(w, r, http.StatusInternalServerError, "Streaming unsupported")
		return
	}
	log := logger.FromContext(r.Context())

	events, unregister := h.hub.Register(actor.UserID)
	defer unregister()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			log.Debug("notification stream closed by client")
			return
		case n, open := <-events:
			if !open {
				return
			}
			payload, err := json.Marshal(n)
			if err != nil {
				log.Error("failed to encode notification", "error", err)
				continue
			}
			fmt.Fprintf(w, "event: notification\ndata: %s\n\n", payload)
			flusher.Flush()
		case <-ticker.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}
