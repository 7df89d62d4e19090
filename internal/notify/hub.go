package notify

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Hub is a registry of live per-user sessions. Connections register on
// connect and unregister on disconnect; Notify delivers to every session of
// the user without blocking.
type Hub struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]map[uint64]chan Notification
	nextID   uint64
	buffer   int
	logger   *slog.Logger
}

// NewHub creates a Hub whose sessions buffer up to buffer notifications.
func NewHub(buffer int, logger *slog.Logger) *Hub {
	if buffer < 1 {
		buffer = 16
	}
	return &Hub{
		sessions: make(map[uuid.UUID]map[uint64]chan Notification),
		buffer:   buffer,
		logger:   logger.With("component", "notification_hub"),
	}
}

// Register opens a session for the user. The returned function closes it and
// must be called when the connection ends.
func (h *Hub) Register(userID uuid.UUID) (<-chan Notification, func()) {
	ch := make(chan Notification, h.buffer)

	h.mu.Lock()
	h.nextID++
	id := h.nextID
	if h.sessions[userID] == nil {
		h.sessions[userID] = make(map[uint64]chan Notification)
	}
	h.sessions[userID][id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() { h.unregister(userID, id) })
	}
}

func (h *Hub) unregister(userID uuid.UUID, id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	userSessions := h.sessions[userID]
	if ch, ok := userSessions[id]; ok {
		delete(userSessions, id)
		close(ch)
	}
	if len(userSessions) == 0 {
		delete(h.sessions, userID)
	}
}

// Online reports whether the user has at least one open session.
func (h *Hub) Online(userID uuid.UUID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[userID]) > 0
}

// Notify implements Notifier. Sessions whose buffer is full miss the message.
func (h *Hub) Notify(_ context.Context, n Notification) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, ch := range h.sessions[n.UserID] {
		select {
		case ch <- n:
		default:
			h.logger.Warn("session buffer full, dropping notification",
				"user_id", n.UserID,
				"session", id)
		}
	}
	return nil
}
