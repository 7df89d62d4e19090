package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/scry-exam/internal/platform/logger"
)

// Notification is a message for one user.
type Notification struct {
	UserID    uuid.UUID      `json:"user_id"`
	Title     string         `json:"title"`
	Body      string         `json:"body"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// New builds a notification stamped with the current time.
func New(userID uuid.UUID, title, body string, data map[string]any) Notification {
	return Notification{
		UserID:    userID,
		Title:     title,
		Body:      body,
		Data:      data,
		CreatedAt: time.Now().UTC(),
	}
}

// Notifier delivers notifications to a sink.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Send delivers n and logs a failure instead of returning it.
func Send(ctx context.Context, notifier Notifier, n Notification) {
	if notifier == nil {
		return
	}
	if err := notifier.Notify(ctx, n); err != nil {
		logger.FromContext(ctx).Warn("notification delivery failed",
			"user_id", n.UserID,
			"title", n.Title,
			"error", err)
	}
}

// LogNotifier writes notifications to the log.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With("component", "notifier")}
}

// Notify implements Notifier.
func (l *LogNotifier) Notify(_ context.Context, n Notification) error {
	l.logger.Info("notification",
		"user_id", n.UserID,
		"title", n.Title,
		"body", n.Body)
	return nil
}

// Multi fans a notification out to several sinks. Every sink is tried; the
// errors are joined.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, sink := range m {
		if err := sink.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
