package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/scry-exam/internal/domain"
	"github.com/phrazzld/scry-exam/internal/platform/logger"
	"github.com/phrazzld/scry-exam/internal/store"
)

// Ledger records durable progress for background jobs. Every transition is a
// single conditional write, so concurrent writers cannot lose increments and
// terminal records never change again.
type Ledger struct {
	store  store.TaskStore
	logger *slog.Logger
	now    func() time.Time
}

// NewLedger creates a Ledger over the given store.
func NewLedger(s store.TaskStore, logger *slog.Logger) (*Ledger, error) {
	if s == nil {
		return nil, fmt.Errorf("task store cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	return &Ledger{
		store:  s,
		logger: logger.With("component", "task_ledger"),
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// WithStore returns a Ledger that writes through s, typically a
// transaction-bound store.
func (l *Ledger) WithStore(s store.TaskStore) *Ledger {
	c := *l
	c.store = s
	return &c
}

// Create inserts a new record in the init state.
func (l *Ledger) Create(
	ctx context.Context,
	kind domain.TaskKind,
	requesterID, subjectID uuid.UUID,
	target int,
	payload any,
) (*domain.Task, error) {
	if target < 0 {
		return nil, fmt.Errorf("%w: negative target %d", domain.ErrValidation, target)
	}

	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: encode task payload: %v", domain.ErrValidation, err)
		}
		raw = b
	}

	now := l.now()
	t := &domain.Task{
		ID:          uuid.New(),
		Kind:        kind,
		RequesterID: requesterID,
		SubjectID:   subjectID,
		Target:      target,
		Status:      domain.TaskStatusInit,
		Payload:     raw,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := l.store.CreateTask(ctx, t); err != nil {
		return nil, fmt.Errorf("%w: create task: %v", domain.ErrPersistence, err)
	}

	logger.FromContextOrDefault(ctx, l.logger).Info("task created",
		"task_id", t.ID,
		"kind", kind,
		"target", target)
	return t, nil
}

// Get returns the record with the given ID.
func (l *Ledger) Get(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	t, err := l.store.GetTask(ctx, id)
	if err != nil {
		if store.IsNotFoundError(err) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: get task: %v", domain.ErrPersistence, err)
	}
	return t, nil
}

// Progress returns the externally visible view of a record.
func (l *Ledger) Progress(ctx context.Context, id uuid.UUID) (domain.Progress, error) {
	t, err := l.Get(ctx, id)
	if err != nil {
		return domain.Progress{}, err
	}
	return t.Progress(), nil
}

// Start moves an init record to running. Starting a running record is a no-op.
func (l *Ledger) Start(ctx context.Context, id uuid.UUID) error {
	ok, err := l.store.MarkTaskRunning(ctx, id, l.now())
	if err != nil {
		return fmt.Errorf("%w: start task: %v", domain.ErrPersistence, err)
	}
	if ok {
		return nil
	}

	t, err := l.Get(ctx, id)
	if err != nil {
		return err
	}
	switch {
	case t.Status == domain.TaskStatusRunning:
		return nil
	case t.Status.IsTerminal():
		return domain.ErrTaskTerminal
	}
	return fmt.Errorf("%w: cannot start task in status %s", domain.ErrInvalidTransition, t.Status)
}

// Advance adds delta to the completed count. A zero delta is a no-op. It fails
// with ErrTaskTerminal on finished records and ErrTargetExceeded when the
// count would pass the target; the record is unchanged in both cases.
func (l *Ledger) Advance(ctx context.Context, id uuid.UUID, delta int) error {
	if delta < 0 {
		return fmt.Errorf("%w: negative progress delta %d", domain.ErrValidation, delta)
	}
	if delta == 0 {
		return nil
	}

	ok, err := l.store.AdvanceTask(ctx, id, delta, l.now())
	if err != nil {
		return fmt.Errorf("%w: advance task: %v", domain.ErrPersistence, err)
	}
	if ok {
		return nil
	}

	t, err := l.Get(ctx, id)
	if err != nil {
		return err
	}
	if t.Status.IsTerminal() {
		return domain.ErrTaskTerminal
	}
	if t.Completed+delta > t.Target {
		return fmt.Errorf("%w: completed %d + %d > target %d",
			domain.ErrTargetExceeded, t.Completed, delta, t.Target)
	}
	return fmt.Errorf("%w: advance task %s was not applied", domain.ErrPersistence, id)
}

// Complete sets a terminal status with a detail message.
func (l *Ledger) Complete(ctx context.Context, id uuid.UUID, status domain.TaskStatus, detail string) error {
	if !status.IsTerminal() {
		return fmt.Errorf("%w: %s is not a terminal status", domain.ErrInvalidTransition, status)
	}

	ok, err := l.store.FinishTask(ctx, id, status, detail, l.now())
	if err != nil {
		return fmt.Errorf("%w: finish task: %v", domain.ErrPersistence, err)
	}
	if !ok {
		if _, err := l.Get(ctx, id); err != nil {
			return err
		}
		return domain.ErrTaskTerminal
	}

	logger.FromContextOrDefault(ctx, l.logger).Info("task finished",
		"task_id", id,
		"status", status,
		"detail", detail)
	return nil
}

// Unfinished returns init and running records of a kind.
func (l *Ledger) Unfinished(ctx context.Context, kind domain.TaskKind) ([]*domain.Task, error) {
	tasks, err := l.store.ListUnfinishedTasks(ctx, kind)
	if err != nil {
		return nil, fmt.Errorf("%w: list unfinished tasks: %v", domain.ErrPersistence, err)
	}
	return tasks, nil
}

// IsFinished reports whether err means the record was already terminal.
func IsFinished(err error) bool {
	return errors.Is(err, domain.ErrTaskTerminal)
}
