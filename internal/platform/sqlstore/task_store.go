package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/scry-exam/internal/domain"
	"github.com/phrazzld/scry-exam/internal/platform/logger"
	"github.com/phrazzld/scry-exam/internal/store"
)

const taskColumns = `id, kind, requester_id, subject_id, target, completed, status, detail,
	payload, created_at, updated_at, finished_at`

func scanTask(row rowScanner) (*domain.Task, error) {
	var (
		t            domain.Task
		kind, status string
		payload      []byte
		finishedAt   sql.NullTime
	)
	if err := row.Scan(&t.ID, &kind, &t.RequesterID, &t.SubjectID, &t.Target, &t.Completed,
		&status, &t.Detail, &payload, &t.CreatedAt, &t.UpdatedAt, &finishedAt); err != nil {
		return nil, err
	}
	t.Kind = domain.TaskKind(kind)
	t.Status = domain.TaskStatus(status)
	if len(payload) > 0 {
		t.Payload = payload
	}
	t.FinishedAt = nullTimePtr(finishedAt)
	return &t, nil
}

// CreateTask implements store.TaskStore.
func (s *Store) CreateTask(ctx context.Context, t *domain.Task) error {
	var payload any
	if len(t.Payload) > 0 {
		payload = string(t.Payload)
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		t.ID, string(t.Kind), t.RequesterID, t.SubjectID, t.Target, t.Completed,
		string(t.Status), t.Detail, payload, t.CreatedAt.UTC(), t.UpdatedAt.UTC(),
		timePtrArg(t.FinishedAt))
	if err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to save task",
			"task_id", t.ID,
			"kind", t.Kind,
			"error", err)
		return MapError(err)
	}
	return nil
}

// GetTask implements store.TaskStore.
func (s *Store) GetTask(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	t, err := scanTask(s.q.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id))
	if err != nil {
		return nil, mapNotFound(err, store.ErrTaskNotFound)
	}
	return t, nil
}

func (s *Store) execGuarded(ctx context.Context, query string, args ...any) (bool, error) {
	res, err := s.q.ExecContext(ctx, query, args...)
	if err != nil {
		return false, MapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// MarkTaskRunning implements store.TaskStore.
func (s *Store) MarkTaskRunning(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	return s.execGuarded(ctx, `
		UPDATE tasks SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4`,
		string(domain.TaskStatusRunning), now.UTC(), id, string(domain.TaskStatusInit))
}

// AdvanceTask implements store.TaskStore.
func (s *Store) AdvanceTask(ctx context.Context, id uuid.UUID, delta int, now time.Time) (bool, error) {
	return s.execGuarded(ctx, `
		UPDATE tasks SET completed = completed + $1, updated_at = $2
		WHERE id = $3 AND status IN ($4, $5) AND completed + $1 <= target`,
		delta, now.UTC(), id, string(domain.TaskStatusInit), string(domain.TaskStatusRunning))
}

// FinishTask implements store.TaskStore.
func (s *Store) FinishTask(
	ctx context.Context,
	id uuid.UUID,
	status domain.TaskStatus,
	detail string,
	now time.Time,
) (bool, error) {
	return s.execGuarded(ctx, `
		UPDATE tasks SET status = $1, detail = $2, updated_at = $3, finished_at = $3
		WHERE id = $4 AND status IN ($5, $6)`,
		string(status), detail, now.UTC(), id,
		string(domain.TaskStatusInit), string(domain.TaskStatusRunning))
}

// ListUnfinishedTasks implements store.TaskStore.
func (s *Store) ListUnfinishedTasks(ctx context.Context, kind domain.TaskKind) ([]*domain.Task, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE kind = $1 AND status IN ($2, $3)
		ORDER BY created_at ASC`,
		string(kind), string(domain.TaskStatusInit), string(domain.TaskStatusRunning))
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var out []*domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, MapError(err)
		}
		out = append(out, t)
	}
	return out, MapError(rows.Err())
}
