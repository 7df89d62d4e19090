package sqlstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/scry-exam/internal/domain"
	"github.com/phrazzld/scry-exam/internal/store"
)

const attemptColumns = `id, student_id, publication_id, paper_id, status, score, max_score,
	started_at, deadline, submitted_at, graded_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAttempt(row rowScanner) (*domain.ExamAttempt, error) {
	var (
		a                     domain.ExamAttempt
		status                string
		submittedAt, gradedAt sql.NullTime
	)
	if err := row.Scan(&a.ID, &a.StudentID, &a.PublicationID, &a.PaperID, &status,
		&a.Score, &a.MaxScore, &a.StartedAt, &a.Deadline, &submittedAt, &gradedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.Status = domain.AttemptStatus(status)
	a.SubmittedAt = nullTimePtr(submittedAt)
	a.GradedAt = nullTimePtr(gradedAt)
	return &a, nil
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func timePtrArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

// CreateAttempt implements store.AttemptStore.
func (s *Store) CreateAttempt(ctx context.Context, a *domain.ExamAttempt) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO exam_attempts (`+attemptColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		a.ID, a.StudentID, a.PublicationID, a.PaperID, string(a.Status), a.Score, a.MaxScore,
		a.StartedAt.UTC(), a.Deadline.UTC(), timePtrArg(a.SubmittedAt), timePtrArg(a.GradedAt),
		a.UpdatedAt.UTC())
	if err != nil {
		if IsUniqueViolation(err) && a.Status == domain.AttemptStatusInProgress {
			return store.ErrAttemptInProgress
		}
		return MapError(err)
	}
	return nil
}

func (s *Store) getAttempt(ctx context.Context, id uuid.UUID, suffix string) (*domain.ExamAttempt, error) {
	a, err := scanAttempt(s.q.QueryRowContext(ctx,
		`SELECT `+attemptColumns+` FROM exam_attempts WHERE id = $1`+suffix, id))
	if err != nil {
		return nil, mapNotFound(err, store.ErrAttemptNotFound)
	}
	return a, nil
}

// GetAttempt implements store.AttemptStore.
func (s *Store) GetAttempt(ctx context.Context, id uuid.UUID) (*domain.ExamAttempt, error) {
	return s.getAttempt(ctx, id, "")
}

// GetAttemptForUpdate implements store.AttemptStore.
func (s *Store) GetAttemptForUpdate(ctx context.Context, id uuid.UUID) (*domain.ExamAttempt, error) {
	return s.getAttempt(ctx, id, s.forUpdate())
}

// FindInProgressAttempt implements store.AttemptStore.
func (s *Store) FindInProgressAttempt(ctx context.Context, studentID, publicationID uuid.UUID) (*domain.ExamAttempt, error) {
	a, err := scanAttempt(s.q.QueryRowContext(ctx, `
		SELECT `+attemptColumns+` FROM exam_attempts
		WHERE student_id = $1 AND publication_id = $2 AND status = $3`,
		studentID, publicationID, string(domain.AttemptStatusInProgress)))
	if err != nil {
		return nil, mapNotFound(err, store.ErrAttemptNotFound)
	}
	return a, nil
}

// CountAttempts implements store.AttemptStore.
func (s *Store) CountAttempts(ctx context.Context, studentID, publicationID uuid.UUID) (int, error) {
	var n int
	err := s.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM exam_attempts WHERE student_id = $1 AND publication_id = $2`,
		studentID, publicationID).Scan(&n)
	return n, MapError(err)
}

// UpdateAttempt implements store.AttemptStore.
func (s *Store) UpdateAttempt(ctx context.Context, a *domain.ExamAttempt) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE exam_attempts
		SET status = $1, score = $2, max_score = $3, submitted_at = $4, graded_at = $5, updated_at = $6
		WHERE id = $7`,
		string(a.Status), a.Score, a.MaxScore, timePtrArg(a.SubmittedAt), timePtrArg(a.GradedAt),
		a.UpdatedAt.UTC(), a.ID)
	if err != nil {
		return MapError(err)
	}
	return checkRowsAffected(res, "attempt", store.ErrAttemptNotFound)
}

func (s *Store) listAttempts(ctx context.Context, query string, args ...any) ([]*domain.ExamAttempt, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var out []*domain.ExamAttempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, MapError(err)
		}
		out = append(out, a)
	}
	return out, MapError(rows.Err())
}

// ListSubmittedBefore implements store.AttemptStore.
func (s *Store) ListSubmittedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*domain.ExamAttempt, error) {
	return s.listAttempts(ctx, `
		SELECT `+attemptColumns+` FROM exam_attempts
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at ASC
		LIMIT $3`,
		string(domain.AttemptStatusSubmitted), cutoff.UTC(), limit)
}

// ListOverdue implements store.AttemptStore.
func (s *Store) ListOverdue(ctx context.Context, cutoff time.Time, limit int) ([]*domain.ExamAttempt, error) {
	return s.listAttempts(ctx, `
		SELECT `+attemptColumns+` FROM exam_attempts
		WHERE status = $1 AND deadline < $2
		ORDER BY deadline ASC
		LIMIT $3`,
		string(domain.AttemptStatusInProgress), cutoff.UTC(), limit)
}

// checkRowsAffected reports an update that matched no row as notFound.
func checkRowsAffected(res sql.Result, entity string, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return MapError(err)
	}
	if n == 0 {
		return store.NewStoreError(entity, "update", "no rows affected", notFound)
	}
	return nil
}
