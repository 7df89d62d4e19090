package sqlstore

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/scry-exam/internal/domain"
	"github.com/phrazzld/scry-exam/internal/store"
)

const mistakeColumns = `id, student_id, question_id, wrong_answer, wrong_count, created_at, updated_at`

func scanMistake(row rowScanner) (*domain.MistakeEntry, error) {
	var m domain.MistakeEntry
	err := row.Scan(&m.ID, &m.StudentID, &m.QuestionID, &m.WrongAnswer, &m.WrongCount,
		&m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// UpsertMistake implements store.MistakeStore in a single statement, so
// concurrent graders of the same student and question cannot lose a count.
func (s *Store) UpsertMistake(
	ctx context.Context,
	studentID, questionID uuid.UUID,
	answer string,
	now time.Time,
) (*domain.MistakeEntry, error) {
	fresh := domain.NewMistakeEntry(studentID, questionID, answer, now.UTC())
	m, err := scanMistake(s.q.QueryRowContext(ctx, `
		INSERT INTO mistake_entries (`+mistakeColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (student_id, question_id) DO UPDATE
		SET wrong_count = mistake_entries.wrong_count + 1,
			wrong_answer = excluded.wrong_answer,
			updated_at = excluded.updated_at
		RETURNING `+mistakeColumns,
		fresh.ID, fresh.StudentID, fresh.QuestionID, fresh.WrongAnswer, fresh.WrongCount,
		fresh.CreatedAt, fresh.UpdatedAt))
	if err != nil {
		return nil, MapError(err)
	}
	return m, nil
}

// GetMistake implements store.MistakeStore.
func (s *Store) GetMistake(ctx context.Context, studentID, questionID uuid.UUID) (*domain.MistakeEntry, error) {
	m, err := scanMistake(s.q.QueryRowContext(ctx,
		`SELECT `+mistakeColumns+` FROM mistake_entries WHERE student_id = $1 AND question_id = $2`,
		studentID, questionID))
	if err != nil {
		return nil, mapNotFound(err, store.ErrMistakeNotFound)
	}
	return m, nil
}
